package admin

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"tradepulse/internal/model"
	"tradepulse/internal/model/enum"
	"tradepulse/internal/obs"
	"tradepulse/pkg/uds"
)

const readTimeout = 30 * time.Second

// StatusView is the operator-facing process summary.
type StatusView struct {
	StartedAt      time.Time
	ActiveProvider string
	FeedState      enum.FeedState
	Providers      map[string]enum.FeedState
	Clients        int
	Pending        int
	KillSwitch     bool
}

// Views supplies the read-only state the admin commands expose. Every
// field is optional; missing ones answer with empty values.
type Views struct {
	Status   func() StatusView
	Metrics  func() obs.Snapshot
	Universe func() []string
	Accounts func() []model.AccountState
}

// Server is the local admin socket: one JSON-line response per
// newline-framed command. Commands: status, metrics, universe, accounts.
type Server struct {
	socket *uds.Server
	views  Views
}

// New binds the admin server to a socket path.
func New(socketPath string, views Views) (*Server, error) {
	socket, err := uds.NewServer(socketPath)
	if err != nil {
		return nil, err
	}
	return &Server{socket: socket, views: views}, nil
}

// Serve accepts connections until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	logs.Infof("admin socket listening on %s", s.socket.Path())
	return s.socket.Serve(ctx, s.handle)
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if !scanner.Scan() {
			return
		}
		command := strings.TrimSpace(scanner.Text())
		if command == "" {
			continue
		}
		if command == "quit" || command == "exit" {
			return
		}
		s.reply(conn, command)
	}
}

func (s *Server) reply(conn net.Conn, command string) {
	var payload any
	switch command {
	case "status":
		payload = s.statusResponse()
	case "metrics":
		payload = s.metricsResponse()
	case "universe":
		payload = s.universeResponse()
	case "accounts":
		payload = s.accountsResponse()
	default:
		payload = map[string]string{"error": "unknown command: " + command}
	}

	data, err := sonic.ConfigFastest.Marshal(payload)
	if err != nil {
		logs.Errorf("admin marshal %s, err: %+v", command, err)
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		logs.Warnf("admin write %s, err: %+v", command, err)
	}
}

type statusResponse struct {
	StartedAt      string            `json:"startedAt"`
	UptimeSeconds  int64             `json:"uptimeSeconds"`
	ActiveProvider string            `json:"activeProvider"`
	FeedState      string            `json:"feedState"`
	Providers      map[string]string `json:"providers"`
	Clients        int               `json:"clients"`
	Pending        int               `json:"pendingReservations"`
	KillSwitch     bool              `json:"killSwitch"`
}

func (s *Server) statusResponse() statusResponse {
	if s.views.Status == nil {
		return statusResponse{}
	}
	view := s.views.Status()
	providers := make(map[string]string, len(view.Providers))
	for name, st := range view.Providers {
		providers[name] = st.String()
	}
	return statusResponse{
		StartedAt:      view.StartedAt.UTC().Format(time.RFC3339),
		UptimeSeconds:  int64(time.Since(view.StartedAt).Seconds()),
		ActiveProvider: view.ActiveProvider,
		FeedState:      view.FeedState.String(),
		Providers:      providers,
		Clients:        view.Clients,
		Pending:        view.Pending,
		KillSwitch:     view.KillSwitch,
	}
}

type latencyResponse struct {
	Count uint64 `json:"count"`
	MinNs int64  `json:"minNs"`
	MaxNs int64  `json:"maxNs"`
	AvgNs int64  `json:"avgNs"`
}

type metricsResponse struct {
	TicksAccepted  uint64            `json:"ticksAccepted"`
	Drops          map[string]uint64 `json:"drops"`
	QueueDrops     uint64            `json:"queueDrops"`
	Reconnects     uint64            `json:"reconnects"`
	OrdersAccepted uint64            `json:"ordersAccepted"`
	OrdersRejected uint64            `json:"ordersRejected"`
	OrdersFilled   uint64            `json:"ordersFilled"`
	Rejects        map[string]uint64 `json:"rejects"`
	TickLatency    latencyResponse   `json:"tickLatency"`
	RiskLatency    latencyResponse   `json:"riskLatency"`
	OrderLatency   latencyResponse   `json:"orderLatency"`
}

func toLatency(s obs.LatencySnapshot) latencyResponse {
	return latencyResponse{
		Count: s.Count,
		MinNs: int64(s.Min),
		MaxNs: int64(s.Max),
		AvgNs: int64(s.Avg),
	}
}

func (s *Server) metricsResponse() metricsResponse {
	if s.views.Metrics == nil {
		return metricsResponse{}
	}
	snap := s.views.Metrics()
	drops := make(map[string]uint64, len(snap.DropCounts))
	for reason, count := range snap.DropCounts {
		drops[reason.String()] = count
	}
	rejects := make(map[string]uint64, len(snap.RejectCounts))
	for reason, count := range snap.RejectCounts {
		rejects[reason.String()] = count
	}
	return metricsResponse{
		TicksAccepted:  snap.TicksAccepted,
		Drops:          drops,
		QueueDrops:     snap.QueueDrops,
		Reconnects:     snap.Reconnects,
		OrdersAccepted: snap.OrdersAccepted,
		OrdersRejected: snap.OrdersRejected,
		OrdersFilled:   snap.OrdersFilled,
		Rejects:        rejects,
		TickLatency:    toLatency(snap.TickLatency),
		RiskLatency:    toLatency(snap.RiskEvalLatency),
		OrderLatency:   toLatency(snap.OrderFlowLatency),
	}
}

type universeResponse struct {
	Symbols []string `json:"symbols"`
	Count   int      `json:"count"`
}

func (s *Server) universeResponse() universeResponse {
	if s.views.Universe == nil {
		return universeResponse{Symbols: []string{}}
	}
	symbols := s.views.Universe()
	if symbols == nil {
		symbols = []string{}
	}
	return universeResponse{Symbols: symbols, Count: len(symbols)}
}

type accountResponse struct {
	AccountID    string           `json:"accountId"`
	BuyingPower  decimal.Decimal  `json:"buyingPower"`
	Positions    map[string]int64 `json:"positions"`
	MaxOrderSize int64            `json:"maxOrderSize"`
}

func (s *Server) accountsResponse() []accountResponse {
	if s.views.Accounts == nil {
		return []accountResponse{}
	}
	accounts := s.views.Accounts()
	out := make([]accountResponse, 0, len(accounts))
	for _, acct := range accounts {
		out = append(out, accountResponse{
			AccountID:    acct.AccountID,
			BuyingPower:  acct.BuyingPower,
			Positions:    acct.Positions,
			MaxOrderSize: acct.MaxOrderSize,
		})
	}
	return out
}
