package restfeed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradepulse/internal/model"
	"tradepulse/internal/provider"
	"tradepulse/pkg/exception"
)

const (
	defaultInterval     = time.Second
	defaultFailureLimit = 5
	defaultProviderID   = "restfeed"

	loginPath    = "/login/1.0/tradeApiLogin"
	validatePath = "/login/1.0/tradeApiValidate"
	quotePath    = "/script-details/1.0/quotes/neosymbol/"
)

// TokenResolver maps a plain symbol to the provider's quote token. Symbols
// without a resolution fall back to the exchange default format.
type TokenResolver func(symbol string) (string, bool)

// Config controls the polling feed.
type Config struct {
	BaseURL string
	Symbols []string

	// Interval is the quote poll period. The upstream allows 10 req/s;
	// the default of 1s stays far under it.
	Interval time.Duration

	// FailureLimit is how many consecutive poll failures end the stream
	// with ErrStreamClosed so the orchestrator can back off and redial.
	FailureLimit int

	ProviderID string
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.FailureLimit <= 0 {
		c.FailureLimit = defaultFailureLimit
	}
	if c.ProviderID == "" {
		c.ProviderID = defaultProviderID
	}
	return c
}

// Provider polls a broker quote REST API and emits the responses as raw
// ticks. The broker side is data-only: orders run through the injected
// paper executor against the live quotes.
type Provider struct {
	cfg     Config
	client  *http.Client
	exec    provider.Executor
	resolve TokenResolver

	mu      sync.Mutex
	symbols []string
	session session
}

type session struct {
	accessToken string
	token       string
	sid         string
	baseURL     string
}

func New(cfg Config, client *http.Client, exec provider.Executor, resolve TokenResolver) *Provider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	cfg = cfg.withDefaults()
	return &Provider{
		cfg:     cfg,
		client:  client,
		exec:    exec,
		resolve: resolve,
		symbols: append([]string(nil), cfg.Symbols...),
	}
}

func (p *Provider) Name() string {
	return p.cfg.ProviderID
}

// Connect runs the two-step session handshake: credential login for a view
// token, then validation for the session token. Already connected is a
// no-op.
func (p *Provider) Connect(ctx context.Context, creds provider.Credentials) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session.token != "" {
		return nil
	}
	if creds.APIKey == "" {
		return exception.ErrAuthFailed
	}

	view, err := p.login(ctx, creds)
	if err != nil {
		return err
	}
	sess, err := p.validate(ctx, creds, view)
	if err != nil {
		return err
	}

	sess.accessToken = creds.APIKey
	if sess.baseURL == "" {
		sess.baseURL = p.cfg.BaseURL
	}
	p.session = sess
	logs.Infof("restfeed session established, base url: %s", sess.baseURL)
	return nil
}

func (p *Provider) login(ctx context.Context, creds provider.Credentials) (session, error) {
	body := map[string]string{
		"mobileNumber": creds.Extra["mobile"],
		"ucc":          creds.Extra["ucc"],
		"totp":         creds.Extra["totp"],
	}
	data, err := p.postAuth(ctx, p.cfg.BaseURL+loginPath, creds.APIKey, nil, body)
	if err != nil {
		return session{}, errors.Wrap(err, "login step")
	}
	return session{token: data.Token, sid: data.Sid, baseURL: data.BaseURL}, nil
}

func (p *Provider) validate(ctx context.Context, creds provider.Credentials, view session) (session, error) {
	headers := map[string]string{
		"sid":  view.sid,
		"Auth": view.token,
	}
	data, err := p.postAuth(ctx, p.cfg.BaseURL+validatePath, creds.APIKey, headers, map[string]string{"mpin": creds.Extra["mpin"]})
	if err != nil {
		return session{}, errors.Wrap(err, "validate step")
	}
	return session{token: data.Token, sid: data.Sid, baseURL: data.BaseURL}, nil
}

type authData struct {
	Token   string `json:"token"`
	Sid     string `json:"sid"`
	BaseURL string `json:"baseUrl"`
}

type authResponse struct {
	Data authData `json:"data"`
}

func (p *Provider) postAuth(ctx context.Context, url, accessToken string, headers, body map[string]string) (authData, error) {
	payload, err := sonic.ConfigFastest.Marshal(body)
	if err != nil {
		return authData{}, errors.Wrap(err, "marshal auth body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return authData{}, errors.Wrap(err, "build auth request")
	}
	req.Header.Set("Authorization", accessToken)
	req.Header.Set("neo-fin-key", "neotradeapi")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return authData{}, errors.Wrap(exception.ErrProviderUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return authData{}, exception.ErrAuthFailed
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return authData{}, errors.Wrapf(exception.ErrProviderUnavailable, "auth status %d: %s", resp.StatusCode, raw)
	}

	var decoded authResponse
	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return authData{}, errors.Wrap(err, "decode auth response")
	}
	return decoded.Data, nil
}

// Stream polls quotes for the subscribed symbols until cancelled. Poll
// errors are logged and retried in place; FailureLimit consecutive
// failures end the session with ErrStreamClosed.
func (p *Provider) Stream(ctx context.Context, sink provider.Sink) error {
	if sink == nil {
		return exception.ErrNilSink
	}
	p.mu.Lock()
	connected := p.session.token != ""
	p.mu.Unlock()
	if !connected {
		return exception.ErrNotConnected
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.poll(ctx, sink); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failures++
				logs.Errorf("quote poll failed (%d/%d), err: %+v", failures, p.cfg.FailureLimit, err)
				if failures >= p.cfg.FailureLimit {
					return errors.Wrap(exception.ErrStreamClosed, "quote polling failed repeatedly")
				}
				continue
			}
			failures = 0
		}
	}
}

type quoteItem struct {
	Ltp           decimal.Decimal `json:"ltp"`
	LastVolume    float64         `json:"last_volume"`
	DisplaySymbol string          `json:"display_symbol"`
	ExchangeToken string          `json:"exchange_token"`
}

func (p *Provider) poll(ctx context.Context, sink provider.Sink) error {
	p.mu.Lock()
	sess := p.session
	tokens := make([]string, 0, len(p.symbols))
	for _, symbol := range p.symbols {
		tokens = append(tokens, p.quoteToken(symbol))
	}
	p.mu.Unlock()

	if len(tokens) == 0 {
		return nil
	}

	url := sess.baseURL + quotePath + strings.Join(tokens, ",")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build quote request")
	}
	req.Header.Set("Authorization", sess.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "quote request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("quote status %d: %s", resp.StatusCode, raw)
	}

	var items []quoteItem
	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(&items); err != nil {
		return errors.Wrap(err, "decode quote response")
	}

	now := time.Now().UTC()
	for _, item := range items {
		symbol := item.DisplaySymbol
		if symbol == "" {
			symbol = item.ExchangeToken
		}
		sink(model.RawTick{
			Symbol:     symbol,
			Price:      item.Ltp,
			Volume:     int64(item.LastVolume),
			Timestamp:  now,
			ProviderID: p.cfg.ProviderID,
		})
	}
	return nil
}

// quoteToken resolves a symbol through the instrument master, defaulting
// to the NSE equity format when unresolved.
func (p *Provider) quoteToken(symbol string) string {
	if strings.Contains(symbol, "|") {
		return symbol
	}
	if p.resolve != nil {
		if token, ok := p.resolve(symbol); ok {
			return token
		}
	}
	return fmt.Sprintf("nse_cm|%s-EQ", symbol)
}

// SubmitOrder paper-executes against the live quote stream.
func (p *Provider) SubmitOrder(ctx context.Context, order model.Order) (model.OrderResult, error) {
	if p.exec == nil {
		return model.OrderResult{}, exception.ErrOrderNilVenue
	}
	return p.exec.Execute(ctx, order)
}

func (p *Provider) Disconnect() error {
	p.mu.Lock()
	p.session = session{}
	p.mu.Unlock()
	p.client.CloseIdleConnections()
	return nil
}

// SetSymbols retargets the poll set.
func (p *Provider) SetSymbols(symbols []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.symbols = append([]string(nil), symbols...)
}
