package instrument

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

// Instrument is one row of the instrument master.
type Instrument struct {
	Symbol   string
	Token    string
	Exchange string
	Segment  string
	LotSize  int64
	TickSize decimal.Decimal
	Sector   string
}

// QuoteToken is the canonical id the broker feed wants for this
// instrument, e.g. "nse_cm|2885".
func (i Instrument) QuoteToken() string {
	exchange := strings.ToLower(i.Exchange)
	segment := strings.ToLower(i.Segment)
	if segment == "" {
		segment = "cm"
	}
	return fmt.Sprintf("%s_%s|%s", exchange, segment, i.Token)
}

// Master maps symbols to instrument records, loaded from a CSV with a
// header row of: symbol,token,exchange,segment,lot_size,tick_size,sector.
// Missing optional columns default; rows without symbol or token are
// skipped with a log line. Reload replaces the whole map atomically.
type Master struct {
	mu      sync.RWMutex
	path    string
	bySym   map[string]Instrument
}

// NewMaster builds an empty master bound to a CSV path.
func NewMaster(path string) *Master {
	return &Master{
		path:  path,
		bySym: make(map[string]Instrument),
	}
}

// Load reads the CSV. Safe to call again for reload.
func (m *Master) Load() error {
	f, err := os.Open(m.path)
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := parse(f)
	if err != nil {
		return fmt.Errorf("parse instrument master %s: %w", m.path, err)
	}

	m.mu.Lock()
	m.bySym = records
	m.mu.Unlock()
	logs.Infof("instrument master loaded %d symbols from %s", len(records), m.path)
	return nil
}

func parse(r io.Reader) (map[string]Instrument, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["symbol"]; !ok {
		return nil, fmt.Errorf("missing symbol column")
	}

	get := func(row []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	out := make(map[string]Instrument)
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		symbol := strings.ToUpper(get(row, "symbol"))
		token := get(row, "token")
		if symbol == "" || token == "" {
			logs.Warnf("instrument master line %d skipped: missing symbol or token", line)
			continue
		}

		inst := Instrument{
			Symbol:   symbol,
			Token:    token,
			Exchange: get(row, "exchange"),
			Segment:  get(row, "segment"),
			Sector:   get(row, "sector"),
		}
		if inst.Exchange == "" {
			inst.Exchange = "NSE"
		}
		if lot := get(row, "lot_size"); lot != "" {
			if v, err := strconv.ParseInt(lot, 10, 64); err == nil {
				inst.LotSize = v
			}
		}
		if tick := get(row, "tick_size"); tick != "" {
			if v, err := decimal.NewFromString(tick); err == nil {
				inst.TickSize = v
			}
		}
		out[symbol] = inst
	}
	return out, nil
}

// Resolve returns the instrument for a symbol. Lookup is case-insensitive.
func (m *Master) Resolve(symbol string) (Instrument, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.bySym[strings.ToUpper(symbol)]
	return inst, ok
}

// Field exposes instrument columns by name for universe filters.
func (m *Master) Field(symbol, name string) (any, bool) {
	inst, ok := m.Resolve(symbol)
	if !ok {
		return nil, false
	}
	switch name {
	case "symbol":
		return inst.Symbol, true
	case "token":
		return inst.Token, true
	case "exchange":
		return inst.Exchange, true
	case "segment":
		return inst.Segment, true
	case "lotSize":
		return inst.LotSize, true
	case "tickSize":
		return inst.TickSize, true
	case "sector":
		return inst.Sector, true
	default:
		return nil, false
	}
}

// Symbols lists every loaded symbol, sorted.
func (m *Master) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.bySym))
	for symbol := range m.bySym {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Count returns how many instruments are loaded.
func (m *Master) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySym)
}
