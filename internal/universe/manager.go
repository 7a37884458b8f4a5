package universe

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yanun0323/logs"
)

const defaultRefreshInterval = 30 * time.Second

// FieldFunc resolves one field of one symbol: instrument master columns
// (sector, lotSize...) or live stats (lastPrice, volume). A false return
// means the field is unknown for that symbol.
type FieldFunc func(symbol, field string) (any, bool)

// Update describes one universe refresh that changed the set.
type Update struct {
	Added    []string
	Removed  []string
	Universe []string
	Reason   string
	At       time.Time
}

// Manager keeps the active symbol universe in sync with a filter spec:
// on every refresh it re-evaluates the conditions over the candidate set,
// retargets the live feed with the result, and notifies subscribers of
// the diff. The spec is swappable at runtime via SetSpec (config reload).
type Manager struct {
	field     FieldFunc
	retarget  func([]string)
	broadcast func(Update)

	mu      sync.Mutex
	spec    FilterSpec
	current map[string]struct{}
}

// NewManager wires a universe manager. retarget and broadcast may be nil.
func NewManager(spec FilterSpec, field FieldFunc, retarget func([]string), broadcast func(Update)) *Manager {
	return &Manager{
		field:     field,
		retarget:  retarget,
		broadcast: broadcast,
		spec:      spec,
		current:   make(map[string]struct{}),
	}
}

// SetSpec replaces the filter spec. Takes effect on the next refresh.
func (m *Manager) SetSpec(spec FilterSpec) {
	m.mu.Lock()
	m.spec = spec
	m.mu.Unlock()
}

// Current returns the active universe, sorted.
func (m *Manager) Current() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.current)
}

// Run refreshes immediately and then on every interval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	m.Refresh()

	m.mu.Lock()
	interval := m.spec.RefreshInterval
	m.mu.Unlock()
	if interval <= 0 {
		interval = defaultRefreshInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Refresh()
		}
	}
}

// Refresh re-resolves the universe once. No-op when nothing changed.
func (m *Manager) Refresh() {
	m.mu.Lock()
	spec := m.spec
	m.mu.Unlock()

	next := m.resolve(spec)
	nextSet := make(map[string]struct{}, len(next))
	for _, symbol := range next {
		nextSet[symbol] = struct{}{}
	}

	m.mu.Lock()
	var added, removed []string
	for symbol := range nextSet {
		if _, ok := m.current[symbol]; !ok {
			added = append(added, symbol)
		}
	}
	for symbol := range m.current {
		if _, ok := nextSet[symbol]; !ok {
			removed = append(removed, symbol)
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		m.mu.Unlock()
		return
	}
	m.current = nextSet
	universe := sortedKeys(nextSet)
	m.mu.Unlock()

	sort.Strings(added)
	sort.Strings(removed)
	logs.Infof("universe refresh: +%d -%d total=%d", len(added), len(removed), len(universe))

	if m.retarget != nil {
		m.retarget(universe)
	}
	if m.broadcast != nil {
		m.broadcast(Update{
			Added:    added,
			Removed:  removed,
			Universe: universe,
			Reason:   "filter_refresh",
			At:       time.Now().UTC(),
		})
	}
}

// resolve applies the conditions over the candidate set. A symbol with a
// missing field fails that condition and is excluded.
func (m *Manager) resolve(spec FilterSpec) []string {
	candidates := append([]string(nil), spec.Candidates.Symbols...)

	var selected []string
	for _, symbol := range candidates {
		ok := true
		for _, cond := range spec.Conditions {
			value, found := m.lookup(symbol, cond.Field)
			if !found || !passes(value, cond) {
				ok = false
				break
			}
		}
		if ok {
			selected = append(selected, symbol)
		}
	}

	if spec.MaxSymbols > 0 && len(selected) > spec.MaxSymbols {
		selected = selected[:spec.MaxSymbols]
	}
	return selected
}

func (m *Manager) lookup(symbol, field string) (any, bool) {
	if m.field == nil {
		return nil, false
	}
	return m.field(symbol, field)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for symbol := range set {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}
