package universe

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Op compares an instrument or live-stats field against a target value.
type Op string

const (
	OpEQ      Op = "EQ"
	OpNE      Op = "NE"
	OpGT      Op = "GT"
	OpGTE     Op = "GTE"
	OpLT      Op = "LT"
	OpLTE     Op = "LTE"
	OpIn      Op = "IN"
	OpNotIn   Op = "NOT_IN"
	OpBetween Op = "BETWEEN"
)

// Condition is one filter clause. Value is a scalar for the relational
// ops, a list for IN/NOT_IN and a two-element [lo, hi] for BETWEEN.
type Condition struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// CandidateSpec names the base symbol set the conditions filter.
// Supported types: "watchlist" (explicit symbol list).
type CandidateSpec struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// FilterSpec is the full universe definition.
type FilterSpec struct {
	Candidates      CandidateSpec
	Conditions      []Condition
	RefreshInterval time.Duration
	MaxSymbols      int
}

// Validate checks the spec is evaluable.
func (s FilterSpec) Validate() error {
	switch s.Candidates.Type {
	case "watchlist":
		if len(s.Candidates.Symbols) == 0 {
			return fmt.Errorf("watchlist candidates need at least one symbol")
		}
	default:
		return fmt.Errorf("unknown candidates type: %q", s.Candidates.Type)
	}
	if s.MaxSymbols < 0 {
		return fmt.Errorf("maxSymbols must be >= 0")
	}
	for i, cond := range s.Conditions {
		if cond.Field == "" {
			return fmt.Errorf("condition %d: field is empty", i)
		}
		switch cond.Op {
		case OpEQ, OpNE, OpGT, OpGTE, OpLT, OpLTE, OpIn, OpNotIn:
		case OpBetween:
			if vals, ok := cond.Value.([]any); !ok || len(vals) != 2 {
				return fmt.Errorf("condition %d: BETWEEN needs [lo, hi]", i)
			}
		default:
			return fmt.Errorf("condition %d: unknown op %q", i, cond.Op)
		}
	}
	return nil
}

// passes evaluates one condition against a field value. A missing or
// incomparable value fails the condition, never errors.
func passes(value any, cond Condition) bool {
	switch cond.Op {
	case OpEQ:
		return compareEq(value, cond.Value)
	case OpNE:
		return !compareEq(value, cond.Value)
	case OpGT, OpGTE, OpLT, OpLTE:
		lhs, lok := toFloat(value)
		rhs, rok := toFloat(cond.Value)
		if !lok || !rok {
			return false
		}
		switch cond.Op {
		case OpGT:
			return lhs > rhs
		case OpGTE:
			return lhs >= rhs
		case OpLT:
			return lhs < rhs
		default:
			return lhs <= rhs
		}
	case OpIn, OpNotIn:
		list, ok := cond.Value.([]any)
		if !ok {
			return false
		}
		found := false
		for _, candidate := range list {
			if compareEq(value, candidate) {
				found = true
				break
			}
		}
		if cond.Op == OpIn {
			return found
		}
		return !found
	case OpBetween:
		bounds, ok := cond.Value.([]any)
		if !ok || len(bounds) != 2 {
			return false
		}
		v, vok := toFloat(value)
		lo, lok := toFloat(bounds[0])
		hi, hok := toFloat(bounds[1])
		return vok && lok && hok && lo <= v && v <= hi
	default:
		return false
	}
}

func compareEq(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return strings.EqualFold(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case decimal.Decimal:
		f, _ := x.Float64()
		return f, true
	default:
		return 0, false
	}
}
