package enum

// EventKind tags one journal record.
type EventKind uint16

const (
	_event_kind_beg EventKind = iota
	EventKindTick
	EventKindDecision
	EventKindFill
	EventKindSnapshot
	_event_kind_end
)

func (k EventKind) IsAvailable() bool {
	return k > _event_kind_beg && k < _event_kind_end
}

func (k EventKind) String() string {
	switch k {
	case EventKindTick:
		return "tick"
	case EventKindDecision:
		return "decision"
	case EventKindFill:
		return "fill"
	case EventKindSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}
