package enum

// DropReason explains why the normalizer discarded a raw message.
type DropReason uint8

const (
	_drop_reason_beg DropReason = iota
	DropReasonStaleTimestamp
	DropReasonNegativePrice
	DropReasonMalformedField
	_drop_reason_end
)

func (d DropReason) IsAvailable() bool {
	return d > _drop_reason_beg && d < _drop_reason_end
}

func (d DropReason) String() string {
	switch d {
	case DropReasonStaleTimestamp:
		return "StaleTimestamp"
	case DropReasonNegativePrice:
		return "NegativePrice"
	case DropReasonMalformedField:
		return "MalformedField"
	default:
		return "Unknown"
	}
}
