package enum

// Outcome accepted, rejected
type Outcome uint8

const (
	_outcome_beg Outcome = iota
	OutcomeAccepted
	OutcomeRejected
	_outcome_end
)

func (o Outcome) IsAvailable() bool {
	return o > _outcome_beg && o < _outcome_end
}

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "ACCEPTED"
	case OutcomeRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// RejectReason is attached to rejected decisions only.
type RejectReason uint8

const (
	_reject_reason_beg RejectReason = iota
	RejectReasonOversizedOrder
	RejectReasonInsufficientBuyingPower
	RejectReasonExposureLimitExceeded
	RejectReasonNoReferencePrice
	RejectReasonRateLimited
	RejectReasonTradingHalted
	RejectReasonRejectedByVenue
	RejectReasonTimeout
	RejectReasonMalformedOrder
	RejectReasonUnknownAccount
	_reject_reason_end
)

func (r RejectReason) IsAvailable() bool {
	return r > _reject_reason_beg && r < _reject_reason_end
}

func (r RejectReason) String() string {
	switch r {
	case RejectReasonOversizedOrder:
		return "OversizedOrder"
	case RejectReasonInsufficientBuyingPower:
		return "InsufficientBuyingPower"
	case RejectReasonExposureLimitExceeded:
		return "ExposureLimitExceeded"
	case RejectReasonNoReferencePrice:
		return "NoReferencePrice"
	case RejectReasonRateLimited:
		return "RateLimited"
	case RejectReasonTradingHalted:
		return "TradingHalted"
	case RejectReasonRejectedByVenue:
		return "RejectedByVenue"
	case RejectReasonTimeout:
		return "Timeout"
	case RejectReasonMalformedOrder:
		return "MalformedOrder"
	case RejectReasonUnknownAccount:
		return "UnknownAccount"
	default:
		return "Unknown"
	}
}
