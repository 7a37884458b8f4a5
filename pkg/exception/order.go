package exception

import "errors"

// Order path errors
var (
	// ErrRejectedByVenue is a post-acceptance venue rejection. The caller
	// releases the risk reservation before surfacing it.
	ErrRejectedByVenue = errors.New("order: rejected by venue")

	// ErrSubmitTimeout fires when the venue does not answer in time.
	ErrSubmitTimeout = errors.New("order: submit timeout")

	ErrDuplicateOrder     = errors.New("order: duplicate order id")
	ErrUnknownOrder       = errors.New("order: unknown order id")
	ErrInvalidTransition  = errors.New("order: invalid status transition")
	ErrOrderNilVenue      = errors.New("order: nil venue")
	ErrOrderInvalidFields = errors.New("order: invalid fields")
)
