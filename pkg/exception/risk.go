package exception

import "errors"

// Risk engine errors
var (
	ErrUnknownAccount     = errors.New("risk: unknown account")
	ErrUnknownReservation = errors.New("risk: unknown reservation")
)
