package exception

import "errors"

// Admin socket errors
var (
	// ErrEmptyPathUDS is returned when the admin socket path is empty.
	ErrEmptyPathUDS = errors.New("uds: empty socket path")

	// ErrNilClientUDS is returned when dialing through a nil client.
	ErrNilClientUDS = errors.New("uds: nil client")
)
