package exception

import "errors"

// Client session errors
var (
	ErrHubClosed      = errors.New("client: hub closed")
	ErrDecodeMessage  = errors.New("client: decode message")
	ErrUnsupportedOp  = errors.New("client: unsupported op")
	ErrEmptySymbolSet = errors.New("client: empty symbol set")
)
