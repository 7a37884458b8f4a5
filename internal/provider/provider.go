package provider

import (
	"context"

	"tradepulse/internal/model"
)

// Credentials is the opaque auth material handed to Connect. Broker login
// flows (TOTP, MPIN handshakes) happen inside the adapter; the rest of the
// system never inspects these fields.
type Credentials struct {
	APIKey    string
	APISecret string
	Extra     map[string]string
}

// Sink receives raw ticks from a streaming session. Implementations must
// not block: the session goroutine calls it inline.
type Sink func(model.RawTick)

// Adapter is the capability contract every provider variant implements.
// State stays fully encapsulated behind it; the orchestrator is the only
// caller of the connection lifecycle.
type Adapter interface {
	// Name returns the provider id stamped on every tick.
	Name() string

	// Connect performs the provider handshake. Calling it while already
	// connected is a no-op. Fails with exception.ErrAuthFailed on bad
	// credentials and exception.ErrProviderUnavailable on network failure.
	Connect(ctx context.Context, creds Credentials) error

	// Stream pushes raw messages into sink until the context is cancelled
	// or the upstream drops. A drop returns exception.ErrStreamClosed; a
	// cancelled context returns ctx.Err(). The stream is not restartable:
	// a new session requires Connect again.
	Stream(ctx context.Context, sink Sink) error

	// SubmitOrder forwards an accepted order to the venue. Only called
	// after a positive risk decision.
	SubmitOrder(ctx context.Context, order model.Order) (model.OrderResult, error)

	// Disconnect releases the upstream connection. Safe to call twice.
	Disconnect() error
}

// SymbolSetter is the optional capability for adapters with server-side
// symbol subscriptions. The universe manager retargets the live feed
// through it; adapters without it stream their configured set.
type SymbolSetter interface {
	SetSymbols(symbols []string)
}

// Executor runs accepted orders to a terminal result. Data-only adapters
// delegate SubmitOrder to one (paper execution against live quotes).
type Executor interface {
	Execute(ctx context.Context, order model.Order) (model.OrderResult, error)
}
