package exception

import "errors"

// Provider feed errors
var (
	// ErrAuthFailed is returned by Connect when credentials are rejected.
	ErrAuthFailed = errors.New("feed: authentication failed")

	// ErrProviderUnavailable is returned by Connect on network failure.
	ErrProviderUnavailable = errors.New("feed: provider unavailable")

	// ErrStreamClosed signals that the upstream dropped the session.
	// Recoverable: the orchestrator reconnects with backoff.
	ErrStreamClosed = errors.New("feed: stream closed")

	// ErrNotConnected is returned by Stream before a successful Connect.
	ErrNotConnected = errors.New("feed: not connected")

	ErrUnknownProvider   = errors.New("feed: unknown provider")
	ErrDuplicateProvider = errors.New("feed: provider already registered")
	ErrFeedStarted       = errors.New("feed: orchestrator already started")
	ErrNilSink           = errors.New("feed: nil sink")
)
