package enum

// FeedState is the orchestrator state for one configured provider.
type FeedState uint8

const (
	_feed_state_beg FeedState = iota
	FeedStateUnconfigured
	FeedStateConnecting
	FeedStateStreaming
	FeedStateDegraded
	FeedStateStopped
	_feed_state_end
)

func (s FeedState) IsAvailable() bool {
	return s > _feed_state_beg && s < _feed_state_end
}

func (s FeedState) String() string {
	switch s {
	case FeedStateUnconfigured:
		return "Unconfigured"
	case FeedStateConnecting:
		return "Connecting"
	case FeedStateStreaming:
		return "Streaming"
	case FeedStateDegraded:
		return "Degraded"
	case FeedStateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}
