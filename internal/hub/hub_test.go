package hub

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepulse/pkg/exception"
)

func drain(q *DeliveryQueue) [][]byte {
	var out [][]byte
	for q.Len() > 0 {
		payload, ok := q.Pop()
		if !ok {
			break
		}
		out = append(out, payload)
	}
	return out
}

func TestSubscribeIdempotent(t *testing.T) {
	h := New(16)
	h.Subscribe("c1", []string{"AAPL"})
	h.Subscribe("c1", []string{"AAPL"})
	h.Subscribe("c1", []string{"AAPL"})

	require.Equal(t, []string{"AAPL"}, h.Symbols("c1"))
}

func TestSubscribeUnknownClientCreatesSubscription(t *testing.T) {
	h := New(16)
	h.Subscribe("ghost", []string{"TSLA"})

	require.Equal(t, 1, h.ClientCount())
	require.Equal(t, []string{"TSLA"}, h.Symbols("ghost"))
}

func TestPublishOnlyToInterestedClients(t *testing.T) {
	h := New(16)
	q1, _ := h.Register("c1")
	q2, _ := h.Register("c2")
	h.Subscribe("c1", []string{"AAPL", "MSFT"})
	h.Subscribe("c2", []string{"TSLA"})

	h.Publish("AAPL", []byte("aapl-1"))
	h.Publish("TSLA", []byte("tsla-1"))
	h.Publish("GOOG", []byte("goog-1")) // nobody subscribed

	require.Len(t, drain(q1), 1)
	require.Len(t, drain(q2), 1)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := New(16)
	q, _ := h.Register("c1")
	h.Subscribe("c1", []string{"AAPL", "MSFT"})
	h.Unsubscribe("c1", []string{"AAPL"})
	h.Unsubscribe("c1", []string{"AAPL"}) // repeated, still fine

	h.Publish("AAPL", []byte("aapl"))
	h.Publish("MSFT", []byte("msft"))

	payloads := drain(q)
	require.Len(t, payloads, 1)
	assert.Equal(t, "msft", string(payloads[0]))

	got := h.Symbols("c1")
	sort.Strings(got)
	assert.Equal(t, []string{"MSFT"}, got)
}

func TestDropOldestKeepsMostRecentInOrder(t *testing.T) {
	h := New(DefaultQueueCapacity)
	q, _ := h.Register("slow")
	h.Subscribe("slow", []string{"AAPL"})

	// 257 ticks into a 256-slot queue: the first one must be dropped.
	total := DefaultQueueCapacity + 1
	for i := 0; i < total; i++ {
		h.Publish("AAPL", []byte(fmt.Sprintf("tick-%d", i)))
	}

	payloads := drain(q)
	require.Len(t, payloads, DefaultQueueCapacity)
	for i, payload := range payloads {
		require.Equal(t, fmt.Sprintf("tick-%d", i+1), string(payload))
	}
	assert.Equal(t, uint64(1), q.Dropped())
}

func TestDropOldestOrderPreserved(t *testing.T) {
	q := NewDeliveryQueue(4, OverflowDropOldest)
	for i := 0; i < 10; i++ {
		require.True(t, q.Push([]byte{byte(i)}))
	}
	require.Equal(t, uint64(6), q.Dropped())

	want := []byte{6, 7, 8, 9}
	for _, expected := range want {
		payload, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, expected, payload[0])
	}
}

func TestDisconnectReleasesQueueAndSubscription(t *testing.T) {
	h := New(16)
	q, _ := h.Register("c1")
	h.Subscribe("c1", []string{"AAPL"})
	h.Disconnect("c1")

	require.Equal(t, 0, h.ClientCount())

	// queue is closed: Pop returns immediately
	_, ok := q.Pop()
	require.False(t, ok)

	// publishing after disconnect reaches nobody and does not panic
	h.Publish("AAPL", []byte("late"))
}

func TestRegisterAfterCloseRejected(t *testing.T) {
	h := New(16)
	h.Close()

	q, err := h.Register("late")
	require.ErrorIs(t, err, exception.ErrHubClosed)
	require.Nil(t, q)
	require.Equal(t, 0, h.ClientCount())
}

func TestBroadcastReachesAllClients(t *testing.T) {
	h := New(16)
	q1, _ := h.Register("c1")
	q2, _ := h.Register("c2")

	h.Broadcast([]byte("universe"))

	require.Len(t, drain(q1), 1)
	require.Len(t, drain(q2), 1)
}
