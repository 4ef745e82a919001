package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"amm.tick", "amm.tick", true},
		{"amm.tick", "amm.status", false},
		{"amm.*", "amm.tick", true},
		{"amm.*", "amm.tick.extra", false},
		{"amm.>", "amm.tick", true},
		{"amm.>", "amm.tick.extra", true},
		{"amm.>", "amm", false},
		{"*.tick", "site.tick", true},
		{"amm.tick.x", "amm.tick", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchSubject(tt.pattern, tt.subject), "%s ~ %s", tt.pattern, tt.subject)
	}
}

func TestPublishReachesOtherEndpoints(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(WithBufferSize(4))

	pub := bus.Transport()
	sub := bus.Transport()
	require.NoError(t, pub.Connect(ctx))
	require.NoError(t, sub.Connect(ctx))

	var mu sync.Mutex
	var got []string
	_, err := sub.Subscribe(ctx, "amm.>", func(_ context.Context, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(data))
	})
	require.NoError(t, err)

	for _, msg := range []string{"a", "b", "c", "d", "e", "f"} {
		require.NoError(t, pub.Publish(ctx, "amm.status", []byte(msg)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 6
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, got)
	mu.Unlock()

	require.NoError(t, sub.Close(ctx))
	require.NoError(t, pub.Publish(ctx, "amm.status", []byte("late")))
	require.NoError(t, pub.Close(ctx))
}

func TestTransportRequiresConnect(t *testing.T) {
	ctx := context.Background()
	tr := NewBus().Transport()

	assert.ErrorIs(t, tr.Publish(ctx, "amm.tick", nil), ErrNotConnected)
	_, err := tr.Subscribe(ctx, "amm.tick", func(context.Context, []byte) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, tr.Close(ctx))
	assert.ErrorIs(t, tr.Connect(ctx), ErrClosed)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	bus := NewBus()
	tr := bus.Transport()
	require.NoError(t, tr.Connect(ctx))

	var mu sync.Mutex
	count := 0
	s, err := tr.Subscribe(ctx, "amm.tick", func(context.Context, []byte) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, tr.Publish(ctx, "amm.tick", []byte("1")))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Unsubscribe())
	require.NoError(t, s.Unsubscribe())
	require.NoError(t, tr.Publish(ctx, "amm.tick", []byte("2")))

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, count)
	mu.Unlock()
	require.NoError(t, tr.Close(ctx))
}
