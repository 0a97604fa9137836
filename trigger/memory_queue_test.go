package trigger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryQueueFIFOAndCoalescing(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Trigger{SessionID: "s1", Kind: KindStart, Payload: "first topic"}))
	require.NoError(t, q.Enqueue(ctx, Trigger{SessionID: "s2", Kind: KindAuto}))
	require.NoError(t, q.Enqueue(ctx, Trigger{SessionID: "s1", Kind: KindStart, Payload: "revised topic"}))

	out, ok, err := q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s1", out.SessionID)
	require.Equal(t, "revised topic", out.Payload, "coalesced trigger keeps its queue position")

	out, ok, err = q.Claim(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s2", out.SessionID)

	_, ok, err = q.Claim(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryQueueWake(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Enqueue(context.Background(), Trigger{SessionID: "s1", Kind: KindAuto}))
	select {
	case <-q.Wake():
	default:
		t.Fatal("wake should be pending after enqueue")
	}
}
