package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
)

var _ crawl.Publisher = (*Publisher)(nil)

func TestPublishAssignsSequentialIDs(t *testing.T) {
	t.Parallel()

	pub := New()
	first, err := pub.Publish(context.Background(), "crawl.sessions", map[string]any{"status": "completed"})
	require.NoError(t, err)
	second, err := pub.Publish(context.Background(), "crawl.sessions", map[string]any{"status": "failed"})
	require.NoError(t, err)
	require.Equal(t, "1", first)
	require.Equal(t, "2", second)

	messages := pub.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, "crawl.sessions", messages[0].Topic)
	require.JSONEq(t, `{"status":"completed"}`, string(messages[0].Data))
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "crawl.sessions", make(chan int))
	require.Error(t, err)
	require.Empty(t, pub.Messages())
}

func TestPublishHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pub := New()
	_, err := pub.Publish(ctx, "crawl.sessions", "payload")
	require.ErrorIs(t, err, context.Canceled)
}
