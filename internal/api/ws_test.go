package api

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentloop/lease-coordinator/internal/bus"
	"github.com/rentloop/lease-coordinator/internal/models"
	"github.com/rentloop/lease-coordinator/internal/notification"
	"github.com/rentloop/lease-coordinator/internal/presence"
)

var _ bus.BacklogSender = (*wsChannel)(nil)

func TestSendBacklog_WaitsForRoom(t *testing.T) {
	ch := &wsChannel{id: "c1", out: make(chan presence.Event, 1), done: make(chan struct{})}
	require.NoError(t, ch.Send(presence.Event{Name: "first"}))

	go func() {
		time.Sleep(50 * time.Millisecond)
		<-ch.out
	}()

	require.NoError(t, ch.SendBacklog(context.Background(), presence.Event{Name: "second"}))
	ev := <-ch.out
	assert.Equal(t, "second", ev.Name)
}

func TestSendBacklog_Cancelled(t *testing.T) {
	ch := &wsChannel{id: "c1", out: make(chan presence.Event, 1), done: make(chan struct{})}
	require.NoError(t, ch.Send(presence.Event{Name: "first"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ch.SendBacklog(ctx, presence.Event{Name: "second"}), context.Canceled)

	close(ch.done)
	assert.ErrorIs(t, ch.SendBacklog(context.Background(), presence.Event{}), presence.ErrChannelClosed)
}

func TestWebSocket_ReplayLargerThanBuffer(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	total := wsBufferSize + 64
	for i := 0; i < total; i++ {
		_, err := env.ledger.Create(context.Background(), notification.Draft{
			UserID:  env.tenant,
			Title:   fmt.Sprintf("Backlog %d", i),
			Message: "m",
			Type:    models.NotificationNewMessage,
		})
		require.NoError(t, err)
	}

	conn := dialWS(t, env, srv, env.tenant)

	seen := make(map[string]struct{}, total)
	for i := 0; i < total; i++ {
		ev := readEvent(t, conn)
		require.Equal(t, bus.EventNewNotification, ev.Name)
		seen[ev.ID] = struct{}{}
	}
	assert.Len(t, seen, total)
}
