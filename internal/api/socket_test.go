package api

import (
	"context"
	"iter"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/vulndash/internal/assist"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialAssist(t *testing.T, h *Handler) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/assist"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func readUntilTerminal(t *testing.T, ctx context.Context, conn *websocket.Conn) []socketEvent {
	t.Helper()
	var out []socketEvent
	for {
		var ev socketEvent
		require.NoError(t, wsjson.Read(ctx, conn, &ev))
		out = append(out, ev)
		if ev.Terminal() || ev.Type == msgError {
			return out
		}
	}
}

func TestAssistSocket_StreamsThenServesFromCache(t *testing.T) {
	gen := &chunkGenerator{chunks: []string{"Upgrade ", "lodash"}}
	h, _ := newTestHandler(t, Options{Assist: gen})
	conn, ctx := dialAssist(t, h)

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"type": "request", "alert": testAlert()}))
	events := readUntilTerminal(t, ctx, conn)

	last := events[len(events)-1]
	assert.Equal(t, assist.EventCompleted, last.Type)
	assert.Equal(t, "Upgrade lodash", last.Text)
	assert.Equal(t, "42", last.AlertID)
	assert.NotEmpty(t, last.SessionID)
	assert.Equal(t, assist.EventPartial, events[0].Type)

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"type": "request", "alert": testAlert()}))
	cached := readUntilTerminal(t, ctx, conn)

	require.Len(t, cached, 2)
	assert.Equal(t, msgCached, cached[0].Type)
	assert.Equal(t, assist.EventCompleted, cached[1].Type)
	assert.Equal(t, "Upgrade lodash", cached[1].Text)
	assert.Equal(t, 1, gen.Calls())
}

func TestAssistSocket_RejectsSecondRequestAndCancels(t *testing.T) {
	release := make(chan struct{})
	blocking := assist.TransportFunc(func(ctx context.Context, _ assist.SuggestionRequest) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			if !yield("thinking", nil) {
				return
			}
			select {
			case <-ctx.Done():
			case <-release:
			}
		}
	})
	defer close(release)

	h, _ := newTestHandler(t, Options{Assist: blocking})
	conn, ctx := dialAssist(t, h)

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"type": "request", "alert": testAlert()}))
	var first socketEvent
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, assist.EventPartial, first.Type)

	other := testAlert()
	other.ID = "43"
	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"type": "request", "alert": other}))
	var rejected socketEvent
	require.NoError(t, wsjson.Read(ctx, conn, &rejected))
	assert.Equal(t, msgError, rejected.Type)
	assert.Equal(t, assist.KindAlreadyInProgress, rejected.Kind)

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"type": "cancel"}))
	var cancelled socketEvent
	require.NoError(t, wsjson.Read(ctx, conn, &cancelled))
	assert.Equal(t, assist.EventCancelled, cancelled.Type)
	assert.Equal(t, "42", cancelled.AlertID)
}

func TestAssistSocket_PingAndClearCache(t *testing.T) {
	h, c := newTestHandler(t, Options{Assist: &chunkGenerator{}})
	conn, ctx := dialAssist(t, h)
	c.Put(ctx, "42", "cached")

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"type": "ping"}))
	var pong socketEvent
	require.NoError(t, wsjson.Read(ctx, conn, &pong))
	assert.Equal(t, msgPong, pong.Type)

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"type": "clear_cache"}))
	var cleared socketEvent
	require.NoError(t, wsjson.Read(ctx, conn, &cleared))
	assert.Equal(t, msgCacheCleared, cleared.Type)

	_, ok := c.Get(ctx, "42")
	assert.False(t, ok)
}
