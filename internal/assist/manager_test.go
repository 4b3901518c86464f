package assist

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/vulndash/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]string
	puts    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]string)}
}

func (c *fakeCache) Get(_ context.Context, id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	text, ok := c.entries[id]
	return text, ok
}

func (c *fakeCache) Put(_ context.Context, id, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = text
	c.puts++
}

func (c *fakeCache) Clear(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]string)
}

func (c *fakeCache) putCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puts
}

func newTestManager(tr Transport, cache ResultCache) *Manager {
	return NewManager(tr, cache, ManagerConfig{Session: noMarker()})
}

func TestManager_CacheHitSkipsTransport(t *testing.T) {
	cache := newFakeCache()
	cache.entries["42"] = "cached fix"
	tr := &scriptedTransport{chunks: []string{"fresh"}}
	m := newTestManager(tr, cache)

	a, err := m.RequestAssistance(context.Background(), validAlert("42"))
	require.NoError(t, err)
	assert.True(t, a.Cached)

	events := drain(t, a.Events)
	require.Len(t, events, 1)
	assert.Equal(t, StreamEvent{Type: EventCompleted, Text: "cached fix"}, events[0])
	assert.Equal(t, int32(0), tr.calls.Load())
	assert.False(t, m.IsActive())
}

func TestManager_CompletedWritesCacheOnce(t *testing.T) {
	cache := newFakeCache()
	tr := &scriptedTransport{chunks: []string{"Upgrade ", "log4j"}}
	m := newTestManager(tr, cache)

	a, err := m.RequestAssistance(context.Background(), validAlert("1"))
	require.NoError(t, err)
	assert.False(t, a.Cached)
	assert.NotEmpty(t, a.SessionID)

	events := drain(t, a.Events)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventCompleted, last.Type)
	assert.False(t, m.IsActive(), "guard must be free once the terminal event is observed")

	text, ok := cache.Get(context.Background(), "1")
	assert.True(t, ok)
	assert.Equal(t, "Upgrade log4j", text)
	assert.Equal(t, 1, cache.putCount())

	// The second request is served from cache.
	a, err = m.RequestAssistance(context.Background(), validAlert("1"))
	require.NoError(t, err)
	assert.True(t, a.Cached)
	drain(t, a.Events)
	assert.Equal(t, int32(1), tr.calls.Load())
}

func TestManager_AlreadyInProgress(t *testing.T) {
	tr := newGatedTransport("working", " more")
	m := newTestManager(tr, newFakeCache())

	first, err := m.RequestAssistance(context.Background(), validAlert("1"))
	require.NoError(t, err)
	assert.Equal(t, EventPartial, next(t, first.Events).Type)
	assert.True(t, m.IsActive())

	_, err = m.RequestAssistance(context.Background(), validAlert("2"))
	require.Error(t, err)
	assert.True(t, IsAlreadyInProgress(err))
	var aerr *Error
	require.True(t, errors.As(err, &aerr))
	aerr.Detail = "mutated"

	_, err = m.RequestAssistance(context.Background(), validAlert("2"))
	require.True(t, errors.As(err, &aerr))
	assert.Empty(t, aerr.Detail)

	m.CancelActive()
	assert.False(t, m.IsActive())
	close(tr.gate)

	events := drain(t, first.Events)
	require.NotEmpty(t, events)
	assert.Equal(t, EventCancelled, events[len(events)-1].Type)
	for _, ev := range events {
		assert.NotContains(t, ev.Text, "more")
	}

	third, err := m.RequestAssistance(context.Background(), validAlert("3"))
	require.NoError(t, err)
	drain(t, third.Events)
}

func TestManager_CacheHitWhileActive(t *testing.T) {
	cache := newFakeCache()
	cache.entries["9"] = "known"
	tr := newGatedTransport("working", "")
	m := newTestManager(tr, cache)

	first, err := m.RequestAssistance(context.Background(), validAlert("1"))
	require.NoError(t, err)

	hit, err := m.RequestAssistance(context.Background(), validAlert("9"))
	require.NoError(t, err)
	assert.True(t, hit.Cached)
	drain(t, hit.Events)

	m.CancelActive()
	close(tr.gate)
	drain(t, first.Events)
}

func TestManager_FailureReleasesGuard(t *testing.T) {
	cache := newFakeCache()
	tr := &scriptedTransport{err: StatusError(http.StatusServiceUnavailable, "")}
	m := newTestManager(tr, cache)

	a, err := m.RequestAssistance(context.Background(), validAlert("1"))
	require.NoError(t, err)

	events := drain(t, a.Events)
	require.Len(t, events, 1)
	assert.Equal(t, KindServiceUnavailable, events[0].Kind)
	assert.False(t, m.IsActive())
	assert.Equal(t, 0, cache.putCount())
}

func TestManager_InvalidAlert(t *testing.T) {
	tr := &scriptedTransport{chunks: []string{"never"}}
	m := newTestManager(tr, newFakeCache())

	alert := validAlert("1")
	alert.Severity = ""
	a, err := m.RequestAssistance(context.Background(), alert)
	require.NoError(t, err)

	events := drain(t, a.Events)
	require.Len(t, events, 1)
	assert.Equal(t, KindInvalidInput, events[0].Kind)
	assert.Equal(t, int32(0), tr.calls.Load())
	assert.False(t, m.IsActive())
}

func TestManager_ClearCache(t *testing.T) {
	cache := newFakeCache()
	cache.entries["1"] = "stale"
	m := newTestManager(&scriptedTransport{}, cache)

	m.ClearCache(context.Background())

	_, ok := cache.Get(context.Background(), "1")
	assert.False(t, ok)
}

func TestManager_Metrics(t *testing.T) {
	met := metrics.New(prometheus.NewRegistry())
	tr := &scriptedTransport{chunks: []string{"a"}}
	m := NewManager(tr, newFakeCache(), ManagerConfig{Session: noMarker(), Metrics: met})

	a, err := m.RequestAssistance(context.Background(), validAlert("1"))
	require.NoError(t, err)
	drain(t, a.Events)

	assert.Equal(t, 1.0, testutil.ToFloat64(met.SessionsTotal.WithLabelValues(metrics.OutcomeCompleted, "")))
	assert.Equal(t, 0.0, testutil.ToFloat64(met.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(met.CacheLookupsTotal.WithLabelValues("miss")))
}

func TestManager_CallerContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := newTestManager(blockingTransport(), newFakeCache())

	a, err := m.RequestAssistance(ctx, validAlert("1"))
	require.NoError(t, err)
	cancel()

	events := drain(t, a.Events)
	require.Len(t, events, 1)
	assert.Equal(t, EventCancelled, events[0].Type)

	require.Eventually(t, func() bool { return !m.IsActive() }, time.Second, 10*time.Millisecond)
}

func TestManager_CacheKeyedByRepo(t *testing.T) {
	tr := TransportFunc(func(_ context.Context, req SuggestionRequest) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			yield("fix for "+req.Package, nil)
		}
	})
	cache := newFakeCache()
	m := newTestManager(tr, cache)

	first := validAlert("1")
	first.RepoName = "acme/a"
	first.Package = "lodash"
	second := validAlert("1")
	second.RepoName = "acme/b"

	a, err := m.RequestAssistance(context.Background(), first)
	require.NoError(t, err)
	events := drain(t, a.Events)
	assert.Equal(t, "fix for lodash", events[len(events)-1].Text)

	b, err := m.RequestAssistance(context.Background(), second)
	require.NoError(t, err)
	assert.False(t, b.Cached)
	events = drain(t, b.Events)
	assert.Equal(t, "fix for log4j-core", events[len(events)-1].Text)

	assert.Equal(t, "fix for lodash", cache.entries["acme/a#1"])
	assert.Equal(t, "fix for log4j-core", cache.entries["acme/b#1"])

	again, err := m.RequestAssistance(context.Background(), first)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, "fix for lodash", next(t, again.Events).Text)
}

func TestManager_CancelWinsOverUndeliveredCompletion(t *testing.T) {
	tr := &scriptedTransport{chunks: []string{"done"}}
	m := newTestManager(tr, newFakeCache())

	a, err := m.RequestAssistance(context.Background(), validAlert("1"))
	require.NoError(t, err)

	// Nothing is read yet, so the relay holds the partial and the completion waits behind it.
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.active != nil && m.active.session.State() == StateCompleted
	}, 5*time.Second, 5*time.Millisecond)

	m.CancelActive()
	assert.False(t, m.IsActive())

	events := drain(t, a.Events)
	require.NotEmpty(t, events)
	assert.Equal(t, EventCancelled, events[len(events)-1].Type)
	for _, ev := range events {
		assert.NotEqual(t, EventCompleted, ev.Type)
	}
}
