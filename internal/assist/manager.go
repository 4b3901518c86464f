package assist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
		"time"

	"github.com/ashureev/vulndash/internal/domain"
	"github.com/ashureev/vulndash/internal/metrics"
)

// ResultCache stores completed suggestion text by alert id.
// Implementations degrade silently: a failed read is a miss and a failed write is dropped.
type ResultCache interface {
	Get(ctx context.Context, alertID string) (string, bool)
	Put(ctx context.Context, alertID, text string)
	Clear(ctx context.Context)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Session SessionConfig
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Assistance is the result of a RequestAssistance call.
//
// Events yields the session's events and is closed after the terminal event. A cache hit
// yields a single Completed event with Cached set. Consumers must drain Events.
type Assistance struct {
	AlertID   string
	SessionID string
	Cached    bool
	Events    <-chan StreamEvent
}

type activeSession struct {
	session  *Session
	cacheKey string
	stopped  bool
}

// Manager enforces at most one active Session, serves cached suggestions and writes
// completed text back to the cache.
type Manager struct {
	transport Transport
	cache     ResultCache
	cfg       ManagerConfig
	logger    *slog.Logger

	mu     sync.Mutex
	active *activeSession
}

// NewManager creates a Manager. A nil cache disables caching.
func NewManager(transport Transport, cache ResultCache, cfg ManagerConfig) *Manager {
	if cache == nil {
		cache = noCache{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = cfg.Logger
	}
	return &Manager{
		transport: transport,
		cache:     cache,
		cfg:       cfg,
		logger:    cfg.Logger,
	}
}

// RequestAssistance serves alert from cache or starts a new session.
// It returns an Error of KindAlreadyInProgress while another session is active. Cache hits
// are served even while a session is active. Cache entries are keyed by Alert.CacheKey.
func (m *Manager) RequestAssistance(ctx context.Context, alert domain.Alert) (*Assistance, error) {
	key := alert.CacheKey()
	if key != "" {
		text, ok := m.cache.Get(ctx, key)
		m.cfg.Metrics.CacheLookup(ok)
		if ok {
			m.logger.Info("Serving cached suggestion", "alert_id", alert.ID, "repo", alert.RepoName)
			events := make(chan StreamEvent, 1)
			events <- completedEvent(text)
			close(events)
			return &Assistance{AlertID: alert.ID, Cached: true, Events: events}, nil
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		m.cfg.Metrics.SessionRejected()
		m.logger.Warn("Suggestion already in progress",
			"alert_id", alert.ID,
			"active_alert_id", m.active.session.AlertID())
		return nil, errAlreadyInProgress()
	}

	// Validation failures surface as Failed{InvalidInput} from the session.
	req, _ := NewSuggestionRequest(alert, m.cfg.Now())

	sess := NewSession(alert.ID, m.transport, m.cfg.Session)
	events, err := sess.Start(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	a := &activeSession{session: sess, cacheKey: key}
	m.active = a
	m.cfg.Metrics.SessionStarted()

	out := make(chan StreamEvent)
	go m.relay(context.WithoutCancel(ctx), a, events, out)

	return &Assistance{AlertID: alert.ID, SessionID: sess.ID(), Events: out}, nil
}

// CancelActive cancels the active session, if any. When it returns the single-flight
// guard is free, no further partial events are relayed for the cancelled session and its
// terminal event is Cancelled, even if the session completed before the relay saw it.
func (m *Manager) CancelActive() {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.active
	if a == nil {
		return
	}
	a.stopped = true
	a.session.Cancel()
	m.active = nil
}

// IsActive reports whether a session currently holds the single-flight guard.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// ClearCache removes every cached suggestion.
func (m *Manager) ClearCache(ctx context.Context) {
	m.cache.Clear(ctx)
	m.logger.Info("Suggestion cache cleared")
}

// Close cancels any active session.
func (m *Manager) Close() {
	m.CancelActive()
}

// relay forwards session events to out. The cache write and guard release happen
// before the terminal event is forwarded. Once the session was cancelled through the
// Manager, partials are dropped and the terminal event is always Cancelled.
func (m *Manager) relay(ctx context.Context, a *activeSession, events <-chan StreamEvent, out chan<- StreamEvent) {
	defer close(out)

	start := m.cfg.Now()
	sawChunk := false
	for ev := range events {
		if ev.Terminal() {
			if ev.Type == EventCompleted && a.cacheKey != "" {
				m.cache.Put(ctx, a.cacheKey, ev.Text)
			}
			if m.release(a) && ev.Type != EventCancelled {
				m.logger.Debug("Dropping terminal event after cancel",
					"alert_id", a.session.AlertID(), "type", ev.Type)
				ev = cancelledEvent()
			}
			m.recordOutcome(ev, start)
			out <- ev
			continue
		}

		if !sawChunk {
			sawChunk = true
			m.cfg.Metrics.FirstChunk(m.cfg.Now().Sub(start))
		}
		if m.stopped(a) {
			continue
		}
		out <- ev
	}
}

// release frees the guard held by a and reports whether a was cancelled.
func (m *Manager) release(a *activeSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == a {
		m.active = nil
	}
	return a.stopped
}

func (m *Manager) stopped(a *activeSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return a.stopped
}

func (m *Manager) recordOutcome(ev StreamEvent, start time.Time) {
	elapsed := m.cfg.Now().Sub(start)
	switch ev.Type {
	case EventCompleted:
		m.cfg.Metrics.SessionFinished(metrics.OutcomeCompleted, "", elapsed)
	case EventFailed:
		m.cfg.Metrics.SessionFinished(metrics.OutcomeFailed, string(ev.Kind), elapsed)
	case EventCancelled:
		m.cfg.Metrics.SessionFinished(metrics.OutcomeCancelled, "", elapsed)
	}
}

type noCache struct{}

func (noCache) Get(context.Context, string) (string, bool) { return "", false }
func (noCache) Put(context.Context, string, string)        {}
func (noCache) Clear(context.Context)                      {}
