package assist

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTimeout bounds a whole suggestion exchange.
	DefaultTimeout = 30 * time.Second

	// DefaultCompletionMarker is the sentinel the suggestion service appends when done.
	DefaultCompletionMarker = "✅ Analysis complete!"
)

var errSessionStarted = errors.New("session already started")

// State is a Session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

var stateNames = [...]string{"idle", "requesting", "streaming", "completed", "failed", "cancelled"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no further events can follow s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// SessionConfig tunes a Session.
type SessionConfig struct {
	// Timeout bounds the whole exchange. Zero uses DefaultTimeout, negative disables it.
	Timeout time.Duration

	// CompletionMarker ends the session early once the accumulated text contains it.
	// Transport end-of-stream stays authoritative; the marker only shortcuts it and can
	// fire early if generated content quotes it. Empty disables the check.
	CompletionMarker string

	Logger *slog.Logger
}

// DefaultSessionConfig returns the standard 30s timeout and completion marker.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Timeout:          DefaultTimeout,
		CompletionMarker: DefaultCompletionMarker,
	}
}

// Session runs exactly one suggestion exchange and reports it as an ordered sequence of
// StreamEvents: zero or more Partial events followed by exactly one terminal event.
// A Session cannot be restarted; a new request needs a new Session.
type Session struct {
	id        string
	alertID   string
	transport Transport
	cfg       SessionConfig
	logger    *slog.Logger

	mu     sync.Mutex
	state  State
	text   string
	queue  []StreamEvent
	sealed bool
	notify chan struct{}
	stop   context.CancelFunc
}

// NewSession creates an idle session for alertID.
func NewSession(alertID string, transport Transport, cfg SessionConfig) *Session {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		alertID:   alertID,
		transport: transport,
		cfg:       cfg,
		logger:    logger.With("session_id", id, "alert_id", alertID),
		notify:    make(chan struct{}, 1),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// AlertID returns the alert this session serves.
func (s *Session) AlertID() string { return s.alertID }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Text returns the text accumulated so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// Start issues the request and returns the event channel, which is closed after the
// terminal event. The consumer must drain it. An invalid request yields an immediate
// Failed{InvalidInput} without contacting the transport.
func (s *Session) Start(ctx context.Context, req SuggestionRequest) (<-chan StreamEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return nil, errSessionStarted
	}

	out := make(chan StreamEvent)
	go s.pump(out)

	if err := req.Validate(); err != nil {
		s.logger.Warn("Suggestion request rejected", "error", err)
		s.finishLocked(StateFailed, failedEvent(&Error{Kind: KindInvalidInput, Detail: err.Error()}))
		return out, nil
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if s.cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	s.stop = cancel
	s.state = StateRequesting
	s.logger.Debug("Suggestion session started", "package", req.Package, "severity", req.Severity)

	go s.run(runCtx, req)
	return out, nil
}

// Cancel aborts the exchange and emits exactly one Cancelled event. Undelivered partial
// events are dropped and late transport data is ignored. Cancel is idempotent and a no-op
// on idle or terminal sessions.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state == StateIdle || s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.queue = nil
	s.finishLocked(StateCancelled, cancelledEvent())
	stop := s.stop
	s.mu.Unlock()

	s.logger.Info("Suggestion session cancelled")
	if stop != nil {
		stop()
	}
}

func (s *Session) run(ctx context.Context, req SuggestionRequest) {
	defer s.stop()

	for chunk, err := range s.transport.Suggest(ctx, req) {
		if err != nil {
			s.fail(ctx, err)
			return
		}
		if chunk == "" {
			continue
		}
		if done := s.appendChunk(chunk); done {
			return
		}
	}

	// Some transports end the sequence quietly once their context is gone.
	if ctx.Err() != nil {
		s.fail(ctx, ctx.Err())
		return
	}
	s.complete()
}

// appendChunk records chunk and reports whether the session is finished.
func (s *Session) appendChunk(chunk string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return true
	}
	s.text += chunk
	s.state = StateStreaming
	s.enqueueLocked(partialEvent(s.text))

	if s.cfg.CompletionMarker != "" && strings.Contains(s.text, s.cfg.CompletionMarker) {
		s.logger.Debug("Completion marker received")
		s.finishLocked(StateCompleted, completedEvent(s.text))
		return true
	}
	return false
}

func (s *Session) complete() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return
	}
	s.logger.Info("Suggestion session completed", "text_len", len(s.text))
	s.finishLocked(StateCompleted, completedEvent(s.text))
}

func (s *Session) fail(ctx context.Context, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.logger.Warn("Suggestion session timed out", "timeout", s.cfg.Timeout)
		s.finishLocked(StateFailed, failedEvent(&Error{Kind: KindNetworkError, Timeout: true}))
	case ctx.Err() != nil:
		s.logger.Info("Suggestion session cancelled by caller context")
		s.queue = nil
		s.finishLocked(StateCancelled, cancelledEvent())
	default:
		classified := classifyError(err)
		s.logger.Warn("Suggestion session failed", "kind", classified.Kind, "error", err)
		s.finishLocked(StateFailed, failedEvent(classified))
	}
}

func (s *Session) enqueueLocked(ev StreamEvent) {
	s.queue = append(s.queue, ev)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Session) finishLocked(state State, ev StreamEvent) {
	s.state = state
	s.sealed = true
	s.enqueueLocked(ev)
}

// pump delivers queued events in order and closes out after the terminal event.
func (s *Session) pump(out chan<- StreamEvent) {
	defer close(out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.sealed {
			s.mu.Unlock()
			<-s.notify
			s.mu.Lock()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		out <- ev
		if ev.Terminal() {
			return
		}
	}
}
