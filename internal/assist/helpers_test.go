package assist

import (
	"context"
	"iter"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/vulndash/internal/domain"
)

func validAlert(id string) domain.Alert {
	return domain.Alert{
		ID:            id,
		Vulnerability: "CVE-2021-44228",
		Package:       "log4j-core",
		Severity:      domain.SeverityCritical,
		PatchedIn:     "2.17.1",
		ApplyFixIn:    "pom.xml",
	}
}

func validRequest(t *testing.T) SuggestionRequest {
	t.Helper()
	req, err := NewSuggestionRequest(validAlert("1"), time.Now())
	if err != nil {
		t.Fatalf("NewSuggestionRequest: %v", err)
	}
	return req
}

// scriptedTransport yields chunks in order, then err if non-nil.
type scriptedTransport struct {
	chunks []string
	err    error
	calls  atomic.Int32
}

func (s *scriptedTransport) Suggest(_ context.Context, _ SuggestionRequest) iter.Seq2[string, error] {
	s.calls.Add(1)
	return func(yield func(string, error) bool) {
		for _, c := range s.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if s.err != nil {
			yield("", s.err)
		}
	}
}

// gatedTransport yields first, waits for gate and then yields late without
// looking at ctx, like a service that keeps sending after the caller gave up.
type gatedTransport struct {
	first string
	late  string
	gate  chan struct{}
	calls atomic.Int32
}

func newGatedTransport(first, late string) *gatedTransport {
	return &gatedTransport{first: first, late: late, gate: make(chan struct{})}
}

func (g *gatedTransport) Suggest(_ context.Context, _ SuggestionRequest) iter.Seq2[string, error] {
	g.calls.Add(1)
	return func(yield func(string, error) bool) {
		if !yield(g.first, nil) {
			return
		}
		<-g.gate
		yield(g.late, nil)
	}
}

// blockingTransport waits for ctx and reports its error as a network failure.
func blockingTransport() Transport {
	return TransportFunc(func(ctx context.Context, _ SuggestionRequest) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			<-ctx.Done()
			yield("", NetworkFailure(ctx.Err()))
		}
	})
}

func next(t *testing.T, ch <-chan StreamEvent) StreamEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return StreamEvent{}
}

func drain(t *testing.T, ch <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out draining events, got %d so far", len(out))
		}
	}
}
