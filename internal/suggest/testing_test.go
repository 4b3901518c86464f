package suggest

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/ashureev/vulndash/internal/assist"
	"github.com/ashureev/vulndash/internal/domain"
)

func testRequest(t *testing.T) assist.SuggestionRequest {
	t.Helper()
	req, err := assist.NewSuggestionRequest(domain.Alert{
		ID:            "12",
		Vulnerability: "Prototype pollution in lodash",
		Package:       "lodash",
		Severity:      domain.SeverityHigh,
		PatchedIn:     "4.17.21",
		ApplyFixIn:    "package.json",
	}, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

// collect runs seq to completion and returns the chunks and the final error.
func collect(seq iter.Seq2[string, error]) ([]string, error) {
	var chunks []string
	for chunk, err := range seq {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

type fakeGenerator struct {
	chunks []string
	err    error
	got    chan assist.SuggestionRequest
}

func (f *fakeGenerator) Suggest(_ context.Context, req assist.SuggestionRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if f.got != nil {
			f.got <- req
		}
		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if f.err != nil {
			yield("", f.err)
		}
	}
}
