package assist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		sig  Signal
		want ErrorKind
	}{
		{"no response", Signal{NoResponse: true}, KindNetworkError},
		{"no response wins over status", Signal{NoResponse: true, StatusCode: 500}, KindNetworkError},
		{"zero status", Signal{}, KindNetworkError},
		{"unauthorized", Signal{StatusCode: 401}, KindUnauthorized},
		{"rate limited", Signal{StatusCode: 429}, KindRateLimited},
		{"internal", Signal{StatusCode: 500}, KindServiceInternalError},
		{"unavailable", Signal{StatusCode: 503}, KindServiceUnavailable},
		{"forbidden", Signal{StatusCode: 403}, KindUnknownAPIError},
		{"bad gateway", Signal{StatusCode: 502}, KindUnknownAPIError},
		{"malformed success", Signal{StatusCode: 200, Malformed: true}, KindMalformedResponse},
		{"malformed status wins", Signal{StatusCode: 429, Malformed: true}, KindRateLimited},
		{"success without body issue", Signal{StatusCode: 200}, KindUnknownAPIError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.sig))
		})
	}
}

func TestClassify_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sig := Signal{
			StatusCode: rapid.IntRange(0, 599).Draw(t, "status"),
			NoResponse: rapid.Bool().Draw(t, "noResponse"),
			Malformed:  rapid.Bool().Draw(t, "malformed"),
			Message:    rapid.String().Draw(t, "message"),
		}
		kind := Classify(sig)

		if kind == KindInvalidInput || kind == KindAlreadyInProgress {
			t.Fatalf("transport signal classified as usage error %q", kind)
		}
		if sig.NoResponse && kind != KindNetworkError {
			t.Fatalf("no-response signal classified as %q", kind)
		}
		if kind == KindMalformedResponse && (sig.StatusCode < 200 || sig.StatusCode > 299) {
			t.Fatalf("non-2xx status %d classified as malformed", sig.StatusCode)
		}
		if Classify(sig) != kind {
			t.Fatal("classification is not deterministic")
		}
		if kind.Message() == "" {
			t.Fatalf("empty message for %q", kind)
		}
	})
}

func TestSignalFromError(t *testing.T) {
	wrapped := fmt.Errorf("suggest: %w", StatusError(http.StatusTooManyRequests, ""))
	sig := SignalFromError(wrapped)
	assert.Equal(t, http.StatusTooManyRequests, sig.StatusCode)
	assert.Equal(t, "Too Many Requests", sig.Message)

	sig = SignalFromError(errors.New("connection refused"))
	assert.True(t, sig.NoResponse)

	te := NetworkFailure(context.DeadlineExceeded)
	assert.ErrorIs(t, te, context.DeadlineExceeded)
}

func TestClassifyError_UnknownCarriesDetail(t *testing.T) {
	err := classifyError(StatusError(http.StatusBadGateway, "upstream closed"))
	assert.Equal(t, KindUnknownAPIError, err.Kind)
	assert.Contains(t, err.Error(), "status 502: upstream closed")
}

func TestErrorKind_Retryable(t *testing.T) {
	assert.False(t, KindInvalidInput.Retryable())
	assert.False(t, KindAlreadyInProgress.Retryable())
	assert.True(t, KindRateLimited.Retryable())
	assert.True(t, KindNetworkError.Retryable())
}

func TestError_TimeoutMessage(t *testing.T) {
	err := &Error{Kind: KindNetworkError, Timeout: true}
	assert.Equal(t, "The suggestion request timed out.", err.Error())
}

func TestStreamEvent_ErrKeepsDetail(t *testing.T) {
	orig := &Error{Kind: KindUnknownAPIError, Detail: "status 418: (teapot)"}
	ev := failedEvent(orig)

	got := ev.Err()
	assert.Equal(t, orig.Detail, got.Detail)
	assert.Equal(t, orig.Error(), got.Error())
	assert.Nil(t, partialEvent("x").Err())
}
