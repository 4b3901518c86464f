package suggest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/vulndash/internal/assist"
)

// DefaultSuggestURL is the streaming endpoint of a local dashboard server.
const DefaultSuggestURL = "http://localhost:8000/stream_fix"

const (
	readChunkSize = 4096
	maxErrorBody  = 4096
)

// HTTPTransport posts a SuggestionRequest as JSON and streams the raw text body.
type HTTPTransport struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPTransport creates a transport for url. A nil client uses a client without
// an overall timeout; the session bounds the exchange.
func NewHTTPTransport(url string, client *http.Client, logger *slog.Logger) *HTTPTransport {
	if url == "" {
		url = DefaultSuggestURL
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{url: url, client: client, logger: logger}
}

// Suggest implements assist.Transport.
func (t *HTTPTransport) Suggest(ctx context.Context, req assist.SuggestionRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body, err := json.Marshal(req)
		if err != nil {
			yield("", fmt.Errorf("encode suggestion request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
		if err != nil {
			yield("", assist.NetworkFailure(fmt.Errorf("build request: %w", err)))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream, text/plain")

		resp, err := t.client.Do(httpReq)
		if err != nil {
			yield("", assist.NetworkFailure(err))
			return
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				t.logger.Debug("failed to close suggestion response body", "error", closeErr)
			}
		}()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			yield("", assist.StatusError(resp.StatusCode, errorMessage(resp.Body)))
			return
		}
		if !isTextContent(resp.Header.Get("Content-Type")) {
			yield("", assist.MalformedBody(resp.StatusCode,
				"unexpected content type "+resp.Header.Get("Content-Type")))
			return
		}

		streamText(resp.Body, resp.StatusCode, yield)
	}
}

// streamText yields valid UTF-8 text from r, carrying incomplete runes between reads.
func streamText(r io.Reader, status int, yield func(string, error) bool) {
	buf := make([]byte, readChunkSize)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			cut := completePrefix(pending)
			if !utf8.Valid(pending[:cut]) {
				yield("", assist.MalformedBody(status, "response is not valid UTF-8"))
				return
			}
			if cut > 0 {
				if !yield(string(pending[:cut]), nil) {
					return
				}
				pending = append(pending[:0], pending[cut:]...)
			}
		}
		if errors.Is(err, io.EOF) {
			if len(pending) > 0 {
				yield("", assist.MalformedBody(status, "response ends inside a UTF-8 sequence"))
			}
			return
		}
		if err != nil {
			yield("", assist.NetworkFailure(err))
			return
		}
	}
}

// completePrefix returns the length of b without a trailing incomplete rune.
func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}

func isTextContent(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "text/")
}

func errorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}
