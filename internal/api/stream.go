package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ashureev/vulndash/internal/assist"
	"github.com/ashureev/vulndash/internal/domain"
	"github.com/ashureev/vulndash/internal/identity"
)

// StreamFix handles POST /stream_fix. It streams raw suggestion text for one alert.
//
// Failures before the first chunk are answered with a JSON error and a status derived
// from the upstream failure. After the first chunk the status is committed, so a
// failure aborts the connection and the client observes a broken stream.
func (h *Handler) StreamFix(w http.ResponseWriter, r *http.Request) {
	key := identity.Key(r)
	if !h.limiter.Allow(key) {
		h.logger.Warn("Suggestion stream rate limited", "client", key)
		Error(w, http.StatusTooManyRequests, assist.KindRateLimited.Message())
		return
	}

	var alert domain.Alert
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := assist.NewSuggestionRequest(alert, time.Now())
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.opts.Generator == nil {
		Error(w, http.StatusServiceUnavailable, "suggestion generator is not configured")
		return
	}

	flusher, _ := w.(http.Flusher)
	started := false
	for chunk, err := range h.opts.Generator.Suggest(r.Context(), req) {
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			if !started {
				status, msg := upstreamStatus(err)
				h.logger.Warn("Suggestion generation failed", "package", req.Package, "status", status, "error", err)
				Error(w, status, msg)
				return
			}
			h.logger.Warn("Suggestion stream aborted mid-response", "package", req.Package, "error", err)
			panic(http.ErrAbortHandler)
		}
		if chunk == "" {
			continue
		}
		if !started {
			started = true
			writeStreamHeaders(w)
		}
		if _, err := w.Write([]byte(chunk)); err != nil {
			h.logger.Debug("Client went away during suggestion stream", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if !started {
		writeStreamHeaders(w)
	}
}

func writeStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

// upstreamStatus maps a generator failure to the status answered to the client.
func upstreamStatus(err error) (int, string) {
	var te *assist.TransportError
	if !errors.As(err, &te) {
		return http.StatusBadGateway, assist.KindNetworkError.Message()
	}
	sig := te.Signal
	kind := assist.Classify(sig)
	switch {
	case sig.NoResponse, sig.Malformed:
		return http.StatusBadGateway, kind.Message()
	case sig.StatusCode >= 400:
		return sig.StatusCode, kind.Message()
	default:
		return http.StatusBadGateway, kind.Message()
	}
}
