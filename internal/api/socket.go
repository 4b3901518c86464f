package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ashureev/vulndash/internal/assist"
	"github.com/ashureev/vulndash/internal/domain"
	"github.com/ashureev/vulndash/internal/identity"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Client message types.
const (
	msgRequest    = "request"
	msgCancel     = "cancel"
	msgClearCache = "clear_cache"
	msgPing       = "ping"
)

// Server message types besides the StreamEvent types.
const (
	msgCached       assist.EventType = "cached"
	msgError        assist.EventType = "error"
	msgPong         assist.EventType = "pong"
	msgCacheCleared assist.EventType = "cache_cleared"
)

type socketRequest struct {
	Type  string       `json:"type"`
	Alert domain.Alert `json:"alert"`
}

// socketEvent is one server message: a StreamEvent tagged with the session it belongs to.
type socketEvent struct {
	assist.StreamEvent
	AlertID   string `json:"alert_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// AssistSocket handles GET /ws/assist. Each connection owns one assist.Manager, so a
// browser tab runs at most one suggestion at a time; the result cache is shared.
func (h *Handler) AssistSocket(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	connID := uuid.NewString()
	logger := h.logger.With("user_id", userID, "session_id", sessionID, "conn_id", connID)

	if h.opts.Assist == nil {
		Error(w, http.StatusServiceUnavailable, "suggestion transport is not configured")
		return
	}
	if !h.checkOrigin(r) {
		logger.Warn("Assist socket origin rejected", "origin", r.Header.Get("Origin"))
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	h.sockets.Register(userID, sessionID, ws)
	defer h.sockets.Unregister(userID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	mgr := assist.NewManager(h.opts.Assist, h.opts.Cache, assist.ManagerConfig{
		Session: h.opts.Session,
		Metrics: h.opts.Metrics,
		Logger:  logger,
	})

	c := &socketConn{ws: ws, logger: logger}
	h.readLoop(ctx, c, mgr)

	cancel()
	mgr.Close()
	c.wg.Wait()
	logger.Info("Assist socket closed")
}

// socketConn is one assistance connection and its running event pumps.
type socketConn struct {
	ws     *websocket.Conn
	logger *slog.Logger
	wg     sync.WaitGroup
}

func (c *socketConn) send(ctx context.Context, ev socketEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// pump forwards every event of a to the socket. It keeps draining after a write
// failure so the session can finish.
func (c *socketConn) pump(ctx context.Context, a *assist.Assistance) {
	defer c.wg.Done()
	broken := false
	for ev := range a.Events {
		if broken {
			continue
		}
		if err := c.send(ctx, socketEvent{StreamEvent: ev, AlertID: a.AlertID, SessionID: a.SessionID}); err != nil {
			c.logger.Debug("Assist socket write failed", "error", err)
			broken = true
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, c *socketConn, mgr *assist.Manager) {
	for {
		_, message, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				c.logger.Debug("Assist socket closed by client")
			} else {
				c.logger.Warn("Assist socket read error", "error", err)
			}
			return
		}

		var msg socketRequest
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Debug("Ignoring malformed socket message", "error", err)
			continue
		}

		var sendErr error
		switch msg.Type {
		case msgRequest:
			sendErr = h.startAssistance(ctx, c, mgr, msg.Alert)
		case msgCancel:
			mgr.CancelActive()
		case msgClearCache:
			mgr.ClearCache(ctx)
			sendErr = c.send(ctx, socketEvent{StreamEvent: assist.StreamEvent{Type: msgCacheCleared}})
		case msgPing:
			sendErr = c.send(ctx, socketEvent{StreamEvent: assist.StreamEvent{Type: msgPong}})
		default:
			c.logger.Debug("Ignoring unknown socket message", "type", msg.Type)
		}
		if sendErr != nil {
			c.logger.Debug("Assist socket write failed", "error", sendErr)
			return
		}
	}
}

func (h *Handler) startAssistance(ctx context.Context, c *socketConn, mgr *assist.Manager, alert domain.Alert) error {
	a, err := mgr.RequestAssistance(ctx, alert)
	if err != nil {
		var aerr *assist.Error
		kind := assist.KindUnknownAPIError
		if errors.As(err, &aerr) {
			kind = aerr.Kind
		}
		return c.send(ctx, socketEvent{
			StreamEvent: assist.StreamEvent{Type: msgError, Kind: kind, Message: err.Error()},
			AlertID:     alert.ID,
		})
	}

	if a.Cached {
		if err := c.send(ctx, socketEvent{StreamEvent: assist.StreamEvent{Type: msgCached}, AlertID: a.AlertID}); err != nil {
			return err
		}
	}
	c.wg.Add(1)
	go c.pump(ctx, a)
	return nil
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
