package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/infra"
	"github.com/haasonsaas/nexus/pkg/models"
)

// chatRateLimit/chatRateBurst bound how many chat/preview_error-triggered
// turns one connection can start per second. A coding session is driven by a
// single human, so this exists to absorb a runaway client (a buggy retry
// loop, a scripted integration test) rather than to police real usage.
const (
	chatRateLimit = 2.0
	chatRateBurst = 5
)

// Wire-level connection tuning, grounded on the teacher's ws_control_plane.go
// constants of the same names.
const (
	wsMaxPayloadBytes = 1 << 20
	wsTickInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
)

// Server is the C1 Session Gateway's HTTP entry point. Per spec.md §5 one
// process drives one participant's project, so Server wraps exactly one
// agent.Loop; ServeHTTP upgrades the single expected connection and blocks
// for its lifetime. A client that reconnects (page refresh) gets a fresh
// Session bound to the same underlying Loop and History.
type Server struct {
	loop     *agent.Loop
	logger   *slog.Logger
	upgrader websocket.Upgrader
	activity *infra.ActivityTracker
}

// NewServer constructs the gateway around an already-configured agent loop.
func NewServer(loop *agent.Loop, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		loop:     loop,
		logger:   logger,
		activity: infra.DefaultActivityTracker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ActivityHealth reports how long it has been since the last inbound or
// outbound traffic across every session this server has served, for a
// deployment's own idle/liveness check.
func (s *Server) ActivityHealth(idleThreshold time.Duration) infra.HealthStatus {
	return s.activity.Health(idleThreshold)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(r.Context())
	sess := &session{
		id:          id,
		conn:        conn,
		loop:        s.loop,
		logger:      s.logger.With("session", id),
		send:        make(chan []byte, 64),
		ctx:         ctx,
		cancel:      cancel,
		chatLimiter: infra.NewTokenBucket(chatRateLimit, chatRateBurst),
		activity:    s.activity,
	}
	sess.run()
}

// session is one duplex WebSocket connection: a read side decoding inbound
// control frames and dispatching them to the agent loop, and a write side
// draining the loop's emitted events back to the client as framed JSON.
type session struct {
	id     string
	conn   *websocket.Conn
	loop   *agent.Loop
	logger *slog.Logger

	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	previewErrors previewErrorLimiter
	chatLimiter   *infra.TokenBucket
	activity      *infra.ActivityTracker
}

func (s *session) run() {
	defer s.close()
	go s.writeLoop()
	go s.tickLoop()
	s.readLoop()
}

func (s *session) close() {
	s.cancel()
	close(s.send)
	_ = s.conn.Close()
}

func (s *session) readLoop() {
	s.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		msg, err := validateInbound(data)
		if err != nil {
			s.emitError(fmt.Sprintf("invalid message: %v", err))
			continue
		}

		s.handleInbound(msg)
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// tickLoop keeps the connection's read deadline alive across long agent
// turns with no outbound traffic of its own.
func (s *session) tickLoop() {
	ticker := time.NewTicker(wsTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleInbound dispatches one validated client frame (spec.md §4.1).
func (s *session) handleInbound(msg *InboundMessage) {
	s.activity.Record(s.id, "", infra.ActivityInbound)

	switch msg.Type {
	case InboundChat:
		if !s.chatLimiter.Allow() {
			s.emitError("too many messages; slow down")
			return
		}
		var data ChatData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			s.emitError("malformed chat message")
			return
		}
		s.runTurn(data.Content)

	case InboundCancel:
		s.loop.Cancel()

	case InboundReset:
		if err := s.loop.Reset(); err != nil {
			s.emitError(err.Error())
		}

	case InboundElementClick:
		var data ElementClickData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			s.emitError("malformed element_click message")
			return
		}
		prompt := fmt.Sprintf("The user clicked on %q in the live preview.", data.Selector)
		if data.Description != "" {
			prompt += " " + data.Description
		}
		s.emit(models.AgentEvent{
			Type:    models.EventPrefill,
			Time:    time.Now(),
			Prefill: &models.PrefillPayload{Message: prompt},
		})

	case InboundPreviewError:
		var data PreviewErrorData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			s.emitError("malformed preview_error message")
			return
		}
		if !s.previewErrors.Allow(time.Now()) {
			return
		}
		s.runTurn(fmt.Sprintf("The dev server preview reported an error:\n\n%s\n\nPlease diagnose and fix it.", data.Error))

	default:
		s.emitError(fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// runTurn drives one chat turn, forwarding every agent.Loop event to the
// client as it's produced. ErrLoopBusy surfaces as a protocol error rather
// than queuing — per spec.md §4.1 the gateway rejects a concurrent chat and
// lets the client decide whether to wait or cancel.
func (s *session) runTurn(content string) {
	err := s.loop.ProcessMessage(s.ctx, content, s.emit)
	if err != nil && s.ctx.Err() == nil {
		s.logger.Warn("agent turn ended in error", "error", err)
	}
}

func (s *session) emit(ev models.AgentEvent) {
	s.activity.Record(s.id, "", infra.ActivityOutbound)

	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	out := OutboundMessage{Type: "agent:" + string(ev.Type), Body: json.RawMessage(body)}
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	case <-s.ctx.Done():
	}
}

func (s *session) emitError(message string) {
	s.emit(models.AgentEvent{
		Type:  models.EventError,
		Time:  time.Now(),
		Error: &models.ErrorPayload{Message: message},
	})
}
