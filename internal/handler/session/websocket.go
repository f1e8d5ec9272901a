package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/scene-guide/backend/internal/model/scene"
	sessionmodel "github.com/zhouzirui/scene-guide/backend/internal/model/session"
	speechmodel "github.com/zhouzirui/scene-guide/backend/internal/model/speech"
	"github.com/zhouzirui/scene-guide/backend/internal/service/companion"
	sessionService "github.com/zhouzirui/scene-guide/backend/internal/service/session"
)

const (
	readTimeout     = 60 * time.Second
	writeTimeout    = 10 * time.Second
	pingInterval    = 54 * time.Second
	maxMessageBytes = 8 << 20
)

// 客户端消息类型
const (
	msgStart          = "start"
	msgStop           = "stop"
	msgFrame          = "frame"
	msgMediaReady     = "media_ready"
	msgMediaError     = "media_error"
	msgListen         = "listen"
	msgUnlisten       = "unlisten"
	msgRecognition    = "recognition"
	msgAudio          = "audio"
	msgUtteranceEnd   = "utterance_end"
	msgUtteranceError = "utterance_error"
	msgSettings       = "settings"
	msgQuestion       = "question"
	msgClear          = "clear"
	msgPing           = "ping"
)

type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// FrameMessage 摄像头画面
type FrameMessage struct {
	Image    string `json:"image"`
	MIMEType string `json:"mimeType"`
}

// AudioMessage 麦克风音频片段
type AudioMessage struct {
	Audio string `json:"audio"`
	Final bool   `json:"final"`
}

// UtteranceMessage 播放结束回执
type UtteranceMessage struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// wsConn 串行化对同一个连接的写操作
type wsConn struct {
	ws        *websocket.Conn
	sessionID string
	mu        sync.Mutex
}

func (c *wsConn) send(msgType string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(outgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *wsConn) sendError(message string) {
	if err := c.send(companion.EventError, map[string]string{"message": message}); err != nil {
		log.Printf("[websocket] write error failed: %v", err)
	}
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	sessionID := chi.URLParam(r, "sessionID")
	log.Printf("[websocket] new connection for session: %s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &wsConn{ws: ws, sessionID: sessionID}
	events, unsubscribe := s.Hub.Subscribe(64)
	defer unsubscribe()
	detach := s.Attach(conn.send)
	defer detach()

	ws.SetReadLimit(maxMessageBytes)
	ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	if err := conn.send("connected", map[string]any{
		"guide": s.Controller.Guide(),
		"state": s.Controller.Snapshot(),
	}); err != nil {
		log.Printf("[websocket] write greeting failed: %v", err)
		return
	}

	go h.pingLoop(ctx, conn)
	go h.forwardEvents(ctx, conn, events)

	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[websocket] read error: %v", err)
			}
			log.Printf("[websocket] connection closed for session: %s", sessionID)
			return
		}

		ws.SetReadDeadline(time.Now().Add(readTimeout))

		if msg.SessionID != "" && msg.SessionID != sessionID {
			conn.sendError("session mismatch")
			continue
		}

		h.handleMessage(ctx, conn, s, &msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *wsConn, s *sessionService.Session, msg *inboundMessage) {
	switch msg.Type {
	case msgStart:
		go h.start(ctx, conn, s)

	case msgStop:
		if err := s.Controller.Stop(ctx); err != nil {
			conn.sendError(errorMessage(err))
		}

	case msgFrame:
		var payload FrameMessage
		if !decodeData(conn, msg, &payload) {
			return
		}
		frame, err := scene.ParseDataURL(payload.Image, payload.MIMEType)
		if err != nil {
			conn.sendError(err.Error())
			return
		}
		if err := s.Frame(frame); err != nil && !errors.Is(err, sessionService.ErrNotStreaming) {
			conn.sendError(err.Error())
		}

	case msgMediaReady:
		if !s.MediaReady() {
			log.Printf("[websocket] %s media_ready without pending request", conn.sessionID)
		}

	case msgMediaError:
		var payload struct {
			Message string `json:"message"`
		}
		if !decodeData(conn, msg, &payload) {
			return
		}
		s.MediaFailed(payload.Message)

	case msgListen:
		if err := s.Controller.Listen(); err != nil {
			conn.sendError(errorMessage(err))
		}

	case msgUnlisten:
		if err := s.Controller.Unlisten(); err != nil {
			log.Printf("[websocket] %s unlisten: %v", conn.sessionID, err)
		}

	case msgRecognition:
		var ev speechmodel.RecognitionEvent
		if !decodeData(conn, msg, &ev) {
			return
		}
		s.Recognition(ev)

	case msgAudio:
		var payload AudioMessage
		if !decodeData(conn, msg, &payload) {
			return
		}
		chunk, err := base64.StdEncoding.DecodeString(payload.Audio)
		if err != nil {
			conn.sendError("invalid audio payload")
			return
		}
		if err := s.Audio(chunk, payload.Final); err != nil {
			conn.sendError(err.Error())
		}

	case msgUtteranceEnd, msgUtteranceError:
		var payload UtteranceMessage
		if !decodeData(conn, msg, &payload) {
			return
		}
		code := ""
		if msg.Type == msgUtteranceError {
			code = payload.Error
			if code == "" {
				code = "synthesis-failed"
			}
		}
		s.UtteranceFinished(payload.ID, code)

	case msgSettings:
		var patch sessionmodel.SettingsPatch
		if !decodeData(conn, msg, &patch) {
			return
		}
		if _, err := s.Controller.UpdateSettings(patch); err != nil {
			conn.sendError(errorMessage(err))
		}

	case msgQuestion:
		var payload struct {
			Text string `json:"text"`
		}
		if !decodeData(conn, msg, &payload) {
			return
		}
		if !s.Controller.Ask(payload.Text) {
			conn.sendError("question is empty")
		}

	case msgClear:
		if err := s.Controller.ClearConversation(ctx); err != nil {
			conn.sendError(errorMessage(err))
		}

	case msgPing:
		conn.send("pong", nil)

	default:
		conn.sendError(fmt.Sprintf("unsupported message type: %s", msg.Type))
	}
}

// start 不能在读循环中执行：获取媒体需要等待客户端的
// media_ready，而该消息由读循环接收。
func (h *Handler) start(ctx context.Context, conn *wsConn, s *sessionService.Session) {
	err := s.Controller.Start(ctx)
	switch {
	case err == nil:
	case errors.Is(err, companion.ErrDescriberUnavailable),
		errors.Is(err, companion.ErrMediaUnavailable),
		errors.Is(err, companion.ErrStopped):
		// 错误已体现在会话状态中
		log.Printf("[websocket] %s start: %v", conn.sessionID, err)
	default:
		conn.sendError(errorMessage(err))
	}
}

func (h *Handler) forwardEvents(ctx context.Context, conn *wsConn, events <-chan companion.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				conn.send("closed", nil)
				conn.ws.Close()
				return
			}
			if err := conn.send(ev.Type, ev.Data); err != nil {
				log.Printf("[websocket] forward %s failed: %v", ev.Type, err)
				return
			}
		}
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}

func decodeData(conn *wsConn, msg *inboundMessage, v any) bool {
	if len(msg.Data) == 0 {
		conn.sendError(fmt.Sprintf("%s requires data", msg.Type))
		return false
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		conn.sendError(fmt.Sprintf("invalid %s payload", msg.Type))
		return false
	}
	return true
}
