package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/print-resume/backend/internal/logging"
	"github.com/print-resume/backend/internal/models"
)

// WebSocket message types for the session progress protocol
const (
	// Client -> Server messages
	MsgTypeSubscribe   = "subscribe"
	MsgTypeUnsubscribe = "unsubscribe"
	MsgTypePing        = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeProgress  = "progress"
	MsgTypeComplete  = "complete"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

// WSMessage is the envelope of every WebSocket message.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// SubscribePayload selects the session to follow.
type SubscribePayload struct {
	SessionID string `json:"sessionId"`
}

// WSErrorResponse is the payload of an error message.
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

var wsLog = logging.New("WebSocket")

// WebSocketHandler pushes resume session progress to subscribed clients.
type WebSocketHandler struct {
	sessionMgr     SessionManager
	upgrader       websocket.Upgrader
	maxMessageSize int64
	pollInterval   time.Duration
}

// NewWebSocketHandler creates a session progress handler. maxMessageSize
// limits client messages; zero means no limit.
func NewWebSocketHandler(sessionMgr SessionManager, maxMessageSize int64) *WebSocketHandler {
	return &WebSocketHandler{
		sessionMgr: sessionMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		maxMessageSize: maxMessageSize,
		pollInterval:   ssePollInterval,
	}
}

// subscription is one followed session of a connection.
type subscription struct {
	cancel context.CancelFunc
}

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(msg WSMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(msg); err != nil {
		wsLog.Debugf("failed to send %s: %v", msg.Type, err)
	}
}

func (c *wsConn) sendError(id, message, code string) {
	c.send(WSMessage{
		Type:    MsgTypeError,
		ID:      id,
		Payload: mustJSON(WSErrorResponse{Message: message, Code: code}),
	})
}

// HandleSessions upgrades the connection and serves subscribe requests
// until the client disconnects.
func (wsh *WebSocketHandler) HandleSessions(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	if wsh.maxMessageSize > 0 {
		ws.SetReadLimit(wsh.maxMessageSize)
	}

	conn := &wsConn{ws: ws}
	ctx, cancel := context.WithCancel(c.Request().Context())
	var wg sync.WaitGroup
	subs := make(map[string]*subscription)
	var subsMu sync.Mutex
	defer func() {
		cancel()
		wg.Wait()
	}()

	wsLog.Debug("client connected")
	conn.send(WSMessage{Type: MsgTypeConnected})

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warnf("connection error: %v", err)
			}
			break
		}

		switch msg.Type {
		case MsgTypePing:
			conn.send(WSMessage{Type: MsgTypePong, ID: msg.ID})
		case MsgTypeSubscribe:
			var p SubscribePayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil || p.SessionID == "" {
				conn.sendError(msg.ID, "invalid subscribe payload", "INVALID_PAYLOAD")
				continue
			}
			subsMu.Lock()
			if _, ok := subs[p.SessionID]; ok {
				subsMu.Unlock()
				continue
			}
			subCtx, subCancel := context.WithCancel(ctx)
			sub := &subscription{cancel: subCancel}
			subs[p.SessionID] = sub
			subsMu.Unlock()

			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				defer subCancel()
				// Once released, the session can be subscribed to again.
				release := func() {
					subsMu.Lock()
					if subs[id] == sub {
						delete(subs, id)
					}
					subsMu.Unlock()
				}
				defer release()
				wsh.follow(subCtx, conn, id, release)
			}(p.SessionID)
		case MsgTypeUnsubscribe:
			var p SubscribePayload
			if err := json.Unmarshal(msg.Payload, &p); err == nil {
				subsMu.Lock()
				if sub, ok := subs[p.SessionID]; ok {
					sub.cancel()
					delete(subs, p.SessionID)
				}
				subsMu.Unlock()
			}
		default:
			conn.sendError(msg.ID, "unknown message type: "+msg.Type, "INVALID_TYPE")
		}
	}

	wsLog.Debug("client disconnected")
	return nil
}

// follow sends a message whenever the session changes and stops once it
// finished. release is called before the last message is sent.
func (wsh *WebSocketHandler) follow(ctx context.Context, conn *wsConn, id string, release func()) {
	ticker := time.NewTicker(wsh.pollInterval)
	defer ticker.Stop()

	lastKey := ""
	for {
		s, ok := wsh.sessionMgr.GetSession(id)
		if !ok {
			release()
			conn.sendError(id, "session not found: "+id, "SESSION_NOT_FOUND")
			return
		}
		wsh.sessionMgr.TouchSession(id)

		if s.Done() {
			release()
			conn.send(sessionMessage(s))
			return
		}
		key := fmt.Sprintf("%s/%s/%.1f", s.Status, s.Stage, s.Progress)
		if key != lastKey {
			lastKey = key
			conn.send(sessionMessage(s))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sessionMessage(s *models.ResumeSession) WSMessage {
	switch s.Status {
	case models.SessionStatusComplete:
		return WSMessage{Type: MsgTypeComplete, ID: s.ID, Payload: mustJSON(progressEvent(s))}
	case models.SessionStatusError:
		reason := "resume failed"
		if len(s.Errors) > 0 {
			reason = s.Errors[0].Reason
		}
		return WSMessage{Type: MsgTypeError, ID: s.ID, Payload: mustJSON(WSErrorResponse{Message: reason, Code: "RESUME_FAILED"})}
	default:
		return WSMessage{Type: MsgTypeProgress, ID: s.ID, Payload: mustJSON(progressEvent(s))}
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
