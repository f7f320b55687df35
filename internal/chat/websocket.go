package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const defaultWSWriteTimeout = 5 * time.Second

// ErrClientNotConnected is returned when sending to a WebSocket client that
// has no open connection.
var ErrClientNotConnected = errors.New("websocket client not connected")

// wsInbound is a frame sent by a web client.
type wsInbound struct {
	Text             string    `json:"text,omitempty"`
	Action           string    `json:"action,omitempty"`
	Location         *Location `json:"location,omitempty"`
	LocationDeclined bool      `json:"location_declined,omitempty"`
}

// wsOutbound is a frame pushed to a web client.
type wsOutbound struct {
	Type            string           `json:"type"`
	ClientID        string           `json:"client_id,omitempty"`
	Screen          string           `json:"screen,omitempty"`
	Text            string           `json:"text,omitempty"`
	Buttons         [][]Button       `json:"buttons,omitempty"`
	RequestLocation *LocationRequest `json:"request_location,omitempty"`
	RemoveKeyboard  bool             `json:"remove_keyboard,omitempty"`
}

// WebSocketChannel serves web clients on a single endpoint. Each client id
// holds at most one connection; a newer connection replaces the older one.
type WebSocketChannel struct {
	originPatterns []string
	writeTimeout   time.Duration

	mu      sync.RWMutex
	conns   map[string]*websocket.Conn
	handler func(InboundMessage)
	stopped bool
}

// NewWebSocketChannel creates a WebSocket channel. originPatterns are passed
// to websocket.AcceptOptions; empty means same-origin only.
func NewWebSocketChannel(originPatterns []string) *WebSocketChannel {
	return &WebSocketChannel{
		originPatterns: originPatterns,
		writeTimeout:   defaultWSWriteTimeout,
		conns:          make(map[string]*websocket.Conn),
	}
}

// ServeHTTP upgrades the request and reads client frames until the
// connection closes.
func (w *WebSocketChannel) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	w.mu.RLock()
	handler, stopped := w.handler, w.stopped
	w.mu.RUnlock()
	if handler == nil || stopped {
		http.Error(rw, "websocket channel not running", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(rw, r, &websocket.AcceptOptions{
		OriginPatterns: w.originPatterns,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	w.register(clientID, conn)
	defer w.unregister(clientID, conn)

	ctx := r.Context()
	if err := w.write(ctx, conn, wsOutbound{Type: "hello", ClientID: clientID}); err != nil {
		slog.Warn("websocket hello failed", "client_id", clientID, "error", err)
		return
	}

	slog.Info("websocket client connected", "client_id", clientID)
	for {
		var frame wsInbound
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				slog.Info("websocket client disconnected", "client_id", clientID)
			} else {
				slog.Warn("websocket read failed", "client_id", clientID, "error", err)
			}
			conn.CloseNow()
			return
		}
		handler(InboundMessage{
			Channel:          "websocket",
			UserID:           clientID,
			Text:             frame.Text,
			Action:           frame.Action,
			Location:         frame.Location,
			LocationDeclined: frame.LocationDeclined,
		})
	}
}

func (w *WebSocketChannel) register(clientID string, conn *websocket.Conn) {
	w.mu.Lock()
	old := w.conns[clientID]
	w.conns[clientID] = conn
	w.mu.Unlock()

	if old != nil {
		go old.Close(websocket.StatusPolicyViolation, "replaced by a newer connection")
	}
}

func (w *WebSocketChannel) unregister(clientID string, conn *websocket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conns[clientID] == conn {
		delete(w.conns, clientID)
	}
}

func (w *WebSocketChannel) conn(clientID string) (*websocket.Conn, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	conn, ok := w.conns[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClientNotConnected, clientID)
	}
	return conn, nil
}

func (w *WebSocketChannel) write(ctx context.Context, conn *websocket.Conn, frame wsOutbound) error {
	ctx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, frame)
}

func (w *WebSocketChannel) SendMessage(ctx context.Context, userID string, msg OutboundMessage) error {
	conn, err := w.conn(userID)
	if err != nil {
		return err
	}
	err = w.write(ctx, conn, wsOutbound{
		Type:            "screen",
		Screen:          msg.Screen,
		Text:            msg.Text,
		Buttons:         msg.Buttons,
		RequestLocation: msg.RequestLocation,
		RemoveKeyboard:  msg.RemoveKeyboard,
	})
	if err != nil {
		return fmt.Errorf("writing websocket frame: %w", err)
	}
	return nil
}

func (w *WebSocketChannel) SendTyping(ctx context.Context, userID string) error {
	conn, err := w.conn(userID)
	if err != nil {
		return err
	}
	if err := w.write(ctx, conn, wsOutbound{Type: "typing"}); err != nil {
		return fmt.Errorf("writing websocket frame: %w", err)
	}
	return nil
}

func (w *WebSocketChannel) Start(_ context.Context, handler func(InboundMessage)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = handler
	w.stopped = false
	return nil
}

// Stop closes every open connection with StatusGoingAway and refuses new ones.
func (w *WebSocketChannel) Stop() error {
	w.mu.Lock()
	conns := w.conns
	w.conns = make(map[string]*websocket.Conn)
	w.stopped = true
	w.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	return nil
}

// Connected returns the number of open client connections.
func (w *WebSocketChannel) Connected() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.conns)
}
