package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/muurk/udpdiscovery/internal/discovery"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Messages queued per client before new ones are dropped
	sendBacklog = 64
)

// Message types sent to clients
const (
	TypeHello        = "hello"
	TypeDevice       = "device"
	TypeScanStarted  = "scan_started"
	TypeScanFinished = "scan_finished"
	TypeError        = "error"
)

// Message is one JSON frame of the feed
type Message struct {
	Type       string                       `json:"type"`
	Time       time.Time                    `json:"time"`
	Device     *discovery.DeviceInfoPackage `json:"device,omitempty"`
	PayloadHex string                       `json:"payload_hex,omitempty"`
	Responses  int                          `json:"responses,omitempty"`
	Error      string                       `json:"error,omitempty"`
}

// Command is a JSON frame sent by a client
type Command struct {
	Type string `json:"type"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// client is one websocket connection
type client struct {
	id     string
	conn   *websocket.Conn
	logger *zap.Logger
	send   chan Message

	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// enqueue never blocks; a slow client loses messages rather than stalling scans.
func (c *client) enqueue(msg Message) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		c.logger.Warn("Client too slow, dropping message", zap.String("type", msg.Type))
	}
}

func deviceMessage(pkg discovery.DeviceInfoPackage) Message {
	return Message{
		Type:       TypeDevice,
		Time:       pkg.ReceivedAt,
		Device:     &pkg,
		PayloadHex: hex.EncodeToString(pkg.ReceivedData),
	}
}

// handleWebSocket upgrades the connection and streams discovery events.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error
		s.logger.Info("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	id := xid.New().String()
	c := &client{
		id:     id,
		conn:   conn,
		logger: s.logger.With(zap.String("client", id), zap.String("remote_addr", r.RemoteAddr)),
		send:   make(chan Message, sendBacklog),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	c.logger.Info("Client connected")

	unsubscribe := s.detector.Subscribe(func(pkg discovery.DeviceInfoPackage) {
		c.enqueue(deviceMessage(pkg))
	})

	c.enqueue(Message{Type: TypeHello, Time: time.Now()})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writePump(c)
	}()

	s.readPump(c)

	unsubscribe()
	c.close()

	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	c.logger.Info("Client disconnected")
}

// readPump handles client commands and pongs until the connection fails.
func (s *Server) readPump(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debug("Connection closed or error reading frame", zap.Error(err))
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.enqueue(Message{Type: TypeError, Time: time.Now(), Error: "invalid command: " + err.Error()})
			continue
		}

		switch cmd.Type {
		case "scan":
			c.logger.Debug("Scan requested by client")
			s.TriggerScan()
		case "ping":
			c.enqueue(Message{Type: TypeHello, Time: time.Now()})
		default:
			c.enqueue(Message{Type: TypeError, Time: time.Now(), Error: "unknown command: " + cmd.Type})
		}
	}
}

// writePump serializes queued messages and keeps the connection alive.
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("Failed to send message", zap.Error(err))
				c.close()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.close()
				return
			}
		}
	}
}

// broadcast queues msg on every connected client
func (s *Server) broadcast(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		c.enqueue(msg)
	}
}
