package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/voicelink/domain"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	sendBuffer  = 256
	audioBuffer = 64

	// Time allowed for live sessions to wind down when the hub stops.
	shutdownWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Pipeline runs one voice session from caller audio to outbound events
type Pipeline interface {
	Run(ctx context.Context, audio <-chan []byte, emit func(domain.Event) error) error
}

// Hub maintains the set of live voice sessions
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	// Closed when Run returns.
	done chan struct{}

	pipeline Pipeline
	logger   *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(pipeline Pipeline, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		pipeline:   pipeline,
		logger:     logger,
	}
}

// Run starts the hub's main loop. When ctx is done it cancels every live
// session and waits briefly for them to unregister.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("Client registered",
				zap.String("clientID", client.id),
				zap.String("deviceID", client.deviceID))

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.id]; ok {
		delete(h.clients, client.id)
		client.closeSend()
	}
	h.mu.Unlock()
	h.logger.Info("Client unregistered", zap.String("clientID", client.id))
}

func (h *Hub) shutdown() {
	h.closeAll()

	deadline := time.NewTimer(shutdownWait)
	defer deadline.Stop()
	for h.ClientCount() > 0 {
		select {
		case client := <-h.unregister:
			h.remove(client)
		case <-deadline.C:
			h.logger.Warn("Sessions still live at shutdown", zap.Int("clients", h.ClientCount()))
			return
		}
	}
}

// ClientCount returns the number of live sessions
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// idleClients returns sessions that have not received audio since before cutoff
func (h *Hub) idleClients(cutoff time.Time) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var idle []*Client
	for _, client := range h.clients {
		if client.lastActivity().Before(cutoff) {
			idle = append(idle, client)
		}
	}
	return idle
}

// closeAll cancels every live session; each unregisters itself once its
// pipeline returns
func (h *Hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		client.cancel()
	}
}

// WriteData is one outbound websocket frame
type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the pipeline.
type Client struct {
	hub *Hub

	id       string
	deviceID string

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Closed by the hub on unregister.
	send       chan WriteData
	sendMu     sync.RWMutex
	sendClosed bool

	// Caller audio for the pipeline. Owned by readPump.
	audio      chan []byte
	audioEnded bool

	ctx    context.Context
	cancel context.CancelFunc

	activityMu sync.Mutex
	activity   time.Time

	logger *zap.Logger
}

// HandleWebSocket upgrades the request and starts a voice session for deviceID
func HandleWebSocket(hub *Hub, c echo.Context, deviceID string) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	client := &Client{
		hub:      hub,
		id:       id,
		deviceID: deviceID,
		conn:     conn,
		send:     make(chan WriteData, sendBuffer),
		audio:    make(chan []byte, audioBuffer),
		ctx:      ctx,
		cancel:   cancel,
		activity: time.Now(),
		logger:   hub.logger.With(zap.String("clientID", id), zap.String("deviceID", deviceID)),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		cancel()
		conn.Close()
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
	go client.runPipeline()

	return nil
}

// runPipeline owns the session: it is the only sender of events, so it is
// the one that unregisters the client and thereby closes send.
func (c *Client) runPipeline() {
	defer func() {
		c.cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
			c.conn.Close()
		}
	}()

	err := c.hub.pipeline.Run(c.ctx, c.audio, c.emit)
	if err != nil && c.ctx.Err() == nil {
		c.logger.Error("Voice session failed", zap.Error(err))
		c.enqueue(CreateErrorMessage("pipeline_failed", err.Error()))
		return
	}
	c.logger.Info("Voice session ended", zap.Error(err))
}

// emit writes one pipeline event as a JSON text frame
func (c *Client) emit(event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.sendClosed {
		return context.Canceled
	}
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
		return nil
	}
}

// enqueue sends a control message without blocking
func (c *Client) enqueue(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.sendClosed {
		return
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	default:
		c.logger.Warn("Send buffer full, dropping message")
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func (c *Client) endAudio() {
	if !c.audioEnded {
		c.audioEnded = true
		close(c.audio)
	}
}

func (c *Client) touch() {
	c.activityMu.Lock()
	c.activity = time.Now()
	c.activityMu.Unlock()
}

func (c *Client) lastActivity() time.Time {
	c.activityMu.Lock()
	defer c.activityMu.Unlock()
	return c.activity
}

// readPump pumps caller frames into the pipeline.
func (c *Client) readPump() {
	defer func() {
		c.endAudio()
		// A vanished caller cannot receive the rest of the session.
		c.cancel()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			if c.audioEnded {
				c.logger.Warn("Dropping audio received after listening_end", zap.Int("size", len(message)))
				continue
			}
			c.touch()
			select {
			case <-c.ctx.Done():
				return
			case c.audio <- message:
			}
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the session to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage handles JSON control messages from the caller
func (c *Client) processMessage(message []byte) {
	msg, err := ParseControlMessage(message)
	if err != nil {
		c.logger.Warn("Invalid control message", zap.Error(err))
		c.enqueue(CreateErrorMessage("invalid_message", err.Error()))
		return
	}

	switch msg.Type {
	case MessageTypeListeningEnd:
		c.logger.Info("Caller finished speaking")
		c.endAudio()
	case MessageTypePing:
		c.enqueue(CreatePongMessage(msg.Data))
	}
}
