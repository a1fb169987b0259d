package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CovCube/server/internal/auth"
	"github.com/CovCube/server/internal/cube"
	"github.com/CovCube/server/internal/infrastructure/config"
	"github.com/CovCube/server/internal/infrastructure/logging"
	"github.com/CovCube/server/internal/infrastructure/mqtt"
	"github.com/CovCube/server/internal/telemetry"
)

// Stream frame types.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameEvent       = "event"
	FrameAck         = "ack"
	FrameError       = "error"

	streamSendBuffer = 256
)

// Stream channels. Cube lifecycle channels are "cube." plus the action.
const (
	ChannelReadings = "telemetry.reading"
	ChannelCubes    = "cube."
)

var streamChannels = []string{
	ChannelReadings,
	ChannelCubes + mqtt.ActionCreate,
	ChannelCubes + mqtt.ActionUpdate,
	ChannelCubes + mqtt.ActionDelete,
}

// ErrStreamScope is returned when a cube token asks for another cube's feed.
var ErrStreamScope = errors.New("stream: cube tokens may only follow their own cube")

// StreamFrame is every message exchanged on /stream. Outbound events carry
// Channel, CubeID and Data; inbound frames carry Channels and the optional
// cube and sensor type scope.
type StreamFrame struct {
	Type       string    `json:"type"`
	ID         string    `json:"id,omitempty"`
	Channel    string    `json:"channel,omitempty"`
	Channels   []string  `json:"channels,omitempty"`
	CubeID     string    `json:"cubeId,omitempty"`
	SensorType string    `json:"sensorType,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Data       any       `json:"data,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// streamFilter selects the events of one channel. Empty scope fields match
// everything; SensorType only narrows readings.
type streamFilter struct {
	Channel    string
	CubeID     string
	SensorType string
}

func (f streamFilter) matches(ev streamEvent) bool {
	if f.Channel != ev.channel {
		return false
	}
	if f.CubeID != "" && f.CubeID != ev.cubeID {
		return false
	}
	return f.SensorType == "" || ev.sensorType == "" || f.SensorType == ev.sensorType
}

// streamEvent is one encoded frame with the keys filters match on.
type streamEvent struct {
	channel    string
	cubeID     string
	sensorType string
	frame      []byte
}

// Hub fans registry and telemetry events out to stream clients.
type Hub struct {
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*streamClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("stream client connected", "owner", c.owner, "clients", n)
}

func (h *Hub) remove(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	h.logger.Debug("stream client disconnected", "owner", c.owner, "clients", n, "dropped", c.droppedCount())
}

// publish encodes data once and queues it for every matching client.
func (h *Hub) publish(channel, cubeID, sensorType string, data any) {
	frame, err := json.Marshal(StreamFrame{
		Type:      FrameEvent,
		Channel:   channel,
		CubeID:    cubeID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		h.logger.Error("encoding stream event", "channel", channel, "cube_id", cubeID, "error", err)
		return
	}
	ev := streamEvent{channel: channel, cubeID: cubeID, sensorType: sensorType, frame: frame}

	h.mu.RLock()
	clients := make([]*streamClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.wants(ev) {
			c.enqueue(ev.frame)
		}
	}
}

// broadcastCubeEvent relays registry lifecycle events to the stream.
func (s *Server) broadcastCubeEvent(ev cube.Event) {
	s.hub.publish(ChannelCubes+ev.Action, ev.CubeID, "", ev)
}

// broadcastReading relays stored readings to the stream.
func (s *Server) broadcastReading(rec telemetry.Record) {
	s.hub.publish(ChannelReadings, rec.CubeID, rec.SensorType, rec)
}

// streamClient is one /stream connection. A client authenticated with a
// cube token is pinned to that cube.
type streamClient struct {
	hub   *Hub
	conn  *websocket.Conn
	owner string
	pin   string

	mu      sync.Mutex
	filters []streamFilter
	send    chan []byte
	closed  bool
	dropped int
}

func newStreamClient(hub *Hub, conn *websocket.Conn, owner string) *streamClient {
	return &streamClient{
		hub:   hub,
		conn:  conn,
		owner: owner,
		pin:   pinnedCube(owner),
		send:  make(chan []byte, streamSendBuffer),
	}
}

// pinnedCube returns the cube a token owner is limited to, or "" when the
// owner may follow every cube.
func pinnedCube(owner string) string {
	if id, ok := strings.CutPrefix(owner, auth.CubeOwnerPrefix); ok {
		return id
	}
	return ""
}

// scopeFilters pins filters to cubeID, rejecting any that name another cube.
func scopeFilters(cubeID string, filters []streamFilter) ([]streamFilter, error) {
	if cubeID == "" {
		return filters, nil
	}
	out := make([]streamFilter, len(filters))
	for i, f := range filters {
		if f.CubeID != "" && f.CubeID != cubeID {
			return nil, ErrStreamScope
		}
		f.CubeID = cubeID
		out[i] = f
	}
	return out, nil
}

func (c *streamClient) subscribe(filters []streamFilter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range filters {
		if !slices.Contains(c.filters, f) {
			c.filters = append(c.filters, f)
		}
	}
}

func (c *streamClient) unsubscribe(filters []streamFilter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = slices.DeleteFunc(c.filters, func(f streamFilter) bool {
		return slices.Contains(filters, f)
	})
}

func (c *streamClient) wants(ev streamEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.filters {
		if f.matches(ev) {
			return true
		}
	}
	return false
}

// enqueue drops the frame when the client is gone or too slow to keep up.
func (c *streamClient) enqueue(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		c.dropped++
	}
}

func (c *streamClient) reply(frame StreamFrame) {
	frame.Timestamp = time.Now().UTC()
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *streamClient) droppedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// close stops the writer; it is safe to call more than once.
func (c *streamClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// parseStreamFilters turns channel names and an optional scope into
// filters, rejecting unknown channels and malformed cube ids.
func parseStreamFilters(channels []string, cubeID, sensorType string) ([]streamFilter, error) {
	cubeID = strings.TrimSpace(cubeID)
	sensorType = strings.TrimSpace(sensorType)
	if cubeID != "" && !cube.IsValidID(cubeID) {
		return nil, cube.Invalid("cubeId", "must be a UUID")
	}

	var filters []streamFilter
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		if !slices.Contains(streamChannels, ch) {
			return nil, cube.Invalid("channels", "unknown channel "+ch)
		}
		filters = append(filters, streamFilter{Channel: ch, CubeID: cubeID, SensorType: sensorType})
	}
	return filters, nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware; callers must already
	// hold a valid token to reach the upgrade.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStream upgrades to a WebSocket carrying live readings and cube
// events. Initial subscriptions come from ?channels=a,b with optional
// ?cube= and ?sensorType= scope; later ones from subscribe frames.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var channels []string
	if raw := q.Get("channels"); raw != "" {
		channels = strings.Split(raw, ",")
	}
	filters, err := parseStreamFilters(channels, q.Get("cube"), q.Get("sensorType"))
	if err != nil {
		s.writeDomainError(w, r, err, "invalid stream subscription")
		return
	}

	owner := ownerFrom(r.Context())
	if filters, err = scopeFilters(pinnedCube(owner), filters); err != nil {
		writeError(w, http.StatusForbidden, ErrCodeForbidden, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newStreamClient(s.hub, conn, owner)
	client.subscribe(filters)
	s.hub.add(client)

	go client.writeLoop(s.wsCfg)
	go client.readLoop(s.wsCfg)
}

// readLoop handles inbound frames until the connection fails.
func (c *streamClient) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend("") //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(extend)

	for {
		var in StreamFrame
		if err := c.conn.ReadJSON(&in); err != nil {
			var syntax *json.SyntaxError
			var typ *json.UnmarshalTypeError
			if errors.As(err, &syntax) || errors.As(err, &typ) {
				c.reply(StreamFrame{Type: FrameError, Message: "invalid JSON frame"})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("stream read failed", "owner", c.owner, "error", err)
			}
			return
		}
		extend("") //nolint:errcheck // a failed deadline surfaces on the next read
		c.handleFrame(in)
	}
}

func (c *streamClient) handleFrame(in StreamFrame) {
	if in.Type != FrameSubscribe && in.Type != FrameUnsubscribe {
		c.reply(StreamFrame{Type: FrameError, ID: in.ID, Message: "unknown frame type " + in.Type})
		return
	}

	filters, err := parseStreamFilters(in.Channels, in.CubeID, in.SensorType)
	if err == nil {
		filters, err = scopeFilters(c.pin, filters)
	}
	if err != nil {
		c.reply(StreamFrame{Type: FrameError, ID: in.ID, Message: err.Error()})
		return
	}

	if in.Type == FrameSubscribe {
		c.subscribe(filters)
	} else {
		c.unsubscribe(filters)
	}
	c.reply(StreamFrame{Type: FrameAck, ID: in.ID, Channels: in.Channels, CubeID: in.CubeID, SensorType: in.SensorType})
}

// writeLoop drains queued frames and keeps the connection alive with pings.
func (c *streamClient) writeLoop(cfg config.WebSocketConfig) {
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()
	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error caught below
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // best-effort goodbye
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error caught below
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
