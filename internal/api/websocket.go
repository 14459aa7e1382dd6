package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-arduino/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-arduino/internal/infrastructure/logging"
)

// Frame types on the event socket.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeAck         = "ack"
	WSTypeError       = "error"

	wsSendBufferSize = 256
)

var errUnknownChannel = errors.New("unknown channel")

// channelSet is a bitmask of driver event channels.
type channelSet uint8

const (
	chDeviceDiscovered channelSet = 1 << iota
	chDeviceData
	chProtocolConfig
	chVersion
	chTransport
	chFlash

	chDevice = chDeviceDiscovered | chDeviceData
	chAll    = chDevice | chProtocolConfig | chVersion | chTransport | chFlash
)

// channelOrder fixes the order names are reported back in.
var channelOrder = []struct {
	name string
	bit  channelSet
}{
	{ChannelDeviceDiscovered, chDeviceDiscovered},
	{ChannelDeviceData, chDeviceData},
	{ChannelProtocolConfig, chProtocolConfig},
	{ChannelVersion, chVersion},
	{ChannelTransport, chTransport},
	{ChannelFlash, chFlash},
}

// parseChannels accepts channel names plus the "device.*" and "*" wildcards.
func parseChannels(names []string) (channelSet, error) {
	var set channelSet
	for _, name := range names {
		name = strings.TrimSpace(name)
		switch name {
		case "":
			continue
		case "*":
			set |= chAll
			continue
		case "device.*":
			set |= chDevice
			continue
		}
		found := false
		for _, ch := range channelOrder {
			if ch.name == name {
				set |= ch.bit
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: %q", errUnknownChannel, name)
		}
	}
	return set, nil
}

func (s channelSet) names() []string {
	out := make([]string, 0, len(channelOrder))
	for _, ch := range channelOrder {
		if s&ch.bit != 0 {
			out = append(out, ch.name)
		}
	}
	return out
}

// WSMessage is a server to client frame.
type WSMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Channel string `json:"channel,omitempty"`
	Time    string `json:"time,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// WSRequest is a client to server frame. GUIDs narrow the device channels
// to the listed devices; an empty list leaves them unfiltered.
type WSRequest struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Channels []string `json:"channels,omitempty"`
	GUIDs    []string `json:"guids,omitempty"`
}

// WSSelection is the ack payload: what the client now receives.
type WSSelection struct {
	Channels []string `json:"channels"`
	GUIDs    []string `json:"guids,omitempty"`
}

// Hub fans driver events out to WebSocket clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// publish delivers one event. guid is set for device events so per-device
// filters apply. A client whose buffer is full is disconnected; it
// resyncs from the REST endpoints when it reconnects.
func (h *Hub) publish(ch channelSet, guid string, payload any) {
	msg := WSMessage{
		Type:    WSTypeEvent,
		Channel: ch.names()[0],
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Payload: payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal event", "channel", msg.Channel, "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(ch, guid) {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if !c.enqueue(data) {
			h.logger.Warn("dropping slow websocket client", "channel", msg.Channel)
			h.remove(c)
		}
	}
}

// wsClient is one event socket. send is never closed; done ends both pumps.
type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	channels channelSet
	guids    map[string]struct{}
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn:  conn,
		send:  make(chan []byte, wsSendBufferSize),
		done:  make(chan struct{}),
		guids: make(map[string]struct{}),
	}
}

// close stops the client. writePump sends the close frame and releases
// the connection, which in turn ends readPump.
func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *wsClient) wants(ch channelSet, guid string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channels&ch == 0 {
		return false
	}
	if guid == "" || len(c.guids) == 0 {
		return true
	}
	_, ok := c.guids[guid]
	return ok
}

// enqueue reports false when the client is gone or its buffer is full.
func (c *wsClient) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) apply(set channelSet, guids []string, add bool) WSSelection {
	c.mu.Lock()
	defer c.mu.Unlock()
	if add {
		c.channels |= set
		for _, g := range guids {
			c.guids[g] = struct{}{}
		}
	} else {
		c.channels &^= set
		for _, g := range guids {
			delete(c.guids, g)
		}
	}
	sel := WSSelection{Channels: c.channels.names()}
	for g := range c.guids {
		sel.GUIDs = append(sel.GUIDs, g)
	}
	sort.Strings(sel.GUIDs)
	return sel
}

// handleWebSocket upgrades to the event socket. The channels query
// parameter (comma separated) and repeated guid parameters select events
// up front; an unknown channel is rejected before the upgrade.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	set, err := parseChannels(strings.Split(q.Get("channels"), ","))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(conn)
	c.apply(set, q["guid"], true)
	if !s.hub.add(c) {
		conn.Close()
		return
	}
	s.logger.Debug("websocket client connected", "channels", set.names(), "clients", s.hub.ClientCount())

	go c.writePump(s.wsCfg)
	go c.readPump(s.hub)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

func (c *wsClient) readPump(h *Hub) {
	defer h.remove(c)

	cfg := h.cfg
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(wait))
		if !c.handleRequest(data) {
			return
		}
	}
}

func (c *wsClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
	}()
	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case <-c.done:
			//nolint:errcheck // Best-effort close frame
			c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
			return
		case data := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleRequest answers one client frame. It reports false when the reply
// could not be queued.
func (c *wsClient) handleRequest(data []byte) bool {
	var req WSRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return c.reply("", WSTypeError, map[string]string{"message": "invalid JSON message"})
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		set, err := parseChannels(req.Channels)
		if err != nil {
			return c.reply(req.ID, WSTypeError, map[string]string{"message": err.Error()})
		}
		return c.reply(req.ID, WSTypeAck, c.apply(set, req.GUIDs, req.Type == WSTypeSubscribe))
	case WSTypePing:
		return c.reply(req.ID, WSTypePong, nil)
	default:
		return c.reply(req.ID, WSTypeError, map[string]string{"message": "unknown message type: " + req.Type})
	}
}

func (c *wsClient) reply(id, typ string, payload any) bool {
	data, err := json.Marshal(WSMessage{Type: typ, ID: id, Payload: payload})
	if err != nil {
		return true
	}
	return c.enqueue(data)
}
