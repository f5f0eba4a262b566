// Package web is the browser-facing surface of the gateway: the dashcam
// REST endpoints and the /ws/dashcam/ WebSocket that relays live fMP4
// segments from the bus to clients.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"dashlink/internal/bus"
	"dashlink/internal/config"
	"dashlink/internal/service"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins in development, configure for production.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
	// Segments arrive every frame; a slow client gets a deep buffer,
	// and once it is full further segments are dropped.
	sendBufferSize = 512
)

// clientRequest is what browsers send on /ws/dashcam/.
type clientRequest struct {
	Action     string `json:"action"`
	Phone      string `json:"phone"` // an IMEI, despite the name
	Channel    byte   `json:"channel"`
	StreamType byte   `json:"stream_type"`
}

// VideoHandler upgrades browser connections and bridges them to the bus.
type VideoHandler struct {
	cfg     *config.Config
	bus     *bus.Bus
	catalog *service.DeviceCatalog
	conns   *service.ConnectionService
	streams *service.StreamService
}

// NewVideoHandler wires the WebSocket handler.
func NewVideoHandler(cfg *config.Config, b *bus.Bus, catalog *service.DeviceCatalog, conns *service.ConnectionService, streams *service.StreamService) *VideoHandler {
	return &VideoHandler{cfg: cfg, bus: b, catalog: catalog, conns: conns, streams: streams}
}

// Handle serves GET /ws/dashcam/.
func (h *VideoHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] Failed to upgrade connection: %v", err)
		return
	}

	client := &videoClient{
		id:      uuid.NewString(),
		handler: h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		subs:    make(map[string]*nats.Subscription),
	}
	log.Printf("[WS] Client %s connected", client.id)

	go client.writePump()
	client.readPump()
}

// videoClient is one browser connection. Each client owns its bus
// subscriptions; dropping the socket drops the subscriptions with it.
type videoClient struct {
	id      string
	handler *VideoHandler
	conn    *websocket.Conn
	send    chan []byte

	mu   sync.Mutex
	subs map[string]*nats.Subscription // identifier -> subscription
}

func (c *videoClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Client %s read error: %v", c.id, err)
			}
			return
		}

		var req clientRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.sendError("Invalid JSON message")
			continue
		}

		switch req.Action {
		case "get_devices":
			c.handleGetDevices()
		case "start_live":
			c.handleStartLive(&req)
		case "stop_live":
			c.handleStopLive(&req)
		default:
			c.sendError("Unknown action: " + req.Action)
		}
	}
}

func (c *videoClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *videoClient) close() {
	c.mu.Lock()
	for identifier, sub := range c.subs {
		sub.Unsubscribe()
		delete(c.subs, identifier)
	}
	c.mu.Unlock()
	c.conn.Close()
	log.Printf("[WS] Client %s disconnected", c.id)
}

func (c *videoClient) handleGetDevices() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conns, err := c.handler.conns.ListConnected(ctx)
	if err != nil {
		c.sendError("Failed to list devices")
		return
	}

	type deviceEntry struct {
		Identifier    string `json:"identifier"`
		Phone         string `json:"phone"`
		ConnectedAt   string `json:"connected_at"`
		LastHeartbeat string `json:"last_heartbeat"`
		IsStreaming   bool   `json:"is_streaming"`
		StreamChannel int    `json:"stream_channel"`
	}
	devices := make([]deviceEntry, 0, len(conns))
	for _, conn := range conns {
		entry := deviceEntry{
			Identifier: conn.Identifier,
			Phone:      conn.Phone,
		}
		if conn.ConnectedAt != nil {
			entry.ConnectedAt = conn.ConnectedAt.Format(time.RFC3339)
		}
		if conn.LastHeartbeat != nil {
			entry.LastHeartbeat = conn.LastHeartbeat.Format(time.RFC3339)
		}
		if streams, err := c.handler.streams.Streaming(ctx, conn.Identifier); err == nil && len(streams) > 0 {
			entry.IsStreaming = true
			entry.StreamChannel = streams[0].Channel
		}
		devices = append(devices, entry)
	}

	c.sendJSON(map[string]interface{}{
		"type":    "devices",
		"devices": devices,
	})
}

func (c *videoClient) handleStartLive(req *clientRequest) {
	if req.Phone == "" {
		c.sendError("Phone number required")
		return
	}
	channel := req.Channel
	if channel == 0 {
		channel = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Browsers address devices by IMEI; devices register with their own
	// identifier.
	identifier := c.handler.catalog.Resolve(ctx, req.Phone)

	if !c.deviceConnected(ctx, identifier) {
		log.Printf("[WS] start_live for %s: device not connected", identifier)
		c.sendError("Device not connected")
		return
	}

	if err := c.subscribeVideo(identifier, req.Phone); err != nil {
		log.Printf("[WS] Subscribe failed for %s: %v", identifier, err)
		c.sendError("Failed to subscribe to video stream")
		return
	}

	cmd := &bus.StreamCommand{
		Op:         bus.OpStart,
		Identifier: identifier,
		Channel:    channel,
		StreamType: req.StreamType,
		ServerIP:   c.handler.cfg.PublicIP,
		VideoPort:  c.handler.cfg.JT1078Port,
	}
	if err := c.handler.bus.PublishCommand(cmd); err != nil {
		log.Printf("[WS] Start command publish failed for %s: %v", identifier, err)
		c.sendError("Failed to send stream command")
		return
	}

	c.sendJSON(map[string]interface{}{
		"type":    "response",
		"action":  "start_live",
		"success": true,
		"phone":   req.Phone, // echo the IMEI the client used
		"channel": channel,
	})
	log.Printf("[WS] Client %s started live stream for %s ch%d", c.id, identifier, channel)
}

func (c *videoClient) handleStopLive(req *clientRequest) {
	if req.Phone == "" {
		c.sendError("Phone number required")
		return
	}
	channel := req.Channel
	if channel == 0 {
		channel = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	identifier := c.handler.catalog.Resolve(ctx, req.Phone)

	c.mu.Lock()
	if sub, ok := c.subs[identifier]; ok {
		sub.Unsubscribe()
		delete(c.subs, identifier)
	}
	c.mu.Unlock()

	cmd := &bus.StreamCommand{
		Op:         bus.OpStop,
		Identifier: identifier,
		Channel:    channel,
	}
	if err := c.handler.bus.PublishCommand(cmd); err != nil {
		log.Printf("[WS] Stop command publish failed for %s: %v", identifier, err)
	}

	c.sendJSON(map[string]interface{}{
		"type":    "response",
		"action":  "stop_live",
		"success": true,
		"phone":   req.Phone,
		"channel": channel,
	})
	log.Printf("[WS] Client %s stopped live stream for %s ch%d", c.id, identifier, channel)
}

// deviceConnected consults the Redis presence key first, then the
// connection row, so a lagging replica cannot hide a live device.
func (c *videoClient) deviceConnected(ctx context.Context, identifier string) bool {
	if c.handler.conns.IsPresent(ctx, identifier) {
		return true
	}
	conn, err := c.handler.conns.Get(ctx, identifier)
	return err == nil && conn.IsConnected
}

func (c *videoClient) subscribeVideo(identifier, imei string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[identifier]; ok {
		return nil // already watching this device
	}

	sub, err := c.handler.bus.SubscribeVideo(identifier, func(msg *bus.VideoMessage) {
		kind := "video"
		if msg.Kind == bus.KindInit {
			kind = "init_segment"
		}
		out := map[string]interface{}{
			"type":    kind,
			"phone":   imei,
			"channel": msg.Channel,
			"data":    msg.Payload, // []byte marshals as base64
		}
		if msg.Kind == bus.KindInit {
			out["codec"] = msg.Codec
		}
		data, err := json.Marshal(out)
		if err != nil {
			return
		}
		select {
		case c.send <- data:
		default:
			// Client cannot keep up; drop the segment rather than
			// buffer without bound.
		}
	})
	if err != nil {
		return err
	}
	c.subs[identifier] = sub
	return nil
}

func (c *videoClient) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *videoClient) sendError(message string) {
	c.sendJSON(map[string]interface{}{
		"type":    "error",
		"message": message,
	})
}
