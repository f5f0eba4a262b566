package web

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"dashlink/internal/config"
	"dashlink/internal/service"
)

// DashcamHandler serves the dashcam management REST endpoints.
type DashcamHandler struct {
	cfg     *config.Config
	catalog *service.DeviceCatalog
	conns   *service.ConnectionService
	streams *service.StreamService
	sms     service.SMSSender
}

// NewDashcamHandler wires the REST handler.
func NewDashcamHandler(cfg *config.Config, catalog *service.DeviceCatalog, conns *service.ConnectionService, streams *service.StreamService, sms service.SMSSender) *DashcamHandler {
	return &DashcamHandler{cfg: cfg, catalog: catalog, conns: conns, streams: streams, sms: sms}
}

// Register mounts the dashcam routes on the router group.
func (h *DashcamHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/dashcam/command/", h.SendCommand)
	rg.GET("/dashcam/devices/", h.ListDevices)
	rg.GET("/dashcam/status/:imei/", h.ConnectionStatus)
}

// SendCommand handles POST /dashcam/command/: format a provisioning SMS
// and hand it to the gateway.
func (h *DashcamHandler) SendCommand(c *gin.Context) {
	var req struct {
		IMEI   string `json:"imei"`
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.IMEI == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "IMEI is required"})
		return
	}
	if req.Action != "server_point" && req.Action != "reset" {
		c.JSON(http.StatusBadRequest, gin.H{"error": `Invalid action. Must be "server_point" or "reset"`})
		return
	}

	device, err := h.catalog.GetByIMEI(c.Request.Context(), req.IMEI)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}
	if device.Type != "dashcam" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Device is not a dashcam"})
		return
	}

	var message string
	if req.Action == "server_point" {
		message = service.BuildServerPointSMS(h.cfg.PublicIP, h.cfg.JT808Port)
	} else {
		message = service.BuildResetSMS()
	}

	if err := h.sms.Send(device.Phone, message); err != nil {
		log.Printf("[API] Failed to send %s command to %s: %v", req.Action, req.IMEI, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send SMS"})
		return
	}

	log.Printf("[API] Sent %s command to %s (%s)", req.Action, req.IMEI, device.Phone)
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"message":     req.Action + " command sent successfully",
		"imei":        req.IMEI,
		"phone":       device.Phone,
		"sms_message": message,
	})
}

// ListDevices handles GET /dashcam/devices/.
func (h *DashcamHandler) ListDevices(c *gin.Context) {
	devices, err := h.catalog.ListDashcams(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list devices"})
		return
	}
	c.JSON(http.StatusOK, devices)
}

// ConnectionStatus handles GET /dashcam/status/:imei/: the persisted
// connection row, the Redis presence key and the stream bookkeeping,
// merged into one view.
func (h *DashcamHandler) ConnectionStatus(c *gin.Context) {
	imei := c.Param("imei")
	ctx := c.Request.Context()

	device, err := h.catalog.GetByIMEI(ctx, imei)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}

	identifier := c.Param("imei")
	if device.SerialNumber != "" {
		identifier = device.SerialNumber
	}

	connection := gin.H{
		"is_connected":   false,
		"last_heartbeat": nil,
		"connected_at":   nil,
		"peer_ip":        nil,
	}
	if row, err := h.conns.Get(ctx, identifier); err == nil {
		connection["is_connected"] = row.IsConnected || h.conns.IsPresent(ctx, identifier)
		connection["last_heartbeat"] = row.LastHeartbeat
		connection["connected_at"] = row.ConnectedAt
		connection["peer_ip"] = row.PeerIP
	} else if h.conns.IsPresent(ctx, identifier) {
		connection["is_connected"] = true
	}

	connection["is_streaming"] = false
	connection["stream_channel"] = 0
	if streams, err := h.streams.Streaming(ctx, identifier); err == nil && len(streams) > 0 {
		connection["is_streaming"] = true
		connection["stream_channel"] = streams[0].Channel
	}

	c.JSON(http.StatusOK, gin.H{
		"imei": imei,
		"device_info": gin.H{
			"phone": device.Phone,
			"model": device.Model,
			"type":  device.Type,
		},
		"connection": connection,
	})
}
