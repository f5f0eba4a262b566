package web

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dashlink/internal/service"
)

// PositionHandler serves the persisted location fixes.
type PositionHandler struct {
	locations *service.LocationService
	catalog   *service.DeviceCatalog
}

// NewPositionHandler wires the position handler.
func NewPositionHandler(locations *service.LocationService, catalog *service.DeviceCatalog) *PositionHandler {
	return &PositionHandler{locations: locations, catalog: catalog}
}

// Register mounts the position routes on the router group.
func (h *PositionHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/dashcam/locations/:imei/", h.History)
	rg.GET("/dashcam/locations/:imei/latest/", h.Latest)
}

// History handles GET /dashcam/locations/:imei/?limit=N, newest first.
func (h *PositionHandler) History(c *gin.Context) {
	ctx := c.Request.Context()
	identifier := h.catalog.Resolve(ctx, c.Param("imei"))

	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	rows, err := h.locations.History(ctx, identifier, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query locations"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

// Latest handles GET /dashcam/locations/:imei/latest/.
func (h *PositionHandler) Latest(c *gin.Context) {
	ctx := c.Request.Context()
	identifier := h.catalog.Resolve(ctx, c.Param("imei"))

	row, err := h.locations.Latest(ctx, identifier)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No location recorded"})
		return
	}
	c.JSON(http.StatusOK, row)
}
