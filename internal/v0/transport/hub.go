// Package transport glues the relay's core to gin and gorilla/websocket:
// the session endpoint, the control plane, and the optional inspector.
package transport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/emberwire/relay/internal/v0/control"
	"github.com/emberwire/relay/internal/v0/logging"
	"github.com/emberwire/relay/internal/v0/metrics"
	"github.com/emberwire/relay/internal/v0/ratelimit"
	"github.com/emberwire/relay/internal/v0/registry"
	"github.com/emberwire/relay/internal/v0/session"
	"github.com/emberwire/relay/internal/v0/types"
)

// APIVersion is the protocol version this relay speaks. Requests carrying
// any other version segment are refused.
const APIVersion = "v0"

// Hub wires inbound connections to the room registry and the control plane.
type Hub struct {
	reg      *registry.Registry
	ctl      *control.Control
	limiter  *ratelimit.HTTPLimiter
	upgrader websocket.Upgrader
}

// NewHub creates a Hub with its dependencies.
func NewHub(reg *registry.Registry, ctl *control.Control, limiter *ratelimit.HTTPLimiter) *Hub {
	return &Hub{
		reg:     reg,
		ctl:     ctl,
		limiter: limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Sessions authenticate with per-room secrets; any origin may
			// connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes installs the hub's endpoints on the router.
func (h *Hub) RegisterRoutes(router *gin.Engine, enableInspect bool) {
	router.GET("/ws/:version", h.ServeWs)

	ctl := router.Group("/control/:version", RequireVersion(), h.limiter.Middleware())
	{
		ctl.POST("/createServer", h.CreateServer)
		ctl.DELETE("/closeServer", h.CloseServer)
	}

	if enableInspect {
		router.GET("/inspect", h.Inspect)
	}
}

// ServeWs upgrades to WebSocket and runs the session-open state machine.
// Refusals surface as application close causes after the upgrade, so
// clients always learn why they were turned away.
func (h *Hub) ServeWs(c *gin.Context) {
	if !h.limiter.CheckWebSocket(c) {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn)
	go client.writePump()

	if c.Param("version") != APIVersion {
		client.Close(types.CloseBreakingAPIChange)
		return
	}

	query := c.Request.URL.Query()
	_, hasName := query["name"]
	_, hasSu := query["su"]

	machine := session.New(h.reg, client)
	err = machine.Open(session.OpenRequest{
		Code:       types.RoomCode(query.Get("code")),
		Name:       types.ParticipantName(query.Get("name")),
		HasName:    hasName,
		Su:         types.Secret(query.Get("su")),
		HasSu:      hasSu,
		RemoteAddr: c.ClientIP(),
	})
	if err != nil {
		var refusal *types.RefusalError
		if errors.As(err, &refusal) {
			client.Close(refusal.Code)
		} else {
			client.Close(types.CloseBreakingAPIChange)
		}
		return
	}

	metrics.IncSession()
	go client.readPump(machine)
}

// Inspect returns a JSON summary of every active room.
// GET /inspect — enabled by configuration; it carries no authentication,
// so production deployments leave it off.
func (h *Hub) Inspect(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.reg.Snapshot()})
}
