package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/emberwire/relay/internal/v0/registry"
)

// Handler manages health check endpoints.
type Handler struct {
	reg *registry.Registry
}

// NewHandler creates a new health check handler.
func NewHandler(reg *registry.Registry) *Handler {
	return &Handler{reg: reg}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string `json:"status"`
	Rooms     int    `json:"rooms"`
	Timestamp string `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint.
// GET /health/live
// Returns 200 if the process is alive (no dependency checks).
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles the readiness probe endpoint.
// GET /health/ready
// The relay has no external dependencies; readiness reports the in-memory
// room count so operators can see a warm process.
func (h *Handler) Readiness(c *gin.Context) {
	c.JSON(http.StatusOK, ReadinessResponse{
		Status:    "ready",
		Rooms:     h.reg.Len(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
