package transport

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/emberwire/relay/internal/v0/control"
	"github.com/emberwire/relay/internal/v0/types"
)

// RequireVersion refuses control-plane requests whose version segment is
// not the supported protocol version.
func RequireVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Param("version") != APIVersion {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "version incompatible"})
			return
		}
		c.Next()
	}
}

// paramOrQuery reads a request parameter from the form body or the query
// string.
func paramOrQuery(c *gin.Context, key string) string {
	if v := c.PostForm(key); v != "" {
		return v
	}
	return c.Query(key)
}

// CreateServer allocates a room.
// POST /control/v0/createServer?limit=<n>&prefix=<p>
// 201 {"c": <tail>, "su": <owner secret>} on success; 429 at the cap.
func (h *Hub) CreateServer(c *gin.Context) {
	limit := -1
	if raw := paramOrQuery(c, "limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	prefix := paramOrQuery(c, "prefix")

	created, err := h.ctl.CreateRoom(limit, prefix, c.ClientIP())
	if err != nil {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": control.ErrOwnershipCap.Error()})
		return
	}
	c.JSON(http.StatusCreated, created)
}

// CloseServer authorizes by owner secret and tears the room down.
// DELETE /control/v0/closeServer?code=<code>&su=<secret>
// 200 on success, 401 on secret mismatch, 404 on unknown code.
func (h *Hub) CloseServer(c *gin.Context) {
	code := types.RoomCode(paramOrQuery(c, "code"))
	su := types.Secret(paramOrQuery(c, "su"))

	switch err := h.ctl.CloseRoom(code, su); {
	case errors.Is(err, control.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, control.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
