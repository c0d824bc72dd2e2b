// Package dashboard provides JSON API endpoints for layer analytics.
package dashboard

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"deepsentinel/internal/entitlement"
	"deepsentinel/internal/pagination"
	"deepsentinel/internal/tier"
)

// HubStats exposes realtime hub counters without importing the hub package.
type HubStats interface {
	Stats() map[string]interface{}
}

// Handler provides dashboard API endpoints.
type Handler struct {
	service *entitlement.Service
	hub     HubStats
}

// NewHandler creates a new dashboard handler. hub may be nil.
func NewHandler(service *entitlement.Service, hub HubStats) *Handler {
	return &Handler{service: service, hub: hub}
}

// RegisterRoutes sets up dashboard routes under the given group.
// Routes are admin-scoped (enforced by caller middleware).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/dashboard/layers/:tier", h.Layer)
	r.GET("/dashboard/overview", h.Overview)
	r.GET("/dashboard/realtime", h.Realtime)
}

// Layer returns the per-layer dashboard: tier config, members, and aggregate
// metrics. The member list is cursor-paginated, oldest grant first.
func (h *Handler) Layer(c *gin.Context) {
	ctx := c.Request.Context()
	id := tier.ID(c.Param("tier"))

	limit := parseLimit(c, 50, 500)
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": "Cursor is malformed"})
		return
	}

	d, err := h.service.LayerDashboard(ctx, id)
	if err != nil {
		if _, notFound := h.service.Catalog().Get(id); notFound != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown_tier", "message": notFound.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	users := d.Users
	sort.Slice(users, func(i, j int) bool {
		if !users[i].GrantedAt.Equal(users[j].GrantedAt) {
			return users[i].GrantedAt.Before(users[j].GrantedAt)
		}
		return users[i].UserID < users[j].UserID
	})

	if cursor != nil {
		idx := sort.Search(len(users), func(i int) bool {
			if !users[i].GrantedAt.Equal(cursor.GrantedAt) {
				return users[i].GrantedAt.After(cursor.GrantedAt)
			}
			return users[i].UserID > cursor.UserID
		})
		users = users[idx:]
	}
	if len(users) > limit+1 {
		users = users[:limit+1]
	}

	page, next, hasMore := pagination.ComputePage(users, limit, func(u entitlement.LayerUser) (time.Time, string) {
		return u.GrantedAt, u.UserID
	})

	c.JSON(http.StatusOK, gin.H{
		"config":     d.Config,
		"users":      page,
		"count":      len(page),
		"metrics":    d.Metrics,
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

// Overview returns cross-layer totals: user distribution, monthly revenue,
// and aggregate activity.
func (h *Handler) Overview(c *gin.Context) {
	ov, err := h.service.Overview(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, ov)
}

// Realtime returns WebSocket hub statistics.
func (h *Handler) Realtime(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusOK, gin.H{"connectedClients": 0})
		return
	}
	c.JSON(http.StatusOK, h.hub.Stats())
}

func parseLimit(c *gin.Context, defaultVal, maxVal int) int {
	limit := defaultVal
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxVal {
		limit = maxVal
	}
	return limit
}
