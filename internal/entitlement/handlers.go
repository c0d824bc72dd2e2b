package entitlement

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"deepsentinel/internal/tier"
)

// Handler provides HTTP endpoints for tier and entitlement operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new entitlement handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) tier catalog routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tiers", h.ListTiers)
	r.GET("/tiers/:tier", h.GetTier)
}

// RegisterProtectedRoutes sets up protected (auth-required) entitlement routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/users/:userID/entitlement", h.GetEntitlement)
	r.GET("/users/:userID/features/:feature", h.CheckFeature)
	r.GET("/users/:userID/limit", h.CheckDailyLimit)
	r.POST("/users/:userID/usage", h.RecordUsage)
	r.GET("/users/:userID/api-access", h.ValidateAPIAccess)
	r.GET("/users/:userID/upgrades", h.ListUpgrades)
	r.POST("/users/:userID/upgrades/recommend", h.RecommendUpgrade)
}

// RegisterAdminRoutes sets up admin-only entitlement routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/users/:userID/tier", h.GrantTier)
	r.POST("/users/:userID/deactivate", h.Deactivate)
}

// requireOwner verifies the authenticated user matches the userID parameter.
// Returns the userID and true when the call may proceed.
func requireOwner(c *gin.Context) (string, bool) {
	userID := c.Param("userID")
	if caller := c.GetString("authUserID"); caller != userID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "API key is not bound to this user",
		})
		return "", false
	}
	return userID, true
}

// ListTiers handles GET /v1/tiers
func (h *Handler) ListTiers(c *gin.Context) {
	defs := h.service.Catalog().List()
	c.JSON(http.StatusOK, gin.H{
		"tiers": defs,
		"count": len(defs),
	})
}

// GetTier handles GET /v1/tiers/:tier
func (h *Handler) GetTier(c *gin.Context) {
	def, err := h.service.Catalog().Get(tier.ID(c.Param("tier")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "unknown_tier",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tier": def})
}

// GetEntitlement handles GET /v1/users/:userID/entitlement
func (h *Handler) GetEntitlement(c *gin.Context) {
	userID, ok := requireOwner(c)
	if !ok {
		return
	}

	e, err := h.service.GetEntitlement(c.Request.Context(), userID)
	if err != nil {
		if err == ErrUserNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No entitlement found for this user",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entitlement": e})
}

// CheckFeature handles GET /v1/users/:userID/features/:feature
func (h *Handler) CheckFeature(c *gin.Context) {
	userID, ok := requireOwner(c)
	if !ok {
		return
	}

	feature := c.Param("feature")
	has, err := h.service.CheckFeature(c.Request.Context(), userID, feature)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"feature": feature,
		"allowed": has,
	})
}

// CheckDailyLimit handles GET /v1/users/:userID/limit
func (h *Handler) CheckDailyLimit(c *gin.Context) {
	userID, ok := requireOwner(c)
	if !ok {
		return
	}

	status, err := h.service.CheckDailyLimit(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, status)
}

// RecordUsage handles POST /v1/users/:userID/usage
func (h *Handler) RecordUsage(c *gin.Context) {
	userID, ok := requireOwner(c)
	if !ok {
		return
	}

	count, err := h.service.RecordUsage(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"analysesToday": count})
}

// ValidateAPIAccess handles GET /v1/users/:userID/api-access?window=hourly|daily
func (h *Handler) ValidateAPIAccess(c *gin.Context) {
	userID, ok := requireOwner(c)
	if !ok {
		return
	}

	w, valid := ParseWindow(c.DefaultQuery("window", string(WindowHourly)))
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "window must be hourly or daily",
		})
		return
	}

	status, err := h.service.ValidateAPIAccess(c.Request.Context(), userID, w)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, status)
}

// ListUpgrades handles GET /v1/users/:userID/upgrades
func (h *Handler) ListUpgrades(c *gin.Context) {
	userID, ok := requireOwner(c)
	if !ok {
		return
	}

	upgrades, err := h.service.ListUpgrades(c.Request.Context(), userID)
	if err != nil {
		if err == ErrUserNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No entitlement found for this user",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"upgrades": upgrades,
		"count":    len(upgrades),
	})
}

// RecommendUpgrade handles POST /v1/users/:userID/upgrades/recommend
func (h *Handler) RecommendUpgrade(c *gin.Context) {
	userID, ok := requireOwner(c)
	if !ok {
		return
	}

	var req struct {
		Features []string `json:"features"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Features) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Features list is required",
		})
		return
	}

	def, err := h.service.RecommendUpgrade(c.Request.Context(), userID, req.Features)
	if err != nil {
		if err == ErrUserNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No entitlement found for this user",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	if def == nil {
		c.JSON(http.StatusOK, gin.H{"recommendation": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommendation": def})
}

// GrantTier handles POST /v1/admin/users/:userID/tier
func (h *Handler) GrantTier(c *gin.Context) {
	userID := c.Param("userID")

	var req struct {
		Tier      string     `json:"tier"`
		GrantedBy string     `json:"grantedBy"`
		ExpiresAt *time.Time `json:"expiresAt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Tier == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Tier is required",
		})
		return
	}

	e, err := h.service.GrantTier(c.Request.Context(), userID, tier.ID(req.Tier), req.GrantedBy, req.ExpiresAt)
	if err != nil {
		if errors.Is(err, tier.ErrUnknownTier) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "unknown_tier",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"entitlement": e})
}

// Deactivate handles POST /v1/admin/users/:userID/deactivate
func (h *Handler) Deactivate(c *gin.Context) {
	userID := c.Param("userID")

	e, err := h.service.Deactivate(c.Request.Context(), userID)
	if err != nil {
		if err == ErrUserNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No entitlement found for this user",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"entitlement": e})
}
