package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/Abmarne/tadreeblms/internal/license"
	"github.com/Abmarne/tadreeblms/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// LifecycleService defines the license lifecycle operations exposed over the
// admin API.
type LifecycleService interface {
	Activate(ctx context.Context, key string) (*license.ActivateResult, error)
	Revalidate(ctx context.Context) (*license.RevalidateResult, error)
	Remove(ctx context.Context) (bool, error)
	Current(ctx context.Context) (*models.License, error)
}

// QuotaService reports seat usage under the active license.
type QuotaService interface {
	UsageStats(ctx context.Context) (*license.UsageStats, error)
}

// RosterService triggers a full roster reconciliation.
type RosterService interface {
	SyncAllUsers(ctx context.Context) *license.SyncResult
}

// LicenseHandler handles license HTTP endpoints.
type LicenseHandler struct {
	lifecycle LifecycleService
	quota     QuotaService
	roster    RosterService
	logger    zerolog.Logger
}

// NewLicenseHandler creates a new LicenseHandler.
func NewLicenseHandler(lifecycle LifecycleService, quota QuotaService, roster RosterService, logger zerolog.Logger) *LicenseHandler {
	return &LicenseHandler{
		lifecycle: lifecycle,
		quota:     quota,
		roster:    roster,
		logger:    logger.With().Str("component", "license_handler").Logger(),
	}
}

// RegisterRoutes registers license routes on the given router group.
func (h *LicenseHandler) RegisterRoutes(r *gin.RouterGroup) {
	lic := r.Group("/license")
	{
		lic.GET("", h.Status)
		lic.POST("/activate", h.Activate)
		lic.POST("/revalidate", h.Revalidate)
		lic.POST("/sync", h.Sync)
		lic.GET("/usage", h.Usage)
		lic.DELETE("", h.Remove)
	}
}

// ActivateRequest is the request body for license activation.
type ActivateRequest struct {
	LicenseKey string `json:"license_key" binding:"required"`
}

// LicenseStatusResponse describes the active license for display. The raw
// key never leaves the server; only the masked form does.
type LicenseStatusResponse struct {
	HasLicense bool                `json:"has_license"`
	License    *licenseView        `json:"license,omitempty"`
	Usage      *license.UsageStats `json:"usage,omitempty"`
}

type licenseView struct {
	ID                string     `json:"id"`
	MaskedKey         string     `json:"masked_key"`
	Status            string     `json:"status"`
	MaxUsers          *int       `json:"max_users"`
	LicenseType       string     `json:"license_type"`
	LicensedTo        string     `json:"licensed_to"`
	LicenseeEmail     string     `json:"licensee_email,omitempty"`
	ExpiryDate        *time.Time `json:"expiry_date"`
	SupportValidUntil *time.Time `json:"support_valid_until"`
	LastValidatedAt   *time.Time `json:"last_validated_at"`
	Usable            bool       `json:"usable"`
}

func viewOf(lic *models.License) *licenseView {
	return &licenseView{
		ID:                lic.ID.String(),
		MaskedKey:         lic.MaskedKey(),
		Status:            string(lic.Status),
		MaxUsers:          lic.MaxUsers,
		LicenseType:       lic.LicenseType,
		LicensedTo:        lic.LicensedTo,
		LicenseeEmail:     lic.LicenseeEmail,
		ExpiryDate:        lic.ExpiryDate,
		SupportValidUntil: lic.SupportValidUntil,
		LastValidatedAt:   lic.LastValidatedAt,
		Usable:            lic.IsUsable(time.Now()),
	}
}

// Status returns the active license and current seat usage.
// GET /api/v1/license
func (h *LicenseHandler) Status(c *gin.Context) {
	lic, err := h.lifecycle.Current(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read license")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read license"})
		return
	}

	resp := LicenseStatusResponse{HasLicense: lic != nil}
	if lic != nil {
		resp.License = viewOf(lic)
	}
	if usage, err := h.quota.UsageStats(c.Request.Context()); err == nil {
		resp.Usage = usage
	}
	c.JSON(http.StatusOK, resp)
}

// Activate validates a key against the licensing server and makes it the
// active license.
// POST /api/v1/license/activate
func (h *LicenseHandler) Activate(c *gin.Context) {
	var req ActivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "license_key is required"})
		return
	}

	result, err := h.lifecycle.Activate(c.Request.Context(), req.LicenseKey)
	if err != nil {
		h.logger.Error().Err(err).Msg("activation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store license"})
		return
	}
	if !result.Success {
		c.JSON(http.StatusUnprocessableEntity, result)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"license": viewOf(result.License),
		"sync":    result.Sync,
	})
}

// Revalidate re-checks the active license against the licensing server.
// POST /api/v1/license/revalidate
func (h *LicenseHandler) Revalidate(c *gin.Context) {
	result, err := h.lifecycle.Revalidate(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("revalidation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update license"})
		return
	}

	resp := gin.H{
		"success": result.Success,
		"cached":  result.Cached,
	}
	if result.Code != "" {
		resp["code"] = result.Code
		resp["message"] = result.Message
	}
	if result.License != nil {
		resp["license"] = viewOf(result.License)
	}

	if !result.Success && result.Code == license.CodeNoLicense {
		c.JSON(http.StatusNotFound, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Sync reconciles the remote attached-user set with the local roster.
// POST /api/v1/license/sync
func (h *LicenseHandler) Sync(c *gin.Context) {
	result := h.roster.SyncAllUsers(c.Request.Context())
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, result)
}

// Usage returns current seat consumption under the active license.
// GET /api/v1/license/usage
func (h *LicenseHandler) Usage(c *gin.Context) {
	stats, err := h.quota.UsageStats(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read usage")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read usage"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Remove deactivates the active license.
// DELETE /api/v1/license
func (h *LicenseHandler) Remove(c *gin.Context) {
	removed, err := h.lifecycle.Remove(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("removal failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove license"})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"removed": false, "message": "no active license"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": true})
}
