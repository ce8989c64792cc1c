package handlers

import (
	"context"
	"net/http"

	"github.com/Abmarne/tadreeblms/internal/license"
	"github.com/Abmarne/tadreeblms/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// UserStore defines the user persistence operations the handler needs.
type UserStore interface {
	GetActiveUsers(ctx context.Context) ([]*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	DeactivateUser(ctx context.Context, id uuid.UUID) error
}

// AdmissionService gates user creation on the license seat quota.
type AdmissionService interface {
	CanCreateUser(ctx context.Context) (*license.AdmissionDecision, error)
}

// RosterHooks mirrors single-user changes to the licensing server.
type RosterHooks interface {
	OnUserCreated(ctx context.Context, user *models.User) error
	OnUserDeleted(ctx context.Context, user *models.User) error
}

// UsersHandler handles user HTTP endpoints. Creation is gated by the license
// seat quota, and create/delete events are mirrored to the licensing server.
type UsersHandler struct {
	store     UserStore
	admission AdmissionService
	roster    RosterHooks
	logger    zerolog.Logger
}

// NewUsersHandler creates a new UsersHandler.
func NewUsersHandler(store UserStore, admission AdmissionService, roster RosterHooks, logger zerolog.Logger) *UsersHandler {
	return &UsersHandler{
		store:     store,
		admission: admission,
		roster:    roster,
		logger:    logger.With().Str("component", "users_handler").Logger(),
	}
}

// RegisterRoutes registers user routes on the given router group.
func (h *UsersHandler) RegisterRoutes(r *gin.RouterGroup) {
	users := r.Group("/users")
	{
		users.GET("", h.List)
		users.POST("", h.Create)
		users.DELETE("/:id", h.Delete)
	}
}

// CreateUserRequest is the request body for user creation.
type CreateUserRequest struct {
	Email     string `json:"email" binding:"required,email"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name"`
	IsAdmin   bool   `json:"is_admin"`
}

// List returns all active users.
// GET /api/v1/users
func (h *UsersHandler) List(c *gin.Context) {
	users, err := h.store.GetActiveUsers(c.Request.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

// Create adds a user if the license quota admits one. The admission check is
// advisory under concurrency; simultaneous requests can jointly overshoot
// the quota.
// POST /api/v1/users
func (h *UsersHandler) Create(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and first_name are required"})
		return
	}

	ctx := c.Request.Context()

	decision, err := h.admission.CanCreateUser(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("admission check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check seat quota"})
		return
	}
	if !decision.Allowed {
		c.JSON(http.StatusForbidden, gin.H{
			"error":        decision.Reason,
			"active_users": decision.ActiveUsers,
			"max_users":    decision.MaxUsers,
		})
		return
	}

	if existing, err := h.store.GetUserByEmail(ctx, req.Email); err == nil && existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "a user with this email already exists"})
		return
	}

	user := models.NewUser(req.Email, req.FirstName, req.LastName)
	user.IsAdmin = req.IsAdmin
	if err := h.store.CreateUser(ctx, user); err != nil {
		h.logger.Error().Err(err).Str("email", req.Email).Msg("failed to create user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	// The licensing server is eventually reconciled; a failed mirror does not
	// undo the local create.
	if err := h.roster.OnUserCreated(ctx, user); err != nil {
		h.logger.Warn().Err(err).Str("email", user.Email).
			Msg("failed to mirror user to licensing server")
	}

	c.JSON(http.StatusCreated, user)
}

// Delete deactivates a user and removes its licensing-server counterpart.
// DELETE /api/v1/users/:id
func (h *UsersHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	ctx := c.Request.Context()

	user, err := h.store.GetUserByID(ctx, id)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", id.String()).Msg("failed to read user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read user"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if err := h.store.DeactivateUser(ctx, id); err != nil {
		h.logger.Error().Err(err).Str("user_id", id.String()).Msg("failed to deactivate user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deactivate user"})
		return
	}

	if err := h.roster.OnUserDeleted(ctx, user); err != nil {
		h.logger.Warn().Err(err).Str("email", user.Email).
			Msg("failed to remove user from licensing server")
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
