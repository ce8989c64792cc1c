package license

import (
	"context"
	"fmt"
	"strings"

	"github.com/Abmarne/tadreeblms/internal/models"
	"github.com/rs/zerolog"
)

// SyncResult aggregates the outcome of a full roster reconciliation.
type SyncResult struct {
	Success  bool     `json:"success"`
	Code     string   `json:"code,omitempty"`
	Message  string   `json:"message,omitempty"`
	Detached int      `json:"detached"`
	Created  int      `json:"created"`
	Attached int      `json:"attached"`
	Failed   int      `json:"failed"`
	Total    int      `json:"total"`
	Errors   []string `json:"errors,omitempty"`
}

// Reconciler makes the remote attached-user set match the local active-user
// roster, and keeps single user create/delete events mirrored remotely.
type Reconciler struct {
	store  Store
	client EntitlementClient
	logger zerolog.Logger
}

// NewReconciler creates a roster reconciler.
func NewReconciler(store Store, client EntitlementClient, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		client: client,
		logger: logger.With().Str("component", "roster").Logger(),
	}
}

// SyncAllUsers rebuilds the remote attachment set from scratch: every
// currently attached user is detached, then every locally active user is
// created (idempotently) and attached. Per-user failures are recorded and do
// not stop the batch. Intended for administrator-triggered resync; it is not
// safe against a roster mutating mid-run.
func (r *Reconciler) SyncAllUsers(ctx context.Context) *SyncResult {
	if !r.client.IsConfigured() {
		return &SyncResult{
			Code:    CodeNotConfigured,
			Message: "licensing server account and product are not configured",
		}
	}

	lic, err := r.store.GetActiveLicense(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("roster sync aborted, cannot read active license")
		return &SyncResult{Code: CodeNoLicense, Message: "cannot read active license"}
	}
	if lic == nil {
		return &SyncResult{Code: CodeNoLicense, Message: "no active license to sync against"}
	}
	remoteID := lic.RemoteLicenseID()
	if remoteID == "" {
		return &SyncResult{
			Code:    CodeNoLicense,
			Message: "active license has no remote identifier; revalidate first",
		}
	}

	users, err := r.store.GetActiveUsers(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("roster sync aborted, cannot read user roster")
		return &SyncResult{Code: "ROSTER_UNAVAILABLE", Message: "cannot read local user roster"}
	}

	result := &SyncResult{Total: len(users)}

	detached, err := r.client.DetachAllUsersFromLicense(ctx, remoteID)
	if err != nil {
		// Stale attachments are cleaned up on the next sync.
		r.logger.Warn().Err(err).Msg("failed to detach existing users before sync")
	}
	result.Detached = detached

	for _, user := range users {
		existed, err := r.createAndAttach(ctx, remoteID, user)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", user.Email, err))
			r.logger.Warn().Err(err).Str("email", user.Email).Msg("failed to sync user")
			continue
		}
		if existed {
			result.Attached++
		} else {
			result.Created++
		}
	}

	synced := result.Created + result.Attached
	result.Success = synced > 0 || result.Total == 0

	if err := r.client.SetUsage(ctx, remoteID, synced); err != nil {
		r.logger.Warn().Err(err).Int("synced", synced).Msg("failed to set remote usage counter after sync")
	}

	r.logger.Info().
		Int("total", result.Total).
		Int("created", result.Created).
		Int("attached", result.Attached).
		Int("failed", result.Failed).
		Int("detached", result.Detached).
		Msg("roster sync complete")
	return result
}

// OnUserCreated attaches a newly created local user to the active license.
// With no active license or an unconfigured client this is a successful
// no-op.
func (r *Reconciler) OnUserCreated(ctx context.Context, user *models.User) error {
	if !r.client.IsConfigured() {
		return nil
	}
	lic, err := r.store.GetActiveLicense(ctx)
	if err != nil {
		return fmt.Errorf("get active license: %w", err)
	}
	if lic == nil {
		return nil
	}
	remoteID := lic.RemoteLicenseID()
	if remoteID == "" {
		return nil
	}

	if _, err := r.createAndAttach(ctx, remoteID, user); err != nil {
		return fmt.Errorf("mirror created user %s: %w", user.Email, err)
	}
	if err := r.client.IncrementUsage(ctx, remoteID, 1); err != nil {
		r.logger.Warn().Err(err).Str("email", user.Email).Msg("failed to increment remote usage counter")
	}
	return nil
}

// OnUserDeleted removes the local user's remote counterpart by email. A user
// that never existed remotely is a successful no-op.
func (r *Reconciler) OnUserDeleted(ctx context.Context, user *models.User) error {
	if !r.client.IsConfigured() {
		return nil
	}
	if err := r.client.DeleteUserByEmail(ctx, user.Email); err != nil {
		return fmt.Errorf("mirror deleted user %s: %w", user.Email, err)
	}

	lic, err := r.store.GetActiveLicense(ctx)
	if err != nil || lic == nil {
		return nil
	}
	if remoteID := lic.RemoteLicenseID(); remoteID != "" {
		if err := r.client.DecrementUsage(ctx, remoteID); err != nil {
			r.logger.Warn().Err(err).Str("email", user.Email).Msg("failed to decrement remote usage counter")
		}
	}
	return nil
}

// createAndAttach creates the user on the licensing server (idempotent on an
// already-taken email) and attaches it to the license (idempotent on an
// existing attachment).
func (r *Reconciler) createAndAttach(ctx context.Context, remoteLicenseID string, user *models.User) (alreadyExisted bool, err error) {
	if strings.TrimSpace(user.Email) == "" {
		return false, fmt.Errorf("user %s has no email address", user.ID)
	}

	remote, existed, err := r.client.CreateUser(ctx, user.Email, user.FirstName, user.LastName)
	if err != nil {
		return false, fmt.Errorf("create remote user: %w", err)
	}
	if err := r.client.AttachUserToLicense(ctx, remoteLicenseID, remote.ID); err != nil {
		return existed, fmt.Errorf("attach remote user: %w", err)
	}
	return existed, nil
}
