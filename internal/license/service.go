// Package license implements the license lifecycle: activation against the
// remote licensing authority, periodic revalidation with grace-period
// degradation, quota enforcement, and roster reconciliation.
package license

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Abmarne/tadreeblms/internal/config"
	"github.com/Abmarne/tadreeblms/internal/crypto"
	"github.com/Abmarne/tadreeblms/internal/keygen"
	"github.com/Abmarne/tadreeblms/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store is the persistence surface the lifecycle needs.
type Store interface {
	GetActiveLicense(ctx context.Context) (*models.License, error)
	ActivateLicense(ctx context.Context, lic *models.License) error
	UpdateLicense(ctx context.Context, lic *models.License) error
	DeactivateLicense(ctx context.Context, id uuid.UUID) error
	CountActiveUsers(ctx context.Context) (int, error)
	GetActiveUsers(ctx context.Context) ([]*models.User, error)
}

// EntitlementClient is the remote licensing authority surface the lifecycle
// and roster reconciliation need.
type EntitlementClient interface {
	IsConfigured() bool
	ValidateKey(ctx context.Context, key string) (*keygen.ValidationResult, error)
	CreateUser(ctx context.Context, email, firstName, lastName string) (user *keygen.RemoteUser, alreadyExisted bool, err error)
	AttachUserToLicense(ctx context.Context, licenseID, userID string) error
	DetachAllUsersFromLicense(ctx context.Context, licenseID string) (int, error)
	DeleteUserByEmail(ctx context.Context, email string) error
	IncrementUsage(ctx context.Context, licenseID string, amount int) error
	DecrementUsage(ctx context.Context, licenseID string) error
	SetUsage(ctx context.Context, licenseID string, n int) error
}

// Result codes surfaced to callers on lifecycle failures.
const (
	CodeNotConfigured      = "NOT_CONFIGURED"
	CodeConnectionError    = "CONNECTION_ERROR"
	CodeNoLicense          = "NO_LICENSE"
	CodeValidationRequired = "VALIDATION_REQUIRED"
)

// ActivateResult reports the outcome of an activation attempt.
type ActivateResult struct {
	Success bool            `json:"success"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	License *models.License `json:"license,omitempty"`
	Sync    *SyncResult     `json:"sync,omitempty"`
}

// RevalidateResult reports the outcome of a revalidation. Cached means the
// remote authority was unreachable and the stored license was served from
// within its grace period.
type RevalidateResult struct {
	Success bool            `json:"success"`
	Cached  bool            `json:"cached"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	License *models.License `json:"license,omitempty"`
}

// Service orchestrates license activation, revalidation and removal. Remote
// rejections come back as structured results; only storage failures are
// returned as errors.
type Service struct {
	store  Store
	client EntitlementClient
	keys   *crypto.KeyManager
	cfg    *config.KeygenConfig
	roster *Reconciler
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a license lifecycle service. keys may be nil, in which
// case license keys are stored in plaintext.
func NewService(store Store, client EntitlementClient, keys *crypto.KeyManager, cfg *config.KeygenConfig, roster *Reconciler, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		client: client,
		keys:   keys,
		cfg:    cfg,
		roster: roster,
		logger: logger.With().Str("component", "license").Logger(),
		now:    time.Now,
	}
}

// Current returns the active license with its key decrypted, or nil if no
// license is active.
func (s *Service) Current(ctx context.Context) (*models.License, error) {
	lic, err := s.store.GetActiveLicense(ctx)
	if err != nil {
		return nil, fmt.Errorf("get active license: %w", err)
	}
	if lic == nil {
		return nil, nil
	}
	lic.LicenseKey = s.decryptKey(lic.LicenseKey)
	return lic, nil
}

// Activate validates a key against the remote authority and, on acceptance,
// makes it the single active license. The remote authority must be reachable:
// a key is never accepted on first use without its say. A successful
// activation reconciles the full roster as a side effect.
func (s *Service) Activate(ctx context.Context, key string) (*ActivateResult, error) {
	if !s.client.IsConfigured() {
		return &ActivateResult{
			Success: false,
			Code:    CodeNotConfigured,
			Message: "licensing server account and product are not configured",
		}, nil
	}

	validation, err := s.client.ValidateKey(ctx, key)
	if err != nil {
		if keygen.IsConnectionError(err) {
			s.logger.Warn().Err(err).Msg("activation failed, licensing server unreachable")
			return &ActivateResult{
				Success: false,
				Code:    CodeConnectionError,
				Message: "could not reach the licensing server to validate the key",
			}, nil
		}
		return nil, fmt.Errorf("validate key: %w", err)
	}

	if !validation.Valid {
		s.logger.Info().Str("code", validation.Code).Msg("license key rejected")
		return &ActivateResult{
			Success: false,
			Code:    validation.Code,
			Message: rejectionMessage(validation),
		}, nil
	}

	now := s.now()
	lic := licenseFromValidation(validation, now)
	lic.LicenseKey = s.encryptKey(key)

	if err := s.store.ActivateLicense(ctx, lic); err != nil {
		return nil, fmt.Errorf("persist activated license: %w", err)
	}

	s.logger.Info().
		Str("license_id", lic.ID.String()).
		Str("masked_key", lic.MaskedKey()).
		Str("licensed_to", lic.LicensedTo).
		Msg("license activated")

	result := &ActivateResult{Success: true, License: lic}
	if s.roster != nil {
		result.Sync = s.roster.SyncAllUsers(ctx)
	}
	return result, nil
}

// Revalidate re-checks the active license against the remote authority. On a
// connection failure the stored license is served unchanged while its grace
// period holds; past the grace period the caller gets VALIDATION_REQUIRED and
// the stored status is left untouched.
func (s *Service) Revalidate(ctx context.Context) (*RevalidateResult, error) {
	lic, err := s.store.GetActiveLicense(ctx)
	if err != nil {
		return nil, fmt.Errorf("get active license: %w", err)
	}
	if lic == nil {
		return &RevalidateResult{
			Success: false,
			Code:    CodeNoLicense,
			Message: "no active license to revalidate",
		}, nil
	}

	key := s.decryptKey(lic.LicenseKey)
	now := s.now()

	validation, err := s.client.ValidateKey(ctx, key)
	if err != nil {
		if !keygen.IsConnectionError(err) {
			return nil, fmt.Errorf("validate key: %w", err)
		}
		if lic.WithinGracePeriod(now, s.cfg.GracePeriod) {
			s.logger.Warn().Err(err).
				Str("license_id", lic.ID.String()).
				Msg("licensing server unreachable, serving cached license within grace period")
			lic.LicenseKey = key
			return &RevalidateResult{Success: true, Cached: true, License: lic}, nil
		}
		s.logger.Error().Err(err).
			Str("license_id", lic.ID.String()).
			Msg("licensing server unreachable and grace period expired")
		return &RevalidateResult{
			Success: false,
			Code:    CodeValidationRequired,
			Message: "license could not be revalidated and the offline grace period has expired",
		}, nil
	}

	applyValidation(lic, validation, now)
	if err := s.store.UpdateLicense(ctx, lic); err != nil {
		return nil, fmt.Errorf("persist revalidated license: %w", err)
	}

	s.logger.Info().
		Str("license_id", lic.ID.String()).
		Str("status", string(lic.Status)).
		Bool("valid", validation.Valid).
		Msg("license revalidated")

	lic.LicenseKey = key
	result := &RevalidateResult{Success: validation.Valid, License: lic}
	if !validation.Valid {
		result.Code = validation.Code
		result.Message = rejectionMessage(validation)
	}
	return result, nil
}

// Remove deactivates the active license, best-effort detaching all attached
// users on the remote side first. Returns false if no license was active;
// removal is idempotent.
func (s *Service) Remove(ctx context.Context) (bool, error) {
	lic, err := s.store.GetActiveLicense(ctx)
	if err != nil {
		return false, fmt.Errorf("get active license: %w", err)
	}
	if lic == nil {
		return false, nil
	}

	if remoteID := lic.RemoteLicenseID(); remoteID != "" && s.client.IsConfigured() {
		if detached, err := s.client.DetachAllUsersFromLicense(ctx, remoteID); err != nil {
			s.logger.Warn().Err(err).
				Str("license_id", lic.ID.String()).
				Msg("failed to detach users during license removal")
		} else {
			s.logger.Info().Int("detached", detached).Msg("detached users from removed license")
		}
	}

	if err := s.store.DeactivateLicense(ctx, lic.ID); err != nil {
		return false, fmt.Errorf("deactivate license: %w", err)
	}

	s.logger.Info().Str("license_id", lic.ID.String()).Msg("license removed")
	return true, nil
}

// NeedsRevalidation reports whether the active license is due for a remote
// re-check. Used by the periodic sweep to avoid redundant calls; an explicit
// Revalidate always re-checks.
func (s *Service) NeedsRevalidation(ctx context.Context) (bool, error) {
	lic, err := s.store.GetActiveLicense(ctx)
	if err != nil {
		return false, fmt.Errorf("get active license: %w", err)
	}
	if lic == nil {
		return false, nil
	}
	return lic.NeedsRevalidation(s.now(), s.cfg.RevalidationInterval), nil
}

func (s *Service) encryptKey(key string) string {
	if s.keys == nil {
		return key
	}
	encrypted, err := s.keys.EncryptString(key)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encrypt license key, storing raw")
		return key
	}
	return encrypted
}

func (s *Service) decryptKey(stored string) string {
	if s.keys == nil {
		return stored
	}
	return s.keys.DecryptStringOrRaw(stored)
}

// licenseFromValidation builds a fresh license record from an accepted
// validation.
func licenseFromValidation(v *keygen.ValidationResult, now time.Time) *models.License {
	lic := &models.License{
		ID:       uuid.New(),
		IsActive: true,
	}
	applyValidation(lic, v, now)
	return lic
}

// applyValidation refreshes the validation-derived fields of a license. The
// status always follows the remote answer, but fields the payload does not
// supply keep their stored values: a rejection carries no data block, and
// wiping max_users to nil would silently lift the seat quota.
func applyValidation(lic *models.License, v *keygen.ValidationResult, now time.Time) {
	lic.Status = v.Status
	if v.MaxUsers != nil {
		lic.MaxUsers = v.MaxUsers
	}
	if v.LicenseType != "" {
		lic.LicenseType = v.LicenseType
	}
	if v.LicensedTo != "" {
		lic.LicensedTo = v.LicensedTo
	}
	if v.LicenseeEmail != "" {
		lic.LicenseeEmail = v.LicenseeEmail
	}
	if v.ExpiryDate != nil {
		lic.ExpiryDate = v.ExpiryDate
	}
	if v.SupportValidUntil != nil {
		lic.SupportValidUntil = v.SupportValidUntil
	}
	if v.Metadata != nil {
		lic.Metadata = v.Metadata
	}
	// The snapshot is only replaced when the new payload identifies the
	// remote license (or nothing does yet); Remove and roster sync recover
	// the remote identifier from it.
	if v.LicenseID != "" || lic.RemoteLicenseID() == "" {
		lic.ValidationResponse = json.RawMessage(v.RawResponse)
	}
	validatedAt := now
	lic.LastValidatedAt = &validatedAt
}

func rejectionMessage(v *keygen.ValidationResult) string {
	if v.Detail != "" {
		return v.Detail
	}
	switch v.Status {
	case models.LicenseStatusExpired:
		return "the license has expired"
	case models.LicenseStatusRevoked:
		return "the license has been revoked or suspended"
	default:
		return "the license key is not valid for this product"
	}
}
