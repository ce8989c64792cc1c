// Package maintenance runs the periodic license checks: revalidation against
// the licensing server, expiry warnings, and seat-limit alerts.
package maintenance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Abmarne/tadreeblms/internal/license"
	"github.com/Abmarne/tadreeblms/internal/models"
	"github.com/Abmarne/tadreeblms/internal/notifications"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// expiryWarningDays is how far ahead of the expiry date administrators are
// warned.
const expiryWarningDays = 30

// LifecycleService is the license lifecycle surface the scheduler drives.
type LifecycleService interface {
	NeedsRevalidation(ctx context.Context) (bool, error)
	Revalidate(ctx context.Context) (*license.RevalidateResult, error)
	Current(ctx context.Context) (*models.License, error)
}

// QuotaService reports seat usage under the active license.
type QuotaService interface {
	UsageStats(ctx context.Context) (*license.UsageStats, error)
}

// AdminDirectory resolves notification recipients.
type AdminDirectory interface {
	GetAdminEmails(ctx context.Context) ([]string, error)
}

// Mailer sends license notification emails.
type Mailer interface {
	SendLicenseExpiry(to []string, data notifications.LicenseExpiryData) error
	SendUserLimit(to []string, data notifications.UserLimitData) error
}

// Scheduler runs the periodic license jobs: an hourly revalidation sweep and
// daily expiry and seat-limit checks.
type Scheduler struct {
	lifecycle LifecycleService
	quota     QuotaService
	admins    AdminDirectory
	mailer    Mailer
	cron      *cron.Cron
	logger    zerolog.Logger
	now       func() time.Time
	mu        sync.Mutex
	running   bool
}

// NewScheduler creates a license maintenance scheduler. mailer may be nil, in
// which case checks run but notifications are skipped.
func NewScheduler(lifecycle LifecycleService, quota QuotaService, admins AdminDirectory, mailer Mailer, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		lifecycle: lifecycle,
		quota:     quota,
		admins:    admins,
		mailer:    mailer,
		cron:      cron.New(),
		logger:    logger.With().Str("component", "maintenance").Logger(),
		now:       time.Now,
	}
}

// Start registers the cron entries and begins the schedule: revalidation
// sweep hourly, expiry and limit checks daily at 08:00 UTC.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("maintenance scheduler already running")
	}

	if _, err := s.cron.AddFunc("0 * * * *", func() { s.RunRevalidationSweep(context.Background()) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 8 * * *", func() {
		ctx := context.Background()
		s.RunExpiryCheck(ctx)
		s.RunLimitCheck(ctx)
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().Msg("license maintenance scheduler started")
	return nil
}

// Stop stops the scheduler gracefully.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping license maintenance scheduler")
	return s.cron.Stop()
}

// RunRevalidationSweep revalidates the active license if it is due. The due
// check avoids a remote round trip every hour; an overdue license is always
// re-checked.
func (s *Scheduler) RunRevalidationSweep(ctx context.Context) {
	due, err := s.lifecycle.NeedsRevalidation(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("revalidation sweep failed to read license")
		return
	}
	if !due {
		return
	}

	result, err := s.lifecycle.Revalidate(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("revalidation sweep failed")
		return
	}
	s.logger.Info().
		Bool("success", result.Success).
		Bool("cached", result.Cached).
		Str("code", result.Code).
		Msg("revalidation sweep complete")
}

// RunExpiryCheck emails administrators when the active license expires within
// the warning window, or has already expired.
func (s *Scheduler) RunExpiryCheck(ctx context.Context) {
	lic, err := s.lifecycle.Current(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("expiry check failed to read license")
		return
	}
	if lic == nil || lic.ExpiryDate == nil {
		return
	}

	daysRemaining := 0
	if remaining := lic.ExpiryDate.Sub(s.now()); remaining > 0 {
		daysRemaining = int(remaining.Hours() / 24)
	}
	if daysRemaining > expiryWarningDays {
		return
	}

	s.logger.Warn().
		Int("days_remaining", daysRemaining).
		Time("expiry_date", *lic.ExpiryDate).
		Msg("license expires within warning window")

	s.notify(ctx, func(to []string) error {
		return s.mailer.SendLicenseExpiry(to, notifications.LicenseExpiryData{
			LicensedTo:    lic.LicensedTo,
			LicenseType:   lic.LicenseType,
			MaskedKey:     lic.MaskedKey(),
			ExpiryDate:    *lic.ExpiryDate,
			DaysRemaining: daysRemaining,
		})
	})
}

// RunLimitCheck emails administrators when seat usage has reached or exceeded
// the license quota.
func (s *Scheduler) RunLimitCheck(ctx context.Context) {
	stats, err := s.quota.UsageStats(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("limit check failed to read usage")
		return
	}
	if !stats.HasLicense || stats.MaxUsers == nil {
		return
	}
	if stats.ActiveUsers < *stats.MaxUsers {
		return
	}

	s.logger.Warn().
		Int("active_users", stats.ActiveUsers).
		Int("max_users", *stats.MaxUsers).
		Bool("exceeded", stats.Exceeded).
		Msg("seat quota reached")

	licensedTo := ""
	if lic, err := s.lifecycle.Current(ctx); err == nil && lic != nil {
		licensedTo = lic.LicensedTo
	}

	s.notify(ctx, func(to []string) error {
		return s.mailer.SendUserLimit(to, notifications.UserLimitData{
			LicensedTo:  licensedTo,
			ActiveUsers: stats.ActiveUsers,
			MaxUsers:    *stats.MaxUsers,
			Exceeded:    stats.Exceeded,
		})
	})
}

// notify resolves the admin recipient list and sends through the mailer, if
// one is configured.
func (s *Scheduler) notify(ctx context.Context, send func(to []string) error) {
	if s.mailer == nil {
		return
	}
	to, err := s.admins.GetAdminEmails(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to resolve admin recipients")
		return
	}
	if len(to) == 0 {
		s.logger.Debug().Msg("no admin recipients for license notification")
		return
	}
	if err := send(to); err != nil {
		s.logger.Error().Err(err).Msg("failed to send license notification")
	}
}
