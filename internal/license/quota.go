package license

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// warningThreshold is the fraction of the seat quota at which usage is
// flagged as nearing the limit.
const warningThreshold = 0.9

// UsageStats describes seat consumption under the active license. MaxUsers
// and Remaining are nil when no license is active or the license is
// unlimited.
type UsageStats struct {
	HasLicense   bool `json:"has_license"`
	ActiveUsers  int  `json:"active_users"`
	MaxUsers     *int `json:"max_users"`
	Remaining    *int `json:"remaining"`
	UsagePercent int  `json:"usage_percent"`
	Exceeded     bool `json:"exceeded"`
	Warning      bool `json:"warning"`
}

// AdmissionDecision is the outcome of a seat-admission check before creating
// a user.
type AdmissionDecision struct {
	Allowed     bool   `json:"allowed"`
	ActiveUsers int    `json:"active_users"`
	MaxUsers    *int   `json:"max_users"`
	Reason      string `json:"reason,omitempty"`
}

// QuotaEnforcer computes seat usage and admission decisions from the active
// license and the active user count.
type QuotaEnforcer struct {
	store  Store
	logger zerolog.Logger
}

// NewQuotaEnforcer creates a quota enforcer.
func NewQuotaEnforcer(store Store, logger zerolog.Logger) *QuotaEnforcer {
	return &QuotaEnforcer{
		store:  store,
		logger: logger.With().Str("component", "quota").Logger(),
	}
}

// UsageStats returns current seat consumption. With no active license, or an
// unlimited one, usage never warns or exceeds.
func (q *QuotaEnforcer) UsageStats(ctx context.Context) (*UsageStats, error) {
	activeUsers, err := q.store.CountActiveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("count active users: %w", err)
	}

	lic, err := q.store.GetActiveLicense(ctx)
	if err != nil {
		return nil, fmt.Errorf("get active license: %w", err)
	}

	stats := &UsageStats{
		HasLicense:  lic != nil,
		ActiveUsers: activeUsers,
	}
	if lic == nil || lic.MaxUsers == nil {
		return stats, nil
	}

	max := *lic.MaxUsers
	stats.MaxUsers = &max

	remaining := max - activeUsers
	if remaining < 0 {
		remaining = 0
	}
	stats.Remaining = &remaining

	if max > 0 {
		percent := int(math.Round(float64(activeUsers) / float64(max) * 100))
		if percent > 100 {
			percent = 100
		}
		stats.UsagePercent = percent
		stats.Warning = float64(activeUsers) >= warningThreshold*float64(max)
	}
	stats.Exceeded = activeUsers > max

	return stats, nil
}

// CanCreateUser decides whether another user may be created. No license or an
// unlimited license admits freely; otherwise admission requires a free seat.
// This is a check, not a reservation: concurrent creations may each pass and
// jointly overshoot the quota.
func (q *QuotaEnforcer) CanCreateUser(ctx context.Context) (*AdmissionDecision, error) {
	lic, err := q.store.GetActiveLicense(ctx)
	if err != nil {
		return nil, fmt.Errorf("get active license: %w", err)
	}
	if lic == nil || lic.MaxUsers == nil {
		return &AdmissionDecision{Allowed: true}, nil
	}

	activeUsers, err := q.store.CountActiveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("count active users: %w", err)
	}

	max := *lic.MaxUsers
	decision := &AdmissionDecision{
		ActiveUsers: activeUsers,
		MaxUsers:    &max,
	}
	if activeUsers < max {
		decision.Allowed = true
		return decision, nil
	}

	decision.Reason = fmt.Sprintf("user limit reached: %d of %d seats in use", activeUsers, max)
	q.logger.Info().Int("active_users", activeUsers).Int("max_users", max).
		Msg("user creation denied by seat quota")
	return decision, nil
}
