package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Abmarne/tadreeblms/internal/license"
	"github.com/Abmarne/tadreeblms/internal/models"
	"github.com/Abmarne/tadreeblms/internal/notifications"
	"github.com/rs/zerolog"
)

type mockLifecycle struct {
	mu              sync.Mutex
	due             bool
	lic             *models.License
	revalidateCalls int
	result          *license.RevalidateResult
	err             error
}

func (m *mockLifecycle) NeedsRevalidation(_ context.Context) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.due, nil
}

func (m *mockLifecycle) Revalidate(_ context.Context) (*license.RevalidateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revalidateCalls++
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &license.RevalidateResult{Success: true}, nil
}

func (m *mockLifecycle) Current(_ context.Context) (*models.License, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.lic, nil
}

func (m *mockLifecycle) getRevalidateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revalidateCalls
}

type mockQuota struct {
	stats *license.UsageStats
	err   error
}

func (m *mockQuota) UsageStats(_ context.Context) (*license.UsageStats, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stats, nil
}

type mockAdmins struct {
	emails []string
}

func (m *mockAdmins) GetAdminEmails(_ context.Context) ([]string, error) {
	return m.emails, nil
}

type mockMailer struct {
	mu          sync.Mutex
	expirySends []notifications.LicenseExpiryData
	limitSends  []notifications.UserLimitData
}

func (m *mockMailer) SendLicenseExpiry(_ []string, data notifications.LicenseExpiryData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expirySends = append(m.expirySends, data)
	return nil
}

func (m *mockMailer) SendUserLimit(_ []string, data notifications.UserLimitData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limitSends = append(m.limitSends, data)
	return nil
}

func newTestScheduler(lc *mockLifecycle, q *mockQuota, mailer *mockMailer) *Scheduler {
	return NewScheduler(lc, q, &mockAdmins{emails: []string{"admin@example.com"}}, mailer, zerolog.Nop())
}

func expiringLicense(expiresIn time.Duration) *models.License {
	expiry := time.Now().Add(expiresIn)
	return &models.License{
		Status:      models.LicenseStatusActive,
		IsActive:    true,
		LicensedTo:  "Acme Training Co",
		LicenseType: "enterprise",
		LicenseKey:  "TADR-AAAA-BBBB-CCCC",
		ExpiryDate:  &expiry,
	}
}

func TestRunRevalidationSweep(t *testing.T) {
	t.Run("revalidates when due", func(t *testing.T) {
		lc := &mockLifecycle{due: true}
		s := newTestScheduler(lc, &mockQuota{}, &mockMailer{})

		s.RunRevalidationSweep(context.Background())
		if got := lc.getRevalidateCalls(); got != 1 {
			t.Errorf("revalidate calls = %d, want 1", got)
		}
	})

	t.Run("skips when not due", func(t *testing.T) {
		lc := &mockLifecycle{due: false}
		s := newTestScheduler(lc, &mockQuota{}, &mockMailer{})

		s.RunRevalidationSweep(context.Background())
		if got := lc.getRevalidateCalls(); got != 0 {
			t.Errorf("revalidate calls = %d, want 0", got)
		}
	})

	t.Run("survives errors", func(t *testing.T) {
		lc := &mockLifecycle{err: errors.New("db down")}
		s := newTestScheduler(lc, &mockQuota{}, &mockMailer{})
		s.RunRevalidationSweep(context.Background())
	})
}

func TestRunExpiryCheck(t *testing.T) {
	t.Run("warns inside window", func(t *testing.T) {
		mailer := &mockMailer{}
		lc := &mockLifecycle{lic: expiringLicense(14 * 24 * time.Hour)}
		s := newTestScheduler(lc, &mockQuota{}, mailer)

		s.RunExpiryCheck(context.Background())
		if len(mailer.expirySends) != 1 {
			t.Fatalf("expiry emails = %d, want 1", len(mailer.expirySends))
		}
		sent := mailer.expirySends[0]
		if sent.DaysRemaining < 13 || sent.DaysRemaining > 14 {
			t.Errorf("DaysRemaining = %d, want ~14", sent.DaysRemaining)
		}
		if sent.MaskedKey == "TADR-AAAA-BBBB-CCCC" {
			t.Error("email must carry the masked key, not the raw key")
		}
	})

	t.Run("silent outside window", func(t *testing.T) {
		mailer := &mockMailer{}
		lc := &mockLifecycle{lic: expiringLicense(90 * 24 * time.Hour)}
		s := newTestScheduler(lc, &mockQuota{}, mailer)

		s.RunExpiryCheck(context.Background())
		if len(mailer.expirySends) != 0 {
			t.Errorf("expiry emails = %d, want 0", len(mailer.expirySends))
		}
	})

	t.Run("already expired", func(t *testing.T) {
		mailer := &mockMailer{}
		lc := &mockLifecycle{lic: expiringLicense(-24 * time.Hour)}
		s := newTestScheduler(lc, &mockQuota{}, mailer)

		s.RunExpiryCheck(context.Background())
		if len(mailer.expirySends) != 1 {
			t.Fatalf("expiry emails = %d, want 1", len(mailer.expirySends))
		}
		if mailer.expirySends[0].DaysRemaining != 0 {
			t.Errorf("DaysRemaining = %d, want 0", mailer.expirySends[0].DaysRemaining)
		}
	})

	t.Run("no license", func(t *testing.T) {
		mailer := &mockMailer{}
		s := newTestScheduler(&mockLifecycle{}, &mockQuota{}, mailer)

		s.RunExpiryCheck(context.Background())
		if len(mailer.expirySends) != 0 {
			t.Errorf("expiry emails = %d, want 0", len(mailer.expirySends))
		}
	})

	t.Run("no expiry date", func(t *testing.T) {
		mailer := &mockMailer{}
		lic := expiringLicense(time.Hour)
		lic.ExpiryDate = nil
		s := newTestScheduler(&mockLifecycle{lic: lic}, &mockQuota{}, mailer)

		s.RunExpiryCheck(context.Background())
		if len(mailer.expirySends) != 0 {
			t.Errorf("expiry emails = %d, want 0", len(mailer.expirySends))
		}
	})
}

func TestRunLimitCheck(t *testing.T) {
	max := 50
	remaining := 0

	t.Run("at limit", func(t *testing.T) {
		mailer := &mockMailer{}
		q := &mockQuota{stats: &license.UsageStats{
			HasLicense: true, ActiveUsers: 50, MaxUsers: &max, Remaining: &remaining,
			UsagePercent: 100, Warning: true,
		}}
		s := newTestScheduler(&mockLifecycle{lic: expiringLicense(365 * 24 * time.Hour)}, q, mailer)

		s.RunLimitCheck(context.Background())
		if len(mailer.limitSends) != 1 {
			t.Fatalf("limit emails = %d, want 1", len(mailer.limitSends))
		}
		if mailer.limitSends[0].Exceeded {
			t.Error("Exceeded = true, want false at exactly the limit")
		}
	})

	t.Run("over limit", func(t *testing.T) {
		mailer := &mockMailer{}
		q := &mockQuota{stats: &license.UsageStats{
			HasLicense: true, ActiveUsers: 52, MaxUsers: &max, Remaining: &remaining,
			UsagePercent: 100, Warning: true, Exceeded: true,
		}}
		s := newTestScheduler(&mockLifecycle{}, q, mailer)

		s.RunLimitCheck(context.Background())
		if len(mailer.limitSends) != 1 {
			t.Fatalf("limit emails = %d, want 1", len(mailer.limitSends))
		}
		if !mailer.limitSends[0].Exceeded {
			t.Error("Exceeded = false, want true")
		}
	})

	t.Run("under limit", func(t *testing.T) {
		mailer := &mockMailer{}
		q := &mockQuota{stats: &license.UsageStats{
			HasLicense: true, ActiveUsers: 30, MaxUsers: &max,
		}}
		s := newTestScheduler(&mockLifecycle{}, q, mailer)

		s.RunLimitCheck(context.Background())
		if len(mailer.limitSends) != 0 {
			t.Errorf("limit emails = %d, want 0", len(mailer.limitSends))
		}
	})

	t.Run("unlimited license", func(t *testing.T) {
		mailer := &mockMailer{}
		q := &mockQuota{stats: &license.UsageStats{HasLicense: true, ActiveUsers: 1000}}
		s := newTestScheduler(&mockLifecycle{}, q, mailer)

		s.RunLimitCheck(context.Background())
		if len(mailer.limitSends) != 0 {
			t.Errorf("limit emails = %d, want 0", len(mailer.limitSends))
		}
	})
}

func TestSchedulerStartStop(t *testing.T) {
	s := newTestScheduler(&mockLifecycle{}, &mockQuota{}, &mockMailer{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("second Start() should fail")
	}

	ctx := s.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not complete")
	}

	// Stop when not running returns an already-done context.
	ctx = s.Stop()
	select {
	case <-ctx.Done():
	default:
		t.Error("Stop() on a stopped scheduler should return a done context")
	}
}

func TestNilMailerSkipsNotifications(t *testing.T) {
	max := 5
	q := &mockQuota{stats: &license.UsageStats{HasLicense: true, ActiveUsers: 5, MaxUsers: &max}}
	s := NewScheduler(&mockLifecycle{lic: expiringLicense(24 * time.Hour)}, q,
		&mockAdmins{emails: []string{"admin@example.com"}}, nil, zerolog.Nop())

	s.RunExpiryCheck(context.Background())
	s.RunLimitCheck(context.Background())
}
