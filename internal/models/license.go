package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LicenseStatus is the lifecycle state of a license as last reported by the
// licensing server.
type LicenseStatus string

const (
	// LicenseStatusPending means the license was recorded but never validated.
	LicenseStatusPending LicenseStatus = "pending"
	// LicenseStatusActive means the last validation succeeded.
	LicenseStatusActive LicenseStatus = "active"
	// LicenseStatusExpired means the licensing server reported the key expired.
	LicenseStatusExpired LicenseStatus = "expired"
	// LicenseStatusRevoked means the key was revoked or suspended remotely.
	LicenseStatusRevoked LicenseStatus = "revoked"
	// LicenseStatusInvalid means the key was rejected for any other reason.
	LicenseStatusInvalid LicenseStatus = "invalid"
)

// ValidLicenseStatuses returns all recognized license statuses.
func ValidLicenseStatuses() []LicenseStatus {
	return []LicenseStatus{
		LicenseStatusPending,
		LicenseStatusActive,
		LicenseStatusExpired,
		LicenseStatusRevoked,
		LicenseStatusInvalid,
	}
}

// IsValid checks if the status is a recognized value.
func (s LicenseStatus) IsValid() bool {
	for _, valid := range ValidLicenseStatuses() {
		if s == valid {
			return true
		}
	}
	return false
}

// License is the locally stored record of an entitlement granted by the
// licensing server. At most one record has IsActive=true at any instant;
// records are never deleted, deactivation flips the flag so history survives.
type License struct {
	ID                 uuid.UUID       `json:"id"`
	LicenseKey         string          `json:"-"`
	Status             LicenseStatus   `json:"status"`
	MaxUsers           *int            `json:"max_users"`
	LicenseType        string          `json:"license_type"`
	LicensedTo         string          `json:"licensed_to"`
	LicenseeEmail      string          `json:"licensee_email"`
	ExpiryDate         *time.Time      `json:"expiry_date"`
	SupportValidUntil  *time.Time      `json:"support_valid_until"`
	LastValidatedAt    *time.Time      `json:"last_validated_at"`
	ValidationResponse json.RawMessage `json:"-"`
	Metadata           map[string]any  `json:"metadata,omitempty"`
	IsActive           bool            `json:"is_active"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// MaskedKey returns the license key with the middle obscured for display.
// Keys of eight characters or fewer are fully starred.
func (l *License) MaskedKey() string {
	key := l.LicenseKey
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// IsUsable returns true if the license is the active record, its status is
// active, and the expiry date, when set, has not passed.
func (l *License) IsUsable(now time.Time) bool {
	if !l.IsActive || l.Status != LicenseStatusActive {
		return false
	}
	if l.ExpiryDate != nil && l.ExpiryDate.Before(now) {
		return false
	}
	return true
}

// NeedsRevalidation reports whether the license is due for a fresh check
// against the licensing server. A license that has never been validated is
// always due.
func (l *License) NeedsRevalidation(now time.Time, interval time.Duration) bool {
	if l.LastValidatedAt == nil {
		return true
	}
	return now.After(l.LastValidatedAt.Add(interval))
}

// WithinGracePeriod reports whether a connection failure may be tolerated by
// serving the last validated state. A license that has never been validated
// has no grace period.
func (l *License) WithinGracePeriod(now time.Time, grace time.Duration) bool {
	if l.LastValidatedAt == nil {
		return false
	}
	return !now.After(l.LastValidatedAt.Add(grace))
}

// RemoteLicenseID recovers the licensing server's identifier for this license
// from the stored validation response. Returns "" if no response is stored or
// the identifier is absent.
func (l *License) RemoteLicenseID() string {
	if len(l.ValidationResponse) == 0 {
		return ""
	}
	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(l.ValidationResponse, &resp); err != nil {
		return ""
	}
	return resp.Data.ID
}
