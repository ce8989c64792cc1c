package keygen

import (
	"testing"

	"github.com/Abmarne/tadreeblms/internal/models"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
		code  string
		want  models.LicenseStatus
	}{
		{"valid key", true, "VALID", models.LicenseStatusActive},
		{"valid wins over code", true, "EXPIRED", models.LicenseStatusActive},
		{"expired", false, "EXPIRED", models.LicenseStatusExpired},
		{"license expired", false, "LICENSE_EXPIRED", models.LicenseStatusExpired},
		{"revoked", false, "REVOKED", models.LicenseStatusRevoked},
		{"license revoked", false, "LICENSE_REVOKED", models.LicenseStatusRevoked},
		{"suspended", false, "SUSPENDED", models.LicenseStatusRevoked},
		{"license suspended", false, "LICENSE_SUSPENDED", models.LicenseStatusRevoked},
		{"not found", false, "NOT_FOUND", models.LicenseStatusInvalid},
		{"unknown code", false, "SOMETHING_NEW", models.LicenseStatusInvalid},
		{"empty code", false, "", models.LicenseStatusInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deriveStatus(tt.valid, tt.code)
			if got != tt.want {
				t.Errorf("deriveStatus(%v, %q) = %q, want %q", tt.valid, tt.code, got, tt.want)
			}
		})
	}
}

func TestParseValidationFieldFallbacks(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, r *ValidationResult)
	}{
		{
			name: "max users from attributes",
			body: `{"data":{"id":"lic-1","type":"licenses","attributes":{"maxUsers":25}},"meta":{"valid":true,"code":"VALID"}}`,
			check: func(t *testing.T, r *ValidationResult) {
				if r.MaxUsers == nil || *r.MaxUsers != 25 {
					t.Errorf("MaxUsers = %v, want 25", r.MaxUsers)
				}
			},
		},
		{
			name: "max users from metadata camelCase",
			body: `{"data":{"id":"lic-1","type":"licenses","attributes":{"metadata":{"maxUsers":10}}},"meta":{"valid":true}}`,
			check: func(t *testing.T, r *ValidationResult) {
				if r.MaxUsers == nil || *r.MaxUsers != 10 {
					t.Errorf("MaxUsers = %v, want 10", r.MaxUsers)
				}
			},
		},
		{
			name: "max users from metadata snake_case string",
			body: `{"data":{"id":"lic-1","type":"licenses","attributes":{"metadata":{"max_users":"40"}}},"meta":{"valid":true}}`,
			check: func(t *testing.T, r *ValidationResult) {
				if r.MaxUsers == nil || *r.MaxUsers != 40 {
					t.Errorf("MaxUsers = %v, want 40", r.MaxUsers)
				}
			},
		},
		{
			name: "max users absent means unlimited",
			body: `{"data":{"id":"lic-1","type":"licenses","attributes":{}},"meta":{"valid":true}}`,
			check: func(t *testing.T, r *ValidationResult) {
				if r.MaxUsers != nil {
					t.Errorf("MaxUsers = %v, want nil", r.MaxUsers)
				}
			},
		},
		{
			name: "attributes win over metadata for max users",
			body: `{"data":{"id":"lic-1","type":"licenses","attributes":{"maxUsers":5,"metadata":{"maxUsers":99}}},"meta":{"valid":true}}`,
			check: func(t *testing.T, r *ValidationResult) {
				if r.MaxUsers == nil || *r.MaxUsers != 5 {
					t.Errorf("MaxUsers = %v, want 5", r.MaxUsers)
				}
			},
		},
		{
			name: "license type from metadata",
			body: `{"data":{"id":"lic-1","type":"licenses","attributes":{"name":"Enterprise Plan","metadata":{"type":"enterprise"}}},"meta":{"valid":true}}`,
			check: func(t *testing.T, r *ValidationResult) {
				if r.LicenseType != "enterprise" {
					t.Errorf("LicenseType = %q, want enterprise", r.LicenseType)
				}
			},
		},
		{
			name: "license type falls back to attribute name",
			body: `{"data":{"id":"lic-1","type":"licenses","attributes":{"name":"Enterprise Plan"}},"meta":{"valid":true}}`,
			check: func(t *testing.T, r *ValidationResult) {
				if r.LicenseType != "Enterprise Plan" {
					t.Errorf("LicenseType = %q, want Enterprise Plan", r.LicenseType)
				}
			},
		},
		{
			name: "license type defaults to standard",
			body: `{"data":{"id":"lic-1","type":"licenses","attributes":{}},"meta":{"valid":true}}`,
			check: func(t *testing.T, r *ValidationResult) {
				if r.LicenseType != "standard" {
					t.Errorf("LicenseType = %q, want standard", r.LicenseType)
				}
			},
		},
		{
			name: "licensed to prefers company",
			body: `{"data":{"id":"lic-1","type":"licenses","attributes":{"name":"Plan","metadata":{"company":"Acme","name":"Other"}}},"meta":{"valid":true}}`,
			check: func(t *testing.T, r *ValidationResult) {
				if r.LicensedTo != "Acme" {
					t.Errorf("LicensedTo = %q, want Acme", r.LicensedTo)
				}
			},
		},
		{
			name: "expiry date parsed",
			body: `{"data":{"id":"lic-1","type":"licenses","attributes":{"expiry":"2027-06-30T00:00:00Z"}},"meta":{"valid":true}}`,
			check: func(t *testing.T, r *ValidationResult) {
				if r.ExpiryDate == nil {
					t.Fatal("ExpiryDate = nil")
				}
				if got := r.ExpiryDate.Format("2006-01-02"); got != "2027-06-30" {
					t.Errorf("ExpiryDate = %s, want 2027-06-30", got)
				}
			},
		},
		{
			name: "support until from metadata snake_case date",
			body: `{"data":{"id":"lic-1","type":"licenses","attributes":{"metadata":{"support_until":"2026-12-31"}}},"meta":{"valid":true}}`,
			check: func(t *testing.T, r *ValidationResult) {
				if r.SupportValidUntil == nil {
					t.Fatal("SupportValidUntil = nil")
				}
				if got := r.SupportValidUntil.Format("2006-01-02"); got != "2026-12-31" {
					t.Errorf("SupportValidUntil = %s, want 2026-12-31", got)
				}
			},
		},
		{
			name: "rejection without data",
			body: `{"data":null,"meta":{"valid":false,"code":"NOT_FOUND","detail":"license key not found"}}`,
			check: func(t *testing.T, r *ValidationResult) {
				if r.Valid {
					t.Error("Valid = true, want false")
				}
				if r.Status != models.LicenseStatusInvalid {
					t.Errorf("Status = %q, want invalid", r.Status)
				}
				if r.Code != "NOT_FOUND" {
					t.Errorf("Code = %q, want NOT_FOUND", r.Code)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parseValidation([]byte(tt.body))
			if err != nil {
				t.Fatalf("parseValidation() error: %v", err)
			}
			tt.check(t, result)
		})
	}
}

func TestParseValidationKeepsRawResponse(t *testing.T) {
	body := `{"data":{"id":"lic-7","type":"licenses","attributes":{}},"meta":{"valid":true,"code":"VALID"}}`
	result, err := parseValidation([]byte(body))
	if err != nil {
		t.Fatalf("parseValidation() error: %v", err)
	}
	if string(result.RawResponse) != body {
		t.Error("RawResponse does not preserve the payload")
	}
	if result.LicenseID != "lic-7" {
		t.Errorf("LicenseID = %q, want lic-7", result.LicenseID)
	}
}
