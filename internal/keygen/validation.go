package keygen

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/Abmarne/tadreeblms/internal/models"
)

// ValidationResult is the normalized outcome of a validate-key call. A
// rejected key is still a successful call: Valid is false and Code carries
// the server's reason.
type ValidationResult struct {
	Valid             bool
	Status            models.LicenseStatus
	Code              string
	Detail            string
	LicenseID         string
	MaxUsers          *int
	LicenseType       string
	LicensedTo        string
	LicenseeEmail     string
	ExpiryDate        *time.Time
	SupportValidUntil *time.Time
	Metadata          map[string]any
	RawResponse       json.RawMessage
}

// document is the vendor resource envelope: a data resource plus an
// operation-level meta block, or an errors array.
type document struct {
	Data   json.RawMessage `json:"data"`
	Meta   *meta           `json:"meta"`
	Errors []apiErrorBody  `json:"errors"`
}

type resource struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes"`
}

type meta struct {
	Valid  bool   `json:"valid"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

type apiErrorBody struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// statusForCode maps a validation rejection code to a local license status.
// Unknown codes default to invalid.
var statusForCode = map[string]models.LicenseStatus{
	"EXPIRED":           models.LicenseStatusExpired,
	"LICENSE_EXPIRED":   models.LicenseStatusExpired,
	"REVOKED":           models.LicenseStatusRevoked,
	"LICENSE_REVOKED":   models.LicenseStatusRevoked,
	"SUSPENDED":         models.LicenseStatusRevoked,
	"LICENSE_SUSPENDED": models.LicenseStatusRevoked,
}

func deriveStatus(valid bool, code string) models.LicenseStatus {
	if valid {
		return models.LicenseStatusActive
	}
	if status, ok := statusForCode[code]; ok {
		return status
	}
	return models.LicenseStatusInvalid
}

// parseValidation normalizes a validate-key response body. License fields
// arrive in varying shapes depending on how the account configured its
// products, so each field is tried against a fixed precedence of payload
// paths.
func parseValidation(raw []byte) (*ValidationResult, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	result := &ValidationResult{
		RawResponse: json.RawMessage(raw),
	}
	if doc.Meta != nil {
		result.Valid = doc.Meta.Valid
		result.Code = doc.Meta.Code
		result.Detail = doc.Meta.Detail
	}
	result.Status = deriveStatus(result.Valid, result.Code)

	var res resource
	if len(doc.Data) > 0 && string(doc.Data) != "null" {
		if err := json.Unmarshal(doc.Data, &res); err != nil {
			return nil, err
		}
	}
	result.LicenseID = res.ID

	attrs := res.Attributes
	metadata := mapValue(attrs, "metadata")
	result.Metadata = metadata

	result.MaxUsers = firstInt(
		anyValue(attrs, "maxUsers"),
		anyValue(metadata, "maxUsers"),
		anyValue(metadata, "max_users"),
	)
	result.LicenseType = firstString(
		anyValue(metadata, "type"),
		anyValue(attrs, "name"),
	)
	if result.LicenseType == "" {
		result.LicenseType = "standard"
	}
	result.LicensedTo = firstString(
		anyValue(metadata, "company"),
		anyValue(metadata, "name"),
		anyValue(attrs, "name"),
	)
	result.LicenseeEmail = firstString(
		anyValue(metadata, "email"),
		anyValue(metadata, "contactEmail"),
	)
	result.ExpiryDate = firstTime(
		anyValue(attrs, "expiry"),
		anyValue(metadata, "expiry"),
	)
	result.SupportValidUntil = firstTime(
		anyValue(metadata, "supportUntil"),
		anyValue(metadata, "support_until"),
	)

	return result, nil
}

func mapValue(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

func anyValue(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

// firstInt returns the first candidate that parses as an integer. JSON
// numbers arrive as float64; some accounts store counts as strings.
func firstInt(candidates ...any) *int {
	for _, c := range candidates {
		switch v := c.(type) {
		case float64:
			n := int(v)
			return &n
		case int:
			n := v
			return &n
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return &n
			}
		}
	}
	return nil
}

func firstString(candidates ...any) string {
	for _, c := range candidates {
		if s, ok := c.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstTime(candidates ...any) *time.Time {
	for _, c := range candidates {
		s, ok := c.(string)
		if !ok || s == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return &t
			}
		}
	}
	return nil
}
