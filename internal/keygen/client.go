// Package keygen is the protocol adapter for the remote licensing authority.
// It speaks the vendor's JSON resource API: key validation, usage counters,
// and the user/attachment surface the roster sync depends on.
package keygen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Abmarne/tadreeblms/internal/config"
	"github.com/rs/zerolog"
)

const (
	contentType = "application/vnd.api+json"

	// userPageSize is the page size used when scanning the account's user
	// listing for an email match.
	userPageSize = 100
)

// RemoteUser is a user account on the licensing server.
type RemoteUser struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
}

// Client talks to the remote licensing authority. All calls are synchronous
// and bounded by the underlying HTTP client's timeout.
type Client struct {
	cfg        *config.KeygenConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a licensing server client.
func NewClient(cfg *config.KeygenConfig, httpClient *http.Client, logger zerolog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "keygen").Logger(),
	}
}

// IsConfigured reports whether the account and product identifiers are both
// present. Every remote operation is gated on this.
func (c *Client) IsConfigured() bool {
	return c.cfg.IsConfigured()
}

// ValidateKey checks a license key against the licensing server. A rejected
// key returns a result with Valid=false, not an error; errors are reserved
// for configuration and transport failures.
func (c *Client) ValidateKey(ctx context.Context, key string) (*ValidationResult, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	body := map[string]any{
		"meta": map[string]any{
			"key": key,
			"scope": map[string]any{
				"product": c.cfg.ProductID,
			},
		},
	}

	raw, _, err := c.do(ctx, http.MethodPost, "/licenses/actions/validate-key", body, false)
	if err != nil {
		return nil, err
	}

	result, err := parseValidation(raw)
	if err != nil {
		return nil, fmt.Errorf("parse validation response: %w", err)
	}

	c.logger.Debug().
		Bool("valid", result.Valid).
		Str("code", result.Code).
		Str("status", string(result.Status)).
		Msg("validated license key")
	return result, nil
}

// IncrementUsage raises the license usage counter by amount.
func (c *Client) IncrementUsage(ctx context.Context, licenseID string, amount int) error {
	var body any
	if amount > 1 {
		body = map[string]any{"meta": map[string]any{"increment": amount}}
	}
	_, _, err := c.doAuthed(ctx, http.MethodPost,
		"/licenses/"+licenseID+"/actions/increment-usage", body)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

// DecrementUsage lowers the license usage counter by one.
func (c *Client) DecrementUsage(ctx context.Context, licenseID string) error {
	_, _, err := c.doAuthed(ctx, http.MethodPost,
		"/licenses/"+licenseID+"/actions/decrement-usage", nil)
	if err != nil {
		return fmt.Errorf("decrement usage: %w", err)
	}
	return nil
}

// ResetUsage zeroes the license usage counter.
func (c *Client) ResetUsage(ctx context.Context, licenseID string) error {
	_, _, err := c.doAuthed(ctx, http.MethodPost,
		"/licenses/"+licenseID+"/actions/reset-usage", nil)
	if err != nil {
		return fmt.Errorf("reset usage: %w", err)
	}
	return nil
}

// SetUsage sets the usage counter to an absolute value by resetting it and
// incrementing by n. If the reset succeeds but the increment fails the remote
// counter is left at zero; the returned error says so and callers must treat
// the counter as inconsistent rather than retrying blindly.
func (c *Client) SetUsage(ctx context.Context, licenseID string, n int) error {
	if err := c.ResetUsage(ctx, licenseID); err != nil {
		return fmt.Errorf("set usage: %w", err)
	}
	if n <= 0 {
		return nil
	}
	if err := c.IncrementUsage(ctx, licenseID, n); err != nil {
		return fmt.Errorf("set usage: counter was reset but increment to %d failed, remote usage is inconsistent: %w", n, err)
	}
	return nil
}

// CreateUser creates a user on the licensing server. If the server reports
// the email is already taken, the existing account is looked up instead and
// returned with alreadyExisted=true; that is a success, not an error.
func (c *Client) CreateUser(ctx context.Context, email, firstName, lastName string) (user *RemoteUser, alreadyExisted bool, err error) {
	body := map[string]any{
		"data": map[string]any{
			"type": "users",
			"attributes": map[string]any{
				"email":     email,
				"firstName": firstName,
				"lastName":  lastName,
			},
		},
	}

	raw, status, err := c.doAuthed(ctx, http.MethodPost, "/users", body)
	if err != nil {
		if isEmailTaken(err) {
			existing, findErr := c.FindUserByEmail(ctx, email)
			if findErr != nil {
				return nil, false, fmt.Errorf("create user %s: email taken but lookup failed: %w", email, findErr)
			}
			if existing == nil {
				return nil, false, fmt.Errorf("create user %s: email reported taken but no matching account found", email)
			}
			c.logger.Debug().Str("email", email).Str("remote_id", existing.ID).
				Msg("user already exists on licensing server")
			return existing, true, nil
		}
		return nil, false, fmt.Errorf("create user %s: %w", email, err)
	}

	created, err := parseUser(raw)
	if err != nil {
		return nil, false, fmt.Errorf("create user %s: parse response (status %d): %w", email, status, err)
	}
	return created, false, nil
}

// FindUserByEmail scans the account's user listing for a case-insensitive
// email match. Returns nil if no user matches.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*RemoteUser, error) {
	target := strings.ToLower(email)

	for page := 1; ; page++ {
		path := fmt.Sprintf("/users?page[number]=%d&page[size]=%d", page, userPageSize)
		raw, _, err := c.doAuthed(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, fmt.Errorf("find user by email: %w", err)
		}

		users, err := parseUserList(raw)
		if err != nil {
			return nil, fmt.Errorf("find user by email: parse page %d: %w", page, err)
		}
		for _, u := range users {
			if strings.ToLower(u.Email) == target {
				return u, nil
			}
		}
		if len(users) < userPageSize {
			return nil, nil
		}
	}
}

// AttachUserToLicense attaches a remote user to the license. An
// already-attached response is treated as success.
func (c *Client) AttachUserToLicense(ctx context.Context, licenseID, userID string) error {
	body := map[string]any{
		"data": []map[string]any{{"type": "users", "id": userID}},
	}
	_, _, err := c.doAuthed(ctx, http.MethodPost, "/licenses/"+licenseID+"/users", body)
	if err != nil {
		if isAlreadyAttached(err) {
			return nil
		}
		return fmt.Errorf("attach user %s: %w", userID, err)
	}
	return nil
}

// DetachUserFromLicense detaches a remote user from the license. Already
// detached or unknown users are treated as success.
func (c *Client) DetachUserFromLicense(ctx context.Context, licenseID, userID string) error {
	body := map[string]any{
		"data": []map[string]any{{"type": "users", "id": userID}},
	}
	_, _, err := c.doAuthed(ctx, http.MethodDelete, "/licenses/"+licenseID+"/users", body)
	if err != nil {
		if isAlreadyAttached(err) || isNotFound(err) {
			return nil
		}
		return fmt.Errorf("detach user %s: %w", userID, err)
	}
	return nil
}

// ListLicenseUsers returns every user attached to the license, across all
// pages.
func (c *Client) ListLicenseUsers(ctx context.Context, licenseID string) ([]*RemoteUser, error) {
	var all []*RemoteUser
	for page := 1; ; page++ {
		path := fmt.Sprintf("/licenses/%s/users?page[number]=%d&page[size]=%d",
			licenseID, page, userPageSize)
		raw, _, err := c.doAuthed(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, fmt.Errorf("list license users: %w", err)
		}

		users, err := parseUserList(raw)
		if err != nil {
			return nil, fmt.Errorf("list license users: parse page %d: %w", page, err)
		}
		all = append(all, users...)
		if len(users) < userPageSize {
			return all, nil
		}
	}
}

// DetachAllUsersFromLicense detaches every attached user and returns how many
// were detached. Per-user failures are logged and skipped; only a failure to
// list the attached set is an error.
func (c *Client) DetachAllUsersFromLicense(ctx context.Context, licenseID string) (int, error) {
	users, err := c.ListLicenseUsers(ctx, licenseID)
	if err != nil {
		return 0, fmt.Errorf("detach all users: %w", err)
	}

	detached := 0
	for _, u := range users {
		if err := c.DetachUserFromLicense(ctx, licenseID, u.ID); err != nil {
			c.logger.Warn().Err(err).Str("remote_id", u.ID).Str("email", u.Email).
				Msg("failed to detach user from license")
			continue
		}
		detached++
	}
	return detached, nil
}

// DeleteUser removes a user account from the licensing server. An unknown
// user is treated as already deleted.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	_, _, err := c.doAuthed(ctx, http.MethodDelete, "/users/"+userID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete user %s: %w", userID, err)
	}
	return nil
}

// DeleteUserByEmail looks a user up by email and deletes it. A missing user
// is success; the account is already absent.
func (c *Client) DeleteUserByEmail(ctx context.Context, email string) error {
	user, err := c.FindUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("delete user by email: %w", err)
	}
	if user == nil {
		return nil
	}
	return c.DeleteUser(ctx, user.ID)
}

// doAuthed issues a bearer-token authenticated request. Usage counters and
// the user surface require a token; only validate-key does not.
func (c *Client) doAuthed(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	if !c.IsConfigured() {
		return nil, 0, ErrNotConfigured
	}
	if !c.cfg.HasAPIToken() {
		return nil, 0, ErrTokenRequired
	}
	return c.do(ctx, method, path, body, true)
}

// do issues a request against the account-scoped API and returns the raw
// response body. Transport failures come back as *ConnectionError; non-2xx
// responses as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body any, authed bool) ([]byte, int, error) {
	url := fmt.Sprintf("%s/accounts/%s%s", strings.TrimSuffix(c.cfg.APIURL, "/"), c.cfg.AccountID, path)

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &ConnectionError{Err: err}
	}

	// validate-key reports rejections with meta.valid=false on a 2xx; 4xx/5xx
	// means the operation itself failed.
	if resp.StatusCode >= 400 {
		return raw, resp.StatusCode, apiErrorFromBody(resp.StatusCode, raw)
	}
	return raw, resp.StatusCode, nil
}

func apiErrorFromBody(status int, raw []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Detail: http.StatusText(status)}

	var doc document
	if err := json.Unmarshal(raw, &doc); err == nil && len(doc.Errors) > 0 {
		first := doc.Errors[0]
		apiErr.Code = first.Code
		if first.Detail != "" {
			apiErr.Detail = first.Detail
		} else if first.Title != "" {
			apiErr.Detail = first.Title
		}
	}
	return apiErr
}

func parseUser(raw []byte) (*RemoteUser, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	var res resource
	if err := json.Unmarshal(doc.Data, &res); err != nil {
		return nil, err
	}
	return userFromResource(res), nil
}

func parseUserList(raw []byte) ([]*RemoteUser, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if len(doc.Data) == 0 || string(doc.Data) == "null" {
		return nil, nil
	}
	var resources []resource
	if err := json.Unmarshal(doc.Data, &resources); err != nil {
		return nil, err
	}
	users := make([]*RemoteUser, 0, len(resources))
	for _, res := range resources {
		users = append(users, userFromResource(res))
	}
	return users, nil
}

func userFromResource(res resource) *RemoteUser {
	return &RemoteUser{
		ID:        res.ID,
		Email:     firstString(anyValue(res.Attributes, "email")),
		FirstName: firstString(anyValue(res.Attributes, "firstName")),
		LastName:  firstString(anyValue(res.Attributes, "lastName")),
	}
}

// isEmailTaken matches the server's duplicate-email rejection.
func isEmailTaken(err error) bool {
	apiErr, ok := asAPIError(err)
	if !ok {
		return false
	}
	if apiErr.Code == "EMAIL_TAKEN" {
		return true
	}
	detail := strings.ToLower(apiErr.Detail)
	return strings.Contains(detail, "taken") || strings.Contains(detail, "already exists")
}

// isAlreadyAttached matches the server's duplicate-attachment rejection.
func isAlreadyAttached(err error) bool {
	apiErr, ok := asAPIError(err)
	if !ok {
		return false
	}
	text := strings.ToLower(apiErr.Code + " " + apiErr.Detail)
	return strings.Contains(text, "already") || strings.Contains(text, "attached")
}

func isNotFound(err error) bool {
	apiErr, ok := asAPIError(err)
	if !ok {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound || apiErr.Code == "NOT_FOUND"
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
