package keygen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Abmarne/tadreeblms/internal/config"
	"github.com/Abmarne/tadreeblms/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.KeygenConfig{
		AccountID: "acct-1",
		ProductID: "prod-1",
		APIToken:  "token-1",
		APIURL:    server.URL + "/v1",
	}
	client := NewClient(cfg, &http.Client{Timeout: 5 * time.Second}, zerolog.Nop())
	return client, server
}

func TestValidateKeySuccess(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/acct-1/licenses/actions/validate-key", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, contentType, r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("Authorization"), "validate-key must not send a token")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		meta := body["meta"].(map[string]any)
		assert.Equal(t, "TADR-KEY-1", meta["key"])
		assert.Equal(t, "prod-1", meta["scope"].(map[string]any)["product"])

		fmt.Fprint(w, `{"data":{"id":"lic-1","type":"licenses","attributes":{"maxUsers":50,"expiry":"2027-01-01T00:00:00Z","metadata":{"company":"Acme","type":"enterprise"}}},"meta":{"valid":true,"code":"VALID"}}`)
	}))

	result, err := client.ValidateKey(context.Background(), "TADR-KEY-1")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, models.LicenseStatusActive, result.Status)
	assert.Equal(t, "lic-1", result.LicenseID)
	require.NotNil(t, result.MaxUsers)
	assert.Equal(t, 50, *result.MaxUsers)
	assert.Equal(t, "enterprise", result.LicenseType)
	assert.Equal(t, "Acme", result.LicensedTo)
}

func TestValidateKeyRejection(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":null,"meta":{"valid":false,"code":"EXPIRED","detail":"license has expired"}}`)
	}))

	result, err := client.ValidateKey(context.Background(), "TADR-OLD")
	require.NoError(t, err, "a rejection is not an error")
	assert.False(t, result.Valid)
	assert.Equal(t, "EXPIRED", result.Code)
	assert.Equal(t, models.LicenseStatusExpired, result.Status)
}

func TestValidateKeyConnectionError(t *testing.T) {
	client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	_, err := client.ValidateKey(context.Background(), "TADR-KEY-1")
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
}

func TestValidateKeyNotConfigured(t *testing.T) {
	cfg := &config.KeygenConfig{APIURL: config.DefaultKeygenAPIURL}
	client := NewClient(cfg, &http.Client{}, zerolog.Nop())

	_, err := client.ValidateKey(context.Background(), "TADR-KEY-1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestCreateUser(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/accounts/acct-1/users", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"data":{"id":"user-9","type":"users","attributes":{"email":"new@example.com","firstName":"New","lastName":"User"}}}`)
	}))

	user, existed, err := client.CreateUser(context.Background(), "new@example.com", "New", "User")
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, "user-9", user.ID)
	assert.Equal(t, "new@example.com", user.Email)
}

func TestCreateUserEmailTakenFallsBackToLookup(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"errors":[{"title":"Unprocessable resource","detail":"email has already been taken","code":"EMAIL_TAKEN"}]}`)
			return
		}
		// Email lookup is case-insensitive against the listing.
		fmt.Fprint(w, `{"data":[{"id":"user-3","type":"users","attributes":{"email":"Taken@Example.com"}}]}`)
	}))

	user, existed, err := client.CreateUser(context.Background(), "taken@example.com", "Taken", "User")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "user-3", user.ID)
}

func TestFindUserByEmailScansPages(t *testing.T) {
	pagesServed := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pagesServed++
		page := r.URL.Query().Get("page[number]")
		assert.Equal(t, "100", r.URL.Query().Get("page[size]"))

		if page == "1" {
			// A full first page forces a second request.
			users := make([]string, 0, userPageSize)
			for i := 0; i < userPageSize; i++ {
				users = append(users, fmt.Sprintf(`{"id":"u-%d","type":"users","attributes":{"email":"user%d@example.com"}}`, i, i))
			}
			fmt.Fprintf(w, `{"data":[%s]}`, strings.Join(users, ","))
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"u-target","type":"users","attributes":{"email":"wanted@example.com"}}]}`)
	}))

	user, err := client.FindUserByEmail(context.Background(), "WANTED@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "u-target", user.ID)
	assert.Equal(t, 2, pagesServed)
}

func TestFindUserByEmailNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))

	user, err := client.FindUserByEmail(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestAttachUserAlreadyAttached(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"errors":[{"title":"Conflict","detail":"user is already attached to this license"}]}`)
	}))

	err := client.AttachUserToLicense(context.Background(), "lic-1", "user-1")
	assert.NoError(t, err, "already attached is success")
}

func TestDetachUserNotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"errors":[{"title":"Not found","code":"NOT_FOUND"}]}`)
	}))

	err := client.DetachUserFromLicense(context.Background(), "lic-1", "user-1")
	assert.NoError(t, err, "already detached is success")
}

func TestDeleteUserByEmailAbsent(t *testing.T) {
	deletes := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deletes++
		}
		fmt.Fprint(w, `{"data":[]}`)
	}))

	err := client.DeleteUserByEmail(context.Background(), "gone@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, deletes, "no delete issued for an absent user")
}

func TestSetUsage(t *testing.T) {
	var calls []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "increment-usage") {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, float64(7), body["meta"].(map[string]any)["increment"])
		}
		fmt.Fprint(w, `{"data":{"id":"lic-1","type":"licenses","attributes":{}}}`)
	}))

	require.NoError(t, client.SetUsage(context.Background(), "lic-1", 7))
	require.Len(t, calls, 2)
	assert.True(t, strings.HasSuffix(calls[0], "reset-usage"), "reset must run first")
	assert.True(t, strings.HasSuffix(calls[1], "increment-usage"))
}

func TestSetUsageIncrementFailureIsReported(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "increment-usage") {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"errors":[{"title":"Forbidden"}]}`)
			return
		}
		fmt.Fprint(w, `{"data":{"id":"lic-1","type":"licenses","attributes":{}}}`)
	}))

	err := client.SetUsage(context.Background(), "lic-1", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inconsistent")
}

func TestSetUsageZeroSkipsIncrement(t *testing.T) {
	var calls []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		fmt.Fprint(w, `{"data":{"id":"lic-1","type":"licenses","attributes":{}}}`)
	}))

	require.NoError(t, client.SetUsage(context.Background(), "lic-1", 0))
	require.Len(t, calls, 1)
	assert.True(t, strings.HasSuffix(calls[0], "reset-usage"))
}

func TestDetachAllUsersFromLicense(t *testing.T) {
	detaches := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			detaches++
			if detaches == 2 {
				// One detach fails; the sweep continues.
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"errors":[{"title":"Internal error"}]}`)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		fmt.Fprint(w, `{"data":[
			{"id":"u-1","type":"users","attributes":{"email":"a@example.com"}},
			{"id":"u-2","type":"users","attributes":{"email":"b@example.com"}},
			{"id":"u-3","type":"users","attributes":{"email":"c@example.com"}}
		]}`)
	}))

	detached, err := client.DetachAllUsersFromLicense(context.Background(), "lic-1")
	require.NoError(t, err)
	assert.Equal(t, 2, detached)
	assert.Equal(t, 3, detaches)
}

func TestAuthedCallWithoutToken(t *testing.T) {
	cfg := &config.KeygenConfig{
		AccountID: "acct-1",
		ProductID: "prod-1",
		APIURL:    config.DefaultKeygenAPIURL,
	}
	client := NewClient(cfg, &http.Client{}, zerolog.Nop())

	err := client.ResetUsage(context.Background(), "lic-1")
	assert.ErrorIs(t, err, ErrTokenRequired)
}
