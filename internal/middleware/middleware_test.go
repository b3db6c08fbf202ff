package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"flowgate/internal/ctx"
	"flowgate/internal/shared"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeUsers struct {
	keys  map[string]uint64
	calls int
}

func (f *fakeUsers) GetUserMetadataFromKey(_ context.Context, apiKey string) (*shared.UserMetadata, error) {
	f.calls++
	id, ok := f.keys[apiKey]
	if !ok {
		return nil, shared.ErrUnauthorized
	}
	return &shared.UserMetadata{UserID: id, APIKey: apiKey}, nil
}

var validKey = strings.Repeat("k", shared.APIKeyLength)

func newServer(users UserLookup, handler echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	umw := NewUserMiddleware(users)
	g := e.Group("", NewRecoverMiddleware(zap.NewNop().Sugar()), NewTrackMiddleware(zap.NewNop().Sugar()))
	g.POST("/protected", handler, umw.ExtractUser, umw.RequireUser)
	g.GET("/panic", func(echo.Context) error { panic("boom") })
	return e
}

func TestRequireUser(t *testing.T) {
	users := &fakeUsers{keys: map[string]uint64{validKey: 42}}
	var seen *ctx.Context
	e := newServer(users, func(cc echo.Context) error {
		seen = cc.(*ctx.Context)
		return cc.NoContent(http.StatusOK)
	})

	tests := []struct {
		name    string
		auth    string
		status  int
		message string
	}{
		{"missing header", "", 401, "missing authorization header"},
		{"wrong scheme", "Basic " + validKey, 401, "invalid authentication format"},
		{"short key", "Bearer abc", 401, "invalid API key length"},
		{"unknown key", "Bearer " + strings.Repeat("x", shared.APIKeyLength), 401, "unauthorized"},
		{"valid", "Bearer " + validKey, 200, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodPost, "/protected", strings.NewReader("{}"))
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status != 200 {
				assert.Nil(t, seen)
				var body shared.ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.message, body.Error)
				assert.Equal(t, "AuthError", body.Type)
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, uint64(42), seen.User.UserID)
			assert.Equal(t, uint64(42), seen.LogValues.UserID)
		})
	}
}

func TestTrackMiddleware_RequestID(t *testing.T) {
	var seen *ctx.Context
	e := newServer(&fakeUsers{keys: map[string]uint64{validKey: 1}}, func(cc echo.Context) error {
		seen = cc.(*ctx.Context)
		return cc.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+validKey)
	req.Header.Set(shared.RequestIDHeader, "client-123")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.NotNil(t, seen)
	assert.True(t, strings.HasPrefix(seen.Reqid, "req_"))
	assert.Equal(t, seen.Reqid, rec.Header().Get(shared.RequestIDHeader))
	assert.Equal(t, "client-123", seen.LogValues.ExternalID)
}

func TestRecoverMiddleware(t *testing.T) {
	e := newServer(&fakeUsers{}, func(cc echo.Context) error { return cc.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestUserManager_CacheHitSkipsDatabase(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	require.NoError(t, mr.Set("flowgate:user:apikey:"+validKey, `{"email":"a@b.c","user_id":12}`))

	// no database: a cache miss would panic on the nil pool
	users := NewUserManager(client, nil, zap.NewNop().Sugar())
	user, err := users.GetUserMetadataFromKey(context.Background(), validKey)

	require.NoError(t, err)
	assert.Equal(t, uint64(12), user.UserID)
	assert.Equal(t, "a@b.c", user.Email)
	assert.Equal(t, validKey, user.APIKey)
}
