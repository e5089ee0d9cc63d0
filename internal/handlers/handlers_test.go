package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm-acme-shop/acme-ops-portal/internal/auth"
	"github.com/tm-acme-shop/acme-ops-portal/internal/config"
	"github.com/tm-acme-shop/acme-ops-portal/internal/errors"
	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
	"github.com/tm-acme-shop/acme-ops-portal/internal/repository/repotest"
	"github.com/tm-acme-shop/acme-ops-portal/internal/service"
	"github.com/tm-acme-shop/acme-ops-portal/internal/sso"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newBareHandlers(cfg *config.Config, checks ...ReadinessCheck) *Handlers {
	if cfg == nil {
		cfg = &config.Config{ServiceName: "ops-portal", ServiceVersion: "test"}
	}
	return &Handlers{
		config: cfg,
		checks: checks,
		logger: logging.NewLoggerV2("handlers-test"),
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"not found", errors.ErrNotFound, http.StatusNotFound, "Resource not found"},
		{"wrapped not found", fmt.Errorf("get user 9: %w", errors.ErrNotFound), http.StatusNotFound, "Resource not found"},
		{"bad credentials", errors.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid credentials"},
		{"inactive", errors.ErrUserInactive, http.StatusForbidden, "User account is inactive"},
		{"forbidden", errors.ErrForbidden, http.StatusForbidden, "Forbidden"},
		{"validation", service.ErrCannotDeleteSelf, http.StatusBadRequest, service.ErrCannotDeleteSelf.Error()},
		{"conflict", errors.ErrConflict, http.StatusBadRequest, "Username already exists"},
		{"expired token", auth.ErrExpiredToken, http.StatusUnauthorized, "Invalid or expired token"},
		{"missing session", auth.ErrSessionNotFound, http.StatusUnauthorized, "Invalid or expired token"},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError, "Internal server error"},
	}

	h := newBareHandlers(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			h.handleError(c, tt.err)

			assert.Equal(t, tt.status, w.Code)
			resp := decodeError(t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.message, resp.Error)
		})
	}
}

func TestSSOFailure(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"invalid op", service.ErrSSOInvalidOp, http.StatusBadRequest, ssoErrInvalidOp},
		{"missing params", service.ErrSSOMissingParams, http.StatusBadRequest, ssoErrMissingParams},
		{"signature", &service.SSOError{Reason: sso.ReasonSignature, Err: sso.ErrSignatureMismatch}, http.StatusUnauthorized, ssoErrAuthFailed},
		{"expired", &service.SSOError{Reason: sso.ReasonDecode, Err: sso.ErrExpired}, http.StatusUnauthorized, ssoErrAuthFailed},
		{"unknown user", fmt.Errorf("lookup: %w", errors.ErrNotFound), http.StatusNotFound, ssoErrUserNotFound},
		{"disabled user", errors.ErrUserInactive, http.StatusForbidden, ssoErrUserDisabled},
		{"store failure", errors.New("redis: connection refused"), http.StatusInternalServerError, ssoErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ssoFailure(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc.def", "abc.def"},
		{"bearer   abc.def ", "abc.def"},
		{"Basic dXNlcjpwYXNz", ""},
		{"abc.def", ""},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractToken(c))
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := newBareHandlers(nil)

	withClaims := func(claims *auth.JWTClaims) gin.HandlerFunc {
		return func(c *gin.Context) {
			if claims != nil {
				c.Set(claimsKey, claims)
			}
			c.Next()
		}
	}

	tests := []struct {
		name   string
		claims *auth.JWTClaims
		status int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"plain user", &auth.JWTClaims{UserID: 2, Role: models.RoleUser}, http.StatusForbidden},
		{"auditor", &auth.JWTClaims{UserID: 3, Role: models.RoleAuditor}, http.StatusOK},
		{"admin", &auth.JWTClaims{UserID: 1, Role: models.RoleAdmin}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/audit", withClaims(tt.claims), h.RequireRole(models.RoleAdmin, models.RoleAuditor), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/audit", nil))
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRequireSystemAccess(t *testing.T) {
	systems := repotest.NewSystemStore(time.Now())
	grafana, err := systems.Create(context.Background(), &models.SystemRequest{
		Name:   "grafana",
		URL:    "https://grafana.example.com",
		Status: models.SystemActive,
	})
	require.NoError(t, err)
	require.NoError(t, systems.Grant(context.Background(), 2, []int64{grafana.ID}, 1))

	h := newBareHandlers(nil)
	h.systemService = service.NewSystemService(systems, nil, nil, nil)

	user := &auth.JWTClaims{UserID: 2, Role: models.RoleUser}
	tests := []struct {
		name   string
		claims *auth.JWTClaims
		path   string
		status int
	}{
		{"anonymous", nil, fmt.Sprintf("/systems/%d", grafana.ID), http.StatusUnauthorized},
		{"bad id", user, "/systems/abc", http.StatusBadRequest},
		{"zero id", user, "/systems/0", http.StatusBadRequest},
		{"granted", user, fmt.Sprintf("/systems/%d", grafana.ID), http.StatusOK},
		{"not granted", &auth.JWTClaims{UserID: 5, Role: models.RoleUser}, fmt.Sprintf("/systems/%d", grafana.ID), http.StatusForbidden},
		{"auditor", &auth.JWTClaims{UserID: 3, Role: models.RoleAuditor}, "/systems/99", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/systems/:id", func(c *gin.Context) {
				if tt.claims != nil {
					c.Set(claimsKey, tt.claims)
				}
				c.Next()
			}, h.RequireSystemAccess("id"), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestParseIDParam(t *testing.T) {
	h := newBareHandlers(nil)

	for _, raw := range []string{"abc", "0", "-4", "1.5"} {
		t.Run(raw, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/api/users/"+raw, nil)
			c.Params = gin.Params{{Key: "id", Value: raw}}

			_, ok := h.parseIDParam(c, "id")
			assert.False(t, ok)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "Invalid id", decodeError(t, w).Error)
		})
	}

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Params = gin.Params{{Key: "id", Value: "42"}}
	id, ok := h.parseIDParam(c, "id")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
}

func TestParseIntQuery(t *testing.T) {
	h := newBareHandlers(nil)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/?limit=20&offset=abc", nil)

	assert.Equal(t, 20, h.parseIntQuery(c, "limit", 100))
	assert.Equal(t, 7, h.parseIntQuery(c, "offset", 7))
	assert.Equal(t, 3, h.parseIntQuery(c, "missing", 3))
}

func TestReady(t *testing.T) {
	ok := ReadinessCheck{Name: "postgres", Ping: func(ctx context.Context) error { return nil }}
	down := ReadinessCheck{Name: "redis", Ping: func(ctx context.Context) error { return errors.New("dial tcp: connection refused") }}

	t.Run("all dependencies up", func(t *testing.T) {
		router := gin.New()
		router.GET("/ready", newBareHandlers(nil, ok).Ready)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp ReadyResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Ready)
		assert.Equal(t, map[string]string{"postgres": "ok"}, resp.Checks)
	})

	t.Run("one dependency down", func(t *testing.T) {
		router := gin.New()
		router.GET("/ready", newBareHandlers(nil, ok, down).Ready)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var resp ReadyResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Ready)
		assert.Equal(t, "ok", resp.Checks["postgres"])
		assert.Contains(t, resp.Checks["redis"], "connection refused")
	})
}

func TestHealth(t *testing.T) {
	router := gin.New()
	router.GET("/health", newBareHandlers(nil).Health)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"ops-portal","version":"test"}`, w.Body.String())
}

func TestDebugInfoDisabled(t *testing.T) {
	router := gin.New()
	router.GET("/debug/info", newBareHandlers(nil).DebugInfo)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/info", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSSORedirectPageEscapesValues(t *testing.T) {
	var buf bytes.Buffer
	err := ssoRedirectPage.Execute(&buf, ssoPageData{
		AccessToken:  "tok</script><script>alert(1)</script>",
		RefreshToken: "refresh'token",
		User: ssoPageUser{
			ID:       7,
			Username: "alice",
			Role:     "user",
		},
		RedirectURL: "/dashboard",
	})
	require.NoError(t, err)

	page := buf.String()
	assert.NotContains(t, page, "<script>alert(1)")
	assert.NotContains(t, page, "'refresh'token'")
	assert.Contains(t, page, `"/dashboard"`)
	assert.Contains(t, page, `"username":"alice"`)
}
