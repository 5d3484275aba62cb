// internal/middleware/auth_middleware_test.go
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"carelink-service/internal/pkg/authcode"
	"carelink-service/internal/pkg/jwt"
	"carelink-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

const testLogoutPath = "/api/v1/auth/logout"

type stubValidator struct {
	claims *jwt.Claims
	err    error
	calls  int
}

func (v *stubValidator) ValidateToken(ctx context.Context, token string) (*jwt.Claims, error) {
	v.calls++
	if v.err != nil {
		return nil, v.err
	}
	return v.claims, nil
}

// newGateRouter wires a protected route and the logout route behind the gate,
// the same shape the real router uses.
func newGateRouter(v TokenValidator) (*gin.Engine, *int) {
	gin.SetMode(gin.TestMode)

	m := NewAuthMiddleware(v, testLogoutPath)
	r := gin.New()

	logoutHits := 0
	r.GET("/api/v1/auth/me", m.Auth(), func(c *gin.Context) {
		response.Success(c, http.StatusOK, "ok", nil)
	})
	r.POST(testLogoutPath, m.Auth(), func(c *gin.Context) {
		logoutHits++
		response.Success(c, http.StatusOK, "logged out", nil)
	})
	return r, &logoutHits
}

func doRequest(r *gin.Engine, method, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode body %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestGateDeniesMissingToken(t *testing.T) {
	v := &stubValidator{}
	r, _ := newGateRouter(v)

	w := doRequest(r, http.MethodGet, "/api/v1/auth/me", "")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	resp := decodeBody(t, w)
	if resp.Code != string(authcode.CodeMissingToken) {
		t.Errorf("code = %q, want %q", resp.Code, authcode.CodeMissingToken)
	}
	if v.calls != 0 {
		t.Error("validator must not be consulted without a token")
	}
}

func TestGateDeniesExpiredToken(t *testing.T) {
	v := &stubValidator{err: authcode.New(authcode.CodeTokenExpired, nil)}
	r, _ := newGateRouter(v)

	w := doRequest(r, http.MethodGet, "/api/v1/auth/me", "some.expired.token")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	resp := decodeBody(t, w)
	if resp.Code != string(authcode.CodeTokenExpired) {
		t.Errorf("code = %q, want %q", resp.Code, authcode.CodeTokenExpired)
	}
}

func TestGateDeniesDisabledAccount(t *testing.T) {
	v := &stubValidator{err: authcode.New(authcode.CodeAccountDisabled, nil)}
	r, _ := newGateRouter(v)

	w := doRequest(r, http.MethodGet, "/api/v1/auth/me", "valid.looking.token")

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestGateLockedCarriesRemainingHours(t *testing.T) {
	v := &stubValidator{err: authcode.Locked(2)}
	r, _ := newGateRouter(v)

	w := doRequest(r, http.MethodGet, "/api/v1/auth/me", "tok")

	if w.Code != http.StatusLocked {
		t.Fatalf("status = %d, want 423", w.Code)
	}
	resp := decodeBody(t, w)
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected data payload, got %v", resp.Data)
	}
	if hours, _ := data["remaining_hours"].(float64); hours != 2 {
		t.Errorf("remaining_hours = %v, want 2", data["remaining_hours"])
	}
}

func TestGateAdmitsValidToken(t *testing.T) {
	v := &stubValidator{claims: &jwt.Claims{UserID: 9, Email: "a@b.com", Role: "user"}}
	r, _ := newGateRouter(v)

	w := doRequest(r, http.MethodGet, "/api/v1/auth/me", "good.token.here")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}
}

// The logout route is the one place auth failures never block the request.

func TestLogoutRouteAdmitsMissingToken(t *testing.T) {
	v := &stubValidator{}
	r, hits := newGateRouter(v)

	w := doRequest(r, http.MethodPost, testLogoutPath, "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if *hits != 1 {
		t.Error("logout handler should have run")
	}
}

func TestLogoutRouteAdmitsExpiredToken(t *testing.T) {
	v := &stubValidator{err: authcode.New(authcode.CodeTokenExpired, nil)}
	r, hits := newGateRouter(v)

	w := doRequest(r, http.MethodPost, testLogoutPath, "expired.token.here")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if *hits != 1 {
		t.Error("logout handler should have run despite the expired token")
	}
}

func TestLogoutRouteAdmitsRevokedSession(t *testing.T) {
	v := &stubValidator{err: authcode.New(authcode.CodeGenericAuthError, nil)}
	r, hits := newGateRouter(v)

	w := doRequest(r, http.MethodPost, testLogoutPath, "revoked.token.here")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if *hits != 1 {
		t.Error("logout handler should have run despite the revoked session")
	}
}

func TestOtherRoutesNotAffectedByOverride(t *testing.T) {
	v := &stubValidator{err: authcode.New(authcode.CodeTokenExpired, nil)}
	r, _ := newGateRouter(v)

	// Same failure, non-logout route: still denied.
	w := doRequest(r, http.MethodGet, "/api/v1/auth/me", "expired.token.here")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)

	m := NewAuthMiddleware(&stubValidator{claims: &jwt.Claims{UserID: 1, Role: "user"}}, testLogoutPath)
	r := gin.New()
	r.GET("/admin", m.Auth(), m.RequireRole("admin"), func(c *gin.Context) {
		response.Success(c, http.StatusOK, "ok", nil)
	})

	w := doRequest(r, http.MethodGet, "/admin", "tok")
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}

	mAdmin := NewAuthMiddleware(&stubValidator{claims: &jwt.Claims{UserID: 1, Role: "admin"}}, testLogoutPath)
	r2 := gin.New()
	r2.GET("/admin", mAdmin.Auth(), mAdmin.RequireRole("admin"), func(c *gin.Context) {
		response.Success(c, http.StatusOK, "ok", nil)
	})

	w2 := doRequest(r2, http.MethodGet, "/admin", "tok")
	if w2.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w2.Code)
	}
}

func TestExtractTokenFormats(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"bearer", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"no scheme", "abc123", ""},
		{"wrong scheme", "Basic abc123", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			if got := extractToken(c); got != tt.want {
				t.Errorf("extractToken() = %q, want %q", got, tt.want)
			}
		})
	}
}
