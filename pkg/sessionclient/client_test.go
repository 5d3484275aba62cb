// pkg/sessionclient/client_test.go
package sessionclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"carelink-service/internal/domain/auth"
	"carelink-service/internal/pkg/authcode"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// ========== Helpers ==========

type recordingNav struct {
	mu    sync.Mutex
	paths []string
}

func (n *recordingNav) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

func (n *recordingNav) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.paths) == 0 {
		return ""
	}
	return n.paths[len(n.paths)-1]
}

type hitCounter struct {
	mu   sync.Mutex
	hits map[string]int
}

func newHitCounter() *hitCounter { return &hitCounter{hits: map[string]int{}} }

func (h *hitCounter) inc(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hits[path]++
}

func (h *hitCounter) get(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[path]
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, message, code string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": success,
		"message": message,
		"code":    code,
		"data":    data,
	})
}

func loginPayload(token, refresh, role string, expiresAt time.Time) auth.LoginResponse {
	return auth.LoginResponse{
		AccessToken:  token,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(time.Until(expiresAt).Seconds()),
		ExpiresAt:    expiresAt,
		User: auth.UserInfo{
			ID:       1,
			Email:    "jane@example.com",
			FullName: "Jane Doe",
			Role:     role,
			IsActive: true,
		},
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// signedTestToken mints a token whose only job is to carry an exp claim.
func signedTestToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.RegisteredClaims{
		ExpiresAt: gojwt.NewNumericDate(exp),
	})
	signed, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func newTestClient(t *testing.T, baseURL string, nav Navigator, store Store, mutate func(*Options)) *Client {
	t.Helper()
	opts := Options{
		BaseURL:   baseURL,
		Navigator: nav,
		Store:     store,
	}
	if mutate != nil {
		mutate(&opts)
	}
	c := New(opts)
	t.Cleanup(c.Close)
	return c
}

// ========== Login ==========

func TestLoginInstallsSessionAndRedirectsByRole(t *testing.T) {
	tests := []struct {
		role string
		want string
	}{
		{auth.RoleAdmin, AdminLanding},
		{auth.RoleUser, HomeLanding},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != loginPath {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				writeEnvelope(w, http.StatusOK, true, "ok", "",
					loginPayload("access-1", "refresh-1", tt.role, time.Now().Add(time.Hour)))
			}))
			defer srv.Close()

			nav := &recordingNav{}
			store := NewMemoryStore()
			c := newTestClient(t, srv.URL, nav, store, nil)

			if err := c.Login(context.Background(), "jane@example.com", "s3cretpass"); err != nil {
				t.Fatalf("Login: %v", err)
			}

			state := c.State()
			if !state.IsAuthenticated() {
				t.Fatal("expected authenticated state")
			}
			if state.Token != "access-1" {
				t.Errorf("Token = %q, want access-1", state.Token)
			}
			if nav.last() != tt.want {
				t.Errorf("redirect = %q, want %q", nav.last(), tt.want)
			}

			token, userJSON, start, ok := store.Load()
			if !ok {
				t.Fatal("session not persisted")
			}
			if token != "access-1" {
				t.Errorf("stored token = %q, want access-1", token)
			}
			if start.IsZero() {
				t.Error("sessionStart not persisted")
			}
			var u auth.UserInfo
			if err := json.Unmarshal(userJSON, &u); err != nil || u.Role != tt.role {
				t.Errorf("stored user = %s (err %v), want role %s", userJSON, err, tt.role)
			}
		})
	}
}

func TestLoginFailureLeavesStateUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnauthorized, false, "invalid email or password",
			string(authcode.CodeInvalidCredentials), nil)
	}))
	defer srv.Close()

	nav := &recordingNav{}
	store := NewMemoryStore()
	c := newTestClient(t, srv.URL, nav, store, nil)

	err := c.Login(context.Background(), "jane@example.com", "wrong")
	if got := authcode.CodeOf(err); got != authcode.CodeInvalidCredentials {
		t.Errorf("code = %q, want %q", got, authcode.CodeInvalidCredentials)
	}

	if c.State().IsAuthenticated() {
		t.Error("failed login must not authenticate")
	}
	if _, _, _, ok := store.Load(); ok {
		t.Error("failed login must not persist anything")
	}
	if nav.last() != "" {
		t.Errorf("failed login must not redirect, got %q", nav.last())
	}
}

func TestLoginLockedSurfacesRemainingHours(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusLocked, false, "account is temporarily locked",
			string(authcode.CodeTemporarilyLocked), map[string]int{"remaining_hours": 2})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &recordingNav{}, NewMemoryStore(), nil)

	err := c.Login(context.Background(), "jane@example.com", "s3cretpass")
	if got := authcode.CodeOf(err); got != authcode.CodeTemporarilyLocked {
		t.Errorf("code = %q, want %q", got, authcode.CodeTemporarilyLocked)
	}
}

// ========== Refresh ==========

func TestRefreshWithoutSessionMakesNoNetworkCall(t *testing.T) {
	hits := newHitCounter()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.inc(r.URL.Path)
		writeEnvelope(w, http.StatusOK, true, "ok", "", nil)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &recordingNav{}, NewMemoryStore(), nil)

	if err := c.Refresh(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
	if hits.get(refreshPath) != 0 {
		t.Error("refresh without a session must not touch the network")
	}
}

func TestRefreshRotatesTokenWithoutMovingSessionStart(t *testing.T) {
	hits := newHitCounter()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.inc(r.URL.Path)
		switch r.URL.Path {
		case loginPath:
			writeEnvelope(w, http.StatusOK, true, "ok", "",
				loginPayload("access-1", "refresh-1", auth.RoleUser, time.Now().Add(time.Hour)))
		case refreshPath:
			var req auth.RefreshRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.RefreshToken != "refresh-1" {
				t.Errorf("refresh token = %q, want refresh-1", req.RefreshToken)
			}
			writeEnvelope(w, http.StatusOK, true, "ok", "",
				loginPayload("access-2", "refresh-1", auth.RoleUser, time.Now().Add(time.Hour)))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &recordingNav{}, NewMemoryStore(), nil)

	if err := c.Login(context.Background(), "jane@example.com", "s3cretpass"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	startBefore := c.SessionStart()

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if got := c.State().Token; got != "access-2" {
		t.Errorf("Token = %q, want access-2", got)
	}
	if !c.SessionStart().Equal(startBefore) {
		t.Error("refresh must not move sessionStart; only a fresh login does")
	}
}

func TestRefreshUnauthorizedForcesLogout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case loginPath:
			writeEnvelope(w, http.StatusOK, true, "ok", "",
				loginPayload("access-1", "refresh-1", auth.RoleUser, time.Now().Add(time.Hour)))
		case refreshPath:
			writeEnvelope(w, http.StatusUnauthorized, false, "refresh rejected",
				string(authcode.CodeGenericAuthError), nil)
		}
	}))
	defer srv.Close()

	nav := &recordingNav{}
	store := NewMemoryStore()
	c := newTestClient(t, srv.URL, nav, store, nil)

	if err := c.Login(context.Background(), "jane@example.com", "s3cretpass"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh rejection to surface an error")
	}

	if c.State().IsAuthenticated() {
		t.Error("rejected refresh must tear the session down")
	}
	if _, _, _, ok := store.Load(); ok {
		t.Error("store must be cleared after rejected refresh")
	}
	if nav.last() != LoginRoute {
		t.Errorf("redirect = %q, want %q", nav.last(), LoginRoute)
	}
}

func TestRefreshNetworkErrorPreservesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, true, "ok", "",
			loginPayload("access-1", "refresh-1", auth.RoleUser, time.Now().Add(time.Hour)))
	}))

	store := NewMemoryStore()
	c := newTestClient(t, srv.URL, &recordingNav{}, store, nil)

	if err := c.Login(context.Background(), "jane@example.com", "s3cretpass"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Server goes away; the token in hand may still be valid.
	srv.Close()

	err := c.Refresh(context.Background())
	if got := authcode.CodeOf(err); got != authcode.CodeNetworkUnreachable {
		t.Errorf("code = %q, want %q", got, authcode.CodeNetworkUnreachable)
	}

	if !c.State().IsAuthenticated() {
		t.Error("transport failure must preserve the session")
	}
	if _, _, _, ok := store.Load(); !ok {
		t.Error("store must be untouched after transport failure")
	}
}

func TestLateRefreshCannotResurrectLoggedOutSession(t *testing.T) {
	refreshStarted := make(chan struct{})
	releaseRefresh := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case loginPath:
			writeEnvelope(w, http.StatusOK, true, "ok", "",
				loginPayload("access-1", "refresh-1", auth.RoleUser, time.Now().Add(time.Hour)))
		case refreshPath:
			close(refreshStarted)
			<-releaseRefresh
			writeEnvelope(w, http.StatusOK, true, "ok", "",
				loginPayload("access-2", "refresh-1", auth.RoleUser, time.Now().Add(time.Hour)))
		case logoutPath:
			writeEnvelope(w, http.StatusOK, true, "ok", "", nil)
		}
	}))
	defer srv.Close()

	nav := &recordingNav{}
	store := NewMemoryStore()
	c := newTestClient(t, srv.URL, nav, store, nil)

	if err := c.Login(context.Background(), "jane@example.com", "s3cretpass"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	refreshDone := make(chan error, 1)
	go func() {
		refreshDone <- c.Refresh(context.Background())
	}()

	// Logout lands while the refresh response is still in flight; the
	// response arriving afterwards must be dropped, not installed.
	<-refreshStarted
	c.Logout(context.Background())
	close(releaseRefresh)

	if err := <-refreshDone; err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if c.State().IsAuthenticated() {
		t.Error("late refresh response resurrected a logged-out session")
	}
	if _, _, _, ok := store.Load(); ok {
		t.Error("store must stay cleared after the late response lands")
	}
	if nav.last() != LoginRoute {
		t.Errorf("redirect = %q, want %q", nav.last(), LoginRoute)
	}
}

func TestRefreshServerErrorPreservesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case loginPath:
			writeEnvelope(w, http.StatusOK, true, "ok", "",
				loginPayload("access-1", "refresh-1", auth.RoleUser, time.Now().Add(time.Hour)))
		case refreshPath:
			writeEnvelope(w, http.StatusServiceUnavailable, false, "maintenance",
				string(authcode.CodeMaintenanceMode), nil)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &recordingNav{}, NewMemoryStore(), nil)

	if err := c.Login(context.Background(), "jane@example.com", "s3cretpass"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	err := c.Refresh(context.Background())
	if got := authcode.CodeOf(err); got != authcode.CodeMaintenanceMode {
		t.Errorf("code = %q, want %q", got, authcode.CodeMaintenanceMode)
	}
	if !c.State().IsAuthenticated() {
		t.Error("a transient server failure must preserve the session")
	}
}

// ========== Timers ==========

func TestPreventiveDeadlineForcesLogout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, true, "ok", "",
			loginPayload("access-1", "refresh-1", auth.RoleUser, time.Now().Add(60*time.Millisecond)))
	}))
	defer srv.Close()

	nav := &recordingNav{}
	store := NewMemoryStore()
	c := newTestClient(t, srv.URL, nav, store, func(o *Options) {
		o.PreventiveWindow = time.Millisecond
	})

	if err := c.Login(context.Background(), "jane@example.com", "s3cretpass"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// No manual refresh happens, so the deadline must expire the session.
	waitUntil(t, 2*time.Second, func() bool {
		return !c.State().IsAuthenticated()
	})

	if got := authcode.CodeOf(c.State().Err); got != authcode.CodeTokenExpired {
		t.Errorf("state error code = %q, want %q", got, authcode.CodeTokenExpired)
	}
	if _, _, _, ok := store.Load(); ok {
		t.Error("store must be cleared on expiry")
	}
	if nav.last() != LoginRoute {
		t.Errorf("redirect = %q, want %q", nav.last(), LoginRoute)
	}
}

func TestManualRefreshDisarmsOldDeadline(t *testing.T) {
	var mu sync.Mutex
	expiry := 80 * time.Millisecond

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		exp := time.Now().Add(expiry)
		mu.Unlock()
		writeEnvelope(w, http.StatusOK, true, "ok", "",
			loginPayload("access-n", "refresh-1", auth.RoleUser, exp))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &recordingNav{}, NewMemoryStore(), func(o *Options) {
		o.PreventiveWindow = time.Millisecond
	})

	if err := c.Login(context.Background(), "jane@example.com", "s3cretpass"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Next token lives much longer; refreshing before the first deadline
	// must reschedule it rather than letting the stale timer fire.
	mu.Lock()
	expiry = time.Hour
	mu.Unlock()

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	if !c.State().IsAuthenticated() {
		t.Error("stale deadline fired after a successful refresh")
	}
}

func TestAbsoluteAgeCapForcesLogout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, true, "ok", "",
			loginPayload("access-1", "refresh-1", auth.RoleUser, time.Now().Add(time.Hour)))
	}))
	defer srv.Close()

	nav := &recordingNav{}
	c := newTestClient(t, srv.URL, nav, NewMemoryStore(), func(o *Options) {
		o.MaxSessionAge = 30 * time.Millisecond
		o.AgeCheckPeriod = 10 * time.Millisecond
	})

	if err := c.Login(context.Background(), "jane@example.com", "s3cretpass"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// The token is valid for an hour; the age ceiling wins anyway.
	waitUntil(t, 2*time.Second, func() bool {
		return !c.State().IsAuthenticated()
	})

	if nav.last() != LoginRoute {
		t.Errorf("redirect = %q, want %q", nav.last(), LoginRoute)
	}
}

// ========== Logout ==========

func TestLogoutClearsLocallyEvenWhenServerFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case loginPath:
			writeEnvelope(w, http.StatusOK, true, "ok", "",
				loginPayload("access-1", "refresh-1", auth.RoleUser, time.Now().Add(time.Hour)))
		case logoutPath:
			writeEnvelope(w, http.StatusInternalServerError, false, "boom", "", nil)
		}
	}))
	defer srv.Close()

	nav := &recordingNav{}
	store := NewMemoryStore()
	c := newTestClient(t, srv.URL, nav, store, nil)

	if err := c.Login(context.Background(), "jane@example.com", "s3cretpass"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	c.Logout(context.Background())

	if c.State().IsAuthenticated() {
		t.Error("logout must clear local state regardless of server outcome")
	}
	if _, _, _, ok := store.Load(); ok {
		t.Error("logout must clear the store")
	}
	if nav.last() != LoginRoute {
		t.Errorf("redirect = %q, want %q", nav.last(), LoginRoute)
	}
}

// ========== Password Reset ==========

func TestResetPasswordEnforcesMinLengthLocally(t *testing.T) {
	hits := newHitCounter()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.inc(r.URL.Path)
		writeEnvelope(w, http.StatusOK, true, "ok", "", nil)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, &recordingNav{}, NewMemoryStore(), nil)

	if err := c.ResetPassword(context.Background(), "tok", "short"); err == nil {
		t.Fatal("expected short password to be rejected")
	}
	if hits.get(resetPasswordPath) != 0 {
		t.Error("length check must happen before any network call")
	}
}

func TestResetPasswordSuccessRedirectsToLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, true, "password updated", "", nil)
	}))
	defer srv.Close()

	nav := &recordingNav{}
	c := newTestClient(t, srv.URL, nav, NewMemoryStore(), nil)

	if err := c.ResetPassword(context.Background(), "tok", "longenough"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if nav.last() != LoginRoute {
		t.Errorf("redirect = %q, want %q", nav.last(), LoginRoute)
	}
}

// ========== Restore ==========

func TestRestoreRehydratesValidSession(t *testing.T) {
	store := NewMemoryStore()
	token := signedTestToken(t, time.Now().Add(time.Hour))
	userJSON, _ := json.Marshal(auth.UserInfo{ID: 1, Email: "jane@example.com", Role: auth.RoleUser})
	if err := store.Save(token, userJSON, time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	c := newTestClient(t, "http://irrelevant", &recordingNav{}, store, nil)

	if !c.Restore() {
		t.Fatal("expected restore to succeed")
	}
	state := c.State()
	if !state.IsAuthenticated() {
		t.Fatal("restored session should authenticate")
	}
	if state.User.Email != "jane@example.com" {
		t.Errorf("Email = %q, want jane@example.com", state.User.Email)
	}
}

func TestRestoreRejectsExpiredToken(t *testing.T) {
	store := NewMemoryStore()
	token := signedTestToken(t, time.Now().Add(-time.Minute))
	userJSON, _ := json.Marshal(auth.UserInfo{ID: 1})
	if err := store.Save(token, userJSON, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	c := newTestClient(t, "http://irrelevant", &recordingNav{}, store, nil)

	if c.Restore() {
		t.Fatal("expired token must not restore")
	}
	if _, _, _, ok := store.Load(); ok {
		t.Error("stale entry must be cleared")
	}
}

func TestRestoreEmptyStore(t *testing.T) {
	c := newTestClient(t, "http://irrelevant", &recordingNav{}, NewMemoryStore(), nil)
	if c.Restore() {
		t.Fatal("nothing stored, restore must fail")
	}
}

// ========== Store ==========

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()

	if _, _, _, ok := s.Load(); ok {
		t.Fatal("fresh store should be empty")
	}

	start := time.Now()
	if err := s.Save("tok", []byte(`{"id":1}`), start); err != nil {
		t.Fatalf("Save: %v", err)
	}

	token, userJSON, got, ok := s.Load()
	if !ok || token != "tok" || string(userJSON) != `{"id":1}` || !got.Equal(start) {
		t.Errorf("Load() = %q %s %v %v", token, userJSON, got, ok)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, _, _, ok := s.Load(); ok {
		t.Error("cleared store should be empty")
	}
}
