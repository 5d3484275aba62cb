// pkg/sessionclient/client.go
package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"carelink-service/internal/domain/auth"
	"carelink-service/internal/pkg/authcode"

	gojwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// API routes consumed by the client.
const (
	loginPath          = "/api/v1/auth/login"
	registerPath       = "/api/v1/auth/register"
	refreshPath        = "/api/v1/auth/refresh"
	logoutPath         = "/api/v1/auth/logout"
	mePath             = "/api/v1/auth/me"
	forgotPasswordPath = "/api/v1/auth/forgot-password"
	resetPasswordPath  = "/api/v1/auth/reset-password"
)

// Redirect targets. Role drives the post-login landing page.
const (
	AdminLanding = "/admin"
	HomeLanding  = "/"
	LoginRoute   = "/login"
)

const minPasswordLength = 8

// ErrNoSession is returned by Refresh when no token is stored; no network
// call is made in that case.
var ErrNoSession = errors.New("no active session")

// Navigator performs redirects after auth transitions.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to the Navigator interface.
type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

// State is the observable session state.
type State struct {
	User      *auth.UserInfo
	Token     string
	IsLoading bool
	Err       error
}

// IsAuthenticated reports whether a user and token are both present.
func (s State) IsAuthenticated() bool {
	return s.User != nil && s.Token != ""
}

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Store      Store
	Navigator  Navigator
	Logger     *zap.Logger

	// PreventiveWindow is how long before token expiry the refresh deadline
	// fires. Default 2 minutes.
	PreventiveWindow time.Duration
	// MaxSessionAge is the absolute ceiling on session age measured from
	// login, independent of token rotation. Default 30 minutes.
	MaxSessionAge time.Duration
	// AgeCheckPeriod is how often the age ceiling is evaluated. Default 5
	// minutes.
	AgeCheckPeriod time.Duration

	// OnChange is invoked after every state transition with a snapshot.
	OnChange func(State)

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Client owns the current session: it persists the token set, schedules the
// preventive refresh deadline and the absolute-age watch, and exposes the
// login/logout/refresh/register/password-reset operations.
type Client struct {
	baseURL   string
	httpc     *http.Client
	store     Store
	navigator Navigator
	logger    *zap.Logger
	onChange  func(State)
	now       func() time.Time

	preventiveWindow time.Duration
	maxSessionAge    time.Duration
	ageCheckPeriod   time.Duration

	mu           sync.Mutex
	state        State
	refreshToken string
	sessionStart time.Time
	expiresAt    time.Time
	gen          uint64 // bumped on every install/clear; stale refreshes are dropped

	refreshTimer *time.Timer
	ageDone      chan struct{}

	sf singleflight.Group
}

// New builds a Client. It does not touch the network.
func New(opts Options) *Client {
	c := &Client{
		baseURL:          opts.BaseURL,
		httpc:            opts.HTTPClient,
		store:            opts.Store,
		navigator:        opts.Navigator,
		logger:           opts.Logger,
		onChange:         opts.OnChange,
		now:              opts.Now,
		preventiveWindow: opts.PreventiveWindow,
		maxSessionAge:    opts.MaxSessionAge,
		ageCheckPeriod:   opts.AgeCheckPeriod,
	}
	if c.httpc == nil {
		c.httpc = &http.Client{Timeout: 15 * time.Second}
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.navigator == nil {
		c.navigator = NavigatorFunc(func(string) {})
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.preventiveWindow <= 0 {
		c.preventiveWindow = 2 * time.Minute
	}
	if c.maxSessionAge <= 0 {
		c.maxSessionAge = 30 * time.Minute
	}
	if c.ageCheckPeriod <= 0 {
		c.ageCheckPeriod = 5 * time.Minute
	}
	return c
}

// State returns a snapshot of the observable session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionStart returns when the current session began, or zero.
func (c *Client) SessionStart() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionStart
}

// ========== Restore ==========

// Restore rehydrates a previously persisted session, e.g. after a process
// restart. The refresh token is never persisted, so a restored session can
// only live until its access token's preventive deadline. Returns false
// when nothing usable is stored; stale entries are cleared.
func (c *Client) Restore() bool {
	token, userJSON, sessionStart, ok := c.store.Load()
	if !ok || token == "" {
		return false
	}

	var user auth.UserInfo
	if err := json.Unmarshal(userJSON, &user); err != nil {
		c.store.Clear()
		return false
	}

	exp, err := tokenExpiry(token)
	if err != nil || !c.now().Before(exp) || c.now().Sub(sessionStart) > c.maxSessionAge {
		c.store.Clear()
		return false
	}

	c.mu.Lock()
	c.state = State{User: &user, Token: token}
	c.refreshToken = ""
	c.sessionStart = sessionStart
	c.expiresAt = exp
	c.gen++
	c.cancelTimersLocked()
	c.scheduleRefreshDeadlineLocked()
	c.startAgeWatchLocked()
	snapshot := c.state
	c.mu.Unlock()

	c.notify(snapshot)
	return true
}

// tokenExpiry reads the exp claim without verifying the signature. The
// client holds no key material; the server re-verifies on every request.
func tokenExpiry(token string) (time.Time, error) {
	claims := gojwt.RegisteredClaims{}
	if _, _, err := gojwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no expiry")
	}
	return claims.ExpiresAt.Time, nil
}

// ========== Login / Register ==========

// Login exchanges credentials for a session. On success the token set is
// persisted, both timers are scheduled, and the user is redirected by role.
// On failure state is left untouched and the classified error is surfaced.
func (c *Client) Login(ctx context.Context, email, password string) error {
	c.setLoading(true)
	defer c.setLoading(false)

	resp, err := c.postAuth(ctx, loginPath, auth.LoginRequest{Email: email, Password: password})
	if err != nil {
		c.setError(err)
		return err
	}

	c.installSession(resp, true)
	c.redirectByRole(resp.User.Role)
	return nil
}

// Register creates an account and behaves like Login on success.
func (c *Client) Register(ctx context.Context, req auth.RegisterRequest) error {
	c.setLoading(true)
	defer c.setLoading(false)

	resp, err := c.postAuth(ctx, registerPath, req)
	if err != nil {
		c.setError(err)
		return err
	}

	c.installSession(resp, true)
	c.redirectByRole(resp.User.Role)
	return nil
}

// ========== Refresh ==========

// Refresh rotates the access token. Concurrent callers coalesce onto a
// single in-flight request. With no stored token it fails without touching
// the network. A 401 forces logout; a transport failure preserves the
// session optimistically; any other failure is treated as transient.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Token == "" {
		c.mu.Unlock()
		return ErrNoSession
	}
	refreshToken := c.refreshToken
	gen := c.gen
	c.mu.Unlock()

	if refreshToken == "" {
		return ErrNoSession
	}

	_, err, _ := c.sf.Do("refresh", func() (interface{}, error) {
		return nil, c.doRefresh(ctx, refreshToken, gen)
	})
	return err
}

func (c *Client) doRefresh(ctx context.Context, refreshToken string, gen uint64) error {
	body, err := json.Marshal(auth.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+refreshPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpc.Do(req)
	if err != nil {
		// The current token may still be valid; preserve the session and
		// let a later attempt retry.
		return authcode.New(authcode.CodeNetworkUnreachable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusUnauthorized {
		c.forceLogout(authcode.New(authcode.CodeGenericAuthError, errors.New("refresh rejected")))
		return authcode.New(authcode.CodeGenericAuthError, errors.New("refresh rejected"))
	}

	var env envelope
	if err := json.NewDecoder(httpResp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode refresh response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		// Transient server-side failure: keep the session.
		return env.authError()
	}

	var loginResp auth.LoginResponse
	if err := json.Unmarshal(env.Data, &loginResp); err != nil {
		return fmt.Errorf("failed to decode refresh payload: %w", err)
	}

	// Dropped silently when a logout or a newer login landed mid-flight;
	// the staleness check and the install share one mutex acquisition.
	c.installRefreshed(&loginResp, gen)
	return nil
}

// ========== Logout ==========

// Logout notifies the server best-effort, then synchronously clears the
// persisted session, cancels both timers, and redirects to the login route.
// It succeeds locally even when the server call fails.
func (c *Client) Logout(ctx context.Context) {
	c.mu.Lock()
	token := c.state.Token
	c.mu.Unlock()

	if token != "" {
		go c.notifyLogout(token)
	}

	c.clearSession(nil)
	c.navigator.Navigate(LoginRoute)
}

func (c *Client) notifyLogout(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+logoutPath, nil)
	if err != nil {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logger.Debug("logout notify failed", zap.Error(err))
		return
	}
	resp.Body.Close()
}

// ========== Password Reset ==========

// ForgotPassword requests a reset mail. Stateless; the session is untouched.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	_, err := c.postEnvelope(ctx, forgotPasswordPath, auth.ForgotPasswordRequest{Email: email}, "")
	return err
}

// ResetPassword completes a reset. The minimum length is enforced locally
// before any network call; success redirects to the login route.
func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}

	_, err := c.postEnvelope(ctx, resetPasswordPath, auth.ResetPasswordRequest{
		Token:       token,
		NewPassword: newPassword,
	}, "")
	if err != nil {
		return err
	}

	c.navigator.Navigate(LoginRoute)
	return nil
}

// ========== Teardown ==========

// Close cancels both timers without touching the server or the store.
// It is idempotent and safe to call on an already-closed client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelTimersLocked()
}

// ========== Session install / clear ==========

// installSession persists the token set and (re)schedules both timers.
// sessionStart is fixed only on a fresh login; refresh never moves it.
func (c *Client) installSession(resp *auth.LoginResponse, fresh bool) {
	c.mu.Lock()
	c.installLocked(resp, fresh)
	snapshot := c.state
	c.mu.Unlock()

	c.notify(snapshot)
}

// installRefreshed installs a rotated token only if the session that started
// the flight is still current. A logout or newer login bumps the generation,
// so a late refresh response can never resurrect a torn-down session.
func (c *Client) installRefreshed(resp *auth.LoginResponse, gen uint64) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}
	c.installLocked(resp, false)
	snapshot := c.state
	c.mu.Unlock()

	c.notify(snapshot)
	return true
}

func (c *Client) installLocked(resp *auth.LoginResponse, fresh bool) {
	userJSON, err := json.Marshal(resp.User)
	if err != nil {
		userJSON = nil
	}

	if fresh {
		c.sessionStart = c.now()
	}
	user := resp.User
	c.state = State{User: &user, Token: resp.AccessToken}
	c.refreshToken = resp.RefreshToken
	c.expiresAt = resp.ExpiresAt
	c.gen++

	if err := c.store.Save(resp.AccessToken, userJSON, c.sessionStart); err != nil {
		c.logger.Error("failed to persist session", zap.Error(err))
	}

	c.cancelTimersLocked()
	c.scheduleRefreshDeadlineLocked()
	c.startAgeWatchLocked()
}

// clearSession cancels both timers and clears all persisted keys as one unit.
func (c *Client) clearSession(reason error) {
	c.mu.Lock()
	c.cancelTimersLocked()
	if err := c.store.Clear(); err != nil {
		c.logger.Error("failed to clear session store", zap.Error(err))
	}
	c.state = State{Err: reason}
	c.refreshToken = ""
	c.sessionStart = time.Time{}
	c.expiresAt = time.Time{}
	c.gen++
	snapshot := c.state
	c.mu.Unlock()

	c.notify(snapshot)
}

// forceLogout tears the session down after an unrecoverable failure and
// sends the user back to the login route.
func (c *Client) forceLogout(reason error) {
	c.clearSession(reason)
	c.navigator.Navigate(LoginRoute)
}

// ========== Timers ==========

// scheduleRefreshDeadlineLocked arms the single preventive-refresh timer at
// expiresAt - preventiveWindow. If it fires with no refresh having landed,
// the session is declared expired; no blind last-second refresh is attempted.
func (c *Client) scheduleRefreshDeadlineLocked() {
	gen := c.gen
	d := c.expiresAt.Add(-c.preventiveWindow).Sub(c.now())
	if d < 0 {
		d = 0
	}
	c.refreshTimer = time.AfterFunc(d, func() {
		c.mu.Lock()
		stale := c.gen != gen
		c.mu.Unlock()
		if stale {
			return
		}
		c.logger.Info("refresh deadline reached without renewal, expiring session")
		c.forceLogout(authcode.New(authcode.CodeTokenExpired, errors.New("session expired")))
	})
}

// startAgeWatchLocked starts the independent absolute-age check. It bounds
// total session lifetime even while the token keeps being rotated.
func (c *Client) startAgeWatchLocked() {
	done := make(chan struct{})
	c.ageDone = done
	start := c.sessionStart

	go func() {
		ticker := time.NewTicker(c.ageCheckPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if c.now().Sub(start) > c.maxSessionAge {
					c.logger.Info("absolute session age exceeded, expiring session")
					c.forceLogout(authcode.New(authcode.CodeTokenExpired, errors.New("session expired")))
					return
				}
			}
		}
	}()
}

// cancelTimersLocked stops both timers. Idempotent: teardown paths may race.
func (c *Client) cancelTimersLocked() {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	if c.ageDone != nil {
		close(c.ageDone)
		c.ageDone = nil
	}
}

// ========== HTTP plumbing ==========

// envelope mirrors the server's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// authError converts a failure envelope into a classified error.
func (e *envelope) authError() error {
	if e.Code != "" {
		return authcode.New(authcode.Code(e.Code), errors.New(e.Message))
	}
	if e.Message != "" {
		return authcode.New(authcode.CodeGenericAuthError, errors.New(e.Message))
	}
	return authcode.New(authcode.CodeGenericAuthError, nil)
}

func (c *Client) postAuth(ctx context.Context, path string, payload interface{}) (*auth.LoginResponse, error) {
	env, err := c.postEnvelope(ctx, path, payload, "")
	if err != nil {
		return nil, err
	}

	var resp auth.LoginResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode auth payload: %w", err)
	}
	return &resp, nil
}

func (c *Client) postEnvelope(ctx context.Context, path string, payload interface{}, bearer string) (*envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	httpResp, err := c.httpc.Do(req)
	if err != nil {
		return nil, authcode.New(authcode.CodeNetworkUnreachable, err)
	}
	defer httpResp.Body.Close()

	var env envelope
	if err := json.NewDecoder(httpResp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, env.authError()
	}
	return &env, nil
}

// ========== State helpers ==========

func (c *Client) redirectByRole(role string) {
	if role == auth.RoleAdmin {
		c.navigator.Navigate(AdminLanding)
		return
	}
	c.navigator.Navigate(HomeLanding)
}

func (c *Client) setLoading(loading bool) {
	c.mu.Lock()
	c.state.IsLoading = loading
	snapshot := c.state
	c.mu.Unlock()
	c.notify(snapshot)
}

func (c *Client) setError(err error) {
	c.mu.Lock()
	c.state.Err = err
	snapshot := c.state
	c.mu.Unlock()
	c.notify(snapshot)
}

func (c *Client) notify(s State) {
	if c.onChange != nil {
		c.onChange(s)
	}
}
