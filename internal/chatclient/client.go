package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"ripple/internal/chat"
)

// ErrLoggedOut is returned once the refresh path has failed and local
// credentials were cleared. The caller must re-authenticate.
var ErrLoggedOut = errors.New("chatclient: logged out")

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatclient: api error: status=%d code=%s msg=%s", e.Status, e.Code, e.Message)
}

// IsAuthError reports whether the error is a 401 API error.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// User is the directory record as the API exposes it.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session carries the token pair returned by auth endpoints.
type Session struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Client is Ripple's HTTP API client.
//
// Auth failures on an authenticated request trigger exactly one refresh
// attempt followed by one retry; a failed refresh clears local
// credentials and forces the logged-out state. The retry is not
// recursive.
type Client struct {
	log     *slog.Logger
	baseURL string
	httpc   *http.Client

	mu        sync.Mutex
	access    string
	refresh   string
	self      User
	haveSelf  bool
	loggedOut bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(httpc *http.Client) ClientOption {
	return func(c *Client) {
		if httpc != nil {
			c.httpc = httpc
		}
	}
}

// WithLogger overrides the client logger.
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient constructs a client for the given server base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		log:     slog.Default(),
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Self returns the authenticated user, when known.
func (c *Client) Self() (User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self, c.haveSelf
}

// AccessToken returns the current access token (for the push channel).
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access
}

// LoggedOut reports whether the client has entered the logged-out state.
func (c *Client) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

// ---- auth operations ----

type authResult struct {
	User    User    `json:"user"`
	Session Session `json:"session"`
}

// Signup registers a new account and stores the issued tokens.
func (c *Client) Signup(ctx context.Context, email, fullName, password string, rememberMe bool) (User, error) {
	var out authResult
	err := c.do(ctx, http.MethodPost, "/auth/signup", map[string]any{
		"email":       email,
		"full_name":   fullName,
		"password":    password,
		"remember_me": rememberMe,
	}, &out, false)
	if err != nil {
		return User{}, err
	}
	c.adoptSession(out.User, out.Session)
	return out.User, nil
}

// Login authenticates and stores the issued tokens.
func (c *Client) Login(ctx context.Context, email, password string, rememberMe bool) (User, error) {
	var out authResult
	err := c.do(ctx, http.MethodPost, "/auth/login", map[string]any{
		"email":       email,
		"password":    password,
		"remember_me": rememberMe,
	}, &out, false)
	if err != nil {
		return User{}, err
	}
	c.adoptSession(out.User, out.Session)
	return out.User, nil
}

// Logout revokes the current session and clears local credentials.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, true)
	c.clearSession()
	return err
}

// LogoutAll revokes every session of the user and clears local credentials.
func (c *Client) LogoutAll(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/auth/logout_all", nil, nil, true)
	c.clearSession()
	return err
}

// Check returns the authenticated user's profile.
func (c *Client) Check(ctx context.Context) (User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/check", nil, &out, true); err != nil {
		return User{}, err
	}

	c.mu.Lock()
	c.self = out.User
	c.haveSelf = true
	c.mu.Unlock()

	return out.User, nil
}

// UpdateProfile patches the profile; nil fields are left untouched.
func (c *Client) UpdateProfile(ctx context.Context, fullName, avatar *string) (User, error) {
	var out struct {
		User User `json:"user"`
	}
	err := c.do(ctx, http.MethodPut, "/auth/update-profile", map[string]any{
		"full_name": fullName,
		"avatar":    avatar,
	}, &out, true)
	if err != nil {
		return User{}, err
	}

	c.mu.Lock()
	c.self = out.User
	c.mu.Unlock()

	return out.User, nil
}

// ---- message operations ----

// Users lists every other user in the directory.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var out struct {
		Users []User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/messages/users", nil, &out, true); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// FetchPage retrieves one window of the conversation with partnerID.
func (c *Client) FetchPage(ctx context.Context, partnerID string, page, limit int64) (chat.Page, error) {
	path := "/messages/" + partnerID + "?page=" + strconv.FormatInt(page, 10) + "&limit=" + strconv.FormatInt(limit, 10)

	var out chat.Page
	if err := c.do(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return chat.Page{}, err
	}
	return out, nil
}

// Latest retrieves the most recent limit messages, oldest-first.
func (c *Client) Latest(ctx context.Context, partnerID string, limit int64) ([]chat.Message, error) {
	path := "/messages/latest/" + partnerID + "?limit=" + strconv.FormatInt(limit, 10)

	var out struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// Send creates a message addressed to partnerID and returns the echo.
func (c *Client) Send(ctx context.Context, partnerID, text, image string) (chat.Message, error) {
	var out chat.Message
	err := c.do(ctx, http.MethodPost, "/messages/send/"+partnerID, map[string]any{
		"text":  text,
		"image": image,
	}, &out, true)
	if err != nil {
		return chat.Message{}, err
	}
	return out, nil
}

// ---- transport ----

func (c *Client) do(ctx context.Context, method, path string, body, out any, authed bool) error {
	if authed {
		c.mu.Lock()
		loggedOut := c.loggedOut
		c.mu.Unlock()
		if loggedOut {
			return ErrLoggedOut
		}
	}

	err := c.doOnce(ctx, method, path, body, out, authed)
	if !authed || !IsAuthError(err) {
		return err
	}

	// One refresh then one retry; never recursive.
	if refreshErr := c.refreshOnce(ctx); refreshErr != nil {
		c.forceLoggedOut()
		return fmt.Errorf("%w: %w", ErrLoggedOut, refreshErr)
	}
	return c.doOnce(ctx, method, path, body, out, authed)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any, authed bool) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		c.mu.Lock()
		access := c.access
		c.mu.Unlock()
		if access != "" {
			req.Header.Set("Authorization", "Bearer "+access)
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if decodeErr := json.NewDecoder(resp.Body).Decode(&envelope); decodeErr == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

func (c *Client) refreshOnce(ctx context.Context) error {
	c.mu.Lock()
	refresh := c.refresh
	c.mu.Unlock()
	if refresh == "" {
		return errors.New("no refresh token")
	}

	var out struct {
		Session Session `json:"session"`
	}
	err := c.doOnce(ctx, http.MethodPost, "/auth/refresh", map[string]any{
		"refresh_token": refresh,
	}, &out, false)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.access = out.Session.AccessToken
	c.refresh = out.Session.RefreshToken
	c.mu.Unlock()

	c.log.Debug("chatclient.refresh.ok", "session_id", out.Session.SessionID)
	return nil
}

func (c *Client) adoptSession(u User, s Session) {
	c.mu.Lock()
	c.access = s.AccessToken
	c.refresh = s.RefreshToken
	c.self = u
	c.haveSelf = true
	c.loggedOut = false
	c.mu.Unlock()
}

func (c *Client) clearSession() {
	c.mu.Lock()
	c.access = ""
	c.refresh = ""
	c.haveSelf = false
	c.loggedOut = false
	c.mu.Unlock()
}

func (c *Client) forceLoggedOut() {
	c.mu.Lock()
	c.access = ""
	c.refresh = ""
	c.haveSelf = false
	c.loggedOut = true
	c.mu.Unlock()

	c.log.Info("chatclient.logged_out")
}
