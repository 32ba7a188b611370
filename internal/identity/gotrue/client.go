// Package gotrue implements the identity.Provider port against a hosted
// GoTrue-compatible auth service.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"agrimitra/internal/identity"
	"agrimitra/pkg/platform/sentinel"
)

// refreshLead is how long before token expiry the background refresh fires.
const refreshLead = 30 * time.Second

// Client talks to the auth service over REST and fans provider events out to
// subscribers. It holds the current session in memory; the refresh loop keeps
// it alive and surfaces as token-refreshed events.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *slog.Logger

	mu           sync.Mutex
	session      *identity.Session
	seedRefresh  string
	subs         map[int]func(identity.Event)
	nextSub      int
	refreshTimer *time.Timer
	closed       bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithSeedRefreshToken lets CurrentSession restore a session from a
// previously persisted refresh token.
func WithSeedRefreshToken(token string) Option {
	return func(c *Client) { c.seedRefresh = token }
}

// New constructs a Client against baseURL.
func New(baseURL, apiKey string, log *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
		subs:    map[int]func(identity.Event){},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type userPayload struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	UserMetadata map[string]string `json:"user_metadata"`
}

type sessionPayload struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int          `json:"expires_in"`
	User         *userPayload `json:"user"`
}

type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// CurrentSession returns the stored session, refreshing it first when it has
// expired. With no stored session it falls back to the seed refresh token;
// absent both it returns nil without error.
func (c *Client) CurrentSession(ctx context.Context) (*identity.Session, error) {
	c.mu.Lock()
	sess := c.session
	seed := c.seedRefresh
	c.mu.Unlock()

	if sess != nil && !sess.Expired(time.Now()) {
		copied := *sess
		return &copied, nil
	}

	refreshToken := seed
	if sess != nil {
		refreshToken = sess.RefreshToken
	}
	if refreshToken == "" {
		return nil, nil
	}

	refreshed, err := c.refresh(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}
	return refreshed, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*identity.Session, error) {
	body := map[string]any{"email": email, "password": password}
	var payload sessionPayload
	if err := c.post(ctx, "/token?grant_type=password", body, "", &payload); err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	sess, err := c.adopt(payload)
	if err != nil {
		return nil, err
	}
	c.emit(identity.Event{Kind: identity.EventSignedIn, Session: sess})
	return sess, nil
}

func (c *Client) SignUp(ctx context.Context, req identity.SignUpRequest) (*identity.Session, error) {
	body := map[string]any{
		"email":    req.Email,
		"password": req.Password,
		"data":     req.Metadata,
	}
	if req.CaptchaToken != "" {
		body["gotrue_meta_security"] = map[string]string{"captcha_token": req.CaptchaToken}
	}
	var payload sessionPayload
	if err := c.post(ctx, "/signup", body, "", &payload); err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}
	if payload.AccessToken == "" {
		// Email confirmation pending; no session yet.
		return nil, nil
	}
	sess, err := c.adopt(payload)
	if err != nil {
		return nil, err
	}
	c.emit(identity.Event{Kind: identity.EventSignedIn, Session: sess})
	return sess, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	token := ""
	if c.session != nil {
		token = c.session.AccessToken
	}
	c.session = nil
	c.seedRefresh = ""
	c.stopRefreshLocked()
	c.mu.Unlock()

	if token != "" {
		if err := c.post(ctx, "/logout", nil, token, nil); err != nil {
			// The local session is gone either way; the server-side
			// token simply ages out.
			c.log.Warn("remote logout failed", "err", err)
		}
	}
	c.emit(identity.Event{Kind: identity.EventSignedOut})
	return nil
}

func (c *Client) UpdateUser(ctx context.Context, fields map[string]string) (*identity.Session, error) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return nil, fmt.Errorf("update user: no active session")
	}

	var payload userPayload
	if err := c.do(ctx, http.MethodPut, "/user", map[string]any{"data": fields}, sess.AccessToken, &payload); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	c.mu.Lock()
	if c.session != nil {
		if payload.Email != "" {
			c.session.Identity.Email = payload.Email
		}
		if payload.UserMetadata != nil {
			c.session.Identity.Metadata = payload.UserMetadata
		}
		updated := *c.session
		sess = &updated
	}
	c.mu.Unlock()

	c.emit(identity.Event{Kind: identity.EventUserUpdated, Session: sess})
	return sess, nil
}

func (c *Client) SendPasswordReset(ctx context.Context, email, redirectURL string) error {
	path := "/recover"
	if redirectURL != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectURL)
	}
	if err := c.post(ctx, path, map[string]any{"email": email}, "", nil); err != nil {
		return fmt.Errorf("send password reset: %w", err)
	}
	return nil
}

func (c *Client) Subscribe(fn func(identity.Event)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Close stops the refresh loop and drops all subscribers.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopRefreshLocked()
	c.subs = map[int]func(identity.Event){}
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*identity.Session, error) {
	var payload sessionPayload
	body := map[string]any{"refresh_token": refreshToken}
	if err := c.post(ctx, "/token?grant_type=refresh_token", body, "", &payload); err != nil {
		return nil, err
	}
	return c.adopt(payload)
}

// adopt stores a session payload, schedules the next refresh, and returns the
// parsed session.
func (c *Client) adopt(payload sessionPayload) (*identity.Session, error) {
	sess, err := parseSession(payload)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.session = sess
	c.scheduleRefreshLocked(sess)
	c.mu.Unlock()

	copied := *sess
	return &copied, nil
}

func (c *Client) scheduleRefreshLocked(sess *identity.Session) {
	c.stopRefreshLocked()
	if c.closed || sess.RefreshToken == "" || sess.ExpiresAt.IsZero() {
		return
	}
	wait := time.Until(sess.ExpiresAt) - refreshLead
	if wait < time.Second {
		wait = time.Second
	}
	token := sess.RefreshToken
	c.refreshTimer = time.AfterFunc(wait, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		refreshed, err := c.refresh(ctx, token)
		if err != nil {
			c.log.Warn("token refresh failed", "err", err)
			return
		}
		// Silent by contract: observers must treat this as invisible.
		c.emit(identity.Event{Kind: identity.EventTokenRefreshed, Session: refreshed})
	})
}

func (c *Client) stopRefreshLocked() {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
}

func (c *Client) emit(ev identity.Event) {
	c.mu.Lock()
	fns := make([]func(identity.Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Client) post(ctx context.Context, path string, body any, bearer string, out any) error {
	return c.do(ctx, http.MethodPost, path, body, bearer, out)
}

func (c *Client) do(ctx context.Context, method, path string, body any, bearer string, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: auth service returned %d", sentinel.ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"msg"`
			Error   string `json:"error_description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error
		}
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("auth service: %s", msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// parseSession turns a token response into a Session. The user object is
// authoritative; the access token claims fill expiry and identity gaps since
// some responses omit the user.
func parseSession(payload sessionPayload) (*identity.Session, error) {
	sess := &identity.Session{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}
	if payload.ExpiresIn > 0 {
		sess.ExpiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}

	var claims accessClaims
	if payload.AccessToken != "" {
		// Unverified parse: the token is only inspected, never trusted
		// for authorization decisions here.
		parser := jwt.NewParser()
		if _, _, err := parser.ParseUnverified(payload.AccessToken, &claims); err == nil {
			if sess.ExpiresAt.IsZero() && claims.ExpiresAt != nil {
				sess.ExpiresAt = claims.ExpiresAt.Time
			}
		}
	}

	switch {
	case payload.User != nil:
		id, err := uuid.Parse(payload.User.ID)
		if err != nil {
			return nil, fmt.Errorf("parse user id: %w", err)
		}
		sess.Identity = identity.Identity{
			ID:       id,
			Email:    payload.User.Email,
			Metadata: payload.User.UserMetadata,
		}
	case claims.Subject != "":
		id, err := uuid.Parse(claims.Subject)
		if err != nil {
			return nil, fmt.Errorf("parse token subject: %w", err)
		}
		sess.Identity = identity.Identity{ID: id, Email: claims.Email}
	default:
		return nil, fmt.Errorf("session payload carries no identity")
	}
	return sess, nil
}
