package gotrue_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrimitra/internal/identity"
	"agrimitra/internal/identity/gotrue"
	"agrimitra/pkg/platform/sentinel"
)

type call struct {
	method string
	path   string
	query  string
	auth   string
	apiKey string
	body   map[string]any
}

// authServer is a scripted GoTrue endpoint. Each handler key is
// "METHOD path".
type authServer struct {
	mu       sync.Mutex
	calls    []call
	handlers map[string]http.HandlerFunc
	server   *httptest.Server
}

func newAuthServer(t *testing.T) *authServer {
	t.Helper()
	a := &authServer{handlers: map[string]http.HandlerFunc{}}
	a.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := call{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			apiKey: r.Header.Get("apikey"),
		}
		_ = json.NewDecoder(r.Body).Decode(&c.body)
		a.mu.Lock()
		a.calls = append(a.calls, c)
		handler := a.handlers[r.Method+" "+r.URL.Path]
		a.mu.Unlock()
		if handler == nil {
			http.Error(w, `{"msg":"unexpected call"}`, http.StatusNotFound)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(a.server.Close)
	return a
}

func (a *authServer) handle(key string, fn http.HandlerFunc) {
	a.mu.Lock()
	a.handlers[key] = fn
	a.mu.Unlock()
}

func (a *authServer) respond(key string, status int, body any) {
	a.handle(key, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
}

func (a *authServer) lastCall() call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[len(a.calls)-1]
}

func newClient(t *testing.T, a *authServer, opts ...gotrue.Option) *gotrue.Client {
	t.Helper()
	c := gotrue.New(a.server.URL, "anon-key", slog.New(slog.DiscardHandler), opts...)
	t.Cleanup(c.Close)
	return c
}

func sessionBody(id uuid.UUID, email string) map[string]any {
	return map[string]any{
		"access_token":  "at-" + id.String(),
		"refresh_token": "rt-" + id.String(),
		"expires_in":    3600,
		"user": map[string]any{
			"id":            id.String(),
			"email":         email,
			"user_metadata": map[string]string{"username": "joy"},
		},
	}
}

func collectEvents(c *gotrue.Client) (*[]identity.Event, *sync.Mutex) {
	var mu sync.Mutex
	events := &[]identity.Event{}
	c.Subscribe(func(ev identity.Event) {
		mu.Lock()
		*events = append(*events, ev)
		mu.Unlock()
	})
	return events, &mu
}

func TestSignIn_PasswordGrant(t *testing.T) {
	a := newAuthServer(t)
	id := uuid.New()
	a.respond("POST /token", http.StatusOK, sessionBody(id, "joy@example.com"))

	c := newClient(t, a)
	events, evMu := collectEvents(c)

	sess, err := c.SignIn(context.Background(), "joy@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, id, sess.Identity.ID)
	assert.Equal(t, "joy@example.com", sess.Identity.Email)
	assert.Equal(t, "joy", sess.Identity.Metadata["username"])
	assert.True(t, sess.ExpiresAt.After(time.Now()))

	got := a.lastCall()
	assert.Equal(t, "grant_type=password", got.query)
	assert.Equal(t, "anon-key", got.apiKey)
	assert.Equal(t, "hunter2", got.body["password"])

	evMu.Lock()
	defer evMu.Unlock()
	require.Len(t, *events, 1)
	assert.Equal(t, identity.EventSignedIn, (*events)[0].Kind)
}

func TestSignIn_BadCredentialsSurfaceTheServerMessage(t *testing.T) {
	a := newAuthServer(t)
	a.respond("POST /token", http.StatusBadRequest, map[string]string{"msg": "Invalid login credentials"})

	c := newClient(t, a)
	_, err := c.SignIn(context.Background(), "joy@example.com", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid login credentials")
	assert.NotErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestSignIn_ServerErrorIsUnavailable(t *testing.T) {
	a := newAuthServer(t)
	a.respond("POST /token", http.StatusBadGateway, map[string]string{})

	c := newClient(t, a)
	_, err := c.SignIn(context.Background(), "joy@example.com", "hunter2")
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func TestSignUp_PendingConfirmationReturnsNoSession(t *testing.T) {
	a := newAuthServer(t)
	a.respond("POST /signup", http.StatusOK, map[string]any{
		"user": map[string]any{"id": uuid.New().String(), "email": "new@example.com"},
	})

	c := newClient(t, a)
	events, evMu := collectEvents(c)

	sess, err := c.SignUp(context.Background(), identity.SignUpRequest{
		Email:    "new@example.com",
		Password: "hunter2",
		Metadata: map[string]string{"username": "newbie"},
	})
	require.NoError(t, err)
	assert.Nil(t, sess)

	assert.Equal(t, map[string]any{"username": "newbie"}, a.lastCall().body["data"].(map[string]any))

	evMu.Lock()
	defer evMu.Unlock()
	assert.Empty(t, *events, "no session means no signed-in event")
}

func TestSignOut_ClearsSessionAndNotifiesServer(t *testing.T) {
	a := newAuthServer(t)
	id := uuid.New()
	a.respond("POST /token", http.StatusOK, sessionBody(id, "joy@example.com"))
	a.respond("POST /logout", http.StatusNoContent, nil)

	c := newClient(t, a)
	_, err := c.SignIn(context.Background(), "joy@example.com", "hunter2")
	require.NoError(t, err)

	events, evMu := collectEvents(c)
	require.NoError(t, c.SignOut(context.Background()))

	got := a.lastCall()
	assert.Equal(t, "/logout", got.path)
	assert.Equal(t, "Bearer at-"+id.String(), got.auth)

	evMu.Lock()
	defer evMu.Unlock()
	require.Len(t, *events, 1)
	assert.Equal(t, identity.EventSignedOut, (*events)[0].Kind)

	sess, err := c.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess, "session is gone after sign-out")
}

func TestCurrentSession_NoStoredOrSeedSessionIsNotAnError(t *testing.T) {
	a := newAuthServer(t)
	c := newClient(t, a)

	sess, err := c.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestCurrentSession_RestoresFromSeedRefreshToken(t *testing.T) {
	a := newAuthServer(t)
	id := uuid.New()
	a.respond("POST /token", http.StatusOK, sessionBody(id, "joy@example.com"))

	c := newClient(t, a, gotrue.WithSeedRefreshToken("persisted-refresh"))
	sess, err := c.CurrentSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, id, sess.Identity.ID)

	got := a.lastCall()
	assert.Equal(t, "grant_type=refresh_token", got.query)
	assert.Equal(t, "persisted-refresh", got.body["refresh_token"])
}

func TestCurrentSession_IdentityFallsBackToTokenClaims(t *testing.T) {
	a := newAuthServer(t)
	id := uuid.New()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   id.String(),
		"email": "claims@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	a.respond("POST /token", http.StatusOK, map[string]any{
		"access_token":  token,
		"refresh_token": "rt",
	})

	c := newClient(t, a, gotrue.WithSeedRefreshToken("persisted-refresh"))
	sess, err := c.CurrentSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, id, sess.Identity.ID)
	assert.Equal(t, "claims@example.com", sess.Identity.Email)
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, time.Minute)
}

func TestUpdateUser_MergesServerResponseAndEmits(t *testing.T) {
	a := newAuthServer(t)
	id := uuid.New()
	a.respond("POST /token", http.StatusOK, sessionBody(id, "joy@example.com"))
	a.respond("PUT /user", http.StatusOK, map[string]any{
		"id":            id.String(),
		"email":         "joy@example.com",
		"user_metadata": map[string]string{"username": "joy", "district": "Nashik"},
	})

	c := newClient(t, a)
	_, err := c.SignIn(context.Background(), "joy@example.com", "hunter2")
	require.NoError(t, err)

	events, evMu := collectEvents(c)
	sess, err := c.UpdateUser(context.Background(), map[string]string{"district": "Nashik"})
	require.NoError(t, err)
	assert.Equal(t, "Nashik", sess.Identity.Metadata["district"])

	got := a.lastCall()
	assert.Equal(t, http.MethodPut, got.method)
	assert.Equal(t, "Bearer at-"+id.String(), got.auth)

	evMu.Lock()
	defer evMu.Unlock()
	require.Len(t, *events, 1)
	assert.Equal(t, identity.EventUserUpdated, (*events)[0].Kind)
}

func TestUpdateUser_WithoutSessionFails(t *testing.T) {
	a := newAuthServer(t)
	c := newClient(t, a)

	_, err := c.UpdateUser(context.Background(), map[string]string{"x": "y"})
	assert.Error(t, err)
}

func TestSendPasswordReset_CarriesRedirect(t *testing.T) {
	a := newAuthServer(t)
	a.respond("POST /recover", http.StatusOK, map[string]any{})

	c := newClient(t, a)
	require.NoError(t, c.SendPasswordReset(context.Background(), "lost@example.com", "https://app.example/reset"))

	got := a.lastCall()
	assert.Equal(t, "/recover", got.path)
	assert.Contains(t, got.query, "redirect_to=")
	assert.Equal(t, "lost@example.com", got.body["email"])
}

func TestSubscribe_UnsubscribeStopsDelivery(t *testing.T) {
	a := newAuthServer(t)
	a.respond("POST /token", http.StatusOK, sessionBody(uuid.New(), "joy@example.com"))

	c := newClient(t, a)
	var count int
	unsubscribe := c.Subscribe(func(identity.Event) { count++ })
	unsubscribe()

	_, err := c.SignIn(context.Background(), "joy@example.com", "hunter2")
	require.NoError(t, err)
	assert.Zero(t, count)
}
