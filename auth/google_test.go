package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/robertmeta/tagfeed/model"
	"github.com/robertmeta/tagfeed/session"
	"github.com/robertmeta/tagfeed/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// fakeProvider serves the token and userinfo endpoints.
type fakeProvider struct {
	userInfo map[string]any
	idToken  string

	mu    sync.Mutex
	codes []string
}

func (p *fakeProvider) exchanged() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.codes...)
}

func (p *fakeProvider) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		p.codes = append(p.codes, r.Form.Get("code"))
		p.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		body := map[string]any{"access_token": "at", "token_type": "Bearer", "expires_in": 3600}
		if p.idToken != "" {
			body["id_token"] = p.idToken
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p.userInfo)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// browser simulates the user approving consent: it follows the redirect
// back to the loopback server with the given query.
func browser(t *testing.T, query func(state string) url.Values) func(string) error {
	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		redirect := u.Query().Get("redirect_uri")
		q := query(u.Query().Get("state"))
		go func() {
			resp, err := http.Get(redirect + "?" + q.Encode())
			if err == nil {
				resp.Body.Close()
			}
		}()
		return nil
	}
}

func approve(code string) func(string) url.Values {
	return func(state string) url.Values {
		return url.Values{"code": {code}, "state": {state}}
	}
}

func newTestFlow(t *testing.T, srv *httptest.Server, prompt func(string) error) (*Flow, *session.Resolver) {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	sessions := session.NewResolver(s, zap.NewNop())
	flow := NewFlow(sessions, Options{
		ClientID:     "client",
		ClientSecret: "secret",
		CallbackAddr: "127.0.0.1:0",
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		UserInfoURL: srv.URL + "/userinfo",
		Prompt:      prompt,
	}, zap.NewNop())
	return flow, sessions
}

func withTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSignIn_UserInfo(t *testing.T) {
	p := &fakeProvider{userInfo: map[string]any{"sub": "123", "email": "a@example.com", "name": "Alice"}}
	srv := p.server(t)
	flow, sessions := newTestFlow(t, srv, browser(t, approve("code-1")))
	ctx := withTimeout(t)

	info, created, err := flow.SignIn(ctx)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "a@example.com", info.Email)
	assert.Equal(t, "Alice", info.Name)
	assert.Equal(t, []string{"code-1"}, p.exchanged())

	id, ok := sessions.Resolve(ctx)
	require.True(t, ok)
	assert.Equal(t, "a@example.com", id)
}

func TestSignIn_IDTokenFallback(t *testing.T) {
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":            "42",
		"email":          "b@example.com",
		"email_verified": true,
		"name":           "Bob",
	}).SignedString([]byte("unused"))
	require.NoError(t, err)

	p := &fakeProvider{userInfo: map[string]any{"sub": "42"}, idToken: idToken}
	srv := p.server(t)
	flow, _ := newTestFlow(t, srv, browser(t, approve("code-2")))

	info, _, err := flow.SignIn(withTimeout(t))
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", info.Email)
	assert.True(t, info.EmailVerified)
	assert.Equal(t, "Bob", info.Name)
}

func TestSignIn_NoEmailAnywhere(t *testing.T) {
	p := &fakeProvider{userInfo: map[string]any{"sub": "42"}}
	srv := p.server(t)
	flow, sessions := newTestFlow(t, srv, browser(t, approve("code")))

	_, _, err := flow.SignIn(withTimeout(t))
	require.Error(t, err)
	_, ok := sessions.Resolve(context.Background())
	assert.False(t, ok)
}

func TestSignIn_Denied(t *testing.T) {
	p := &fakeProvider{}
	srv := p.server(t)
	flow, _ := newTestFlow(t, srv, browser(t, func(state string) url.Values {
		return url.Values{"error": {"access_denied"}, "state": {state}}
	}))

	_, _, err := flow.SignIn(withTimeout(t))
	assert.ErrorIs(t, err, ErrDenied)
	assert.Empty(t, p.exchanged(), "no token exchange after a denial")
}

func TestSignIn_ExistingSessionIsNoop(t *testing.T) {
	p := &fakeProvider{}
	srv := p.server(t)
	prompted := false
	flow, sessions := newTestFlow(t, srv, func(string) error {
		prompted = true
		return nil
	})
	ctx := withTimeout(t)
	require.NoError(t, sessions.SignIn(ctx, &model.UserInfo{Email: "a@example.com"}))

	info, created, err := flow.SignIn(ctx)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "a@example.com", info.Email)
	assert.False(t, prompted)
}

func TestSignIn_ContextCancelled(t *testing.T) {
	p := &fakeProvider{}
	srv := p.server(t)
	flow, _ := newTestFlow(t, srv, func(string) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err := flow.SignIn(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallbackRouter_StateMismatch(t *testing.T) {
	results := make(chan callbackResult, 1)
	h := callbackRouter("expected", results)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?state=other&code=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, results)
}

func TestClaimsUserInfo_Malformed(t *testing.T) {
	_, err := claimsUserInfo("not-a-jwt")
	assert.Error(t, err)
}
