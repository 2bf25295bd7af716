// Package auth signs a terminal user in with Google.
//
// The flow is the OAuth 2.0 authorization-code grant with a loopback
// redirect: a short-lived HTTP server on 127.0.0.1 receives the code, which
// is exchanged for a token and then for the user's OpenID profile.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/robertmeta/tagfeed/model"
	"github.com/robertmeta/tagfeed/session"
	"github.com/rs/xid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GoogleUserInfoURL is Google's OpenID Connect userinfo endpoint.
const GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

const callbackPath = "/callback"

// ErrDenied is returned when the user declines consent or the callback
// carries an error.
var ErrDenied = errors.New("auth: sign-in was not completed")

// Options configures a Flow.
type Options struct {
	ClientID     string
	ClientSecret string
	// CallbackAddr is the host:port the loopback server listens on.
	// Port 0 picks a free port.
	CallbackAddr string
	// Endpoint and UserInfoURL default to Google's.
	Endpoint    oauth2.Endpoint
	UserInfoURL string
	// Prompt shows the consent URL to the user. It must not block.
	Prompt func(authURL string) error
}

// Flow performs interactive sign-in and stores the result in the session
// cache.
type Flow struct {
	sessions *session.Resolver
	opts     Options
	logger   *zap.Logger
}

func NewFlow(sessions *session.Resolver, opts Options, logger *zap.Logger) *Flow {
	if opts.Endpoint.AuthURL == "" {
		opts.Endpoint = google.Endpoint
	}
	if opts.UserInfoURL == "" {
		opts.UserInfoURL = GoogleUserInfoURL
	}
	return &Flow{sessions: sessions, opts: opts, logger: logger}
}

type callbackResult struct {
	code string
	err  error
}

// SignIn returns the cached user when a session already exists. Otherwise
// it runs the browser flow, stores the user and reports created == true.
func (f *Flow) SignIn(ctx context.Context) (info *model.UserInfo, created bool, err error) {
	if current, ok := f.sessions.Current(ctx); ok {
		return current, false, nil
	}

	ln, err := net.Listen("tcp", f.opts.CallbackAddr)
	if err != nil {
		return nil, false, fmt.Errorf("auth: starting callback listener: %w", err)
	}

	conf := &oauth2.Config{
		ClientID:     f.opts.ClientID,
		ClientSecret: f.opts.ClientSecret,
		RedirectURL:  "http://" + ln.Addr().String() + callbackPath,
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint:     f.opts.Endpoint,
	}

	state := xid.New().String()
	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           callbackRouter(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.Warn("callback server stopped", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOnline)
	f.logger.Debug("waiting for OAuth callback", zap.String("redirect", conf.RedirectURL))
	if f.opts.Prompt != nil {
		if err := f.opts.Prompt(authURL); err != nil {
			return nil, false, fmt.Errorf("auth: showing consent URL: %w", err)
		}
	}

	var res callbackResult
	select {
	case res = <-results:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	if res.err != nil {
		return nil, false, res.err
	}

	token, err := conf.Exchange(ctx, res.code)
	if err != nil {
		return nil, false, fmt.Errorf("auth: exchanging code: %w", err)
	}

	info, err = f.userInfo(ctx, conf, token)
	if err != nil {
		return nil, false, err
	}
	if err := f.sessions.SignIn(ctx, info); err != nil {
		return nil, false, err
	}
	return info, true, nil
}

func callbackRouter(state string, results chan<- callbackResult) http.Handler {
	r := chi.NewRouter()
	r.Get(callbackPath, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		var res callbackResult
		switch {
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		case q.Get("error") != "":
			res.err = fmt.Errorf("%w: %s", ErrDenied, q.Get("error"))
		case q.Get("code") == "":
			res.err = fmt.Errorf("%w: missing code", ErrDenied)
		default:
			res.code = q.Get("code")
		}

		select {
		case results <- res:
		default:
			// A result was already delivered.
		}
		if res.err != nil {
			http.Error(w, res.err.Error(), http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Signed in to tagfeed. You can close this window.")
	})
	return r
}

// userInfo fetches the OpenID profile. When it lacks an email, the claims
// of the id_token returned with the access token are used instead.
func (f *Flow) userInfo(ctx context.Context, conf *oauth2.Config, token *oauth2.Token) (*model.UserInfo, error) {
	info := &model.UserInfo{}

	resp, err := conf.Client(ctx, token).Get(f.opts.UserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("auth: fetching userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(info); err != nil {
			return nil, fmt.Errorf("auth: decoding userinfo: %w", err)
		}
	} else {
		f.logger.Warn("userinfo request failed", zap.Int("status", resp.StatusCode))
	}

	if info.Email == "" {
		raw, _ := token.Extra("id_token").(string)
		if raw == "" {
			return nil, errors.New("auth: identity provider returned no email")
		}
		fromToken, err := claimsUserInfo(raw)
		if err != nil {
			return nil, err
		}
		info = fromToken
	}
	return info, nil
}

// claimsUserInfo reads the profile claims of an id_token. The signature is
// not checked: the token came directly from the token endpoint over TLS.
func claimsUserInfo(raw string) (*model.UserInfo, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("auth: parsing id_token: %w", err)
	}

	str := func(k string) string {
		s, _ := claims[k].(string)
		return s
	}
	verified, _ := claims["email_verified"].(bool)
	info := &model.UserInfo{
		Subject:       str("sub"),
		Email:         str("email"),
		EmailVerified: verified,
		Name:          str("name"),
		Picture:       str("picture"),
	}
	if info.Email == "" {
		return nil, errors.New("auth: id_token has no email claim")
	}
	return info, nil
}
