// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package credstore keeps per-user Google OAuth state: pending authorization
// flows and authorized tokens.
package credstore

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"go.astrophena.name/tgdrive/internal/store"
	"go.astrophena.name/tgdrive/internal/syncx"
)

var (
	// ErrNotAuthorized is returned when a user has no usable token.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrAuthInit is returned when an authorization flow cannot be started.
	ErrAuthInit = errors.New("cannot start authorization")
	// ErrInvalidCode is returned when the token endpoint rejects an
	// authorization code.
	ErrInvalidCode = errors.New("invalid authorization code")
	// ErrNoPendingFlow is returned by Complete when Begin wasn't called first.
	ErrNoPendingFlow = errors.New("no pending authorization")
)

// Status describes the credential state of a user.
type Status int

const (
	NoAuth Status = iota
	PendingExchange
	ValidAuthorized
	ExpiredNeedsReauth
)

func (s Status) String() string {
	switch s {
	case NoAuth:
		return "no auth"
	case PendingExchange:
		return "pending exchange"
	case ValidAuthorized:
		return "authorized"
	case ExpiredNeedsReauth:
		return "expired"
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}

// Flow is a started authorization flow.
type Flow struct {
	// State is the OAuth state parameter sent to the authorization server.
	State string
	// URL is where the user grants access.
	URL string
}

// Store maps Telegram user IDs to OAuth state. Tokens are persisted to a
// [store.Store]; pending flows live in memory only.
//
// All operations for one user are serialized.
type Store struct {
	config  *oauth2.Config
	backend store.Store

	// HTTPClient, if set, is used for token exchange and refresh.
	HTTPClient *http.Client
	// Logger, if set, receives persistence failures that can't be returned.
	Logger *slog.Logger

	records syncx.Map[int64, *record]
}

type record struct {
	mu      sync.Mutex
	loaded  bool
	pending *pendingFlow
	token   *oauth2.Token
}

type pendingFlow struct {
	state    string
	verifier string
}

// New returns a Store that uses config for OAuth and backend to keep tokens.
// A nil backend keeps tokens in memory for the life of the process.
func New(config *oauth2.Config, backend store.Store) *Store {
	if backend == nil {
		backend = store.NewMemStore()
	}
	return &Store{config: config, backend: backend}
}

// lock returns the locked record of user, loading a persisted token on first
// access. The caller must unlock it.
func (s *Store) lock(ctx context.Context, user int64) (*record, error) {
	rec, _ := s.records.LoadOrStore(user, new(record))
	rec.mu.Lock()
	if rec.loaded {
		return rec, nil
	}
	b, err := s.backend.Get(ctx, key(user))
	if err != nil {
		rec.mu.Unlock()
		return nil, fmt.Errorf("loading token for %d: %w", user, err)
	}
	if b != nil {
		tok := new(oauth2.Token)
		if err := json.Unmarshal(b, tok); err != nil {
			rec.mu.Unlock()
			return nil, fmt.Errorf("decoding token for %d: %w", user, err)
		}
		rec.token = tok
	}
	rec.loaded = true
	return rec, nil
}

func (s *Store) save(ctx context.Context, user int64, tok *oauth2.Token) error {
	b, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	if err := s.backend.Set(ctx, key(user), b); err != nil {
		return fmt.Errorf("saving token for %d: %w", user, err)
	}
	return nil
}

func key(user int64) string { return "token:" + strconv.FormatInt(user, 10) }

func (s *Store) oauthContext(ctx context.Context) context.Context {
	if s.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, s.HTTPClient)
	}
	return ctx
}

// Begin starts an authorization flow for user, replacing any pending one.
func (s *Store) Begin(ctx context.Context, user int64) (Flow, error) {
	if s.config == nil || s.config.Endpoint.AuthURL == "" {
		return Flow{}, fmt.Errorf("%w: OAuth client is not configured", ErrAuthInit)
	}

	rec, err := s.lock(ctx, user)
	if err != nil {
		return Flow{}, fmt.Errorf("%w: %v", ErrAuthInit, err)
	}
	defer rec.mu.Unlock()

	p := &pendingFlow{
		state:    rand.Text(),
		verifier: oauth2.GenerateVerifier(),
	}
	url := s.config.AuthCodeURL(p.state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.S256ChallengeOption(p.verifier),
	)
	rec.pending = p

	return Flow{State: p.state, URL: url}, nil
}

// Complete exchanges code for a token using the pending flow of user. The
// pending flow survives a rejected code so the user can try again.
func (s *Store) Complete(ctx context.Context, user int64, code string) (*oauth2.Token, error) {
	rec, err := s.lock(ctx, user)
	if err != nil {
		return nil, err
	}
	defer rec.mu.Unlock()

	if rec.pending == nil {
		return nil, ErrNoPendingFlow
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: empty code", ErrInvalidCode)
	}

	tok, err := s.config.Exchange(s.oauthContext(ctx), code, oauth2.VerifierOption(rec.pending.verifier))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
		}
		return nil, fmt.Errorf("exchanging code: %w", err)
	}

	if err := s.save(ctx, user, tok); err != nil {
		return nil, err
	}
	rec.token = tok
	rec.pending = nil
	return tok, nil
}

// Token returns a valid token of user, refreshing it if it has expired.
func (s *Store) Token(ctx context.Context, user int64) (*oauth2.Token, error) {
	rec, err := s.lock(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}
	defer rec.mu.Unlock()

	if rec.token == nil {
		return nil, ErrNotAuthorized
	}
	if rec.token.Valid() {
		return rec.token, nil
	}
	if rec.token.RefreshToken == "" || s.config == nil {
		return nil, fmt.Errorf("%w: token expired", ErrNotAuthorized)
	}

	tok, err := s.config.TokenSource(s.oauthContext(ctx), rec.token).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			// Revoked or expired refresh token: only a new flow helps.
			rec.token.RefreshToken = ""
			if err := s.save(ctx, user, rec.token); err != nil && s.Logger != nil {
				s.Logger.Warn("revoked token not persisted", "user", user, "err", err)
			}
		}
		return nil, fmt.Errorf("%w: refreshing token: %v", ErrNotAuthorized, err)
	}
	rec.token = tok
	if err := s.save(ctx, user, tok); err != nil && s.Logger != nil {
		s.Logger.Warn("refreshed token not persisted", "user", user, "err", err)
	}
	return tok, nil
}

// Forget removes the token and any pending flow of user.
func (s *Store) Forget(ctx context.Context, user int64) error {
	rec, err := s.lock(ctx, user)
	if err != nil {
		return err
	}
	defer rec.mu.Unlock()

	if err := s.backend.Delete(ctx, key(user)); err != nil {
		return fmt.Errorf("deleting token for %d: %w", user, err)
	}
	rec.token = nil
	rec.pending = nil
	return nil
}

// Status reports the credential state of user.
func (s *Store) Status(ctx context.Context, user int64) Status {
	rec, err := s.lock(ctx, user)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error("reading credentials", "user", user, "err", err)
		}
		return NoAuth
	}
	defer rec.mu.Unlock()

	switch {
	case rec.token != nil && (rec.token.Valid() || rec.token.RefreshToken != "" && s.config != nil):
		return ValidAuthorized
	case rec.token != nil:
		return ExpiredNeedsReauth
	case rec.pending != nil:
		return PendingExchange
	}
	return NoAuth
}

// Pending reports whether user has an authorization flow waiting for a code.
func (s *Store) Pending(ctx context.Context, user int64) bool {
	rec, err := s.lock(ctx, user)
	if err != nil {
		return false
	}
	defer rec.mu.Unlock()
	return rec.pending != nil
}

// TokenSource returns an [oauth2.TokenSource] that gets tokens of user from
// the Store.
func (s *Store) TokenSource(ctx context.Context, user int64) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &tokenSource{ctx: ctx, s: s, user: user})
}

type tokenSource struct {
	ctx  context.Context
	s    *Store
	user int64
}

func (ts *tokenSource) Token() (*oauth2.Token, error) { return ts.s.Token(ts.ctx, ts.user) }
