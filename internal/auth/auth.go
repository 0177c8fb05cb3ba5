// Package auth obtains, persists and refreshes the OAuth2 tokens of remote
// providers. Tokens are stored as JSON in a credentials.Keyring under the
// application id, one account per provider.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"done/backend"
	"done/internal/credentials"
	"done/internal/metrics"
)

// ErrNoToken means the provider was never authorized or was logged out.
var ErrNoToken = errors.New("no token stored")

// refreshThreshold refreshes tokens that expire within this window.
const refreshThreshold = time.Minute

// Config describes the OAuth2 client of one provider.
type Config struct {
	Provider     string
	AppID        string // keyring service holding the token
	ClientID     string
	ClientSecret string
	Endpoint     oauth2.Endpoint
	RedirectURL  string
	Scopes       []string
}

// Manager owns the token of one provider. It is safe for concurrent use;
// concurrent refreshes are coalesced into one.
type Manager struct {
	provider string
	service  string
	oauth    *oauth2.Config
	store    credentials.Keyring

	logger     *zap.Logger
	metrics    *metrics.Metrics
	httpClient *http.Client
	now        func() time.Time

	// mu serializes refreshes within the process. The store stays the
	// source of truth so a logout from another process is seen on the next call.
	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records refresh attempts in mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithHTTPClient sets the client used to reach the token endpoint.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// New creates a token manager persisting into store.
func New(cfg Config, store credentials.Keyring, opts ...Option) *Manager {
	service := cfg.AppID
	if service == "" {
		service = credentials.DefaultAppID
	}
	m := &Manager{
		provider: cfg.Provider,
		service:  service,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     cfg.Endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
		},
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("provider", cfg.Provider))
	return m
}

// Provider returns the provider id the manager serves.
func (m *Manager) Provider() string { return m.provider }

func (m *Manager) authError(err error) error {
	return &backend.AuthError{Provider: m.provider, Err: err}
}

// oauthContext carries the custom HTTP client to the oauth2 package.
func (m *Manager) oauthContext(ctx context.Context) context.Context {
	if m.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}
	return ctx
}

// AuthCodeURL returns the URL the user opens to authorize the application.
// It requests offline access so a refresh token is issued.
func (m *Manager) AuthCodeURL(state string) string {
	return m.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token and persists it.
func (m *Manager) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, m.authError(errors.New("empty authorization code"))
	}
	tok, err := m.oauth.Exchange(m.oauthContext(ctx), code)
	if err != nil {
		return nil, m.authError(fmt.Errorf("failed to exchange auth code: %w", err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.save(tok); err != nil {
		return nil, err
	}
	m.logger.Info("authorization completed")
	return tok, nil
}

func (m *Manager) load() (*oauth2.Token, error) {
	raw, err := m.store.Get(m.service, m.provider)
	if errors.Is(err, credentials.ErrCredentialNotFound) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, fmt.Errorf("malformed stored token: %w", err)
	}
	return &tok, nil
}

func (m *Manager) save(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	if err := m.store.Set(m.service, m.provider, string(data)); err != nil {
		return fmt.Errorf("failed to persist token: %w", err)
	}
	return nil
}

// isTokenExpired reports whether tok expires within threshold.
func isTokenExpired(tok *oauth2.Token, now time.Time, threshold time.Duration) bool {
	if tok.AccessToken == "" {
		return true
	}
	if tok.Expiry.IsZero() {
		return false
	}
	return now.Add(threshold).After(tok.Expiry)
}

// Token returns a usable access token, refreshing it first when it has
// expired. The store is read on every call, so a logout elsewhere yields
// ErrNoToken. The refreshed token is persisted before it is returned. A failed
// refresh leaves the stored token in place and returns *backend.AuthError.
func (m *Manager) Token(ctx context.Context) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.load()
	if err != nil {
		return nil, m.authError(err)
	}
	if !isTokenExpired(tok, m.now(), refreshThreshold) {
		return tok, nil
	}
	if tok.RefreshToken == "" {
		return nil, m.authError(errors.New("token expired and no refresh token available"))
	}

	m.logger.Debug("refreshing access token")
	fresh, err := m.oauth.TokenSource(m.oauthContext(ctx), &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	m.metrics.ObserveRefresh(m.provider, err)
	if err != nil {
		m.logger.Warn("token refresh failed", zap.Error(err))
		return nil, m.authError(fmt.Errorf("failed to refresh token: %w", err))
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	// A logout during the refresh wins; the new token is dropped.
	if _, err := m.load(); err != nil {
		return nil, m.authError(err)
	}
	if err := m.save(fresh); err != nil {
		return nil, m.authError(err)
	}
	return fresh, nil
}

// IsTokenPresent reports whether a persisted token with a refresh token
// exists. It never touches the network.
func (m *Manager) IsTokenPresent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, err := m.load()
	return err == nil && tok.RefreshToken != ""
}

// Logout deletes the persisted token.
func (m *Manager) Logout() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.store.Delete(m.service, m.provider)
	if err != nil && !errors.Is(err, credentials.ErrCredentialNotFound) {
		return err
	}
	m.logger.Info("logged out")
	return nil
}

type tokenSource struct {
	ctx context.Context
	m   *Manager
}

func (s tokenSource) Token() (*oauth2.Token, error) {
	return s.m.Token(s.ctx)
}

// TokenSource adapts the manager to oauth2.TokenSource.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return tokenSource{ctx: ctx, m: m}
}

// HTTPClient returns a client that authorizes every request with a fresh token.
func (m *Manager) HTTPClient(ctx context.Context) *http.Client {
	var base http.RoundTripper = http.DefaultTransport
	if m.httpClient != nil && m.httpClient.Transport != nil {
		base = m.httpClient.Transport
	}
	return &http.Client{
		Transport: &oauth2.Transport{Source: m.TokenSource(ctx), Base: base},
		Timeout:   30 * time.Second,
	}
}
