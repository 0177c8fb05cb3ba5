package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// NewState returns a random value for the OAuth state parameter.
func NewState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HandleRedirect completes authorization from the URI the provider
// redirected the browser to. The state must match the one sent with
// AuthCodeURL.
func (m *Manager) HandleRedirect(ctx context.Context, redirectURI, state string) (*oauth2.Token, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, m.authError(fmt.Errorf("malformed redirect uri: %w", err))
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		desc := q.Get("error_description")
		if desc == "" {
			desc = e
		}
		return nil, m.authError(fmt.Errorf("authorization denied: %s", desc))
	}
	if q.Get("state") != state {
		return nil, m.authError(errors.New("state mismatch in redirect"))
	}
	return m.Exchange(ctx, q.Get("code"))
}

const redirectPage = `<html><body><h3>%s</h3><p>You can close this window.</p></body></html>`

// ListenForRedirect serves one redirect on lis and completes the
// authorization with it. It returns when the redirect was handled or ctx is done.
func (m *Manager) ListenForRedirect(ctx context.Context, lis net.Listener, state string) (*oauth2.Token, error) {
	type result struct {
		tok *oauth2.Token
		err error
	}
	results := make(chan result, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("code") == "" && r.URL.Query().Get("error") == "" {
			http.NotFound(w, r)
			return
		}
		tok, err := m.HandleRedirect(r.Context(), r.URL.String(), state)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = fmt.Fprintf(w, redirectPage, "Authorization failed")
		} else {
			_, _ = fmt.Fprintf(w, redirectPage, "Authorization completed")
		}
		select {
		case results <- result{tok, err}:
		default:
		}
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Warn("redirect listener stopped", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	select {
	case r := <-results:
		return r.tok, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
