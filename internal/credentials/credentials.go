// Package credentials stores provider secrets: Nextcloud passwords and the
// OAuth token documents of remote providers. The OS keyring is preferred,
// with a local file store when no keyring service is running and
// environment variables as a read-only override.
package credentials

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var (
	// ErrKeyringNotAvailable is returned when no keyring service can be reached.
	ErrKeyringNotAvailable = errors.New("system keyring not available")
	// ErrCredentialNotFound is returned by keyrings for unknown entries.
	ErrCredentialNotFound = errors.New("credential not found")
)

// DefaultAppID prefixes every keyring service name.
const DefaultAppID = "done"

// Source indicates where credentials were retrieved from
type Source string

const (
	SourceKeyring     Source = "keyring"
	SourceEnvironment Source = "environment"
	SourceNone        Source = "none"
)

// CredentialInfo contains credential information returned by Get()
type CredentialInfo struct {
	Source   Source // Where credentials came from
	Provider string // Provider id (e.g., "nextcloud")
	Username string // Username/account identifier
	Password string // Password (masked in display)
	Found    bool   // Whether credentials were found
}

// JSON serializes the credential info to JSON (password excluded for security)
func (c *CredentialInfo) JSON() ([]byte, error) {
	output := struct {
		Provider string `json:"provider"`
		Username string `json:"username"`
		Source   string `json:"source"`
		Found    bool   `json:"found"`
	}{
		Provider: c.Provider,
		Username: c.Username,
		Source:   string(c.Source),
		Found:    c.Found,
	}
	return json.Marshal(output)
}

// Account names a credential to look up.
type Account struct {
	Provider string
	Username string
}

// Status is the credential state of one account.
type Status struct {
	Provider       string
	Username       string
	HasCredentials bool
	Source         Source
}

// Keyring is the interface for keyring operations
type Keyring interface {
	Set(service, account, password string) error
	Get(service, account string) (string, error)
	Delete(service, account string) error
}

// Manager handles credential operations
type Manager struct {
	keyring Keyring
	appID   string
}

// ManagerOption is a functional option for Manager
type ManagerOption func(*Manager)

// WithKeyring sets a custom keyring implementation
func WithKeyring(k Keyring) ManagerOption {
	return func(m *Manager) {
		m.keyring = k
	}
}

// WithAppID overrides DefaultAppID.
func WithAppID(appID string) ManagerOption {
	return func(m *Manager) {
		if appID != "" {
			m.appID = appID
		}
	}
}

// NewManager creates a new credential manager
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		keyring: &SystemKeyring{},
		appID:   DefaultAppID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Keyring returns the keyring the manager writes to.
func (m *Manager) Keyring() Keyring {
	return m.keyring
}

// AppID returns the service prefix of the manager.
func (m *Manager) AppID() string {
	return m.appID
}

func normalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

// serviceName returns the keyring service holding a provider's passwords.
func (m *Manager) serviceName(provider string) string {
	return fmt.Sprintf("%s-%s", m.appID, normalizeProvider(provider))
}

// Set stores credentials in the keyring
func (m *Manager) Set(ctx context.Context, provider, username, password string) error {
	return m.keyring.Set(m.serviceName(provider), username, password)
}

// Get retrieves credentials from available sources (keyring first, then env vars)
func (m *Manager) Get(ctx context.Context, provider, username string) (*CredentialInfo, error) {
	provider = normalizeProvider(provider)

	password, err := m.keyring.Get(m.serviceName(provider), username)
	if err == nil && password != "" {
		return &CredentialInfo{
			Source:   SourceKeyring,
			Provider: provider,
			Username: username,
			Password: password,
			Found:    true,
		}, nil
	}
	if err != nil && !errors.Is(err, ErrCredentialNotFound) && !errors.Is(err, ErrKeyringNotAvailable) {
		return nil, err
	}

	if envPassword := m.getEnvPassword(provider, username); envPassword != "" {
		return &CredentialInfo{
			Source:   SourceEnvironment,
			Provider: provider,
			Username: username,
			Password: envPassword,
			Found:    true,
		}, nil
	}

	return &CredentialInfo{
		Source:   SourceNone,
		Provider: provider,
		Username: username,
		Found:    false,
	}, nil
}

// getEnvPassword reads DONE_<PROVIDER>_TOKEN, then DONE_<PROVIDER>_PASSWORD
// when DONE_<PROVIDER>_USERNAME is unset or matches username.
func (m *Manager) getEnvPassword(provider, username string) string {
	prefix := strings.ToUpper(m.appID) + "_" + strings.ToUpper(provider)

	if token := os.Getenv(prefix + "_TOKEN"); token != "" {
		return token
	}
	if envUsername := os.Getenv(prefix + "_USERNAME"); envUsername != "" && envUsername != username {
		return ""
	}
	return os.Getenv(prefix + "_PASSWORD")
}

// Delete removes credentials from the keyring. Deleting a missing entry is not an error.
func (m *Manager) Delete(ctx context.Context, provider, username string) error {
	err := m.keyring.Delete(m.serviceName(provider), username)
	if errors.Is(err, ErrCredentialNotFound) {
		return nil
	}
	return err
}

// List returns the credential status of each account.
func (m *Manager) List(ctx context.Context, accounts []Account) ([]Status, error) {
	statuses := make([]Status, 0, len(accounts))
	for _, a := range accounts {
		info, err := m.Get(ctx, a.Provider, a.Username)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, Status{
			Provider:       info.Provider,
			Username:       a.Username,
			HasCredentials: info.Found,
			Source:         info.Source,
		})
	}
	return statuses, nil
}

// PromptPassword asks for a password. Input from a terminal is not echoed;
// other readers are read line by line.
func PromptPassword(reader io.Reader, writer io.Writer, provider, username string) (string, error) {
	_, _ = fmt.Fprintf(writer, "Enter password for %s (user: %s): ", provider, username)

	if f, ok := reader.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(writer)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	scanner := bufio.NewScanner(reader)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no input received")
}
