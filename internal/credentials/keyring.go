package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zalando/go-keyring"
	bolt "go.etcd.io/bbolt"
)

// MockKeyring is a test implementation of the Keyring interface
type MockKeyring struct {
	mu    sync.RWMutex
	store map[string]map[string]string // service -> account -> password
}

// NewMockKeyring creates a new mock keyring for testing
func NewMockKeyring() *MockKeyring {
	return &MockKeyring{
		store: make(map[string]map[string]string),
	}
}

// Set stores a password in the mock keyring
func (m *MockKeyring) Set(service, account, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store[service] == nil {
		m.store[service] = make(map[string]string)
	}
	m.store[service][account] = password
	return nil
}

// Get retrieves a password from the mock keyring
func (m *MockKeyring) Get(service, account string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if accounts, ok := m.store[service]; ok {
		if password, ok := accounts[account]; ok {
			return password, nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrCredentialNotFound, service, account)
}

// Delete removes a password from the mock keyring
func (m *MockKeyring) Delete(service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if accounts, ok := m.store[service]; ok {
		if _, ok := accounts[account]; ok {
			delete(accounts, account)
			return nil
		}
	}
	return fmt.Errorf("%w: %s/%s", ErrCredentialNotFound, service, account)
}

// SystemKeyring stores secrets in the OS keyring (Secret Service, Keychain,
// Windows Credential Manager). Any failure other than a missing entry is
// reported as ErrKeyringNotAvailable.
type SystemKeyring struct{}

func systemError(err error) error {
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrCredentialNotFound
	}
	return fmt.Errorf("%w: %v", ErrKeyringNotAvailable, err)
}

// Set stores a password in the system keyring
func (s *SystemKeyring) Set(service, account, password string) error {
	if err := keyring.Set(service, account, password); err != nil {
		return systemError(err)
	}
	return nil
}

// Get retrieves a password from the system keyring
func (s *SystemKeyring) Get(service, account string) (string, error) {
	secret, err := keyring.Get(service, account)
	if err != nil {
		return "", systemError(err)
	}
	return secret, nil
}

// Delete removes a password from the system keyring
func (s *SystemKeyring) Delete(service, account string) error {
	if err := keyring.Delete(service, account); err != nil {
		return systemError(err)
	}
	return nil
}

// FileKeyring keeps secrets in a bbolt file readable only by the user, one
// bucket per service. It is the fallback for hosts without a keyring service.
type FileKeyring struct {
	db *bolt.DB
}

// OpenFileKeyring opens or creates the keyring file at path.
func OpenFileKeyring(path string) (*FileKeyring, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring file: %w", err)
	}
	return &FileKeyring{db: db}, nil
}

// Set stores a password in the keyring file
func (f *FileKeyring) Set(service, account, password string) error {
	return f.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(service))
		if err != nil {
			return err
		}
		return b.Put([]byte(account), []byte(password))
	})
}

// Get retrieves a password from the keyring file
func (f *FileKeyring) Get(service, account string) (string, error) {
	var secret string
	err := f.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(service))
		if b == nil {
			return fmt.Errorf("%w: %s/%s", ErrCredentialNotFound, service, account)
		}
		v := b.Get([]byte(account))
		if v == nil {
			return fmt.Errorf("%w: %s/%s", ErrCredentialNotFound, service, account)
		}
		secret = string(v)
		return nil
	})
	return secret, err
}

// Delete removes a password from the keyring file
func (f *FileKeyring) Delete(service, account string) error {
	return f.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(service))
		if b == nil || b.Get([]byte(account)) == nil {
			return fmt.Errorf("%w: %s/%s", ErrCredentialNotFound, service, account)
		}
		return b.Delete([]byte(account))
	})
}

// Close releases the keyring file.
func (f *FileKeyring) Close() error {
	return f.db.Close()
}

// FallbackKeyring uses Primary and switches to Secondary whenever Primary
// reports ErrKeyringNotAvailable. Reads also consult Secondary when
// Primary has no entry.
type FallbackKeyring struct {
	Primary   Keyring
	Secondary Keyring
}

// Set stores a password in the first available keyring
func (k *FallbackKeyring) Set(service, account, password string) error {
	err := k.Primary.Set(service, account, password)
	if errors.Is(err, ErrKeyringNotAvailable) {
		return k.Secondary.Set(service, account, password)
	}
	return err
}

// Get retrieves a password from the first keyring holding it
func (k *FallbackKeyring) Get(service, account string) (string, error) {
	secret, err := k.Primary.Get(service, account)
	if err == nil {
		return secret, nil
	}
	if errors.Is(err, ErrKeyringNotAvailable) || errors.Is(err, ErrCredentialNotFound) {
		return k.Secondary.Get(service, account)
	}
	return "", err
}

// Delete removes a password from both keyrings
func (k *FallbackKeyring) Delete(service, account string) error {
	errPrimary := k.Primary.Delete(service, account)
	errSecondary := k.Secondary.Delete(service, account)
	if errPrimary == nil || errSecondary == nil {
		return nil
	}
	if !errors.Is(errPrimary, ErrCredentialNotFound) && !errors.Is(errPrimary, ErrKeyringNotAvailable) {
		return errPrimary
	}
	return errSecondary
}

// PathKeyring opens the keyring file at Path for each operation, so the CLI
// and provider processes can share it without holding the file lock.
type PathKeyring struct {
	Path string
}

func (p PathKeyring) with(fn func(*FileKeyring) error) error {
	f, err := OpenFileKeyring(p.Path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return fn(f)
}

// Set stores a password in the keyring file
func (p PathKeyring) Set(service, account, password string) error {
	return p.with(func(f *FileKeyring) error { return f.Set(service, account, password) })
}

// Get retrieves a password from the keyring file
func (p PathKeyring) Get(service, account string) (string, error) {
	var secret string
	err := p.with(func(f *FileKeyring) error {
		var err error
		secret, err = f.Get(service, account)
		return err
	})
	return secret, err
}

// Delete removes a password from the keyring file
func (p PathKeyring) Delete(service, account string) error {
	return p.with(func(f *FileKeyring) error { return f.Delete(service, account) })
}

// NewDefaultKeyring returns the OS keyring backed by the file at fallbackPath.
func NewDefaultKeyring(fallbackPath string) *FallbackKeyring {
	return &FallbackKeyring{Primary: &SystemKeyring{}, Secondary: PathKeyring{Path: fallbackPath}}
}
