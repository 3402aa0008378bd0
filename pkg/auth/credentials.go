package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Account holds an API access token for one VK account
type Account struct {
	Name         string    `json:"name"`
	UserID       uint64    `json:"user_id,omitempty"`
	AccessToken  string    `json:"access_token"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves credentials for a given account
	Store(account *Account) error

	// Retrieve gets credentials for a specific account name
	Retrieve(name string) (*Account, error)

	// List returns all stored accounts
	List() ([]*Account, error)

	// Delete removes credentials for a specific account name
	Delete(name string) error

	// Exists checks if credentials exist for an account name
	Exists(name string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a new credential manager with appropriate storage backends
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	// Try keyring first (system keychain)
	keyringStore, err := NewKeyringStore()
	if err == nil {
		stores = append(stores, keyringStore)
	}

	// Always add encrypted file store as fallback
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	// Environment store as last resort
	stores = append(stores, NewEnvironmentStore())

	return newManager(stores...), nil
}

func newManager(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// validateAccount checks the fields every store needs.
func validateAccount(account *Account) error {
	switch {
	case account == nil || account.Name == "":
		return fmt.Errorf("%w: account name is required", ErrInvalidCredentials)
	case strings.TrimSpace(account.Name) != account.Name:
		return fmt.Errorf("%w: account name %q has surrounding spaces", ErrInvalidCredentials, account.Name)
	case account.AccessToken == "":
		return fmt.Errorf("%w: access token is required", ErrInvalidCredentials)
	case strings.ContainsAny(account.AccessToken, " \t\r\n"):
		return fmt.Errorf("%w: access token contains whitespace", ErrInvalidCredentials)
	}
	return nil
}

// Store saves credentials using the first available store. A name already
// bound to a VK user id keeps that id: storing a token of another user under
// it fails with ErrUserMismatch.
func (m *Manager) Store(account *Account) error {
	if err := validateAccount(account); err != nil {
		return err
	}
	if prev := m.persisted(account.Name); prev != nil && prev.UserID != 0 {
		switch {
		case account.UserID == 0:
			account.UserID = prev.UserID
		case account.UserID != prev.UserID:
			return fmt.Errorf("%w: %q is user %d, not %d", ErrUserMismatch, account.Name, prev.UserID, account.UserID)
		}
	}

	account.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(account)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets credentials from the first store that has them
func (m *Manager) Retrieve(name string) (*Account, error) {
	for _, store := range m.stores {
		if account, err := store.Retrieve(name); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w for account: %s", ErrCredentialsNotFound, name)
}

// persisted returns name from the writable stores, skipping the environment.
func (m *Manager) persisted(name string) *Account {
	for _, store := range m.stores {
		if _, ok := store.(*EnvironmentStore); ok {
			continue
		}
		if account, err := store.Retrieve(name); err == nil && account != nil {
			return account
		}
	}
	return nil
}

// RetrieveByUserID returns the most recently stored account of a VK user.
func (m *Manager) RetrieveByUserID(userID uint64) (*Account, error) {
	if userID == 0 {
		return nil, ErrInvalidCredentials
	}
	accounts, err := m.List()
	if err != nil {
		return nil, err
	}
	var found *Account
	for _, account := range accounts {
		if account.UserID == userID && (found == nil || account.LastModified.After(found.LastModified)) {
			found = account
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w for user id: %d", ErrCredentialsNotFound, userID)
	}
	return found, nil
}

// Lookup finds an account by name, or by VK user id when ref is numeric and
// no account has that name.
func (m *Manager) Lookup(ref string) (*Account, error) {
	account, err := m.Retrieve(ref)
	if err == nil {
		return account, nil
	}
	if id, perr := strconv.ParseUint(ref, 10, 64); perr == nil {
		return m.RetrieveByUserID(id)
	}
	return nil, err
}

// RetrieveDefault returns the environment token if set, otherwise the most
// recently stored account.
func (m *Manager) RetrieveDefault() (*Account, error) {
	for _, store := range m.stores {
		if envStore, ok := store.(*EnvironmentStore); ok {
			if account, err := envStore.Retrieve(""); err == nil {
				return account, nil
			}
		}
	}

	accounts, err := m.List()
	if err == nil && len(accounts) > 0 {
		latest := accounts[0]
		for _, account := range accounts[1:] {
			if account.LastModified.After(latest.LastModified) {
				latest = account
			}
		}
		return latest, nil
	}

	return nil, ErrCredentialsNotFound
}

// List returns all stored accounts from all stores
func (m *Manager) List() ([]*Account, error) {
	accountMap := make(map[string]*Account)

	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		for _, account := range accounts {
			// Use the most recently modified version
			if existing, ok := accountMap[account.Name]; !ok || account.LastModified.After(existing.LastModified) {
				accountMap[account.Name] = account
			}
		}
	}

	result := make([]*Account, 0, len(accountMap))
	for _, account := range accountMap {
		result = append(result, account)
	}

	return result, nil
}

// Delete removes credentials from all stores
func (m *Manager) Delete(name string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(name); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w for account: %s", ErrCredentialsNotFound, name)
	}

	return nil
}

// DeleteAll removes all stored credentials
func (m *Manager) DeleteAll() error {
	accounts, err := m.List()
	if err != nil {
		return err
	}

	for _, account := range accounts {
		_ = m.Delete(account.Name) // Ignore individual errors
	}

	return nil
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch {
	case os.Getenv("VKPHOTOS_CONFIG_DIR") != "":
		configDir = os.Getenv("VKPHOTOS_CONFIG_DIR")
	case runtime.GOOS == "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "vkphotos")
	case runtime.GOOS == "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "vkphotos")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "vkphotos")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "vkphotos")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// SanitizeAccount creates a copy of the account with the token masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}

	return &Account{
		Name:         account.Name,
		UserID:       account.UserID,
		AccessToken:  maskString(account.AccessToken),
		LastModified: account.LastModified,
	}
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
	ErrUserMismatch        = errors.New("account belongs to another user")
)
