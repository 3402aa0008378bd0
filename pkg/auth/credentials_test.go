package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory CredentialStore with injectable list failures.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	listErr  error
}

func newMemStore() *memStore {
	return &memStore{accounts: make(map[string]Account)}
}

func (m *memStore) Store(account *Account) error {
	if err := validateAccount(account); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.Name] = *account
	return nil
}

func (m *memStore) Retrieve(name string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &account, nil
}

func (m *memStore) List() ([]*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	accounts := make([]*Account, 0, len(m.accounts))
	for _, account := range m.accounts {
		acc := account
		accounts = append(accounts, &acc)
	}
	return accounts, nil
}

func (m *memStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[name]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.accounts, name)
	return nil
}

func (m *memStore) Exists(name string) bool {
	_, err := m.Retrieve(name)
	return err == nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

func TestCredentialManager(t *testing.T) {
	mem := newMemStore()
	manager := newManager(mem)

	account := &Account{
		Name:        "main",
		UserID:      6492,
		AccessToken: "vk1.a.test_token_1234567890",
	}
	require.NoError(t, manager.Store(account))
	assert.False(t, account.LastModified.IsZero())

	retrieved, err := manager.Retrieve("main")
	require.NoError(t, err)
	assert.Equal(t, account.AccessToken, retrieved.AccessToken)
	assert.Equal(t, uint64(6492), retrieved.UserID)

	accounts, err := manager.List()
	require.NoError(t, err)
	assert.Len(t, accounts, 1)

	require.NoError(t, manager.Delete("main"))
	_, err = manager.Retrieve("main")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.Equal(t, 0, mem.count())
}

func TestManagerStoreValidation(t *testing.T) {
	manager := newManager(newMemStore())

	assert.ErrorIs(t, manager.Store(nil), ErrInvalidCredentials)
	assert.ErrorIs(t, manager.Store(&Account{AccessToken: "token"}), ErrInvalidCredentials)
	assert.ErrorIs(t, manager.Store(&Account{Name: "main"}), ErrInvalidCredentials)
	assert.ErrorIs(t, manager.Store(&Account{Name: " main", AccessToken: "token"}), ErrInvalidCredentials)
	assert.ErrorIs(t, manager.Store(&Account{Name: "main", AccessToken: "tok en"}), ErrInvalidCredentials)
}

func TestManagerKeepsUserBinding(t *testing.T) {
	mem := newMemStore()
	manager := newManager(mem)

	require.NoError(t, manager.Store(&Account{Name: "main", UserID: 6492, AccessToken: "first"}))

	// A refreshed token without a user id keeps the binding.
	refreshed := &Account{Name: "main", AccessToken: "second"}
	require.NoError(t, manager.Store(refreshed))
	assert.Equal(t, uint64(6492), refreshed.UserID)

	err := manager.Store(&Account{Name: "main", UserID: 1, AccessToken: "foreign"})
	assert.ErrorIs(t, err, ErrUserMismatch)

	stored, err := manager.Retrieve("main")
	require.NoError(t, err)
	assert.Equal(t, "second", stored.AccessToken)
	assert.Equal(t, uint64(6492), stored.UserID)
}

func TestManagerLookupByUserID(t *testing.T) {
	t.Setenv(envAccessToken, "")
	mem := newMemStore()
	now := time.Now()
	require.NoError(t, mem.Store(&Account{Name: "old", UserID: 6492, AccessToken: "a", LastModified: now.Add(-time.Hour)}))
	require.NoError(t, mem.Store(&Account{Name: "new", UserID: 6492, AccessToken: "b", LastModified: now}))
	require.NoError(t, mem.Store(&Account{Name: "1", UserID: 77, AccessToken: "c", LastModified: now}))
	manager := newManager(mem, NewEnvironmentStore())

	account, err := manager.Lookup("6492")
	require.NoError(t, err)
	assert.Equal(t, "new", account.Name)

	// Names win over user ids.
	account, err = manager.Lookup("1")
	require.NoError(t, err)
	assert.Equal(t, uint64(77), account.UserID)

	_, err = manager.Lookup("404")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	_, err = manager.Lookup("missing")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	_, err = manager.RetrieveByUserID(0)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRetrieveDefaultPrefersEnvironment(t *testing.T) {
	t.Setenv(envAccessToken, "env_token_value")

	mem := newMemStore()
	require.NoError(t, mem.Store(&Account{Name: "stored", AccessToken: "stored_token"}))
	manager := newManager(mem, NewEnvironmentStore())

	account, err := manager.RetrieveDefault()
	require.NoError(t, err)
	assert.Equal(t, "env_token_value", account.AccessToken)
}

func TestRetrieveDefaultLatestAccount(t *testing.T) {
	t.Setenv(envAccessToken, "")

	mem := newMemStore()
	now := time.Now()
	require.NoError(t, mem.Store(&Account{Name: "old", AccessToken: "a", LastModified: now.Add(-time.Hour)}))
	require.NoError(t, mem.Store(&Account{Name: "new", AccessToken: "b", LastModified: now}))
	manager := newManager(mem, NewEnvironmentStore())

	account, err := manager.RetrieveDefault()
	require.NoError(t, err)
	assert.Equal(t, "new", account.Name)

	empty := newManager(newMemStore())
	_, err = empty.RetrieveDefault()
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
}

func TestSanitizeAccount(t *testing.T) {
	account := &Account{Name: "main", AccessToken: "vk1.a.abcdefghijklmnop"}

	sanitized := SanitizeAccount(account)
	assert.Equal(t, "main", sanitized.Name)
	assert.Equal(t, "vk1....mnop", sanitized.AccessToken)
	assert.Equal(t, "********", maskString("short"))
	assert.Nil(t, SanitizeAccount(nil))
}

func TestEncryptedFileStore(t *testing.T) {
	t.Setenv("VKPHOTOS_PASSPHRASE", "test_passphrase_123")
	path := filepath.Join(t.TempDir(), "credentials.enc")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)

	account := &Account{Name: "encrypted", AccessToken: "secret_access_token"}
	require.NoError(t, store.Store(account))

	retrieved, err := store.Retrieve("encrypted")
	require.NoError(t, err)
	assert.Equal(t, account.AccessToken, retrieved.AccessToken)
	assert.True(t, store.Exists("encrypted"))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(content, []byte("secret_access_token")), "file contains plaintext token")

	require.NoError(t, store.Delete("encrypted"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.ErrorIs(t, store.Delete("encrypted"), ErrCredentialsNotFound)
}

func TestEncryptedFileStoreWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")

	t.Setenv("VKPHOTOS_PASSPHRASE", "first")
	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(&Account{Name: "main", AccessToken: "token"}))

	t.Setenv("VKPHOTOS_PASSPHRASE", "second")
	other, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	_, err = other.Retrieve("main")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCredentialsNotFound)
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv(envAccessToken, "env_token")
	t.Setenv(envUserID, "100")

	store := NewEnvironmentStore()
	account, err := store.Retrieve("")
	require.NoError(t, err)
	assert.Equal(t, "default", account.Name)
	assert.Equal(t, "env_token", account.AccessToken)
	assert.Equal(t, uint64(100), account.UserID)
	assert.True(t, store.Exists(""))

	assert.ErrorIs(t, store.Store(&Account{}), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Delete("default"), ErrStoreUnavailable)

	t.Setenv(envAccessToken, "")
	_, err = store.Retrieve("")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	accounts, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestRealManagerWithEncryptedStore(t *testing.T) {
	t.Setenv("VKPHOTOS_PASSPHRASE", "test_passphrase_real_manager")

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(t.TempDir(), "credentials.enc"))
	require.NoError(t, err)
	manager := newManager(encryptedStore)

	require.NoError(t, manager.Store(&Account{Name: "real", AccessToken: "real_token"}))

	accounts, err := manager.List()
	require.NoError(t, err)
	assert.Len(t, accounts, 1)

	retrieved, err := manager.Retrieve("real")
	require.NoError(t, err)
	assert.Equal(t, "real_token", retrieved.AccessToken)
}

func TestManagerListSkipsFailingStore(t *testing.T) {
	broken := newMemStore()
	broken.listErr = errors.New("keychain locked")
	healthy := newMemStore()
	require.NoError(t, healthy.Store(&Account{Name: "main", AccessToken: "token"}))

	accounts, err := newManager(broken, healthy).List()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "main", accounts[0].Name)
}

func TestEncryptedFileStoreUserBinding(t *testing.T) {
	t.Setenv(passphraseEnv, "binding_passphrase")
	store, err := NewEncryptedFileStore(filepath.Join(t.TempDir(), "credentials.enc"))
	require.NoError(t, err)

	require.NoError(t, store.Store(&Account{Name: "main", UserID: 6492, AccessToken: "first"}))
	require.NoError(t, store.Store(&Account{Name: "main", AccessToken: "second"}))
	assert.ErrorIs(t, store.Store(&Account{Name: "main", UserID: 1, AccessToken: "foreign"}), ErrUserMismatch)

	account, err := store.RetrieveUser(6492)
	require.NoError(t, err)
	assert.Equal(t, "second", account.AccessToken)

	_, err = store.RetrieveUser(1)
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
}

func TestEncryptedFileStoreFormat(t *testing.T) {
	t.Setenv(passphraseEnv, "format_passphrase")
	path := filepath.Join(t.TempDir(), "credentials.enc")
	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(&Account{Name: "main", AccessToken: "token"}))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	var f vaultFile
	require.NoError(t, json.Unmarshal(content, &f))
	assert.Equal(t, vaultVersion, f.Version)
	assert.Equal(t, vaultIterations, f.Iterations)

	// The header is authenticated: lowering the work factor breaks decryption.
	f.Iterations = 1
	tampered, err := json.Marshal(f)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, tampered, 0600))
	_, err = store.Retrieve("main")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCredentialsNotFound)

	f.Version = 1
	old, err := json.Marshal(f)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, old, 0600))
	_, err = store.Retrieve("main")
	assert.ErrorIs(t, err, ErrUnsupportedVault)
}
