package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	vaultVersion    = 2
	vaultSaltSize   = 32
	vaultKeySize    = 32
	vaultIterations = 210000
	passphraseEnv   = "VKPHOTOS_PASSPHRASE"
)

// ErrUnsupportedVault is returned for credential files written by an
// unknown format version.
var ErrUnsupportedVault = errors.New("unsupported credential file version")

// vaultFile is the on-disk envelope. Only Sealed is secret; the header is
// bound to it as additional authenticated data.
type vaultFile struct {
	Version    int       `json:"version"`
	Salt       string    `json:"salt"`
	Iterations int       `json:"iterations"`
	Sealed     string    `json:"sealed"`
	Modified   time.Time `json:"modified"`
}

func (f *vaultFile) header() []byte {
	return []byte(fmt.Sprintf("vkphotos-vault/%d/%s/%d", f.Version, f.Salt, f.Iterations))
}

// vault is the decrypted content: accounts by name.
type vault struct {
	Accounts map[string]Account `json:"accounts"`
}

// put stores account under its name. A name already bound to another VK
// user cannot be rebound; a missing user id keeps the stored one.
func (v *vault) put(account Account) error {
	if prev, ok := v.Accounts[account.Name]; ok && prev.UserID != 0 {
		switch {
		case account.UserID == 0:
			account.UserID = prev.UserID
		case account.UserID != prev.UserID:
			return fmt.Errorf("%w: %q is user %d, not %d", ErrUserMismatch, account.Name, prev.UserID, account.UserID)
		}
	}
	v.Accounts[account.Name] = account
	return nil
}

func (v *vault) byUser(userID uint64) (*Account, bool) {
	var found *Account
	for _, account := range v.Accounts {
		if account.UserID != userID {
			continue
		}
		if found == nil || account.LastModified.After(found.LastModified) {
			acc := account
			found = &acc
		}
	}
	return found, found != nil
}

// EncryptedFileStore keeps accounts in one AES-GCM sealed file whose key is
// derived from a passphrase with PBKDF2.
type EncryptedFileStore struct {
	path       string
	passphrase string
	mu         sync.RWMutex
}

// NewEncryptedFileStore opens the vault at path. The passphrase comes from
// VKPHOTOS_PASSPHRASE or a generated file next to the configuration.
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	passphrase, err := loadPassphrase()
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	return &EncryptedFileStore{path: path, passphrase: passphrase}, nil
}

// Store adds or replaces the account with the same name.
func (e *EncryptedFileStore) Store(account *Account) error {
	if err := validateAccount(account); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.open()
	if errors.Is(err, os.ErrNotExist) {
		v = &vault{Accounts: make(map[string]Account)}
	} else if err != nil {
		return err
	}
	if err := v.put(*account); err != nil {
		return err
	}
	return e.seal(v)
}

// Retrieve returns the account stored under name.
func (e *EncryptedFileStore) Retrieve(name string) (*Account, error) {
	if name == "" {
		return nil, ErrInvalidCredentials
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	v, err := e.open()
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, err
	}
	account, ok := v.Accounts[name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &account, nil
}

// RetrieveUser returns the most recently stored account of a VK user.
func (e *EncryptedFileStore) RetrieveUser(userID uint64) (*Account, error) {
	if userID == 0 {
		return nil, ErrInvalidCredentials
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	v, err := e.open()
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, err
	}
	account, ok := v.byUser(userID)
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return account, nil
}

// List returns the stored accounts ordered by name.
func (e *EncryptedFileStore) List() ([]*Account, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, err := e.open()
	if errors.Is(err, os.ErrNotExist) {
		return []*Account{}, nil
	}
	if err != nil {
		return nil, err
	}

	accounts := make([]*Account, 0, len(v.Accounts))
	for _, account := range v.Accounts {
		acc := account
		accounts = append(accounts, &acc)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Name < accounts[j].Name })
	return accounts, nil
}

// Delete removes the account. The file goes away with the last account.
func (e *EncryptedFileStore) Delete(name string) error {
	if name == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := e.open()
	if errors.Is(err, os.ErrNotExist) {
		return ErrCredentialsNotFound
	}
	if err != nil {
		return err
	}
	if _, ok := v.Accounts[name]; !ok {
		return ErrCredentialsNotFound
	}
	delete(v.Accounts, name)

	if len(v.Accounts) == 0 {
		return os.Remove(e.path)
	}
	return e.seal(v)
}

// Exists reports whether name is stored.
func (e *EncryptedFileStore) Exists(name string) bool {
	_, err := e.Retrieve(name)
	return err == nil
}

func (e *EncryptedFileStore) open() (*vault, error) {
	content, err := os.ReadFile(e.path)
	if err != nil {
		return nil, err
	}

	var f vaultFile
	if err := json.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", e.path, err)
	}
	if f.Version != vaultVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVault, f.Version)
	}
	if f.Iterations < 1 {
		return nil, fmt.Errorf("%w: %d key iterations", ErrUnsupportedVault, f.Iterations)
	}
	salt, err := base64.StdEncoding.DecodeString(f.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(f.Sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode vault: %w", err)
	}

	key := pbkdf2.Key([]byte(e.passphrase), salt, f.Iterations, vaultKeySize, sha256.New)
	plain, err := openSealed(key, sealed, f.header())
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s: %w", e.path, err)
	}

	v := &vault{}
	if err := json.Unmarshal(plain, v); err != nil {
		return nil, fmt.Errorf("failed to parse accounts: %w", err)
	}
	if v.Accounts == nil {
		v.Accounts = make(map[string]Account)
	}
	return v, nil
}

// seal writes v with a fresh salt and nonce, replacing the file atomically.
func (e *EncryptedFileStore) seal(v *vault) error {
	salt := make([]byte, vaultSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	f := vaultFile{
		Version:    vaultVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Iterations: vaultIterations,
		Modified:   time.Now().UTC(),
	}

	plain, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}
	key := pbkdf2.Key([]byte(e.passphrase), salt, f.Iterations, vaultKeySize, sha256.New)
	sealed, err := sealWith(key, plain, f.header())
	if err != nil {
		return fmt.Errorf("failed to encrypt accounts: %w", err)
	}
	f.Sealed = base64.StdEncoding.EncodeToString(sealed)

	content, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	return os.Rename(tmp, e.path)
}

// loadPassphrase reads VKPHOTOS_PASSPHRASE, else the generated passphrase
// file, creating it on first use.
func loadPassphrase() (string, error) {
	if pass := os.Getenv(passphraseEnv); pass != "" {
		return pass, nil
	}

	configDir, err := getConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(configDir, ".passphrase")
	if content, err := os.ReadFile(path); err == nil && len(content) > 0 {
		return string(content), nil
	}

	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	passphrase := base64.URLEncoding.EncodeToString(b)
	if err := os.WriteFile(path, []byte(passphrase), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return passphrase, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// sealWith returns nonce||ciphertext.
func sealWith(key, plain, header []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, header), nil
}

func openSealed(key, sealed, header []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("sealed data too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, header)
}
