package auth

import (
	"os"
	"strconv"
	"time"
)

const (
	envAccessToken = "VKPHOTOS_ACCESS_TOKEN"
	envUserID      = "VKPHOTOS_USER_ID"
)

// EnvironmentStore implements CredentialStore using environment variables
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve reads the token from VKPHOTOS_ACCESS_TOKEN. Any name matches.
func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	token := os.Getenv(envAccessToken)
	if token == "" {
		return nil, ErrCredentialsNotFound
	}

	if name == "" {
		name = "default"
	}

	userID, _ := strconv.ParseUint(os.Getenv(envUserID), 10, 64)

	return &Account{
		Name:         name,
		UserID:       userID,
		AccessToken:  token,
		LastModified: time.Now(),
	}, nil
}

// List returns a single account if the token variable is set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if an environment token is set
func (e *EnvironmentStore) Exists(name string) bool {
	return os.Getenv(envAccessToken) != ""
}
