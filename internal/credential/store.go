// Package credential persists the long-lived login credential in the OS
// keychain and caches the feature flags derived from it.
package credential

import (
	"errors"
	"strings"

	"github.com/router-for-me/cxlogin/internal/auth"
	log "github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"
)

const (
	// baseNamespace is the keychain service of the standard product variant.
	baseNamespace = "cxlogin"
	// credentialKey is a key name, not a secret.
	credentialKey = "credential" // #nosec G101
)

// Credential is the stored refresh token or API key. It is never logged.
type Credential string

// String hides the value from formatted output.
func (c Credential) String() string {
	if c == "" {
		return ""
	}
	return "[redacted]"
}

// Empty reports whether the credential holds a value.
func (c Credential) Empty() bool {
	return strings.TrimSpace(string(c)) == ""
}

// ErrNotFound is returned by SecretStorage when no value is stored.
var ErrNotFound = keyring.ErrNotFound

// SecretStorage is a namespaced secret store.
type SecretStorage interface {
	Get(namespace, key string) (string, error)
	Set(namespace, key, value string) error
	Delete(namespace, key string) error
}

// KeyringStorage stores secrets in the OS keychain.
type KeyringStorage struct{}

func (KeyringStorage) Get(namespace, key string) (string, error) {
	return keyring.Get(namespace, key)
}

func (KeyringStorage) Set(namespace, key, value string) error {
	return keyring.Set(namespace, key, value)
}

func (KeyringStorage) Delete(namespace, key string) error {
	return keyring.Delete(namespace, key)
}

// Namespace returns the keychain service for a product variant. Sibling
// variants get their own namespace so their credentials never collide.
func Namespace(variant string) string {
	variant = strings.ToLower(strings.TrimSpace(variant))
	if variant == "" || variant == "standard" {
		return baseNamespace
	}
	return baseNamespace + "-" + variant
}

// Store reads and writes the credential of one product variant.
type Store struct {
	storage   SecretStorage
	namespace string
}

// NewStore creates a Store. A nil storage selects the OS keychain.
func NewStore(storage SecretStorage, variant string) *Store {
	if storage == nil {
		storage = KeyringStorage{}
	}
	return &Store{storage: storage, namespace: Namespace(variant)}
}

// Namespace returns the keychain service used by the store.
func (s *Store) Namespace() string {
	return s.namespace
}

// Get returns the stored credential. A missing credential is reported by the
// boolean, not as an error.
func (s *Store) Get() (Credential, bool, error) {
	value, err := s.storage.Get(s.namespace, credentialKey)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, auth.Wrap(auth.KindStorageFailure, "failed to read credential", err)
	}
	cred := Credential(value)
	if cred.Empty() {
		return "", false, nil
	}
	return cred, true, nil
}

// Set stores cred, replacing any previous value.
func (s *Store) Set(cred Credential) error {
	if cred.Empty() {
		return auth.New(auth.KindInvalidInput, "refusing to store an empty credential")
	}
	if err := s.storage.Set(s.namespace, credentialKey, string(cred)); err != nil {
		return auth.Wrap(auth.KindStorageFailure, "failed to store credential", err)
	}
	log.Debugf("credential stored in namespace %s", s.namespace)
	return nil
}

// Delete removes the credential. Deleting a missing credential succeeds.
func (s *Store) Delete() error {
	err := s.storage.Delete(s.namespace, credentialKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return auth.Wrap(auth.KindStorageFailure, "failed to delete credential", err)
	}
	log.Debugf("credential removed from namespace %s", s.namespace)
	return nil
}
