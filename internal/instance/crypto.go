package instance

import (
	"sync"

	cberrors "github.com/couchbase/lcbgo/internal/errors"
)

// CryptoProvider is spec.md §4.9's pluggable field-level-encryption
// collaborator: an Instance can hold several, keyed by alias, the way
// libcouchbase's crypto API lets a caller register one provider per
// "@alias" annotation found in a document.
type CryptoProvider interface {
	Alias() string
	Encrypt(plaintext []byte) (ciphertext []byte, err error)
	Decrypt(ciphertext []byte) (plaintext []byte, err error)
}

// CryptoRegistry holds the set of providers an Instance was configured
// with. Safe for concurrent registration and lookup.
type CryptoRegistry struct {
	mu        sync.RWMutex
	providers map[string]CryptoProvider
}

func newCryptoRegistry() *CryptoRegistry {
	return &CryptoRegistry{providers: make(map[string]CryptoProvider)}
}

// Register adds or replaces the provider for its own alias.
func (r *CryptoRegistry) Register(p CryptoProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Alias()] = p
}

// Get returns the provider registered under alias, if any.
func (r *CryptoRegistry) Get(alias string) (CryptoProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[alias]
	return p, ok
}

var errNoCryptoProvider = cberrors.New(cberrors.CodeUsage, "crypto", "no crypto provider registered for alias", nil)
