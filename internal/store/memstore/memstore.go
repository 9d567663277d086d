// Package memstore provides an in-memory creditledger.Store used when no
// database is configured and in tests.
package memstore

import (
	"context"
	"sync"

	"github.com/MarkoPoloResearchLab/creditdesk/pkg/creditledger"
)

// Store keeps mirrored ledger entries in memory, newest first.
type Store struct {
	mu      sync.Mutex
	entries []creditledger.Entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// InsertEntry prepends the entry to the mirrored history.
func (store *Store) InsertEntry(_ context.Context, entry creditledger.Entry) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.entries = append([]creditledger.Entry{entry}, store.entries...)
	return nil
}

// ListRecent returns up to limit entries, newest first.
func (store *Store) ListRecent(_ context.Context, limit int) ([]creditledger.Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	count := len(store.entries)
	if limit > 0 && limit < count {
		count = limit
	}
	copied := make([]creditledger.Entry, count)
	copy(copied, store.entries[:count])
	return copied, nil
}

var _ creditledger.Store = (*Store)(nil)
