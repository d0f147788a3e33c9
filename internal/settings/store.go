package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Backend persists settings records keyed by session id.
//
// Load reports found=false for a session that has never been saved or whose
// stored record cannot be decoded. Implementations must be safe for
// concurrent use.
type Backend interface {
	Load(ctx context.Context, sessionID string) (f Fields, found bool, err error)
	Save(ctx context.Context, sessionID string, f Fields) error
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// Pinger is implemented by backends that can report their connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is the typed settings API over a [Backend]. Reads run concurrently.
// Writes to one session (including the create-on-first-read and heal-on-read
// paths) are serialized; writes to different sessions proceed in parallel and
// only ever wait on the backend itself.
type Store struct {
	backend Backend
	records recordLocks

	mu      sync.RWMutex // guards catalog
	catalog Catalog
}

// NewStore returns a Store over backend using catalog for defaults and validation.
func NewStore(backend Backend, catalog Catalog) *Store {
	return &Store{backend: backend, catalog: catalog}
}

// Catalog returns the catalog the store validates against.
func (s *Store) Catalog() Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// SetCatalog swaps the catalog used for future reads and writes. Stored
// records that fall outside the new catalog are healed on their next read.
func (s *Store) SetCatalog(c Catalog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = c
}

// Get returns the settings for sessionID, creating them with defaults on the
// first call and repairing any invalid stored field.
func (s *Store) Get(ctx context.Context, sessionID string) (Settings, error) {
	f, found, err := s.backend.Load(ctx, sessionID)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: load %q: %w", sessionID, err)
	}
	st, healed := Normalize(sessionID, f, s.Catalog())
	if found && !healed {
		return st, nil
	}

	unlock := s.records.lock(sessionID)
	defer unlock()
	// Re-read under the session lock: a concurrent Set may have landed.
	f, found, err = s.backend.Load(ctx, sessionID)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: load %q: %w", sessionID, err)
	}
	st, healed = Normalize(sessionID, f, s.Catalog())
	if found && !healed {
		return st, nil
	}
	if found {
		slog.Warn("settings: healed invalid stored record", "session", sessionID)
	}
	if err := s.backend.Save(ctx, sessionID, st.Fields()); err != nil {
		return Settings{}, fmt.Errorf("settings: save %q: %w", sessionID, err)
	}
	return st, nil
}

// Set merges patch into the stored settings and persists the result before
// returning it. A patch value outside the catalog fails with [ErrInvalidValue]
// and nothing is written.
func (s *Store) Set(ctx context.Context, sessionID string, patch Patch) (Settings, error) {
	unlock := s.records.lock(sessionID)
	defer unlock()

	f, _, err := s.backend.Load(ctx, sessionID)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: load %q: %w", sessionID, err)
	}
	cat := s.Catalog()
	current, _ := Normalize(sessionID, f, cat)
	next, err := cat.Apply(current, patch)
	if err != nil {
		return Settings{}, err
	}
	if err := s.backend.Save(ctx, sessionID, next.Fields()); err != nil {
		return Settings{}, fmt.Errorf("settings: save %q: %w", sessionID, err)
	}
	return next, nil
}

// Reset deletes the stored record. The next Get recreates it with defaults.
func (s *Store) Reset(ctx context.Context, sessionID string) error {
	unlock := s.records.lock(sessionID)
	defer unlock()
	if err := s.backend.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("settings: delete %q: %w", sessionID, err)
	}
	return nil
}

// Ping checks backend connectivity when the backend supports it.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.backend.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
