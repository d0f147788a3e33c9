package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	_ Backend = (*BadgerBackend)(nil)
	_ Pinger  = (*BadgerBackend)(nil)
)

const badgerKeyPrefix = "settings:"

// BadgerOptions configures [OpenBadger].
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string

	// InMemory runs BadgerDB without disk persistence. Used in tests.
	InMemory bool
}

// BadgerBackend stores msgpack-encoded records in an embedded BadgerDB under
// the key "settings:<session id>".
type BadgerBackend struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the BadgerDB at opts.Dir.
func OpenBadger(opts BadgerOptions) (*BadgerBackend, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("settings: badger dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("settings: open badger: %w", err)
	}
	return &BadgerBackend{db: db}, nil
}

// Load implements [Backend]. A value that fails to decode is reported as not
// found so the store rewrites it with defaults.
func (b *BadgerBackend) Load(_ context.Context, sessionID string) (Fields, bool, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(sessionID))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var f Fields
	if err := msgpack.Unmarshal(raw, &f); err != nil {
		slog.Warn("settings: undecodable badger record", "session", sessionID, "err", err)
		return nil, false, nil
	}
	return f, true, nil
}

// Save implements [Backend].
func (b *BadgerBackend) Save(_ context.Context, sessionID string, f Fields) error {
	data, err := msgpack.Marshal(f)
	if err != nil {
		return fmt.Errorf("settings: encode record: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(sessionID), data)
	})
}

// Delete implements [Backend]. Deleting an absent key is not an error.
func (b *BadgerBackend) Delete(_ context.Context, sessionID string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(sessionID))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Ping reports an error once the database has been closed.
func (b *BadgerBackend) Ping(context.Context) error {
	if b.db.IsClosed() {
		return errors.New("settings: badger is closed")
	}
	return nil
}

// Close implements [Backend].
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// putRaw writes undecoded bytes. Tests use it to plant corrupt records.
func (b *BadgerBackend) putRaw(sessionID string, raw []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(sessionID), raw)
	})
}

func badgerKey(sessionID string) []byte {
	return []byte(badgerKeyPrefix + sessionID)
}

// badgerLogger routes badger's warnings and errors into slog and drops the rest.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...any)   { slog.Error("badger: " + fmt.Sprintf(f, v...)) }
func (badgerLogger) Warningf(f string, v ...any) { slog.Warn("badger: " + fmt.Sprintf(f, v...)) }
func (badgerLogger) Infof(string, ...any)        {}
func (badgerLogger) Debugf(string, ...any)       {}
