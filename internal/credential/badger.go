package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces credential keys in the database.
const keyPrefix = "credential/"

// BadgerOptions configures a [Badger] store.
type BadgerOptions struct {
	// Dir holds the database files. Required unless InMemory is set.
	Dir string

	// InMemory runs Badger without disk persistence.
	InMemory bool

	// Now overrides the clock used for expiry checks. Default: time.Now.
	Now func() time.Time
}

// Badger is a [Store] backed by BadgerDB. Entries carry a Badger TTL, so
// expired credentials are also dropped by compaction.
type Badger struct {
	db  *badger.DB
	now func() time.Time
}

var _ Store = (*Badger)(nil)

// NewBadger opens the database described by opts.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("credential: badger dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(slogLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("credential: open badger: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Badger{db: db, now: opts.Now}, nil
}

// Set implements [Store].
func (b *Badger) Set(_ context.Context, name, value string, ttl time.Duration) error {
	if err := validateName(name); err != nil {
		return err
	}
	ttl = effectiveTTL(ttl)
	data, err := newRecord(value, b.now(), ttl).encode()
	if err != nil {
		return fmt.Errorf("credential: encode: %w", err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(keyPrefix+name), data).WithTTL(ttl))
	})
	if err != nil {
		return fmt.Errorf("credential: set %q: %w", name, err)
	}
	return nil
}

// Get implements [Store].
func (b *Badger) Get(_ context.Context, name string) (string, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("credential: get %q: %w", name, err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return "", err
	}
	if rec.expired(b.now()) {
		return "", ErrNotFound
	}
	return rec.Value, nil
}

// Remove implements [Store].
func (b *Badger) Remove(_ context.Context, name string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + name))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("credential: remove %q: %w", name, err)
	}
	return nil
}

// Close implements [Store].
func (b *Badger) Close() error {
	return b.db.Close()
}

// slogLogger routes Badger's warnings and errors to slog and drops its
// chatty info and debug output.
type slogLogger struct{}

func (slogLogger) Errorf(f string, v ...any)   { slog.Error(fmt.Sprintf("badger: "+f, v...)) }
func (slogLogger) Warningf(f string, v ...any) { slog.Warn(fmt.Sprintf("badger: "+f, v...)) }
func (slogLogger) Infof(string, ...any)        {}
func (slogLogger) Debugf(string, ...any)       {}
