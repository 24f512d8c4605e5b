// Package credential keeps the user's provider credentials between calls.
//
// A credential is a named secret with an expiry. Two [Store] implementations
// exist: [Badger] persists to disk, [Memory] lives for the process.
package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned by [Store.Get] for a missing or expired credential.
var ErrNotFound = errors.New("credential: not found")

// DefaultTTL is the lifetime of a credential stored without an explicit one.
const DefaultTTL = 30 * 24 * time.Hour

// Store is a key-value store for credentials with enforced expiry.
type Store interface {
	// Set stores value under name for ttl. A ttl <= 0 means [DefaultTTL].
	Set(ctx context.Context, name, value string, ttl time.Duration) error

	// Get returns the value stored under name, or [ErrNotFound] when it is
	// missing or expired.
	Get(ctx context.Context, name string) (string, error)

	// Remove deletes name. Removing a missing credential is not an error.
	Remove(ctx context.Context, name string) error

	// Close releases the store's resources.
	Close() error
}

// record is the stored form of a credential.
type record struct {
	Value     string `msgpack:"v"`
	SetAt     int64  `msgpack:"s"`
	ExpiresAt int64  `msgpack:"e"`
}

func newRecord(value string, now time.Time, ttl time.Duration) record {
	return record{
		Value:     value,
		SetAt:     now.UnixNano(),
		ExpiresAt: now.Add(ttl).UnixNano(),
	}
}

func (r record) expired(now time.Time) bool {
	return r.ExpiresAt > 0 && now.UnixNano() >= r.ExpiresAt
}

func (r record) encode() ([]byte, error) {
	return msgpack.Marshal(r)
}

func decodeRecord(data []byte) (record, error) {
	var r record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return record{}, fmt.Errorf("credential: decode: %w", err)
	}
	return r, nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("credential: name must not be empty")
	}
	return nil
}

func effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// Mask returns value with all but its last four characters replaced, for
// display.
func Mask(value string) string {
	const visible = 4
	if len(value) <= visible {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-visible) + value[len(value)-visible:]
}
