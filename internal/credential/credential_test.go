package credential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// storeFactories lets every behavioural test run against both backends.
func storeFactories(t *testing.T) map[string]func(now func() time.Time) Store {
	t.Helper()
	return map[string]func(now func() time.Time) Store{
		"memory": func(now func() time.Time) Store { return NewMemory(now) },
		"badger": func(now func() time.Time) Store {
			b, err := NewBadger(BadgerOptions{InMemory: true, Now: now})
			if err != nil {
				t.Fatalf("NewBadger: %v", err)
			}
			t.Cleanup(func() { _ = b.Close() })
			return b
		},
	}
}

func TestStore_SetGetRemove(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(nil)

			if _, err := s.Get(ctx, "openai"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get on empty store = %v, want ErrNotFound", err)
			}
			if err := s.Set(ctx, "openai", "sk-test-1234", time.Hour); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := s.Get(ctx, "openai")
			if err != nil || got != "sk-test-1234" {
				t.Fatalf("Get = (%q, %v)", got, err)
			}
			if err := s.Set(ctx, "openai", "sk-test-5678", time.Hour); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			if got, _ := s.Get(ctx, "openai"); got != "sk-test-5678" {
				t.Errorf("after overwrite Get = %q", got)
			}
			if err := s.Remove(ctx, "openai"); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if _, err := s.Get(ctx, "openai"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after Remove = %v, want ErrNotFound", err)
			}
			if err := s.Remove(ctx, "openai"); err != nil {
				t.Errorf("second Remove = %v, want nil", err)
			}
		})
	}
}

func TestStore_Expiry(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := &testClock{now: time.Now()}
			s := factory(clock.Now)

			if err := s.Set(ctx, "openai", "sk-live", 10*time.Minute); err != nil {
				t.Fatalf("Set: %v", err)
			}
			clock.Advance(9 * time.Minute)
			if _, err := s.Get(ctx, "openai"); err != nil {
				t.Fatalf("Get before expiry: %v", err)
			}
			clock.Advance(time.Minute)
			if _, err := s.Get(ctx, "openai"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after expiry = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_DefaultTTL(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := &testClock{now: time.Now()}
			s := factory(clock.Now)

			if err := s.Set(ctx, "k", "v", 0); err != nil {
				t.Fatalf("Set: %v", err)
			}
			clock.Advance(DefaultTTL - time.Second)
			if _, err := s.Get(ctx, "k"); err != nil {
				t.Errorf("Get within default TTL: %v", err)
			}
			clock.Advance(time.Second)
			if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get past default TTL = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_RejectsEmptyName(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			if err := factory(nil).Set(context.Background(), " ", "v", time.Hour); err == nil {
				t.Error("empty name accepted")
			}
		})
	}
}

func TestBadger_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := NewBadger(BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	if err := b.Set(ctx, "openai", "sk-persist", time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err = NewBadger(BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	if got, err := b.Get(ctx, "openai"); err != nil || got != "sk-persist" {
		t.Errorf("Get after reopen = (%q, %v)", got, err)
	}
}

func TestNewBadger_RequiresDir(t *testing.T) {
	if _, err := NewBadger(BadgerOptions{}); err == nil {
		t.Fatal("expected error without dir")
	}
}

func TestRecord_RoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rec := newRecord("secret", now, time.Hour)
	data, err := rec.encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeRecord(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != rec {
		t.Errorf("decoded %+v, want %+v", got, rec)
	}
	if _, err := decodeRecord([]byte{0xc1}); err == nil {
		t.Error("decoding garbage succeeded")
	}
}

func TestMask(t *testing.T) {
	tests := map[string]string{
		"":            "",
		"abc":         "***",
		"sk-abcd1234": "*******1234",
	}
	for in, want := range tests {
		if got := Mask(in); got != want {
			t.Errorf("Mask(%q) = %q, want %q", in, got, want)
		}
	}
}
