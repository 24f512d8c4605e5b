package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/charactercall/internal/credential"
	"github.com/MrWong99/charactercall/internal/resilience"
)

func serve(t *testing.T, h http.HandlerFunc, path string) (int, result) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", path, nil))
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func passing(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return nil }}
}

func failing(name string, err error) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return err }}
}

// ─── probes ──────────────────────────────────────────────────────────────────

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New(failing("providers", errors.New("down")))
	code, body := serve(t, h.Healthz, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
	}
}

func TestHealthz_ContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	New().Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz_AllCheckersPass(t *testing.T) {
	code, body := serve(t, New(passing("providers"), passing("credentials")).Readyz, "/readyz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("readyz = %d %q", code, body.Status)
	}
	if body.Checks["providers"] != "ok" || body.Checks["credentials"] != "ok" {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestReadyz_CheckerFails(t *testing.T) {
	h := New(passing("providers"), failing("credentials", errors.New("credential \"openai\" not set")))
	code, body := serve(t, h.Readyz, "/readyz")
	if code != http.StatusServiceUnavailable || body.Status != "fail" {
		t.Errorf("readyz = %d %q, want 503 fail", code, body.Status)
	}
	if got := body.Checks["credentials"]; !strings.HasPrefix(got, "fail: ") {
		t.Errorf("credentials check = %q", got)
	}
	if body.Checks["providers"] != "ok" {
		t.Errorf("providers check = %q", body.Checks["providers"])
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	code, body := serve(t, New().Readyz, "/readyz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("readyz = %d %q", code, body.Status)
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	blocking := func(name string) Checker {
		return Checker{Name: name, Check: func(ctx context.Context) error {
			started <- struct{}{}
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}}
	}
	h := New(blocking("a"), blocking("b"))

	done := make(chan int, 1)
	go func() {
		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
		done <- rec.Code
	}()

	for range 2 {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("checks did not start concurrently")
		}
	}
	close(release)
	if code := <-done; code != http.StatusOK {
		t.Errorf("readyz = %d", code)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	mux := http.NewServeMux()
	New(passing("providers")).Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d", path, resp.StatusCode)
		}
	}
}

// ─── built-in checkers ───────────────────────────────────────────────────────

func TestBreakers(t *testing.T) {
	stt := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "stt", MaxFailures: 1, ResetTimeout: time.Hour})
	tts := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "tts", MaxFailures: 1, ResetTimeout: time.Hour})
	check := Breakers(stt, tts)

	if err := check.Check(context.Background()); err != nil {
		t.Fatalf("closed breakers: %v", err)
	}
	_ = tts.Execute(func() error { return errors.New("502") })
	err := check.Check(context.Background())
	if err == nil || !strings.Contains(err.Error(), "tts circuit open") {
		t.Errorf("err = %v, want tts circuit open", err)
	}
	if strings.Contains(err.Error(), "stt") {
		t.Errorf("err = %v, stt is closed", err)
	}
}

func TestCredential(t *testing.T) {
	ctx := context.Background()
	store := credential.NewMemory(nil)
	check := Credential(store, "openai")

	if err := check.Check(ctx); err == nil || !strings.Contains(err.Error(), "not set") {
		t.Errorf("missing credential: err = %v", err)
	}
	if err := store.Set(ctx, "openai", "sk-x", time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := check.Check(ctx); err != nil {
		t.Errorf("stored credential: %v", err)
	}
}
