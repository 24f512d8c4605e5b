package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/charactercall/pkg/provider/tts"
	"github.com/MrWong99/charactercall/pkg/provider/tts/openai"
	"github.com/MrWong99/charactercall/pkg/types"
)

// ---- helpers ----------------------------------------------------------------

type speechRequest struct {
	Input          string  `json:"input"`
	Model          string  `json:"model"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
}

func newSpeechServer(t *testing.T, status int, calls *atomic.Int32, got chan<- speechRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/audio/speech" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		calls.Add(1)
		var req speechRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if got != nil {
			got <- req
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-fake-mp3"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ---- tests ------------------------------------------------------------------

func TestNew_Validation(t *testing.T) {
	if _, err := openai.New(""); err == nil {
		t.Error("expected error for empty apiKey")
	}
	if _, err := openai.New("sk-test", openai.WithSpeed(9)); err == nil {
		t.Error("expected error for out-of-range speed")
	}
}

func TestSynthesize_SendsVoiceAndModel(t *testing.T) {
	var calls atomic.Int32
	reqs := make(chan speechRequest, 1)
	srv := newSpeechServer(t, http.StatusOK, &calls, reqs)
	p, err := openai.New("sk-test", openai.WithBaseURL(srv.URL+"/v1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a, err := p.Synthesize(context.Background(), "Hi there, who am I speaking with?", types.VoiceOnyx)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(a.Data) != "ID3-fake-mp3" || a.MIMEType != "audio/mpeg" {
		t.Errorf("audio = (%q, %q)", a.Data, a.MIMEType)
	}
	if clip := a.Clip(); clip.Format() != "mp3" {
		t.Errorf("clip format = %q, want mp3", clip.Format())
	}

	req := <-reqs
	if req.Model != "tts-1" || req.Voice != "onyx" || req.ResponseFormat != "mp3" {
		t.Errorf("request = %+v", req)
	}
	if req.Input != "Hi there, who am I speaking with?" {
		t.Errorf("input = %q", req.Input)
	}
}

func TestSynthesize_UnknownVoiceSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := newSpeechServer(t, http.StatusOK, &calls, nil)
	p, _ := openai.New("sk-test", openai.WithBaseURL(srv.URL+"/v1"))

	_, err := p.Synthesize(context.Background(), "hello", types.Voice("baritone"))
	if !errors.Is(err, types.ErrUnknownVoice) {
		t.Fatalf("want ErrUnknownVoice, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("server called %d times, want 0", calls.Load())
	}
}

func TestSynthesize_ServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := newSpeechServer(t, http.StatusServiceUnavailable, &calls, nil)
	p, _ := openai.New("sk-test", openai.WithBaseURL(srv.URL+"/v1"))

	_, err := p.Synthesize(context.Background(), "hello", types.VoiceNova)
	if !errors.Is(err, tts.ErrSynthesisFailed) {
		t.Fatalf("want ErrSynthesisFailed, got %v", err)
	}
	var se *tts.SynthesisError
	if !errors.As(err, &se) || se.Provider != "openai" {
		t.Errorf("errors.As: got %+v", se)
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want exactly 1", calls.Load())
	}
}

func TestListVoices(t *testing.T) {
	p, _ := openai.New("sk-test")
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 6 {
		t.Errorf("got %d voices, want 6", len(voices))
	}
}
