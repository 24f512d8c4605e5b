// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Text: "hello"}
//	text, _ := p.Transcribe(ctx, clip)
//	// inspect p.TranscribeCalls
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/charactercall/pkg/audio"
	"github.com/MrWong99/charactercall/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Clip is the clip passed to Transcribe.
	Clip audio.Clip
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe when Texts is exhausted or empty.
	Text string

	// Texts, if non-empty, supplies one result per call in order.
	Texts []string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the next configured text or Err.
func (p *Provider) Transcribe(_ context.Context, clip audio.Clip) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.TranscribeCalls)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Clip: clip})
	if p.Err != nil {
		return "", p.Err
	}
	if n < len(p.Texts) {
		return p.Texts[n], nil
	}
	return p.Text, nil
}

// CallCount returns how many times Transcribe was called.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
