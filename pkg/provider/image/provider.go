// Package image defines the Provider interface for text-to-image backends,
// used to render a character portrait for the call backdrop.
package image

import "context"

// Provider is the abstraction over any image generation backend.
type Provider interface {
	// Generate renders prompt and returns a URL where the image can be fetched.
	Generate(ctx context.Context, prompt string) (string, error)
}
