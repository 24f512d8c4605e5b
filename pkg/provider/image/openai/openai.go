// Package openai provides an image provider backed by the OpenAI image
// generation API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/charactercall/pkg/provider/image"
)

// Defaults match a widescreen call backdrop.
const (
	defaultModel   = oai.ImageModelDallE3
	defaultSize    = oai.ImageGenerateParamsSize1792x1024
	defaultQuality = oai.ImageGenerateParamsQualityHD
	defaultStyle   = oai.ImageGenerateParamsStyleNatural
)

// Provider implements image.Provider using the OpenAI images API.
type Provider struct {
	client  oai.Client
	model   oai.ImageModel
	size    oai.ImageGenerateParamsSize
	quality oai.ImageGenerateParamsQuality
	style   oai.ImageGenerateParamsStyle
}

type config struct {
	baseURL string
	model   string
	size    string
	quality string
	style   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel overrides the image model. Default: "dall-e-3".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithSize overrides the image size. Default: "1792x1024".
func WithSize(size string) Option {
	return func(c *config) { c.size = size }
}

// WithQuality overrides the rendering quality. Default: "hd".
func WithQuality(q string) Option {
	return func(c *config) { c.quality = q }
}

// WithStyle overrides the rendering style. Default: "natural".
func WithStyle(s string) Option {
	return func(c *config) { c.style = s }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI image Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	cfg := &config{
		model:   string(defaultModel),
		size:    string(defaultSize),
		quality: string(defaultQuality),
		style:   string(defaultStyle),
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client:  oai.NewClient(reqOpts...),
		model:   oai.ImageModel(cfg.model),
		size:    oai.ImageGenerateParamsSize(cfg.size),
		quality: oai.ImageGenerateParamsQuality(cfg.quality),
		style:   oai.ImageGenerateParamsStyle(cfg.style),
	}, nil
}

// Generate implements image.Provider.
func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", errors.New("openai: prompt must not be empty")
	}
	resp, err := p.client.Images.Generate(ctx, oai.ImageGenerateParams{
		Prompt:  prompt,
		Model:   p.model,
		N:       oai.Int(1),
		Size:    p.size,
		Quality: p.quality,
		Style:   p.style,
	})
	if err != nil {
		return "", fmt.Errorf("openai: generate image: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", errors.New("openai: generate image: response carried no image URL")
	}
	return resp.Data[0].URL, nil
}

// Compile-time interface assertion.
var _ image.Provider = (*Provider)(nil)
