// Package openai provides an assistant provider backed by the OpenAI
// Assistants API (threads, messages, and runs).
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/charactercall/pkg/provider/assistant"
)

// listPageSize is the page size used when listing thread messages.
const listPageSize = 100

// Provider implements assistant.Provider using the OpenAI Assistants API.
type Provider struct {
	client oai.Client
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI assistant Provider. SDK retries are disabled;
// the conversation layer owns the retry budget.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...)}, nil
}

// CreateAssistant implements assistant.Provider.
func (p *Provider) CreateAssistant(ctx context.Context, spec assistant.Spec) (string, error) {
	if spec.Model == "" {
		return "", fmt.Errorf("openai: create assistant: model must not be empty")
	}
	params := oai.BetaAssistantNewParams{
		Model: shared.ChatModel(spec.Model),
	}
	if spec.Name != "" {
		params.Name = oai.String(spec.Name)
	}
	if spec.Instructions != "" {
		params.Instructions = oai.String(spec.Instructions)
	}
	a, err := p.client.Beta.Assistants.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: create assistant: %w", err)
	}
	return a.ID, nil
}

// CreateThread implements assistant.Provider.
func (p *Provider) CreateThread(ctx context.Context) (string, error) {
	th, err := p.client.Beta.Threads.New(ctx, oai.BetaThreadNewParams{})
	if err != nil {
		return "", fmt.Errorf("openai: create thread: %w", err)
	}
	return th.ID, nil
}

// AppendMessage implements assistant.Provider.
func (p *Provider) AppendMessage(ctx context.Context, threadID string, role assistant.Role, text string) error {
	oaiRole := oai.BetaThreadMessageNewParamsRoleUser
	if role == assistant.RoleAssistant {
		oaiRole = oai.BetaThreadMessageNewParamsRoleAssistant
	}
	_, err := p.client.Beta.Threads.Messages.New(ctx, threadID, oai.BetaThreadMessageNewParams{
		Role:    oaiRole,
		Content: oai.BetaThreadMessageNewParamsContentUnion{OfString: oai.String(text)},
	})
	if err != nil {
		return fmt.Errorf("openai: append message: %w", err)
	}
	return nil
}

// StartRun implements assistant.Provider.
func (p *Provider) StartRun(ctx context.Context, threadID, assistantID string) (assistant.Run, error) {
	run, err := p.client.Beta.Threads.Runs.New(ctx, threadID, oai.BetaThreadRunNewParams{
		AssistantID: assistantID,
	})
	if err != nil {
		return assistant.Run{}, fmt.Errorf("openai: start run: %w", err)
	}
	return toRun(run), nil
}

// GetRun implements assistant.Provider.
func (p *Provider) GetRun(ctx context.Context, threadID, runID string) (assistant.Run, error) {
	run, err := p.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return assistant.Run{}, fmt.Errorf("openai: get run: %w", err)
	}
	return toRun(run), nil
}

// ListMessages implements assistant.Provider.
func (p *Provider) ListMessages(ctx context.Context, threadID string) ([]assistant.Message, error) {
	iter := p.client.Beta.Threads.Messages.ListAutoPaging(ctx, threadID, oai.BetaThreadMessageListParams{
		Order: oai.BetaThreadMessageListParamsOrderAsc,
		Limit: oai.Int(listPageSize),
	})

	var out []assistant.Message
	for iter.Next() {
		m := iter.Current()
		msg := assistant.Message{
			ID:   m.ID,
			Role: assistant.Role(m.Role),
			Seq:  len(out),
		}
		if m.CreatedAt > 0 {
			msg.CreatedAt = time.Unix(m.CreatedAt, 0)
		}
		for _, c := range m.Content {
			if c.Type == "text" {
				msg.Text = append(msg.Text, c.Text.Value)
			}
		}
		out = append(out, msg)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("openai: list messages: %w", err)
	}
	return out, nil
}

func toRun(r *oai.Run) assistant.Run {
	return assistant.Run{
		ID:        r.ID,
		Status:    mapStatus(r.Status),
		LastError: r.LastError.Message,
	}
}

// mapStatus folds the API's run states onto the four normalised ones.
func mapStatus(s oai.RunStatus) assistant.RunStatus {
	switch s {
	case oai.RunStatusQueued:
		return assistant.RunQueued
	case oai.RunStatusCompleted:
		return assistant.RunCompleted
	case oai.RunStatusFailed, oai.RunStatusCancelled, oai.RunStatusExpired, oai.RunStatusIncomplete:
		return assistant.RunFailed
	default:
		// in_progress, requires_action, cancelling, and anything newer.
		return assistant.RunInProgress
	}
}

// Compile-time interface assertion.
var _ assistant.Provider = (*Provider)(nil)
