// Package casting prepares a character before the call starts: it creates
// the assistant that plays the character, picks a voice, and renders a
// portrait. Only the assistant is required. Voice and portrait fall back to
// defaults when their providers fail.
package casting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/charactercall/internal/observe"
	"github.com/MrWong99/charactercall/pkg/provider/assistant"
	"github.com/MrWong99/charactercall/pkg/provider/image"
	"github.com/MrWong99/charactercall/pkg/provider/llm"
	"github.com/MrWong99/charactercall/pkg/types"
)

// DefaultAssistantModel is the chat model the character's assistant runs on.
const DefaultAssistantModel = "gpt-4-1106-preview"

// maxNameLength bounds the character name in runes.
const maxNameLength = 100

// ErrInvalidName is returned by [Caster.Cast] for an empty or overlong name.
var ErrInvalidName = errors.New("casting: invalid character name")

// SeedPrompt returns the instruction that makes the character introduce
// itself. It is both the assistant's instructions and the first message of
// the thread.
func SeedPrompt(name string) string {
	return fmt.Sprintf("You are %s. Please greet me in a way that is recognizable as you, "+
		"and then ask me a question getting to know me. This is our first time meeting. "+
		"Make sure to stay in character during our whole conversation", name)
}

// AssistantName returns the display name of the character's assistant.
func AssistantName(name string) string {
	return "Zoom Room With " + name
}

// Character is a cast character, ready for a call.
type Character struct {
	Name        string
	AssistantID string
	Voice       types.Voice
	// Appearance is a short physical description. Empty when no LLM is
	// configured or the description failed.
	Appearance string
	// ImageURL points at the rendered portrait. Empty when no image
	// provider is configured or rendering failed.
	ImageURL   string
	SeedPrompt string
}

// Config wires a [Caster].
type Config struct {
	// Assistant creates the character's assistant. Required.
	Assistant assistant.Provider

	// LLM picks the voice and describes the appearance. Optional.
	LLM llm.Provider

	// Image renders the portrait. Optional.
	Image image.Provider

	// Model overrides [DefaultAssistantModel].
	Model string

	// SeedTemplate overrides [SeedPrompt]. Every "{name}" in it is replaced
	// with the character's name.
	SeedTemplate string

	// DefaultVoice is used when no voice could be picked. Default:
	// [types.DefaultVoice].
	DefaultVoice types.Voice

	// Metrics is optional.
	Metrics *observe.Metrics
}

// Caster creates characters.
type Caster struct {
	cfg Config
}

// New validates cfg and returns a Caster.
func New(cfg Config) (*Caster, error) {
	if cfg.Assistant == nil {
		return nil, errors.New("casting: assistant provider is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultAssistantModel
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = types.DefaultVoice
	}
	if err := cfg.DefaultVoice.Validate(); err != nil {
		return nil, fmt.Errorf("casting: default voice: %w", err)
	}
	return &Caster{cfg: cfg}, nil
}

func (c *Caster) seedPrompt(name string) string {
	if c.cfg.SeedTemplate == "" {
		return SeedPrompt(name)
	}
	return strings.ReplaceAll(c.cfg.SeedTemplate, "{name}", name)
}

// Cast creates the assistant for name and, concurrently, picks a voice and
// renders a portrait.
func (c *Caster) Cast(ctx context.Context, name string) (*Character, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	ch := &Character{
		Name:       name,
		Voice:      c.cfg.DefaultVoice,
		SeedPrompt: c.seedPrompt(name),
	}
	log := observe.Logger(ctx).With("character", name)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		id, err := c.cfg.Assistant.CreateAssistant(gctx, assistant.Spec{
			Name:         AssistantName(name),
			Instructions: ch.SeedPrompt,
			Model:        c.cfg.Model,
		})
		if err != nil {
			return fmt.Errorf("casting: create assistant: %w", err)
		}
		ch.AssistantID = id
		return nil
	})
	if c.cfg.LLM != nil {
		g.Go(func() error {
			v, err := c.pickVoice(gctx, name)
			if err != nil {
				log.Warn("casting: voice selection failed, using default", "err", err, "voice", ch.Voice)
				return nil
			}
			ch.Voice = v
			return nil
		})
	}
	if c.cfg.Image != nil {
		g.Go(func() error {
			appearance, url, err := c.portrait(gctx, name)
			ch.Appearance = appearance
			if err != nil {
				log.Warn("casting: portrait failed", "err", err)
				return nil
			}
			ch.ImageURL = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info("character cast", "assistant_id", ch.AssistantID, "voice", ch.Voice, "has_image", ch.ImageURL != "")
	return ch, nil
}

// pickVoice asks the LLM which voice suits the character.
func (c *Caster) pickVoice(ctx context.Context, name string) (types.Voice, error) {
	names := make([]string, 0, len(types.Voices()))
	for _, v := range types.Voices() {
		names = append(names, v.String())
	}
	answer, err := c.complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You cast voice actors. Reply with exactly one voice name from the list and nothing else.",
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Which voice fits %s best? Voices: %s.", name, strings.Join(names, ", ")),
		}},
		Temperature: 0.2,
		MaxTokens:   10,
	})
	if err != nil {
		return "", err
	}
	v, ok := types.FindVoice(answer)
	if !ok {
		return "", fmt.Errorf("%w: %q", types.ErrUnknownVoice, answer)
	}
	return v, nil
}

// portrait describes the character's look, when an LLM is available, and
// renders it.
func (c *Caster) portrait(ctx context.Context, name string) (appearance, url string, err error) {
	prompt := name
	if c.cfg.LLM != nil {
		appearance, err = c.complete(ctx, llm.CompletionRequest{
			SystemPrompt: "You write short visual descriptions for portrait artists.",
			Messages: []llm.Message{{
				Role:    llm.RoleUser,
				Content: fmt.Sprintf("Describe how %s looks in two sentences: face, hair, clothing, and setting.", name),
			}},
			Temperature: 0.7,
			MaxTokens:   120,
		})
		if err != nil {
			slog.Debug("casting: appearance description failed", "character", name, "err", err)
			appearance = ""
		} else {
			appearance = strings.TrimSpace(appearance)
		}
		if appearance != "" {
			prompt = fmt.Sprintf("%s on a video call. %s", name, appearance)
		}
	}
	url, err = c.cfg.Image.Generate(ctx, prompt)
	if err != nil {
		return appearance, "", fmt.Errorf("casting: generate image: %w", err)
	}
	return appearance, url, nil
}

func (c *Caster) complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	start := time.Now()
	resp, err := c.cfg.LLM.Complete(ctx, req)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			c.cfg.Metrics.RecordProviderError(ctx, "llm", "casting")
		}
	}
	if err != nil {
		return "", fmt.Errorf("casting: complete: %w", err)
	}
	return resp.Content, nil
}
