// Package ai – gemini.go implements Generator on Google's Gemini API.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

const (
	// defaultModel mirrors what the bot historically ran on.
	defaultModel = "gemini-1.5-pro"

	// defaultTemperature is deliberately high; the bot is conversational,
	// not a retrieval system.
	defaultTemperature float32 = 1.25
)

// GeminiConfig configures the Gemini generator.
type GeminiConfig struct {
	// APIKey authenticates against the Gemini API.
	APIKey string

	// Model is the model identifier (defaults to defaultModel).
	Model string

	// Temperature overrides the sampling temperature when non-zero.
	Temperature float32

	// Timeout bounds each generation call. Zero means 2 minutes.
	Timeout time.Duration
}

// Gemini calls the Gemini API to produce responses.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
	timeout     time.Duration
	logger      *slog.Logger
}

// NewGemini creates a Gemini generator.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Gemini{
		client:      client,
		model:       model,
		temperature: temperature,
		timeout:     timeout,
		logger:      logger.With("component", "gemini"),
	}, nil
}

// Generate sends the prompt and returns the first candidate's text.
// Returns an error wrapping ErrGeneration on any backend failure.
func (g *Gemini) Generate(ctx context.Context, msgs []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents, err := toContents(msgs)
	if err != nil {
		return "", err
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(g.temperature),
		SafetySettings: permissiveSafetySettings(),
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	g.logger.Debug("generation complete",
		"model", g.model, "turns", len(msgs), "elapsed", time.Since(start))

	// Blocked or empty responses come back without candidates; treat that
	// as an empty reply rather than an error, matching historical behavior.
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		text += part.Text
	}
	return text, nil
}

// toContents converts the prompt contract into the Gemini wire shape.
func toContents(msgs []Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, msg := range msgs {
		var role genai.Role
		switch msg.Role {
		case RoleUser:
			role = genai.RoleUser
		case RoleModel:
			role = genai.RoleModel
		default:
			return nil, fmt.Errorf("%w: unknown role %q", ErrGeneration, msg.Role)
		}

		parts := make([]*genai.Part, 0, len(msg.Parts))
		for _, p := range msg.Parts {
			if p.Inline != nil {
				parts = append(parts, genai.NewPartFromBytes(p.Inline.Data, p.Inline.MimeType))
				continue
			}
			parts = append(parts, genai.NewPartFromText(p.Text))
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents, nil
}

// permissiveSafetySettings disables category blocking; the bot serves a
// closed set of authorized users and moderation happens at the instance.
func permissiveSafetySettings() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, &genai.SafetySetting{
			Category:  c,
			Threshold: genai.HarmBlockThresholdBlockNone,
		})
	}
	return settings
}
