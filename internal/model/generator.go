// internal/model/generator.go
package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// ErrEmptyPrompt is returned before any backend call for a blank prompt.
var ErrEmptyPrompt = errors.New("prompt is empty")

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, style Style, prompt string) (string, error)
}

// Config selects the backend models. Code prompts fall back to Model when
// CodeModel is unset.
type Config struct {
	APIKey    string
	Model     string
	CodeModel string
	Timeout   time.Duration
}

// GenAIGenerator calls the Gemini API through the genai SDK.
type GenAIGenerator struct {
	client *genai.Client
	cfg    Config
	logger *zap.Logger
}

// NewGenAIGenerator builds a client for cfg.
func NewGenAIGenerator(ctx context.Context, logger *zap.Logger, cfg Config) (*GenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("model API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.CodeModel == "" {
		cfg.CodeModel = cfg.Model
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIGenerator{
		client: client,
		cfg:    cfg,
		logger: logger.Named("model.genai"),
	}, nil
}

func (g *GenAIGenerator) Generate(ctx context.Context, style Style, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	modelName := g.cfg.Model
	if style == StyleCode {
		modelName = g.cfg.CodeModel
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, modelName, genai.Text(Format(style, prompt)), nil)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("GenAI returned no candidates")
	}

	fields := []zap.Field{
		zap.String("model", modelName),
		zap.Stringer("style", style),
		zap.Duration("duration", time.Since(start)),
	}
	if resp.UsageMetadata != nil {
		fields = append(fields,
			zap.Int32("prompt_tokens", resp.UsageMetadata.PromptTokenCount),
			zap.Int32("total_tokens", resp.UsageMetadata.TotalTokenCount),
		)
	}
	g.logger.Info("Generation complete.", fields...)

	return CleanResponse(style, resp.Text()), nil
}
