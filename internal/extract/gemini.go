package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiConfig selects the model and credentials.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float32
}

// GeminiGenerator implements Generator against the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  *genai.GenerativeModel
	logger *slog.Logger
}

// NewGeminiGenerator dials the API and configures the model. JSON-only
// output is enforced by the prompt; the sanitizer strips any fences the
// model adds anyway.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*GeminiGenerator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(cfg.Temperature)
	return &GeminiGenerator{client: client, model: model, logger: logger}, nil
}

// Generate sends one extraction request and returns the raw model text.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) ([]byte, error) {
	parts := []genai.Part{genai.Text(BuildPrompt(req))}
	for _, img := range req.Images {
		parts = append(parts, genai.ImageData("png", img))
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini generate: empty response")
	}

	var out []byte
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			out = append(out, []byte(text)...)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("gemini generate: no text parts in response")
	}
	g.logger.Debug("gemini response received", "bytes", len(out))
	return out, nil
}

// Close releases the underlying client.
func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}
