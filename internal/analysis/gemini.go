package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/dvloznov/finease/internal/input"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// DefaultTemperature keeps the assessment low-variance.
const DefaultTemperature float32 = 0.2

// Generator is the subset of genai.Models used here; *genai.Models satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig selects the Gemini backend.
type GeminiConfig struct {
	APIKey      string   // Gemini API backend
	UseVertex   bool     // Vertex AI backend with Project/Location
	Project     string
	Location    string
	ModelName   string
	Temperature *float32 // nil means DefaultTemperature; 0 is honoured
}

// GeminiAnalyzer calls Gemini with a structured-output schema.
type GeminiAnalyzer struct {
	models      Generator
	modelName   string
	temperature float32
	log         zerolog.Logger
}

// NewGeminiAnalyzer creates a genai client for the configured backend.
func NewGeminiAnalyzer(ctx context.Context, cfg GeminiConfig, log zerolog.Logger) (*GeminiAnalyzer, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.UseVertex {
		clientCfg = &genai.ClientConfig{
			Project:  cfg.Project,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiAnalyzer: create genai client: %w", err)
	}

	return NewGeminiAnalyzerWithGenerator(client.Models, cfg.ModelName, cfg.Temperature, log), nil
}

// NewGeminiAnalyzerWithGenerator wires an existing generator, mainly for tests.
func NewGeminiAnalyzerWithGenerator(models Generator, modelName string, temperature *float32, log zerolog.Logger) *GeminiAnalyzer {
	if modelName == "" {
		modelName = DefaultModelName
	}
	temp := DefaultTemperature
	if temperature != nil {
		temp = *temperature
	}
	return &GeminiAnalyzer{
		models:      models,
		modelName:   modelName,
		temperature: temp,
		log:         log.With().Str("component", "analysis").Str("model", modelName).Logger(),
	}
}

// ModelName reports the model this analyzer calls.
func (a *GeminiAnalyzer) ModelName() string { return a.modelName }

// Analyze makes exactly one GenerateContent call.
func (a *GeminiAnalyzer) Analyze(ctx context.Context, req input.Request) (*Result, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: buildParts(req),
		},
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: SystemInstruction}}},
		ResponseMIMEType:  "application/json",
		ResponseSchema:    ResultSchema.GenAI(),
		Temperature:       genai.Ptr(a.temperature),
	}

	resp, err := a.models.GenerateContent(ctx, a.modelName, contents, cfg)
	if err != nil {
		a.log.Error().Err(err).Str("input_kind", req.Kind()).Msg("Gemini call failed")
		return nil, fmt.Errorf("Analyze: generate content: %w: %w", ErrUpstreamFailure, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("Analyze: %w", ErrEmptyResponse)
	}

	rawText := resp.Text()
	if strings.TrimSpace(rawText) == "" {
		a.log.Error().Str("input_kind", req.Kind()).Msg("Gemini returned no text")
		return nil, fmt.Errorf("Analyze: %w", ErrEmptyResponse)
	}

	result, err := ParseResult(rawText)
	if err != nil {
		a.log.Error().Err(err).Int("response_bytes", len(rawText)).Msg("Gemini response did not match schema")
		return nil, fmt.Errorf("Analyze: %w", err)
	}

	for _, w := range result.Warnings {
		a.log.Warn().Str("warning", w).Int("score", result.Score).Str("level", string(result.Level)).Msg("Data-quality warning")
	}

	return result, nil
}

func buildParts(req input.Request) []*genai.Part {
	parts := []*genai.Part{{Text: userPrompt(req)}}
	if f, ok := req.(input.File); ok {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: f.MediaType,
				Data:     f.Payload,
			},
		})
	}
	return parts
}

var _ Analyzer = (*GeminiAnalyzer)(nil)
