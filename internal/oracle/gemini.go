// internal/oracle/gemini.go
package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/impactlink/escrow-backend/internal/config"
)

// GeminiOracle asks a Gemini model for a JSON verdict.
type GeminiOracle struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
}

func NewGeminiOracle(ctx context.Context, cfg config.OracleConfig) (*GeminiOracle, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.GeminiModel)
	model.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0)

	return &GeminiOracle{client: client, model: model, modelName: cfg.GeminiModel}, nil
}

func (o *GeminiOracle) Name() string { return "gemini" }

func (o *GeminiOracle) Verify(ctx context.Context, req Request) (*Verdict, error) {
	started := time.Now()

	resp, err := o.model.GenerateContent(ctx, genai.Text(buildPrompt(req)))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("Gemini generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: Gemini returned no result", ErrMalformedVerdict)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	verdict, err := parseVerdict(text.String())
	if err != nil {
		return nil, err
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	verdict.Metrics = Metrics{
		ProcessingTimeMs: time.Since(started).Milliseconds(),
		TokensUsed:       tokens,
		Model:            o.modelName,
	}
	return verdict, nil
}

func (o *GeminiOracle) Close() error {
	return o.client.Close()
}
