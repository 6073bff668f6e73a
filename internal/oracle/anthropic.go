// internal/oracle/anthropic.go
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/impactlink/escrow-backend/internal/config"
)

const (
	anthropicVersion    = "2023-06-01"
	anthropicMaxRetries = 3
	anthropicInitDelay  = time.Second
	anthropicMaxTokens  = 1024
)

// AnthropicOracle calls the Anthropic Messages API.
type AnthropicOracle struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func NewAnthropicOracle(cfg config.OracleConfig) *AnthropicOracle {
	return &AnthropicOracle{
		apiKey:  cfg.AnthropicAPIKey,
		model:   cfg.AnthropicModel,
		baseURL: cfg.AnthropicBaseURL,
		// The caller's context carries the verification deadline.
		client: &http.Client{},
	}
}

func (o *AnthropicOracle) Name() string { return "anthropic" }

func (o *AnthropicOracle) Verify(ctx context.Context, req Request) (*Verdict, error) {
	if o.apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	started := time.Now()
	body, err := json.Marshal(anthropicRequest{
		Model:     o.model,
		MaxTokens: anthropicMaxTokens,
		System:    systemPrompt,
		Messages:  []anthropicMessage{{Role: "user", Content: buildPrompt(req)}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < anthropicMaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * anthropicInitDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		apiResp, retry, err := o.call(ctx, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if retry {
				continue
			}
			return nil, err
		}

		if len(apiResp.Content) == 0 {
			return nil, fmt.Errorf("%w: empty response content", ErrMalformedVerdict)
		}

		verdict, err := parseVerdict(apiResp.Content[0].Text)
		if err != nil {
			return nil, err
		}
		model := apiResp.Model
		if model == "" {
			model = o.model
		}
		verdict.Metrics = Metrics{
			ProcessingTimeMs: time.Since(started).Milliseconds(),
			TokensUsed:       apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
			Model:            model,
		}
		return verdict, nil
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", anthropicMaxRetries, lastErr)
}

// call performs one request. retry reports whether the failure is transient.
func (o *AnthropicOracle) call(ctx context.Context, body []byte) (*anthropicResponse, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", o.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, true, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("Anthropic API error (%d): %s", resp.StatusCode, string(respBody))
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retry, err
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}
	return &apiResp, false, nil
}
