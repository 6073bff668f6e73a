// Package oracle judges milestone evidence. Backends return a structured verdict with a
// confidence score; the escrow ledger owns the decision policy applied to it.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/impactlink/escrow-backend/internal/config"
	"github.com/impactlink/escrow-backend/internal/models"
)

var ErrMalformedVerdict = errors.New("oracle returned a malformed verdict")

type Oracle interface {
	Name() string
	Verify(ctx context.Context, req Request) (*Verdict, error)
}

type Request struct {
	Type            models.VerificationType
	MilestoneNumber int
	Evidence        Evidence
	Context         ExpectedContext
}

// Evidence holds references only. Legitimacy checks use the two document fields,
// impact checks use the rest.
type Evidence struct {
	CharterDocumentURL    string   `json:"charter_document_url,omitempty"`
	FinancialStatementURL string   `json:"financial_statement_url,omitempty"`
	SocialProofURL        string   `json:"social_proof_url,omitempty"`
	PhotoURLs             []string `json:"photo_urls,omitempty"`
	Description           string   `json:"description,omitempty"`
}

type ExpectedContext struct {
	PaymentCaseID  string `json:"payment_case_id"`
	ProjectID      string `json:"project_id"`
	OrganizationID string `json:"organization_id"`
	CompanyName    string `json:"company_name"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

type Verdict struct {
	Passed     bool                   `json:"passed"`
	Confidence float64                `json:"confidence"`
	Checks     map[string]interface{} `json:"checks"`
	Reasoning  string                 `json:"reasoning"`
	Flags      []string               `json:"flags"`
	Metrics    Metrics                `json:"-"`
	Raw        json.RawMessage        `json:"-"`
}

type Metrics struct {
	ProcessingTimeMs int64
	TokensUsed       int
	Model            string
}

// New selects the backend named by cfg.Provider.
func New(ctx context.Context, cfg config.OracleConfig) (Oracle, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicOracle(cfg), nil
	case "gemini":
		return NewGeminiOracle(ctx, cfg)
	case "mock", "":
		return NewMockOracle(), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
}

// parseVerdict extracts the verdict JSON from model output, handling markdown code fences.
func parseVerdict(text string) (*Verdict, error) {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		if idx := strings.Index(cleaned, "\n"); idx >= 0 {
			cleaned = cleaned[idx+1:]
		}
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	var v Verdict
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}
	if math.IsNaN(v.Confidence) || v.Confidence < 0 || v.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformedVerdict, v.Confidence)
	}
	if v.Checks == nil {
		v.Checks = map[string]interface{}{}
	}
	v.Raw = json.RawMessage(cleaned)
	return &v, nil
}
