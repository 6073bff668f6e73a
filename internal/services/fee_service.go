// internal/services/fee_service.go
package services

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/impactlink/escrow-backend/internal/config"
	"github.com/impactlink/escrow-backend/internal/models"
)

type FeeQuote struct {
	GrantAmount int64              `json:"grant_amount"`
	ServiceTier models.ServiceTier `json:"service_tier"`
	FeePercent  string             `json:"fee_percent"`
	ServiceFee  int64              `json:"service_fee"`
	Total       int64              `json:"total"`
	Currency    string             `json:"currency"`
}

// FeeCalculator maps a grant and a service tier to the platform fee. It holds only
// configuration and is safe for concurrent use.
type FeeCalculator struct {
	tiers        map[models.ServiceTier]decimal.Decimal
	defaultRate  decimal.Decimal
	minimumGrant int64
	currency     string
}

func NewFeeCalculator(cfg config.PaymentConfig) (*FeeCalculator, error) {
	defaultRate, err := decimal.NewFromString(cfg.DefaultTierPercent)
	if err != nil {
		return nil, fmt.Errorf("invalid default fee percent %q: %w", cfg.DefaultTierPercent, err)
	}

	tiers := make(map[models.ServiceTier]decimal.Decimal, len(cfg.TierPercents))
	for tier, pct := range cfg.TierPercents {
		rate, err := decimal.NewFromString(pct)
		if err != nil {
			return nil, fmt.Errorf("invalid fee percent %q for tier %s: %w", pct, tier, err)
		}
		if rate.IsNegative() {
			return nil, fmt.Errorf("fee percent for tier %s must not be negative", tier)
		}
		tiers[models.ServiceTier(tier)] = rate
	}

	return &FeeCalculator{
		tiers:        tiers,
		defaultRate:  defaultRate,
		minimumGrant: cfg.MinimumGrant,
		currency:     cfg.Currency,
	}, nil
}

// Calculate returns fee = round-half-up(grant * pct / 100) and total = grant + fee.
// Unknown tiers use the default percentage.
func (f *FeeCalculator) Calculate(grantAmount int64, tier models.ServiceTier) (FeeQuote, error) {
	if grantAmount <= 0 {
		return FeeQuote{}, invalid(ErrInvalidAmount, "grant_amount", "must be positive")
	}
	if grantAmount < f.minimumGrant {
		return FeeQuote{}, invalid(ErrInvalidAmount, "grant_amount", fmt.Sprintf("must be at least %d", f.minimumGrant))
	}

	rate, ok := f.tiers[tier]
	if !ok {
		rate = f.defaultRate
	}

	// decimal.Round rounds half away from zero, which is half-up for positive amounts.
	fee := decimal.NewFromInt(grantAmount).Mul(rate).Div(decimal.NewFromInt(100)).Round(0).IntPart()

	return FeeQuote{
		GrantAmount: grantAmount,
		ServiceTier: tier,
		FeePercent:  rate.String(),
		ServiceFee:  fee,
		Total:       grantAmount + fee,
		Currency:    f.currency,
	}, nil
}

func (f *FeeCalculator) MinimumGrant() int64 { return f.minimumGrant }

func (f *FeeCalculator) Currency() string { return f.currency }
