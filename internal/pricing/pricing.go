package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"mindcare/internal/config"
)

var ErrUnknownService = errors.New("unknown service type")

const (
	ServiceRegistration        = "psychologist_registration"
	ServiceOnlineSession       = "online_session"
	ServiceInitialConsultation = "initial_consultation"
)

// Breakdown is the fee decomposition of an order amount. Total is always
// the exact sum of the three components.
type Breakdown struct {
	BaseAmount  decimal.Decimal `json:"base_amount"`
	ProviderFee decimal.Decimal `json:"provider_fee"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// Service resolves service tags to fixed flat rates. MVP policy: every
// psychologist charges the same configured rate per session type.
type Service struct {
	rates              map[string]decimal.Decimal
	providerFeePercent decimal.Decimal
	platformFeePercent decimal.Decimal
	platformFeeFlat    decimal.Decimal
}

func New(cfg config.Pricing) (*Service, error) {
	rates := map[string]string{
		ServiceRegistration:        cfg.RegistrationFee,
		ServiceOnlineSession:       cfg.OnlineSessionRate,
		ServiceInitialConsultation: cfg.InitialConsultation,
	}

	s := &Service{rates: make(map[string]decimal.Decimal, len(rates))}
	for tag, raw := range rates {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse rate for %s: %w", tag, err)
		}
		if rate.IsNegative() {
			return nil, fmt.Errorf("rate for %s must be non-negative", tag)
		}
		s.rates[tag] = rate
	}

	var err error
	if s.providerFeePercent, err = decimal.NewFromString(cfg.ProviderFeePercent); err != nil {
		return nil, fmt.Errorf("parse provider fee percent: %w", err)
	}
	if s.platformFeePercent, err = decimal.NewFromString(cfg.PlatformFeePercent); err != nil {
		return nil, fmt.Errorf("parse platform fee percent: %w", err)
	}
	if s.platformFeeFlat, err = decimal.NewFromString(cfg.PlatformFeeFlat); err != nil {
		return nil, fmt.Errorf("parse platform flat fee: %w", err)
	}

	return s, nil
}

func (s *Service) ServicePrice(tag string) (decimal.Decimal, error) {
	rate, ok := s.rates[tag]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownService, tag)
	}
	return rate, nil
}

func (s *Service) AllServicePrices() map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(s.rates))
	for tag, rate := range s.rates {
		prices[tag] = rate
	}
	return prices
}

// TotalWithFees computes the fee breakdown on top of a base amount. Each
// fee is rounded to 2 decimal places half-up before summing, so the total
// equals base + provider fee + platform fee to the cent.
func (s *Service) TotalWithFees(base decimal.Decimal) Breakdown {
	hundred := decimal.NewFromInt(100)

	providerFee := base.Mul(s.providerFeePercent).Div(hundred).Round(2)
	platformFee := base.Mul(s.platformFeePercent).Div(hundred).Add(s.platformFeeFlat).Round(2)

	return Breakdown{
		BaseAmount:  base,
		ProviderFee: providerFee,
		PlatformFee: platformFee,
		TotalAmount: base.Add(providerFee).Add(platformFee),
	}
}

// SessionPrice maps an appointment session type to its rate.
func (s *Service) SessionPrice(sessionType string) (decimal.Decimal, error) {
	switch sessionType {
	case ServiceOnlineSession, ServiceInitialConsultation:
		return s.ServicePrice(sessionType)
	default:
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownService, sessionType)
	}
}
