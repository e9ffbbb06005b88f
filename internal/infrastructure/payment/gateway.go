package payment

import (
	"fmt"

	"github.com/saaskit/backend/internal/application/billing"
	"github.com/saaskit/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// NewGateway creates the configured payment gateway
func NewGateway(cfg config.PaymentConfig, logger *zap.Logger) (billing.PaymentGateway, error) {
	switch cfg.Gateway {
	case "stub", "":
		return NewStubGateway(logger), nil
	case "stripe":
		return NewStripeGateway(&StripeConfig{
			SecretKey:  cfg.APIKey,
			IsTestMode: cfg.TestMode,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown payment gateway: %s", cfg.Gateway)
	}
}
