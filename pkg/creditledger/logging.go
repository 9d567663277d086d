package creditledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation string
	Reference string
	Amount    decimal.Decimal
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithStore wires a best-effort persistence mirror. Mirror failures never
// roll back local state; they surface through the operation logger only.
func WithStore(store Store) ServiceOption {
	return func(service *Service) {
		service.store = store
	}
}

// WithEntryPublisher wires a fire-and-forget event publisher for new entries.
func WithEntryPublisher(publisher EntryPublisher) ServiceOption {
	return func(service *Service) {
		service.publisher = publisher
	}
}

// WithCheckout wires the hosted-checkout signing configuration used by
// gateway top-ups.
func WithCheckout(checkout CheckoutConfig) ServiceOption {
	return func(service *Service) {
		service.checkout = &checkout
	}
}

// WithPromoReward overrides the fixed promo redemption reward.
func WithPromoReward(reward decimal.Decimal) ServiceOption {
	return func(service *Service) {
		service.promoReward = reward
	}
}
