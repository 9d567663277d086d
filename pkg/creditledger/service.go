// Package creditledger maintains the credit ledger: an ordered,
// most-recent-first list of immutable entries plus the running account
// balance, under the operations exposed by the credit dashboard.
//
// The service is the single logical writer. Persistence and event
// publication are best-effort mirrors of the in-memory state: a failed
// remote write is reported through the operation logger and otherwise
// swallowed, leaving the local state authoritative.
package creditledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/creditdesk/pkg/kashier"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the persistence mirror consumed by Service.
type Store interface {
	InsertEntry(ctx context.Context, entry Entry) error
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
}

// EntryPublisher receives every newly created entry, fire-and-forget.
type EntryPublisher interface {
	PublishEntry(ctx context.Context, entry Entry) error
}

// CheckoutConfig carries the signing secrets and pass-through URLs for
// gateway top-ups.
type CheckoutConfig struct {
	Secrets    kashier.Secrets
	ReturnURL  string
	WebhookURL string
}

// Service holds the account balance and entry history.
type Service struct {
	mu          sync.Mutex
	account     Account
	entries     []Entry
	nowFn       func() time.Time
	store       Store
	publisher   EntryPublisher
	logger      OperationLogger
	checkout    *CheckoutConfig
	promoReward decimal.Decimal
}

// NewService wires a Service starting from the given account posture.
func NewService(account Account, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		account:     account,
		nowFn:       now,
		promoReward: decimal.NewFromInt(defaultPromoReward),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.promoReward.Sign() <= 0 {
		return nil, fmt.Errorf("%w: promo reward must be greater than zero", ErrInvalidServiceConfig)
	}
	return service, nil
}

// ManualTopUpInput describes a manual top-up request.
type ManualTopUpInput struct {
	Amount decimal.Decimal
	Method Method
	// Reference is optional; a time-derived one is synthesized when empty.
	Reference string
	Notes     string
	// Receipt is the public URL of an already-uploaded receipt, if any.
	Receipt string
}

// ApplyManualTopUp credits the balance and prepends a Top-up entry.
func (service *Service) ApplyManualTopUp(ctx context.Context, input ManualTopUpInput) (Entry, error) {
	if input.Amount.Sign() <= 0 {
		operationError := fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
		service.logOperation(ctx, OperationLog{Operation: operationManualTopUp, Error: operationError})
		return Entry{}, operationError
	}
	method := input.Method
	if method == "" {
		method = MethodCard
	}
	if _, err := ParseMethod(method.String()); err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationManualTopUp, Error: err})
		return Entry{}, err
	}
	now := service.nowFn()
	reference := strings.TrimSpace(input.Reference)
	if reference == "" {
		// Unique enough in practice; collisions are not guarded against.
		reference = fmt.Sprintf("%s%d", topUpReferencePrefix, now.UnixMilli()%100000)
	}
	entry := Entry{
		EntryID:   uuid.NewString(),
		Date:      now,
		Type:      EntryTopUp,
		Amount:    input.Amount,
		Reference: reference,
		Method:    method,
		Notes:     strings.TrimSpace(input.Notes),
		Receipt:   input.Receipt,
	}
	service.apply(&entry)
	service.mirror(ctx, entry)
	service.logOperation(ctx, OperationLog{
		Operation: operationManualTopUp,
		Reference: entry.Reference,
		Amount:    entry.Amount,
	})
	return entry, nil
}

// ApplyPromoRedemption credits the fixed promo reward for a code. Any
// non-empty code is accepted; codes are not checked for validity or reuse.
func (service *Service) ApplyPromoRedemption(ctx context.Context, code string) (Entry, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		operationError := fmt.Errorf("%w: empty value", ErrInvalidPromoCode)
		service.logOperation(ctx, OperationLog{Operation: operationPromoRedeem, Error: operationError})
		return Entry{}, operationError
	}
	entry := Entry{
		EntryID:   uuid.NewString(),
		Date:      service.nowFn(),
		Type:      EntryPromo,
		Amount:    service.promoReward,
		Reference: promoReferencePrefix + strings.ToUpper(trimmed),
		Method:    MethodPromo,
		Notes:     "Redeemed " + trimmed,
	}
	service.apply(&entry)
	service.mirror(ctx, entry)
	service.logOperation(ctx, OperationLog{
		Operation: operationPromoRedeem,
		Reference: entry.Reference,
		Amount:    entry.Amount,
	})
	return entry, nil
}

// GatewayTopUp is the result of initiating a hosted-checkout top-up.
type GatewayTopUp struct {
	OrderID    string
	PaymentURL string
}

// InitiateGatewayTopUp signs a checkout URL for the amount and returns it.
// The ledger is NOT mutated: the credit for a gateway payment arrives
// asynchronously through the gateway webhook and is reconciled via
// ConfirmGatewayTopUp.
func (service *Service) InitiateGatewayTopUp(ctx context.Context, amount decimal.Decimal, description string) (GatewayTopUp, error) {
	if amount.Sign() <= 0 {
		operationError := fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
		service.logOperation(ctx, OperationLog{Operation: operationGatewayTopUp, Error: operationError})
		return GatewayTopUp{}, operationError
	}
	orderID := fmt.Sprintf("%s%d", gatewayOrderPrefix, service.nowFn().UnixMilli()%1_000_000)
	checkout := service.checkoutConfig()
	paymentURL, err := kashier.BuildCheckoutURL(kashier.PaymentRequest{
		Amount:          amount,
		MerchantOrderID: orderID,
		ReturnURL:       checkout.ReturnURL,
		WebhookURL:      checkout.WebhookURL,
		Description:     strings.TrimSpace(description),
	}, checkout.Secrets)
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationGatewayTopUp, Reference: orderID, Amount: amount, Error: err})
		return GatewayTopUp{}, err
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationGatewayTopUp,
		Reference: orderID,
		Amount:    amount,
	})
	return GatewayTopUp{OrderID: orderID, PaymentURL: paymentURL}, nil
}

// ConfirmGatewayTopUp reconciles a completed gateway payment into the
// ledger. The dashboard flow never calls this itself; it exists as the
// hook for a webhook-driven confirmation path.
func (service *Service) ConfirmGatewayTopUp(ctx context.Context, orderID string, amount decimal.Decimal) (Entry, error) {
	trimmedOrderID := strings.TrimSpace(orderID)
	if trimmedOrderID == "" {
		operationError := fmt.Errorf("%w: empty value", ErrInvalidOrderID)
		service.logOperation(ctx, OperationLog{Operation: operationGatewayConfirm, Error: operationError})
		return Entry{}, operationError
	}
	if amount.Sign() <= 0 {
		operationError := fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
		service.logOperation(ctx, OperationLog{Operation: operationGatewayConfirm, Reference: trimmedOrderID, Error: operationError})
		return Entry{}, operationError
	}
	entry := Entry{
		EntryID:   uuid.NewString(),
		Date:      service.nowFn(),
		Type:      EntryTopUp,
		Amount:    amount,
		Reference: trimmedOrderID,
		Method:    MethodCard,
		Notes:     "Gateway top-up confirmed",
	}
	service.apply(&entry)
	service.mirror(ctx, entry)
	service.logOperation(ctx, OperationLog{
		Operation: operationGatewayConfirm,
		Reference: entry.Reference,
		Amount:    entry.Amount,
	})
	return entry, nil
}

// apply mutates balance and history atomically: no caller can observe a
// balance update without the corresponding entry.
func (service *Service) apply(entry *Entry) {
	service.mu.Lock()
	defer service.mu.Unlock()
	entry.BalanceAfter = service.account.Balance.Add(entry.Amount)
	service.account.Balance = entry.BalanceAfter
	service.entries = append([]Entry{*entry}, service.entries...)
}

// mirror forwards the entry to the persistence store and event publisher.
// Failures are logged and swallowed; the local mutation stands.
func (service *Service) mirror(ctx context.Context, entry Entry) {
	if service.store != nil {
		if err := service.store.InsertEntry(ctx, entry); err != nil {
			service.logOperation(ctx, OperationLog{
				Operation: operationMirror,
				Reference: entry.Reference,
				Amount:    entry.Amount,
				Error:     err,
			})
		}
	}
	if service.publisher != nil {
		if err := service.publisher.PublishEntry(ctx, entry); err != nil {
			service.logOperation(ctx, OperationLog{
				Operation: operationPublish,
				Reference: entry.Reference,
				Amount:    entry.Amount,
				Error:     err,
			})
		}
	}
}

// LoadFromStore replaces the entry history with the most recent rows from
// the persistence mirror. The balance posture is left untouched, matching
// the dashboard's optimistic local state. Without a configured store this
// is a no-op.
func (service *Service) LoadFromStore(ctx context.Context) error {
	if service.store == nil {
		return nil
	}
	entries, err := service.store.ListRecent(ctx, loadLimit)
	if err != nil {
		return WrapError(operationMirror, "entry", "list", err)
	}
	if len(entries) == 0 {
		return nil
	}
	service.ReplaceEntries(entries)
	return nil
}

// ReplaceEntries swaps the entry history wholesale (seed or reload).
func (service *Service) ReplaceEntries(entries []Entry) {
	copied := make([]Entry, len(entries))
	copy(copied, entries)
	service.mu.Lock()
	defer service.mu.Unlock()
	service.entries = copied
}

// Entries returns a copy of the history, most recent first.
func (service *Service) Entries() []Entry {
	service.mu.Lock()
	defer service.mu.Unlock()
	copied := make([]Entry, len(service.entries))
	copy(copied, service.entries)
	return copied
}

// Account returns the current balance posture.
func (service *Service) Account() Account {
	service.mu.Lock()
	defer service.mu.Unlock()
	return service.account
}

func (service *Service) checkoutConfig() CheckoutConfig {
	if service.checkout == nil {
		return CheckoutConfig{}
	}
	return *service.checkout
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
