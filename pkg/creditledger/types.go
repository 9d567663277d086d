package creditledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntryType enumerates ledger entry kinds. The wire strings match the
// values stored in the historical credit_ledger table.
type EntryType string

const (
	EntryTopUp      EntryType = "Top-up"
	EntrySpend      EntryType = "Spend"
	EntryRefund     EntryType = "Refund"
	EntryPromo      EntryType = "Promo"
	EntryAdjustment EntryType = "Adjustment"
	EntryTransfer   EntryType = "Transfer"
)

// String returns the stored representation.
func (entryType EntryType) String() string {
	return string(entryType)
}

// ParseEntryType validates a raw entry type value.
func ParseEntryType(raw string) (EntryType, error) {
	switch EntryType(raw) {
	case EntryTopUp, EntrySpend, EntryRefund, EntryPromo, EntryAdjustment, EntryTransfer:
		return EntryType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryType, raw)
}

// Method enumerates funding methods.
type Method string

const (
	MethodCard   Method = "card"
	MethodBank   Method = "bank"
	MethodWallet Method = "wallet"
	MethodPromo  Method = "promo"
)

// String returns the stored representation.
func (method Method) String() string {
	return string(method)
}

// ParseMethod validates a raw funding method value.
func ParseMethod(raw string) (Method, error) {
	switch Method(raw) {
	case MethodCard, MethodBank, MethodWallet, MethodPromo:
		return Method(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMethod, raw)
}

// Entry is a single immutable balance-affecting record. Amounts are
// signed: Spend entries carry a negative amount so that summing over
// the list yields the balance delta directly.
type Entry struct {
	EntryID      string
	Date         time.Time
	Type         EntryType
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	Reference    string
	Method       Method
	Notes        string
	// Receipt is the public URL of an uploaded receipt artifact, empty
	// until an upload completes.
	Receipt string
}

// Account is the per-session balance posture. Balance mutates only by
// applying entries; Reserved is held funds outside this package's control.
type Account struct {
	Balance     decimal.Decimal
	Reserved    decimal.Decimal
	CreditLimit *decimal.Decimal
}

// Available returns balance minus reserved funds.
func (account Account) Available() decimal.Decimal {
	return account.Balance.Sub(account.Reserved)
}

// UtilizationPct returns balance as a percentage of the credit limit,
// capped at 999. The second return is false when no limit is configured.
func (account Account) UtilizationPct() (decimal.Decimal, bool) {
	if account.CreditLimit == nil || account.CreditLimit.Sign() <= 0 {
		return decimal.Zero, false
	}
	pct := account.Balance.Div(*account.CreditLimit).Mul(decimal.NewFromInt(100))
	ceiling := decimal.NewFromInt(utilizationCeiling)
	if pct.GreaterThan(ceiling) {
		return ceiling, true
	}
	return pct, true
}
