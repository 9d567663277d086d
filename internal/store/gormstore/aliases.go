package gormstore

import (
	"time"

	"github.com/MarkoPoloResearchLab/creditdesk/pkg/creditledger"
	"github.com/shopspring/decimal"
)

// Historical credit_ledger tables spelled several columns differently.
// Each field reads through a fixed priority list; the first present,
// non-nil column wins.
var (
	aliasDate         = []string{"date", "created_at", "timestamp"}
	aliasType         = []string{"type", "kind"}
	aliasBalanceAfter = []string{"balance_after", "balanceAfter"}
	aliasReference    = []string{"reference", "invoice"}
	aliasMethod       = []string{"method", "source"}
	aliasNotes        = []string{"notes", "note"}
	aliasReceipt      = []string{"receipt", "receipt_url"}
)

var rowTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// entryFromRow adapts a loosely-scanned row to a ledger entry. Unknown or
// malformed fields fall back to the same defaults the dashboard used:
// Adjustment for the type, card for the method, zero for amounts.
func entryFromRow(row map[string]any) creditledger.Entry {
	entryType := creditledger.EntryAdjustment
	if raw := firstString(row, aliasType); raw != "" {
		if parsed, err := creditledger.ParseEntryType(raw); err == nil {
			entryType = parsed
		}
	}
	method := creditledger.MethodCard
	if raw := firstString(row, aliasMethod); raw != "" {
		if parsed, err := creditledger.ParseMethod(raw); err == nil {
			method = parsed
		}
	}
	return creditledger.Entry{
		EntryID:      firstString(row, []string{"entry_id", "id"}),
		Date:         firstTime(row, aliasDate),
		Type:         entryType,
		Amount:       firstDecimal(row, []string{"amount"}),
		BalanceAfter: firstDecimal(row, aliasBalanceAfter),
		Reference:    firstString(row, aliasReference),
		Method:       method,
		Notes:        firstString(row, aliasNotes),
		Receipt:      firstString(row, aliasReceipt),
	}
}

func firstString(row map[string]any, keys []string) string {
	for _, key := range keys {
		value, present := row[key]
		if !present || value == nil {
			continue
		}
		switch typed := value.(type) {
		case string:
			if typed != "" {
				return typed
			}
		case []byte:
			if len(typed) > 0 {
				return string(typed)
			}
		}
	}
	return ""
}

func firstDecimal(row map[string]any, keys []string) decimal.Decimal {
	for _, key := range keys {
		value, present := row[key]
		if !present || value == nil {
			continue
		}
		switch typed := value.(type) {
		case decimal.Decimal:
			return typed
		case float64:
			return decimal.NewFromFloat(typed)
		case int64:
			return decimal.NewFromInt(typed)
		case string:
			if parsed, err := decimal.NewFromString(typed); err == nil {
				return parsed
			}
		case []byte:
			if parsed, err := decimal.NewFromString(string(typed)); err == nil {
				return parsed
			}
		}
	}
	return decimal.Zero
}

func firstTime(row map[string]any, keys []string) time.Time {
	for _, key := range keys {
		value, present := row[key]
		if !present || value == nil {
			continue
		}
		switch typed := value.(type) {
		case time.Time:
			return typed
		case string:
			for _, layout := range rowTimeLayouts {
				if parsed, err := time.Parse(layout, typed); err == nil {
					return parsed
				}
			}
		case int64:
			return time.Unix(typed, 0).UTC()
		case float64:
			return time.Unix(int64(typed), 0).UTC()
		}
	}
	return time.Time{}
}
