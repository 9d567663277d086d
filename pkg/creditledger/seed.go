package creditledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DemoEntries generates the demo history shown before any real rows are
// loaded: twelve entries spaced three days apart, rotating through
// top-ups, spends, and a promo, newest first.
func DemoEntries(now time.Time) []Entry {
	entries := make([]Entry, 0, 12)
	for i := 0; i < 12; i++ {
		date := now.AddDate(0, 0, -i*3)
		var entryType EntryType
		switch i % 3 {
		case 0:
			entryType = EntryTopUp
		case 1:
			entryType = EntrySpend
		default:
			entryType = EntryPromo
		}
		amount := decimal.NewFromInt(int64(i+1) * 10)
		if entryType == EntrySpend {
			amount = decimal.NewFromInt(int64(i+1) * 7).Neg()
		}
		method := MethodWallet
		if entryType == EntryTopUp {
			method = MethodCard
		}
		notes := ""
		if entryType == EntryPromo {
			notes = "Promo: SAVE10"
		}
		receipt := ""
		if entryType == EntryTopUp {
			receipt = fmt.Sprintf("https://example.com/receipt/%d", 1000+i)
		}
		entries = append(entries, Entry{
			EntryID:      uuid.NewString(),
			Date:         date,
			Type:         entryType,
			Amount:       amount,
			BalanceAfter: decimal.NewFromInt(int64(250 + i*2)),
			Reference:    fmt.Sprintf("REF-%d", 1000+i),
			Method:       method,
			Notes:        notes,
			Receipt:      receipt,
		})
	}
	return entries
}
