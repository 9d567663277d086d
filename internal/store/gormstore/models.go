package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CreditLedgerRow mirrors the credit_ledger table. Writes use the
// canonical column names; reads go through the alias adapter because
// historical rows used several column spellings per field.
type CreditLedgerRow struct {
	EntryID      string          `gorm:"type:uuid;primaryKey"`
	UserID       string          `gorm:"index"`
	Date         time.Time       `gorm:"column:date;not null"`
	Type         string          `gorm:"not null"`
	Amount       decimal.Decimal `gorm:"type:numeric;not null"`
	BalanceAfter decimal.Decimal `gorm:"column:balance_after;type:numeric;not null"`
	Reference    string          `gorm:"not null;index"`
	Method       string          `gorm:"not null"`
	Notes        string          `gorm:""`
	Receipt      string          `gorm:""`
	Metadata     datatypes.JSON  `gorm:""`
	CreatedAt    time.Time       `gorm:"not null;index:idx_credit_ledger_created"`
}

func (CreditLedgerRow) TableName() string { return "credit_ledger" }

func (row *CreditLedgerRow) BeforeCreate(tx *gorm.DB) error {
	if row.EntryID == "" {
		row.EntryID = uuid.NewString()
	}
	return nil
}
