// Package gormstore persists the credit ledger mirror through GORM.
package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/creditdesk/pkg/creditledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectEntry     = "entry"
	errorCodeDuplicate    = "duplicate"
	errorCodeInsert       = "insert"
	errorCodeList         = "list"
)

// Store implements creditledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the credit_ledger table when it does not exist.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&CreditLedgerRow{})
}

// InsertEntry mirrors one ledger entry into the credit_ledger table.
// Re-inserting an already mirrored entry id reports ErrDuplicateEntry so
// retried writes stay idempotent.
func (store *Store) InsertEntry(ctx context.Context, entry creditledger.Entry) error {
	row := CreditLedgerRow{
		EntryID:      entry.EntryID,
		Date:         entry.Date,
		Type:         entry.Type.String(),
		Amount:       entry.Amount,
		BalanceAfter: entry.BalanceAfter,
		Reference:    entry.Reference,
		Method:       entry.Method.String(),
		Notes:        entry.Notes,
		Receipt:      entry.Receipt,
		Metadata:     datatypes.JSON([]byte(defaultMetadataJSON)),
		CreatedAt:    entry.Date,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorCodeDuplicate, creditledger.ErrDuplicateEntry)
	}
	if err != nil {
		return wrapStoreError(errorCodeInsert, err)
	}
	return nil
}

// ListRecent reads the newest rows from the credit_ledger table. Rows are
// scanned loosely and mapped through the alias adapter so that tables
// written with historical column names still load.
func (store *Store) ListRecent(ctx context.Context, limit int) ([]creditledger.Entry, error) {
	var rows []map[string]any
	err := store.db.WithContext(ctx).
		Table(CreditLedgerRow{}.TableName()).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorCodeList, err)
	}
	entries := make([]creditledger.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, entryFromRow(row))
	}
	return entries, nil
}

func wrapStoreError(code string, err error) error {
	return creditledger.WrapError(errorOperationStore, errorSubjectEntry, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

var _ creditledger.Store = (*Store)(nil)
