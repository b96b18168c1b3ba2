// Package transactions persists payment transactions and their mutable
// assignment sub-record. Transactions are created by ingestion and only
// the assignment is ever updated afterwards.
package transactions

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mwalther/belegmatch/internal/domain"
)

// Schema backs the transactions table. The provider-specific id is the
// natural key; ingestion upserts against it.
const Schema = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    provider TEXT NOT NULL,
    amount TEXT NOT NULL,
    currency TEXT NOT NULL DEFAULT 'EUR',
    value_date TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    counterparty TEXT NOT NULL DEFAULT '',
    reference TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    assign_document_id TEXT NOT NULL DEFAULT '',
    assign_document_ref TEXT NOT NULL DEFAULT '',
    assign_account TEXT NOT NULL DEFAULT '',
    assign_tax_rate REAL NOT NULL DEFAULT 0,
    assign_kind TEXT NOT NULL DEFAULT 'none',
    assign_match_source TEXT NOT NULL DEFAULT '',
    assign_confidence REAL NOT NULL DEFAULT 0,
    assign_assigned_at TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(value_date);
CREATE INDEX IF NOT EXISTS idx_transactions_kind ON transactions(assign_kind);
`

// InitSchema ensures the transactions table exists.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Repository handles transaction persistence
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new transaction repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "transactions").Logger(),
	}
}

// Upsert writes one transaction keyed by its provider-specific id. The
// assignment sub-record is left untouched on conflict; ingestion must
// not overwrite reconciliation results.
func (r *Repository) Upsert(tx *domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("transaction id must not be empty")
	}

	query := `
		INSERT INTO transactions (
			id, provider, amount, currency, value_date, description,
			counterparty, reference, category, assign_kind, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'none', ?)
		ON CONFLICT(id) DO UPDATE SET
			provider = excluded.provider,
			amount = excluded.amount,
			currency = excluded.currency,
			value_date = excluded.value_date,
			description = excluded.description,
			counterparty = excluded.counterparty,
			reference = excluded.reference,
			category = excluded.category,
			updated_at = excluded.updated_at
	`

	_, err := r.db.Exec(
		query,
		tx.ID,
		string(tx.Provider),
		tx.Amount.String(),
		tx.Currency,
		tx.ValueDate.Format("2006-01-02"),
		tx.Description,
		tx.Counterparty,
		tx.Reference,
		tx.Category,
		time.Now().UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction: %w", err)
	}

	return nil
}

// GetByDateRange returns transactions with value date in [from, to).
func (r *Repository) GetByDateRange(from, to time.Time) ([]domain.Transaction, error) {
	return r.query(
		"value_date >= ? AND value_date < ?",
		from.Format("2006-01-02"), to.Format("2006-01-02"),
	)
}

// GetUnassigned returns transactions in [from, to) that have no
// assignment yet.
func (r *Repository) GetUnassigned(from, to time.Time) ([]domain.Transaction, error) {
	return r.query(
		"value_date >= ? AND value_date < ? AND assign_kind = 'none'",
		from.Format("2006-01-02"), to.Format("2006-01-02"),
	)
}

// GetByID returns one transaction, nil on miss.
func (r *Repository) GetByID(id string) (*domain.Transaction, error) {
	txs, err := r.query("id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

// UpdateAssignment writes the assignment sub-record of one transaction.
func (r *Repository) UpdateAssignment(txID string, a *domain.Assignment) error {
	a.Normalize()

	query := `
		UPDATE transactions SET
			assign_document_id = ?,
			assign_document_ref = ?,
			assign_account = ?,
			assign_tax_rate = ?,
			assign_kind = ?,
			assign_match_source = ?,
			assign_confidence = ?,
			assign_assigned_at = ?,
			updated_at = ?
		WHERE id = ?
	`

	assignedAt := ""
	if !a.AssignedAt.IsZero() {
		assignedAt = a.AssignedAt.UTC().Format("2006-01-02 15:04:05")
	}

	result, err := r.db.Exec(
		query,
		a.DocumentID,
		a.DocumentRef,
		a.LedgerAccount,
		a.TaxRate,
		string(a.Kind),
		a.MatchSource,
		a.Confidence,
		assignedAt,
		time.Now().UTC().Format("2006-01-02 15:04:05"),
		txID,
	)
	if err != nil {
		return fmt.Errorf("failed to update assignment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check assignment update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("transaction %s not found", txID)
	}

	return nil
}

func (r *Repository) query(where string, args ...interface{}) ([]domain.Transaction, error) {
	query := `
		SELECT id, provider, amount, currency, value_date, description,
		       counterparty, reference, category,
		       assign_document_id, assign_document_ref, assign_account,
		       assign_tax_rate, assign_kind, assign_match_source,
		       assign_confidence, assign_assigned_at
		FROM transactions
		WHERE ` + where + `
		ORDER BY value_date, id
	`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var result []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		result = append(result, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return result, nil
}

func scanTransaction(rows *sql.Rows) (domain.Transaction, error) {
	var tx domain.Transaction
	var provider, amount, valueDate, kind, assignedAt string

	if err := rows.Scan(
		&tx.ID,
		&provider,
		&amount,
		&tx.Currency,
		&valueDate,
		&tx.Description,
		&tx.Counterparty,
		&tx.Reference,
		&tx.Category,
		&tx.Assignment.DocumentID,
		&tx.Assignment.DocumentRef,
		&tx.Assignment.LedgerAccount,
		&tx.Assignment.TaxRate,
		&kind,
		&tx.Assignment.MatchSource,
		&tx.Assignment.Confidence,
		&assignedAt,
	); err != nil {
		return tx, err
	}

	tx.Provider = domain.Provider(provider)
	tx.Assignment.Kind = domain.AssignmentKind(kind)

	date, err := time.Parse("2006-01-02", valueDate)
	if err != nil {
		return tx, fmt.Errorf("invalid value date %q: %w", valueDate, err)
	}
	tx.ValueDate = date

	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return tx, fmt.Errorf("invalid amount %q: %w", amount, err)
	}

	if assignedAt != "" {
		if t, err := time.Parse("2006-01-02 15:04:05", assignedAt); err == nil {
			tx.Assignment.AssignedAt = t
		}
	}

	return tx, nil
}
