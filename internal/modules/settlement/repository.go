package settlement

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mwalther/belegmatch/internal/domain"
)

// Repository persists derived postings. Writes are idempotent upserts
// on the posting natural key so a settlement batch can be re-imported
// safely.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new posting repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "postings").Logger(),
	}
}

// Upsert writes one posting, replacing the previous derivation for the
// same natural key.
func (r *Repository) Upsert(p *domain.Posting) error {
	lineIDs, err := json.Marshal(p.SourceLineIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal source line ids: %w", err)
	}

	query := `
		INSERT INTO postings (
			date, amount, cash_account, counter_account, document_ref,
			order_id, bucket, tax_key, memo, source_line_ids, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, cash_account, counter_account, document_ref, order_id, bucket)
		DO UPDATE SET
			amount = excluded.amount,
			tax_key = excluded.tax_key,
			memo = excluded.memo,
			source_line_ids = excluded.source_line_ids,
			updated_at = excluded.updated_at
	`

	_, err = r.db.Exec(
		query,
		p.Date.Format("2006-01-02"),
		p.Amount.String(),
		p.CashAccount,
		p.CounterAccount,
		p.DocumentRef,
		p.OrderID,
		p.Bucket,
		p.TaxKey,
		p.Memo,
		string(lineIDs),
		time.Now().UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert posting: %w", err)
	}

	return nil
}

// UpsertBatch writes a batch of postings in one transaction.
func (r *Repository) UpsertBatch(postings []domain.Posting) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO postings (
			date, amount, cash_account, counter_account, document_ref,
			order_id, bucket, tax_key, memo, source_line_ids, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, cash_account, counter_account, document_ref, order_id, bucket)
		DO UPDATE SET
			amount = excluded.amount,
			tax_key = excluded.tax_key,
			memo = excluded.memo,
			source_line_ids = excluded.source_line_ids,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format("2006-01-02 15:04:05")
	for i := range postings {
		p := &postings[i]
		lineIDs, err := json.Marshal(p.SourceLineIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal source line ids: %w", err)
		}

		if _, err := stmt.Exec(
			p.Date.Format("2006-01-02"),
			p.Amount.String(),
			p.CashAccount,
			p.CounterAccount,
			p.DocumentRef,
			p.OrderID,
			p.Bucket,
			p.TaxKey,
			p.Memo,
			string(lineIDs),
			now,
		); err != nil {
			return fmt.Errorf("failed to upsert posting %s/%s: %w", p.OrderID, p.Bucket, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit postings: %w", err)
	}

	r.log.Debug().Int("count", len(postings)).Msg("Postings upserted")
	return nil
}

// GetByDateRange returns postings with date in [from, to).
func (r *Repository) GetByDateRange(from, to time.Time) ([]domain.Posting, error) {
	query := `
		SELECT date, amount, cash_account, counter_account, document_ref,
		       order_id, bucket, tax_key, memo, source_line_ids
		FROM postings
		WHERE date >= ? AND date < ?
		ORDER BY date, order_id, bucket
	`

	rows, err := r.db.Query(query, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to query postings: %w", err)
	}
	defer rows.Close()

	var postings []domain.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan posting: %w", err)
		}
		postings = append(postings, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating postings: %w", err)
	}

	return postings, nil
}

// Count returns the total number of stored postings.
func (r *Repository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM postings").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count postings: %w", err)
	}
	return count, nil
}

func scanPosting(rows *sql.Rows) (domain.Posting, error) {
	var p domain.Posting
	var dateStr, amountStr, lineIDs string

	if err := rows.Scan(
		&dateStr,
		&amountStr,
		&p.CashAccount,
		&p.CounterAccount,
		&p.DocumentRef,
		&p.OrderID,
		&p.Bucket,
		&p.TaxKey,
		&p.Memo,
		&lineIDs,
	); err != nil {
		return p, err
	}

	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return p, fmt.Errorf("invalid posting date %q: %w", dateStr, err)
	}
	p.Date = date

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return p, fmt.Errorf("invalid posting amount %q: %w", amountStr, err)
	}
	p.Amount = amount

	if err := json.Unmarshal([]byte(lineIDs), &p.SourceLineIDs); err != nil {
		return p, fmt.Errorf("invalid source line ids: %w", err)
	}

	return p, nil
}
