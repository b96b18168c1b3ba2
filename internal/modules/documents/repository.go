// Package documents persists accounting documents (invoices, credit
// notes) and serves the candidate queries the matcher runs against.
package documents

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mwalther/belegmatch/internal/domain"
)

// Schema backs the documents table. Documents are upserted by their
// natural key (the document id) so re-imports are safe.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    number TEXT NOT NULL,
    date TEXT NOT NULL,
    gross TEXT NOT NULL,
    net TEXT NOT NULL,
    tax TEXT NOT NULL,
    counterparty TEXT NOT NULL DEFAULT '',
    country TEXT NOT NULL DEFAULT '',
    has_tax_id INTEGER NOT NULL DEFAULT 0,
    kind TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_date ON documents(date);
CREATE INDEX IF NOT EXISTS idx_documents_number ON documents(number);
`

// InitSchema ensures the documents table exists.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Filter narrows a document query. Zero values mean "no constraint".
type Filter struct {
	DateFrom     time.Time
	DateTo       time.Time // exclusive
	AmountMin    decimal.Decimal
	AmountMax    decimal.Decimal
	HasAmount    bool // set when AmountMin/AmountMax are meaningful
	TextContains string
}

// Repository handles document persistence
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new document repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "documents").Logger(),
	}
}

// Upsert writes one document keyed by its id.
func (r *Repository) Upsert(doc *domain.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id must not be empty")
	}

	query := `
		INSERT INTO documents (
			id, number, date, gross, net, tax, counterparty,
			country, has_tax_id, kind, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			date = excluded.date,
			gross = excluded.gross,
			net = excluded.net,
			tax = excluded.tax,
			counterparty = excluded.counterparty,
			country = excluded.country,
			has_tax_id = excluded.has_tax_id,
			kind = excluded.kind,
			updated_at = excluded.updated_at
	`

	_, err := r.db.Exec(
		query,
		doc.ID,
		doc.Number,
		doc.Date.Format("2006-01-02"),
		doc.Gross.String(),
		doc.Net.String(),
		doc.Tax.String(),
		doc.Counterparty,
		doc.Country,
		doc.HasTaxID,
		string(doc.Kind),
		time.Now().UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	return nil
}

// Find returns documents matching the filter, ordered by date.
func (r *Repository) Find(filter Filter) ([]domain.Document, error) {
	query := `
		SELECT id, number, date, gross, net, tax, counterparty,
		       country, has_tax_id, kind
		FROM documents
		WHERE 1=1
	`
	var args []interface{}

	if !filter.DateFrom.IsZero() {
		query += " AND date >= ?"
		args = append(args, filter.DateFrom.Format("2006-01-02"))
	}
	if !filter.DateTo.IsZero() {
		query += " AND date < ?"
		args = append(args, filter.DateTo.Format("2006-01-02"))
	}
	if filter.TextContains != "" {
		query += " AND (instr(lower(number), lower(?)) > 0 OR instr(lower(counterparty), lower(?)) > 0)"
		args = append(args, filter.TextContains, filter.TextContains)
	}

	query += " ORDER BY date, number"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var result []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		// Amount ranges are filtered in Go: gross is stored as exact
		// decimal text, not a sortable number.
		if filter.HasAmount {
			if doc.Gross.LessThan(filter.AmountMin) || doc.Gross.GreaterThan(filter.AmountMax) {
				continue
			}
		}

		result = append(result, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return result, nil
}

// GetByNumber returns a document by its number, nil on miss.
func (r *Repository) GetByNumber(number string) (*domain.Document, error) {
	query := `
		SELECT id, number, date, gross, net, tax, counterparty,
		       country, has_tax_id, kind
		FROM documents
		WHERE lower(number) = lower(?)
	`

	rows, err := r.db.Query(query, strings.TrimSpace(number))
	if err != nil {
		return nil, fmt.Errorf("failed to query document by number: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	doc, err := scanDocument(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	return &doc, nil
}

func scanDocument(rows *sql.Rows) (domain.Document, error) {
	var doc domain.Document
	var dateStr, gross, net, tax, kind string

	if err := rows.Scan(
		&doc.ID,
		&doc.Number,
		&dateStr,
		&gross,
		&net,
		&tax,
		&doc.Counterparty,
		&doc.Country,
		&doc.HasTaxID,
		&kind,
	); err != nil {
		return doc, err
	}

	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return doc, fmt.Errorf("invalid document date %q: %w", dateStr, err)
	}
	doc.Date = date
	doc.Kind = domain.DocumentKind(kind)

	if doc.Gross, err = decimal.NewFromString(gross); err != nil {
		return doc, fmt.Errorf("invalid gross amount %q: %w", gross, err)
	}
	if doc.Net, err = decimal.NewFromString(net); err != nil {
		return doc, fmt.Errorf("invalid net amount %q: %w", net, err)
	}
	if doc.Tax, err = decimal.NewFromString(tax); err != nil {
		return doc, fmt.Errorf("invalid tax amount %q: %w", tax, err)
	}

	return doc, nil
}
