// File: internal/catalog/catalog.go

// Package catalog resolves which stored document artifact satisfies a work
// item. Documents are registered per company, optionally scoped to a worker,
// with an exact validity period key.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/coordops/caerun/internal/ledger"
)

// ErrNoDocument reports that no stored document satisfies the lookup. The
// executor turns this into a SKIP_NO_DOCUMENT decision, never an error.
var ErrNoDocument = errors.New("no document found")

// Document is one stored artifact eligible for submission.
type Document struct {
	ID           string
	DocumentType string
	Company      string
	Worker       string
	PeriodKey    string
	Path         string
}

// Lookup narrows a catalog search. DocumentType and Company are mandatory;
// Worker and PeriodKey narrow further.
type Lookup struct {
	DocumentType string
	Company      string
	Worker       string
	PeriodKey    string
}

// Catalog finds the document artifact for a work item.
type Catalog interface {
	Find(ctx context.Context, l Lookup) (*Document, error)
}

// Store is the PostgreSQL catalog implementation, sharing the ledger's pool.
type Store struct {
	pool ledger.DBPool
	log  *zap.Logger
}

var _ Catalog = (*Store)(nil)

// New creates a catalog store over an existing pool.
func New(pool ledger.DBPool, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("catalog store requires a database pool")
	}
	return &Store{pool: pool, log: logger.Named("catalog")}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS catalog_documents (
    id            UUID PRIMARY KEY,
    document_type TEXT NOT NULL,
    company       TEXT NOT NULL,
    worker        TEXT NOT NULL DEFAULT '',
    period_key    TEXT NOT NULL DEFAULT '',
    path          TEXT NOT NULL,
    registered_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_catalog_lookup
    ON catalog_documents (document_type, company, worker, period_key);`

// EnsureSchema creates the catalog table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure catalog schema: %w", err)
	}
	return nil
}

// Find resolves the document for a lookup. A worker-scoped lookup first
// tries the worker's own documents, then falls back to company-level ones; a
// period key always matches exactly, in both passes.
func (s *Store) Find(ctx context.Context, l Lookup) (*Document, error) {
	if l.DocumentType == "" || l.Company == "" {
		return nil, errors.New("catalog lookup requires document type and company")
	}

	if l.Worker != "" {
		doc, err := s.findScoped(ctx, l, l.Worker)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, ErrNoDocument) {
			return nil, err
		}
		s.log.Debug("No worker-scoped document, falling back to company scope.",
			zap.String("worker", l.Worker),
			zap.String("document_type", l.DocumentType))
	}
	return s.findScoped(ctx, l, "")
}

func (s *Store) findScoped(ctx context.Context, l Lookup, worker string) (*Document, error) {
	const q = `
        SELECT id, document_type, company, worker, period_key, path
        FROM catalog_documents
        WHERE document_type = $1 AND company = $2 AND worker = $3 AND period_key = $4
        ORDER BY registered_at DESC
        LIMIT 1;`
	var doc Document
	err := s.pool.QueryRow(ctx, q, l.DocumentType, l.Company, worker, l.PeriodKey).
		Scan(&doc.ID, &doc.DocumentType, &doc.Company, &doc.Worker, &doc.PeriodKey, &doc.Path)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: type %q company %q worker %q period %q",
			ErrNoDocument, l.DocumentType, l.Company, worker, l.PeriodKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	return &doc, nil
}

// Register stores a new document artifact.
func (s *Store) Register(ctx context.Context, doc Document) error {
	const q = `
        INSERT INTO catalog_documents (id, document_type, company, worker, period_key, path)
        VALUES ($1, $2, $3, $4, $5, $6);`
	if _, err := s.pool.Exec(ctx, q,
		doc.ID, doc.DocumentType, doc.Company, doc.Worker, doc.PeriodKey, doc.Path); err != nil {
		return fmt.Errorf("failed to register document: %w", err)
	}
	return nil
}
