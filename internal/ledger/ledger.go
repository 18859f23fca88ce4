// File: internal/ledger/ledger.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/coordops/caerun/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking
// in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the PostgreSQL submission ledger. All writes append; no record is
// ever updated or deleted, and dedup decisions read the most recent record
// per fingerprint.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// New creates a ledger store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("ledger store requires a database pool")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("ledger"),
		now:  time.Now,
	}, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS submission_records (
    id              UUID PRIMARY KEY,
    fingerprint     TEXT NOT NULL,
    action          TEXT NOT NULL,
    decision_reason TEXT NOT NULL DEFAULT '',
    run_id          TEXT NOT NULL,
    platform        TEXT NOT NULL,
    coordination    TEXT NOT NULL,
    company         TEXT NOT NULL,
    worker          TEXT NOT NULL DEFAULT '',
    error           JSONB,
    created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submission_fp_recent
    ON submission_records (fingerprint, created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS uq_submission_planned_per_run
    ON submission_records (fingerprint, run_id) WHERE action = 'planned';

CREATE TABLE IF NOT EXISTS run_locks (
    context_key  TEXT PRIMARY KEY,
    run_id       TEXT NOT NULL,
    acquired_at  TIMESTAMPTZ NOT NULL,
    heartbeat_at TIMESTAMPTZ NOT NULL
);`

// EnsureSchema creates the ledger tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure ledger schema: %w", err)
	}
	return nil
}

// Decide evaluates the dedup verdict for a work item before any side effect.
// The most recent record for the fingerprint wins: submitted skips forever,
// planned skips while pending, and a failed or skipped record clears the way.
func (s *Store) Decide(ctx context.Context, item schemas.WorkItem) (*schemas.Decision, error) {
	fp := KeyFor(item).Fingerprint()
	dec := &schemas.Decision{Item: item, Fingerprint: fp, Confidence: 1.0}

	const q = `
        SELECT action, run_id, created_at
        FROM submission_records
        WHERE fingerprint = $1
        ORDER BY created_at DESC
        LIMIT 1;`
	var action string
	var runID string
	var createdAt time.Time
	err := s.pool.QueryRow(ctx, q, fp).Scan(&action, &runID, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		dec.Kind = schemas.DecisionProceed
		return dec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger for fingerprint: %w", err)
	}

	switch schemas.SubmissionAction(action) {
	case schemas.SubmissionSubmitted:
		dec.Kind = schemas.DecisionSkipAlreadySubmitted
		dec.Reason = fmt.Sprintf("submitted by run %s at %s", runID, createdAt.UTC().Format(time.RFC3339))
	case schemas.SubmissionPlanned:
		dec.Kind = schemas.DecisionSkipAlreadyPlanned
		dec.Reason = fmt.Sprintf("planned by run %s at %s", runID, createdAt.UTC().Format(time.RFC3339))
	default:
		// failed or skipped: the unit is eligible again.
		dec.Kind = schemas.DecisionProceed
	}
	return dec, nil
}

// RecordPlanned appends a planned record before the first side effect of the
// unit. Re-recording the same plan within one run is a no-op, so a resumed
// run does not trip over its own intent.
func (s *Store) RecordPlanned(ctx context.Context, runID string, item schemas.WorkItem) error {
	const q = `
        INSERT INTO submission_records
            (id, fingerprint, action, decision_reason, run_id, platform, coordination, company, worker, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT DO NOTHING;`
	_, err := s.pool.Exec(ctx, q,
		uuid.New().String(), KeyFor(item).Fingerprint(), string(schemas.SubmissionPlanned),
		"", runID, item.Platform, item.Coordination, item.Company, item.Worker, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record planned submission: %w", err)
	}
	return nil
}

// Promote appends a submitted record once strong evidence of acceptance
// exists. From this point the unit is permanently deduplicated.
func (s *Store) Promote(ctx context.Context, runID string, item schemas.WorkItem, reason string) error {
	return s.append(ctx, runID, item, schemas.SubmissionSubmitted, reason, nil)
}

// Demote appends a failed record, releasing the unit for future runs. The
// failure that caused the demotion is stored with it.
func (s *Store) Demote(ctx context.Context, runID string, item schemas.WorkItem, cause *schemas.ErrorRecord) error {
	reason := ""
	if cause != nil {
		reason = string(cause.Code)
	}
	return s.append(ctx, runID, item, schemas.SubmissionFailed, reason, cause)
}

// RecordSkip appends a skipped record documenting a no-go decision.
func (s *Store) RecordSkip(ctx context.Context, runID string, item schemas.WorkItem, reason string) error {
	return s.append(ctx, runID, item, schemas.SubmissionSkipped, reason, nil)
}

func (s *Store) append(ctx context.Context, runID string, item schemas.WorkItem,
	action schemas.SubmissionAction, reason string, cause *schemas.ErrorRecord) error {

	var errJSON interface{}
	if cause != nil {
		data, err := json.Marshal(cause)
		if err != nil {
			return fmt.Errorf("failed to encode error record: %w", err)
		}
		errJSON = data
	}

	const q = `
        INSERT INTO submission_records
            (id, fingerprint, action, decision_reason, run_id, platform, coordination, company, worker, error, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);`
	_, err := s.pool.Exec(ctx, q,
		uuid.New().String(), KeyFor(item).Fingerprint(), string(action),
		reason, runID, item.Platform, item.Coordination, item.Company, item.Worker,
		errJSON, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append %s record: %w", action, err)
	}
	s.log.Debug("Ledger record appended.",
		zap.String("action", string(action)),
		zap.String("run_id", runID))
	return nil
}

// HistoryFilter narrows History queries. Zero values mean "no filter".
type HistoryFilter struct {
	Platform    string
	Company     string
	Worker      string
	Fingerprint string
	Limit       int
}

// History returns ledger records, newest first.
func (s *Store) History(ctx context.Context, filter HistoryFilter) ([]schemas.SubmissionRecord, error) {
	q := `
        SELECT id, fingerprint, action, decision_reason, run_id,
               platform, coordination, company, worker, error, created_at
        FROM submission_records
        WHERE ($1 = '' OR platform = $1)
          AND ($2 = '' OR company = $2)
          AND ($3 = '' OR worker = $3)
          AND ($4 = '' OR fingerprint = $4)
        ORDER BY created_at DESC
        LIMIT $5;`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, q, filter.Platform, filter.Company, filter.Worker, filter.Fingerprint, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger history: %w", err)
	}
	defer rows.Close()

	var records []schemas.SubmissionRecord
	for rows.Next() {
		var rec schemas.SubmissionRecord
		var action string
		var errJSON []byte
		if err := rows.Scan(&rec.ID, &rec.Fingerprint, &action, &rec.DecisionReason, &rec.RunID,
			&rec.Platform, &rec.Coordination, &rec.Company, &rec.Worker, &errJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		rec.Action = schemas.SubmissionAction(action)
		if len(errJSON) > 0 {
			var er schemas.ErrorRecord
			if err := json.Unmarshal(errJSON, &er); err == nil {
				rec.Error = &er
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}
