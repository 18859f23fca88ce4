// File: internal/ledger/locks.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/coordops/caerun/api/schemas"
)

// ErrLockHeld reports that another live run owns the context lock.
var ErrLockHeld = errors.New("run lock held by another run")

// AcquireRunLock takes the exclusive lock for a logical context. A lock whose
// heartbeat is older than ttl is considered abandoned and taken over.
func (s *Store) AcquireRunLock(ctx context.Context, rc schemas.RunContext, runID string, ttl time.Duration) error {
	now := s.now().UTC()
	stale := now.Add(-ttl)

	const q = `
        INSERT INTO run_locks (context_key, run_id, acquired_at, heartbeat_at)
        VALUES ($1, $2, $3, $3)
        ON CONFLICT (context_key) DO UPDATE SET
            run_id = EXCLUDED.run_id,
            acquired_at = EXCLUDED.acquired_at,
            heartbeat_at = EXCLUDED.heartbeat_at
        WHERE run_locks.heartbeat_at < $4 OR run_locks.run_id = $2;`
	tag, err := s.pool.Exec(ctx, q, rc.Key(), runID, now, stale)
	if err != nil {
		return fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: context %s", ErrLockHeld, rc.Key())
	}
	s.log.Info("Run lock acquired.",
		zap.String("context", rc.Key()),
		zap.String("run_id", runID))
	return nil
}

// HeartbeatRunLock refreshes the lock's liveness timestamp.
func (s *Store) HeartbeatRunLock(ctx context.Context, rc schemas.RunContext, runID string) error {
	const q = `UPDATE run_locks SET heartbeat_at = $3 WHERE context_key = $1 AND run_id = $2;`
	tag, err := s.pool.Exec(ctx, q, rc.Key(), runID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to heartbeat run lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: lock for %s no longer owned by run %s", ErrLockHeld, rc.Key(), runID)
	}
	return nil
}

// ReleaseRunLock drops the lock if this run still owns it. Releasing a lock
// another run has taken over is a no-op.
func (s *Store) ReleaseRunLock(ctx context.Context, rc schemas.RunContext, runID string) error {
	const q = `DELETE FROM run_locks WHERE context_key = $1 AND run_id = $2;`
	if _, err := s.pool.Exec(ctx, q, rc.Key(), runID); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}
