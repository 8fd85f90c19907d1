package store

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
)

// acquireMissionLock takes a Postgres transaction-scoped advisory lock
// keyed by mission id, serializing DeleteMission against concurrent
// activate/deactivate/delete calls on the same mission. The lock releases
// with the transaction.
func acquireMissionLock(ctx context.Context, tx pgx.Tx, missionID string) error {
	key := missionLockKey(missionID)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
		return fmt.Errorf("acquire mission lock: %w", err)
	}
	return nil
}

func missionLockKey(missionID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(missionID))
	return int64(h.Sum64())
}
