package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetops/missionctl/internal/domain"
)

// eventTypeCache is the in-memory mirror of the event_types dictionary:
// insert-on-first-use with a cached name -> id lookup, so appending an
// event of a known kind costs no extra round trip.
type eventTypeCache struct {
	mu  sync.RWMutex
	ids map[domain.EventKind]string
}

func newEventTypeCache() *eventTypeCache {
	return &eventTypeCache{ids: make(map[domain.EventKind]string)}
}

func (c *eventTypeCache) preload(ctx context.Context, pool *pgxpool.Pool) error {
	rows, err := pool.Query(ctx, `SELECT id, name FROM event_types`)
	if err != nil {
		return fmt.Errorf("preload event types: %w", err)
	}
	defer rows.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return fmt.Errorf("preload event types scan: %w", err)
		}
		c.ids[domain.EventKind(name)] = id
	}
	return rows.Err()
}

func (c *eventTypeCache) get(kind domain.EventKind) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[kind]
	return id, ok
}

func (c *eventTypeCache) set(kind domain.EventKind, id string) {
	c.mu.Lock()
	c.ids[kind] = id
	c.mu.Unlock()
}

// eventTypeID returns the row id for kind, minting it with
// INSERT ... ON CONFLICT DO NOTHING if this is the first time the server
// has seen it.
func (s *PostgresStore) eventTypeID(ctx context.Context, kind domain.EventKind) (string, error) {
	if id, ok := s.types.get(kind); ok {
		return id, nil
	}

	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_types (id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`, id, string(kind))
	if err != nil {
		return "", fmt.Errorf("mint event type %s: %w", kind, err)
	}

	var resolvedID string
	err = s.pool.QueryRow(ctx, `SELECT id FROM event_types WHERE name = $1`, string(kind)).Scan(&resolvedID)
	if err != nil {
		return "", fmt.Errorf("resolve event type %s: %w", kind, err)
	}

	s.types.set(kind, resolvedID)
	return resolvedID, nil
}
