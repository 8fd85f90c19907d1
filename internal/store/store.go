// Package store persists missions, their script versions, and run history.
package store

import (
	"context"
	"errors"

	"github.com/fleetops/missionctl/internal/domain"
)

// ErrNotFound is returned when a lookup by ID or name matches nothing.
var ErrNotFound = errors.New("not found")

// ErrDuplicateScript is returned by CreateScript when a script already
// exists for the given (mission, version) with a different body. A mission
// cannot silently overwrite a version it has already run against.
var ErrDuplicateScript = errors.New("script version exists with a different body")

// MissionStore is the durable record of missions, their script versions,
// and the runs executed against them.
type MissionStore interface {
	Close() error
	Ping(ctx context.Context) error

	// GetOrCreateMission returns the mission named name, creating an empty
	// (scriptless, inactive) one if none exists yet.
	GetOrCreateMission(ctx context.Context, name string) (*domain.Mission, error)
	GetMission(ctx context.Context, id string) (*domain.Mission, error)
	GetMissionByName(ctx context.Context, name string) (*domain.Mission, error)
	// ListMissions returns missions; archived selects soft-deleted ones
	// (ScriptID cleared) instead of live ones.
	ListMissions(ctx context.Context, archived bool) ([]*domain.Mission, error)
	SetMissionActive(ctx context.Context, id string, active bool) error
	SetMissionScript(ctx context.Context, id, scriptID string) error
	// DeleteMission soft-deletes a mission: clears its current script and
	// deactivates it, under an advisory lock that serializes against
	// concurrent activate/deactivate/delete on the same mission.
	DeleteMission(ctx context.Context, id string) error

	// CreateScript inserts a new (mission, version) script body, or
	// returns the existing one if the body matches, or ErrDuplicateScript
	// if a different body was already recorded for that version.
	CreateScript(ctx context.Context, missionID, name, version, body string) (*domain.Script, error)
	GetScript(ctx context.Context, id string) (*domain.Script, error)
	GetScriptVersion(ctx context.Context, missionID, version string) (*domain.Script, error)
	ListScriptVersions(ctx context.Context, missionID string) ([]*domain.Script, error)

	CreateRun(ctx context.Context, missionID, scriptID string) (*domain.Run, error)
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	ListRuns(ctx context.Context, missionID string, limit int) ([]*domain.Run, error)

	AddEvent(ctx context.Context, runID string, kind domain.EventKind, payload string) error
	ListEvents(ctx context.Context, runID string, limit int) ([]*domain.Event, error)
}
