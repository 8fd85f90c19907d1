package mission

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/fleetops/missionctl/internal/domain"
)

// Versions lists every script version recorded for id, oldest first.
func (s *Server) Versions(ctx context.Context, id string) ([]*domain.Script, error) {
	if _, err := s.handleFor(id); err != nil {
		return nil, err
	}
	return s.store.ListScriptVersions(ctx, id)
}

// GetVersion returns one specific script version of id by its script id,
// as Versions enumerates them.
func (s *Server) GetVersion(ctx context.Context, id, scriptID string) (*domain.Script, error) {
	if _, err := s.handleFor(id); err != nil {
		return nil, err
	}
	sc, err := s.store.GetScript(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	if sc.MissionID != id {
		return nil, ErrNotFound
	}
	return sc, nil
}

// SetVersion repoints id's current script at an already-recorded script id
// and reloads its runtime tree. The mission is re-armed under the new
// tree's schedule if it was active.
func (s *Server) SetVersion(ctx context.Context, id, scriptID string) (*Detail, error) {
	h, err := s.handleFor(id)
	if err != nil {
		return nil, err
	}

	sc, err := s.store.GetScript(ctx, scriptID)
	if err != nil {
		return nil, err
	}
	if sc.MissionID != id {
		return nil, ErrNotFound
	}

	var tree domain.MissionTree
	if err := yaml.Unmarshal([]byte(sc.Body), &tree); err != nil {
		return nil, fmt.Errorf("decode mission tree: %w", err)
	}

	if err := s.store.SetMissionScript(ctx, id, sc.ID); err != nil {
		return nil, fmt.Errorf("set mission script: %w", err)
	}

	h.mu.Lock()
	wasActive := h.mission.Active
	h.mu.Unlock()

	if wasActive {
		s.disarm(h)
	}
	h.mu.Lock()
	h.script = sc
	h.tree = &tree
	h.mission.ScriptID = sc.ID
	h.mu.Unlock()
	if wasActive {
		s.arm(h)
	}

	return s.detail(ctx, h)
}

// Runs returns the limit most recent runs of id, or all of them when
// limit <= 0.
func (s *Server) Runs(ctx context.Context, id string, limit int) ([]*domain.Run, error) {
	if _, err := s.handleFor(id); err != nil {
		return nil, err
	}
	return s.store.ListRuns(ctx, id, limit)
}

// maxRunEventsReturned bounds the GET .../runs/{r} route to the run's
// first 10 events.
const maxRunEventsReturned = 10

// GetRun returns one run of id along with the first events of its event
// log, capped at maxRunEventsReturned.
func (s *Server) GetRun(ctx context.Context, id, runID string) (*domain.Run, []EventView, error) {
	if _, err := s.handleFor(id); err != nil {
		return nil, nil, err
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if run.MissionID != id {
		return nil, nil, ErrNotFound
	}

	raw, err := s.store.ListEvents(ctx, runID, maxRunEventsReturned)
	if err != nil {
		return nil, nil, fmt.Errorf("list run events: %w", err)
	}
	events := make([]EventView, 0, len(raw))
	for _, e := range raw {
		events = append(events, EventView{Timestamp: e.Timestamp, Type: string(e.Kind), Payload: e.Payload})
	}
	return run, events, nil
}
