package mission

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetops/missionctl/internal/domain"
	"github.com/fleetops/missionctl/internal/logging"
	"github.com/fleetops/missionctl/internal/triggers"
)

// Activate arms id's schedule and marks it active. Activating an
// already-active mission is a no-op.
func (s *Server) Activate(ctx context.Context, id string) (*Detail, error) {
	h, err := s.handleFor(id)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	already := h.mission.Active
	h.mu.Unlock()
	if already {
		return s.detail(ctx, h)
	}

	if err := s.store.SetMissionActive(ctx, id, true); err != nil {
		return nil, fmt.Errorf("activate mission: %w", err)
	}
	h.mu.Lock()
	h.mission.Active = true
	h.mu.Unlock()

	s.arm(h)
	return s.detail(ctx, h)
}

// Deactivate disarms id's schedule and marks it inactive. A run already in
// flight finishes; only future fires are removed.
func (s *Server) Deactivate(ctx context.Context, id string) (*Detail, error) {
	h, err := s.handleFor(id)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	active := h.mission.Active
	h.mu.Unlock()
	if !active {
		return s.detail(ctx, h)
	}

	if err := s.store.SetMissionActive(ctx, id, false); err != nil {
		return nil, fmt.Errorf("deactivate mission: %w", err)
	}
	h.mu.Lock()
	h.mission.Active = false
	h.mu.Unlock()

	s.disarm(h)
	return s.detail(ctx, h)
}

// Delete disarms id, soft-deletes it in the store, and drops its runtime
// handle. Run history for the mission remains queryable via the store.
func (s *Server) Delete(ctx context.Context, id string) error {
	h, err := s.handleFor(id)
	if err != nil {
		return err
	}

	s.disarm(h)
	if err := s.store.DeleteMission(ctx, id); err != nil {
		return fmt.Errorf("delete mission: %w", err)
	}

	s.mu.Lock()
	delete(s.handles, id)
	s.mu.Unlock()
	return nil
}

// arm registers h's scheduler entry or event subscription according to its
// tree's schedule directive: cron fields make a recurring entry, a
// {source, event} pair makes a router subscription, and anything else is a
// one-shot date fire (immediately when no run_date was given).
func (s *Server) arm(h *handle) {
	h.mu.Lock()
	jobID := h.mission.Name
	sched := h.tree.Schedule
	h.mu.Unlock()

	job := func(ctx context.Context) error { return s.runMission(ctx, h) }

	switch {
	case sched != nil && sched.Kind == domain.ScheduleCron:
		if err := s.scheduler.AddCron(jobID, sched.Cron, job); err != nil {
			logging.Op().Error("arm cron schedule failed", "mission", jobID, "error", err)
		}
	case sched != nil && sched.Kind == domain.ScheduleEvent:
		sub := s.router.Subscribe(func(msg triggers.Message) {
			if msg.Source == sched.EventSource && msg.Event == sched.EventName {
				logging.Op().Debug("scheduling mission to run immediately", "mission", jobID)
				s.scheduler.FireNow(jobID, job)
			}
		})
		h.mu.Lock()
		h.sub = &sub
		h.mu.Unlock()
	default:
		runAt := time.Time{}
		if sched != nil && sched.Kind == domain.ScheduleDate {
			runAt = sched.RunDate
		}
		s.scheduler.AddDate(jobID, runAt, job)
	}
}

// disarm removes whatever scheduler entry or event subscription arm
// installed for h.
func (s *Server) disarm(h *handle) {
	h.mu.Lock()
	jobID := h.mission.Name
	sub := h.sub
	h.sub = nil
	h.mu.Unlock()

	s.scheduler.Remove(jobID)
	if sub != nil {
		s.router.Unsubscribe(*sub)
	}
}

// runMission executes h's mission block once, tracking running/current-step
// state for status projections, and self-deactivates afterward if the
// schedule is one-shot (a date fire or no schedule at all).
func (s *Server) runMission(ctx context.Context, h *handle) error {
	h.mu.Lock()
	h.running = true
	mission := h.mission
	tree := h.tree
	interp := h.interp
	h.mu.Unlock()

	onStep := func(step *domain.Step) {
		h.mu.Lock()
		h.curStep = step
		h.mu.Unlock()
	}

	_, err := interp.Execute(ctx, mission.ID, mission.ScriptID, tree, onStep)

	h.mu.Lock()
	h.running = false
	h.curStep = nil
	h.runCount++
	oneShot := tree.Schedule.IsOneShot()
	h.mu.Unlock()

	if err != nil {
		logging.Op().Error("mission run failed", "mission", mission.Name, "error", err)
	}

	if oneShot {
		if deactivateErr := s.store.SetMissionActive(ctx, mission.ID, false); deactivateErr != nil {
			logging.Op().Error("auto-deactivate after one-shot run failed", "mission", mission.Name, "error", deactivateErr)
		} else {
			h.mu.Lock()
			h.mission.Active = false
			h.mu.Unlock()
		}
	}
	return err
}
