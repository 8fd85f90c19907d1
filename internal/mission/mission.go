// Package mission is the in-process runtime for missions: it owns the
// registry of loaded script trees, wires each mission's executor client
// and interpreter, and arms/disarms its schedule trigger. A single Server
// value holds the registry and the shared scheduler and trigger router, so
// schedule subscriptions have one owner with a matching detach for every
// attach.
package mission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fleetops/missionctl/internal/config"
	"github.com/fleetops/missionctl/internal/domain"
	"github.com/fleetops/missionctl/internal/executor"
	"github.com/fleetops/missionctl/internal/interpreter"
	"github.com/fleetops/missionctl/internal/logging"
	"github.com/fleetops/missionctl/internal/scheduler"
	"github.com/fleetops/missionctl/internal/schema"
	"github.com/fleetops/missionctl/internal/store"
	"github.com/fleetops/missionctl/internal/triggers"
)

// ErrNotFound is returned for any lookup by mission id that matches nothing.
var ErrNotFound = store.ErrNotFound

// ErrDuplicateScript is returned when a (mission, version) pair already
// exists with a different body.
var ErrDuplicateScript = store.ErrDuplicateScript

// Summary is the small projection returned in mission listings.
type Summary struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Desc        string     `json:"desc"`
	Active      bool       `json:"active"`
	Running     bool       `json:"running"`
	CurrentStep string     `json:"current_step,omitempty"`
	RunCount    int        `json:"run_count"`
	Schedule    any        `json:"schedule,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	Created     time.Time  `json:"created"`
}

// Detail is the full projection: the small projection plus the current
// script body and the most recent run's first events.
type Detail struct {
	Summary
	Script string      `json:"script"`
	Events []EventView `json:"events"`
}

// EventView is one run event rendered for the API as a
// (timestamp, type, payload) tuple.
type EventView struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Payload   string    `json:"payload"`
}

// handle is the live runtime state for one loaded mission: its decoded
// tree and the wired executor/interpreter/lock/schedule subscription.
type handle struct {
	mu sync.Mutex

	mission *domain.Mission
	script  *domain.Script
	tree    *domain.MissionTree

	client *executor.Client
	interp *interpreter.Interpreter

	sub      *triggers.Subscription
	running  bool
	curStep  *domain.Step
	runCount int
}

// Server is the mission runtime: registry plus the shared scheduler and
// trigger router every mission's schedule attaches to.
type Server struct {
	store      store.MissionStore
	instrument config.InstrumentConfig
	scheduler  *scheduler.Scheduler
	router     *triggers.Router

	mu      sync.RWMutex
	handles map[string]*handle
}

// New builds a Server over the given store, instrument address, scheduler,
// and trigger router. Call Bootstrap to load and re-arm existing missions.
func New(st store.MissionStore, instrument config.InstrumentConfig, sched *scheduler.Scheduler, router *triggers.Router) *Server {
	return &Server{
		store:      st,
		instrument: instrument,
		scheduler:  sched,
		router:     router,
		handles:    make(map[string]*handle),
	}
}

// Bootstrap loads every live (non-archived) mission from the store,
// decodes its current script, and re-arms the ones marked active, so a
// restart resumes the schedules that were armed when the process stopped.
func (s *Server) Bootstrap(ctx context.Context) error {
	missions, err := s.store.ListMissions(ctx, false)
	if err != nil {
		return fmt.Errorf("bootstrap: list missions: %w", err)
	}

	for _, m := range missions {
		h, err := s.loadHandle(ctx, m)
		if err != nil {
			logging.Op().Error("bootstrap: skipping mission", "mission", m.Name, "error", err)
			continue
		}
		s.mu.Lock()
		s.handles[m.ID] = h
		s.mu.Unlock()

		if m.Active {
			s.arm(h)
		}
	}
	return nil
}

// loadHandle builds the runtime handle for a mission whose current script
// is already known, decoding its YAML tree and constructing the
// instrument client, interpreter, and lock wiring scoped to that mission.
func (s *Server) loadHandle(ctx context.Context, m *domain.Mission) (*handle, error) {
	if m.ScriptID == "" {
		return nil, fmt.Errorf("mission %s has no current script", m.Name)
	}
	sc, err := s.store.GetScript(ctx, m.ScriptID)
	if err != nil {
		return nil, fmt.Errorf("load script %s: %w", m.ScriptID, err)
	}

	var tree domain.MissionTree
	if err := yaml.Unmarshal([]byte(sc.Body), &tree); err != nil {
		return nil, fmt.Errorf("decode mission tree: %w", err)
	}

	client := executor.New(executor.Config{
		Host:           s.instrument.Host,
		Port:           s.instrument.Port,
		RequestTimeout: time.Duration(s.instrument.RequestTimeoutSecs) * time.Second,
	}, m.Name)

	h := &handle{mission: m, script: sc, tree: &tree, client: client}
	h.interp = interpreter.New(client, client, runStoreAdapter{s.store})
	return h, nil
}

// runStoreAdapter narrows store.MissionStore to interpreter.RunStore.
type runStoreAdapter struct{ st store.MissionStore }

func (a runStoreAdapter) CreateRun(ctx context.Context, missionID, scriptID string) (*domain.Run, error) {
	return a.st.CreateRun(ctx, missionID, scriptID)
}

func (a runStoreAdapter) AddEvent(ctx context.Context, runID string, kind domain.EventKind, payload string) error {
	return a.st.AddEvent(ctx, runID, kind, payload)
}

// Create validates body as a mission YAML document, stores it as a new
// script version (reusing the existing one if byte-identical, per
// ErrDuplicateScript semantics), and loads the runtime handle.
func (s *Server) Create(ctx context.Context, body string) (*Detail, error) {
	name, version, err := decodeAndValidate(body)
	if err != nil {
		return nil, err
	}

	m, err := s.store.GetOrCreateMission(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get or create mission: %w", err)
	}

	sc, err := s.store.CreateScript(ctx, m.ID, name, version, body)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetMissionScript(ctx, m.ID, sc.ID); err != nil {
		return nil, fmt.Errorf("set mission script: %w", err)
	}
	m.ScriptID = sc.ID

	h, err := s.loadHandle(ctx, m)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.handles[m.ID] = h
	s.mu.Unlock()

	return s.Get(ctx, m.ID)
}

// decodeAndValidate parses body as YAML, runs it through the mission
// schema, and returns its name/version.
func decodeAndValidate(body string) (string, string, error) {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(body), &doc); err != nil {
		return "", "", fmt.Errorf("parse mission yaml: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return "", "", fmt.Errorf("validate mission schema: %w", err)
	}
	name, _ := doc["name"].(string)
	version, _ := doc["version"].(string)
	if name == "" || version == "" {
		return "", "", fmt.Errorf("mission document missing name or version")
	}
	return name, version, nil
}

// Get returns the full projection for id.
func (s *Server) Get(ctx context.Context, id string) (*Detail, error) {
	h, err := s.handleFor(id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, h)
}

// List returns summaries filtered by state: "" (all live), "active",
// "inactive", or "archived" (soft-deleted missions).
func (s *Server) List(ctx context.Context, state string) ([]*Summary, error) {
	if state == "archived" {
		missions, err := s.store.ListMissions(ctx, true)
		if err != nil {
			return nil, fmt.Errorf("list archived missions: %w", err)
		}
		out := make([]*Summary, 0, len(missions))
		for _, m := range missions {
			out = append(out, s.summaryOf(m, nil))
		}
		return out, nil
	}

	s.mu.RLock()
	handles := make([]*handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	out := make([]*Summary, 0, len(handles))
	for _, h := range handles {
		h.mu.Lock()
		active := h.mission.Active
		h.mu.Unlock()
		switch state {
		case "active":
			if !active {
				continue
			}
		case "inactive":
			if active {
				continue
			}
		}
		out = append(out, s.summary(h))
	}
	return out, nil
}

func (s *Server) handleFor(id string) (*handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return h, nil
}

func (s *Server) summaryOf(m *domain.Mission, tree *domain.MissionTree) *Summary {
	sum := &Summary{
		ID:      m.ID,
		Name:    m.Name,
		Active:  m.Active,
		Created: m.CreatedAt,
	}
	if tree != nil {
		sum.Version = tree.Version
		sum.Desc = tree.Desc
	}
	return sum
}

func (s *Server) summary(h *handle) *Summary {
	h.mu.Lock()
	defer h.mu.Unlock()

	sum := s.summaryOf(h.mission, h.tree)
	sum.Running = h.running
	sum.RunCount = h.runCount
	if h.curStep != nil {
		sum.CurrentStep = string(h.curStep.Kind)
	}
	if h.tree.Schedule != nil {
		if raw := h.tree.Schedule.Raw(); raw != nil {
			sum.Schedule = raw
		} else {
			sum.Schedule = h.tree.Schedule.Kind
		}
	}
	if next, ok := s.scheduler.NextRun(h.mission.Name); ok {
		sum.NextRun = &next
	}
	return sum
}

func (s *Server) detail(ctx context.Context, h *handle) (*Detail, error) {
	sum := s.summary(h)

	h.mu.Lock()
	scriptBody := h.script.Body
	missionID := h.mission.ID
	h.mu.Unlock()

	runs, err := s.store.ListRuns(ctx, missionID, 1)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	var events []EventView
	if len(runs) > 0 {
		raw, err := s.store.ListEvents(ctx, runs[0].ID, 10)
		if err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		for _, e := range raw {
			events = append(events, EventView{Timestamp: e.Timestamp, Type: string(e.Kind), Payload: e.Payload})
		}
	}

	return &Detail{Summary: *sum, Script: scriptBody, Events: events}, nil
}
