package mission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fleetops/missionctl/internal/domain"
	"github.com/fleetops/missionctl/internal/store"
)

// fakeStore is an in-memory store.MissionStore for exercising internal/mission
// without a Postgres instance, in the style of internal/lock's fakeLocker.
type fakeStore struct {
	mu sync.Mutex

	missions map[string]*domain.Mission
	byName   map[string]string
	scripts  map[string]*domain.Script
	runs     map[string]*domain.Run
	events   map[string][]*domain.Event

	seq int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		missions: make(map[string]*domain.Mission),
		byName:   make(map[string]string),
		scripts:  make(map[string]*domain.Script),
		runs:     make(map[string]*domain.Run),
		events:   make(map[string][]*domain.Event),
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeStore) Close() error                   { return nil }
func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) GetOrCreateMission(ctx context.Context, name string) (*domain.Mission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byName[name]; ok {
		return f.missions[id], nil
	}
	m := &domain.Mission{ID: f.nextID("mission"), Name: name, CreatedAt: time.Now()}
	f.missions[m.ID] = m
	f.byName[name] = m.ID
	return m, nil
}

func (f *fakeStore) GetMission(ctx context.Context, id string) (*domain.Mission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.missions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m, nil
}

func (f *fakeStore) GetMissionByName(ctx context.Context, name string) (*domain.Mission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byName[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return f.missions[id], nil
}

func (f *fakeStore) ListMissions(ctx context.Context, archived bool) ([]*domain.Mission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Mission
	for _, m := range f.missions {
		if archived == (m.ScriptID == "") {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) SetMissionActive(ctx context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.missions[id]
	if !ok {
		return store.ErrNotFound
	}
	m.Active = active
	return nil
}

func (f *fakeStore) SetMissionScript(ctx context.Context, id, scriptID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.missions[id]
	if !ok {
		return store.ErrNotFound
	}
	m.ScriptID = scriptID
	return nil
}

func (f *fakeStore) DeleteMission(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.missions[id]
	if !ok {
		return store.ErrNotFound
	}
	m.ScriptID = ""
	m.Active = false
	return nil
}

func (f *fakeStore) CreateScript(ctx context.Context, missionID, name, version, body string) (*domain.Script, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sc := range f.scripts {
		if sc.MissionID == missionID && sc.Version == version {
			if sc.Body != body {
				return nil, store.ErrDuplicateScript
			}
			return sc, nil
		}
	}
	sc := &domain.Script{ID: f.nextID("script"), MissionID: missionID, Name: name, Version: version, Body: body, CreateTime: time.Now()}
	f.scripts[sc.ID] = sc
	return sc, nil
}

func (f *fakeStore) GetScript(ctx context.Context, id string) (*domain.Script, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sc, ok := f.scripts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return sc, nil
}

func (f *fakeStore) GetScriptVersion(ctx context.Context, missionID, version string) (*domain.Script, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sc := range f.scripts {
		if sc.MissionID == missionID && sc.Version == version {
			return sc, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) ListScriptVersions(ctx context.Context, missionID string) ([]*domain.Script, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Script
	for _, sc := range f.scripts {
		if sc.MissionID == missionID {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateRun(ctx context.Context, missionID, scriptID string) (*domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &domain.Run{ID: f.nextID("run"), MissionID: missionID, ScriptID: scriptID, StartedAt: time.Now()}
	f.runs[r.ID] = r
	return r, nil
}

func (f *fakeStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) ListRuns(ctx context.Context, missionID string, limit int) ([]*domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Run
	for _, r := range f.runs {
		if r.MissionID == missionID {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) AddEvent(ctx context.Context, runID string, kind domain.EventKind, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.runs[runID]; !ok {
		return store.ErrNotFound
	}
	f.events[runID] = append(f.events[runID], &domain.Event{
		ID: f.nextID("event"), RunID: runID, Timestamp: time.Now(), Kind: kind, Payload: payload,
	})
	return nil
}

func (f *fakeStore) ListEvents(ctx context.Context, runID string, limit int) ([]*domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	evs := f.events[runID]
	if limit > 0 && len(evs) > limit {
		evs = evs[:limit]
	}
	return evs, nil
}

var _ store.MissionStore = (*fakeStore)(nil)
