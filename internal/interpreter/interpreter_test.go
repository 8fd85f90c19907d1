package interpreter

import (
	"context"
	"errors"
	"testing"

	"github.com/fleetops/missionctl/internal/domain"
	"github.com/fleetops/missionctl/internal/executor"
)

type fakeCommander struct {
	pingErr   error
	pingCalls int
	getState  *executor.Response
}

func (f *fakeCommander) Execute(ctx context.Context, target, command string, kwargs map[string]interface{}, timeout float64) (*executor.Response, error) {
	return &executor.Response{Cmd: command}, nil
}
func (f *fakeCommander) Reset(ctx context.Context, target string, timeout float64) (*executor.Response, error) {
	return &executor.Response{}, nil
}
func (f *fakeCommander) Ping(ctx context.Context, target string, timeout float64) (*executor.Response, error) {
	f.pingCalls++
	if f.pingErr != nil {
		return nil, f.pingErr
	}
	return &executor.Response{}, nil
}
func (f *fakeCommander) Discover(ctx context.Context, target string, timeout float64) (*executor.Response, error) {
	return &executor.Response{}, nil
}
func (f *fakeCommander) GetState(ctx context.Context, target string, timeout float64) (*executor.Response, error) {
	if f.getState != nil {
		return f.getState, nil
	}
	return &executor.Response{Value: "COMMAND"}, nil
}
func (f *fakeCommander) GetResource(ctx context.Context, target, parameter string, timeout float64) (*executor.Response, error) {
	return &executor.Response{Value: "42"}, nil
}
func (f *fakeCommander) SetResource(ctx context.Context, target, parameter string, value interface{}, timeout float64) (*executor.Response, error) {
	return &executor.Response{}, nil
}
func (f *fakeCommander) Disconnect(ctx context.Context, target string, timeout float64) (*executor.Response, error) {
	return &executor.Response{}, nil
}
func (f *fakeCommander) Connect(ctx context.Context, target string, timeout float64) (*executor.Response, error) {
	return &executor.Response{}, nil
}
func (f *fakeCommander) SetInitParams(ctx context.Context, target string, config map[string]interface{}, timeout float64) (*executor.Response, error) {
	return &executor.Response{}, nil
}
func (f *fakeCommander) Configure(ctx context.Context, target string, config map[string]interface{}, timeout float64) (*executor.Response, error) {
	return &executor.Response{}, nil
}

type fakeLocker struct {
	lockErr   error
	failures  int
	lockCalls int
}

func (f *fakeLocker) Lock(ctx context.Context, instruments []string) error {
	f.lockCalls++
	if f.failures > 0 {
		f.failures--
		return errors.New("409 conflict")
	}
	return f.lockErr
}
func (f *fakeLocker) Unlock(ctx context.Context, instruments []string) error { return nil }

type recordedEvent struct {
	kind    domain.EventKind
	payload string
}

type fakeStore struct {
	events []recordedEvent
}

func (f *fakeStore) CreateRun(ctx context.Context, missionID, scriptID string) (*domain.Run, error) {
	return &domain.Run{ID: "run-1", MissionID: missionID, ScriptID: scriptID}, nil
}
func (f *fakeStore) AddEvent(ctx context.Context, runID string, kind domain.EventKind, payload string) error {
	f.events = append(f.events, recordedEvent{kind, payload})
	return nil
}

func simpleTree(steps ...domain.Step) *domain.MissionTree {
	return &domain.MissionTree{
		Name:    "test-mission",
		Drivers: []string{"CTDPF"},
		Blocks: []domain.Block{
			{Label: domain.MissionBlockLabel, Sequence: steps},
		},
	}
}

func TestExecuteHappyPathEmitsLifecycleEvents(t *testing.T) {
	cmd := &fakeCommander{}
	locker := &fakeLocker{}
	store := &fakeStore{}
	ip := New(cmd, locker, store)

	tree := simpleTree(domain.Step{Kind: domain.StepPing, Target: "CTDPF"})

	runID, err := ip.Execute(context.Background(), "m1", "s1", tree, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runID != "run-1" {
		t.Fatalf("runID = %q", runID)
	}

	kinds := make([]domain.EventKind, len(store.events))
	for i, e := range store.events {
		kinds[i] = e.kind
	}
	want := []domain.EventKind{
		domain.EventStart, domain.EventLock, domain.EventStep, domain.EventResult,
		domain.EventUnlock, domain.EventCompletion,
	}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("events[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
}

func TestExecuteGetStateStoresVariable(t *testing.T) {
	cmd := &fakeCommander{getState: &executor.Response{Value: "COMMAND"}}
	ip := New(cmd, &fakeLocker{}, &fakeStore{})

	var lastStep *domain.Step
	tree := simpleTree(
		domain.Step{Kind: domain.StepGetState, Target: "CTDPF"},
		domain.Step{
			Kind:      domain.StepBlock,
			BlockName: "noop",
			Condition: &domain.Condition{Variable: "driver_state", Value: "COMMAND", Comparator: "equal"},
		},
	)
	tree.Blocks = append(tree.Blocks, domain.Block{Label: "noop", Sequence: []domain.Step{
		{Kind: domain.StepPing, Target: "CTDPF"},
	}})

	_, err := ip.Execute(context.Background(), "m1", "s1", tree, func(s *domain.Step) { lastStep = s })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.pingCalls != 1 {
		t.Fatalf("expected the conditional block to run once (ping called), got %d calls", cmd.pingCalls)
	}
	_ = lastStep
}

func TestExecuteAbortPolicyStopsOnFirstFailure(t *testing.T) {
	cmd := &fakeCommander{pingErr: errors.New("boom")}
	store := &fakeStore{}
	ip := New(cmd, &fakeLocker{}, store)

	tree := simpleTree(domain.Step{Kind: domain.StepPing, Target: "CTDPF"})
	tree.OnError = &domain.PolicySpec{Type: string(domain.PolicyAbort)}

	if _, err := ip.Execute(context.Background(), "m1", "s1", tree, nil); err != nil {
		t.Fatalf("Execute itself should not return the step error: %v", err)
	}
	if cmd.pingCalls != 1 {
		t.Fatalf("abort should not retry, got %d calls", cmd.pingCalls)
	}

	found := false
	for _, e := range store.events {
		if e.kind == domain.EventException {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an exception event to be recorded")
	}
}

func TestStepPolicyOverridesBlockAndMissionRetry(t *testing.T) {
	cmd := &fakeCommander{pingErr: errors.New("boom")}
	ip := New(cmd, &fakeLocker{}, &fakeStore{})

	tree := simpleTree(domain.Step{
		Kind:    domain.StepPing,
		Target:  "CTDPF",
		OnError: &domain.PolicySpec{Type: string(domain.PolicyAbort)},
	})
	tree.Blocks[0].OnError = &domain.PolicySpec{Type: string(domain.PolicyRetry), Count: intp(3), Backoff: intp(0)}
	tree.OnError = &domain.PolicySpec{Type: string(domain.PolicyRetry), Count: intp(5), Backoff: intp(0)}

	ip.Execute(context.Background(), "m1", "s1", tree, nil)
	if cmd.pingCalls != 1 {
		t.Fatalf("step-level abort should win over block/mission retry, got %d attempts", cmd.pingCalls)
	}
}

func TestExecuteRetryPolicyRetriesStep(t *testing.T) {
	cmd := &fakeCommander{pingErr: errors.New("boom")}
	ip := New(cmd, &fakeLocker{}, &fakeStore{})

	tree := simpleTree(domain.Step{
		Kind:   domain.StepPing,
		Target: "CTDPF",
		OnError: &domain.PolicySpec{
			Type:    string(domain.PolicyRetry),
			Count:   intp(3),
			Backoff: intp(0),
		},
	})

	ip.Execute(context.Background(), "m1", "s1", tree, nil)
	if cmd.pingCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", cmd.pingCalls)
	}
}

func TestExecuteLockFailureRecordsExceptionWithoutRunningBody(t *testing.T) {
	cmd := &fakeCommander{}
	locker := &fakeLocker{lockErr: errors.New("409")}
	store := &fakeStore{}
	ip := New(cmd, locker, store)

	tree := simpleTree(domain.Step{Kind: domain.StepPing, Target: "CTDPF"})

	ip.Execute(context.Background(), "m1", "s1", tree, nil)
	if cmd.pingCalls != 0 {
		t.Fatal("body should not run when lock acquisition fails")
	}
	kinds := make([]domain.EventKind, len(store.events))
	for i, e := range store.events {
		kinds[i] = e.kind
	}
	want := []domain.EventKind{domain.EventStart, domain.EventException, domain.EventCompletion}
	if len(kinds) != len(want) || kinds[0] != want[0] || kinds[1] != want[1] || kinds[2] != want[2] {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
}

func TestExecuteMissionRetryRecoversFromTransientLockConflict(t *testing.T) {
	cmd := &fakeCommander{}
	locker := &fakeLocker{failures: 1}
	store := &fakeStore{}
	ip := New(cmd, locker, store)

	tree := simpleTree(domain.Step{Kind: domain.StepPing, Target: "CTDPF"})
	tree.OnError = &domain.PolicySpec{Type: string(domain.PolicyRetry), Count: intp(2), Backoff: intp(0)}

	if _, err := ip.Execute(context.Background(), "m1", "s1", tree, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if locker.lockCalls != 2 {
		t.Fatalf("lockCalls = %d, want 2 (one conflict, one success)", locker.lockCalls)
	}
	if cmd.pingCalls != 1 {
		t.Fatalf("body should run exactly once, got %d ping calls", cmd.pingCalls)
	}

	kinds := make([]domain.EventKind, len(store.events))
	for i, e := range store.events {
		kinds[i] = e.kind
	}
	want := []domain.EventKind{
		domain.EventStart, domain.EventLock, domain.EventStep, domain.EventResult,
		domain.EventUnlock, domain.EventCompletion,
	}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("events[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
}

func intp(n int) *int { return &n }
