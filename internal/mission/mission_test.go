package mission

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fleetops/missionctl/internal/config"
	"github.com/fleetops/missionctl/internal/scheduler"
	"github.com/fleetops/missionctl/internal/triggers"
)

const validMissionYAML = `
name: sample
desc: a sample mission
version: "1"
drivers: [CTDPF]
blocks:
  - label: mission
    sequence:
      - sleep: 1
`

func newTestServer(t *testing.T) *Server {
	t.Helper()
	sched := scheduler.New()
	t.Cleanup(sched.Stop)
	router := triggers.NewRouter()
	return New(newFakeStore(), config.InstrumentConfig{Host: "localhost", Port: 12572}, sched, router)
}

func TestCreateRejectsInvalidYAML(t *testing.T) {
	s := newTestServer(t)
	_, err := s.Create(context.Background(), "not: valid: yaml: [")
	if err == nil {
		t.Fatal("expected an error for malformed yaml")
	}
}

func TestCreateRejectsSchemaInvalidDocument(t *testing.T) {
	s := newTestServer(t)
	_, err := s.Create(context.Background(), "name: sample\n")
	if err == nil {
		t.Fatal("expected a schema validation error for a missing required field")
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	detail, err := s.Create(ctx, validMissionYAML)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if detail.Name != "sample" {
		t.Fatalf("Name = %q, want sample", detail.Name)
	}
	if detail.Active {
		t.Fatal("a newly created mission should start inactive")
	}
	if !strings.Contains(detail.Script, "sleep: 1") {
		t.Fatalf("Script = %q, want it to contain the original body", detail.Script)
	}

	got, err := s.Get(ctx, detail.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != detail.ID {
		t.Fatalf("Get returned a different mission: %+v", got)
	}
}

func TestProjectionCarriesScheduleDocument(t *testing.T) {
	s := newTestServer(t)

	detail, err := s.Create(context.Background(), `
name: cron-sample
desc: fires every minute
version: "1"
drivers: [CTDPF]
schedule:
  minute: "*"
blocks:
  - label: mission
    sequence:
      - sleep: 1
`)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	sched, ok := detail.Schedule.(map[string]interface{})
	if !ok {
		t.Fatalf("Schedule = %T(%v), want the schedule document itself", detail.Schedule, detail.Schedule)
	}
	if sched["minute"] != "*" {
		t.Fatalf("Schedule = %v, want it to carry the cron fields", sched)
	}
}

func TestGetUnknownMissionIsNotFound(t *testing.T) {
	s := newTestServer(t)
	if _, err := s.Get(context.Background(), "does-not-exist"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListFiltersByState(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	detail, err := s.Create(ctx, validMissionYAML)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	active, err := s.List(ctx, "active")
	if err != nil {
		t.Fatalf("List(active): %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("List(active) = %d missions, want 0 before activation", len(active))
	}

	inactive, err := s.List(ctx, "inactive")
	if err != nil {
		t.Fatalf("List(inactive): %v", err)
	}
	if len(inactive) != 1 || inactive[0].ID != detail.ID {
		t.Fatalf("List(inactive) = %+v, want just %s", inactive, detail.ID)
	}
}

func TestActivateDeactivateRoundTrip(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	detail, err := s.Create(ctx, validMissionYAML)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	activated, err := s.Activate(ctx, detail.ID)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !activated.Active {
		t.Fatal("mission should be active after Activate")
	}

	deactivated, err := s.Deactivate(ctx, detail.ID)
	if err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if deactivated.Active {
		t.Fatal("mission should be inactive after Deactivate")
	}
}

func TestActivateOneShotMissionSelfDeactivatesAfterRun(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	detail, err := s.Create(ctx, validMissionYAML)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// No schedule directive means a one-shot immediate fire on activation;
	// after the run finishes (however it ends) the mission must drop back
	// to inactive on its own.
	if _, err := s.Activate(ctx, detail.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := s.Get(ctx, detail.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !got.Active && !got.Running {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("mission still active=%v running=%v after one-shot run", got.Active, got.Running)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDeleteRemovesMissionFromRegistry(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	detail, err := s.Create(ctx, validMissionYAML)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.Delete(ctx, detail.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, detail.ID); err != ErrNotFound {
		t.Fatalf("Get after Delete = %v, want ErrNotFound", err)
	}
}
