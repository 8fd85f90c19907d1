package lock

import (
	"context"
	"errors"
	"testing"
)

type fakeLocker struct {
	lockErr, unlockErr error
	locked, unlocked   []string
}

func (f *fakeLocker) Lock(ctx context.Context, instruments []string) error {
	f.locked = instruments
	return f.lockErr
}

func (f *fakeLocker) Unlock(ctx context.Context, instruments []string) error {
	f.unlocked = instruments
	return f.unlockErr
}

func TestWithInstrumentsHappyPath(t *testing.T) {
	locker := &fakeLocker{}
	var events []string
	addEvent := func(kind, payload string) error {
		events = append(events, kind+":"+payload)
		return nil
	}

	ran := false
	err := WithInstruments(context.Background(), locker, addEvent, []string{"CTDPF", "DOSTA"}, func() error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("fn was not invoked")
	}
	want := []string{"lock:CTDPF\nDOSTA", "unlock:CTDPF\nDOSTA"}
	if len(events) != 2 || events[0] != want[0] || events[1] != want[1] {
		t.Fatalf("events = %v, want %v", events, want)
	}
}

func TestWithInstrumentsReleasesOnBodyError(t *testing.T) {
	locker := &fakeLocker{}
	bodyErr := errors.New("step failed")

	err := WithInstruments(context.Background(), locker, nil, []string{"CTDPF"}, func() error {
		return bodyErr
	})
	if !errors.Is(err, bodyErr) {
		t.Fatalf("err = %v, want %v", err, bodyErr)
	}
	if len(locker.unlocked) != 1 {
		t.Fatal("unlock was not called after body error")
	}
}

func TestWithInstrumentsLockFailureSkipsBody(t *testing.T) {
	locker := &fakeLocker{lockErr: errors.New("409")}
	ran := false

	err := WithInstruments(context.Background(), locker, nil, []string{"CTDPF"}, func() error {
		ran = true
		return nil
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if ran {
		t.Fatal("fn should not run when lock acquisition fails")
	}
}
