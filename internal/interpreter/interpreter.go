// Package interpreter runs a mission's decoded block tree against the
// instrument-control executor. It owns the variables
// table a run accumulates across steps and the retry/condition engine
// that drives block and step dispatch.
package interpreter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fleetops/missionctl/internal/domain"
	"github.com/fleetops/missionctl/internal/executor"
	"github.com/fleetops/missionctl/internal/lock"
	"github.com/fleetops/missionctl/internal/policy"
)

// Commander is the instrument-control surface the interpreter drives.
// *executor.Client satisfies this.
type Commander interface {
	Execute(ctx context.Context, target, command string, kwargs map[string]interface{}, timeout float64) (*executor.Response, error)
	Reset(ctx context.Context, target string, timeout float64) (*executor.Response, error)
	Ping(ctx context.Context, target string, timeout float64) (*executor.Response, error)
	Discover(ctx context.Context, target string, timeout float64) (*executor.Response, error)
	GetState(ctx context.Context, target string, timeout float64) (*executor.Response, error)
	GetResource(ctx context.Context, target, parameter string, timeout float64) (*executor.Response, error)
	SetResource(ctx context.Context, target, parameter string, value interface{}, timeout float64) (*executor.Response, error)
	Disconnect(ctx context.Context, target string, timeout float64) (*executor.Response, error)
	Connect(ctx context.Context, target string, timeout float64) (*executor.Response, error)
	SetInitParams(ctx context.Context, target string, config map[string]interface{}, timeout float64) (*executor.Response, error)
	Configure(ctx context.Context, target string, config map[string]interface{}, timeout float64) (*executor.Response, error)
}

// RunStore is the persistence surface a single run needs.
type RunStore interface {
	CreateRun(ctx context.Context, missionID, scriptID string) (*domain.Run, error)
	AddEvent(ctx context.Context, runID string, kind domain.EventKind, payload string) error
}

// Interpreter executes one mission's "mission" block to completion.
type Interpreter struct {
	Commander Commander
	Locker    lock.Locker
	Store     RunStore
}

// New builds an Interpreter over the given instrument client, lock
// acquirer, and persistence layer.
func New(cmd Commander, locker lock.Locker, store RunStore) *Interpreter {
	return &Interpreter{Commander: cmd, Locker: locker, Store: store}
}

// run is the mutable state one mission execution accumulates: the run
// record, the variables table steps read and write, and a callback that
// reports which step is currently executing.
type run struct {
	id     string
	vars   map[string]interface{}
	onStep func(*domain.Step)
}

func (r *run) setCurrentStep(s *domain.Step) {
	if r.onStep != nil {
		r.onStep(s)
	}
}

// Execute runs tree's "mission" block once: creates a Run, emits start,
// acquires the instrument lock, runs the body, releases the lock in all
// paths, and emits completion. onStep, if non-nil,
// is invoked with the step currently executing (and with nil once none is),
// so a caller can project a live "current_step" status.
func (ip *Interpreter) Execute(ctx context.Context, missionID, scriptID string, tree *domain.MissionTree, onStep func(*domain.Step)) (runID string, err error) {
	dbRun, err := ip.Store.CreateRun(ctx, missionID, scriptID)
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	r := &run{id: dbRun.ID, vars: make(map[string]interface{}), onStep: onStep}

	ip.addEvent(ctx, r, domain.EventStart, "")

	if block := tree.Block(domain.MissionBlockLabel); block != nil {
		ip.runMissionBody(ctx, tree, r)
	}

	r.setCurrentStep(nil)
	ip.addEvent(ctx, r, domain.EventCompletion, "")
	return r.id, nil
}

// runMissionBody retries lock acquisition per the mission-level error
// policy; a failure inside the body itself is recorded as an exception and
// is not retried at this layer (only handleStep's own policy retries
// individual steps).
func (ip *Interpreter) runMissionBody(ctx context.Context, tree *domain.MissionTree, r *run) {
	missionPolicy := policy.Evaluate(tree.OnError)
	maxAttempts := max(missionPolicy.Count, 1)
	instruments := tree.Drivers

	addEvent := func(kind, payload string) error {
		return ip.Store.AddEvent(ctx, r.id, domain.EventKind(kind), payload)
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		bodyErr := lock.WithInstruments(ctx, ip.Locker, addEvent, instruments, func() error {
			return ip.executeSequence(ctx, tree, domain.MissionBlockLabel, r)
		})
		if bodyErr == nil {
			return
		}
		if errors.Is(bodyErr, lock.ErrAcquire) && missionPolicy.Action == domain.PolicyRetry && attempt+1 < maxAttempts {
			sleepCtx(ctx, time.Duration(missionPolicy.Backoff)*time.Second)
			continue
		}
		ip.addEvent(ctx, r, domain.EventException, bodyErr.Error())
		return
	}
}

// executeSequence runs every step of the block labeled label in order,
// emitting a step event before each one and a result event after any that
// produce a response.
func (ip *Interpreter) executeSequence(ctx context.Context, tree *domain.MissionTree, label string, r *run) error {
	block := tree.Block(label)
	if block == nil {
		return fmt.Errorf("block %q not found", label)
	}

	for i := range block.Sequence {
		step := &block.Sequence[i]
		r.setCurrentStep(step)

		ip.addEvent(ctx, r, domain.EventStep, encodeEventPayload(step.Raw))

		effective := policy.Resolve(step.OnError, block.OnError, tree.OnError)
		result, err := ip.handleStep(ctx, tree, step, effective, r)
		if err != nil {
			return err
		}
		if result != nil {
			ip.addEvent(ctx, r, domain.EventResult, encodeEventPayload(result))
		}
	}
	return nil
}

// handleStep runs step under its effective policy: up to policy.Count
// attempts, with abort re-raising immediately, continue swallowing the
// error, and any other action (including exhausted retry) resolving to
// ErrPolicy.
func (ip *Interpreter) handleStep(ctx context.Context, tree *domain.MissionTree, step *domain.Step, p policy.Policy, r *run) (*executor.Response, error) {
	attempts := max(p.Count, 1)
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			sleepCtx(ctx, time.Duration(p.Backoff)*time.Second)
		}
		result, err := ip.tryStep(ctx, tree, step, r)
		if err == nil {
			return result, nil
		}
		lastErr = err

		switch p.Action {
		case domain.PolicyAbort:
			return nil, lastErr
		case domain.PolicyContinue:
			return nil, nil
		}
		// retry/break/ignore: fall through to the next attempt.
	}
	return nil, fmt.Errorf("%w: %v", executor.ErrPolicy, lastErr)
}

// tryStep executes one attempt of step: block recursion, a sleep, or one
// instrument verb via Commander.
func (ip *Interpreter) tryStep(ctx context.Context, tree *domain.MissionTree, step *domain.Step, r *run) (*executor.Response, error) {
	switch step.Kind {
	case domain.StepBlock:
		if !evalConditional(step.Condition, r.vars) {
			return nil, nil
		}
		loop := step.Loop
		if loop < 1 {
			loop = 1
		}
		for i := 0; i < loop; i++ {
			if err := ip.executeSequence(ctx, tree, step.BlockName, r); err != nil {
				return nil, err
			}
		}
		return nil, nil

	case domain.StepSleep:
		sleepCtx(ctx, time.Duration(step.SleepSecs*float64(time.Second)))
		return nil, nil

	case domain.StepExecute:
		return ip.Commander.Execute(ctx, step.Target, step.Command, step.Kwargs, step.Timeout)
	case domain.StepReset:
		return ip.Commander.Reset(ctx, step.Target, step.Timeout)
	case domain.StepPing:
		return ip.Commander.Ping(ctx, step.Target, step.Timeout)
	case domain.StepDiscover:
		return ip.Commander.Discover(ctx, step.Target, step.Timeout)
	case domain.StepGetState:
		result, err := ip.Commander.GetState(ctx, step.Target, step.Timeout)
		if err == nil && result != nil {
			r.vars["driver_state"] = result.Value
		}
		return result, err
	case domain.StepGet:
		result, err := ip.Commander.GetResource(ctx, step.Target, step.Parameter, step.Timeout)
		if err == nil && result != nil && step.Parameter != "" {
			r.vars[step.Parameter] = result.Value
		}
		return result, err
	case domain.StepSet:
		return ip.Commander.SetResource(ctx, step.Target, step.Parameter, step.Value, step.Timeout)
	case domain.StepDisconnect:
		return ip.Commander.Disconnect(ctx, step.Target, step.Timeout)
	case domain.StepConnect:
		return ip.Commander.Connect(ctx, step.Target, step.Timeout)
	case domain.StepSetInitParams:
		return ip.Commander.SetInitParams(ctx, step.Target, step.Config, step.Timeout)
	case domain.StepConfigure:
		return ip.Commander.Configure(ctx, step.Target, step.Config, step.Timeout)
	default:
		return nil, nil
	}
}

// evalConditional evaluates a block_name step's optional condition against
// the run's variables table. A missing condition is always true. A missing
// variable is treated as not equal to the expected value. "equal" requires
// current == expected and "not_equal" requires current != expected,
// independent of the expected value's truthiness.
func evalConditional(cond *domain.Condition, vars map[string]interface{}) bool {
	if cond == nil {
		return true
	}
	current, present := vars[cond.Variable]
	equal := present && valuesEqual(current, cond.Value)

	switch cond.Comparator {
	case "not_equal":
		return !equal
	default: // "equal" and any unrecognized comparator default to equality
		return equal
	}
}

func valuesEqual(a, b interface{}) bool {
	af, aok := toComparableFloat(a)
	bf, bok := toComparableFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func toComparableFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

func (ip *Interpreter) addEvent(ctx context.Context, r *run, kind domain.EventKind, payload string) {
	_ = ip.Store.AddEvent(ctx, r.id, kind, payload)
}

// encodeEventPayload renders a step record or instrument response as the
// event log expects: plain strings pass through, everything else is
// JSON-encoded.
func encodeEventPayload(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
