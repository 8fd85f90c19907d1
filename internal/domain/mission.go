// Package domain holds the data model shared by the store, interpreter,
// scheduler, and HTTP control plane: missions, scripts, runs, events, and
// the decoded YAML mission tree.
package domain

import "time"

// Mission is the durable, process-visible record for a named mission. The
// currently-selected script is referenced by ScriptID; an empty ScriptID means
// the mission has been soft-deleted but is retained for run history.
type Mission struct {
	ID        string
	Name      string
	ScriptID  string
	Active    bool
	CreatedAt time.Time
}

// Script is an immutable (Name, Version) pair holding the full YAML body.
// Two scripts may share a Name with different Versions; swapping which
// Script a Mission points at is the "set version" operation.
type Script struct {
	ID         string
	MissionID  string
	Name       string
	Version    string
	Body       string
	CreateTime time.Time
}

// Run is one execution instance of a mission, pinned to the exact Script
// used. A Run is created at interpreter entry and never mutated thereafter;
// its Events grow append-only until completion.
type Run struct {
	ID        string
	MissionID string
	ScriptID  string
	StartedAt time.Time
}

// EventKind names the fixed-but-extensible dictionary of event types.
// New kinds are registered in the store on first use (see internal/store).
type EventKind string

const (
	EventStart      EventKind = "start"
	EventStep       EventKind = "step"
	EventResult     EventKind = "result"
	EventLock       EventKind = "lock"
	EventUnlock     EventKind = "unlock"
	EventException  EventKind = "exception"
	EventCompletion EventKind = "completion"
)

// Event is one entry in a Run's append-only log. Payload is either a plain
// string or a JSON-encoded value.
type Event struct {
	ID        string
	RunID     string
	Timestamp time.Time
	Kind      EventKind
	Payload   string
}

// MissionTree is the fully decoded YAML document for one Script: header
// fields, scheduling directive, mission-wide error policy, and blocks.
type MissionTree struct {
	Name     string            `yaml:"name"`
	Desc     string            `yaml:"desc"`
	Version  string            `yaml:"version"`
	Drivers  []string          `yaml:"drivers"`
	Debug    bool              `yaml:"debug,omitempty"`
	Verbose  bool              `yaml:"verbose,omitempty"`
	Schedule *ScheduleSpec     `yaml:"schedule,omitempty"`
	OnError  *PolicySpec       `yaml:"onerror,omitempty"`
	Blocks   []Block           `yaml:"blocks"`
	blockIdx map[string]*Block `yaml:"-"`
}

// Block is a labeled, ordered sequence of steps. A block may carry its own
// error policy that overrides the mission-wide one for steps it runs that
// don't specify their own.
type Block struct {
	Label    string      `yaml:"label"`
	Sequence []Step      `yaml:"sequence"`
	OnError  *PolicySpec `yaml:"onerror,omitempty"`
}

// MissionBlockLabel is the well-known label for a mission's entry block.
const MissionBlockLabel = "mission"

// BlockIndex lazily builds and returns the label -> *Block lookup used by
// the interpreter to resolve block_name invocations.
func (t *MissionTree) BlockIndex() map[string]*Block {
	if t.blockIdx != nil {
		return t.blockIdx
	}
	idx := make(map[string]*Block, len(t.Blocks))
	for i := range t.Blocks {
		idx[t.Blocks[i].Label] = &t.Blocks[i]
	}
	t.blockIdx = idx
	return idx
}

// Block resolves a block by label, or nil if it does not exist.
func (t *MissionTree) Block(label string) *Block {
	return t.BlockIndex()[label]
}
