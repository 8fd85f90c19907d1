package executor

import "errors"

// Sentinel error kinds surfaced by the instrument-control client,
// distinguished with errors.Is so policy handling can branch on the kind
// without inspecting message text.
var (
	// ErrTimeout means the instrument API returned an empty body, which the
	// driver stack treats as "command timed out" rather than a protocol error.
	ErrTimeout = errors.New("instrument command timed out")

	// ErrInstrument means the driver reported a DRIVER_ASYNC_EVENT_ERROR.
	ErrInstrument = errors.New("instrument reported an error")

	// ErrLock means a lock request was refused because another mission
	// already holds the instrument (HTTP 409).
	ErrLock = errors.New("instrument is locked by another mission")

	// ErrCommandArgument means a step's fields failed validation before any
	// request was sent (bad target/args/kwargs/timeout shape).
	ErrCommandArgument = errors.New("invalid command arguments")

	// ErrPolicy is returned by the interpreter, not the client, when a
	// step has failed on every attempt its policy allows (an exhausted
	// retry, or the single attempt of break/ignore); it wraps the last
	// error. An abort policy returns the step's own error instead.
	ErrPolicy = errors.New("error policy aborted mission")
)
