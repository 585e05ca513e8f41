package core

import (
	"time"
)

// Mode selects how the Run Director treats the spawned script.
type Mode string

const (
	// ModeWait blocks until the script exits and persists its output.
	ModeWait Mode = "wait"
	// ModeDetach spawns the script and returns without waiting.
	ModeDetach Mode = "detach"
)

// RunStatus describes the state of an individual execution attempt.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Settings is the per-process runner configuration. It is read-only once
// the Runner has been constructed.
type Settings struct {
	HostID  string
	Decoder string
	Encoder string

	// MaxDetached caps concurrently running detached scripts. Zero means no cap.
	MaxDetached int
}

// Run captures a single execution attempt of a script.
type Run struct {
	ID         string
	Script     string
	ScriptPath string
	Digest     string
	Dir        string
	Mode       Mode
	Status     RunStatus
	ExitCode   *int
	Error      *string
	StartedAt  time.Time
	EndedAt    *time.Time
}
