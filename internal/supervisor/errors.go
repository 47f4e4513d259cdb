package supervisor

import (
	"errors"

	"github.com/loykin/mcmanager/internal/registry"
)

var (
	// ErrAlreadyRunning is returned by Start when the name holds a live process.
	ErrAlreadyRunning = registry.ErrAlreadyRunning
	// ErrNotFound is returned by Stop when the name is not registered or a
	// concurrent Stop already claimed it.
	ErrNotFound = errors.New("process not found")
	// ErrNotRunning is returned when no live process is registered.
	ErrNotRunning = errors.New("process not running")
	// ErrNoInputChannel is returned when stdin was never piped or is closed.
	ErrNoInputChannel = errors.New("process has no input channel")
	// ErrTimeout is returned when a killed process could not be reaped in time.
	ErrTimeout = errors.New("timed out waiting for process exit")
)

// LaunchError reports that the OS refused to spawn the process.
type LaunchError struct {
	Name  string
	Cause error
}

func (e *LaunchError) Error() string { return "launch " + e.Name + ": " + e.Cause.Error() }
func (e *LaunchError) Unwrap() error { return e.Cause }

// IOError reports a failed read or write on a process pipe or log file.
type IOError struct {
	Op    string
	Cause error
}

func (e *IOError) Error() string { return e.Op + ": " + e.Cause.Error() }
func (e *IOError) Unwrap() error { return e.Cause }
