package wavedaq

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every error returned by this package wraps exactly one of them,
// so callers can test with errors.Is.
var (
	// ErrInvalidTiming flags bad sampling/period/rest values, or a period longer
	// than the whole cycle.
	ErrInvalidTiming = errors.New("invalid task timing")

	// ErrInvalidChannel flags unknown or duplicate ports and names, a center
	// voltage outside the device range, a bad cutoff, or an invalid shape/window.
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrClosedTask is returned by every operation on a Task after Close.
	ErrClosedTask = errors.New("task is closed")

	// ErrHardwareTask is matched by any *HardwareError.
	ErrHardwareTask = errors.New("hardware task failure")

	// ErrTaskState flags an operation that the task's current state does not allow.
	ErrTaskState = errors.New("operation not allowed in task state")

	// ErrTriggerChain flags a trigger source that is unknown, not armed, or cyclic.
	ErrTriggerChain = errors.New("trigger chain error")
)

// HardwareError carries a failure reported by a Device, with the task and the
// operation that provoked it.
type HardwareError struct {
	Op   string
	Task string
	Err  error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("%s task %q: %v", e.Op, e.Task, e.Err)
}

// Unwrap returns the device's own error.
func (e *HardwareError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrHardwareTask) true for any HardwareError.
func (e *HardwareError) Is(target error) bool {
	return target == ErrHardwareTask
}

func hardwareError(op, task string, err error) error {
	if err == nil {
		return nil
	}
	var hwe *HardwareError
	if errors.As(err, &hwe) {
		return err
	}
	return &HardwareError{Op: op, Task: task, Err: err}
}

func invalidChannelf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidChannel, fmt.Sprintf(format, args...))
}

func invalidTimingf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTiming, fmt.Sprintf(format, args...))
}
