package wavedaq

import (
	"fmt"
	"strings"
	"time"
)

// Device is the hardware abstraction a Task drives. Implementations serialize
// their own hardware access; a Task never locks anything itself.
type Device interface {
	PhysicalChannels(tt TaskType) ([]string, error)
	IsValidPort(port string, tt TaskType) bool
	VoltageRange(tt TaskType) (minVolts, maxVolts float64, err error)
	RateRange(tt TaskType) (minHz, maxHz float64, err error)

	RegisterTask(task *Task) error
	WriteTaskWaveforms(name string, waveforms map[string][]float64) error
	StartTask(name string) error
	StopTask(name string) error
	CloseTask(name string) error
	WaitUntilTaskIsDone(name string, timeout time.Duration) (bool, error)
	IsTaskDone(name string) (bool, error)

	// For trigger chains
	HasTask(name string) bool
	IsTaskArmed(name string) (bool, error)
}

// TaskType is the kind of output a Task drives.
type TaskType int

// Names for the possible values of TaskType
const (
	AnalogOutput  TaskType = iota // AO
	DigitalOutput                 // DO
	CounterOutput                 // CO
)

var taskTypeNames = [...]string{"AO", "DO", "CO"}

func (tt TaskType) String() string {
	if tt >= 0 && int(tt) < len(taskTypeNames) {
		return taskTypeNames[tt]
	}
	return fmt.Sprintf("TaskType(%d)", int(tt))
}

// ParseTaskType accepts "AO", "DO", "CO" (any case).
func ParseTaskType(name string) (TaskType, error) {
	for i, n := range taskTypeNames {
		if strings.EqualFold(strings.TrimSpace(name), n) {
			return TaskType(i), nil
		}
	}
	return AnalogOutput, fmt.Errorf("task type %q is not one of %v", name, taskTypeNames)
}

// SampleMode says whether a task runs one cycle or repeats until stopped.
type SampleMode int

// Names for the possible values of SampleMode
const (
	Continuous SampleMode = iota
	Finite
)

func (sm SampleMode) String() string {
	switch sm {
	case Continuous:
		return "continuous"
	case Finite:
		return "finite"
	}
	return fmt.Sprintf("SampleMode(%d)", int(sm))
}

// ParseSampleMode accepts "continuous" or "finite" (any case).
func ParseSampleMode(name string) (SampleMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "continuous", "":
		return Continuous, nil
	case "finite":
		return Finite, nil
	}
	return Continuous, fmt.Errorf("sample mode %q is not one of (continuous, finite)", name)
}

// TriggerMode turns the start trigger on or off.
type TriggerMode int

// Names for the possible values of TriggerMode
const (
	TriggerOff TriggerMode = iota
	TriggerOn
)

func (tm TriggerMode) String() string {
	if tm == TriggerOn {
		return "on"
	}
	return "off"
}

// TriggerEdge is the edge of the trigger source that starts a task.
type TriggerEdge int

// Names for the possible values of TriggerEdge
const (
	Rising TriggerEdge = iota
	Falling
)

func (te TriggerEdge) String() string {
	if te == Falling {
		return "falling"
	}
	return "rising"
}

// ParseTriggerEdge accepts "rising" or "falling" (any case).
func ParseTriggerEdge(name string) (TriggerEdge, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "rising", "":
		return Rising, nil
	case "falling":
		return Falling, nil
	}
	return Rising, fmt.Errorf("trigger edge %q is not one of (rising, falling)", name)
}

// TaskState is the lifecycle state of a Task.
type TaskState int

// Names for the possible values of TaskState
const (
	Created TaskState = iota
	Configured
	Written
	Running
	Stopped
	Closed
)

var taskStateNames = [...]string{"created", "configured", "written", "running", "stopped", "closed"}

func (ts TaskState) String() string {
	if ts >= 0 && int(ts) < len(taskStateNames) {
		return taskStateNames[ts]
	}
	return fmt.Sprintf("TaskState(%d)", int(ts))
}
