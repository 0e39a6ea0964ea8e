package wavedaq

import (
	"fmt"
	"slices"
	"time"
)

// Task is an ordered set of Channels that share one TaskTiming and one task
// type, together with the lifecycle of the matching hardware task on a Device.
// A Task has a single owner and does no locking of its own.
type Task struct {
	name          string
	taskType      TaskType
	timing        TaskTiming
	device        Device
	channels      []*Channel
	sampleMode    SampleMode
	triggerMode   TriggerMode
	triggerEdge   TriggerEdge
	triggerSource string
	retriggerable bool
	filter        FilterChoice
	state         TaskState
	minVolts      float64
	maxVolts      float64

	// written maps port to channel revision at the last successful Write;
	// nil when the device holds no current waveforms.
	written map[string]uint64

	// RequireArmedTrigger makes Start fail with ErrTriggerChain unless a
	// trigger source that names another task on the same device is armed.
	RequireArmedTrigger bool
}

// NewTask checks the timing against the device's rate range for this task type,
// then registers a new, empty task with the device.
func NewTask(name string, tt TaskType, timing TaskTiming, device Device) (*Task, error) {
	if name == "" {
		return nil, fmt.Errorf("task name is empty")
	}
	if device == nil {
		return nil, fmt.Errorf("task %q has no device", name)
	}
	if err := timing.Validate(); err != nil {
		return nil, err
	}
	minHz, maxHz, err := device.RateRange(tt)
	if err != nil {
		return nil, hardwareError("rate range", name, err)
	}
	if fs := timing.SamplingFrequencyHz; fs < minHz || fs > maxHz {
		return nil, invalidTimingf("task %q sampling frequency %v Hz lies outside the %v device range [%v, %v] Hz",
			name, fs, tt, minHz, maxHz)
	}
	minV, maxV, err := device.VoltageRange(tt)
	if err != nil {
		return nil, hardwareError("voltage range", name, err)
	}
	t := &Task{
		name:     name,
		taskType: tt,
		timing:   timing,
		device:   device,
		minVolts: minV,
		maxVolts: maxV,
	}
	if err := device.RegisterTask(t); err != nil {
		return nil, hardwareError("register", name, err)
	}
	UpdateLogger.Printf("Task %q created: %v, fs=%v Hz, period=%v ms, rest=%v ms",
		name, tt, timing.SamplingFrequencyHz, timing.PeriodTimeMs, timing.RestTimeMs)
	return t, nil
}

// Name returns the task's name, which is also its key on the Device.
func (t *Task) Name() string { return t.name }

// Type returns the task type.
func (t *Task) Type() TaskType { return t.taskType }

// Timing returns the shared timing of all channels.
func (t *Task) Timing() TaskTiming { return t.timing }

// State returns the lifecycle state.
func (t *Task) State() TaskState { return t.state }

// SampleMode returns whether the task is continuous or finite.
func (t *Task) SampleMode() SampleMode { return t.sampleMode }

// TriggerMode returns whether a start trigger is used.
func (t *Task) TriggerMode() TriggerMode { return t.triggerMode }

// TriggerEdge returns the trigger edge.
func (t *Task) TriggerEdge() TriggerEdge { return t.triggerEdge }

// TriggerSource returns the trigger source: a terminal name, or the name of
// another task on the same device.
func (t *Task) TriggerSource() string { return t.triggerSource }

// Retriggerable reports whether each trigger edge restarts the task.
func (t *Task) Retriggerable() bool { return t.retriggerable }

// Filter returns the filter choice applied when writing.
func (t *Task) Filter() FilterChoice { return t.filter }

// VoltageRange returns the device's voltage range for this task type.
func (t *Task) VoltageRange() (float64, float64) { return t.minVolts, t.maxVolts }

// WaveformFrequencyHz is the repetition frequency of the active period.
func (t *Task) WaveformFrequencyHz() float64 { return t.timing.WaveformFrequencyHz() }

// TotalCycleTimeMs is the period plus the rest time.
func (t *Task) TotalCycleTimeMs() float64 { return t.timing.TotalCycleTimeMs() }

// Channels returns the task's channels in the order they were added.
func (t *Task) Channels() []*Channel {
	return slices.Clone(t.channels)
}

// Ports returns the ports in use, in channel order.
func (t *Task) Ports() []string {
	ports := make([]string, len(t.channels))
	for i, c := range t.channels {
		ports[i] = c.port
	}
	return ports
}

func (t *Task) checkOpen() error {
	if t.state == Closed {
		return fmt.Errorf("task %q: %w", t.name, ErrClosedTask)
	}
	return nil
}

// checkIdle fails unless the task is open and not running.
func (t *Task) checkIdle(op string) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if t.state == Running {
		return fmt.Errorf("task %q: %s while %v: %w", t.name, op, t.state, ErrTaskState)
	}
	return nil
}

func (t *Task) indexOfPort(port string) int {
	return slices.IndexFunc(t.channels, func(c *Channel) bool { return c.port == port })
}

// AddChannel validates cc against the device and the existing channels and
// adds a new Channel. On any error the task is left unchanged.
func (t *Task) AddChannel(cc ChannelConfig) (*Channel, error) {
	if err := t.checkIdle("add channel"); err != nil {
		return nil, err
	}
	if !t.device.IsValidPort(cc.Port, t.taskType) {
		return nil, invalidChannelf("port %q is not a valid %v port on the device", cc.Port, t.taskType)
	}
	for _, c := range t.channels {
		if c.port == cc.Port {
			return nil, invalidChannelf("port %q is already used by channel %q of task %q", cc.Port, c.name, t.name)
		}
		if c.name == cc.Name {
			return nil, invalidChannelf("channel name %q is already used in task %q", cc.Name, t.name)
		}
	}
	if t.taskType == CounterOutput && cc.Shape != Square {
		ProblemLogger.Printf("Task %q: channel %q shape %v changed to square for a counter-output task",
			t.name, cc.Name, cc.Shape)
		cc.Shape = Square
		if cc.PeakPoint != nil {
			if cc.StartTimeMs != nil || cc.EndTimeMs != nil {
				return nil, invalidChannelf("channel %q: give either a peak point or an active window, not both", cc.Name)
			}
			if !validPeakFraction(*cc.PeakPoint) {
				return nil, invalidChannelf("channel %q peak point %v must lie in (0, 1]", cc.Name, *cc.PeakPoint)
			}
			cc = cc.WithWindow(0, t.timing.PeriodTimeMs * *cc.PeakPoint)
			cc.PeakPoint = nil
		}
	}
	c, err := newChannel(cc, t.timing, t.minVolts, t.maxVolts)
	if err != nil {
		return nil, err
	}
	c.squareOnly = t.taskType == CounterOutput
	t.channels = append(t.channels, c)
	if t.state == Created || t.state == Written {
		t.state = Configured
	}
	UpdateLogger.Printf("Task %q: added %v channel %q on port %s", t.name, c.shape, c.name, c.port)
	return c, nil
}

// RemoveChannel removes the channel on the given port. The next Start rewrites
// the device buffers.
func (t *Task) RemoveChannel(port string) error {
	if err := t.checkIdle("remove channel"); err != nil {
		return err
	}
	i := t.indexOfPort(port)
	if i < 0 {
		return invalidChannelf("task %q has no channel on port %q", t.name, port)
	}
	t.channels = slices.Delete(t.channels, i, i+1)
	switch {
	case len(t.channels) == 0 && (t.state == Configured || t.state == Written):
		t.state = Created
	case t.state == Written:
		t.state = Configured
	}
	UpdateLogger.Printf("Task %q: removed channel on port %s", t.name, port)
	return nil
}

// Channel returns the channel on the given port.
func (t *Task) Channel(port string) (*Channel, error) {
	if err := t.checkIdle("channel lookup"); err != nil {
		return nil, err
	}
	i := t.indexOfPort(port)
	if i < 0 {
		return nil, invalidChannelf("task %q has no channel on port %q", t.name, port)
	}
	return t.channels[i], nil
}

// ChannelByName returns the channel with the given name.
func (t *Task) ChannelByName(name string) (*Channel, error) {
	if err := t.checkIdle("channel lookup"); err != nil {
		return nil, err
	}
	for _, c := range t.channels {
		if c.name == name {
			return c, nil
		}
	}
	return nil, invalidChannelf("task %q has no channel named %q", t.name, name)
}

// DutyCycle returns the duty cycle of the channel on the given port.
func (t *Task) DutyCycle(port string) (float64, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	i := t.indexOfPort(port)
	if i < 0 {
		return 0, invalidChannelf("task %q has no channel on port %q", t.name, port)
	}
	return t.channels[i].DutyCycle(), nil
}

// SetSampleMode chooses continuous or finite output.
func (t *Task) SetSampleMode(mode SampleMode) error {
	if err := t.checkIdle("set sample mode"); err != nil {
		return err
	}
	t.sampleMode = mode
	return nil
}

// SetTrigger configures the start trigger. With mode TriggerOn the source must
// be non-empty and must not be the task itself.
func (t *Task) SetTrigger(mode TriggerMode, edge TriggerEdge, source string) error {
	if err := t.checkIdle("set trigger"); err != nil {
		return err
	}
	if mode == TriggerOn {
		if source == "" {
			return fmt.Errorf("task %q: trigger on with no source: %w", t.name, ErrTriggerChain)
		}
		if source == t.name {
			return fmt.Errorf("task %q cannot trigger itself: %w", t.name, ErrTriggerChain)
		}
	}
	t.triggerMode, t.triggerEdge, t.triggerSource = mode, edge, source
	return nil
}

// SetRetriggerable sets whether each trigger edge restarts the task.
func (t *Task) SetRetriggerable(retriggerable bool) error {
	if err := t.checkIdle("set retriggerable"); err != nil {
		return err
	}
	t.retriggerable = retriggerable
	return nil
}

// SetFilter sets the filter choice for subsequent writes.
func (t *Task) SetFilter(filter FilterChoice) error {
	if err := t.checkIdle("set filter"); err != nil {
		return err
	}
	if filter != t.filter {
		t.filter = filter
		t.written = nil
	}
	return nil
}

// GenerateWaveforms synthesizes every channel without touching the device.
func (t *Task) GenerateWaveforms() (map[string][]float64, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	waveforms := make(map[string][]float64, len(t.channels))
	for _, c := range t.channels {
		w, err := c.GenerateWaveform(t.timing, t.filter)
		if err != nil {
			return nil, fmt.Errorf("task %q channel %q: %w", t.name, c.name, err)
		}
		waveforms[c.port] = w
	}
	return waveforms, nil
}

// Write synthesizes every channel and hands the buffers to the device.
func (t *Task) Write() error {
	if err := t.checkIdle("write"); err != nil {
		return err
	}
	if len(t.channels) == 0 {
		return invalidChannelf("task %q has no channels to write", t.name)
	}
	waveforms, err := t.GenerateWaveforms()
	if err != nil {
		return err
	}
	if err := t.device.WriteTaskWaveforms(t.name, waveforms); err != nil {
		return hardwareError("write", t.name, err)
	}
	t.written = make(map[string]uint64, len(t.channels))
	for _, c := range t.channels {
		t.written[c.port] = c.revision
	}
	t.state = Written
	UpdateLogger.Printf("Task %q: wrote %d channels of %d samples", t.name, len(t.channels), t.timing.SamplesPerCycle())
	return nil
}

// needsWrite reports whether the device buffers are missing or stale.
func (t *Task) needsWrite() bool {
	if t.written == nil || len(t.written) != len(t.channels) {
		return true
	}
	for _, c := range t.channels {
		if rev, ok := t.written[c.port]; !ok || rev != c.revision {
			return true
		}
	}
	return false
}

func (t *Task) checkTriggerSource() error {
	if !t.RequireArmedTrigger || t.triggerMode != TriggerOn {
		return nil
	}
	if !t.device.HasTask(t.triggerSource) {
		return fmt.Errorf("task %q trigger source %q is not a task on the device: %w",
			t.name, t.triggerSource, ErrTriggerChain)
	}
	armed, err := t.device.IsTaskArmed(t.triggerSource)
	if err != nil {
		return hardwareError("trigger check", t.name, err)
	}
	if !armed {
		return fmt.Errorf("task %q trigger source %q is not armed: %w", t.name, t.triggerSource, ErrTriggerChain)
	}
	return nil
}

// Start writes the waveforms if they are missing or stale, then starts the
// hardware task.
func (t *Task) Start() error {
	if err := t.checkIdle("start"); err != nil {
		return err
	}
	if len(t.channels) == 0 {
		return invalidChannelf("task %q has no channels to start", t.name)
	}
	if t.needsWrite() {
		if err := t.Write(); err != nil {
			return err
		}
	}
	if err := t.checkTriggerSource(); err != nil {
		return err
	}
	if err := t.device.StartTask(t.name); err != nil {
		return hardwareError("start", t.name, err)
	}
	t.state = Running
	UpdateLogger.Printf("Task %q started", t.name)
	return nil
}

// Stop stops a running task. Stopping a task that is not running does nothing.
func (t *Task) Stop() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if t.state != Running {
		return nil
	}
	if err := t.device.StopTask(t.name); err != nil {
		return hardwareError("stop", t.name, err)
	}
	t.state = Stopped
	UpdateLogger.Printf("Task %q stopped", t.name)
	return nil
}

// Close stops the task if needed and releases it on the device. Every later
// call fails with ErrClosedTask.
func (t *Task) Close() error {
	if err := t.Stop(); err != nil {
		return err
	}
	if err := t.device.CloseTask(t.name); err != nil {
		return hardwareError("close", t.name, err)
	}
	t.state = Closed
	t.written = nil
	UpdateLogger.Printf("Task %q closed", t.name)
	return nil
}

// WaitUntilDone waits up to timeout for a running task to finish. A timeout is
// not an error: it returns (false, nil). A task that is not running is done.
func (t *Task) WaitUntilDone(timeout time.Duration) (bool, error) {
	if err := t.checkOpen(); err != nil {
		return false, err
	}
	if t.state != Running {
		return true, nil
	}
	done, err := t.device.WaitUntilTaskIsDone(t.name, timeout)
	if err != nil {
		return false, hardwareError("wait", t.name, err)
	}
	return done, nil
}

// IsDone reports whether the task has finished (a task that is not running has).
func (t *Task) IsDone() (bool, error) {
	if err := t.checkOpen(); err != nil {
		return false, err
	}
	if t.state != Running {
		return true, nil
	}
	done, err := t.device.IsTaskDone(t.name)
	if err != nil {
		return false, hardwareError("is done", t.name, err)
	}
	return done, nil
}

// triggerOrder sorts tasks so that every task comes before the task that
// triggers it. Trigger sources that are not among the tasks are ignored.
func triggerOrder(tasks []*Task) ([]*Task, error) {
	byName := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		if _, dup := byName[t.name]; dup {
			return nil, fmt.Errorf("task %q appears twice: %w", t.name, ErrTriggerChain)
		}
		byName[t.name] = t
	}
	dependents := make(map[string][]*Task)
	for _, t := range tasks {
		if t.triggerMode != TriggerOn {
			continue
		}
		if _, ok := byName[t.triggerSource]; ok {
			dependents[t.triggerSource] = append(dependents[t.triggerSource], t)
		}
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	mark := make(map[string]int, len(tasks))
	ordered := make([]*Task, 0, len(tasks))
	var visit func(t *Task) error
	visit = func(t *Task) error {
		switch mark[t.name] {
		case visiting:
			return fmt.Errorf("trigger cycle through task %q: %w", t.name, ErrTriggerChain)
		case visited:
			return nil
		}
		mark[t.name] = visiting
		for _, d := range dependents[t.name] {
			if err := visit(d); err != nil {
				return err
			}
		}
		mark[t.name] = visited
		ordered = append(ordered, t)
		return nil
	}
	for _, t := range tasks {
		if err := visit(t); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// StartInTriggerOrder writes every task that needs it, then starts the tasks
// so that each one is waiting before the task that triggers it starts. If any
// start fails, the tasks already started are stopped again.
func StartInTriggerOrder(tasks []*Task) error {
	ordered, err := triggerOrder(tasks)
	if err != nil {
		return err
	}
	for _, t := range ordered {
		if err := t.checkIdle("start"); err != nil {
			return err
		}
		if t.needsWrite() {
			if err := t.Write(); err != nil {
				return err
			}
		}
	}
	for i, t := range ordered {
		if err := t.Start(); err != nil {
			for j := i - 1; j >= 0; j-- {
				if stopErr := ordered[j].Stop(); stopErr != nil {
					ProblemLogger.Printf("Could not stop task %q after failed group start: %v", ordered[j].name, stopErr)
				}
			}
			return err
		}
	}
	return nil
}
