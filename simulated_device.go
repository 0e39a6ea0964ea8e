package wavedaq

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/oklog/ulid/v2"
)

// SimulatedDeviceConfig holds the arguments needed to build a SimulatedDevice,
// and is the form in which the device is stored in the config file.
type SimulatedDeviceConfig struct {
	Name       string
	AOPorts    []string
	DOPorts    []string
	COPorts    []string
	AOMinVolts float64
	AOMaxVolts float64
	DOMinVolts float64 // also used by counter outputs
	DOMaxVolts float64
	MinRateHz  float64
	MaxRateHz  float64
}

// DefaultSimulatedDeviceConfig returns a 13-AO, 2-DO, 2-counter device with a
// ±10 V analog range and a 1 Hz to 1 MHz sample rate.
func DefaultSimulatedDeviceConfig() SimulatedDeviceConfig {
	ao := make([]string, 13)
	for i := range ao {
		ao[i] = fmt.Sprintf("ao%d", i)
	}
	return SimulatedDeviceConfig{
		Name:       "Dev1",
		AOPorts:    ao,
		DOPorts:    []string{"port0/line0", "port0/line1"},
		COPorts:    []string{"ctr0", "ctr1"},
		AOMinVolts: -10,
		AOMaxVolts: 10,
		DOMinVolts: 0,
		DOMaxVolts: 5,
		MinRateHz:  1,
		MaxRateHz:  1e6,
	}
}

// Operation names accepted by SimulatedDevice.InjectFault.
const (
	OpRegister = "register"
	OpWrite    = "write"
	OpStart    = "start"
	OpStop     = "stop"
	OpClose    = "close"
	OpWait     = "wait"
)

// PulseTrain is what a counter-output port produces: a square pulse at the
// waveform frequency with the channel's duty cycle.
type PulseTrain struct {
	FrequencyHz float64
	DutyCycle   float64
}

// simulatedTask is the device-side half of a Task.
type simulatedTask struct {
	task      *Task
	handle    ulid.ULID
	waveforms map[string][]float64
	pulses    map[string]PulseTrain
	writes    int
	running   bool
	waiting   bool      // started but its trigger has not arrived
	outputAt  time.Time // when output began
}

// SimulatedDevice is a Device that requires no hardware, for testing and for
// running the server without an I/O board. Finite tasks finish one cycle after
// their output begins. A task triggered by another task on this device waits
// until that task starts; a task triggered by a terminal waits for FireTrigger.
type SimulatedDevice struct {
	config SimulatedDeviceConfig
	tasks  map[string]*simulatedTask
	faults map[string]error
	closed bool
	sync.Mutex
}

// NewSimulatedDevice builds a SimulatedDevice from config.
func NewSimulatedDevice(config SimulatedDeviceConfig) (*SimulatedDevice, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("simulated device has no name")
	}
	if !(config.AOMinVolts < config.AOMaxVolts) || !(config.DOMinVolts < config.DOMaxVolts) {
		return nil, fmt.Errorf("simulated device %q: voltage ranges AO [%v, %v], DO [%v, %v] are empty",
			config.Name, config.AOMinVolts, config.AOMaxVolts, config.DOMinVolts, config.DOMaxVolts)
	}
	if !(config.MinRateHz > 0 && config.MinRateHz <= config.MaxRateHz) {
		return nil, fmt.Errorf("simulated device %q: rate range [%v, %v] Hz is invalid",
			config.Name, config.MinRateHz, config.MaxRateHz)
	}
	return &SimulatedDevice{
		config: config,
		tasks:  make(map[string]*simulatedTask),
		faults: make(map[string]error),
	}, nil
}

// Name returns the device name.
func (dev *SimulatedDevice) Name() string {
	return dev.config.Name
}

// Config returns the configuration the device was built from.
func (dev *SimulatedDevice) Config() SimulatedDeviceConfig {
	return dev.config
}

// PhysicalChannels lists the ports usable by tasks of the given type.
func (dev *SimulatedDevice) PhysicalChannels(tt TaskType) ([]string, error) {
	switch tt {
	case AnalogOutput:
		return slices.Clone(dev.config.AOPorts), nil
	case DigitalOutput:
		return slices.Clone(dev.config.DOPorts), nil
	case CounterOutput:
		return slices.Clone(dev.config.COPorts), nil
	}
	return nil, fmt.Errorf("device %s: unknown task type %v", dev.config.Name, tt)
}

// IsValidPort reports whether port can be used by a task of the given type.
func (dev *SimulatedDevice) IsValidPort(port string, tt TaskType) bool {
	ports, err := dev.PhysicalChannels(tt)
	return err == nil && slices.Contains(ports, port)
}

// VoltageRange returns the output voltage range for the given task type.
func (dev *SimulatedDevice) VoltageRange(tt TaskType) (float64, float64, error) {
	switch tt {
	case AnalogOutput:
		return dev.config.AOMinVolts, dev.config.AOMaxVolts, nil
	case DigitalOutput, CounterOutput:
		return dev.config.DOMinVolts, dev.config.DOMaxVolts, nil
	}
	return 0, 0, fmt.Errorf("device %s: unknown task type %v", dev.config.Name, tt)
}

// RateRange returns the range of sampling frequencies for the given task type.
func (dev *SimulatedDevice) RateRange(tt TaskType) (float64, float64, error) {
	if tt < AnalogOutput || tt > CounterOutput {
		return 0, 0, fmt.Errorf("device %s: unknown task type %v", dev.config.Name, tt)
	}
	return dev.config.MinRateHz, dev.config.MaxRateHz, nil
}

// InjectFault makes the next call of operation op (OpStart etc.) fail with err.
func (dev *SimulatedDevice) InjectFault(op string, err error) {
	dev.InjectTaskFault(op, "", err)
}

// InjectTaskFault makes the next call of operation op on the named task fail with err.
func (dev *SimulatedDevice) InjectTaskFault(op, task string, err error) {
	dev.Lock()
	defer dev.Unlock()
	dev.faults[faultKey(op, task)] = err
}

func faultKey(op, task string) string {
	if task == "" {
		return op
	}
	return op + "/" + task
}

// fault returns and clears any injected fault for op on the named task,
// preferring one aimed at that task. Caller holds the lock.
func (dev *SimulatedDevice) fault(op, task string) error {
	for _, key := range []string{faultKey(op, task), op} {
		if err, ok := dev.faults[key]; ok {
			delete(dev.faults, key)
			return err
		}
	}
	return nil
}

// lookup returns the registered task. Caller holds the lock.
func (dev *SimulatedDevice) lookup(name string) (*simulatedTask, error) {
	if dev.closed {
		return nil, fmt.Errorf("device %s is closed", dev.config.Name)
	}
	st, ok := dev.tasks[name]
	if !ok {
		return nil, fmt.Errorf("device %s: task %q not found", dev.config.Name, name)
	}
	return st, nil
}

// RegisterTask adds task to the registry and assigns it a hardware handle.
func (dev *SimulatedDevice) RegisterTask(task *Task) error {
	dev.Lock()
	defer dev.Unlock()
	if dev.closed {
		return fmt.Errorf("device %s is closed", dev.config.Name)
	}
	if err := dev.fault(OpRegister, task.Name()); err != nil {
		return err
	}
	if _, exists := dev.tasks[task.Name()]; exists {
		return fmt.Errorf("device %s: task %q is already registered", dev.config.Name, task.Name())
	}
	dev.tasks[task.Name()] = &simulatedTask{task: task, handle: ulid.Make()}
	UpdateLogger.Printf("Device %s: registered task %q", dev.config.Name, task.Name())
	return nil
}

// WriteTaskWaveforms loads one cycle per port into the task's output buffers.
// Counter-output tasks store a PulseTrain per port instead.
func (dev *SimulatedDevice) WriteTaskWaveforms(name string, waveforms map[string][]float64) error {
	dev.Lock()
	defer dev.Unlock()
	st, err := dev.lookup(name)
	if err != nil {
		return err
	}
	if err := dev.fault(OpWrite, name); err != nil {
		return err
	}
	if st.running {
		return fmt.Errorf("device %s: cannot write task %q while it runs", dev.config.Name, name)
	}
	if len(waveforms) == 0 {
		return fmt.Errorf("device %s: no waveforms for task %q", dev.config.Name, name)
	}
	tt := st.task.Type()
	minV, maxV, err := dev.VoltageRange(tt)
	if err != nil {
		return err
	}
	nsamp := st.task.Timing().SamplesPerCycle()
	for port, w := range waveforms {
		if !dev.IsValidPort(port, tt) {
			return fmt.Errorf("device %s: %q is not a %v port", dev.config.Name, port, tt)
		}
		if len(w) != nsamp {
			return fmt.Errorf("device %s: port %s waveform has %d samples, want %d", dev.config.Name, port, len(w), nsamp)
		}
		const tolerance = 1e-9
		for i, v := range w {
			if math.IsNaN(v) || v < minV-tolerance || v > maxV+tolerance {
				return fmt.Errorf("device %s: port %s sample %d = %v V lies outside [%v, %v] V",
					dev.config.Name, port, i, v, minV, maxV)
			}
		}
	}

	st.waveforms = make(map[string][]float64, len(waveforms))
	for port, w := range waveforms {
		st.waveforms[port] = slices.Clone(w)
	}
	st.pulses = nil
	if tt == CounterOutput {
		st.pulses = make(map[string]PulseTrain, len(waveforms))
		for port := range waveforms {
			duty, err := st.task.DutyCycle(port)
			if err != nil {
				return err
			}
			st.pulses[port] = PulseTrain{FrequencyHz: st.task.WaveformFrequencyHz(), DutyCycle: duty}
		}
	}
	st.writes++
	return nil
}

// StartTask starts output, or leaves the task waiting for its trigger.
// Tasks waiting on this one are released.
func (dev *SimulatedDevice) StartTask(name string) error {
	dev.Lock()
	defer dev.Unlock()
	st, err := dev.lookup(name)
	if err != nil {
		return err
	}
	if err := dev.fault(OpStart, name); err != nil {
		return err
	}
	if st.running {
		return fmt.Errorf("device %s: task %q is already running", dev.config.Name, name)
	}
	if st.waveforms == nil {
		return fmt.Errorf("device %s: task %q started with no waveforms written", dev.config.Name, name)
	}
	st.running = true
	st.waiting = false
	if st.task.TriggerMode() == TriggerOn {
		source, isTask := dev.tasks[st.task.TriggerSource()]
		st.waiting = !isTask || !source.outputting()
	}
	if !st.waiting {
		dev.beginOutput(st, time.Now())
	}
	return nil
}

func (st *simulatedTask) outputting() bool {
	return st.running && !st.waiting
}

// beginOutput starts st and then every task waiting on it. Caller holds the lock.
func (dev *SimulatedDevice) beginOutput(st *simulatedTask, now time.Time) {
	st.waiting = false
	st.outputAt = now
	for _, other := range dev.tasks {
		if other.running && other.waiting && other.task.TriggerSource() == st.task.Name() {
			dev.beginOutput(other, now)
		}
	}
}

// FireTrigger delivers an edge on an external terminal, releasing every task
// waiting on it.
func (dev *SimulatedDevice) FireTrigger(terminal string) {
	dev.Lock()
	defer dev.Unlock()
	now := time.Now()
	for _, st := range dev.tasks {
		if st.running && st.waiting && st.task.TriggerSource() == terminal {
			dev.beginOutput(st, now)
		}
	}
}

// StopTask stops output. Stopping a stopped task is not an error.
func (dev *SimulatedDevice) StopTask(name string) error {
	dev.Lock()
	defer dev.Unlock()
	st, err := dev.lookup(name)
	if err != nil {
		return err
	}
	if err := dev.fault(OpStop, name); err != nil {
		return err
	}
	st.running = false
	st.waiting = false
	return nil
}

// CloseTask releases the task's hardware handle and forgets it.
func (dev *SimulatedDevice) CloseTask(name string) error {
	dev.Lock()
	defer dev.Unlock()
	if _, err := dev.lookup(name); err != nil {
		return err
	}
	if err := dev.fault(OpClose, name); err != nil {
		return err
	}
	delete(dev.tasks, name)
	UpdateLogger.Printf("Device %s: closed task %q", dev.config.Name, name)
	return nil
}

// done reports whether st has finished. Caller holds the lock.
func (st *simulatedTask) done(now time.Time) bool {
	switch {
	case !st.running:
		return true
	case st.waiting, st.task.SampleMode() == Continuous, st.task.Retriggerable():
		return false
	}
	return now.Sub(st.outputAt) >= st.task.Timing().CycleDuration()
}

// IsTaskDone reports whether the task has finished its output.
func (dev *SimulatedDevice) IsTaskDone(name string) (bool, error) {
	dev.Lock()
	defer dev.Unlock()
	st, err := dev.lookup(name)
	if err != nil {
		return false, err
	}
	return st.done(time.Now()), nil
}

// WaitUntilTaskIsDone polls until the task is done or timeout elapses.
// A timeout returns (false, nil).
func (dev *SimulatedDevice) WaitUntilTaskIsDone(name string, timeout time.Duration) (bool, error) {
	dev.Lock()
	err := dev.fault(OpWait, name)
	dev.Unlock()
	if err != nil {
		return false, err
	}

	const pollInterval = time.Millisecond
	deadline := time.Now().Add(timeout)
	for {
		done, err := dev.IsTaskDone(name)
		if err != nil || done {
			return done, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		time.Sleep(min(pollInterval, remaining))
	}
}

// HasTask reports whether a task of that name is registered.
func (dev *SimulatedDevice) HasTask(name string) bool {
	dev.Lock()
	defer dev.Unlock()
	_, ok := dev.tasks[name]
	return ok && !dev.closed
}

// IsTaskArmed reports whether the task has waveforms loaded, so that starting
// it will produce output (and trigger any task waiting on it).
func (dev *SimulatedDevice) IsTaskArmed(name string) (bool, error) {
	dev.Lock()
	defer dev.Unlock()
	st, err := dev.lookup(name)
	if err != nil {
		return false, err
	}
	return st.waveforms != nil, nil
}

// IsTaskWaiting reports whether the task was started but has not seen its trigger.
func (dev *SimulatedDevice) IsTaskWaiting(name string) (bool, error) {
	dev.Lock()
	defer dev.Unlock()
	st, err := dev.lookup(name)
	if err != nil {
		return false, err
	}
	return st.running && st.waiting, nil
}

// Waveforms returns a copy of the buffers last written to the task.
func (dev *SimulatedDevice) Waveforms(name string) (map[string][]float64, error) {
	dev.Lock()
	defer dev.Unlock()
	st, err := dev.lookup(name)
	if err != nil {
		return nil, err
	}
	result := make(map[string][]float64, len(st.waveforms))
	for port, w := range st.waveforms {
		result[port] = slices.Clone(w)
	}
	return result, nil
}

// WriteCount returns how many times the task's buffers were written.
func (dev *SimulatedDevice) WriteCount(name string) (int, error) {
	dev.Lock()
	defer dev.Unlock()
	st, err := dev.lookup(name)
	if err != nil {
		return 0, err
	}
	return st.writes, nil
}

// PulseTrain returns what a counter-output port is set to produce.
func (dev *SimulatedDevice) PulseTrain(name, port string) (PulseTrain, error) {
	dev.Lock()
	defer dev.Unlock()
	st, err := dev.lookup(name)
	if err != nil {
		return PulseTrain{}, err
	}
	p, ok := st.pulses[port]
	if !ok {
		return PulseTrain{}, fmt.Errorf("device %s: task %q has no pulse train on port %q", dev.config.Name, name, port)
	}
	return p, nil
}

// Handle returns the hardware handle assigned at registration.
func (dev *SimulatedDevice) Handle(name string) (ulid.ULID, error) {
	dev.Lock()
	defer dev.Unlock()
	st, err := dev.lookup(name)
	if err != nil {
		return ulid.ULID{}, err
	}
	return st.handle, nil
}

// TaskNames returns the registered task names, sorted.
func (dev *SimulatedDevice) TaskNames() []string {
	dev.Lock()
	defer dev.Unlock()
	return slices.Sorted(maps.Keys(dev.tasks))
}

// taskSnapshot is the part of a simulatedTask shown by Inspect.
type taskSnapshot struct {
	Handle   string
	Type     string
	Ports    []string
	Writes   int
	Running  bool
	Waiting  bool
	Trigger  string
	Finished bool
}

// Inspect returns a human-readable dump of the device and its task registry.
func (dev *SimulatedDevice) Inspect() string {
	dev.Lock()
	defer dev.Unlock()
	now := time.Now()
	snap := make(map[string]taskSnapshot, len(dev.tasks))
	for name, st := range dev.tasks {
		snap[name] = taskSnapshot{
			Handle:   st.handle.String(),
			Type:     st.task.Type().String(),
			Ports:    slices.Sorted(maps.Keys(st.waveforms)),
			Writes:   st.writes,
			Running:  st.running,
			Waiting:  st.waiting,
			Trigger:  st.task.TriggerSource(),
			Finished: st.done(now),
		}
	}
	return spew.Sdump(dev.config, snap)
}

// Close stops and forgets every task. Later calls fail.
func (dev *SimulatedDevice) Close() error {
	dev.Lock()
	defer dev.Unlock()
	if dev.closed {
		return fmt.Errorf("device %s is already closed", dev.config.Name)
	}
	for name, st := range dev.tasks {
		st.running = false
		delete(dev.tasks, name)
	}
	dev.closed = true
	return nil
}
