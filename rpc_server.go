package wavedaq

import (
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"github.com/usnistgov/wavedaq/internal/metrics"
	"github.com/usnistgov/wavedaq/internal/wavedb"
	"github.com/usnistgov/wavedaq/internal/wavefile"
)

// WaveControl is the RPC service that creates, configures and runs output
// tasks on one device.
type WaveControl struct {
	device    *SimulatedDevice
	tasks     map[string]*Task
	order     []string // task names in creation order
	runs      map[string]*wavedb.TaskRunMessage
	db        *wavedb.Connection
	exportDir string

	clientUpdates chan<- ClientUpdate // nil means the package status publisher
	mu            sync.Mutex
}

// ServerStatus is the status that WaveControl reports to clients.
type ServerStatus struct {
	Device  string
	Version string
	Uptime  string
	Running int
	Tasks   []TaskStatus
}

// TaskStatus describes one task in a ServerStatus.
type TaskStatus struct {
	Name                string
	Type                string
	State               string
	SampleMode          string
	TriggerSource       string
	WaveformFrequencyHz float64
	TotalCycleTimeMs    float64
	SamplesPerCycle     int
	Ports               []string
}

// ChannelArgs holds the arguments to AddChannel.
type ChannelArgs struct {
	Task    string
	Channel ChannelSpec
}

// PortArgs names one channel of one task.
type PortArgs struct {
	Task string
	Port string
}

// ExportArgs holds the arguments to ExportWaveforms. An empty Directory means
// the configured export directory.
type ExportArgs struct {
	Task      string
	Directory string
}

// NewWaveControl creates the service on the given device. The database
// connection may be nil.
func NewWaveControl(device *SimulatedDevice, db *wavedb.Connection) *WaveControl {
	if db == nil {
		db = wavedb.DummyConnection()
	}
	return &WaveControl{
		device:    device,
		tasks:     make(map[string]*Task),
		runs:      make(map[string]*wavedb.TaskRunMessage),
		db:        db,
		exportDir: viper.GetString("export.directory"),
	}
}

func observe(method string, start time.Time, err *error) {
	metrics.RecordRPC(method, *err, time.Since(start))
}

func (s *WaveControl) lookup(name string) (*Task, error) {
	t, ok := s.tasks[name]
	if !ok {
		return nil, fmt.Errorf("no task named %q", name)
	}
	return t, nil
}

// addTask builds a task from its configuration and takes ownership of it.
func (s *WaveControl) addTask(tc TaskConfig) (*Task, error) {
	if _, exists := s.tasks[tc.Name]; exists {
		return nil, fmt.Errorf("task %q already exists", tc.Name)
	}
	t, err := tc.Build(s.device)
	if err != nil {
		return nil, err
	}
	s.tasks[t.Name()] = t
	s.order = append(s.order, t.Name())
	metrics.RecordTaskCreated(t.Type().String())
	return t, nil
}

// saveTasks stores the configuration of every open task.
func (s *WaveControl) saveTasks() {
	configs := make([]TaskConfig, 0, len(s.order))
	for _, name := range s.order {
		configs = append(configs, DescribeTask(s.tasks[name]))
	}
	if err := SaveTaskConfigs(configs); err != nil {
		ProblemLogger.Printf("Could not save task configuration: %v", err)
	}
}

// restoreTasks rebuilds the tasks stored in the config file.
func (s *WaveControl) restoreTasks() {
	configs, err := LoadTaskConfigs()
	if err != nil {
		ProblemLogger.Print(err)
		return
	}
	for _, tc := range configs {
		if _, err := s.addTask(tc); err != nil {
			ProblemLogger.Printf("Could not restore task %q: %v", tc.Name, err)
		}
	}
}

// CreateTask creates a task and its channels from a full configuration.
func (s *WaveControl) CreateTask(args *TaskConfig, reply *bool) (err error) {
	defer observe("CreateTask", time.Now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.addTask(*args)
	*reply = (err == nil)
	if err != nil {
		return err
	}
	s.saveTasks()
	s.broadcastTask(t)
	return nil
}

// AddChannel adds one channel to an existing task.
func (s *WaveControl) AddChannel(args *ChannelArgs, reply *bool) (err error) {
	defer observe("AddChannel", time.Now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	*reply = false
	t, err := s.lookup(args.Task)
	if err != nil {
		return err
	}
	cc, err := args.Channel.ChannelConfig()
	if err != nil {
		return err
	}
	if _, err = t.AddChannel(cc); err != nil {
		return err
	}
	*reply = true
	s.saveTasks()
	s.broadcastTask(t)
	return nil
}

// RemoveChannel removes one channel from a task.
func (s *WaveControl) RemoveChannel(args *PortArgs, reply *bool) (err error) {
	defer observe("RemoveChannel", time.Now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	*reply = false
	t, err := s.lookup(args.Task)
	if err != nil {
		return err
	}
	if err = t.RemoveChannel(args.Port); err != nil {
		return err
	}
	*reply = true
	s.saveTasks()
	s.broadcastTask(t)
	return nil
}

// Start starts the named tasks as one group, triggered tasks first.
func (s *WaveControl) Start(names *[]string, reply *bool) (err error) {
	defer observe("Start", time.Now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	*reply = false
	if len(*names) == 0 {
		return fmt.Errorf("no tasks named to start")
	}
	group := make([]*Task, len(*names))
	for i, name := range *names {
		if group[i], err = s.lookup(name); err != nil {
			return err
		}
	}
	for _, t := range group {
		_, t.RequireArmedTrigger = s.tasks[t.TriggerSource()]
	}
	err = StartInTriggerOrder(group)
	metrics.RecordTransition("start", err)
	if err != nil {
		s.broadcastUpdate()
		return err
	}
	for _, t := range group {
		s.recordRun(t)
		s.broadcastTask(t)
	}
	*reply = true
	s.broadcastUpdate()
	return nil
}

// Stop stops one task.
func (s *WaveControl) Stop(name *string, reply *bool) (err error) {
	defer observe("Stop", time.Now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	*reply = false
	t, err := s.lookup(*name)
	if err != nil {
		return err
	}
	err = t.Stop()
	metrics.RecordTransition("stop", err)
	if err != nil {
		return err
	}
	s.finishRun(t.Name())
	*reply = true
	s.broadcastTask(t)
	s.broadcastUpdate()
	return nil
}

// Close stops and releases one task and forgets it.
func (s *WaveControl) Close(name *string, reply *bool) (err error) {
	defer observe("Close", time.Now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	*reply = false
	t, err := s.lookup(*name)
	if err != nil {
		return err
	}
	err = t.Close()
	metrics.RecordTransition("close", err)
	if err != nil {
		return err
	}
	s.finishRun(t.Name())
	delete(s.tasks, t.Name())
	for i, n := range s.order {
		if n == t.Name() {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	*reply = true
	s.saveTasks()
	s.broadcastUpdate()
	return nil
}

// Describe returns the full configuration of one task.
func (s *WaveControl) Describe(name *string, reply *TaskConfig) (err error) {
	defer observe("Describe", time.Now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(*name)
	if err != nil {
		return err
	}
	*reply = DescribeTask(t)
	return nil
}

// Status returns the state of every task.
func (s *WaveControl) Status(dummy *string, reply *ServerStatus) (err error) {
	defer observe("Status", time.Now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	*reply = s.status()
	return nil
}

// Waveforms synthesizes the named task's waveforms and returns a summary per port.
func (s *WaveControl) Waveforms(name *string, reply *[]WaveformSummary) (err error) {
	defer observe("Waveforms", time.Now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(*name)
	if err != nil {
		return err
	}
	synthStart := time.Now()
	waveforms, err := t.GenerateWaveforms()
	if err != nil {
		return err
	}
	metrics.RecordSynthesis(time.Since(synthStart))
	summaries := make([]WaveformSummary, 0, len(waveforms))
	for _, port := range t.Ports() {
		summaries = append(summaries, Summarize(port, waveforms[port]))
	}
	*reply = summaries
	s.publish(TopicWaveform, map[string]any{"Task": t.Name(), "Summaries": summaries})
	return nil
}

// ExportWaveforms writes the named task's waveforms as .npy files and returns
// the paths written.
func (s *WaveControl) ExportWaveforms(args *ExportArgs, reply *[]string) (err error) {
	defer observe("ExportWaveforms", time.Now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.lookup(args.Task)
	if err != nil {
		return err
	}
	dir := args.Directory
	if dir == "" {
		dir = s.exportDir
	}
	if dir == "" {
		return fmt.Errorf("no export directory given or configured")
	}
	dir, err = expandHome(dir)
	if err != nil {
		return err
	}
	waveforms, err := t.GenerateWaveforms()
	if err != nil {
		return err
	}
	paths, err := wavefile.Export(dir, t.Name(), waveforms)
	if err != nil {
		return err
	}
	UpdateLogger.Printf("Task %q: exported %d waveforms to %s", t.Name(), len(paths), dir)
	*reply = paths
	return nil
}

// Inspect returns a dump of the device's internal state.
func (s *WaveControl) Inspect(dummy *string, reply *string) (err error) {
	defer observe("Inspect", time.Now(), &err)
	// The device dump reads task settings that the other handlers change.
	s.mu.Lock()
	defer s.mu.Unlock()
	*reply = s.device.Inspect()
	return nil
}

// SendAllStatus causes a broadcast to clients containing all broadcastable status info.
func (s *WaveControl) SendAllStatus(dummy *string, reply *bool) (err error) {
	defer observe("SendAllStatus", time.Now(), &err)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastUpdate()
	for _, name := range s.order {
		s.broadcastTask(s.tasks[name])
	}
	s.publish(TopicSendAll, 0)
	*reply = true
	return nil
}

func (s *WaveControl) status() ServerStatus {
	st := ServerStatus{
		Device:  s.device.Name(),
		Version: Build.Version,
		Uptime:  time.Since(StartTime).Round(time.Second).String(),
		Tasks:   make([]TaskStatus, 0, len(s.order)),
	}
	channels := 0
	for _, name := range s.order {
		t := s.tasks[name]
		if t.State() == Running {
			if done, err := t.IsDone(); err == nil && done {
				// Finished finite tasks are stopped so they can be restarted.
				if err := t.Stop(); err == nil {
					s.finishRun(name)
				}
			}
		}
		ts := describeStatus(t)
		if t.State() == Running {
			st.Running++
		}
		channels += len(ts.Ports)
		st.Tasks = append(st.Tasks, ts)
	}
	metrics.UpdateTaskGauges(st.Running, channels)
	return st
}

func describeStatus(t *Task) TaskStatus {
	ts := TaskStatus{
		Name:                t.Name(),
		Type:                t.Type().String(),
		State:               t.State().String(),
		SampleMode:          t.SampleMode().String(),
		WaveformFrequencyHz: t.WaveformFrequencyHz(),
		TotalCycleTimeMs:    t.TotalCycleTimeMs(),
		SamplesPerCycle:     t.Timing().SamplesPerCycle(),
		Ports:               t.Ports(),
	}
	if t.TriggerMode() == TriggerOn {
		ts.TriggerSource = t.TriggerSource()
	}
	return ts
}

func (s *WaveControl) broadcastUpdate() {
	s.publish(TopicStatus, s.status())
}

func (s *WaveControl) broadcastTask(t *Task) {
	s.publish(TopicTask, DescribeTask(t))
}

func (s *WaveControl) publish(tag string, state any) {
	update := ClientUpdate{tag, state}
	if s.clientUpdates != nil {
		s.clientUpdates <- update
		return
	}
	queueUpdate(update)
}

func (s *WaveControl) recordRun(t *Task) {
	tc := DescribeTask(t)
	msg := &wavedb.TaskRunMessage{
		ID:                  wavedb.NewID(),
		TaskName:            tc.Name,
		TaskType:            tc.Type,
		SamplingFrequencyHz: tc.SamplingFrequencyHz,
		PeriodTimeMs:        tc.PeriodTimeMs,
		RestTimeMs:          tc.RestTimeMs,
		SampleMode:          tc.SampleMode,
		TriggerSource:       tc.TriggerSource,
		Ports:               t.Ports(),
		Start:               time.Now(),
	}
	s.runs[t.Name()] = msg
	s.db.RecordTaskRun(msg)
}

func (s *WaveControl) finishRun(name string) {
	if msg, ok := s.runs[name]; ok {
		s.db.FinishTaskRun(msg)
		delete(s.runs, name)
	}
}

// closeAll stops and closes every task, for server shutdown.
func (s *WaveControl) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := append([]string(nil), s.order...)
	sort.Strings(names)
	for _, name := range names {
		if err := s.tasks[name].Close(); err != nil {
			ProblemLogger.Printf("Could not close task %q at shutdown: %v", name, err)
		}
		s.finishRun(name)
	}
}

func expandHome(dir string) (string, error) {
	if !strings.Contains(dir, "$HOME") {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Clean(strings.Replace(dir, "$HOME", home, 1)), nil
}

func startDatabase(abort <-chan struct{}) *wavedb.Connection {
	if !viper.GetBool("database.enable") {
		return wavedb.DummyConnection()
	}
	activity := &wavedb.ActivityMessage{
		ID:        wavedb.NewID(),
		Hostname:  Build.Host,
		Githash:   Build.Githash,
		Version:   Build.Version,
		GoVersion: runtime.Version(),
		CPUs:      runtime.NumCPU(),
		Start:     StartTime,
	}
	db := wavedb.StartConnection(activity, abort)
	if !db.IsConnected() {
		ProblemLogger.Printf("Could not connect to the task-run database: %v", db.Err())
	}
	return db
}

// RunRPCServer sets up and runs a permanent JSON-RPC server. If block, it
// blocks until the listener fails; otherwise it returns once listening.
func RunRPCServer(portrpc int, block bool) error {
	config, err := LoadDeviceConfig()
	if err != nil {
		return err
	}
	device, err := NewSimulatedDevice(config)
	if err != nil {
		return err
	}
	abort := make(chan struct{})
	db := startDatabase(abort)
	waveControl := NewWaveControl(device, db)

	UpdateLogger.Printf("wavedaq is using config file %s", viper.ConfigFileUsed())
	waveControl.restoreTasks()

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-abort:
				return
			case <-ticker.C:
				waveControl.mu.Lock()
				waveControl.broadcastUpdate()
				waveControl.mu.Unlock()
			}
		}
	}()

	server := rpc.NewServer()
	if err := server.Register(waveControl); err != nil {
		close(abort)
		return err
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", portrpc))
	if err != nil {
		close(abort)
		return fmt.Errorf("listen error: %w", err)
	}
	serve := func() error {
		defer func() {
			waveControl.closeAll()
			close(abort)
			db.Wait()
		}()
		for {
			conn, err := listener.Accept()
			if err != nil {
				return fmt.Errorf("accept error: %w", err)
			}
			UpdateLogger.Printf("new connection established from %s", conn.RemoteAddr())
			go server.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}
	if block {
		return serve()
	}
	go func() {
		if err := serve(); err != nil {
			ProblemLogger.Print(err)
		}
	}()
	return nil
}
