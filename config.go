package wavedaq

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ChannelSpec is the stored (and RPC) form of a ChannelConfig, with the shape
// written out as a string.
type ChannelSpec struct {
	Name              string
	Port              string
	Shape             string
	CenterVolts       float64
	AmplitudeVolts    float64
	CutoffFrequencyHz float64
	StartTimeMs       *float64 `json:",omitempty" yaml:",omitempty"`
	EndTimeMs         *float64 `json:",omitempty" yaml:",omitempty"`
	PeakPoint         *float64 `json:",omitempty" yaml:",omitempty"`
}

// ChannelConfig converts the stored form to the form Task.AddChannel takes.
func (cs ChannelSpec) ChannelConfig() (ChannelConfig, error) {
	shape, err := ParseWaveformShape(cs.Shape)
	if err != nil {
		return ChannelConfig{}, fmt.Errorf("channel %q: %w", cs.Name, err)
	}
	return ChannelConfig{
		Name:              cs.Name,
		Port:              cs.Port,
		Shape:             shape,
		CenterVolts:       cs.CenterVolts,
		AmplitudeVolts:    cs.AmplitudeVolts,
		CutoffFrequencyHz: cs.CutoffFrequencyHz,
		StartTimeMs:       cs.StartTimeMs,
		EndTimeMs:         cs.EndTimeMs,
		PeakPoint:         cs.PeakPoint,
	}, nil
}

// DescribeChannel returns the stored form of a channel's current settings.
func DescribeChannel(c *Channel) ChannelSpec {
	cs := ChannelSpec{
		Name:              c.name,
		Port:              c.port,
		Shape:             c.shape.String(),
		CenterVolts:       c.centerVolts,
		AmplitudeVolts:    c.amplitudeVolts,
		CutoffFrequencyHz: c.cutoffFrequencyHz,
	}
	if p, ok := c.PeakPoint(); ok {
		cs.PeakPoint = &p
	} else {
		start, end := c.ActiveWindow()
		cs.StartTimeMs, cs.EndTimeMs = &start, &end
	}
	return cs
}

// TaskConfig is the stored (and RPC) form of a Task and its channels.
type TaskConfig struct {
	Name                string
	Type                string // AO, DO or CO
	SamplingFrequencyHz float64
	PeriodTimeMs        float64
	RestTimeMs          float64
	SampleMode          string // continuous or finite
	TriggerSource       string // empty for no trigger
	TriggerEdge         string // rising or falling
	Retriggerable       bool
	Filter              string // default, on or off
	Channels            []ChannelSpec
}

// ParseFilterChoice accepts "default" (or ""), "on" and "off".
func ParseFilterChoice(name string) (FilterChoice, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return FilterDefault, nil
	case "on":
		return FilterOn, nil
	case "off":
		return FilterOff, nil
	}
	return FilterDefault, fmt.Errorf("filter choice %q is not one of (default, on, off)", name)
}

func (fc FilterChoice) String() string {
	switch fc {
	case FilterOn:
		return "on"
	case FilterOff:
		return "off"
	}
	return "default"
}

// Build creates the task on dev and adds every channel. If anything fails, a
// task that was already registered is closed again.
func (tc TaskConfig) Build(dev Device) (*Task, error) {
	tt, err := ParseTaskType(tc.Type)
	if err != nil {
		return nil, err
	}
	mode, err := ParseSampleMode(tc.SampleMode)
	if err != nil {
		return nil, err
	}
	edge, err := ParseTriggerEdge(tc.TriggerEdge)
	if err != nil {
		return nil, err
	}
	filter, err := ParseFilterChoice(tc.Filter)
	if err != nil {
		return nil, err
	}
	ccs := make([]ChannelConfig, len(tc.Channels))
	for i, cs := range tc.Channels {
		if ccs[i], err = cs.ChannelConfig(); err != nil {
			return nil, err
		}
	}
	timing, err := NewTaskTiming(tc.SamplingFrequencyHz, tc.PeriodTimeMs, tc.RestTimeMs)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", tc.Name, err)
	}

	task, err := NewTask(tc.Name, tt, timing, dev)
	if err != nil {
		return nil, err
	}
	if err := tc.configure(task, mode, edge, filter, ccs); err != nil {
		if closeErr := task.Close(); closeErr != nil {
			ProblemLogger.Printf("Could not close task %q after failed configuration: %v", tc.Name, closeErr)
		}
		return nil, err
	}
	return task, nil
}

func (tc TaskConfig) configure(task *Task, mode SampleMode, edge TriggerEdge, filter FilterChoice, ccs []ChannelConfig) error {
	if err := task.SetSampleMode(mode); err != nil {
		return err
	}
	if tc.TriggerSource != "" {
		if err := task.SetTrigger(TriggerOn, edge, tc.TriggerSource); err != nil {
			return err
		}
	}
	if err := task.SetRetriggerable(tc.Retriggerable); err != nil {
		return err
	}
	if err := task.SetFilter(filter); err != nil {
		return err
	}
	for _, cc := range ccs {
		if _, err := task.AddChannel(cc); err != nil {
			return err
		}
	}
	return nil
}

// DescribeTask returns the stored form of a task's current settings.
func DescribeTask(t *Task) TaskConfig {
	tc := TaskConfig{
		Name:                t.name,
		Type:                t.taskType.String(),
		SamplingFrequencyHz: t.timing.SamplingFrequencyHz,
		PeriodTimeMs:        t.timing.PeriodTimeMs,
		RestTimeMs:          t.timing.RestTimeMs,
		SampleMode:          t.sampleMode.String(),
		TriggerEdge:         t.triggerEdge.String(),
		Retriggerable:       t.retriggerable,
		Filter:              t.filter.String(),
		Channels:            make([]ChannelSpec, len(t.channels)),
	}
	if t.triggerMode == TriggerOn {
		tc.TriggerSource = t.triggerSource
	}
	for i, c := range t.channels {
		tc.Channels[i] = DescribeChannel(c)
	}
	return tc
}

// LoadDeviceConfig reads the "device" key of the config file, falling back to
// DefaultSimulatedDeviceConfig when it is absent.
func LoadDeviceConfig() (SimulatedDeviceConfig, error) {
	config := DefaultSimulatedDeviceConfig()
	if !viper.IsSet("device") {
		return config, nil
	}
	if err := viper.UnmarshalKey("device", &config); err != nil {
		return config, fmt.Errorf("reading device configuration: %w", err)
	}
	return config, nil
}

// LoadTaskConfigs reads the "tasks" key of the config file.
func LoadTaskConfigs() ([]TaskConfig, error) {
	var configs []TaskConfig
	if err := viper.UnmarshalKey("tasks", &configs); err != nil {
		return nil, fmt.Errorf("reading task configuration: %w", err)
	}
	return configs, nil
}

// SaveTaskConfigs stores the tasks under the "tasks" key and writes the
// config file.
func SaveTaskConfigs(configs []TaskConfig) error {
	viper.Set("tasks", configs)
	if viper.ConfigFileUsed() == "" {
		return nil
	}
	return viper.WriteConfig()
}
