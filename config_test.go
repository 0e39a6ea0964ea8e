package wavedaq

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exampleTaskConfig() TaskConfig {
	return TaskConfig{
		Name:                "imaging",
		Type:                "ao",
		SamplingFrequencyHz: 10000,
		PeriodTimeMs:        10,
		RestTimeMs:          2,
		SampleMode:          "finite",
		TriggerSource:       "PFI0",
		TriggerEdge:         "falling",
		Filter:              "off",
		Channels: []ChannelSpec{
			{Name: "galvo", Port: "ao0", Shape: "triangle", CenterVolts: 0, AmplitudeVolts: 4,
				CutoffFrequencyHz: 500, PeakPoint: p2f(0.8)},
			{Name: "camera", Port: "ao1", Shape: "square", CenterVolts: 2.5, AmplitudeVolts: 2.5,
				CutoffFrequencyHz: 500, StartTimeMs: p2f(1), EndTimeMs: p2f(3)},
		},
	}
}

func TestTaskConfigBuild(t *testing.T) {
	dev := newTestDevice(t)
	tc := exampleTaskConfig()
	task, err := tc.Build(dev)
	require.NoError(t, err)
	assert.Equal(t, AnalogOutput, task.Type())
	assert.Equal(t, Finite, task.SampleMode())
	assert.Equal(t, TriggerOn, task.TriggerMode())
	assert.Equal(t, Falling, task.TriggerEdge())
	assert.Equal(t, "PFI0", task.TriggerSource())
	assert.Equal(t, FilterOff, task.Filter())
	assert.Equal(t, []string{"ao0", "ao1"}, task.Ports())

	described := DescribeTask(task)
	assert.Equal(t, "AO", described.Type)
	assert.Equal(t, "triangle", described.Channels[0].Shape)
	assert.Equal(t, 0.8, *described.Channels[0].PeakPoint)
	assert.Nil(t, described.Channels[0].StartTimeMs)
	assert.Equal(t, 3.0, *described.Channels[1].EndTimeMs)

	// Rebuilding from the description gives the same waveforms.
	require.NoError(t, task.Close())
	again, err := described.Build(dev)
	require.NoError(t, err)
	w1, err := again.GenerateWaveforms()
	require.NoError(t, err)
	rebuilt, err := tc.Build(newTestDevice(t))
	require.NoError(t, err)
	w2, err := rebuilt.GenerateWaveforms()
	require.NoError(t, err)
	assert.Equal(t, w2, w1)
}

func TestTaskConfigBuildFailures(t *testing.T) {
	dev := newTestDevice(t)
	var tests = []func(*TaskConfig){
		func(tc *TaskConfig) { tc.Type = "AI" },
		func(tc *TaskConfig) { tc.SampleMode = "forever" },
		func(tc *TaskConfig) { tc.TriggerEdge = "sideways" },
		func(tc *TaskConfig) { tc.Filter = "maybe" },
		func(tc *TaskConfig) { tc.PeriodTimeMs = 0 },
		func(tc *TaskConfig) { tc.Channels[1].Shape = "sine" },
		func(tc *TaskConfig) { tc.Channels[1].Port = "ao0" },
	}
	for i, modify := range tests {
		tc := exampleTaskConfig()
		tc.Channels = append([]ChannelSpec(nil), tc.Channels...)
		modify(&tc)
		_, err := tc.Build(dev)
		assert.Error(t, err, "bad config %d", i)
		assert.False(t, dev.HasTask("imaging"), "a failed build must not leave a task behind (case %d)", i)
	}
}

func TestTaskConfigViperRoundTrip(t *testing.T) {
	defer viper.Reset()
	configs := []TaskConfig{exampleTaskConfig()}
	require.NoError(t, SaveTaskConfigs(configs))
	loaded, err := LoadTaskConfigs()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, configs[0].Name, loaded[0].Name)
	assert.Equal(t, configs[0].Channels[0].PeakPoint, loaded[0].Channels[0].PeakPoint)

	dc, err := LoadDeviceConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultSimulatedDeviceConfig(), dc)

	viper.Set("device", map[string]any{"name": "Dev2", "aoports": []string{"ao0"}, "maxratehz": 5000.0})
	dc, err = LoadDeviceConfig()
	require.NoError(t, err)
	assert.Equal(t, "Dev2", dc.Name)
	assert.Equal(t, []string{"ao0"}, dc.AOPorts)
	assert.Equal(t, 5000.0, dc.MaxRateHz)
	assert.Equal(t, -10.0, dc.AOMinVolts, "unset keys keep their defaults")
}

func TestParseEnums(t *testing.T) {
	tt, err := ParseTaskType("co")
	require.NoError(t, err)
	assert.Equal(t, CounterOutput, tt)
	assert.Equal(t, "CO", tt.String())
	_, err = ParseTaskType("AI")
	assert.Error(t, err)
	assert.Equal(t, "written", Written.String())
	assert.Equal(t, "TaskState(42)", TaskState(42).String())
	fc, err := ParseFilterChoice("ON")
	require.NoError(t, err)
	assert.Equal(t, FilterOn, fc)
}
