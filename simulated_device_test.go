package wavedaq

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedDevicePorts(t *testing.T) {
	dev := newTestDevice(t)
	ao, err := dev.PhysicalChannels(AnalogOutput)
	require.NoError(t, err)
	assert.Len(t, ao, 13)
	assert.Equal(t, "ao12", ao[12])

	var tests = []struct {
		port  string
		tt    TaskType
		valid bool
	}{
		{"ao0", AnalogOutput, true},
		{"ao13", AnalogOutput, false},
		{"ctr1", CounterOutput, true},
		{"ctr1", AnalogOutput, false},
		{"port0/line1", DigitalOutput, true},
		{"port0/line2", DigitalOutput, false},
		{"ao0", TaskType(5), false},
	}
	for _, test := range tests {
		if got := dev.IsValidPort(test.port, test.tt); got != test.valid {
			t.Errorf("IsValidPort(%q, %v) = %t, want %t", test.port, test.tt, got, test.valid)
		}
	}

	lo, hi, err := dev.VoltageRange(AnalogOutput)
	require.NoError(t, err)
	assert.Equal(t, [2]float64{-10, 10}, [2]float64{lo, hi})
	lo, hi, err = dev.VoltageRange(CounterOutput)
	require.NoError(t, err)
	assert.Equal(t, [2]float64{0, 5}, [2]float64{lo, hi})
	lo, hi, err = dev.RateRange(DigitalOutput)
	require.NoError(t, err)
	assert.Equal(t, [2]float64{1, 1e6}, [2]float64{lo, hi})
	_, _, err = dev.RateRange(TaskType(-1))
	assert.Error(t, err)
}

func TestNewSimulatedDeviceValidation(t *testing.T) {
	good := DefaultSimulatedDeviceConfig()
	bad := []func(*SimulatedDeviceConfig){
		func(c *SimulatedDeviceConfig) { c.Name = "" },
		func(c *SimulatedDeviceConfig) { c.AOMinVolts = 10 },
		func(c *SimulatedDeviceConfig) { c.DOMaxVolts = -1 },
		func(c *SimulatedDeviceConfig) { c.MinRateHz = 0 },
		func(c *SimulatedDeviceConfig) { c.MaxRateHz = 0.5 },
	}
	for i, modify := range bad {
		config := good
		modify(&config)
		_, err := NewSimulatedDevice(config)
		assert.Error(t, err, "bad config %d", i)
	}
}

func TestSimulatedDeviceRegistry(t *testing.T) {
	dev := newTestDevice(t)
	a := newTestTask(t, dev, "a", AnalogOutput, 1000, 10, 0)
	newTestTask(t, dev, "b", AnalogOutput, 1000, 10, 0)
	assert.Equal(t, []string{"a", "b"}, dev.TaskNames())

	ha, err := dev.Handle("a")
	require.NoError(t, err)
	hb, err := dev.Handle("b")
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)

	_, err = dev.Handle("c")
	assert.Error(t, err)
	assert.Error(t, dev.StartTask("c"))
	_, err = dev.IsTaskDone("c")
	assert.Error(t, err)
	assert.Error(t, dev.StartTask("a"), "starting with no waveforms written")

	_, err = a.AddChannel(squareConfig("x", "ao0", 0, 1))
	require.NoError(t, err)
	require.NoError(t, a.Start())
	dump := dev.Inspect()
	assert.True(t, strings.Contains(dump, ha.String()), "Inspect should show task handles")
	assert.Error(t, dev.WriteTaskWaveforms("a", map[string][]float64{"ao0": make([]float64, 10)}),
		"writing a running task")

	require.NoError(t, dev.Close())
	assert.False(t, dev.HasTask("a"))
	assert.Error(t, dev.Close())
	assert.Error(t, dev.RegisterTask(a))
}

func TestSimulatedDeviceWriteValidation(t *testing.T) {
	dev := newTestDevice(t)
	newTestTask(t, dev, "w", AnalogOutput, 1000, 10, 0)
	ok := make([]float64, 10)
	var tests = []struct {
		name      string
		waveforms map[string][]float64
	}{
		{"empty", map[string][]float64{}},
		{"bad port", map[string][]float64{"ctr0": ok}},
		{"short", map[string][]float64{"ao0": make([]float64, 9)}},
		{"too high", map[string][]float64{"ao0": {0, 0, 0, 10.5, 0, 0, 0, 0, 0, 0}}},
	}
	for _, test := range tests {
		assert.Error(t, dev.WriteTaskWaveforms("w", test.waveforms), test.name)
	}
	require.NoError(t, dev.WriteTaskWaveforms("w", map[string][]float64{"ao0": ok}))
	armed, err := dev.IsTaskArmed("w")
	require.NoError(t, err)
	assert.True(t, armed)
}

func TestSimulatedDeviceExternalTrigger(t *testing.T) {
	dev := newTestDevice(t)
	task := newTestTask(t, dev, "stage", AnalogOutput, 1000, 10, 0)
	require.NoError(t, task.SetSampleMode(Finite))
	require.NoError(t, task.SetTrigger(TriggerOn, Rising, "PFI0"))
	_, err := task.AddChannel(squareConfig("x", "ao0", 0, 1))
	require.NoError(t, err)
	require.NoError(t, task.Start())

	done, err := task.WaitUntilDone(30 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, done, "a finite task waits for its trigger")

	dev.FireTrigger("PFI1")
	waiting, err := dev.IsTaskWaiting("stage")
	require.NoError(t, err)
	assert.True(t, waiting)

	dev.FireTrigger("PFI0")
	done, err = task.WaitUntilDone(time.Second)
	require.NoError(t, err)
	assert.True(t, done)

	require.NoError(t, task.Stop())
	require.NoError(t, task.SetRetriggerable(true))
	require.NoError(t, task.Start())
	dev.FireTrigger("PFI0")
	done, err = task.WaitUntilDone(30 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, done, "a retriggerable task keeps waiting for edges")
}
