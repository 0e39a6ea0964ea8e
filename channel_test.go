package wavedaq

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChannel(t *testing.T, cc ChannelConfig) *Channel {
	t.Helper()
	timing, err := NewTaskTiming(1000, 10, 2)
	require.NoError(t, err)
	c, err := newChannel(cc, timing, -10, 10)
	require.NoError(t, err)
	return c
}

func TestChannelDefaults(t *testing.T) {
	c := testChannel(t, ChannelConfig{Name: "galvo", Port: "ao0", Shape: Triangle,
		CenterVolts: 1, AmplitudeVolts: 2, CutoffFrequencyHz: 100})
	start, end := c.ActiveWindow()
	assert.Equal(t, 0.0, start)
	assert.Equal(t, 5.0, end)
	assert.Equal(t, 0.5, c.DutyCycle())
	_, hasPeak := c.PeakPoint()
	assert.False(t, hasPeak)
	assert.Equal(t, "galvo", c.Name())
	assert.Equal(t, "ao0", c.Port())
	assert.Equal(t, -10.0, c.MinDeviceVolts())
	assert.Equal(t, 10.0, c.MaxDeviceVolts())
	assert.Equal(t, 9.0, c.MaxAmplitudeVolts())
}

func TestChannelWindowClamping(t *testing.T) {
	var tests = []struct {
		start, end       float64
		wantStart, wantE float64
	}{
		{1, 4, 1, 4},
		{-1, 20, 0, 10},
		{6, 3, 6, 6},
		{12, 15, 10, 10},
		{-3, -1, 0, 0},
	}
	for _, test := range tests {
		cc := ChannelConfig{Name: "cam", Port: "ao1", Shape: Square, AmplitudeVolts: 1, CutoffFrequencyHz: 100}
		c := testChannel(t, cc.WithWindow(test.start, test.end))
		start, end := c.ActiveWindow()
		if start != test.wantStart || end != test.wantE {
			t.Errorf("window (%v, %v) clamped to (%v, %v), want (%v, %v)",
				test.start, test.end, start, end, test.wantStart, test.wantE)
		}
	}

	// Only one end given
	start := 3.0
	c := testChannel(t, ChannelConfig{Name: "x", Port: "ao2", Shape: Square, CutoffFrequencyHz: 100, StartTimeMs: &start})
	s, e := c.ActiveWindow()
	assert.Equal(t, 3.0, s)
	assert.Equal(t, 10.0, e)
}

func TestChannelPeakPoint(t *testing.T) {
	cc := ChannelConfig{Name: "galvo", Port: "ao0", Shape: Triangle, AmplitudeVolts: 1, CutoffFrequencyHz: 100}
	c := testChannel(t, cc.WithPeakPoint(0.3))
	p, ok := c.PeakPoint()
	assert.True(t, ok)
	assert.Equal(t, 0.3, p)
	start, end := c.ActiveWindow()
	assert.Equal(t, 0.0, start)
	assert.InDelta(t, 3.0, end, 1e-12)

	timing, err := NewTaskTiming(1000, 10, 2)
	require.NoError(t, err)
	bad := []ChannelConfig{
		cc.WithPeakPoint(0),
		cc.WithPeakPoint(1.5),
		cc.WithPeakPoint(math.NaN()),
		cc.WithPeakPoint(0.5).WithWindow(0, 5),
		{Name: "sq", Port: "ao1", Shape: Square, CutoffFrequencyHz: 100, PeakPoint: p2f(0.5)},
	}
	for i, b := range bad {
		_, err := newChannel(b, timing, -10, 10)
		assert.ErrorIs(t, err, ErrInvalidChannel, "bad config %d", i)
	}

	require.NoError(t, c.SetPeakPoint(1))
	_, end = c.ActiveWindow()
	assert.Equal(t, 10.0, end)
	require.NoError(t, c.SetActiveWindow(2, 4))
	_, ok = c.PeakPoint()
	assert.False(t, ok, "setting a window clears the peak point")
}

func p2f(v float64) *float64 { return &v }

// For every channel the output stays within the device range after clamping.
func TestChannelVoltageInvariant(t *testing.T) {
	for _, center := range []float64{-10, -9.5, -3, 0, 0.1, 4, 9.99, 10} {
		for _, amp := range []float64{0, 0.5, 3, 12, 25, -2} {
			c := testChannel(t, ChannelConfig{Name: "c", Port: "ao0", Shape: Square,
				CenterVolts: center, AmplitudeVolts: amp, CutoffFrequencyHz: 100})
			lo := c.CenterVolts() - c.AmplitudeVolts()
			hi := c.CenterVolts() + c.AmplitudeVolts()
			const tolerance = 1e-12
			if lo < c.MinDeviceVolts()-tolerance || hi > c.MaxDeviceVolts()+tolerance || c.AmplitudeVolts() < 0 {
				t.Errorf("center %v amp %v gives output range [%v, %v]", center, amp, lo, hi)
			}
		}
	}
}

func TestChannelValidation(t *testing.T) {
	timing, err := NewTaskTiming(1000, 10, 0)
	require.NoError(t, err)
	good := ChannelConfig{Name: "c", Port: "ao0", Shape: Square, CutoffFrequencyHz: 100}
	bad := []ChannelConfig{
		{Port: "ao0", Shape: Square, CutoffFrequencyHz: 100},
		{Name: "c", Shape: Square, CutoffFrequencyHz: 100},
		{Name: "c", Port: "ao0", Shape: WaveformShape(9), CutoffFrequencyHz: 100},
		{Name: "c", Port: "ao0", Shape: Square, CenterVolts: 11, CutoffFrequencyHz: 100},
		{Name: "c", Port: "ao0", Shape: Square, CenterVolts: -10.5, CutoffFrequencyHz: 100},
		{Name: "c", Port: "ao0", Shape: Square, CutoffFrequencyHz: 0},
		{Name: "c", Port: "ao0", Shape: Square, CutoffFrequencyHz: 500},
		{Name: "c", Port: "ao0", Shape: Square, AmplitudeVolts: math.NaN(), CutoffFrequencyHz: 100},
	}
	_, err = newChannel(good, timing, -10, 10)
	assert.NoError(t, err)
	for i, b := range bad {
		_, err := newChannel(b, timing, -10, 10)
		assert.ErrorIs(t, err, ErrInvalidChannel, "bad config %d", i)
	}
}

func TestChannelSetters(t *testing.T) {
	c := testChannel(t, ChannelConfig{Name: "laser", Port: "ao3", Shape: Square,
		CenterVolts: 0, AmplitudeVolts: 8, CutoffFrequencyHz: 100})
	rev := c.revision

	require.NoError(t, c.SetCenterVolts(5))
	assert.Equal(t, 5.0, c.AmplitudeVolts(), "amplitude should be reclamped to the new headroom")
	assert.ErrorIs(t, c.SetCenterVolts(10.1), ErrInvalidChannel)
	assert.Equal(t, 5.0, c.CenterVolts())

	require.NoError(t, c.SetAmplitudeVolts(1))
	assert.Equal(t, 1.0, c.AmplitudeVolts())
	require.NoError(t, c.SetAmplitudeVolts(100))
	assert.Equal(t, 5.0, c.AmplitudeVolts())

	assert.ErrorIs(t, c.SetCutoffFrequencyHz(600), ErrInvalidChannel)
	require.NoError(t, c.SetCutoffFrequencyHz(250))
	assert.Equal(t, 250.0, c.CutoffFrequencyHz())

	assert.ErrorIs(t, c.SetPeakPoint(0.5), ErrInvalidChannel, "peak point needs a triangle")
	require.NoError(t, c.SetShape(Triangle))
	assert.Equal(t, Triangle, c.Shape())
	assert.Greater(t, c.revision, rev)

	c.squareOnly = true
	require.NoError(t, c.SetShape(Triangle))
	assert.Equal(t, Square, c.Shape(), "counter-output channels stay square")
}

func TestChannelGenerateWaveformIsPure(t *testing.T) {
	c := testChannel(t, ChannelConfig{Name: "galvo", Port: "ao0", Shape: Triangle,
		CenterVolts: 1, AmplitudeVolts: 4, CutoffFrequencyHz: 80})
	timing, err := NewTaskTiming(1000, 10, 2)
	require.NoError(t, err)
	w1, err := c.GenerateWaveform(timing, FilterDefault)
	require.NoError(t, err)
	w2, err := c.GenerateWaveform(timing, FilterDefault)
	require.NoError(t, err)
	assert.Equal(t, w1, w2)
	assert.Len(t, w1, 12)
}
