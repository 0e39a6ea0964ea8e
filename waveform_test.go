package wavedaq

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestParseWaveformShape(t *testing.T) {
	for name, want := range map[string]WaveformShape{
		"square": Square, "Square Wave": Square, " TRIANGLE ": Triangle, "triangle wave": Triangle,
	} {
		got, err := ParseWaveformShape(name)
		assert.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseWaveformShape("sawtooth")
	assert.ErrorIs(t, err, ErrInvalidChannel)
	assert.Equal(t, "triangle", Triangle.String())
}

func TestSquareWaveform(t *testing.T) {
	timing, err := NewTaskTiming(1000, 10, 0)
	require.NoError(t, err)
	var tests = []struct {
		start, end float64
		nhigh      int
		firstHigh  int
	}{
		{0, 5, 5, 0},
		{2, 5, 3, 2},
		{0, 10, 10, 0},
		{4, 4, 0, 4},
		{7.5, 9.99, 2, 7},
	}
	for _, test := range tests {
		p := WaveformParams{Shape: Square, CenterVolts: 1, AmplitudeVolts: 2,
			StartTimeMs: test.start, EndTimeMs: test.end, CutoffFrequencyHz: 100}
		w, err := Synthesize(p, timing, FilterDefault)
		require.NoError(t, err)
		require.Len(t, w, 10)
		for i, v := range w {
			want := -1.0
			if i >= test.firstHigh && i < test.firstHigh+test.nhigh {
				want = 3.0
			}
			if v != want {
				t.Errorf("square window (%v, %v): sample %d = %v, want %v", test.start, test.end, i, v, want)
			}
		}
	}
}

func TestSquareWaveformAtOneMegahertz(t *testing.T) {
	timing, err := NewTaskTiming(1e6, 10, 0)
	require.NoError(t, err)
	p := WaveformParams{Shape: Square, AmplitudeVolts: 5, StartTimeMs: 0, EndTimeMs: 5, CutoffFrequencyHz: 1000}
	w, err := Synthesize(p, timing, FilterDefault)
	require.NoError(t, err)
	require.Len(t, w, 10000)
	for i := 0; i < 5000; i++ {
		require.Equal(t, 5.0, w[i], "sample %d", i)
	}
	for i := 5000; i < 10000; i++ {
		require.Equal(t, -5.0, w[i], "sample %d", i)
	}
}

func TestTriangleWaveform(t *testing.T) {
	timing, err := NewTaskTiming(1000, 10, 5)
	require.NoError(t, err)
	p := WaveformParams{Shape: Triangle, CenterVolts: 0, AmplitudeVolts: 2, EndTimeMs: 5, CutoffFrequencyHz: 100}
	w, err := Synthesize(p, timing, FilterOff)
	require.NoError(t, err)
	expect := []float64{-1, -0.6, -0.2, 0.2, 0.6, 1, 0.6, 0.2, -0.2, -0.6, -1, -1, -1, -1, -1}
	require.Len(t, w, len(expect))
	assert.InDeltaSlice(t, expect, w, 1e-12)
}

// A window ending at zero leaves no ramp up: the cycle starts at the peak and
// ramps down across the whole period.
func TestTriangleZeroLengthWindow(t *testing.T) {
	timing, err := NewTaskTiming(1000, 10, 0)
	require.NoError(t, err)
	p := WaveformParams{Shape: Triangle, CenterVolts: 0, AmplitudeVolts: 2, EndTimeMs: 0, CutoffFrequencyHz: 100}
	w, err := Synthesize(p, timing, FilterOff)
	require.NoError(t, err)
	expect := []float64{1, 0.8, 0.6, 0.4, 0.2, 0, -0.2, -0.4, -0.6, -0.8}
	assert.InDeltaSlice(t, expect, w, 1e-12)
}

func TestTriangleUnimodal(t *testing.T) {
	timing, err := NewTaskTiming(20000, 10, 3)
	require.NoError(t, err)
	for _, end := range []float64{1, 2.5, 5, 7.7, 10} {
		p := WaveformParams{Shape: Triangle, CenterVolts: 1.5, AmplitudeVolts: 3, EndTimeMs: end, CutoffFrequencyHz: 500}
		w, err := Synthesize(p, timing, FilterOff)
		require.NoError(t, err)
		require.Len(t, w, timing.SamplesPerCycle())
		assert.Equal(t, 0.0, w[0], "first sample should be center-amplitude/2")

		_, periodEnd := timing.PeriodSampleRange()
		active := w[:periodEnd]
		i := 1
		for i < len(active) && active[i] >= active[i-1] {
			i++
		}
		for i < len(active) && active[i] <= active[i-1] {
			i++
		}
		assert.Equal(t, len(active), i, "end=%v ms: triangle is not unimodal", end)
		for _, v := range w[periodEnd:] {
			assert.Equal(t, 0.0, v)
		}
	}
}

func TestTriangleFilteredMatchesUnfiltered(t *testing.T) {
	timing, err := NewTaskTiming(10000, 10, 0)
	require.NoError(t, err)
	p := WaveformParams{Shape: Triangle, CenterVolts: 2, AmplitudeVolts: 4, EndTimeMs: 5, CutoffFrequencyHz: 500}
	raw, err := Synthesize(p, timing, FilterOff)
	require.NoError(t, err)
	filtered, err := Synthesize(p, timing, FilterDefault)
	require.NoError(t, err)
	require.Len(t, filtered, len(raw))
	assert.InDelta(t, stat.Mean(raw, nil), stat.Mean(filtered, nil), 0.01)
	assert.NotEqual(t, raw, filtered)

	again, err := Synthesize(p, timing, FilterDefault)
	require.NoError(t, err)
	assert.Equal(t, filtered, again, "synthesis should be deterministic")
}

func TestSynthesizeErrors(t *testing.T) {
	good, err := NewTaskTiming(1000, 10, 0)
	require.NoError(t, err)
	_, err = Synthesize(WaveformParams{Shape: WaveformShape(7)}, good, FilterOff)
	assert.ErrorIs(t, err, ErrInvalidChannel)

	_, err = Synthesize(WaveformParams{Shape: Square}, TaskTiming{SamplingFrequencyHz: 1000}, FilterOff)
	assert.ErrorIs(t, err, ErrInvalidTiming)

	p := WaveformParams{Shape: Triangle, AmplitudeVolts: 1, EndTimeMs: 5, CutoffFrequencyHz: 600}
	_, err = Synthesize(p, good, FilterOn)
	if !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("cutoff above Nyquist gave error %v, want ErrInvalidChannel", err)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize("ao0", []float64{-1, 1, -1, 1})
	assert.Equal(t, WaveformSummary{Port: "ao0", Samples: 4, Min: -1, Max: 1, Mean: 0, StdDev: s.StdDev}, s)
	assert.InDelta(t, 1.1547, s.StdDev, 1e-4)
	assert.Equal(t, WaveformSummary{Port: "x"}, Summarize("x", nil))
}
