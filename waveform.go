package wavedaq

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// WaveformShape selects the periodic signal a channel produces.
type WaveformShape int

// Names for the possible values of WaveformShape
const (
	Square   WaveformShape = iota // high during the active window, low elsewhere
	Triangle                      // linear ramp up to the window end, then down
)

func (s WaveformShape) String() string {
	switch s {
	case Square:
		return "square"
	case Triangle:
		return "triangle"
	}
	return fmt.Sprintf("WaveformShape(%d)", int(s))
}

// ParseWaveformShape converts "square" or "triangle" (any case) to a WaveformShape.
func ParseWaveformShape(name string) (WaveformShape, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "square", "square wave":
		return Square, nil
	case "triangle", "triangle wave":
		return Triangle, nil
	}
	return Square, invalidChannelf("waveform shape %q is not one of (square, triangle)", name)
}

// FilterChoice says whether to low-pass filter a synthesized waveform.
type FilterChoice int

// Possible FilterChoice values. FilterDefault filters triangles only.
const (
	FilterDefault FilterChoice = iota
	FilterOn
	FilterOff
)

func (fc FilterChoice) applies(shape WaveformShape) bool {
	switch fc {
	case FilterOn:
		return true
	case FilterOff:
		return false
	}
	return shape == Triangle
}

// WaveformParams holds everything the synthesizer needs from a channel.
type WaveformParams struct {
	Shape             WaveformShape
	CenterVolts       float64
	AmplitudeVolts    float64
	StartTimeMs       float64
	EndTimeMs         float64
	CutoffFrequencyHz float64
}

// Synthesize renders one full cycle (timing.SamplesPerCycle() samples) of the
// waveform described by p, low-pass filtering it if filter says so.
func Synthesize(p WaveformParams, timing TaskTiming, filter FilterChoice) ([]float64, error) {
	if err := timing.Validate(); err != nil {
		return nil, err
	}
	var waveform []float64
	var err error
	switch p.Shape {
	case Square:
		waveform = squareCycle(p, timing)
	case Triangle:
		waveform, err = triangleCycle(p, timing)
	default:
		err = invalidChannelf("unknown waveform shape %v", p.Shape)
	}
	if err != nil {
		return nil, err
	}
	if !filter.applies(p.Shape) || len(waveform) == 0 {
		return waveform, nil
	}
	return FilterCycle(waveform, p.CutoffFrequencyHz, timing.SamplingFrequencyHz)
}

func squareCycle(p WaveformParams, timing TaskTiming) []float64 {
	nsamp := timing.SamplesPerCycle()
	start := clampIndex(timing.TimeToSampleIndex(p.StartTimeMs), nsamp)
	end := clampIndex(timing.TimeToSampleIndex(p.EndTimeMs), nsamp)

	waveform := make([]float64, nsamp)
	low, high := p.CenterVolts-p.AmplitudeVolts, p.CenterVolts+p.AmplitudeVolts
	for i := range waveform {
		waveform[i] = low
	}
	for i := start; i < end; i++ {
		waveform[i] = high
	}
	return waveform
}

// triangleCycle builds [delay | ramp up | ramp down | rest]. The ramp always
// starts at the beginning of the period (zero delay) and peaks at the end of
// the active window.
// A window ending at zero gives an empty ramp up, so the cycle then starts at
// the peak (center + amplitude/2) rather than the low value.
func triangleCycle(p WaveformParams, timing TaskTiming) ([]float64, error) {
	nsamp := timing.SamplesPerCycle()
	periodStart, periodEnd := timing.PeriodSampleRange()
	periodSamples := periodEnd - periodStart
	if periodSamples > nsamp {
		return nil, invalidTimingf("period of %d samples exceeds the cycle of %d samples", periodSamples, nsamp)
	}
	activeStart := periodStart
	activeEnd := min(max(timing.TimeToSampleIndex(p.EndTimeMs), activeStart), periodEnd)

	delaySamples := activeStart - periodStart
	rampDownSamples := periodSamples - (activeEnd - activeStart)
	rampUpSamples := periodSamples - rampDownSamples
	restSamples := nsamp - delaySamples - rampUpSamples - rampDownSamples

	half := p.AmplitudeVolts / 2
	low := p.CenterVolts - half

	waveform := make([]float64, 0, nsamp)
	waveform = appendConstant(waveform, delaySamples, low)
	waveform = append(waveform, halfOpenSpan(rampUpSamples, -1, 1)...)
	waveform = append(waveform, halfOpenSpan(rampDownSamples, 1, -1)...)
	ramp := waveform[delaySamples:]
	floats.Scale(half, ramp)
	floats.AddConst(p.CenterVolts, ramp)
	waveform = appendConstant(waveform, restSamples, low)
	return waveform, nil
}

// halfOpenSpan returns n equally spaced values from `from` toward `to`,
// excluding `to` itself.
func halfOpenSpan(n int, from, to float64) []float64 {
	if n <= 0 {
		return nil
	}
	span := make([]float64, n+1)
	floats.Span(span, from, to)
	return span[:n]
}

func appendConstant(s []float64, n int, value float64) []float64 {
	for i := 0; i < n; i++ {
		s = append(s, value)
	}
	return s
}

func clampIndex(i, n int) int {
	return min(max(i, 0), n)
}

// WaveformSummary condenses one port's waveform for status messages.
type WaveformSummary struct {
	Port    string
	Samples int
	Min     float64
	Max     float64
	Mean    float64
	StdDev  float64
}

// Summarize computes a WaveformSummary of the samples for the given port.
func Summarize(port string, samples []float64) WaveformSummary {
	s := WaveformSummary{Port: port, Samples: len(samples)}
	if len(samples) == 0 {
		return s
	}
	s.Min = floats.Min(samples)
	s.Max = floats.Max(samples)
	if len(samples) > 1 {
		s.Mean, s.StdDev = stat.MeanStdDev(samples, nil)
	} else {
		s.Mean = samples[0]
	}
	return s
}
