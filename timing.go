package wavedaq

import (
	"math"
	"time"
)

// TaskTiming is the sampling-rate/period/rest-time model shared by all channels
// of one Task. It is a value type: every derived quantity is computed on demand.
type TaskTiming struct {
	SamplingFrequencyHz float64 // samples per second
	PeriodTimeMs        float64 // active part of one cycle
	RestTimeMs          float64 // idle time appended after the period
}

// NewTaskTiming checks its arguments and returns a TaskTiming.
func NewTaskTiming(samplingFrequencyHz, periodTimeMs, restTimeMs float64) (TaskTiming, error) {
	t := TaskTiming{
		SamplingFrequencyHz: samplingFrequencyHz,
		PeriodTimeMs:        periodTimeMs,
		RestTimeMs:          restTimeMs,
	}
	if err := t.Validate(); err != nil {
		return TaskTiming{}, err
	}
	return t, nil
}

// Validate returns an ErrInvalidTiming error unless fs>0, period>0 and rest>=0
// (all finite).
func (t TaskTiming) Validate() error {
	if !isFinite(t.SamplingFrequencyHz) || t.SamplingFrequencyHz <= 0 {
		return invalidTimingf("sampling frequency %v Hz, want > 0", t.SamplingFrequencyHz)
	}
	if !isFinite(t.PeriodTimeMs) || t.PeriodTimeMs <= 0 {
		return invalidTimingf("period %v ms, want > 0", t.PeriodTimeMs)
	}
	if !isFinite(t.RestTimeMs) || t.RestTimeMs < 0 {
		return invalidTimingf("rest time %v ms, want >= 0", t.RestTimeMs)
	}
	return nil
}

// TotalCycleTimeMs is the period plus the rest time.
func (t TaskTiming) TotalCycleTimeMs() float64 {
	return t.PeriodTimeMs + t.RestTimeMs
}

// WaveformFrequencyHz is the repetition frequency of the active period.
func (t TaskTiming) WaveformFrequencyHz() float64 {
	return 1000 / t.PeriodTimeMs
}

// SamplesPerCycle is the number of samples in one full cycle (period + rest).
func (t TaskTiming) SamplesPerCycle() int {
	return t.TimeToSampleIndex(t.TotalCycleTimeMs())
}

// TimeToSampleIndex converts a time in ms (from the start of the cycle) to the
// index of the sample at or before it.
func (t TaskTiming) TimeToSampleIndex(timeMs float64) int {
	return int(math.Floor(timeMs * t.SamplingFrequencyHz / 1000))
}

// PeriodSampleRange returns the [start, end) sample range of the active period.
func (t TaskTiming) PeriodSampleRange() (int, int) {
	return t.TimeToSampleIndex(0), t.TimeToSampleIndex(t.PeriodTimeMs)
}

// CycleDuration is the wall-clock length of one full cycle.
func (t TaskTiming) CycleDuration() time.Duration {
	cycleTime := float64(t.SamplesPerCycle()) / t.SamplingFrequencyHz
	return time.Duration(float64(time.Second) * cycleTime)
}

// NyquistHz is half the sampling frequency.
func (t TaskTiming) NyquistHz() float64 {
	return t.SamplingFrequencyHz / 2
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
