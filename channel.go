package wavedaq

import (
	"math"
)

// ChannelConfig holds the arguments to Task.AddChannel. StartTimeMs/EndTimeMs
// and PeakPoint are optional and mutually exclusive; use WithWindow or
// WithPeakPoint to set them.
type ChannelConfig struct {
	Name              string
	Port              string
	Shape             WaveformShape
	CenterVolts       float64
	AmplitudeVolts    float64
	CutoffFrequencyHz float64
	StartTimeMs       *float64
	EndTimeMs         *float64
	PeakPoint         *float64 // fraction of the period where a triangle peaks
}

// WithWindow returns a copy of cc with the active window set.
func (cc ChannelConfig) WithWindow(startMs, endMs float64) ChannelConfig {
	cc.StartTimeMs = &startMs
	cc.EndTimeMs = &endMs
	return cc
}

// WithPeakPoint returns a copy of cc with the triangle peak point set.
func (cc ChannelConfig) WithPeakPoint(fraction float64) ChannelConfig {
	cc.PeakPoint = &fraction
	return cc
}

// Channel is one physical output line's waveform configuration within a Task.
// It holds no hardware state: changes take effect the next time its waveform
// is generated.
type Channel struct {
	name              string
	port              string
	shape             WaveformShape
	centerVolts       float64
	amplitudeVolts    float64
	startTimeMs       float64
	endTimeMs         float64
	peakPoint         float64 // 0 unless the window was given as a peak point
	cutoffFrequencyHz float64
	minDeviceVolts    float64
	maxDeviceVolts    float64
	squareOnly        bool // set for counter-output tasks
	timing            TaskTiming
	revision          uint64 // incremented on every change
}

// newChannel validates cc and builds a Channel. Hard failures (bad name/port,
// center outside the device range, bad cutoff, inconsistent window arguments)
// return ErrInvalidChannel; an out-of-range window or amplitude is clamped and
// logged.
func newChannel(cc ChannelConfig, timing TaskTiming, minDeviceVolts, maxDeviceVolts float64) (*Channel, error) {
	if cc.Name == "" {
		return nil, invalidChannelf("channel name is empty")
	}
	if cc.Port == "" {
		return nil, invalidChannelf("channel %q has an empty port", cc.Name)
	}
	if cc.Shape != Square && cc.Shape != Triangle {
		return nil, invalidChannelf("channel %q has unknown waveform shape %v", cc.Name, cc.Shape)
	}
	c := &Channel{
		name:           cc.Name,
		port:           cc.Port,
		shape:          cc.Shape,
		minDeviceVolts: minDeviceVolts,
		maxDeviceVolts: maxDeviceVolts,
		timing:         timing,
	}
	if err := checkCenter(c, cc.CenterVolts); err != nil {
		return nil, err
	}
	c.centerVolts = cc.CenterVolts
	if err := checkCutoff(c, cc.CutoffFrequencyHz); err != nil {
		return nil, err
	}
	c.cutoffFrequencyHz = cc.CutoffFrequencyHz
	if math.IsNaN(cc.AmplitudeVolts) {
		return nil, invalidChannelf("channel %q amplitude is NaN", cc.Name)
	}
	c.amplitudeVolts = clampAmplitude(c, cc.AmplitudeVolts)

	hasWindow := cc.StartTimeMs != nil || cc.EndTimeMs != nil
	switch {
	case cc.PeakPoint != nil && hasWindow:
		return nil, invalidChannelf("channel %q: peak point and start/end times are mutually exclusive", cc.Name)
	case cc.PeakPoint != nil:
		if err := checkPeakPoint(c, *cc.PeakPoint); err != nil {
			return nil, err
		}
		c.peakPoint = *cc.PeakPoint
		c.startTimeMs, c.endTimeMs = 0, timing.PeriodTimeMs*c.peakPoint
	case hasWindow:
		start, end := 0.0, timing.PeriodTimeMs
		if cc.StartTimeMs != nil {
			start = *cc.StartTimeMs
		}
		if cc.EndTimeMs != nil {
			end = *cc.EndTimeMs
		}
		if math.IsNaN(start) || math.IsNaN(end) {
			return nil, invalidChannelf("channel %q window (%v, %v) ms contains NaN", cc.Name, start, end)
		}
		c.startTimeMs, c.endTimeMs = clampWindow(c, start, end)
	default:
		c.startTimeMs, c.endTimeMs = 0, timing.PeriodTimeMs/2
	}
	return c, nil
}

// maxAmplitude is the largest amplitude that keeps center±amplitude inside
// the device's voltage range.
func maxAmplitude(c *Channel) float64 {
	return math.Max(0, math.Min(c.maxDeviceVolts-c.centerVolts, c.centerVolts-c.minDeviceVolts))
}

func clampAmplitude(c *Channel, amplitude float64) float64 {
	limit := maxAmplitude(c)
	clamped := math.Min(math.Max(amplitude, 0), limit)
	if clamped != amplitude {
		ProblemLogger.Printf("channel %q: amplitude %v V clamped to %v V (center %v V, device range [%v, %v] V)",
			c.name, amplitude, clamped, c.centerVolts, c.minDeviceVolts, c.maxDeviceVolts)
	}
	return clamped
}

// clampWindow forces 0 <= start <= end <= period, logging any correction.
func clampWindow(c *Channel, start, end float64) (float64, float64) {
	period := c.timing.PeriodTimeMs
	s := math.Min(math.Max(start, 0), period)
	e := math.Max(math.Min(end, period), s)
	if s != start || e != end {
		ProblemLogger.Printf("channel %q: active window (%v, %v) ms corrected to (%v, %v) ms for period %v ms",
			c.name, start, end, s, e, period)
	}
	return s, e
}

func checkCenter(c *Channel, center float64) error {
	if math.IsNaN(center) || center < c.minDeviceVolts || center > c.maxDeviceVolts {
		return invalidChannelf("channel %q center %v V lies outside the device range [%v, %v] V",
			c.name, center, c.minDeviceVolts, c.maxDeviceVolts)
	}
	return nil
}

func checkCutoff(c *Channel, cutoffHz float64) error {
	nyquist := c.timing.NyquistHz()
	if math.IsNaN(cutoffHz) || cutoffHz <= 0 || cutoffHz >= nyquist {
		return invalidChannelf("channel %q cutoff %v Hz must lie in (0, %v) Hz", c.name, cutoffHz, nyquist)
	}
	return nil
}

func checkPeakPoint(c *Channel, fraction float64) error {
	if c.shape != Triangle {
		return invalidChannelf("channel %q: a peak point applies only to triangle waveforms, not %v", c.name, c.shape)
	}
	if !validPeakFraction(fraction) {
		return invalidChannelf("channel %q peak point %v must lie in (0, 1]", c.name, fraction)
	}
	return nil
}

func validPeakFraction(fraction float64) bool {
	return !math.IsNaN(fraction) && fraction > 0 && fraction <= 1
}

// Name returns the channel name (unique within its task).
func (c *Channel) Name() string { return c.name }

// Port returns the physical line identifier.
func (c *Channel) Port() string { return c.port }

// Shape returns the waveform shape.
func (c *Channel) Shape() WaveformShape { return c.shape }

// CenterVolts returns the waveform's center voltage.
func (c *Channel) CenterVolts() float64 { return c.centerVolts }

// AmplitudeVolts returns the waveform's amplitude.
func (c *Channel) AmplitudeVolts() float64 { return c.amplitudeVolts }

// ActiveWindow returns the start and end of the active window, in ms.
func (c *Channel) ActiveWindow() (startMs, endMs float64) { return c.startTimeMs, c.endTimeMs }

// PeakPoint returns the triangle peak point, and whether one was set.
func (c *Channel) PeakPoint() (float64, bool) { return c.peakPoint, c.peakPoint > 0 }

// CutoffFrequencyHz returns the low-pass filter corner.
func (c *Channel) CutoffFrequencyHz() float64 { return c.cutoffFrequencyHz }

// MinDeviceVolts returns the lowest voltage the device can produce.
func (c *Channel) MinDeviceVolts() float64 { return c.minDeviceVolts }

// MaxDeviceVolts returns the highest voltage the device can produce.
func (c *Channel) MaxDeviceVolts() float64 { return c.maxDeviceVolts }

// MaxAmplitudeVolts returns the headroom available at the current center voltage.
func (c *Channel) MaxAmplitudeVolts() float64 { return maxAmplitude(c) }

// DutyCycle is the fraction of the period covered by the active window.
func (c *Channel) DutyCycle() float64 {
	return (c.endTimeMs - c.startTimeMs) / c.timing.PeriodTimeMs
}

// Params returns the synthesizer parameters for the current configuration.
func (c *Channel) Params() WaveformParams {
	return WaveformParams{
		Shape:             c.shape,
		CenterVolts:       c.centerVolts,
		AmplitudeVolts:    c.amplitudeVolts,
		StartTimeMs:       c.startTimeMs,
		EndTimeMs:         c.endTimeMs,
		CutoffFrequencyHz: c.cutoffFrequencyHz,
	}
}

// GenerateWaveform synthesizes one cycle of this channel's waveform.
func (c *Channel) GenerateWaveform(timing TaskTiming, filter FilterChoice) ([]float64, error) {
	return Synthesize(c.Params(), timing, filter)
}

// SetShape changes the waveform shape. Channels of counter-output tasks are
// kept square, with a logged warning.
func (c *Channel) SetShape(shape WaveformShape) error {
	if shape != Square && shape != Triangle {
		return invalidChannelf("channel %q: unknown waveform shape %v", c.name, shape)
	}
	if c.squareOnly && shape != Square {
		ProblemLogger.Printf("channel %q: waveform shape %v changed to square for a counter-output task", c.name, shape)
		shape = Square
	}
	if shape == Square {
		c.peakPoint = 0
	}
	c.shape = shape
	c.revision++
	return nil
}

// SetCenterVolts changes the center voltage; it must lie within the device
// range. The amplitude is clamped again to the new headroom.
func (c *Channel) SetCenterVolts(volts float64) error {
	if err := checkCenter(c, volts); err != nil {
		return err
	}
	c.centerVolts = volts
	c.amplitudeVolts = clampAmplitude(c, c.amplitudeVolts)
	c.revision++
	return nil
}

// SetAmplitudeVolts changes the amplitude, clamping it into [0, MaxAmplitudeVolts()].
func (c *Channel) SetAmplitudeVolts(volts float64) error {
	if math.IsNaN(volts) {
		return invalidChannelf("channel %q amplitude is NaN", c.name)
	}
	c.amplitudeVolts = clampAmplitude(c, volts)
	c.revision++
	return nil
}

// SetActiveWindow changes the active window, clamping it into [0, period].
// Any peak point is cleared.
// For a triangle an end of zero means no rising ramp: the waveform starts at
// its peak.
func (c *Channel) SetActiveWindow(startMs, endMs float64) error {
	if math.IsNaN(startMs) || math.IsNaN(endMs) {
		return invalidChannelf("channel %q window (%v, %v) ms contains NaN", c.name, startMs, endMs)
	}
	c.startTimeMs, c.endTimeMs = clampWindow(c, startMs, endMs)
	c.peakPoint = 0
	c.revision++
	return nil
}

// SetPeakPoint places a triangle's peak at the given fraction of the period.
func (c *Channel) SetPeakPoint(fraction float64) error {
	if err := checkPeakPoint(c, fraction); err != nil {
		return err
	}
	c.peakPoint = fraction
	c.startTimeMs, c.endTimeMs = 0, c.timing.PeriodTimeMs*fraction
	c.revision++
	return nil
}

// SetCutoffFrequencyHz changes the low-pass corner, which must lie in (0, fs/2).
func (c *Channel) SetCutoffFrequencyHz(hz float64) error {
	if err := checkCutoff(c, hz); err != nil {
		return err
	}
	c.cutoffFrequencyHz = hz
	c.revision++
	return nil
}
