// Package graph abstracts the host audio runtime as a directed graph of
// signal-processing stages. The synthesis engine builds voices against the
// Runtime interface only, so the routing and combine logic stays portable
// across real-time audio backends. A complete software implementation lives
// in this package as well (see SoftwareRuntime).
package graph

// Waveform selects the oscillator shape.
type Waveform string

const (
	WaveSine       Waveform = "sine"
	WaveTriangle   Waveform = "triangle"
	WaveSquare     Waveform = "square"
	WaveSaw        Waveform = "saw"
	WaveSampleHold Waveform = "sample-hold"
)

// Node is a handle to one stage in the signal graph.
type Node interface {
	// Connect routes this node's output into dst's audio input.
	Connect(dst Node)
	// ConnectParam routes this node's output into a parameter, where it is
	// summed with the parameter's scheduled value.
	ConnectParam(p Param)
	// Disconnect severs all outgoing connections. Safe to call repeatedly.
	Disconnect()
}

// Source is a node with sample-accurate start/stop scheduling.
type Source interface {
	Node
	// Start schedules output to begin at the given runtime time in seconds.
	Start(at float64)
	// Stop schedules output to end at the given runtime time in seconds.
	Stop(at float64)
}

// Param is an automatable parameter on a node.
type Param interface {
	// Value returns the static (unscheduled, unmodulated) value.
	Value() float32
	// SetValue replaces the static value immediately.
	SetValue(v float32)
	// SetValueAtTime schedules a step to v at the given time.
	SetValueAtTime(v float32, at float64)
	// LinearRampToValueAtTime schedules a linear ramp ending at the given time.
	LinearRampToValueAtTime(v float32, at float64)
	// SetTargetAtTime schedules an exponential approach toward v starting at
	// the given time with the given time constant in seconds.
	SetTargetAtTime(v float32, at float64, timeConstant float64)
	// CancelScheduled removes all scheduled automation, keeping the static value.
	CancelScheduled()
}

// Oscillator is a periodic or sample-and-hold source.
type Oscillator interface {
	Source
	Frequency() Param
	SetWaveform(w Waveform)
	// SetSeed fixes the pseudo-random sequence of the sample-and-hold
	// waveform; other waveforms ignore it.
	SetSeed(seed uint32)
}

// Gain scales the sum of its inputs by its gain parameter. With a base gain
// of zero and a modulator connected to the parameter, it acts as a signal
// multiplier.
type Gain interface {
	Node
	Gain() Param
}

// Filter is a lowpass stage with an automatable corner frequency.
type Filter interface {
	Node
	Cutoff() Param
	Q() Param
}

// Delay delays its input by an automatable time in seconds.
type Delay interface {
	Node
	DelayTime() Param
}

// Shaper applies a transfer curve to its input. The curve maps input values
// in [-1, 1] across the table with linear interpolation.
type Shaper interface {
	Node
	SetCurve(curve []float32)
}

// Constant emits its offset parameter as a signal.
type Constant interface {
	Source
	Offset() Param
}

// BufferSource plays back a sample buffer.
type BufferSource interface {
	Source
	SetBuffer(b *Buffer)
	PlaybackRate() Param
	SetLoop(startSec, endSec float64, enabled bool)
}

// Buffer holds decoded mono sample data.
type Buffer struct {
	Data       []float32
	SampleRate int
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Data)) / float64(b.SampleRate)
}

// Runtime is the host audio runtime boundary. All constructed nodes belong to
// the runtime and are released when it closes.
type Runtime interface {
	SampleRate() int
	// Now returns the runtime clock in seconds.
	Now() float64

	CreateOscillator() Oscillator
	CreateGain() Gain
	CreateFilter() Filter
	CreateDelay(maxSeconds float64) Delay
	CreateShaper() Shaper
	CreateConstant() Constant
	CreateBufferSource() BufferSource

	// Destination is the final mix bus.
	Destination() Node

	// Schedule registers a bookkeeping callback fired once the runtime clock
	// passes the given time. It is a coarse teardown mechanism, not part of
	// the audio path.
	Schedule(at float64, fn func())

	// Close disposes the runtime and every node built on it.
	Close()
}
