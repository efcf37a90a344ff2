// Package modsynth implements the real-time modulation synthesis engine:
// per-note voice construction over an abstract signal-graph runtime, a source
// bank with shared (non-retriggering) modulation sources, many-to-many
// modulation routing with combine algebra, and velocity/key-zone sample layer
// playback.
package modsynth

import (
	"log/slog"

	"github.com/cwbudde/algo-modsynth/graph"
	"github.com/cwbudde/algo-modsynth/sampler"
)

// CombineMode selects the algebra used when several routes drive one target.
type CombineMode string

const (
	CombineSum      CombineMode = "sum"
	CombineAvg      CombineMode = "avg"
	CombineMax      CombineMode = "max"
	CombineMin      CombineMode = "min"
	CombineMultiply CombineMode = "multiply"
)

// ModulationRoute connects one source to one parameter target.
type ModulationRoute struct {
	Enabled     bool
	Source      string
	Target      string
	Depth       float32
	CurveShape  float32 // >0 applies a signed power response to the source
	PhaseOffset float32 // cycles, applied as a bounded delay for periodic sources
	SmoothingMs float32
	CombineMode CombineMode
}

// SourceConfig describes one configurable oscillatory modulation source.
type SourceConfig struct {
	Waveform graph.Waveform
	RateHz   float64
	// TempoSync derives the rate from the engine tempo and Division
	// instead of RateHz.
	TempoSync bool
	Division  string // "1/1".."1/32", with "d" (dotted) or "t" (triplet) suffix
	// Retrigger builds a fresh per-voice source on every note; otherwise the
	// source is shared across voices through the engine cache.
	Retrigger bool
	OneShot   bool // stop after one period; only honored when Retrigger is set
	FadeInMs  float64
	Curve     float64 // >0 applies a signed power shaping stage
}

// OscillatorLayer is one sounding oscillator of a patch.
type OscillatorLayer struct {
	Enabled     bool
	Waveform    graph.Waveform
	Octave      int
	DetuneCents float32
	Gain        float32
}

// FilterConfig is the per-voice lowpass stage.
type FilterConfig struct {
	Enabled  bool
	CutoffHz float32
	Q        float32
}

// DriveConfig is the per-voice nonlinear drive stage.
type DriveConfig struct {
	Enabled bool
	Amount  float32 // pre-shaper gain, 1 = unity
}

// Envelope holds amplitude envelope timing.
type Envelope struct {
	AttackMs     float64
	DecayMs      float64
	SustainLevel float32
	ReleaseMs    float64
}

// Patch is an immutable-per-use instrument description. It is owned by an
// external patch store; the engine only reads it.
type Patch struct {
	ID      string
	Version int

	Oscillators  []OscillatorLayer
	Filter       FilterConfig
	Drive        DriveConfig
	Envelope     Envelope
	Routes       []ModulationRoute
	Sources      map[string]SourceConfig
	SampleLayers []sampler.Layer

	// VelocityCurve names the curve applied to incoming velocity before gain
	// shaping and zone matching: "linear", "soft" or "hard".
	VelocityCurve string

	Macros map[string]float32
}

// NewDefaultPatch creates a patch with one enabled sine oscillator and a
// conventional envelope.
func NewDefaultPatch(id string) *Patch {
	return &Patch{
		ID:      id,
		Version: 1,
		Oscillators: []OscillatorLayer{
			{Enabled: true, Waveform: graph.WaveSine, Gain: 1.0},
		},
		Filter: FilterConfig{Enabled: false, CutoffHz: 8000, Q: 0.7071},
		Drive:  DriveConfig{Enabled: false, Amount: 1.0},
		Envelope: Envelope{
			AttackMs:     5,
			DecayMs:      80,
			SustainLevel: 0.8,
			ReleaseMs:    250,
		},
		Sources:       make(map[string]SourceConfig),
		VelocityCurve: "linear",
		Macros:        make(map[string]float32),
	}
}

// NoteContext identifies where a note event originated.
type NoteContext string

const (
	ContextClick    NoteContext = "click"
	ContextKeyboard NoteContext = "keyboard"
	ContextSequence NoteContext = "sequence"
	ContextChord    NoteContext = "chord"
	ContextMath     NoteContext = "math"
	ContextEar      NoteContext = "ear"
)

// NoteEvent triggers one voice.
type NoteEvent struct {
	Pitch    int
	Velocity float64 // [0,1]; values above 1 are treated as 0-127 input
	Context  NoteContext
	NoteKey  string
	// StartTime schedules the voice start explicitly; zero means "now".
	StartTime float64
}

// Config holds engine-wide settings.
type Config struct {
	MaxPolyphony int
	// StealPolicy is "release-first" (steal the oldest releasing voice,
	// falling back to oldest overall) or "oldest".
	StealPolicy string
	TempoBPM    float64
	Logger      *slog.Logger
}

// NewDefaultConfig creates the default engine configuration.
func NewDefaultConfig() *Config {
	return &Config{
		MaxPolyphony: 16,
		StealPolicy:  "release-first",
		TempoBPM:     120,
	}
}
