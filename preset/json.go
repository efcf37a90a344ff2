// Package preset loads patch description files. A preset file is a partial
// JSON document applied on top of the engine defaults, so files only state
// what they change.
package preset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cwbudde/algo-modsynth/graph"
	"github.com/cwbudde/algo-modsynth/modsynth"
	"github.com/cwbudde/algo-modsynth/sampler"
)

// File is the JSON schema for patch presets.
type File struct {
	ID            string              `json:"id"`
	Version       *int                `json:"version"`
	VelocityCurve string              `json:"velocity_curve"`
	Oscillators   []OscillatorSetting `json:"oscillators"`
	Filter        *FilterSetting      `json:"filter"`
	Drive         *DriveSetting       `json:"drive"`
	Envelope      *EnvelopeSetting    `json:"envelope"`
	Sources       map[string]Source   `json:"sources"`
	Routes        []Route             `json:"routes"`
	SampleLayers  []LayerSetting      `json:"sample_layers"`
	Macros        map[string]float32  `json:"macros"`
}

// OscillatorSetting is one oscillator layer entry.
type OscillatorSetting struct {
	Waveform    string   `json:"waveform"`
	Octave      int      `json:"octave"`
	DetuneCents float32  `json:"detune_cents"`
	Gain        *float32 `json:"gain"`
}

// FilterSetting is the lowpass stage entry.
type FilterSetting struct {
	Enabled  bool     `json:"enabled"`
	CutoffHz *float32 `json:"cutoff_hz"`
	Q        *float32 `json:"q"`
}

// DriveSetting is the drive stage entry.
type DriveSetting struct {
	Enabled bool     `json:"enabled"`
	Amount  *float32 `json:"amount"`
}

// EnvelopeSetting is a partial envelope override.
type EnvelopeSetting struct {
	AttackMs     *float64 `json:"attack_ms"`
	DecayMs      *float64 `json:"decay_ms"`
	SustainLevel *float32 `json:"sustain_level"`
	ReleaseMs    *float64 `json:"release_ms"`
}

// Source is one modulation source entry.
type Source struct {
	Waveform  string  `json:"waveform"`
	RateHz    float64 `json:"rate_hz"`
	TempoSync bool    `json:"tempo_sync"`
	Division  string  `json:"division"`
	Retrigger bool    `json:"retrigger"`
	OneShot   bool    `json:"one_shot"`
	FadeInMs  float64 `json:"fade_in_ms"`
	Curve     float64 `json:"curve"`
}

// Route is one modulation route entry. A missing "enabled" key means the
// route is active.
type Route struct {
	Enabled     *bool   `json:"enabled"`
	Source      string  `json:"source"`
	Target      string  `json:"target"`
	Depth       float32 `json:"depth"`
	CurveShape  float32 `json:"curve_shape"`
	PhaseOffset float32 `json:"phase_offset"`
	SmoothingMs float32 `json:"smoothing_ms"`
	Combine     string  `json:"combine"`
}

// LayerSetting is one sample layer with its regions.
type LayerSetting struct {
	Name    string          `json:"name"`
	KeyLo   int             `json:"key_lo"`
	KeyHi   int             `json:"key_hi"`
	VelLo   float64         `json:"vel_lo"`
	VelHi   float64         `json:"vel_hi"`
	Regions []RegionSetting `json:"regions"`
	Release []RegionSetting `json:"release_regions"`
}

// RegionSetting is one sample zone.
type RegionSetting struct {
	Path         string  `json:"path"`
	RootKey      int     `json:"root_key"`
	KeyLo        int     `json:"key_lo"`
	KeyHi        int     `json:"key_hi"`
	VelLo        float64 `json:"vel_lo"`
	VelHi        float64 `json:"vel_hi"`
	Group        string  `json:"group"`
	Mode         string  `json:"mode"`
	LoopStart    float64 `json:"loop_start"`
	LoopEnd      float64 `json:"loop_end"`
	LoopEnabled  bool    `json:"loop_enabled"`
	TuneCents    float64 `json:"tune_cents"`
	Gain         float64 `json:"gain"`
	Pan          float64 `json:"pan"`
	OverlapWidth float64 `json:"overlap_width"`
}

var waveforms = map[string]graph.Waveform{
	"":            graph.WaveSine,
	"sine":        graph.WaveSine,
	"triangle":    graph.WaveTriangle,
	"square":      graph.WaveSquare,
	"saw":         graph.WaveSaw,
	"sample-hold": graph.WaveSampleHold,
}

var combineModes = map[string]modsynth.CombineMode{
	"":         modsynth.CombineSum,
	"sum":      modsynth.CombineSum,
	"avg":      modsynth.CombineAvg,
	"max":      modsynth.CombineMax,
	"min":      modsynth.CombineMin,
	"multiply": modsynth.CombineMultiply,
}

// LoadJSON loads a preset file and applies it on top of the default patch.
// Relative sample paths resolve against the preset file's directory.
func LoadJSON(path string) (*modsynth.Patch, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}

	id := f.ID
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	p := modsynth.NewDefaultPatch(id)
	if err := ApplyFile(p, &f); err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for li := range p.SampleLayers {
		resolveLayerPaths(&p.SampleLayers[li], base)
	}
	return p, nil
}

// ApplyFile applies a parsed preset file onto an existing patch.
func ApplyFile(dst *modsynth.Patch, f *File) error {
	if dst == nil {
		return fmt.Errorf("nil destination patch")
	}
	if f == nil {
		return nil
	}

	if f.Version != nil {
		dst.Version = *f.Version
	}
	if f.VelocityCurve != "" {
		switch f.VelocityCurve {
		case "linear", "soft", "hard":
			dst.VelocityCurve = f.VelocityCurve
		default:
			return fmt.Errorf("unknown velocity_curve %q", f.VelocityCurve)
		}
	}

	if len(f.Oscillators) > 0 {
		dst.Oscillators = dst.Oscillators[:0]
		for i, o := range f.Oscillators {
			w, ok := waveforms[o.Waveform]
			if !ok {
				return fmt.Errorf("oscillator %d: unknown waveform %q", i, o.Waveform)
			}
			gain := float32(1)
			if o.Gain != nil {
				if *o.Gain < 0 {
					return fmt.Errorf("oscillator %d: gain must be >= 0", i)
				}
				gain = *o.Gain
			}
			dst.Oscillators = append(dst.Oscillators, modsynth.OscillatorLayer{
				Enabled:     true,
				Waveform:    w,
				Octave:      o.Octave,
				DetuneCents: o.DetuneCents,
				Gain:        gain,
			})
		}
	}

	if f.Filter != nil {
		dst.Filter.Enabled = f.Filter.Enabled
		if f.Filter.CutoffHz != nil {
			if *f.Filter.CutoffHz <= 0 {
				return fmt.Errorf("filter cutoff_hz must be > 0")
			}
			dst.Filter.CutoffHz = *f.Filter.CutoffHz
		}
		if f.Filter.Q != nil {
			if *f.Filter.Q <= 0 {
				return fmt.Errorf("filter q must be > 0")
			}
			dst.Filter.Q = *f.Filter.Q
		}
	}

	if f.Drive != nil {
		dst.Drive.Enabled = f.Drive.Enabled
		if f.Drive.Amount != nil {
			if *f.Drive.Amount <= 0 {
				return fmt.Errorf("drive amount must be > 0")
			}
			dst.Drive.Amount = *f.Drive.Amount
		}
	}

	if f.Envelope != nil {
		if f.Envelope.AttackMs != nil {
			if *f.Envelope.AttackMs < 0 {
				return fmt.Errorf("attack_ms must be >= 0")
			}
			dst.Envelope.AttackMs = *f.Envelope.AttackMs
		}
		if f.Envelope.DecayMs != nil {
			if *f.Envelope.DecayMs < 0 {
				return fmt.Errorf("decay_ms must be >= 0")
			}
			dst.Envelope.DecayMs = *f.Envelope.DecayMs
		}
		if f.Envelope.SustainLevel != nil {
			if *f.Envelope.SustainLevel < 0 || *f.Envelope.SustainLevel > 1 {
				return fmt.Errorf("sustain_level must be in [0,1]")
			}
			dst.Envelope.SustainLevel = *f.Envelope.SustainLevel
		}
		if f.Envelope.ReleaseMs != nil {
			if *f.Envelope.ReleaseMs < 0 {
				return fmt.Errorf("release_ms must be >= 0")
			}
			dst.Envelope.ReleaseMs = *f.Envelope.ReleaseMs
		}
	}

	for name, s := range f.Sources {
		w, ok := waveforms[s.Waveform]
		if !ok {
			return fmt.Errorf("source %q: unknown waveform %q", name, s.Waveform)
		}
		if s.RateHz < 0 {
			return fmt.Errorf("source %q: rate_hz must be >= 0", name)
		}
		if dst.Sources == nil {
			dst.Sources = make(map[string]modsynth.SourceConfig)
		}
		dst.Sources[name] = modsynth.SourceConfig{
			Waveform:  w,
			RateHz:    s.RateHz,
			TempoSync: s.TempoSync,
			Division:  s.Division,
			Retrigger: s.Retrigger,
			OneShot:   s.OneShot,
			FadeInMs:  s.FadeInMs,
			Curve:     s.Curve,
		}
	}

	for i, r := range f.Routes {
		if r.Source == "" || r.Target == "" {
			return fmt.Errorf("route %d: source and target are required", i)
		}
		combine, ok := combineModes[r.Combine]
		if !ok {
			return fmt.Errorf("route %d: unknown combine mode %q", i, r.Combine)
		}
		enabled := true
		if r.Enabled != nil {
			enabled = *r.Enabled
		}
		dst.Routes = append(dst.Routes, modsynth.ModulationRoute{
			Enabled:     enabled,
			Source:      r.Source,
			Target:      r.Target,
			Depth:       r.Depth,
			CurveShape:  r.CurveShape,
			PhaseOffset: r.PhaseOffset,
			SmoothingMs: r.SmoothingMs,
			CombineMode: combine,
		})
	}

	for i, l := range f.SampleLayers {
		layer := sampler.Layer{
			Name:  l.Name,
			KeyLo: l.KeyLo,
			KeyHi: l.KeyHi,
			VelLo: l.VelLo,
			VelHi: l.VelHi,
		}
		for j, r := range l.Regions {
			region, err := regionFrom(r)
			if err != nil {
				return fmt.Errorf("layer %d region %d: %w", i, j, err)
			}
			layer.Regions = append(layer.Regions, region)
		}
		for j, r := range l.Release {
			region, err := regionFrom(r)
			if err != nil {
				return fmt.Errorf("layer %d release region %d: %w", i, j, err)
			}
			layer.ReleaseRegions = append(layer.ReleaseRegions, region)
		}
		dst.SampleLayers = append(dst.SampleLayers, layer)
	}

	for k, v := range f.Macros {
		if dst.Macros == nil {
			dst.Macros = make(map[string]float32)
		}
		dst.Macros[k] = v
	}
	return nil
}

func regionFrom(r RegionSetting) (sampler.Region, error) {
	if r.Path == "" {
		return sampler.Region{}, fmt.Errorf("path is required")
	}
	mode := sampler.RoundRobinMode(r.Mode)
	switch mode {
	case "", sampler.RoundRobinCycle, sampler.RoundRobinRandom, sampler.RoundRobinNoRepeat:
	default:
		return sampler.Region{}, fmt.Errorf("unknown round-robin mode %q", r.Mode)
	}
	if mode == "" {
		mode = sampler.RoundRobinCycle
	}
	if r.Gain < 0 {
		return sampler.Region{}, fmt.Errorf("gain must be >= 0")
	}
	return sampler.Region{
		Path:         strings.TrimSpace(r.Path),
		RootKey:      r.RootKey,
		KeyLo:        r.KeyLo,
		KeyHi:        r.KeyHi,
		VelLo:        r.VelLo,
		VelHi:        r.VelHi,
		Group:        r.Group,
		Mode:         mode,
		LoopStart:    r.LoopStart,
		LoopEnd:      r.LoopEnd,
		LoopEnabled:  r.LoopEnabled,
		TuneCents:    r.TuneCents,
		Gain:         r.Gain,
		Pan:          r.Pan,
		OverlapWidth: r.OverlapWidth,
	}, nil
}

func resolveLayerPaths(l *sampler.Layer, base string) {
	for i := range l.Regions {
		resolveRegionPath(&l.Regions[i], base)
	}
	for i := range l.ReleaseRegions {
		resolveRegionPath(&l.ReleaseRegions[i], base)
	}
	for i := range l.LegatoRegions {
		resolveRegionPath(&l.LegatoRegions[i].Region, base)
	}
}

func resolveRegionPath(r *sampler.Region, base string) {
	if r.Path != "" && !filepath.IsAbs(r.Path) {
		r.Path = filepath.Clean(filepath.Join(base, r.Path))
	}
}
