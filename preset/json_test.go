package preset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/algo-modsynth/graph"
	"github.com/cwbudde/algo-modsynth/modsynth"
)

func TestLoadJSONAppliesAllSections(t *testing.T) {
	dir := t.TempDir()
	presetPath := filepath.Join(dir, "lead.json")
	content := `{
  "id": "wobble-lead",
  "velocity_curve": "soft",
  "oscillators": [
    {"waveform": "saw", "detune_cents": -7, "gain": 0.8},
    {"waveform": "saw", "detune_cents": 7, "gain": 0.8}
  ],
  "filter": {"enabled": true, "cutoff_hz": 1200, "q": 0.9},
  "drive": {"enabled": true, "amount": 2},
  "envelope": {"attack_ms": 10, "sustain_level": 0.6},
  "sources": {
    "wobble": {"waveform": "sine", "tempo_sync": true, "division": "1/8"}
  },
  "routes": [
    {"source": "wobble", "target": "filter.cutoff", "depth": 0.5, "combine": "sum"}
  ],
  "sample_layers": [
    {
      "key_hi": 127,
      "regions": [{"path": "samples/pad.wav", "root_key": 60, "key_hi": 127}]
    }
  ]
}`
	if err := os.WriteFile(presetPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write preset: %v", err)
	}

	p, err := LoadJSON(presetPath)
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if p.ID != "wobble-lead" || p.VelocityCurve != "soft" {
		t.Fatalf("header mismatch: %+v", p)
	}
	if len(p.Oscillators) != 2 || p.Oscillators[0].Waveform != graph.WaveSaw {
		t.Fatalf("oscillators mismatch: %+v", p.Oscillators)
	}
	if !p.Filter.Enabled || p.Filter.CutoffHz != 1200 || p.Filter.Q != 0.9 {
		t.Fatalf("filter mismatch: %+v", p.Filter)
	}
	if !p.Drive.Enabled || p.Drive.Amount != 2 {
		t.Fatalf("drive mismatch: %+v", p.Drive)
	}
	// Partial envelope override keeps untouched defaults.
	if p.Envelope.AttackMs != 10 || p.Envelope.SustainLevel != 0.6 || p.Envelope.ReleaseMs != 250 {
		t.Fatalf("envelope mismatch: %+v", p.Envelope)
	}
	src, ok := p.Sources["wobble"]
	if !ok || !src.TempoSync || src.Division != "1/8" {
		t.Fatalf("sources mismatch: %+v", p.Sources)
	}
	if len(p.Routes) != 1 || !p.Routes[0].Enabled || p.Routes[0].CombineMode != modsynth.CombineSum {
		t.Fatalf("routes mismatch: %+v", p.Routes)
	}
	wantPath := filepath.Join(dir, "samples", "pad.wav")
	if len(p.SampleLayers) != 1 || p.SampleLayers[0].Regions[0].Path != wantPath {
		t.Fatalf("sample path not resolved: %+v", p.SampleLayers)
	}
}

func TestLoadJSONDefaultsIDFromFilename(t *testing.T) {
	dir := t.TempDir()
	presetPath := filepath.Join(dir, "pluck.json")
	if err := os.WriteFile(presetPath, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write preset: %v", err)
	}
	p, err := LoadJSON(presetPath)
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if p.ID != "pluck" {
		t.Fatalf("id %q, want pluck", p.ID)
	}
	// An empty file keeps the full default patch.
	if len(p.Oscillators) != 1 || !p.Oscillators[0].Enabled {
		t.Fatalf("default oscillator missing: %+v", p.Oscillators)
	}
}

func TestLoadJSONRejectsUnknownWaveform(t *testing.T) {
	dir := t.TempDir()
	presetPath := filepath.Join(dir, "bad.json")
	content := `{"oscillators": [{"waveform": "wobbly"}]}`
	if err := os.WriteFile(presetPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write preset: %v", err)
	}
	if _, err := LoadJSON(presetPath); err == nil {
		t.Fatalf("expected error for unknown waveform")
	}
}

func TestLoadJSONRejectsInvalidRanges(t *testing.T) {
	dir := t.TempDir()
	cases := []string{
		`{"filter": {"enabled": true, "cutoff_hz": -1}}`,
		`{"envelope": {"sustain_level": 1.5}}`,
		`{"routes": [{"source": "lfo", "target": ""}]}`,
		`{"routes": [{"source": "lfo", "target": "amp.gain", "combine": "xor"}]}`,
		`{"sample_layers": [{"regions": [{"root_key": 60}]}]}`,
	}
	for i, content := range cases {
		presetPath := filepath.Join(dir, "bad.json")
		if err := os.WriteFile(presetPath, []byte(content), 0o644); err != nil {
			t.Fatalf("write preset: %v", err)
		}
		if _, err := LoadJSON(presetPath); err == nil {
			t.Fatalf("case %d: expected a validation error", i)
		}
	}
}

func TestApplyFileDisabledRoute(t *testing.T) {
	p := modsynth.NewDefaultPatch("x")
	off := false
	err := ApplyFile(p, &File{
		Routes: []Route{{Enabled: &off, Source: "lfo", Target: "amp.gain", Depth: 1}},
	})
	if err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}
	if len(p.Routes) != 1 || p.Routes[0].Enabled {
		t.Fatalf("explicit enabled:false must survive: %+v", p.Routes)
	}
}
