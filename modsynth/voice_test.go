package modsynth

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/wav"
	"github.com/go-audio/audio"

	"github.com/cwbudde/algo-modsynth/sampler"
)

func sampleLayersFor(path string) []sampler.Layer {
	return []sampler.Layer{{
		KeyHi: 127,
		Regions: []sampler.Region{
			{Path: path, RootKey: 60, KeyHi: 127},
		},
	}}
}

func writeTestWAV(t *testing.T, dir, name string, data []float32, sampleRate int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	defer enc.Close()
	buf := &audio.Float32Buffer{
		Format: &audio.Format{
			SampleRate:  sampleRate,
			NumChannels: 1,
		},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	return path
}

func TestSampleLayerPlaysBack(t *testing.T) {
	dir := t.TempDir()
	data := make([]float32, 48000)
	for i := range data {
		data[i] = 0.5
	}
	path := writeTestWAV(t, dir, "pad.wav", data, 48000)

	e, rt := newTestEngine(nil)
	patch := NewDefaultPatch("sample")
	patch.Oscillators = nil
	patch.Envelope.AttackMs = 1
	patch.SampleLayers = sampleLayersFor(path)

	h := e.Start(patch, "n1", NoteEvent{Pitch: 60, Velocity: 1})
	if h == nil {
		t.Fatalf("voice did not start")
	}
	if len(h.voice.sources) != 1 {
		t.Fatalf("expected one buffer source, got %d", len(h.voice.sources))
	}

	out := rt.Render(4800)
	var sum float64
	for _, s := range out[2400:] {
		sum += float64(s) * float64(s)
	}
	if math.Sqrt(sum/2400) < 0.1 {
		t.Fatalf("expected audible sample playback")
	}
}

func TestSamplePitchTrackingFromRootKey(t *testing.T) {
	dir := t.TempDir()
	path := writeTestWAV(t, dir, "tone.wav", make([]float32, 4800), 48000)

	e, _ := newTestEngine(nil)
	patch := NewDefaultPatch("pitch")
	patch.Oscillators = nil
	patch.SampleLayers = sampleLayersFor(path)

	h := e.Start(patch, "n1", NoteEvent{Pitch: 72, Velocity: 1})
	if len(h.voice.sampleRateBindings) != 1 {
		t.Fatalf("expected one playback-rate binding, got %d", len(h.voice.sampleRateBindings))
	}
	// One octave above the root key doubles the playback rate.
	rate := h.voice.sampleRateBindings[0].static
	if math.Abs(float64(rate)-2.0) > 0.05 {
		t.Fatalf("playback rate %f, want ~2.0", rate)
	}
}

func TestVelocityCrossfadeBuildsBothZones(t *testing.T) {
	dir := t.TempDir()
	soft := writeTestWAV(t, dir, "soft.wav", make([]float32, 480), 48000)
	loud := writeTestWAV(t, dir, "loud.wav", make([]float32, 480), 48000)

	e, _ := newTestEngine(nil)
	patch := NewDefaultPatch("xfade")
	patch.Oscillators = nil
	patch.SampleLayers = []sampler.Layer{{
		KeyHi: 127,
		Regions: []sampler.Region{
			{Path: soft, RootKey: 60, KeyHi: 127, VelLo: 0, VelHi: 0.5, OverlapWidth: 0.2},
			{Path: loud, RootKey: 60, KeyHi: 127, VelLo: 0.5, VelHi: 1.0},
		},
	}}

	h := e.Start(patch, "n1", NoteEvent{Pitch: 60, Velocity: 0.5})
	if len(h.voice.sources) != 2 {
		t.Fatalf("expected both crossfade zones to build, got %d sources", len(h.voice.sources))
	}
}

func TestUtilitySourceVelocity(t *testing.T) {
	e, rt := newTestEngine(nil)
	patch := NewDefaultPatch("util-vel")
	patch.Filter = FilterConfig{Enabled: true, CutoffHz: 500, Q: 0.7071}
	patch.Routes = []ModulationRoute{
		{Enabled: true, Source: "velocity", Target: "filter.q", Depth: 1},
	}

	h := e.Start(patch, "n1", NoteEvent{Pitch: 60, Velocity: 0.5})
	got := rt.CaptureParam(h.voice.filter.Q(), 16)
	// filter.q carries a x4 range constant: 0.7071 + 4 * 0.5.
	want := 0.7071 + 4*0.5
	if math.Abs(float64(got[8])-want) > 1e-3 {
		t.Fatalf("q = %f, want %f", got[8], want)
	}
}

func TestEnvFollowToOscFrequencyRenders(t *testing.T) {
	e, rt := newTestEngine(nil)
	patch := NewDefaultPatch("env-feedback")
	// The follower taps the voice's own pre-amp signal, so driving the
	// oscillator frequency with it closes a feedback cycle through the
	// graph. The render must stay finite instead of recursing.
	patch.Routes = []ModulationRoute{
		{Enabled: true, Source: "envFollow", Target: "osc.frequency", Depth: 0.5},
	}

	h := e.Start(patch, "n1", NoteEvent{Pitch: 57, Velocity: 0.8})
	if h == nil {
		t.Fatalf("voice did not start: %v", e.LastError())
	}
	for i := 0; i < 8; i++ {
		block := rt.Render(256)
		for j, s := range block {
			if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
				t.Fatalf("block %d sample %d not finite: %f", i, j, s)
			}
		}
	}
	if e.ActiveVoices() != 1 {
		t.Fatalf("ActiveVoices = %d, want 1", e.ActiveVoices())
	}
}

func TestUtilitySourceNoteAgeRamps(t *testing.T) {
	e, rt := newTestEngine(nil)
	patch := NewDefaultPatch("util-age")
	patch.Routes = []ModulationRoute{
		{Enabled: true, Source: "noteAge", Target: "amp.gain", Depth: 1},
	}

	h := e.Start(patch, "n1", NoteEvent{Pitch: 60, Velocity: 0})
	p := h.voice.ampGain.Gain()

	out := rt.RenderParam(p, 24000) // 0..0.5s
	early := out[0]
	late := out[len(out)-1]
	if float64(late-early) < 0.4 {
		t.Fatalf("note age must ramp up over the first second: %f -> %f", early, late)
	}
}

func TestUtilitySourceReleaseAgeStartsOnRelease(t *testing.T) {
	e, rt := newTestEngine(nil)
	patch := NewDefaultPatch("util-rel")
	patch.Envelope.ReleaseMs = 2000
	patch.Filter = FilterConfig{Enabled: true, CutoffHz: 500, Q: 0.7071}
	patch.Routes = []ModulationRoute{
		{Enabled: true, Source: "releaseAge", Target: "filter.q", Depth: 1},
	}

	h := e.Start(patch, "n1", NoteEvent{Pitch: 60, Velocity: 0.8})
	p := h.voice.filter.Q()

	out := rt.RenderParam(p, 4800) // 0.1s held
	if math.Abs(float64(out[len(out)-1])-0.7071) > 1e-3 {
		t.Fatalf("release age must stay zero while held, q=%f", out[len(out)-1])
	}

	h.Stop(0)
	out = rt.RenderParam(p, 24000) // 0.6s total, 0.5s into release
	if float64(out[len(out)-1]) < 0.7071+4*0.3 {
		t.Fatalf("release age must ramp after release, q=%f", out[len(out)-1])
	}
}

func TestUtilitySourcesAreLazy(t *testing.T) {
	e, _ := newTestEngine(nil)
	patch := NewDefaultPatch("lazy")

	h := e.Start(patch, "n1", NoteEvent{Pitch: 60, Velocity: 0.8})
	if len(h.voice.utilSources) != 0 {
		t.Fatalf("utility sources must only build when routed, got %d", len(h.voice.utilSources))
	}

	patch2 := NewDefaultPatch("lazy2")
	patch2.Routes = []ModulationRoute{
		{Enabled: true, Source: "drift", Target: "osc.frequency", Depth: 0.1},
	}
	h2 := e.Start(patch2, "n2", NoteEvent{Pitch: 60, Velocity: 0.8})
	if len(h2.voice.utilSources) != 1 {
		t.Fatalf("routed utility source missing, got %d", len(h2.voice.utilSources))
	}
	if _, ok := h2.voice.utilSources[sourceDrift]; !ok {
		t.Fatalf("expected the drift source to be built")
	}
}

func TestDriveStageShapesSignal(t *testing.T) {
	e, rt := newTestEngine(nil)
	patch := NewDefaultPatch("drive")
	patch.Drive = DriveConfig{Enabled: true, Amount: 4}
	patch.Envelope.AttackMs = 1
	patch.Envelope.SustainLevel = 1

	h := e.Start(patch, "n1", NoteEvent{Pitch: 60, Velocity: 1})
	if h == nil {
		t.Fatalf("voice did not start")
	}

	out := rt.Render(9600)
	var peak float32
	for _, s := range out[4800:] {
		if s > peak {
			peak = s
		}
	}
	// The soft-clip table saturates: heavy drive still lands at or below
	// full scale.
	if peak > 1.01 {
		t.Fatalf("drive output exceeded full scale: %f", peak)
	}
	if peak < 0.9 {
		t.Fatalf("expected a saturated waveform, peak=%f", peak)
	}
}
