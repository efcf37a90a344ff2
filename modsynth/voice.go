package modsynth

import (
	"github.com/cwbudde/algo-modsynth/graph"
)

// Voice is one sounding instance of a patch. It owns its signal graph
// exclusively: every constructed stage lands on the teardown list, and
// teardown runs exactly once no matter how often stop is called.
type Voice struct {
	id       uint64
	noteKey  string
	note     int
	velocity float64
	context  NoteContext

	engine *Engine
	patch  *Patch

	startedAt    float64
	releasedAt   float64
	releaseLevel float32
	released     bool
	stealPending bool
	torn         bool
	active       bool

	baseGain    float32
	sustainGain float32
	env         Envelope

	// Graph ownership. stages is the teardown list; sources are the subset
	// needing an explicit stop.
	stages  []graph.Node
	sources []graph.Source

	ampGain   graph.Gain
	filter    graph.Filter
	driveGain graph.Gain
	preAmp    graph.Gain // pre-amp mix bus, input for the envelope follower

	filterCutoff float32
	filterQ      float32
	driveAmount  float32

	oscFreqBindings    []paramBinding
	sampleRateBindings []paramBinding

	// Per-voice expression injection points keyed by dimension. Built lazily
	// when a route references the dimension.
	exprInject map[ExpressionDim]graph.Constant

	// Lazily built per-voice utility sources.
	utilSources map[string]*resolvedSource
}

// VoiceHandle is the caller-facing handle for a started voice.
type VoiceHandle struct {
	ID        uint64
	NoteKey   string
	StartedAt float64

	voice *Voice
}

// Stop schedules the voice's release. A releaseOverrideMs of zero or less
// uses the patch's configured release time. Stop is idempotent.
func (h *VoiceHandle) Stop(releaseOverrideMs float64) {
	if h == nil || h.voice == nil {
		return
	}
	h.voice.stop(releaseOverrideMs)
}

// track registers a stage on the teardown list.
func (v *Voice) track(n graph.Node) {
	if n != nil {
		v.stages = append(v.stages, n)
	}
}

// trackSource registers a source for both stop and teardown.
func (v *Voice) trackSource(s graph.Source) {
	if s != nil {
		v.sources = append(v.sources, s)
		v.stages = append(v.stages, s)
	}
}

// stop schedules the release ramp and, after the release window has fully
// elapsed, tears the voice's graph down. Calling it from any state -
// starting, sounding, releasing or already stopped - is safe; duplicate
// calls are absorbed silently.
func (v *Voice) stop(releaseOverrideMs float64) {
	if v == nil || v.torn || v.released {
		return
	}
	v.released = true

	rt := v.engine.rt
	now := rt.Now()
	v.releasedAt = now
	v.releaseLevel = v.sustainGain

	releaseMs := v.env.ReleaseMs
	if releaseOverrideMs > 0 {
		releaseMs = releaseOverrideMs
	}
	releaseSec := releaseMs / 1000.0

	if v.ampGain != nil {
		g := v.ampGain.Gain()
		g.SetValueAtTime(v.releaseLevel, now)
		g.LinearRampToValueAtTime(0, now+releaseSec)
	}
	v.markReleaseSources(now)

	// Bookkeeping timeout only: the ramp itself is scheduled on the graph.
	rt.Schedule(now+releaseSec+0.01, func() {
		v.teardown()
		v.engine.removeVoice(v)
	})
}

// markReleaseSources starts the release-age ramp if the voice built one.
func (v *Voice) markReleaseSources(now float64) {
	if rs, ok := v.utilSources[sourceReleaseAge]; ok && rs.releaseRamp != nil {
		p := rs.releaseRamp
		p.SetValueAtTime(0, now)
		p.LinearRampToValueAtTime(1, now+1.0)
	}
}

// teardown stops and disconnects every tracked stage exactly once. Individual
// stop/disconnect failures are swallowed so the idempotence contract holds by
// construction.
func (v *Voice) teardown() {
	if v == nil || v.torn {
		return
	}
	v.torn = true
	v.active = false

	now := v.engine.rt.Now()
	for _, s := range v.sources {
		safeStop(s, now)
	}
	for _, n := range v.stages {
		safeDisconnect(n)
	}
	v.stages = nil
	v.sources = nil
}

func safeStop(s graph.Source, at float64) {
	defer func() { _ = recover() }()
	s.Stop(at)
}

func safeDisconnect(n graph.Node) {
	defer func() { _ = recover() }()
	n.Disconnect()
}

// setExpression writes a controller value into this voice's injection point
// for the dimension, if any route built one.
func (v *Voice) setExpression(dim ExpressionDim, value float32) {
	if c, ok := v.exprInject[dim]; ok {
		c.Offset().SetValue(value)
	}
}
