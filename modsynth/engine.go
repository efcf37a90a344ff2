package modsynth

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/cwbudde/algo-modsynth/graph"
	"github.com/cwbudde/algo-modsynth/sampler"
)

// Engine is the voice manager. It owns the active-voice registry, the shared
// modulation-source cache and the asset loader; patches and note events come
// from external collaborators.
type Engine struct {
	rt  graph.Runtime
	cfg *Config
	log *slog.Logger

	voices  []*Voice
	nextID  uint64
	seedCtr int64

	shared *sourceCache
	expr   map[ExpressionDim]float32
	assets *sampler.Assets
	rr     map[string]*sampler.RoundRobin

	lastErr error
	errSubs []func(error)
	closed  bool
}

// NewEngine creates an engine on the given runtime.
func NewEngine(rt graph.Runtime, cfg *Config) *Engine {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if cfg.MaxPolyphony < 1 {
		cfg.MaxPolyphony = 16
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		rt:     rt,
		cfg:    cfg,
		log:    logger,
		shared: newSourceCache(),
		expr:   make(map[ExpressionDim]float32),
		assets: sampler.NewAssets(rt.SampleRate(), logger),
		rr:     make(map[string]*sampler.RoundRobin),
	}
}

// ActiveVoices returns the number of voices in the registry, including
// voices still in their release phase.
func (e *Engine) ActiveVoices() int { return len(e.voices) }

// Runtime returns the engine's graph runtime.
func (e *Engine) Runtime() graph.Runtime { return e.rt }

// Start opens a voice for a note event. Build failures never propagate:
// configuration and asset problems degrade the voice, and an unexpected
// fault abandons the build, records the engine fault and returns nil.
func (e *Engine) Start(patch *Patch, noteKey string, ev NoteEvent) (handle *VoiceHandle) {
	if e.closed || patch == nil {
		return nil
	}

	if len(e.voices) >= e.cfg.MaxPolyphony {
		e.stealVoice()
	}

	e.nextID++
	e.seedCtr++
	v := &Voice{
		id:          e.nextID,
		noteKey:     noteKey,
		note:        ev.Pitch,
		velocity:    ev.Velocity,
		context:     ev.Context,
		engine:      e,
		patch:       patch,
		env:         patch.Envelope,
		exprInject:  make(map[ExpressionDim]graph.Constant),
		utilSources: make(map[string]*resolvedSource),
	}

	defer func() {
		if r := recover(); r != nil {
			e.setLastError(fmt.Errorf("voice build failed: %v", r))
			e.log.Error("voice build abandoned", "noteKey", noteKey, "err", r)
			v.teardown()
			e.removeVoice(v)
			handle = nil
		}
	}()

	e.buildVoice(v, patch, ev)
	e.voices = append(e.voices, v)

	return &VoiceHandle{
		ID:        v.id,
		NoteKey:   v.noteKey,
		StartedAt: v.startedAt,
		voice:     v,
	}
}

// Stop schedules the release of a voice by id. Unknown ids are ignored.
func (e *Engine) Stop(voiceID uint64, releaseOverrideMs float64) {
	for _, v := range e.voices {
		if v.id == voiceID {
			v.stop(releaseOverrideMs)
			return
		}
	}
}

// StopNoteKey schedules the release of every voice bound to a note key.
func (e *Engine) StopNoteKey(noteKey string, releaseOverrideMs float64) {
	for _, v := range e.voices {
		if v.noteKey == noteKey {
			v.stop(releaseOverrideMs)
		}
	}
}

// Panic tears down every voice immediately.
func (e *Engine) Panic() {
	voices := e.voices
	e.voices = nil
	for _, v := range voices {
		v.teardown()
	}
}

// Close stops all voices, disposes the shared source cache and closes the
// runtime. Shared sources live exactly as long as the engine.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.Panic()
	e.shared.dispose()
	e.rt.Close()
}

// stealVoice applies the configured steal policy: release-first prefers the
// oldest voice already releasing, falling back to the oldest voice overall.
func (e *Engine) stealVoice() {
	if len(e.voices) == 0 {
		return
	}

	var victim *Voice
	if e.cfg.StealPolicy != "oldest" {
		for _, v := range e.voices {
			if !v.released {
				continue
			}
			if victim == nil || v.startedAt < victim.startedAt {
				victim = v
			}
		}
	}
	if victim == nil {
		for _, v := range e.voices {
			if victim == nil || v.startedAt < victim.startedAt {
				victim = v
			}
		}
	}
	if victim == nil {
		return
	}

	e.log.Debug("voice stolen", "noteKey", victim.noteKey, "startedAt", victim.startedAt)
	victim.stealPending = true
	e.removeVoice(victim)
	if victim.released {
		victim.teardown()
	} else {
		victim.stop(15)
	}
}

func (e *Engine) removeVoice(victim *Voice) {
	kept := e.voices[:0]
	for _, v := range e.voices {
		if v != victim {
			kept = append(kept, v)
		}
	}
	e.voices = kept
}

func (e *Engine) roundRobinFor(patchID string) *sampler.RoundRobin {
	rr, ok := e.rr[patchID]
	if !ok {
		rr = sampler.NewRoundRobin()
		e.rr[patchID] = rr
	}
	return rr
}

// buildVoice constructs the voice's signal graph. Construction completes and
// is fully wired before any source starts producing into the destination.
func (e *Engine) buildVoice(v *Voice, patch *Patch, ev NoteEvent) {
	rt := e.rt
	now := rt.Now()
	at := ev.StartTime
	if at < now {
		at = now
	}
	v.startedAt = at

	v.baseGain = float32(sampler.CurveVelocity(ev.Velocity, patch.VelocityCurve))
	v.sustainGain = v.baseGain * patch.Envelope.SustainLevel

	// Mix chain: layers -> preAmp -> [drive] -> [filter] -> ampGain -> dest.
	v.preAmp = rt.CreateGain()
	v.track(v.preAmp)
	var chain graph.Node = v.preAmp

	if patch.Drive.Enabled {
		v.driveAmount = patch.Drive.Amount
		if v.driveAmount <= 0 {
			v.driveAmount = 1
		}
		v.driveGain = rt.CreateGain()
		v.driveGain.Gain().SetValue(v.driveAmount)
		shaper := rt.CreateShaper()
		shaper.SetCurve(driveCurve(513))
		chain.Connect(v.driveGain)
		v.driveGain.Connect(shaper)
		v.track(v.driveGain)
		v.track(shaper)
		chain = shaper
	}

	if patch.Filter.Enabled {
		v.filterCutoff = patch.Filter.CutoffHz
		v.filterQ = patch.Filter.Q
		v.filter = rt.CreateFilter()
		v.filter.Cutoff().SetValue(v.filterCutoff)
		v.filter.Q().SetValue(v.filterQ)
		chain.Connect(v.filter)
		v.track(v.filter)
		chain = v.filter
	}

	v.ampGain = rt.CreateGain()
	v.ampGain.Gain().SetValue(0)
	chain.Connect(v.ampGain)
	v.ampGain.Connect(rt.Destination())
	v.track(v.ampGain)

	e.buildOscillators(v, patch, ev, at)
	e.buildSampleLayers(v, patch, ev, at)

	// Routes wire before the envelope so a zero-route amplitude target is
	// restored without clobbering the envelope automation scheduled below.
	e.applyRoutes(v)
	e.scheduleEnvelope(v, at)

	v.active = true
}

func (e *Engine) buildOscillators(v *Voice, patch *Patch, ev NoteEvent, at float64) {
	rt := e.rt
	f0 := midiNoteToFreq(ev.Pitch)

	for _, layer := range patch.Oscillators {
		if !layer.Enabled {
			continue
		}
		freq := f0 * float32(math.Pow(2, float64(layer.Octave))) * centsToRatio(layer.DetuneCents)

		osc := rt.CreateOscillator()
		osc.SetWaveform(layer.Waveform)
		osc.Frequency().SetValue(freq)
		v.oscFreqBindings = append(v.oscFreqBindings, paramBinding{param: osc.Frequency(), static: freq})

		gain := layer.Gain
		if gain <= 0 {
			gain = 1
		}
		g := rt.CreateGain()
		g.Gain().SetValue(gain)
		osc.Connect(g)
		g.Connect(v.preAmp)

		v.trackSource(osc)
		v.track(g)
		osc.Start(at)
	}
}

// buildSampleLayers resolves and starts the sample material for the note. A
// failed asset load confines to its layer: the plan is skipped and logged,
// and the rest of the voice plays.
func (e *Engine) buildSampleLayers(v *Voice, patch *Patch, ev NoteEvent, at float64) {
	if len(patch.SampleLayers) == 0 {
		return
	}
	rt := e.rt

	seed := int64(hashSeed(patch.ID, v.noteKey)) + e.seedCtr
	plans := sampler.Resolve(patch.SampleLayers, ev.Pitch, ev.Velocity, patch.VelocityCurve, e.roundRobinFor(patch.ID), seed)

	for _, plan := range plans {
		buf, err := e.assets.Load(plan.Path)
		if err != nil {
			e.log.Warn("sample layer skipped", "path", plan.Path, "err", err)
			continue
		}

		bs := rt.CreateBufferSource()
		bs.SetBuffer(buf)

		ratio := centsToRatio(float32(plan.TuneCents))
		if plan.RootKey > 0 {
			ratio *= pow2Approx(float32(ev.Pitch-plan.RootKey) / 12.0)
		}
		bs.PlaybackRate().SetValue(ratio)
		v.sampleRateBindings = append(v.sampleRateBindings, paramBinding{param: bs.PlaybackRate(), static: ratio})

		if plan.LoopEnabled {
			bs.SetLoop(plan.LoopStart, plan.LoopEnd, true)
		}

		g := rt.CreateGain()
		g.Gain().SetValue(float32(plan.Gain))
		bs.Connect(g)
		g.Connect(v.preAmp)

		v.trackSource(bs)
		v.track(g)
		bs.Start(at)
	}
}

// scheduleEnvelope writes the attack/decay automation onto the amp gain.
func (e *Engine) scheduleEnvelope(v *Voice, at float64) {
	g := v.ampGain.Gain()
	attack := v.env.AttackMs / 1000.0
	decay := v.env.DecayMs / 1000.0
	if attack < 0.001 {
		attack = 0.001
	}
	g.SetValueAtTime(0, at)
	g.LinearRampToValueAtTime(v.baseGain, at+attack)
	if decay > 0 {
		g.LinearRampToValueAtTime(v.sustainGain, at+attack+decay)
	}
}

// driveCurve is a soft-clip transfer table.
func driveCurve(n int) []float32 {
	out := make([]float32, n)
	norm := math.Tanh(3.0)
	for i := range out {
		x := 2*float64(i)/float64(n-1) - 1
		out[i] = float32(math.Tanh(3*x) / norm)
	}
	return out
}
