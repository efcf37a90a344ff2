package modsynth

import (
	"strconv"

	"github.com/cwbudde/algo-modsynth/graph"
)

// Utility source identifiers. These are built once per voice, and only when a
// route actually references them.
const (
	sourceNoteAge    = "noteAge"
	sourceReleaseAge = "releaseAge"
	sourceDrift      = "drift"
	sourceEnvFollow  = "envFollow"
	sourceVelocity   = "velocity"
)

// resolvedSource is the source bank's answer for one route source.
type resolvedSource struct {
	node     graph.Node
	bipolar  bool
	periodic bool
	rateHz   float64
	shared   bool

	// releaseRamp is set for the release-age utility so stop can trigger it.
	releaseRamp graph.Param
}

// sharedSource is a cache entry for a non-retriggering source. Voices hold it
// weakly: it is never on any voice's teardown list and lives until the engine
// closes.
type sharedSource struct {
	node     graph.Node
	src      graph.Source
	bipolar  bool
	periodic bool
	rateHz   float64
}

// sourceCache is the process-wide registry of shared modulation sources,
// scoped to one engine instance.
type sourceCache struct {
	entries map[string]*sharedSource
	builds  int
}

func newSourceCache() *sourceCache {
	return &sourceCache{entries: make(map[string]*sharedSource)}
}

func (c *sourceCache) getOrCreate(key string, build func() *sharedSource) *sharedSource {
	if s, ok := c.entries[key]; ok {
		return s
	}
	s := build()
	c.builds++
	c.entries[key] = s
	return s
}

func (c *sourceCache) dispose() {
	for _, s := range c.entries {
		if s.src != nil {
			safeStop(s.src, 0)
		}
		safeDisconnect(s.node)
	}
	c.entries = make(map[string]*sharedSource)
}

// sharedCacheKey concatenates everything that shapes a non-retriggering
// source's signal, so settings changes produce a distinct instance.
func sharedCacheKey(patchID, sourceID string, cfg SourceConfig, rateHz float64) string {
	sync := "hz"
	if cfg.TempoSync {
		sync = "sync:" + cfg.Division
	}
	return patchID + "|" + sourceID + "|" + string(cfg.Waveform) + "|" + sync +
		"|" + strconv.FormatFloat(rateHz, 'f', 3, 64) +
		"|" + strconv.FormatFloat(cfg.Curve, 'f', 3, 64) +
		"|" + strconv.FormatFloat(cfg.FadeInMs, 'f', 1, 64)
}

// resolveSource maps a route source id to a concrete signal for this voice.
// Unknown ids report false; the router skips the route (configuration errors
// never abort a voice build).
func (e *Engine) resolveSource(sourceID string, v *Voice) (*resolvedSource, bool) {
	if cfg, ok := v.patch.Sources[sourceID]; ok {
		return e.resolveConfigured(sourceID, cfg, v), true
	}

	if expressionDims[ExpressionDim(sourceID)] {
		return e.resolveExpression(ExpressionDim(sourceID), v), true
	}

	switch sourceID {
	case sourceVelocity, sourceNoteAge, sourceReleaseAge, sourceDrift, sourceEnvFollow:
		return e.resolveUtility(sourceID, v), true
	}
	return nil, false
}

// resolveConfigured builds or looks up an oscillatory source.
func (e *Engine) resolveConfigured(sourceID string, cfg SourceConfig, v *Voice) *resolvedSource {
	rate := sourceRateHz(cfg, e.cfg.TempoBPM)

	if cfg.Retrigger {
		return e.buildVoiceLFO(sourceID, cfg, rate, v)
	}

	key := sharedCacheKey(v.patch.ID, sourceID, cfg, rate)
	s := e.shared.getOrCreate(key, func() *sharedSource {
		return e.buildSharedLFO(v.patch.ID, sourceID, cfg, rate)
	})
	return &resolvedSource{
		node:     s.node,
		bipolar:  s.bipolar,
		periodic: s.periodic,
		rateHz:   s.rateHz,
		shared:   true,
	}
}

// buildVoiceLFO constructs a fresh retriggering source owned by the voice.
func (e *Engine) buildVoiceLFO(sourceID string, cfg SourceConfig, rate float64, v *Voice) *resolvedSource {
	rt := e.rt
	now := rt.Now()

	osc := rt.CreateOscillator()
	osc.SetWaveform(cfg.Waveform)
	osc.Frequency().SetValue(float32(rate))
	if cfg.Waveform == graph.WaveSampleHold {
		osc.SetSeed(hashSeed(v.patch.ID, sourceID, v.noteKey))
	}
	v.trackSource(osc)

	var out graph.Node = osc

	if cfg.Curve > 0 {
		out = e.shapeCurve(out, cfg.Curve, v)
	}

	if cfg.FadeInMs > 0 {
		fade := rt.CreateGain()
		g := fade.Gain()
		g.SetValue(0)
		g.SetValueAtTime(0, now)
		g.LinearRampToValueAtTime(1, now+cfg.FadeInMs/1000.0)
		out.Connect(fade)
		v.track(fade)
		out = fade
	}

	osc.Start(now)
	if cfg.OneShot && rate > 0 {
		osc.Stop(now + 1.0/rate)
	}

	return &resolvedSource{node: out, bipolar: true, periodic: true, rateHz: rate}
}

// buildSharedLFO constructs a non-retriggering source registered process-wide.
// The sample-and-hold seed derives from a stable FNV-1a hash of the cache
// identity so repeated builds with identical settings are reproducible.
func (e *Engine) buildSharedLFO(patchID, sourceID string, cfg SourceConfig, rate float64) *sharedSource {
	rt := e.rt
	now := rt.Now()

	osc := rt.CreateOscillator()
	osc.SetWaveform(cfg.Waveform)
	osc.Frequency().SetValue(float32(rate))
	if cfg.Waveform == graph.WaveSampleHold {
		osc.SetSeed(hashSeed(patchID, sourceID, "global"))
	}

	var out graph.Node = osc

	if cfg.Curve > 0 {
		shaper := rt.CreateShaper()
		shaper.SetCurve(curveTable(cfg.Curve))
		out.Connect(shaper)
		out = shaper
	}

	if cfg.FadeInMs > 0 {
		fade := rt.CreateGain()
		g := fade.Gain()
		g.SetValue(0)
		g.SetValueAtTime(0, now)
		g.LinearRampToValueAtTime(1, now+cfg.FadeInMs/1000.0)
		out.Connect(fade)
		out = fade
	}

	osc.Start(now)

	return &sharedSource{node: out, src: osc, bipolar: true, periodic: true, rateHz: rate}
}

// shapeCurve interposes a voice-owned shaping stage.
func (e *Engine) shapeCurve(in graph.Node, amount float64, v *Voice) graph.Node {
	shaper := e.rt.CreateShaper()
	shaper.SetCurve(curveTable(amount))
	in.Connect(shaper)
	v.track(shaper)
	return shaper
}

// curveTable builds a smoothed signed-power transfer curve.
func curveTable(amount float64) []float32 {
	curve := graph.PowCurve(257, amount)
	smoothed, err := graph.SmoothCurve(curve, 9)
	if err != nil {
		return curve
	}
	return smoothed
}

// resolveExpression returns the voice's injection point for a controller
// dimension, creating it on first reference.
func (e *Engine) resolveExpression(dim ExpressionDim, v *Voice) *resolvedSource {
	if c, ok := v.exprInject[dim]; ok {
		return &resolvedSource{node: c, bipolar: false}
	}
	c := e.rt.CreateConstant()
	c.Offset().SetValue(e.expr[dim])
	c.Start(e.rt.Now())
	v.trackSource(c)
	v.exprInject[dim] = c
	return &resolvedSource{node: c, bipolar: false}
}

// resolveUtility builds a per-voice utility source on first reference.
func (e *Engine) resolveUtility(sourceID string, v *Voice) *resolvedSource {
	if s, ok := v.utilSources[sourceID]; ok {
		return s
	}

	rt := e.rt
	now := rt.Now()
	var rs *resolvedSource

	switch sourceID {
	case sourceVelocity:
		c := rt.CreateConstant()
		c.Offset().SetValue(v.baseGain)
		c.Start(now)
		v.trackSource(c)
		rs = &resolvedSource{node: c, bipolar: false}

	case sourceNoteAge:
		c := rt.CreateConstant()
		p := c.Offset()
		p.SetValue(0)
		p.SetValueAtTime(0, now)
		p.LinearRampToValueAtTime(1, now+1.0)
		c.Start(now)
		v.trackSource(c)
		rs = &resolvedSource{node: c, bipolar: false}

	case sourceReleaseAge:
		c := rt.CreateConstant()
		p := c.Offset()
		p.SetValue(0)
		c.Start(now)
		v.trackSource(c)
		rs = &resolvedSource{node: c, bipolar: false, releaseRamp: p}

	case sourceDrift:
		osc := rt.CreateOscillator()
		osc.SetWaveform(graph.WaveSampleHold)
		osc.Frequency().SetValue(0.5)
		osc.SetSeed(hashSeed(v.patch.ID, sourceDrift, v.noteKey))
		smooth := rt.CreateFilter()
		smooth.Cutoff().SetValue(1.0)
		osc.Connect(smooth)
		osc.Start(now)
		v.trackSource(osc)
		v.track(smooth)
		rs = &resolvedSource{node: smooth, bipolar: true}

	case sourceEnvFollow:
		rect := rt.CreateShaper()
		rect.SetCurve(graph.AbsCurve(257))
		smooth := rt.CreateFilter()
		smooth.Cutoff().SetValue(10.0)
		if v.preAmp != nil {
			v.preAmp.Connect(rect)
		}
		rect.Connect(smooth)
		v.track(rect)
		v.track(smooth)
		rs = &resolvedSource{node: smooth, bipolar: false}

	default:
		return nil
	}

	v.utilSources[sourceID] = rs
	return rs
}
