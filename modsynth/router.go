package modsynth

import (
	"math"

	"github.com/cwbudde/algo-modsynth/graph"
)

// applyRoutes wires the patch's modulation routes into the voice. Routes are
// grouped by target; within a target the combine algebra folds every resolved
// route into a single parameter write. Configuration errors (unknown targets
// or sources) skip the offending route and never abort the build.
func (e *Engine) applyRoutes(v *Voice) {
	byTarget := make(map[string][]ModulationRoute)
	var order []string
	for _, r := range v.patch.Routes {
		if !r.Enabled {
			continue
		}
		if _, ok := targetSpecs[r.Target]; !ok {
			e.log.Debug("route skipped: unknown target", "target", r.Target, "source", r.Source)
			continue
		}
		if _, ok := byTarget[r.Target]; !ok {
			order = append(order, r.Target)
		}
		byTarget[r.Target] = append(byTarget[r.Target], r)
	}

	for _, target := range order {
		tspec := targetSpecs[target]
		binds := tspec.bind(v)
		if len(binds) == 0 {
			e.log.Debug("route skipped: target not present on voice", "target", target)
			continue
		}
		e.applyTargetRoutes(v, target, tspec, binds, byTarget[target])
	}
}

// applyTargetRoutes resolves and combines the routes driving one target.
func (e *Engine) applyTargetRoutes(v *Voice, target string, tspec targetSpec, binds []paramBinding, routes []ModulationRoute) {
	var sums, avgs, maxes, mins, mults []graph.Node

	for _, r := range routes {
		node := e.buildRouteChain(v, r, tspec.controlRate)
		if node == nil {
			continue
		}
		switch r.CombineMode {
		case CombineAvg:
			avgs = append(avgs, node)
		case CombineMax:
			maxes = append(maxes, node)
		case CombineMin:
			mins = append(mins, node)
		case CombineMultiply:
			mults = append(mults, node)
		default:
			sums = append(sums, node)
		}
	}

	var base graph.Node

	// Sum and avg share one running total; avg contributions are divided by
	// their own group's count first.
	if len(sums)+len(avgs) > 0 {
		bus := e.rt.CreateGain()
		v.track(bus)
		for _, n := range sums {
			n.Connect(bus)
		}
		if len(avgs) > 0 {
			div := e.rt.CreateGain()
			div.Gain().SetValue(1.0 / float32(len(avgs)))
			v.track(div)
			for _, n := range avgs {
				n.Connect(div)
			}
			div.Connect(bus)
		}
		base = bus
	}

	if maxN := e.reducePairwise(v, maxes, e.buildMaxPair); maxN != nil {
		if base != nil {
			base = e.buildMaxPair(v, base, maxN)
		} else {
			base = maxN
		}
	}
	if minN := e.reducePairwise(v, mins, e.buildMinPair); minN != nil {
		if base != nil {
			base = e.buildMinPair(v, base, minN)
		} else {
			base = minN
		}
	}

	// Multiply routes run last: a serial gain chain seeded from unity, each
	// routed signal multiplying the running product.
	if len(mults) > 0 {
		seed := e.rt.CreateConstant()
		seed.Offset().SetValue(1)
		seed.Start(e.rt.Now())
		v.trackSource(seed)

		var prev graph.Node = seed
		for _, m := range mults {
			g := e.rt.CreateGain()
			g.Gain().SetValue(0)
			prev.Connect(g)
			m.ConnectParam(g.Gain())
			v.track(g)
			prev = g
		}
		if base != nil {
			scaled := e.rt.CreateGain()
			scaled.Gain().SetValue(0)
			base.Connect(scaled)
			prev.ConnectParam(scaled.Gain())
			v.track(scaled)
			base = scaled
		} else {
			base = prev
		}
	}

	if base == nil {
		// Zero resolved routes: cancel stale automation and restore the
		// static configured value - never silently drive the target to zero.
		for _, b := range binds {
			b.param.CancelScheduled()
			b.param.SetValue(b.static)
		}
		return
	}

	// One per-target range constant after combination.
	out := base
	if tspec.scale != 1 {
		scale := e.rt.CreateGain()
		scale.Gain().SetValue(tspec.scale)
		base.Connect(scale)
		v.track(scale)
		out = scale
	}
	for _, b := range binds {
		out.ConnectParam(b.param)
	}
}

// buildRouteChain builds the per-route stages: optional phase-offset delay,
// optional curve shaping, depth gain, optional smoothing. Returns nil when
// the source cannot be resolved.
func (e *Engine) buildRouteChain(v *Voice, r ModulationRoute, controlRate bool) graph.Node {
	rs, ok := e.resolveSource(r.Source, v)
	if !ok || rs == nil {
		e.log.Debug("route skipped: unknown source", "source", r.Source, "target", r.Target)
		return nil
	}
	node := rs.node

	// A phase offset becomes a bounded delay rather than rebuilding the
	// source at an offset phase; out-of-range delays are skipped entirely.
	if rs.periodic && r.PhaseOffset != 0 && rs.rateHz > 0 {
		phase := math.Mod(float64(r.PhaseOffset), 1.0)
		if phase < 0 {
			phase += 1.0
		}
		d := phase / rs.rateHz
		if d > 0.0001 && d <= 2.0 {
			delay := e.rt.CreateDelay(2.0)
			delay.DelayTime().SetValue(float32(d))
			node.Connect(delay)
			v.track(delay)
			node = delay
		}
	}

	if r.CurveShape > 0 {
		node = e.shapeCurve(node, float64(r.CurveShape), v)
	}

	depth := e.rt.CreateGain()
	depth.Gain().SetValue(r.Depth)
	node.Connect(depth)
	v.track(depth)
	node = depth

	if r.SmoothingMs > 0 || controlRate {
		corner := smoothingCornerHz(float64(r.SmoothingMs), controlRate)
		smooth := e.rt.CreateFilter()
		smooth.Cutoff().SetValue(float32(corner))
		node.Connect(smooth)
		v.track(smooth)
		node = smooth
	}

	return node
}

// reducePairwise folds a route group with a pairwise identity.
func (e *Engine) reducePairwise(v *Voice, nodes []graph.Node, pair func(*Voice, graph.Node, graph.Node) graph.Node) graph.Node {
	if len(nodes) == 0 {
		return nil
	}
	acc := nodes[0]
	for _, n := range nodes[1:] {
		acc = pair(v, acc, n)
	}
	return acc
}

// buildMaxPair composes max(a,b) = (a + b + |a-b|) / 2 from graph primitives.
func (e *Engine) buildMaxPair(v *Voice, a, b graph.Node) graph.Node {
	return e.buildExtremumPair(v, a, b, 0.5)
}

// buildMinPair composes min(a,b) = (a + b - |a-b|) / 2.
func (e *Engine) buildMinPair(v *Voice, a, b graph.Node) graph.Node {
	return e.buildExtremumPair(v, a, b, -0.5)
}

func (e *Engine) buildExtremumPair(v *Voice, a, b graph.Node, absSign float32) graph.Node {
	rt := e.rt

	neg := rt.CreateGain()
	neg.Gain().SetValue(-1)
	b.Connect(neg)
	v.track(neg)

	// The shaper clamps its input to [-1,1], but a-b spans [-2,2] for two
	// unit-range inputs. Halve the difference before the abs curve and
	// double it after so the full span survives.
	diffHalf := rt.CreateGain()
	diffHalf.Gain().SetValue(0.5)
	a.Connect(diffHalf)
	neg.Connect(diffHalf)
	v.track(diffHalf)

	diffAbs := rt.CreateShaper()
	diffAbs.SetCurve(graph.AbsCurve(513))
	diffHalf.Connect(diffAbs)
	v.track(diffAbs)

	absScaled := rt.CreateGain()
	absScaled.Gain().SetValue(2 * absSign)
	diffAbs.Connect(absScaled)
	v.track(absScaled)

	out := rt.CreateGain()
	out.Gain().SetValue(1)
	halfA := rt.CreateGain()
	halfA.Gain().SetValue(0.5)
	a.Connect(halfA)
	v.track(halfA)
	halfB := rt.CreateGain()
	halfB.Gain().SetValue(0.5)
	b.Connect(halfB)
	v.track(halfB)

	halfA.Connect(out)
	halfB.Connect(out)
	absScaled.Connect(out)
	v.track(out)
	return out
}
