package graph

import (
	"math"
	"sort"

	"github.com/cwbudde/algo-approx"
)

// SoftwareRuntime is a block-rendering implementation of Runtime. Rendering is
// pull-based: Render evaluates the destination bus, and every node memoizes
// its output per pass so shared sources are computed once per block.
type SoftwareRuntime struct {
	sampleRate int
	frame      int64
	pass       uint64
	dest       *swGain
	sched      []schedEntry
	closed     bool
}

type schedEntry struct {
	at float64
	fn func()
}

// NewSoftwareRuntime creates a software runtime at the given sample rate.
func NewSoftwareRuntime(sampleRate int) *SoftwareRuntime {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	rt := &SoftwareRuntime{sampleRate: sampleRate}
	rt.dest = rt.newGain()
	rt.dest.gain.static = 1.0
	return rt
}

func (rt *SoftwareRuntime) SampleRate() int { return rt.sampleRate }

func (rt *SoftwareRuntime) Now() float64 {
	return float64(rt.frame) / float64(rt.sampleRate)
}

func (rt *SoftwareRuntime) Destination() Node { return rt.dest }

// Schedule registers a callback fired after the runtime clock passes at.
func (rt *SoftwareRuntime) Schedule(at float64, fn func()) {
	if rt.closed || fn == nil {
		return
	}
	rt.sched = append(rt.sched, schedEntry{at: at, fn: fn})
}

// Render evaluates one block of the destination mix and advances the clock.
func (rt *SoftwareRuntime) Render(frames int) []float32 {
	if rt.closed || frames <= 0 {
		return nil
	}
	rt.pass++
	src := rt.dest.render(frames)
	out := make([]float32, frames)
	copy(out, src)
	rt.frame += int64(frames)
	rt.fireDue()
	return out
}

// CaptureParam evaluates a parameter's resolved value for the given number of
// frames without advancing the runtime clock.
func (rt *SoftwareRuntime) CaptureParam(p Param, frames int) []float32 {
	sp, ok := p.(*swParam)
	if !ok || rt.closed || frames <= 0 {
		return nil
	}
	rt.pass++
	src := sp.evaluate(frames)
	out := make([]float32, frames)
	copy(out, src)
	return out
}

// RenderParam evaluates a parameter's resolved value and advances the clock,
// so time-varying modulators progress between calls.
func (rt *SoftwareRuntime) RenderParam(p Param, frames int) []float32 {
	sp, ok := p.(*swParam)
	if !ok || rt.closed || frames <= 0 {
		return nil
	}
	rt.pass++
	src := sp.evaluate(frames)
	out := make([]float32, frames)
	copy(out, src)
	rt.frame += int64(frames)
	rt.fireDue()
	return out
}

func (rt *SoftwareRuntime) fireDue() {
	if len(rt.sched) == 0 {
		return
	}
	now := rt.Now()
	due := rt.sched[:0:0]
	keep := rt.sched[:0]
	for _, e := range rt.sched {
		if e.at <= now {
			due = append(due, e)
		} else {
			keep = append(keep, e)
		}
	}
	rt.sched = keep
	for _, e := range due {
		e.fn()
	}
}

// Close disposes the runtime. Nodes built on it stop producing output.
func (rt *SoftwareRuntime) Close() {
	rt.closed = true
	rt.sched = nil
	if rt.dest != nil {
		rt.dest.in = nil
	}
}

// renderer is the internal pull interface every software node implements.
type renderer interface {
	render(frames int) []float32
}

// swNode is the embedded base for all software nodes.
type swNode struct {
	rt     *SoftwareRuntime
	proc   func(frames int) []float32
	in     []renderer
	sinks  []*swNode
	psinks []*swParam
	pass   uint64
	buf    []float32
}

func (n *swNode) baseNode() *swNode { return n }

func (n *swNode) addInput(src renderer) {
	n.in = append(n.in, src)
}

func (n *swNode) removeInput(src renderer) {
	for i, s := range n.in {
		if s == src {
			n.in = append(n.in[:i], n.in[i+1:]...)
			return
		}
	}
}

func (n *swNode) render(frames int) []float32 {
	if n.pass == n.rt.pass {
		if len(n.buf) >= frames {
			return n.buf[:frames]
		}
		// Re-entrant pull inside the same pass: a feedback cycle reached
		// this node before its block was produced. Return silence so the
		// cycle behaves as a one-block delay instead of recursing.
		return make([]float32, frames)
	}
	n.pass = n.rt.pass
	n.buf = n.proc(frames)
	return n.buf
}

func (n *swNode) sumInputs(frames int) []float32 {
	out := make([]float32, frames)
	for _, src := range n.in {
		b := src.render(frames)
		for i := 0; i < frames && i < len(b); i++ {
			out[i] += b[i]
		}
	}
	return out
}

func (n *swNode) removeSink(s *swNode) {
	for i, x := range n.sinks {
		if x == s {
			n.sinks = append(n.sinks[:i], n.sinks[i+1:]...)
			return
		}
	}
}

func (n *swNode) Connect(dst Node) {
	ref, ok := dst.(interface{ baseNode() *swNode })
	if !ok {
		return
	}
	sink := ref.baseNode()
	sink.addInput(n)
	n.sinks = append(n.sinks, sink)
}

func (n *swNode) ConnectParam(p Param) {
	sp, ok := p.(*swParam)
	if !ok {
		return
	}
	sp.addInput(n)
	n.psinks = append(n.psinks, sp)
}

// Disconnect severs the node's edges in both directions. Incoming edges are
// deregistered from the upstream sink lists so nodes shared across voices do
// not accumulate dead entries as voices come and go.
func (n *swNode) Disconnect() {
	for _, s := range n.sinks {
		s.removeInput(n)
	}
	for _, sp := range n.psinks {
		sp.removeInput(n)
	}
	n.sinks = nil
	n.psinks = nil
	for _, src := range n.in {
		if up, ok := src.(*swNode); ok {
			up.removeSink(n)
		}
	}
	n.in = nil
}

const (
	evSet = iota
	evRamp
	evTarget
)

type paramEvent struct {
	kind int
	t    float64
	v    float32
	tc   float64
}

// swParam is the software Param. Its resolved value is the scheduled
// automation value plus the sum of all connected modulation inputs.
type swParam struct {
	rt     *SoftwareRuntime
	static float32
	events []paramEvent
	in     []renderer
	pass   uint64
	buf    []float32
}

func (rt *SoftwareRuntime) newParam(v float32) *swParam {
	return &swParam{rt: rt, static: v}
}

func (p *swParam) addInput(src renderer) { p.in = append(p.in, src) }

func (p *swParam) removeInput(src renderer) {
	for i, s := range p.in {
		if s == src {
			p.in = append(p.in[:i], p.in[i+1:]...)
			return
		}
	}
}

func (p *swParam) Value() float32 { return p.static }

func (p *swParam) SetValue(v float32) { p.static = v }

func (p *swParam) SetValueAtTime(v float32, at float64) {
	p.insert(paramEvent{kind: evSet, t: at, v: v})
}

func (p *swParam) LinearRampToValueAtTime(v float32, at float64) {
	p.insert(paramEvent{kind: evRamp, t: at, v: v})
}

func (p *swParam) SetTargetAtTime(v float32, at float64, timeConstant float64) {
	if timeConstant <= 0 {
		timeConstant = 1e-4
	}
	p.insert(paramEvent{kind: evTarget, t: at, v: v, tc: timeConstant})
}

func (p *swParam) CancelScheduled() {
	p.events = p.events[:0]
}

func (p *swParam) insert(e paramEvent) {
	p.events = append(p.events, e)
	sort.SliceStable(p.events, func(i, j int) bool { return p.events[i].t < p.events[j].t })
}

// scheduledValue evaluates the automation timeline at time t.
func (p *swParam) scheduledValue(t float64) float32 {
	cur := p.static
	curT := 0.0
	for _, e := range p.events {
		switch e.kind {
		case evSet:
			if e.t > t {
				return cur
			}
			cur, curT = e.v, e.t
		case evRamp:
			if e.t > t {
				if e.t > curT {
					f := (t - curT) / (e.t - curT)
					return cur + float32(f)*(e.v-cur)
				}
				return e.v
			}
			cur, curT = e.v, e.t
		case evTarget:
			if e.t > t {
				return cur
			}
			dt := t - e.t
			cur = e.v + (cur-e.v)*approx.FastExp(float32(-dt/e.tc))
			curT = e.t
		}
	}
	return cur
}

func (p *swParam) evaluate(frames int) []float32 {
	if p.pass == p.rt.pass {
		if len(p.buf) >= frames {
			return p.buf[:frames]
		}
		// Cycle break, as in swNode.render.
		return make([]float32, frames)
	}
	p.pass = p.rt.pass
	out := make([]float32, frames)
	start := p.rt.frame
	sr := float64(p.rt.sampleRate)
	if len(p.events) == 0 {
		for i := range out {
			out[i] = p.static
		}
	} else {
		for i := range out {
			out[i] = p.scheduledValue(float64(start+int64(i)) / sr)
		}
	}
	for _, src := range p.in {
		b := src.render(frames)
		for i := 0; i < frames && i < len(b); i++ {
			out[i] += b[i]
		}
	}
	p.buf = out
	return out
}

// startWindow holds sample-accurate start/stop scheduling for source nodes.
type startWindow struct {
	startAt float64
	stopAt  float64
}

func newStartWindow() startWindow {
	return startWindow{startAt: math.Inf(1), stopAt: math.Inf(1)}
}

func (w *startWindow) Start(at float64) {
	if at < 0 {
		at = 0
	}
	w.startAt = at
}

func (w *startWindow) Stop(at float64) {
	if at < 0 {
		at = 0
	}
	w.stopAt = at
}

func (w *startWindow) activeAt(t float64) bool {
	return t >= w.startAt && t < w.stopAt
}
