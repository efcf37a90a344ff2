package graph

import (
	"math"
	"math/rand"

	dspcore "github.com/cwbudde/algo-dsp/dsp/core"
)

func (rt *SoftwareRuntime) newGain() *swGain {
	g := &swGain{}
	g.rt = rt
	g.gain = rt.newParam(1.0)
	g.proc = g.process
	return g
}

// swGain sums its inputs and scales by the gain parameter.
type swGain struct {
	swNode
	gain *swParam
}

func (rt *SoftwareRuntime) CreateGain() Gain { return rt.newGain() }

func (g *swGain) Gain() Param { return g.gain }

func (g *swGain) process(frames int) []float32 {
	out := g.sumInputs(frames)
	gb := g.gain.evaluate(frames)
	for i := range out {
		out[i] *= gb[i]
	}
	return out
}

// swOsc is the oscillator node.
type swOsc struct {
	swNode
	startWindow
	wave  Waveform
	freq  *swParam
	phase float64
	rng   *rand.Rand
	hold  float32
}

func (rt *SoftwareRuntime) CreateOscillator() Oscillator {
	o := &swOsc{wave: WaveSine, startWindow: newStartWindow()}
	o.rt = rt
	o.freq = rt.newParam(440)
	o.rng = rand.New(rand.NewSource(1))
	o.hold = o.rng.Float32()*2 - 1
	o.proc = o.process
	return o
}

func (o *swOsc) Frequency() Param { return o.freq }

func (o *swOsc) SetWaveform(w Waveform) { o.wave = w }

func (o *swOsc) SetSeed(seed uint32) {
	o.rng = rand.New(rand.NewSource(int64(seed)))
	o.hold = o.rng.Float32()*2 - 1
}

func (o *swOsc) process(frames int) []float32 {
	out := make([]float32, frames)
	fb := o.freq.evaluate(frames)
	sr := float64(o.rt.sampleRate)
	start := o.rt.frame
	for i := 0; i < frames; i++ {
		t := float64(start+int64(i)) / sr
		if !o.activeAt(t) {
			continue
		}
		switch o.wave {
		case WaveSine:
			out[i] = float32(math.Sin(2 * math.Pi * o.phase))
		case WaveTriangle:
			if o.phase < 0.5 {
				out[i] = float32(4*o.phase - 1)
			} else {
				out[i] = float32(3 - 4*o.phase)
			}
		case WaveSquare:
			if o.phase < 0.5 {
				out[i] = 1
			} else {
				out[i] = -1
			}
		case WaveSaw:
			out[i] = float32(2*o.phase - 1)
		case WaveSampleHold:
			out[i] = o.hold
		}
		f := float64(fb[i])
		if f < 0 {
			f = 0
		}
		o.phase += f / sr
		if o.phase >= 1 {
			o.phase -= math.Floor(o.phase)
			if o.wave == WaveSampleHold {
				o.hold = o.rng.Float32()*2 - 1
			}
		}
	}
	return out
}

// swConst emits a constant (automatable) offset while started.
type swConst struct {
	swNode
	startWindow
	offset *swParam
}

func (rt *SoftwareRuntime) CreateConstant() Constant {
	c := &swConst{startWindow: newStartWindow()}
	c.rt = rt
	c.offset = rt.newParam(1.0)
	c.proc = c.process
	return c
}

func (c *swConst) Offset() Param { return c.offset }

func (c *swConst) process(frames int) []float32 {
	out := make([]float32, frames)
	ob := c.offset.evaluate(frames)
	sr := float64(c.rt.sampleRate)
	start := c.rt.frame
	for i := range out {
		t := float64(start+int64(i)) / sr
		if c.activeAt(t) {
			out[i] = ob[i]
		}
	}
	return out
}

// swFilter is a lowpass biquad with block-rate coefficient updates.
type swFilter struct {
	swNode
	cutoff *swParam
	q      *swParam

	b0, b1, b2 float32
	a1, a2     float32
	x1, x2     float32
	y1, y2     float32

	lastCutoff float32
	lastQ      float32
}

func (rt *SoftwareRuntime) CreateFilter() Filter {
	f := &swFilter{}
	f.rt = rt
	f.cutoff = rt.newParam(1000)
	f.q = rt.newParam(0.7071)
	f.proc = f.process
	return f
}

func (f *swFilter) Cutoff() Param { return f.cutoff }

func (f *swFilter) Q() Param { return f.q }

func (f *swFilter) updateCoefficients(cutoff, q float32) {
	if cutoff == f.lastCutoff && q == f.lastQ && (f.b0 != 0 || f.b1 != 0) {
		return
	}
	f.lastCutoff = cutoff
	f.lastQ = q

	sr := float64(f.rt.sampleRate)
	fc := float64(cutoff)
	if fc < 0.01 {
		fc = 0.01
	}
	nyquist := 0.49 * sr
	if fc > nyquist {
		fc = nyquist
	}
	qq := float64(q)
	if qq < 0.01 {
		qq = 0.01
	}

	w0 := 2 * math.Pi * fc / sr
	alpha := math.Sin(w0) / (2 * qq)
	cosw0 := math.Cos(w0)

	b0 := (1 - cosw0) / 2
	b1 := 1 - cosw0
	b2 := (1 - cosw0) / 2
	a0 := 1 + alpha
	a1 := -2 * cosw0
	a2 := 1 - alpha

	f.b0 = float32(b0 / a0)
	f.b1 = float32(b1 / a0)
	f.b2 = float32(b2 / a0)
	f.a1 = float32(a1 / a0)
	f.a2 = float32(a2 / a0)
}

func (f *swFilter) process(frames int) []float32 {
	in := f.sumInputs(frames)
	cb := f.cutoff.evaluate(frames)
	qb := f.q.evaluate(frames)
	if frames > 0 {
		f.updateCoefficients(cb[0], qb[0])
	}
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		x := in[i]
		y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
		y = float32(dspcore.FlushDenormals(float64(y)))
		f.x2, f.x1 = f.x1, x
		f.y2, f.y1 = f.y1, y
		out[i] = y
	}
	return out
}

// swDelay delays its input with fractional interpolation.
type swDelay struct {
	swNode
	delay    *swParam
	buffer   []float32
	writePos int
}

func (rt *SoftwareRuntime) CreateDelay(maxSeconds float64) Delay {
	if maxSeconds <= 0 {
		maxSeconds = 2
	}
	size := int(maxSeconds*float64(rt.sampleRate)) + 2
	d := &swDelay{buffer: make([]float32, size)}
	d.rt = rt
	d.delay = rt.newParam(0)
	d.proc = d.process
	return d
}

func (d *swDelay) DelayTime() Param { return d.delay }

func (d *swDelay) process(frames int) []float32 {
	in := d.sumInputs(frames)
	db := d.delay.evaluate(frames)
	out := make([]float32, frames)
	size := len(d.buffer)
	sr := float32(d.rt.sampleRate)
	for i := 0; i < frames; i++ {
		d.buffer[d.writePos] = in[i]
		d.writePos = (d.writePos + 1) % size

		delaySamples := db[i] * sr
		if delaySamples < 0 {
			delaySamples = 0
		}
		maxDelay := float32(size - 2)
		if delaySamples > maxDelay {
			delaySamples = maxDelay
		}
		intDelay := int(delaySamples)
		frac := delaySamples - float32(intDelay)

		r0 := (d.writePos - 1 - intDelay + 2*size) % size
		r1 := (r0 - 1 + size) % size
		s0 := d.buffer[r0]
		s1 := d.buffer[r1]
		out[i] = float32(dspcore.FlushDenormals(float64(s0 + frac*(s1-s0))))
	}
	return out
}

// swShaper maps its input through a transfer curve table.
type swShaper struct {
	swNode
	curve []float32
}

func (rt *SoftwareRuntime) CreateShaper() Shaper {
	s := &swShaper{}
	s.rt = rt
	s.proc = s.process
	return s
}

func (s *swShaper) SetCurve(curve []float32) {
	s.curve = curve
}

func (s *swShaper) process(frames int) []float32 {
	out := s.sumInputs(frames)
	if len(s.curve) < 2 {
		return out
	}
	n := len(s.curve)
	for i := range out {
		x := out[i]
		if x < -1 {
			x = -1
		} else if x > 1 {
			x = 1
		}
		pos := (x + 1) * 0.5 * float32(n-1)
		idx := int(pos)
		if idx >= n-1 {
			out[i] = s.curve[n-1]
			continue
		}
		frac := pos - float32(idx)
		out[i] = s.curve[idx] + frac*(s.curve[idx+1]-s.curve[idx])
	}
	return out
}

// swBufferSource plays back a sample buffer with rate adjustment and looping.
type swBufferSource struct {
	swNode
	startWindow
	buffer      *Buffer
	rate        *swParam
	pos         float64
	loopStart   float64
	loopEnd     float64
	loopEnabled bool
	done        bool
}

func (rt *SoftwareRuntime) CreateBufferSource() BufferSource {
	b := &swBufferSource{startWindow: newStartWindow()}
	b.rt = rt
	b.rate = rt.newParam(1.0)
	b.proc = b.process
	return b
}

func (b *swBufferSource) SetBuffer(buf *Buffer) { b.buffer = buf }

func (b *swBufferSource) PlaybackRate() Param { return b.rate }

func (b *swBufferSource) SetLoop(startSec, endSec float64, enabled bool) {
	b.loopStart = startSec
	b.loopEnd = endSec
	b.loopEnabled = enabled
}

func (b *swBufferSource) process(frames int) []float32 {
	out := make([]float32, frames)
	if b.buffer == nil || len(b.buffer.Data) == 0 || b.done {
		return out
	}
	rb := b.rate.evaluate(frames)
	data := b.buffer.Data
	n := len(data)
	srcRate := float64(b.buffer.SampleRate)
	if srcRate <= 0 {
		srcRate = float64(b.rt.sampleRate)
	}
	step := srcRate / float64(b.rt.sampleRate)
	sr := float64(b.rt.sampleRate)
	start := b.rt.frame

	loopStart := b.loopStart * srcRate
	loopEnd := b.loopEnd * srcRate
	if loopEnd <= loopStart || loopEnd > float64(n) {
		loopEnd = float64(n)
	}

	for i := 0; i < frames; i++ {
		t := float64(start+int64(i)) / sr
		if !b.activeAt(t) {
			continue
		}
		if b.pos >= float64(n-1) {
			if b.loopEnabled && loopEnd > loopStart {
				b.pos = loopStart
			} else {
				b.done = true
				break
			}
		}
		idx := int(b.pos)
		frac := float32(b.pos - float64(idx))
		s0 := data[idx]
		var s1 float32
		if idx+1 < n {
			s1 = data[idx+1]
		}
		out[i] = s0 + frac*(s1-s0)

		r := float64(rb[i])
		if r < 0 {
			r = 0
		}
		b.pos += r * step
		if b.loopEnabled && b.pos >= loopEnd {
			b.pos = loopStart + (b.pos - loopEnd)
		}
	}
	return out
}
