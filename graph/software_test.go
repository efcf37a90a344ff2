package graph

import (
	"math"
	"testing"
)

func renderAll(rt *SoftwareRuntime, frames int) []float32 {
	out := make([]float32, 0, frames)
	block := 128
	for len(out) < frames {
		n := block
		if len(out)+n > frames {
			n = frames - len(out)
		}
		out = append(out, rt.Render(n)...)
	}
	return out
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func zeroCrossingFreq(samples []float32, sampleRate float64) float64 {
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] < 0 && samples[i] >= 0) || (samples[i-1] >= 0 && samples[i] < 0) {
			crossings++
		}
	}
	duration := float64(len(samples)) / sampleRate
	return float64(crossings) / (2.0 * duration)
}

func TestOscillatorSineFrequency(t *testing.T) {
	rt := NewSoftwareRuntime(48000)
	osc := rt.CreateOscillator()
	osc.Frequency().SetValue(440)
	osc.Connect(rt.Destination())
	osc.Start(0)

	out := renderAll(rt, 48000)
	got := zeroCrossingFreq(out, 48000)
	if math.Abs(got-440) > 5 {
		t.Fatalf("expected ~440 Hz, measured %.1f Hz", got)
	}
}

func TestOscillatorSilentBeforeStartAndAfterStop(t *testing.T) {
	rt := NewSoftwareRuntime(48000)
	osc := rt.CreateOscillator()
	osc.Frequency().SetValue(440)
	osc.Connect(rt.Destination())
	osc.Start(0.5)
	osc.Stop(1.0)

	before := renderAll(rt, 12000) // 0..0.25s
	if rms(before) > 1e-9 {
		t.Fatalf("expected silence before start, rms=%g", rms(before))
	}
	_ = renderAll(rt, 24000) // 0.25..0.75s, sounding
	_ = renderAll(rt, 12000) // 0.75..1.0s
	after := renderAll(rt, 12000)
	if rms(after) > 1e-9 {
		t.Fatalf("expected silence after stop, rms=%g", rms(after))
	}
}

func TestSampleHoldSeedReproducible(t *testing.T) {
	render := func(seed uint32) []float32 {
		rt := NewSoftwareRuntime(48000)
		osc := rt.CreateOscillator()
		osc.SetWaveform(WaveSampleHold)
		osc.Frequency().SetValue(100)
		osc.SetSeed(seed)
		osc.Connect(rt.Destination())
		osc.Start(0)
		return renderAll(rt, 4800)
	}

	a := render(1234)
	b := render(1234)
	c := render(5678)

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed diverged at sample %d: %f vs %f", i, a[i], b[i])
		}
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("different seeds produced identical sample-and-hold output")
	}
}

func TestGainParamModulationMultiplies(t *testing.T) {
	rt := NewSoftwareRuntime(48000)

	src := rt.CreateConstant()
	src.Offset().SetValue(0.5)
	src.Start(0)

	mod := rt.CreateConstant()
	mod.Offset().SetValue(3.0)
	mod.Start(0)

	g := rt.CreateGain()
	g.Gain().SetValue(0)
	src.Connect(g)
	mod.ConnectParam(g.Gain())
	g.Connect(rt.Destination())

	out := rt.Render(64)
	want := float32(1.5)
	if math.Abs(float64(out[32]-want)) > 1e-5 {
		t.Fatalf("expected %f, got %f", want, out[32])
	}
}

func TestParamLinearRamp(t *testing.T) {
	rt := NewSoftwareRuntime(48000)
	c := rt.CreateConstant()
	p := c.Offset()
	p.SetValue(0)
	p.SetValueAtTime(0, 0)
	p.LinearRampToValueAtTime(1, 1.0)
	c.Start(0)
	c.Connect(rt.Destination())

	out := renderAll(rt, 48000)
	mid := out[24000]
	if math.Abs(float64(mid)-0.5) > 0.01 {
		t.Fatalf("expected ramp midpoint ~0.5, got %f", mid)
	}
	end := out[len(out)-1]
	if math.Abs(float64(end)-1.0) > 0.01 {
		t.Fatalf("expected ramp end ~1.0, got %f", end)
	}
}

func TestParamCancelScheduledKeepsStatic(t *testing.T) {
	rt := NewSoftwareRuntime(48000)
	c := rt.CreateConstant()
	p := c.Offset()
	p.SetValue(0.25)
	p.LinearRampToValueAtTime(1, 1.0)
	p.CancelScheduled()
	c.Start(0)
	c.Connect(rt.Destination())

	out := rt.Render(64)
	if math.Abs(float64(out[32])-0.25) > 1e-6 {
		t.Fatalf("expected static value after cancel, got %f", out[32])
	}
}

func TestParamSetTargetApproaches(t *testing.T) {
	rt := NewSoftwareRuntime(48000)
	c := rt.CreateConstant()
	p := c.Offset()
	p.SetValue(1)
	p.SetTargetAtTime(0, 0, 0.05)
	c.Start(0)
	c.Connect(rt.Destination())

	out := renderAll(rt, 24000) // 0.5s = 10 time constants
	end := out[len(out)-1]
	if math.Abs(float64(end)) > 0.01 {
		t.Fatalf("expected exponential approach to 0, got %f", end)
	}
}

func TestLowpassFilterAttenuatesHighFrequencies(t *testing.T) {
	const sampleRate = 48000

	render := func(filtered bool) []float32 {
		rt := NewSoftwareRuntime(sampleRate)
		osc := rt.CreateOscillator()
		osc.Frequency().SetValue(8000)
		if filtered {
			f := rt.CreateFilter()
			f.Cutoff().SetValue(200)
			osc.Connect(f)
			f.Connect(rt.Destination())
		} else {
			osc.Connect(rt.Destination())
		}
		osc.Start(0)
		return renderAll(rt, sampleRate/2)
	}

	dry := rms(render(false))
	wet := rms(render(true))
	if wet > dry*0.05 {
		t.Fatalf("expected strong attenuation: dry=%f wet=%f", dry, wet)
	}
}

func TestDelayShiftsImpulse(t *testing.T) {
	const sampleRate = 48000
	rt := NewSoftwareRuntime(sampleRate)

	impulse := &Buffer{Data: make([]float32, 16), SampleRate: sampleRate}
	impulse.Data[0] = 1

	bs := rt.CreateBufferSource()
	bs.SetBuffer(impulse)
	d := rt.CreateDelay(1.0)
	d.DelayTime().SetValue(0.01) // 480 samples
	bs.Connect(d)
	d.Connect(rt.Destination())
	bs.Start(0)

	out := renderAll(rt, 1024)
	peak := 0
	for i, s := range out {
		if s > out[peak] {
			peak = i
		}
		_ = s
	}
	if peak < 478 || peak > 482 {
		t.Fatalf("expected impulse near sample 480, found peak at %d", peak)
	}
}

func TestShaperAbsRectifies(t *testing.T) {
	rt := NewSoftwareRuntime(48000)
	osc := rt.CreateOscillator()
	osc.Frequency().SetValue(100)
	s := rt.CreateShaper()
	s.SetCurve(AbsCurve(513))
	osc.Connect(s)
	s.Connect(rt.Destination())
	osc.Start(0)

	out := renderAll(rt, 4800)
	for i, v := range out {
		if v < -1e-3 {
			t.Fatalf("expected rectified output, got %f at sample %d", v, i)
		}
	}
}

func TestBufferSourceLoops(t *testing.T) {
	const sampleRate = 48000
	rt := NewSoftwareRuntime(sampleRate)

	// 100 samples of DC, looped; without looping the source would go
	// silent after ~2ms.
	data := make([]float32, 100)
	for i := range data {
		data[i] = 0.5
	}
	buf := &Buffer{Data: data, SampleRate: sampleRate}

	bs := rt.CreateBufferSource()
	bs.SetBuffer(buf)
	bs.SetLoop(0, float64(len(data))/float64(sampleRate), true)
	bs.Connect(rt.Destination())
	bs.Start(0)

	out := renderAll(rt, sampleRate/10)
	tail := out[len(out)-1000:]
	if rms(tail) < 0.4 {
		t.Fatalf("expected looped playback to sustain, tail rms=%f", rms(tail))
	}
}

func TestScheduleFiresAfterTimePasses(t *testing.T) {
	rt := NewSoftwareRuntime(48000)
	fired := false
	rt.Schedule(0.5, func() { fired = true })

	_ = rt.Render(12000) // 0.25s
	if fired {
		t.Fatalf("callback fired early")
	}
	_ = rt.Render(18000) // 0.625s total
	if !fired {
		t.Fatalf("callback did not fire after its time passed")
	}
}

func TestCaptureParamSumsModulators(t *testing.T) {
	rt := NewSoftwareRuntime(48000)

	a := rt.CreateConstant()
	a.Offset().SetValue(0.2)
	a.Start(0)
	b := rt.CreateConstant()
	b.Offset().SetValue(0.3)
	b.Start(0)

	g := rt.CreateGain()
	p := g.Gain()
	p.SetValue(0.1)
	a.ConnectParam(p)
	b.ConnectParam(p)

	out := rt.CaptureParam(p, 16)
	want := 0.6
	if math.Abs(float64(out[8])-want) > 1e-5 {
		t.Fatalf("expected %f, got %f", want, out[8])
	}
	if rt.Now() != 0 {
		t.Fatalf("CaptureParam must not advance the clock, now=%f", rt.Now())
	}
}

func TestDisconnectSilencesNode(t *testing.T) {
	rt := NewSoftwareRuntime(48000)
	c := rt.CreateConstant()
	c.Offset().SetValue(1)
	c.Start(0)
	c.Connect(rt.Destination())

	before := rt.Render(64)
	if math.Abs(float64(before[32])-1) > 1e-6 {
		t.Fatalf("expected signal before disconnect, got %f", before[32])
	}

	c.Disconnect()
	c.Disconnect() // repeated disconnect is safe
	after := rt.Render(64)
	if rms(after) > 1e-9 {
		t.Fatalf("expected silence after disconnect, rms=%g", rms(after))
	}
}

func TestDisconnectRemovesEntryFromUpstreamSinks(t *testing.T) {
	rt := NewSoftwareRuntime(48000)
	src := rt.CreateConstant()
	src.Offset().SetValue(1)
	src.Start(0)

	// A long-lived source must not accumulate dead edges as short-lived
	// consumers connect and disconnect.
	for i := 0; i < 4; i++ {
		g := rt.CreateGain()
		g.Gain().SetValue(1)
		src.Connect(g)
		g.Connect(rt.Destination())
		g.Disconnect()
	}

	n := src.(interface{ baseNode() *swNode }).baseNode()
	if got := len(n.sinks); got != 0 {
		t.Fatalf("source retains %d sink entries after downstream disconnect", got)
	}
	if got := len(rt.dest.in); got != 0 {
		t.Fatalf("destination retains %d inputs, want 0", got)
	}
}

func TestFeedbackCycleRendersAsOneBlockDelay(t *testing.T) {
	rt := NewSoftwareRuntime(48000)
	c := rt.CreateConstant()
	c.Offset().SetValue(0.25)
	c.Start(0)

	g := rt.CreateGain()
	g.Gain().SetValue(1)
	c.Connect(g)
	g.Connect(g)
	g.Connect(rt.Destination())

	first := rt.Render(64)
	second := rt.Render(64)

	// The loop input is silent on the first pass and contributes the
	// previous block afterwards.
	if math.Abs(float64(first[63])-0.25) > 1e-6 {
		t.Fatalf("first block = %f, want 0.25", first[63])
	}
	if math.Abs(float64(second[63])-0.5) > 1e-6 {
		t.Fatalf("second block = %f, want 0.5", second[63])
	}
}
