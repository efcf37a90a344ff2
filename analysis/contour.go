// Package analysis measures how closely a rendered take matches a reference
// recording. The metrics concentrate on the qualities modulation routing
// controls: the amplitude contour over time, the rate spectrum of that
// contour, and the modulation depth.
package analysis

import (
	"math"

	algofft "github.com/cwbudde/algo-fft"
)

const (
	envFrame = 512
	envHop   = 128

	// Modulation rates above this are inaudible as movement and are
	// ignored by the contour spectrum metric.
	maxModRateHz = 40.0
)

// Metrics contains distance and similarity measurements between a reference
// signal and a candidate rendering.
type Metrics struct {
	SampleRate int `json:"sample_rate"`

	ReferenceFrames int `json:"reference_frames"`
	CandidateFrames int `json:"candidate_frames"`
	AlignedFrames   int `json:"aligned_frames"`
	LagSamples      int `json:"lag_samples"`

	TimeRMSE          float64 `json:"time_rmse"`
	ContourRMSEDB     float64 `json:"contour_rmse_db"`
	ModSpectrumRMSEDB float64 `json:"mod_spectrum_rmse_db"`
	RefModDepth       float64 `json:"ref_mod_depth"`
	CandModDepth      float64 `json:"cand_mod_depth"`
	ModDepthDiff      float64 `json:"mod_depth_diff"`

	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
}

// Compare returns contour distance metrics and a combined score in [0,1],
// where 0 is a perfect match.
func Compare(reference []float64, candidate []float64, sampleRate int) Metrics {
	m := Metrics{
		SampleRate:      sampleRate,
		ReferenceFrames: len(reference),
		CandidateFrames: len(candidate),
	}
	worst := func() Metrics {
		m.Score = 1.0
		m.Similarity = 0.0
		return m
	}
	if sampleRate <= 0 || len(reference) == 0 || len(candidate) == 0 {
		return worst()
	}

	ref := trimSilence(reference, 1e-6)
	cand := trimSilence(candidate, 1e-6)
	if len(ref) == 0 || len(cand) == 0 {
		return worst()
	}
	ref = normalizeRMS(ref, 0.1)
	cand = normalizeRMS(cand, 0.1)

	maxLag := sampleRate / 4
	if maxLag > len(ref)-1 {
		maxLag = len(ref) - 1
	}
	if maxLag > len(cand)-1 {
		maxLag = len(cand) - 1
	}
	lag := 0
	if maxLag >= 1 {
		lag = estimateLag(ref, cand, maxLag)
	}
	m.LagSamples = lag

	refA, candA := alignByLag(ref, cand, lag)
	n := len(refA)
	if len(candA) < n {
		n = len(candA)
	}
	if n < 2*envFrame {
		return worst()
	}
	maxFrames := sampleRate * 12
	if n > maxFrames {
		n = maxFrames
	}
	refA = refA[:n]
	candA = candA[:n]
	m.AlignedFrames = n

	m.TimeRMSE = rmseOf(refA, candA)

	refEnv := rmsEnvelope(refA, envFrame, envHop)
	candEnv := rmsEnvelope(candA, envFrame, envHop)
	envN := len(refEnv)
	if len(candEnv) < envN {
		envN = len(candEnv)
	}
	refEnv = refEnv[:envN]
	candEnv = candEnv[:envN]
	if envN > 0 {
		var sum float64
		for i := 0; i < envN; i++ {
			d := toDB(refEnv[i]) - toDB(candEnv[i])
			sum += d * d
		}
		m.ContourRMSEDB = math.Sqrt(sum / float64(envN))
	}

	envRate := float64(sampleRate) / float64(envHop)
	m.ModSpectrumRMSEDB = modSpectrumRMSEDB(refEnv, candEnv, envRate)

	m.RefModDepth = modDepth(refEnv)
	m.CandModDepth = modDepth(candEnv)
	m.ModDepthDiff = math.Abs(m.RefModDepth - m.CandModDepth)

	// Normalize sub-metrics and combine. The contour terms dominate since
	// phase-accurate waveform agreement is not required for a good fit.
	timeNorm := clamp01(m.TimeRMSE / 0.25)
	contourNorm := clamp01(m.ContourRMSEDB / 30.0)
	specNorm := clamp01(m.ModSpectrumRMSEDB / 30.0)
	depthNorm := clamp01(m.ModDepthDiff)
	m.Score = clamp01(0.15*timeNorm + 0.35*contourNorm + 0.30*specNorm + 0.20*depthNorm)
	m.Similarity = clamp01(math.Exp(-4.0 * m.Score))

	return m
}

func trimSilence(x []float64, threshold float64) []float64 {
	for i, v := range x {
		if math.Abs(v) > threshold {
			return x[i:]
		}
	}
	return nil
}

func normalizeRMS(x []float64, target float64) []float64 {
	r := rmsOf(x)
	if r <= 1e-12 {
		return append([]float64(nil), x...)
	}
	g := target / r
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v * g
	}
	return out
}

// estimateLag returns the offset in [-maxLag, maxLag] at which the candidate
// correlates best with the reference. Positive lag means the reference has
// extra leading material.
func estimateLag(ref []float64, cand []float64, maxLag int) int {
	const window = 1 << 16
	r := ref
	if len(r) > window {
		r = r[:window]
	}
	c := cand
	if len(c) > window {
		c = c[:window]
	}
	if maxLag > len(r)-1 {
		maxLag = len(r) - 1
	}
	if maxLag > len(c)-1 {
		maxLag = len(c) - 1
	}
	if maxLag < 1 {
		return 0
	}

	rf := make([]float32, len(r))
	for i, v := range r {
		rf[i] = float32(v)
	}
	rev := make([]float32, len(c))
	for i, v := range c {
		rev[len(c)-1-i] = float32(v)
	}
	corr := make([]float32, len(rf)+len(rev)-1)
	if err := algofft.ConvolveReal(corr, rf, rev); err != nil {
		return estimateLagDirect(r, c, maxLag)
	}

	center := len(c) - 1
	bestLag := 0
	best := math.Inf(-1)
	for lag := -maxLag; lag <= maxLag; lag++ {
		idx := center + lag
		if idx < 0 || idx >= len(corr) {
			continue
		}
		if v := float64(corr[idx]); v > best {
			best = v
			bestLag = lag
		}
	}
	return bestLag
}

func estimateLagDirect(ref []float64, cand []float64, maxLag int) int {
	bestLag := 0
	best := math.Inf(-1)
	for lag := -maxLag; lag <= maxLag; lag++ {
		s := dotAtLag(ref, cand, lag)
		if s > best {
			best = s
			bestLag = lag
		}
	}
	return bestLag
}

func dotAtLag(a []float64, b []float64, lag int) float64 {
	var ai, bi int
	if lag >= 0 {
		ai = lag
	} else {
		bi = -lag
	}
	n := len(a) - ai
	if len(b)-bi < n {
		n = len(b) - bi
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += a[ai+i] * b[bi+i]
	}
	return sum
}

func alignByLag(ref []float64, cand []float64, lag int) ([]float64, []float64) {
	if lag >= 0 {
		if lag >= len(ref) {
			return nil, nil
		}
		return ref[lag:], cand
	}
	o := -lag
	if o >= len(cand) {
		return nil, nil
	}
	return ref, cand[o:]
}

func rmseOf(a []float64, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(n))
}

func rmsOf(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}

func rmsEnvelope(x []float64, frame int, hop int) []float64 {
	if frame <= 0 || hop <= 0 || len(x) < frame {
		return nil
	}
	n := 1 + (len(x)-frame)/hop
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		start := i * hop
		out[i] = rmsOf(x[start : start+frame])
	}
	return out
}

// modSpectrumRMSEDB compares the magnitude spectra of the two mean-removed
// envelopes over the audible modulation rate band.
func modSpectrumRMSEDB(refEnv []float64, candEnv []float64, envRate float64) float64 {
	n := len(refEnv)
	if len(candEnv) < n {
		n = len(candEnv)
	}
	if n < 32 || envRate <= 0 {
		return 0
	}
	a := removeMean(refEnv[:n])
	b := removeMean(candEnv[:n])
	for i := 0; i < n; i++ {
		w := 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		a[i] *= w
		b[i] *= w
	}
	kMax := int(maxModRateHz * float64(n) / envRate)
	if kMax > n/2 {
		kMax = n / 2
	}
	if kMax < 2 {
		return 0
	}
	var sum float64
	for k := 1; k < kMax; k++ {
		d := toDB(dftBinMag(a, k)) - toDB(dftBinMag(b, k))
		sum += d * d
	}
	return math.Sqrt(sum / float64(kMax-1))
}

func removeMean(x []float64) []float64 {
	out := make([]float64, len(x))
	var mean float64
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))
	for i, v := range x {
		out[i] = v - mean
	}
	return out
}

func dftBinMag(x []float64, bin int) float64 {
	n := len(x)
	var re, im float64
	for i := 0; i < n; i++ {
		phi := -2.0 * math.Pi * float64(bin*i) / float64(n)
		re += x[i] * math.Cos(phi)
		im += x[i] * math.Sin(phi)
	}
	return math.Hypot(re, im)
}

// modDepth returns the AM modulation index of an envelope in [0,1].
func modDepth(env []float64) float64 {
	if len(env) == 0 {
		return 0
	}
	lo := env[0]
	hi := env[0]
	for _, v := range env {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi+lo <= 1e-12 {
		return 0
	}
	return clamp01((hi - lo) / (hi + lo))
}

func toDB(x float64) float64 {
	if x < 1e-12 {
		x = 1e-12
	}
	return 20.0 * math.Log10(x)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
