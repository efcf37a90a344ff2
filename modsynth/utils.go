package modsynth

import (
	"hash/fnv"
	"math"

	"github.com/cwbudde/algo-approx"
)

// midiNoteToFreq converts MIDI note number to frequency in Hz.
func midiNoteToFreq(note int) float32 {
	const a4Freq = 440.0
	const a4Note = 69
	exponent := float32(note-a4Note) / 12.0
	return a4Freq * pow2Approx(exponent)
}

func pow2Approx(x float32) float32 {
	const ln2 = 0.69314718055994530942
	return approx.FastExp(x * ln2)
}

func centsToRatio(cents float32) float32 {
	return pow2Approx(cents / 1200.0)
}

func clampf(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// hashSeed derives a deterministic 32-bit seed from a cache identity using
// FNV-1a, so repeated builds of the same shared source are reproducible.
func hashSeed(parts ...string) uint32 {
	h := fnv.New32a()
	for i, p := range parts {
		if i > 0 {
			_, _ = h.Write([]byte{'|'})
		}
		_, _ = h.Write([]byte(p))
	}
	return h.Sum32()
}

// divisionBeats maps a musical division to its length in beats.
var divisionBeats = map[string]float64{
	"1/1":   4.0,
	"1/2":   2.0,
	"1/4":   1.0,
	"1/8":   0.5,
	"1/16":  0.25,
	"1/32":  0.125,
	"1/2d":  3.0,
	"1/4d":  1.5,
	"1/8d":  0.75,
	"1/16d": 0.375,
	"1/2t":  4.0 / 3.0,
	"1/4t":  2.0 / 3.0,
	"1/8t":  1.0 / 3.0,
	"1/16t": 1.0 / 6.0,
}

// syncedRateHz converts a tempo and division to a rate in Hz.
func syncedRateHz(bpm float64, division string) float64 {
	beats, ok := divisionBeats[division]
	if !ok || beats <= 0 {
		beats = 1.0
	}
	if bpm <= 0 {
		bpm = 120
	}
	secondsPerBeat := 60.0 / bpm
	return 1.0 / (beats * secondsPerBeat)
}

// sourceRateHz resolves a source's rate and applies the engine-wide clamp.
func sourceRateHz(cfg SourceConfig, bpm float64) float64 {
	var hz float64
	if cfg.TempoSync {
		hz = syncedRateHz(bpm, cfg.Division)
	} else {
		hz = cfg.RateHz
	}
	return clampf(hz, 0.01, 40.0)
}

// smoothingCornerHz converts a smoothing time to a lowpass corner frequency.
// Control-rate targets are additionally limited to 20 Hz so frame-rate
// parameter updates do not step audibly.
func smoothingCornerHz(smoothingMs float64, controlRate bool) float64 {
	sec := smoothingMs / 1000.0
	if sec < 0.0001 {
		sec = 0.0001
	}
	hz := 1.0 / (2.0 * math.Pi * sec)
	hz = clampf(hz, 0.05, 200.0)
	if controlRate && hz > 20.0 {
		hz = 20.0
	}
	return hz
}
