package modsynth

import (
	"math"
	"testing"
)

func TestMidiNoteToFreq(t *testing.T) {
	cases := []struct {
		note int
		want float64
	}{
		{69, 440},
		{57, 220},
		{81, 880},
		{60, 261.63},
	}
	for _, c := range cases {
		got := float64(midiNoteToFreq(c.note))
		if math.Abs(got-c.want) > c.want*0.005 {
			t.Fatalf("midiNoteToFreq(%d) = %f, want ~%f", c.note, got, c.want)
		}
	}
}

func TestCentsToRatio(t *testing.T) {
	if got := centsToRatio(0); math.Abs(float64(got)-1) > 1e-3 {
		t.Fatalf("0 cents = %f, want 1", got)
	}
	if got := centsToRatio(1200); math.Abs(float64(got)-2) > 0.02 {
		t.Fatalf("1200 cents = %f, want ~2", got)
	}
	if got := centsToRatio(-1200); math.Abs(float64(got)-0.5) > 0.01 {
		t.Fatalf("-1200 cents = %f, want ~0.5", got)
	}
}

func TestHashSeedDeterministic(t *testing.T) {
	a := hashSeed("patch", "lfo1", "global")
	b := hashSeed("patch", "lfo1", "global")
	if a != b {
		t.Fatalf("same identity must hash identically: %d vs %d", a, b)
	}
	if hashSeed("patch", "lfo1", "global") == hashSeed("patch", "lfo2", "global") {
		t.Fatalf("different identities must hash differently")
	}
	// The separator keeps ("ab","c") distinct from ("a","bc").
	if hashSeed("ab", "c") == hashSeed("a", "bc") {
		t.Fatalf("separator collision")
	}
}

func TestSyncedRateHz(t *testing.T) {
	cases := []struct {
		bpm      float64
		division string
		want     float64
	}{
		{120, "1/4", 2.0},
		{120, "1/8", 4.0},
		{120, "1/1", 0.5},
		{60, "1/4", 1.0},
		{120, "1/4d", 2.0 / 1.5},
		{120, "1/4t", 3.0},
	}
	for _, c := range cases {
		got := syncedRateHz(c.bpm, c.division)
		if math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("syncedRateHz(%v, %s) = %v, want %v", c.bpm, c.division, got, c.want)
		}
	}
}

func TestSyncedRateHzUnknownDivision(t *testing.T) {
	// Unknown divisions fall back to one beat.
	if got := syncedRateHz(120, "1/7"); math.Abs(got-2.0) > 1e-9 {
		t.Fatalf("unknown division: got %v, want 2.0", got)
	}
}

func TestSourceRateClamp(t *testing.T) {
	if got := sourceRateHz(SourceConfig{RateHz: 100}, 120); got != 40.0 {
		t.Fatalf("rate must clamp to 40 Hz, got %v", got)
	}
	if got := sourceRateHz(SourceConfig{RateHz: 0.001}, 120); got != 0.01 {
		t.Fatalf("rate must clamp to 0.01 Hz, got %v", got)
	}
	if got := sourceRateHz(SourceConfig{RateHz: 5}, 120); got != 5 {
		t.Fatalf("in-range rate must pass through, got %v", got)
	}
	// Tempo-synced fast divisions clamp too.
	if got := sourceRateHz(SourceConfig{TempoSync: true, Division: "1/32"}, 960); got != 40.0 {
		t.Fatalf("synced rate must clamp to 40 Hz, got %v", got)
	}
}

func TestSmoothingCornerHz(t *testing.T) {
	// 20 ms -> 1/(2*pi*0.02) ~ 7.96 Hz.
	if got := smoothingCornerHz(20, false); math.Abs(got-7.96) > 0.01 {
		t.Fatalf("20 ms corner = %v, want ~7.96", got)
	}
	// Very short times clamp to 200 Hz.
	if got := smoothingCornerHz(0, false); got != 200.0 {
		t.Fatalf("zero smoothing corner = %v, want 200", got)
	}
	// Very long times clamp to 0.05 Hz.
	if got := smoothingCornerHz(1e7, false); got != 0.05 {
		t.Fatalf("long smoothing corner = %v, want 0.05", got)
	}
	// Control-rate targets never exceed 20 Hz.
	if got := smoothingCornerHz(0, true); got != 20.0 {
		t.Fatalf("control-rate corner = %v, want 20", got)
	}
	if got := smoothingCornerHz(20, true); math.Abs(got-7.96) > 0.01 {
		t.Fatalf("control-rate corner below the cap must pass through, got %v", got)
	}
}
