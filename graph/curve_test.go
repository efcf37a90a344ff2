package graph

import (
	"math"
	"testing"
)

func TestLinearCurveEndpoints(t *testing.T) {
	c := LinearCurve(257)
	if c[0] != -1 || c[len(c)-1] != 1 {
		t.Fatalf("endpoints %f..%f, want -1..1", c[0], c[len(c)-1])
	}
	mid := c[128]
	if math.Abs(float64(mid)) > 1e-6 {
		t.Fatalf("midpoint %f, want 0", mid)
	}
}

func TestAbsCurveIsNonNegative(t *testing.T) {
	c := AbsCurve(513)
	for i, v := range c {
		if v < 0 {
			t.Fatalf("negative table value %f at %d", v, i)
		}
	}
	if math.Abs(float64(c[0])-1) > 1e-6 || math.Abs(float64(c[len(c)-1])-1) > 1e-6 {
		t.Fatalf("rectifier endpoints %f..%f, want 1..1", c[0], c[len(c)-1])
	}
}

func TestPowCurvePreservesSign(t *testing.T) {
	c := PowCurve(257, 2.0)
	if c[0] >= 0 {
		t.Fatalf("signed power must keep negative inputs negative, c[0]=%f", c[0])
	}
	if c[len(c)-1] <= 0 {
		t.Fatalf("signed power must keep positive inputs positive")
	}
	// x=0.5 squared is 0.25.
	idx := 3 * (len(c) - 1) / 4
	if math.Abs(float64(c[idx])-0.25) > 0.01 {
		t.Fatalf("pow(0.5, 2) table value %f, want ~0.25", c[idx])
	}
}

func TestPowCurveZeroExponentIsIdentity(t *testing.T) {
	c := PowCurve(17, 0)
	l := LinearCurve(17)
	for i := range c {
		if c[i] != l[i] {
			t.Fatalf("exponent <= 0 must fall back to identity")
		}
	}
}

func TestSmoothCurvePreservesLengthAndEndpoints(t *testing.T) {
	in := LinearCurve(257)
	out, err := SmoothCurve(in, 9)
	if err != nil {
		t.Fatalf("smooth: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length changed: %d -> %d", len(in), len(out))
	}
	// Edge padding keeps the endpoints in place; a linear curve should pass
	// through nearly unchanged.
	for i := range out {
		if math.Abs(float64(out[i]-in[i])) > 0.01 {
			t.Fatalf("linear curve distorted at %d: %f vs %f", i, out[i], in[i])
		}
	}
}

func TestSmoothCurveRoundsHardKnee(t *testing.T) {
	// A step function gains intermediate values after smoothing.
	in := make([]float32, 65)
	for i := 33; i < len(in); i++ {
		in[i] = 1
	}
	out, err := SmoothCurve(in, 9)
	if err != nil {
		t.Fatalf("smooth: %v", err)
	}
	found := false
	for _, v := range out {
		if v > 0.2 && v < 0.8 {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected the step to spread across intermediate values")
	}
}

func TestSmoothCurveRejectsShortInput(t *testing.T) {
	if _, err := SmoothCurve([]float32{1}, 9); err == nil {
		t.Fatalf("expected an error for a one-point curve")
	}
}
