package graph

import (
	"fmt"
	"math"

	algofft "github.com/cwbudde/algo-fft"
)

// LinearCurve builds an n-point identity transfer curve.
func LinearCurve(n int) []float32 {
	if n < 2 {
		n = 2
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = 2*float32(i)/float32(n-1) - 1
	}
	return out
}

// AbsCurve builds an n-point full-wave-rectifier transfer curve.
func AbsCurve(n int) []float32 {
	out := LinearCurve(n)
	for i, v := range out {
		if v < 0 {
			out[i] = -v
		}
	}
	return out
}

// PowCurve builds an n-point curve applying a signed power response: the
// magnitude is raised to the exponent while the sign is preserved, so bipolar
// inputs keep their polarity.
func PowCurve(n int, exponent float64) []float32 {
	out := LinearCurve(n)
	if exponent <= 0 {
		return out
	}
	for i, v := range out {
		mag := math.Pow(math.Abs(float64(v)), exponent)
		if v < 0 {
			mag = -mag
		}
		out[i] = float32(mag)
	}
	return out
}

// SmoothCurve convolves a transfer curve with a normalized Hann kernel of the
// given width, returning a curve of the same length. Hard knees in drawn
// curves otherwise alias when the shaper runs at audio rate.
func SmoothCurve(curve []float32, width int) ([]float32, error) {
	if len(curve) < 2 {
		return nil, fmt.Errorf("curve too short: %d points", len(curve))
	}
	if width < 3 {
		width = 3
	}
	if width%2 == 0 {
		width++
	}

	kernel := make([]float32, width)
	var sum float32
	for i := range kernel {
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(width-1)))
		kernel[i] = float32(w)
		sum += float32(w)
	}
	if sum <= 0 {
		return nil, fmt.Errorf("degenerate kernel width %d", width)
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	// Pad with edge values so the ends of the curve are not pulled to zero.
	half := width / 2
	padded := make([]float32, len(curve)+2*half)
	for i := 0; i < half; i++ {
		padded[i] = curve[0]
		padded[len(padded)-1-i] = curve[len(curve)-1]
	}
	copy(padded[half:], curve)

	full := make([]float32, len(padded)+len(kernel)-1)
	if err := algofft.ConvolveReal(full, padded, kernel); err != nil {
		return nil, err
	}

	out := make([]float32, len(curve))
	copy(out, full[2*half:2*half+len(curve)])
	return out, nil
}
