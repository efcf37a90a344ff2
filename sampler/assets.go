package sampler

import (
	"fmt"
	"log/slog"
	"os"

	dspresample "github.com/cwbudde/algo-dsp/dsp/resample"
	"github.com/cwbudde/wav"

	"github.com/cwbudde/algo-modsynth/graph"
)

// Assets loads and caches decoded sample buffers at the engine sample rate.
// A failed load is confined to its caller (typically one layer of a voice):
// it is logged and reported as an error, never panicked.
type Assets struct {
	sampleRate int
	cache      map[string]*graph.Buffer
	log        *slog.Logger
}

// NewAssets creates an asset loader resampling to the given rate.
func NewAssets(sampleRate int, logger *slog.Logger) *Assets {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assets{
		sampleRate: sampleRate,
		cache:      make(map[string]*graph.Buffer),
		log:        logger,
	}
}

// Load decodes a WAV file to a mono buffer at the asset loader's sample rate.
// Results are cached per path.
func (a *Assets) Load(path string) (*graph.Buffer, error) {
	if buf, ok := a.cache[path]; ok {
		return buf, nil
	}
	mono, rate, err := readWAVMono(path)
	if err != nil {
		a.log.Warn("sample load failed", "path", path, "err", err)
		return nil, err
	}
	if rate != a.sampleRate {
		mono, err = resampleMono(mono, rate, a.sampleRate)
		if err != nil {
			a.log.Warn("sample resample failed", "path", path, "err", err)
			return nil, err
		}
	}
	data := make([]float32, len(mono))
	for i, v := range mono {
		data[i] = float32(v)
	}
	buf := &graph.Buffer{Data: data, SampleRate: a.sampleRate}
	a.cache[path] = buf
	return buf, nil
}

func readWAVMono(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("invalid wav file: %s", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, err
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, 0, fmt.Errorf("invalid wav buffer: %s", path)
	}
	ch := buf.Format.NumChannels
	frames := len(buf.Data) / ch
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < ch; c++ {
			sum += float64(buf.Data[i*ch+c])
		}
		out[i] = sum / float64(ch)
	}
	return out, buf.Format.SampleRate, nil
}

func resampleMono(in []float64, fromRate, toRate int) ([]float64, error) {
	if fromRate == toRate {
		return in, nil
	}
	r, err := dspresample.NewForRates(
		float64(fromRate),
		float64(toRate),
		dspresample.WithQuality(dspresample.QualityBest),
	)
	if err != nil {
		return nil, err
	}
	return r.Process(in), nil
}
