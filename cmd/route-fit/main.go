// Command route-fit tunes the modulation routes of a patch so a rendered
// note matches a reference recording. A Mayfly optimizer searches over route
// depth, curve shape, phase offset, smoothing, and source rates, scoring each
// candidate with the contour metrics from the analysis package.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	dspresample "github.com/cwbudde/algo-dsp/dsp/resample"
	"github.com/cwbudde/mayfly"
	"github.com/cwbudde/wav"
	"github.com/go-audio/audio"

	"github.com/cwbudde/algo-modsynth/analysis"
	"github.com/cwbudde/algo-modsynth/graph"
	"github.com/cwbudde/algo-modsynth/modsynth"
	"github.com/cwbudde/algo-modsynth/preset"
	"github.com/cwbudde/algo-modsynth/sampler"
)

type knobDef struct {
	Name string
	Min  float64
	Max  float64
}

type candidate struct {
	Vals []float64
}

type runReport struct {
	ReferencePath   string             `json:"reference_path"`
	PresetPath      string             `json:"preset_path"`
	OutputPreset    string             `json:"output_preset"`
	SampleRate      int                `json:"sample_rate"`
	Note            int                `json:"note"`
	DurationSec     float64            `json:"elapsed_seconds"`
	Evaluations     int                `json:"evaluations"`
	MayflyVariant   string             `json:"mayfly_variant"`
	BestScore       float64            `json:"best_score"`
	BestSimilarity  float64            `json:"best_similarity"`
	BestMetrics     analysis.Metrics   `json:"best_metrics"`
	BestKnobs       map[string]float64 `json:"best_knobs"`
	CheckpointCount int                `json:"checkpoint_count"`
}

func main() {
	referencePath := flag.String("reference", "", "Reference WAV path (required)")
	presetPath := flag.String("preset", "", "Base patch preset JSON path (required)")
	outputPreset := flag.String("output-preset", "fitted.json", "Path to write best fitted preset JSON")
	reportPath := flag.String("report", "", "Optional report JSON path (default: <output-preset>.report.json)")
	note := flag.Int("note", 69, "MIDI note to fit")
	sampleRate := flag.Int("sample-rate", 48000, "Render/analysis sample rate")
	tempo := flag.Float64("tempo", 120, "Tempo in BPM for tempo-synced sources")
	seed := flag.Int64("seed", 1, "Random seed")
	timeBudget := flag.Float64("time-budget", 120.0, "Optimization time budget in seconds")
	maxEvals := flag.Int("max-evals", 10000, "Maximum objective evaluations")
	reportEvery := flag.Int("report-every", 20, "Print progress every N evaluations")
	checkpointEvery := flag.Int("checkpoint-every", 1, "Write checkpoint every N best-score improvements")
	decayDBFS := flag.Float64("decay-dbfs", -90.0, "Auto-stop threshold in dBFS")
	decayHoldBlocks := flag.Int("decay-hold-blocks", 6, "Consecutive below-threshold blocks for stop")
	minDuration := flag.Float64("min-duration", 2.0, "Minimum render duration in seconds")
	maxDuration := flag.Float64("max-duration", 12.0, "Maximum render duration in seconds")
	writeBestCandidate := flag.String("write-best-candidate", "", "Optional WAV path to write best candidate render")
	resume := flag.Bool("resume", true, "Resume from previous best_knobs report when available")
	resumeReport := flag.String("resume-report", "", "Optional report JSON path to resume from (default: current report path)")

	mayflyVariant := flag.String("mayfly-variant", "desma", "Mayfly variant: ma|desma|olce|eobbma|gsasma|mpma|aoblmoa")
	mayflyPop := flag.Int("mayfly-pop", 10, "Male and female population size per Mayfly run")
	mayflyRoundEvals := flag.Int("mayfly-round-evals", 240, "Target eval budget per Mayfly round")
	flag.Parse()

	if *referencePath == "" {
		die("reference is required")
	}
	if *presetPath == "" {
		die("preset is required")
	}
	if *maxEvals < 1 {
		die("max-evals must be >= 1")
	}
	if *timeBudget <= 0 {
		die("time-budget must be > 0")
	}
	if *reportEvery < 1 {
		*reportEvery = 1
	}
	if *checkpointEvery < 1 {
		*checkpointEvery = 1
	}
	if *mayflyPop < 2 {
		*mayflyPop = 2
	}
	if *mayflyRoundEvals < *mayflyPop*2 {
		*mayflyRoundEvals = *mayflyPop * 2
	}

	basePatch, err := preset.LoadJSON(*presetPath)
	if err != nil {
		die("failed to load preset: %v", err)
	}

	ref, refSR, err := readWAVMono(*referencePath)
	if err != nil {
		die("failed to read reference: %v", err)
	}
	ref, err = resampleIfNeeded(ref, refSR, *sampleRate)
	if err != nil {
		die("failed to resample reference: %v", err)
	}

	defs, initCand, err := initCandidate(basePatch)
	if err != nil {
		die("%v", err)
	}
	fmt.Printf("Fitting %d knobs over %d routes\n", len(defs), len(basePatch.Routes))

	if *resume {
		resumePath := *resumeReport
		if resumePath == "" {
			if *reportPath != "" {
				resumePath = *reportPath
			} else {
				resumePath = *outputPreset + ".report.json"
			}
		}
		if resumed, ok, err := loadCandidateFromReport(resumePath, defs, initCand); err != nil {
			fmt.Fprintf(os.Stderr, "resume skipped (%s): %v\n", resumePath, err)
		} else if ok {
			initCand = resumed
			fmt.Printf("Resumed candidate from %s\n", resumePath)
		}
	}

	evaluate := func(c candidate) (analysis.Metrics, error) {
		p, velocity, releaseAfter := applyCandidate(basePatch, defs, c)
		mono, _, err := renderCandidate(
			p,
			*note,
			velocity,
			*sampleRate,
			*tempo,
			*decayDBFS,
			*decayHoldBlocks,
			*minDuration,
			*maxDuration,
			releaseAfter,
		)
		if err != nil {
			return analysis.Metrics{}, err
		}
		return analysis.Compare(ref, mono, *sampleRate), nil
	}

	start := time.Now()
	deadline := start.Add(time.Duration(*timeBudget * float64(time.Second)))
	evals := 0
	bestImproves := 0
	checkpoints := 0

	best := initCand
	bestM, err := evaluate(best)
	if err != nil {
		die("initial evaluation failed: %v", err)
	}
	evals++
	fmt.Printf("Start score=%.4f similarity=%.2f%%\n", bestM.Score, bestM.Similarity*100.0)

	round := 0
	for evals < *maxEvals && time.Now().Before(deadline) {
		round++
		remaining := *maxEvals - evals
		budget := minInt(*mayflyRoundEvals, remaining)
		iters := maxInt(1, budget/(2*(*mayflyPop)))

		cfg, err := newMayflyConfig(strings.ToLower(*mayflyVariant), *mayflyPop, len(defs), iters)
		if err != nil {
			die("invalid mayfly variant: %v", err)
		}
		cfg.Rand = rand.New(rand.NewSource(*seed + int64(round)*7919))

		cfg.ObjectiveFunc = func(pos []float64) float64 {
			if evals >= *maxEvals || time.Now().After(deadline) {
				return bestM.Score + 1.0
			}
			cand := fromNormalized(pos, defs)
			m, err := evaluate(cand)
			evals++
			if err != nil {
				return bestM.Score + 0.8
			}
			if m.Score < bestM.Score {
				best = cand
				bestM = m
				bestImproves++
				fmt.Printf("Improved #%d eval=%d score=%.4f sim=%.2f%%\n", bestImproves, evals, bestM.Score, bestM.Similarity*100.0)
				if *writeBestCandidate != "" {
					if err := writeBestCandidateSnapshot(
						*writeBestCandidate,
						basePatch,
						*note,
						defs,
						best,
						*sampleRate,
						*tempo,
						*decayDBFS,
						*decayHoldBlocks,
						*minDuration,
						*maxDuration,
					); err != nil {
						fmt.Fprintf(os.Stderr, "failed to update best candidate wav: %v\n", err)
					}
				}
				if bestImproves%*checkpointEvery == 0 {
					if err := writeOutputs(*outputPreset, *reportPath, *referencePath, *presetPath, *sampleRate, *note, time.Since(start).Seconds(), evals, strings.ToLower(*mayflyVariant), defs, best, bestM, basePatch, checkpoints+1); err != nil {
						fmt.Fprintf(os.Stderr, "checkpoint write failed: %v\n", err)
					} else {
						checkpoints++
					}
				}
			}
			if evals%*reportEvery == 0 {
				fmt.Printf("Progress round=%d eval=%d elapsed=%.1fs best=%.4f\n", round, evals, time.Since(start).Seconds(), bestM.Score)
			}
			return m.Score
		}

		if _, err := runMayfly(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "mayfly round %d failed: %v\n", round, err)
			continue
		}
	}

	elapsed := time.Since(start).Seconds()
	if err := writeOutputs(*outputPreset, *reportPath, *referencePath, *presetPath, *sampleRate, *note, elapsed, evals, strings.ToLower(*mayflyVariant), defs, best, bestM, basePatch, checkpoints); err != nil {
		die("failed to write outputs: %v", err)
	}

	if *writeBestCandidate != "" {
		if err := writeBestCandidateSnapshot(
			*writeBestCandidate,
			basePatch,
			*note,
			defs,
			best,
			*sampleRate,
			*tempo,
			*decayDBFS,
			*decayHoldBlocks,
			*minDuration,
			*maxDuration,
		); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write best candidate wav: %v\n", err)
		}
	}

	fmt.Printf("Done evals=%d elapsed=%.1fs best_score=%.4f best_similarity=%.2f%% variant=%s\n", evals, elapsed, bestM.Score, bestM.Similarity*100.0, strings.ToLower(*mayflyVariant))
}

func newMayflyConfig(variant string, pop int, dims int, iters int) (*mayfly.Config, error) {
	var cfg *mayfly.Config
	switch variant {
	case "ma":
		cfg = mayfly.NewDefaultConfig()
	case "desma":
		cfg = mayfly.NewDESMAConfig()
	case "olce":
		cfg = mayfly.NewOLCEConfig()
	case "eobbma":
		cfg = mayfly.NewEOBBMAConfig()
	case "gsasma":
		cfg = mayfly.NewGSASMAConfig()
	case "mpma":
		cfg = mayfly.NewMPMAConfig()
	case "aoblmoa":
		cfg = mayfly.NewAOBLMOAConfig()
	default:
		return nil, fmt.Errorf("unsupported variant %q", variant)
	}
	cfg.ProblemSize = dims
	cfg.LowerBound = 0.0
	cfg.UpperBound = 1.0
	cfg.MaxIterations = iters
	cfg.NPop = pop
	cfg.NPopF = pop
	// Mayfly's implementation assumes NC/2 parent pairs are available from both
	// male and female populations.
	cfg.NC = 2 * pop
	// Keep at least one mutation to avoid stalling on small populations.
	cfg.NM = maxInt(1, int(math.Round(0.05*float64(pop))))
	return cfg, nil
}

func runMayfly(cfg *mayfly.Config) (_ *mayfly.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mayfly panic: %v", r)
		}
	}()
	return mayfly.Optimize(cfg)
}

func loadCandidateFromReport(path string, defs []knobDef, fallback candidate) (candidate, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fallback, false, nil
		}
		return fallback, false, err
	}
	var rep runReport
	if err := json.Unmarshal(b, &rep); err != nil {
		return fallback, false, err
	}
	if len(rep.BestKnobs) == 0 {
		return fallback, false, nil
	}

	vals := make([]float64, len(fallback.Vals))
	copy(vals, fallback.Vals)
	updated := false
	for i, d := range defs {
		if v, ok := rep.BestKnobs[d.Name]; ok {
			vals[i] = clamp(v, d.Min, d.Max)
			updated = true
		}
	}
	if !updated {
		return fallback, false, nil
	}
	return candidate{Vals: vals}, true, nil
}

func fromNormalized(pos []float64, defs []knobDef) candidate {
	vals := make([]float64, len(defs))
	for i := range defs {
		x := 0.0
		if i < len(pos) {
			x = clamp(pos[i], 0, 1)
		}
		vals[i] = defs[i].Min + x*(defs[i].Max-defs[i].Min)
	}
	return candidate{Vals: vals}
}

// initCandidate derives the knob set from the base patch: one group per
// enabled route plus a rate knob per free-running source the routes use.
func initCandidate(base *modsynth.Patch) ([]knobDef, candidate, error) {
	var defs []knobDef
	var vals []float64
	add := func(name string, min, max, v float64) {
		defs = append(defs, knobDef{Name: name, Min: min, Max: max})
		vals = append(vals, clamp(v, min, max))
	}

	usedSources := map[string]bool{}
	routeKnobs := 0
	for i, r := range base.Routes {
		if !r.Enabled {
			continue
		}
		routeKnobs++
		usedSources[r.Source] = true
		add(fmt.Sprintf("route.%d.depth", i), -2.0, 2.0, float64(r.Depth))
		add(fmt.Sprintf("route.%d.curve_shape", i), 0.0, 4.0, float64(r.CurveShape))
		add(fmt.Sprintf("route.%d.phase_offset", i), 0.0, 1.0, float64(r.PhaseOffset))
		add(fmt.Sprintf("route.%d.smoothing_ms", i), 0.0, 200.0, float64(r.SmoothingMs))
	}
	if routeKnobs == 0 {
		return nil, candidate{}, errors.New("preset has no enabled modulation routes to fit")
	}

	names := make([]string, 0, len(usedSources))
	for name := range usedSources {
		if sc, ok := base.Sources[name]; ok && !sc.TempoSync {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		add("source."+name+".rate_hz", 0.01, 40.0, base.Sources[name].RateHz)
	}

	add("render.release_after", 0.2, 3.5, 1.5)
	add("render.velocity", 0.1, 1.0, 0.8)

	return defs, candidate{Vals: vals}, nil
}

func applyCandidate(base *modsynth.Patch, defs []knobDef, c candidate) (*modsynth.Patch, float64, float64) {
	p := clonePatch(base)
	velocity := 0.8
	releaseAfter := 1.5

	for i, def := range defs {
		v := c.Vals[i]
		switch {
		case def.Name == "render.release_after":
			releaseAfter = v
		case def.Name == "render.velocity":
			velocity = v
		case strings.HasPrefix(def.Name, "route."):
			rest := strings.TrimPrefix(def.Name, "route.")
			dot := strings.Index(rest, ".")
			if dot < 0 {
				continue
			}
			idx, err := strconv.Atoi(rest[:dot])
			if err != nil || idx < 0 || idx >= len(p.Routes) {
				continue
			}
			r := &p.Routes[idx]
			switch rest[dot+1:] {
			case "depth":
				r.Depth = float32(v)
			case "curve_shape":
				r.CurveShape = float32(v)
			case "phase_offset":
				r.PhaseOffset = float32(v)
			case "smoothing_ms":
				r.SmoothingMs = float32(v)
			}
		case strings.HasPrefix(def.Name, "source."):
			name := strings.TrimSuffix(strings.TrimPrefix(def.Name, "source."), ".rate_hz")
			if sc, ok := p.Sources[name]; ok {
				sc.RateHz = v
				p.Sources[name] = sc
			}
		}
	}

	if releaseAfter < 0.05 {
		releaseAfter = 0.05
	}
	return p, clamp(velocity, 0.0, 1.0), releaseAfter
}

func clonePatch(src *modsynth.Patch) *modsynth.Patch {
	d := *src
	d.Oscillators = append([]modsynth.OscillatorLayer(nil), src.Oscillators...)
	d.Routes = append([]modsynth.ModulationRoute(nil), src.Routes...)
	d.SampleLayers = append([]sampler.Layer(nil), src.SampleLayers...)
	d.Sources = make(map[string]modsynth.SourceConfig, len(src.Sources))
	for k, v := range src.Sources {
		d.Sources[k] = v
	}
	d.Macros = make(map[string]float32, len(src.Macros))
	for k, v := range src.Macros {
		d.Macros[k] = v
	}
	return &d
}

func renderCandidate(
	patch *modsynth.Patch,
	note int,
	velocity float64,
	sampleRate int,
	tempo float64,
	decayDBFS float64,
	decayHoldBlocks int,
	minDuration float64,
	maxDuration float64,
	releaseAfter float64,
) ([]float64, []float32, error) {
	if patch == nil {
		return nil, nil, errors.New("nil patch")
	}
	rt := graph.NewSoftwareRuntime(sampleRate)
	cfg := modsynth.NewDefaultConfig()
	cfg.TempoBPM = tempo
	engine := modsynth.NewEngine(rt, cfg)
	defer engine.Close()

	handle := engine.Start(patch, "fit", modsynth.NoteEvent{
		Pitch:    note,
		Velocity: velocity,
		Context:  modsynth.ContextSequence,
	})
	if handle == nil {
		return nil, nil, fmt.Errorf("voice start failed: %w", engine.LastError())
	}

	if decayHoldBlocks < 1 {
		decayHoldBlocks = 1
	}
	if minDuration < 0 {
		minDuration = 0
	}
	if maxDuration < minDuration {
		maxDuration = minDuration
	}

	minFrames := int(float64(sampleRate) * minDuration)
	maxFrames := int(float64(sampleRate) * maxDuration)
	releaseAtFrame := int(float64(sampleRate) * releaseAfter)
	if releaseAtFrame < 0 {
		releaseAtFrame = 0
	}
	if maxFrames < 1 {
		return nil, nil, errors.New("max duration too small")
	}

	threshold := math.Pow(10.0, decayDBFS/20.0)
	blockSize := 128
	framesRendered := 0
	belowCount := 0
	released := false
	mono := make([]float32, 0, maxFrames)

	for framesRendered < maxFrames {
		framesToRender := blockSize
		if framesRendered+framesToRender > maxFrames {
			framesToRender = maxFrames - framesRendered
		}
		if !released && framesRendered >= releaseAtFrame {
			handle.Stop(0)
			released = true
		}
		block := rt.Render(framesToRender)
		mono = append(mono, block...)
		framesRendered += framesToRender

		if released && framesRendered >= minFrames {
			if blockRMS(block) < threshold {
				belowCount++
				if belowCount >= decayHoldBlocks {
					break
				}
			} else {
				belowCount = 0
			}
		}
	}

	return monoTo64(mono), mono, nil
}

func writeOutputs(
	outputPreset string,
	reportPath string,
	referencePath string,
	presetPath string,
	sampleRate int,
	note int,
	elapsed float64,
	evals int,
	variant string,
	defs []knobDef,
	best candidate,
	bestM analysis.Metrics,
	base *modsynth.Patch,
	checkpoints int,
) error {
	p, _, _ := applyCandidate(base, defs, best)
	if err := writePresetJSON(outputPreset, p); err != nil {
		return err
	}

	knobs := make(map[string]float64, len(defs))
	for i, d := range defs {
		knobs[d.Name] = best.Vals[i]
	}
	rep := runReport{
		ReferencePath:   referencePath,
		PresetPath:      presetPath,
		OutputPreset:    outputPreset,
		SampleRate:      sampleRate,
		Note:            note,
		DurationSec:     elapsed,
		Evaluations:     evals,
		MayflyVariant:   variant,
		BestScore:       bestM.Score,
		BestSimilarity:  bestM.Similarity,
		BestMetrics:     bestM,
		BestKnobs:       knobs,
		CheckpointCount: checkpoints,
	}

	if reportPath == "" {
		reportPath = outputPreset + ".report.json"
	}
	return writeJSON(reportPath, rep)
}

func writeBestCandidateSnapshot(
	path string,
	base *modsynth.Patch,
	note int,
	defs []knobDef,
	best candidate,
	sampleRate int,
	tempo float64,
	decayDBFS float64,
	decayHoldBlocks int,
	minDuration float64,
	maxDuration float64,
) error {
	p, velocity, releaseAfter := applyCandidate(base, defs, best)
	_, mono, err := renderCandidate(
		p,
		note,
		velocity,
		sampleRate,
		tempo,
		decayDBFS,
		decayHoldBlocks,
		minDuration,
		maxDuration,
		releaseAfter,
	)
	if err != nil {
		return err
	}
	return writeMonoWAV(path, mono, sampleRate)
}

func writePresetJSON(path string, p *modsynth.Patch) error {
	f := preset.File{
		ID:            p.ID,
		Version:       intp(p.Version),
		VelocityCurve: p.VelocityCurve,
		Sources:       map[string]preset.Source{},
		Macros:        p.Macros,
	}

	for _, o := range p.Oscillators {
		if !o.Enabled {
			continue
		}
		f.Oscillators = append(f.Oscillators, preset.OscillatorSetting{
			Waveform:    string(o.Waveform),
			Octave:      o.Octave,
			DetuneCents: o.DetuneCents,
			Gain:        f32p(o.Gain),
		})
	}

	f.Filter = &preset.FilterSetting{
		Enabled:  p.Filter.Enabled,
		CutoffHz: f32p(p.Filter.CutoffHz),
		Q:        f32p(p.Filter.Q),
	}
	f.Drive = &preset.DriveSetting{
		Enabled: p.Drive.Enabled,
		Amount:  f32p(p.Drive.Amount),
	}
	f.Envelope = &preset.EnvelopeSetting{
		AttackMs:     f64p(p.Envelope.AttackMs),
		DecayMs:      f64p(p.Envelope.DecayMs),
		SustainLevel: f32p(p.Envelope.SustainLevel),
		ReleaseMs:    f64p(p.Envelope.ReleaseMs),
	}

	names := make([]string, 0, len(p.Sources))
	for name := range p.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sc := p.Sources[name]
		f.Sources[name] = preset.Source{
			Waveform:  string(sc.Waveform),
			RateHz:    sc.RateHz,
			TempoSync: sc.TempoSync,
			Division:  sc.Division,
			Retrigger: sc.Retrigger,
			OneShot:   sc.OneShot,
			FadeInMs:  sc.FadeInMs,
			Curve:     sc.Curve,
		}
	}

	for _, r := range p.Routes {
		enabled := r.Enabled
		f.Routes = append(f.Routes, preset.Route{
			Enabled:     &enabled,
			Source:      r.Source,
			Target:      r.Target,
			Depth:       r.Depth,
			CurveShape:  r.CurveShape,
			PhaseOffset: r.PhaseOffset,
			SmoothingMs: r.SmoothingMs,
			Combine:     string(r.CombineMode),
		})
	}

	for _, l := range p.SampleLayers {
		ls := preset.LayerSetting{
			Name:  l.Name,
			KeyLo: l.KeyLo,
			KeyHi: l.KeyHi,
			VelLo: l.VelLo,
			VelHi: l.VelHi,
		}
		for _, r := range l.Regions {
			ls.Regions = append(ls.Regions, regionSetting(r))
		}
		for _, r := range l.ReleaseRegions {
			ls.Release = append(ls.Release, regionSetting(r))
		}
		f.SampleLayers = append(f.SampleLayers, ls)
	}

	return writeJSON(path, f)
}

func regionSetting(r sampler.Region) preset.RegionSetting {
	return preset.RegionSetting{
		Path:         r.Path,
		RootKey:      r.RootKey,
		KeyLo:        r.KeyLo,
		KeyHi:        r.KeyHi,
		VelLo:        r.VelLo,
		VelHi:        r.VelHi,
		Group:        r.Group,
		Mode:         string(r.Mode),
		LoopStart:    r.LoopStart,
		LoopEnd:      r.LoopEnd,
		LoopEnabled:  r.LoopEnabled,
		TuneCents:    r.TuneCents,
		Gain:         r.Gain,
		Pan:          r.Pan,
		OverlapWidth: r.OverlapWidth,
	}
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0o644)
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

func resampleIfNeeded(in []float64, fromRate int, toRate int) ([]float64, error) {
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

func writeMonoWAV(path string, samples []float32, sampleRate int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	defer enc.Close()

	buf := &audio.Float32Buffer{
		Format: &audio.Format{
			SampleRate:  sampleRate,
			NumChannels: 1,
		},
		Data:           samples,
		SourceBitDepth: 16,
	}
	return enc.Write(buf)
}

func monoTo64(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}

func blockRMS(block []float32) float64 {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, s := range block {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(block)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func intp(v int) *int         { return &v }
func f32p(v float32) *float32 { return &v }
func f64p(v float64) *float64 { return &v }

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
