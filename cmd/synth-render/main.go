package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/cwbudde/wav"
	"github.com/go-audio/audio"

	"github.com/cwbudde/algo-modsynth/graph"
	"github.com/cwbudde/algo-modsynth/modsynth"
	"github.com/cwbudde/algo-modsynth/preset"
)

func main() {
	note := flag.Int("note", 69, "MIDI note number (69 = A4 = 440 Hz)")
	velocity := flag.Float64("velocity", 0.8, "Note velocity (0-1, or MIDI 0-127)")
	duration := flag.Float64("duration", 2.0, "Duration in seconds")
	releaseAfter := flag.Float64("release-after", 1.0, "Send note-off after this many seconds")
	decayDBFS := flag.Float64("decay-dbfs", math.Inf(1), "Auto-stop when block RMS falls below this dBFS (e.g. -90). Disabled by default")
	decayHoldBlocks := flag.Int("decay-hold-blocks", 6, "Consecutive below-threshold blocks required to stop in auto-decay mode")
	maxDuration := flag.Float64("max-duration", 20.0, "Maximum render duration in seconds when using -decay-dbfs")
	sampleRate := flag.Int("sample-rate", 48000, "Render sample rate in Hz")
	tempo := flag.Float64("tempo", 120, "Tempo in BPM for tempo-synced sources")
	presetPath := flag.String("preset", "", "Patch preset JSON file path (optional)")
	output := flag.String("output", "output.wav", "Output WAV file path")
	flag.Parse()

	var patch *modsynth.Patch
	if *presetPath != "" {
		p, err := preset.LoadJSON(*presetPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading preset %q: %v\n", *presetPath, err)
			os.Exit(1)
		}
		patch = p
	} else {
		patch = modsynth.NewDefaultPatch("default")
	}

	fmt.Printf("Rendering note %d, velocity %.2f, for %.2f seconds at %d Hz (patch: %s)...\n",
		*note, *velocity, *duration, *sampleRate, patch.ID)

	rt := graph.NewSoftwareRuntime(*sampleRate)
	cfg := modsynth.NewDefaultConfig()
	cfg.TempoBPM = *tempo
	engine := modsynth.NewEngine(rt, cfg)
	defer engine.Close()

	handle := engine.Start(patch, "render", modsynth.NoteEvent{
		Pitch:    *note,
		Velocity: *velocity,
		Context:  modsynth.ContextSequence,
	})
	if handle == nil {
		fmt.Fprintf(os.Stderr, "Error starting voice: %v\n", engine.LastError())
		os.Exit(1)
	}

	blockSize := 128
	autoStop := !math.IsInf(*decayDBFS, 1)

	releaseAtFrame := int(float64(*sampleRate) * (*releaseAfter))
	if releaseAtFrame < 0 {
		releaseAtFrame = 0
	}

	var maxFrames int
	if autoStop {
		maxFrames = int(float64(*sampleRate) * (*maxDuration))
	} else {
		maxFrames = int(float64(*sampleRate) * (*duration))
	}
	if maxFrames < blockSize {
		maxFrames = blockSize
	}

	thresholdLin := math.Pow(10.0, *decayDBFS/20.0)
	if *decayHoldBlocks < 1 {
		*decayHoldBlocks = 1
	}

	samples := make([]float32, 0, maxFrames)
	framesRendered := 0
	released := false
	belowCount := 0

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
		samples = append(samples, block...)
		framesRendered += framesToRender

		if autoStop && released {
			if blockRMS(block) < thresholdLin {
				belowCount++
				if belowCount >= *decayHoldBlocks {
					break
				}
			} else {
				belowCount = 0
			}
		}
	}

	if autoStop {
		fmt.Printf("Auto-stop at %d frames (%.3fs), threshold %.1f dBFS\n",
			framesRendered, float64(framesRendered)/float64(*sampleRate), *decayDBFS)
	}

	file, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	encoder := wav.NewEncoder(file, *sampleRate, 16, 1, 1)
	defer encoder.Close()

	buf := &audio.Float32Buffer{
		Format: &audio.Format{
			SampleRate:  *sampleRate,
			NumChannels: 1,
		},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := encoder.Write(buf); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing WAV file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully wrote %s (%d frames)\n", *output, framesRendered)
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
