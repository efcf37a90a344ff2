package modsynth

import "github.com/cwbudde/algo-modsynth/graph"

// paramBinding pairs a modulatable parameter with its static configured
// value, so a target with zero resolved routes can be restored rather than
// silently driven to zero.
type paramBinding struct {
	param  graph.Param
	static float32
}

// targetSpec describes one parameter target: the per-target range constant
// applied to route shaping, whether its updates are rate-limited, and how to
// find the concrete parameter(s) on a built voice.
type targetSpec struct {
	scale       float32
	controlRate bool
	bind        func(v *Voice) []paramBinding
}

// Frequency-class targets carry a large multiplier so a unit-range source
// sweeps a musically useful span.
var targetSpecs = map[string]targetSpec{
	"osc.frequency": {
		scale: 300,
		bind: func(v *Voice) []paramBinding {
			return v.oscFreqBindings
		},
	},
	"filter.cutoff": {
		scale:       2000,
		controlRate: true,
		bind: func(v *Voice) []paramBinding {
			if v.filter == nil {
				return nil
			}
			return []paramBinding{{param: v.filter.Cutoff(), static: v.filterCutoff}}
		},
	},
	"filter.q": {
		scale: 4,
		bind: func(v *Voice) []paramBinding {
			if v.filter == nil {
				return nil
			}
			return []paramBinding{{param: v.filter.Q(), static: v.filterQ}}
		},
	},
	"amp.gain": {
		scale: 1,
		bind: func(v *Voice) []paramBinding {
			if v.ampGain == nil {
				return nil
			}
			return []paramBinding{{param: v.ampGain.Gain(), static: v.sustainGain}}
		},
	},
	"drive.amount": {
		scale:       1,
		controlRate: true,
		bind: func(v *Voice) []paramBinding {
			if v.driveGain == nil {
				return nil
			}
			return []paramBinding{{param: v.driveGain.Gain(), static: v.driveAmount}}
		},
	},
	"sample.rate": {
		scale: 1,
		bind: func(v *Voice) []paramBinding {
			return v.sampleRateBindings
		},
	},
}
