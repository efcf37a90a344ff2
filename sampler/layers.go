// Package sampler resolves which sample regions play for a note. Resolution
// is a pure function of the layer metadata, note, velocity and the caller's
// round-robin picks; loading and decoding of the referenced assets is handled
// separately by Assets.
package sampler

import (
	"math"
	"math/rand"
	"sort"
)

// maxLayers bounds how many layers are considered per resolution.
const maxLayers = 4

// Region is one sample zone inside a layer.
type Region struct {
	Path    string
	RootKey int

	KeyLo, KeyHi int
	VelLo, VelHi float64 // normalized 0-1; 0-127 input is tolerated

	// Group names the round-robin group this region belongs to; empty means
	// the region always plays when matched.
	Group string
	Mode  RoundRobinMode

	LoopStart   float64 // seconds
	LoopEnd     float64 // seconds
	LoopEnabled bool

	TuneCents float64
	Gain      float64 // linear; 0 means unity
	Pan       float64 // -1..1

	// OverlapWidth widens this region's upper velocity boundary into a
	// crossfade band shared with the next region.
	OverlapWidth float64
}

// Layer groups regions with a shared key/velocity window.
type Layer struct {
	Name string

	KeyLo, KeyHi int
	VelLo, VelHi float64

	Regions []Region

	// ReleaseRegions play on note release, matched by key/velocity only.
	ReleaseRegions []Region

	// LegatoRegions play on legato transitions, matched additionally by
	// interval class.
	LegatoRegions []LegatoRegion
}

// IntervalClass buckets a legato transition by its melodic distance.
type IntervalClass string

const (
	IntervalSemitone IntervalClass = "semitone" // |interval| <= 1
	IntervalWhole    IntervalClass = "whole"    // |interval| <= 2
	IntervalLeap     IntervalClass = "leap"
)

// LegatoRegion is a region constrained to one interval class.
type LegatoRegion struct {
	Region
	Interval IntervalClass
}

// Plan is one concrete playback instruction produced by resolution.
type Plan struct {
	Path        string
	Gain        float64
	Pan         float64
	TuneCents   float64
	RootKey     int
	LoopStart   float64
	LoopEnd     float64
	LoopEnabled bool
}

// NormalizeVelocity maps tolerant velocity input to [0,1]: values above 1 are
// treated as MIDI 0-127.
func NormalizeVelocity(v float64) float64 {
	if v > 1 {
		v = v / 127.0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// CurveVelocity applies a named velocity curve to a normalized velocity.
// Unknown curve names fall back to linear.
func CurveVelocity(v float64, curve string) float64 {
	v = NormalizeVelocity(v)
	switch curve {
	case "soft":
		return math.Sqrt(v)
	case "hard":
		return v * v
	default:
		return v
	}
}

func normalizeRange(lo, hi float64) (float64, float64) {
	if lo > 1 || hi > 1 {
		lo /= 127.0
		hi /= 127.0
	}
	if hi <= 0 {
		hi = 1
	}
	return lo, hi
}

func (r *Region) contains(note int, vel float64) bool {
	if note < r.KeyLo || (r.KeyHi > 0 && note > r.KeyHi) {
		return false
	}
	lo, hi := normalizeRange(r.VelLo, r.VelHi)
	return vel >= lo && vel <= hi
}

func (l *Layer) contains(note int, vel float64) bool {
	if note < l.KeyLo || (l.KeyHi > 0 && note > l.KeyHi) {
		return false
	}
	lo, hi := normalizeRange(l.VelLo, l.VelHi)
	return vel >= lo && vel <= hi
}

func (r *Region) velMidpoint() float64 {
	lo, hi := normalizeRange(r.VelLo, r.VelHi)
	return (lo + hi) / 2
}

func planFor(r *Region, weight float64) Plan {
	gain := r.Gain
	if gain == 0 {
		gain = 1
	}
	return Plan{
		Path:        r.Path,
		Gain:        gain * weight,
		Pan:         r.Pan,
		TuneCents:   r.TuneCents,
		RootKey:     r.RootKey,
		LoopStart:   r.LoopStart,
		LoopEnd:     r.LoopEnd,
		LoopEnabled: r.LoopEnabled,
	}
}

// Resolve returns the ordered playback plans for a note. Velocity is shaped
// by the named curve before zone matching. rr carries the per-group
// round-robin state; seed makes the random modes reproducible per trigger.
func Resolve(layers []Layer, note int, velocity float64, curve string, rr *RoundRobin, seed int64) []Plan {
	vel := CurveVelocity(velocity, curve)
	rng := rand.New(rand.NewSource(seed))

	var plans []Plan
	considered := 0
	for i := range layers {
		if considered >= maxLayers {
			break
		}
		layer := &layers[i]
		considered++
		if !layer.contains(note, vel) {
			continue
		}
		plans = append(plans, resolveRegions(layer.Regions, note, vel, rr, rng)...)
	}
	return plans
}

// resolveRegions picks the playing region(s) from one layer's region set.
func resolveRegions(regions []Region, note int, vel float64, rr *RoundRobin, rng *rand.Rand) []Plan {
	cands := collapseGroups(regions, note, vel, rr, rng)
	if len(cands) == 0 {
		return nil
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].velMidpoint() < cands[j].velMidpoint()
	})

	idx := -1
	for i := range cands {
		if cands[i].contains(note, vel) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	r := cands[idx]

	// Crossfade band centered on the boundary shared with the next region.
	if idx+1 < len(cands) && r.OverlapWidth > 0 {
		_, hi := normalizeRange(r.VelLo, r.VelHi)
		w := r.OverlapWidth
		if vel >= hi-w/2 && vel <= hi+w/2 {
			t := (vel - (hi - w/2)) / w
			return []Plan{planFor(r, 1-t), planFor(cands[idx+1], t)}
		}
	}
	// The previous region's band can extend above its own ceiling.
	if idx > 0 {
		p := cands[idx-1]
		if p.OverlapWidth > 0 {
			_, hi := normalizeRange(p.VelLo, p.VelHi)
			w := p.OverlapWidth
			if vel >= hi-w/2 && vel <= hi+w/2 {
				t := (vel - (hi - w/2)) / w
				return []Plan{planFor(p, 1-t), planFor(r, t)}
			}
		}
	}

	return []Plan{planFor(r, 1)}
}

// collapseGroups reduces each round-robin group among the matching regions to
// a single representative chosen by the group's selection mode. Regions that
// do not match the note/velocity are dropped; a region matched only through
// its group's crossfade neighbor keeps its own zone check.
func collapseGroups(regions []Region, note int, vel float64, rr *RoundRobin, rng *rand.Rand) []*Region {
	var out []*Region
	groups := make(map[string][]*Region)
	var order []string

	for i := range regions {
		r := &regions[i]
		if !r.contains(note, vel) {
			continue
		}
		if r.Group == "" {
			out = append(out, r)
			continue
		}
		if _, ok := groups[r.Group]; !ok {
			order = append(order, r.Group)
		}
		groups[r.Group] = append(groups[r.Group], r)
	}

	for _, g := range order {
		members := groups[g]
		mode := members[0].Mode
		pick := rr.pick(g, len(members), mode, rng)
		out = append(out, members[pick])
	}
	return out
}

// ResolveRelease returns the plans for release samples matching a note.
func ResolveRelease(layers []Layer, note int, velocity float64, curve string) []Plan {
	vel := CurveVelocity(velocity, curve)
	var plans []Plan
	considered := 0
	for i := range layers {
		if considered >= maxLayers {
			break
		}
		layer := &layers[i]
		considered++
		if !layer.contains(note, vel) {
			continue
		}
		for j := range layer.ReleaseRegions {
			r := &layer.ReleaseRegions[j]
			if r.contains(note, vel) {
				plans = append(plans, planFor(r, 1))
			}
		}
	}
	return plans
}

// IntervalClassOf buckets the transition from one note to another.
func IntervalClassOf(fromNote, toNote int) IntervalClass {
	d := toNote - fromNote
	if d < 0 {
		d = -d
	}
	switch {
	case d <= 1:
		return IntervalSemitone
	case d <= 2:
		return IntervalWhole
	default:
		return IntervalLeap
	}
}

// ResolveLegato returns the plans for a legato transition into toNote.
func ResolveLegato(layers []Layer, fromNote, toNote int, velocity float64, curve string) []Plan {
	vel := CurveVelocity(velocity, curve)
	class := IntervalClassOf(fromNote, toNote)
	var plans []Plan
	considered := 0
	for i := range layers {
		if considered >= maxLayers {
			break
		}
		layer := &layers[i]
		considered++
		if !layer.contains(toNote, vel) {
			continue
		}
		for j := range layer.LegatoRegions {
			lr := &layer.LegatoRegions[j]
			if lr.Interval == class && lr.contains(toNote, vel) {
				plans = append(plans, planFor(&lr.Region, 1))
			}
		}
	}
	return plans
}
