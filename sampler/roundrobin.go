package sampler

import "math/rand"

// RoundRobinMode selects how successive triggers rotate within a group.
type RoundRobinMode string

const (
	RoundRobinCycle    RoundRobinMode = "cycle"
	RoundRobinRandom   RoundRobinMode = "random"
	RoundRobinNoRepeat RoundRobinMode = "random-no-repeat"
)

// RoundRobin tracks per-group selection state across note triggers. The
// random draws themselves come from the caller's per-trigger source, so
// Resolve stays reproducible for a given seed.
type RoundRobin struct {
	counters map[string]int
	last     map[string]int
}

// NewRoundRobin creates empty round-robin state.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{
		counters: make(map[string]int),
		last:     make(map[string]int),
	}
}

// pick chooses a member index in [0,n) for the group.
func (rr *RoundRobin) pick(group string, n int, mode RoundRobinMode, rng *rand.Rand) int {
	if n <= 1 {
		return 0
	}
	if rr == nil {
		return 0
	}
	switch mode {
	case RoundRobinRandom:
		pick := rng.Intn(n)
		rr.last[group] = pick
		return pick
	case RoundRobinNoRepeat:
		pick := rng.Intn(n)
		if prev, ok := rr.last[group]; ok && pick == prev {
			// One re-roll; if it lands on the same member again, step off it.
			pick = rng.Intn(n)
			if pick == prev {
				pick = (prev + 1) % n
			}
		}
		rr.last[group] = pick
		return pick
	default: // cycle
		idx := rr.counters[group] % n
		rr.counters[group]++
		rr.last[group] = idx
		return idx
	}
}
