package score

import (
	"github.com/shopspring/decimal"
)

const (
	// Neutral is the series baseline used when no previous sample exists.
	Neutral = 50
	// Step is the per-cycle score movement when one side outvotes the other.
	Step = 2
	// Floor and Cap bound the sentiment score.
	Floor = 0
	Cap   = 100
)

// Tally compares current prices against the previous cycle's prices and
// counts direction-of-change votes. Assets missing from either map do not
// vote. The previous map is updated in place with every price observed this
// cycle, so newly listed assets start voting next cycle.
func Tally(prev map[string]decimal.Decimal, current map[string]decimal.Decimal) (up, down int) {
	for id, price := range current {
		if last, ok := prev[id]; ok {
			switch price.Cmp(last) {
			case 1:
				up++
			case -1:
				down++
			}
		}
		prev[id] = price
	}
	return up, down
}

// Next applies the vote majority to the previous score. The step size and
// bounds are fixed: only the direction of the majority matters, never the
// magnitude of the underlying moves.
func Next(prevScore, up, down int) int {
	switch {
	case up > down:
		return min(Cap, prevScore+Step)
	case down > up:
		return max(Floor, prevScore-Step)
	default:
		return prevScore
	}
}

// AlignTime floors a unix timestamp to the sampling period so every basket
// sampled in the same cycle carries an identical sample time.
func AlignTime(now int64, period int64) int64 {
	if period <= 0 {
		return now
	}
	return now / period * period
}
