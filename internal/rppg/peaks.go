package rppg

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// FindPeaks returns the sub-sample positions of local maxima in x that rise
// above floor and are at least minDistance samples apart. When two maxima
// are closer than minDistance the taller one wins.
func FindPeaks(x []float64, minDistance int, floor float64) []float64 {
	if len(x) < 3 {
		return nil
	}
	var cand []int
	for i := 1; i < len(x)-1; i++ {
		if x[i] > x[i-1] && x[i] >= x[i+1] && x[i] > floor {
			cand = append(cand, i)
		}
	}

	// Greedy by height, then restore chronological order.
	byHeight := make([]int, len(cand))
	copy(byHeight, cand)
	sort.SliceStable(byHeight, func(a, b int) bool { return x[byHeight[a]] > x[byHeight[b]] })
	taken := make(map[int]bool, len(cand))
	var kept []int
	for _, i := range byHeight {
		clash := false
		for _, k := range kept {
			if abs(i-k) < minDistance {
				clash = true
				break
			}
		}
		if clash {
			continue
		}
		kept = append(kept, i)
		taken[i] = true
	}

	var peaks []float64
	for _, i := range cand {
		if taken[i] {
			peaks = append(peaks, refine(x, i))
		}
	}
	return peaks
}

// refine fits a parabola through x[i-1], x[i], x[i+1] and returns the vertex
// position.
func refine(x []float64, i int) float64 {
	a, b, c := x[i-1], x[i], x[i+1]
	den := a - 2*b + c
	if den == 0 {
		return float64(i)
	}
	off := 0.5 * (a - c) / den
	if off > 0.5 || off < -0.5 {
		return float64(i)
	}
	return float64(i) + off
}

// peakFloor is the minimum height of a pulse peak: a fraction of the
// filtered signal's standard deviation above zero.
func peakFloor(x []float64) float64 {
	return 0.3 * stat.StdDev(x, nil)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
