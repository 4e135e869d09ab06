// Package stats holds the descriptive statistics shared by feature extraction
// and model fitting.
package stats

import "math"

// Sum returns the sum of all elements in the slice.
func Sum(x []float64) float64 {
	s := 0.0
	for _, v := range x {
		s += v
	}
	return s
}

// Mean computes the average of a slice. An empty slice has mean 0.
func Mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return Sum(x) / float64(len(x))
}

// sumSquares returns the sum of squared deviations from the mean. Two passes
// so a constant column comes out exactly 0.
func sumSquares(x []float64) float64 {
	m := Mean(x)
	ss := 0.0
	for _, v := range x {
		d := v - m
		ss += d * d
	}
	return ss
}

// SampleStd is the standard deviation with an N-1 denominator. Fewer than
// two values yield 0 rather than NaN.
func SampleStd(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	return math.Sqrt(sumSquares(x) / float64(len(x)-1))
}

// PopulationStd is the standard deviation with an N denominator.
func PopulationStd(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return math.Sqrt(sumSquares(x) / float64(len(x)))
}
