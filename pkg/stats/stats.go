// Package stats provides the column statistics shared by the detectors.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Observed returns the non-NaN values of x in their original order.
func Observed(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Mean returns the mean of the observed values of x and how many there were.
// The mean is NaN when nothing was observed.
func Mean(x []float64) (float64, int) {
	obs := Observed(x)
	if len(obs) == 0 {
		return math.NaN(), 0
	}
	return stat.Mean(obs, nil), len(obs)
}

// FillMissing replaces every NaN in x with fill, in place.
func FillMissing(x []float64, fill float64) {
	for i, v := range x {
		if math.IsNaN(v) {
			x[i] = fill
		}
	}
}

// PopStdDev is the population (ddof=0) standard deviation.
func PopStdDev(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	_, std := stat.PopMeanStdDev(x, nil)
	return std
}

// PopVariance is the population (ddof=0) variance.
func PopVariance(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	_, variance := stat.PopMeanVariance(x, nil)
	return variance
}

// StdDev is the sample (ddof=1) standard deviation; zero for fewer than two values.
func StdDev(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	return stat.StdDev(x, nil)
}

// Quantile returns the p-quantile of x using linear interpolation between
// closest ranks (h = (n-1)p). x is not modified.
func Quantile(x []float64, p float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)
	return sortedQuantile(sorted, p)
}

func sortedQuantile(sorted []float64, p float64) float64 {
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	h := float64(len(sorted)-1) * p
	lo := int(math.Floor(h))
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// Median is Quantile(x, 0.5).
func Median(x []float64) float64 {
	return Quantile(x, 0.5)
}

// MAD is the median absolute deviation of x around center.
func MAD(x []float64, center float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	dev := make([]float64, len(x))
	for i, v := range x {
		dev[i] = math.Abs(v - center)
	}
	return Median(dev)
}

// Sigmoid squashes a decision value into (0, 1).
func Sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}
