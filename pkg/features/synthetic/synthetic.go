// Package synthetic generates plausible readings for examples, benchmarks
// and tests.
package synthetic

import (
	"math/rand"
	"time"

	"github.com/hed1ad/vitalguard/pkg/features"
)

// Start is the timestamp of the first generated reading.
var Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var levels = []string{features.ActivityLow, features.ActivityModerate, features.ActivityHigh}

// Normal returns n resting-range readings, one per minute from Start.
func Normal(rng *rand.Rand, n int) []features.Reading {
	out := make([]features.Reading, n)
	for i := range out {
		out[i] = features.Reading{
			Timestamp:   Start.Add(time.Duration(i) * time.Minute),
			HeartRate:   72 + rng.NormFloat64()*6,
			BloodOxygen: 97.5 + rng.NormFloat64()*0.8,
			Activity:    levels[rng.Intn(len(levels))],
			DeviceID:    "wearable-01",
		}
	}
	return out
}

// Outliers returns n readings with tachycardia or bradycardia and low
// blood oxygen.
func Outliers(rng *rand.Rand, n int) []features.Reading {
	out := make([]features.Reading, n)
	for i := range out {
		hr := 150 + rng.Float64()*30
		if i%2 == 1 {
			hr = 35 + rng.Float64()*8
		}
		out[i] = features.Reading{
			Timestamp:   Start.Add(time.Duration(i) * 7 * time.Minute),
			HeartRate:   hr,
			BloodOxygen: 80 + rng.Float64()*7,
			Activity:    features.ActivityLow,
			DeviceID:    "wearable-01",
		}
	}
	return out
}

// Frame returns normal readings followed by outliers, generated from seed.
func Frame(seed int64, normal, outliers int) *features.Frame {
	rng := rand.New(rand.NewSource(seed))
	readings := append(Normal(rng, normal), Outliers(rng, outliers)...)
	return features.FromReadings(readings)
}

// Labels returns ground truth for Frame(seed, normal, outliers).
func Labels(normal, outliers int) []int {
	out := make([]int, normal+outliers)
	for i := 0; i < normal; i++ {
		out[i] = 1
	}
	return out
}
