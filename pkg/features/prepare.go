package features

import (
	"strings"

	"github.com/hed1ad/vitalguard/pkg/stats"
)

// Feature vector layout. Order and width are fixed for every detector.
const (
	HeartRate = iota
	BloodOxygen
	HourOfDay
	DayOfWeek
	ActivityNumeric

	Width
)

// Names holds the feature names in vector order.
var Names = [Width]string{
	HeartRate:       ColHeartRate,
	BloodOxygen:     ColBloodOxygen,
	HourOfDay:       "hour_of_day",
	DayOfWeek:       "day_of_week",
	ActivityNumeric: "activity_numeric",
}

// DefaultActivity is the numeric activity used for absent or unknown levels.
const DefaultActivity = 2

var activityLevels = map[string]float64{
	ActivityLow:      1,
	ActivityModerate: 2,
	ActivityHigh:     3,
}

// Index returns the vector position of a named feature.
func Index(name string) (int, bool) {
	for i, n := range Names {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// ActivityCode maps an activity level to its numeric code.
func ActivityCode(level string) float64 {
	if v, ok := activityLevels[strings.ToLower(strings.TrimSpace(level))]; ok {
		return v
	}
	return DefaultActivity
}

// Prepare builds the feature matrix of a table, one row per reading.
//
// Missing heart_rate and blood_oxygen values are replaced by the mean of the
// observed values in this table, so the same reading may produce different
// vectors in different batches. Without a timestamp column hour_of_day and
// day_of_week are 0; day_of_week counts from Monday = 0.
func Prepare(f *Frame) ([][]float64, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	hr, err := imputed(ColHeartRate, f.HeartRate)
	if err != nil {
		return nil, err
	}
	spo2, err := imputed(ColBloodOxygen, f.BloodOxygen)
	if err != nil {
		return nil, err
	}

	n := f.Len()
	backing := make([]float64, n*Width)
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		row := backing[i*Width : (i+1)*Width : (i+1)*Width]
		row[HeartRate] = hr[i]
		row[BloodOxygen] = spo2[i]
		if f.Timestamp != nil && !f.Timestamp[i].IsZero() {
			ts := f.Timestamp[i].UTC()
			row[HourOfDay] = float64(ts.Hour())
			row[DayOfWeek] = float64((int(ts.Weekday()) + 6) % 7)
		}
		row[ActivityNumeric] = DefaultActivity
		if f.Activity != nil {
			row[ActivityNumeric] = ActivityCode(f.Activity[i])
		}
		out[i] = row
	}
	return out, nil
}

// Column returns a copy of one feature column of a prepared matrix.
func Column(matrix [][]float64, idx int) []float64 {
	col := make([]float64, len(matrix))
	for i, row := range matrix {
		col[i] = row[idx]
	}
	return col
}

func imputed(name string, values []float64) ([]float64, error) {
	out := make([]float64, len(values))
	copy(out, values)
	if len(out) == 0 {
		return out, nil
	}
	mean, n := stats.Mean(out)
	if n == 0 {
		return nil, &Error{Column: name, Reason: "no observed values to impute from"}
	}
	if n < len(out) {
		stats.FillMissing(out, mean)
	}
	return out, nil
}
