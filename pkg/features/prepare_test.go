package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareLayout(t *testing.T) {
	// 2024-03-06 is a Wednesday.
	ts := time.Date(2024, 3, 6, 14, 30, 0, 0, time.UTC)
	f := FromReadings([]Reading{
		{Timestamp: ts, HeartRate: 80, BloodOxygen: 97, Activity: "high"},
		{Timestamp: ts.Add(-14 * time.Hour), HeartRate: 60, BloodOxygen: 99, Activity: "low"},
	})

	matrix, err := Prepare(f)
	require.NoError(t, err)
	require.Len(t, matrix, 2)

	assert.Equal(t, []float64{80, 97, 14, 2, 3}, matrix[0])
	assert.Equal(t, []float64{60, 99, 0, 2, 1}, matrix[1])
}

func TestPrepareImputesWithBatchMean(t *testing.T) {
	f := &Frame{
		HeartRate:   []float64{70, math.NaN(), 74},
		BloodOxygen: []float64{98, 96, math.NaN()},
	}

	matrix, err := Prepare(f)
	require.NoError(t, err)

	assert.Equal(t, 72.0, matrix[1][HeartRate])
	assert.Equal(t, 97.0, matrix[2][BloodOxygen])
	// Input is left untouched.
	assert.True(t, math.IsNaN(f.HeartRate[1]))
}

func TestPrepareDefaults(t *testing.T) {
	tests := []struct {
		name     string
		activity []string
		want     float64
	}{
		{name: "absent column", activity: nil, want: 2},
		{name: "unknown level", activity: []string{"extreme"}, want: 2},
		{name: "missing value", activity: []string{""}, want: 2},
		{name: "case insensitive", activity: []string{" High "}, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Frame{
				HeartRate:   []float64{72},
				BloodOxygen: []float64{98},
				Activity:    tt.activity,
			}
			matrix, err := Prepare(f)
			require.NoError(t, err)
			require.Len(t, matrix[0], Width)
			assert.Equal(t, tt.want, matrix[0][ActivityNumeric])
			assert.Zero(t, matrix[0][HourOfDay])
			assert.Zero(t, matrix[0][DayOfWeek])
		})
	}
}

func TestPrepareErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
	}{
		{name: "nil frame", frame: nil},
		{name: "missing heart rate column", frame: &Frame{BloodOxygen: []float64{98}}},
		{name: "missing both vitals", frame: &Frame{Activity: []string{"low"}}},
		{name: "ragged columns", frame: &Frame{HeartRate: []float64{70, 71}, BloodOxygen: []float64{98}}},
		{name: "nothing observed", frame: &Frame{HeartRate: []float64{math.NaN()}, BloodOxygen: []float64{98}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Prepare(tt.frame)
			require.Error(t, err)
			var fe *Error
			assert.True(t, errors.As(err, &fe))
		})
	}
}

func TestFromReadingsColumns(t *testing.T) {
	f := FromReadings([]Reading{{HeartRate: 70, BloodOxygen: 98}})
	assert.True(t, f.Has(ColHeartRate))
	assert.False(t, f.Has(ColTimestamp))
	assert.False(t, f.Has(ColActivity))
	assert.Equal(t, 1, f.Len())

	r := f.Row(0)
	assert.Equal(t, 70.0, r.HeartRate)
	assert.True(t, r.Timestamp.IsZero())
}

func TestNewFrameAppend(t *testing.T) {
	f := NewFrame(ColHeartRate, ColBloodOxygen, ColActivity, "label")
	assert.Equal(t, 0, f.Len())
	require.NoError(t, f.Validate())

	f.Append(Reading{HeartRate: 80, BloodOxygen: 96, Activity: ActivityHigh, DeviceID: "w-2"})
	f.Append(Reading{HeartRate: 64, BloodOxygen: 99})
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, []string{ActivityHigh, ""}, f.Activity)
	assert.False(t, f.Has(ColDeviceID))
	assert.False(t, f.Has(ColTimestamp))

	matrix, err := Prepare(f)
	require.NoError(t, err)
	assert.Equal(t, 3.0, matrix[0][ActivityNumeric])
	assert.Equal(t, float64(DefaultActivity), matrix[1][ActivityNumeric])
}

func TestScaler(t *testing.T) {
	matrix := [][]float64{{1, 5}, {3, 5}}
	s, err := FitScaler(matrix)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 5}, s.Mean)
	assert.Equal(t, []float64{1, 1}, s.Scale)

	scaled, err := s.Transform([][]float64{{4, 6}})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1}, scaled[0])

	_, err = s.Transform([][]float64{{1}})
	assert.Error(t, err)

	_, err = FitScaler(nil)
	assert.Error(t, err)
}

func TestIndex(t *testing.T) {
	idx, ok := Index("blood_oxygen")
	assert.True(t, ok)
	assert.Equal(t, BloodOxygen, idx)

	_, ok = Index("temperature")
	assert.False(t, ok)
}
