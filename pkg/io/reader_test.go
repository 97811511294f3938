package io

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/vitalguard/pkg/detectors"
	"github.com/hed1ad/vitalguard/pkg/features"
)

func TestNewResults(t *testing.T) {
	ts := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	frame := features.FromReadings([]features.Reading{
		{Timestamp: ts, HeartRate: 72, BloodOxygen: 98, DeviceID: "w-1"},
		{HeartRate: math.NaN(), BloodOxygen: 85, DeviceID: "w-1"},
	})

	got := NewResults(frame, []int{detectors.Normal, detectors.Anomaly}, []float64{0.8, 0.1})
	require.Len(t, got, 2)

	assert.Equal(t, ts, *got[0].Timestamp)
	assert.Equal(t, 72.0, *got[0].HeartRate)
	assert.False(t, got[0].IsAnomaly)
	assert.Equal(t, 0.8, got[0].Score)

	assert.Nil(t, got[1].Timestamp)
	assert.Nil(t, got[1].HeartRate)
	assert.Equal(t, 85.0, *got[1].BloodOxygen)
	assert.True(t, got[1].IsAnomaly)
	assert.Equal(t, "w-1", got[1].DeviceID)
}

func TestNewResultsWithoutScores(t *testing.T) {
	frame := features.FromReadings([]features.Reading{{HeartRate: 60, BloodOxygen: 97}})
	got := NewResults(frame, []int{detectors.Normal}, nil)
	assert.Equal(t, 0.0, got[0].Score)
}
