// Package io provides the ingestion and output boundaries of vitalguard:
// readers that load tables of readings and writers for detection results.
package io

import (
	"context"
	"math"
	"time"

	"github.com/hed1ad/vitalguard/pkg/detectors"
	"github.com/hed1ad/vitalguard/pkg/features"
)

// Reader is the interface for reading readings from various sources.
type Reader interface {
	// Read returns the complete table.
	Read() (*features.Frame, error)

	// Stream returns a channel of readings for one-by-one processing.
	Stream(ctx context.Context) (<-chan features.Reading, error)

	// Close releases resources.
	Close() error
}

// Decoder converts one raw record into a Reading.
type Decoder interface {
	// Decode parses a record. Empty fields are missing values.
	Decode(record []string) (features.Reading, error)

	// Columns returns the reading columns the decoder fills.
	Columns() []string
}

// Writer is the interface for writing detection results.
type Writer interface {
	// Write outputs a single result.
	Write(result Result) error

	// WriteAll outputs multiple results.
	WriteAll(results []Result) error

	// Close flushes and releases resources.
	Close() error
}

// Result is the verdict for one reading.
type Result struct {
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	DeviceID    string     `json:"device_id,omitempty"`
	HeartRate   *float64   `json:"heart_rate"`
	BloodOxygen *float64   `json:"blood_oxygen"`
	Prediction  int        `json:"prediction"`
	IsAnomaly   bool       `json:"is_anomaly"`
	// Score is the likelihood of the reading being normal, in [0, 1].
	Score    float64        `json:"score"`
	Severity string         `json:"severity,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewResults pairs every row of frame with its prediction and score.
// scores may be nil.
func NewResults(frame *features.Frame, predictions []int, scores []float64) []Result {
	out := make([]Result, len(predictions))
	for i, p := range predictions {
		r := frame.Row(i)
		res := Result{
			DeviceID:    r.DeviceID,
			HeartRate:   value(r.HeartRate),
			BloodOxygen: value(r.BloodOxygen),
			Prediction:  p,
			IsAnomaly:   p == detectors.Anomaly,
		}
		if !r.Timestamp.IsZero() {
			ts := r.Timestamp
			res.Timestamp = &ts
		}
		if scores != nil {
			res.Score = scores[i]
		}
		out[i] = res
	}
	return out
}

func value(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
