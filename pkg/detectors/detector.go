// Package detectors provides the shared contract of the health anomaly
// detectors, their training results, error taxonomy and factory.
package detectors

import (
	"github.com/hed1ad/vitalguard/pkg/features"
)

// Kind tags a detector strategy. It is embedded in persisted artifacts.
type Kind string

// Known strategies.
const (
	KindDensity     Kind = "density-partitioning"
	KindBoundary    Kind = "boundary-margin"
	KindStatistical Kind = "statistical"
	KindEnsemble    Kind = "ensemble"
)

// Prediction labels. Downstream alerting checks for Anomaly (0), so the
// polarity must not change.
const (
	Anomaly = 0
	Normal  = 1
)

// Detector is the common interface for all anomaly detection strategies.
type Detector interface {
	// Kind identifies the strategy.
	Kind() Kind

	// Train fits the detector on a table of readings. Calling it again
	// replaces the previously fitted state.
	Train(f *features.Frame) (*TrainingResult, error)

	// Predict labels every row Normal (1) or Anomaly (0).
	Predict(f *features.Frame) ([]int, error)

	// Trained reports whether Predict can be called.
	Trained() bool

	// Save serializes the fitted state, hyperparameters included.
	Save() ([]byte, error)

	// Load restores state produced by Save and marks the detector trained.
	Load(data []byte) error
}

// ProbabilityEstimator is implemented by detectors that produce a
// continuous score. Scores are in [0, 1], higher meaning more likely normal.
type ProbabilityEstimator interface {
	PredictProba(f *features.Frame) ([]float64, error)
}

// Strategy is a detector with a continuous score. All built-in strategies
// implement it.
type Strategy interface {
	Detector
	ProbabilityEstimator
}

// TrainingResult describes one training run. It is never modified after
// being returned.
type TrainingResult struct {
	ModelType         Kind                   `json:"model_type"`
	TotalSamples      int                    `json:"total_samples"`
	AnomaliesDetected int                    `json:"anomalies_detected"`
	AnomalyRate       float64                `json:"anomaly_rate"`
	Settings          map[string]interface{} `json:"settings,omitempty"`
	Members           []*TrainingResult      `json:"individual_results,omitempty"`
}

// NewTrainingResult summarizes the predictions a detector made on its own
// training data.
func NewTrainingResult(kind Kind, predictions []int, settings map[string]interface{}) *TrainingResult {
	anomalies := CountAnomalies(predictions)
	res := &TrainingResult{
		ModelType:         kind,
		TotalSamples:      len(predictions),
		AnomaliesDetected: anomalies,
		Settings:          settings,
	}
	if len(predictions) > 0 {
		res.AnomalyRate = float64(anomalies) / float64(len(predictions))
	}
	return res
}

// CountAnomalies returns how many predictions are Anomaly.
func CountAnomalies(predictions []int) int {
	n := 0
	for _, p := range predictions {
		if p == Anomaly {
			n++
		}
	}
	return n
}

// Label converts an is-anomaly flag to a prediction label.
func Label(anomalous bool) int {
	if anomalous {
		return Anomaly
	}
	return Normal
}
