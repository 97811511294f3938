// Package evaluate scores a trained detector against a table of readings
// and, optionally, ground-truth labels.
package evaluate

import (
	"github.com/hed1ad/vitalguard/pkg/detectors"
	"github.com/hed1ad/vitalguard/pkg/features"
)

// Metrics summarizes a detector's predictions. The label-based fields are
// set only when ground truth was supplied.
type Metrics struct {
	TotalSamples       int     `json:"total_samples"`
	PredictedAnomalies int     `json:"predicted_anomalies"`
	PredictedNormal    int     `json:"predicted_normal"`
	AnomalyRate        float64 `json:"anomaly_rate"`

	Labeled       bool    `json:"labeled"`
	TrueAnomalies int     `json:"true_anomalies,omitempty"`
	TrueNormal    int     `json:"true_normal,omitempty"`
	Accuracy      float64 `json:"accuracy,omitempty"`
	Precision     float64 `json:"precision,omitempty"`
	Recall        float64 `json:"recall,omitempty"`
	F1            float64 `json:"f1_score,omitempty"`
}

// Evaluate predicts every row of frame and summarizes the result. labels
// may be nil; otherwise it must hold one label per row, 1 normal and 0
// anomaly.
func Evaluate(d detectors.Detector, frame *features.Frame, labels []int) (*Metrics, error) {
	preds, err := d.Predict(frame)
	if err != nil {
		return nil, err
	}
	return Score(preds, labels)
}

// Score computes metrics from predictions already made.
func Score(preds, labels []int) (*Metrics, error) {
	if labels != nil && len(labels) != len(preds) {
		return nil, detectors.Configuration("labels", "got %d labels for %d predictions", len(labels), len(preds))
	}

	m := &Metrics{TotalSamples: len(preds)}
	m.PredictedAnomalies = detectors.CountAnomalies(preds)
	m.PredictedNormal = m.TotalSamples - m.PredictedAnomalies
	if m.TotalSamples > 0 {
		m.AnomalyRate = float64(m.PredictedAnomalies) / float64(m.TotalSamples)
	}
	if labels == nil {
		return m, nil
	}

	m.Labeled = true
	var tp, correct int
	for i, want := range labels {
		if want == detectors.Anomaly {
			m.TrueAnomalies++
		}
		if preds[i] == want {
			correct++
			if want == detectors.Anomaly {
				tp++
			}
		}
	}
	m.TrueNormal = m.TotalSamples - m.TrueAnomalies
	if m.TotalSamples > 0 {
		m.Accuracy = float64(correct) / float64(m.TotalSamples)
	}
	m.Precision = float64(tp) / float64(max(m.PredictedAnomalies, 1))
	m.Recall = float64(tp) / float64(max(m.TrueAnomalies, 1))
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m, nil
}
