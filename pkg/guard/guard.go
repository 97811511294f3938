// Package guard owns the detector shared by a serving process. It
// serializes retraining, swaps in newly trained detectors atomically and
// falls back to fixed clinical rules while no detector is available.
package guard

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hed1ad/vitalguard/pkg/detectors"
	_ "github.com/hed1ad/vitalguard/pkg/detectors/builtin"
	"github.com/hed1ad/vitalguard/pkg/features"
)

var log = logrus.WithField("component", "guard")

// Severity grades an anomalous reading.
type Severity string

// Severities.
const (
	SeverityNone   Severity = ""
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Source tells which mechanism produced a verdict.
type Source string

// Verdict sources.
const (
	SourceModel Source = "model"
	SourceRules Source = "rules"
)

// Rules are the fixed thresholds used without a trained detector.
type Rules struct {
	MaxHeartRate   float64 `mapstructure:"max_heart_rate"`
	MinHeartRate   float64 `mapstructure:"min_heart_rate"`
	MinBloodOxygen float64 `mapstructure:"min_blood_oxygen"`
}

// DefaultRules flags tachycardia above 120, bradycardia below 50 and
// blood oxygen below 90.
func DefaultRules() Rules {
	return Rules{MaxHeartRate: 120, MinHeartRate: 50, MinBloodOxygen: 90}
}

// Evaluate applies the rules to one reading. Missing vitals never trigger.
func (r Rules) Evaluate(reading features.Reading) Alert {
	a := Alert{Reading: reading, Source: SourceRules, Score: 1}
	hr, spo2 := reading.HeartRate, reading.BloodOxygen
	lowOxygen := !math.IsNaN(spo2) && spo2 < r.MinBloodOxygen

	switch {
	case lowOxygen:
		a.Reason = fmt.Sprintf("blood oxygen %.1f below %.0f", spo2, r.MinBloodOxygen)
	case !math.IsNaN(hr) && hr > r.MaxHeartRate:
		a.Reason = fmt.Sprintf("heart rate %.0f above %.0f", hr, r.MaxHeartRate)
	case !math.IsNaN(hr) && hr < r.MinHeartRate:
		a.Reason = fmt.Sprintf("heart rate %.0f below %.0f", hr, r.MinHeartRate)
	default:
		return a
	}

	a.IsAnomaly = true
	a.Score = 0
	a.Severity = SeverityMedium
	if lowOxygen {
		a.Severity = SeverityHigh
	}
	return a
}

// Alert is the verdict on one reading.
type Alert struct {
	Reading   features.Reading
	IsAnomaly bool
	// Score is the likelihood of the reading being normal. Rule verdicts
	// score 0 or 1.
	Score    float64
	Severity Severity
	Source   Source
	Reason   string
}

// Config configures a Monitor.
type Config struct {
	// Method and Params select the strategy built by Train.
	Method string                 `mapstructure:"method"`
	Params map[string]interface{} `mapstructure:"params"`
	// MinTrainingSamples is the smallest table Train accepts.
	MinTrainingSamples int `mapstructure:"min_training_samples"`
	// HighSeverityScore is the score below which a model anomaly is high
	// severity.
	HighSeverityScore float64 `mapstructure:"high_severity_score"`
	Rules             Rules   `mapstructure:"rules"`
}

// DefaultConfig trains the default ensemble.
func DefaultConfig() Config {
	return Config{
		Method:             string(detectors.KindEnsemble),
		MinTrainingSamples: 50,
		HighSeverityScore:  0.3,
		Rules:              DefaultRules(),
	}
}

// InsufficientDataError is returned by Train for tables that are too small.
type InsufficientDataError struct {
	Have, Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("need at least %d readings to train, got %d", e.Need, e.Have)
}

// Monitor checks readings against the current detector. Reads run
// concurrently; a training run never exposes a partially fitted detector.
type Monitor struct {
	trainMu sync.Mutex

	mu        sync.RWMutex
	detector  detectors.Detector
	trainedAt time.Time

	cfg     Config
	metrics *Metrics
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithMetrics records activity in m.
func WithMetrics(m *Metrics) Option {
	return func(mon *Monitor) { mon.metrics = m }
}

// WithDetector starts the monitor with an already trained detector.
func WithDetector(d detectors.Detector) Option {
	return func(mon *Monitor) {
		mon.detector = d
		mon.trainedAt = time.Now()
	}
}

// New creates a monitor. The configured method is checked up front.
func New(cfg Config, opts ...Option) (*Monitor, error) {
	if cfg.MinTrainingSamples < 1 {
		return nil, detectors.Configuration("min_training_samples", "must be positive, got %d", cfg.MinTrainingSamples)
	}
	if _, err := detectors.New(cfg.Method, cfg.Params); err != nil {
		return nil, err
	}
	m := &Monitor{cfg: cfg}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics(nil)
	}
	if m.detector != nil && !m.detector.Trained() {
		return nil, detectors.NotTrained(m.detector.Kind())
	}
	return m, nil
}

// Train fits a new detector on frame and swaps it in. Concurrent calls
// run one at a time; checks keep using the previous detector until the
// new one is ready.
func (m *Monitor) Train(frame *features.Frame) (*detectors.TrainingResult, error) {
	m.trainMu.Lock()
	defer m.trainMu.Unlock()

	if n := frame.Len(); n < m.cfg.MinTrainingSamples {
		return nil, &InsufficientDataError{Have: n, Need: m.cfg.MinTrainingSamples}
	}

	d, err := detectors.New(m.cfg.Method, m.cfg.Params)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := d.Train(frame)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	m.Swap(d)
	m.metrics.Trainings.Inc()
	m.metrics.TrainingDuration.Observe(elapsed.Seconds())
	log.WithFields(logrus.Fields{
		"kind":     d.Kind(),
		"samples":  res.TotalSamples,
		"rate":     res.AnomalyRate,
		"duration": elapsed,
	}).Info("detector retrained")
	return res, nil
}

// Swap replaces the current detector with a trained one.
func (m *Monitor) Swap(d detectors.Detector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detector = d
	m.trainedAt = time.Now()
}

// Detector returns the current detector, or nil.
func (m *Monitor) Detector() detectors.Detector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.detector
}

// TrainedAt returns when the current detector was installed.
func (m *Monitor) TrainedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trainedAt
}

// Check scores one reading.
func (m *Monitor) Check(reading features.Reading) Alert {
	return m.CheckFrame(features.FromReadings([]features.Reading{reading}))[0]
}

// CheckFrame scores every row of frame. Without a detector, or when the
// detector fails on this table, every row is judged by the rules.
func (m *Monitor) CheckFrame(frame *features.Frame) []Alert {
	m.mu.RLock()
	d := m.detector
	alerts, err := m.modelAlerts(d, frame)
	m.mu.RUnlock()

	if d != nil && err != nil {
		m.metrics.Fallbacks.Inc()
		log.WithError(err).Warn("detector failed, falling back to rules")
	}
	if alerts == nil {
		alerts = make([]Alert, frame.Len())
		for i := range alerts {
			alerts[i] = m.cfg.Rules.Evaluate(frame.Row(i))
		}
	}
	m.metrics.observe(alerts...)
	return alerts
}

func (m *Monitor) modelAlerts(d detectors.Detector, frame *features.Frame) ([]Alert, error) {
	if d == nil {
		return nil, nil
	}
	preds, err := d.Predict(frame)
	if err != nil {
		return nil, err
	}
	var scores []float64
	if pe, ok := d.(detectors.ProbabilityEstimator); ok {
		if scores, err = pe.PredictProba(frame); err != nil {
			return nil, err
		}
	}

	alerts := make([]Alert, len(preds))
	for i, p := range preds {
		a := Alert{Reading: frame.Row(i), Source: SourceModel, Score: float64(p)}
		if scores != nil {
			a.Score = scores[i]
		}
		if p == detectors.Anomaly {
			a.IsAnomaly = true
			a.Severity = SeverityMedium
			if a.Score < m.cfg.HighSeverityScore {
				a.Severity = SeverityHigh
			}
			a.Reason = fmt.Sprintf("%s detector flagged reading", d.Kind())
		}
		alerts[i] = a
	}
	return alerts, nil
}
