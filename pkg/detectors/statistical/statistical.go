// Package statistical implements the statistical-threshold detector:
// per-feature z-score, IQR or modified z-score tests fitted on training
// readings.
package statistical

import (
	"bytes"
	"encoding/gob"
	"math"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hed1ad/vitalguard/pkg/detectors"
	"github.com/hed1ad/vitalguard/pkg/features"
	"github.com/hed1ad/vitalguard/pkg/stats"
)

var log = logrus.WithField("component", "detectors.Statistical")

// Supported methods.
const (
	MethodZScore         = "z_score"
	MethodIQR            = "iqr"
	MethodModifiedZScore = "modified_z_score"
)

// madScale makes the MAD consistent with the standard deviation of a
// normal distribution.
const madScale = 0.6745

// Config holds the detector hyperparameters.
type Config struct {
	Method    string  `mapstructure:"method"`
	Threshold float64 `mapstructure:"threshold"`
	// Columns are the feature names tested, in order.
	Columns []string `mapstructure:"columns"`
}

// DefaultConfig tests heart rate and blood oxygen with a 3.0 z-score.
func DefaultConfig() Config {
	return Config{
		Method:    MethodZScore,
		Threshold: 3.0,
		Columns:   []string{features.ColHeartRate, features.ColBloodOxygen},
	}
}

// Validate checks the configuration and normalizes the method name.
func (c *Config) Validate() error {
	c.Method = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(c.Method)), "-", "_")
	switch c.Method {
	case MethodZScore, MethodIQR, MethodModifiedZScore:
	default:
		return detectors.Configuration("method", "unknown statistical method %q", c.Method)
	}
	if c.Threshold <= 0 {
		return detectors.Configuration("threshold", "must be positive, got %g", c.Threshold)
	}
	if len(c.Columns) == 0 {
		return detectors.Configuration("columns", "at least one feature is required")
	}
	seen := make(map[string]bool, len(c.Columns))
	for _, col := range c.Columns {
		if _, ok := features.Index(col); !ok {
			return detectors.Configuration("columns", "unknown feature %q", col)
		}
		if seen[col] {
			return detectors.Configuration("columns", "duplicate feature %q", col)
		}
		seen[col] = true
	}
	return nil
}

// FeatureStats are the fitted statistics of one feature. Only the fields
// of the configured method are populated.
type FeatureStats struct {
	Mean       float64 `json:"mean,omitempty"`
	Std        float64 `json:"std,omitempty"`
	Q1         float64 `json:"q1,omitempty"`
	Q3         float64 `json:"q3,omitempty"`
	IQR        float64 `json:"iqr,omitempty"`
	LowerBound float64 `json:"lower_bound,omitempty"`
	UpperBound float64 `json:"upper_bound,omitempty"`
	Median     float64 `json:"median,omitempty"`
	MAD        float64 `json:"mad,omitempty"`
}

// Detector flags a reading when any configured feature fails the method's
// test.
type Detector struct {
	mu sync.RWMutex

	cfg     Config
	stats   map[string]FeatureStats
	trained bool
}

// Option configures a Detector.
type Option func(*Config)

// WithMethod selects z_score, iqr or modified_z_score.
func WithMethod(method string) Option {
	return func(c *Config) { c.Method = method }
}

// WithThreshold sets the z-score / modified z-score threshold.
func WithThreshold(v float64) Option {
	return func(c *Config) { c.Threshold = v }
}

// WithColumns sets the tested features.
func WithColumns(cols ...string) Option {
	return func(c *Config) { c.Columns = cols }
}

// New creates an untrained detector from the default configuration and opts.
func New(opts ...Option) (*Detector, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates an untrained detector from an explicit configuration.
func NewWithConfig(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Columns = append([]string(nil), cfg.Columns...)
	return &Detector{cfg: cfg}, nil
}

func init() {
	detectors.Register(detectors.KindStatistical, func(params map[string]interface{}) (detectors.Strategy, error) {
		cfg := DefaultConfig()
		if err := detectors.DecodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewWithConfig(cfg)
	})
}

// Kind implements detectors.Detector.
func (d *Detector) Kind() detectors.Kind { return detectors.KindStatistical }

// Config returns the hyperparameters.
func (d *Detector) Config() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cfg := d.cfg
	cfg.Columns = append([]string(nil), d.cfg.Columns...)
	return cfg
}

// Trained implements detectors.Detector.
func (d *Detector) Trained() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.trained
}

// Statistics returns a copy of the fitted statistics keyed by feature.
func (d *Detector) Statistics() map[string]FeatureStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]FeatureStats, len(d.stats))
	for k, v := range d.stats {
		out[k] = v
	}
	return out
}

// Train fits the per-feature statistics. Vital signs use only their
// observed values; derived features use the prepared matrix.
func (d *Detector) Train(frame *features.Frame) (*detectors.TrainingResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	log.WithField("method", d.cfg.Method).Debug("training statistical detector")

	matrix, err := features.Prepare(frame)
	if err != nil {
		return nil, err
	}
	if len(matrix) == 0 {
		return nil, &detectors.FeatureError{Reason: "empty training table"}
	}

	fitted := make(map[string]FeatureStats, len(d.cfg.Columns))
	for _, col := range d.cfg.Columns {
		idx, _ := features.Index(col)
		var values []float64
		switch idx {
		case features.HeartRate:
			values = stats.Observed(frame.HeartRate)
		case features.BloodOxygen:
			values = stats.Observed(frame.BloodOxygen)
		default:
			values = features.Column(matrix, idx)
		}
		fitted[col] = fit(d.cfg.Method, values)
	}

	d.stats = fitted
	d.trained = true

	summary := make(map[string]FeatureStats, len(fitted))
	for k, v := range fitted {
		summary[k] = v
	}
	res := detectors.NewTrainingResult(d.Kind(), d.labels(matrix), map[string]interface{}{
		"method":     d.cfg.Method,
		"threshold":  d.cfg.Threshold,
		"statistics": summary,
	})
	log.WithFields(logrus.Fields{
		"samples":   res.TotalSamples,
		"anomalies": res.AnomaliesDetected,
	}).Info("statistical detector training completed")
	return res, nil
}

func fit(method string, values []float64) FeatureStats {
	var fs FeatureStats
	switch method {
	case MethodZScore:
		fs.Mean, _ = stats.Mean(values)
		fs.Std = stats.StdDev(values)
	case MethodIQR:
		fs.Q1 = stats.Quantile(values, 0.25)
		fs.Q3 = stats.Quantile(values, 0.75)
		fs.IQR = fs.Q3 - fs.Q1
		fs.LowerBound = fs.Q1 - 1.5*fs.IQR
		fs.UpperBound = fs.Q3 + 1.5*fs.IQR
	case MethodModifiedZScore:
		fs.Median = stats.Median(values)
		fs.MAD = stats.MAD(values, fs.Median)
	}
	return fs
}

// Predict implements detectors.Detector. Missing vitals are imputed with
// the mean of the batch being scored.
func (d *Detector) Predict(frame *features.Frame) ([]int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	matrix, err := d.prepare(frame)
	if err != nil {
		return nil, err
	}
	return d.labels(matrix), nil
}

// AnomalyScores returns, per row, the largest normalized distance to a
// threshold across the tested features, in [0, 1] with higher values more
// anomalous.
func (d *Detector) AnomalyScores(frame *features.Frame) ([]float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	matrix, err := d.prepare(frame)
	if err != nil {
		return nil, err
	}
	return d.rawScores(matrix), nil
}

// PredictProba returns 1 - AnomalyScores so that, like the other
// detectors, higher means more likely normal.
func (d *Detector) PredictProba(frame *features.Frame) ([]float64, error) {
	scores, err := d.AnomalyScores(frame)
	if err != nil {
		return nil, err
	}
	for i, s := range scores {
		scores[i] = 1 - s
	}
	return scores, nil
}

func (d *Detector) prepare(frame *features.Frame) ([][]float64, error) {
	if !d.trained {
		return nil, detectors.NotTrained(d.Kind())
	}
	return features.Prepare(frame)
}

func (d *Detector) labels(matrix [][]float64) []int {
	out := make([]int, len(matrix))
	for i, row := range matrix {
		anomalous := false
		for _, col := range d.cfg.Columns {
			idx, _ := features.Index(col)
			if d.exceeds(d.stats[col], row[idx]) {
				anomalous = true
				break
			}
		}
		out[i] = detectors.Label(anomalous)
	}
	return out
}

func (d *Detector) exceeds(fs FeatureStats, v float64) bool {
	switch d.cfg.Method {
	case MethodIQR:
		return v < fs.LowerBound || v > fs.UpperBound
	case MethodModifiedZScore:
		return madScale*ratio(math.Abs(v-fs.Median), fs.MAD) > d.cfg.Threshold
	}
	return ratio(math.Abs(v-fs.Mean), fs.Std) > d.cfg.Threshold
}

func (d *Detector) rawScores(matrix [][]float64) []float64 {
	out := make([]float64, len(matrix))
	for i, row := range matrix {
		var maxScore float64
		for _, col := range d.cfg.Columns {
			idx, _ := features.Index(col)
			maxScore = math.Max(maxScore, d.score(d.stats[col], row[idx]))
		}
		out[i] = maxScore
	}
	return out
}

func (d *Detector) score(fs FeatureStats, v float64) float64 {
	switch d.cfg.Method {
	case MethodIQR:
		dist := math.Max(math.Max(fs.LowerBound-v, v-fs.UpperBound), 0)
		if fs.IQR <= 0 {
			return 0
		}
		return math.Min(dist/fs.IQR, 1)
	case MethodModifiedZScore:
		return math.Min(madScale*ratio(math.Abs(v-fs.Median), fs.MAD)/d.cfg.Threshold, 1)
	}
	return math.Min(ratio(math.Abs(v-fs.Mean), fs.Std)/d.cfg.Threshold, 1)
}

// ratio divides a non-negative distance by a dispersion. Zero dispersion
// makes any non-zero distance infinitely far.
func ratio(dist, dispersion float64) float64 {
	if dispersion == 0 {
		if dist == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return dist / dispersion
}

type state struct {
	Kind       detectors.Kind
	Config     Config
	Statistics map[string]FeatureStats
}

// Save serializes the fitted statistics.
func (d *Detector) Save() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.trained {
		return nil, detectors.NotTrained(d.Kind())
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state{Kind: d.Kind(), Config: d.cfg, Statistics: d.stats}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes fitted statistics. Nothing is modified on failure.
func (d *Detector) Load(data []byte) error {
	var st state
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return detectors.Corrupt("decode statistical detector", err)
	}
	if st.Kind != detectors.KindStatistical {
		return detectors.Corrupt("strategy tag "+string(st.Kind)+" is not "+string(detectors.KindStatistical), nil)
	}
	if err := st.Config.Validate(); err != nil {
		return detectors.Corrupt("invalid hyperparameters", err)
	}
	for _, col := range st.Config.Columns {
		if _, ok := st.Statistics[col]; !ok {
			return detectors.Corrupt("missing statistics for "+col, nil)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = st.Config
	d.stats = st.Statistics
	d.trained = true
	return nil
}
