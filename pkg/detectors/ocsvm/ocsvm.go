// Package ocsvm implements the boundary-margin detector: a one-class
// support vector machine that encloses the bulk of the training readings
// in a kernel-induced feature space.
package ocsvm

import (
	"bytes"
	"encoding/gob"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hed1ad/vitalguard/pkg/detectors"
	"github.com/hed1ad/vitalguard/pkg/features"
	"github.com/hed1ad/vitalguard/pkg/stats"
)

var log = logrus.WithField("component", "detectors.OCSVM")

// Config holds the one-class SVM hyperparameters.
type Config struct {
	Kernel string `mapstructure:"kernel"`
	// Gamma is "scale", "auto" or a positive number.
	Gamma  string  `mapstructure:"gamma"`
	Degree int     `mapstructure:"degree"`
	Coef0  float64 `mapstructure:"coef0"`
	// Nu bounds the fraction of training anomalies. Zero means use
	// Contamination.
	Nu            float64 `mapstructure:"nu"`
	Contamination float64 `mapstructure:"contamination"`
	Tol           float64 `mapstructure:"tol"`
	// MaxIter caps solver iterations; zero picks max(1e6, 100·rows).
	MaxIter int `mapstructure:"max_iter"`
}

// DefaultConfig returns the default configuration: RBF kernel with gamma
// derived from feature variance.
func DefaultConfig() Config {
	return Config{
		Kernel:        KernelRBF,
		Gamma:         GammaScale,
		Degree:        3,
		Coef0:         0,
		Contamination: 0.1,
		Tol:           1e-3,
	}
}

// EffectiveNu returns Nu, or Contamination when Nu is unset.
func (c Config) EffectiveNu() float64 {
	if c.Nu > 0 {
		return c.Nu
	}
	return c.Contamination
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Kernel {
	case KernelRBF, KernelLinear, KernelPoly, KernelSigmoid:
	default:
		return detectors.Configuration("kernel", "unknown kernel %q", c.Kernel)
	}
	if c.Gamma != GammaScale && c.Gamma != GammaAuto {
		v, err := strconv.ParseFloat(c.Gamma, 64)
		if err != nil || v <= 0 {
			return detectors.Configuration("gamma", "must be %q, %q or a positive number, got %q", GammaScale, GammaAuto, c.Gamma)
		}
	}
	if c.Kernel == KernelPoly && c.Degree < 1 {
		return detectors.Configuration("degree", "must be at least 1, got %d", c.Degree)
	}
	if c.Nu < 0 {
		return detectors.Configuration("nu", "must not be negative, got %g", c.Nu)
	}
	if nu := c.EffectiveNu(); nu <= 0 || nu > 1 {
		return detectors.Configuration("nu", "must be in (0, 1], got %g", nu)
	}
	if c.Tol <= 0 {
		return detectors.Configuration("tol", "must be positive, got %g", c.Tol)
	}
	if c.MaxIter < 0 {
		return detectors.Configuration("max_iter", "must not be negative, got %d", c.MaxIter)
	}
	return nil
}

// Option configures a OneClassSVM.
type Option func(*Config)

// WithKernel sets the kernel family.
func WithKernel(kernel string) Option {
	return func(c *Config) { c.Kernel = kernel }
}

// WithGamma sets the bandwidth mode or an explicit value.
func WithGamma(gamma string) Option {
	return func(c *Config) { c.Gamma = gamma }
}

// WithNu sets the upper bound on the training anomaly fraction.
func WithNu(nu float64) Option {
	return func(c *Config) { c.Nu = nu }
}

// WithContamination sets the expected proportion of anomalies, used as nu
// when nu is unset.
func WithContamination(v float64) Option {
	return func(c *Config) { c.Contamination = v }
}

// OneClassSVM separates the training readings from the origin with maximum
// margin. Rows falling outside the learned boundary are anomalous.
type OneClassSVM struct {
	mu sync.RWMutex

	cfg Config

	scaler  *features.Scaler
	model   *model
	trained bool
}

type model struct {
	Kernel         kernel
	SupportVectors [][]float64
	Coef           []float64
	Rho            float64
}

// New creates an untrained detector from the default configuration and opts.
func New(opts ...Option) (*OneClassSVM, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates an untrained detector from an explicit configuration.
func NewWithConfig(cfg Config) (*OneClassSVM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &OneClassSVM{cfg: cfg}, nil
}

func init() {
	detectors.Register(detectors.KindBoundary, func(params map[string]interface{}) (detectors.Strategy, error) {
		cfg := DefaultConfig()
		if err := detectors.DecodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewWithConfig(cfg)
	}, "one_class_svm", "ocsvm")
}

// Kind implements detectors.Detector.
func (s *OneClassSVM) Kind() detectors.Kind { return detectors.KindBoundary }

// Config returns the hyperparameters.
func (s *OneClassSVM) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Trained implements detectors.Detector.
func (s *OneClassSVM) Trained() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trained
}

// Train fits the scaler and solves the one-class dual problem.
func (s *OneClassSVM) Train(frame *features.Frame) (*detectors.TrainingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Debug("training one-class SVM")

	matrix, err := features.Prepare(frame)
	if err != nil {
		return nil, err
	}
	if len(matrix) == 0 {
		return nil, &detectors.FeatureError{Reason: "empty training table"}
	}
	scaler, err := features.FitScaler(matrix)
	if err != nil {
		return nil, err
	}
	data, err := scaler.Transform(matrix)
	if err != nil {
		return nil, err
	}

	k := kernel{
		Family: s.cfg.Kernel,
		Gamma:  s.gamma(data),
		Degree: s.cfg.Degree,
		Coef0:  s.cfg.Coef0,
	}
	maxIter := s.cfg.MaxIter
	if maxIter == 0 {
		maxIter = 100 * len(data)
		if maxIter < 1000000 {
			maxIter = 1000000
		}
	}
	sol := solve(newGram(k, data), s.cfg.EffectiveNu(), s.cfg.Tol, maxIter)
	if !sol.converged {
		log.WithField("iterations", sol.iterations).Warn("solver reached max_iter before converging")
	}

	m := &model{Kernel: k, Rho: sol.rho}
	for i, a := range sol.alpha {
		if a > 0 {
			m.SupportVectors = append(m.SupportVectors, data[i])
			m.Coef = append(m.Coef, a)
		}
	}

	s.scaler = scaler
	s.model = m
	s.trained = true

	predictions := make([]int, len(data))
	for i, x := range data {
		predictions[i] = detectors.Label(m.decision(x) <= 0)
	}
	res := detectors.NewTrainingResult(s.Kind(), predictions, map[string]interface{}{
		"nu_setting":      s.cfg.EffectiveNu(),
		"kernel":          k.Family,
		"gamma":           k.Gamma,
		"support_vectors": len(m.SupportVectors),
		"iterations":      sol.iterations,
	})
	log.WithFields(logrus.Fields{
		"samples":         res.TotalSamples,
		"anomalies":       res.AnomaliesDetected,
		"support_vectors": len(m.SupportVectors),
	}).Info("one-class SVM training completed")
	return res, nil
}

// gamma resolves the kernel bandwidth. "scale" uses 1/(features·Var(X))
// over every element of the standardized matrix.
func (s *OneClassSVM) gamma(data [][]float64) float64 {
	width := float64(len(data[0]))
	switch s.cfg.Gamma {
	case GammaAuto:
		return 1 / width
	case GammaScale:
		all := make([]float64, 0, len(data)*len(data[0]))
		for _, row := range data {
			all = append(all, row...)
		}
		if v := stats.PopVariance(all); v > 0 {
			return 1 / (width * v)
		}
		return 1
	}
	v, _ := strconv.ParseFloat(s.cfg.Gamma, 64)
	return v
}

func (m *model) decision(x []float64) float64 {
	var sum float64
	for i, sv := range m.SupportVectors {
		sum += m.Coef[i] * m.Kernel.eval(sv, x)
	}
	return sum - m.Rho
}

// Predict implements detectors.Detector. Rows with a non-positive decision
// value are anomalies.
func (s *OneClassSVM) Predict(frame *features.Frame) ([]int, error) {
	decision, err := s.DecisionFunction(frame)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(decision))
	for i, d := range decision {
		out[i] = detectors.Label(d <= 0)
	}
	return out, nil
}

// PredictProba returns the sigmoid of the signed distance to the boundary.
func (s *OneClassSVM) PredictProba(frame *features.Frame) ([]float64, error) {
	decision, err := s.DecisionFunction(frame)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(decision))
	for i, d := range decision {
		out[i] = stats.Sigmoid(d)
	}
	return out, nil
}

// DecisionFunction returns the signed distance to the boundary per row;
// positive inside.
func (s *OneClassSVM) DecisionFunction(frame *features.Frame) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.trained {
		return nil, detectors.NotTrained(s.Kind())
	}
	data, err := s.scaler.Apply(frame)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(data))
	for i, x := range data {
		out[i] = s.model.decision(x)
	}
	return out, nil
}

// SupportVectors returns the number of support vectors in the fitted model.
func (s *OneClassSVM) SupportVectors() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.model == nil {
		return 0
	}
	return len(s.model.SupportVectors)
}

type state struct {
	Kind   detectors.Kind
	Config Config
	Scaler features.Scaler
	Model  model
}

// Save serializes the trained model.
func (s *OneClassSVM) Save() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.trained {
		return nil, detectors.NotTrained(s.Kind())
	}
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(state{
		Kind:   s.Kind(),
		Config: s.cfg,
		Scaler: *s.scaler,
		Model:  *s.model,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model. Nothing is modified on failure.
func (s *OneClassSVM) Load(data []byte) error {
	var st state
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return detectors.Corrupt("decode one-class SVM", err)
	}
	if st.Kind != detectors.KindBoundary {
		return detectors.Corrupt("strategy tag "+string(st.Kind)+" is not "+string(detectors.KindBoundary), nil)
	}
	if err := st.Config.Validate(); err != nil {
		return detectors.Corrupt("invalid hyperparameters", err)
	}
	if len(st.Scaler.Mean) != features.Width || len(st.Scaler.Scale) != features.Width {
		return detectors.Corrupt("scaler width mismatch", nil)
	}
	if len(st.Model.SupportVectors) == 0 || len(st.Model.SupportVectors) != len(st.Model.Coef) {
		return detectors.Corrupt("one-class SVM has no usable support vectors", nil)
	}
	for _, sv := range st.Model.SupportVectors {
		if len(sv) != features.Width {
			return detectors.Corrupt("support vector width mismatch", nil)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = st.Config
	s.scaler = &st.Scaler
	s.model = &st.Model
	s.trained = true
	return nil
}
