// Package iforest implements the density-partitioning detector: an
// Isolation Forest over standardized reading features.
package iforest

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hed1ad/vitalguard/pkg/detectors"
	"github.com/hed1ad/vitalguard/pkg/features"
	"github.com/hed1ad/vitalguard/pkg/stats"
)

var log = logrus.WithField("component", "detectors.IForest")

// eulerGamma is the Euler-Mascheroni constant.
const eulerGamma = 0.5772156649015329

// Config holds the forest hyperparameters.
type Config struct {
	// Trees is the number of isolation trees.
	Trees int `mapstructure:"n_estimators"`
	// SampleSize is the subsample drawn for each tree, capped by the
	// number of training rows.
	SampleSize int `mapstructure:"max_samples"`
	// Contamination is the expected fraction of anomalies; it places the
	// decision threshold.
	Contamination float64 `mapstructure:"contamination"`
	// Seed makes training deterministic.
	Seed int64 `mapstructure:"random_state"`
}

// DefaultConfig returns the default forest configuration.
func DefaultConfig() Config {
	return Config{
		Trees:         100,
		SampleSize:    256,
		Contamination: 0.1,
		Seed:          42,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Trees <= 0 {
		return detectors.Configuration("n_estimators", "must be positive, got %d", c.Trees)
	}
	if c.SampleSize <= 0 {
		return detectors.Configuration("max_samples", "must be positive, got %d", c.SampleSize)
	}
	if c.Contamination <= 0 || c.Contamination > 0.5 {
		return detectors.Configuration("contamination", "must be in (0, 0.5], got %g", c.Contamination)
	}
	return nil
}

// IsolationForest isolates readings with random axis-aligned splits. Rows
// that are separated in fewer splits than the forest average are anomalous.
type IsolationForest struct {
	mu sync.RWMutex

	cfg Config

	// Trained model
	scaler        *features.Scaler
	trees         []*Tree
	avgPathLength float64
	threshold     float64
	trained       bool
}

// Tree is a single isolation tree.
type Tree struct {
	Root *Node
}

// Node is an internal split or, when both children are nil, a leaf holding
// the number of training rows that reached it.
type Node struct {
	Feature int
	Split   float64
	Left    *Node
	Right   *Node
	Size    int
}

// Option configures an IsolationForest.
type Option func(*Config)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(c *Config) {
		c.Trees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(c *Config) {
		c.SampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(v float64) Option {
	return func(c *Config) {
		c.Contamination = v
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(c *Config) {
		c.Seed = seed
	}
}

// New creates an untrained forest from the default configuration and opts.
func New(opts ...Option) (*IsolationForest, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates an untrained forest from an explicit configuration.
func NewWithConfig(cfg Config) (*IsolationForest, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &IsolationForest{cfg: cfg}, nil
}

func init() {
	detectors.Register(detectors.KindDensity, func(params map[string]interface{}) (detectors.Strategy, error) {
		cfg := DefaultConfig()
		if err := detectors.DecodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewWithConfig(cfg)
	}, "isolation_forest", "iforest")
}

// Kind implements detectors.Detector.
func (f *IsolationForest) Kind() detectors.Kind { return detectors.KindDensity }

// Config returns the hyperparameters.
func (f *IsolationForest) Config() Config {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg
}

// Trained implements detectors.Detector.
func (f *IsolationForest) Trained() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.trained
}

// Train fits the scaler and grows the forest. The random source is reseeded
// on every call so identical inputs always give identical forests.
func (f *IsolationForest) Train(frame *features.Frame) (*detectors.TrainingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	log.Debug("training isolation forest")

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

	nSamples := len(data)
	sampleSize := f.cfg.SampleSize
	if sampleSize > nSamples {
		sampleSize = nSamples
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))
	rng := rand.New(rand.NewSource(f.cfg.Seed))

	trees := make([]*Tree, f.cfg.Trees)
	for i := range trees {
		// Sample without replacement
		indices := rng.Perm(nSamples)[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = data[idx]
		}
		trees[i] = &Tree{Root: buildNode(rng, sample, features.Width, 0, maxDepth)}
	}

	f.scaler = scaler
	f.trees = trees
	f.avgPathLength = averagePathLength(float64(sampleSize))

	scores := f.scores(data)
	f.threshold = stats.Quantile(scores, 1-f.cfg.Contamination)
	f.trained = true

	predictions := f.labels(scores)
	res := detectors.NewTrainingResult(f.Kind(), predictions, map[string]interface{}{
		"contamination_setting": f.cfg.Contamination,
		"n_estimators":          f.cfg.Trees,
		"max_samples":           sampleSize,
		"random_state":          f.cfg.Seed,
	})
	log.WithFields(logrus.Fields{
		"samples":   res.TotalSamples,
		"anomalies": res.AnomaliesDetected,
	}).Info("isolation forest training completed")
	return res, nil
}

func buildNode(rng *rand.Rand, data [][]float64, nFeatures, depth, maxDepth int) *Node {
	n := len(data)

	// Terminal conditions
	if depth >= maxDepth || n <= 1 {
		return &Node{Size: n}
	}

	feature := rng.Intn(nFeatures)

	minVal, maxVal := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < minVal {
			minVal = row[feature]
		}
		if row[feature] > maxVal {
			maxVal = row[feature]
		}
	}

	// A constant feature cannot isolate anything here.
	if minVal == maxVal {
		return &Node{Size: n}
	}

	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}

	return &Node{
		Feature: feature,
		Split:   splitValue,
		Left:    buildNode(rng, leftData, nFeatures, depth+1, maxDepth),
		Right:   buildNode(rng, rightData, nFeatures, depth+1, maxDepth),
	}
}

// Predict implements detectors.Detector.
func (f *IsolationForest) Predict(frame *features.Frame) ([]int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	scores, err := f.score(frame)
	if err != nil {
		return nil, err
	}
	return f.labels(scores), nil
}

// PredictProba returns sigmoid(threshold - score): above 0.5 for rows the
// forest considers normal.
func (f *IsolationForest) PredictProba(frame *features.Frame) ([]float64, error) {
	decision, err := f.DecisionFunction(frame)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(decision))
	for i, d := range decision {
		out[i] = stats.Sigmoid(d)
	}
	return out, nil
}

// DecisionFunction returns threshold - score per row. Negative values are
// anomalies.
func (f *IsolationForest) DecisionFunction(frame *features.Frame) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	scores, err := f.score(frame)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = f.threshold - s
	}
	return out, nil
}

// AnomalyScores returns the raw isolation score 2^(-E[h(x)]/c(n)) per row,
// in [0, 1] with higher values more anomalous.
func (f *IsolationForest) AnomalyScores(frame *features.Frame) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.score(frame)
}

func (f *IsolationForest) score(frame *features.Frame) ([]float64, error) {
	if !f.trained {
		return nil, detectors.NotTrained(f.Kind())
	}
	data, err := f.scaler.Apply(frame)
	if err != nil {
		return nil, err
	}
	return f.scores(data), nil
}

func (f *IsolationForest) scores(data [][]float64) []float64 {
	scores := make([]float64, len(data))
	for i, sample := range data {
		scores[i] = f.scoreOne(sample)
	}
	return scores
}

func (f *IsolationForest) scoreOne(sample []float64) float64 {
	var totalPath float64
	for _, tree := range f.trees {
		totalPath += pathLength(sample, tree.Root, 0)
	}
	avgPath := totalPath / float64(len(f.trees))
	if f.avgPathLength == 0 {
		return 0.5
	}
	return math.Pow(2, -avgPath/f.avgPathLength)
}

func (f *IsolationForest) labels(scores []float64) []int {
	out := make([]int, len(scores))
	for i, s := range scores {
		out[i] = detectors.Label(s > f.threshold)
	}
	return out
}

// Threshold returns the fitted anomaly score threshold.
func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.threshold
}

// pathLength calculates the path length for a sample in a tree.
func pathLength(sample []float64, n *Node, currentDepth int) float64 {
	if n == nil {
		return float64(currentDepth)
	}
	if n.Left == nil && n.Right == nil {
		// Leaf node: add expected path length for remaining isolation
		return float64(currentDepth) + averagePathLength(float64(n.Size))
	}

	if sample[n.Feature] < n.Split {
		return pathLength(sample, n.Left, currentDepth+1)
	}
	return pathLength(sample, n.Right, currentDepth+1)
}

// averagePathLength returns the average path length of an unsuccessful
// search in a binary search tree of n nodes: c(n) = 2H(n-1) - 2(n-1)/n.
func averagePathLength(n float64) float64 {
	switch {
	case n <= 1:
		return 0
	case n <= 2:
		return 1
	}
	return 2*(math.Log(n-1)+eulerGamma) - 2*(n-1)/n
}

type state struct {
	Kind          detectors.Kind
	Config        Config
	Scaler        features.Scaler
	Trees         []*Tree
	AvgPathLength float64
	Threshold     float64
}

// Save serializes the trained model.
func (f *IsolationForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.NotTrained(f.Kind())
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(state{
		Kind:          f.Kind(),
		Config:        f.cfg,
		Scaler:        *f.scaler,
		Trees:         f.trees,
		AvgPathLength: f.avgPathLength,
		Threshold:     f.threshold,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model. Nothing is modified on failure.
func (f *IsolationForest) Load(data []byte) error {
	var st state
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return detectors.Corrupt("decode isolation forest", err)
	}
	if st.Kind != detectors.KindDensity {
		return detectors.Corrupt("strategy tag "+string(st.Kind)+" is not "+string(detectors.KindDensity), nil)
	}
	if err := st.Config.Validate(); err != nil {
		return detectors.Corrupt("invalid hyperparameters", err)
	}
	if len(st.Trees) == 0 || len(st.Scaler.Mean) != features.Width || len(st.Scaler.Scale) != features.Width {
		return detectors.Corrupt("isolation forest state is incomplete", nil)
	}
	for _, t := range st.Trees {
		if t == nil || t.Root == nil {
			return detectors.Corrupt("isolation forest has an empty tree", nil)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = st.Config
	f.scaler = &st.Scaler
	f.trees = st.Trees
	f.avgPathLength = st.AvgPathLength
	f.threshold = st.Threshold
	f.trained = true
	return nil
}
