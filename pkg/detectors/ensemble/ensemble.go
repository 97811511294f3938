// Package ensemble combines several detectors into one by voting on their
// binary predictions and averaging their scores.
package ensemble

import (
	"bytes"
	"encoding/gob"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hed1ad/vitalguard/pkg/detectors"
	"github.com/hed1ad/vitalguard/pkg/features"
)

var log = logrus.WithField("component", "detectors.Ensemble")

// Voting policies.
const (
	VotingMajority  = "majority"
	VotingUnanimous = "unanimous"
	VotingAny       = "any"
)

// MemberConfig names a member strategy and its hyperparameters.
type MemberConfig struct {
	Method string                 `mapstructure:"method"`
	Params map[string]interface{} `mapstructure:"params"`
}

// Config holds the ensemble composition.
type Config struct {
	Voting  string         `mapstructure:"voting"`
	Members []MemberConfig `mapstructure:"members"`
}

// DefaultConfig is a majority vote over an isolation forest, a one-class
// SVM and a z-score detector.
func DefaultConfig() Config {
	return Config{
		Voting: VotingMajority,
		Members: []MemberConfig{
			{Method: string(detectors.KindDensity)},
			{Method: string(detectors.KindBoundary)},
			{Method: string(detectors.KindStatistical), Params: map[string]interface{}{"method": "z_score"}},
		},
	}
}

func validateVoting(voting string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(voting))
	switch v {
	case VotingMajority, VotingUnanimous, VotingAny:
		return v, nil
	}
	return "", detectors.Configuration("voting", "unknown voting method %q", voting)
}

// Ensemble is an ordered set of member detectors and a voting policy.
type Ensemble struct {
	mu sync.RWMutex

	voting  string
	members []detectors.Detector
}

// Option configures a Config.
type Option func(*Config)

// WithVoting sets the voting policy.
func WithVoting(voting string) Option {
	return func(c *Config) { c.Voting = voting }
}

// WithMembers replaces the member list.
func WithMembers(members ...MemberConfig) Option {
	return func(c *Config) { c.Members = members }
}

// New builds an ensemble from the default configuration and opts. Members
// are constructed through the detector registry.
func New(opts ...Option) (*Ensemble, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds an ensemble from an explicit configuration.
func NewWithConfig(cfg Config) (*Ensemble, error) {
	members := make([]detectors.Detector, 0, len(cfg.Members))
	for _, mc := range cfg.Members {
		d, err := detectors.New(mc.Method, mc.Params)
		if err != nil {
			return nil, err
		}
		if d.Kind() == detectors.KindEnsemble {
			return nil, detectors.Configuration("members", "ensembles cannot be nested")
		}
		members = append(members, d)
	}
	return NewWithMembers(cfg.Voting, members...)
}

// NewWithMembers builds an ensemble from already constructed detectors.
// Members that do not implement detectors.ProbabilityEstimator contribute
// their binary prediction to PredictProba.
func NewWithMembers(voting string, members ...detectors.Detector) (*Ensemble, error) {
	v, err := validateVoting(voting)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, detectors.Configuration("members", "at least one member is required")
	}
	return &Ensemble{
		voting:  v,
		members: append([]detectors.Detector(nil), members...),
	}, nil
}

func init() {
	detectors.Register(detectors.KindEnsemble, func(params map[string]interface{}) (detectors.Strategy, error) {
		cfg := DefaultConfig()
		if err := detectors.DecodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return NewWithConfig(cfg)
	})
}

// Kind implements detectors.Detector.
func (e *Ensemble) Kind() detectors.Kind { return detectors.KindEnsemble }

// Voting returns the voting policy.
func (e *Ensemble) Voting() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.voting
}

// Members returns the member detectors in order.
func (e *Ensemble) Members() []detectors.Detector {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]detectors.Detector(nil), e.members...)
}

// Trained reports whether every member is trained.
func (e *Ensemble) Trained() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trained()
}

func (e *Ensemble) trained() bool {
	for _, m := range e.members {
		if !m.Trained() {
			return false
		}
	}
	return len(e.members) > 0
}

// Train fits every member in order on the same table, then reports the
// ensemble's own anomaly rate on that table. That rate measures training
// fit only.
func (e *Ensemble) Train(frame *features.Frame) (*detectors.TrainingResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	results := make([]*detectors.TrainingResult, 0, len(e.members))
	for i, m := range e.members {
		log.WithFields(logrus.Fields{"member": i, "kind": m.Kind()}).Info("training ensemble member")
		res, err := m.Train(frame)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	predictions, err := e.predict(frame)
	if err != nil {
		return nil, err
	}
	res := detectors.NewTrainingResult(e.Kind(), predictions, map[string]interface{}{
		"voting_method": e.voting,
		"num_detectors": len(e.members),
	})
	res.Settings["training_anomaly_rate"] = res.AnomalyRate
	res.Members = results
	log.WithFields(logrus.Fields{
		"members":   len(e.members),
		"samples":   res.TotalSamples,
		"anomalies": res.AnomaliesDetected,
	}).Info("ensemble training completed")
	return res, nil
}

// Predict implements detectors.Detector.
func (e *Ensemble) Predict(frame *features.Frame) ([]int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.predict(frame)
}

func (e *Ensemble) predict(frame *features.Frame) ([]int, error) {
	votes, err := e.votes(frame)
	if err != nil {
		return nil, err
	}
	return Combine(e.voting, votes)
}

func (e *Ensemble) votes(frame *features.Frame) ([][]int, error) {
	if !e.trained() {
		return nil, detectors.NotTrained(e.Kind())
	}
	votes := make([][]int, len(e.members))
	for i, m := range e.members {
		preds, err := m.Predict(frame)
		if err != nil {
			return nil, err
		}
		votes[i] = preds
	}
	return votes, nil
}

// Combine applies a voting policy to per-member predictions, one slice per
// member. Majority is strict, so ties are normal.
func Combine(voting string, votes [][]int) ([]int, error) {
	v, err := validateVoting(voting)
	if err != nil {
		return nil, err
	}
	if len(votes) == 0 {
		return nil, nil
	}
	n := len(votes[0])
	out := make([]int, n)
	for row := 0; row < n; row++ {
		anomalies := 0
		for _, member := range votes {
			if member[row] == detectors.Anomaly {
				anomalies++
			}
		}
		var anomalous bool
		switch v {
		case VotingMajority:
			anomalous = 2*anomalies > len(votes)
		case VotingUnanimous:
			anomalous = anomalies == len(votes)
		case VotingAny:
			anomalous = anomalies > 0
		}
		out[row] = detectors.Label(anomalous)
	}
	return out, nil
}

// PredictProba averages the members' scores row by row.
func (e *Ensemble) PredictProba(frame *features.Frame) ([]float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.trained() {
		return nil, detectors.NotTrained(e.Kind())
	}
	var sum []float64
	for _, m := range e.members {
		scores, err := memberScores(m, frame)
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = make([]float64, len(scores))
		}
		for i, s := range scores {
			sum[i] += s
		}
	}
	for i := range sum {
		sum[i] /= float64(len(e.members))
	}
	return sum, nil
}

func memberScores(m detectors.Detector, frame *features.Frame) ([]float64, error) {
	if pe, ok := m.(detectors.ProbabilityEstimator); ok {
		return pe.PredictProba(frame)
	}
	preds, err := m.Predict(frame)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(preds))
	for i, p := range preds {
		out[i] = float64(p)
	}
	return out, nil
}

// Agreement is a diagnostic summary of how often members agree.
type Agreement struct {
	DetectorNames []string `json:"detector_names"`
	// Matrix[i][j] is the fraction of rows where members i and j predict
	// the same label.
	Matrix        [][]float64 `json:"agreement_matrix"`
	AnomalyCounts []int       `json:"anomaly_counts"`
	TotalSamples  int         `json:"total_samples"`
}

// Agreement computes the pairwise agreement of the members' predictions.
func (e *Ensemble) Agreement(frame *features.Frame) (*Agreement, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	votes, err := e.votes(frame)
	if err != nil {
		return nil, err
	}

	k := len(votes)
	n := len(votes[0])
	a := &Agreement{
		DetectorNames: make([]string, k),
		Matrix:        make([][]float64, k),
		AnomalyCounts: make([]int, k),
		TotalSamples:  n,
	}
	for i, m := range e.members {
		a.DetectorNames[i] = memberName(m.Kind(), i)
		a.AnomalyCounts[i] = detectors.CountAnomalies(votes[i])
		a.Matrix[i] = make([]float64, k)
	}
	for i := 0; i < k; i++ {
		a.Matrix[i][i] = 1
		for j := i + 1; j < k; j++ {
			same := 0
			for row := 0; row < n; row++ {
				if votes[i][row] == votes[j][row] {
					same++
				}
			}
			frac := 1.0
			if n > 0 {
				frac = float64(same) / float64(n)
			}
			a.Matrix[i][j], a.Matrix[j][i] = frac, frac
		}
	}
	return a, nil
}

func memberName(kind detectors.Kind, i int) string {
	return string(kind) + "_" + strconv.Itoa(i)
}

type memberState struct {
	Kind    detectors.Kind
	Payload []byte
}

type state struct {
	Kind    detectors.Kind
	Voting  string
	Members []memberState
}

// Save serializes the voting policy and every member's own artifact.
func (e *Ensemble) Save() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.trained() {
		return nil, detectors.NotTrained(e.Kind())
	}
	st := state{Kind: e.Kind(), Voting: e.voting, Members: make([]memberState, len(e.members))}
	for i, m := range e.members {
		payload, err := m.Save()
		if err != nil {
			return nil, err
		}
		st.Members[i] = memberState{Kind: m.Kind(), Payload: payload}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load restores members through the detector registry. Nothing is
// modified on failure.
func (e *Ensemble) Load(data []byte) error {
	var st state
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return detectors.Corrupt("decode ensemble", err)
	}
	if st.Kind != detectors.KindEnsemble {
		return detectors.Corrupt("strategy tag "+string(st.Kind)+" is not "+string(detectors.KindEnsemble), nil)
	}
	voting, err := validateVoting(st.Voting)
	if err != nil {
		return detectors.Corrupt("invalid voting policy", err)
	}
	if len(st.Members) == 0 {
		return detectors.Corrupt("ensemble has no members", nil)
	}

	members := make([]detectors.Detector, len(st.Members))
	for i, ms := range st.Members {
		if ms.Kind == detectors.KindEnsemble {
			return detectors.Corrupt("nested ensemble", nil)
		}
		m, err := detectors.New(string(ms.Kind), nil)
		if err != nil {
			return detectors.Corrupt("unknown member strategy "+string(ms.Kind), err)
		}
		if err := m.Load(ms.Payload); err != nil {
			return err
		}
		members[i] = m
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.voting = voting
	e.members = members
	return nil
}
