package statistical

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/vitalguard/pkg/detectors"
	"github.com/hed1ad/vitalguard/pkg/features"
	"github.com/hed1ad/vitalguard/pkg/features/synthetic"
)

func vitals(hr ...float64) *features.Frame {
	spo2 := make([]float64, len(hr))
	for i := range spo2 {
		spo2[i] = 98
	}
	return &features.Frame{HeartRate: hr, BloodOxygen: spo2}
}

func fitted(t *testing.T, method string, fs FeatureStats) *Detector {
	t.Helper()
	d, err := New(WithMethod(method), WithColumns(features.ColHeartRate))
	require.NoError(t, err)
	d.stats = map[string]FeatureStats{features.ColHeartRate: fs}
	d.trained = true
	return d
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		method  string
		wantErr bool
	}{
		{name: "defaults", cfg: DefaultConfig(), method: MethodZScore},
		{name: "dashed method", cfg: Config{Method: "Modified-Z-Score", Threshold: 3.5, Columns: []string{"heart_rate"}}, method: MethodModifiedZScore},
		{name: "derived feature", cfg: Config{Method: "iqr", Threshold: 1, Columns: []string{"hour_of_day"}}, method: MethodIQR},
		{name: "unknown method", cfg: Config{Method: "grubbs", Threshold: 3, Columns: []string{"heart_rate"}}, wantErr: true},
		{name: "zero threshold", cfg: Config{Method: "z_score", Columns: []string{"heart_rate"}}, wantErr: true},
		{name: "no columns", cfg: Config{Method: "z_score", Threshold: 3}, wantErr: true},
		{name: "unknown column", cfg: Config{Method: "z_score", Threshold: 3, Columns: []string{"temperature"}}, wantErr: true},
		{name: "duplicate column", cfg: Config{Method: "z_score", Threshold: 3, Columns: []string{"heart_rate", "heart_rate"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.True(t, detectors.IsConfigurationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.method, tt.cfg.Method)
		})
	}
}

func TestZScoreBoundary(t *testing.T) {
	d := fitted(t, MethodZScore, FeatureStats{Mean: 70, Std: 10})

	preds, err := d.Predict(vitals(100, 100.01, 40, 70))
	require.NoError(t, err)
	assert.Equal(t, []int{detectors.Normal, detectors.Anomaly, detectors.Normal, detectors.Normal}, preds)

	scores, err := d.AnomalyScores(vitals(85, 70, 130))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0, 1}, scores, 1e-9)
}

func TestIQRBoundary(t *testing.T) {
	d := fitted(t, MethodIQR, FeatureStats{Q1: 60, Q3: 100, IQR: 40, LowerBound: 0, UpperBound: 160})

	preds, err := d.Predict(vitals(160, 161, 0, -1))
	require.NoError(t, err)
	assert.Equal(t, []int{detectors.Normal, detectors.Anomaly, detectors.Normal, detectors.Anomaly}, preds)

	scores, err := d.AnomalyScores(vitals(180, 80, 300))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 0, 1}, scores, 1e-9)
}

func TestModifiedZScore(t *testing.T) {
	d := fitted(t, MethodModifiedZScore, FeatureStats{Median: 70, MAD: 5})
	d.cfg.Threshold = 3.5

	// 0.6745 * 26 / 5 = 3.507
	preds, err := d.Predict(vitals(96, 95, 44))
	require.NoError(t, err)
	assert.Equal(t, []int{detectors.Anomaly, detectors.Normal, detectors.Anomaly}, preds)
}

func TestZeroDispersion(t *testing.T) {
	for _, method := range []string{MethodZScore, MethodModifiedZScore, MethodIQR} {
		t.Run(method, func(t *testing.T) {
			d, err := New(WithMethod(method), WithColumns(features.ColHeartRate))
			require.NoError(t, err)

			_, err = d.Train(vitals(70, 70, 70, 70))
			require.NoError(t, err)

			preds, err := d.Predict(vitals(70, 71))
			require.NoError(t, err)
			assert.Equal(t, []int{detectors.Normal, detectors.Anomaly}, preds)

			proba, err := d.PredictProba(vitals(70, 71))
			require.NoError(t, err)
			for _, p := range proba {
				assert.False(t, math.IsNaN(p))
				assert.GreaterOrEqual(t, p, 0.0)
				assert.LessOrEqual(t, p, 1.0)
			}
		})
	}
}

func TestTrainUsesObservedValues(t *testing.T) {
	d, err := New(WithColumns(features.ColHeartRate))
	require.NoError(t, err)

	_, err = d.Train(vitals(60, math.NaN(), 80))
	require.NoError(t, err)

	fs := d.Statistics()[features.ColHeartRate]
	assert.InDelta(t, 70, fs.Mean, 1e-9)
	assert.InDelta(t, math.Sqrt(200), fs.Std, 1e-9)
}

func TestTrainAndPredict(t *testing.T) {
	frame := synthetic.Frame(42, 950, 50)

	for _, method := range []string{MethodZScore, MethodIQR, MethodModifiedZScore} {
		t.Run(method, func(t *testing.T) {
			d, err := New(WithMethod(method))
			require.NoError(t, err)

			res, err := d.Train(frame)
			require.NoError(t, err)
			assert.Equal(t, detectors.KindStatistical, res.ModelType)
			assert.Equal(t, 1000, res.TotalSamples)
			assert.Equal(t, method, res.Settings["method"])
			assert.Contains(t, res.Settings, "statistics")

			outliers := synthetic.Outliers(rand.New(rand.NewSource(99)), 10)
			preds, err := d.Predict(features.FromReadings(outliers))
			require.NoError(t, err)
			for i, p := range preds {
				// Low outliers sit close to the z-score threshold.
				if method == MethodZScore && outliers[i].HeartRate < 100 {
					continue
				}
				assert.Equal(t, detectors.Anomaly, p, "outlier %d", i)
			}

			proba, err := d.PredictProba(frame)
			require.NoError(t, err)
			scores, err := d.AnomalyScores(frame)
			require.NoError(t, err)
			require.Len(t, proba, 1000)
			for i := range proba {
				assert.InDelta(t, 1-scores[i], proba[i], 1e-12)
				assert.GreaterOrEqual(t, proba[i], 0.0)
				assert.LessOrEqual(t, proba[i], 1.0)
			}
		})
	}
}

func TestPredictUntrained(t *testing.T) {
	d, err := New()
	require.NoError(t, err)

	_, err = d.Predict(vitals(70))
	assert.True(t, detectors.IsNotTrained(err))
	_, err = d.PredictProba(vitals(70))
	assert.True(t, detectors.IsNotTrained(err))
	_, err = d.Save()
	assert.True(t, detectors.IsNotTrained(err))
}

func TestPredictMissingColumn(t *testing.T) {
	d := fitted(t, MethodZScore, FeatureStats{Mean: 70, Std: 10})
	_, err := d.Predict(&features.Frame{HeartRate: []float64{70}})
	assert.True(t, detectors.IsFeatureError(err))
}

func TestSaveLoad(t *testing.T) {
	frame := synthetic.Frame(7, 300, 15)
	d, err := New(WithMethod(MethodIQR))
	require.NoError(t, err)
	_, err = d.Train(frame)
	require.NoError(t, err)

	data, err := d.Save()
	require.NoError(t, err)

	restored, err := New()
	require.NoError(t, err)
	require.NoError(t, restored.Load(data))
	assert.True(t, restored.Trained())
	assert.Equal(t, MethodIQR, restored.Config().Method)
	assert.Equal(t, d.Statistics(), restored.Statistics())

	want, err := d.PredictProba(frame)
	require.NoError(t, err)
	got, err := restored.PredictProba(frame)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	blank, err := New()
	require.NoError(t, err)
	err = blank.Load(data[:len(data)/2])
	assert.True(t, detectors.IsCorruptArtifact(err))
	assert.False(t, blank.Trained())
}

func TestFactory(t *testing.T) {
	s, err := detectors.New("statistical", map[string]interface{}{
		"method":    "modified-z-score",
		"threshold": "3.5",
	})
	require.NoError(t, err)
	d, ok := s.(*Detector)
	require.True(t, ok)
	assert.Equal(t, MethodModifiedZScore, d.Config().Method)
	assert.Equal(t, 3.5, d.Config().Threshold)

	s, err = detectors.New("statistical", map[string]interface{}{"columns": []string{"blood_oxygen"}})
	require.NoError(t, err)
	assert.Equal(t, []string{features.ColBloodOxygen}, s.(*Detector).Config().Columns)

	_, err = detectors.New("statistical", map[string]interface{}{"window": 10})
	assert.True(t, detectors.IsConfigurationError(err))
}
