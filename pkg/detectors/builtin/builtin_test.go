package builtin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/vitalguard/pkg/detectors"
	"github.com/hed1ad/vitalguard/pkg/features"
)

func TestRegistry(t *testing.T) {
	assert.Equal(t, []detectors.Kind{
		detectors.KindBoundary,
		detectors.KindDensity,
		detectors.KindEnsemble,
		detectors.KindStatistical,
	}, detectors.Kinds())
}

func TestFactoryMethods(t *testing.T) {
	tests := []struct {
		method string
		want   detectors.Kind
	}{
		{method: "density-partitioning", want: detectors.KindDensity},
		{method: "isolation_forest", want: detectors.KindDensity},
		{method: "Boundary-Margin", want: detectors.KindBoundary},
		{method: "one_class_svm", want: detectors.KindBoundary},
		{method: "statistical", want: detectors.KindStatistical},
		{method: "ensemble", want: detectors.KindEnsemble},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			d, err := detectors.New(tt.method, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Kind())
			assert.False(t, d.Trained())

			_, err = d.Predict(&features.Frame{HeartRate: []float64{70}, BloodOxygen: []float64{98}})
			assert.True(t, detectors.IsNotTrained(err))
		})
	}

	_, err := detectors.New("autoencoder", nil)
	assert.True(t, detectors.IsConfigurationError(err))
}
