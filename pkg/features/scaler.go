package features

import (
	"github.com/pkg/errors"

	"github.com/hed1ad/vitalguard/pkg/stats"
)

// Scaler standardizes each feature to zero mean and unit variance. It is
// fitted once at training time and then frozen.
type Scaler struct {
	Mean  []float64
	Scale []float64
}

// FitScaler computes per-feature mean and population standard deviation.
// Constant features get a scale of 1.
func FitScaler(matrix [][]float64) (*Scaler, error) {
	if len(matrix) == 0 {
		return nil, errors.New("cannot fit scaler on empty matrix")
	}
	width := len(matrix[0])
	s := &Scaler{
		Mean:  make([]float64, width),
		Scale: make([]float64, width),
	}
	for j := 0; j < width; j++ {
		col := Column(matrix, j)
		mean, _ := stats.Mean(col)
		std := stats.PopStdDev(col)
		if std < 1e-12 {
			std = 1
		}
		s.Mean[j] = mean
		s.Scale[j] = std
	}
	return s, nil
}

// Transform returns a standardized copy of matrix.
func (s *Scaler) Transform(matrix [][]float64) ([][]float64, error) {
	out := make([][]float64, len(matrix))
	for i, row := range matrix {
		if len(row) != len(s.Mean) {
			return nil, errors.Errorf("row %d has %d features, scaler expects %d", i, len(row), len(s.Mean))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = scaled
	}
	return out, nil
}

// Apply prepares a table and standardizes it with the frozen parameters.
func (s *Scaler) Apply(f *Frame) ([][]float64, error) {
	matrix, err := Prepare(f)
	if err != nil {
		return nil, err
	}
	return s.Transform(matrix)
}
