package ensemble

import (
	"errors"

	"github.com/lox/yieldwise/internal/features"
	"github.com/lox/yieldwise/internal/stats"
)

// ErrUntrained is returned when a model component is used before it has been
// fitted or loaded.
var ErrUntrained = errors.New("model is not trained")

// Standardizer rescales each dimension to zero mean and unit variance using
// statistics learned from a training corpus.
type Standardizer struct {
	Mean   features.Vector
	Scale  features.Vector
	Fitted bool
}

// Fit learns per-dimension mean and population standard deviation. A
// dimension that is constant across the corpus gets scale 0.
func (s *Standardizer) Fit(rows []features.Vector) error {
	if len(rows) == 0 {
		return errors.New("standardizer: no rows to fit")
	}
	col := make([]float64, len(rows))
	for d := 0; d < features.Len; d++ {
		constant := true
		for i, r := range rows {
			col[i] = r[d]
			if r[d] != rows[0][d] {
				constant = false
			}
		}
		s.Mean[d] = stats.Mean(col)
		if constant {
			s.Scale[d] = 0
		} else {
			s.Scale[d] = stats.PopulationStd(col)
		}
	}
	s.Fitted = true
	return nil
}

// Transform returns (x - mean) / scale per dimension, or 0 where the scale is 0.
func (s *Standardizer) Transform(v features.Vector) (features.Vector, error) {
	var out features.Vector
	if !s.Fitted {
		return out, ErrUntrained
	}
	for d := range v {
		if s.Scale[d] == 0 {
			continue
		}
		out[d] = (v[d] - s.Mean[d]) / s.Scale[d]
	}
	return out, nil
}
