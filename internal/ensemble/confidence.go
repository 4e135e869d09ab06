package ensemble

import (
	"math"

	"github.com/lox/yieldwise/internal/stats"
)

// meanEpsilon is the magnitude below which the ensemble mean is treated as zero.
const meanEpsilon = 1e-9

// Confidence turns per-tree estimates into an agreement score in [0, 1]:
// 1 - min(CV, 1), where CV is the coefficient of variation. A mean at or near
// zero makes CV undefined and scores 0.
func Confidence(perTree []float64) float64 {
	if len(perTree) == 0 {
		return 0
	}
	mean := stats.Mean(perTree)
	if math.IsNaN(mean) || math.Abs(mean) <= meanEpsilon {
		return 0
	}
	cv := stats.PopulationStd(perTree) / math.Abs(mean)
	if math.IsNaN(cv) {
		return 0
	}
	c := 1 - math.Min(cv, 1)
	return math.Max(0, math.Min(1, c))
}
