package ensemble

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/yieldwise/internal/features"
)

// corpus builds a synthetic season set where yield rises with temperature and
// rainfall and falls with acidity.
func corpus(n int) ([]features.Vector, []float64) {
	x := make([]features.Vector, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		var v features.Vector
		v[features.FieldArea] = 5 + float64(i%7)
		v[features.SoilPH] = 5.5 + float64(i%5)*0.4
		v[features.SoilNitrogen] = 0.1 * float64(i%3)
		v[features.AvgTemperature] = 12 + float64(i%13)
		v[features.TotalRainfall] = 80 + float64((i*37)%220)
		v[features.AvgHumidity] = 55 + float64(i%11)
		x[i] = v
		y[i] = 1.5 + 0.15*v[features.AvgTemperature] + 0.01*v[features.TotalRainfall] - 0.2*math.Abs(v[features.SoilPH]-6.5)
	}
	return x, y
}

func TestStandardizer(t *testing.T) {
	rows := []features.Vector{{}, {}, {}}
	for i, v := range []float64{2, 4, 6} {
		rows[i][features.FieldArea] = v
		rows[i][features.SoilPH] = 7
	}

	var s Standardizer
	_, err := s.Transform(rows[0])
	require.ErrorIs(t, err, ErrUntrained)

	require.NoError(t, s.Fit(rows))
	assert.Equal(t, 4.0, s.Mean[features.FieldArea])
	assert.InDelta(t, math.Sqrt(8.0/3.0), s.Scale[features.FieldArea], 1e-12)
	assert.Equal(t, 0.0, s.Scale[features.SoilPH])

	out, err := s.Transform(rows[2])
	require.NoError(t, err)
	assert.InDelta(t, 2/math.Sqrt(8.0/3.0), out[features.FieldArea], 1e-12)
	assert.Equal(t, 0.0, out[features.SoilPH], "constant dimension must map to 0")

	var probe features.Vector
	probe[features.SoilPH] = 4.5
	out, err = s.Transform(probe)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out[features.SoilPH])
	for i, v := range out {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "dimension %d not finite", i)
	}

	assert.Error(t, new(Standardizer).Fit(nil))
}

func TestTree_FitsStepFunction(t *testing.T) {
	x := make([]features.Vector, 6)
	y := []float64{1, 1, 1, 9, 9, 9}
	idx := make([]int, len(x))
	for i := range x {
		x[i][features.AvgTemperature] = float64(i)
		idx[i] = i
	}
	params := treeParams{maxDepth: 5, minSplit: 2, minLeaf: 1, maxFeatures: features.Len}
	tree := growTree(x, y, idx, params, nil)

	require.Len(t, tree.Nodes, 3)
	assert.Equal(t, int(features.AvgTemperature), tree.Nodes[0].Feature)
	assert.Equal(t, 2.5, tree.Nodes[0].Threshold)
	assert.Equal(t, 1, tree.Depth())

	var probe features.Vector
	probe[features.AvgTemperature] = 0.5
	assert.Equal(t, 1.0, tree.Predict(probe))
	probe[features.AvgTemperature] = 4
	assert.Equal(t, 9.0, tree.Predict(probe))
}

func TestTree_RespectsMaxDepth(t *testing.T) {
	x, y := corpus(200)
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	params := treeParams{maxDepth: 3, minSplit: 2, minLeaf: 1, maxFeatures: features.Len}
	tree := growTree(x, y, idx, params, nil)
	assert.LessOrEqual(t, tree.Depth(), 3)
	assert.LessOrEqual(t, len(tree.Nodes), 15)
}

func TestTrain_Deterministic(t *testing.T) {
	x, y := corpus(120)
	cfg := DefaultConfig()
	cfg.Trees = 25

	cfg.Workers = 1
	serial, err := Train(context.Background(), cfg, x, y)
	require.NoError(t, err)

	cfg.Workers = 8
	parallel, err := Train(context.Background(), cfg, x, y)
	require.NoError(t, err)

	require.Len(t, parallel.Trees, 25)
	assert.Equal(t, serial.Trees, parallel.Trees)

	probe := x[17]
	a, perA := serial.Predict(probe)
	b, perB := parallel.Predict(probe)
	assert.Equal(t, a, b)
	assert.Equal(t, perA, perB)

	cfg.Seed = 7
	other, err := Train(context.Background(), cfg, x, y)
	require.NoError(t, err)
	assert.NotEqual(t, serial.Trees, other.Trees)
}

func TestTrain_LearnsSignal(t *testing.T) {
	x, y := corpus(300)
	cfg := DefaultConfig()
	cfg.Trees = 40
	forest, err := Train(context.Background(), cfg, x, y)
	require.NoError(t, err)

	var cool, warm features.Vector
	cool[features.AvgTemperature], cool[features.TotalRainfall], cool[features.SoilPH] = 13, 150, 6.5
	warm[features.AvgTemperature], warm[features.TotalRainfall], warm[features.SoilPH] = 23, 150, 6.5

	coolYield, perTree := forest.Predict(cool)
	warmYield, _ := forest.Predict(warm)
	assert.Len(t, perTree, 40)
	assert.Greater(t, warmYield, coolYield)

	for _, p := range perTree {
		assert.GreaterOrEqual(t, p, 0.0)
	}
}

func TestTrain_Errors(t *testing.T) {
	x, y := corpus(10)

	_, err := Train(context.Background(), DefaultConfig(), nil, nil)
	assert.Error(t, err)

	_, err = Train(context.Background(), DefaultConfig(), x, y[:5])
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.Trees = 0
	_, err = Train(context.Background(), bad, x, y)
	assert.Error(t, err)

	bad = DefaultConfig()
	bad.MinSamplesSplit = 1
	_, err = Train(context.Background(), bad, x, y)
	assert.Error(t, err)
}

func TestTrain_Cancelled(t *testing.T) {
	x, y := corpus(50)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	forest, err := Train(ctx, DefaultConfig(), x, y)
	assert.Nil(t, forest)
	assert.True(t, errors.Is(err, context.Canceled), "err = %v, want context.Canceled", err)
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name    string
		perTree []float64
		want    float64
	}{
		{"unanimous", []float64{4, 4, 4}, 1},
		{"cv one half", []float64{1, 3}, 0.5},
		{"cv above one clamps to zero", []float64{0.1, 10, 0.1, 0.1}, 0},
		{"zero mean", []float64{-2, 2}, 0},
		{"all zero", []float64{0, 0, 0}, 0},
		{"near zero mean", []float64{1e-12, -1e-12, 1e-12}, 0},
		{"empty", nil, 0},
		{"negative mean uses magnitude", []float64{-1, -3}, 0.5},
		{"nan member", []float64{1, math.NaN()}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Confidence(tt.perTree)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}
