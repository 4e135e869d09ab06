package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lox/yieldwise/internal/advice"
	"github.com/lox/yieldwise/internal/ensemble"
	"github.com/lox/yieldwise/internal/features"
)

var planted = time.Date(2024, 9, 15, 0, 0, 0, 0, time.UTC)

func testConfig() ensemble.Config {
	cfg := ensemble.DefaultConfig()
	cfg.Trees = 20
	return cfg
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(WithConfig(testConfig()), WithLogger(zaptest.NewLogger(t)))
}

func season(base, rain float64, n int) []features.WeatherObservation {
	out := make([]features.WeatherObservation, n)
	for i := range out {
		out[i] = features.WeatherObservation{
			Date:         planted.AddDate(0, 0, 10*(i+1)),
			Temperature:  base + float64(i%3) - 1,
			Humidity:     65 + float64(i%4),
			Rainfall:     rain / float64(n),
			SoilMoisture: 25 + float64(i%5),
		}
	}
	return out
}

func trainingCorpus() []features.Example {
	var out []features.Example
	for i := 0; i < 48; i++ {
		temp := 14 + float64(i%12)
		rain := 60 + float64((i*29)%240)
		ph := 5.4 + float64(i%6)*0.45
		out = append(out, features.Example{
			Input: features.Input{
				CropType:     "maize",
				FieldArea:    4 + float64(i%9),
				PlantingDate: planted,
				Soil: features.SoilProperties{
					PH:            features.Float(ph),
					OrganicMatter: features.Float(1 + float64(i%4)*0.5),
					Nitrogen:      features.Float(0.1 + float64(i%3)*0.05),
				},
				Weather: season(temp, rain, 6),
			},
			ActualYield: 2 + 0.2*temp + 0.008*rain - 0.3*abs(ph-6.5),
		})
	}
	return out
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func query() features.Input {
	return features.Input{
		CropType:     "maize",
		FieldArea:    7,
		PlantingDate: planted,
		Soil: features.SoilProperties{
			PH:            features.Float(5.6),
			OrganicMatter: features.Float(1.5),
			Nitrogen:      features.Float(0.15),
		},
		Weather: season(21, 180, 6),
	}
}

func TestPredict_Untrained(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Predict(query())
	assert.ErrorIs(t, err, ErrUntrained)
	assert.ErrorIs(t, e.Save(filepath.Join(t.TempDir(), "model.bin")), ErrUntrained)
	assert.False(t, e.Status().Trained)
	assert.Nil(t, e.Snapshot())
}

func TestTrain_Validation(t *testing.T) {
	e := newTestEngine(t)

	err := e.Train(context.Background(), nil)
	assert.True(t, IsValidation(err), "err = %v, want validation error", err)

	corpus := trainingCorpus()
	corpus[3].Weather = nil
	err = e.Train(context.Background(), corpus)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "weather_data", verr.Field)
	assert.Contains(t, err.Error(), "example 3")
	assert.False(t, e.Status().Trained)
}

func TestTrainAndPredict(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Train(context.Background(), trainingCorpus()))

	st := e.Status()
	assert.True(t, st.Trained)
	assert.NotEmpty(t, st.ModelID)
	assert.Equal(t, 48, st.Examples)
	assert.Equal(t, 20, st.Trees)

	in := query()
	p, err := e.Predict(in)
	require.NoError(t, err)

	assert.Greater(t, p.PredictedYield, 0.0)
	assert.GreaterOrEqual(t, p.ConfidenceScore, 0.0)
	assert.LessOrEqual(t, p.ConfidenceScore, 1.0)
	assert.Equal(t, st.ModelID, p.ModelID)
	assert.Equal(t, []string{advice.MsgLowPH}, p.Recommendations)

	assert.Equal(t, 7.0, p.FeaturesUsed.FieldArea)
	assert.InDelta(t, 21.0, p.FeaturesUsed.WeatherMetrics.AvgTemperature, 1e-9)
	assert.InDelta(t, 180.0, p.FeaturesUsed.WeatherMetrics.TotalRainfall, 1e-9)
	assert.InDelta(t, 397.0/6, p.FeaturesUsed.WeatherMetrics.AvgHumidity, 1e-9)
	assert.Equal(t, in.Soil, p.FeaturesUsed.SoilProperties)

	_, err = e.Predict(features.Input{FieldArea: 7})
	assert.True(t, IsValidation(err), "err = %v, want validation error", err)
}

func TestTrain_DeterministicAcrossEngines(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)
	require.NoError(t, a.Train(context.Background(), trainingCorpus()))
	require.NoError(t, b.Train(context.Background(), trainingCorpus()))

	pa, err := a.Predict(query())
	require.NoError(t, err)
	pb, err := b.Predict(query())
	require.NoError(t, err)

	assert.Equal(t, pa.PredictedYield, pb.PredictedYield)
	assert.Equal(t, pa.ConfidenceScore, pb.ConfidenceScore)
	assert.Equal(t, a.Snapshot().Forest.Trees, b.Snapshot().Forest.Trees)
}

func TestPredict_SoilMapOrderDoesNotMatter(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Train(context.Background(), trainingCorpus()))

	first := map[string]float64{}
	first["ph"] = 6.8
	first["organic_matter"] = 2
	first["nitrogen"] = 0.2
	second := map[string]float64{}
	second["nitrogen"] = 0.2
	second["organic_matter"] = 2
	second["ph"] = 6.8

	in := query()
	in.Soil = features.SoilFromMap(first)
	pa, err := e.Predict(in)
	require.NoError(t, err)

	in.Soil = features.SoilFromMap(second)
	pb, err := e.Predict(in)
	require.NoError(t, err)

	assert.Equal(t, pa.PredictedYield, pb.PredictedYield)
	assert.Equal(t, pa.ConfidenceScore, pb.ConfidenceScore)
	assert.Equal(t, pa.Recommendations, pb.Recommendations)
}

func TestCorpusDigest(t *testing.T) {
	base := trainingCorpus()
	digest := CorpusDigest(base)
	assert.Equal(t, digest, CorpusDigest(trainingCorpus()), "digest must be stable")

	edited := trainingCorpus()
	edited[0].ActualYield += 0.1
	assert.NotEqual(t, digest, CorpusDigest(edited))
	assert.NotEqual(t, digest, CorpusDigest(base[1:]))

	e := newTestEngine(t)
	require.NoError(t, e.Train(context.Background(), base))
	assert.Equal(t, digest, e.Status().CorpusDigest)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "yield.model")

	trained := newTestEngine(t)
	require.NoError(t, trained.Train(context.Background(), trainingCorpus()))
	require.NoError(t, trained.Save(path))

	loaded := newTestEngine(t)
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, trained.Status(), loaded.Status())

	queries := []features.Input{query()}
	for i := 0; i < 5; i++ {
		q := query()
		q.FieldArea = 3 + float64(i)*2
		q.Weather = season(15+float64(i)*3, 90+float64(i)*40, 4)
		queries = append(queries, q)
	}
	for i, q := range queries {
		before, err := trained.Predict(q)
		require.NoError(t, err)
		after, err := loaded.Predict(q)
		require.NoError(t, err)
		assert.Equal(t, before.PredictedYield, after.PredictedYield, "query %d", i)
		assert.Equal(t, before.ConfidenceScore, after.ConfidenceScore, "query %d", i)
		assert.Equal(t, before.Recommendations, after.Recommendations, "query %d", i)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files should be cleaned up")
}

func TestLoad_MissingPathKeepsModel(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Train(context.Background(), trainingCorpus()))
	id := e.Status().ModelID

	err := e.Load(filepath.Join(t.TempDir(), "nope.model"))
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "load", perr.Op)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	assert.Equal(t, id, e.Status().ModelID)
	_, err = e.Predict(query())
	assert.NoError(t, err)
}

func TestLoad_RejectsBadFiles(t *testing.T) {
	trained := newTestEngine(t)
	require.NoError(t, trained.Train(context.Background(), trainingCorpus()))
	good := filepath.Join(t.TempDir(), "good.model")
	require.NoError(t, trained.Save(good))
	goodBytes, err := os.ReadFile(good)
	require.NoError(t, err)

	var wrongVersion bytes.Buffer
	wrongVersion.Write(magic)
	require.NoError(t, binary.Write(&wrongVersion, binary.BigEndian, uint32(99)))

	tests := []struct {
		name    string
		content []byte
		want    error
	}{
		{"empty file", nil, ErrBadMagic},
		{"garbage", []byte("definitely not a model, just some text"), ErrBadMagic},
		{"unknown format version", wrongVersion.Bytes(), ErrUnsupportedFormat},
		{"truncated payload", goodBytes[:len(goodBytes)/2], ErrCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.model")
			require.NoError(t, os.WriteFile(path, tt.content, 0o644))

			e := newTestEngine(t)
			err := e.Load(path)
			var perr *PersistenceError
			require.ErrorAs(t, err, &perr)
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, e.Status().Trained)
		})
	}
}

func TestLoad_RejectsNonFiniteModel(t *testing.T) {
	trained := newTestEngine(t)
	require.NoError(t, trained.Train(context.Background(), trainingCorpus()))

	tests := []struct {
		name   string
		tamper func(s *Snapshot)
	}{
		{"NaN scale", func(s *Snapshot) { s.Standardizer.Scale[0] = math.NaN() }},
		{"negative scale", func(s *Snapshot) { s.Standardizer.Scale[1] = -1 }},
		{"infinite mean", func(s *Snapshot) { s.Standardizer.Mean[2] = math.Inf(-1) }},
		{"NaN leaf value", func(s *Snapshot) {
			f := *s.Forest
			f.Trees = append([]ensemble.Tree(nil), f.Trees...)
			nodes := append([]ensemble.Node(nil), f.Trees[0].Nodes...)
			nodes[len(nodes)-1].Value = math.NaN()
			f.Trees[0].Nodes = nodes
			s.Forest = &f
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := *trained.Snapshot()
			tt.tamper(&snap)
			path := filepath.Join(t.TempDir(), "tampered.model")
			require.NoError(t, writeModel(path, &snap))

			e := newTestEngine(t)
			err := e.Load(path)
			assert.ErrorIs(t, err, ErrCorrupt)
			assert.False(t, e.Status().Trained)
		})
	}

	// Tampering worked on copies; the trained model is untouched.
	_, err := trained.Predict(query())
	assert.NoError(t, err)
}

func TestCheckForest(t *testing.T) {
	leaf := ensemble.Node{Feature: -1, Value: 1}
	tests := []struct {
		name  string
		trees []ensemble.Tree
		ok    bool
	}{
		{"single leaf", []ensemble.Tree{{Nodes: []ensemble.Node{leaf}}}, true},
		{"valid split", []ensemble.Tree{{Nodes: []ensemble.Node{{Feature: 2, Left: 1, Right: 2}, leaf, leaf}}}, true},
		{"no trees", nil, false},
		{"empty tree", []ensemble.Tree{{}}, false},
		{"child out of range", []ensemble.Tree{{Nodes: []ensemble.Node{{Feature: 0, Left: 1, Right: 5}, leaf}}}, false},
		{"self loop", []ensemble.Tree{{Nodes: []ensemble.Node{{Feature: 0, Left: 0, Right: 1}, leaf}}}, false},
		{"feature out of schema", []ensemble.Tree{{Nodes: []ensemble.Node{{Feature: features.Len, Left: 1, Right: 2}, leaf, leaf}}}, false},
		{"NaN leaf", []ensemble.Tree{{Nodes: []ensemble.Node{{Feature: -1, Value: math.NaN()}}}}, false},
		{"infinite threshold", []ensemble.Tree{{Nodes: []ensemble.Node{{Feature: 0, Threshold: math.Inf(1), Left: 1, Right: 2}, leaf, leaf}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkForest(&ensemble.Forest{Trees: tt.trees})
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrCorrupt)
			}
		})
	}
}

func TestTrain_CancelledKeepsPreviousModel(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Train(context.Background(), trainingCorpus()))
	id := e.Status().ModelID

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Train(ctx, trainingCorpus())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, id, e.Status().ModelID)
}

func TestPredict_ConcurrentWithRetrain(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Train(context.Background(), trainingCorpus()))
	firstID := e.Status().ModelID

	var wg sync.WaitGroup
	errs := make(chan error, 8*50)
	ids := make(chan string, 8*50)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				p, err := e.Predict(query())
				if err != nil {
					errs <- err
					continue
				}
				ids <- p.ModelID
			}
		}()
	}

	require.NoError(t, e.Train(context.Background(), trainingCorpus()))
	secondID := e.Status().ModelID
	wg.Wait()
	close(errs)
	close(ids)

	for err := range errs {
		t.Errorf("predict during retrain: %v", err)
	}
	for id := range ids {
		assert.Contains(t, []string{firstID, secondID}, id)
	}
	assert.NotEqual(t, firstID, secondID)
}
