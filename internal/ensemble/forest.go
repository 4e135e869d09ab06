// Package ensemble implements the statistical model behind yield prediction:
// a feature standardizer, a bagging ensemble of regression trees, and the
// confidence score derived from how much the trees disagree.
package ensemble

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/lox/yieldwise/internal/features"
)

// Config holds the forest hyperparameters.
type Config struct {
	Trees           int
	MaxDepth        int // 0 means unlimited
	MaxFeatures     int // features tried per split; 0 means a third of the schema
	MinSamplesSplit int
	MinSamplesLeaf  int
	Seed            int64
	Workers         int // trees grown concurrently; 0 means GOMAXPROCS
}

// DefaultConfig returns the reference configuration: 100 trees of depth at
// most 10, seeded with 42.
func DefaultConfig() Config {
	return Config{
		Trees:           100,
		MaxDepth:        10,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Seed:            42,
	}
}

func (c Config) validate() error {
	if c.Trees < 1 {
		return fmt.Errorf("forest: trees must be at least 1, got %d", c.Trees)
	}
	if c.MaxDepth < 0 || c.MaxFeatures < 0 || c.Workers < 0 {
		return errors.New("forest: negative hyperparameter")
	}
	if c.MinSamplesSplit < 2 {
		return fmt.Errorf("forest: min samples split must be at least 2, got %d", c.MinSamplesSplit)
	}
	if c.MinSamplesLeaf < 1 {
		return fmt.Errorf("forest: min samples leaf must be at least 1, got %d", c.MinSamplesLeaf)
	}
	return nil
}

func (c Config) maxFeatures() int {
	if c.MaxFeatures > 0 {
		return min(c.MaxFeatures, features.Len)
	}
	return max(1, (features.Len+2)/3)
}

// Forest is a trained bagging ensemble.
type Forest struct {
	Config Config
	Trees  []Tree
}

// Train grows cfg.Trees trees, each on its own bootstrap resample of (x, y).
// Tree i draws from a generator seeded with (cfg.Seed, i), so the result does
// not depend on how the trees are scheduled across workers. Cancelling ctx
// abandons the run and returns ctx's error.
func Train(ctx context.Context, cfg Config, x []features.Vector, y []float64) (*Forest, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(x) == 0 {
		return nil, errors.New("forest: empty training set")
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("forest: %d rows but %d targets", len(x), len(y))
	}

	params := treeParams{
		maxDepth:    cfg.MaxDepth,
		minSplit:    cfg.MinSamplesSplit,
		minLeaf:     cfg.MinSamplesLeaf,
		maxFeatures: cfg.maxFeatures(),
	}
	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]Tree, cfg.Trees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rnd := rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(i)))
			sample := make([]int, len(x))
			for j := range sample {
				sample[j] = rnd.IntN(len(x))
			}
			trees[i] = growTree(x, y, sample, params, rnd)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Forest{Config: cfg, Trees: trees}, nil
}

// Predict returns the ensemble mean and every tree's individual estimate.
func (f *Forest) Predict(x features.Vector) (float64, []float64) {
	perTree := make([]float64, len(f.Trees))
	sum := 0.0
	for i := range f.Trees {
		perTree[i] = f.Trees[i].Predict(x)
		sum += perTree[i]
	}
	return sum / float64(len(perTree)), perTree
}
