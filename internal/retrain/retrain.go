// Package retrain rebuilds the yield model from stored harvests, either on
// demand or on a cron schedule.
package retrain

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lox/yieldwise/internal/engine"
	"github.com/lox/yieldwise/internal/features"
)

// ErrNoData is returned when no harvested crop has weather recorded.
var ErrNoData = errors.New("no training data available")

// Corpus supplies training examples.
type Corpus interface {
	TrainingCorpus(ctx context.Context) ([]features.Example, error)
}

type Result struct {
	Status engine.Status `json:"model"`
	Saved  bool          `json:"saved"`
}

// Job trains the engine on the full corpus and, when ModelPath is set,
// persists the result.
type Job struct {
	Corpus    Corpus
	Engine    *engine.Engine
	ModelPath string
	Logger    *zap.Logger
}

func (j *Job) logger() *zap.Logger {
	if j.Logger == nil {
		return zap.NewNop()
	}
	return j.Logger
}

func (j *Job) Run(ctx context.Context) (*Result, error) {
	examples, err := j.Corpus.TrainingCorpus(ctx)
	if err != nil {
		return nil, fmt.Errorf("load training corpus: %w", err)
	}
	return j.train(ctx, examples)
}

func (j *Job) train(ctx context.Context, examples []features.Example) (*Result, error) {
	if len(examples) == 0 {
		return nil, ErrNoData
	}
	if err := j.Engine.Train(ctx, examples); err != nil {
		return nil, err
	}

	res := &Result{}
	if j.ModelPath != "" {
		if err := j.Engine.Save(j.ModelPath); err != nil {
			return nil, err
		}
		res.Saved = true
	}
	res.Status = j.Engine.Status()
	j.logger().Info("model retrained",
		zap.String("model_id", res.Status.ModelID),
		zap.Int("examples", res.Status.Examples),
		zap.Bool("saved", res.Saved),
	)
	return res, nil
}
