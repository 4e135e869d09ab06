package retrain

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lox/yieldwise/internal/engine"
)

// Scheduler reruns a Job on a cron schedule. A run is skipped when the corpus
// is identical to the one the published model was trained on.
type Scheduler struct {
	job      *Job
	schedule cron.Schedule
	spec     string

	// mu keeps a slow run from overlapping the next tick.
	mu sync.Mutex
}

// NewScheduler parses spec as a standard five-field cron expression or a
// descriptor such as "@daily" or "@every 6h".
func NewScheduler(job *Job, spec string) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse retrain schedule %q: %w", spec, err)
	}
	return &Scheduler{job: job, schedule: schedule, spec: spec}, nil
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	c := cron.New()
	c.Schedule(s.schedule, cron.FuncJob(func() {
		if !s.mu.TryLock() {
			s.job.logger().Info("scheduled retrain skipped, previous run still active")
			return
		}
		defer s.mu.Unlock()
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.job.logger().Warn("scheduled retrain failed", zap.Error(err))
		}
	}))

	s.job.logger().Info("retrain scheduler started", zap.String("schedule", s.spec))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.job.logger().Info("retrain scheduler shutting down")
}

// RunOnce retrains if the corpus changed since the published model was
// trained, including edits that keep the example count. It reports whether a new model was published.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	examples, err := s.job.Corpus.TrainingCorpus(ctx)
	if err != nil {
		return false, err
	}
	if len(examples) == 0 {
		return false, nil
	}
	if status := s.job.Engine.Status(); status.Trained && status.CorpusDigest == engine.CorpusDigest(examples) {
		return false, nil
	}
	if _, err := s.job.train(ctx, examples); err != nil {
		return false, err
	}
	return true, nil
}
