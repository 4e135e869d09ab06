// Package engine owns the yield model lifecycle: training, prediction,
// persistence and the atomic hand-over between them.
//
// An Engine starts untrained. Train and Load build a complete Snapshot off to
// the side and publish it with a single pointer swap, so concurrent Predict
// calls always see either the previous model or the new one.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lox/yieldwise/internal/advice"
	"github.com/lox/yieldwise/internal/ensemble"
	"github.com/lox/yieldwise/internal/features"
	"github.com/lox/yieldwise/internal/metrics"
)

// Snapshot is an immutable trained model.
type Snapshot struct {
	ID            string
	TrainedAt     time.Time
	SchemaVersion int
	Examples      int
	CorpusDigest  string
	Standardizer  ensemble.Standardizer
	Forest        *ensemble.Forest
	Trained       bool
}

// WeatherMetrics are the season aggregates echoed back with a prediction.
type WeatherMetrics struct {
	AvgTemperature float64 `json:"avg_temperature"`
	TotalRainfall  float64 `json:"total_rainfall"`
	AvgHumidity    float64 `json:"avg_humidity"`
}

// FeatureSnapshot records the inputs a prediction was made from.
type FeatureSnapshot struct {
	FieldArea      float64                 `json:"field_area"`
	SoilProperties features.SoilProperties `json:"soil_properties"`
	WeatherMetrics WeatherMetrics          `json:"weather_metrics"`
}

// Prediction is the result of a single Predict call.
type Prediction struct {
	PredictedYield  float64         `json:"predicted_yield"`
	ConfidenceScore float64         `json:"confidence_score"`
	FeaturesUsed    FeatureSnapshot `json:"features_used"`
	Recommendations []string        `json:"recommendations"`
	ModelID         string          `json:"model_id"`
	PredictionDate  time.Time       `json:"prediction_date"`
}

// Status describes the currently published model.
type Status struct {
	Trained       bool      `json:"trained"`
	ModelID       string    `json:"model_id,omitempty"`
	TrainedAt     time.Time `json:"trained_at,omitzero"`
	Examples      int       `json:"examples,omitempty"`
	CorpusDigest  string    `json:"corpus_digest,omitempty"`
	Trees         int       `json:"trees,omitempty"`
	SchemaVersion int       `json:"schema_version"`
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithConfig(cfg ensemble.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

type Engine struct {
	cfg     ensemble.Config
	logger  *zap.Logger
	current atomic.Pointer[Snapshot]

	// writeMu orders Train and Load so the last one to finish is the one
	// published. Predict never takes it.
	writeMu sync.Mutex
}

func New(opts ...Option) *Engine {
	e := &Engine{cfg: ensemble.DefaultConfig()}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Snapshot returns the published model, or nil while untrained.
func (e *Engine) Snapshot() *Snapshot {
	return e.current.Load()
}

func (e *Engine) Status() Status {
	s := e.current.Load()
	if s == nil {
		return Status{SchemaVersion: features.SchemaVersion}
	}
	return Status{
		Trained:       s.Trained,
		ModelID:       s.ID,
		TrainedAt:     s.TrainedAt,
		Examples:      s.Examples,
		CorpusDigest:  s.CorpusDigest,
		Trees:         len(s.Forest.Trees),
		SchemaVersion: s.SchemaVersion,
	}
}

func (e *Engine) publish(s *Snapshot) {
	e.current.Store(s)
	metrics.ModelTrained.Set(1)
	metrics.TrainingExamples.Set(float64(s.Examples))
}

// Train fits a new model on examples and publishes it. On any error the
// previously published model stays in place.
func (e *Engine) Train(ctx context.Context, examples []features.Example) error {
	start := time.Now()
	err := e.train(ctx, examples)
	metrics.TrainDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TrainRunsTotal.WithLabelValues("error").Inc()
		e.logger.Warn("training failed", zap.Int("examples", len(examples)), zap.Error(err))
		return err
	}
	metrics.TrainRunsTotal.WithLabelValues("ok").Inc()
	return nil
}

func (e *Engine) train(ctx context.Context, examples []features.Example) error {
	if len(examples) == 0 {
		return &ValidationError{Field: "examples", Reason: "training corpus is empty"}
	}
	start := time.Now()

	rows := make([]features.Vector, len(examples))
	targets := make([]float64, len(examples))
	for i, ex := range examples {
		if err := ex.Validate(); err != nil {
			return fmt.Errorf("example %d: %w", i, err)
		}
		v, _, err := features.Extract(ex.Input)
		if err != nil {
			return fmt.Errorf("example %d: %w", i, err)
		}
		rows[i] = v
		targets[i] = ex.ActualYield
	}

	var std ensemble.Standardizer
	if err := std.Fit(rows); err != nil {
		return fmt.Errorf("fit standardizer: %w", err)
	}
	scaled := make([]features.Vector, len(rows))
	for i, r := range rows {
		s, err := std.Transform(r)
		if err != nil {
			return fmt.Errorf("standardize example %d: %w", i, err)
		}
		scaled[i] = s
	}

	forest, err := ensemble.Train(ctx, e.cfg, scaled, targets)
	if err != nil {
		return fmt.Errorf("train forest: %w", err)
	}

	snap := &Snapshot{
		ID:            uuid.NewString(),
		TrainedAt:     time.Now().UTC(),
		SchemaVersion: features.SchemaVersion,
		Examples:      len(examples),
		CorpusDigest:  CorpusDigest(examples),
		Standardizer:  std,
		Forest:        forest,
		Trained:       true,
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	e.publish(snap)

	e.logger.Info("model trained",
		zap.String("model_id", snap.ID),
		zap.Int("examples", snap.Examples),
		zap.Int("trees", len(forest.Trees)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Predict estimates the yield for one field-season.
func (e *Engine) Predict(in features.Input) (*Prediction, error) {
	p, err := e.predict(in)
	switch {
	case err == nil:
		metrics.PredictionsTotal.WithLabelValues("ok").Inc()
		metrics.PredictionConfidence.Observe(p.ConfidenceScore)
	case errors.Is(err, ErrUntrained):
		metrics.PredictionsTotal.WithLabelValues("untrained").Inc()
	case IsValidation(err):
		metrics.PredictionsTotal.WithLabelValues("invalid").Inc()
	default:
		metrics.PredictionsTotal.WithLabelValues("error").Inc()
	}
	return p, err
}

func (e *Engine) predict(in features.Input) (*Prediction, error) {
	snap := e.current.Load()
	if snap == nil || !snap.Trained {
		return nil, ErrUntrained
	}

	raw, _, err := features.Extract(in)
	if err != nil {
		return nil, err
	}
	scaled, err := snap.Standardizer.Transform(raw)
	if err != nil {
		return nil, err
	}
	yield, perTree := snap.Forest.Predict(scaled)

	return &Prediction{
		PredictedYield:  yield,
		ConfidenceScore: ensemble.Confidence(perTree),
		FeaturesUsed: FeatureSnapshot{
			FieldArea:      raw.At(features.FieldArea),
			SoilProperties: in.Soil,
			WeatherMetrics: WeatherMetrics{
				AvgTemperature: raw.At(features.AvgTemperature),
				TotalRainfall:  raw.At(features.TotalRainfall),
				AvgHumidity:    raw.At(features.AvgHumidity),
			},
		},
		Recommendations: advice.Recommend(yield, in.Soil, in.Weather),
		ModelID:         snap.ID,
		PredictionDate:  time.Now().UTC(),
	}, nil
}
