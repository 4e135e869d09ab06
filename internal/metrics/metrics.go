package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yieldwise_predictions_total",
			Help: "Total yield predictions by outcome",
		},
		[]string{"status"},
	)

	PredictionConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "yieldwise_prediction_confidence",
			Help:    "Confidence score of successful predictions",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	TrainRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yieldwise_train_runs_total",
			Help: "Total model training runs by outcome",
		},
		[]string{"status"},
	)

	TrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "yieldwise_train_duration_seconds",
			Help:    "Model training duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	TrainingExamples = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "yieldwise_training_examples",
			Help: "Number of examples the published model was trained on",
		},
	)

	ModelTrained = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "yieldwise_model_trained",
			Help: "1 when a trained model is published, 0 otherwise",
		},
	)

	SoilAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yieldwise_soil_api_calls_total",
			Help: "Total OpenEPI soil API calls",
		},
		[]string{"endpoint", "status"},
	)

	SoilAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "yieldwise_soil_api_latency_seconds",
			Help:    "OpenEPI soil API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)
