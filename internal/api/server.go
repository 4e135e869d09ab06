package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lox/yieldwise/internal/engine"
	"github.com/lox/yieldwise/internal/retrain"
	"github.com/lox/yieldwise/internal/soil"
	"github.com/lox/yieldwise/internal/store"
)

// SoilLookup resolves soil properties for a location.
type SoilLookup interface {
	Lookup(ctx context.Context, lat, lon float64) (*soil.Profile, error)
}

type Server struct {
	store     *store.Store
	engine    *engine.Engine
	soil      SoilLookup
	port      string
	modelPath string
	logger    *zap.Logger
	trainer   *retrain.Job
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithModelPath makes POST /api/train persist every newly trained model.
func WithModelPath(path string) Option {
	return func(s *Server) { s.modelPath = path }
}

// WithSoil enables soil lookup when fields are created. Without it fields are
// stored with whatever soil properties the request carries.
func WithSoil(l SoilLookup) Option {
	return func(s *Server) { s.soil = l }
}

func NewServer(st *store.Store, eng *engine.Engine, port string, opts ...Option) *Server {
	s := &Server{
		store:  st,
		engine: eng,
		port:   port,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.trainer = &retrain.Job{Corpus: st, Engine: eng, ModelPath: s.modelPath, Logger: s.logger}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/farms", s.handleCreateFarm)
	mux.HandleFunc("GET /api/farms", s.handleListFarms)
	mux.HandleFunc("POST /api/fields", s.handleCreateField)
	mux.HandleFunc("GET /api/fields", s.handleListFields)
	mux.HandleFunc("POST /api/crops", s.handleCreateCrop)
	mux.HandleFunc("GET /api/crops", s.handleListCrops)
	mux.HandleFunc("POST /api/crops/{id}/harvest", s.handleHarvest)
	mux.HandleFunc("POST /api/weather", s.handleCreateWeather)

	mux.HandleFunc("POST /api/predict", s.handlePredict)
	mux.HandleFunc("POST /api/train", s.handleTrain)
	mux.HandleFunc("GET /api/model", s.handleModel)
	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("listening", zap.String("addr", server.Addr))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
