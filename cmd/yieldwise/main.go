package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/lox/yieldwise/internal/engine"
	"github.com/lox/yieldwise/internal/ensemble"
	"github.com/lox/yieldwise/internal/logging"
	"github.com/lox/yieldwise/internal/soil"
	"github.com/lox/yieldwise/internal/store"
)

type Globals struct {
	EnvFile   kongdotenv.ENVFileConfig `kong:"optional,name=env-file,default='.env',help='Path to .env file.'"`
	DB        string                   `help:"Path to SQLite database." default:"data/yieldwise.db" env:"YIELDWISE_DB"`
	ModelPath string                   `help:"Path of the persisted model." default:"data/model.bin" env:"YIELDWISE_MODEL_PATH"`
	LogLevel  string                   `help:"Log level." default:"info" enum:"debug,info,warn,error" env:"YIELDWISE_LOG_LEVEL"`
	LogFormat string                   `help:"Log format." default:"json" enum:"json,console" env:"YIELDWISE_LOG_FORMAT"`

	Ensemble EnsembleFlags `embed:"" prefix:"ensemble-"`

	logger *zap.Logger
}

type EnsembleFlags struct {
	Trees           int   `help:"Number of trees." default:"100" env:"YIELDWISE_ENSEMBLE_TREES"`
	MaxDepth        int   `help:"Maximum tree depth." default:"10" env:"YIELDWISE_ENSEMBLE_MAX_DEPTH"`
	MaxFeatures     int   `help:"Features considered per split (0 = a third of them)." default:"0" env:"YIELDWISE_ENSEMBLE_MAX_FEATURES"`
	MinSamplesSplit int   `help:"Minimum samples to split a node." default:"2" env:"YIELDWISE_ENSEMBLE_MIN_SAMPLES_SPLIT"`
	MinSamplesLeaf  int   `help:"Minimum samples in a leaf." default:"1" env:"YIELDWISE_ENSEMBLE_MIN_SAMPLES_LEAF"`
	Seed            int64 `help:"Random seed." default:"42" env:"YIELDWISE_ENSEMBLE_SEED"`
	Workers         int   `help:"Trees grown concurrently (0 = GOMAXPROCS)." default:"0" env:"YIELDWISE_ENSEMBLE_WORKERS"`
}

func (f EnsembleFlags) Config() ensemble.Config {
	return ensemble.Config{
		Trees:           f.Trees,
		MaxDepth:        f.MaxDepth,
		MaxFeatures:     f.MaxFeatures,
		MinSamplesSplit: f.MinSamplesSplit,
		MinSamplesLeaf:  f.MinSamplesLeaf,
		Seed:            f.Seed,
		Workers:         f.Workers,
	}
}

func (g *Globals) AfterApply() error {
	logger, err := logging.New(g.LogLevel, g.LogFormat)
	if err != nil {
		return err
	}
	g.logger = logger
	return nil
}

var cli struct {
	Globals

	Serve   ServeCmd   `cmd:"" default:"1" help:"Run the HTTP API."`
	Train   TrainCmd   `cmd:"" help:"Train a model from stored harvests and save it."`
	Predict PredictCmd `cmd:"" help:"Predict the yield for a JSON input using the saved model."`
	Migrate MigrateCmd `cmd:"" help:"Apply database migrations and exit."`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kctx := kong.Parse(&cli,
		kong.Name("yieldwise"),
		kong.Description("Crop yield prediction service."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.Vars{"soil_url": soil.DefaultBaseURL},
	)
	err := kctx.Run(&cli.Globals)
	if cli.logger != nil {
		cli.logger.Sync()
	}
	kctx.FatalIfErrorf(err)
}

func (g *Globals) openStore() (*store.Store, *sql.DB, error) {
	if dir := filepath.Dir(g.DB); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", g.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db, g.logger.Named("store"))
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, db, nil
}

func (g *Globals) newEngine() *engine.Engine {
	return engine.New(
		engine.WithConfig(g.Ensemble.Config()),
		engine.WithLogger(g.logger.Named("engine")),
	)
}

// loadModel loads the persisted model when one exists. A missing file is not
// an error: the engine simply stays untrained.
func (g *Globals) loadModel(eng *engine.Engine) error {
	if _, err := os.Stat(g.ModelPath); errors.Is(err, os.ErrNotExist) {
		g.logger.Info("no saved model", zap.String("path", g.ModelPath))
		return nil
	}
	return eng.Load(g.ModelPath)
}
