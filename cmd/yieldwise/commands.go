package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/lox/yieldwise/internal/api"
	"github.com/lox/yieldwise/internal/features"
	"github.com/lox/yieldwise/internal/retrain"
	"github.com/lox/yieldwise/internal/soil"
)

type ServeCmd struct {
	Port    string `help:"HTTP server port." default:"8080" env:"YIELDWISE_PORT"`
	SoilURL string `help:"OpenEPI soil API base URL." default:"${soil_url}" env:"YIELDWISE_SOIL_URL"`
	NoSoil  bool   `help:"Disable soil lookups when creating fields." env:"YIELDWISE_NO_SOIL"`

	WatchModel      bool   `help:"Reload the model when the model file is replaced, e.g. by a separate train run." env:"YIELDWISE_WATCH_MODEL"`
	RetrainSchedule string `help:"Cron schedule for retraining from stored harvests, e.g. @daily (empty disables)." env:"YIELDWISE_RETRAIN_SCHEDULE"`
}

func (c *ServeCmd) Run(ctx context.Context, g *Globals) error {
	st, db, err := g.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	eng := g.newEngine()
	if err := g.loadModel(eng); err != nil {
		// A bad model file should not keep the API down; /api/train replaces it.
		g.logger.Error("load model", zap.String("path", g.ModelPath), zap.Error(err))
	}

	opts := []api.Option{
		api.WithLogger(g.logger.Named("api")),
		api.WithModelPath(g.ModelPath),
	}
	if !c.NoSoil {
		opts = append(opts, api.WithSoil(soil.NewClient(c.SoilURL, soil.WithLogger(g.logger.Named("soil")))))
	} else {
		g.logger.Info("soil lookups disabled")
	}

	if c.WatchModel {
		if err := os.MkdirAll(filepath.Dir(g.ModelPath), 0o755); err != nil {
			return fmt.Errorf("create model dir: %w", err)
		}
		go func() {
			if err := eng.Watch(ctx, g.ModelPath); err != nil {
				g.logger.Error("model watcher stopped", zap.Error(err))
			}
		}()
	}

	if c.RetrainSchedule != "" {
		job := &retrain.Job{Corpus: st, Engine: eng, ModelPath: g.ModelPath, Logger: g.logger.Named("retrain")}
		sched, err := retrain.NewScheduler(job, c.RetrainSchedule)
		if err != nil {
			return err
		}
		go sched.Run(ctx)
	}

	return api.NewServer(st, eng, c.Port, opts...).Run(ctx)
}

type TrainCmd struct{}

func (c *TrainCmd) Run(ctx context.Context, g *Globals) error {
	st, db, err := g.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	job := &retrain.Job{
		Corpus:    st,
		Engine:    g.newEngine(),
		ModelPath: g.ModelPath,
		Logger:    g.logger.Named("retrain"),
	}
	_, err = job.Run(ctx)
	return err
}

type PredictCmd struct {
	Input string `arg:"" optional:"" default:"-" help:"JSON prediction input file, or - for stdin."`
}

func (c *PredictCmd) Run(g *Globals) error {
	var r io.Reader = os.Stdin
	if c.Input != "-" {
		f, err := os.Open(c.Input)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	var in features.Input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}

	eng := g.newEngine()
	if err := eng.Load(g.ModelPath); err != nil {
		return err
	}
	prediction, err := eng.Predict(in)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(prediction)
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(g *Globals) error {
	st, db, err := g.openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	version, err := st.MigrationVersion()
	if err != nil {
		return err
	}
	g.logger.Info("database migrated", zap.String("db", g.DB), zap.Int("version", version))
	return nil
}
