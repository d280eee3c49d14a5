package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/squad-optimizer/internal/ingest"
	"github.com/stitts-dev/squad-optimizer/internal/scoring"
	"github.com/stitts-dev/squad-optimizer/pkg/config"
	"github.com/stitts-dev/squad-optimizer/pkg/logger"
)

func main() {
	defaults := scoring.DefaultTrainOptions()
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		history    = flag.String("history", "", "history table (.csv or .xlsx) with round and next_points columns")
		out        = flag.String("out", "", "artifact path (defaults to scoring.artifacts_path)")
		lambda     = flag.Float64("ridge-lambda", defaults.RidgeLambda, "ridge penalty")
		k          = flag.Int("k", defaults.K, "neighbours for the kNN component")
		epochs     = flag.Int("epochs", defaults.Epochs, "gradient descent epochs for the linear component")
		rate       = flag.Float64("learn-rate", defaults.LearnRate, "gradient descent learning rate")
		validation = flag.Float64("validation", defaults.ValidationShare, "share of the latest rows held out for weighting")
	)
	flag.Parse()

	if *history == "" {
		fmt.Fprintln(os.Stderr, "usage: train -history history.csv [-out artifacts.json]")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger.InitLogger(cfg.LogLevel, cfg.IsDevelopment())
	log := logger.WithService("train")

	path := *out
	if path == "" {
		path = cfg.Scoring.ArtifactsPath
	}
	if path == "" {
		log.Fatal("No output path: pass -out or set scoring.artifacts_path")
	}

	rows, err := ingest.ReadHistory(*history)
	if err != nil {
		log.Fatalf("Failed to read history: %v", err)
	}

	opts := scoring.TrainOptions{
		Lookahead:       cfg.Scoring.Lookahead,
		RidgeLambda:     *lambda,
		K:               *k,
		Epochs:          *epochs,
		LearnRate:       *rate,
		ValidationShare: *validation,
	}
	artifacts, err := scoring.Train(rows, opts, log)
	if err != nil {
		log.Fatalf("Training failed: %v", err)
	}
	if err := artifacts.Save(path); err != nil {
		log.Fatalf("Failed to save artifacts: %v", err)
	}

	log.WithFields(logrus.Fields{
		"path":    path,
		"rows":    len(rows),
		"weights": artifacts.Weights,
	}).Info("Wrote ensemble artifacts")
}
