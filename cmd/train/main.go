// Command train fits the fraud model offline from a JSON-lines sample file
// and writes the snapshot to MODEL_PATH.
//
// Usage:
//
//	go run ./cmd/train -samples samples.jsonl                 # auto-detect mode
//	go run ./cmd/train -samples samples.jsonl -mode supervised
//	go run ./cmd/train -samples - -out /tmp/model.json        # read stdin
//
// Each line is {"wallet": {...}, "token": {...}, "social": {...}, "label": 0|1|null};
// "transactions" and "transfers" arrays may replace the wallet and token vectors.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbd888/defiintel/internal/config"
	"github.com/mbd888/defiintel/internal/dataset"
	"github.com/mbd888/defiintel/internal/features"
	"github.com/mbd888/defiintel/internal/logging"
	"github.com/mbd888/defiintel/internal/model"
)

func main() {
	samplesPath := flag.String("samples", "", "JSON-lines sample file, or - for stdin")
	mode := flag.String("mode", "auto", "training mode: auto, supervised or unsupervised")
	out := flag.String("out", "", "snapshot path (defaults to MODEL_PATH)")
	flag.Parse()

	if err := run(*samplesPath, *mode, *out); err != nil {
		fmt.Fprintf(os.Stderr, "train: %v\n", err)
		os.Exit(1)
	}
}

func run(samplesPath, mode, out string) error {
	if samplesPath == "" {
		return fmt.Errorf("-samples is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	if out != "" {
		cfg.ModelPath = out
	}

	var in io.Reader = os.Stdin
	if samplesPath != "-" {
		f, err := os.Open(samplesPath)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	agg := dataset.NewAggregator()
	stats, err := dataset.ReadJSONL(in, agg, features.WithLocation(cfg.Location()))
	if err != nil {
		return fmt.Errorf("read samples: %w", err)
	}
	logger.Info("samples loaded",
		"lines", stats.Lines,
		"samples", stats.Samples,
		"labeled", stats.Labeled,
		"skipped", stats.Skipped,
	)

	if agg.Len() == 0 {
		return fmt.Errorf("no samples in %s", samplesPath)
	}

	table, labels := agg.TrainingData()
	switch mode {
	case "auto":
	case "supervised":
		if labels == nil {
			return fmt.Errorf("supervised training needs labeled samples")
		}
	case "unsupervised":
		labels = nil
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	detector := model.New(model.Config{
		Path:          cfg.ModelPath,
		Trees:         cfg.ModelTrees,
		MaxDepth:      cfg.ModelMaxDepth,
		Contamination: cfg.ModelContamination,
		TestFraction:  cfg.ModelTestFraction,
		Seed:          cfg.ModelSeed,
	}, model.WithLogger(logger))

	report := detector.Train(ctx, table, labels)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("training failed: %s", report.Reason)
	}
	if !report.Persisted {
		return fmt.Errorf("model trained but not saved to %q", cfg.ModelPath)
	}
	return nil
}
