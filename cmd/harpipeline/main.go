package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"har-lifecycle/internal/artifact"
	"har-lifecycle/internal/cfg"
	"har-lifecycle/internal/common"
	"har-lifecycle/internal/logging"
	"har-lifecycle/internal/metrics"
	"har-lifecycle/internal/ml"
	"har-lifecycle/internal/pipeline"
	"har-lifecycle/internal/report"
	"har-lifecycle/internal/storage"
)

func main() {
	var (
		envFile = flag.String("env", ".env", "Optional .env file with overrides")
		stages  = flag.String("stages", "", "Comma-separated stages to run: "+strings.Join(pipeline.StageNames, ","))
		policy  = flag.String("policy", "", "Failure policy: abort or best-effort (overrides config)")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("file", *envFile).Msg("Failed to load env file")
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logFile, err := logging.Setup(c.LogLevel, c.LogFile)
	if err != nil {
		log.Fatal().Err(err).Msg("logging setup failed")
	}

	os.Exit(run(c, *stages, *policy, logFile))
}

func run(c cfg.Settings, stageList, policyFlag string, logFile io.Closer) int {
	defer logFile.Close()

	pol := c.Policy
	if policyFlag != "" {
		p, err := pipeline.ParsePolicy(policyFlag)
		if err != nil {
			log.Error().Err(err).Msg("invalid policy")
			return 2
		}
		pol = p
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := artifact.Open(c.ModelsDir, artifact.WithCacheSize(c.CacheSize))
	if err != nil {
		log.Error().Err(err).Msg("artifact store open failed")
		return 1
	}
	batches, err := storage.New(c.PredictionsDir)
	if err != nil {
		log.Error().Err(err).Msg("predictions store open failed")
		return 1
	}
	defer batches.Close()

	reporter := report.NewReporter(c.ReportsDir)
	m := metrics.NewWrapper(metrics.New())

	all := pipeline.Standard(pipeline.Deps{
		UCIDir:     c.UCIDir,
		RawDataset: c.RawDataset,
		Trainer:    ml.NewTrainer(store, c.Trainer, m).WithReports(reporter),
		Predictor:  ml.NewPredictor(store, m),
		Evaluator:  ml.NewEvaluator(store, reporter),
		Batches:    batches,
		Now:        time.Now,
	})

	var names []string
	if stageList != "" {
		for _, n := range strings.Split(stageList, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}
	selected, err := pipeline.Select(all, names)
	if err != nil {
		log.Error().Err(err).Msg("invalid stage selection")
		return 2
	}

	summary := pipeline.New(pol, m).Run(ctx, selected)

	if err := reporter.WriteJSON(common.PipelineSummaryFile, summary); err != nil {
		log.Error().Err(err).Msg("failed to write pipeline summary")
	}
	for _, st := range summary.Stages {
		fmt.Printf("%-10s %-9s %s\n", st.Name, st.Status, st.Duration.Round(time.Millisecond))
	}
	fmt.Printf("outcome: %s (%s)\n", summary.Outcome, summary.Elapsed.Round(time.Millisecond))

	if !summary.Succeeded() {
		return 1
	}
	return 0
}
