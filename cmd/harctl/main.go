package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"har-lifecycle/internal/artifact"
	"har-lifecycle/internal/cfg"
	"har-lifecycle/internal/client"
	"har-lifecycle/internal/dataset"
	"har-lifecycle/internal/ml"
	"har-lifecycle/internal/storage"
)

const usage = `usage: harctl [flags] <command> [args]

commands:
  predict <f1,f2,...>   predict one feature vector
  stream <dataset.csv>  stream every row of a dataset over websocket
  info                  show the served model
  health                check server liveness
  reload                ask the server to reload the latest model
  versions              list published model versions on disk
  batches [generation]  list batch prediction generations, or rows of one
`

func main() {
	var (
		envFile  = flag.String("env", ".env", "Optional .env file with overrides")
		server   = flag.String("server", "", "Server base URL (overrides config)")
		limit    = flag.Int("limit", 0, "Max rows for stream and batches (0 = all)")
		logLevel = flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("file", *envFile).Msg("Failed to load env file")
	}
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if *server != "" {
		c.ServerURL = *server
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	cli := client.New(c.ServerURL, c.RequestTimeout)
	if err := dispatch(ctx, cli, c, args, *limit); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, cli *client.Client, c cfg.Settings, args []string, limit int) error {
	switch args[0] {
	case "predict":
		if len(args) < 2 {
			return fmt.Errorf("predict needs a comma-separated feature vector")
		}
		features, err := parseFeatures(args[1])
		if err != nil {
			return err
		}
		resp, err := cli.Predict(ctx, features)
		if err != nil {
			return err
		}
		return printJSON(resp)
	case "stream":
		if len(args) < 2 {
			return fmt.Errorf("stream needs a dataset CSV path")
		}
		return streamDataset(ctx, cli, args[1], limit, os.Stdout)
	case "info":
		info, err := cli.Info(ctx)
		if err != nil {
			return err
		}
		return printJSON(info)
	case "health":
		h, err := cli.Health(ctx)
		if err != nil {
			return err
		}
		return printJSON(h)
	case "reload":
		info, err := cli.Reload(ctx)
		if err != nil {
			return err
		}
		return printJSON(info)
	case "versions":
		store, err := artifact.Open(c.ModelsDir)
		if err != nil {
			return err
		}
		ids, err := store.Versions()
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	case "batches":
		return showBatches(c.PredictionsDir, args[1:], limit)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func parseFeatures(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// streamDataset sends every row over one websocket. Columns are matched to
// the served model's features by name before anything is sent.
func streamDataset(ctx context.Context, cli *client.Client, path string, limit int, out io.Writer) error {
	ds, err := dataset.ReadCSVFile(path, dataset.Options{MetaColumns: dataset.DefaultMetaColumns})
	if err != nil {
		return err
	}
	info, err := cli.Info(ctx)
	if err != nil {
		return err
	}
	if len(info.Features) == 0 {
		return fmt.Errorf("%w: server %s does not report its feature names", ml.ErrSchemaMismatch, info.Version)
	}
	rows, err := ml.AlignRows(dataset.Schema(info.Features), ds)
	if err != nil {
		return fmt.Errorf("%s against version %s: %w", path, info.Version, err)
	}

	s, err := cli.Stream(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	n, failed := ds.Len(), 0
	if limit > 0 && limit < n {
		n = limit
	}
	for i := 0; i < n; i++ {
		resp, err := s.Predict(rows[i])
		if err != nil {
			failed++
			fmt.Fprintf(out, "%d\terror: %v\n", i, err)
			continue
		}
		fmt.Fprintf(out, "%d\t%s\n", i, resp.Activity)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d rows failed", failed, n)
	}
	return nil
}

func showBatches(dir string, args []string, limit int) error {
	store, err := storage.New(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 0 {
		batches, err := store.Batches()
		if err != nil {
			return err
		}
		for _, b := range batches {
			fmt.Printf("%s\tversion=%s\trows=%d\tsource=%s\n", b.Generation, b.VersionID, b.Rows, b.Source)
		}
		return nil
	}

	generation := args[0]
	if generation == "latest" {
		meta, err := store.LatestBatch()
		if err != nil {
			return err
		}
		generation = meta.Generation
	}
	rows, err := store.GetPredictions(generation)
	if err != nil {
		return err
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	for _, r := range rows {
		actual := r.Actual
		if actual == "" {
			actual = "-"
		}
		fmt.Printf("%d\t%s\tactual=%s\tsubject=%s\tset=%s\n", r.Row, r.Label, actual, r.Meta["subject"], r.Meta["set"])
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
