// cmd/pricegen synthesizes a random trade stream, evaluates the price model
// over it and writes the trades plus expected evaluations as CSV, binary
// columns and/or a named SQLite dataset for cmd/pricetest.
//
// Usage:
//
//	go run ./cmd/pricegen --seed=7 --csv-dir=testdata --col-dir=testdata/bin
//	go run ./cmd/pricegen --sqlite=data/pricemodel.db --dataset=seed-7
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"oracle-pricemodel/config"
	"oracle-pricemodel/internal/harness"
	"oracle-pricemodel/internal/logger"
	sqlitestore "oracle-pricemodel/internal/store/sqlite"
	"oracle-pricemodel/internal/timeutil"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "pricegen: %v\n", err)
		return 2
	}

	fs := flag.NewFlagSet("pricegen", flag.ContinueOnError)
	fs.SetOutput(stderr)

	gen := harness.DefaultGenConfig()
	fs.Int64Var(&gen.Seed, "seed", gen.Seed, "Random seed")
	fs.Int64Var(&gen.TradeSeconds, "trade-seconds", gen.TradeSeconds, "Span of the trade stream in seconds")
	fs.Int64Var(&gen.TradesPerSec, "trades-per-sec", gen.TradesPerSec, "Average trades per second")
	fs.Int64Var(&gen.MidPrice, "mid-price", gen.MidPrice, "Center of the uniform price draw")
	fs.Float64Var(&gen.PriceInterval, "price-interval", gen.PriceInterval, "Half-width of the uniform price draw")
	startTS := fs.Int64("start-ts", 0, "Unix seconds of the first trade (0=random in 2020-2022)")

	csvDir := fs.String("csv-dir", "", "Write trades.csv and evals.csv here")
	colDir := fs.String("col-dir", "", "Write the five binary columns here")
	sqlitePath := fs.String("sqlite", "", "Save the dataset into this SQLite database")
	dataset := fs.String("dataset", "", "Dataset name for --sqlite (default seed-{seed})")

	cfg.RegisterModelFlags(fs)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	logger.Init("pricegen", logger.ParseLevel(cfg.LogLevel))

	if *csvDir == "" && *colDir == "" && *sqlitePath == "" {
		fmt.Fprintln(stderr, "pricegen: choose at least one of --csv-dir, --col-dir, --sqlite")
		fs.Usage()
		return 2
	}
	if *startTS < 0 {
		fmt.Fprintln(stderr, "pricegen: --start-ts must not be negative")
		return 2
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid model settings", slog.String("error", err.Error()))
		return 2
	}
	gen.StartTS = timeutil.Seconds(*startTS)
	if *dataset == "" {
		*dataset = fmt.Sprintf("seed-%d", gen.Seed)
	}

	start := time.Now()
	ds, err := harness.GenerateDataset(gen, cfg.MinSlot, cfg.NewModel)
	if err != nil {
		slog.Error("generate failed", slog.String("error", err.Error()))
		return 1
	}
	slog.Info("dataset generated",
		slog.Int64("seed", gen.Seed),
		slog.Int("trades", len(ds.TradeTimes)),
		slog.Int("evals", len(ds.EvalTimes)),
		slog.Duration("elapsed", time.Since(start)),
	)

	if err := write(ds, *csvDir, *colDir, *sqlitePath, *dataset); err != nil {
		slog.Error("write failed", slog.String("error", err.Error()))
		return 1
	}
	return 0
}

func write(ds *harness.Dataset, csvDir, colDir, sqlitePath, name string) error {
	var errs []error
	if csvDir != "" {
		if err := os.MkdirAll(csvDir, 0o755); err != nil {
			return err
		}
		trades, evals := filepath.Join(csvDir, "trades.csv"), filepath.Join(csvDir, "evals.csv")
		if err := harness.SaveCSV(trades, evals, ds); err != nil {
			errs = append(errs, fmt.Errorf("csv: %w", err))
		} else {
			slog.Info("wrote csv", slog.String("trades", trades), slog.String("evals", evals))
		}
	}
	if colDir != "" {
		if err := os.MkdirAll(colDir, 0o755); err != nil {
			return err
		}
		if err := harness.SaveColumns(harness.ColumnPathsIn(colDir), ds); err != nil {
			errs = append(errs, fmt.Errorf("columns: %w", err))
		} else {
			slog.Info("wrote binary columns", slog.String("dir", colDir))
		}
	}
	if sqlitePath != "" {
		if err := saveSQLite(ds, sqlitePath, name); err != nil {
			errs = append(errs, fmt.Errorf("sqlite: %w", err))
		} else {
			slog.Info("saved dataset", slog.String("db", sqlitePath), slog.String("dataset", name))
		}
	}
	return errors.Join(errs...)
}

func saveSQLite(ds *harness.Dataset, path, name string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: path})
	if err != nil {
		return err
	}
	defer w.Close()
	return w.SaveDataset(name, ds)
}
