// cmd/pricetest replays recorded trades through the price model and checks
// every evaluation against the expected price and confidence columns.
//
// Usage:
//
//	go run ./cmd/pricetest --trade-times=tt.bin --trade-prices=tp.bin \
//	    --eval-times=et.bin --eval-prices=ep.bin --eval-intervals=ei.bin
//	go run ./cmd/pricetest --trades-csv=trades.csv --evals-csv=evals.csv
//	go run ./cmd/pricetest --sqlite=data/pricemodel.db --dataset=seed-1
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"oracle-pricemodel/config"
	"oracle-pricemodel/internal/harness"
	"oracle-pricemodel/internal/logger"
	sqlitestore "oracle-pricemodel/internal/store/sqlite"
)

const (
	exitPass     = 0
	exitMismatch = 1
	exitUsage    = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

type options struct {
	cols      harness.ColumnPaths
	colDir    string
	tradesCSV string
	evalsCSV  string
	sqlite    string
	dataset   string
}

func run(args []string, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "pricetest: %v\n", err)
		return exitUsage
	}

	fs := flag.NewFlagSet("pricetest", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.cols.TradeTimes, "trade-times", "", "Binary column of trade times (uint64 ns)")
	fs.StringVar(&opts.cols.TradePrices, "trade-prices", "", "Binary column of trade prices (int64)")
	fs.StringVar(&opts.cols.EvalTimes, "eval-times", "", "Binary column of eval times (uint64 ns)")
	fs.StringVar(&opts.cols.EvalPrices, "eval-prices", "", "Binary column of expected prices (int64)")
	fs.StringVar(&opts.cols.EvalConfs, "eval-intervals", "", "Binary column of expected confidences (float64)")
	fs.StringVar(&opts.colDir, "dir", "", "Directory holding the five binary columns under their default names")
	fs.StringVar(&opts.tradesCSV, "trades-csv", "", "CSV of trades (timestamp,price)")
	fs.StringVar(&opts.evalsCSV, "evals-csv", "", "CSV of expected evals (timestamp,price,interval)")
	fs.StringVar(&opts.sqlite, "sqlite", "", "SQLite database holding saved datasets")
	fs.StringVar(&opts.dataset, "dataset", "", "Dataset name inside --sqlite")

	cfg.RegisterModelFlags(fs)
	fs.Float64Var(&cfg.ConfTolerance, "conf-tolerance", cfg.ConfTolerance, "Relative tolerance on confidence")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	logger.Init("pricetest", logger.ParseLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid model settings", slog.String("error", err.Error()))
		return exitUsage
	}

	ds, source, err := loadDataset(opts)
	if errors.Is(err, errNoSource) {
		fmt.Fprintln(stderr, "pricetest: choose binary columns, --trades-csv/--evals-csv or --sqlite/--dataset")
		fs.Usage()
		return exitUsage
	}
	if err != nil {
		slog.Error("load dataset failed", slog.String("source", source), slog.String("error", err.Error()))
		return exitUsage
	}

	runner := &harness.Runner{Tolerance: cfg.ConfTolerance, NewModel: cfg.NewModel}
	start := time.Now()
	rep, err := runner.Run(ds)
	if err != nil {
		var mm *harness.MismatchError
		if errors.As(err, &mm) {
			slog.Error("evaluation mismatch",
				slog.Int("index", mm.Index),
				slog.Uint64("time", uint64(mm.Time)),
				slog.Int64("want_price", mm.WantPrice),
				slog.Float64("want_conf", mm.WantConf),
				slog.Int64("got_price", mm.GotPrice),
				slog.Float64("got_conf", mm.GotConf),
				slog.Bool("available", mm.Available),
			)
		} else {
			slog.Error("replay failed", slog.String("error", err.Error()))
		}
		return exitMismatch
	}

	slog.Info("all evaluations matched",
		slog.String("source", source),
		slog.Int("trades", rep.Trades),
		slog.Int("evals", rep.Evals),
		slog.Int("unavailable", rep.Unavailable),
		slog.Float64("max_rel_err", rep.MaxRelErr),
		slog.Duration("elapsed", time.Since(start)),
	)
	return exitPass
}

var errNoSource = errors.New("no dataset source")

func loadDataset(o options) (*harness.Dataset, string, error) {
	switch {
	case o.sqlite != "":
		if o.dataset == "" {
			return nil, "sqlite", errors.New("--dataset is required with --sqlite")
		}
		r, err := sqlitestore.NewReader(o.sqlite)
		if err != nil {
			return nil, "sqlite", err
		}
		defer r.Close()
		ds, err := r.LoadDataset(o.dataset)
		return ds, "sqlite:" + o.dataset, err

	case o.tradesCSV != "" || o.evalsCSV != "":
		if o.tradesCSV == "" || o.evalsCSV == "" {
			return nil, "csv", errors.New("--trades-csv and --evals-csv go together")
		}
		ds, err := harness.LoadCSV(o.tradesCSV, o.evalsCSV)
		return ds, "csv", err

	case o.colDir != "":
		ds, err := harness.LoadColumns(harness.ColumnPathsIn(o.colDir))
		return ds, "columns:" + o.colDir, err

	case o.cols != (harness.ColumnPaths{}):
		c := o.cols
		if c.TradeTimes == "" || c.TradePrices == "" || c.EvalTimes == "" || c.EvalPrices == "" || c.EvalConfs == "" {
			return nil, "columns", errors.New("all five column flags are required")
		}
		ds, err := harness.LoadColumns(c)
		return ds, "columns", err
	}
	return nil, "", errNoSource
}
