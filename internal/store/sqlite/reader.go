package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"oracle-pricemodel/internal/harness"
	"oracle-pricemodel/internal/model"
	"oracle-pricemodel/internal/timeutil"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNoDataset is returned when a dataset name is not stored.
var ErrNoDataset = errors.New("dataset not found")

// Reader provides read-only access to stored datasets and quotes.
type Reader struct {
	db *sql.DB
}

// DatasetInfo describes one stored dataset.
type DatasetInfo struct {
	Name      string
	Trades    int
	Evals     int
	CreatedAt time.Time
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// Datasets lists stored datasets by name.
func (r *Reader) Datasets() ([]DatasetInfo, error) {
	rows, err := r.db.Query(`SELECT name, trades, evals, created_at FROM datasets ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query datasets: %w", err)
	}
	defer rows.Close()

	var out []DatasetInfo
	for rows.Next() {
		var (
			info    DatasetInfo
			created int64
		)
		if err := rows.Scan(&info.Name, &info.Trades, &info.Evals, &created); err != nil {
			return nil, fmt.Errorf("sqlite scan datasets: %w", err)
		}
		info.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

// LoadDataset reads the dataset stored under name, rows in insertion order.
func (r *Reader) LoadDataset(name string) (*harness.Dataset, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM datasets WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("sqlite lookup dataset %s: %w", name, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDataset, name)
	}

	var ds harness.Dataset
	if err := r.loadTrades(name, &ds); err != nil {
		return nil, err
	}
	if err := r.loadEvals(name, &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

func (r *Reader) loadTrades(name string, ds *harness.Dataset) error {
	rows, err := r.db.Query(`SELECT ts, price FROM trades WHERE dataset = ? ORDER BY seq ASC`, name)
	if err != nil {
		return fmt.Errorf("sqlite query trades: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ts, price int64
		if err := rows.Scan(&ts, &price); err != nil {
			return fmt.Errorf("sqlite scan trades: %w", err)
		}
		ds.AddTrade(model.Trade{Price: price, Time: timeutil.Timestamp(ts)})
	}
	return rows.Err()
}

func (r *Reader) loadEvals(name string, ds *harness.Dataset) error {
	rows, err := r.db.Query(`SELECT ts, price, interval FROM evals WHERE dataset = ? ORDER BY seq ASC`, name)
	if err != nil {
		return fmt.Errorf("sqlite query evals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ts, price int64
			conf      float64
		)
		if err := rows.Scan(&ts, &price, &conf); err != nil {
			return fmt.Errorf("sqlite scan evals: %w", err)
		}
		ds.AddEval(timeutil.Timestamp(ts), price, conf)
	}
	return rows.Err()
}

// ReadQuotes returns the quotes journaled for symbol after afterTS, oldest first.
func (r *Reader) ReadQuotes(symbol string, afterTS time.Time) ([]model.Quote, error) {
	rows, err := r.db.Query(`
		SELECT symbol, ts, price, confidence, status
		FROM quotes
		WHERE symbol = ? AND ts > ?
		ORDER BY ts ASC
	`, symbol, afterTS.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("sqlite query quotes: %w", err)
	}
	defer rows.Close()

	var quotes []model.Quote
	for rows.Next() {
		var (
			q      model.Quote
			tsNano int64
			status string
		)
		if err := rows.Scan(&q.Symbol, &tsNano, &q.Price, &q.Confidence, &status); err != nil {
			return nil, fmt.Errorf("sqlite scan quotes: %w", err)
		}
		q.TS = time.Unix(0, tsNano).UTC()
		q.Status = model.Status(status)
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// Ping checks the connection for health reporting.
func (r *Reader) Ping() error {
	return r.db.Ping()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
