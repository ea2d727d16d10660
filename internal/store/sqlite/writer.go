package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"oracle-pricemodel/internal/harness"
	"oracle-pricemodel/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/pricemodel.db"
}

// Writer stores harness datasets and batches published quotes into SQLite.
// A single connection keeps writes serialized.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS datasets (
			name       TEXT    PRIMARY KEY,
			trades     INTEGER NOT NULL,
			evals      INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trades (
			dataset TEXT    NOT NULL,
			seq     INTEGER NOT NULL,
			ts      INTEGER NOT NULL,
			price   INTEGER NOT NULL,
			PRIMARY KEY (dataset, seq)
		);

		CREATE TABLE IF NOT EXISTS evals (
			dataset  TEXT    NOT NULL,
			seq      INTEGER NOT NULL,
			ts       INTEGER NOT NULL,
			price    INTEGER NOT NULL,
			interval REAL    NOT NULL,
			PRIMARY KEY (dataset, seq)
		);

		CREATE TABLE IF NOT EXISTS quotes (
			symbol     TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			price      INTEGER NOT NULL,
			confidence REAL    NOT NULL,
			status     TEXT    NOT NULL,
			PRIMARY KEY (symbol, ts)
		);
	`)
	return err
}

// SaveDataset replaces the dataset stored under name in one transaction.
func (w *Writer) SaveDataset(name string, ds *harness.Dataset) error {
	if err := ds.Validate(); err != nil {
		return fmt.Errorf("dataset %s: %w", name, err)
	}

	start := time.Now()
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	if err := saveDataset(tx, name, ds); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite save dataset %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit dataset %s: %w", name, err)
	}

	log.Printf("[sqlite] saved dataset %s (%d trades, %d evals) in %v",
		name, len(ds.TradeTimes), len(ds.EvalTimes), time.Since(start))
	return nil
}

func saveDataset(tx *sql.Tx, name string, ds *harness.Dataset) error {
	for _, table := range []string{"trades", "evals", "datasets"} {
		col := "dataset"
		if table == "datasets" {
			col = "name"
		}
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE `+col+` = ?`, name); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO datasets (name, trades, evals, created_at) VALUES (?, ?, ?, ?)`,
		name, len(ds.TradeTimes), len(ds.EvalTimes), time.Now().Unix(),
	); err != nil {
		return err
	}

	tradeStmt, err := tx.Prepare(`INSERT INTO trades (dataset, seq, ts, price) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer tradeStmt.Close()
	for i := range ds.TradeTimes {
		if _, err := tradeStmt.Exec(name, i, int64(ds.TradeTimes[i]), ds.TradePrices[i]); err != nil {
			return err
		}
	}

	evalStmt, err := tx.Prepare(`INSERT INTO evals (dataset, seq, ts, price, interval) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer evalStmt.Close()
	for i := range ds.EvalTimes {
		if _, err := evalStmt.Exec(name, i, int64(ds.EvalTimes[i]), ds.EvalPrices[i], ds.EvalConfs[i]); err != nil {
			return err
		}
	}
	return nil
}

// RunQuotes reads quotes from quoteCh and inserts them in batched transactions.
// Flushes every batchSize quotes OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or quoteCh is closed.
func (w *Writer) RunQuotes(ctx context.Context, quoteCh <-chan model.Quote) {
	batch := make([]model.Quote, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertQuotes(batch); err != nil {
			log.Printf("[sqlite] quote batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d quotes in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case q, ok := <-quoteCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, q)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertQuotes inserts a batch of quotes in a single transaction.
func (w *Writer) insertQuotes(quotes []model.Quote) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO quotes (symbol, ts, price, confidence, status)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, q := range quotes {
		if _, err := stmt.Exec(q.Symbol, q.TS.UnixNano(), q.Price, q.Confidence, string(q.Status)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
