package harness

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"oracle-pricemodel/internal/timeutil"
)

var (
	tradeHeader = []string{"timestamp", "price"}
	evalHeader  = []string{"timestamp", "price", "interval"}
)

// ReadTradesCSV parses "timestamp,price" rows into the trade columns of ds.
func ReadTradesCSV(r io.Reader, ds *Dataset) error {
	rows, err := readRows(r, tradeHeader)
	if err != nil {
		return fmt.Errorf("trades csv: %w", err)
	}
	for i, row := range rows {
		ts, err := strconv.ParseUint(row[0], 10, 64)
		if err != nil {
			return fmt.Errorf("trades csv row %d: timestamp: %w", i+1, err)
		}
		price, err := strconv.ParseInt(row[1], 10, 64)
		if err != nil {
			return fmt.Errorf("trades csv row %d: price: %w", i+1, err)
		}
		ds.TradeTimes = append(ds.TradeTimes, timeutil.Timestamp(ts))
		ds.TradePrices = append(ds.TradePrices, price)
	}
	return nil
}

// ReadEvalsCSV parses "timestamp,price,interval" rows into the eval columns of ds.
func ReadEvalsCSV(r io.Reader, ds *Dataset) error {
	rows, err := readRows(r, evalHeader)
	if err != nil {
		return fmt.Errorf("evals csv: %w", err)
	}
	for i, row := range rows {
		ts, err := strconv.ParseUint(row[0], 10, 64)
		if err != nil {
			return fmt.Errorf("evals csv row %d: timestamp: %w", i+1, err)
		}
		price, err := strconv.ParseInt(row[1], 10, 64)
		if err != nil {
			return fmt.Errorf("evals csv row %d: price: %w", i+1, err)
		}
		conf, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return fmt.Errorf("evals csv row %d: interval: %w", i+1, err)
		}
		ds.AddEval(timeutil.Timestamp(ts), price, conf)
	}
	return nil
}

// WriteTradesCSV writes the trade columns of ds with a header row.
func WriteTradesCSV(w io.Writer, ds *Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return err
	}
	for i := range ds.TradeTimes {
		rec := []string{
			strconv.FormatUint(uint64(ds.TradeTimes[i]), 10),
			strconv.FormatInt(ds.TradePrices[i], 10),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEvalsCSV writes the eval columns of ds with a header row.
// Intervals use the shortest representation that round-trips.
func WriteEvalsCSV(w io.Writer, ds *Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(evalHeader); err != nil {
		return err
	}
	for i := range ds.EvalTimes {
		rec := []string{
			strconv.FormatUint(uint64(ds.EvalTimes[i]), 10),
			strconv.FormatInt(ds.EvalPrices[i], 10),
			strconv.FormatFloat(ds.EvalConfs[i], 'g', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// LoadCSV reads a dataset from a trades file and an evals file.
func LoadCSV(tradesPath, evalsPath string) (*Dataset, error) {
	var ds Dataset
	if err := withFile(tradesPath, func(f *os.File) error { return ReadTradesCSV(f, &ds) }); err != nil {
		return nil, err
	}
	if err := withFile(evalsPath, func(f *os.File) error { return ReadEvalsCSV(f, &ds) }); err != nil {
		return nil, err
	}
	return &ds, nil
}

// SaveCSV writes a dataset as a trades file and an evals file.
func SaveCSV(tradesPath, evalsPath string, ds *Dataset) error {
	if err := createFile(tradesPath, func(f *os.File) error { return WriteTradesCSV(f, ds) }); err != nil {
		return err
	}
	return createFile(evalsPath, func(f *os.File) error { return WriteEvalsCSV(f, ds) })
}

func readRows(r io.Reader, header []string) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("missing header %v", header)
	}
	for i, col := range header {
		if records[0][i] != col {
			return nil, fmt.Errorf("header column %d: expected %q, got %q", i, col, records[0][i])
		}
	}
	return records[1:], nil
}

func withFile(path string, fn func(*os.File) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return fn(f)
}

func createFile(path string, fn func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
