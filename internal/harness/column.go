package harness

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"oracle-pricemodel/internal/timeutil"
)

// Scalar is a fixed-width column element.
type Scalar interface {
	~uint64 | ~int64 | ~float64
}

const scalarSize = 8

// ReadColumn loads a raw little-endian column file (the layout numpy's
// tobytes() writes). The file must be non-empty and a whole number of elements.
func ReadColumn[T Scalar](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read column %s: %w", path, err)
	}
	if len(data) == 0 || len(data)%scalarSize != 0 {
		return nil, fmt.Errorf("column %s: size %d is not a positive multiple of %d", path, len(data), scalarSize)
	}

	out := make([]T, len(data)/scalarSize)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("decode column %s: %w", path, err)
	}
	return out, nil
}

// WriteColumn writes values as a raw little-endian column file.
func WriteColumn[T Scalar](path string, values []T) error {
	var buf bytes.Buffer
	buf.Grow(len(values) * scalarSize)
	if err := binary.Write(&buf, binary.LittleEndian, values); err != nil {
		return fmt.Errorf("encode column %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write column %s: %w", path, err)
	}
	return nil
}

// ColumnPaths names the five column files of a dataset.
type ColumnPaths struct {
	TradeTimes  string
	TradePrices string
	EvalTimes   string
	EvalPrices  string
	EvalConfs   string
}

// ColumnPathsIn returns the conventional file names inside dir.
func ColumnPathsIn(dir string) ColumnPaths {
	return ColumnPaths{
		TradeTimes:  filepath.Join(dir, "trade-times.bin"),
		TradePrices: filepath.Join(dir, "trade-prices.bin"),
		EvalTimes:   filepath.Join(dir, "eval-times.bin"),
		EvalPrices:  filepath.Join(dir, "eval-prices.bin"),
		EvalConfs:   filepath.Join(dir, "eval-intervals.bin"),
	}
}

// LoadColumns reads a dataset from binary column files.
func LoadColumns(p ColumnPaths) (*Dataset, error) {
	var (
		ds  Dataset
		err error
	)
	if ds.TradeTimes, err = ReadColumn[timeutil.Timestamp](p.TradeTimes); err != nil {
		return nil, err
	}
	if ds.TradePrices, err = ReadColumn[int64](p.TradePrices); err != nil {
		return nil, err
	}
	if ds.EvalTimes, err = ReadColumn[timeutil.Timestamp](p.EvalTimes); err != nil {
		return nil, err
	}
	if ds.EvalPrices, err = ReadColumn[int64](p.EvalPrices); err != nil {
		return nil, err
	}
	if ds.EvalConfs, err = ReadColumn[float64](p.EvalConfs); err != nil {
		return nil, err
	}
	return &ds, nil
}

// SaveColumns writes a dataset as binary column files.
func SaveColumns(p ColumnPaths, ds *Dataset) error {
	if err := WriteColumn(p.TradeTimes, ds.TradeTimes); err != nil {
		return err
	}
	if err := WriteColumn(p.TradePrices, ds.TradePrices); err != nil {
		return err
	}
	if err := WriteColumn(p.EvalTimes, ds.EvalTimes); err != nil {
		return err
	}
	if err := WriteColumn(p.EvalPrices, ds.EvalPrices); err != nil {
		return err
	}
	return WriteColumn(p.EvalConfs, ds.EvalConfs)
}
