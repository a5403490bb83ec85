// Package archive exports stored bars to files and ships them to
// S3-compatible object storage.
package archive

import (
	"fmt"
	"strings"
	"time"

	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// Supported export formats.
const (
	FormatCSV     = "csv"
	FormatJSON    = "json"
	FormatParquet = "parquet"
)

// Record is the flat row written by every format.
type Record struct {
	Symbol    string  `json:"symbol" parquet:"symbol,dict"`
	Timeframe string  `json:"timeframe" parquet:"timeframe,dict"`
	Timestamp int64   `json:"t" parquet:"t"`
	Open      float64 `json:"o" parquet:"o"`
	High      float64 `json:"h" parquet:"h"`
	Low       float64 `json:"l" parquet:"l"`
	Close     float64 `json:"c" parquet:"c"`
	Volume    int64   `json:"v" parquet:"v"`
}

// FromBar converts a stored bar. Timestamp is in Unix milliseconds.
func FromBar(b models.Bar) Record {
	return Record{
		Symbol:    b.Symbol,
		Timeframe: b.Timeframe.String(),
		Timestamp: b.Timestamp.UnixMilli(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
}

// Time returns the bar timestamp in UTC.
func (r Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

// Writer saves bars to a local file.
type Writer interface {
	Write(bars []models.Bar, path string) error
	Extension() string
}

// NewWriter returns the writer for format (csv, json, parquet).
func NewWriter(format string) (Writer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatCSV:
		return CSVWriter{}, nil
	case FormatJSON:
		return JSONWriter{}, nil
	case FormatParquet:
		return ParquetWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q (use csv, json or parquet)", format)
	}
}

func toRecords(bars []models.Bar) []Record {
	out := make([]Record, len(bars))
	for i, b := range bars {
		out[i] = FromBar(b)
	}
	return out
}
