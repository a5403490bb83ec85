package archive

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

var csvHeader = []string{"symbol", "timeframe", "timestamp", "open", "high", "low", "close", "volume"}

// CSVWriter writes one header row and one row per bar, timestamps in RFC 3339.
type CSVWriter struct{}

func (CSVWriter) Extension() string { return FormatCSV }

func (CSVWriter) Write(bars []models.Bar, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, b := range bars {
		row := []string{
			b.Symbol,
			b.Timeframe.String(),
			b.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatInt(b.Volume, 10),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
