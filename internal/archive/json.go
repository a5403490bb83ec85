package archive

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// JSONWriter writes an indented array of records.
type JSONWriter struct{}

func (JSONWriter) Extension() string { return FormatJSON }

func (JSONWriter) Write(bars []models.Bar, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(toRecords(bars)); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
