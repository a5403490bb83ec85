package archive

import (
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/johnayoung/go-ohlcv-ingest/internal/models"
)

// ParquetWriter writes records with the Record schema.
type ParquetWriter struct{}

func (ParquetWriter) Extension() string { return FormatParquet }

func (ParquetWriter) Write(bars []models.Bar, path string) error {
	if err := parquet.WriteFile(path, toRecords(bars)); err != nil {
		return fmt.Errorf("failed to write parquet %s: %w", path, err)
	}
	return nil
}

// ReadParquet loads records written by ParquetWriter.
func ReadParquet(path string) ([]Record, error) {
	return parquet.ReadFile[Record](path)
}
