package keeperd

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// ExportReports writes the recent sweep history as CSV and Parquet files
// under dir, returning the two paths.
func ExportReports(ctx context.Context, history *History, dir string, limit int, now time.Time) (string, string, error) {
	sweeps, err := history.Recent(ctx, limit)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create report dir: %w", err)
	}
	base := filepath.Join(dir, "sweeps_"+now.UTC().Format("20060102T150405Z"))
	csvPath := base + ".csv"
	if err := writeCSV(csvPath, sweeps); err != nil {
		return "", "", err
	}
	parquetPath := base + ".parquet"
	if err := writeParquet(parquetPath, sweeps); err != nil {
		return "", "", err
	}
	return csvPath, parquetPath, nil
}

func writeCSV(path string, sweeps []Sweep) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	header := []string{"id", "correlation_id", "started_at", "duration_ms", "released", "active", "outcome", "detail"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, sweep := range sweeps {
		record := []string{
			strconv.FormatInt(sweep.ID, 10),
			sweep.CorrelationID,
			sweep.StartedAt.UTC().Format(time.RFC3339),
			strconv.FormatInt(sweep.Duration.Milliseconds(), 10),
			strconv.Itoa(sweep.Released),
			strconv.Itoa(sweep.Active),
			sweep.Outcome,
			sweep.Detail,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

type parquetSweep struct {
	ID            int64  `parquet:"name=id, type=INT64"`
	CorrelationID string `parquet:"name=correlation_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	StartedAt     string `parquet:"name=started_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	DurationMS    int64  `parquet:"name=duration_ms, type=INT64"`
	Released      int32  `parquet:"name=released, type=INT32"`
	Active        int32  `parquet:"name=active, type=INT32"`
	Outcome       string `parquet:"name=outcome, type=BYTE_ARRAY, convertedtype=UTF8"`
	Detail        string `parquet:"name=detail, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, sweeps []Sweep) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetSweep), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, sweep := range sweeps {
		row := &parquetSweep{
			ID:            sweep.ID,
			CorrelationID: sweep.CorrelationID,
			StartedAt:     sweep.StartedAt.UTC().Format(time.RFC3339),
			DurationMS:    sweep.Duration.Milliseconds(),
			Released:      int32(sweep.Released),
			Active:        int32(sweep.Active),
			Outcome:       sweep.Outcome,
			Detail:        sweep.Detail,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close parquet file: %w", err)
	}
	return nil
}
