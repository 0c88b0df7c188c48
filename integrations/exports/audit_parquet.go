package exports

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"projectledger/observability/audit"
	"projectledger/observability/metrics"
)

// ParquetRow is the columnar layout of an exported audit record.
type ParquetRow struct {
	Sequence  int64  `parquet:"name=sequence, type=INT64"`
	ID        string `parquet:"name=id, type=UTF8"`
	EventType string `parquet:"name=event_type, type=UTF8, encoding=PLAIN_DICTIONARY"`
	ProjectID int64  `parquet:"name=project_id, type=INT64"`
	Payload   string `parquet:"name=payload, type=UTF8"`
	PrevHash  string `parquet:"name=prev_hash, type=UTF8"`
	Hash      string `parquet:"name=hash, type=UTF8"`
	CreatedAt string `parquet:"name=created_at, type=UTF8"`
}

// AuditParquet writes the records to a snappy compressed parquet file at path
// and returns the SHA-256 checksum of the file.
func AuditParquet(path string, records []audit.Record) (string, error) {
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("exports: create parquet: %w", err)
	}
	hasher := sha256.New()
	fw := writerfile.NewWriterFile(io.MultiWriter(file, hasher))
	pw, err := writer.NewParquetWriter(fw, new(ParquetRow), 1)
	if err != nil {
		file.Close()
		return "", fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, record := range records {
		row := &ParquetRow{
			Sequence:  int64(record.Sequence),
			ID:        record.ID.String(),
			EventType: record.EventType,
			ProjectID: int64(record.ProjectID),
			Payload:   record.Payload,
			PrevHash:  record.PrevHash,
			Hash:      record.Hash,
			CreatedAt: record.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return "", fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return "", fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("exports: close parquet file: %w", err)
	}
	metrics.Audit().ObserveExport("parquet")
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
