package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
	"time"

	"projectledger/observability/audit"
	"projectledger/observability/metrics"
)

var csvHeader = []string{"sequence", "id", "event_type", "project_id", "payload", "prev_hash", "hash", "created_at"}

// AuditCSV builds a CSV export for the supplied audit records and returns the
// serialised data alongside a SHA-256 checksum of the payload.
func AuditCSV(records []audit.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(csvHeader); err != nil {
		return nil, "", err
	}
	for _, record := range records {
		row := []string{
			strconv.FormatUint(record.Sequence, 10),
			record.ID.String(),
			record.EventType,
			strconv.FormatUint(record.ProjectID, 10),
			record.Payload,
			record.PrevHash,
			record.Hash,
			record.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	metrics.Audit().ObserveExport("csv")
	return data, hex.EncodeToString(checksum[:]), nil
}
