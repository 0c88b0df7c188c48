package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"projectledger/observability/audit"
	"projectledger/observability/metrics"
)

type jsonlRecord struct {
	Sequence  uint64          `json:"sequence"`
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	ProjectID uint64          `json:"project_id"`
	Event     json.RawMessage `json:"event"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
	CreatedAt string          `json:"created_at"`
}

// AuditJSONL builds a JSON Lines export for the supplied audit records and
// returns the serialised payload alongside a checksum. Each line embeds the
// stored event document as-is.
func AuditJSONL(records []audit.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, record := range records {
		line := jsonlRecord{
			Sequence:  record.Sequence,
			ID:        record.ID.String(),
			EventType: record.EventType,
			ProjectID: record.ProjectID,
			Event:     json.RawMessage(record.Payload),
			PrevHash:  record.PrevHash,
			Hash:      record.Hash,
			CreatedAt: record.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if !json.Valid(line.Event) {
			line.Event = json.RawMessage("null")
		}
		if err := encoder.Encode(line); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	metrics.Audit().ObserveExport("jsonl")
	return data, hex.EncodeToString(checksum[:]), nil
}
