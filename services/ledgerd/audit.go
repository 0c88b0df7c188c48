package ledgerd

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"projectledger/integrations/exports"
	"projectledger/observability/audit"
)

const maxAuditLimit = 1000

type auditRecordResponse struct {
	Sequence  uint64 `json:"sequence"`
	EventType string `json:"type"`
	ProjectID uint64 `json:"projectId,omitempty"`
	Payload   string `json:"payload"`
	PrevHash  string `json:"prevHash"`
	Hash      string `json:"hash"`
	CreatedAt string `json:"createdAt"`
}

func (s *Server) requireAudit(w http.ResponseWriter) bool {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "AUDIT_DISABLED", "audit log not configured")
		return false
	}
	return true
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if !s.requireAudit(w) {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxAuditLimit {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}
	records, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	out := make([]auditRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, auditRecordResponse{
			Sequence:  rec.Sequence,
			EventType: rec.EventType,
			ProjectID: rec.ProjectID,
			Payload:   rec.Payload,
			PrevHash:  rec.PrevHash,
			Hash:      rec.Hash,
			CreatedAt: rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if !s.requireAudit(w) {
		return
	}
	err := s.audit.Verify(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"valid": true})
	case errors.Is(err, audit.ErrChainBroken):
		writeJSON(w, http.StatusConflict, map[string]any{"valid": false, "error": err.Error()})
	default:
		s.writeOperationError(w, r, err)
	}
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if !s.requireAudit(w) {
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "jsonl"
	}
	records, err := s.audit.All(r.Context())
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	var (
		data        []byte
		checksum    string
		contentType string
	)
	switch format {
	case "csv":
		data, checksum, err = exports.AuditCSV(records)
		contentType = "text/csv"
	case "jsonl":
		data, checksum, err = exports.AuditJSONL(records)
		contentType = "application/x-ndjson"
	case "parquet":
		data, checksum, err = parquetExport(records)
		contentType = "application/vnd.apache.parquet"
	default:
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "format must be csv, jsonl or parquet")
		return
	}
	if err != nil {
		s.writeOperationError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=audit."+format)
	w.Header().Set("X-Checksum-Sha256", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// parquetExport writes through a temporary file because the parquet writer
// needs a seekable target.
func parquetExport(records []audit.Record) ([]byte, string, error) {
	tmp, err := os.CreateTemp("", "audit-*.parquet")
	if err != nil {
		return nil, "", err
	}
	path := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(path)

	checksum, err := exports.AuditParquet(path, records)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}
	return data, checksum, nil
}
