package exports

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"projectledger/observability/audit"
)

func sampleRecords() []audit.Record {
	created := time.Unix(1_700_000_000, 0).UTC()
	return []audit.Record{
		{
			ID:        uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2"),
			Sequence:  1,
			EventType: "terminal.pay",
			ProjectID: 2,
			Payload:   `{"type":"terminal.pay","attributes":{"memo":"coffee, black"}}`,
			Hash:      "aa",
			CreatedAt: created,
		},
		{
			ID:        uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad3"),
			Sequence:  2,
			EventType: "terminal.set_fee",
			Payload:   `{"type":"terminal.set_fee","attributes":{"fee":"10"}}`,
			PrevHash:  "aa",
			Hash:      "bb",
			CreatedAt: created.Add(time.Second),
		},
	}
}

func TestAuditCSV(t *testing.T) {
	data, checksum, err := AuditCSV(sampleRecords())
	require.NoError(t, err)
	sum := sha256.Sum256(data)
	require.Equal(t, hex.EncodeToString(sum[:]), checksum)

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, csvHeader, rows[0])
	require.Equal(t, "1", rows[1][0])
	require.Equal(t, "terminal.pay", rows[1][2])
	require.Contains(t, rows[1][4], "coffee, black")
	require.Equal(t, "aa", rows[2][5])
	require.Equal(t, "2023-11-14T22:13:21Z", rows[2][7])
}

func TestAuditJSONL(t *testing.T) {
	data, checksum, err := AuditJSONL(sampleRecords())
	require.NoError(t, err)
	require.Len(t, checksum, 64)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	var lines []map[string]any
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	require.Equal(t, float64(2), lines[0]["project_id"])
	event := lines[0]["event"].(map[string]any)
	require.Equal(t, "terminal.pay", event["type"])
	require.Equal(t, "bb", lines[1]["hash"])
}

func TestAuditParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.parquet")
	checksum, err := AuditParquet(path, sampleRecords())
	require.NoError(t, err)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := sha256.Sum256(contents)
	require.Equal(t, hex.EncodeToString(sum[:]), checksum)

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(ParquetRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(2), pr.GetNumRows())

	rows := make([]ParquetRow, 2)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, int64(1), rows[0].Sequence)
	require.Equal(t, "terminal.set_fee", rows[1].EventType)
	require.Equal(t, "aa", rows[1].PrevHash)
}
