// Package audit persists committed ledger events to an append-only SQL log.
// Every record carries the blake3 hash of its predecessor so tampering with a
// stored row breaks the chain.
package audit

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"projectledger/core/events"
	"projectledger/core/types"
	"projectledger/observability/metrics"
)

var (
	// ErrChainBroken is returned by Verify when a stored record does not hash
	// to the value its successor expects.
	ErrChainBroken = errors.New("audit: hash chain broken")
	// ErrUnsupportedDriver is returned by Open for unknown driver names.
	ErrUnsupportedDriver = errors.New("audit: unsupported driver")
)

// Record is one persisted event.
type Record struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence  uint64    `gorm:"uniqueIndex;not null"`
	EventType string    `gorm:"size:64;index"`
	ProjectID uint64    `gorm:"index"`
	Payload   string    `gorm:"type:text;not null"`
	PrevHash  string    `gorm:"size:64"`
	Hash      string    `gorm:"size:64;uniqueIndex"`
	CreatedAt time.Time
}

// Event decodes the stored payload.
func (r Record) Event() (*types.Event, error) {
	var evt types.Event
	if err := json.Unmarshal([]byte(r.Payload), &evt); err != nil {
		return nil, fmt.Errorf("audit: decode record %d: %w", r.Sequence, err)
	}
	return &evt, nil
}

// Open connects to the audit database. Supported drivers are "sqlite" and
// "postgres".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	return db, nil
}

// Store appends events to the audit table. It implements events.Emitter so it
// can sit behind the executor's commit fanout.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sequence uint64
	lastHash string
}

// New migrates the schema and resumes the chain from the latest record.
func New(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("audit: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	s := &Store{db: db, logger: logger, now: time.Now}
	var last Record
	err := db.Order("sequence desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("audit: load head: %w", err)
	}
	if last.ID != uuid.Nil {
		s.sequence = last.Sequence
		s.lastHash = last.Hash
	}
	return s, nil
}

// SetClock overrides the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Emit implements events.Emitter. Failures are logged since emitters cannot
// report errors back to the committed operation.
func (s *Store) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	if _, err := s.Append(context.Background(), evt.Event()); err != nil {
		metrics.Audit().IncAppendFailure(evt.EventType())
		s.logger.Error("audit append failed", slog.String("event", evt.EventType()), slog.Any("error", err))
	}
}

// Append stores evt as the next record of the chain.
func (s *Store) Append(ctx context.Context, evt *types.Event) (*Record, error) {
	if evt == nil {
		return nil, errors.New("audit: nil event")
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("audit: encode event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := &Record{
		ID:        uuid.New(),
		Sequence:  s.sequence + 1,
		EventType: evt.Type,
		ProjectID: projectOf(evt),
		Payload:   string(payload),
		PrevHash:  s.lastHash,
		CreatedAt: s.now().UTC(),
	}
	record.Hash = chainHash(record.PrevHash, record.Sequence, record.EventType, payload)
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("audit: insert: %w", err)
	}
	s.sequence = record.Sequence
	s.lastHash = record.Hash
	metrics.Audit().ObserveAppend(record.EventType, record.Sequence)
	return record, nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []Record
	if err := s.db.WithContext(ctx).Order("sequence desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	return records, nil
}

// All returns every record in sequence order.
func (s *Store) All(ctx context.Context) ([]Record, error) {
	var records []Record
	if err := s.db.WithContext(ctx).Order("sequence asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	return records, nil
}

// Verify walks the table and recomputes the hash chain.
func (s *Store) Verify(ctx context.Context) error {
	records, err := s.All(ctx)
	if err != nil {
		return err
	}
	prev := ""
	for i, record := range records {
		if record.Sequence != uint64(i+1) {
			return fmt.Errorf("%w: sequence gap at %d", ErrChainBroken, record.Sequence)
		}
		if record.PrevHash != prev {
			return fmt.Errorf("%w: record %d links to %s", ErrChainBroken, record.Sequence, record.PrevHash)
		}
		expected := chainHash(record.PrevHash, record.Sequence, record.EventType, []byte(record.Payload))
		if record.Hash != expected {
			return fmt.Errorf("%w: record %d hash mismatch", ErrChainBroken, record.Sequence)
		}
		prev = record.Hash
	}
	return nil
}

func chainHash(prev string, sequence uint64, eventType string, payload []byte) string {
	var buf bytes.Buffer
	buf.WriteString(prev)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], sequence)
	buf.Write(seq[:])
	buf.WriteString(eventType)
	buf.Write(payload)
	sum := blake3.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

func projectOf(evt *types.Event) uint64 {
	raw, ok := evt.Attributes["projectId"]
	if !ok {
		return 0
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
