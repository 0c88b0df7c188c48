package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"projectledger/core/events"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Open("sqlite", dsn)
	require.NoError(t, err)
	return db
}

func newTestStore(t *testing.T, db *gorm.DB) *Store {
	t.Helper()
	store, err := New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	store.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return store
}

func payEvent(projectID uint64, amount int64) events.Pay {
	return events.Pay{
		FundingCycleConfiguration: 1_000,
		FundingCycleNumber:        1,
		ProjectID:                 projectID,
		Payer:                     common.HexToAddress("0x01"),
		Beneficiary:               common.HexToAddress("0x02"),
		Amount:                    big.NewInt(amount),
		BeneficiaryTokenCount:     big.NewInt(amount * 10),
		Memo:                      "coffee",
	}
}

func TestAppendChainsRecords(t *testing.T) {
	store := newTestStore(t, openTestDB(t))
	ctx := context.Background()

	first, err := store.Append(ctx, payEvent(2, 5).Event())
	require.NoError(t, err)
	require.Equal(t, uint64(1), first.Sequence)
	require.Empty(t, first.PrevHash)
	require.Equal(t, uint64(2), first.ProjectID)
	require.Equal(t, events.TypePay, first.EventType)

	second, err := store.Append(ctx, events.SetFee{Fee: 10, Caller: common.HexToAddress("0x03")}.Event())
	require.NoError(t, err)
	require.Equal(t, uint64(2), second.Sequence)
	require.Equal(t, first.Hash, second.PrevHash)
	require.Zero(t, second.ProjectID)
	require.NoError(t, store.Verify(ctx))

	decoded, err := first.Event()
	require.NoError(t, err)
	require.Equal(t, "coffee", decoded.Attributes["memo"])
	require.Equal(t, payEvent(2, 5).Event().Keys, decoded.Keys)
}

func TestEmitAndRecent(t *testing.T) {
	store := newTestStore(t, openTestDB(t))
	for i := int64(1); i <= 5; i++ {
		store.Emit(payEvent(uint64(i), i))
	}
	recent, err := store.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, uint64(5), recent[0].Sequence)
	require.Equal(t, uint64(4), recent[1].Sequence)

	all, err := store.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 5)
}

func TestReopenResumesChain(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := newTestStore(t, db)
	head, err := store.Append(ctx, payEvent(2, 1).Event())
	require.NoError(t, err)

	reopened := newTestStore(t, db)
	next, err := reopened.Append(ctx, payEvent(2, 2).Event())
	require.NoError(t, err)
	require.Equal(t, uint64(2), next.Sequence)
	require.Equal(t, head.Hash, next.PrevHash)
	require.NoError(t, reopened.Verify(ctx))
}

func TestVerifyDetectsTampering(t *testing.T) {
	db := openTestDB(t)
	store := newTestStore(t, db)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		_, err := store.Append(ctx, payEvent(2, i).Event())
		require.NoError(t, err)
	}
	require.NoError(t, db.Model(&Record{}).Where("sequence = ?", 2).Update("payload", `{"type":"terminal.pay"}`).Error)
	require.ErrorIs(t, store.Verify(ctx), ErrChainBroken)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("oracle", "dsn")
	require.ErrorIs(t, err, ErrUnsupportedDriver)
}
