package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepulse/internal/journal"
	"tradepulse/internal/model"
	"tradepulse/internal/model/enum"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fillAt(orderID string, side enum.OrderSide, qty int64, price string) model.Fill {
	return model.Fill{
		OrderID:   orderID,
		Symbol:    "AAPL",
		Side:      side,
		Quantity:  qty,
		Price:     dec(price),
		AccountID: "acct-1",
		FilledAt:  time.Now().UTC(),
	}
}

func TestBooksApplyFill(t *testing.T) {
	books := NewBooks()
	books.ApplySnapshot(journal.SnapshotRecord{
		AccountID:   "acct-1",
		BuyingPower: dec("10000"),
		Positions:   map[string]int64{"AAPL": 5},
	})

	pos := books.ApplyFill(journal.FillRecord{
		OrderID: "ord-1", Symbol: "AAPL", Side: "BUY",
		Quantity: 10, Price: dec("100"), AccountID: "acct-1",
	})
	assert.Equal(t, int64(15), pos)

	pos = books.ApplyFill(journal.FillRecord{
		OrderID: "ord-2", Symbol: "AAPL", Side: "SELL",
		Quantity: 5, Price: dec("120"), AccountID: "acct-1",
	})
	assert.Equal(t, int64(10), pos)

	acct, ok := books.Account("acct-1")
	require.True(t, ok)
	// 10000 - 1000 + 600
	assert.True(t, acct.BuyingPower.Equal(dec("9600")), "buying power %s", acct.BuyingPower)
}

func TestBooksUnknownAccountCreated(t *testing.T) {
	books := NewBooks()
	books.ApplyFill(journal.FillRecord{
		OrderID: "ord-1", Symbol: "TCS", Side: "BUY",
		Quantity: 2, Price: dec("50"), AccountID: "acct-9",
	})
	acct, ok := books.Account("acct-9")
	require.True(t, ok)
	assert.Equal(t, int64(2), acct.Positions["TCS"])
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "accounts.json")
	snap := BuildSnapshot([]model.AccountState{{
		AccountID:    "acct-1",
		BuyingPower:  dec("2500"),
		Positions:    map[string]int64{"AAPL": 50},
		MaxOrderSize: 100,
	}}, 7)

	require.NoError(t, WriteSnapshot(path, snap))
	loaded, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), loaded.LastSeq)
	require.Len(t, loaded.Accounts, 1)
	assert.True(t, loaded.Accounts[0].BuyingPower.Equal(dec("2500")))
	assert.Equal(t, int64(50), loaded.Accounts[0].Positions["AAPL"])
}

func TestRecoverSnapshotPlusJournalTail(t *testing.T) {
	dir := t.TempDir()
	journalDir := filepath.Join(dir, "journal")
	snapshotPath := filepath.Join(dir, "accounts.json")

	j, err := journal.New(journal.DefaultConfig(journalDir))
	require.NoError(t, err)
	require.NoError(t, j.Start(context.Background()))
	require.NoError(t, j.AppendFill(1, fillAt("ord-1", enum.OrderSideBuy, 10, "100")))
	require.NoError(t, j.AppendFill(2, fillAt("ord-2", enum.OrderSideBuy, 10, "100")))
	require.NoError(t, j.AppendFill(3, fillAt("ord-3", enum.OrderSideSell, 5, "110")))
	require.NoError(t, j.Close())

	// snapshot covers seq 1 (ord-1 already folded in)
	require.NoError(t, WriteSnapshot(snapshotPath, Snapshot{
		Timestamp: time.Now().UTC().UnixNano(),
		LastSeq:   1,
		Accounts: []journal.SnapshotRecord{{
			AccountID:   "acct-1",
			BuyingPower: dec("9000"),
			Positions:   map[string]int64{"AAPL": 10},
		}},
	}))

	result, err := Recover(context.Background(), RecoverConfig{
		JournalDir:   journalDir,
		SnapshotPath: snapshotPath,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Fills)
	assert.Equal(t, uint64(3), result.LastSeq)

	require.Len(t, result.Accounts, 1)
	acct := result.Accounts[0]
	// 10 + 10 - 5
	assert.Equal(t, int64(15), acct.Positions["AAPL"])
	// 9000 - 1000 + 550
	assert.True(t, acct.BuyingPower.Equal(dec("8550")), "buying power %s", acct.BuyingPower)
}

func TestRecoverWithoutSnapshotOrJournal(t *testing.T) {
	result, err := Recover(context.Background(), RecoverConfig{
		JournalDir:   filepath.Join(t.TempDir(), "missing"),
		SnapshotPath: filepath.Join(t.TempDir(), "missing.json"),
	})
	require.NoError(t, err)
	assert.Empty(t, result.Accounts)
	assert.Zero(t, result.LastSeq)
}
