package state

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bytedance/sonic"

	"tradepulse/internal/journal"
	"tradepulse/internal/model"
)

// Snapshot captures every account book at a point in time, together with
// the journal sequence it covers. Recovery replays only fills journaled
// after LastSeq.
type Snapshot struct {
	Timestamp int64                    `json:"timestamp"`
	LastSeq   uint64                   `json:"lastSeq"`
	Accounts  []journal.SnapshotRecord `json:"accounts"`
}

// BuildSnapshot freezes the given account states.
func BuildSnapshot(accounts []model.AccountState, lastSeq uint64) Snapshot {
	records := make([]journal.SnapshotRecord, 0, len(accounts))
	for _, acct := range accounts {
		records = append(records, journal.SnapshotRecord{
			AccountID:              acct.AccountID,
			BuyingPower:            acct.BuyingPower,
			Positions:              acct.Positions,
			MaxOrderSize:           acct.MaxOrderSize,
			PerSymbolExposureLimit: acct.PerSymbolExposureLimit,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].AccountID < records[j].AccountID
	})
	return Snapshot{
		Timestamp: time.Now().UTC().UnixNano(),
		LastSeq:   lastSeq,
		Accounts:  records,
	}
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := sonic.ConfigFastest.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.ConfigFastest.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
