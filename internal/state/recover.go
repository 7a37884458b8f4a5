package state

import (
	"context"
	"fmt"
	"os"

	"github.com/yanun0323/logs"

	"tradepulse/internal/journal"
	"tradepulse/internal/model"
	"tradepulse/internal/model/enum"
)

// RecoverConfig controls snapshot + journal recovery.
type RecoverConfig struct {
	JournalDir      string
	SnapshotPath    string
	FilePrefix      string
	DisableChecksum bool
	MaxPayloadSize  int
}

// RecoverResult contains the rebuilt account books and how far the
// journal was consumed.
type RecoverResult struct {
	Accounts []model.AccountState
	LastSeq  uint64
	Fills    int
}

// Recover rebuilds account state at startup: load the snapshot when one
// exists, then replay the journal's fill records past the snapshot's
// sequence. A missing snapshot file or journal directory is an empty
// start, not an error.
func Recover(ctx context.Context, cfg RecoverConfig) (RecoverResult, error) {
	if cfg.JournalDir == "" {
		return RecoverResult{}, fmt.Errorf("journal dir is empty")
	}

	books := NewBooks()
	var lastSeq uint64

	if cfg.SnapshotPath != "" {
		snapshot, err := ReadSnapshot(cfg.SnapshotPath)
		switch {
		case os.IsNotExist(err):
			logs.Infof("no snapshot at %s, starting from journal only", cfg.SnapshotPath)
		case err != nil:
			return RecoverResult{}, err
		default:
			for _, rec := range snapshot.Accounts {
				books.ApplySnapshot(rec)
			}
			lastSeq = snapshot.LastSeq
		}
	}

	if _, err := os.Stat(cfg.JournalDir); os.IsNotExist(err) {
		return RecoverResult{Accounts: books.States(), LastSeq: lastSeq}, nil
	}

	pb, err := journal.NewPlayback(journal.PlaybackConfig{
		Dir:             cfg.JournalDir,
		FilePrefix:      cfg.FilePrefix,
		Speed:           0,
		DisableChecksum: cfg.DisableChecksum,
		MaxPayloadSize:  cfg.MaxPayloadSize,
	})
	if err != nil {
		return RecoverResult{}, err
	}

	fills := 0
	err = pb.Run(ctx, func(env journal.Envelope, payload []byte) error {
		if lastSeq > 0 && env.Seq <= lastSeq {
			return nil
		}
		if env.Seq > lastSeq {
			lastSeq = env.Seq
		}
		if env.Kind != enum.EventKindFill {
			return nil
		}
		fill, err := journal.DecodeFill(payload)
		if err != nil {
			return err
		}
		books.ApplyFill(fill)
		fills++
		return nil
	})
	if err != nil {
		return RecoverResult{}, err
	}

	return RecoverResult{
		Accounts: books.States(),
		LastSeq:  lastSeq,
		Fills:    fills,
	}, nil
}
