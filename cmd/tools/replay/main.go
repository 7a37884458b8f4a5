package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tradepulse/internal/journal"
	"tradepulse/internal/model/enum"
)

func main() {
	dir := flag.String("dir", "testdata/journal", "Journal directory")
	prefix := flag.String("prefix", "", "Journal file prefix (default: wal)")
	speed := flag.Float64("speed", 0, "Playback speed (1=real-time, 0=no pacing)")
	useRecv := flag.Bool("use-recv-time", false, "Use receive timestamp for pacing")
	noChecksum := flag.Bool("no-checksum", false, "Disable checksum validation")
	maxPayload := flag.Int("max-payload", 0, "Max payload size in bytes (0=unlimited)")
	kindFilter := flag.String("kind", "", "Only show one record kind: tick|decision|fill|snapshot")
	orderFilter := flag.String("order", "", "Only show records for one order id")
	fromSeq := flag.Uint64("from-seq", 0, "Skip records at or below this sequence")
	decode := flag.Bool("decode", false, "Decode payloads")
	flag.Parse()

	pb, err := journal.NewPlayback(journal.PlaybackConfig{
		Dir:             *dir,
		FilePrefix:      *prefix,
		Speed:           *speed,
		UseRecvTime:     *useRecv,
		DisableChecksum: *noChecksum,
		MaxPayloadSize:  *maxPayload,
	})
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	counts := make(map[enum.EventKind]int)
	var index int
	err = pb.Run(ctx, func(env journal.Envelope, payload []byte) error {
		counts[env.Kind]++
		if env.Seq <= *fromSeq {
			return nil
		}
		if *kindFilter != "" && env.Kind.String() != *kindFilter {
			return nil
		}
		if *orderFilter != "" && !matchesOrder(env.Kind, payload, *orderFilter) {
			return nil
		}

		index++
		fmt.Printf("%06d seq=%d kind=%s trace=%d ts_event=%d ts_recv=%d len=%d\n",
			index, env.Seq, env.Kind, env.TraceID, env.TsEvent, env.TsRecv, len(payload))
		if *decode {
			printDecoded(env.Kind, payload)
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		log.Fatalf("playback run failed: %v", err)
	}

	fmt.Printf("total: %d ticks, %d decisions, %d fills, %d snapshots\n",
		counts[enum.EventKindTick], counts[enum.EventKindDecision],
		counts[enum.EventKindFill], counts[enum.EventKindSnapshot])
}

func matchesOrder(kind enum.EventKind, payload []byte, orderID string) bool {
	switch kind {
	case enum.EventKindDecision:
		record, err := journal.DecodeDecision(payload)
		return err == nil && record.OrderID == orderID
	case enum.EventKindFill:
		record, err := journal.DecodeFill(payload)
		return err == nil && record.OrderID == orderID
	default:
		return false
	}
}

func printDecoded(kind enum.EventKind, payload []byte) {
	switch kind {
	case enum.EventKindTick:
		record, err := journal.DecodeTick(payload)
		if err != nil {
			fmt.Println("  decode tick failed")
			return
		}
		fmt.Printf("  tick symbol=%s price=%s volume=%d provider=%s\n",
			record.Symbol, record.Price, record.Volume, record.ProviderID)
	case enum.EventKindDecision:
		record, err := journal.DecodeDecision(payload)
		if err != nil {
			fmt.Println("  decode decision failed")
			return
		}
		fmt.Printf("  decision order=%s account=%s outcome=%s reason=%s notional=%s\n",
			record.OrderID, record.AccountID, record.Outcome, record.Reason, record.Notional)
	case enum.EventKindFill:
		record, err := journal.DecodeFill(payload)
		if err != nil {
			fmt.Println("  decode fill failed")
			return
		}
		fmt.Printf("  fill order=%s symbol=%s side=%s qty=%d price=%s account=%s\n",
			record.OrderID, record.Symbol, record.Side, record.Quantity, record.Price, record.AccountID)
	case enum.EventKindSnapshot:
		record, err := journal.DecodeSnapshot(payload)
		if err != nil {
			fmt.Println("  decode snapshot failed")
			return
		}
		fmt.Printf("  snapshot account=%s buying_power=%s positions=%d\n",
			record.AccountID, record.BuyingPower, len(record.Positions))
	}
}
