package recovery

import (
	"fmt"

	"github.com/cuemby/kvaerner/internal/checkpoint"
	"github.com/cuemby/kvaerner/internal/logging"
	"github.com/cuemby/kvaerner/internal/wal"
)

// Target applies a committed operation to the live tree set. The
// session/meta layer implements this once both exist; recovery has no
// dependency of its own on how a uri maps to an open btree (same
// injected-callback shape internal/checkpoint uses for its metadata
// write-back).
type Target interface {
	Put(uri string, key, value []byte) error
	Remove(uri string, key []byte) error
}

// Config controls a recovery pass.
type Config struct {
	// ForceCheckpoint, if set, is called once replay finishes
	// successfully, forcing a fresh checkpoint immediately after
	// recovery so the replayed log segment is never needed again.
	ForceCheckpoint func() error
}

// Result summarizes one recovery pass.
type Result struct {
	StartLSN            wal.LSN // where replay began (one past the last CKPT_STOP found)
	RecordsScanned      int
	TransactionsApplied int
	TransactionsDropped int // committed-nothing-to-apply doesn't count; this is abort + never-committed
	OpsApplied          int
}

type pendingTxn struct {
	ops []Op
}

// Recover runs both passes against log and applies every committed
// transaction's operations to target, in commit order.
func Recover(log *wal.Log, target Target, cfg Config) (*Result, error) {
	logger := logging.WithComponent("recovery")

	startLSN, err := findReplayStart(log)
	if err != nil {
		return nil, fmt.Errorf("recovery: metadata pass: %w", err)
	}
	logger.Info().Str("start_lsn", startLSN.String()).Msg("recovery: resuming replay after last checkpoint")

	result := &Result{StartLSN: startLSN}
	txns := make(map[uint64]*pendingTxn)
	var commitOrder []uint64

	err = log.Scan(startLSN, func(record []byte, lsn, next wal.LSN) (bool, error) {
		result.RecordsScanned++

		op, ok := DecodeOp(record)
		if !ok {
			// Not one of this package's records (e.g. a checkpoint
			// marker mid-log from a prior, still-open checkpoint
			// attempt); operation replay ignores it.
			return true, nil
		}

		switch op.Kind {
		case opPut, opRemove:
			t := txns[op.TxnID]
			if t == nil {
				t = &pendingTxn{}
				txns[op.TxnID] = t
			}
			t.ops = append(t.ops, op)
		case opCommit:
			if _, ok := txns[op.TxnID]; ok {
				commitOrder = append(commitOrder, op.TxnID)
			}
		case opAbort:
			if _, ok := txns[op.TxnID]; ok {
				result.TransactionsDropped++
			}
			delete(txns, op.TxnID)
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("recovery: replay pass: %w", err)
	}

	for _, txnID := range commitOrder {
		t, ok := txns[txnID]
		if !ok {
			continue // committed twice, or committed then a later record already consumed it
		}
		delete(txns, txnID)
		for _, op := range t.ops {
			if err := apply(target, op); err != nil {
				return nil, fmt.Errorf("recovery: replay txn %d: %w", txnID, err)
			}
			result.OpsApplied++
		}
		result.TransactionsApplied++
	}
	result.TransactionsDropped += len(txns) // never committed by end of log: crashed mid-transaction

	logger.Info().
		Int("records_scanned", result.RecordsScanned).
		Int("txns_applied", result.TransactionsApplied).
		Int("txns_dropped", result.TransactionsDropped).
		Int("ops_applied", result.OpsApplied).
		Msg("recovery: replay complete")

	if cfg.ForceCheckpoint != nil {
		if err := cfg.ForceCheckpoint(); err != nil {
			return result, fmt.Errorf("recovery: forced post-recovery checkpoint: %w", err)
		}
	}
	return result, nil
}

func apply(target Target, op Op) error {
	switch op.Kind {
	case opPut:
		return target.Put(op.URI, op.Key, op.Value)
	case opRemove:
		return target.Remove(op.URI, op.Key)
	default:
		return fmt.Errorf("recovery: op kind %d is not replayable", op.Kind)
	}
}

// findReplayStart is the metadata-only pass: scan the whole log once,
// noting the LSN immediately after the last CKPT_STOP record, without
// interpreting any operation records. If no checkpoint has ever
// completed, replay starts from the very beginning of the log.
func findReplayStart(log *wal.Log) (wal.LSN, error) {
	var lastStop wal.LSN
	found := false

	err := log.Scan(wal.LSN{File: 1, Offset: 0}, func(record []byte, lsn, next wal.LSN) (bool, error) {
		op, _, _, ok := checkpoint.DecodeMarker(record)
		if ok && op == checkpoint.OpStop {
			lastStop = next
			found = true
		}
		return true, nil
	})
	if err != nil {
		return wal.LSN{}, err
	}
	if !found {
		return wal.LSN{File: 1, Offset: 0}, nil
	}
	return lastStop, nil
}
