package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"mzlxgateway/internal/purchase"
)

// DLQ writes payouts that need reconciliation as one JSON file each.
type DLQ struct {
	dir    string
	logger *zap.Logger

	mu      sync.Mutex
	onWrite func(depth int)
}

func NewDLQ(dir string, logger *zap.Logger) *DLQ {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DLQ{dir: dir, logger: logger}
}

// Reconcile never fails; write errors are logged with the entry so the
// payout is still traceable from the logs.
func (q *DLQ) Reconcile(entry purchase.Reconciliation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	fields := []zap.Field{
		zap.String("status", entry.Status),
		zap.String("proof", entry.ProofTxHash),
		zap.String("payout", entry.PayoutTxHash),
		zap.String("buyer", entry.Buyer),
		zap.String("amount", entry.PayoutAmount),
	}
	if q.dir == "" {
		q.logger.Warn("dlq disabled, reconciliation entry only logged", fields...)
		return
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		q.logger.Error("dlq marshal", append(fields, zap.Error(err))...)
		return
	}
	if err := os.MkdirAll(q.dir, 0o755); err != nil {
		q.logger.Error("dlq mkdir", append(fields, zap.Error(err))...)
		return
	}

	name := entry.ProofTxHash
	if name == "" {
		name = entry.Buyer
	}
	filename := fmt.Sprintf("%d-%s.json", time.Now().UnixNano(), strings.ToLower(name))
	if err := os.WriteFile(filepath.Join(q.dir, filename), data, 0o600); err != nil {
		q.logger.Error("dlq write", append(fields, zap.Error(err))...)
		return
	}

	if q.onWrite != nil {
		q.onWrite(q.depthLocked())
	}
}

func (q *DLQ) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depthLocked()
}

func (q *DLQ) depthLocked() int {
	if q.dir == "" {
		return 0
	}
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			q.logger.Warn("dlq read", zap.Error(err))
		}
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n
}
