package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Status tracks a consumed proof through settlement.
type Status string

const (
	StatusPending       Status = "pending"
	StatusPaid          Status = "paid"
	StatusPayoutFailed  Status = "payout_failed"
	StatusIndeterminate Status = "indeterminate"
)

// ErrAlreadyClaimed is returned by Claim when the proof hash has a record.
var ErrAlreadyClaimed = errors.New("proof already claimed")

// Record is the outcome stored against a consumed proof transaction hash.
type Record struct {
	ProofHash    string    `json:"proofHash"`
	Buyer        string    `json:"buyer"`
	StableAmount string    `json:"stableAmount"`
	PayoutAmount string    `json:"payoutAmount"`
	PayoutTxHash string    `json:"payoutTxHash,omitempty"`
	Status       Status    `json:"status"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store is the append-only record of consumed proofs.
type Store interface {
	// Get returns nil, nil when the proof has not been claimed.
	Get(ctx context.Context, proofHash string) (*Record, error)
	// Claim inserts rec unless its proof hash already exists.
	Claim(ctx context.Context, rec Record) error
	// Update replaces the record of an already claimed proof.
	Update(ctx context.Context, rec Record) error
	// Release removes a pending claim that never led to a payout submission.
	// Settled records are kept.
	Release(ctx context.Context, proofHash string) error
}

// Key normalizes a proof hash for storage.
func Key(proofHash string) string {
	return strings.ToLower(strings.TrimSpace(proofHash))
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Record),
	}
}

func (m *MemoryStore) Get(_ context.Context, proofHash string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[Key(proofHash)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Claim(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(rec.ProofHash)
	if _, ok := m.data[key]; ok {
		return ErrAlreadyClaimed
	}
	m.data[key] = rec
	return nil
}

func (m *MemoryStore) Update(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[Key(rec.ProofHash)] = rec
	return nil
}

func (m *MemoryStore) Release(_ context.Context, proofHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(proofHash)
	if rec, ok := m.data[key]; ok && rec.Status == StatusPending {
		delete(m.data, key)
	}
	return nil
}

// FileStore persists records to a JSON file. Suitable for a single instance.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]Record
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string]Record),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, &f.data)
}

// persist writes through a temp file so a crash never truncates the ledger.
func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Get(_ context.Context, proofHash string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.data[Key(proofHash)]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (f *FileStore) Claim(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := Key(rec.ProofHash)
	if _, ok := f.data[key]; ok {
		return ErrAlreadyClaimed
	}
	f.data[key] = rec
	if err := f.persist(); err != nil {
		delete(f.data, key)
		return err
	}
	return nil
}

func (f *FileStore) Update(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[Key(rec.ProofHash)] = rec
	return f.persist()
}

func (f *FileStore) Release(_ context.Context, proofHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := Key(proofHash)
	rec, ok := f.data[key]
	if !ok || rec.Status != StatusPending {
		return nil
	}
	delete(f.data, key)
	return f.persist()
}
