package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/uhyunpark/hyperswap/pkg/abci"
)

// JournalEntry records the outcome of one executed transaction.
type JournalEntry struct {
	Height int64 `json:"h"`
	Index  int   `json:"i"`
	abci.TxResult
}

// WAL journals executed transactions for operators. Recovery never reads
// it; the Pebble state is authoritative.
type WAL interface {
	Append(height int64, results []abci.TxResult) error
}

type NopWAL struct{}

func NewNopWAL() NopWAL { return NopWAL{} }

func (NopWAL) Append(int64, []abci.TxResult) error { return nil }

// FileWAL appends one JSON object per transaction to a file and flushes
// once per block.
type FileWAL struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func NewFileWAL(path string) (*FileWAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	return &FileWAL{f: f, w: bufio.NewWriter(f)}, nil
}

func (w *FileWAL) Append(height int64, results []abci.TxResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	enc := json.NewEncoder(w.w)
	for i, r := range results {
		if err := enc.Encode(JournalEntry{Height: height, Index: i, TxResult: r}); err != nil {
			return err
		}
	}
	return w.w.Flush()
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(w.w.Flush(), w.f.Close())
}

// ReadWAL decodes every entry of a journal file in append order.
func ReadWAL(path string) ([]JournalEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []JournalEntry
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		var e JournalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("wal line %d: %w", line, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

var (
	_ WAL = NopWAL{}
	_ WAL = (*FileWAL)(nil)
)
