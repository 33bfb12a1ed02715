package persistence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"PortfolioLedger/internal/observability"
)

// ============================================================================
// Test: MemoryStore
// ============================================================================

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); ok || err != nil {
		t.Errorf("missing key: got ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}

	v, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || v != "v2" {
		t.Errorf("Get: got %q/%v/%v, want v2/true/nil", v, ok, err)
	}
}

// ============================================================================
// Test: FileStore
// ============================================================================

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, KeyPortfolio); ok || err != nil {
		t.Errorf("missing key: got ok=%v err=%v", ok, err)
	}

	if err := s.Set(ctx, KeyPortfolio, `{"cash_balance":1}`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, ok, err := s.Get(ctx, KeyPortfolio)
	if err != nil || !ok || v != `{"cash_balance":1}` {
		t.Errorf("Get: got %q/%v/%v", v, ok, err)
	}

	// One file per key, no stray temp files left behind.
	if _, err := os.Stat(filepath.Join(dir, KeyPortfolio+".json")); err != nil {
		t.Errorf("document file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, KeyPortfolio+".json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file should be renamed away")
	}
}

func TestFileStore_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	if _, err := NewFileStore(dir); err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory not created: %v", err)
	}
}

// ============================================================================
// Test: FlushWorker
// ============================================================================

// failingStore fails every Set until unblocked.
type failingStore struct {
	*MemoryStore
	failing atomic.Bool
}

func (f *failingStore) Set(ctx context.Context, key, value string) error {
	if f.failing.Load() {
		return errors.New("backend down")
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func TestFlushWorker_CoalescesAndWrites(t *testing.T) {
	store := NewMemoryStore()
	input := make(chan Document, 16)
	w := NewFlushWorker(store, input, 10*time.Millisecond, observability.NewTestMetrics(), zerolog.Nop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(context.Background())
	}()

	input <- Document{Key: KeyTrades, Value: "v1"}
	input <- Document{Key: KeyTrades, Value: "v2"}
	input <- Document{Key: KeyConfig, Value: "c1"}
	close(input)
	<-done

	v, ok, _ := store.Get(context.Background(), KeyTrades)
	if !ok || v != "v2" {
		t.Errorf("trades: got %q/%v, want coalesced v2", v, ok)
	}
	if v, ok, _ := store.Get(context.Background(), KeyConfig); !ok || v != "c1" {
		t.Errorf("config: got %q/%v", v, ok)
	}
}

func TestFlushWorker_RetriesFailedWrites(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore()}
	store.failing.Store(true)
	input := make(chan Document, 16)
	w := NewFlushWorker(store, input, 5*time.Millisecond, observability.NewTestMetrics(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	input <- Document{Key: KeySnapshots, Value: "s1"}

	// Let at least one flush fail, then recover the backend.
	time.Sleep(30 * time.Millisecond)
	if _, ok, _ := store.MemoryStore.Get(context.Background(), KeySnapshots); ok {
		t.Fatal("write should have failed while backend was down")
	}
	store.failing.Store(false)

	// The pending document lands on a later tick, at the latest during
	// the shutdown flush.
	cancel()
	<-done

	v, ok, _ := store.MemoryStore.Get(context.Background(), KeySnapshots)
	if !ok || v != "s1" {
		t.Errorf("snapshots after recovery: got %q/%v, want s1", v, ok)
	}
}

func TestFlushWorker_FinalFlushOnCancel(t *testing.T) {
	store := NewMemoryStore()
	input := make(chan Document, 16)
	// Long timeout: the only flush that can happen is the shutdown one.
	w := NewFlushWorker(store, input, time.Hour, observability.NewTestMetrics(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != context.Canceled {
			t.Errorf("Run: got %v, want context.Canceled", err)
		}
	}()

	input <- Document{Key: KeyPortfolio, Value: "p1"}

	// Give the worker a moment to drain the channel before cancelling.
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	if v, ok, _ := store.Get(context.Background(), KeyPortfolio); !ok || v != "p1" {
		t.Errorf("portfolio after shutdown flush: got %q/%v, want p1", v, ok)
	}
}
