package guard

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/adekunle-oj/wallet-core/internal/model"
	"github.com/adekunle-oj/wallet-core/internal/repository"
)

type stubLookup struct {
	entry *model.LedgerEntry
	err   error
	calls int
}

func (s *stubLookup) LookupLedgerEntryByReference(ctx context.Context, reference string) (*model.LedgerEntry, error) {
	s.calls++
	return s.entry, s.err
}

func TestAlreadyAppliedNotFound(t *testing.T) {
	store := &stubLookup{err: repository.ErrEntryNotFound}
	g := New(store, nil, zap.NewNop())

	applied, err := g.AlreadyApplied(context.Background(), "TX-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Fatal("expected not applied for missing entry")
	}
	if store.calls != 1 {
		t.Fatalf("expected one lookup, got %d", store.calls)
	}
}

func TestAlreadyAppliedFound(t *testing.T) {
	store := &stubLookup{entry: &model.LedgerEntry{Reference: "TX-1"}}
	g := New(store, nil, zap.NewNop())

	applied, err := g.AlreadyApplied(context.Background(), "TX-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied {
		t.Fatal("expected applied for existing entry")
	}
}

func TestAlreadyAppliedStorageError(t *testing.T) {
	storageErr := errors.New("connection refused")
	store := &stubLookup{err: storageErr}
	g := New(store, nil, zap.NewNop())

	_, err := g.AlreadyApplied(context.Background(), "TX-1")
	if !errors.Is(err, storageErr) {
		t.Fatalf("expected storage error to propagate, got %v", err)
	}
}
