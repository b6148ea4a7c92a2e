package session

import (
	"testing"
	"time"

	"github.com/thushan/olla/internal/core/domain"
)

func TestTable_BindAndGet(t *testing.T) {
	tbl := New(10, time.Minute)
	defer tbl.Close()

	key := domain.SessionKey{CLIClass: domain.CLIClassA, SID: "s1"}
	tbl.BindSuccess(key, 42)

	b, ok := tbl.Get(key)
	if !ok {
		t.Fatal("expected binding to be present")
	}
	if b.ProviderID != 42 {
		t.Errorf("expected provider 42, got %d", b.ProviderID)
	}
}

func TestTable_ExpiresAfterTTL(t *testing.T) {
	tbl := New(10, 10*time.Millisecond)
	defer tbl.Close()

	key := domain.SessionKey{CLIClass: domain.CLIClassA, SID: "s1"}
	tbl.BindSuccess(key, 1)

	time.Sleep(25 * time.Millisecond)

	if _, ok := tbl.Get(key); ok {
		t.Fatal("expected binding to have expired")
	}
}

func TestTable_ClearBoundProvider(t *testing.T) {
	tbl := New(10, time.Minute)
	defer tbl.Close()

	key := domain.SessionKey{CLIClass: domain.CLIClassB, SID: "s2"}
	tbl.BindSuccess(key, 7)
	tbl.ClearBoundProvider(key, 7)

	b, ok := tbl.Get(key)
	if !ok {
		t.Fatal("expected binding to survive the clear, just unpinned")
	}
	if b.ProviderID != 0 {
		t.Errorf("expected provider id cleared to 0, got %d", b.ProviderID)
	}
}

func TestTable_EvictsOverflow(t *testing.T) {
	tbl := New(2, time.Minute)
	defer tbl.Close()

	k1 := domain.SessionKey{CLIClass: domain.CLIClassA, SID: "a"}
	k2 := domain.SessionKey{CLIClass: domain.CLIClassA, SID: "b"}
	k3 := domain.SessionKey{CLIClass: domain.CLIClassA, SID: "c"}

	tbl.BindSuccess(k1, 1)
	tbl.BindSuccess(k2, 2)
	tbl.BindSuccess(k3, 3)

	if tbl.Len() > 2 {
		t.Errorf("expected eviction to cap entries at 2, got %d", tbl.Len())
	}
	if _, ok := tbl.Get(k1); ok {
		t.Error("expected least-recently-used entry k1 to be evicted")
	}
}

func TestTable_BindSortMode(t *testing.T) {
	tbl := New(10, time.Minute)
	defer tbl.Close()

	key := domain.SessionKey{CLIClass: domain.CLIClassC, SID: "s3"}
	tbl.BindSortMode(key, 5, []int64{1, 2, 3})

	b, ok := tbl.Get(key)
	if !ok {
		t.Fatal("expected binding to be present")
	}
	if !b.HasSortMode || b.SortModeID != 5 {
		t.Errorf("expected sort mode 5 bound, got %+v", b)
	}
	if len(b.ProviderOrder) != 3 {
		t.Errorf("expected provider order of length 3, got %v", b.ProviderOrder)
	}
}
