package selector

import (
	"context"
	"testing"

	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/internal/core/ports"
)

type fakeProviderStore struct {
	providers []*domain.Provider
}

func (f *fakeProviderStore) ListEnabledByCLIClass(ctx context.Context, cli domain.CLIClass) ([]*domain.Provider, error) {
	return f.providers, nil
}
func (f *fakeProviderStore) GetProvider(ctx context.Context, id int64) (*domain.Provider, error) {
	for _, p := range f.providers {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}
func (f *fakeProviderStore) Upsert(ctx context.Context, p *domain.Provider) error { return nil }
func (f *fakeProviderStore) Delete(ctx context.Context, id int64) error          { return nil }

type fakeSortModeStore struct{}

func (fakeSortModeStore) ActiveModeForCLIClass(ctx context.Context, cli domain.CLIClass) (int64, bool, error) {
	return 0, false, nil
}
func (fakeSortModeStore) ListProvidersInMode(ctx context.Context, sortModeID int64) ([]ports.SortModeEntry, error) {
	return nil, nil
}

type fakeSessionTable struct {
	bindings map[domain.SessionKey]domain.SessionBinding
}

func (f *fakeSessionTable) Get(key domain.SessionKey) (domain.SessionBinding, bool) {
	b, ok := f.bindings[key]
	return b, ok
}
func (f *fakeSessionTable) BindSuccess(key domain.SessionKey, providerID int64) {
	f.bindings[key] = domain.SessionBinding{ProviderID: providerID}
}
func (f *fakeSessionTable) BindSortMode(key domain.SessionKey, sortModeID int64, order []int64) {}
func (f *fakeSessionTable) ClearBoundProvider(key domain.SessionKey, providerID int64)           {}
func (f *fakeSessionTable) Len() int                                                             { return len(f.bindings) }

func testProviders() []*domain.Provider {
	return []*domain.Provider{
		{ID: 1, Name: "low", Priority: 10, CostMultiplier: 1},
		{ID: 2, Name: "high", Priority: 100, CostMultiplier: 1},
		{ID: 3, Name: "mid", Priority: 50, CostMultiplier: 1},
	}
}

func TestSelector_DefaultsToPriorityOrder(t *testing.T) {
	sel := New(&fakeProviderStore{providers: testProviders()}, fakeSortModeStore{}, &fakeSessionTable{bindings: map[domain.SessionKey]domain.SessionBinding{}}, nil)

	out, err := sel.Select(context.Background(), domain.CLIClassA, domain.SessionKey{SID: "s1"}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3 || out[0].ID != 2 || out[1].ID != 3 || out[2].ID != 1 {
		t.Fatalf("expected priority order [2,3,1], got %v", ids(out))
	}
}

func TestSelector_PinnedProviderWins(t *testing.T) {
	sel := New(&fakeProviderStore{providers: testProviders()}, fakeSortModeStore{}, &fakeSessionTable{bindings: map[domain.SessionKey]domain.SessionBinding{}}, nil)

	out, err := sel.Select(context.Background(), domain.CLIClassA, domain.SessionKey{SID: "s1"}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].ID != 1 {
		t.Fatalf("expected pinned provider 1 first, got %v", ids(out))
	}
}

func TestSelector_SessionBindingWins(t *testing.T) {
	key := domain.SessionKey{SID: "s1"}
	sessions := &fakeSessionTable{bindings: map[domain.SessionKey]domain.SessionBinding{
		key: {ProviderID: 3},
	}}
	sel := New(&fakeProviderStore{providers: testProviders()}, fakeSortModeStore{}, sessions, nil)

	out, err := sel.Select(context.Background(), domain.CLIClassA, key, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].ID != 3 {
		t.Fatalf("expected session-bound provider 3 first, got %v", ids(out))
	}
}

func TestSelector_NoEnabledProvidersErrors(t *testing.T) {
	sel := New(&fakeProviderStore{providers: nil}, fakeSortModeStore{}, &fakeSessionTable{bindings: map[domain.SessionKey]domain.SessionBinding{}}, nil)

	_, err := sel.Select(context.Background(), domain.CLIClassA, domain.SessionKey{SID: "s1"}, 0)
	if err == nil {
		t.Fatal("expected an error when no providers are enabled")
	}
}

func ids(providers []*domain.Provider) []int64 {
	out := make([]int64, len(providers))
	for i, p := range providers {
		out[i] = p.ID
	}
	return out
}
