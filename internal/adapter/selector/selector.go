// Package selector implements the Provider Selector (spec §4.3): it
// returns an ordered candidate list for one request rather than picking a
// single endpoint, since the failover loop needs the full fallback order
// up front.
//
// Grounded on internal/adapter/balancer/priority.go's priority-tier sort
// and weighted-tie-break style, generalised from "pick one endpoint" to
// "return every eligible provider in the order the failover loop should
// try them".
package selector

import (
	"context"
	"fmt"
	"sort"

	"github.com/thushan/olla/internal/core/domain"
	"github.com/thushan/olla/internal/core/ports"
)

// Selector builds the ordered candidate list for each inbound request
// following the three-tier precedence of spec §4.3: an explicit session
// binding wins, then an active sort mode, then enabled-by-priority.
type Selector struct {
	providers ports.ProviderStore
	sortModes ports.SortModeStore
	sessions  ports.SessionBindingTable
	breakers  ports.CircuitBreakerRegistry
}

var _ ports.ProviderSelector = (*Selector)(nil)

// New builds a Selector over the given stores.
func New(providers ports.ProviderStore, sortModes ports.SortModeStore, sessions ports.SessionBindingTable, breakers ports.CircuitBreakerRegistry) *Selector {
	return &Selector{providers: providers, sortModes: sortModes, sessions: sessions, breakers: breakers}
}

// Select returns the ordered candidate providers for one request. A
// pinnedProviderID (from the x-aio-provider-id header) takes precedence
// over everything else when present and the provider is eligible.
func (s *Selector) Select(ctx context.Context, cli domain.CLIClass, session domain.SessionKey, pinnedProviderID int64) ([]*domain.Provider, error) {
	enabled, err := s.providers.ListEnabledByCLIClass(ctx, cli)
	if err != nil {
		return nil, fmt.Errorf("listing enabled providers: %w", err)
	}
	if len(enabled) == 0 {
		return nil, domain.NewConfigValidationError("providers", cli, "no enabled providers for this CLI class")
	}

	byID := make(map[int64]*domain.Provider, len(enabled))
	for _, p := range enabled {
		byID[p.ID] = p
	}

	if pinnedProviderID != 0 {
		if p, ok := byID[pinnedProviderID]; ok && s.eligible(p) {
			return s.pinFirst(enabled, p), nil
		}
	}

	if binding, ok := s.sessions.Get(session); ok {
		if binding.HasSortMode && len(binding.ProviderOrder) > 0 {
			if ordered := s.resolveOrder(binding.ProviderOrder, byID); len(ordered) > 0 {
				return ordered, nil
			}
		}
		if binding.ProviderID != 0 {
			if p, ok := byID[binding.ProviderID]; ok && s.eligible(p) {
				return s.pinFirst(enabled, p), nil
			}
		}
	}

	if modeID, ok, err := s.sortModes.ActiveModeForCLIClass(ctx, cli); err == nil && ok {
		entries, err := s.sortModes.ListProvidersInMode(ctx, modeID)
		if err == nil {
			order := make([]int64, 0, len(entries))
			sort.Slice(entries, func(i, j int) bool { return entries[i].SortOrder < entries[j].SortOrder })
			for _, e := range entries {
				if e.Enabled {
					order = append(order, e.ProviderID)
				}
			}
			if ordered := s.resolveOrder(order, byID); len(ordered) > 0 {
				return ordered, nil
			}
		}
	}

	return s.byPriority(enabled), nil
}

// eligible reports whether a provider's circuit breaker currently allows
// traffic, used to decide whether a pinned or session-bound provider still
// qualifies for the front of the list.
func (s *Selector) eligible(p *domain.Provider) bool {
	if s.breakers == nil {
		return true
	}
	_, ok := s.breakers.Allow(p.ID)
	return ok
}

// pinFirst returns all eligible providers with p moved to the front,
// preserving priority order for the remainder as the fallback chain.
func (s *Selector) pinFirst(all []*domain.Provider, p *domain.Provider) []*domain.Provider {
	rest := make([]*domain.Provider, 0, len(all))
	for _, c := range all {
		if c.ID != p.ID {
			rest = append(rest, c)
		}
	}
	rest = s.byPriority(rest)
	return append([]*domain.Provider{p}, rest...)
}

// resolveOrder maps a stored provider-id order onto currently-enabled
// providers, silently dropping any id no longer enabled.
func (s *Selector) resolveOrder(order []int64, byID map[int64]*domain.Provider) []*domain.Provider {
	out := make([]*domain.Provider, 0, len(order))
	for _, id := range order {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// byPriority sorts highest-priority first, breaking ties by cost
// multiplier (cheapest first) then by sort order, mirroring
// PrioritySelector's priority-tier approach generalised to a full ordering
// rather than a single weighted pick.
func (s *Selector) byPriority(providers []*domain.Provider) []*domain.Provider {
	out := make([]*domain.Provider, len(providers))
	copy(out, providers)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if out[i].CostMultiplier != out[j].CostMultiplier {
			return out[i].CostMultiplier < out[j].CostMultiplier
		}
		return out[i].SortOrder < out[j].SortOrder
	})
	return out
}
