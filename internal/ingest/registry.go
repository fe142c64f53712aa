package ingest

import (
	"fmt"
	"strings"

	"github.com/wavey0x/auction-curves-sub001/internal/config"
	"github.com/wavey0x/auction-curves-sub001/internal/domain"
)

// Registry holds the configured factory sources, grouped by network. Sources
// are immutable once built; new sources are added by configuration, never by
// the engine.
type Registry struct {
	byNetwork map[int64][]domain.Source
}

// NewRegistry builds a Registry from the configured networks. Addresses are
// normalized to lowercase so log address comparisons are exact.
func NewRegistry(networks []config.NetworkConfig) (*Registry, error) {
	byNetwork := make(map[int64][]domain.Source, len(networks))

	for _, n := range networks {
		for _, s := range n.Sources {
			version := domain.SchemaVersion(s.Version)
			if !version.Valid() {
				return nil, fmt.Errorf("ingest: source %s on chain %d: unknown schema version %q", s.Address, n.ChainID, s.Version)
			}
			byNetwork[n.ChainID] = append(byNetwork[n.ChainID], domain.Source{
				NetworkID:  n.ChainID,
				Address:    strings.ToLower(s.Address),
				Version:    version,
				StartBlock: s.StartBlock,
			})
		}
	}

	return &Registry{byNetwork: byNetwork}, nil
}

// SourcesFor returns the registered sources for one network.
func (r *Registry) SourcesFor(networkID int64) []domain.Source {
	return r.byNetwork[networkID]
}

// NetworkIDs returns every network with at least one registered source.
func (r *Registry) NetworkIDs() []int64 {
	ids := make([]int64, 0, len(r.byNetwork))
	for id := range r.byNetwork {
		ids = append(ids, id)
	}
	return ids
}
