package gasapi

import (
	"context"

	"github.com/parsdextra/nanoreth/core/gascall/admission"
	"github.com/parsdextra/nanoreth/core/gascall/audit"
)

// OpsAPI exposes operational introspection under the gascall namespace.
type OpsAPI struct {
	backend Backend
	store   audit.Storage
}

// NewOpsAPI creates the gascall namespace handler. store may be nil when
// auditing is disabled.
func NewOpsAPI(backend Backend, store audit.Storage) *OpsAPI {
	return &OpsAPI{backend: backend, store: store}
}

// StatsResult is the wire shape of gascall_stats.
type StatsResult struct {
	MaxConcurrentCalls int64           `json:"maxConcurrentCalls"`
	Gate               admission.Stats `json:"gate"`
	SuccessRate        float64         `json:"successRate"`
}

// Stats reports the dispatch gate counters.
func (api *OpsAPI) Stats() StatsResult {
	snapshot := api.backend.Stats()
	return StatsResult{
		MaxConcurrentCalls: api.backend.Config().MaxConcurrentCalls,
		Gate:               snapshot,
		SuccessRate:        snapshot.SuccessRate(),
	}
}

// RecentCalls returns up to limit audited call outcomes, newest first.
func (api *OpsAPI) RecentCalls(ctx context.Context, limit int) ([]*audit.CallRecord, error) {
	if api.store == nil {
		return nil, nil
	}
	return api.store.RecentCalls(ctx, limit)
}
