package dispatch

import (
	"mercator-hq/relay/pkg/pool"
	"mercator-hq/relay/pkg/scoring"
)

// applyPoolState fills each agent's live state from its provider's pool
// statistics. Agents on providers the pool does not know are unhealthy.
func applyPoolState(agents []scoring.Agent, stats pool.Stats) {
	for i := range agents {
		a := &agents[i]
		ps, ok := stats.Providers[a.Provider]
		if !ok {
			a.State = scoring.AgentState{Health: scoring.HealthUnhealthy, FreeCapacity: 0}
			continue
		}

		st := scoring.AgentState{
			QueueLength:  stats.Queued,
			Health:       providerHealth(ps),
			FreeCapacity: -1,
		}
		if ps.MaxConnections > 0 {
			st.Load = float64(ps.Active) / float64(ps.MaxConnections)
			st.FreeCapacity = float64(ps.MaxConnections-ps.Active) / float64(ps.MaxConnections)
			if st.FreeCapacity < 0 {
				st.FreeCapacity = 0
			}
		}
		a.State = st
	}
}

func providerHealth(ps pool.ProviderStats) scoring.HealthStatus {
	switch {
	case !ps.Enabled || ps.Breaker == "open":
		return scoring.HealthUnhealthy
	case ps.Breaker == "half-open" || ps.Errored > 0:
		return scoring.HealthDegraded
	default:
		return scoring.HealthHealthy
	}
}
