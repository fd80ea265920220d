package main

import (
	"errors"
	"fmt"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/pool"
)

// applyConfig brings the running pool and agent catalog in line with a
// reloaded configuration. Providers missing from cfg are disabled, not
// removed, so held connections drain normally. Limits, scoring and store
// settings take effect on restart.
func (a *app) applyConfig(cfg *config.Config) error {
	current := make(map[string]pool.Provider)
	for _, p := range a.pool.Providers() {
		current[p.ID] = p
	}

	var errs []error
	seen := make(map[string]bool, len(cfg.Pool.Providers))
	for _, pc := range cfg.Pool.Providers {
		seen[pc.ID] = true
		next := resolveProvider(cfg.Pool, pool.ProviderFromConfig(pc))

		cur, ok := current[pc.ID]
		if !ok {
			if err := a.pool.RegisterProvider(next); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if patch, changed := providerPatch(cur, next); changed {
			if err := a.pool.UpdateProvider(pc.ID, patch); err != nil {
				errs = append(errs, err)
			}
		}
		if cur.Enabled != next.Enabled {
			if err := a.pool.SetProviderEnabled(pc.ID, next.Enabled); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for id, cur := range current {
		if !seen[id] && cur.Enabled {
			if err := a.pool.SetProviderEnabled(id, false); err != nil {
				errs = append(errs, err)
			}
		}
	}

	a.dispatcher.SetAgents(agentsFromConfig(cfg.Agents))
	a.logger.Info("applied reloaded config",
		"providers", len(cfg.Pool.Providers),
		"agents", len(cfg.Agents),
	)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("applying provider changes: %w", err)
	}
	return nil
}

// resolveProvider fills the defaults the pool applies on registration so that
// an unchanged provider compares equal.
func resolveProvider(cfg config.PoolConfig, p pool.Provider) pool.Provider {
	if p.MaxConnections == 0 {
		p.MaxConnections = cfg.MaxConnectionsPerProvider
		if p.MaxConnections == 0 {
			p.MaxConnections = config.DefaultMaxConnectionsPerProvider
		}
	}
	if p.HealthCheckPath == "" {
		p.HealthCheckPath = config.DefaultHealthCheckPath
	}
	return p
}

func providerPatch(cur, next pool.Provider) (pool.ProviderPatch, bool) {
	var patch pool.ProviderPatch
	changed := false
	if cur.BaseURL != next.BaseURL {
		patch.BaseURL = &next.BaseURL
		changed = true
	}
	if cur.MaxConnections != next.MaxConnections {
		patch.MaxConnections = &next.MaxConnections
		changed = true
	}
	if cur.HealthCheckPath != next.HealthCheckPath {
		patch.HealthCheckPath = &next.HealthCheckPath
		changed = true
	}
	if cur.Priority != next.Priority {
		patch.Priority = &next.Priority
		changed = true
	}
	return patch, changed
}
