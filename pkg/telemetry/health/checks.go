package health

import (
	"context"
	"errors"

	"mercator-hq/relay/pkg/pool"
)

// ErrNoUsableProvider fails the pool check.
var ErrNoUsableProvider = errors.New("no enabled provider with a closed circuit")

// PoolStatser is the part of *pool.Pool the pool check needs.
type PoolStatser interface {
	Stats() pool.Stats
}

// PoolCheck passes while at least one provider is enabled with its circuit
// breaker not open.
func PoolCheck(p PoolStatser) CheckFunc {
	return func(context.Context) error {
		for _, ps := range p.Stats().Providers {
			if ps.Enabled && ps.Breaker != "open" {
				return nil
			}
		}
		return ErrNoUsableProvider
	}
}
