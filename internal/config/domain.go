// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"github.com/ManuGH/ytrelay/internal/domain/stream"
	"github.com/ManuGH/ytrelay/internal/pool"
	"github.com/ManuGH/ytrelay/internal/resolver"
	"github.com/ManuGH/ytrelay/internal/selector"
	"github.com/samber/lo"
)

// Definition converts p into a pool definition.
func (p PoolConfig) Definition() pool.Definition {
	return pool.Definition{
		Name:               p.Name,
		Kind:               stream.ProviderKind(p.Kind),
		Policy:             pool.Policy(p.Policy),
		Seed:               append([]string(nil), p.Seed...),
		RefreshURL:         p.RefreshURL,
		RefreshFallbackURL: p.RefreshFallbackURL,
	}
}

// Chain converts c into a resolver chain.
func (c ChainConfig) Chain() resolver.Chain {
	return resolver.Chain{
		Name: c.Name,
		Steps: lo.Map(c.Steps, func(s StepConfig, _ int) resolver.Step {
			return resolver.Step{Name: s.Name, Pool: s.Pool, Mode: resolver.Mode(s.Mode)}
		}),
	}
}

// PoolDefinitions returns every configured pool definition.
func (c AppConfig) PoolDefinitions() []pool.Definition {
	return lo.Map(c.Pools, func(p PoolConfig, _ int) pool.Definition { return p.Definition() })
}

// Chain returns the named chain.
func (c AppConfig) Chain(name string) (resolver.Chain, bool) {
	cc, ok := lo.Find(c.Chains, func(cc ChainConfig) bool { return cc.Name == name })
	if !ok {
		return resolver.Chain{}, false
	}
	return cc.Chain(), true
}

// Policy is the resolution policy shared by every endpoint. The mode is
// chosen per endpoint.
func (c AppConfig) Policy() resolver.Policy {
	return resolver.Policy{
		MinHeight:    c.Resolve.MinHeight,
		ProbeTimeout: c.Probe.Timeout,
		Budget:       c.Resolve.Budget,
		Preference: selector.Preference{
			AudioLanguages:      c.Resolve.AudioLanguages,
			AvoidAudioLanguages: c.Resolve.AvoidAudioLanguages,
		},
	}
}
