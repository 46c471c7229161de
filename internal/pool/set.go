// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pool

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ManuGH/ytrelay/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownPool is returned for names that are not configured.
var ErrUnknownPool = errors.New("pool: unknown pool")

// Pool couples a store with its refresher.
type Pool struct {
	Store     *Store
	Refresher *Refresher
}

// Set is the named collection of configured pools.
type Set struct {
	mu    sync.RWMutex
	pools map[string]*Pool
	order []string
	opts  RefresherOptions
}

// NewSet builds one pool per definition, each holding its seed snapshot.
func NewSet(defs []Definition, opts RefresherOptions) (*Set, error) {
	s := &Set{pools: make(map[string]*Pool), opts: opts.withDefaults()}
	if err := s.Apply(defs); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply reconciles the set with defs. Existing pools keep a remotely
// fetched list and only pick up kind and policy changes; seed-backed pools
// are rebuilt from the new seed. Pools absent from defs are removed.
// Every change is a snapshot swap, never an in-place edit.
func (s *Set) Apply(defs []Definition) error {
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.Name] {
			return fmt.Errorf("pool %q: defined twice", d.Name)
		}
		seen[d.Name] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	next := make(map[string]*Pool, len(defs))
	order := make([]string, 0, len(defs))
	for _, d := range defs {
		order = append(order, d.Name)

		p, ok := s.pools[d.Name]
		if !ok {
			seed := d.SeedSnapshot(now)
			store := NewStore(seed)
			next[d.Name] = &Pool{Store: store, Refresher: NewRefresher(d, store, s.opts)}
			metrics.RecordPoolSnapshot(d.Name, string(seed.Source), seed.Size(), now)
			continue
		}

		p.Refresher.SetDefinition(d)
		cur := p.Store.Snapshot()
		var snap Snapshot
		if cur.Source == SourceSeed {
			snap = d.SeedSnapshot(now)
		} else {
			snap = NewSnapshot(d.Name, d.Kind, d.Policy, cur.URLs(), cur.Source, cur.FetchedAt)
		}
		p.Store.Replace(snap)
		metrics.RecordPoolSnapshot(d.Name, string(snap.Source), snap.Size(), now)
		next[d.Name] = p
	}

	s.pools = next
	s.order = order
	return nil
}

// Get returns the named pool.
func (s *Set) Get(name string) (*Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPool, name)
	}
	return p, nil
}

// Cursor freezes the candidate order of the named pool for one attempt.
func (s *Set) Cursor(name string) (*Cursor, error) {
	p, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	return p.Store.Cursor()
}

// Names returns pool names in configuration order.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// Snapshots returns the current snapshot of every pool in configuration order.
func (s *Set) Snapshots() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.pools[name].Store.Snapshot())
	}
	return out
}

func (s *Set) all() []*Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Pool, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.pools[name])
	}
	return out
}

// RefreshAll refreshes every pool concurrently. Pools always end up with a
// usable snapshot; the joined error lists the ones that fell back.
func (s *Set) RefreshAll(ctx context.Context) error {
	pools := s.all()
	errs := make([]error, len(pools))

	var g errgroup.Group
	for i, p := range pools {
		g.Go(func() error {
			_, errs[i] = p.Refresher.Refresh(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Run refreshes every pool each interval until ctx is done. Pools added by
// a later Apply are picked up on the next tick.
func (s *Set) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Per-pool failures are logged by the refreshers.
			_ = s.RefreshAll(ctx)
		}
	}
}

// Validate checks a definition in isolation.
func (d Definition) Validate() error {
	if d.Name == "" {
		return errors.New("pool: name is required")
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("pool %q: unknown kind %q", d.Name, d.Kind)
	}
	if !d.Policy.Valid() {
		return fmt.Errorf("pool %q: unknown policy %q", d.Name, d.Policy)
	}
	if len(d.Seed) == 0 && d.static() {
		return fmt.Errorf("pool %q: needs seed endpoints or a refresh URL", d.Name)
	}
	return nil
}
