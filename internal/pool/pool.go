// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pool holds the provider candidate lists. A Store publishes an
// immutable Snapshot; every resolution takes its own Cursor over the
// snapshot current at attempt start, so refreshes never reorder or mutate
// an attempt in flight.
package pool

import (
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ManuGH/ytrelay/internal/domain/stream"
	netutil "github.com/ManuGH/ytrelay/internal/platform/net"
	"github.com/samber/lo"
)

// Policy is the candidate iteration order.
type Policy string

const (
	// PolicyOrdered yields endpoints in configured priority order.
	PolicyOrdered Policy = "ordered"
	// PolicyRandom yields a fresh permutation per attempt.
	PolicyRandom Policy = "random"
	// PolicySticky is ordered, except that the endpoint that last produced
	// a stream moves to the front for later attempts.
	PolicySticky Policy = "sticky"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	return p == PolicyOrdered || p == PolicyRandom || p == PolicySticky
}

// Source records where a snapshot's endpoint list came from.
type Source string

const (
	SourceSeed   Source = "seed"
	SourceRemote Source = "remote"
	SourceMirror Source = "mirror"
	SourceCache  Source = "cache"
	SourceFile   Source = "file"
)

// Snapshot is an immutable endpoint list. Do not modify Endpoints.
type Snapshot struct {
	Name      string              `json:"name"`
	Kind      stream.ProviderKind `json:"kind"`
	Policy    Policy              `json:"policy"`
	Endpoints []stream.Endpoint   `json:"endpoints"`
	Source    Source              `json:"source"`
	FetchedAt time.Time           `json:"fetchedAt"`
}

// NewSnapshot normalizes rawURLs into endpoints of kind. Blank, malformed
// and duplicate URLs are dropped; the first occurrence keeps its position.
func NewSnapshot(name string, kind stream.ProviderKind, policy Policy, rawURLs []string, source Source, at time.Time) Snapshot {
	urls := lo.Filter(lo.Map(rawURLs, func(u string, _ int) string {
		return strings.TrimSpace(u)
	}), func(u string, _ int) bool {
		return validBaseURL(u)
	})
	urls = lo.UniqBy(urls, func(u string) string {
		return strings.ToLower(strings.TrimRight(u, "/"))
	})

	endpoints := lo.Map(urls, func(u string, _ int) stream.Endpoint {
		return stream.Endpoint{Name: endpointName(u), BaseURL: u, Kind: kind}
	})
	return Snapshot{
		Name:      name,
		Kind:      kind,
		Policy:    policy,
		Endpoints: endpoints,
		Source:    source,
		FetchedAt: at,
	}
}

// URLs returns the endpoint base URLs in snapshot order.
func (s Snapshot) URLs() []string {
	return lo.Map(s.Endpoints, func(e stream.Endpoint, _ int) string { return e.BaseURL })
}

// Size returns the number of endpoints.
func (s Snapshot) Size() int { return len(s.Endpoints) }

func (s Snapshot) clone() Snapshot {
	s.Endpoints = slices.Clone(s.Endpoints)
	return s
}

func validBaseURL(raw string) bool {
	_, ok := netutil.ParseDirectHTTPURL(raw)
	return ok
}

func endpointName(raw string) string {
	if u, ok := netutil.ParseDirectHTTPURL(raw); ok {
		return netutil.Authority(u)
	}
	return raw
}

// Cursor iterates one attempt's frozen candidate order. It is not safe for
// concurrent use and must not outlive the attempt.
type Cursor struct {
	order []stream.Endpoint
	next  int
	store *Store
}

// Next returns the next candidate, or false when the cursor is exhausted.
func (c *Cursor) Next() (stream.Endpoint, bool) {
	if c.next >= len(c.order) {
		return stream.Endpoint{}, false
	}
	ep := c.order[c.next]
	c.next++
	return ep, true
}

// Size is the total number of candidates of the attempt.
func (c *Cursor) Size() int { return len(c.order) }

// Remaining is the number of candidates not yet handed out.
func (c *Cursor) Remaining() int { return len(c.order) - c.next }

// Promote reports ep as the winner of the attempt. Only sticky pools act
// on it, and only for attempts that start afterwards.
func (c *Cursor) Promote(ep stream.Endpoint) {
	if c.store != nil {
		c.store.Promote(ep.BaseURL)
	}
}

// Store publishes the current snapshot of one pool.
type Store struct {
	cur     atomic.Pointer[Snapshot]
	shuffle func([]stream.Endpoint) []stream.Endpoint
}

// NewStore returns a store holding initial.
func NewStore(initial Snapshot) *Store {
	s := &Store{shuffle: lo.Shuffle[stream.Endpoint, []stream.Endpoint]}
	s.Replace(initial)
	return s
}

// Snapshot returns a copy of the current snapshot.
func (s *Store) Snapshot() Snapshot {
	return s.cur.Load().clone()
}

// Replace swaps in next. Cursors already handed out are unaffected.
func (s *Store) Replace(next Snapshot) {
	c := next.clone()
	s.cur.Store(&c)
}

// Cursor freezes the candidate order for one attempt.
func (s *Store) Cursor() (*Cursor, error) {
	snap := s.cur.Load()
	if len(snap.Endpoints) == 0 {
		return nil, fmt.Errorf("pool %q: %w", snap.Name, stream.ErrNoProvidersAvailable)
	}
	order := slices.Clone(snap.Endpoints)
	if snap.Policy == PolicyRandom {
		order = s.shuffle(order)
	}
	return &Cursor{order: order, store: s}, nil
}

// Promote moves baseURL to the front of a sticky pool by swapping in a
// reordered snapshot. A refresh that lands first wins; the promotion is
// then dropped.
func (s *Store) Promote(baseURL string) {
	for {
		old := s.cur.Load()
		if old.Policy != PolicySticky {
			return
		}
		i := slices.IndexFunc(old.Endpoints, func(ep stream.Endpoint) bool { return ep.BaseURL == baseURL })
		if i <= 0 {
			return
		}
		next := old.clone()
		ep := next.Endpoints[i]
		next.Endpoints = slices.Insert(slices.Delete(next.Endpoints, i, i+1), 0, ep)
		if s.cur.CompareAndSwap(old, &next) {
			return
		}
	}
}
