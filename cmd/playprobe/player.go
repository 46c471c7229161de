// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// signals receives load outcomes. It is the playback controller in
// production and a recorder in tests.
type signals interface {
	Started()
	Error(fatal bool)
}

// httpPlayer "plays" a source by fetching it: the first body byte is the
// playing signal, anything else is a fatal error. A new Load cancels the
// previous one, and outcomes of superseded loads are dropped.
type httpPlayer struct {
	client *http.Client

	mu      sync.Mutex
	sink    signals
	gen     uint64
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	results []loadResult
}

type loadResult struct {
	Source string `json:"source"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

func newHTTPPlayer(client *http.Client) *httpPlayer {
	return &httpPlayer{client: client}
}

func (p *httpPlayer) bind(sink signals) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
}

// Load never calls back synchronously.
func (p *httpPlayer) Load(source string) {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		res, err := p.fetch(ctx, source)
		p.report(gen, res, err)
	}()
}

func (p *httpPlayer) fetch(ctx context.Context, source string) (loadResult, error) {
	res := loadResult{Source: source}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return res, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return res, err
	}
	defer resp.Body.Close()
	res.Status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return res, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var first [1]byte
	if _, err := io.ReadFull(resp.Body, first[:]); err != nil {
		return res, fmt.Errorf("no media bytes: %w", err)
	}
	return res, nil
}

func (p *httpPlayer) report(gen uint64, res loadResult, err error) {
	if err != nil {
		res.Error = err.Error()
	}
	p.mu.Lock()
	current := gen == p.gen
	if current {
		p.results = append(p.results, res)
	}
	sink := p.sink
	p.mu.Unlock()

	if !current || sink == nil {
		return
	}
	if err != nil {
		sink.Error(true)
		return
	}
	sink.Started()
}

// Stop cancels the in-flight load and waits for every fetch to return.
func (p *httpPlayer) Stop() []loadResult {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.gen++
	p.mu.Unlock()
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]loadResult(nil), p.results...)
}

// Wait blocks until every issued load has reported.
func (p *httpPlayer) Wait() {
	p.wg.Wait()
}
