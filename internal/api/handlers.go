// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"

	"github.com/ManuGH/ytrelay/internal/domain/stream"
	"github.com/ManuGH/ytrelay/internal/log"
	"github.com/ManuGH/ytrelay/internal/pool"
	"github.com/ManuGH/ytrelay/internal/resolver"
	"github.com/go-chi/chi/v5"
)

// videoID reads v, or its alias video_id.
func videoID(r *http.Request) (stream.VideoID, error) {
	q := r.URL.Query()
	raw := q.Get("v")
	if raw == "" {
		raw = q.Get("video_id")
	}
	return stream.ParseVideoID(raw)
}

func queryFlag(r *http.Request, name string) bool {
	switch r.URL.Query().Get(name) {
	case "1", "true":
		return true
	}
	return false
}

// StreamURLResponse is the single best URL shape.
type StreamURLResponse struct {
	URL string `json:"url"`
}

// DetailedStreamResponse is the wkt=1 shape with separate tracks.
type DetailedStreamResponse struct {
	VideoURL    string `json:"videoUrl"`
	AudioURL    string `json:"audioUrl"`
	MimeVideo   string `json:"mimeVideo"`
	MimeAudio   string `json:"mimeAudio"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Title       string `json:"title,omitempty"`
	Author      string `json:"author,omitempty"`
	AuthorImage string `json:"authorImage,omitempty"`
}

// HLSResponse is the /api/streamurl/hls/json shape.
type HLSResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
	M3U8    string `json:"m3u8"`
}

func (s *Server) handleStreamURL(w http.ResponseWriter, r *http.Request) {
	id, err := videoID(r)
	if err != nil {
		writeResolveError(w, r, err)
		return
	}
	rt := s.Routing()
	ctx := log.ContextWithVideoID(r.Context(), id.String())

	p := rt.policy(resolver.ModeMuxed)
	// safari=1 asks for tracks that Safari and iOS play natively.
	p.Preference.H264AAC = queryFlag(r, "safari")

	res, err := s.deps.Resolver.Resolve(ctx, rt.MetadataPool, id, p)
	if err != nil {
		writeResolveError(w, r, err)
		return
	}

	if r.URL.Query().Get("wkt") != "1" {
		writeJSON(w, http.StatusOK, StreamURLResponse{URL: res.PrimaryURL()})
		return
	}
	writeJSON(w, http.StatusOK, DetailedStreamResponse{
		VideoURL:    res.Video.URL,
		AudioURL:    res.Audio.URL,
		MimeVideo:   res.Video.MimeType,
		MimeAudio:   res.Audio.MimeType,
		Width:       res.Video.Width,
		Height:      res.Video.Height,
		Title:       res.Metadata.Title,
		Author:      res.Metadata.Author,
		AuthorImage: res.Metadata.Thumbnail,
	})
}

func (s *Server) resolveChain(r *http.Request, chain resolver.Chain) (resolver.ChainResult, error) {
	id, err := videoID(r)
	if err != nil {
		return resolver.ChainResult{}, err
	}
	rt := s.Routing()
	ctx := log.ContextWithVideoID(r.Context(), id.String())
	return s.deps.Resolver.ResolveChain(ctx, chain, id, rt.policy(resolver.ModeAny))
}

func (s *Server) handleHLSRedirect(w http.ResponseWriter, r *http.Request) {
	res, err := s.resolveChain(r, s.Routing().HLSChain)
	if err != nil {
		writeResolveError(w, r, err)
		return
	}
	http.Redirect(w, r, res.Stream.PrimaryURL(), http.StatusFound)
}

func (s *Server) handleHLSJSON(w http.ResponseWriter, r *http.Request) {
	res, err := s.resolveChain(r, s.Routing().HLSChain)
	if err != nil {
		writeResolveError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HLSResponse{
		Status:  "ok",
		Backend: res.Stream.Endpoint.String(),
		M3U8:    res.Stream.PrimaryURL(),
	})
}

func (s *Server) handleAuto(w http.ResponseWriter, r *http.Request) {
	res, err := s.resolveChain(r, s.Routing().AutoChain)
	if err != nil {
		writeResolveError(w, r, err)
		return
	}
	w.Header().Set("X-Strategy", res.Step.Name)
	http.Redirect(w, r, res.Stream.PrimaryURL(), http.StatusFound)
}

// PoolsResponse lists every pool snapshot.
type PoolsResponse struct {
	Pools []pool.Snapshot `json:"pools"`
}

func (s *Server) handlePools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, PoolsResponse{Pools: s.deps.Pools.Snapshots()})
}

func (s *Server) handlePoolRefresh(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	p, err := s.deps.Pools.Get(name)
	if err != nil {
		writeProblem(w, r, http.StatusNotFound, "unknown_pool", err.Error())
		return
	}

	snap, err := p.Refresher.Refresh(r.Context())
	switch {
	case errors.Is(err, pool.ErrRefreshFailed):
		// The pool still holds a fallback list.
		writeProblem(w, r, http.StatusBadGateway, "refresh_failed",
			err.Error()+"; serving "+string(snap.Source)+" list")
		return
	case err != nil:
		writeProblem(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	w.Header().Set("Last-Modified", snap.FetchedAt.UTC().Format(http.TimeFormat))
	writeJSON(w, http.StatusOK, snap)
}
