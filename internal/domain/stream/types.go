// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package stream holds the value types shared by the probe, selector and
// resolver packages. Everything here is constructed and discarded per
// resolution attempt; nothing is persisted.
package stream

import (
	"fmt"
	"regexp"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// VideoID is an opaque, validated upstream video identifier.
type VideoID string

// ParseVideoID validates untrusted input as is; surrounding whitespace is
// rejected, not trimmed. It never performs network activity.
func ParseVideoID(raw string) (VideoID, error) {
	if !videoIDPattern.MatchString(raw) {
		return "", fmt.Errorf("%w: video id %q must be 11 characters of [A-Za-z0-9_-]", ErrInvalidInput, raw)
	}
	return VideoID(raw), nil
}

func (id VideoID) String() string { return string(id) }

// ProviderKind selects the normalization applied to a provider response.
type ProviderKind string

const (
	// KindInvidious is a metadata API returning formatStreams/adaptiveFormats.
	KindInvidious ProviderKind = "invidious"
	// KindManifest is a manifest-pool endpoint returning an HLS playlist URL.
	KindManifest ProviderKind = "manifest"
	// KindExtractor is the in-process extraction library.
	KindExtractor ProviderKind = "extractor"
)

// Valid reports whether k is a known provider kind.
func (k ProviderKind) Valid() bool {
	switch k {
	case KindInvidious, KindManifest, KindExtractor:
		return true
	}
	return false
}

// Endpoint is one provider candidate.
type Endpoint struct {
	Name    string       `json:"name,omitempty"`
	BaseURL string       `json:"baseUrl"`
	Kind    ProviderKind `json:"kind"`
}

func (e Endpoint) String() string {
	if e.Name != "" {
		return e.Name
	}
	return e.BaseURL
}

// RawFormat is one stream entry as reported by a provider.
type RawFormat struct {
	MimeType string
	Width    int
	Height   int
	// Bitrate is zero when the provider did not report one.
	Bitrate int
	URL     string
	Itag    int
	Label   string
	// Language is the audio track tag (ja, en-US, ja.4) when reported.
	Language string
}

// Area is the pixel count used to rank video entries.
func (f RawFormat) Area() int {
	return f.Width * f.Height
}

// Category is the selector classification of a RawFormat.
type Category string

const (
	CategoryVideo    Category = "video"
	CategoryAudio    Category = "audio"
	CategoryManifest Category = "manifest"
)

// ClassifiedStream is a RawFormat tagged with its category and ranking score.
type ClassifiedStream struct {
	RawFormat
	Category Category
	Score    int64
}

// Metadata is optional descriptive data reported alongside the formats.
type Metadata struct {
	Title         string `json:"title,omitempty"`
	Author        string `json:"author,omitempty"`
	AuthorID      string `json:"authorId,omitempty"`
	Thumbnail     string `json:"authorImage,omitempty"`
	LengthSeconds int    `json:"lengthSeconds,omitempty"`
	Live          bool   `json:"live,omitempty"`
}

// ProbeResult is the normalized answer of exactly one provider response.
type ProbeResult struct {
	Endpoint Endpoint
	Formats  []RawFormat
	Metadata Metadata
}

// ResultKind distinguishes muxed pairs from adaptive manifests.
type ResultKind string

const (
	ResultMuxed    ResultKind = "muxed"
	ResultManifest ResultKind = "manifest"
)

// ResolvedStream is the orchestrator output. Video and Audio are set for
// muxed results and always come from the same ProbeResult; Manifest is set
// for manifest results.
type ResolvedStream struct {
	VideoID  VideoID
	Endpoint Endpoint
	Kind     ResultKind
	Video    *ClassifiedStream
	Audio    *ClassifiedStream
	Manifest *ClassifiedStream
	Metadata Metadata
	Attempts int
}

// PrimaryURL is the single best URL for callers that want one playable link.
func (r ResolvedStream) PrimaryURL() string {
	switch r.Kind {
	case ResultManifest:
		if r.Manifest != nil {
			return r.Manifest.URL
		}
	case ResultMuxed:
		if r.Video != nil {
			return r.Video.URL
		}
	}
	return ""
}
