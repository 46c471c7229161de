// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package selector classifies raw provider formats and ranks them by quality.
// It is a pure ranking utility: no minimum quality is enforced here.
package selector

import (
	"net/url"
	"sort"
	"strings"

	"github.com/ManuGH/ytrelay/internal/domain/stream"
	"github.com/samber/lo"
)

// manifestMarkers identify segmented playlists by URL path.
var manifestMarkers = []string{".m3u8", "/hls_variant/", "/manifest/hls"}

// manifestMimeTypes are playlist content types a provider may declare.
var manifestMimeTypes = []string{"application/x-mpegurl", "application/vnd.apple.mpegurl"}

// Preference biases BestVideo and BestAudio. It never removes the last
// candidate of a category; when nothing matches, ranking decides alone.
type Preference struct {
	// H264AAC prefers avc1 video and mp4a audio in mp4 containers, for
	// players without VP9 or Opus support.
	H264AAC bool
	// AudioLanguages are language prefixes tried in order, matched against
	// the track language tag.
	AudioLanguages []string
	// AvoidAudioLanguages are skipped when no preferred language matched.
	AvoidAudioLanguages []string
}

// Classified holds the ranked entries of each category, best first.
type Classified struct {
	Videos    []stream.ClassifiedStream
	Audios    []stream.ClassifiedStream
	Manifests []stream.ClassifiedStream

	pref Preference
}

// Classify tags each entry and ranks every category. Entries that are
// neither manifests nor video/audio by mime type are dropped.
func Classify(raw []stream.RawFormat) Classified {
	return ClassifyWith(raw, Preference{})
}

// ClassifyWith is Classify with pref applied to BestVideo and BestAudio.
func ClassifyWith(raw []stream.RawFormat, pref Preference) Classified {
	out := Classified{pref: pref}
	for _, f := range raw {
		if strings.TrimSpace(f.URL) == "" {
			continue
		}
		switch category(f) {
		case stream.CategoryManifest:
			out.Manifests = append(out.Manifests, stream.ClassifiedStream{
				RawFormat: f,
				Category:  stream.CategoryManifest,
				Score:     int64(f.Height)<<32 | int64(uint32(max(f.Bitrate, 0))),
			})
		case stream.CategoryVideo:
			out.Videos = append(out.Videos, stream.ClassifiedStream{
				RawFormat: f,
				Category:  stream.CategoryVideo,
				Score:     int64(f.Area()),
			})
		case stream.CategoryAudio:
			out.Audios = append(out.Audios, stream.ClassifiedStream{
				RawFormat: f,
				Category:  stream.CategoryAudio,
				Score:     int64(max(f.Bitrate, 0)),
			})
		}
	}

	sort.SliceStable(out.Videos, func(i, j int) bool {
		return out.Videos[i].Area() > out.Videos[j].Area()
	})
	sort.SliceStable(out.Audios, func(i, j int) bool {
		return max(out.Audios[i].Bitrate, 0) > max(out.Audios[j].Bitrate, 0)
	})
	sort.SliceStable(out.Manifests, func(i, j int) bool {
		a, b := out.Manifests[i], out.Manifests[j]
		if a.Height != b.Height {
			return a.Height > b.Height
		}
		return max(a.Bitrate, 0) > max(b.Bitrate, 0)
	})
	return out
}

// BestVideo returns the largest video by pixel area, the largest H.264
// video when the preference asks for one and any exists.
func (c Classified) BestVideo() (stream.ClassifiedStream, bool) {
	if c.pref.H264AAC {
		if v, ok := first(lo.Filter(c.Videos, isH264)); ok {
			return v, true
		}
	}
	return first(c.Videos)
}

// BestAudio returns the highest-bitrate audio entry among the tracks the
// preference selects: the first preferred language present, otherwise
// every track outside the avoided languages, otherwise all of them.
// AAC is then preferred within that set when asked for.
func (c Classified) BestAudio() (stream.ClassifiedStream, bool) {
	target := c.Audios
	if picked, ok := c.byLanguage(); ok {
		target = picked
	}
	if c.pref.H264AAC {
		if a, ok := first(lo.Filter(target, isAAC)); ok {
			return a, true
		}
	}
	return first(target)
}

func (c Classified) byLanguage() ([]stream.ClassifiedStream, bool) {
	for _, lang := range c.pref.AudioLanguages {
		matched := lo.Filter(c.Audios, func(a stream.ClassifiedStream, _ int) bool {
			return hasLanguage(a.Language, lang)
		})
		if len(matched) > 0 {
			return matched, true
		}
	}
	if len(c.pref.AvoidAudioLanguages) == 0 {
		return nil, false
	}
	rest := lo.Reject(c.Audios, func(a stream.ClassifiedStream, _ int) bool {
		return lo.SomeBy(c.pref.AvoidAudioLanguages, func(lang string) bool { return hasLanguage(a.Language, lang) })
	})
	return rest, len(rest) > 0
}

// hasLanguage matches tag against a language prefix, so "en" covers "en-US"
// and the "en.4" track ids some providers report.
func hasLanguage(tag, lang string) bool {
	tag, lang = strings.ToLower(strings.TrimSpace(tag)), strings.ToLower(lang)
	if tag == "" || lang == "" || !strings.HasPrefix(tag, lang) {
		return false
	}
	if len(tag) == len(lang) {
		return true
	}
	switch tag[len(lang)] {
	case '-', '_', '.':
		return true
	}
	return false
}

func isH264(s stream.ClassifiedStream, _ int) bool {
	mime := strings.ToLower(s.MimeType)
	return strings.HasPrefix(mime, "video/mp4") && strings.Contains(mime, "avc1")
}

func isAAC(s stream.ClassifiedStream, _ int) bool {
	mime := strings.ToLower(s.MimeType)
	return strings.HasPrefix(mime, "audio/mp4") && strings.Contains(mime, "mp4a")
}

// BestManifest returns the tallest manifest, bitrate breaking height ties.
func (c Classified) BestManifest() (stream.ClassifiedStream, bool) {
	return first(c.Manifests)
}

// Empty reports whether nothing usable was classified.
func (c Classified) Empty() bool {
	return len(c.Videos) == 0 && len(c.Audios) == 0 && len(c.Manifests) == 0
}

func first(s []stream.ClassifiedStream) (stream.ClassifiedStream, bool) {
	if len(s) == 0 {
		return stream.ClassifiedStream{}, false
	}
	return s[0], true
}

func category(f stream.RawFormat) stream.Category {
	mime := strings.ToLower(strings.TrimSpace(f.MimeType))
	if IsManifestURL(f.URL) || lo.Contains(manifestMimeTypes, mime) {
		return stream.CategoryManifest
	}
	switch {
	case strings.HasPrefix(mime, "video/"):
		return stream.CategoryVideo
	case strings.HasPrefix(mime, "audio/"):
		return stream.CategoryAudio
	}
	return ""
}

// IsManifestURL reports whether raw points at a segmented playlist.
func IsManifestURL(raw string) bool {
	path := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		path = u.Path
	}
	path = strings.ToLower(path)
	for _, marker := range manifestMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}
