// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/ManuGH/ytrelay/internal/domain/stream"
)

type invidiousVideo struct {
	Title            string            `json:"title"`
	Author           string            `json:"author"`
	AuthorID         string            `json:"authorId"`
	AuthorThumbnails []invidiousThumb  `json:"authorThumbnails"`
	LengthSeconds    flexInt           `json:"lengthSeconds"`
	LiveNow          bool              `json:"liveNow"`
	HLSURL           string            `json:"hlsUrl"`
	FormatStreams    []invidiousFormat `json:"formatStreams"`
	AdaptiveFormats  []invidiousFormat `json:"adaptiveFormats"`
	Error            string            `json:"error"`
}

type invidiousThumb struct {
	URL string `json:"url"`
}

type invidiousFormat struct {
	URL          string               `json:"url"`
	Type         string               `json:"type"`
	Itag         flexInt              `json:"itag"`
	Bitrate      flexInt              `json:"bitrate"`
	Width        flexInt              `json:"width"`
	Height       flexInt              `json:"height"`
	Size         string               `json:"size"`
	Resolution   string               `json:"resolution"`
	QualityLabel string               `json:"qualityLabel"`
	Language     string               `json:"language"`
	AudioTrack   *invidiousAudioTrack `json:"audioTrack"`
}

type invidiousAudioTrack struct {
	ID string `json:"id"`
}

// language prefers an explicit tag over the audio track id ("ja.4").
func (f invidiousFormat) language() string {
	if f.Language != "" || f.AudioTrack == nil {
		return f.Language
	}
	return f.AudioTrack.ID
}

var errInvidiousNoFormats = errors.New("response carries neither formatStreams nor adaptiveFormats")

func normalizeInvidious(body []byte) ([]stream.RawFormat, stream.Metadata, error) {
	var v invidiousVideo
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, stream.Metadata{}, err
	}
	if v.Error != "" {
		return nil, stream.Metadata{}, errors.New(v.Error)
	}
	if v.FormatStreams == nil && v.AdaptiveFormats == nil && v.HLSURL == "" {
		return nil, stream.Metadata{}, errInvidiousNoFormats
	}

	meta := stream.Metadata{
		Title:         v.Title,
		Author:        v.Author,
		AuthorID:      v.AuthorID,
		LengthSeconds: int(v.LengthSeconds),
		Live:          v.LiveNow,
	}
	if n := len(v.AuthorThumbnails); n > 0 {
		meta.Thumbnail = v.AuthorThumbnails[n-1].URL
	}

	formats := make([]stream.RawFormat, 0, len(v.FormatStreams)+len(v.AdaptiveFormats)+1)
	for _, group := range [][]invidiousFormat{v.FormatStreams, v.AdaptiveFormats} {
		for _, f := range group {
			if f.URL == "" {
				continue
			}
			w, h := f.dimensions()
			formats = append(formats, stream.RawFormat{
				MimeType: f.Type,
				Width:    w,
				Height:   h,
				Bitrate:  int(f.Bitrate),
				URL:      f.URL,
				Itag:     int(f.Itag),
				Label:    f.QualityLabel,
				Language: f.language(),
			})
		}
	}
	if v.HLSURL != "" {
		formats = append(formats, stream.RawFormat{
			MimeType: "application/x-mpegURL",
			URL:      v.HLSURL,
			Label:    "live",
		})
	}
	return formats, meta, nil
}

// dimensions prefers explicit width/height, then "WxH" size, then a
// "720p" style label, which yields height only.
func (f invidiousFormat) dimensions() (int, int) {
	if f.Width > 0 && f.Height > 0 {
		return int(f.Width), int(f.Height)
	}
	if w, h, ok := parseSize(f.Size); ok {
		return w, h
	}
	for _, label := range []string{f.Resolution, f.QualityLabel} {
		if h := parseHeightLabel(label); h > 0 {
			return 0, h
		}
	}
	return int(f.Width), int(f.Height)
}

// parseSize parses "1920x1080".
func parseSize(s string) (int, int, bool) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// parseHeightLabel parses "720p", "1080p60" or "2160p HDR".
func parseHeightLabel(s string) int {
	s = strings.TrimSpace(s)
	i := strings.IndexByte(s, 'p')
	if i <= 0 {
		return 0
	}
	h, err := strconv.Atoi(s[:i])
	if err != nil || h < 0 {
		return 0
	}
	return h
}

// flexInt accepts JSON numbers, numeric strings and null. Anything else
// decodes to zero so that one odd field never fails the whole response.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}
