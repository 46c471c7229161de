// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"encoding/json"
	"errors"

	"github.com/ManuGH/ytrelay/internal/domain/stream"
)

const playlistMime = "application/x-mpegURL"

type manifestResponse struct {
	M3U8        string           `json:"m3u8"`
	URL         string           `json:"url"`
	HLSURL      string           `json:"hlsUrl"`
	M3U8Formats []manifestFormat `json:"m3u8_formats"`
	Status      string           `json:"status"`
	Error       string           `json:"error"`
}

type manifestFormat struct {
	URL        string  `json:"url"`
	Resolution string  `json:"resolution"`
	Height     flexInt `json:"height"`
	Width      flexInt `json:"width"`
	TBR        flexInt `json:"tbr"`
	FormatID   string  `json:"format_id"`
}

// normalizeManifest accepts either a single playlist URL or a list of
// variant playlists with declared resolutions.
func normalizeManifest(body []byte) ([]stream.RawFormat, error) {
	var r manifestResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, err
	}
	if r.Error != "" {
		return nil, errors.New(r.Error)
	}

	var out []stream.RawFormat
	for _, f := range r.M3U8Formats {
		if f.URL == "" {
			continue
		}
		w, h := int(f.Width), int(f.Height)
		if sw, sh, ok := parseSize(f.Resolution); ok && h == 0 {
			w, h = sw, sh
		}
		out = append(out, stream.RawFormat{
			MimeType: playlistMime,
			Width:    w,
			Height:   h,
			// tbr is kbit/s
			Bitrate: int(f.TBR) * 1000,
			URL:     f.URL,
			Label:   f.FormatID,
		})
	}
	for _, u := range []string{r.M3U8, r.HLSURL, r.URL} {
		if u != "" {
			out = append(out, stream.RawFormat{MimeType: playlistMime, URL: u})
			break
		}
	}
	return out, nil
}
