// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ManuGH/ytrelay/internal/domain/stream"
	"github.com/ManuGH/ytrelay/internal/platform/httpx"
	youtube "github.com/kkdai/youtube/v2"
)

// VideoClient is the subset of *youtube.Client the extractor needs.
type VideoClient interface {
	GetVideoContext(ctx context.Context, id string) (*youtube.Video, error)
}

var _ VideoClient = (*youtube.Client)(nil)

// ExtractorProber resolves formats in-process through the extraction
// library instead of a remote metadata API. The endpoint base URL is
// informational only.
type ExtractorProber struct {
	client VideoClient
}

// NewExtractorProber wraps client. A nil client gets a library client over
// the traced outbound transport.
func NewExtractorProber(client VideoClient) *ExtractorProber {
	if client == nil {
		client = NewYouTubeClient(httpx.NewTracedClient(0))
	}
	return &ExtractorProber{client: client}
}

// NewYouTubeClient returns a library client using hc for all requests.
func NewYouTubeClient(hc *http.Client) *youtube.Client {
	return &youtube.Client{HTTPClient: hc}
}

func (p *ExtractorProber) Probe(ctx context.Context, ep stream.Endpoint, id stream.VideoID, timeout time.Duration) (stream.ProbeResult, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	video, err := p.client.GetVideoContext(ctx, id.String())
	if err != nil {
		return stream.ProbeResult{}, failure(ep, stream.StageTransport, 0, err)
	}
	if video == nil {
		return stream.ProbeResult{}, failure(ep, stream.StageDecode, 0, errors.New("extractor returned no video"))
	}

	// Ciphered formats carry no URL. Deciphering costs a request per format,
	// so a probe stays one request and they are skipped.
	formats := make([]stream.RawFormat, 0, len(video.Formats)+1)
	for i := range video.Formats {
		f := &video.Formats[i]
		if f.URL == "" {
			continue
		}
		bitrate := f.Bitrate
		if bitrate == 0 {
			bitrate = f.AverageBitrate
		}
		formats = append(formats, stream.RawFormat{
			MimeType: f.MimeType,
			Width:    f.Width,
			Height:   f.Height,
			Bitrate:  bitrate,
			URL:      f.URL,
			Itag:     f.ItagNo,
			Label:    f.QualityLabel,
			Language: trackLanguage(f),
		})
	}
	if video.HLSManifestURL != "" {
		formats = append(formats, stream.RawFormat{MimeType: playlistMime, URL: video.HLSManifestURL, Label: "hls"})
	}
	if len(formats) == 0 {
		return stream.ProbeResult{}, failure(ep, stream.StageEmpty, 0, nil)
	}

	meta := stream.Metadata{
		Title:         video.Title,
		Author:        video.Author,
		AuthorID:      video.ChannelID,
		LengthSeconds: int(video.Duration / time.Second),
		Live:          video.HLSManifestURL != "",
	}
	if n := len(video.Thumbnails); n > 0 {
		meta.Thumbnail = video.Thumbnails[n-1].URL
	}
	return stream.ProbeResult{Endpoint: ep, Formats: formats, Metadata: meta}, nil
}

func trackLanguage(f *youtube.Format) string {
	if f.AudioTrack == nil {
		return ""
	}
	return f.AudioTrack.ID
}
