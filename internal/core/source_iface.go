package core

import (
	"context"
	"io"
)

// TrackInfo is the metadata reported once a track reference resolves.
type TrackInfo struct {
	ID         string  `json:"id,omitempty"`
	Title      string  `json:"title,omitempty"`
	Uploader   string  `json:"uploader,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
	WebpageURL string  `json:"webpage_url,omitempty"`
	Thumbnail  string  `json:"thumbnail,omitempty"`
	Extractor  string  `json:"extractor,omitempty"`
	IsLive     bool    `json:"is_live,omitempty"`
}

// AudioSource turns a track reference into a decodable byte stream.
// onInfo is invoked at most once, asynchronously, when metadata is known.
// Closing the stream does not cancel it; canceling ctx does.
type AudioSource interface {
	Open(ctx context.Context, url string, hints []string, onInfo func(TrackInfo)) (io.ReadCloser, error)
}
