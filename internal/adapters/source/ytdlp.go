// Package source resolves track references into audio byte streams using
// yt-dlp.
package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicerelay/internal/core"
)

type YTDLP struct {
	Path string
}

func NewYTDLP(path string) *YTDLP {
	if path == "" {
		path = "yt-dlp"
	}
	return &YTDLP{Path: path}
}

func streamArgs(url string, hints []string) []string {
	args := []string{"--quiet", "--no-playlist", "--no-progress", "-o", "-"}
	args = append(args, hints...)
	return append(args, url)
}

func infoArgs(url string, hints []string) []string {
	args := []string{"-j", "--no-playlist", "--skip-download"}
	args = append(args, hints...)
	return append(args, url)
}

// Open starts downloading url to the returned stream. Metadata is resolved
// by a second yt-dlp run bound to ctx, not to the stream, and handed to
// onInfo from its own goroutine even if the stream was already closed.
func (y *YTDLP) Open(ctx context.Context, url string, hints []string, onInfo func(core.TrackInfo)) (io.ReadCloser, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(streamCtx, y.Path, streamArgs(url, hints)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("yt-dlp stdout pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("yt-dlp start error: %w", err)
	}
	log.Debug().Str("module", "source").Str("url", url).Int("pid", cmd.Process.Pid).Msg("yt-dlp started")

	if onInfo != nil {
		go func() {
			info, err := y.Resolve(ctx, url, hints)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("module", "source").Str("url", url).Msg("metadata unavailable")
				}
				return
			}
			if ctx.Err() == nil {
				onInfo(info)
			}
		}()
	}

	return &process{ReadCloser: stdout, cmd: cmd, cancel: cancel, stderr: &stderr, url: url}, nil
}

// Resolve runs yt-dlp in JSON mode and returns the first entry's metadata.
func (y *YTDLP) Resolve(ctx context.Context, url string, hints []string) (core.TrackInfo, error) {
	out, err := exec.CommandContext(ctx, y.Path, infoArgs(url, hints)...).Output()
	if err != nil {
		return core.TrackInfo{}, fmt.Errorf("yt-dlp json error: %w", err)
	}
	return parseInfo(out)
}

type ytdlpInfo struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Channel    string  `json:"channel"`
	Duration   float64 `json:"duration"`
	WebpageURL string  `json:"webpage_url"`
	Thumbnail  string  `json:"thumbnail"`
	Extractor  string  `json:"extractor"`
	IsLive     bool    `json:"is_live"`
}

// parseInfo reads the first JSON line; searches print one line per result.
func parseInfo(out []byte) (core.TrackInfo, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var info ytdlpInfo
		if err := json.Unmarshal(line, &info); err != nil {
			return core.TrackInfo{}, fmt.Errorf("json unmarshal error: %w", err)
		}
		uploader := info.Uploader
		if uploader == "" {
			uploader = info.Channel
		}
		return core.TrackInfo{
			ID:         info.ID,
			Title:      info.Title,
			Uploader:   uploader,
			Duration:   info.Duration,
			WebpageURL: info.WebpageURL,
			Thumbnail:  info.Thumbnail,
			Extractor:  info.Extractor,
			IsLive:     info.IsLive,
		}, nil
	}
	if err := sc.Err(); err != nil {
		return core.TrackInfo{}, err
	}
	return core.TrackInfo{}, errors.New("empty output from yt-dlp")
}

// process ties the stream to its yt-dlp process.
type process struct {
	io.ReadCloser
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *bytes.Buffer
	url    string

	once sync.Once
}

func (p *process) Close() error {
	p.once.Do(func() {
		p.cancel()
		if err := p.cmd.Wait(); err != nil && p.stderr.Len() > 0 {
			log.Debug().Err(err).Str("module", "source").Str("url", p.url).Str("stderr", p.stderr.String()).Msg("yt-dlp exited")
		}
	})
	return nil
}
