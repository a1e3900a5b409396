package fakes

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/dkeye/voicerelay/internal/core"
)

type OpenCall struct {
	URL   string
	Hints []string
}

// Source returns an empty stream for every url. Info, when set, is passed to
// onInfo synchronously before Open returns.
type Source struct {
	Info *core.TrackInfo
	Err  error

	mu    sync.Mutex
	calls []OpenCall
}

func (s *Source) Open(_ context.Context, url string, hints []string, onInfo func(core.TrackInfo)) (io.ReadCloser, error) {
	s.mu.Lock()
	s.calls = append(s.calls, OpenCall{URL: url, Hints: hints})
	info, err := s.Info, s.Err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if info != nil && onInfo != nil {
		onInfo(*info)
	}
	return io.NopCloser(strings.NewReader("")), nil
}

func (s *Source) Calls() []OpenCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]OpenCall(nil), s.calls...)
}
