// Package liveness keeps client links honest: every interval it probes each
// link, reaps the ones that never answered the previous probe and pushes
// host load telemetry to the rest.
package liveness

import (
	"context"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"

	"github.com/dkeye/voicerelay/internal/app"
	"github.com/dkeye/voicerelay/internal/core"
	"github.com/dkeye/voicerelay/internal/protocol"
)

const DefaultInterval = 30 * time.Second

// StatsFunc reports the host's logical CPU count and 1-minute load average.
type StatsFunc func() (cores int, load float64)

type Supervisor struct {
	interval time.Duration
	stats    StatsFunc
	metrics  *app.Metrics
}

func New(interval time.Duration, stats StatsFunc, m *app.Metrics) *Supervisor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Supervisor{interval: interval, stats: stats, metrics: m}
}

// Watch blocks until ctx is canceled or the link is reaped. onReap runs on
// the watching goroutine after the link has been terminated.
func (s *Supervisor) Watch(ctx context.Context, link core.Link, onReap func(core.Link)) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.tick(link) {
				continue
			}
			if onReap != nil {
				onReap(link)
			}
			return
		}
	}
}

// tick runs one probe cycle and reports whether the link survived it.
func (s *Supervisor) tick(link core.Link) bool {
	if !link.MarkProbed() {
		log.Warn().
			Str("module", "liveness").
			Str("link", string(link.ID())).
			Time("last_pong", link.LastPongAt()).
			Msg("probe timeout, terminating link")
		link.Terminate("probe timeout")
		s.metrics.LinkReaped()
		return false
	}
	if err := link.Ping(); err != nil {
		log.Debug().Err(err).Str("module", "liveness").Str("link", string(link.ID())).Msg("ping failed")
	}
	if s.stats != nil && link.Open() {
		cores, avg := s.stats()
		_ = app.Deliver(link, protocol.Stats(cores, avg), s.metrics)
	}
	return true
}

func HostStats() (int, float64) {
	cores, err := cpu.Counts(true)
	if err != nil || cores == 0 {
		cores = runtime.NumCPU()
	}
	var load1 float64
	if avg, err := load.Avg(); err == nil {
		load1 = avg.Load1
	} else {
		log.Debug().Err(err).Str("module", "liveness").Msg("load average unavailable")
	}
	return cores, load1
}
