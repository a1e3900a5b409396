package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicerelay/internal/app"
	"github.com/dkeye/voicerelay/internal/core"
	"github.com/dkeye/voicerelay/internal/domain"
)

// OnLinkConnected registers link and starts its liveness supervision, which
// lives until the link closes or ctx is canceled.
func (o *Orchestrator) OnLinkConnected(ctx context.Context, link core.Link) {
	ctx, cancel := context.WithCancel(ctx)
	o.Registry.BindLink(link, cancel)
	o.Metrics.LinkOpened()

	if o.Supervisor != nil {
		go o.Supervisor.Watch(ctx, link, func(l core.Link) {
			o.OnLinkClosed(l.ID())
		})
	}
}

// OnLinkClosed is called both when the read loop ends and when the link is
// reaped. Only the first call has an effect.
func (o *Orchestrator) OnLinkClosed(id domain.LinkID) {
	if !o.Registry.UnbindLink(id) {
		return
	}
	o.Metrics.LinkClosed()

	if o.Policy.LinkDeath == app.OrphanOnLinkDeath {
		if n := len(o.Registry.SessionsOwnedBy(id)); n > 0 {
			log.Warn().Str("module", "orch").Str("link", string(id)).Int("sessions", n).Msg("link gone, sessions orphaned")
		}
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.Registry.SessionsOwnedBy(id) {
		log.Info().Str("module", "orch").Str("link", string(id)).Str("guild", string(s.GuildID())).Msg("link gone, leaving")
		o.closeSession(s)
	}
}

func (o *Orchestrator) Sessions() []app.SessionInfo {
	return o.Registry.Snapshot()
}
