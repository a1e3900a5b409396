package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicerelay/internal/app"
	"github.com/dkeye/voicerelay/internal/core"
	"github.com/dkeye/voicerelay/internal/domain"
)

// Join builds a fresh session for the guild. A session already bound to the
// guild is closed first, so its transport is gone before the new one starts.
func (o *Orchestrator) Join(link core.Link, g domain.GuildID, c domain.ChannelID, u domain.UserID) *app.Session {
	o.mu.Lock()
	defer o.mu.Unlock()

	if prev, ok := o.Registry.Session(g); ok {
		log.Info().
			Str("module", "orch").
			Str("guild", string(g)).
			Str("from_channel", string(prev.ChannelID())).
			Str("to_channel", string(c)).
			Msg("replacing session")
		o.closeSession(prev)
	}

	opts := o.Session
	opts.Play = o.Policy.Play
	opts.Metrics = o.Metrics
	s := app.NewSession(g, c, u, link, o.NewTransport(g), o.Source, opts)
	if stale := o.Registry.Replace(s); stale != nil {
		stale.Close()
	} else {
		o.Metrics.SessionOpened()
	}
	log.Info().Str("module", "orch").Str("guild", string(g)).Str("channel", string(c)).Str("link", string(link.ID())).Msg("joined")
	return s
}

// Leave closes s and drops it from the registry.
func (o *Orchestrator) Leave(s *app.Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeSession(s)
}

// closeSession tears the transport down before the registry forgets the
// session. Caller holds o.mu.
func (o *Orchestrator) closeSession(s *app.Session) {
	s.Close()
	if o.Registry.Remove(s) {
		o.Metrics.SessionClosed()
	}
	log.Info().Str("module", "orch").Str("guild", string(s.GuildID())).Msg("left")
}

// Shutdown leaves every guild. Links are left to their adapters.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.Registry.Sessions() {
		o.closeSession(s)
	}
}
