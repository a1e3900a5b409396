package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicerelay/internal/core"
	"github.com/dkeye/voicerelay/internal/protocol"
)

// Deliver encodes ev and queues it on link. A link that cannot take the
// event (closed, or too slow to drain its buffer) is terminated; the
// returned error is informational and callers may drop it.
func Deliver(link core.Link, ev protocol.Event, m *Metrics) error {
	f, err := protocol.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "app.deliver").Str("op", string(ev.Op)).Msg("encode event")
		return err
	}
	if err = link.Send(f); err == nil {
		return nil
	}
	m.EventDropped(string(ev.Op))
	log.Warn().Err(err).
		Str("module", "app.deliver").
		Str("link", string(link.ID())).
		Str("op", string(ev.Op)).
		Msg("link unreachable, terminating")
	link.Terminate(err.Error())
	return err
}
