package orch

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicerelay/internal/app"
	"github.com/dkeye/voicerelay/internal/app/liveness"
	"github.com/dkeye/voicerelay/internal/core"
	"github.com/dkeye/voicerelay/internal/domain"
	"github.com/dkeye/voicerelay/internal/protocol"
)

type Orchestrator struct {
	Registry     *app.Registry
	Policy       app.Policy
	Supervisor   *liveness.Supervisor
	NewTransport core.TransportFactory
	Source       core.AudioSource
	Session      app.SessionOptions
	Metrics      *app.Metrics

	// mu serializes registry mutations: join, leave and link-death cascades.
	mu sync.Mutex
}

// Dispatch parses and routes one inbound message. Any failure, including a
// panic inside the handler, is reported to link as an error event and
// returned; it never affects other links.
func (o *Orchestrator) Dispatch(link core.Link, raw []byte) (err error) {
	cmd, err := protocol.ParseCommand(raw)
	if err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("link", string(link.ID())).Msg("malformed message")
		o.Metrics.Command(string(cmd.Op), domain.Code(err))
		o.report(link, cmd, err)
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("module", "orch").
				Str("link", string(link.ID())).
				Str("op", string(cmd.Op)).
				Str("guild", string(cmd.GuildID)).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("command panicked")
			err = fmt.Errorf("%w: %v", domain.ErrInternal, r)
		}
		result := "ok"
		if err != nil {
			result = domain.Code(err)
			o.report(link, cmd, err)
		}
		o.Metrics.Command(string(cmd.Op), result)
	}()

	return o.route(link, cmd)
}

func (o *Orchestrator) route(link core.Link, cmd protocol.Command) error {
	if cmd.Op == protocol.OpJoin {
		p := cmd.Payload.(protocol.JoinPayload)
		o.Join(link, cmd.GuildID, p.ChannelID, p.UserID)
		return nil
	}

	s, ok := o.Registry.Session(cmd.GuildID)
	if !ok {
		return fmt.Errorf("%w: guild %s", domain.ErrNoActiveSession, cmd.GuildID)
	}

	switch p := cmd.Payload.(type) {
	case protocol.PlayPayload:
		return s.Play(p.Track.URL, p.StartTime, p.EndTime)
	case protocol.SeekPayload:
		return s.Seek(p.Position)
	case protocol.VoiceServerUpdatePayload:
		return s.OnServerUpdate(p.Token, p.Endpoint)
	case protocol.VoiceStateUpdatePayload:
		return s.OnStateUpdate(p.SessionID)
	case protocol.VolumePayload:
		return s.SetVolume(p.Volume)
	case protocol.PausePayload:
		return s.Pause(p.Pause)
	}

	switch cmd.Op {
	case protocol.OpStop:
		return s.Stop()
	case protocol.OpLeave:
		o.Leave(s)
		return nil
	}
	return fmt.Errorf("%w: unhandled op %q", domain.ErrMalformedMessage, cmd.Op)
}

func (o *Orchestrator) report(link core.Link, cmd protocol.Command, err error) {
	_ = app.Deliver(link, protocol.Error(cmd.Op, cmd.GuildID, err), o.Metrics)
}
