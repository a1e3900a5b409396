package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicerelay/internal/core"
	"github.com/dkeye/voicerelay/internal/domain"
	"github.com/dkeye/voicerelay/internal/protocol"
)

const (
	StateAwaitingCredentials = "awaiting_credentials"
	StateConnecting          = "connecting"
	StateAuthenticated       = "authenticated"
	StateReady               = "ready"
	StateDisconnected        = "disconnected"
)

const (
	evConnect      = "connect"
	evAuthenticate = "authenticate"
	evReady        = "ready"
	evDisconnect   = "disconnect"
)

type SessionOptions struct {
	Play         PlayPolicy
	InlineVolume bool
	SourceHints  []string
	Metrics      *Metrics
}

// Session drives one guild's voice connection. It owns its transport; the
// owner link is only borrowed for event delivery.
type Session struct {
	guildID   domain.GuildID
	channelID domain.ChannelID
	owner     core.Link
	transport core.VoiceTransport
	source    core.AudioSource
	opts      SessionOptions

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	mu        sync.Mutex
	fsm       *fsm.FSM
	creds     domain.Credentials
	submitted domain.Credentials
	authed    bool
	ready     bool
	playing   bool
	seq       uint64
}

// NewSession wires the transport callbacks and asks the client to move the
// bot into channelID.
func NewSession(
	guildID domain.GuildID,
	channelID domain.ChannelID,
	userID domain.UserID,
	owner core.Link,
	transport core.VoiceTransport,
	source core.AudioSource,
	opts SessionOptions,
) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		guildID:   guildID,
		channelID: channelID,
		owner:     owner,
		transport: transport,
		source:    source,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		creds:     domain.Credentials{UserID: userID},
	}
	s.fsm = fsm.NewFSM(
		StateAwaitingCredentials,
		fsm.Events{
			{Name: evConnect, Src: []string{StateAwaitingCredentials, StateConnecting, StateAuthenticated, StateReady, StateDisconnected}, Dst: StateConnecting},
			{Name: evAuthenticate, Src: []string{StateConnecting}, Dst: StateAuthenticated},
			{Name: evReady, Src: []string{StateConnecting, StateAuthenticated}, Dst: StateReady},
			{Name: evDisconnect, Src: []string{StateAwaitingCredentials, StateConnecting, StateAuthenticated, StateReady}, Dst: StateDisconnected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger(log.Debug()).Str("from", e.Src).Str("to", e.Dst).Msg("state changed")
			},
		},
	)

	transport.OnEvent(s.handleEvent)
	transport.OnSignal(s.handleSignal)
	transport.SwitchChannel(channelID)
	return s
}

func (s *Session) GuildID() domain.GuildID     { return s.guildID }
func (s *Session) ChannelID() domain.ChannelID { return s.channelID }
func (s *Session) Owner() core.Link            { return s.owner }

func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.Current()
}

// Authed reports whether the voice gateway accepted the current attempt.
func (s *Session) Authed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authed
}

func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Session) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *Session) Closed() bool { return s.closed.Load() }

type SessionInfo struct {
	GuildID   domain.GuildID   `json:"guildId"`
	ChannelID domain.ChannelID `json:"channelId"`
	Link      domain.LinkID    `json:"link"`
	State     string           `json:"state"`
	Authed    bool             `json:"authed"`
	Playing   bool             `json:"playing"`
	Paused    bool             `json:"paused"`
	Missing   []string         `json:"missing,omitempty"`
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{
		GuildID:   s.guildID,
		ChannelID: s.channelID,
		State:     s.fsm.Current(),
		Authed:    s.authed,
		Playing:   s.playing,
		Paused:    s.transport.Paused(),
		Missing:   s.creds.Missing(),
	}
	if s.owner != nil {
		info.Link = s.owner.ID()
	}
	return info
}

// OnServerUpdate stores the token and endpoint fragments.
func (s *Session) OnServerUpdate(token, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return domain.ErrNoActiveSession
	}
	s.creds.Token = token
	s.creds.Endpoint = endpoint
	return s.tryConnect()
}

// OnStateUpdate stores the session id fragment.
func (s *Session) OnStateUpdate(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return domain.ErrNoActiveSession
	}
	s.creds.SessionID = sessionID
	return s.tryConnect()
}

// tryConnect submits the held fragments once they are complete. A set equal
// to the attempt still in flight is not submitted again; a failed attempt
// no longer counts as in flight.
func (s *Session) tryConnect() error {
	if !s.creds.Complete() {
		s.logger(log.Debug()).Strs("missing", s.creds.Missing()).Msg("waiting for credentials")
		return nil
	}
	switch s.fsm.Current() {
	case StateConnecting, StateAuthenticated, StateReady:
		if s.creds == s.submitted {
			return nil
		}
	}
	if s.fsm.Current() != StateConnecting {
		s.fire(evConnect)
	}
	s.submitted = domain.Credentials{}
	s.authed = false
	s.ready = false
	s.opts.Metrics.ConnectAttempt()
	s.logger(log.Info()).Str("endpoint", s.creds.Endpoint).Msg("connecting voice transport")

	err := s.transport.Connect(core.ConnectParams{
		SessionID: s.creds.SessionID,
		Endpoint:  s.creds.Endpoint,
		Token:     s.creds.Token,
		UserID:    s.creds.UserID,
		ChannelID: s.channelID,
	})
	if err != nil {
		return fmt.Errorf("%w: connect: %v", domain.ErrTransport, err)
	}
	s.submitted = s.creds
	return nil
}

// Play resolves url through the audio source and streams it. startTime is
// applied before decoding, endTime after.
func (s *Session) Play(url string, startTime, endTime protocol.Text) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return domain.ErrNoActiveSession
	}
	if !s.ready {
		return domain.ErrNotReady
	}
	if s.playing {
		if s.opts.Play == PlayReject {
			return domain.ErrBusy
		}
		s.logger(log.Debug()).Msg("preempting current track")
		s.transport.StopPlaying()
		s.playing = false
	}

	s.seq++
	stream, err := s.source.Open(s.ctx, url, s.opts.SourceHints, s.onTrackInfo)
	if err != nil {
		return fmt.Errorf("%w: open source: %v", domain.ErrTransport, err)
	}

	opts := core.PlayOptions{Seq: s.seq, InlineVolume: s.opts.InlineVolume}
	if startTime != "" {
		opts.InputArgs = append(opts.InputArgs, "-ss", string(startTime))
	}
	if endTime != "" {
		opts.EncoderArgs = append(opts.EncoderArgs, "-to", string(endTime))
	}
	if err := s.transport.Play(stream, opts); err != nil {
		_ = stream.Close()
		return fmt.Errorf("%w: play: %v", domain.ErrTransport, err)
	}
	s.playing = true
	s.logger(log.Info()).Str("url", url).Uint64("seq", s.seq).Msg("playing")
	return nil
}

// onTrackInfo runs on the source's goroutine and must not take s.mu: Play
// holds it while the source starts.
func (s *Session) onTrackInfo(info core.TrackInfo) {
	if s.closed.Load() {
		return
	}
	s.emit(protocol.TrackInfo(info, s.guildID, s.channelID))
}

func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return domain.ErrNoActiveSession
	}
	s.transport.StopPlaying()
	return nil
}

func (s *Session) Seek(protocol.Text) error {
	return fmt.Errorf("%w: seek", domain.ErrUnsupported)
}

func (s *Session) SetVolume(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return domain.ErrNoActiveSession
	}
	s.transport.SetVolume(v)
	return nil
}

// Pause toggles when explicit is nil; otherwise it moves to *explicit only
// if the transport is not already there.
func (s *Session) Pause(explicit *bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return domain.ErrNoActiveSession
	}
	want := !s.transport.Paused()
	if explicit != nil {
		want = *explicit
	}
	if want == s.transport.Paused() {
		return nil
	}
	if want {
		s.transport.Pause()
	} else {
		s.transport.Resume()
	}
	return nil
}

// Close tears the transport down. The disconnected event, when the
// transport had been live, is the last thing the session emits.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}
	live := false
	switch s.fsm.Current() {
	case StateConnecting, StateAuthenticated, StateReady:
		live = true
	}

	s.transport.Disconnect()
	s.closed.Store(true)
	s.fire(evDisconnect)
	s.ready = false
	s.playing = false
	if live {
		s.emit(protocol.Disconnected(s.guildID, s.channelID))
	}
	s.cancel()
	s.logger(log.Info()).Msg("session closed")
}

func (s *Session) handleEvent(ev core.TransportEvent) {
	s.opts.Metrics.TransportEvent(string(ev.Kind))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}

	switch ev.Kind {
	case core.EventConnect:
		s.logger(log.Debug()).Msg("voice gateway reached")
	case core.EventAuthenticated:
		s.authed = true
		s.fire(evAuthenticate)
	case core.EventReady:
		if s.fire(evReady) {
			s.ready = true
			s.emit(protocol.Connected(s.guildID, s.channelID))
		}
	case core.EventDisconnect:
		if s.fire(evDisconnect) {
			s.ready = false
			s.playing = false
			s.emit(protocol.Disconnected(s.guildID, s.channelID))
		}
	case core.EventError, core.EventFailed:
		err := ev.Err
		if err == nil {
			err = errors.New(ev.Message)
		}
		// The attempt is dead; the same fragments may start another.
		s.submitted = domain.Credentials{}
		s.logger(log.Error()).Err(err).Str("kind", string(ev.Kind)).Msg("voice transport error")
		s.emit(protocol.Error("", s.guildID, fmt.Errorf("%w: %v", domain.ErrTransport, err)))
	case core.EventReconnecting, core.EventWarn:
		s.logger(log.Warn()).Str("kind", string(ev.Kind)).Msg(ev.Message)
	case core.EventDebug:
		s.logger(log.Debug()).Msg(ev.Message)
	case core.EventEnd:
		if ev.Seq == s.seq {
			s.playing = false
		}
		s.emit(protocol.TrackEnd(s.guildID, s.channelID))
	}
}

// handleSignal is invoked synchronously from SwitchChannel and Disconnect,
// sometimes with s.mu held, so it only forwards.
func (s *Session) handleSignal(f core.SignalFrame) {
	s.emit(protocol.SendWS(f))
}

// fire reports whether the event changed the state. Caller holds s.mu.
func (s *Session) fire(event string) bool {
	if !s.fsm.Can(event) {
		return false
	}
	err := s.fsm.Event(context.Background(), event)
	if err != nil {
		var noop fsm.NoTransitionError
		if !errors.As(err, &noop) {
			s.logger(log.Warn()).Err(err).Str("event", event).Msg("state transition failed")
		}
		return false
	}
	return true
}

func (s *Session) emit(ev protocol.Event) {
	if s.owner == nil {
		return
	}
	_ = Deliver(s.owner, ev, s.opts.Metrics)
}

func (s *Session) logger(e *zerolog.Event) *zerolog.Event {
	return e.Str("module", "app.session").Str("guild", string(s.guildID)).Str("channel", string(s.channelID))
}
