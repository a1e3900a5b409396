package core

import (
	"io"

	"github.com/dkeye/voicerelay/internal/domain"
)

type TransportEventKind string

const (
	EventConnect       TransportEventKind = "connect"
	EventAuthenticated TransportEventKind = "authenticated"
	EventReady         TransportEventKind = "ready"
	EventDisconnect    TransportEventKind = "disconnect"
	EventError         TransportEventKind = "error"
	EventFailed        TransportEventKind = "failed"
	EventReconnecting  TransportEventKind = "reconnecting"
	EventWarn          TransportEventKind = "warn"
	EventDebug         TransportEventKind = "debug"
	// EventEnd fires exactly once per Play call, carrying its PlayOptions.Seq.
	EventEnd TransportEventKind = "end"
)

type TransportEvent struct {
	Kind    TransportEventKind
	Err     error
	Message string
	Seq     uint64
}

// SignalFrame is a gateway payload the transport needs sent upstream on the
// client's main gateway connection (e.g. a voice state update).
type SignalFrame struct {
	Op int `json:"op"`
	D  any `json:"d"`
}

type ConnectParams struct {
	SessionID string
	Endpoint  string
	Token     string
	UserID    domain.UserID
	ChannelID domain.ChannelID
}

type PlayOptions struct {
	Seq uint64
	// InputArgs are applied before the input is decoded (e.g. -ss).
	InputArgs []string
	// EncoderArgs are applied to the decoded output (e.g. -to).
	EncoderArgs  []string
	InlineVolume bool
}

// VoiceTransport performs the voice handshake and streams audio for one guild.
// Lifecycle events are delivered in order on a transport-owned goroutine;
// signal frames are delivered synchronously from SwitchChannel and Disconnect.
type VoiceTransport interface {
	SwitchChannel(channelID domain.ChannelID)
	// Connect starts a handshake and returns without waiting for it. A new call
	// abandons any attempt still in flight.
	Connect(p ConnectParams) error
	Disconnect()

	Play(stream io.ReadCloser, opts PlayOptions) error
	StopPlaying()
	SetVolume(v float64)
	Pause()
	Resume()
	Paused() bool

	OnEvent(func(TransportEvent))
	OnSignal(func(SignalFrame))
}

// TransportFactory builds the transport owned by a new session.
type TransportFactory func(guildID domain.GuildID) VoiceTransport
