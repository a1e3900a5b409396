// Package protocol defines the wire schema exchanged with client links:
// inbound commands as {op, d} envelopes and outbound events in the same shape.
package protocol

type Op string

// Inbound ops.
const (
	OpJoin              Op = "join"
	OpPlay              Op = "play"
	OpStop              Op = "stop"
	OpLeave             Op = "leave"
	OpSeek              Op = "seek"
	OpVoiceServerUpdate Op = "voiceServerUpdate"
	OpVoiceStateUpdate  Op = "voiceStateUpdate"
	OpVolume            Op = "volume"
	OpPause             Op = "pause"
)

// Outbound ops.
const (
	OpSendWS       Op = "sendWS"
	OpConnected    Op = "connected"
	OpDisconnected Op = "disconnected"
	OpTrackInfo    Op = "trackInfo"
	OpTrackEnd     Op = "trackEnd"
	OpStats        Op = "stats"
	OpError        Op = "error"
)
