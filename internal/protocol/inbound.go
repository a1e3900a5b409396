package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dkeye/voicerelay/internal/domain"
)

type Envelope struct {
	Op Op              `json:"op"`
	D  json.RawMessage `json:"d"`
}

// Command is a parsed inbound message. Payload holds one of the *Payload
// types below, or nil for stop and leave.
type Command struct {
	Op      Op
	GuildID domain.GuildID
	Payload any
}

type JoinPayload struct {
	ChannelID domain.ChannelID `json:"channelId"`
	UserID    domain.UserID    `json:"userId"`
}

type Track struct {
	URL string `json:"url"`
}

type PlayPayload struct {
	Track     Track `json:"track"`
	StartTime Text  `json:"startTime"`
	EndTime   Text  `json:"endTime"`
}

type SeekPayload struct {
	Position Text `json:"position"`
}

type VoiceServerUpdatePayload struct {
	Token    string `json:"token"`
	Endpoint string `json:"endpoint"`
}

type VoiceStateUpdatePayload struct {
	SessionID string `json:"sessionId"`
}

type VolumePayload struct {
	Volume float64
}

// PausePayload.Pause is nil when the client asked for a toggle.
type PausePayload struct {
	Pause *bool
}

// Text accepts a JSON string or number and keeps its textual form.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	*t = Text(n.String())
	return nil
}

// Gain accepts a JSON number or a numeric string.
type Gain float64

func (g *Gain) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		f, err := n.Float64()
		if err != nil {
			return err
		}
		*g = Gain(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("expected number: %w", err)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("expected number: %w", err)
	}
	*g = Gain(f)
	return nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedMessage, fmt.Sprintf(format, args...))
}

// ParseCommand decodes and validates one inbound message.
// Every failure wraps domain.ErrMalformedMessage.
func ParseCommand(raw []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Command{}, malformed("decode envelope: %v", err)
	}
	if env.Op == "" {
		return Command{}, malformed("missing op")
	}
	if len(env.D) == 0 || bytes.Equal(bytes.TrimSpace(env.D), []byte("null")) {
		return Command{Op: env.Op}, malformed("missing d")
	}

	// Clients often forward raw gateway packets, which use snake_case.
	var ref struct {
		GuildID      domain.GuildID `json:"guildId"`
		GuildIDSnake domain.GuildID `json:"guild_id"`
	}
	if err := json.Unmarshal(env.D, &ref); err != nil {
		return Command{Op: env.Op}, malformed("decode d: %v", err)
	}
	cmd := Command{Op: env.Op, GuildID: ref.GuildID}
	if cmd.GuildID == "" {
		cmd.GuildID = ref.GuildIDSnake
	}
	if cmd.GuildID == "" {
		return cmd, malformed("%s: missing guildId", env.Op)
	}

	var err error
	switch env.Op {
	case OpJoin:
		cmd.Payload, err = parseJoin(env.D)
	case OpPlay:
		cmd.Payload, err = parsePlay(env.D)
	case OpStop, OpLeave:
	case OpSeek:
		var p SeekPayload
		err = json.Unmarshal(env.D, &p)
		cmd.Payload = p
	case OpVoiceServerUpdate:
		var p VoiceServerUpdatePayload
		err = json.Unmarshal(env.D, &p)
		cmd.Payload = p
	case OpVoiceStateUpdate:
		cmd.Payload, err = parseStateUpdate(env.D)
	case OpVolume:
		cmd.Payload, err = parseVolume(env.D)
	case OpPause:
		cmd.Payload, err = parsePause(env.D)
	default:
		return cmd, malformed("unknown op %q", env.Op)
	}
	if err != nil {
		if !isMalformed(err) {
			err = malformed("%s: %v", env.Op, err)
		}
		return cmd, err
	}
	return cmd, nil
}

func isMalformed(err error) bool {
	return domain.Code(err) == "malformed_message"
}

func parseJoin(d json.RawMessage) (JoinPayload, error) {
	var p JoinPayload
	if err := json.Unmarshal(d, &p); err != nil {
		return p, err
	}
	if p.ChannelID == "" || p.UserID == "" {
		return p, malformed("join: channelId and userId are required")
	}
	return p, nil
}

func parsePlay(d json.RawMessage) (PlayPayload, error) {
	var p PlayPayload
	if err := json.Unmarshal(d, &p); err != nil {
		return p, err
	}
	if strings.TrimSpace(p.Track.URL) == "" {
		return p, malformed("play: track.url is required")
	}
	return p, nil
}

func parseStateUpdate(d json.RawMessage) (VoiceStateUpdatePayload, error) {
	var aux struct {
		SessionID      string `json:"sessionId"`
		SessionIDSnake string `json:"session_id"`
	}
	if err := json.Unmarshal(d, &aux); err != nil {
		return VoiceStateUpdatePayload{}, err
	}
	p := VoiceStateUpdatePayload{SessionID: aux.SessionID}
	if p.SessionID == "" {
		p.SessionID = aux.SessionIDSnake
	}
	return p, nil
}

func parseVolume(d json.RawMessage) (VolumePayload, error) {
	var aux struct {
		Volume *Gain `json:"volume"`
	}
	if err := json.Unmarshal(d, &aux); err != nil {
		return VolumePayload{}, err
	}
	if aux.Volume == nil {
		return VolumePayload{}, malformed("volume: missing volume")
	}
	return VolumePayload{Volume: float64(*aux.Volume)}, nil
}

func parsePause(d json.RawMessage) (PausePayload, error) {
	var aux struct {
		Pause json.RawMessage `json:"pause"`
	}
	if err := json.Unmarshal(d, &aux); err != nil {
		return PausePayload{}, err
	}
	// Anything other than a literal boolean means toggle.
	var v bool
	switch string(bytes.TrimSpace(aux.Pause)) {
	case "true":
		v = true
	case "false":
		v = false
	default:
		return PausePayload{}, nil
	}
	return PausePayload{Pause: &v}, nil
}
