package protocol

import (
	"encoding/json"

	"github.com/dkeye/voicerelay/internal/core"
	"github.com/dkeye/voicerelay/internal/domain"
)

type Event struct {
	Op Op  `json:"op"`
	D  any `json:"d"`
}

type GuildChannel struct {
	GuildID   domain.GuildID   `json:"guildId"`
	ChannelID domain.ChannelID `json:"channelId"`
}

type TrackInfoData struct {
	Info      core.TrackInfo   `json:"info"`
	GuildID   domain.GuildID   `json:"guildId"`
	ChannelID domain.ChannelID `json:"channelId"`
}

type StatsData struct {
	Cores int     `json:"cores"`
	Load  float64 `json:"load"`
}

type ErrorData struct {
	Op      Op             `json:"op,omitempty"`
	GuildID domain.GuildID `json:"guildId,omitempty"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
}

func Encode(ev Event) (core.Frame, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}

func SendWS(f core.SignalFrame) Event {
	return Event{Op: OpSendWS, D: f}
}

func Connected(g domain.GuildID, c domain.ChannelID) Event {
	return Event{Op: OpConnected, D: GuildChannel{GuildID: g, ChannelID: c}}
}

func Disconnected(g domain.GuildID, c domain.ChannelID) Event {
	return Event{Op: OpDisconnected, D: GuildChannel{GuildID: g, ChannelID: c}}
}

func TrackEnd(g domain.GuildID, c domain.ChannelID) Event {
	return Event{Op: OpTrackEnd, D: GuildChannel{GuildID: g, ChannelID: c}}
}

func TrackInfo(info core.TrackInfo, g domain.GuildID, c domain.ChannelID) Event {
	return Event{Op: OpTrackInfo, D: TrackInfoData{Info: info, GuildID: g, ChannelID: c}}
}

func Stats(cores int, load float64) Event {
	return Event{Op: OpStats, D: StatsData{Cores: cores, Load: load}}
}

// Error reports a failed command back to the link that sent it.
func Error(op Op, g domain.GuildID, err error) Event {
	return Event{Op: OpError, D: ErrorData{Op: op, GuildID: g, Code: domain.Code(err), Message: err.Error()}}
}
