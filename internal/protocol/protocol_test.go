package protocol

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicerelay/internal/core"
	"github.com/dkeye/voicerelay/internal/domain"
)

func boolPtr(v bool) *bool { return &v }

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Command
	}{
		{
			name: "join",
			raw:  `{"op":"join","d":{"guildId":"G1","channelId":"C1","userId":"U1"}}`,
			want: Command{Op: OpJoin, GuildID: "G1", Payload: JoinPayload{ChannelID: "C1", UserID: "U1"}},
		},
		{
			name: "play with trim points",
			raw:  `{"op":"play","d":{"guildId":"G1","track":{"url":"https://example.com/a"},"startTime":"00:00:10","endTime":42}}`,
			want: Command{Op: OpPlay, GuildID: "G1", Payload: PlayPayload{
				Track:     Track{URL: "https://example.com/a"},
				StartTime: "00:00:10",
				EndTime:   "42",
			}},
		},
		{
			name: "leave has no payload",
			raw:  `{"op":"leave","d":{"guildId":"G1"}}`,
			want: Command{Op: OpLeave, GuildID: "G1"},
		},
		{
			name: "forwarded server update uses snake case guild",
			raw:  `{"op":"voiceServerUpdate","d":{"guild_id":"G1","token":"T","endpoint":"E"}}`,
			want: Command{Op: OpVoiceServerUpdate, GuildID: "G1", Payload: VoiceServerUpdatePayload{Token: "T", Endpoint: "E"}},
		},
		{
			name: "forwarded state update uses session_id",
			raw:  `{"op":"voiceStateUpdate","d":{"guildId":"G1","session_id":"S"}}`,
			want: Command{Op: OpVoiceStateUpdate, GuildID: "G1", Payload: VoiceStateUpdatePayload{SessionID: "S"}},
		},
		{
			name: "volume as string",
			raw:  `{"op":"volume","d":{"guildId":"G1","volume":"0.5"}}`,
			want: Command{Op: OpVolume, GuildID: "G1", Payload: VolumePayload{Volume: 0.5}},
		},
		{
			name: "pause explicit",
			raw:  `{"op":"pause","d":{"guildId":"G1","pause":true}}`,
			want: Command{Op: OpPause, GuildID: "G1", Payload: PausePayload{Pause: boolPtr(true)}},
		},
		{
			name: "pause non boolean toggles",
			raw:  `{"op":"pause","d":{"guildId":"G1","pause":"yes"}}`,
			want: Command{Op: OpPause, GuildID: "G1", Payload: PausePayload{}},
		},
		{
			name: "seek keeps position",
			raw:  `{"op":"seek","d":{"guildId":"G1","position":1500}}`,
			want: Command{Op: OpSeek, GuildID: "G1", Payload: SeekPayload{Position: "1500"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand([]byte(tt.raw))
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("command mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseCommandMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"op":`,
		"missing op":        `{"d":{"guildId":"G1"}}`,
		"missing d":         `{"op":"stop"}`,
		"missing guild":     `{"op":"stop","d":{}}`,
		"unknown op":        `{"op":"dance","d":{"guildId":"G1"}}`,
		"join without user": `{"op":"join","d":{"guildId":"G1","channelId":"C1"}}`,
		"play without url":  `{"op":"play","d":{"guildId":"G1","track":{}}}`,
		"volume not number": `{"op":"volume","d":{"guildId":"G1","volume":"loud"}}`,
		"volume missing":    `{"op":"volume","d":{"guildId":"G1"}}`,
		"d not object":      `{"op":"stop","d":"G1"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCommand([]byte(raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrMalformedMessage)
		})
	}
}

func TestEncodeEvents(t *testing.T) {
	f, err := Encode(Connected("G1", "C1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"connected","d":{"guildId":"G1","channelId":"C1"}}`, string(f))

	f, err = Encode(SendWS(core.SignalFrame{Op: 4, D: map[string]any{"guild_id": "G1", "channel_id": nil}}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"sendWS","d":{"op":4,"d":{"guild_id":"G1","channel_id":null}}}`, string(f))

	f, err = Encode(Error(OpPlay, "G1", domain.ErrNoActiveSession))
	require.NoError(t, err)
	var ev struct {
		Op Op        `json:"op"`
		D  ErrorData `json:"d"`
	}
	require.NoError(t, json.Unmarshal(f, &ev))
	assert.Equal(t, OpError, ev.Op)
	assert.Equal(t, "no_active_session", ev.D.Code)
	assert.Equal(t, OpPlay, ev.D.Op)

	f, err = Encode(Stats(8, 0.25))
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"stats","d":{"cores":8,"load":0.25}}`, string(f))
}
