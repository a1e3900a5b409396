package orch

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicerelay/internal/app"
	"github.com/dkeye/voicerelay/internal/app/liveness"
	"github.com/dkeye/voicerelay/internal/core"
	"github.com/dkeye/voicerelay/internal/domain"
	"github.com/dkeye/voicerelay/internal/protocol"
	"github.com/dkeye/voicerelay/internal/testutil/fakes"
)

type harness struct {
	orch       *Orchestrator
	transports *fakes.Factory
	source     *fakes.Source
}

func newHarness(p app.Policy) *harness {
	h := &harness{transports: &fakes.Factory{}, source: &fakes.Source{}}
	h.orch = &Orchestrator{
		Registry:     app.NewRegistry(),
		Policy:       p,
		NewTransport: h.transports.New,
		Source:       h.source,
	}
	return h
}

func (h *harness) send(t *testing.T, link core.Link, msg string) error {
	t.Helper()
	return h.orch.Dispatch(link, []byte(msg))
}

func lastError(t *testing.T, link *fakes.Link) protocol.ErrorData {
	t.Helper()
	d, ok := link.Last("error")
	require.True(t, ok, "expected an error event")
	var data protocol.ErrorData
	require.NoError(t, json.Unmarshal(d, &data))
	return data
}

const joinG1 = `{"op":"join","d":{"guildId":"G1","channelId":"C1","userId":"U1"}}`

func TestJoinCredentialsConnectScenario(t *testing.T) {
	h := newHarness(app.Policy{})
	link := fakes.NewLink("L1")
	h.orch.OnLinkConnected(context.Background(), link)

	require.NoError(t, h.send(t, link, joinG1))
	require.NoError(t, h.send(t, link, `{"op":"voiceServerUpdate","d":{"guildId":"G1","token":"T","endpoint":"E"}}`))
	require.NoError(t, h.send(t, link, `{"op":"voiceStateUpdate","d":{"guildId":"G1","sessionId":"S"}}`))

	tr := h.transports.Last()
	require.NotNil(t, tr)
	assert.Equal(t, []core.ConnectParams{{
		SessionID: "S",
		Endpoint:  "E",
		Token:     "T",
		UserID:    "U1",
		ChannelID: "C1",
	}}, tr.Connects())

	tr.Emit(core.TransportEvent{Kind: core.EventReady})
	assert.Equal(t, 1, link.Count("connected"))
	d, _ := link.Last("connected")
	assert.JSONEq(t, `{"guildId":"G1","channelId":"C1"}`, string(d))
}

func TestFragmentsReverseOrderConnectOnce(t *testing.T) {
	h := newHarness(app.Policy{})
	link := fakes.NewLink("L1")

	require.NoError(t, h.send(t, link, joinG1))
	require.NoError(t, h.send(t, link, `{"op":"voiceStateUpdate","d":{"guild_id":"G1","session_id":"S"}}`))
	require.NoError(t, h.send(t, link, `{"op":"voiceServerUpdate","d":{"guild_id":"G1","token":"T","endpoint":"E"}}`))

	assert.Len(t, h.transports.Last().Connects(), 1)
}

func TestJoinTwiceKeepsOneSession(t *testing.T) {
	h := newHarness(app.Policy{})
	link := fakes.NewLink("L1")

	require.NoError(t, h.send(t, link, joinG1))
	require.NoError(t, h.send(t, link, `{"op":"join","d":{"guildId":"G1","channelId":"C2","userId":"U1"}}`))

	built := h.transports.Built()
	require.Len(t, built, 2)
	assert.Equal(t, 1, built[0].Disconnects(), "prior transport must be torn down")
	assert.Zero(t, built[1].Disconnects())

	sessions := h.orch.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, domain.ChannelID("C2"), sessions[0].ChannelID)

	// the old transport is silenced
	before := len(link.Ops())
	built[0].Emit(core.TransportEvent{Kind: core.EventReady})
	assert.Len(t, link.Ops(), before)
}

func TestJoinReplaceSignalsLeaveBeforeJoin(t *testing.T) {
	h := newHarness(app.Policy{})
	link := fakes.NewLink("L1")

	require.NoError(t, h.send(t, link, joinG1))
	require.NoError(t, h.send(t, link, `{"op":"join","d":{"guildId":"G1","channelId":"C2","userId":"U1"}}`))

	evs := link.Events()
	require.Len(t, evs, 3)
	assert.JSONEq(t, `{"op":4,"d":{"guild_id":"G1","channel_id":null}}`, string(evs[1].D))
	assert.JSONEq(t, `{"op":4,"d":{"guild_id":"G1","channel_id":"C2"}}`, string(evs[2].D))
}

func TestCommandsWithoutSession(t *testing.T) {
	msgs := map[string]string{
		"play":              `{"op":"play","d":{"guildId":"G9","track":{"url":"x"}}}`,
		"stop":              `{"op":"stop","d":{"guildId":"G9"}}`,
		"leave":             `{"op":"leave","d":{"guildId":"G9"}}`,
		"seek":              `{"op":"seek","d":{"guildId":"G9","position":10}}`,
		"voiceServerUpdate": `{"op":"voiceServerUpdate","d":{"guildId":"G9","token":"T","endpoint":"E"}}`,
		"voiceStateUpdate":  `{"op":"voiceStateUpdate","d":{"guildId":"G9","sessionId":"S"}}`,
		"volume":            `{"op":"volume","d":{"guildId":"G9","volume":1}}`,
		"pause":             `{"op":"pause","d":{"guildId":"G9"}}`,
	}
	for op, msg := range msgs {
		t.Run(op, func(t *testing.T) {
			h := newHarness(app.Policy{})
			link := fakes.NewLink("L1")

			err := h.send(t, link, msg)
			assert.ErrorIs(t, err, domain.ErrNoActiveSession)

			data := lastError(t, link)
			assert.Equal(t, "no_active_session", data.Code)
			assert.Equal(t, protocol.Op(op), data.Op)
			assert.Equal(t, domain.GuildID("G9"), data.GuildID)
			assert.Empty(t, h.transports.Built())
			assert.Empty(t, h.orch.Sessions())
			assert.True(t, link.Open())
		})
	}
}

func TestMalformedMessageReported(t *testing.T) {
	h := newHarness(app.Policy{})
	link := fakes.NewLink("L1")

	err := h.send(t, link, `{"op":"join","d":`)
	assert.ErrorIs(t, err, domain.ErrMalformedMessage)
	assert.Equal(t, "malformed_message", lastError(t, link).Code)

	// the link keeps working
	require.NoError(t, h.send(t, link, joinG1))
	assert.Len(t, h.orch.Sessions(), 1)
}

func TestSeekReportsUnsupported(t *testing.T) {
	h := newHarness(app.Policy{})
	link := fakes.NewLink("L1")
	require.NoError(t, h.send(t, link, joinG1))

	err := h.send(t, link, `{"op":"seek","d":{"guildId":"G1","position":"1:00"}}`)
	assert.ErrorIs(t, err, domain.ErrUnsupported)
	assert.Equal(t, "unsupported", lastError(t, link).Code)
}

func TestPauseToggleThroughDispatch(t *testing.T) {
	h := newHarness(app.Policy{})
	link := fakes.NewLink("L1")
	require.NoError(t, h.send(t, link, joinG1))
	tr := h.transports.Last()

	require.NoError(t, h.send(t, link, `{"op":"pause","d":{"guildId":"G1"}}`))
	assert.True(t, tr.Paused())
	require.NoError(t, h.send(t, link, `{"op":"pause","d":{"guildId":"G1","pause":true}}`))
	require.NoError(t, h.send(t, link, `{"op":"pause","d":{"guildId":"G1"}}`))
	assert.False(t, tr.Paused())

	pauses, resumes := tr.PauseCalls()
	assert.Equal(t, 1, pauses)
	assert.Equal(t, 1, resumes)
}

func TestVolumeStringIsCoerced(t *testing.T) {
	h := newHarness(app.Policy{})
	link := fakes.NewLink("L1")
	require.NoError(t, h.send(t, link, joinG1))

	require.NoError(t, h.send(t, link, `{"op":"volume","d":{"guildId":"G1","volume":"0.5"}}`))
	assert.Equal(t, 0.5, h.transports.Last().Volume())
}

func readySession(t *testing.T, h *harness, link core.Link) *fakes.Transport {
	t.Helper()
	require.NoError(t, h.send(t, link, joinG1))
	require.NoError(t, h.send(t, link, `{"op":"voiceServerUpdate","d":{"guildId":"G1","token":"T","endpoint":"E"}}`))
	require.NoError(t, h.send(t, link, `{"op":"voiceStateUpdate","d":{"guildId":"G1","sessionId":"S"}}`))
	tr := h.transports.Last()
	tr.Emit(core.TransportEvent{Kind: core.EventReady})
	return tr
}

func TestPlayBeforeReady(t *testing.T) {
	h := newHarness(app.Policy{})
	link := fakes.NewLink("L1")
	require.NoError(t, h.send(t, link, joinG1))

	err := h.send(t, link, `{"op":"play","d":{"guildId":"G1","track":{"url":"x"}}}`)
	assert.ErrorIs(t, err, domain.ErrNotReady)
	assert.Equal(t, "not_ready", lastError(t, link).Code)
}

func TestPlayPreemptPolicy(t *testing.T) {
	h := newHarness(app.Policy{Play: app.PlayPreempt})
	link := fakes.NewLink("L1")
	tr := readySession(t, h, link)

	require.NoError(t, h.send(t, link, `{"op":"play","d":{"guildId":"G1","track":{"url":"a"},"startTime":5}}`))
	require.NoError(t, h.send(t, link, `{"op":"play","d":{"guildId":"G1","track":{"url":"b"}}}`))

	assert.Len(t, tr.Plays(), 2)
	assert.Equal(t, 1, tr.Stops())
	assert.Equal(t, []string{"-ss", "5"}, tr.Plays()[0].InputArgs)
}

func TestPlayRejectPolicy(t *testing.T) {
	h := newHarness(app.Policy{Play: app.PlayReject})
	link := fakes.NewLink("L1")
	tr := readySession(t, h, link)

	require.NoError(t, h.send(t, link, `{"op":"play","d":{"guildId":"G1","track":{"url":"a"}}}`))
	err := h.send(t, link, `{"op":"play","d":{"guildId":"G1","track":{"url":"b"}}}`)

	assert.ErrorIs(t, err, domain.ErrBusy)
	assert.Equal(t, "busy", lastError(t, link).Code)
	assert.Len(t, tr.Plays(), 1)
	assert.Zero(t, tr.Stops())
}

func TestLeaveTearsDownBeforeRemoval(t *testing.T) {
	h := newHarness(app.Policy{})
	link := fakes.NewLink("L1")
	tr := readySession(t, h, link)

	require.NoError(t, h.send(t, link, `{"op":"leave","d":{"guildId":"G1"}}`))

	assert.Equal(t, 1, tr.Disconnects())
	assert.Empty(t, h.orch.Sessions())
	assert.Equal(t, "disconnected", link.Ops()[len(link.Ops())-1])

	err := h.send(t, link, `{"op":"stop","d":{"guildId":"G1"}}`)
	assert.ErrorIs(t, err, domain.ErrNoActiveSession)
}

func TestShutdownLeavesEveryGuild(t *testing.T) {
	h := newHarness(app.Policy{})
	link := fakes.NewLink("L1")
	h.orch.OnLinkConnected(context.Background(), link)
	require.NoError(t, h.send(t, link, joinG1))
	require.NoError(t, h.send(t, link, `{"op":"join","d":{"guildId":"G2","channelId":"C2","userId":"U1"}}`))
	require.Len(t, h.orch.Sessions(), 2)

	h.orch.Shutdown()

	assert.Empty(t, h.orch.Sessions())
	for _, tr := range h.transports.Built() {
		assert.Equal(t, 1, tr.Disconnects())
	}
}

func TestLinkDeathLeavesOwnedSessions(t *testing.T) {
	h := newHarness(app.Policy{LinkDeath: app.LeaveOnLinkDeath})
	a, b := fakes.NewLink("A"), fakes.NewLink("B")
	h.orch.OnLinkConnected(context.Background(), a)
	h.orch.OnLinkConnected(context.Background(), b)

	require.NoError(t, h.send(t, a, joinG1))
	require.NoError(t, h.send(t, b, `{"op":"join","d":{"guildId":"G2","channelId":"C1","userId":"U1"}}`))

	h.orch.OnLinkClosed("A")
	h.orch.OnLinkClosed("A")

	sessions := h.orch.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, domain.GuildID("G2"), sessions[0].GuildID)
	assert.Equal(t, 1, h.transports.Built()[0].Disconnects())
	assert.Equal(t, 1, h.orch.Registry.LinkCount())
}

func TestLinkDeathOrphanPolicy(t *testing.T) {
	h := newHarness(app.Policy{LinkDeath: app.OrphanOnLinkDeath})
	link := fakes.NewLink("A")
	h.orch.OnLinkConnected(context.Background(), link)
	require.NoError(t, h.send(t, link, joinG1))

	h.orch.OnLinkClosed("A")

	assert.Len(t, h.orch.Sessions(), 1)
	assert.Zero(t, h.transports.Last().Disconnects())

	// a new link can take the guild over with a fresh join
	other := fakes.NewLink("B")
	require.NoError(t, h.send(t, other, joinG1))
	assert.Equal(t, 1, h.transports.Built()[0].Disconnects())
	assert.Len(t, h.orch.Sessions(), 1)
}

func TestReapedLinkCascades(t *testing.T) {
	h := newHarness(app.Policy{LinkDeath: app.LeaveOnLinkDeath})
	h.orch.Supervisor = liveness.New(10*time.Millisecond, nil, nil)
	link := fakes.NewLink("L1")
	h.orch.OnLinkConnected(context.Background(), link)
	require.NoError(t, h.send(t, link, joinG1))

	require.Eventually(t, func() bool {
		return len(h.orch.Sessions()) == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, link.Open())
	assert.Equal(t, "probe timeout", link.Reason())
	assert.Zero(t, h.orch.Registry.LinkCount())
}

type panicSource struct{}

func (panicSource) Open(context.Context, string, []string, func(core.TrackInfo)) (io.ReadCloser, error) {
	panic("boom")
}

func TestPanicIsolatedToCommand(t *testing.T) {
	h := newHarness(app.Policy{})
	h.orch.Source = panicSource{}
	link := fakes.NewLink("L1")
	readySession(t, h, link)

	var err error
	assert.NotPanics(t, func() {
		err = h.send(t, link, `{"op":"play","d":{"guildId":"G1","track":{"url":"a"}}}`)
	})
	assert.ErrorIs(t, err, domain.ErrInternal)
	assert.Equal(t, "internal_error", lastError(t, link).Code)

	// the session lock was released by the panicking command
	require.NoError(t, h.send(t, link, `{"op":"stop","d":{"guildId":"G1"}}`))
}
