package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicerelay/internal/core"
	"github.com/dkeye/voicerelay/internal/domain"
	"github.com/dkeye/voicerelay/internal/protocol"
	"github.com/dkeye/voicerelay/internal/testutil/fakes"
)

func newTestSession(g domain.GuildID, owner core.Link) *Session {
	return NewSession(g, "C1", "U1", owner, fakes.NewTransport(g), &fakes.Source{}, SessionOptions{})
}

func TestRegistryReplaceAndRemove(t *testing.T) {
	r := NewRegistry()
	link := fakes.NewLink("L1")
	first := newTestSession("G1", link)
	second := newTestSession("G1", link)

	assert.Nil(t, r.Replace(first))
	assert.Same(t, first, r.Replace(second))

	got, ok := r.Session("G1")
	require.True(t, ok)
	assert.Same(t, second, got)

	assert.False(t, r.Remove(first), "stale session must not evict its replacement")
	assert.True(t, r.Remove(second))
	_, ok = r.Session("G1")
	assert.False(t, ok)
}

func TestRegistrySessionsOwnedBy(t *testing.T) {
	r := NewRegistry()
	a, b := fakes.NewLink("A"), fakes.NewLink("B")
	r.Replace(newTestSession("G1", a))
	r.Replace(newTestSession("G2", a))
	r.Replace(newTestSession("G3", b))

	assert.Len(t, r.SessionsOwnedBy("A"), 2)
	assert.Len(t, r.SessionsOwnedBy("B"), 1)
	assert.Empty(t, r.SessionsOwnedBy("C"))
	assert.Len(t, r.Snapshot(), 3)
}

func TestRegistryLinks(t *testing.T) {
	r := NewRegistry()
	link := fakes.NewLink("L1")
	canceled := 0
	r.BindLink(link, func() { canceled++ })

	got, ok := r.Link("L1")
	require.True(t, ok)
	assert.Same(t, link, got)
	assert.Equal(t, 1, r.LinkCount())

	assert.True(t, r.UnbindLink("L1"))
	assert.False(t, r.UnbindLink("L1"))
	assert.Equal(t, 1, canceled)
	assert.Zero(t, r.LinkCount())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("reject", "orphan")
	require.NoError(t, err)
	assert.Equal(t, Policy{Play: PlayReject, LinkDeath: OrphanOnLinkDeath}, p)

	p, err = ParsePolicy("", "")
	require.NoError(t, err)
	assert.Equal(t, Policy{Play: PlayPreempt, LinkDeath: LeaveOnLinkDeath}, p)

	_, err = ParsePolicy("queue", "leave")
	assert.Error(t, err)
	_, err = ParsePolicy("preempt", "linger")
	assert.Error(t, err)
}

func TestDeliverTerminatesOnBackpressure(t *testing.T) {
	link := fakes.NewLink("L1")
	link.SendErr = domain.ErrBackpressure

	err := Deliver(link, protocol.Stats(4, 0.5), nil)
	assert.ErrorIs(t, err, domain.ErrBackpressure)
	assert.False(t, link.Open())
	assert.Equal(t, "backpressure", link.Reason())
}
