// Package fakes holds in-memory stand-ins for the link, voice transport and
// audio source used across package tests.
package fakes

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dkeye/voicerelay/internal/core"
	"github.com/dkeye/voicerelay/internal/domain"
)

type Link struct {
	id domain.LinkID

	mu         sync.Mutex
	frames     []core.Frame
	closed     bool
	reason     string
	alive      bool
	pings      int
	lastPongAt time.Time
	// SendErr, when set, is returned by Send instead of queueing.
	SendErr error
}

func NewLink(id string) *Link {
	return &Link{id: domain.LinkID(id), alive: true}
}

func (l *Link) ID() domain.LinkID { return l.id }

func (l *Link) Send(f core.Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.SendErr != nil {
		return l.SendErr
	}
	if l.closed {
		return domain.ErrLinkUnreachable
	}
	l.frames = append(l.frames, f)
	return nil
}

func (l *Link) Open() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed
}

func (l *Link) Terminate(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.reason = reason
}

func (l *Link) Ping() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pings++
	return nil
}

func (l *Link) MarkProbed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	was := l.alive
	l.alive = false
	return was
}

func (l *Link) Ack() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alive = true
	l.lastPongAt = time.Now()
}

func (l *Link) LastPongAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastPongAt
}

func (l *Link) Pings() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pings
}

func (l *Link) Reason() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}

// Event is a decoded outbound frame.
type Event struct {
	Op string          `json:"op"`
	D  json.RawMessage `json:"d"`
}

func (l *Link) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, 0, len(l.frames))
	for _, f := range l.frames {
		var ev Event
		if err := json.Unmarshal(f, &ev); err == nil {
			out = append(out, ev)
		}
	}
	return out
}

// Ops lists the op of every event received so far, in order.
func (l *Link) Ops() []string {
	evs := l.Events()
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Op)
	}
	return out
}

// Count returns how many events with op were received.
func (l *Link) Count(op string) int {
	n := 0
	for _, o := range l.Ops() {
		if o == op {
			n++
		}
	}
	return n
}

// Last returns the payload of the most recent event with op.
func (l *Link) Last(op string) (json.RawMessage, bool) {
	evs := l.Events()
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Op == op {
			return evs[i].D, true
		}
	}
	return nil, false
}
