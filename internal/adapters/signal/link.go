package signal

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicerelay/internal/core"
	"github.com/dkeye/voicerelay/internal/domain"
)

// WSLink is a client link over a websocket. Writes go through a buffered
// channel drained by writePump; control frames bypass it.
type WSLink struct {
	id        domain.LinkID
	conn      *websocket.Conn
	send      chan core.Frame
	writeWait time.Duration

	mu     sync.RWMutex
	closed bool

	alive    atomic.Bool
	lastPong atomic.Int64
}

func NewWSLink(id domain.LinkID, conn *websocket.Conn, buffer int, writeWait time.Duration) *WSLink {
	l := &WSLink{
		id:        id,
		conn:      conn,
		send:      make(chan core.Frame, buffer),
		writeWait: writeWait,
	}
	l.alive.Store(true)
	return l
}

func (l *WSLink) ID() domain.LinkID { return l.id }

func (l *WSLink) Send(f core.Frame) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return domain.ErrLinkUnreachable
	}
	select {
	case l.send <- f:
	default:
		return domain.ErrBackpressure
	}
	return nil
}

func (l *WSLink) Open() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.closed
}

func (l *WSLink) Terminate(reason string) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.send)
	_ = l.conn.Close()
	l.mu.Unlock()
	log.Info().Str("module", "signal").Str("link", string(l.id)).Str("reason", reason).Msg("link terminated")
}

func (l *WSLink) Ping() error {
	return l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(l.writeWait))
}

func (l *WSLink) MarkProbed() bool {
	return l.alive.Swap(false)
}

func (l *WSLink) Ack() {
	l.alive.Store(true)
	l.lastPong.Store(time.Now().UnixNano())
}

func (l *WSLink) LastPongAt() time.Time {
	ns := l.lastPong.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
