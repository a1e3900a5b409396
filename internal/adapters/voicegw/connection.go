// Package voicegw is a Discord voice gateway (v4) client: it performs the
// websocket handshake, UDP address discovery and transport encryption, then
// paces ffmpeg-produced opus frames over RTP.
package voicegw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/voicerelay/internal/core"
	"github.com/dkeye/voicerelay/internal/domain"
)

var (
	ErrClosed       = errors.New("voice connection closed")
	ErrNotConnected = errors.New("voice connection not established")
)

type Options struct {
	FFmpegPath     string
	Bitrate        int
	ConnectTimeout time.Duration
	WriteWait      time.Duration
	Dialer         *websocket.Dialer
	// GatewayURL maps the endpoint from a voice server update to the URL
	// that is dialed.
	GatewayURL func(endpoint string) string
}

func DefaultGatewayURL(endpoint string) string {
	return "wss://" + strings.TrimPrefix(endpoint, "wss://") + "/?v=4"
}

func (o Options) withDefaults() Options {
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.Bitrate <= 0 {
		o.Bitrate = 64000
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.GatewayURL == nil {
		o.GatewayURL = DefaultGatewayURL
	}
	return o
}

// NewFactory returns a core.TransportFactory building Connections.
func NewFactory(opts Options) core.TransportFactory {
	return func(g domain.GuildID) core.VoiceTransport {
		return New(g, opts)
	}
}

// Connection implements core.VoiceTransport. Every Connect starts a new
// attempt generation; events from older generations are dropped.
// Disconnect is final.
type Connection struct {
	guildID domain.GuildID
	opts    Options

	events chan core.TransportEvent
	done   chan struct{}
	wg     conc.WaitGroup

	mu       sync.Mutex
	onEvent  func(core.TransportEvent)
	onSignal func(core.SignalFrame)
	gen      uint64
	cancel   context.CancelFunc
	gw       *gatewayConn
	voice    *voiceLink
	player   *player
	closed   bool

	paused atomic.Bool
	gain   atomic.Uint64
}

func New(g domain.GuildID, opts Options) *Connection {
	c := &Connection{
		guildID: g,
		opts:    opts.withDefaults(),
		events:  make(chan core.TransportEvent, 32),
		done:    make(chan struct{}),
	}
	c.gain.Store(math.Float64bits(1))
	go c.pump()
	return c
}

func (c *Connection) OnEvent(fn func(core.TransportEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = fn
}

func (c *Connection) OnSignal(fn func(core.SignalFrame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSignal = fn
}

type voiceStateUpdate struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

// voiceStateFrame is the main gateway op 4 payload; an empty channel means
// leave.
func voiceStateFrame(g domain.GuildID, ch domain.ChannelID) core.SignalFrame {
	d := voiceStateUpdate{GuildID: string(g)}
	if ch != "" {
		s := string(ch)
		d.ChannelID = &s
	}
	return core.SignalFrame{Op: 4, D: d}
}

func (c *Connection) signal(f core.SignalFrame) {
	c.mu.Lock()
	cb := c.onSignal
	c.mu.Unlock()
	if cb != nil {
		cb(f)
	}
}

func (c *Connection) SwitchChannel(ch domain.ChannelID) {
	c.signal(voiceStateFrame(c.guildID, ch))
}

func (c *Connection) Connect(p core.ConnectParams) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.teardownLocked()
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	log.Debug().Str("module", "voicegw").Str("guild", string(c.guildID)).Uint64("gen", gen).Msg("connect attempt")
	c.wg.Go(func() { c.run(ctx, gen, p) })
	return nil
}

func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	c.teardownLocked()
	if c.player != nil {
		c.player.stop()
	}
	close(c.done)
	c.mu.Unlock()

	c.signal(voiceStateFrame(c.guildID, ""))
	c.wg.Wait()
	log.Debug().Str("module", "voicegw").Str("guild", string(c.guildID)).Msg("disconnected")
}

// teardownLocked abandons the current attempt. Caller holds c.mu.
func (c *Connection) teardownLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.gw != nil {
		c.gw.close()
		c.gw = nil
	}
	if c.voice != nil {
		// Stopped first so the loop sees it before its writes start failing.
		if c.player != nil {
			c.player.stop()
		}
		c.voice.close()
		c.voice = nil
	}
}

func (c *Connection) Play(stream io.ReadCloser, opts core.PlayOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = stream.Close()
		return ErrClosed
	}
	if c.voice == nil {
		_ = stream.Close()
		return ErrNotConnected
	}

	prev := c.player
	if prev != nil {
		prev.stop()
	}

	args := ffmpegArgs(opts.InputArgs, opts.EncoderArgs, opts.InlineVolume, c.opts.Bitrate)
	tc, err := startTranscoder(c.opts.FFmpegPath, args, stream)
	if err != nil {
		_ = stream.Close()
		return err
	}
	var frames frameReader
	if opts.InlineVolume {
		pf, err := newPCMFrames(tc.stdout, c.opts.Bitrate, c.volume)
		if err != nil {
			_ = tc.Close()
			return err
		}
		frames = pf
	} else {
		frames = newOggFrames(tc.stdout)
	}

	p := newPlayer(opts.Seq, c.voice, frames, tc)
	c.player = p
	c.wg.Go(func() { c.stream(p, prev) })
	return nil
}

func (c *Connection) StopPlaying() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.player != nil {
		c.player.stop()
	}
}

// SetVolume only affects tracks played with inline volume.
func (c *Connection) SetVolume(v float64) {
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	c.gain.Store(math.Float64bits(v))
}

func (c *Connection) volume() float64 {
	return math.Float64frombits(c.gain.Load())
}

func (c *Connection) Pause()       { c.paused.Store(true) }
func (c *Connection) Resume()      { c.paused.Store(false) }
func (c *Connection) Paused() bool { return c.paused.Load() }

// pump delivers events in order on a single goroutine until Disconnect.
func (c *Connection) pump() {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.mu.Lock()
			cb := c.onEvent
			c.mu.Unlock()
			if cb != nil {
				cb(ev)
			}
		}
	}
}

func (c *Connection) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Connection) emit(gen uint64, ev core.TransportEvent) {
	if !c.current(gen) {
		return
	}
	c.push(ev)
}

func (c *Connection) push(ev core.TransportEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Connection) attach(gen uint64, gw *gatewayConn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.gw = gw
	return true
}

func (c *Connection) setVoice(gen uint64, v *voiceLink) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.voice = v
	return true
}

// drop forgets the attempt's resources if it is still the current one.
func (c *Connection) drop(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen {
		c.teardownLocked()
	}
}

// run performs one handshake and then serves the voice websocket until it
// closes or the attempt is abandoned.
func (c *Connection) run(ctx context.Context, gen uint64, p core.ConnectParams) {
	dialCtx, cancelDial := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	gw, err := dialGateway(dialCtx, c.opts.Dialer, c.opts.GatewayURL(p.Endpoint), c.opts.WriteWait)
	cancelDial()
	if err != nil {
		if ctx.Err() == nil {
			c.emit(gen, core.TransportEvent{Kind: core.EventFailed, Err: fmt.Errorf("dial voice gateway: %w", err)})
			c.drop(gen)
		}
		return
	}
	if !c.attach(gen, gw) {
		gw.close()
		return
	}
	c.emit(gen, core.TransportEvent{Kind: core.EventConnect})

	ready := make(chan struct{})
	var timedOut atomic.Bool
	c.wg.Go(func() {
		t := time.NewTimer(c.opts.ConnectTimeout)
		defer t.Stop()
		select {
		case <-ready:
		case <-ctx.Done():
		case <-t.C:
			timedOut.Store(true)
			c.emit(gen, core.TransportEvent{Kind: core.EventFailed, Err: errors.New("voice connection timed out")})
			c.drop(gen)
		}
	})

	h := &handshake{c: c, ctx: ctx, gen: gen, gw: gw, params: p, ready: ready}
	defer func() {
		// Once ready the link belongs to the connection.
		if h.udp != nil && !h.isReady() {
			h.udp.close()
		}
	}()
	for {
		msg, err := gw.read()
		if err != nil {
			if ctx.Err() != nil || timedOut.Load() {
				return
			}
			if !h.isReady() {
				c.emit(gen, core.TransportEvent{Kind: core.EventFailed, Err: fmt.Errorf("voice gateway closed during handshake: %w", err)})
				c.drop(gen)
				return
			}
			c.emit(gen, core.TransportEvent{Kind: core.EventDisconnect, Err: err})
			c.drop(gen)
			return
		}
		if err := h.handle(msg); err != nil {
			c.emit(gen, core.TransportEvent{Kind: core.EventFailed, Err: err})
			c.drop(gen)
			return
		}
	}
}

// handshake tracks one attempt's progress through hello, ready and
// session description.
type handshake struct {
	c      *Connection
	ctx    context.Context
	gen    uint64
	gw     *gatewayConn
	params core.ConnectParams
	ready  chan struct{}

	udp   *voiceLink
	mode  string
	begun bool
}

func (h *handshake) isReady() bool {
	select {
	case <-h.ready:
		return true
	default:
		return false
	}
}

func (h *handshake) handle(msg payload) error {
	switch msg.Op {
	case opHello:
		var d helloData
		if err := json.Unmarshal(msg.D, &d); err != nil {
			return fmt.Errorf("decode hello: %w", err)
		}
		interval := time.Duration(d.HeartbeatInterval * float64(time.Millisecond))
		if interval <= 0 {
			return fmt.Errorf("invalid heartbeat interval %v", d.HeartbeatInterval)
		}
		if h.begun {
			return nil
		}
		h.begun = true
		h.c.wg.Go(func() {
			h.gw.heartbeat(h.ctx, interval, func(err error) {
				h.c.emit(h.gen, core.TransportEvent{Kind: core.EventWarn, Err: err, Message: "heartbeat failed"})
			})
		})
		return h.gw.send(opIdentify, identifyData{
			ServerID:  string(h.c.guildID),
			UserID:    string(h.params.UserID),
			SessionID: h.params.SessionID,
			Token:     h.params.Token,
		})

	case opReady:
		var d readyData
		if err := json.Unmarshal(msg.D, &d); err != nil {
			return fmt.Errorf("decode ready: %w", err)
		}
		h.c.emit(h.gen, core.TransportEvent{Kind: core.EventAuthenticated})

		mode, err := chooseMode(d.Modes)
		if err != nil {
			return err
		}
		conn, ip, port, err := discover(h.ctx, d.IP, d.Port, d.SSRC)
		if err != nil {
			return fmt.Errorf("ip discovery: %w", err)
		}
		h.mode = mode
		h.udp = &voiceLink{udp: conn, ssrc: d.SSRC, gw: h.gw}
		h.c.emit(h.gen, core.TransportEvent{Kind: core.EventDebug, Message: fmt.Sprintf("discovered %s:%d, mode %s", ip, port, mode)})
		return h.gw.send(opSelectProtocol, selectProtocolData{
			Protocol: "udp",
			Data:     selectProtocolAddr{Address: ip, Port: port, Mode: mode},
		})

	case opSessionDescription:
		if h.udp == nil {
			return errors.New("session description before ready")
		}
		var d sessionDescriptionData
		if err := json.Unmarshal(msg.D, &d); err != nil {
			return fmt.Errorf("decode session description: %w", err)
		}
		mode := d.Mode
		if mode == "" {
			mode = h.mode
		}
		s, err := newSealer(mode, d.SecretKey)
		if err != nil {
			return err
		}
		h.udp.sealer = s
		if !h.c.setVoice(h.gen, h.udp) {
			h.udp.close()
			h.udp = nil
			return nil
		}
		close(h.ready)
		h.c.emit(h.gen, core.TransportEvent{Kind: core.EventReady})

	case opHeartbeatAck, opSpeaking:
	case opClientDisconnect:
		h.c.emit(h.gen, core.TransportEvent{Kind: core.EventDebug, Message: "client left voice channel"})
	default:
		h.c.emit(h.gen, core.TransportEvent{Kind: core.EventDebug, Message: fmt.Sprintf("unhandled voice op %d", msg.Op)})
	}
	return nil
}
