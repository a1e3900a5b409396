package fakes

import (
	"io"
	"sync"

	"github.com/dkeye/voicerelay/internal/core"
	"github.com/dkeye/voicerelay/internal/domain"
)

// Transport records every call. Emit and Signal drive the session callbacks
// synchronously on the caller's goroutine.
type Transport struct {
	Guild domain.GuildID

	mu          sync.Mutex
	connects    []core.ConnectParams
	plays       []core.PlayOptions
	switches    []domain.ChannelID
	disconnects int
	stops       int
	pauses      int
	resumes     int
	volume      float64
	paused      bool
	onEvent     func(core.TransportEvent)
	onSignal    func(core.SignalFrame)
	// ConnectErr and PlayErr are returned from Connect and Play when set.
	ConnectErr error
	PlayErr    error
}

func NewTransport(g domain.GuildID) *Transport {
	return &Transport{Guild: g, volume: 1}
}

func (t *Transport) SwitchChannel(c domain.ChannelID) {
	t.mu.Lock()
	t.switches = append(t.switches, c)
	cb := t.onSignal
	t.mu.Unlock()
	if cb != nil {
		cb(core.SignalFrame{Op: 4, D: map[string]any{"guild_id": string(t.Guild), "channel_id": string(c)}})
	}
}

func (t *Transport) Connect(p core.ConnectParams) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects = append(t.connects, p)
	return t.ConnectErr
}

func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.disconnects++
	cb := t.onSignal
	t.mu.Unlock()
	if cb != nil {
		cb(core.SignalFrame{Op: 4, D: map[string]any{"guild_id": string(t.Guild), "channel_id": nil}})
	}
}

func (t *Transport) Play(stream io.ReadCloser, opts core.PlayOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.PlayErr != nil {
		return t.PlayErr
	}
	t.plays = append(t.plays, opts)
	return stream.Close()
}

func (t *Transport) StopPlaying() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
}

func (t *Transport) SetVolume(v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volume = v
}

func (t *Transport) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pauses++
	t.paused = true
}

func (t *Transport) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resumes++
	t.paused = false
}

func (t *Transport) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

func (t *Transport) OnEvent(fn func(core.TransportEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEvent = fn
}

func (t *Transport) OnSignal(fn func(core.SignalFrame)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSignal = fn
}

// Emit delivers ev to the registered event callback.
func (t *Transport) Emit(ev core.TransportEvent) {
	t.mu.Lock()
	cb := t.onEvent
	t.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (t *Transport) Connects() []core.ConnectParams {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]core.ConnectParams(nil), t.connects...)
}

func (t *Transport) Plays() []core.PlayOptions {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]core.PlayOptions(nil), t.plays...)
}

func (t *Transport) Switches() []domain.ChannelID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.ChannelID(nil), t.switches...)
}

func (t *Transport) Disconnects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnects
}

func (t *Transport) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

func (t *Transport) PauseCalls() (pauses, resumes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pauses, t.resumes
}

func (t *Transport) Volume() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.volume
}

// Factory hands out one Transport per guild and remembers all of them.
type Factory struct {
	mu    sync.Mutex
	built []*Transport
}

func (f *Factory) New(g domain.GuildID) core.VoiceTransport {
	t := NewTransport(g)
	f.mu.Lock()
	f.built = append(f.built, t)
	f.mu.Unlock()
	return t
}

func (f *Factory) Built() []*Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Transport(nil), f.built...)
}

// Last returns the most recently built transport.
func (f *Factory) Last() *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.built) == 0 {
		return nil
	}
	return f.built[len(f.built)-1]
}
