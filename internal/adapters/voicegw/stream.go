package voicegw

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicerelay/internal/core"
)

type player struct {
	seq    uint64
	voice  *voiceLink
	frames frameReader
	tc     *transcoder

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func newPlayer(seq uint64, v *voiceLink, frames frameReader, tc *transcoder) *player {
	return &player{
		seq:    seq,
		voice:  v,
		frames: frames,
		tc:     tc,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// stop asks the stream loop to finish and kills the source so a blocked
// read returns.
func (p *player) stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		_ = p.tc.input.Close()
		if p.tc.cmd.Process != nil {
			_ = p.tc.cmd.Process.Kill()
		}
	})
}

func (p *player) stopped() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

// stream paces frames every 20ms until the track ends or is stopped. It
// waits for prev so that two players never share the RTP sequence.
func (c *Connection) stream(p *player, prev *player) {
	defer close(p.done)
	defer p.tc.Close()
	defer c.push(core.TransportEvent{Kind: core.EventEnd, Seq: p.seq})

	if prev != nil {
		<-prev.done
	}
	if p.stopped() {
		return
	}

	v := p.voice
	if err := v.speaking(true); err != nil {
		log.Debug().Err(err).Str("module", "voicegw").Str("guild", string(c.guildID)).Msg("speaking")
	}
	defer func() {
		sendSilence(v)
		_ = v.speaking(false)
	}()

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	wasPaused := false
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
		}

		if c.paused.Load() {
			if !wasPaused {
				sendSilence(v)
				_ = v.speaking(false)
				wasPaused = true
			}
			continue
		}
		if wasPaused {
			_ = v.speaking(true)
			wasPaused = false
		}

		frame, err := p.frames.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !p.stopped() {
				c.push(core.TransportEvent{Kind: core.EventWarn, Err: err, Message: "audio stream ended early"})
			}
			return
		}
		if err := v.writeOpus(frame); err != nil {
			if !p.stopped() {
				c.push(core.TransportEvent{Kind: core.EventError, Err: err, Message: "udp write failed"})
			}
			return
		}
	}
}

// sendSilence marks a pause in transmission with five opus silence frames.
func sendSilence(v *voiceLink) {
	for i := 0; i < silenceFrames; i++ {
		if err := v.writeOpus(silenceFrame); err != nil {
			return
		}
	}
}
