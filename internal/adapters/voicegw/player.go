package voicegw

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"time"

	"github.com/jonas747/ogg"
	"layeh.com/gopus"
)

const (
	sampleRate    = 48000
	channels      = 2
	frameSize     = 960 // 20ms at 48kHz
	frameDuration = 20 * time.Millisecond
	maxOpusBytes  = 4000
	silenceFrames = 5
)

var silenceFrame = []byte{0xF8, 0xFF, 0xFE}

// ffmpegArgs places inputArgs before the input so they act on the demuxer
// (-ss seeks before decoding) and encoderArgs after it so they act on the
// output (-to truncates after decoding).
func ffmpegArgs(inputArgs, encoderArgs []string, inlineVolume bool, bitrate int) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, inputArgs...)
	args = append(args, "-i", "pipe:0")
	args = append(args, encoderArgs...)
	args = append(args, "-vn", "-map", "0:a")
	if inlineVolume {
		return append(args,
			"-f", "s16le",
			"-ar", strconv.Itoa(sampleRate),
			"-ac", strconv.Itoa(channels),
			"pipe:1",
		)
	}
	return append(args,
		"-acodec", "libopus",
		"-f", "ogg",
		"-vbr", "on",
		"-compression_level", "10",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-b:a", strconv.Itoa(bitrate),
		"-application", "audio",
		"-frame_duration", "20",
		"-packet_loss", "1",
		"pipe:1",
	)
}

// frameReader yields one 20ms opus frame per call.
type frameReader interface {
	ReadFrame() ([]byte, error)
}

// pcmFrames encodes raw s16le PCM with a live gain applied.
type pcmFrames struct {
	r    io.Reader
	enc  *gopus.Encoder
	gain func() float64
	buf  []byte
	pcm  []int16
}

func newPCMFrames(r io.Reader, bitrate int, gain func() float64) (*pcmFrames, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("encoder error: %w", err)
	}
	if bitrate > 0 {
		enc.SetBitrate(bitrate)
	}
	return &pcmFrames{
		r:    r,
		enc:  enc,
		gain: gain,
		buf:  make([]byte, frameSize*channels*2),
		pcm:  make([]int16, frameSize*channels),
	}, nil
}

func (p *pcmFrames) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(p.r, p.buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	for i := range p.pcm {
		p.pcm[i] = int16(binary.LittleEndian.Uint16(p.buf[i*2 : i*2+2]))
	}
	applyGain(p.pcm, p.gain())
	return p.enc.Encode(p.pcm, frameSize, maxOpusBytes)
}

func applyGain(pcm []int16, gain float64) {
	if gain == 1 {
		return
	}
	for i, s := range pcm {
		v := math.Round(float64(s) * gain)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		pcm[i] = int16(v)
	}
}

// oggFrames passes ffmpeg's opus packets through untouched.
type oggFrames struct {
	dec  *ogg.PacketDecoder
	skip int
}

func newOggFrames(r io.Reader) *oggFrames {
	// The first two packets are the OpusHead and OpusTags headers.
	return &oggFrames{dec: ogg.NewPacketDecoder(ogg.NewDecoder(r)), skip: 2}
}

func (o *oggFrames) ReadFrame() ([]byte, error) {
	for {
		packet, _, err := o.dec.Decode()
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, io.EOF
			}
			return nil, err
		}
		if o.skip > 0 {
			o.skip--
			continue
		}
		return packet, nil
	}
}

// transcoder owns the ffmpeg process and the upstream source stream.
type transcoder struct {
	cmd    *exec.Cmd
	input  io.ReadCloser
	stdout io.ReadCloser
}

func startTranscoder(path string, args []string, input io.ReadCloser) (*transcoder, error) {
	cmd := exec.Command(path, args...)
	cmd.Stdin = input
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return &transcoder{cmd: cmd, input: input, stdout: stdout}, nil
}

func (t *transcoder) Close() error {
	err := t.input.Close()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	_ = t.cmd.Wait()
	return err
}
