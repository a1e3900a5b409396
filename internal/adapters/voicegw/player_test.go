package voicegw

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFFmpegArgsTrimPlacement(t *testing.T) {
	args := ffmpegArgs([]string{"-ss", "30"}, []string{"-to", "90"}, true, 64000)

	idx := func(s string) int {
		for i, a := range args {
			if a == s {
				return i
			}
		}
		return -1
	}
	input := idx("pipe:0")
	require.Positive(t, input)
	assert.Less(t, idx("-ss"), input, "start time must seek before decoding")
	assert.Greater(t, idx("-to"), input, "end time must cut after decoding")
	assert.Equal(t, "pipe:1", args[len(args)-1])
	assert.Contains(t, args, "s16le")
	assert.NotContains(t, args, "libopus")
}

func TestFFmpegArgsPassthrough(t *testing.T) {
	args := ffmpegArgs(nil, nil, false, 96000)
	assert.Contains(t, args, "libopus")
	assert.Contains(t, args, "96000")
	assert.Contains(t, args, "ogg")
	assert.NotContains(t, args, "-ss")
}

func TestApplyGain(t *testing.T) {
	pcm := []int16{100, -100, 20000, -20000, 0}
	applyGain(pcm, 2)
	assert.Equal(t, []int16{200, -200, math.MaxInt16, math.MinInt16, 0}, pcm)

	pcm = []int16{1000, -1000}
	applyGain(pcm, 0.5)
	assert.Equal(t, []int16{500, -500}, pcm)

	pcm = []int16{1234}
	applyGain(pcm, 1)
	assert.Equal(t, []int16{1234}, pcm)

	pcm = []int16{1234, -1}
	applyGain(pcm, 0)
	assert.Equal(t, []int16{0, 0}, pcm)
}

func TestDiscoveryPacket(t *testing.T) {
	b := discoveryPacket(0xDEADBEEF)
	require.Len(t, b, 74)
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(b[0:2]))
	assert.Equal(t, uint16(70), binary.BigEndian.Uint16(b[2:4]))
	assert.Equal(t, uint32(0xDEADBEEF), binary.BigEndian.Uint32(b[4:8]))

	reply := make([]byte, 74)
	binary.BigEndian.PutUint16(reply[0:2], 2)
	binary.BigEndian.PutUint16(reply[2:4], 70)
	copy(reply[8:], "203.0.113.9")
	binary.BigEndian.PutUint16(reply[72:74], 50004)

	ip, port, err := parseDiscovery(reply)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", ip)
	assert.Equal(t, uint16(50004), port)

	_, _, err = parseDiscovery(reply[:20])
	assert.Error(t, err)
	_, _, err = parseDiscovery(b)
	assert.Error(t, err, "a request is not a reply")
}

func TestVoiceStateFrame(t *testing.T) {
	b, err := json.Marshal(voiceStateFrame("G1", "C1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":4,"d":{"guild_id":"G1","channel_id":"C1","self_mute":false,"self_deaf":false}}`, string(b))

	b, err = json.Marshal(voiceStateFrame("G1", ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":4,"d":{"guild_id":"G1","channel_id":null,"self_mute":false,"self_deaf":false}}`, string(b))
}

func TestSessionDescriptionKey(t *testing.T) {
	var d sessionDescriptionData
	require.NoError(t, json.Unmarshal([]byte(`{"mode":"xsalsa20_poly1305","secret_key":[1,2,255]}`), &d))
	assert.Equal(t, "xsalsa20_poly1305", d.Mode)
	assert.Equal(t, []byte{1, 2, 255}, d.SecretKey)

	assert.Error(t, json.Unmarshal([]byte(`{"secret_key":[256]}`), &d))
}
