package voicegw

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pion/rtp"
)

const (
	discoveryLen     = 74
	discoveryRequest = 1
	discoveryReply   = 2

	opusPayloadType = 0x78
	samplesPerFrame = 960
)

func discoveryPacket(ssrc uint32) []byte {
	b := make([]byte, discoveryLen)
	binary.BigEndian.PutUint16(b[0:2], discoveryRequest)
	binary.BigEndian.PutUint16(b[2:4], discoveryLen-4)
	binary.BigEndian.PutUint32(b[4:8], ssrc)
	return b
}

func parseDiscovery(b []byte) (string, uint16, error) {
	if len(b) < discoveryLen {
		return "", 0, fmt.Errorf("discovery reply too short: %d bytes", len(b))
	}
	if t := binary.BigEndian.Uint16(b[0:2]); t != discoveryReply {
		return "", 0, fmt.Errorf("unexpected discovery type %d", t)
	}
	ip := string(bytes.TrimRight(b[8:72], "\x00"))
	if ip == "" {
		return "", 0, errors.New("discovery reply without address")
	}
	return ip, binary.BigEndian.Uint16(b[72:74]), nil
}

// discover dials the voice server and learns our external address.
func discover(ctx context.Context, ip string, port int, ssrc uint32) (*net.UDPConn, string, uint16, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return nil, "", 0, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, "", 0, err
	}

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write(discoveryPacket(ssrc)); err != nil {
		conn.Close()
		return nil, "", 0, fmt.Errorf("send discovery: %w", err)
	}
	buf := make([]byte, discoveryLen)
	n, err := conn.Read(buf)
	if err != nil {
		conn.Close()
		return nil, "", 0, fmt.Errorf("read discovery: %w", err)
	}
	extIP, extPort, err := parseDiscovery(buf[:n])
	if err != nil {
		conn.Close()
		return nil, "", 0, err
	}
	return conn, extIP, extPort, nil
}

// voiceLink is an established UDP media path. Only one player goroutine
// writes to it at a time.
type voiceLink struct {
	udp    *net.UDPConn
	ssrc   uint32
	sealer sealer
	gw     *gatewayConn

	seq uint16
	ts  uint32
}

func (v *voiceLink) writeOpus(opus []byte) error {
	h := rtp.Header{
		Version:        2,
		PayloadType:    opusPayloadType,
		SequenceNumber: v.seq,
		Timestamp:      v.ts,
		SSRC:           v.ssrc,
	}
	hb, err := h.Marshal()
	if err != nil {
		return err
	}
	v.seq++
	v.ts += samplesPerFrame
	_, err = v.udp.Write(v.sealer.Seal(hb, opus))
	return err
}

func (v *voiceLink) speaking(on bool) error {
	flag := 0
	if on {
		flag = 1
	}
	return v.gw.send(opSpeaking, speakingData{Speaking: flag, SSRC: v.ssrc})
}

func (v *voiceLink) close() {
	_ = v.udp.Close()
}
