package voicegw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Voice gateway v4 opcodes.
const (
	opIdentify           = 0
	opSelectProtocol     = 1
	opReady              = 2
	opHeartbeat          = 3
	opSessionDescription = 4
	opSpeaking           = 5
	opHeartbeatAck       = 6
	opHello              = 8
	opClientDisconnect   = 13
)

type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type identifyData struct {
	ServerID  string `json:"server_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

type helloData struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}

type readyData struct {
	SSRC  uint32   `json:"ssrc"`
	IP    string   `json:"ip"`
	Port  int      `json:"port"`
	Modes []string `json:"modes"`
}

type selectProtocolData struct {
	Protocol string             `json:"protocol"`
	Data     selectProtocolAddr `json:"data"`
}

type selectProtocolAddr struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

type sessionDescriptionData struct {
	Mode      string `json:"mode"`
	SecretKey []byte `json:"-"`
}

// UnmarshalJSON reads secret_key as a JSON array of numbers, which
// encoding/json would otherwise expect as base64.
func (s *sessionDescriptionData) UnmarshalJSON(b []byte) error {
	var aux struct {
		Mode      string `json:"mode"`
		SecretKey []int  `json:"secret_key"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	s.Mode = aux.Mode
	s.SecretKey = make([]byte, len(aux.SecretKey))
	for i, v := range aux.SecretKey {
		if v < 0 || v > 255 {
			return fmt.Errorf("secret_key[%d] out of range: %d", i, v)
		}
		s.SecretKey[i] = byte(v)
	}
	return nil
}

type speakingData struct {
	Speaking int    `json:"speaking"`
	Delay    int    `json:"delay"`
	SSRC     uint32 `json:"ssrc"`
}

// gatewayConn serializes writes to the voice websocket; reads happen on a
// single goroutine only.
type gatewayConn struct {
	ws        *websocket.Conn
	writeWait time.Duration

	mu     sync.Mutex
	closed bool
}

func dialGateway(ctx context.Context, d *websocket.Dialer, url string, writeWait time.Duration) (*gatewayConn, error) {
	ws, _, err := d.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &gatewayConn{ws: ws, writeWait: writeWait}, nil
}

func (g *gatewayConn) send(op int, d any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return errGatewayClosed
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := g.ws.SetWriteDeadline(time.Now().Add(g.writeWait)); err != nil {
		return err
	}
	return g.ws.WriteJSON(payload{Op: op, D: raw})
}

func (g *gatewayConn) read() (payload, error) {
	var p payload
	err := g.ws.ReadJSON(&p)
	return p, err
}

func (g *gatewayConn) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	_ = g.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = g.ws.Close()
}

var errGatewayClosed = errors.New("voice gateway closed")

func (g *gatewayConn) heartbeat(ctx context.Context, interval time.Duration, onErr func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.send(opHeartbeat, time.Now().UnixMilli()); err != nil {
				if !errors.Is(err, errGatewayClosed) {
					onErr(err)
				}
				return
			}
		}
	}
}
