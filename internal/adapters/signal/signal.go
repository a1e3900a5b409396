// Package signal serves client links over websockets and feeds their
// messages to the orchestrator.
package signal

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicerelay/internal/app/orch"
	"github.com/dkeye/voicerelay/internal/config"
	"github.com/dkeye/voicerelay/internal/domain"
)

type Options struct {
	ReadLimit  int64
	WriteWait  time.Duration
	SendBuffer int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ReadLimit:  cfg.ReadLimit,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	}
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *CommandRateLimiter
	Opts    Options
}

func NewSignalWSController(o *orch.Orchestrator, limiter *CommandRateLimiter, opts Options) *SignalWSController {
	if opts.WriteWait <= 0 {
		opts.WriteWait = 5 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	return &SignalWSController{Orch: o, Limiter: limiter, Opts: opts}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and starts the link's pumps. ctx bounds
// the link's lifetime beyond the request.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	id := domain.LinkID(c.GetString("link_id"))
	log.Info().Str("module", "signal").Str("link", string(id)).Str("remote", c.ClientIP()).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.Opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.Opts.ReadLimit)
	}

	link := NewWSLink(id, ws, ctl.Opts.SendBuffer, ctl.Opts.WriteWait)
	ws.SetPongHandler(func(string) error {
		link.Ack()
		return nil
	})

	ctl.Orch.OnLinkConnected(ctx, link)

	go ctl.writePump(ctx, link)
	go ctl.readPump(ctx, link)
}
