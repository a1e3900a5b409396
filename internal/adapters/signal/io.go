package signal

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicerelay/internal/app"
	"github.com/dkeye/voicerelay/internal/domain"
	"github.com/dkeye/voicerelay/internal/protocol"
)

func (ctl *SignalWSController) writePump(ctx context.Context, l *WSLink) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("link", string(l.id)).Msg("writePump ctx done")
			l.Terminate("server shutdown")
			return
		case data, ok := <-l.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("link", string(l.id)).Msg("writePump channel closed")
				return
			}
			if err := l.conn.SetWriteDeadline(time.Now().Add(l.writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				l.Terminate("write deadline")
				return
			}
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("link", string(l.id)).Msg("writePump write error")
				l.Terminate("write failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, l *WSLink) {
	defer func() {
		log.Info().Str("module", "signal").Str("link", string(l.id)).Msg("readPump closing")
		l.Terminate("read loop closed")
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(l.id)
		}
		ctl.Orch.OnLinkClosed(l.id)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("link", string(l.id)).Msg("readPump ctx done")
			return
		default:
		}
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "signal").Str("link", string(l.id)).Msg("readPump read error")
			}
			return
		}
		if ctl.Limiter != nil && !ctl.Limiter.Allow(l.id) {
			ctl.Orch.Metrics.Command("", domain.Code(domain.ErrRateLimited))
			_ = app.Deliver(l, protocol.Error("", "", domain.ErrRateLimited), ctl.Orch.Metrics)
			continue
		}
		if err := ctl.Orch.Dispatch(l, data); err != nil && !errors.Is(err, domain.ErrMalformedMessage) {
			log.Debug().Err(err).Str("module", "signal").Str("link", string(l.id)).Msg("command failed")
		}
	}
}
