package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicerelay/internal/adapters/signal"
	"github.com/dkeye/voicerelay/internal/app/orch"
	"github.com/dkeye/voicerelay/internal/config"
)

func genLinkID() string {
	return uuid.NewString()
}

// LinkIDMiddleware tags every request with a fresh link id, echoed back in
// the X-Link-Id header.
func LinkIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := genLinkID()
		c.Header("X-Link-Id", id)
		c.Set("link_id", id)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(LinkIDMiddleware())

	ctrl := signal.NewSignalWSController(
		o,
		signal.NewCommandRateLimiter(cfg.CommandRate, cfg.CommandBurst),
		signal.OptionsFromConfig(cfg),
	)

	r.GET("/ws", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("link", c.GetString("link_id")).Msg("ws endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": len(o.Sessions()),
			"links":    o.Registry.LinkCount(),
		})
	})

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Sessions())
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
