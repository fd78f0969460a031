package http

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/sigrelay/internal/adapters/signal"
	"github.com/dkeye/sigrelay/internal/app"
	"github.com/dkeye/sigrelay/internal/auth"
	"github.com/dkeye/sigrelay/internal/config"
	"github.com/dkeye/sigrelay/internal/turn"
)

// Deps are the collaborators the HTTP surface is wired to.
type Deps struct {
	Registry *app.Registry
	Signal   *signal.SignalWSController
	Auth     *auth.Service
	TURN     *turn.Issuer
	// Metrics serves the Prometheus exposition; nil disables /metrics.
	Metrics http.Handler
}

// SetupRouter wires REST, auth, metrics and the signaling WebSocket.
//   - Static files are served from cfg.StaticPath under /static.
//   - WebSocket upgrade lives at /ws/:room_id
func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(SecurityHeaders(cfg.TLSEnabled()))
	r.Use(cors.New(corsConfig(cfg.CORS.Origins)))

	limiter := NewIPRateLimiter(cfg.Limits.HTTPRPS, cfg.Limits.HTTPBurst)
	go limiter.Run(ctx)

	h := &handlers{deps: deps}

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		index := filepath.Join(cfg.StaticPath, "index.html")
		if fileExists(index) {
			c.File(index)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "WebRTC Signaling Server is running"})
	})
	r.GET("/health", h.health)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	r.GET("/ws/:room_id", func(c *gin.Context) {
		deps.Signal.HandleSignal(ctx, c)
	})

	api := r.Group("/api", limiter.Middleware())
	api.GET("/rooms", h.listRooms)
	api.GET("/rooms/:room_id/info", h.roomInfo)
	api.POST("/rooms/:room_id/info", h.roomInfo)
	api.GET("/ice-servers", BearerAuth(deps.Auth), h.iceServers)

	authGroup := r.Group("/auth", limiter.Middleware())
	authGroup.POST("/login", h.login)
	authGroup.POST("/token", h.token)
	authGroup.POST("/logout", h.logout)
	authGroup.GET("/me", BearerAuth(deps.Auth), h.me)
	authGroup.POST("/refresh", BearerAuth(deps.Auth), h.refresh)
	authGroup.GET("/turn-credentials", BearerAuth(deps.Auth), h.turnCredentials)

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}

func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{"Retry-After"},
	}
	for _, o := range origins {
		if o == "*" {
			cc.AllowAllOrigins = true
			return cc
		}
	}
	cc.AllowOrigins = origins
	cc.AllowCredentials = true
	return cc
}
