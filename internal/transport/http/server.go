package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/termchat-server/internal/audit"
	"github.com/vovakirdan/termchat-server/internal/auth"
	"github.com/vovakirdan/termchat-server/internal/config"
	"github.com/vovakirdan/termchat-server/internal/core"
	"github.com/vovakirdan/termchat-server/internal/session"
	"github.com/vovakirdan/termchat-server/internal/stats"
	"github.com/vovakirdan/termchat-server/internal/users"
)

// Deps are the chat components the HTTP surface reads from.
type Deps struct {
	Rooms    *core.Registry
	Users    *users.Directory
	Sessions *session.Manager
	Stats    *stats.Counters
	Audit    *audit.Recorder
}

// NewServer builds the HTTP server: health check, WebSocket gateway and the
// token-protected admin API.
func NewServer(deps Deps, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})
	router.GET("/ws", gin.WrapH(NewWSHandler(deps.Sessions, cfg.MaxLineBytes, cfg.WriteTimeout, logger)))

	jwtCfg := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}
	handlers := NewAPIHandlers(deps, logger)

	api := router.Group("/api")
	api.Use(AuthMiddleware(jwtCfg, logger))
	{
		api.GET("/stats", handlers.Stats)
		api.GET("/rooms", handlers.ListRooms)
		api.GET("/rooms/:id", handlers.GetRoom)
		api.GET("/users/:name", handlers.GetUser)
		api.GET("/audit", handlers.ListAudit)
	}

	return &stdhttp.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
