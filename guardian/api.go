package guardian

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const (
	statusPathRoot    = "/"
	statusPathHealth  = "/health"
	statusPathHealthz = "/healthz"

	xRequestIDHeader = "X-Request-ID"
)

// healthCheckResponse is the JSON payload for the health endpoints.
type healthCheckResponse struct {
	Status                  string `json:"status"`
	Version                 string `json:"version"`
	DiscordGatewayConnected bool   `json:"discord_gateway_connected"`
	UptimeSeconds           int64  `json:"uptime_seconds"`
	CachedNewsGuilds        int    `json:"cached_news_guilds"`
	OpenSetupSessions       int    `json:"open_setup_sessions"`
}

// StatusServer is the uptime/health HTTP server. It exists mostly so an
// external monitor can ping the bot; the root path answers in plain text
// and the health paths answer in JSON.
type StatusServer struct {
	g          *Guardian
	config     *StatusConfig
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
}

func newStatusServer(g *Guardian, config *StatusConfig) *StatusServer {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	srv := &StatusServer{
		g:      g,
		config: config,
		engine: r,
		logger: slog.New(newLogHandler(config.LogLevel)).With(
			loggerNameKey, "status_server",
		),
	}

	srv.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		cors.New(config.CORS.GINConfig()),
	)

	r.GET(statusPathRoot, srv.rootHandler)
	r.GET(statusPathHealth, srv.healthCheck)
	r.GET(statusPathHealthz, srv.healthCheck)

	return srv
}

// Serve listens on the configured address and serves until the server is
// shut down.
func (a *StatusServer) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(
			ctx, a.config.ListenNetwork, a.config.Listen,
		)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		a.listener = ln
	}
	a.logger.InfoContext(
		ctx, "status server listening",
		"address", a.listener.Addr().String(),
	)
	return a.httpServer.Serve(a.listener)
}

// Shutdown gracefully stops the HTTP server.
func (a *StatusServer) Shutdown(ctx context.Context) error {
	if a.httpServer == nil {
		return nil
	}
	return a.httpServer.Shutdown(ctx)
}

func (a *StatusServer) rootHandler(c *gin.Context) {
	c.String(http.StatusOK, "Bot is active!")
}

func (a *StatusServer) healthCheck(c *gin.Context) {
	var uptime int64
	if !a.g.startedAt.IsZero() {
		uptime = int64(time.Since(a.g.startedAt).Seconds())
	}
	var sessions int
	if a.g.wizard != nil {
		sessions = a.g.wizard.SessionCount()
	}
	c.JSON(
		http.StatusOK, healthCheckResponse{
			Status:                  "ok",
			Version:                 Version,
			DiscordGatewayConnected: a.g.discord.connected.Load(),
			UptimeSeconds:           uptime,
			CachedNewsGuilds:        a.g.newsCacheSize(),
			OpenSetupSessions:       sessions,
		},
	)
}

// requestIDMiddleware assigns a random hex request ID to each request and
// echoes it in the response headers.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context, or
// creates one with request details included and caches it in the context.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if logger, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, loggerOK := logger.(*slog.Logger); loggerOK {
			return requestLogger
		}
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}
	requestLogger := slog.Default().With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request's method, path, duration, status
// and any accumulated errors.
func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}
