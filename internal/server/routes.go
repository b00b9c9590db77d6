// Package server wires the HTTP surface into a gin engine: health and status
// endpoints, the WebSocket endpoint and the test page.
package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Tyrowin/sparkrelay/internal/auth"
	"github.com/Tyrowin/sparkrelay/internal/config"
	"github.com/Tyrowin/sparkrelay/internal/logging"
	"github.com/Tyrowin/sparkrelay/internal/version"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status           string `json:"status"`
	Server           string `json:"server"`
	Version          string `json:"version"`
	ConnectedClients int    `json:"connectedClients"`
	Rooms            int    `json:"rooms"`
}

// ErrorResponse is the body of plain-request failures.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// SetupRoutes configures and returns the gin engine with all application routes.
func SetupRoutes(hub *Hub, cfg *config.Config) *gin.Engine {
	origins := config.NewOriginPolicy(cfg.AllowedOrigins)

	r := gin.New()
	r.Use(Recovery(), RequestLogger(), CORS(origins))

	api := r.Group("/")
	if cfg.RequireKeyForHTTP {
		api.Use(RequireKey(cfg.ProjectKey))
	}
	api.GET("/health", HealthHandler)
	api.GET("/status", StatusHandler(hub))

	r.Any("/ws", gin.WrapF(NewWebSocketHandler(hub, cfg, origins)))
	r.GET("/test", gin.WrapF(TestPageHandler))

	return r
}

// HealthHandler reports that the server is running.
func HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Message: "Server is running"})
}

// StatusHandler reports the server identity and live connection count.
func StatusHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, StatusResponse{
			Status:           "ok",
			Server:           version.ServerName,
			Version:          version.Version,
			ConnectedClients: hub.ClientCount(),
			Rooms:            hub.Rooms().RoomCount(),
		})
	}
}

// RequireKey applies the credential gate to the x-project-key header.
func RequireKey(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(auth.HeaderName)
		if err := auth.Authenticate(key, expected); err != nil {
			if key == "" {
				logging.LogAuthRejected("Key validation failed: No key provided", c.ClientIP(), c.Request.URL.Path, "", "")
			} else {
				logging.LogAuthRejected("Key validation failed: Invalid key", c.ClientIP(), c.Request.URL.Path, "", auth.KeyPrefix(key, 5))
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "Authentication failed",
				Message: auth.Reason(err),
			})
			return
		}

		logging.Debug("Key validation successful",
			zap.String("remote_addr", c.ClientIP()),
			zap.String("path", c.Request.URL.Path),
		)
		c.Next()
	}
}

// Recovery turns a handler panic into a 500 with a generic body.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		logging.Error("HTTP handler panicked",
			zap.String("path", c.Request.URL.Path),
			zap.Any("panic", recovered),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
	})
}

// RequestLogger logs each plain request at debug level.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("remote_addr", c.ClientIP()),
		)
	}
}

// CORS reflects allowed origins and answers preflight requests.
func CORS(origins *config.OriginPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && origins.Allowed(origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, "+auth.HeaderName)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
