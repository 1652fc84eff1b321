package http

import (
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/saker-ai/render-bridge/internal/server"
	"github.com/saker-ai/render-bridge/internal/ws"
	"github.com/saker-ai/render-bridge/pkg/protocol"
	"github.com/saker-ai/render-bridge/webassets"
)

// Controller is the listener lifecycle driven by the panel.
type Controller interface {
	Start() error
	Stop() error
	Status() server.Status
}

// NewRouter builds the control panel routes.
func NewRouter(ctl Controller, events *ws.Handler, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctl.Status())
	})
	api.POST("/server/start", func(c *gin.Context) {
		if err := ctl.Start(); err != nil {
			e := protocol.AsError(err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"status":  protocol.StatusError,
				"code":    e.Code,
				"message": e.Message,
			})
			return
		}
		if events != nil {
			events.Broadcast(ws.EventServerStarted)
		}
		c.JSON(http.StatusOK, ctl.Status())
	})
	api.POST("/server/stop", func(c *gin.Context) {
		if err := ctl.Stop(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"status":  protocol.StatusError,
				"message": err.Error(),
			})
			return
		}
		if events != nil {
			events.Broadcast(ws.EventServerStopped)
		}
		c.JSON(http.StatusOK, ctl.Status())
	})
	if events != nil {
		api.GET("/events", func(c *gin.Context) {
			events.Handle(c.Writer, c.Request)
		})
	}

	mountEmbeddedPanel(router, logger)
	return router
}

func mountEmbeddedPanel(router *gin.Engine, logger *zap.Logger) bool {
	embeddedRoot, err := webassets.Panel()
	if err != nil {
		if logger != nil {
			logger.Warn("failed to load embedded panel assets", zap.Error(err))
		}
		return false
	}
	indexHTML, err := fs.ReadFile(embeddedRoot, "index.html")
	if err != nil {
		if logger != nil {
			logger.Warn("missing embedded panel index.html", zap.Error(err))
		}
		return false
	}
	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})
	return true
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if logger == nil {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}
