package http

import (
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/lsf-avatar/internal/config"
	"github.com/saker-ai/lsf-avatar/internal/ws"
	"github.com/saker-ai/lsf-avatar/webassets"
)

// Deps are the handlers and counters the router exposes.
type Deps struct {
	Chat    gin.HandlerFunc
	Viewers *ws.Handler
	// Stats feeds /health; nil reports zeros.
	Stats func() (viewers int, intents int)
}

// NewRouter builds the gin engine.
func NewRouter(cfg appconfig.Config, deps Deps, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors())

	router.GET("/health", func(c *gin.Context) {
		viewers, intents := 0, 0
		if deps.Stats != nil {
			viewers, intents = deps.Stats()
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "viewers": viewers, "intents": intents})
	})

	router.POST("/chat", deps.Chat)

	viewerWS := func(c *gin.Context) {
		deps.Viewers.Handle(c.Writer, c.Request)
	}
	router.GET("/ws", viewerWS)

	index := mountFrontend(router, cfg.FrontendDir, logger)
	router.GET("/", func(c *gin.Context) {
		if ws.IsUpgrade(c.Request) {
			viewerWS(c)
			return
		}
		index(c)
	})

	return router
}

// mountFrontend serves .glb and other files from frontendDir and returns the index handler.
// A disk index.html wins over the embedded one.
func mountFrontend(router *gin.Engine, frontendDir string, logger *zap.Logger) gin.HandlerFunc {
	diskIndex := filepath.Join(frontendDir, "index.html")
	if info, err := os.Stat(frontendDir); err == nil && info.IsDir() {
		router.NoRoute(staticFallback(http.Dir(frontendDir)))
		if logger != nil {
			logger.Info("serving disk assets", zap.String("source", frontendDir))
		}
		if fileExists(diskIndex) {
			return func(c *gin.Context) { c.File(diskIndex) }
		}
	}

	embeddedRoot, err := webassets.Subdir("public")
	if err == nil {
		if indexHTML, readErr := fs.ReadFile(embeddedRoot, "index.html"); readErr == nil {
			if logger != nil {
				logger.Info("serving embedded index", zap.String("source", "webassets/public"))
			}
			return func(c *gin.Context) {
				c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
			}
		} else {
			err = readErr
		}
	}
	if logger != nil {
		logger.Warn("no index page available", zap.Error(err))
	}
	return func(c *gin.Context) { c.Status(http.StatusNotFound) }
}

// staticFallback serves GET/HEAD requests for files that no route claimed.
func staticFallback(root http.FileSystem) gin.HandlerFunc {
	fileServer := http.FileServer(root)
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Status(http.StatusNotFound)
			return
		}
		fileServer.ServeHTTP(c.Writer, c.Request)
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
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
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
		)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
