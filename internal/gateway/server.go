// Package gateway is the thin HTTP front door for the query orchestration
// core: routing, CORS, body parsing and identity resolution. All query
// semantics live behind it.
package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"datalens-gateway/internal/common/config"
)

// Server wires the gin engine and routes.
type Server struct {
	engine *gin.Engine
	cfg    config.ServerConfig
}

func NewServer(cfg config.ServerConfig, handler *Handler) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware(cfg.WebOrigin))

	engine.GET("/api/health", handler.Health)
	engine.POST("/api/query", handler.Query)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Server{engine: engine, cfg: cfg}
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run blocks serving HTTP until the listener fails.
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.engine,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}
	return srv.ListenAndServe()
}

// corsMiddleware allows the configured web origin only. Requests without an
// Origin header pass through untouched.
func corsMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if origin != allowedOrigin {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
