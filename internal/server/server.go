// Package server provides the HTTP transport over the market service.
package server

import (
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/finsim/marketd/internal/config"
	"github.com/finsim/marketd/internal/market"
)

// Server represents the HTTP server
type Server struct {
	logger     *zap.Logger
	svc        *market.Service
	projection config.ProjectionConfig
}

// NewServer creates a new HTTP server
func NewServer(logger *zap.Logger, svc *market.Service, projection config.ProjectionConfig) *Server {
	return &Server{
		logger:     logger.Named("http"),
		svc:        svc,
		projection: projection,
	}
}

// Router creates a new HTTP router
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, "2006-01-02T15:04:05Z07:00", true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))

	router.POST("/orders", s.placeOrder)
	router.GET("/orders/:id", s.getOrder)
	router.POST("/orders/:id/cancel", s.cancelOrder)
	router.GET("/book/:instrument", s.streamBook)

	return router
}
