// Package api exposes the marketplace over HTTP.
package api

import (
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/vantagedata/datamarket/internal/contentstore"
	"github.com/vantagedata/datamarket/internal/identity"
	"github.com/vantagedata/datamarket/internal/ledger"
	"github.com/vantagedata/datamarket/internal/treasury"
	"github.com/vantagedata/datamarket/internal/ws"
)

// Server wires the marketplace services into HTTP handlers.
type Server struct {
	router     *gin.Engine
	logger     *zap.Logger
	ledger     ledger.LedgerService
	treasury   treasury.TreasuryService
	identities identity.IdentityService
	content    contentstore.Store
	hub        *ws.Hub

	maxUploadBytes int64
}

// Options tunes the server.
type Options struct {
	MaxUploadBytes int64
}

// NewServer creates the API server with injected services. hub may be nil
// to disable the event feed endpoint.
func NewServer(
	logger *zap.Logger,
	ledgerSvc ledger.LedgerService,
	treasurySvc treasury.TreasuryService,
	identitySvc identity.IdentityService,
	content contentstore.Store,
	hub *ws.Hub,
	opts Options,
) *Server {
	server := &Server{
		logger:         logger,
		ledger:         ledgerSvc,
		treasury:       treasurySvc,
		identities:     identitySvc,
		content:        content,
		hub:            hub,
		maxUploadBytes: opts.MaxUploadBytes,
	}
	if server.maxUploadBytes <= 0 {
		server.maxUploadBytes = 256 << 20
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(otelgin.Middleware("datamarket-api"))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	server.router = router
	server.registerRoutes()
	return server
}

// Start runs the HTTP server.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Router returns the internal Gin engine for testing purposes.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	public := s.router.Group("/api/v1")
	{
		public.GET("/metrics", gin.WrapH(promhttp.Handler()))
		public.GET("/health", s.healthCheck)

		auth := public.Group("/auth")
		{
			auth.POST("/signup", s.signup)
			auth.POST("/login", s.login)
		}

		public.GET("/listings", s.listActive)
		public.GET("/listings/:id", s.getListing)
		public.GET("/stats", s.getStats)

		if s.hub != nil {
			public.GET("/ws/events", func(c *gin.Context) {
				s.hub.ServeWS(c.Writer, c.Request)
			})
		}
	}

	protected := s.router.Group("/api/v1")
	protected.Use(s.authMiddleware())
	{
		protected.POST("/listings", s.registerListing)
		protected.POST("/listings/:id/purchase", s.purchaseListing)
		protected.DELETE("/listings/:id", s.deactivateListing)
		protected.GET("/listings/:id/access", s.checkAccess)
		protected.GET("/purchases/:id", s.getPurchase)

		me := protected.Group("/me")
		{
			me.GET("/listings", s.myListings)
			me.GET("/purchases", s.myPurchases)
		}

		wallet := protected.Group("/wallet")
		{
			wallet.POST("/deposit", s.deposit)
			wallet.GET("/balance", s.getBalance)
		}

		content := protected.Group("/content")
		{
			content.POST("", s.uploadContent)
			content.GET("/:ref", s.downloadContent)
		}
	}

	admin := s.router.Group("/api/v1/admin")
	admin.Use(s.authMiddleware(), s.adminMiddleware())
	{
		admin.PUT("/fee", s.updatePlatformFee)
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(200, gin.H{
		"status": "ok",
		"time":   time.Now(),
	})
}
