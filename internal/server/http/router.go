package http

import (
	"net/http"

	"github.com/dmitrijs2005/getkey/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the transport-level settings of the router.
type RouterConfig struct {
	RequestsPerSecond float64
	RequestBurst      int
	TrustedProxies    []string
	Gatherer          prometheus.Gatherer
}

// SetupRouter sets up the Gin router
func SetupRouter(flow KeyFlow, keys KeyChecker, cfg RouterConfig, logger logging.Logger) (*gin.Engine, error) {
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}
	router.Use(gin.Recovery(), LoggingMiddleware(logger))

	handlers := NewHandlers(flow, keys)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	api.Use(RateLimitMiddleware(cfg.RequestsPerSecond, cfg.RequestBurst))
	{
		getkey := api.Group("/getkey")
		getkey.POST("/:slug/start", handlers.Start)
		getkey.POST("/checkpoint", handlers.Checkpoint)
		getkey.POST("/challenge", handlers.Challenge)
		getkey.GET("/status", handlers.Status)
		getkey.POST("/claim", handlers.Claim)

		api.GET("/keys/:value", handlers.CheckKey)
	}

	return router, nil
}
