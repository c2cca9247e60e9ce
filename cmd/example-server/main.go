package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	zapadapter "github.com/jassus213/go-surgekit/adapters/zap"
	"github.com/jassus213/go-surgekit/analytics"
	"github.com/jassus213/go-surgekit/cache"
	"github.com/jassus213/go-surgekit/kvstore"
	"github.com/jassus213/go-surgekit/metrics"
	ginmw "github.com/jassus213/go-surgekit/middleware/gin"
	"github.com/jassus213/go-surgekit/ratelimiter"
)

func main() {
	// Cancel on SIGINT/SIGTERM so janitor goroutines stop with the server.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zapLogger.Sync()
	logger := zapadapter.New(zapLogger)

	// Redis when REDIS_URL/REDIS_TOKEN are set and reachable, in-process
	// fallback otherwise; the rest of the wiring does not care which.
	store := kvstore.Connect(ctx, kvstore.WithLogger(logger))

	recorder := metrics.NewPrometheus(prometheus.DefaultRegisterer)

	limiter := ratelimiter.New(store,
		ratelimiter.WithLogger(logger),
		ratelimiter.WithRecorder(recorder),
	)
	caches := cache.NewManager(store, cache.WithLogger(logger))
	agg := analytics.New(store, analytics.WithLogger(logger))
	agg.StartJanitor(ctx, 10*time.Minute)

	router := gin.Default()
	router.Use(ginmw.RateLimiter(limiter, agg,
		ginmw.WithClassFunc(classifyRoute),
	))

	router.GET("/api/places", func(c *gin.Context) {
		requester := c.ClientIP()
		pageSize := c.DefaultQuery("page_size", "20")

		var listing []string
		err := caches.Fetch(c.Request.Context(), cache.KindPlaces, &listing,
			func(ctx context.Context) (interface{}, error) {
				// Stand-in for the real listing query.
				time.Sleep(50 * time.Millisecond)
				return []string{"cafe-centro", "parque-norte", "mirante-sul"}, nil
			}, requester, pageSize)
		if err != nil {
			c.String(http.StatusInternalServerError, "listing unavailable")
			return
		}
		c.JSON(http.StatusOK, listing)
	})

	router.POST("/api/places", func(c *gin.Context) {
		// A write invalidates the reader's listing cache proactively.
		caches.Invalidate(c.Request.Context(), cache.KindPlaces, c.ClientIP(), "20")
		c.Status(http.StatusCreated)
	})

	router.GET("/api/routes", func(c *gin.Context) {
		origin := c.Query("origin")
		dest := c.Query("dest")

		var geometry string
		if !caches.Get(c.Request.Context(), cache.KindRoute, &geometry, origin, dest) {
			geometry = fmt.Sprintf("geometry(%s->%s)", origin, dest)
			caches.Set(c.Request.Context(), cache.KindRoute, geometry, origin, dest)
		}
		c.String(http.StatusOK, geometry)
	})

	router.GET("/api/stats", func(c *gin.Context) {
		stats := agg.Stats(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"concurrent_users":  stats.ConcurrentUsers,
			"rps":               stats.RequestsPerSecond,
			"avg_response_time": stats.AvgResponseTimeMs,
			"error_rate":        stats.ErrorRatePercent,
			"errors":            agg.ErrorBreakdown(c.Request.Context()),
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{Addr: ":8080", Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Println("Starting server on http://localhost:8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to run server: %v", err)
	}
}

// classifyRoute maps URL paths onto the endpoint classes the limiter
// budgets.
func classifyRoute(c *gin.Context) ratelimiter.Class {
	path := c.Request.URL.Path
	switch {
	case strings.HasPrefix(path, "/auth"):
		return ratelimiter.ClassAuth
	case strings.HasPrefix(path, "/api/search"):
		return ratelimiter.ClassSearch
	case strings.HasPrefix(path, "/api/upload"):
		return ratelimiter.ClassUpload
	case strings.HasPrefix(path, "/api/places"), strings.HasPrefix(path, "/api/routes"):
		return ratelimiter.ClassListing
	default:
		return ratelimiter.ClassGeneral
	}
}
