package service

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tarcisiodg/musterctl/internal/auth"
	"github.com/tarcisiodg/musterctl/internal/history"
	"github.com/tarcisiodg/musterctl/internal/observability"
)

// serveAdmin runs the admin/status HTTP API until ctx is canceled.
func (s *Service) serveAdmin(ctx context.Context, addr string) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		gin.Recovery(),
		observability.RequestLogger(log.Logger),
		observability.RequestMetricsMiddleware(s.cfg.DeviceName),
	)
	s.registerRoutes(router)

	srv := &http.Server{Addr: addr, Handler: router}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", addr).Msg("admin API listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Service) registerRoutes(router *gin.Engine) {
	validator := auth.StaticToken{Token: s.cfg.AdminToken}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"device":  s.cfg.DeviceName,
			"service": "musterctl",
		})
	})

	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Status())
	})

	router.GET("/fleet", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"units": s.FleetView(),
			"tally": s.Tally(),
		})
	})

	router.GET("/history", func(c *gin.Context) {
		n, err := strconv.Atoi(c.DefaultQuery("n", "20"))
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid n"})
			return
		}
		records, err := history.Recent(c.Request.Context(), s.store, n)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	privileged := router.Group("/", func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if err := validator.Validate(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	})

	privileged.POST("/muster/finish-all", func(c *gin.Context) {
		if err := s.FinishAll(c.Request.Context()); err != nil {
			// Local state is already clear; report the not-saved outcome.
			c.JSON(http.StatusAccepted, gin.H{"status": "finished_with_errors", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "finished"})
	})

	privileged.PUT("/counters/:category", func(c *gin.Context) {
		var body struct {
			Count int `json:"count"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.SetManualCounter(c.Param("category"), body.Count); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	privileged.PUT("/session/manual", func(c *gin.Context) {
		var body struct {
			Enabled bool `json:"enabled"`
			Count   int  `json:"count"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.SetManualMode(body.Enabled, body.Count); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	privileged.POST("/released/:id", func(c *gin.Context) {
		s.Release(c.Param("id"))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	privileged.DELETE("/released/:id", func(c *gin.Context) {
		s.Unrelease(c.Param("id"))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	privileged.DELETE("/history/:id", func(c *gin.Context) {
		if err := history.Delete(c.Request.Context(), s.store, c.Param("id")); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
