// Package web serves the read-only queue status HTTP surface.
package web

import (
	"context"
	"net/http"

	gmw "github.com/Laisky/gin-middlewares/v7"
	gconfig "github.com/Laisky/go-config/v2"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/cs-open-lab/openlab-bot/internal/helpqueue/service"
	"github.com/cs-open-lab/openlab-bot/library/log"
)

// RunServer serves /health and /queue until ctx is done.
func RunServer(ctx context.Context, addr string, hq *service.HelpQueue) error {
	if !gconfig.Shared.GetBool("debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	server := gin.New()
	server.Use(
		gin.Recovery(),
		gmw.NewLoggerMiddleware(
			gmw.WithLoggerMwColored(),
			gmw.WithLevel(log.Logger.Level().String()),
			gmw.WithLogger(log.Logger.Named("gin")),
		),
	)

	if err := gmw.EnableMetric(server); err != nil {
		log.Logger.Panic("enable metric server", zap.Error(err))
	}

	server.Any("/health", func(ctx *gin.Context) {
		ctx.String(http.StatusOK, "hello, world")
	})

	server.GET("/queue", func(c *gin.Context) {
		recs, err := hq.OpenRequests(c.Request.Context())
		if err != nil {
			log.Logger.Error("list open requests", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"requests": recs})
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: server,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	log.Logger.Info("listening on http", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
