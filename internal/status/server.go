// Package status serves a small JSON API for monitoring the bot: liveness,
// session/error counters, and the stored error records.
package status

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/corbin-hayes/coderelay/internal/relay"
)

// Source exposes the live counters the status API reports.
type Source interface {
	MaintenanceOn() bool
	SessionCount() int
	ErrorCount() int
	Uptime() time.Duration
}

// StartOpts holds configuration for the status server.
type StartOpts struct {
	Source   Source
	ErrorLog *relay.ErrorLog
	Port     int
	Version  string
	Commit   string
	Out      io.Writer
}

// Start launches the status HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Source == nil {
		return fmt.Errorf("status: source is required")
	}
	if opts.ErrorLog == nil {
		return fmt.Errorf("status: error log is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	router := newRouter(opts)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Status API running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status: %w", err)
	}
	return nil
}

func newRouter(opts StartOpts) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", handleHealthz())
	router.GET("/api/status", handleStatus(opts))
	router.GET("/api/errors", handleErrors(opts.ErrorLog))
	return router
}

func handleHealthz() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleStatus(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     opts.Version,
			"commit":      opts.Commit,
			"uptime_sec":  int64(opts.Source.Uptime().Seconds()),
			"maintenance": opts.Source.MaintenanceOn(),
			"sessions":    opts.Source.SessionCount(),
			"errors":      opts.Source.ErrorCount(),
		})
	}
}

func handleErrors(errlog *relay.ErrorLog) gin.HandlerFunc {
	return func(c *gin.Context) {
		records := errlog.Records()
		out := make([]gin.H, 0, len(records))
		for _, rec := range records {
			out = append(out, gin.H{
				"time":          rec.Time.Format(time.RFC3339),
				"origin":        rec.Origin.String(),
				"error":         rec.Err.Error(),
				"original_text": rec.OriginalText,
				"attachment":    rec.Attachment,
			})
		}
		c.JSON(http.StatusOK, gin.H{"errors": out})
	}
}
