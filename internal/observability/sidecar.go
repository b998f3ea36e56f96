package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	logs "github.com/danmuck/fusion/internal/logging"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SidecarConfig configures the health and metrics HTTP endpoint that runs
// next to a scene-graph client or the reference server.
type SidecarConfig struct {
	Addr        string
	Service     string
	Version     string
	CORSOrigins []string
}

// Sidecar serves /health, /ready and /metrics.
type Sidecar struct {
	cfg       SidecarConfig
	router    *gin.Engine
	startedAt time.Time
	ready     atomic.Bool
}

func NewSidecar(cfg SidecarConfig) *Sidecar {
	RegisterMetrics()
	if strings.TrimSpace(cfg.Service) == "" {
		cfg.Service = "fusion"
	}
	if strings.TrimSpace(cfg.Version) == "" {
		cfg.Version = "0.0.1"
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Sidecar{cfg: cfg, startedAt: time.Now()}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(AccessLog(cfg.Service))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.startedAt).String(),
			"service": cfg.Service,
			"version": cfg.Version,
		})
	})
	r.GET("/ready", func(c *gin.Context) {
		if !s.ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router = r
	return s
}

// SetReady flips the /ready probe.
func (s *Sidecar) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Sidecar) Handler() http.Handler {
	return s.router
}

// Serve runs the sidecar on ln until ctx is done.
func (s *Sidecar) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logs.Infof("observability.Sidecar serving service=%s addr=%s", s.cfg.Service, ln.Addr())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on cfg.Addr and serves until ctx is done.
func (s *Sidecar) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
