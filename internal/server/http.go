package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gitlab-skills/live-harness/internal/config"
	"github.com/gitlab-skills/live-harness/pkg/certificates"
)

const (
	APIPrefix string = "/api/v4"
	certTTL          = 365 * 24 * time.Hour
)

type Server struct {
	srv *http.Server
}

// NewEngine builds the router of the fake instance. Paths are matched on
// their escaped form so "group%2Fproject" stays a single segment.
func NewEngine(registerHandlerFn func(router *gin.RouterGroup)) *gin.Engine {
	engine := gin.New()
	engine.UseRawPath = true
	engine.UnescapePathValues = true

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "404 Not Found"})
	})

	router := engine.Group(APIPrefix)
	router.Use(
		ginzap.Ginzap(zap.S().Desugar().Named("fake"), time.RFC3339, true),
		ginzap.RecoveryWithZap(zap.S().Desugar(), true),
	)

	registerHandlerFn(router)

	return engine
}

func NewServer(cfg *config.Configuration, registerHandlerFn func(router *gin.RouterGroup)) (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", cfg.Fake.HTTPPort),
		Handler:           NewEngine(registerHandlerFn),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Fake.TLS {
		cert, key, err := certificates.GenerateSelfSignedCertificate(time.Now().Add(certTTL), "localhost", "127.0.0.1")
		if err != nil {
			return nil, fmt.Errorf("failed to generate server's certificates: %w", err)
		}

		tlsConfig, err := certificates.TLSConfig(cert, key)
		if err != nil {
			return nil, err
		}

		srv.TLSConfig = tlsConfig
	}

	return &Server{srv: srv}, nil
}

// Start serves until Stop is called. A stopped server returns nil.
func (r *Server) Start(ctx context.Context) error {
	var err error
	if r.srv.TLSConfig != nil {
		err = r.srv.ListenAndServeTLS("", "")
	} else {
		err = r.srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (r *Server) Stop(ctx context.Context) {
	if err := r.srv.Shutdown(ctx); err != nil {
		zap.S().Errorw("server shutdown", "error", err)
	}
}

// Addr is the address the server listens on.
func (r *Server) Addr() string {
	return r.srv.Addr
}
