package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/freevideocut/cutagent/internal/catalog"
	"github.com/freevideocut/cutagent/internal/jobs"
	"github.com/freevideocut/cutagent/internal/logging"
	"github.com/freevideocut/cutagent/internal/playback"
)

// Version is reported by /health and /status.
const Version = "0.1.0"

type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
}

// ServerConfig carries the handler dependencies. FFmpegVersion is the first
// line of `ffmpeg -version`, empty when the probe failed.
type ServerConfig struct {
	Port          int
	Service       *catalog.Service
	Media         playback.MediaService
	Repository    catalog.Repository
	Jobs          *jobs.Dispatcher
	Logger        *slog.Logger
	StartTime     time.Time
	FFmpegVersion string
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: 10 * time.Second,
			// media responses stream whole clips, so no write deadline
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: logging.WithComponent(cfg.Logger, "api"),
	}
}

// Listen binds the loopback address. Bind errors such as a port already in
// use surface here rather than from Serve.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	return nil
}

// Serve accepts connections until Shutdown. It calls Listen first when the
// server is not bound yet.
func (s *Server) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.logger.Info("serving HTTP", "addr", s.Addr())
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Addr is the bound address once listening, the configured one before.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}
