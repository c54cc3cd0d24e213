package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/clipforge/clipforge/internal/metrics"
	"github.com/clipforge/clipforge/internal/pipeline"
	"github.com/clipforge/clipforge/internal/playback"
	"github.com/clipforge/clipforge/internal/transcribe"
)

// Service is the part of pipeline.Orchestrator the HTTP layer calls.
type Service interface {
	IngestUpload(ctx context.Context, ownerID, filename string, r io.Reader, size int64) (*pipeline.Submission, error)
	IngestURL(ctx context.Context, ownerID, rawURL string) (*pipeline.Submission, error)
	GetTaskStatus(ctx context.Context, taskID string) (*pipeline.TaskStatusView, error)
	ListVideos(ctx context.Context, ownerID string) ([]pipeline.VideoView, error)
	GetVideo(ctx context.Context, ownerID, videoID string) (*pipeline.VideoView, error)
	Search(ctx context.Context, ownerID, videoID, query string) (*pipeline.SearchResult, error)
	Convert(ctx context.Context, ownerID, clipID, layout string) (*pipeline.ConversionResult, error)
	GetConversion(ctx context.Context, ownerID, clipID string) (*pipeline.ConversionResult, error)
	ClipDownload(ctx context.Context, ownerID, clipID string) (string, error)
	ExportEDL(ctx context.Context, ownerID, videoID string, frameRate float64) (*pipeline.EDLExport, error)
}

// Doctor exposes the last transcriber capability probe.
type Doctor interface {
	Peek() *transcribe.Capabilities
}

// WorkerState reports the in-process pool, when there is one.
type WorkerState interface {
	IsRunning() bool
	IsPaused() bool
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Addr           string
	Service        Service
	Playback       *playback.Server // nil unless objects live on local disk
	Metrics        *metrics.Metrics
	Doctor         Doctor
	Workers        WorkerState
	Limiter        Counter // nil disables ingest rate limiting
	RateLimit      int
	RateWindow     time.Duration
	JWTSecret      string
	CORSOrigins    []string
	MaxUploadBytes int64
	Logger         *slog.Logger
	StartTime      time.Time
	Version        string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			WriteTimeout:      0,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
