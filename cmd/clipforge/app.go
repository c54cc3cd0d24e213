package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/db"
	"github.com/clipforge/clipforge/internal/extract"
	"github.com/clipforge/clipforge/internal/media"
	"github.com/clipforge/clipforge/internal/metrics"
	"github.com/clipforge/clipforge/internal/pipeline"
	"github.com/clipforge/clipforge/internal/search"
	"github.com/clipforge/clipforge/internal/source"
	"github.com/clipforge/clipforge/internal/storage"
	"github.com/clipforge/clipforge/internal/transcribe"
)

const signingSecretKey = "signing_secret"

// app holds everything serve and worker share: the database, object storage
// and a fully wired orchestrator.
type app struct {
	cfg     *config.EnvConfig
	logger  *slog.Logger
	db      *db.DB
	repo    *catalog.SQLRepository
	store   storage.Store
	local   *storage.LocalStore // nil unless the local backend is used
	doctor  *transcribe.CachedDoctor
	faces   media.FaceDetector // nil when the runner is unavailable
	metrics *metrics.Metrics
	orch    *pipeline.Orchestrator
}

func openDatabase(cfg *config.EnvConfig, logger *slog.Logger) (*db.DB, error) {
	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	database, err := db.Open(db.Dialect(cfg.DBDriver()), cfg.DSN(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return database, nil
}

func newApp(ctx context.Context, cfg *config.EnvConfig, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.WorkDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	database, err := openDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		db:      database,
		repo:    catalog.NewRepository(database.Conn(), database.Dialect()),
		metrics: metrics.New(),
	}

	if err := a.openStore(ctx); err != nil {
		database.Close()
		return nil, err
	}

	extractor, err := a.newExtractor(ctx)
	if err != nil {
		database.Close()
		return nil, err
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		database.Close()
		return nil, err
	}

	ff := media.NewExecFFmpeg(cfg.FFmpegPath(), cfg.FFprobePath(), cfg.RenderTimeout(), logger)
	if !ff.Available() {
		logger.Warn("ffmpeg not found, rendering will fail", "ffmpeg", cfg.FFmpegPath(), "ffprobe", cfg.FFprobePath())
	}

	rule, err := pipeline.ParseOverlapRule(cfg.OverlapRule())
	if err != nil {
		database.Close()
		return nil, err
	}

	renderer := media.NewRenderer(ff, a.store, logger)
	if a.faces != nil {
		renderer.SetFaceDetector(a.faces)
	}

	a.orch = pipeline.New(pipeline.Deps{
		Repo:  a.repo,
		Store: a.store,
		Sources: source.NewResolver(
			source.NewHTTPFetcher(nil, cfg.MaxUploadBytes(), logger),
			source.NewYouTubeFetcher(cfg.MaxUploadBytes(), logger),
		),
		Extractor: extractor,
		Renderer:  renderer,
		Indexer:   search.NewIndexer(a.repo, embedder, logger),
		Metrics:   a.metrics,
		Logger:    logger,
	}, pipeline.Config{
		WorkDir:           cfg.WorkDir(),
		RenderConcurrency: cfg.RenderConcurrency(),
		Selection: pipeline.SelectionConfig{
			MaxCandidates: cfg.MaxCandidates(),
			MinDuration:   cfg.MinDuration().Seconds(),
			MaxOverlap:    cfg.MaxOverlap(),
			Rule:          rule,
		},
		DefaultLayout:  cfg.DefaultLayout(),
		PresignExpiry:  cfg.PresignExpiry(),
		MaxUploadBytes: cfg.MaxUploadBytes(),
	})

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.StorageBackend() {
	case "s3", "minio":
		ms, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  a.cfg.S3Endpoint(),
			AccessKey: a.cfg.S3AccessKey(),
			SecretKey: a.cfg.S3SecretKey(),
			Bucket:    a.cfg.S3Bucket(),
			Region:    a.cfg.S3Region(),
			UseSSL:    a.cfg.S3UseSSL(),
		}, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create object store client: %w", err)
		}
		if err := ms.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to prepare bucket %s: %w", a.cfg.S3Bucket(), err)
		}
		a.store = ms
	default:
		secret, err := ensureSigningSecret(ctx, a.repo)
		if err != nil {
			return fmt.Errorf("failed to ensure signing secret: %w", err)
		}
		ls, err := storage.NewLocalStore(a.cfg.ObjectsDir(), a.cfg.PublicBaseURL(), storage.NewSigner(secret), a.logger)
		if err != nil {
			return fmt.Errorf("failed to open object dir: %w", err)
		}
		a.store = ls
		a.local = ls
	}
	a.logger.Info("object storage ready", "backend", a.cfg.StorageBackend())
	return nil
}

func (a *app) newExtractor(ctx context.Context) (*extract.Service, error) {
	cfg := a.cfg

	var tr transcribe.Transcriber
	runnerCfg := transcribe.DefaultConfig(cfg.WorkDir(), a.logger)
	runnerCfg.PythonPath = cfg.TranscribePython()
	runnerCfg.ModuleName = cfg.TranscribeModule()
	runnerCfg.Timeout = cfg.TranscribeTimeout()
	runnerCfg.FacesTimeout = cfg.FacesTimeout()
	runnerCfg.DoctorTimeout = cfg.DoctorTimeout()

	runner, err := transcribe.NewRunner(runnerCfg)
	if err != nil {
		a.logger.Warn("transcription runner unavailable, extraction tasks will fail", "error", err)
		tr = unavailableTranscriber{err: err}
	} else {
		tr = runner
		a.faces = runner
		a.doctor = transcribe.NewCachedDoctor(runner, a.logger)

		probeCtx, cancel := context.WithTimeout(ctx, runnerCfg.DoctorTimeout)
		defer cancel()
		if caps, err := a.doctor.Refresh(probeCtx); err != nil {
			a.logger.Warn("initial doctor probe failed", "error", err)
		} else {
			a.logger.Info("transcriber capabilities detected",
				"transcribe", caps.HasTranscribe,
				"ffmpeg", caps.HasFFmpeg,
				"faces", caps.HasFaces,
				"cuda", caps.GPU.CUDAAvailable,
				"deps", fmt.Sprintf("%d/%d", caps.Summary.Available, caps.Summary.Total),
			)
		}
	}

	var ranker extract.Ranker
	switch cfg.Ranker() {
	case "openai":
		r, err := extract.NewOpenAIRanker(extract.OpenAIConfig{
			APIKey:  cfg.OpenAIKey(),
			BaseURL: cfg.OpenAIBaseURL(),
			Model:   cfg.ChatModel(),
			Count:   cfg.MaxCandidates(),
		})
		if err != nil {
			return nil, err
		}
		ranker = r
	default:
		ranker = extract.NewHeuristicRanker()
	}
	a.logger.Info("highlight ranker selected", "ranker", cfg.Ranker())

	return extract.NewService(tr, ranker, a.logger), nil
}

func newEmbedder(cfg *config.EnvConfig) (search.Embedder, error) {
	if cfg.Embedder() == "openai" {
		return search.NewOpenAIEmbedder(search.OpenAIEmbedderConfig{
			APIKey:  cfg.OpenAIKey(),
			BaseURL: cfg.OpenAIBaseURL(),
			Model:   cfg.EmbeddingModel(),
		})
	}
	return search.NewHashEmbedder(search.DefaultHashDims), nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// ensureSigningSecret returns the HMAC key for local presigned URLs,
// generating and persisting one on first start so links survive restarts.
func ensureSigningSecret(ctx context.Context, repo catalog.Repository) ([]byte, error) {
	existing, err := repo.GetSetting(ctx, signingSecretKey)
	if err != nil {
		return nil, err
	}
	if existing != "" {
		return hex.DecodeString(existing)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := repo.SetSetting(ctx, signingSecretKey, hex.EncodeToString(secret)); err != nil {
		return nil, err
	}
	return secret, nil
}

type unavailableTranscriber struct {
	err error
}

func (u unavailableTranscriber) Transcribe(ctx context.Context, videoPath string) (*transcribe.Transcript, error) {
	return nil, errors.Join(errors.New("transcriber unavailable"), u.err)
}
