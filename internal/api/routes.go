package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// multipart parts beyond this stay on disk while parsing
const uploadMemory = 32 << 20

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(CORSAllowlist(cfg.CORSOrigins))
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))

	r.Get("/health", healthHandler(cfg))
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}
	if cfg.Playback != nil {
		r.Get("/files/*", filesHandler(cfg))
		r.Head("/files/*", filesHandler(cfg))
	}

	r.Group(func(r chi.Router) {
		r.Use(OwnerMiddleware(cfg.JWTSecret, cfg.Logger))

		r.Group(func(r chi.Router) {
			r.Use(RateLimit(cfg.Limiter, cfg.RateLimit, cfg.RateWindow, cfg.Logger))
			r.Post("/videos/upload", uploadHandler(cfg))
			r.Post("/videos/url", ingestURLHandler(cfg))
		})

		r.Get("/tasks/{id}", taskHandler(cfg))
		r.Get("/videos", listVideosHandler(cfg))
		r.Get("/videos/{id}", getVideoHandler(cfg))
		r.Get("/videos/{id}/search", searchHandler(cfg))
		r.Get("/videos/{id}/edl", edlHandler(cfg))
		r.Post("/clips/{id}/convert", convertHandler(cfg))
		r.Get("/clips/{id}/conversion", conversionHandler(cfg))
		r.Get("/clips/{id}/download", downloadHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		}
		if cfg.Workers != nil {
			resp.Workers = &WorkersResponse{Running: cfg.Workers.IsRunning(), Paused: cfg.Workers.IsPaused()}
		}
		if cfg.Doctor != nil {
			resp.Transcriber = CapabilitiesToStatus(cfg.Doctor.Peek())
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func filesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := url.PathUnescape(chi.URLParam(r, "*"))
		if err != nil || key == "" {
			WriteError(w, http.StatusBadRequest, "invalid file key", "BAD_REQUEST")
			return
		}
		cfg.Playback.ServeSigned(w, r, key)
	}
}

func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes+uploadMemory)
		}
		if err := r.ParseMultipartForm(uploadMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, http.StatusBadRequest, "file too large", "BAD_REQUEST")
				return
			}
			WriteError(w, http.StatusBadRequest, "expected multipart form with a file field", "BAD_REQUEST")
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			WriteError(w, http.StatusBadRequest, "file is required", "BAD_REQUEST")
			return
		}
		defer file.Close()

		sub, err := cfg.Service.IngestUpload(r.Context(), OwnerFrom(r.Context()), header.Filename, file, header.Size)
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, sub)
	}
}

func ingestURLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IngestURLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.URL == "" {
			WriteError(w, http.StatusBadRequest, "url is required", "BAD_REQUEST")
			return
		}

		sub, err := cfg.Service.IngestURL(r.Context(), OwnerFrom(r.Context()), req.URL)
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, sub)
	}
}

func taskHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := cfg.Service.GetTaskStatus(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, st)
	}
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videos, err := cfg.Service.ListVideos(r.Context(), OwnerFrom(r.Context()))
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, VideosResponse{Videos: videos})
	}
}

func getVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := cfg.Service.GetVideo(r.Context(), OwnerFrom(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, v)
	}
}

func searchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			WriteError(w, http.StatusBadRequest, "q is required", "BAD_REQUEST")
			return
		}

		res, err := cfg.Service.Search(r.Context(), OwnerFrom(r.Context()), chi.URLParam(r, "id"), q)
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func convertHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConvertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		res, err := cfg.Service.Convert(r.Context(), OwnerFrom(r.Context()), chi.URLParam(r, "id"), req.Layout)
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func conversionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := cfg.Service.GetConversion(r.Context(), OwnerFrom(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func downloadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := cfg.Service.ClipDownload(r.Context(), OwnerFrom(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, DownloadResponse{URL: u})
	}
}

func edlHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var fps float64
		if raw := r.URL.Query().Get("fps"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "fps must be a number", "BAD_REQUEST")
				return
			}
			fps = v
		}

		out, err := cfg.Service.ExportEDL(r.Context(), OwnerFrom(r.Context()), chi.URLParam(r, "id"), fps)
		if err != nil {
			writeDomainError(w, r, cfg.Logger, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": out.Filename}))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, out.Body)
	}
}
