package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipforge/clipforge/internal/catalog"
	"github.com/clipforge/clipforge/internal/storage"
)

const (
	defaultHTTPTimeout = 30 * time.Minute
	defaultMaxBytes    = 4 << 30
)

// HTTPFetcher downloads direct media links.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

func NewHTTPFetcher(client *http.Client, maxBytes int64, logger *slog.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFetcher{client: client, maxBytes: maxBytes, logger: logger}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, u *url.URL, dir string) (*Fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, ingestErr(u, err)
	}
	req.Header.Set("User-Agent", "clipforge/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, ingestErr(u, fmt.Errorf("unreachable: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ingestErr(u, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, _ := mime.ParseMediaType(ct)
		if strings.HasPrefix(mediaType, "text/") || mediaType == "application/json" {
			return nil, ingestErr(u, fmt.Errorf("not a video (content-type %s)", mediaType))
		}
	}
	if resp.ContentLength > f.maxBytes {
		return nil, ingestErr(u, fmt.Errorf("source is %d bytes, limit is %d", resp.ContentLength, f.maxBytes))
	}

	filename := storage.SafeFilename(FilenameFor(u))
	dst := filepath.Join(dir, filename)
	n, err := copyLimited(dst, resp.Body, f.maxBytes)
	if err != nil {
		os.Remove(dst)
		return nil, ingestErr(u, err)
	}
	if n == 0 {
		os.Remove(dst)
		return nil, ingestErr(u, errors.New("empty response body"))
	}

	f.logger.Info("fetched source", "host", u.Hostname(), "bytes", n)
	return &Fetched{Path: dst, Filename: filename, Size: n}, nil
}

func copyLimited(dst string, r io.Reader, limit int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, io.LimitReader(r, limit+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("download interrupted: %w", err)
	}
	if n > limit {
		return n, fmt.Errorf("source exceeds %d bytes", limit)
	}
	return n, nil
}

func ingestErr(u *url.URL, err error) error {
	return &catalog.IngestionError{Source: u.Redacted(), Err: err}
}
