// Package source resolves remote video URLs to local files. YouTube links
// go through the YouTube player API; everything else is a plain HTTP GET.
package source

import (
	"context"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/clipforge/clipforge/internal/catalog"
)

// Fetched describes a source written to local disk.
type Fetched struct {
	Path     string
	Filename string
	Size     int64
	Title    string
}

type Fetcher interface {
	Fetch(ctx context.Context, u *url.URL, dir string) (*Fetched, error)
}

// Resolver picks a fetcher per URL.
type Resolver struct {
	http    Fetcher
	youtube Fetcher
}

func NewResolver(httpFetcher, youtubeFetcher Fetcher) *Resolver {
	return &Resolver{http: httpFetcher, youtube: youtubeFetcher}
}

// Fetch downloads rawURL into dir. All failures are IngestionErrors.
func (r *Resolver) Fetch(ctx context.Context, rawURL, dir string) (*Fetched, error) {
	u, err := ValidateURL(rawURL)
	if err != nil {
		return nil, &catalog.IngestionError{Source: rawURL, Err: err}
	}

	f := r.http
	if IsYouTube(u) && r.youtube != nil {
		f = r.youtube
	}
	fetched, err := f.Fetch(ctx, u, dir)
	if err != nil {
		if catalog.IsIngestion(err) {
			return nil, err
		}
		return nil, &catalog.IngestionError{Source: rawURL, Err: err}
	}
	return fetched, nil
}

// ValidateURL accepts absolute http(s) URLs with a host.
func ValidateURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, catalog.Invalid("url", "required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, catalog.Invalid("url", "unparseable")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, catalog.Invalid("url", "scheme must be http or https")
	}
	if u.Hostname() == "" {
		return nil, catalog.Invalid("url", "missing host")
	}
	return u, nil
}

var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
	"youtu.be":          true,
}

func IsYouTube(u *url.URL) bool {
	return youtubeHosts[strings.ToLower(u.Hostname())]
}

var youtubeIDPattern = regexp.MustCompile(`(?:v=|/)([0-9A-Za-z_-]{11})`)

// YouTubeID extracts the 11-character video id, or "".
func YouTubeID(raw string) string {
	m := youtubeIDPattern.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return m[1]
}

// FilenameFor derives the stored filename for a URL source.
func FilenameFor(u *url.URL) string {
	if IsYouTube(u) {
		if id := YouTubeID(u.String()); id != "" {
			return id + ".mp4"
		}
		return "youtube.mp4"
	}
	base := path.Base(u.Path)
	if catalog.IsVideoFile(base) {
		return base
	}
	return "video.mp4"
}
