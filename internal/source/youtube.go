package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	ytdl "github.com/kkdai/youtube/v2"
)

// YouTubeFetcher downloads the best progressive mp4 (video and audio in one
// stream) so no muxing step is needed before transcription and cutting.
type YouTubeFetcher struct {
	client   *ytdl.Client
	maxBytes int64
	logger   *slog.Logger
}

func NewYouTubeFetcher(maxBytes int64, logger *slog.Logger) *YouTubeFetcher {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &YouTubeFetcher{client: &ytdl.Client{}, maxBytes: maxBytes, logger: logger}
}

func (f *YouTubeFetcher) Fetch(ctx context.Context, u *url.URL, dir string) (*Fetched, error) {
	video, err := f.client.GetVideoContext(ctx, u.String())
	if err != nil {
		return nil, ingestErr(u, fmt.Errorf("failed to get video: %w", err))
	}

	format, err := pickFormat(video.Formats)
	if err != nil {
		return nil, ingestErr(u, err)
	}

	stream, size, err := f.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, ingestErr(u, fmt.Errorf("failed to get stream: %w", err))
	}
	defer stream.Close()

	if size > f.maxBytes {
		return nil, ingestErr(u, fmt.Errorf("source is %d bytes, limit is %d", size, f.maxBytes))
	}

	filename := video.ID + ".mp4"
	dst := filepath.Join(dir, filename)
	n, err := copyLimited(dst, stream, f.maxBytes)
	if err != nil {
		os.Remove(dst)
		return nil, ingestErr(u, err)
	}

	f.logger.Info("fetched youtube source",
		"youtube_id", video.ID,
		"itag", format.ItagNo,
		"quality", format.QualityLabel,
		"bytes", n,
	)
	return &Fetched{Path: dst, Filename: filename, Size: n, Title: video.Title}, nil
}

// pickFormat returns the highest-bitrate mp4 format that carries audio.
func pickFormat(formats ytdl.FormatList) (*ytdl.Format, error) {
	candidates := formats.Type("video/mp4").WithAudioChannels()
	if len(candidates) == 0 {
		return nil, errors.New("no progressive mp4 format available")
	}
	best := &candidates[0]
	for i := range candidates {
		if candidates[i].Bitrate > best.Bitrate {
			best = &candidates[i]
		}
	}
	return best, nil
}
