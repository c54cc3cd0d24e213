package storage

import (
	"fmt"
	"path"
	"strings"
	"unicode"
)

// SourceKey is where the original video bytes live.
func SourceKey(ownerID, videoID, filename string) string {
	return fmt.Sprintf("uploads/%s/%s/%s", ownerID, videoID, SafeFilename(filename))
}

// ClipFilename names the index-th clip cut from a video.
func ClipFilename(videoID string, index int) string {
	return fmt.Sprintf("%s_clip_%d.mp4", videoID, index)
}

func ClipKey(ownerID, videoID, clipFilename string) string {
	return fmt.Sprintf("clips/%s/%s/%s", ownerID, videoID, clipFilename)
}

func ShortsKey(ownerID, videoID, clipFilename string) string {
	return fmt.Sprintf("shorts/%s/%s/shorts_%s", ownerID, videoID, clipFilename)
}

// SafeFilename keeps the base name and replaces characters that are awkward
// in object keys and URLs.
func SafeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return "video"
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "video"
	}
	return out
}
