package export

import (
	"fmt"
	"math"
	"strings"
)

// Event is one highlight placed on the exported timeline. Times are seconds
// into the source video.
type Event struct {
	Name    string
	Source  string
	Start   float64
	End     float64
	Comment string
}

// DefaultFrameRate is used when the caller does not know the source rate.
const DefaultFrameRate = 30.0

// EDL renders events as a CMX3600 edit decision list. Events are laid end to
// end on the record side in the order given.
func EDL(title string, events []Event, frameRate float64) string {
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	fps := int(math.Round(frameRate))

	lines := []string{fmt.Sprintf("TITLE: %s", SanitizeName(title, 70))}
	if isDropFrame(frameRate) {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	var record float64
	for i, ev := range events {
		dur := ev.End - ev.Start
		if dur <= 0 {
			continue
		}
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "V",
				Timecode(ev.Start, fps), Timecode(ev.End, fps),
				Timecode(record, fps), Timecode(record+dur, fps)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", SanitizeName(ev.Name, 120)),
		)
		if ev.Source != "" {
			lines = append(lines, fmt.Sprintf("* SOURCE FILE:  %s", ev.Source))
		}
		if c := SanitizeName(ev.Comment, 200); c != "" {
			lines = append(lines, fmt.Sprintf("* COMMENT:  %s", c))
		}
		record += dur
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func isDropFrame(rate float64) bool {
	return math.Abs(rate-29.97) < 0.01 || math.Abs(rate-59.94) < 0.01
}

// Timecode formats seconds as HH:MM:SS:FF at fps frames per second.
func Timecode(seconds float64, fps int) string {
	if fps <= 0 {
		fps = int(DefaultFrameRate)
	}
	if seconds < 0 {
		seconds = 0
	}
	totalFrames := int(math.Round(seconds * float64(fps)))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	secs := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", totalMinutes/60, totalMinutes%60, secs, frames)
}
