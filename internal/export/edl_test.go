package export

import (
	"strings"
	"testing"
)

func TestEDL_SingleEvent(t *testing.T) {
	events := []Event{{
		Name:    "clip_001.mp4",
		Source:  "talk.mp4",
		Start:   0,
		End:     2,
		Comment: "Strong opening question",
	}}

	edl := EDL("Conference Talk", events, 30)

	for _, want := range []string{
		"TITLE: Conference Talk",
		"FCM: NON-DROP FRAME",
		"001  AX       V     C        00:00:00:00 00:00:02:00 00:00:00:00 00:00:02:00",
		"* FROM CLIP NAME:  clip_001.mp4",
		"* SOURCE FILE:  talk.mp4",
		"* COMMENT:  Strong opening question",
	} {
		if !strings.Contains(edl, want) {
			t.Fatalf("EDL missing %q:\n%s", want, edl)
		}
	}
}

func TestEDL_RecordSideIsContiguous(t *testing.T) {
	events := []Event{
		{Name: "a", Start: 10, End: 11},
		{Name: "b", Start: 40, End: 41.5},
	}

	edl := EDL("Multi", events, 30)

	if !strings.Contains(edl, "001  AX       V     C        00:00:10:00 00:00:11:00 00:00:00:00 00:00:01:00") {
		t.Fatalf("first event mismatch:\n%s", edl)
	}
	if !strings.Contains(edl, "002  AX       V     C        00:00:40:00 00:00:41:15 00:00:01:00 00:00:02:15") {
		t.Fatalf("second event mismatch:\n%s", edl)
	}
}

func TestEDL_DropFrameAndDefaults(t *testing.T) {
	events := []Event{{Name: "x", Start: 0, End: 1}}

	if edl := EDL("Drop", events, 29.97); !strings.Contains(edl, "FCM: DROP FRAME") {
		t.Fatalf("expected drop frame FCM:\n%s", edl)
	}
	if edl := EDL("Default", events, 0); !strings.Contains(edl, "00:00:00:00 00:00:01:00") {
		t.Fatalf("zero rate should fall back to 30fps:\n%s", edl)
	}
}

func TestEDL_SkipsEmptyEvents(t *testing.T) {
	edl := EDL("Empty", []Event{{Name: "bad", Start: 5, End: 5}}, 30)
	if strings.Contains(edl, "001") {
		t.Fatalf("zero-length event was written:\n%s", edl)
	}
}

func TestTimecode(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		fps     int
		want    string
	}{
		{"zero", 0, 30, "00:00:00:00"},
		{"one second", 1, 30, "00:00:01:00"},
		{"half second", 0.5, 30, "00:00:00:15"},
		{"one minute", 60, 30, "00:01:00:00"},
		{"one hour", 3600, 30, "01:00:00:00"},
		{"25fps", 1.2, 25, "00:00:01:05"},
		{"negative clamps", -3, 30, "00:00:00:00"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Timecode(tc.seconds, tc.fps); got != tc.want {
				t.Fatalf("Timecode(%v, %d) = %q, want %q", tc.seconds, tc.fps, got, tc.want)
			}
		})
	}
}
