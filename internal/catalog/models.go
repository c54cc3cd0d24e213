package catalog

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

type VideoStatus string

const (
	VideoQueued     VideoStatus = "QUEUED"
	VideoProcessing VideoStatus = "PROCESSING"
	VideoCompleted  VideoStatus = "COMPLETED"
	VideoFailed     VideoStatus = "FAILED"
)

type ConversionStatus string

const (
	ConversionNone       ConversionStatus = "NONE"
	ConversionProcessing ConversionStatus = "PROCESSING"
	ConversionReady      ConversionStatus = "READY"
)

type TaskKind string

const (
	TaskExtraction TaskKind = "EXTRACTION"
	TaskConversion TaskKind = "CONVERSION"
)

type TaskStatus string

const (
	TaskPending TaskStatus = "PENDING"
	TaskStarted TaskStatus = "STARTED"
	TaskSuccess TaskStatus = "SUCCESS"
	TaskFailure TaskStatus = "FAILURE"
)

// Terminal reports whether no further transition is allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskSuccess || s == TaskFailure
}

// allowedFrom lists the source states from which a task may move to each target.
var allowedFrom = map[TaskStatus][]TaskStatus{
	TaskStarted: {TaskPending},
	TaskSuccess: {TaskStarted},
	TaskFailure: {TaskPending, TaskStarted},
}

// CanTransition reports whether from -> to is a legal task transition.
func CanTransition(from, to TaskStatus) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Layouts supported by the shorts conversion.
const (
	LayoutCenterCrop = "center_crop"
	LayoutBlurred    = "blurred"
	LayoutSmart      = "smart"
)

func ValidLayout(layout string) bool {
	switch layout {
	case LayoutCenterCrop, LayoutBlurred, LayoutSmart:
		return true
	}
	return false
}

type Video struct {
	ID        string      `json:"id"`
	OwnerID   string      `json:"owner_id"`
	Filename  string      `json:"filename"`
	SourceURL string      `json:"source_url,omitempty"`
	SourceKey string      `json:"source_key,omitempty"`
	Status    VideoStatus `json:"status"`
	TaskID    string      `json:"task_id"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`

	// Clips is populated by readers that join clips; rank order.
	Clips []*Clip `json:"clips,omitempty"`
}

type Clip struct {
	ID               string           `json:"id"`
	VideoID          string           `json:"video_id"`
	Position         int              `json:"position"`
	Filename         string           `json:"filename"`
	StorageKey       string           `json:"storage_key"`
	ShortsKey        string           `json:"shorts_key,omitempty"`
	Layout           string           `json:"layout,omitempty"`
	Reason           string           `json:"reason"`
	HookType         string           `json:"hook_type,omitempty"`
	ViralityScore    float64          `json:"virality_score,omitempty"`
	Start            float64          `json:"start"`
	End              float64          `json:"end"`
	ConversionStatus ConversionStatus `json:"conversion_status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

func (c *Clip) Duration() float64 {
	return c.End - c.Start
}

type Task struct {
	ID        string     `json:"id"`
	Kind      TaskKind   `json:"kind"`
	SubjectID string     `json:"subject_id"`
	Status    TaskStatus `json:"status"`
	Params    string     `json:"params,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SearchSegment is one embedded transcript segment of a video's index.
type SearchSegment struct {
	Position  int       `json:"position"`
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
	Text      string    `json:"text"`
	Embedding []float64 `json:"-"`
}

// SearchIndex is the per-video header row plus its segments.
type SearchIndex struct {
	VideoID   string
	Model     string
	Dims      int
	CreatedAt time.Time
	Segments  []SearchSegment
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	Kind          TaskKind
	Statuses      []TaskStatus
	UpdatedBefore time.Time
	Limit         int
}

var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".m4v":  true,
}

func NewID() string {
	return uuid.NewString()
}

func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(path.Ext(filename))]
}
