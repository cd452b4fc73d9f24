package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Task is a cut task: one editing session backed by one workspace folder.
type Task struct {
	ID         int64     `json:"id"`
	FolderName string    `json:"folder_name"`
	CreateTime time.Time `json:"create_time"`
}

// ImportVideo records a source copied into a workspace import area.
type ImportVideo struct {
	ID           int64     `json:"id"`
	TaskID       int64     `json:"cut_task_id"`
	ImportName   string    `json:"import_name"`
	OriginalName string    `json:"original_name"`
	CreateTime   time.Time `json:"create_time"`
}

// VideoTrack is a clip placed on the track. Display orders clips on the
// timeline; StartTime and EndTime are the presentation layer's trim window.
type VideoTrack struct {
	ID        int64   `json:"id"`
	TaskID    int64   `json:"cut_task_id"`
	VideoName string  `json:"video_name"`
	Thumbnail string  `json:"thumbnail"`
	VideoTime float64 `json:"video_time"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	HasAudio  bool    `json:"has_audio"`
	Display   int     `json:"display"`
}

// ClipID is the track clip identifier, the video name without extension.
func (v *VideoTrack) ClipID() string {
	return strings.TrimSuffix(v.VideoName, ".mp4")
}

// AudioTrack is an audio clip detached from a video clip.
type AudioTrack struct {
	ID        int64   `json:"id"`
	TaskID    int64   `json:"cut_task_id"`
	AudioName string  `json:"audio_name"`
	AudioTime float64 `json:"audio_time"`
	StartTime float64 `json:"start_time"`
	Display   int     `json:"display"`
}

const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job is the persisted record of a background job.
type Job struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Workspace string    `json:"workspace"`
	Target    string    `json:"target,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ConfigKeyAuthToken holds the bearer token the command surface accepts.
const ConfigKeyAuthToken = "auth_token"

// NewFolderName returns a generated workspace folder name: a random UUID
// in hex without dashes.
func NewFolderName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
