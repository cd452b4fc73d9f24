package api

import (
	"path"
	"path/filepath"
	"time"

	"github.com/freevideocut/cutagent/internal/catalog"
	"github.com/freevideocut/cutagent/internal/jobs"
	"github.com/freevideocut/cutagent/internal/workspace"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State         string              `json:"state"`
	Version       string              `json:"version"`
	FFmpegVersion string              `json:"ffmpeg_version,omitempty"`
	RootPath      string              `json:"root_path"`
	TasksCount    int                 `json:"tasks_count"`
	JobsRunning   int                 `json:"jobs_running"`
	ActiveJobs    []ActiveJobResponse `json:"active_jobs"`
	LastError     string              `json:"last_error,omitempty"`
}

type ActiveJobResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Workspace string `json:"workspace"`
	Target    string `json:"target,omitempty"`
	StartedAt string `json:"started_at"`
}

type RootResponse struct {
	RootPath string `json:"root_path"`
}

type CreateTaskRequest struct {
	FolderName string `json:"folder_name,omitempty"`
}

type TaskResponse struct {
	ID         int64  `json:"id"`
	FolderName string `json:"folder_name"`
	CreateTime string `json:"create_time"`
}

type TasksResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

type ImportRequest struct {
	SourcePath string `json:"source_path"`
}

type ImportResponse struct {
	ID           int64  `json:"id"`
	ImportName   string `json:"import_name"`
	OriginalName string `json:"original_name"`
	CreateTime   string `json:"create_time"`
}

type ImportsResponse struct {
	Imports []ImportResponse `json:"imports"`
}

type AddClipRequest struct {
	ImportName string `json:"import_name"`
}

type ClipResponse struct {
	ID        int64   `json:"id"`
	ClipID    string  `json:"clip_id"`
	VideoName string  `json:"video_name"`
	Thumbnail string  `json:"thumbnail"`
	VideoTime float64 `json:"video_time"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	HasAudio  bool    `json:"has_audio"`
	Display   int     `json:"display"`
	MediaURL  string  `json:"media_url"`
}

type ClipsResponse struct {
	Clips []ClipResponse `json:"clips"`
}

// ClipJobResponse returns new clips together with the job extracting their
// thumbnails.
type ClipJobResponse struct {
	Clips []ClipResponse `json:"clips"`
	JobID string         `json:"job_id,omitempty"`
}

type LayoutRequest struct {
	Clips []LayoutClip `json:"clips"`
}

type LayoutClip struct {
	VideoName string  `json:"video_name"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

type SplitRequest struct {
	Thumbnail string `json:"thumbnail"`
	CutTime   string `json:"cut_time"`
}

type ExtractAudioRequest struct {
	AudioStem string `json:"audio_stem,omitempty"`
}

type AudioResponse struct {
	ID        int64   `json:"id"`
	AudioName string  `json:"audio_name"`
	AudioTime float64 `json:"audio_time"`
	StartTime float64 `json:"start_time"`
	Display   int     `json:"display"`
	MediaURL  string  `json:"media_url"`
}

type AudioTracksResponse struct {
	Audio []AudioResponse `json:"audio"`
}

type ThumbnailResponse struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	MediaURL string `json:"media_url"`
}

type ThumbnailsResponse struct {
	Thumbnails []ThumbnailResponse `json:"thumbnails"`
}

type SynthesisRequest struct {
	Clips []string `json:"clips"`
}

type SynthesisResponse struct {
	Name  string `json:"name"`
	JobID string `json:"job_id"`
}

// FinalPathResponse reports a synthesis output. Path stays empty until the
// output is completely written.
type FinalPathResponse struct {
	Name     string `json:"name"`
	Ready    bool   `json:"ready"`
	Path     string `json:"path"`
	MediaURL string `json:"media_url,omitempty"`
}

type JobResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Workspace string `json:"workspace"`
	Target    string `json:"target,omitempty"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// mediaURL is the media route path for a file inside workspace ws.
func mediaURL(ws string, role workspace.Role, elems ...string) string {
	return path.Join(append([]string{"/workspaces", ws, "media", string(role)}, elems...)...)
}

func TaskToResponse(t *catalog.Task) TaskResponse {
	return TaskResponse{
		ID:         t.ID,
		FolderName: t.FolderName,
		CreateTime: t.CreateTime.Format(time.RFC3339),
	}
}

func ImportToResponse(i *catalog.ImportVideo) ImportResponse {
	return ImportResponse{
		ID:           i.ID,
		ImportName:   i.ImportName,
		OriginalName: i.OriginalName,
		CreateTime:   i.CreateTime.Format(time.RFC3339),
	}
}

func ClipToResponse(ws string, v *catalog.VideoTrack) ClipResponse {
	return ClipResponse{
		ID:        v.ID,
		ClipID:    v.ClipID(),
		VideoName: v.VideoName,
		Thumbnail: v.Thumbnail,
		VideoTime: v.VideoTime,
		StartTime: v.StartTime,
		EndTime:   v.EndTime,
		HasAudio:  v.HasAudio,
		Display:   v.Display,
		MediaURL:  mediaURL(ws, workspace.RoleVideoTrack, v.VideoName),
	}
}

func AudioToResponse(ws string, a *catalog.AudioTrack) AudioResponse {
	return AudioResponse{
		ID:        a.ID,
		AudioName: a.AudioName,
		AudioTime: a.AudioTime,
		StartTime: a.StartTime,
		Display:   a.Display,
		MediaURL:  mediaURL(ws, workspace.RoleVideoTrack, a.AudioName),
	}
}

func ThumbnailToResponse(ws, thumbnailID, filePath string) ThumbnailResponse {
	name := filepath.Base(filePath)
	return ThumbnailResponse{
		Name:     name,
		Path:     filePath,
		MediaURL: mediaURL(ws, workspace.RoleVideoTrack, thumbnailID, name),
	}
}

func JobToResponse(j *catalog.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Type:      j.Type,
		Status:    j.Status,
		Workspace: j.Workspace,
		Target:    j.Target,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
}

func ActiveJobToResponse(h *jobs.Handle) ActiveJobResponse {
	return ActiveJobResponse{
		ID:        h.ID,
		Type:      h.Kind,
		Workspace: h.Workspace,
		Target:    h.Target,
		StartedAt: h.CreatedAt.Format(time.RFC3339),
	}
}
