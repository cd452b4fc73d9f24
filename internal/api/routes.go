package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/freevideocut/cutagent/internal/catalog"
	"github.com/freevideocut/cutagent/internal/export"
	"github.com/freevideocut/cutagent/internal/playback"
	"github.com/freevideocut/cutagent/internal/synthesis"
	"github.com/freevideocut/cutagent/internal/track"
	"github.com/freevideocut/cutagent/internal/transcoder"
	"github.com/freevideocut/cutagent/internal/workspace"
)

const (
	defaultJobsLimit = 50
	maxJobsLimit     = 500
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())
		r.Get("/workspaces/{ws}/media/*", mediaHandler(cfg))
		r.Head("/workspaces/{ws}/media/*", mediaHandler(cfg))
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/root", rootHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))

		r.Post("/workspaces", createTaskHandler(cfg))
		r.Get("/workspaces", listTasksHandler(cfg))

		r.Post("/workspaces/{ws}/imports", importHandler(cfg))
		r.Get("/workspaces/{ws}/imports", listImportsHandler(cfg))

		r.Post("/workspaces/{ws}/clips", addClipHandler(cfg))
		r.Get("/workspaces/{ws}/clips", listClipsHandler(cfg))
		r.Put("/workspaces/{ws}/clips", saveLayoutHandler(cfg))
		r.Get("/workspaces/{ws}/clips/{clip}/thumbnails", listThumbnailsHandler(cfg))
		r.Post("/workspaces/{ws}/clips/{clip}/split", splitClipHandler(cfg))
		r.Post("/workspaces/{ws}/clips/{clip}/audio", extractAudioHandler(cfg))
		r.Delete("/workspaces/{ws}/clips/{clip}", removeClipHandler(cfg))

		r.Get("/workspaces/{ws}/audio", listAudioHandler(cfg))

		r.Post("/workspaces/{ws}/synthesis", synthesizeHandler(cfg))
		r.Get("/workspaces/{ws}/synthesis/{name}", finalPathHandler(cfg))

		r.Post("/workspaces/{ws}/export/edl", exportEDLHandler(cfg))
	})

	return r
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return false
	}
	return true
}

// writeServiceError maps a domain error onto a status and error code.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, workspace.ErrInvalidName),
		errors.Is(err, track.ErrInvalidCutTime),
		errors.Is(err, synthesis.ErrNoClips),
		errors.Is(err, export.ErrNoEvents),
		errors.Is(err, export.ErrInvalidOutputDir):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	case errors.Is(err, catalog.ErrTaskNotFound),
		errors.Is(err, track.ErrClipNotFound),
		errors.Is(err, playback.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, playback.ErrForbidden):
		WriteError(w, http.StatusForbidden, err.Error(), "FORBIDDEN")
	case errors.Is(err, track.ErrClipBusy),
		errors.Is(err, synthesis.ErrSynthesisInProgress):
		WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
	case errors.Is(err, transcoder.ErrProbeFailed),
		errors.Is(err, transcoder.ErrSplitFailed),
		errors.Is(err, transcoder.ErrTranscodeFailed):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "TRANSCODE_FAILED")
	default:
		logger.Error("request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		tasks, _ := cfg.Service.ListTasks(ctx)
		recent, _ := cfg.Repository.ListJobs(ctx, 10)

		resp := StatusResponse{
			State:         "idle",
			Version:       Version,
			FFmpegVersion: cfg.FFmpegVersion,
			RootPath:      cfg.Service.RootPath(),
			TasksCount:    len(tasks),
			ActiveJobs:    []ActiveJobResponse{},
		}
		if cfg.Jobs != nil {
			for _, h := range cfg.Jobs.Active() {
				resp.ActiveJobs = append(resp.ActiveJobs, ActiveJobToResponse(h))
			}
		}
		resp.JobsRunning = len(resp.ActiveJobs)

		for _, j := range recent {
			if j.Status == catalog.JobStatusFailed {
				resp.LastError = j.Error
				break
			}
		}

		switch {
		case resp.JobsRunning > 0:
			resp.State = "busy"
		case resp.LastError != "":
			resp.State = "error"
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func rootHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, RootResponse{RootPath: cfg.Service.RootPath()})
	}
}

func createTaskHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTaskRequest
		if !decodeBody(w, r, &req) {
			return
		}

		task, err := cfg.Service.CreateTask(r.Context(), strings.TrimSpace(req.FolderName))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, TaskToResponse(task))
	}
}

func listTasksHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tasks, err := cfg.Service.ListTasks(r.Context())
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := TasksResponse{Tasks: make([]TaskResponse, len(tasks))}
		for i, t := range tasks {
			resp.Tasks[i] = TaskToResponse(t)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func importHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImportRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.SourcePath == "" {
			WriteError(w, http.StatusBadRequest, "source_path is required", "BAD_REQUEST")
			return
		}

		imp, err := cfg.Service.ImportVideo(r.Context(), chi.URLParam(r, "ws"), req.SourcePath)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, ImportToResponse(imp))
	}
}

func listImportsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		imports, err := cfg.Service.ListImports(r.Context(), chi.URLParam(r, "ws"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := ImportsResponse{Imports: make([]ImportResponse, len(imports))}
		for i, imp := range imports {
			resp.Imports[i] = ImportToResponse(imp)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func addClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddClipRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ImportName == "" {
			WriteError(w, http.StatusBadRequest, "import_name is required", "BAD_REQUEST")
			return
		}

		ws := chi.URLParam(r, "ws")
		clip, h, err := cfg.Service.AddToTrack(r.Context(), ws, req.ImportName)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := ClipJobResponse{Clips: []ClipResponse{ClipToResponse(ws, clip)}}
		if h != nil {
			resp.JobID = h.ID
		}
		WriteJSON(w, http.StatusCreated, resp)
	}
}

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := chi.URLParam(r, "ws")
		tracks, err := cfg.Service.ListTracks(r.Context(), ws)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := ClipsResponse{Clips: make([]ClipResponse, len(tracks))}
		for i, vt := range tracks {
			resp.Clips[i] = ClipToResponse(ws, vt)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func saveLayoutHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LayoutRequest
		if !decodeBody(w, r, &req) {
			return
		}

		entries := make([]catalog.LayoutEntry, len(req.Clips))
		for i, c := range req.Clips {
			if c.VideoName == "" {
				WriteError(w, http.StatusBadRequest, "video_name is required", "BAD_REQUEST")
				return
			}
			entries[i] = catalog.LayoutEntry{VideoName: c.VideoName, StartTime: c.StartTime, EndTime: c.EndTime}
		}

		ws := chi.URLParam(r, "ws")
		if err := cfg.Service.SaveLayout(r.Context(), ws, entries); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		listClipsHandler(cfg).ServeHTTP(w, r)
	}
}

func listThumbnailsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := chi.URLParam(r, "ws")
		thumbnailID := r.URL.Query().Get("thumbnail")
		if thumbnailID == "" {
			thumbnailID = chi.URLParam(r, "clip")
		}

		paths, err := cfg.Service.Thumbnails(ws, thumbnailID)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := ThumbnailsResponse{Thumbnails: make([]ThumbnailResponse, len(paths))}
		for i, p := range paths {
			resp.Thumbnails[i] = ThumbnailToResponse(ws, thumbnailID, p)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func splitClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SplitRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.CutTime == "" {
			WriteError(w, http.StatusBadRequest, "cut_time is required", "BAD_REQUEST")
			return
		}

		ws, clipID := chi.URLParam(r, "ws"), chi.URLParam(r, "clip")
		if req.Thumbnail == "" {
			req.Thumbnail = clipID
		}
		parts, h, err := cfg.Service.SplitTrack(r.Context(), ws, clipID, req.Thumbnail, req.CutTime)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := ClipJobResponse{Clips: make([]ClipResponse, len(parts))}
		for i, vt := range parts {
			resp.Clips[i] = ClipToResponse(ws, vt)
		}
		if h != nil {
			resp.JobID = h.ID
		}
		WriteJSON(w, http.StatusCreated, resp)
	}
}

func extractAudioHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExtractAudioRequest
		if !decodeBody(w, r, &req) {
			return
		}

		ws := chi.URLParam(r, "ws")
		at, err := cfg.Service.ExtractAudio(r.Context(), ws, chi.URLParam(r, "clip"), req.AudioStem)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusCreated, AudioToResponse(ws, at))
	}
}

func removeClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := cfg.Service.RemoveTrack(r.Context(), chi.URLParam(r, "ws"), chi.URLParam(r, "clip"), r.URL.Query().Get("thumbnail"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listAudioHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := chi.URLParam(r, "ws")
		tracks, err := cfg.Service.ListAudio(r.Context(), ws)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := AudioTracksResponse{Audio: make([]AudioResponse, len(tracks))}
		for i, at := range tracks {
			resp.Audio[i] = AudioToResponse(ws, at)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func synthesizeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SynthesisRequest
		if !decodeBody(w, r, &req) {
			return
		}

		// clips may be named by id or by video file name
		clipIDs := make([]string, len(req.Clips))
		for i, c := range req.Clips {
			clipIDs[i] = strings.TrimSuffix(c, workspace.ClipExt)
		}

		out, err := cfg.Service.Synthesize(r.Context(), chi.URLParam(r, "ws"), clipIDs)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, SynthesisResponse{Name: out.Name, JobID: out.Job.ID})
	}
}

func finalPathHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, name := chi.URLParam(r, "ws"), chi.URLParam(r, "name")
		if err := workspace.ValidateName(ws); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := FinalPathResponse{Name: name, Path: cfg.Service.FinalVideoPath(ws, name)}
		if resp.Path != "" {
			resp.Ready = true
			resp.MediaURL = mediaURL(ws, workspace.RoleFinalVideo, name)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func mediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws := chi.URLParam(r, "ws")
		rel := chi.URLParam(r, "*")
		if err := cfg.Media.ServeMedia(w, r, ws, rel); err != nil {
			writeServiceError(w, cfg.Logger, err)
		}
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultJobsLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, maxJobsLimit)
		}

		list, err := cfg.Service.ListJobs(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(list))}
		for i, j := range list {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		job, err := cfg.Service.GetJob(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}
