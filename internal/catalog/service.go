package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/freevideocut/cutagent/internal/export"
	"github.com/freevideocut/cutagent/internal/fileutil"
	"github.com/freevideocut/cutagent/internal/jobs"
	"github.com/freevideocut/cutagent/internal/logging"
	"github.com/freevideocut/cutagent/internal/synthesis"
	"github.com/freevideocut/cutagent/internal/track"
	"github.com/freevideocut/cutagent/internal/workspace"
)

var ErrTaskNotFound = errors.New("cut task not found")

// LayoutEntry is one clip's position and trim window on the timeline.
type LayoutEntry struct {
	VideoName string
	StartTime float64
	EndTime   float64
}

// Service runs editing commands against the workspace, track and synthesis
// layers and keeps the metadata store in step with what they did on disk.
type Service struct {
	repo      Repository
	workspace *workspace.Manager
	engine    *track.Engine
	synth     *synthesis.Pipeline
	logger    *slog.Logger
}

func NewService(repo Repository, ws *workspace.Manager, engine *track.Engine, synth *synthesis.Pipeline, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		workspace: ws,
		engine:    engine,
		synth:     synth,
		logger:    logging.WithComponent(logger, "catalog"),
	}
}

// RootPath returns the root storage location holding every workspace.
func (s *Service) RootPath() string {
	return s.workspace.Layout().Root
}

// CreateTask creates the workspace tree and its cut task record. An empty
// folderName gets a generated one. Creating an existing task returns it.
func (s *Service) CreateTask(ctx context.Context, folderName string) (*Task, error) {
	if folderName == "" {
		folderName = NewFolderName()
	}
	if err := s.workspace.CreateWorkspace(folderName); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetTaskByFolder(ctx, folderName)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	task := &Task{FolderName: folderName, CreateTime: time.Now().UTC()}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("record task: %w", err)
	}
	s.logger.Info("cut task created", "workspace", folderName, "task_id", task.ID)
	return task, nil
}

func (s *Service) ListTasks(ctx context.Context) ([]*Task, error) {
	return s.repo.ListTasks(ctx)
}

func (s *Service) task(ctx context.Context, ws string) (*Task, error) {
	if err := workspace.ValidateName(ws); err != nil {
		return nil, fmt.Errorf("%w: %q", err, ws)
	}
	t, err := s.repo.GetTaskByFolder(ctx, ws)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, ws)
	}
	return t, nil
}

// ImportVideo copies sourcePath into the workspace and records it.
func (s *Service) ImportVideo(ctx context.Context, ws, sourcePath string) (*ImportVideo, error) {
	t, err := s.task(ctx, ws)
	if err != nil {
		return nil, err
	}
	name, err := s.workspace.ImportSource(sourcePath, ws)
	if err != nil {
		return nil, err
	}

	imp := &ImportVideo{
		TaskID:       t.ID,
		ImportName:   name,
		OriginalName: filepath.Base(sourcePath),
		CreateTime:   time.Now().UTC(),
	}
	if err := s.repo.CreateImport(ctx, imp); err != nil {
		return nil, fmt.Errorf("record import: %w", err)
	}
	return imp, nil
}

func (s *Service) ListImports(ctx context.Context, ws string) ([]*ImportVideo, error) {
	t, err := s.task(ctx, ws)
	if err != nil {
		return nil, err
	}
	return s.repo.ListImports(ctx, t.ID)
}

// AddToTrack appends an imported source to the end of the track.
func (s *Service) AddToTrack(ctx context.Context, ws, importName string) (*VideoTrack, *jobs.Handle, error) {
	t, err := s.task(ctx, ws)
	if err != nil {
		return nil, nil, err
	}
	clip, err := s.engine.AddClip(ctx, ws, importName)
	if err != nil {
		return nil, nil, err
	}

	rctx, cancel := recordContext(ctx)
	defer cancel()

	display, err := s.repo.NextDisplay(rctx, t.ID)
	if err != nil {
		return nil, clip.Thumbnails, err
	}
	vt := fromClip(clip)
	vt.TaskID = t.ID
	vt.Display = display
	if err := s.repo.CreateVideoTrack(rctx, vt); err != nil {
		return nil, clip.Thumbnails, fmt.Errorf("record track clip: %w", err)
	}
	return vt, clip.Thumbnails, nil
}

func fromClip(c *track.Clip) *VideoTrack {
	return &VideoTrack{
		VideoName: c.VideoName,
		Thumbnail: c.ThumbnailID,
		VideoTime: c.Duration,
		StartTime: 0,
		EndTime:   c.Duration,
		HasAudio:  c.HasAudio,
	}
}

// SplitTrack cuts a clip in two; the halves take its place on the timeline.
func (s *Service) SplitTrack(ctx context.Context, ws, clipID, thumbnailID, cutTime string) ([]*VideoTrack, *jobs.Handle, error) {
	t, err := s.task(ctx, ws)
	if err != nil {
		return nil, nil, err
	}
	split, err := s.engine.SplitClip(ctx, ws, clipID, thumbnailID, cutTime)
	if err != nil {
		return nil, nil, err
	}

	// the clip is already replaced on disk; a dropped request must not skip
	// the record
	rctx, cancel := recordContext(ctx)
	defer cancel()

	parts := []*VideoTrack{fromClip(split.First), fromClip(split.Second)}
	if err := s.repo.ReplaceVideoTrack(rctx, t.ID, clipID+workspace.ClipExt, parts); err != nil {
		return nil, split.First.Thumbnails, fmt.Errorf("record split: %w", err)
	}
	return parts, split.First.Thumbnails, nil
}

// ExtractAudio detaches a clip's audio into an audio track entry aligned
// with the clip.
func (s *Service) ExtractAudio(ctx context.Context, ws, clipID, audioStem string) (*AudioTrack, error) {
	t, err := s.task(ctx, ws)
	if err != nil {
		return nil, err
	}
	name, err := s.engine.ExtractAudio(ctx, ws, clipID, audioStem)
	if err != nil {
		return nil, err
	}

	rctx, cancel := recordContext(ctx)
	defer cancel()

	videoName := clipID + workspace.ClipExt
	if err := s.repo.UpdateVideoTrackAudio(rctx, t.ID, videoName, false); err != nil {
		return nil, fmt.Errorf("record muted clip: %w", err)
	}

	at := &AudioTrack{TaskID: t.ID, AudioName: name}
	vt, err := s.repo.GetVideoTrack(rctx, t.ID, videoName)
	if err != nil {
		return nil, err
	}
	if vt != nil {
		at.AudioTime = vt.VideoTime
		at.StartTime = vt.StartTime
		at.Display = vt.Display
	}
	if err := s.repo.CreateAudioTrack(rctx, at); err != nil {
		return nil, fmt.Errorf("record audio track: %w", err)
	}
	return at, nil
}

// recordContext detaches ctx from cancellation for the writes that follow a
// finished disk mutation, bounded by recordTimeout.
func recordContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
}

// RemoveTrack deletes a clip from disk and from the track.
func (s *Service) RemoveTrack(ctx context.Context, ws, clipID, thumbnailID string) error {
	t, err := s.task(ctx, ws)
	if err != nil {
		return err
	}
	if thumbnailID == "" {
		thumbnailID = clipID
	}
	removeErr := s.engine.RemoveClip(ctx, ws, clipID, thumbnailID)
	if removeErr != nil && !errors.Is(removeErr, workspace.ErrFilesystem) && !errors.Is(removeErr, track.ErrClipNotFound) {
		return removeErr
	}
	rctx, cancel := recordContext(ctx)
	defer cancel()

	// clips already gone from disk, fully or partly, still leave the track
	if err := s.repo.DeleteVideoTrack(rctx, t.ID, clipID+workspace.ClipExt); err != nil {
		return errors.Join(removeErr, fmt.Errorf("delete track record: %w", err))
	}
	return removeErr
}

// SaveLayout stores the order and trim windows of the track, in entry
// order.
func (s *Service) SaveLayout(ctx context.Context, ws string, entries []LayoutEntry) error {
	t, err := s.task(ctx, ws)
	if err != nil {
		return err
	}
	for i, e := range entries {
		if e.EndTime < e.StartTime {
			return fmt.Errorf("%w: %s ends before it starts", track.ErrInvalidCutTime, e.VideoName)
		}
		if err := s.repo.UpdateVideoTrackLayout(ctx, t.ID, e.VideoName, e.StartTime, e.EndTime, i); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) ListTracks(ctx context.Context, ws string) ([]*VideoTrack, error) {
	t, err := s.task(ctx, ws)
	if err != nil {
		return nil, err
	}
	return s.repo.ListVideoTracks(ctx, t.ID)
}

func (s *Service) ListAudio(ctx context.Context, ws string) ([]*AudioTrack, error) {
	t, err := s.task(ctx, ws)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAudioTracks(ctx, t.ID)
}

func (s *Service) Thumbnails(ws, thumbnailID string) ([]string, error) {
	return s.engine.ListThumbnails(ws, thumbnailID)
}

// Synthesize starts merging clips in the given order.
func (s *Service) Synthesize(ctx context.Context, ws string, clipIDs []string) (*synthesis.Output, error) {
	if _, err := s.task(ctx, ws); err != nil {
		return nil, err
	}
	return s.synth.Synthesize(ctx, ws, clipIDs)
}

func (s *Service) FinalVideoPath(ws, name string) string {
	return s.synth.QueryFinalPath(ws, name)
}

// ExportEDL renders the track layout as an edit decision list, each clip
// trimmed to its saved window. With an output dir set the list is also
// written there as <title>.edl.
func (s *Service) ExportEDL(ctx context.Context, ws string, req export.Request) (*export.Result, error) {
	tracks, err := s.ListTracks(ctx, ws)
	if err != nil {
		return nil, err
	}
	if req.OutputDir != "" {
		if err := export.ValidateOutputDir(req.OutputDir); err != nil {
			return nil, err
		}
	}

	title := export.SanitizeName(req.Title, 120)
	if title == "" {
		title = ws
	}
	frameRate := req.FrameRate
	if frameRate <= 0 {
		frameRate = export.DefaultFrameRate
	}

	layout := s.workspace.Layout()
	events := make([]export.Event, 0, len(tracks))
	for _, vt := range tracks {
		in, out := vt.StartTime, vt.EndTime
		if out <= in {
			in, out = 0, vt.VideoTime
		}
		if out <= in {
			continue
		}
		events = append(events, export.Event{
			Reel:      vt.ClipID(),
			ClipName:  vt.VideoName,
			MediaPath: layout.ClipFile(ws, vt.ClipID()),
			In:        in,
			Out:       out,
			Audio:     vt.HasAudio,
		})
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", export.ErrNoEvents, ws)
	}

	res := &export.Result{
		Title:      title,
		FrameRate:  frameRate,
		EventCount: len(events),
		EDL:        export.GenerateEDL(events, title, frameRate),
	}
	if req.OutputDir != "" {
		res.OutputPath = filepath.Join(req.OutputDir, title+".edl")
		if err := fileutil.WriteFileAtomic(res.OutputPath, []byte(res.EDL)); err != nil {
			return nil, fmt.Errorf("write edl: %w", err)
		}
	}
	s.logger.Info("track exported", "workspace", ws, "events", len(events), "output", logging.SanitizePath(res.OutputPath))
	return res, nil
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}
