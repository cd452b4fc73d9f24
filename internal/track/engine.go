// Package track holds the editing track: the clips of a workspace, their
// thumbnail sets, and the destructive mutations (split, audio extraction,
// removal) that replace clips on disk.
package track

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/freevideocut/cutagent/internal/fileutil"
	"github.com/freevideocut/cutagent/internal/jobs"
	"github.com/freevideocut/cutagent/internal/logging"
	"github.com/freevideocut/cutagent/internal/transcoder"
	"github.com/freevideocut/cutagent/internal/workspace"
)

var (
	ErrClipNotFound   = errors.New("clip not found")
	ErrClipBusy       = errors.New("clip is in use by a background job")
	ErrInvalidCutTime = errors.New("invalid cut time")
)

// Clip is a track clip as returned to callers right after it was created.
type Clip struct {
	ID          string
	VideoName   string
	ThumbnailID string
	Duration    float64
	HasAudio    bool

	// Thumbnails tracks the background thumbnail extraction.
	Thumbnails *jobs.Handle
}

// Split is the result of cutting one clip in two. Both clips share one
// thumbnail job.
type Split struct {
	First  *Clip
	Second *Clip
}

// Engine performs track mutations. Synchronous mutations within a
// workspace are serialized; clips referenced by a running background job
// are reserved and cannot be mutated until the job ends.
type Engine struct {
	layout workspace.Layout
	ids    *workspace.IDs
	tc     transcoder.Transcoder
	jobs   *jobs.Dispatcher
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	busy  map[clipKey]int
}

type clipKey struct {
	workspace string
	clip      string
}

func NewEngine(layout workspace.Layout, ids *workspace.IDs, tc transcoder.Transcoder, d *jobs.Dispatcher, logger *slog.Logger) *Engine {
	return &Engine{
		layout: layout,
		ids:    ids,
		tc:     tc,
		jobs:   d,
		logger: logging.WithComponent(logger, "track"),
		locks:  make(map[string]*sync.Mutex),
		busy:   make(map[clipKey]int),
	}
}

// lock takes the workspace mutation lock and returns its unlock.
func (e *Engine) lock(ws string) func() {
	e.mu.Lock()
	l, ok := e.locks[ws]
	if !ok {
		l = &sync.Mutex{}
		e.locks[ws] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (e *Engine) isBusy(ws, clipID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy[clipKey{ws, clipID}] > 0
}

// reserveLocked marks clips busy. The caller holds the workspace lock.
func (e *Engine) reserveLocked(ws string, clipIDs ...string) func() {
	e.mu.Lock()
	for _, id := range clipIDs {
		e.busy[clipKey{ws, id}]++
	}
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for _, id := range clipIDs {
				k := clipKey{ws, id}
				if e.busy[k]--; e.busy[k] <= 0 {
					delete(e.busy, k)
				}
			}
		})
	}
}

// Reserve marks clips as read by a background job so that split,
// extract-audio and remove refuse them until release is called. Every clip
// file must exist. Reservations are shared: several jobs may hold the same
// clip.
func (e *Engine) Reserve(ws string, clipIDs ...string) (release func(), err error) {
	if err := workspace.ValidateName(ws); err != nil {
		return nil, fmt.Errorf("%w: %q", err, ws)
	}
	unlock := e.lock(ws)
	defer unlock()

	for _, id := range clipIDs {
		if err := e.checkClip(ws, id); err != nil {
			return nil, err
		}
	}
	return e.reserveLocked(ws, clipIDs...), nil
}

func (e *Engine) checkClip(ws, clipID string) error {
	if err := workspace.ValidateName(clipID); err != nil {
		return fmt.Errorf("%w: clip %q", err, clipID)
	}
	if !fileutil.Exists(e.layout.ClipFile(ws, clipID)) {
		return fmt.Errorf("%w: %s", ErrClipNotFound, clipID)
	}
	return nil
}

// ownThumbnail returns the thumbnail set of clipID. Every clip owns the
// thumbnail directory named after it; naming any other set is rejected so a
// mutation can never delete thumbnails of a different clip. Empty means the
// clip's own set.
func ownThumbnail(clipID, thumbnailID string) (string, error) {
	if thumbnailID == "" || thumbnailID == clipID {
		return clipID, nil
	}
	return "", fmt.Errorf("%w: thumbnail %q does not belong to clip %q", workspace.ErrInvalidName, thumbnailID, clipID)
}

// releaseIfRejected frees a job's reservation when the dispatcher refused to
// run it, since the job body that would have released it never starts.
func releaseIfRejected(h *jobs.Handle, release func()) {
	if errors.Is(h.Err(), jobs.ErrClosed) {
		release()
	}
}

// takenStem reports whether stem collides with anything already on the
// track.
func (e *Engine) takenStem(ws string) func(string) bool {
	return func(stem string) bool {
		return fileutil.Exists(e.layout.ClipFile(ws, stem)) ||
			fileutil.Exists(e.layout.ThumbnailDir(ws, stem)) ||
			fileutil.Exists(e.layout.AudioFile(ws, stem))
	}
}

// AddClip copies an imported source onto the track as a new clip and starts
// extracting its thumbnails in the background. It returns once the clip
// file exists and has been probed.
func (e *Engine) AddClip(ctx context.Context, ws, importName string) (*Clip, error) {
	if err := validateNames(ws, importName); err != nil {
		return nil, err
	}
	src := e.layout.ImportFile(ws, importName)
	if !fileutil.Exists(src) {
		return nil, fmt.Errorf("%w: import %s", ErrClipNotFound, importName)
	}

	unlock := e.lock(ws)
	defer unlock()

	trackDir := e.layout.Dir(ws, workspace.RoleVideoTrack)
	if err := os.MkdirAll(trackDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", workspace.ErrFilesystem, err)
	}

	id := e.ids.NextFree(ws, e.takenStem(ws))
	thumbDir := e.layout.ThumbnailDir(ws, id)
	if err := os.MkdirAll(thumbDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", workspace.ErrFilesystem, err)
	}
	clipPath := e.layout.ClipFile(ws, id)
	if _, err := fileutil.CopyFile(src, clipPath); err != nil {
		os.RemoveAll(thumbDir)
		os.Remove(clipPath)
		return nil, fmt.Errorf("%w: copy import: %v", workspace.ErrFilesystem, err)
	}

	clip := e.probe(ctx, ws, id)
	release := e.reserveLocked(ws, id)
	clip.Thumbnails = e.jobs.Go(jobs.KindThumbnails, ws, id, func(ctx context.Context) error {
		defer release()
		return e.tc.ExtractThumbnails(ctx, clipPath, thumbDir)
	})
	releaseIfRejected(clip.Thumbnails, release)

	e.logger.Info("clip added",
		"workspace", ws,
		"clip", id,
		"import_name", importName,
		"duration", clip.Duration,
		"has_audio", clip.HasAudio,
	)
	return clip, nil
}

// probe fills in duration and audio presence. A failed duration probe
// degrades to 0.
func (e *Engine) probe(ctx context.Context, ws, id string) *Clip {
	path := e.layout.ClipFile(ws, id)
	duration, err := e.tc.ProbeDuration(ctx, path)
	if err != nil {
		e.logger.Warn("duration probe failed", "workspace", ws, "clip", id, "error", err)
		duration = 0
	}
	return &Clip{
		ID:          id,
		VideoName:   id + workspace.ClipExt,
		ThumbnailID: id,
		Duration:    duration,
		HasAudio:    e.tc.ProbeHasAudio(ctx, path),
	}
}

// SplitClip cuts clipID at cutTime into two new clips. The source clip and
// its thumbnail directory are removed only after both halves exist; on
// failure the source is left untouched.
func (e *Engine) SplitClip(ctx context.Context, ws, clipID, thumbnailID, cutTime string) (*Split, error) {
	thumbnailID, err := ownThumbnail(clipID, thumbnailID)
	if err != nil {
		return nil, err
	}
	if err := validateNames(ws, clipID, thumbnailID); err != nil {
		return nil, err
	}
	offset, err := ParseCutTime(cutTime)
	if err != nil {
		return nil, err
	}

	unlock := e.lock(ws)
	defer unlock()

	if err := e.checkClip(ws, clipID); err != nil {
		return nil, err
	}
	if e.isBusy(ws, clipID) {
		return nil, fmt.Errorf("%w: %s", ErrClipBusy, clipID)
	}

	src := e.layout.ClipFile(ws, clipID)
	if duration, err := e.tc.ProbeDuration(ctx, src); err == nil && duration > 0 && offset >= duration {
		return nil, fmt.Errorf("%w: %s is not before the clip end (%.3fs)", ErrInvalidCutTime, cutTime, duration)
	}

	taken := e.takenStem(ws)
	first := e.ids.NextFree(ws, taken)
	second := e.ids.NextFree(ws, taken)
	outA := e.layout.ClipFile(ws, first)
	outB := e.layout.ClipFile(ws, second)

	if err := e.tc.Split(ctx, src, formatOffset(offset), outA, outB); err != nil {
		os.Remove(outA)
		os.Remove(outB)
		return nil, fmt.Errorf("split %s at %s: %w", clipID, cutTime, err)
	}

	if err := os.Remove(src); err != nil {
		e.logger.Warn("remove split source failed", "workspace", ws, "clip", clipID, "error", err)
	}
	if err := os.RemoveAll(e.layout.ThumbnailDir(ws, thumbnailID)); err != nil {
		e.logger.Warn("remove split thumbnails failed", "workspace", ws, "thumbnail", thumbnailID, "error", err)
	}

	for _, id := range []string{first, second} {
		if err := os.MkdirAll(e.layout.ThumbnailDir(ws, id), 0755); err != nil {
			return nil, fmt.Errorf("%w: %v", workspace.ErrFilesystem, err)
		}
	}

	a := e.probe(ctx, ws, first)
	b := e.probe(ctx, ws, second)

	release := e.reserveLocked(ws, first, second)
	h := e.jobs.Go(jobs.KindThumbnails, ws, first+","+second, func(ctx context.Context) error {
		defer release()
		// each half is thumbnailed on its own; one failing never stops the other
		var g errgroup.Group
		errs := make([]error, 2)
		for i, id := range []string{first, second} {
			clip, dir := e.layout.ClipFile(ws, id), e.layout.ThumbnailDir(ws, id)
			g.Go(func() error {
				errs[i] = e.tc.ExtractThumbnails(ctx, clip, dir)
				return nil
			})
		}
		g.Wait()
		return errors.Join(errs...)
	})
	releaseIfRejected(h, release)
	a.Thumbnails, b.Thumbnails = h, h

	e.logger.Info("clip split",
		"workspace", ws,
		"clip", clipID,
		"cut_time", cutTime,
		"first", first,
		"second", second,
	)
	return &Split{First: a, Second: b}, nil
}

// ExtractAudio detaches the audio of clipID into <audioStem>.mp3 and
// replaces the clip with a muted copy. An empty audioStem uses the clip id.
// The clip file is swapped only once the muted copy is durable on disk.
func (e *Engine) ExtractAudio(ctx context.Context, ws, clipID, audioStem string) (string, error) {
	if audioStem == "" {
		audioStem = clipID
	}
	if err := validateNames(ws, clipID, audioStem); err != nil {
		return "", err
	}

	unlock := e.lock(ws)
	defer unlock()

	if err := e.checkClip(ws, clipID); err != nil {
		return "", err
	}
	if e.isBusy(ws, clipID) {
		return "", fmt.Errorf("%w: %s", ErrClipBusy, clipID)
	}

	clipPath := e.layout.ClipFile(ws, clipID)
	trackDir := e.layout.Dir(ws, workspace.RoleVideoTrack)

	audioPath := e.layout.AudioFile(ws, audioStem)
	partial := filepath.Join(trackDir, audioStem+".partial"+workspace.AudioExt)
	if err := e.tc.ExtractAudio(ctx, clipPath, partial); err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("extract audio from %s: %w", clipID, err)
	}
	if err := fileutil.ReplaceFile(partial, audioPath); err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("%w: publish audio: %v", workspace.ErrFilesystem, err)
	}

	muted := filepath.Join(trackDir, clipID+".partial.muted"+workspace.ClipExt)
	if err := e.tc.Mute(ctx, clipPath, muted); err != nil {
		os.Remove(muted)
		return "", fmt.Errorf("mute %s: %w", clipID, err)
	}
	if err := fileutil.ReplaceFile(muted, clipPath); err != nil {
		os.Remove(muted)
		return "", fmt.Errorf("%w: replace clip with muted copy: %v", workspace.ErrFilesystem, err)
	}

	audioName := audioStem + workspace.AudioExt
	e.logger.Info("audio extracted", "workspace", ws, "clip", clipID, "audio", audioName)
	return audioName, nil
}

// RemoveClip deletes a clip file and its thumbnail directory. Both
// deletions are attempted and every failure is reported.
func (e *Engine) RemoveClip(ctx context.Context, ws, clipID, thumbnailID string) error {
	thumbnailID, err := ownThumbnail(clipID, thumbnailID)
	if err != nil {
		return err
	}
	if err := validateNames(ws, clipID, thumbnailID); err != nil {
		return err
	}

	unlock := e.lock(ws)
	defer unlock()

	if e.isBusy(ws, clipID) {
		return fmt.Errorf("%w: %s", ErrClipBusy, clipID)
	}

	clipPath := e.layout.ClipFile(ws, clipID)
	thumbDir := e.layout.ThumbnailDir(ws, thumbnailID)
	if !fileutil.Exists(clipPath) && !fileutil.Exists(thumbDir) {
		return fmt.Errorf("%w: %s", ErrClipNotFound, clipID)
	}

	var errs []error
	if err := os.Remove(clipPath); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("remove clip file: %w", err))
	}
	if err := os.RemoveAll(thumbDir); err != nil {
		errs = append(errs, fmt.Errorf("remove thumbnails: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", workspace.ErrFilesystem, errors.Join(errs...))
	}

	e.logger.Info("clip removed", "workspace", ws, "clip", clipID)
	return nil
}

// ListThumbnails returns the thumbnail frames generated so far, sorted by
// frame number. While extraction is running the list may be partial.
func (e *Engine) ListThumbnails(ws, thumbnailID string) ([]string, error) {
	if err := validateNames(ws, thumbnailID); err != nil {
		return nil, err
	}

	dir := e.layout.ThumbnailDir(ws, thumbnailID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: thumbnails %s", ErrClipNotFound, thumbnailID)
		}
		return nil, fmt.Errorf("%w: %v", workspace.ErrFilesystem, err)
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func validateNames(names ...string) error {
	for _, n := range names {
		if err := workspace.ValidateName(n); err != nil {
			return fmt.Errorf("%w: %q", err, n)
		}
	}
	return nil
}
