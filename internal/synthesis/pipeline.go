// Package synthesis merges track clips into the workspace's final video.
// The final area holds at most one output; its ok.txt sentinel appears only
// once that output is completely written.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/freevideocut/cutagent/internal/fileutil"
	"github.com/freevideocut/cutagent/internal/jobs"
	"github.com/freevideocut/cutagent/internal/logging"
	"github.com/freevideocut/cutagent/internal/transcoder"
	"github.com/freevideocut/cutagent/internal/workspace"
)

// SentinelContent is written to ok.txt when an output is published.
const SentinelContent = "file generate success"

var (
	ErrNoClips             = errors.New("no clips to synthesize")
	ErrSynthesisInProgress = errors.New("synthesis already in progress")
)

// ClipReserver marks clips as in use for the lifetime of a background job.
type ClipReserver interface {
	Reserve(ws string, clipIDs ...string) (release func(), err error)
}

// Output identifies a synthesis that has been started.
type Output struct {
	Name string
	Job  *jobs.Handle
}

type Pipeline struct {
	layout workspace.Layout
	ids    *workspace.IDs
	tc     transcoder.Transcoder
	jobs   *jobs.Dispatcher
	clips  ClipReserver
	logger *slog.Logger
}

func NewPipeline(layout workspace.Layout, ids *workspace.IDs, tc transcoder.Transcoder, d *jobs.Dispatcher, clips ClipReserver, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		layout: layout,
		ids:    ids,
		tc:     tc,
		jobs:   d,
		clips:  clips,
		logger: logging.WithComponent(logger, "synthesis"),
	}
}

// Synthesize clears the final area and starts concatenating clipIDs, in
// order, into a new output. It returns the output name immediately; poll
// QueryFinalPath for completion. Only one synthesis per workspace runs at a
// time.
func (p *Pipeline) Synthesize(ctx context.Context, ws string, clipIDs []string) (*Output, error) {
	if err := workspace.ValidateName(ws); err != nil {
		return nil, fmt.Errorf("%w: %q", err, ws)
	}
	if len(clipIDs) == 0 {
		return nil, ErrNoClips
	}

	finalDir := p.layout.Dir(ws, workspace.RoleFinalVideo)
	if err := os.MkdirAll(finalDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", workspace.ErrFilesystem, err)
	}

	lock := flock.New(p.layout.SynthesisLock(ws))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: acquire synthesis lock: %v", workspace.ErrFilesystem, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSynthesisInProgress, ws)
	}
	unlock := func() {
		if err := lock.Unlock(); err != nil {
			p.logger.Warn("release synthesis lock failed", "workspace", ws, "error", err)
		}
	}

	release, err := p.clips.Reserve(ws, clipIDs...)
	if err != nil {
		unlock()
		return nil, err
	}

	if err := clearDir(finalDir); err != nil {
		release()
		unlock()
		return nil, fmt.Errorf("%w: clear final area: %v", workspace.ErrFilesystem, err)
	}

	stem := p.ids.Next(ws)
	name := stem + workspace.ClipExt
	inputs := make([]string, len(clipIDs))
	for i, id := range clipIDs {
		inputs[i] = p.layout.ClipFile(ws, id)
	}

	h := p.jobs.Go(jobs.KindSynthesis, ws, name, func(ctx context.Context) error {
		defer unlock()
		defer release()
		return p.merge(ctx, ws, stem, inputs)
	})
	if errors.Is(h.Err(), jobs.ErrClosed) {
		release()
		unlock()
	}

	p.logger.Info("synthesis started", "workspace", ws, "output", name, "clips", len(clipIDs), "job_id", h.ID)
	return &Output{Name: name, Job: h}, nil
}

// merge writes the concatenation to a partial file, publishes it under its
// final name and then writes the sentinel.
func (p *Pipeline) merge(ctx context.Context, ws, stem string, inputs []string) error {
	partial := p.layout.FinalFile(ws, stem+".partial"+workspace.ClipExt)
	final := p.layout.FinalFile(ws, stem+workspace.ClipExt)

	if err := p.tc.Concat(ctx, inputs, partial); err != nil {
		os.Remove(partial)
		return fmt.Errorf("concat %d clips: %w", len(inputs), err)
	}
	if err := fileutil.ReplaceFile(partial, final); err != nil {
		os.Remove(partial)
		return fmt.Errorf("%w: publish output: %v", workspace.ErrFilesystem, err)
	}
	if err := fileutil.WriteFileAtomic(p.layout.Sentinel(ws), []byte(SentinelContent)); err != nil {
		return fmt.Errorf("%w: write sentinel: %v", workspace.ErrFilesystem, err)
	}

	p.logger.Info("synthesis complete", "workspace", ws, "output", filepath.Base(final))
	return nil
}

// QueryFinalPath returns the absolute path of the named output once the
// sentinel exists, or "" while synthesis is running or when name is not a
// plain file name.
func (p *Pipeline) QueryFinalPath(ws, name string) string {
	if workspace.ValidateName(ws) != nil || workspace.ValidateName(name) != nil {
		return ""
	}
	if !fileutil.Exists(p.layout.Sentinel(ws)) {
		return ""
	}
	return p.layout.FinalFile(ws, name)
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
