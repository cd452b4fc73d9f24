// Package transcodertest provides an in-process Transcoder for tests.
//
// Media files handled by Fake are small text files of the form
// "<seconds>" or "<seconds> audio". Probing parses that text, and every
// transform writes files in the same format, so durations and audio
// presence can be checked end to end without ffmpeg.
package transcodertest

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/freevideocut/cutagent/internal/transcoder"
)

// WriteMedia writes a fake media file.
func WriteMedia(path string, seconds float64, audio bool) error {
	content := strconv.FormatFloat(seconds, 'f', -1, 64)
	if audio {
		content += " audio"
	}
	return os.WriteFile(path, []byte(content), 0644)
}

// Fake implements transcoder.Transcoder over fake media files.
type Fake struct {
	// Gate, when non-nil, holds ExtractThumbnails and Concat until it is
	// closed.
	Gate chan struct{}

	SplitErr  error
	AudioErr  error
	MuteErr   error
	ConcatErr error

	ThumbnailInterval float64 // seconds per frame; 0 means 5

	mu    sync.Mutex
	calls []string
}

var _ transcoder.Transcoder = (*Fake)(nil)

func New() *Fake {
	return &Fake{}
}

// Calls returns the operation names invoked so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) record(op string) {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()
}

func (f *Fake) wait(ctx context.Context) error {
	if f.Gate == nil {
		return nil
	}
	select {
	case <-f.Gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func read(path string) (float64, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, false, fmt.Errorf("empty media file")
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false, err
	}
	return seconds, len(fields) > 1 && fields[1] == "audio", nil
}

func fail(op, path string, kind, err error) error {
	return &transcoder.Error{Op: op, Path: path, ExitCode: 1, Kind: kind, Err: err}
}

func (f *Fake) ProbeDuration(ctx context.Context, path string) (float64, error) {
	f.record("probe_duration")
	seconds, _, err := read(path)
	if err != nil {
		return 0, fail("probe duration", path, transcoder.ErrProbeFailed, err)
	}
	return seconds, nil
}

func (f *Fake) ProbeHasAudio(ctx context.Context, path string) bool {
	f.record("probe_audio")
	_, audio, err := read(path)
	return err == nil && audio
}

func (f *Fake) ExtractThumbnails(ctx context.Context, path, dir string) error {
	f.record("thumbnails")
	if err := f.wait(ctx); err != nil {
		return err
	}
	seconds, _, err := read(path)
	if err != nil {
		return fail("extract thumbnails", path, transcoder.ErrTranscodeFailed, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	interval := f.ThumbnailInterval
	if interval <= 0 {
		interval = 5
	}
	frames := int(math.Ceil(seconds / interval))
	for i := 1; i <= frames; i++ {
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("%04d.png", i)), []byte("png"), 0644); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fake) Split(ctx context.Context, path, offset, outA, outB string) error {
	f.record("split")
	if f.SplitErr != nil {
		return fail("split", path, transcoder.ErrSplitFailed, f.SplitErr)
	}
	seconds, audio, err := read(path)
	if err != nil {
		return fail("split", path, transcoder.ErrSplitFailed, err)
	}
	cut, err := strconv.ParseFloat(offset, 64)
	if err != nil {
		return fail("split", path, transcoder.ErrSplitFailed, err)
	}
	if cut > seconds {
		cut = seconds
	}
	if err := WriteMedia(outA, cut, audio); err != nil {
		return err
	}
	return WriteMedia(outB, seconds-cut, audio)
}

func (f *Fake) ExtractAudio(ctx context.Context, path, out string) error {
	f.record("extract_audio")
	if f.AudioErr != nil {
		return fail("extract audio", path, transcoder.ErrTranscodeFailed, f.AudioErr)
	}
	seconds, audio, err := read(path)
	if err != nil {
		return fail("extract audio", path, transcoder.ErrTranscodeFailed, err)
	}
	if !audio {
		return fail("extract audio", path, transcoder.ErrTranscodeFailed, fmt.Errorf("no audio stream"))
	}
	return WriteMedia(out, seconds, true)
}

func (f *Fake) Mute(ctx context.Context, path, out string) error {
	f.record("mute")
	if f.MuteErr != nil {
		return fail("mute", path, transcoder.ErrTranscodeFailed, f.MuteErr)
	}
	seconds, _, err := read(path)
	if err != nil {
		return fail("mute", path, transcoder.ErrTranscodeFailed, err)
	}
	return WriteMedia(out, seconds, false)
}

func (f *Fake) Concat(ctx context.Context, paths []string, out string) error {
	f.record("concat")
	if err := f.wait(ctx); err != nil {
		return err
	}
	if f.ConcatErr != nil {
		return fail("concat", out, transcoder.ErrTranscodeFailed, f.ConcatErr)
	}
	var total float64
	anyAudio := false
	for _, p := range paths {
		seconds, audio, err := read(p)
		if err != nil {
			return fail("concat", p, transcoder.ErrTranscodeFailed, err)
		}
		total += seconds
		anyAudio = anyAudio || audio
	}
	return WriteMedia(out, total, anyAudio)
}

func (f *Fake) Version(ctx context.Context) (string, error) {
	f.record("version")
	return "ffmpeg version fake", nil
}

// ReadMedia exposes the fake media parser to tests.
func ReadMedia(path string) (seconds float64, audio bool, err error) {
	return read(path)
}
