// Package transcoder wraps the external ffmpeg and ffprobe binaries that
// perform every media transform: probing, thumbnailing, splitting, audio
// extraction, muting and concatenation.
package transcoder

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrProbeFailed     = errors.New("probe failed")
	ErrSplitFailed     = errors.New("split failed")
	ErrTranscodeFailed = errors.New("transcode failed")
)

// Transcoder is the set of media operations the track engine and the
// synthesis pipeline depend on. Every call blocks until the external
// process exits.
type Transcoder interface {
	// ProbeDuration returns the container duration in seconds.
	ProbeDuration(ctx context.Context, path string) (float64, error)

	// ProbeHasAudio reports whether path carries at least one audio stream.
	// Any probe failure reports false.
	ProbeHasAudio(ctx context.Context, path string) bool

	// ExtractThumbnails writes %04d.png frames into dir, one per interval.
	ExtractThumbnails(ctx context.Context, path, dir string) error

	// Split stream-copies [0, offset) into outA and [offset, end) into outB.
	Split(ctx context.Context, path, offset, outA, outB string) error

	// ExtractAudio writes the audio stream of path to out.
	ExtractAudio(ctx context.Context, path, out string) error

	// Mute writes path to out with the video stream copied and audio dropped.
	Mute(ctx context.Context, path, out string) error

	// Concat joins paths in order into out without re-encoding.
	Concat(ctx context.Context, paths []string, out string) error

	// Version returns the first line of the ffmpeg version banner.
	Version(ctx context.Context) (string, error)
}

// Error describes a failed external invocation.
type Error struct {
	Op       string
	Path     string
	ExitCode int
	Stderr   string
	Kind     error
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Kind)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + lastLine(e.Stderr)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
