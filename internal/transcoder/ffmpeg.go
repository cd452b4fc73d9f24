package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/freevideocut/cutagent/internal/logging"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

	DefaultThumbnailInterval = 5 * time.Second
)

// Config holds the adapter's configuration.
type Config struct {
	FFmpegPath        string        // path to ffmpeg; empty = resolve
	FFprobePath       string        // path to ffprobe; empty = resolve
	BinDir            string        // extra directory searched before PATH
	ThumbnailInterval time.Duration // one frame per interval
	Logger            *slog.Logger
}

// FFmpeg is the production Transcoder backed by the ffmpeg and ffprobe
// executables.
type FFmpeg struct {
	ffmpeg   string
	ffprobe  string
	interval time.Duration
	logger   *slog.Logger
}

// New resolves both binaries and returns a ready adapter.
func New(cfg Config) (*FFmpeg, error) {
	ffmpeg, err := ResolveBinary("ffmpeg", cfg.FFmpegPath, cfg.BinDir)
	if err != nil {
		return nil, err
	}
	ffprobe, err := ResolveBinary("ffprobe", cfg.FFprobePath, cfg.BinDir)
	if err != nil {
		return nil, err
	}

	interval := cfg.ThumbnailInterval
	if interval <= 0 {
		interval = DefaultThumbnailInterval
	}

	t := &FFmpeg{
		ffmpeg:   ffmpeg,
		ffprobe:  ffprobe,
		interval: interval,
		logger:   logging.WithComponent(cfg.Logger, "transcoder"),
	}
	t.logger.Info("transcoder initialised",
		"ffmpeg", logging.SanitizePath(ffmpeg),
		"ffprobe", logging.SanitizePath(ffprobe),
		"thumbnail_interval", interval.String(),
	)
	return t, nil
}

// FFmpegPath returns the resolved ffmpeg binary.
func (f *FFmpeg) FFmpegPath() string { return f.ffmpeg }

// FFprobePath returns the resolved ffprobe binary.
func (f *FFmpeg) FFprobePath() string { return f.ffprobe }

func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (float64, error) {
	res := f.run(ctx, f.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if !res.IsSuccess() {
		return 0, res.err("probe duration", path, ErrProbeFailed)
	}

	out := strings.TrimSpace(res.Stdout)
	seconds, err := strconv.ParseFloat(firstLine(out), 64)
	if err != nil {
		return 0, &Error{Op: "probe duration", Path: path, Kind: ErrProbeFailed,
			Err: fmt.Errorf("unexpected output %q", truncate(out, 64))}
	}
	return seconds, nil
}

func (f *FFmpeg) ProbeHasAudio(ctx context.Context, path string) bool {
	res := f.run(ctx, f.ffprobe,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		path,
	)
	return res.IsSuccess() && strings.TrimSpace(res.Stdout) != ""
}

func (f *FFmpeg) ExtractThumbnails(ctx context.Context, path, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &Error{Op: "extract thumbnails", Path: path, Kind: ErrTranscodeFailed, Err: err}
	}
	res := f.run(ctx, f.ffmpeg,
		"-y",
		"-i", path,
		"-vf", "fps=1/"+formatInterval(f.interval),
		"-q:v", "2",
		filepath.Join(dir, "%04d.png"),
	)
	if !res.IsSuccess() {
		return res.err("extract thumbnails", path, ErrTranscodeFailed)
	}
	return nil
}

func (f *FFmpeg) Split(ctx context.Context, path, offset, outA, outB string) error {
	res := f.run(ctx, f.ffmpeg,
		"-y",
		"-i", path,
		"-t", offset, "-c", "copy", outA,
		"-ss", offset, "-c", "copy", outB,
	)
	if !res.IsSuccess() {
		return res.err("split", path, ErrSplitFailed)
	}
	return nil
}

func (f *FFmpeg) ExtractAudio(ctx context.Context, path, out string) error {
	res := f.run(ctx, f.ffmpeg,
		"-y",
		"-i", path,
		"-q:a", "0",
		"-map", "a",
		// the output may carry a .partial suffix, so name the muxer
		"-f", "mp3",
		out,
	)
	if !res.IsSuccess() {
		return res.err("extract audio", path, ErrTranscodeFailed)
	}
	return nil
}

func (f *FFmpeg) Mute(ctx context.Context, path, out string) error {
	res := f.run(ctx, f.ffmpeg,
		"-y",
		"-i", path,
		"-an",
		"-c:v", "copy",
		out,
	)
	if !res.IsSuccess() {
		return res.err("mute", path, ErrTranscodeFailed)
	}
	return nil
}

func (f *FFmpeg) Concat(ctx context.Context, paths []string, out string) error {
	manifest, err := writeManifest(paths)
	if err != nil {
		return &Error{Op: "concat", Path: out, Kind: ErrTranscodeFailed, Err: err}
	}
	defer os.Remove(manifest)

	res := f.run(ctx, f.ffmpeg,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifest,
		"-c", "copy",
		"-f", "mp4",
		out,
	)
	if !res.IsSuccess() {
		return res.err("concat", out, ErrTranscodeFailed)
	}
	return nil
}

func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	res := f.run(ctx, f.ffmpeg, "-version")
	if !res.IsSuccess() {
		return "", res.err("version", f.ffmpeg, ErrProbeFailed)
	}
	return firstLine(strings.TrimSpace(res.Stdout)), nil
}

// RunResult captures the outcome of a single invocation.
type RunResult struct {
	ExitCode   int
	Stdout     string
	StderrTail string
	Duration   time.Duration
	RunErr     error // set when the process could not start
}

func (r RunResult) IsSuccess() bool {
	return r.ExitCode == 0 && r.RunErr == nil
}

func (r RunResult) err(op, path string, kind error) *Error {
	return &Error{
		Op:       op,
		Path:     path,
		ExitCode: r.ExitCode,
		Stderr:   r.StderrTail,
		Kind:     kind,
		Err:      r.RunErr,
	}
}

// run is the core subprocess execution helper.
func (f *FFmpeg) run(ctx context.Context, bin string, args ...string) RunResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderr, limit: maxStderrBytes})

	f.logger.Debug("executing command",
		"bin", filepath.Base(bin),
		"args", args,
	)

	err := cmd.Run()
	elapsed := time.Since(start)

	result := RunResult{Duration: elapsed}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			result.RunErr = err
		}
	}
	result.Stdout = stdout.String()
	result.StderrTail = stderr.String()

	if !result.IsSuccess() {
		f.logger.Warn("command failed",
			"bin", filepath.Base(bin),
			"exit_code", result.ExitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(result.StderrTail, 512),
		)
	} else {
		f.logger.Debug("command succeeded",
			"bin", filepath.Base(bin),
			"duration_ms", elapsed.Milliseconds(),
		)
	}
	return result
}

// formatInterval renders the thumbnail interval as a number of seconds
// suitable for the fps filter.
func formatInterval(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\r\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
