package transcoder

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/freevideocut/cutagent/internal/logging"
)

// writeScript installs an executable shell script named name in dir.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// newFake builds an adapter around fake ffmpeg/ffprobe scripts. Each script
// appends its arguments, one per line, to args.log in dir.
func newFake(t *testing.T, ffmpegBody, ffprobeBody string) (*FFmpeg, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binaries are shell scripts")
	}
	dir := t.TempDir()
	record := `for a in "$@"; do echo "$a" >> "` + filepath.Join(dir, "args.log") + `"; done` + "\n"

	ffmpeg := writeScript(t, dir, "ffmpeg", record+ffmpegBody)
	ffprobe := writeScript(t, dir, "ffprobe", record+ffprobeBody)

	f, err := New(Config{FFmpegPath: ffmpeg, FFprobePath: ffprobe})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f, dir
}

func recordedArgs(t *testing.T, dir string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "args.log"))
	if err != nil {
		t.Fatalf("read args.log: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func containsSeq(args []string, seq ...string) bool {
	for i := 0; i+len(seq) <= len(args); i++ {
		match := true
		for j, s := range seq {
			if args[i+j] != s {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func TestProbeDuration(t *testing.T) {
	f, dir := newFake(t, "", `echo "12.480000"`)

	got, err := f.ProbeDuration(context.Background(), "/clips/a.mp4")
	if err != nil {
		t.Fatalf("ProbeDuration() error = %v", err)
	}
	if got != 12.48 {
		t.Errorf("ProbeDuration() = %v, want 12.48", got)
	}

	args := recordedArgs(t, dir)
	if !containsSeq(args, "-show_entries", "format=duration") {
		t.Errorf("args %v missing format=duration", args)
	}
	if args[len(args)-1] != "/clips/a.mp4" {
		t.Errorf("last arg = %s, want the input path", args[len(args)-1])
	}
}

func TestProbeDuration_NonZeroExit(t *testing.T) {
	f, _ := newFake(t, "", `echo "moov atom not found" >&2; exit 1`)

	_, err := f.ProbeDuration(context.Background(), "/clips/bad.mp4")
	if !errors.Is(err, ErrProbeFailed) {
		t.Fatalf("err = %v, want ErrProbeFailed", err)
	}
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("err is not *Error: %T", err)
	}
	if te.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", te.ExitCode)
	}
	if !strings.Contains(te.Stderr, "moov atom not found") {
		t.Errorf("Stderr = %q", te.Stderr)
	}
}

func TestProbeDuration_BadOutput(t *testing.T) {
	f, _ := newFake(t, "", `echo "N/A"`)

	if _, err := f.ProbeDuration(context.Background(), "/clips/a.mp4"); !errors.Is(err, ErrProbeFailed) {
		t.Errorf("err = %v, want ErrProbeFailed", err)
	}
}

func TestProbeHasAudio(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"audio stream", `echo 1`, true},
		{"no audio", `exit 0`, false},
		{"probe error", `exit 1`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := newFake(t, "", tt.body)
			if got := f.ProbeHasAudio(context.Background(), "/clips/a.mp4"); got != tt.want {
				t.Errorf("ProbeHasAudio() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractThumbnails_Args(t *testing.T) {
	f, dir := newFake(t, "", "")

	out := filepath.Join(dir, "thumbs")
	if err := f.ExtractThumbnails(context.Background(), "/clips/a.mp4", out); err != nil {
		t.Fatalf("ExtractThumbnails() error = %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("thumbnail dir not created: %v", err)
	}

	args := recordedArgs(t, dir)
	if !containsSeq(args, "-vf", "fps=1/5") {
		t.Errorf("args %v missing fps=1/5", args)
	}
	if args[len(args)-1] != filepath.Join(out, "%04d.png") {
		t.Errorf("output pattern = %s", args[len(args)-1])
	}
}

func TestExtractThumbnails_CustomInterval(t *testing.T) {
	f, dir := newFake(t, "", "")
	f.interval = 2500 * time.Millisecond

	if err := f.ExtractThumbnails(context.Background(), "/clips/a.mp4", filepath.Join(dir, "t")); err != nil {
		t.Fatal(err)
	}
	if !containsSeq(recordedArgs(t, dir), "-vf", "fps=1/2.5") {
		t.Errorf("custom interval not applied")
	}
}

func TestSplit(t *testing.T) {
	f, dir := newFake(t, "", "")

	err := f.Split(context.Background(), "/v/src.mp4", "00:00:04", "/v/a.mp4", "/v/b.mp4")
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	args := recordedArgs(t, dir)
	if !containsSeq(args, "-t", "00:00:04", "-c", "copy", "/v/a.mp4", "-ss", "00:00:04", "-c", "copy", "/v/b.mp4") {
		t.Errorf("split args = %v", args)
	}
}

func TestSplit_Failure(t *testing.T) {
	f, _ := newFake(t, `echo "Invalid duration specification" >&2; exit 1`, "")

	err := f.Split(context.Background(), "/v/src.mp4", "xx", "/v/a.mp4", "/v/b.mp4")
	if !errors.Is(err, ErrSplitFailed) {
		t.Fatalf("err = %v, want ErrSplitFailed", err)
	}
	if !strings.Contains(err.Error(), "Invalid duration specification") {
		t.Errorf("error message %q lacks stderr", err.Error())
	}
}

func TestExtractAudioAndMute_Args(t *testing.T) {
	f, dir := newFake(t, "", "")
	ctx := context.Background()

	if err := f.ExtractAudio(ctx, "/v/1.mp4", "/v/1.partial.mp3"); err != nil {
		t.Fatal(err)
	}
	if err := f.Mute(ctx, "/v/1.mp4", "/v/1.muted.mp4"); err != nil {
		t.Fatal(err)
	}

	args := recordedArgs(t, dir)
	if !containsSeq(args, "-q:a", "0", "-map", "a") {
		t.Errorf("extract audio args missing: %v", args)
	}
	if !containsSeq(args, "-an", "-c:v", "copy", "/v/1.muted.mp4") {
		t.Errorf("mute args missing: %v", args)
	}
}

func TestMute_Failure(t *testing.T) {
	f, _ := newFake(t, `exit 2`, "")
	if err := f.Mute(context.Background(), "/v/1.mp4", "/v/out.mp4"); !errors.Is(err, ErrTranscodeFailed) {
		t.Errorf("err = %v, want ErrTranscodeFailed", err)
	}
}

func TestConcat_ManifestWrittenAndRemoved(t *testing.T) {
	// The fake copies the manifest passed after -i next to args.log.
	body := `prev=""
for a in "$@"; do
  if [ "$prev" = "-i" ]; then cp "$a" "$(dirname "$0")/manifest.seen"; echo "$a" > "$(dirname "$0")/manifest.path"; fi
  prev="$a"
done
`
	f, dir := newFake(t, body, "")

	inputs := []string{"/v/1.mp4", "/v/it's.mp4"}
	if err := f.Concat(context.Background(), inputs, "/v/out.mp4"); err != nil {
		t.Fatalf("Concat() error = %v", err)
	}

	seen, err := os.ReadFile(filepath.Join(dir, "manifest.seen"))
	if err != nil {
		t.Fatalf("manifest not passed to ffmpeg: %v", err)
	}
	want := "file '/v/1.mp4'\nfile '/v/it'\\''s.mp4'\n"
	if string(seen) != want {
		t.Errorf("manifest = %q, want %q", seen, want)
	}

	path, _ := os.ReadFile(filepath.Join(dir, "manifest.path"))
	if _, err := os.Stat(strings.TrimSpace(string(path))); !os.IsNotExist(err) {
		t.Errorf("manifest still exists after Concat")
	}

	if !containsSeq(recordedArgs(t, dir), "-f", "concat", "-safe", "0") {
		t.Errorf("concat demuxer args missing")
	}
}

func TestConcat_Failure(t *testing.T) {
	f, _ := newFake(t, `exit 1`, "")
	if err := f.Concat(context.Background(), []string{"/v/1.mp4"}, "/v/out.mp4"); !errors.Is(err, ErrTranscodeFailed) {
		t.Errorf("err = %v, want ErrTranscodeFailed", err)
	}
}

func TestVersion(t *testing.T) {
	f, _ := newFake(t, `echo "ffmpeg version 6.1 Copyright (c) 2000-2023"; echo "built with gcc"`, "")

	got, err := f.Version(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "ffmpeg version 6.1 Copyright (c) 2000-2023" {
		t.Errorf("Version() = %q", got)
	}
}

func TestRun_MissingBinary(t *testing.T) {
	f := &FFmpeg{ffmpeg: "/nonexistent/ffmpeg", ffprobe: "/nonexistent/ffprobe", interval: time.Second, logger: logging.Discard()}

	err := f.Mute(context.Background(), "/v/a.mp4", "/v/b.mp4")
	var te *Error
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if te.ExitCode != -1 || te.Err == nil {
		t.Errorf("ExitCode = %d, Err = %v; want -1 and a start error", te.ExitCode, te.Err)
	}
}

func TestResolveBinary_BinDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake binaries are shell scripts")
	}
	dir := t.TempDir()
	want := writeScript(t, dir, "ffmpeg", "exit 0\n")

	got, err := ResolveBinary("ffmpeg", "", dir)
	if err != nil {
		t.Fatalf("ResolveBinary() error = %v", err)
	}
	if got != want {
		t.Errorf("ResolveBinary() = %s, want %s", got, want)
	}
}

func TestResolveBinary_ConfiguredMissing(t *testing.T) {
	if _, err := ResolveBinary("ffmpeg", "/nonexistent/ffmpeg", ""); err == nil {
		t.Error("expected error for missing configured binary")
	}
}

func TestManifestLine(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX paths")
	}
	tests := []struct {
		in, want string
	}{
		{"/a/b.mp4", "file '/a/b.mp4'"},
		{"/a/o'neil.mp4", `file '/a/o'\''neil.mp4'`},
	}
	for _, tt := range tests {
		if got := manifestLine(tt.in); got != tt.want {
			t.Errorf("manifestLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if buf.String() != "hello" {
		t.Errorf("after short write got %q, want %q", buf.String(), "hello")
	}

	lw.Write([]byte(" world of test data"))
	if got := buf.String(); got != " test data" {
		t.Errorf("after overflow got %q, want %q", got, " test data")
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Op: "concat", Path: "/v/out.mp4", Kind: ErrTranscodeFailed, Err: cause}

	if !errors.Is(err, ErrTranscodeFailed) || !errors.Is(err, cause) {
		t.Errorf("errors.Is does not match kind and cause")
	}
	if errors.Is(err, ErrSplitFailed) {
		t.Errorf("error matches an unrelated kind")
	}
}
