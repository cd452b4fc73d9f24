package track

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/freevideocut/cutagent/internal/jobs"
	"github.com/freevideocut/cutagent/internal/transcoder"
	"github.com/freevideocut/cutagent/internal/transcoder/transcodertest"
	"github.com/freevideocut/cutagent/internal/workspace"
)

type fixture struct {
	engine *Engine
	fake   *transcodertest.Fake
	mgr    *workspace.Manager
	layout workspace.Layout
	jobs   *jobs.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	layout := workspace.NewLayout(t.TempDir())
	ids := workspace.NewIDs()
	fake := transcodertest.New()
	d := jobs.New(nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.Wait(ctx)
	})
	return &fixture{
		engine: NewEngine(layout, ids, fake, d, nil),
		fake:   fake,
		mgr:    workspace.NewManager(layout, ids, nil),
		layout: layout,
		jobs:   d,
	}
}

// importClip creates ws and imports a fake source of the given length.
func (f *fixture) importClip(t *testing.T, ws string, seconds float64, audio bool) string {
	t.Helper()
	if err := f.mgr.CreateWorkspace(ws); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(t.TempDir(), "source.mp4")
	if err := transcodertest.WriteMedia(src, seconds, audio); err != nil {
		t.Fatal(err)
	}
	name, err := f.mgr.ImportSource(src, ws)
	if err != nil {
		t.Fatal(err)
	}
	return name
}

func waitJob(t *testing.T, h *jobs.Handle) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Wait(ctx); err != nil {
		t.Fatalf("job %s failed: %v", h.Kind, err)
	}
}

func TestAddClip(t *testing.T) {
	f := newFixture(t)
	imp := f.importClip(t, "proj1", 12, true)

	clip, err := f.engine.AddClip(context.Background(), "proj1", imp)
	if err != nil {
		t.Fatalf("AddClip() error = %v", err)
	}
	if clip.Duration != 12 {
		t.Errorf("Duration = %v, want 12", clip.Duration)
	}
	if !clip.HasAudio {
		t.Error("HasAudio = false, want true")
	}
	if clip.VideoName != clip.ID+".mp4" || clip.ThumbnailID != clip.ID {
		t.Errorf("names = %s / %s for id %s", clip.VideoName, clip.ThumbnailID, clip.ID)
	}
	if _, err := os.Stat(f.layout.ClipFile("proj1", clip.ID)); err != nil {
		t.Errorf("clip file missing: %v", err)
	}

	waitJob(t, clip.Thumbnails)
	thumbs, err := f.engine.ListThumbnails("proj1", clip.ThumbnailID)
	if err != nil {
		t.Fatal(err)
	}
	// one frame per 5 seconds of a 12 second clip
	if len(thumbs) != 3 {
		t.Errorf("thumbnails = %d, want 3", len(thumbs))
	}
	if filepath.Base(thumbs[0]) != "0001.png" {
		t.Errorf("first thumbnail = %s", thumbs[0])
	}
}

func TestAddClip_ReturnsBeforeThumbnails(t *testing.T) {
	f := newFixture(t)
	f.fake.Gate = make(chan struct{})
	imp := f.importClip(t, "proj1", 10, false)

	clip, err := f.engine.AddClip(context.Background(), "proj1", imp)
	if err != nil {
		t.Fatal(err)
	}

	thumbs, err := f.engine.ListThumbnails("proj1", clip.ThumbnailID)
	if err != nil {
		t.Fatalf("ListThumbnails() during generation error = %v", err)
	}
	if len(thumbs) != 0 {
		t.Errorf("thumbnails before generation = %d, want 0", len(thumbs))
	}

	close(f.fake.Gate)
	waitJob(t, clip.Thumbnails)
}

func TestAddClip_MissingImport(t *testing.T) {
	f := newFixture(t)
	f.mgr.CreateWorkspace("proj1")

	if _, err := f.engine.AddClip(context.Background(), "proj1", "imported_1.mp4"); !errors.Is(err, ErrClipNotFound) {
		t.Errorf("err = %v, want ErrClipNotFound", err)
	}
}

func TestAddClip_DurationProbeFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.mgr.CreateWorkspace("proj1")
	os.WriteFile(f.layout.ImportFile("proj1", "imported_1.mp4"), []byte("not media"), 0644)

	clip, err := f.engine.AddClip(context.Background(), "proj1", "imported_1.mp4")
	if err != nil {
		t.Fatalf("AddClip() error = %v", err)
	}
	if clip.Duration != 0 {
		t.Errorf("Duration = %v, want 0", clip.Duration)
	}
	<-clip.Thumbnails.Done()
}

func TestSplitClip_ConservesDuration(t *testing.T) {
	f := newFixture(t)
	imp := f.importClip(t, "proj1", 12, true)
	clip, _ := f.engine.AddClip(context.Background(), "proj1", imp)
	waitJob(t, clip.Thumbnails)

	split, err := f.engine.SplitClip(context.Background(), "proj1", clip.ID, clip.ThumbnailID, "00:00:04")
	if err != nil {
		t.Fatalf("SplitClip() error = %v", err)
	}

	if split.First.Duration != 4 || split.Second.Duration != 8 {
		t.Errorf("durations = %v + %v, want 4 + 8", split.First.Duration, split.Second.Duration)
	}
	if split.First.ID >= split.Second.ID && len(split.First.ID) == len(split.Second.ID) {
		t.Errorf("second id %s is not after first id %s", split.Second.ID, split.First.ID)
	}
	if _, err := os.Stat(f.layout.ClipFile("proj1", clip.ID)); !os.IsNotExist(err) {
		t.Error("source clip still exists after split")
	}
	if _, err := os.Stat(f.layout.ThumbnailDir("proj1", clip.ThumbnailID)); !os.IsNotExist(err) {
		t.Error("source thumbnails still exist after split")
	}

	waitJob(t, split.First.Thumbnails)
	for _, c := range []*Clip{split.First, split.Second} {
		if _, err := f.engine.ListThumbnails("proj1", c.ThumbnailID); err != nil {
			t.Errorf("thumbnails for %s: %v", c.ID, err)
		}
	}
}

func TestSplitClip_FailureLeavesSource(t *testing.T) {
	f := newFixture(t)
	imp := f.importClip(t, "proj1", 12, false)
	clip, _ := f.engine.AddClip(context.Background(), "proj1", imp)
	waitJob(t, clip.Thumbnails)

	f.fake.SplitErr = errors.New("corrupt input")
	_, err := f.engine.SplitClip(context.Background(), "proj1", clip.ID, clip.ThumbnailID, "4")
	if !errors.Is(err, transcoder.ErrSplitFailed) {
		t.Fatalf("err = %v, want ErrSplitFailed", err)
	}
	if _, err := os.Stat(f.layout.ClipFile("proj1", clip.ID)); err != nil {
		t.Errorf("source clip removed after failed split: %v", err)
	}
	if _, err := os.Stat(f.layout.ThumbnailDir("proj1", clip.ThumbnailID)); err != nil {
		t.Errorf("source thumbnails removed after failed split: %v", err)
	}
}

func TestSplitClip_InvalidCutTime(t *testing.T) {
	f := newFixture(t)
	imp := f.importClip(t, "proj1", 12, false)
	clip, _ := f.engine.AddClip(context.Background(), "proj1", imp)
	waitJob(t, clip.Thumbnails)

	for _, cut := range []string{"", "abc", "0", "00:00:00", "12", "00:00:30"} {
		if _, err := f.engine.SplitClip(context.Background(), "proj1", clip.ID, clip.ThumbnailID, cut); !errors.Is(err, ErrInvalidCutTime) {
			t.Errorf("SplitClip(cut=%q) = %v, want ErrInvalidCutTime", cut, err)
		}
	}
	if calls := f.fake.Calls(); contains(calls, "split") {
		t.Error("transcoder split invoked for an invalid cut time")
	}
}

func TestSplitClip_Busy(t *testing.T) {
	f := newFixture(t)
	f.fake.Gate = make(chan struct{})
	imp := f.importClip(t, "proj1", 12, false)
	clip, _ := f.engine.AddClip(context.Background(), "proj1", imp)

	if _, err := f.engine.SplitClip(context.Background(), "proj1", clip.ID, clip.ThumbnailID, "4"); !errors.Is(err, ErrClipBusy) {
		t.Errorf("split during thumbnailing = %v, want ErrClipBusy", err)
	}
	if err := f.engine.RemoveClip(context.Background(), "proj1", clip.ID, clip.ThumbnailID); !errors.Is(err, ErrClipBusy) {
		t.Errorf("remove during thumbnailing = %v, want ErrClipBusy", err)
	}

	close(f.fake.Gate)
	waitJob(t, clip.Thumbnails)

	if _, err := f.engine.SplitClip(context.Background(), "proj1", clip.ID, clip.ThumbnailID, "4"); err != nil {
		t.Errorf("split after thumbnailing = %v", err)
	}
}

func TestExtractAudio(t *testing.T) {
	f := newFixture(t)
	imp := f.importClip(t, "proj1", 9, true)
	clip, _ := f.engine.AddClip(context.Background(), "proj1", imp)
	waitJob(t, clip.Thumbnails)

	name, err := f.engine.ExtractAudio(context.Background(), "proj1", clip.ID, "")
	if err != nil {
		t.Fatalf("ExtractAudio() error = %v", err)
	}
	if name != clip.ID+".mp3" {
		t.Errorf("audio name = %s, want %s.mp3", name, clip.ID)
	}

	seconds, audio, err := transcodertest.ReadMedia(f.layout.AudioFile("proj1", clip.ID))
	if err != nil || seconds != 9 || !audio {
		t.Errorf("audio file = (%v, %v, %v)", seconds, audio, err)
	}
	if _, audio, _ := transcodertest.ReadMedia(f.layout.ClipFile("proj1", clip.ID)); audio {
		t.Error("clip still has audio after extraction")
	}

	entries, _ := os.ReadDir(f.layout.Dir("proj1", workspace.RoleVideoTrack))
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".mp4" && filepath.Ext(e.Name()) != ".mp3" && !e.IsDir() {
			t.Errorf("temporary left behind: %s", e.Name())
		}
	}
}

func TestExtractAudio_MuteFailureKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	imp := f.importClip(t, "proj1", 9, true)
	clip, _ := f.engine.AddClip(context.Background(), "proj1", imp)
	waitJob(t, clip.Thumbnails)

	f.fake.MuteErr = errors.New("disk full")
	if _, err := f.engine.ExtractAudio(context.Background(), "proj1", clip.ID, "a1"); !errors.Is(err, transcoder.ErrTranscodeFailed) {
		t.Fatalf("err = %v, want ErrTranscodeFailed", err)
	}
	if _, audio, _ := transcodertest.ReadMedia(f.layout.ClipFile("proj1", clip.ID)); !audio {
		t.Error("original clip lost its audio after a failed mute")
	}
	if _, err := os.Stat(filepath.Join(f.layout.Dir("proj1", workspace.RoleVideoTrack), clip.ID+".muted.mp4")); !os.IsNotExist(err) {
		t.Error("muted temporary left behind")
	}
}

func TestRemoveClip(t *testing.T) {
	f := newFixture(t)
	imp := f.importClip(t, "proj1", 6, false)
	clip, _ := f.engine.AddClip(context.Background(), "proj1", imp)
	waitJob(t, clip.Thumbnails)

	if err := f.engine.RemoveClip(context.Background(), "proj1", clip.ID, clip.ThumbnailID); err != nil {
		t.Fatalf("RemoveClip() error = %v", err)
	}
	if _, err := f.engine.ListThumbnails("proj1", clip.ThumbnailID); !errors.Is(err, ErrClipNotFound) {
		t.Errorf("ListThumbnails after remove = %v, want ErrClipNotFound", err)
	}
	if err := f.engine.RemoveClip(context.Background(), "proj1", clip.ID, clip.ThumbnailID); !errors.Is(err, ErrClipNotFound) {
		t.Errorf("second RemoveClip() = %v, want ErrClipNotFound", err)
	}
}

func TestReserve(t *testing.T) {
	f := newFixture(t)
	imp := f.importClip(t, "proj1", 6, false)
	clip, _ := f.engine.AddClip(context.Background(), "proj1", imp)
	waitJob(t, clip.Thumbnails)

	release1, err := f.engine.Reserve("proj1", clip.ID)
	if err != nil {
		t.Fatal(err)
	}
	release2, _ := f.engine.Reserve("proj1", clip.ID)

	release1()
	release1()
	if err := f.engine.RemoveClip(context.Background(), "proj1", clip.ID, clip.ThumbnailID); !errors.Is(err, ErrClipBusy) {
		t.Errorf("remove with one reservation left = %v, want ErrClipBusy", err)
	}
	release2()
	if err := f.engine.RemoveClip(context.Background(), "proj1", clip.ID, clip.ThumbnailID); err != nil {
		t.Errorf("remove after release = %v", err)
	}

	if _, err := f.engine.Reserve("proj1", "missing"); !errors.Is(err, ErrClipNotFound) {
		t.Errorf("Reserve(missing) = %v, want ErrClipNotFound", err)
	}
}

// failOneThumbnails fails the first thumbnail extraction once armed and
// holds the other until that failure has happened.
type failOneThumbnails struct {
	*transcodertest.Fake
	armed  atomic.Bool
	once   sync.Once
	failed chan struct{}
}

func (f *failOneThumbnails) ExtractThumbnails(ctx context.Context, path, dir string) error {
	if !f.armed.Load() {
		return f.Fake.ExtractThumbnails(ctx, path, dir)
	}
	first := false
	f.once.Do(func() { first = true })
	if first {
		close(f.failed)
		return errors.New("boom")
	}
	select {
	case <-f.failed:
	case <-time.After(2 * time.Second):
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.Fake.ExtractThumbnails(ctx, path, dir)
}

func TestSplitClip_ThumbnailFailureIsPerHalf(t *testing.T) {
	f := newFixture(t)
	tc := &failOneThumbnails{Fake: f.fake, failed: make(chan struct{})}
	f.engine.tc = tc

	imp := f.importClip(t, "proj1", 15, false)
	clip, err := f.engine.AddClip(context.Background(), "proj1", imp)
	if err != nil {
		t.Fatal(err)
	}
	waitJob(t, clip.Thumbnails)

	tc.armed.Store(true)
	split, err := f.engine.SplitClip(context.Background(), "proj1", clip.ID, clip.ThumbnailID, "10")
	if err != nil {
		t.Fatalf("SplitClip() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	jobErr := split.First.Thumbnails.Wait(ctx)
	if jobErr == nil || !strings.Contains(jobErr.Error(), "boom") {
		t.Fatalf("thumbnail job error = %v, want the failing half's error", jobErr)
	}

	counts := map[string]int{}
	for _, c := range []*Clip{split.First, split.Second} {
		thumbs, err := f.engine.ListThumbnails("proj1", c.ThumbnailID)
		if err != nil {
			t.Fatalf("ListThumbnails(%s) error = %v", c.ID, err)
		}
		counts[c.ID] = len(thumbs)
	}
	// 10s half yields 2 frames, 5s half yields 1; exactly one half failed
	first, second := counts[split.First.ID], counts[split.Second.ID]
	if !(first == 0 && second == 1) && !(first == 2 && second == 0) {
		t.Errorf("thumbnail counts = first %d, second %d; want the surviving half complete", first, second)
	}
}

func TestSplitClip_ForeignThumbnailRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	impA := f.importClip(t, "proj1", 12, false)
	a, _ := f.engine.AddClip(ctx, "proj1", impA)
	waitJob(t, a.Thumbnails)
	impB := f.importClip(t, "proj1", 8, false)
	b, _ := f.engine.AddClip(ctx, "proj1", impB)
	waitJob(t, b.Thumbnails)

	if _, err := f.engine.SplitClip(ctx, "proj1", a.ID, b.ThumbnailID, "10"); !errors.Is(err, workspace.ErrInvalidName) {
		t.Errorf("SplitClip with another clip's thumbnails = %v, want ErrInvalidName", err)
	}
	if err := f.engine.RemoveClip(ctx, "proj1", a.ID, b.ThumbnailID); !errors.Is(err, workspace.ErrInvalidName) {
		t.Errorf("RemoveClip with another clip's thumbnails = %v, want ErrInvalidName", err)
	}

	for _, c := range []*Clip{a, b} {
		if _, err := os.Stat(f.layout.ClipFile("proj1", c.ID)); err != nil {
			t.Errorf("clip %s file: %v", c.ID, err)
		}
		if _, err := os.Stat(f.layout.ThumbnailDir("proj1", c.ThumbnailID)); err != nil {
			t.Errorf("clip %s thumbnails: %v", c.ID, err)
		}
	}

	// an empty thumbnail id means the clip's own set
	if err := f.engine.RemoveClip(ctx, "proj1", b.ID, ""); err != nil {
		t.Fatalf("RemoveClip(own set) error = %v", err)
	}
	if _, err := os.Stat(f.layout.ThumbnailDir("proj1", b.ThumbnailID)); !os.IsNotExist(err) {
		t.Errorf("thumbnails of removed clip still exist: %v", err)
	}
}

func TestAddClip_ClosedDispatcherReleasesClip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	imp := f.importClip(t, "proj1", 12, false)
	f.jobs.Close()

	clip, err := f.engine.AddClip(ctx, "proj1", imp)
	if err != nil {
		t.Fatalf("AddClip() error = %v", err)
	}
	if err := clip.Thumbnails.Err(); !errors.Is(err, jobs.ErrClosed) {
		t.Fatalf("thumbnail job error = %v, want ErrClosed", err)
	}

	split, err := f.engine.SplitClip(ctx, "proj1", clip.ID, clip.ThumbnailID, "4")
	if err != nil {
		t.Fatalf("SplitClip() after refused job = %v, want the clip free", err)
	}
	if err := f.engine.RemoveClip(ctx, "proj1", split.First.ID, ""); err != nil {
		t.Errorf("RemoveClip() of split half after refused job = %v", err)
	}
}

// recordMute remembers where the muted copy was written.
type recordMute struct {
	*transcodertest.Fake
	out string
}

func (r *recordMute) Mute(ctx context.Context, path, out string) error {
	r.out = out
	return r.Fake.Mute(ctx, path, out)
}

func TestExtractAudio_MutedCopyIsPartial(t *testing.T) {
	f := newFixture(t)
	tc := &recordMute{Fake: f.fake}
	f.engine.tc = tc
	imp := f.importClip(t, "proj1", 6, true)
	clip, _ := f.engine.AddClip(context.Background(), "proj1", imp)
	waitJob(t, clip.Thumbnails)

	if _, err := f.engine.ExtractAudio(context.Background(), "proj1", clip.ID, ""); err != nil {
		t.Fatalf("ExtractAudio() error = %v", err)
	}
	if !strings.Contains(filepath.Base(tc.out), ".partial.") {
		t.Errorf("muted copy written to %s, want a .partial. name", filepath.Base(tc.out))
	}
	if _, err := os.Stat(tc.out); !os.IsNotExist(err) {
		t.Errorf("muted temp still on disk: %v", err)
	}
}

func TestInvalidNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.AddClip(ctx, "../x", "a.mp4"); !errors.Is(err, workspace.ErrInvalidName) {
		t.Errorf("AddClip = %v", err)
	}
	if _, err := f.engine.SplitClip(ctx, "proj1", "../1", "1", "4"); !errors.Is(err, workspace.ErrInvalidName) {
		t.Errorf("SplitClip = %v", err)
	}
	if _, err := f.engine.ListThumbnails("proj1", "a/b"); !errors.Is(err, workspace.ErrInvalidName) {
		t.Errorf("ListThumbnails = %v", err)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
