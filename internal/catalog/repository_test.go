package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/freevideocut/cutagent/internal/db"
)

func setupTestDB(t *testing.T) (*db.DB, Repository) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	return database, NewRepository(database.Conn())
}

func createTask(t *testing.T, repo Repository, folder string) *Task {
	t.Helper()
	task := &Task{FolderName: folder, CreateTime: time.Now().UTC()}
	if err := repo.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	return task
}

func TestRepository_Tasks(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	task := createTask(t, repo, "proj1")
	if task.ID == 0 {
		t.Fatal("task ID not assigned")
	}

	got, err := repo.GetTaskByFolder(ctx, "proj1")
	if err != nil || got == nil {
		t.Fatalf("GetTaskByFolder() = %v, %v", got, err)
	}
	if got.ID != task.ID {
		t.Errorf("ID = %d, want %d", got.ID, task.ID)
	}

	missing, err := repo.GetTaskByFolder(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetTaskByFolder(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestRepository_ReplaceVideoTrack(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()
	task := createTask(t, repo, "proj1")

	for i, name := range []string{"1.mp4", "2.mp4", "3.mp4"} {
		if err := repo.CreateVideoTrack(ctx, &VideoTrack{TaskID: task.ID, VideoName: name, Thumbnail: name[:1], Display: i}); err != nil {
			t.Fatal(err)
		}
	}

	parts := []*VideoTrack{
		{VideoName: "10.mp4", Thumbnail: "10", VideoTime: 4},
		{VideoName: "11.mp4", Thumbnail: "11", VideoTime: 8},
	}
	if err := repo.ReplaceVideoTrack(ctx, task.ID, "2.mp4", parts); err != nil {
		t.Fatalf("ReplaceVideoTrack() error = %v", err)
	}

	tracks, err := repo.ListVideoTracks(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"1.mp4", "10.mp4", "11.mp4", "3.mp4"}
	if len(tracks) != len(want) {
		t.Fatalf("got %d tracks, want %d", len(tracks), len(want))
	}
	for i, name := range want {
		if tracks[i].VideoName != name {
			t.Errorf("tracks[%d] = %s, want %s", i, tracks[i].VideoName, name)
		}
		if tracks[i].Display != i {
			t.Errorf("tracks[%d].Display = %d, want %d", i, tracks[i].Display, i)
		}
	}
}

func TestRepository_ReplaceMissingAppends(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()
	task := createTask(t, repo, "proj1")
	repo.CreateVideoTrack(ctx, &VideoTrack{TaskID: task.ID, VideoName: "1.mp4", Thumbnail: "1", Display: 0})

	if err := repo.ReplaceVideoTrack(ctx, task.ID, "gone.mp4", []*VideoTrack{{VideoName: "5.mp4", Thumbnail: "5"}}); err != nil {
		t.Fatal(err)
	}
	tracks, _ := repo.ListVideoTracks(ctx, task.ID)
	if len(tracks) != 2 || tracks[1].VideoName != "5.mp4" || tracks[1].Display != 1 {
		t.Errorf("tracks = %+v", tracks)
	}
}

func TestRepository_AudioTrackUpsert(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()
	task := createTask(t, repo, "proj1")

	first := &AudioTrack{TaskID: task.ID, AudioName: "1.mp3", AudioTime: 4}
	if err := repo.CreateAudioTrack(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := &AudioTrack{TaskID: task.ID, AudioName: "1.mp3", AudioTime: 5}
	if err := repo.CreateAudioTrack(ctx, second); err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("upsert ID = %d, want %d", second.ID, first.ID)
	}

	tracks, _ := repo.ListAudioTracks(ctx, task.ID)
	if len(tracks) != 1 || tracks[0].AudioTime != 5 {
		t.Errorf("audio tracks = %+v", tracks)
	}
}

func TestRepository_Jobs(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	job := &Job{ID: "j1", Type: "synthesize", Status: JobStatusRunning, Workspace: "proj1", Target: "1.mp4", CreatedAt: now, UpdatedAt: now}
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateJobStatus(ctx, "j1", JobStatusFailed, "concat failed"); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetJob(ctx, "j1")
	if err != nil || got == nil {
		t.Fatalf("GetJob() = %v, %v", got, err)
	}
	if got.Status != JobStatusFailed || got.Error != "concat failed" {
		t.Errorf("job = %+v", got)
	}

	list, _ := repo.ListJobs(ctx, 10)
	if len(list) != 1 {
		t.Errorf("ListJobs() = %d, want 1", len(list))
	}
	if missing, _ := repo.GetJob(ctx, "nope"); missing != nil {
		t.Errorf("GetJob(missing) = %+v", missing)
	}
}

func TestRepository_Config(t *testing.T) {
	_, repo := setupTestDB(t)
	ctx := context.Background()

	if v, err := repo.GetConfig(ctx, ConfigKeyAuthToken); err != nil || v != "" {
		t.Errorf("GetConfig(unset) = %q, %v", v, err)
	}
	repo.SetConfig(ctx, ConfigKeyAuthToken, "a")
	repo.SetConfig(ctx, ConfigKeyAuthToken, "b")
	if v, _ := repo.GetConfig(ctx, ConfigKeyAuthToken); v != "b" {
		t.Errorf("GetConfig() = %q, want b", v)
	}
}

func TestNewFolderName(t *testing.T) {
	a, b := NewFolderName(), NewFolderName()
	if len(a) != 32 {
		t.Errorf("len = %d, want 32", len(a))
	}
	if a == b {
		t.Error("folder names repeat")
	}
}
