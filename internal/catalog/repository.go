package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository is the metadata store. Lookups of a single row return
// (nil, nil) when the row does not exist.
type Repository interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTaskByFolder(ctx context.Context, folderName string) (*Task, error)
	ListTasks(ctx context.Context) ([]*Task, error)

	CreateImport(ctx context.Context, imp *ImportVideo) error
	ListImports(ctx context.Context, taskID int64) ([]*ImportVideo, error)

	CreateVideoTrack(ctx context.Context, track *VideoTrack) error
	GetVideoTrack(ctx context.Context, taskID int64, videoName string) (*VideoTrack, error)
	ListVideoTracks(ctx context.Context, taskID int64) ([]*VideoTrack, error)
	ReplaceVideoTrack(ctx context.Context, taskID int64, videoName string, parts []*VideoTrack) error
	UpdateVideoTrackAudio(ctx context.Context, taskID int64, videoName string, hasAudio bool) error
	UpdateVideoTrackLayout(ctx context.Context, taskID int64, videoName string, start, end float64, display int) error
	DeleteVideoTrack(ctx context.Context, taskID int64, videoName string) error
	NextDisplay(ctx context.Context, taskID int64) (int, error)

	CreateAudioTrack(ctx context.Context, track *AudioTrack) error
	ListAudioTracks(ctx context.Context, taskID int64) ([]*AudioTrack, error)

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) CreateTask(ctx context.Context, t *Task) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO cut_task (folder_name, create_time) VALUES (?, ?)
	`, t.FolderName, t.CreateTime.Format(time.RFC3339))
	if err != nil {
		return err
	}
	t.ID, err = res.LastInsertId()
	return err
}

func (r *SQLiteRepository) GetTaskByFolder(ctx context.Context, folderName string) (*Task, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, folder_name, create_time FROM cut_task WHERE folder_name = ?
	`, folderName)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (r *SQLiteRepository) ListTasks(ctx context.Context) ([]*Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, folder_name, create_time FROM cut_task ORDER BY create_time DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(s rowScanner) (*Task, error) {
	var t Task
	var createTime string
	if err := s.Scan(&t.ID, &t.FolderName, &createTime); err != nil {
		return nil, err
	}
	t.CreateTime, _ = time.Parse(time.RFC3339, createTime)
	return &t, nil
}

func (r *SQLiteRepository) CreateImport(ctx context.Context, imp *ImportVideo) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO import_video (cut_task_id, import_name, original_name, create_time)
		VALUES (?, ?, ?, ?)
	`, imp.TaskID, imp.ImportName, imp.OriginalName, imp.CreateTime.Format(time.RFC3339))
	if err != nil {
		return err
	}
	imp.ID, err = res.LastInsertId()
	return err
}

func (r *SQLiteRepository) ListImports(ctx context.Context, taskID int64) ([]*ImportVideo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, cut_task_id, import_name, original_name, create_time
		FROM import_video WHERE cut_task_id = ? ORDER BY id
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var imports []*ImportVideo
	for rows.Next() {
		var imp ImportVideo
		var createTime string
		if err := rows.Scan(&imp.ID, &imp.TaskID, &imp.ImportName, &imp.OriginalName, &createTime); err != nil {
			return nil, err
		}
		imp.CreateTime, _ = time.Parse(time.RFC3339, createTime)
		imports = append(imports, &imp)
	}
	return imports, rows.Err()
}

const videoTrackColumns = `id, cut_task_id, video_name, thumbnail, video_time, start_time, end_time, has_audio, display`

func scanVideoTrack(s rowScanner) (*VideoTrack, error) {
	var v VideoTrack
	var hasAudio int
	if err := s.Scan(&v.ID, &v.TaskID, &v.VideoName, &v.Thumbnail, &v.VideoTime, &v.StartTime, &v.EndTime, &hasAudio, &v.Display); err != nil {
		return nil, err
	}
	v.HasAudio = hasAudio == 1
	return &v, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertVideoTrack(ctx context.Context, ex execer, v *VideoTrack) error {
	res, err := ex.ExecContext(ctx, `
		INSERT INTO video_track (cut_task_id, video_name, thumbnail, video_time, start_time, end_time, has_audio, display)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, v.TaskID, v.VideoName, v.Thumbnail, v.VideoTime, v.StartTime, v.EndTime, boolToInt(v.HasAudio), v.Display)
	if err != nil {
		return err
	}
	v.ID, err = res.LastInsertId()
	return err
}

func (r *SQLiteRepository) CreateVideoTrack(ctx context.Context, v *VideoTrack) error {
	return insertVideoTrack(ctx, r.db, v)
}

func (r *SQLiteRepository) GetVideoTrack(ctx context.Context, taskID int64, videoName string) (*VideoTrack, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+videoTrackColumns+` FROM video_track WHERE cut_task_id = ? AND video_name = ?
	`, taskID, videoName)
	v, err := scanVideoTrack(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func (r *SQLiteRepository) ListVideoTracks(ctx context.Context, taskID int64) ([]*VideoTrack, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+videoTrackColumns+` FROM video_track WHERE cut_task_id = ? ORDER BY display, id
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []*VideoTrack
	for rows.Next() {
		v, err := scanVideoTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, v)
	}
	return tracks, rows.Err()
}

// ReplaceVideoTrack swaps the record of videoName for parts, which take its
// place on the timeline. Later clips shift right to make room. When
// videoName has no record the parts are appended.
func (r *SQLiteRepository) ReplaceVideoTrack(ctx context.Context, taskID int64, videoName string, parts []*VideoTrack) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	display := -1
	err = tx.QueryRowContext(ctx, `
		SELECT display FROM video_track WHERE cut_task_id = ? AND video_name = ?
	`, taskID, videoName).Scan(&display)
	switch {
	case err == sql.ErrNoRows:
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(display) + 1, 0) FROM video_track WHERE cut_task_id = ?
		`, taskID).Scan(&display); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM video_track WHERE cut_task_id = ? AND video_name = ?
		`, taskID, videoName); err != nil {
			return err
		}
		if shift := len(parts) - 1; shift > 0 {
			if _, err := tx.ExecContext(ctx, `
				UPDATE video_track SET display = display + ? WHERE cut_task_id = ? AND display > ?
			`, shift, taskID, display); err != nil {
				return err
			}
		}
	}

	for i, p := range parts {
		p.TaskID = taskID
		p.Display = display + i
		if err := insertVideoTrack(ctx, tx, p); err != nil {
			return fmt.Errorf("insert %s: %w", p.VideoName, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) UpdateVideoTrackAudio(ctx context.Context, taskID int64, videoName string, hasAudio bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE video_track SET has_audio = ? WHERE cut_task_id = ? AND video_name = ?
	`, boolToInt(hasAudio), taskID, videoName)
	return err
}

func (r *SQLiteRepository) UpdateVideoTrackLayout(ctx context.Context, taskID int64, videoName string, start, end float64, display int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE video_track SET start_time = ?, end_time = ?, display = ? WHERE cut_task_id = ? AND video_name = ?
	`, start, end, display, taskID, videoName)
	return err
}

func (r *SQLiteRepository) DeleteVideoTrack(ctx context.Context, taskID int64, videoName string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM video_track WHERE cut_task_id = ? AND video_name = ?
	`, taskID, videoName)
	return err
}

func (r *SQLiteRepository) NextDisplay(ctx context.Context, taskID int64) (int, error) {
	var next int
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(display) + 1, 0) FROM video_track WHERE cut_task_id = ?
	`, taskID).Scan(&next)
	return next, err
}

func (r *SQLiteRepository) CreateAudioTrack(ctx context.Context, a *AudioTrack) error {
	// re-extracting into the same name refreshes the existing row
	return r.db.QueryRowContext(ctx, `
		INSERT INTO audio_track (cut_task_id, audio_name, audio_time, start_time, display)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cut_task_id, audio_name) DO UPDATE SET
			audio_time = excluded.audio_time,
			start_time = excluded.start_time,
			display = excluded.display
		RETURNING id
	`, a.TaskID, a.AudioName, a.AudioTime, a.StartTime, a.Display).Scan(&a.ID)
}

func (r *SQLiteRepository) ListAudioTracks(ctx context.Context, taskID int64) ([]*AudioTrack, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, cut_task_id, audio_name, audio_time, start_time, display
		FROM audio_track WHERE cut_task_id = ? ORDER BY display, id
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []*AudioTrack
	for rows.Next() {
		var a AudioTrack
		if err := rows.Scan(&a.ID, &a.TaskID, &a.AudioName, &a.AudioTime, &a.StartTime, &a.Display); err != nil {
			return nil, err
		}
		tracks = append(tracks, &a)
	}
	return tracks, rows.Err()
}

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, workspace, target, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Type, j.Status, j.Workspace, j.Target, nullString(j.Error),
		j.CreatedAt.Format(time.RFC3339), j.UpdatedAt.Format(time.RFC3339))
	return err
}

const jobColumns = `id, type, status, workspace, target, error, created_at, updated_at`

func scanJob(s rowScanner) (*Job, error) {
	var j Job
	var errMsg sql.NullString
	var createdAt, updatedAt string
	if err := s.Scan(&j.ID, &j.Type, &j.Status, &j.Workspace, &j.Target, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	j.Error = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), time.Now().UTC().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// parseTime reads both RFC 3339 and sqlite datetime('now') values.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.DateTime, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
