package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/freevideocut/cutagent/internal/jobs"
	"github.com/freevideocut/cutagent/internal/logging"
)

const recordTimeout = 5 * time.Second

// Recorder persists dispatcher events as job rows.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logging.WithComponent(logger, "recorder")}
}

// Attach subscribes the recorder to d.
func (r *Recorder) Attach(d *jobs.Dispatcher) {
	d.Observe(r.Handle)
}

// Handle records one event. Store failures are logged; they never affect
// the job itself.
func (r *Recorder) Handle(ev jobs.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	h := ev.Job
	var err error
	switch ev.Status {
	case jobs.StatusRunning:
		now := time.Now().UTC()
		err = r.repo.CreateJob(ctx, &Job{
			ID:        h.ID,
			Type:      h.Kind,
			Status:    JobStatusRunning,
			Workspace: h.Workspace,
			Target:    h.Target,
			CreatedAt: h.CreatedAt,
			UpdatedAt: now,
		})
	case jobs.StatusCompleted:
		err = r.repo.UpdateJobStatus(ctx, h.ID, JobStatusCompleted, "")
	case jobs.StatusFailed:
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		err = r.repo.UpdateJobStatus(ctx, h.ID, JobStatusFailed, msg)
	}
	if err != nil {
		logging.WithJobID(r.logger, h.ID).Warn("failed to record job event", "status", ev.Status, "error", err)
	}
}
