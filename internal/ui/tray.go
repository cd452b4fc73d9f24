// Package ui shows the agent in the system tray: what it is working on,
// and a way to quit.
package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/freevideocut/cutagent/internal/catalog"
	"github.com/freevideocut/cutagent/internal/jobs"
	"github.com/freevideocut/cutagent/internal/logging"
)

const refreshInterval = 2 * time.Second

// JobSource reports in-flight background jobs.
type JobSource interface {
	Active() []*jobs.Handle
}

// TaskLister lists the cut tasks the agent knows about.
type TaskLister interface {
	ListTasks(ctx context.Context) ([]*catalog.Task, error)
}

type Tray struct {
	jobs   JobSource
	tasks  TaskLister
	port   int
	logger *slog.Logger

	statusItem *systray.MenuItem
	tasksItem  *systray.MenuItem

	mu   sync.Mutex
	stop chan struct{}

	onQuit func()
}

type TrayConfig struct {
	Jobs   JobSource
	Tasks  TaskLister
	Port   int
	Logger *slog.Logger
	OnQuit func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		jobs:   cfg.Jobs,
		tasks:  cfg.Tasks,
		port:   cfg.Port,
		logger: logging.WithComponent(cfg.Logger, "tray"),
		stop:   make(chan struct{}),
		onQuit: cfg.OnQuit,
	}
}

// Run blocks on the platform event loop until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("CutAgent")
	systray.SetTooltip(fmt.Sprintf("CutAgent on 127.0.0.1:%d", t.port))

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current agent status")
	t.statusItem.Disable()

	t.tasksItem = systray.AddMenuItem(tasksText(0), "Cut tasks in the workspace root")
	t.tasksItem.Disable()

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit CutAgent")

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		t.refresh()
		for {
			select {
			case <-ticker.C:
				t.refresh()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			case <-t.stop:
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.jobs != nil {
		t.statusItem.SetTitle("Status: " + statusText(t.jobs.Active()))
	}
	if t.tasks != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		tasks, err := t.tasks.ListTasks(ctx)
		if err != nil {
			t.logger.Warn("list tasks for tray failed", "error", err)
			return
		}
		t.tasksItem.SetTitle(tasksText(len(tasks)))
	}
}

// statusText summarizes in-flight jobs for the status menu item.
func statusText(active []*jobs.Handle) string {
	if len(active) == 0 {
		return "Idle"
	}
	var synth, thumbs int
	for _, h := range active {
		switch h.Kind {
		case jobs.KindSynthesis:
			synth++
		case jobs.KindThumbnails:
			thumbs++
		}
	}
	switch {
	case synth > 0 && thumbs > 0:
		return fmt.Sprintf("Rendering %d, thumbnails %d", synth, thumbs)
	case synth > 0:
		return fmt.Sprintf("Rendering %d", synth)
	case thumbs > 0:
		return fmt.Sprintf("Thumbnails %d", thumbs)
	}
	return fmt.Sprintf("Busy (%d jobs)", len(active))
}

func tasksText(n int) string {
	if n == 1 {
		return "1 cut task"
	}
	return fmt.Sprintf("%d cut tasks", n)
}

// Quit stops the refresh loop and closes the tray.
func (t *Tray) Quit() {
	t.mu.Lock()
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	t.mu.Unlock()
	systray.Quit()
}
