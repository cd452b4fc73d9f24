package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/freevideocut/cutagent/internal/config"
	"github.com/freevideocut/cutagent/internal/transcoder"
)

var errDoctorFailed = errors.New("one or more checks failed")

func newDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check ffmpeg and the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			rows, ok := doctorRows(cmd.Context(), cfg)
			fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues("cutagent doctor", rows))
			if !ok {
				return errDoctorFailed
			}
			return nil
		},
	}
}

func doctorRows(ctx context.Context, cfg config.Config) ([][2]string, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	ok := true
	rows := [][2]string{{"Version", config.Version}}

	configFile := cfg.File()
	if configFile == "" {
		configFile = "(defaults)"
	}
	rows = append(rows, [2]string{"Config file", configFile})

	ffmpeg, err := transcoder.ResolveBinary("ffmpeg", cfg.FFmpegPath(), cfg.BinDir())
	if err != nil {
		ok = false
		ffmpeg = "missing: " + err.Error()
	}
	rows = append(rows, [2]string{"ffmpeg", ffmpeg})

	ffprobe, err := transcoder.ResolveBinary("ffprobe", cfg.FFprobePath(), cfg.BinDir())
	if err != nil {
		ok = false
		ffprobe = "missing: " + err.Error()
	}
	rows = append(rows, [2]string{"ffprobe", ffprobe})

	if ok {
		version := "unknown"
		tc, err := transcoder.New(transcoder.Config{
			FFmpegPath:  cfg.FFmpegPath(),
			FFprobePath: cfg.FFprobePath(),
			BinDir:      cfg.BinDir(),
		})
		if err == nil {
			vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if v, err := tc.Version(vctx); err == nil {
				version = v
			} else {
				ok = false
				version = "failed: " + err.Error()
			}
			cancel()
		}
		rows = append(rows, [2]string{"ffmpeg version", version})
	}

	rows = append(rows,
		[2]string{"Data dir", cfg.DataDir()},
		[2]string{"Workspace root", describeWorkspaceRoot(cfg.WorkspaceRoot())},
		[2]string{"Database", describeDB(cfg.DBPath())},
		[2]string{"Thumbnail interval", cfg.ThumbnailInterval().String()},
		[2]string{"Port", fmt.Sprintf("%d", cfg.Port())},
	)
	return rows, ok
}

func describeWorkspaceRoot(root string) string {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return root + " (not created yet)"
		}
		return root + " (" + err.Error() + ")"
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			n++
		}
	}
	return fmt.Sprintf("%s (%d workspaces)", root, n)
}

func describeDB(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return path + " (not created yet)"
	}
	return fmt.Sprintf("%s (%s)", path, humanize.Bytes(uint64(info.Size())))
}
