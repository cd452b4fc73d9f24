// Package playback serves workspace media files (clips, thumbnails, audio
// and the final video) to the presentation layer with range support.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/freevideocut/cutagent/internal/logging"
	"github.com/freevideocut/cutagent/internal/workspace"
)

var (
	ErrNotFound  = errors.New("media not found")
	ErrForbidden = errors.New("media path not allowed")
)

// partialMarker tags outputs that are still being written.
const partialMarker = ".partial."

// mediaTypes covers what a workspace holds; the platform mime table does
// not always know them.
var mediaTypes = map[string]string{
	".mp4": "video/mp4",
	".mov": "video/quicktime",
	".mkv": "video/x-matroska",
	".mp3": "audio/mpeg",
	".png": "image/png",
	".txt": "text/plain; charset=utf-8",
}

type MediaService interface {
	ServeMedia(w http.ResponseWriter, r *http.Request, ws, rel string) error
}

type Server struct {
	layout workspace.Layout
	logger *slog.Logger
}

func NewServer(layout workspace.Layout, logger *slog.Logger) *Server {
	return &Server{layout: layout, logger: logging.WithComponent(logger, "playback")}
}

// Resolve maps a slash-separated path inside workspace ws onto the
// filesystem. Only files under one of the workspace role directories are
// reachable; hidden files and in-progress outputs are not.
func (s *Server) Resolve(ws, rel string) (string, error) {
	if err := workspace.ValidateName(ws); err != nil {
		return "", fmt.Errorf("%w: workspace %q", ErrForbidden, ws)
	}
	if rel == "" || strings.Contains(rel, `\`) || strings.ContainsRune(rel, 0) {
		return "", fmt.Errorf("%w: %q", ErrForbidden, rel)
	}

	parts := strings.Split(rel, "/")
	if len(parts) < 2 || !isRole(parts[0]) {
		return "", fmt.Errorf("%w: %q", ErrForbidden, rel)
	}
	for _, p := range parts {
		if p == "" || p == ".." || strings.HasPrefix(p, ".") {
			return "", fmt.Errorf("%w: %q", ErrForbidden, rel)
		}
	}
	if strings.Contains(path.Base(rel), partialMarker) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, rel)
	}

	return filepath.Join(s.layout.Workspace(ws), filepath.FromSlash(rel)), nil
}

func isRole(name string) bool {
	for _, r := range workspace.Roles {
		if string(r) == name {
			return true
		}
	}
	return false
}

// ServeMedia writes the file at rel inside workspace ws. Range, HEAD and
// conditional requests are handled by http.ServeContent.
func (s *Server) ServeMedia(w http.ResponseWriter, r *http.Request, ws, rel string) error {
	filePath, err := s.Resolve(ws, rel)
	if err != nil {
		return err
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return fmt.Errorf("open media: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat media: %w", err)
	}
	if stat.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrNotFound, rel)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	contentType, ok := mediaTypes[ext]
	if !ok {
		contentType = mime.TypeByExtension(ext)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	// clips are rewritten in place when their audio is extracted
	w.Header().Set("Cache-Control", "no-cache")

	s.logger.Debug("serving media", "workspace", ws, "path", rel, "size", stat.Size())
	http.ServeContent(w, r, stat.Name(), stat.ModTime(), file)
	return nil
}
