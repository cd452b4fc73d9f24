// Package workspace maps cut-task workspaces onto the filesystem and manages
// their directory trees and imported sources.
package workspace

import (
	"errors"
	"path/filepath"
	"strings"
)

// Role names one of the three sub-areas inside a workspace.
type Role string

const (
	RoleImport     Role = "import"
	RoleVideoTrack Role = "videoTrack"
	RoleFinalVideo Role = "final_video"
)

// Roles lists every sub-area created with a workspace.
var Roles = []Role{RoleImport, RoleVideoTrack, RoleFinalVideo}

const (
	ClipExt       = ".mp4"
	AudioExt      = ".mp3"
	SentinelName  = "ok.txt"
	synthLockName = ".synthesis.lock"
)

var (
	ErrInvalidName = errors.New("invalid workspace name")
	ErrFilesystem  = errors.New("filesystem error")
)

// Layout resolves workspace paths under a single root storage location.
// It performs no I/O; malformed names produce unusable paths that the
// consuming filesystem call rejects.
type Layout struct {
	Root string
}

func NewLayout(root string) Layout {
	return Layout{Root: root}
}

func (l Layout) Workspace(name string) string {
	return filepath.Join(l.Root, name)
}

func (l Layout) Dir(name string, role Role) string {
	return filepath.Join(l.Root, name, string(role))
}

func (l Layout) ClipFile(name, clipID string) string {
	return filepath.Join(l.Dir(name, RoleVideoTrack), clipID+ClipExt)
}

func (l Layout) ThumbnailDir(name, thumbnailID string) string {
	return filepath.Join(l.Dir(name, RoleVideoTrack), thumbnailID)
}

func (l Layout) AudioFile(name, stem string) string {
	return filepath.Join(l.Dir(name, RoleVideoTrack), stem+AudioExt)
}

func (l Layout) ImportFile(name, importName string) string {
	return filepath.Join(l.Dir(name, RoleImport), importName)
}

func (l Layout) FinalFile(name, output string) string {
	return filepath.Join(l.Dir(name, RoleFinalVideo), output)
}

func (l Layout) Sentinel(name string) string {
	return filepath.Join(l.Dir(name, RoleFinalVideo), SentinelName)
}

func (l Layout) SynthesisLock(name string) string {
	return filepath.Join(l.Workspace(name), synthLockName)
}

// ValidateName rejects names that are not a single, plain path element.
// Workspace names, clip ids and file names handed in by the presentation
// layer all go through it before touching the filesystem.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return ErrInvalidName
	}
	if filepath.VolumeName(name) != "" {
		return ErrInvalidName
	}
	return nil
}
