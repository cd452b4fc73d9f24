package transcoder

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ResourceBinDir is where packaged builds place the ffmpeg binaries,
// relative to the directory holding the agent executable.
var ResourceBinDir = filepath.Join("third_party", "ffmpeg", "bin")

// ResolveBinary finds the named tool. Lookup order: an explicit configured
// path, binDir, the resource directory next to the executable, then PATH.
func ResolveBinary(name, configured, binDir string) (string, error) {
	if configured != "" {
		if p, err := exec.LookPath(configured); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, configured)
	}

	file := name
	if runtime.GOOS == "windows" {
		file += ".exe"
	}

	var dirs []string
	if binDir != "" {
		dirs = append(dirs, binDir)
	}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Join(filepath.Dir(exe), ResourceBinDir))
	}
	for _, dir := range dirs {
		candidate := filepath.Join(dir, file)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("no %s binary found (tried %v and PATH)", name, dirs)
}
