package transcoder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// writeManifest writes a concat demuxer list into a temp file and returns
// its path. The caller removes it.
func writeManifest(paths []string) (string, error) {
	f, err := os.CreateTemp("", "cutagent-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create manifest: %w", err)
	}
	name := f.Name()

	var b strings.Builder
	for _, p := range paths {
		b.WriteString(manifestLine(p))
		b.WriteByte('\n')
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("write manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close manifest: %w", err)
	}
	return name, nil
}

// manifestLine renders one `file '<path>'` entry. The concat demuxer reads
// single-quoted strings, so embedded quotes are closed, escaped and reopened.
func manifestLine(path string) string {
	p := filepath.FromSlash(path)
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return "file '" + strings.ReplaceAll(p, "'", `'\''`) + "'"
}
