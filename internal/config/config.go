// Package config provides configuration management for the cut agent.
// Settings come from built-in defaults, then an optional config.toml in the
// data directory, then environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// Default values
	DefaultPort              = 8790
	DefaultLogLevel          = "info"
	DefaultDataDir           = ".cutagent"
	DefaultThumbnailInterval = 5 * time.Second

	// Environment variable names
	EnvConfigFile        = "CUTAGENT_CONFIG"
	EnvPort              = "CUTAGENT_PORT"
	EnvLogLevel          = "CUTAGENT_LOG_LEVEL"
	EnvDataDir           = "CUTAGENT_DATA_DIR"
	EnvWorkspaceRoot     = "CUTAGENT_WORKSPACE_ROOT"
	EnvFFmpeg            = "CUTAGENT_FFMPEG"
	EnvFFprobe           = "CUTAGENT_FFPROBE"
	EnvBinDir            = "CUTAGENT_BIN_DIR"
	EnvThumbnailInterval = "CUTAGENT_THUMBNAIL_INTERVAL"
	EnvHeadless          = "CUTAGENT_HEADLESS"

	// FileName is looked up in the data directory unless EnvConfigFile names
	// another file.
	FileName = "config.toml"

	// DBFilename is the metadata store inside the data directory.
	DBFilename = "cutagent.db"

	workspacesDir = "workspaces"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	WorkspaceRoot() string
	FFmpegPath() string
	FFprobePath() string
	BinDir() string
	ThumbnailInterval() time.Duration
	Headless() bool
	File() string
}

// fileConfig mirrors config.toml. Zero values leave the default in place.
type fileConfig struct {
	Port              int    `toml:"port"`
	LogLevel          string `toml:"log_level"`
	WorkspaceRoot     string `toml:"workspace_root"`
	FFmpeg            string `toml:"ffmpeg"`
	FFprobe           string `toml:"ffprobe"`
	BinDir            string `toml:"bin_dir"`
	ThumbnailInterval string `toml:"thumbnail_interval"`
	Headless          bool   `toml:"headless"`
}

// EnvConfig is the resolved configuration.
type EnvConfig struct {
	port              int
	logLevel          string
	dataDir           string
	workspaceRoot     string
	ffmpegPath        string
	ffprobePath       string
	binDir            string
	thumbnailInterval time.Duration
	headless          bool
	file              string
}

// New creates a new EnvConfig with defaults, config file values and
// environment variable overrides applied in that order.
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:              DefaultPort,
		logLevel:          DefaultLogLevel,
		dataDir:           defaultDataDir(),
		thumbnailInterval: DefaultThumbnailInterval,
	}
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	path := os.Getenv(EnvConfigFile)
	explicit := path != ""
	if !explicit {
		path = filepath.Join(cfg.dataDir, FileName)
	}
	if err := cfg.loadFile(path, explicit); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.workspaceRoot == "" {
		cfg.workspaceRoot = filepath.Join(cfg.dataDir, workspacesDir)
	}
	return cfg, nil
}

// loadFile decodes the config file at path. A missing file is fine unless
// it was named explicitly.
func (c *EnvConfig) loadFile(path string, explicit bool) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var fc fileConfig
	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.file = path

	if fc.Port != 0 {
		if err := validatePort(fc.Port); err != nil {
			return fmt.Errorf("invalid port in %s: %w", path, err)
		}
		c.port = fc.Port
	}
	if fc.LogLevel != "" {
		c.logLevel = fc.LogLevel
	}
	if fc.WorkspaceRoot != "" {
		c.workspaceRoot = fc.WorkspaceRoot
	}
	if fc.FFmpeg != "" {
		c.ffmpegPath = fc.FFmpeg
	}
	if fc.FFprobe != "" {
		c.ffprobePath = fc.FFprobe
	}
	if fc.BinDir != "" {
		c.binDir = fc.BinDir
	}
	if fc.ThumbnailInterval != "" {
		d, err := parseInterval(fc.ThumbnailInterval)
		if err != nil {
			return fmt.Errorf("invalid thumbnail_interval in %s: %w", path, err)
		}
		c.thumbnailInterval = d
	}
	c.headless = fc.Headless
	return nil
}

func (c *EnvConfig) applyEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if err := validatePort(port); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}
	if wr := os.Getenv(EnvWorkspaceRoot); wr != "" {
		c.workspaceRoot = wr
	}
	if v := os.Getenv(EnvFFmpeg); v != "" {
		c.ffmpegPath = v
	}
	if v := os.Getenv(EnvFFprobe); v != "" {
		c.ffprobePath = v
	}
	if v := os.Getenv(EnvBinDir); v != "" {
		c.binDir = v
	}

	if v := os.Getenv(EnvThumbnailInterval); v != "" {
		d, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvThumbnailInterval, err)
		}
		c.thumbnailInterval = d
	}

	if v := os.Getenv(EnvHeadless); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.headless = b
	}
	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// parseInterval accepts a Go duration ("2.5s") or plain seconds ("5").
func parseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	d, err := time.ParseDuration(s)
	if err != nil {
		secs, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, err
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// WorkspaceRoot returns the root storage location holding every workspace.
func (c *EnvConfig) WorkspaceRoot() string {
	return c.workspaceRoot
}

// FFmpegPath returns the configured ffmpeg binary, empty to search for it.
func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

// BinDir returns the bundled binaries directory, empty for the default.
func (c *EnvConfig) BinDir() string {
	return c.binDir
}

func (c *EnvConfig) ThumbnailInterval() time.Duration {
	return c.thumbnailInterval
}

// Headless reports whether the tray icon is disabled.
func (c *EnvConfig) Headless() bool {
	return c.headless
}

// File returns the config file that was loaded, or "".
func (c *EnvConfig) File() string {
	return c.file
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
