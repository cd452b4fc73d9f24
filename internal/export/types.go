package export

import "errors"

var (
	ErrNoEvents         = errors.New("track has no clips to export")
	ErrInvalidOutputDir = errors.New("invalid output_dir")
)

// DefaultFrameRate is used when a request leaves the frame rate unset.
const DefaultFrameRate = 30.0

// Request asks for a workspace's track layout as an edit decision list.
// An empty OutputDir returns the list without writing it.
type Request struct {
	Title     string  `json:"title"`
	FrameRate float64 `json:"frame_rate"`
	OutputDir string  `json:"output_dir"`
}

// Event is one clip trimmed to its window, in seconds of source time.
type Event struct {
	Reel      string
	ClipName  string
	MediaPath string
	In        float64
	Out       float64
	Audio     bool
}

type Result struct {
	Title      string  `json:"title"`
	FrameRate  float64 `json:"frame_rate"`
	EventCount int     `json:"event_count"`
	OutputPath string  `json:"output_path,omitempty"`
	EDL        string  `json:"edl"`
}
