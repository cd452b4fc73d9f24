package workspace

import (
	"strconv"
	"sync"
	"time"
)

// IDs hands out millisecond-timestamp stems that are strictly increasing
// within a workspace, even when the clock has not advanced or steps back.
type IDs struct {
	mu   sync.Mutex
	last map[string]int64
	now  func() time.Time
}

func NewIDs() *IDs {
	return &IDs{last: make(map[string]int64), now: time.Now}
}

// Next returns the next stem for workspace.
func (g *IDs) Next(workspace string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if last, ok := g.last[workspace]; ok && ms <= last {
		ms = last + 1
	}
	g.last[workspace] = ms
	return strconv.FormatInt(ms, 10)
}

// NextFree returns the next stem for which taken reports false. It guards
// against stems left on disk by a previous process whose clock ran ahead.
func (g *IDs) NextFree(workspace string, taken func(stem string) bool) string {
	for {
		stem := g.Next(workspace)
		if taken == nil || !taken(stem) {
			return stem
		}
	}
}
