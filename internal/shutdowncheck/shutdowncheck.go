// Package shutdowncheck tracks whether the node exited cleanly, the same
// role go-ethereum's internal/shutdowncheck plays for geth: a startup marker
// is written and only cleared by a clean Stop, so the next startup can warn
// when the previous run ended abnormally (crash, SIGKILL, power loss).
package shutdowncheck

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

type record struct {
	StartedAt int64 `json:"startedAt"`
	Clean     bool  `json:"clean"`
}

// ShutdownTracker persists its marker under dir/shutdown_marker.
type ShutdownTracker struct {
	path string
	log  log.Logger
}

func New(dir string) *ShutdownTracker {
	return &ShutdownTracker{
		path: filepath.Join(dir, "shutdown_marker"),
		log:  log.New("module", "shutdown-check"),
	}
}

// MarkStartup checks the previous marker (if any) for an unclean exit, logs
// a warning if found, then writes a fresh dirty marker for this run.
func (t *ShutdownTracker) MarkStartup() {
	if raw, err := os.ReadFile(t.path); err == nil {
		var prev record
		if json.Unmarshal(raw, &prev) == nil && !prev.Clean {
			t.log.Warn("Node was not shut down cleanly, check for crashes or SIGKILLs",
				"lastStartup", time.Unix(prev.StartedAt, 0))
		}
	}
	t.write(record{StartedAt: time.Now().Unix(), Clean: false})
}

// Stop marks this run as having exited cleanly.
func (t *ShutdownTracker) Stop() {
	t.write(record{StartedAt: time.Now().Unix(), Clean: true})
}

func (t *ShutdownTracker) write(r record) {
	raw, err := json.Marshal(r)
	if err != nil {
		return
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		t.log.Warn("Failed to write shutdown marker", "err", err)
		return
	}
	if err := os.Rename(tmp, t.path); err != nil {
		t.log.Warn("Failed to persist shutdown marker", "err", err)
	}
}
