package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"pqproxy/application"
)

// StatusWriter persists status and summary snapshots as JSON, atomically
// (write to a temp file in the same directory, then rename). Either path may
// be empty to disable that file.
type StatusWriter struct {
	statusPath  string
	summaryPath string
	logger      application.Logger
}

func NewStatusWriter(statusPath, summaryPath string, logger application.Logger) *StatusWriter {
	return &StatusWriter{
		statusPath:  statusPath,
		summaryPath: summaryPath,
		logger:      logger,
	}
}

// summary mirrors the status object reduced to the fields long-running
// tooling consumes between runs.
type summary struct {
	State          State  `json:"state"`
	Role           string `json:"role"`
	Suite          string `json:"suite,omitempty"`
	Epoch          uint8  `json:"epoch"`
	RekeysOK       uint64 `json:"rekeys_ok"`
	RekeysFail     uint64 `json:"rekeys_fail"`
	LastRekeySuite string `json:"last_rekey_suite,omitempty"`
}

// Write persists the snapshot. Failures are logged, never fatal: status
// files are an observability surface, not a dependency of the dataplane.
func (w *StatusWriter) Write(status Status) {
	if w.statusPath != "" {
		if err := writeJSONAtomic(w.statusPath, status); err != nil {
			w.logger.Printf("failed to write status file: %v", err)
		}
	}
	if w.summaryPath != "" {
		s := summary{
			State:          status.State,
			Role:           status.Role,
			Suite:          status.Suite,
			Epoch:          status.Epoch,
			RekeysOK:       status.Counters.RekeysOK,
			RekeysFail:     status.Counters.RekeysFail,
			LastRekeySuite: status.Counters.LastRekeySuite,
		}
		if err := writeJSONAtomic(w.summaryPath, s); err != nil {
			w.logger.Printf("failed to write summary file: %v", err)
		}
	}
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
