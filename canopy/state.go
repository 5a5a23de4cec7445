package canopy

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RunStatus describes the state of the service's pipeline.
type RunStatus struct {
	Running   bool      `json:"running"`
	RunID     string    `json:"runId,omitempty"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	LastError string    `json:"lastError,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StateTracker holds the latest committed run result and the progress of
// the run in flight for HTTP endpoints.
type StateTracker struct {
	mu        sync.RWMutex
	latest    *Result
	status    RunStatus
	cachePath string // path to the result cache file; empty disables persistence
}

// NewStateTracker creates a new state tracker
func NewStateTracker() *StateTracker {
	return &StateTracker{}
}

// NewStateTrackerWithCache creates a state tracker that persists the latest
// result to cachePath. If the file exists, the cached result is loaded on
// creation.
func NewStateTrackerWithCache(cachePath string) *StateTracker {
	st := &StateTracker{cachePath: cachePath}
	if cachePath != "" {
		if res, err := LoadResult(cachePath); err == nil {
			st.latest = res
		}
	}
	return st
}

// Begin marks a run as started. It returns false if one is already running.
func (st *StateTracker) Begin() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.status.Running {
		return false
	}
	st.status = RunStatus{Running: true, UpdatedAt: time.Now()}
	return true
}

// Progress records a finished tile of the running run.
func (st *StateTracker) Progress(tp TileProgress) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status.Done = tp.Done
	st.status.Total = tp.Total
	st.status.UpdatedAt = time.Now()
}

// Finish ends the running run. A nil err commits res as the latest result;
// a failed run leaves the previous result in place.
func (st *StateTracker) Finish(res *Result, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.status.Running = false
	st.status.UpdatedAt = time.Now()
	if err != nil {
		st.status.LastError = err.Error()
		return
	}
	st.status.LastError = ""
	st.status.RunID = res.RunID
	st.latest = res

	if st.cachePath != "" {
		if err := SaveResult(st.cachePath, res); err != nil {
			log.Printf("Warning: failed to persist result cache: %v", err)
		}
	}
}

// Latest returns the most recent committed result.
func (st *StateTracker) Latest() (*Result, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.latest, st.latest != nil
}

// Status returns the current run status.
func (st *StateTracker) Status() RunStatus {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.status
}

// SaveResult writes a result as JSON, replacing path atomically.
func SaveResult(path string, res *Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".result-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadResult reads a result written by SaveResult.
func LoadResult(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &res, nil
}
