// Package metrics appends pipeline events to a JSON-lines file. The
// log is append-only and tolerant on read: a truncated or garbled
// line never hides the rest of a run's history.
package metrics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/keyframe.report/internal/monitoring"
	"github.com/banshee-data/keyframe.report/internal/timeutil"
)

// DedupWindow is how long an identical event (same type and clip) is
// suppressed after being written.
const DedupWindow = 5 * time.Second

// Event is one line of the metrics log.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	RunID     string            `json:"run_id"`
	ClipID    string            `json:"clip_id,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Recorder writes events for a single run. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	file     *os.File
	runID    string
	lastSeen map[string]time.Time
	clock    timeutil.Clock
}

// NewRecorder opens (or creates) the log at path in append mode.
func NewRecorder(path, runID string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open metrics log: %w", err)
	}
	return &Recorder{
		file:     f,
		runID:    runID,
		lastSeen: make(map[string]time.Time),
		clock:    timeutil.RealClock{},
	}, nil
}

// SetRunID stamps subsequent events with the given run id. The
// pipeline calls this once it has minted one.
func (r *Recorder) SetRunID(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runID = runID
}

// Record appends one event unless an identical one was written within
// DedupWindow. Write failures are logged, not returned; metrics must
// never take the pipeline down.
func (r *Recorder) Record(eventType, clipID string, extra map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	key := eventType + "\x00" + clipID
	if last, ok := r.lastSeen[key]; ok && now.Sub(last) < DedupWindow {
		return
	}
	r.lastSeen[key] = now

	ev := Event{
		Timestamp: now.UTC(),
		EventType: eventType,
		RunID:     r.runID,
		ClipID:    clipID,
		Extra:     extra,
	}
	line, err := json.Marshal(ev)
	if err != nil {
		monitoring.Logf("metrics: marshal %s event: %v", eventType, err)
		return
	}
	if _, err := r.file.Write(append(line, '\n')); err != nil {
		monitoring.Logf("metrics: write %s event: %v", eventType, err)
	}
}

// Close flushes and closes the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

// ReadEvents loads every parseable event from a metrics log, skipping
// lines that fail to decode.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metrics log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			monitoring.Logf("metrics: skipping unparseable line: %v", err)
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("scan metrics log: %w", err)
	}
	return events, nil
}
