// Package logs implements the daemon's audit trail: a JSON-lines sink for
// session and blob state-transition events, independent of the structured
// debug/info logging logrus emits to stderr. Adapted from the teacher's
// rotating per-server console writer — the rotation, retention cleanup, and
// "continue the existing current.log on restart" idioms are kept, but the
// ANSI-cleaning console-capture logic that writer existed for has no place
// in an audit trail and is dropped (see DESIGN.md).
package logs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Event is one audit record: a timestamped, typed state transition plus
// whatever structured fields the caller wants attached (session_id,
// payload_instance, blob_path, state, ...).
type Event struct {
	Time   time.Time              `json:"time"`
	Kind   string                 `json:"kind"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// maxFileBytes triggers an automatic rotation once the current audit file
// crosses this size, independent of the caller ever calling Rotate.
const maxFileBytes = 64 * 1024 * 1024

// Writer appends audit events as JSON lines to a single rotating file,
// maintaining a "current.log" symlink the same way the teacher's per-server
// writer does, so a restart picks the existing file back up instead of
// starting a new one every time.
type Writer struct {
	mu            sync.Mutex
	dir           string
	retentionDays int
	file          *os.File
	written       int64

	subMu       sync.RWMutex
	subscribers []chan Event
}

// NewWriter constructs a Writer rooted at dir, the directory holding audit
// log files and the "current.log" symlink.
func NewWriter(dir string, retentionDays int) *Writer {
	return &Writer{dir: dir, retentionDays: retentionDays}
}

// Subscribe registers a channel that receives every event LogEvent records
// from here on, for the admin surface's /events SSE stream. The same fanout
// shape as sol.Manager's console-data broadcast, repointed at audit events.
func (w *Writer) Subscribe() chan Event {
	ch := make(chan Event, 32)
	w.subMu.Lock()
	w.subscribers = append(w.subscribers, ch)
	w.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (w *Writer) Unsubscribe(ch chan Event) {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	for i, sub := range w.subscribers {
		if sub == ch {
			w.subscribers = append(w.subscribers[:i], w.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

func (w *Writer) broadcast(ev Event) {
	w.subMu.RLock()
	defer w.subMu.RUnlock()
	for _, ch := range w.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow subscriber drops events rather than blocking the audit
			// write path; the log file remains the durable record.
		}
	}
}

// LogEvent appends one audit event, rotating first if the current file has
// grown past maxFileBytes.
func (w *Writer) LogEvent(kind string, fields map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.getOrCreateFileLocked()
	if err != nil {
		return err
	}
	if w.written > maxFileBytes {
		if err := w.rotateLocked(""); err != nil {
			return err
		}
		f, err = w.getOrCreateFileLocked()
		if err != nil {
			return err
		}
	}

	ev := Event{Time: time.Now(), Kind: kind, Fields: fields}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("logs: marshal event: %w", err)
	}
	line = append(line, '\n')

	n, err := f.Write(line)
	w.written += int64(n)
	if err == nil {
		w.broadcast(ev)
	}
	return err
}

func (w *Writer) getOrCreateFileLocked() (*os.File, error) {
	if w.file != nil {
		return w.file, nil
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return nil, fmt.Errorf("logs: create audit log directory: %w", err)
	}

	symlinkPath := filepath.Join(w.dir, "current.log")
	if target, err := os.Readlink(symlinkPath); err == nil {
		existingPath := filepath.Join(w.dir, target)
		if f, err := os.OpenFile(existingPath, os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			if info, statErr := f.Stat(); statErr == nil {
				w.written = info.Size()
			}
			w.file = f
			log.WithField("path", existingPath).Info("continuing existing audit log")
			return f, nil
		}
	}

	filename := time.Now().Format("2006-01-02_15-04-05") + ".log"
	path := filepath.Join(w.dir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("logs: create audit log file: %w", err)
	}
	w.file = f
	w.written = 0

	os.Remove(symlinkPath)
	os.Symlink(filename, symlinkPath)
	log.WithField("path", path).Info("created audit log file")
	return f, nil
}

// Rotate closes the current audit file and starts a fresh one, named by
// timestamp; logName is accepted but not used.
func (w *Writer) Rotate(logName string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotateLocked(logName); err != nil {
		return "", err
	}
	f, err := w.getOrCreateFileLocked()
	if err != nil {
		return "", err
	}
	return filepath.Base(f.Name()), nil
}

func (w *Writer) rotateLocked(logName string) error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
		w.written = 0
	}
	symlinkPath := filepath.Join(w.dir, "current.log")
	os.Remove(symlinkPath)
	_ = logName // honored by getOrCreateFileLocked's timestamp naming; a
	// caller-chosen name isn't threaded further since audit files are
	// looked up by time range, not by name, when reviewing the trail.
	return nil
}

// Cleanup removes audit files older than the configured retention window.
func (w *Writer) Cleanup() {
	if w.retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -w.retentionDays)

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(w.dir, entry.Name())
			os.Remove(path)
			log.WithField("path", path).Info("cleaned up old audit log")
		}
	}
}

// Close flushes and closes the current audit file.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
}
