package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Outbox is the write-ahead store for outbound events. Records live in
// pending/ from the moment they are written until delivery is
// acknowledged; records that exhaust delivery retries or hit a permanent
// error are moved to failed/ for operator inspection.
//
// Only the event bus writes here and only the delivery path removes.
type Outbox struct {
	pendingDir string
	failedDir  string
}

// NewOutbox creates the pending/ and failed/ directories under baseDir.
func NewOutbox(baseDir string) (*Outbox, error) {
	ob := &Outbox{
		pendingDir: filepath.Join(baseDir, "pending"),
		failedDir:  filepath.Join(baseDir, "failed"),
	}
	for _, dir := range []string{ob.pendingDir, ob.failedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create outbox dir %s: %w", dir, err)
		}
	}
	return ob, nil
}

// Write durably persists an outbound event and returns the record name.
// The record is written to a temp file, fsynced, then atomically renamed
// into pending/ so it is never partially visible under its final name.
func (ob *Outbox) Write(ev Event) (string, error) {
	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	// The random suffix keeps two same-nanosecond events for one session
	// from renaming onto the same record.
	name := fmt.Sprintf("%d_%s_%s.json", ev.Timestamp.UnixNano(), sanitizeID(ev.SessionID), uuid.NewString()[:8])
	final := filepath.Join(ob.pendingDir, name)

	tmp, err := os.CreateTemp(ob.pendingDir, name+".tmp")
	if err != nil {
		return "", fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("sync record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close record: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("commit record: %w", err)
	}
	ob.syncDir()
	return name, nil
}

// syncDir flushes the pending/ directory entry itself. Best effort: some
// filesystems refuse directory fsync.
func (ob *Outbox) syncDir() {
	dir, err := os.Open(ob.pendingDir)
	if err != nil {
		return
	}
	defer dir.Close()
	dir.Sync()
}

// Ack deletes a record after confirmed successful delivery.
func (ob *Outbox) Ack(name string) error {
	if err := os.Remove(filepath.Join(ob.pendingDir, name)); err != nil {
		return fmt.Errorf("ack %s: %w", name, err)
	}
	return nil
}

// Fail moves a record to failed/, the terminal dead-letter path.
func (ob *Outbox) Fail(name string) error {
	src := filepath.Join(ob.pendingDir, name)
	dst := filepath.Join(ob.failedDir, name)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("dead-letter %s: %w", name, err)
	}
	return nil
}

// List returns pending record names, oldest first. The timestamp prefix
// makes lexical order chronological.
func (ob *Outbox) List() ([]string, error) {
	entries, err := os.ReadDir(ob.pendingDir)
	if err != nil {
		return nil, fmt.Errorf("scan pending: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Read loads a pending record by name.
func (ob *Outbox) Read(name string) (Event, error) {
	data, err := os.ReadFile(filepath.Join(ob.pendingDir, name))
	if err != nil {
		return Event{}, fmt.Errorf("read record %s: %w", name, err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode record %s: %w", name, err)
	}
	ev.Record = name
	return ev, nil
}

// PendingCount and FailedCount report queue depths for status output.
func (ob *Outbox) PendingCount() int { return ob.count(ob.pendingDir) }

func (ob *Outbox) FailedCount() int { return ob.count(ob.failedDir) }

func (ob *Outbox) count(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			n++
		}
	}
	return n
}
