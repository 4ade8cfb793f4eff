package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ferrovax/ironclaw/pkg/bus"
	"github.com/ferrovax/ironclaw/pkg/logger"
)

// HistoryError is a typed error for session persistence failures.
type HistoryError string

func (e HistoryError) Error() string { return string(e) }

// ErrSessionNotFound means no history exists for the requested id.
const ErrSessionNotFound HistoryError = "session not found"

const (
	// DefaultWindowSize bounds the in-memory context window.
	DefaultWindowSize = 50
	// DefaultChunkMaxBytes rotates history chunks at roughly this size.
	DefaultChunkMaxBytes = 256 * 1024

	metaFile    = "meta.json"
	chunkPrefix = "chunk-"
	chunkSuffix = ".jsonl"
)

type sessionMeta struct {
	ID      string   `json:"id"`
	AgentID string   `json:"agent_id"`
	Mode    bus.Mode `json:"mode"`
}

// Store is the durable, chunked conversation log. Each session owns a
// directory of numbered JSONL chunk files plus a small metadata file.
// Only the agent worker writes here.
type Store struct {
	baseDir       string
	windowSize    int
	chunkMaxBytes int64
	mu            sync.Mutex
}

// NewStore creates a history store rooted at baseDir. Zero values for
// windowSize and chunkMaxBytes select the defaults.
func NewStore(baseDir string, windowSize int, chunkMaxBytes int64) (*Store, error) {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if chunkMaxBytes <= 0 {
		chunkMaxBytes = DefaultChunkMaxBytes
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &Store{baseDir: baseDir, windowSize: windowSize, chunkMaxBytes: chunkMaxBytes}, nil
}

func (st *Store) sessionDir(id string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '-'
		}
		return r
	}, id)
	return filepath.Join(st.baseDir, safe)
}

// Create starts a brand-new session under the given id. Any existing
// history for the id is left alone; the new session simply appends.
func (st *Store) Create(id, agentID string, mode bus.Mode) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	dir := st.sessionDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	meta := sessionMeta{ID: id, AgentID: agentID, Mode: mode}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal session meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("write session meta: %w", err)
	}
	return &Session{ID: id, AgentID: agentID, Mode: mode, windowMax: st.windowSize}, nil
}

// Resume loads a session, rebuilding the window from the newest history
// chunks. Returns ErrSessionNotFound when the id has no history.
func (st *Store) Resume(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	dir := st.sessionDir(id)
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session meta: %w", err)
	}
	var meta sessionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		logger.WarnCF("session", "Corrupt session metadata", map[string]interface{}{
			"session": id,
			"error":   err.Error(),
		})
		return nil, ErrSessionNotFound
	}

	window, err := st.loadTail(dir)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        meta.ID,
		AgentID:   meta.AgentID,
		Mode:      meta.Mode,
		window:    window,
		windowMax: st.windowSize,
	}, nil
}

// loadTail reads the most recent windowSize messages, walking chunks
// newest-first until the window is full.
func (st *Store) loadTail(dir string) ([]Message, error) {
	chunks, err := st.chunkNames(dir)
	if err != nil {
		return nil, err
	}

	var window []Message
	for i := len(chunks) - 1; i >= 0 && len(window) < st.windowSize; i-- {
		msgs, err := readChunk(filepath.Join(dir, chunks[i]))
		if err != nil {
			return nil, err
		}
		window = append(msgs, window...)
	}
	if len(window) > st.windowSize {
		window = window[len(window)-st.windowSize:]
	}
	return window, nil
}

// Save appends a session's unsaved messages to the active chunk,
// rotating to a fresh chunk once the active one exceeds the size cap.
func (st *Store) Save(sess *Session) error {
	msgs := sess.drainUnsaved()
	if len(msgs) == 0 {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	dir := st.sessionDir(sess.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		sess.restoreUnsaved(msgs)
		return fmt.Errorf("create session dir: %w", err)
	}

	name, err := st.activeChunk(dir)
	if err != nil {
		sess.restoreUnsaved(msgs)
		return err
	}

	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		sess.restoreUnsaved(msgs)
		return fmt.Errorf("open chunk: %w", err)
	}
	defer f.Close()

	for _, msg := range msgs {
		line, err := json.Marshal(msg)
		if err != nil {
			sess.restoreUnsaved(msgs)
			return fmt.Errorf("marshal message: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			sess.restoreUnsaved(msgs)
			return fmt.Errorf("append message: %w", err)
		}
	}
	return f.Sync()
}

// activeChunk picks the chunk to append to, rotating when the newest one
// is over the byte cap.
func (st *Store) activeChunk(dir string) (string, error) {
	chunks, err := st.chunkNames(dir)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return chunkName(1), nil
	}
	last := chunks[len(chunks)-1]
	info, err := os.Stat(filepath.Join(dir, last))
	if err != nil {
		return "", fmt.Errorf("stat chunk: %w", err)
	}
	if info.Size() >= st.chunkMaxBytes {
		return chunkName(len(chunks) + 1), nil
	}
	return last, nil
}

func (st *Store) chunkNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, chunkPrefix) && strings.HasSuffix(name, chunkSuffix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func chunkName(n int) string {
	return fmt.Sprintf("%s%06d%s", chunkPrefix, n, chunkSuffix)
}

func readChunk(path string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chunk: %w", err)
	}
	defer f.Close()

	var msgs []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			// A torn tail write loses one message, not the session.
			logger.WarnCF("session", "Skipping corrupt history line", map[string]interface{}{
				"chunk": path,
				"error": err.Error(),
			})
			continue
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read chunk: %w", err)
	}
	return msgs, nil
}
