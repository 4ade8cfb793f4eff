package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ferrovax/ironclaw/pkg/logger"
	"github.com/ferrovax/ironclaw/pkg/session"
)

// ChatFunc adapts a plain function to the conversation side of Agent.
type ChatFunc func(ctx context.Context, sess *session.Session, message string) (string, error)

// Directory resolves agent definitions from a directory of JSON files,
// one per agent, and delegates conversation to an injected ChatFunc.
// It is the composition point for plugging a real engine into the
// gateway: the engine supplies Chat, the directory supplies Load.
type Directory struct {
	baseDir string
	chat    ChatFunc

	mu   sync.RWMutex
	defs map[string]Definition
}

// NewDirectory loads definitions from baseDir. A missing directory is
// created with a single default definition so a fresh install can talk.
func NewDirectory(baseDir string, chat ChatFunc) (*Directory, error) {
	d := &Directory{baseDir: baseDir, chat: chat, defs: make(map[string]Definition)}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create agents dir: %w", err)
	}
	if err := d.load(); err != nil {
		return nil, err
	}
	if len(d.defs) == 0 {
		def := Definition{ID: "default", Name: "Default"}
		if err := d.put(def); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Directory) load() error {
	entries, err := os.ReadDir(d.baseDir)
	if err != nil {
		return fmt.Errorf("scan agents dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(d.baseDir, entry.Name()))
		if err != nil {
			logger.WarnCF("agent", "Unreadable agent definition", map[string]interface{}{
				"file": entry.Name(), "error": err.Error(),
			})
			continue
		}
		var def Definition
		if err := json.Unmarshal(data, &def); err != nil {
			logger.WarnCF("agent", "Malformed agent definition", map[string]interface{}{
				"file": entry.Name(), "error": err.Error(),
			})
			continue
		}
		d.defs[def.ID] = def
	}
	return nil
}

func (d *Directory) put(def Definition) error {
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal agent definition: %w", err)
	}
	path := filepath.Join(d.baseDir, def.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write agent definition: %w", err)
	}
	d.defs[def.ID] = def
	return nil
}

// Load implements Agent.
func (d *Directory) Load(agentID string) (Definition, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def, ok := d.defs[agentID]
	if !ok {
		return Definition{}, ErrAgentNotFound
	}
	return def, nil
}

// Chat implements Agent by delegating to the injected function.
func (d *Directory) Chat(ctx context.Context, sess *session.Session, message string) (string, error) {
	if d.chat == nil {
		return "", fmt.Errorf("no conversation engine configured")
	}
	return d.chat(ctx, sess, message)
}

// EchoChat is the built-in placeholder engine: it acknowledges the
// message so the gateway can be exercised end to end before a real
// engine is plugged in.
func EchoChat(_ context.Context, _ *session.Session, message string) (string, error) {
	return "received: " + message, nil
}
