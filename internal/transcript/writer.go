package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aideepspeak/pkg/models"
)

// DefaultDir is where transcript files land unless the setup's logging
// config overrides it.
const DefaultDir = "meeting_logs"

// Writer persists a run's transcript to a timestamped JSON file. The run
// owns the transcript and hands the whole document to Write after every
// append, so the file on disk always reflects the turns recorded so far.
type Writer struct {
	mu   sync.Mutex
	path string
}

// NewWriter creates the transcript file location for one run. The short
// conversation id keeps concurrent runs from colliding on a shared
// timestamp.
func NewWriter(dir, conversationID string) (*Writer, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory %s: %w", dir, err)
	}

	stamp := time.Now().Format(models.FileTimeLayout)
	name := fmt.Sprintf("meeting_log_%s.json", stamp)
	if short := shortID(conversationID); short != "" {
		name = fmt.Sprintf("meeting_log_%s_%s.json", stamp, short)
	}

	return &Writer{path: filepath.Join(dir, name)}, nil
}

// Write replaces the transcript file with the given document.
func (w *Writer) Write(t models.Transcript) error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}
	if err := os.WriteFile(w.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write transcript %s: %w", w.path, err)
	}
	return nil
}

// Path returns the transcript file location.
func (w *Writer) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

// Load reads a transcript file back, for the API and archive layers.
func Load(path string) (models.Transcript, error) {
	var t models.Transcript

	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("failed to read transcript %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("failed to parse transcript %s: %w", path, err)
	}
	return t, nil
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
