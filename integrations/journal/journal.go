package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"kusdcore/core/events"
	"kusdcore/core/types"
)

// Entry is one journal line. Attributes carry the event payload verbatim.
type Entry struct {
	At         string            `json:"at"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// payloadEvent is satisfied by the typed event wrappers the engines emit;
// it exposes the underlying attribute map for serialization.
type payloadEvent interface {
	Event() *types.Event
}

// Journal appends every emitted protocol event to a JSON Lines file, one
// object per line. It satisfies events.Emitter so it can be teed in next to
// the RPC stream. A failed append poisons the journal: later emits are
// skipped and Err reports the failure, so the trail never has silent holes
// in the middle.
type Journal struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	err     error
	nowFn   func() time.Time
}

// Open opens or creates the journal file for appending.
func Open(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("journal: path required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: create directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	encoder := json.NewEncoder(file)
	encoder.SetEscapeHTML(false)
	return &Journal{file: file, encoder: encoder, nowFn: time.Now}, nil
}

// Emit implements events.Emitter.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	entry := Entry{
		At:   j.nowFn().UTC().Format(time.RFC3339Nano),
		Type: evt.EventType(),
	}
	if typed, ok := evt.(payloadEvent); ok {
		if inner := typed.Event(); inner != nil {
			entry.Attributes = inner.Attributes
		}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil || j.file == nil {
		return
	}
	if err := j.encoder.Encode(entry); err != nil {
		j.err = fmt.Errorf("journal: append: %w", err)
	}
}

// Err reports the first append failure, if any.
func (j *Journal) Err() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Close flushes nothing (appends are unbuffered) but releases the file and
// surfaces any append failure that happened along the way.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return j.err
	}
	closeErr := j.file.Close()
	j.file = nil
	if j.err != nil {
		return j.err
	}
	return closeErr
}
