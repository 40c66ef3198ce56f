// Package control owns the shared run/stop document (control.json). The
// document is the authoritative intent for every component; operators may
// rewrite it at any time while the daemon runs, so every accessor re-reads
// the file and nothing is cached between decisions.
package control

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/datasyncd/internal/errors"
)

// State is a component's run intent as recorded in the document.
type State string

const (
	StateRunning State = "RUNNING"
	StatePaused  State = "PAUSED"
	StateStopped State = "STOPPED"
)

const (
	checkpointKey = "last_successful"
	filePerm      = 0o644
)

// File is a handle on the control document. The mutex only serializes this
// process's read-modify-write cycles; external editors are tolerated by
// re-reading before every write and swapping atomically via rename.
type File struct {
	path string
	mu   sync.Mutex
}

type document struct {
	states      map[string]State
	checkpoints map[string]time.Time
}

func NewFile(path string) *File {
	return &File{path: path}
}

// Seed marks every given component RUNNING, creating the document when
// absent. Existing checkpoints and unknown components survive.
func (f *File) Seed(components ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	for _, name := range components {
		doc.states[name] = StateRunning
	}

	return f.save(doc)
}

// Component reports the recorded intent for a component, re-reading the
// document. A component the document does not mention is STOPPED.
func (f *File) Component(name string) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return StateStopped, err
	}
	state, ok := doc.states[name]
	if !ok {
		return StateStopped, nil
	}

	return state, nil
}

// SetComponent rewrites one component's intent, preserving the rest of the
// document.
func (f *File) SetComponent(name string, state State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	doc.states[name] = state

	return f.save(doc)
}

// Checkpoint returns the last successfully published window for the named
// publisher, when one has been recorded.
func (f *File) Checkpoint(name string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return time.Time{}, false, err
	}
	ts, ok := doc.checkpoints[name]

	return ts, ok, nil
}

// SetCheckpoint durably advances the named publisher's cursor.
func (f *File) SetCheckpoint(name string, ts time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	doc.checkpoints[name] = ts

	return f.save(doc)
}

func (f *File) load() (*document, error) {
	errFactory := errors.New()

	doc := &document{
		states:      make(map[string]State),
		checkpoints: make(map[string]time.Time),
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, errFactory.Wrap(ErrReadFailed, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errFactory.Wrap(ErrDecodeFailed, err)
	}

	for key, value := range raw {
		if key == checkpointKey {
			var stamps map[string]string
			if err := json.Unmarshal(value, &stamps); err != nil {
				return nil, errFactory.Wrap(ErrDecodeFailed, err)
			}
			for name, stamp := range stamps {
				ts, err := time.Parse(time.RFC3339, stamp)
				if err != nil {
					continue
				}
				doc.checkpoints[name] = ts
			}
			continue
		}

		var state string
		if err := json.Unmarshal(value, &state); err != nil {
			// Unknown non-string entries belong to other tools.
			continue
		}
		doc.states[key] = State(strings.ToUpper(state))
	}

	return doc, nil
}

func (f *File) save(doc *document) error {
	errFactory := errors.New()

	out := make(map[string]any, len(doc.states)+1)
	for name, state := range doc.states {
		out[name] = state
	}
	stamps := make(map[string]string, len(doc.checkpoints))
	for name, ts := range doc.checkpoints {
		stamps[name] = ts.Format(time.RFC3339)
	}
	out[checkpointKey] = stamps

	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	tmp := f.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	return nil
}
