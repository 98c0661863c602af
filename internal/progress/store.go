package progress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/harrison/cadence/internal/filelock"
	"github.com/harrison/cadence/internal/models"
)

// ErrSprintNotFound is returned for ids absent from the store.
var ErrSprintNotFound = errors.New("sprint not found")

// Store holds the progress document in memory and writes it back atomically.
//
// Updates are keyed by sprint id so concurrent sprint executions never
// overwrite each other's records, whether they run in this process or in
// another one sharing the file.
type Store struct {
	path string

	mu    sync.RWMutex
	doc   *Document
	index map[string]int

	saveMu sync.Mutex
}

// Open loads the document at path. A missing or invalid file is a
// *models.ConfigurationError.
func Open(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.NewConfigurationError(path, fmt.Errorf("progress file not found"))
		}
		return nil, fmt.Errorf("read progress file: %w", err)
	}
	doc, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	return newStore(path, doc), nil
}

// Create writes a fresh document for project and returns its store.
// It fails if path already exists.
func Create(ctx context.Context, path string, project Project, sprints []*models.Sprint) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("progress file %s already exists", path)
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now().UTC()
	}
	doc := &Document{Version: CurrentVersion, Project: project, Sprints: sprints}
	if err := doc.Validate(); err != nil {
		return nil, models.NewConfigurationError(path, err)
	}
	s := newStore(path, doc)
	if err := s.Save(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newStore(path string, doc *Document) *Store {
	s := &Store{path: path, doc: doc}
	s.reindex()
	return s
}

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.doc.Sprints))
	for i, sp := range s.doc.Sprints {
		s.index[sp.ID] = i
	}
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// Project returns the project metadata.
func (s *Store) Project() Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Project
}

// Sprint returns a copy of the sprint record with the given id.
func (s *Store) Sprint(id string) (*models.Sprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSprintNotFound, id)
	}
	return s.doc.Sprints[i].Clone(), nil
}

// Sprints returns copies of all sprint records in document order.
func (s *Store) Sprints() []*models.Sprint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Sprint, len(s.doc.Sprints))
	for i, sp := range s.doc.Sprints {
		out[i] = sp.Clone()
	}
	return out
}

// UpdateSprint replaces the record with sprint.ID and persists the document.
//
// Under the file lock the document is re-read from disk and only the keyed
// record is replaced, so records other processes committed in the meantime
// survive. The in-memory view is refreshed from what was written and is left
// untouched when the save fails.
func (s *Store) UpdateSprint(ctx context.Context, sprint *models.Sprint) error {
	if sprint == nil {
		return errors.New("nil sprint")
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	err := filelock.Guarded(ctx, s.path, func() error {
		doc, err := s.readDisk()
		if err != nil {
			return err
		}
		i := indexOf(doc, sprint.ID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrSprintNotFound, sprint.ID)
		}
		doc.Sprints[i] = sprint.Clone()

		data, err := Marshal(doc)
		if err != nil {
			return err
		}
		if err := filelock.WriteAtomic(s.path, data); err != nil {
			return err
		}

		s.mu.Lock()
		s.doc = doc
		s.reindex()
		s.mu.Unlock()
		return nil
	})
	if err != nil && !errors.Is(err, ErrSprintNotFound) {
		return fmt.Errorf("save progress: %w", err)
	}
	return err
}

// readDisk parses the document currently on disk. A file removed behind the
// store's back is rebuilt from the in-memory copy.
func (s *Store) readDisk() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.mu.RLock()
		data, err = Marshal(s.doc)
		s.mu.RUnlock()
	}
	if err != nil {
		return nil, fmt.Errorf("read progress file: %w", err)
	}
	return Parse(s.path, data)
}

func indexOf(doc *Document, id string) int {
	for i, sp := range doc.Sprints {
		if sp.ID == id {
			return i
		}
	}
	return -1
}

// Save writes the whole document.
func (s *Store) Save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	data, err := Marshal(s.doc)
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := filelock.GuardedWrite(ctx, s.path, data); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// Reload re-reads the document from disk, discarding in-memory state.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read progress file: %w", err)
	}
	doc, err := Parse(s.path, data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.doc = doc
	s.reindex()
	s.mu.Unlock()
	return nil
}
