// Package store persists Job and Sequence records to a single JSON
// document, following the shape the device bridge's original Python
// implementation used for its local cache file.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Job is the persisted record for one Marker job slot.
type Job struct {
	JobNumber       int       `json:"jobNumber"`
	ID              string    `json:"id"`
	JobName         string    `json:"jobName,omitempty"`
	CharacterString string    `json:"characterString"`
	StartX          float64   `json:"startX"`
	StartY          float64   `json:"startY"`
	PitchX          float64   `json:"pitchX"`
	PitchY          float64   `json:"pitchY"`
	Size            float64   `json:"size"`
	Speed           int       `json:"speed"`
	Direction       int       `json:"direction"`
	CreatedAt       time.Time `json:"createdAt"`
	LastRunAt       time.Time `json:"lastRunAt,omitempty"`
	RawTail         []string  `json:"_raw_tail,omitempty"`
}

// Sequence is the persisted record for one sequence slot.
type Sequence struct {
	Index         int       `json:"index"`
	CommandString string    `json:"commandString"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type document struct {
	Jobs      map[string]*Job      `json:"jobs"`
	Sequences map[string]*Sequence `json:"sequences"`
}

// Store is a single-writer, file-backed JSON cache of jobs and
// sequences. All mutating operations hold the same mutex: the store
// is meant to be shared by at most one coordinator goroutine and one
// request-handling goroutine at a time, last-writer-wins.
type Store struct {
	mu   sync.Mutex
	path string
	doc  document
}

// Open loads path if it exists, or starts from an empty document.
func Open(path string) (*Store, error) {
	s := &Store{path: path, doc: document{
		Jobs:      map[string]*Job{},
		Sequences: map[string]*Sequence{},
	}}
	if err := s.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return s, nil
}

// Load re-reads the backing file, replacing the in-memory document.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse store document %s: %w", s.path, err)
	}
	if doc.Jobs == nil {
		doc.Jobs = map[string]*Job{}
	}
	if doc.Sequences == nil {
		doc.Sequences = map[string]*Sequence{}
	}
	s.doc = doc
	return nil
}

// Save atomically writes the in-memory document to the backing file.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store document: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".store-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

func jobKey(n int) string { return fmt.Sprintf("%d", n) }

// GetJob returns the persisted job for n, if any.
func (s *Store) GetJob(n int) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.doc.Jobs[jobKey(n)]
	if !ok {
		return nil, false
	}
	cp := *j
	return &cp, true
}

// EnsureJobID returns the stable 24-lowercase-hex Id for job n,
// assigning and persisting one on first use. Subsequent calls for the
// same n are idempotent: the same Id is returned every time.
func (s *Store) EnsureJobID(n int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := jobKey(n)
	if j, ok := s.doc.Jobs[key]; ok && j.ID != "" {
		return j.ID, nil
	}
	id := primitive.NewObjectID().Hex()
	j, ok := s.doc.Jobs[key]
	if !ok {
		j = &Job{JobNumber: n, CreatedAt: time.Now().UTC().Truncate(time.Second)}
		s.doc.Jobs[key] = j
	}
	j.ID = id
	if err := s.saveLocked(); err != nil {
		return "", err
	}
	return id, nil
}

// PutJob upserts job n: mutable fields are replaced, Id and CreatedAt
// are preserved from any existing record.
func (s *Store) PutJob(n int, fields Job, rawTail []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := jobKey(n)
	existing, ok := s.doc.Jobs[key]

	now := time.Now().UTC().Truncate(time.Second)
	updated := fields
	updated.JobNumber = n
	updated.RawTail = rawTail

	if ok {
		updated.ID = existing.ID
		updated.CreatedAt = existing.CreatedAt
	} else {
		updated.ID = primitive.NewObjectID().Hex()
		updated.CreatedAt = now
	}
	updated.LastRunAt = now

	cp := updated
	s.doc.Jobs[key] = &cp
	return s.saveLocked()
}

// PutSequence upserts sequence idx.
func (s *Store) PutSequence(idx int, commandString string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := jobKey(idx)
	s.doc.Sequences[key] = &Sequence{
		Index:         idx,
		CommandString: commandString,
		UpdatedAt:     time.Now().UTC().Truncate(time.Second),
	}
	return s.saveLocked()
}

// GetSequence returns the persisted sequence for idx, if any.
func (s *Store) GetSequence(idx int) (*Sequence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sq, ok := s.doc.Sequences[jobKey(idx)]
	if !ok {
		return nil, false
	}
	cp := *sq
	return &cp, true
}
