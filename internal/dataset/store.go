// Package dataset manages uploaded target-URL CSV files and their
// metadata index (meta.json in the datasets directory).
package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrMetaNotFound is returned when the metadata index is missing.
	ErrMetaNotFound = errors.New("dataset meta not found")
	// ErrNoDatasetsSelected is returned when a selection resolves to nothing.
	ErrNoDatasetsSelected = errors.New("no datasets selected")
	// ErrNotFound is returned when a dataset id is unknown.
	ErrNotFound = errors.New("dataset not found")
)

// Meta describes one uploaded dataset CSV
type Meta struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Tags  []string `json:"tags"`
	Count int      `json:"count"`
	File  string   `json:"file"`
}

type metaFile struct {
	Datasets []Meta `json:"datasets"`
}

// Store manages dataset files and the meta.json index under a single
// directory. The index is cached in memory; Invalidate drops the cache
// (the watcher calls it when the directory changes on disk).
type Store struct {
	dir string

	mu     sync.Mutex
	cache  []Meta
	loaded bool
}

// NewStore creates a Store rooted at dir, creating it if needed
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating datasets dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the datasets directory
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) metaPath() string {
	return filepath.Join(s.dir, "meta.json")
}

// Invalidate drops the cached index so the next read hits disk
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.loaded = false
	s.cache = nil
	s.mu.Unlock()
}

// load returns the cached index, reading meta.json on a cache miss.
// Caller must hold s.mu.
func (s *Store) load() ([]Meta, error) {
	if s.loaded {
		return s.cache, nil
	}
	data, err := os.ReadFile(s.metaPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMetaNotFound
		}
		return nil, err
	}
	var mf metaFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parsing meta.json: %w", err)
	}
	s.cache = mf.Datasets
	s.loaded = true
	return s.cache, nil
}

// save writes the index to meta.json and refreshes the cache.
// Caller must hold s.mu.
func (s *Store) save(metas []Meta) error {
	data, err := json.MarshalIndent(metaFile{Datasets: metas}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.metaPath(), data, 0644); err != nil {
		return err
	}
	s.cache = metas
	s.loaded = true
	return nil
}

// All returns the raw index without recounting
func (s *Store) All() ([]Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	metas, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]Meta, len(metas))
	copy(out, metas)
	return out, nil
}

// List returns the index with Count recomputed from each backing file.
// Counts are refreshed in the returned copy only; meta.json is not
// rewritten on list.
func (s *Store) List(ctx context.Context) ([]Meta, error) {
	metas, err := s.All()
	if err != nil {
		return nil, err
	}

	g, _ := errgroup.WithContext(ctx)
	for i := range metas {
		i := i
		g.Go(func() error {
			metas[i].Count = countRows(s.Path(metas[i]))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return metas, nil
}

// Path returns the absolute path of a dataset's backing file
func (s *Store) Path(m Meta) string {
	return filepath.Join(s.dir, strings.TrimPrefix(m.File, "/"))
}

// Resolve filters the index down to the selected ids, preserving index
// order, and validates that every resolved file exists on disk.
func (s *Store) Resolve(ids []string) ([]Meta, []string, error) {
	metas, err := s.All()
	if err != nil {
		return nil, nil, err
	}
	chosen, err := Resolve(ids, metas)
	if err != nil {
		return nil, nil, err
	}
	paths := make([]string, len(chosen))
	for i, m := range chosen {
		p := s.Path(m)
		if _, err := os.Stat(p); err != nil {
			return nil, nil, fmt.Errorf("dataset %s: %w", m.ID, err)
		}
		paths[i] = p
	}
	return chosen, paths, nil
}

// Resolve filters all down to entries whose id is selected, preserving
// the order of all (not the caller's order). An empty result is fatal.
func Resolve(ids []string, all []Meta) ([]Meta, error) {
	selected := make(map[string]bool, len(ids))
	for _, id := range ids {
		selected[id] = true
	}
	var chosen []Meta
	for _, m := range all {
		if selected[m.ID] {
			chosen = append(chosen, m)
		}
	}
	if len(chosen) == 0 {
		return nil, ErrNoDatasetsSelected
	}
	return chosen, nil
}

var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_-]`)

// Add stores an uploaded CSV and appends it to the index
func (s *Store) Add(name string, tags []string, r io.Reader) (Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	metas, err := s.load()
	if err != nil && !errors.Is(err, ErrMetaNotFound) {
		return Meta{}, err
	}

	base := name
	if base == "" {
		base = "dataset"
	}
	id := fmt.Sprintf("%s_%d", unsafeChars.ReplaceAllString(base, "_"), time.Now().UnixMilli())
	file := id + ".csv"

	f, err := os.Create(filepath.Join(s.dir, file))
	if err != nil {
		return Meta{}, err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return Meta{}, err
	}
	if err := f.Close(); err != nil {
		return Meta{}, err
	}

	m := Meta{
		ID:    id,
		Name:  base,
		Tags:  tags,
		Count: countRows(filepath.Join(s.dir, file)),
		File:  file,
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}

	if err := s.save(append(metas, m)); err != nil {
		return Meta{}, err
	}
	return m, nil
}

// Delete removes a dataset from the index and deletes its backing file
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metas, err := s.load()
	if err != nil {
		return err
	}

	idx := -1
	for i, m := range metas {
		if m.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrNotFound
	}

	// Index update matters more than the file; ignore unlink failure.
	os.Remove(s.Path(metas[idx]))

	return s.save(append(metas[:idx:idx], metas[idx+1:]...))
}

// countRows counts non-empty lines minus one header line, floored at 0
func countRows(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	n := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(strings.TrimSuffix(line, "\r")) != "" {
			n++
		}
	}
	if n <= 1 {
		return 0
	}
	return n - 1
}
