// Package memdocstore is an in-process docstore.DocumentStore backed
// by nested maps, for tests and for running the pipeline without a
// filesystem.
package memdocstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/kernel-memory/km/docstore"
	"github.com/kernel-memory/km/kmerrors"
)

type docKey struct {
	index string
	id    string
}

// Store is a docstore.DocumentStore backed by in-memory maps, safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	indexes map[string]bool
	docs    map[docKey]map[string][]byte
}

var _ docstore.DocumentStore = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{indexes: make(map[string]bool), docs: make(map[docKey]map[string][]byte)}
}

func (s *Store) CreateIndexDirectory(ctx context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes[index] = true
	return nil
}

func (s *Store) DeleteIndexDirectory(ctx context.Context, index string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexes, index)
	for k := range s.docs {
		if k.index == index {
			delete(s.docs, k)
		}
	}
	return nil
}

func (s *Store) CreateDocumentDirectory(ctx context.Context, index, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := docKey{index, documentID}
	if _, ok := s.docs[k]; !ok {
		s.docs[k] = make(map[string][]byte)
	}
	return nil
}

func (s *Store) EmptyDocumentDirectory(ctx context.Context, index, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[docKey{index, documentID}] = make(map[string][]byte)
	return nil
}

func (s *Store) DeleteDocumentDirectory(ctx context.Context, index, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, docKey{index, documentID})
	return nil
}

func (s *Store) WriteFile(ctx context.Context, index, documentID, fileName string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return kmerrors.New(kmerrors.Transient, "memdocstore.WriteFile", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := docKey{index, documentID}
	if s.docs[k] == nil {
		s.docs[k] = make(map[string][]byte)
	}
	s.docs[k][fileName] = data
	return nil
}

func (s *Store) ReadFile(ctx context.Context, index, documentID, fileName string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files, ok := s.docs[docKey{index, documentID}]
	if !ok {
		return nil, kmerrors.Newf(kmerrors.NotFound, "memdocstore.ReadFile", "document %s/%s not found", index, documentID)
	}
	data, ok := files[fileName]
	if !ok {
		return nil, kmerrors.Newf(kmerrors.NotFound, "memdocstore.ReadFile", "file %s not found in %s/%s", fileName, index, documentID)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *Store) FileExists(ctx context.Context, index, documentID, fileName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files, ok := s.docs[docKey{index, documentID}]
	if !ok {
		return false, nil
	}
	_, ok = files[fileName]
	return ok, nil
}

func (s *Store) ListFiles(ctx context.Context, index, documentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files, ok := s.docs[docKey{index, documentID}]
	if !ok {
		return nil, kmerrors.Newf(kmerrors.NotFound, "memdocstore.ListFiles", "document %s/%s not found", index, documentID)
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
