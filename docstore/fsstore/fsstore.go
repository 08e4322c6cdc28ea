// Package fsstore implements docstore.DocumentStore on the local
// filesystem: one directory per index, one subdirectory per document,
// plain files underneath. Grounded on the os.OpenFile/WriteString
// conventions this module's file writer code follows.
package fsstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kernel-memory/km/kmerrors"
)

// Store is a docstore.DocumentStore rooted at a base directory.
type Store struct {
	root string
}

// New creates a Store rooted at root, creating it if necessary.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, kmerrors.New(kmerrors.Fatal, "fsstore.New", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) indexPath(index string) string {
	return filepath.Join(s.root, index)
}

func (s *Store) documentPath(index, documentID string) string {
	return filepath.Join(s.indexPath(index), documentID)
}

func (s *Store) CreateIndexDirectory(ctx context.Context, index string) error {
	if err := os.MkdirAll(s.indexPath(index), 0o755); err != nil {
		return kmerrors.New(kmerrors.Transient, "fsstore.CreateIndexDirectory", err)
	}
	return nil
}

func (s *Store) DeleteIndexDirectory(ctx context.Context, index string) error {
	if err := os.RemoveAll(s.indexPath(index)); err != nil {
		return kmerrors.New(kmerrors.Transient, "fsstore.DeleteIndexDirectory", err)
	}
	return nil
}

func (s *Store) CreateDocumentDirectory(ctx context.Context, index, documentID string) error {
	if err := os.MkdirAll(s.documentPath(index, documentID), 0o755); err != nil {
		return kmerrors.New(kmerrors.Transient, "fsstore.CreateDocumentDirectory", err)
	}
	return nil
}

func (s *Store) EmptyDocumentDirectory(ctx context.Context, index, documentID string) error {
	dir := s.documentPath(index, documentID)
	if err := os.RemoveAll(dir); err != nil {
		return kmerrors.New(kmerrors.Transient, "fsstore.EmptyDocumentDirectory", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return kmerrors.New(kmerrors.Transient, "fsstore.EmptyDocumentDirectory", err)
	}
	return nil
}

func (s *Store) DeleteDocumentDirectory(ctx context.Context, index, documentID string) error {
	if err := os.RemoveAll(s.documentPath(index, documentID)); err != nil {
		return kmerrors.New(kmerrors.Transient, "fsstore.DeleteDocumentDirectory", err)
	}
	return nil
}

func (s *Store) WriteFile(ctx context.Context, index, documentID, fileName string, r io.Reader) error {
	dir := s.documentPath(index, documentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return kmerrors.New(kmerrors.Transient, "fsstore.WriteFile", err)
	}
	path := filepath.Join(dir, fileName)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return kmerrors.New(kmerrors.Transient, "fsstore.WriteFile", fmt.Errorf("open %s: %w", tmp, err))
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return kmerrors.New(kmerrors.Transient, "fsstore.WriteFile", fmt.Errorf("write %s: %w", tmp, err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return kmerrors.New(kmerrors.Transient, "fsstore.WriteFile", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return kmerrors.New(kmerrors.Transient, "fsstore.WriteFile", fmt.Errorf("rename %s: %w", tmp, err))
	}
	return nil
}

func (s *Store) ReadFile(ctx context.Context, index, documentID, fileName string) (io.ReadCloser, error) {
	path := filepath.Join(s.documentPath(index, documentID), fileName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kmerrors.New(kmerrors.NotFound, "fsstore.ReadFile", err)
		}
		return nil, kmerrors.New(kmerrors.Transient, "fsstore.ReadFile", err)
	}
	return f, nil
}

func (s *Store) FileExists(ctx context.Context, index, documentID, fileName string) (bool, error) {
	path := filepath.Join(s.documentPath(index, documentID), fileName)
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, kmerrors.New(kmerrors.Transient, "fsstore.FileExists", err)
}

func (s *Store) ListFiles(ctx context.Context, index, documentID string) ([]string, error) {
	entries, err := os.ReadDir(s.documentPath(index, documentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kmerrors.New(kmerrors.NotFound, "fsstore.ListFiles", err)
		}
		return nil, kmerrors.New(kmerrors.Transient, "fsstore.ListFiles", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
