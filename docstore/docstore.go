// Package docstore is the pluggable document/blob store (C1): index
// and document directories, and the named files inside them
// (status.json, input files, and every artifact a step handler
// derives). Grounded on the plain os.OpenFile/os.WriteFile style this
// module's file writers use, generalized to a directory-per-document
// layout instead of a single output path.
package docstore

import (
	"context"
	"io"
)

// DocumentStore is the blob storage contract (C1). Every method
// operates relative to one index/document pair; callers are
// responsible for the per-(index,documentId) serialization spec.md §7
// requires around writes.
type DocumentStore interface {
	CreateIndexDirectory(ctx context.Context, index string) error
	DeleteIndexDirectory(ctx context.Context, index string) error

	CreateDocumentDirectory(ctx context.Context, index, documentID string) error
	EmptyDocumentDirectory(ctx context.Context, index, documentID string) error
	DeleteDocumentDirectory(ctx context.Context, index, documentID string) error

	// WriteFile writes the full contents of r under fileName within the
	// document's directory, replacing any existing file of that name.
	WriteFile(ctx context.Context, index, documentID, fileName string, r io.Reader) error

	// ReadFile returns the full contents of fileName. Callers must
	// close the returned ReadCloser.
	ReadFile(ctx context.Context, index, documentID, fileName string) (io.ReadCloser, error)

	// FileExists reports whether fileName exists in the document's
	// directory.
	FileExists(ctx context.Context, index, documentID, fileName string) (bool, error)

	// ListFiles returns every file name present in the document's
	// directory.
	ListFiles(ctx context.Context, index, documentID string) ([]string, error)
}
