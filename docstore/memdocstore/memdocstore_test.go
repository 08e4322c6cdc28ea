package memdocstore_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernel-memory/km/docstore/memdocstore"
	"github.com/kernel-memory/km/kmerrors"
)

func TestWriteFileThenReadFile_RoundTrips(t *testing.T) {
	ctx := context.Background()
	s := memdocstore.New()
	require.NoError(t, s.CreateDocumentDirectory(ctx, "idx", "doc1"))
	require.NoError(t, s.WriteFile(ctx, "idx", "doc1", "a.txt", strings.NewReader("hello")))

	r, err := s.ReadFile(ctx, "idx", "doc1", "a.txt")
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestReadFile_MissingDocumentIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := memdocstore.New()
	_, err := s.ReadFile(ctx, "idx", "missing", "a.txt")
	require.Error(t, err)
	assert.Equal(t, kmerrors.NotFound, kmerrors.KindOf(err))
}

func TestFileExists(t *testing.T) {
	ctx := context.Background()
	s := memdocstore.New()
	require.NoError(t, s.CreateDocumentDirectory(ctx, "idx", "doc1"))

	ok, err := s.FileExists(ctx, "idx", "doc1", "a.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.WriteFile(ctx, "idx", "doc1", "a.txt", strings.NewReader("x")))
	ok, err = s.FileExists(ctx, "idx", "doc1", "a.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListFiles_ReturnsSortedNames(t *testing.T) {
	ctx := context.Background()
	s := memdocstore.New()
	require.NoError(t, s.CreateDocumentDirectory(ctx, "idx", "doc1"))
	require.NoError(t, s.WriteFile(ctx, "idx", "doc1", "b.txt", strings.NewReader("x")))
	require.NoError(t, s.WriteFile(ctx, "idx", "doc1", "a.txt", strings.NewReader("x")))

	names, err := s.ListFiles(ctx, "idx", "doc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)
}

func TestEmptyDocumentDirectory_RemovesFilesButKeepsDirectory(t *testing.T) {
	ctx := context.Background()
	s := memdocstore.New()
	require.NoError(t, s.CreateDocumentDirectory(ctx, "idx", "doc1"))
	require.NoError(t, s.WriteFile(ctx, "idx", "doc1", "a.txt", strings.NewReader("x")))

	require.NoError(t, s.EmptyDocumentDirectory(ctx, "idx", "doc1"))

	names, err := s.ListFiles(ctx, "idx", "doc1")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDeleteIndexDirectory_RemovesAllItsDocuments(t *testing.T) {
	ctx := context.Background()
	s := memdocstore.New()
	require.NoError(t, s.CreateDocumentDirectory(ctx, "idx", "doc1"))
	require.NoError(t, s.CreateDocumentDirectory(ctx, "other", "doc2"))

	require.NoError(t, s.DeleteIndexDirectory(ctx, "idx"))

	_, err := s.ListFiles(ctx, "idx", "doc1")
	assert.Error(t, err)
	_, err = s.ListFiles(ctx, "other", "doc2")
	assert.NoError(t, err)
}
