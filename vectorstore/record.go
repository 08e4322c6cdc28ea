// Package vectorstore specifies the pluggable vector database (C2):
// index lifecycle, record upsert/delete, similarity search with tag
// filters, and the score-normalization contract backends must honor.
package vectorstore

import (
	"encoding/base64"
	"strconv"

	"github.com/kernel-memory/km/document"
	"github.com/kernel-memory/km/pkg/kv"
)

// MemoryRecord is the unit stored in a vector index (spec.md §3).
type MemoryRecord struct {
	// ID is stable and unique per index: base64url of the originating
	// partition key.
	ID string

	// Vector has a fixed dimension per index.
	Vector []float32

	// Tags carries both user tags and the reserved tags identifying the
	// record's originating document/file/partition/type.
	Tags document.Tags

	// Payload carries opaque data: partition text, source name/URL,
	// timestamps.
	Payload kv.KSVA
}

// RecordID builds the stable, base64url record id for a given file
// partition key, so that re-ingesting the same partition upserts rather
// than duplicates (spec.md §3 lifecycle).
func RecordID(documentID, fileID string, partitionNumber int) string {
	key := documentID + "/" + fileID + "/" + strconv.Itoa(partitionNumber)
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(key))
}

// DocumentID returns the record's __document_id reserved tag, or "" if
// absent.
func (r *MemoryRecord) DocumentID() string {
	return firstValue(r.Tags, document.TagDocumentID)
}

// FileID returns the record's __file_id reserved tag.
func (r *MemoryRecord) FileID() string {
	return firstValue(r.Tags, document.TagFileID)
}

func firstValue(t document.Tags, key string) string {
	for _, v := range t.Values(key) {
		if v != nil {
			return *v
		}
	}
	return ""
}
