package document

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/kernel-memory/km/kmerrors"
)

// idPattern is the allowed shape for a client-supplied or generated
// document id (spec.md §3).
var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateID checks id against idPattern.
func ValidateID(id string) error {
	if id == "" || !idPattern.MatchString(id) {
		return kmerrors.Newf(kmerrors.Validation, "document.ValidateID",
			"document id %q must match [A-Za-z0-9._-]+", id)
	}
	return nil
}

// NewID generates a random id matching idPattern.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// InputFile is a single named byte stream supplied on upload, prior to
// any pipeline processing. Name collisions within one document are
// deduplicated by prefixing a stable hash (see DeduplicateFileNames).
type InputFile struct {
	Name   string
	Reader io.Reader
}

// Document is the client-facing unit of ingestion: an id, a tag
// multimap, and an ordered set of named input files.
type Document struct {
	ID    string
	Tags  Tags
	Files []InputFile
}

// New creates a Document, generating an id if none is supplied and
// validating the one given otherwise.
func New(id string, tags Tags, files []InputFile) (*Document, error) {
	if id == "" {
		id = NewID()
	}
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if tags == nil {
		tags = NewTags()
	}
	if err := tags.ValidateUserTags(); err != nil {
		return nil, err
	}
	return &Document{
		ID:    id,
		Tags:  tags,
		Files: DeduplicateFileNames(files),
	}, nil
}

// DeduplicateFileNames renames any file whose name collides with an
// earlier file in the slice to "<hash>.<name>", where <hash> is a short
// stable hash of the name and its occurrence count; the original name
// (and its extension) stays at the end, and every name is unique within
// the document (spec.md §3).
func DeduplicateFileNames(files []InputFile) []InputFile {
	seen := make(map[string]int, len(files))
	out := make([]InputFile, len(files))
	for i, f := range files {
		name := f.Name
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			name = fmt.Sprintf("%s.%s", stableHash(f.Name, n+1), f.Name)
		} else {
			seen[name] = 0
		}
		out[i] = InputFile{Name: name, Reader: f.Reader}
	}
	return out
}

func stableHash(s string, salt int) string {
	h := sha1.New()
	_, _ = io.WriteString(h, fmt.Sprintf("%d:%s", salt, s))
	return hex.EncodeToString(h.Sum(nil))[:8]
}

var illegalIndexChars = regexp.MustCompile(`[\s\\/._:]`)

const (
	// MaxIndexNameLength is a safe ceiling shared by every backend
	// (spec.md §3: "backend-dependent, ≤128 used as a safe ceiling").
	MaxIndexNameLength = 128
)

// NormalizeIndexName applies the normalization rules of spec.md §3:
// lower-case, illegal characters mapped to '-', leading/trailing '-'
// padded with a letter, empty input replaced by defaultName, and the
// result bounded to MaxIndexNameLength.
func NormalizeIndexName(name, defaultName string) string {
	if strings.TrimSpace(name) == "" {
		name = defaultName
	}
	name = strings.ToLower(name)
	name = illegalIndexChars.ReplaceAllString(name, "-")
	if name == "" {
		name = defaultName
	}
	if strings.HasPrefix(name, "-") {
		name = "a" + name
	}
	if strings.HasSuffix(name, "-") {
		name = name + "a"
	}
	if len(name) > MaxIndexNameLength {
		name = name[:MaxIndexNameLength]
	}
	return name
}
