package document

import "sort"

// ArtifactType classifies a file produced during ingestion. A tagged
// union (rather than a type hierarchy) is deliberate: the orchestrator
// and step handlers only ever need to switch on it.
type ArtifactType int

const (
	Undefined ArtifactType = iota
	ExtractedContent
	TextPartition
	SyntheticData
	TextEmbeddingVector
	TextSummarization
)

func (a ArtifactType) String() string {
	switch a {
	case ExtractedContent:
		return "ExtractedContent"
	case TextPartition:
		return "TextPartition"
	case SyntheticData:
		return "SyntheticData"
	case TextEmbeddingVector:
		return "TextEmbeddingVector"
	case TextSummarization:
		return "TextSummarization"
	default:
		return "Undefined"
	}
}

// MarshalText/UnmarshalText render ArtifactType as its string name in
// status.json, matching the backward-compatibility rule of spec.md §6
// (unknown fields ignored on read; declared field order on write).
func (a ArtifactType) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *ArtifactType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "ExtractedContent":
		*a = ExtractedContent
	case "TextPartition":
		*a = TextPartition
	case "SyntheticData":
		*a = SyntheticData
	case "TextEmbeddingVector":
		*a = TextEmbeddingVector
	case "TextSummarization":
		*a = TextSummarization
	default:
		*a = Undefined
	}
	return nil
}

// GeneratedFileDetails describes one artifact derived from a FileDetails
// during ingestion (an extraction, a partition, an embedding, ...).
type GeneratedFileDetails struct {
	Name            string       `json:"name"`
	Size            int64        `json:"size"`
	MimeType        string       `json:"mime_type"`
	ArtifactType    ArtifactType `json:"artifact_type"`
	ParentID        string       `json:"parent_id"`
	PartitionNumber int          `json:"partition_number,omitempty"`
	SectionNumber   int          `json:"section_number,omitempty"`
	Tags            Tags         `json:"tags,omitempty"`
}

// FileDetails is the per-input-file bookkeeping record tracked on a
// DataPipeline, including every artifact derived from it so far.
type FileDetails struct {
	ID             string                           `json:"id"`
	Name           string                           `json:"name"`
	Size           int64                            `json:"size"`
	MimeType       string                           `json:"mime_type"`
	ArtifactType   ArtifactType                      `json:"artifact_type"`
	GeneratedFiles map[string]*GeneratedFileDetails `json:"generated_files,omitempty"`
}

// AddGenerated records a derived artifact under fileName, creating the
// map on first use.
func (f *FileDetails) AddGenerated(fileName string, gen *GeneratedFileDetails) {
	if f.GeneratedFiles == nil {
		f.GeneratedFiles = make(map[string]*GeneratedFileDetails)
	}
	f.GeneratedFiles[fileName] = gen
}

// GeneratedByType returns every generated file of the given artifact
// type, in a stable order (sorted by name) so chunkers/embedders produce
// deterministic generatedFiles keys (spec.md §5).
func (f *FileDetails) GeneratedByType(t ArtifactType) []string {
	var names []string
	for name, g := range f.GeneratedFiles {
		if g.ArtifactType == t {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
