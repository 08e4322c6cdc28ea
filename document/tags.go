// Package document defines the data model shared by every component:
// documents, their tag multimaps, per-file artifact bookkeeping, and the
// index-naming rules from spec.md §3.
package document

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kernel-memory/km/kmerrors"
)

// ReservedPrefix marks a tag key as system-owned. User code must not set
// tags under this prefix; step handlers are the only writers.
const ReservedPrefix = "__"

// Reserved tag keys written by step handlers (spec.md §6).
const (
	TagDocumentID     = "__document_id"
	TagFileID         = "__file_id"
	TagFilePart       = "__file_part"
	TagPartitionNum   = "__part_n"
	TagSectionNum     = "__sect_n"
	TagFileType       = "__file_type"
	TagSynthetic      = "__syn"
)

// Tags is a case-insensitive multimap from tag key to a list of values.
// A nil entry in the value slice represents a presence-only ("null")
// tag value.
type Tags map[string][]*string

// NewTags creates an empty Tags multimap.
func NewTags() Tags {
	return Tags{}
}

func normalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

// Add appends value (which may be nil) under key, normalizing the key to
// lower case. It validates the reserved-character rules from spec.md §3
// and §6: keys must not contain '=' or ':', values must not contain '='.
func (t Tags) Add(key string, value *string) error {
	key = normalizeKey(key)
	if key == "" {
		return kmerrors.New(kmerrors.Validation, "tags.Add", fmt.Errorf("tag key must not be empty"))
	}
	if strings.ContainsAny(key, "=:") {
		return kmerrors.New(kmerrors.Validation, "tags.Add", fmt.Errorf("tag key %q must not contain '=' or ':'", key))
	}
	if value != nil && strings.Contains(*value, "=") {
		return kmerrors.New(kmerrors.Validation, "tags.Add", fmt.Errorf("tag value for %q must not contain '='", key))
	}
	t[key] = append(t[key], value)
	return nil
}

// Set replaces every value under key with a single value.
func (t Tags) Set(key string, value string) error {
	key = normalizeKey(key)
	delete(t, key)
	return t.Add(key, &value)
}

// Values returns every value recorded under key (nils included).
func (t Tags) Values(key string) []*string {
	return t[normalizeKey(key)]
}

// Has reports whether key is present with the given value. A nil value
// matches only a presence-only tag.
func (t Tags) Has(key string, value *string) bool {
	for _, v := range t.Values(key) {
		if v == nil && value == nil {
			return true
		}
		if v != nil && value != nil && *v == *value {
			return true
		}
	}
	return false
}

// ContainsKey reports whether any value is recorded under key.
func (t Tags) ContainsKey(key string) bool {
	_, ok := t[normalizeKey(key)]
	return ok
}

// ValidateUserTags rejects any key beginning with ReservedPrefix: the
// reserved-tag namespace is owned exclusively by step handlers
// (spec.md §9).
func (t Tags) ValidateUserTags() error {
	for k := range t {
		if strings.HasPrefix(k, ReservedPrefix) {
			return kmerrors.New(kmerrors.Validation, "tags.ValidateUserTags",
				fmt.Errorf("tag key %q uses the reserved prefix %q", k, ReservedPrefix))
		}
	}
	return nil
}

// Clone returns a deep-enough copy (value slices copied, string pointers
// shared since strings are immutable).
func (t Tags) Clone() Tags {
	out := make(Tags, len(t))
	for k, v := range t {
		cp := make([]*string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// Merge returns a new Tags containing every entry of t and other. On key
// collision, values from both sides are kept (tags are multi-valued).
func (t Tags) Merge(other Tags) Tags {
	out := t.Clone()
	for k, vs := range other {
		out[k] = append(out[k], vs...)
	}
	return out
}

// SortedKeys returns the map's keys in a deterministic order, used when
// serializing tags so status.json output is stable.
func (t Tags) SortedKeys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
