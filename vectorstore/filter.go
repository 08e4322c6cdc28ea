package vectorstore

import (
	"fmt"

	"github.com/kernel-memory/km/document"
	"github.com/kernel-memory/km/kmerrors"
)

// MemoryFilter is a single conjunction of tag-equality and tag-inequality
// predicates. A tag match is satisfied when the record's tag key
// contains the given value (tags are multi-valued); see spec.md §4.2.
//
// A nil value predicate is not supported: ByTag and ByTagNotEqual take
// plain string values, so every predicate means "tag has (or lacks)
// this exact value".
type MemoryFilter struct {
	equals    []TagPredicate
	notEquals []TagPredicate
}

// TagPredicate is a single key/value equality or inequality predicate
// exposed for backends that need to translate a MemoryFilter into their
// own native filter representation.
type TagPredicate struct {
	Key   string
	Value string
}

// NewFilter creates an empty MemoryFilter ready for ByTag/ByTagNotEqual
// chaining.
func NewFilter() *MemoryFilter {
	return &MemoryFilter{}
}

// ByTag ANDs an equality predicate onto the filter and returns it,
// supporting fluent chaining: NewFilter().ByTag("user", "alice").ByTag("type", "news").
func (f *MemoryFilter) ByTag(key, value string) *MemoryFilter {
	f.equals = append(f.equals, TagPredicate{Key: key, Value: value})
	return f
}

// ByTagNotEqual ANDs an inequality predicate onto the filter.
func (f *MemoryFilter) ByTagNotEqual(key, value string) *MemoryFilter {
	f.notEquals = append(f.notEquals, TagPredicate{Key: key, Value: value})
	return f
}

// Validate enforces the "null value not supported" rule of spec.md §4.2.
// Because ByTag/ByTagNotEqual only accept plain strings, the only way a
// MemoryFilter can be invalid today is to be nil; Validate exists as the
// extension point callers constructing a filter from an external, looser
// representation (e.g. a JSON request body) should invoke.
func (f *MemoryFilter) Validate() error {
	if f == nil {
		return kmerrors.New(kmerrors.Validation, "MemoryFilter.Validate", fmt.Errorf("filter must not be nil"))
	}
	return nil
}

// IsEmpty reports whether the filter has no predicates at all, i.e. it
// matches every record.
func (f *MemoryFilter) IsEmpty() bool {
	return f == nil || (len(f.equals) == 0 && len(f.notEquals) == 0)
}

// Match reports whether tags satisfies every equality and inequality
// predicate in f (all ANDed).
func (f *MemoryFilter) Match(tags document.Tags) bool {
	if f.IsEmpty() {
		return true
	}
	for _, p := range f.equals {
		v := p.Value
		if !tags.Has(p.Key, &v) {
			return false
		}
	}
	for _, p := range f.notEquals {
		v := p.Value
		if tags.Has(p.Key, &v) {
			return false
		}
	}
	return true
}

// Equals returns the filter's AND-of-equality predicates.
func (f *MemoryFilter) Equals() []TagPredicate {
	return f.equals
}

// NotEquals returns the filter's AND-of-inequality predicates.
func (f *MemoryFilter) NotEquals() []TagPredicate {
	return f.notEquals
}

// Filters is a disjunction (OR) of MemoryFilter conjunctions: a query
// matches a record if ANY filter in the list matches it (spec.md §4.2).
// An empty Filters list means "no filtering" (every record matches).
type Filters []*MemoryFilter

// Match reports whether tags satisfies at least one filter in fs, or
// true if fs is empty.
func (fs Filters) Match(tags document.Tags) bool {
	if len(fs) == 0 {
		return true
	}
	for _, f := range fs {
		if f.Match(tags) {
			return true
		}
	}
	return false
}

// Validate validates every filter in the list.
func (fs Filters) Validate() error {
	for _, f := range fs {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ByTag is a convenience constructor for the common single-predicate
// filter, e.g. Filters{ByTag("user", "alice")}.
func ByTag(key, value string) *MemoryFilter {
	return NewFilter().ByTag(key, value)
}
