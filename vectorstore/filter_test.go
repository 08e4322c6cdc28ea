package vectorstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernel-memory/km/document"
	"github.com/kernel-memory/km/vectorstore"
)

func tagsWith(pairs ...string) document.Tags {
	t := document.NewTags()
	for i := 0; i+1 < len(pairs); i += 2 {
		_ = t.Add(pairs[i], &pairs[i+1])
	}
	return t
}

func TestMemoryFilter_MatchANDsEqualityPredicates(t *testing.T) {
	f := vectorstore.NewFilter().ByTag("user", "alice").ByTag("type", "news")

	assert.True(t, f.Match(tagsWith("user", "alice", "type", "news")))
	assert.False(t, f.Match(tagsWith("user", "alice")))
	assert.False(t, f.Match(tagsWith("user", "bob", "type", "news")))
}

func TestMemoryFilter_MatchANDsNotEqualPredicates(t *testing.T) {
	f := vectorstore.NewFilter().ByTagNotEqual("status", "draft")

	assert.True(t, f.Match(tagsWith("status", "published")))
	assert.True(t, f.Match(document.NewTags()))
	assert.False(t, f.Match(tagsWith("status", "draft")))
}

func TestMemoryFilter_IsEmpty(t *testing.T) {
	assert.True(t, (*vectorstore.MemoryFilter)(nil).IsEmpty())
	assert.True(t, vectorstore.NewFilter().IsEmpty())
	assert.False(t, vectorstore.NewFilter().ByTag("k", "v").IsEmpty())
}

func TestMemoryFilter_Validate(t *testing.T) {
	require.Error(t, (*vectorstore.MemoryFilter)(nil).Validate())
	require.NoError(t, vectorstore.NewFilter().Validate())
}

func TestFilters_MatchIsOrAcrossFilters(t *testing.T) {
	fs := vectorstore.Filters{
		vectorstore.ByTag("user", "alice"),
		vectorstore.ByTag("user", "bob"),
	}

	assert.True(t, fs.Match(tagsWith("user", "alice")))
	assert.True(t, fs.Match(tagsWith("user", "bob")))
	assert.False(t, fs.Match(tagsWith("user", "carol")))
}

func TestFilters_EmptyMatchesEverything(t *testing.T) {
	var fs vectorstore.Filters
	assert.True(t, fs.Match(tagsWith("anything", "goes")))
}
