package document

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeIndexName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"My Index", "my-index"},
		{"", "default"},
		{"-leading", "a-leading"},
		{"trailing-", "trailing-a"},
		{"a/b.c:d e", "a-b-c-d-e"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeIndexName(c.in, "default"), c.in)
	}
}

func TestNormalizeIndexName_TruncatesToMaxLength(t *testing.T) {
	long := strings.Repeat("a", MaxIndexNameLength+50)
	got := NormalizeIndexName(long, "default")
	assert.Len(t, got, MaxIndexNameLength)
}

func TestDeduplicateFileNames(t *testing.T) {
	files := []InputFile{
		{Name: "a.txt"},
		{Name: "a.txt"},
		{Name: "a.txt"},
		{Name: "b.txt"},
	}
	out := DeduplicateFileNames(files)
	seen := map[string]bool{}
	for _, f := range out {
		assert.False(t, seen[f.Name], "duplicate name %q", f.Name)
		seen[f.Name] = true
	}
	assert.Equal(t, "a.txt", out[0].Name)
	assert.True(t, strings.HasSuffix(out[1].Name, "a.txt"))
	assert.True(t, strings.HasSuffix(out[2].Name, "a.txt"))
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("doc-1_2.3"))
	assert.Error(t, ValidateID(""))
	assert.Error(t, ValidateID("has space"))
	assert.Error(t, ValidateID("has/slash"))
}
