// Package mime parses and matches MIME type strings, used by the extract
// step to select a decoder and by FileDetails to record content types.
package mime

import "strings"

const wildcard = "*"

// Well-known content types recognized by the pipeline.
const (
	TextPlain  = "text/plain"
	TextHTML   = "text/html"
	TextURL    = "text/x-kernel-memory-url"
	Undefined  = "application/octet-stream"
	JSON       = "application/json"
	PDF        = "application/pdf"
)

// MIME is a parsed "type/subtype; param=value" content-type string.
type MIME struct {
	Type    string
	SubType string
	Params  map[string]string
}

// Parse splits s into its type, subtype, and parameters. A malformed or
// empty string yields the Undefined MIME.
func Parse(s string) MIME {
	s = strings.TrimSpace(s)
	if s == "" {
		return Parse(Undefined)
	}
	parts := strings.Split(s, ";")
	typeAndSub := strings.TrimSpace(parts[0])
	slash := strings.IndexByte(typeAndSub, '/')
	m := MIME{Params: map[string]string{}}
	if slash < 0 {
		m.Type = strings.ToLower(typeAndSub)
		m.SubType = wildcard
	} else {
		m.Type = strings.ToLower(typeAndSub[:slash])
		m.SubType = strings.ToLower(typeAndSub[slash+1:])
	}
	for _, p := range parts[1:] {
		kv := strings.SplitN(strings.TrimSpace(p), "=", 2)
		if len(kv) == 2 {
			m.Params[strings.ToLower(strings.TrimSpace(kv[0]))] = strings.TrimSpace(kv[1])
		}
	}
	return m
}

// String renders the canonical "type/subtype" form, without parameters.
func (m MIME) String() string {
	return m.Type + "/" + m.SubType
}

// Includes reports whether m matches other, honoring wildcards on either
// side (e.g. "text/*".Includes("text/plain") and vice versa).
func (m MIME) Includes(other MIME) bool {
	if m.Type != wildcard && other.Type != wildcard && m.Type != other.Type {
		return false
	}
	if m.SubType == wildcard || other.SubType == wildcard {
		return true
	}
	return m.SubType == other.SubType
}

// IsText reports whether the MIME's primary type is "text".
func (m MIME) IsText() bool {
	return m.Type == "text"
}
