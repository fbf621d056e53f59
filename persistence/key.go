package persistence

import (
	"regexp"
	"strconv"
)

// arxivURLPattern matches new-style identifiers in abs or pdf URLs, e.g.
// https://arxiv.org/abs/1234.56789v2 or https://arxiv.org/pdf/1234.56789v1.pdf.
var arxivURLPattern = regexp.MustCompile(`arxiv\.org/(?:abs|pdf)/(\d{4}\.\d{5})(?:v(\d+))?`)

// Key identifies one stored paper version.
type Key struct {
	ArxivID string
	Version int
}

// DeriveKey extracts (arxiv_id, version) from the abstract URL, then from the
// raw id. A missing version means 1. When neither matches, the raw id itself
// is used, or "unknown" when it is empty.
func DeriveKey(absURL, rawID string) Key {
	for _, candidate := range []string{absURL, rawID} {
		if candidate == "" {
			continue
		}
		m := arxivURLPattern.FindStringSubmatch(candidate)
		if m == nil {
			continue
		}
		version := 1
		if m[2] != "" {
			if v, err := strconv.Atoi(m[2]); err == nil {
				version = v
			}
		}
		return Key{ArxivID: m[1], Version: version}
	}
	if rawID != "" {
		return Key{ArxivID: rawID, Version: 1}
	}
	return Key{ArxivID: "unknown", Version: 1}
}
