package analyzer

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/showdeck/outline-engine/internal/outline"
)

// ExtractURLs tokenizes content on whitespace and returns a URLRecord
// for every token that parses as an absolute http or https URL, in
// order of appearance. Offsets are byte positions into content.
func ExtractURLs(nodeID uuid.UUID, content string) []outline.URLRecord {
	var out []outline.URLRecord
	i := 0
	for i < len(content) {
		// Skip whitespace.
		r, size := utf8.DecodeRuneInString(content[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}
		start := i
		for i < len(content) {
			r, size = utf8.DecodeRuneInString(content[i:])
			if unicode.IsSpace(r) {
				break
			}
			i += size
		}
		token := content[start:i]
		if isURL(token) {
			out = append(out, outline.URLRecord{
				NodeID:     nodeID,
				URL:        token,
				StartBytes: start,
				SizeBytes:  len(token),
			})
		}
	}
	return out
}

func isURL(token string) bool {
	if !strings.HasPrefix(token, "http://") && !strings.HasPrefix(token, "https://") {
		return false
	}
	u, err := url.Parse(token)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
