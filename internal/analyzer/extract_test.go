package analyzer

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractURLsByteOffsets(t *testing.T) {
	nodeID := uuid.New()
	records := ExtractURLs(nodeID, "see https://x.test and https://y.test")

	require.Len(t, records, 2)
	assert.Equal(t, "https://x.test", records[0].URL)
	assert.Equal(t, 4, records[0].StartBytes)
	assert.Equal(t, 14, records[0].SizeBytes)
	assert.Equal(t, "https://y.test", records[1].URL)
	assert.Equal(t, 23, records[1].StartBytes)
	assert.Equal(t, nodeID, records[0].NodeID)
}

func TestExtractURLsMultibyteContent(t *testing.T) {
	// Offsets are bytes, not runes: "héllo " is 7 bytes.
	records := ExtractURLs(uuid.New(), "héllo https://x.test")
	require.Len(t, records, 1)
	assert.Equal(t, 7, records[0].StartBytes)
}

func TestExtractURLsFiltersNonURLs(t *testing.T) {
	for _, content := range []string{
		"",
		"no links here",
		"ftp://files.test wrong scheme",
		"https:// no host",
		"http//missing.colon",
		"mailto:someone@example.test",
	} {
		assert.Empty(t, ExtractURLs(uuid.New(), content), "content %q", content)
	}
}

func TestExtractURLsSchemes(t *testing.T) {
	records := ExtractURLs(uuid.New(), "http://a.test\nhttps://b.test/path?q=1")
	require.Len(t, records, 2)
	assert.Equal(t, "http://a.test", records[0].URL)
	assert.Equal(t, "https://b.test/path?q=1", records[1].URL)
}
