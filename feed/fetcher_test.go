package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_ParseRSS2(t *testing.T) {
	// Read RSS 2.0 fixture
	data, err := os.ReadFile("../testdata/rss2.xml")
	require.NoError(t, err)

	fetcher := NewFetcher()
	src, err := fetcher.Parse(string(data), []string{"imported"})
	require.NoError(t, err)

	assert.Equal(t, "Test RSS Feed", src.Title)

	// The untitled third item is skipped
	require.Len(t, src.Drafts, 2)

	first := src.Drafts[0]
	assert.Equal(t, "First Test Entry", first.Title)
	assert.Contains(t, first.Content, "This is the first test entry.")
	assert.NotContains(t, first.Content, "<b>", "markup is stripped")
	assert.Contains(t, first.Content, "https://example.com/entry-1")
	assert.Equal(t, []string{"tech", "go"}, first.Tags)

	second := src.Drafts[1]
	assert.Equal(t, "Second Test Entry", second.Title)
	assert.Equal(t, []string{"imported"}, second.Tags, "default tags fill in missing categories")
}

func TestFetcher_ParseAtom(t *testing.T) {
	data, err := os.ReadFile("../testdata/atom.xml")
	require.NoError(t, err)

	fetcher := NewFetcher()
	src, err := fetcher.Parse(string(data), nil)
	require.NoError(t, err)

	assert.Equal(t, "Test Atom Feed", src.Title)
	require.Len(t, src.Drafts, 2)

	assert.Equal(t, "First Atom Entry", src.Drafts[0].Title)
	assert.Contains(t, src.Drafts[0].Content, "Summary of the first atom entry.")
	assert.Equal(t, []string{"news"}, src.Drafts[0].Tags, "feed categories apply to untagged entries")

	assert.Equal(t, "Second Atom Entry", src.Drafts[1].Title)
	assert.Equal(t, []string{"science"}, src.Drafts[1].Tags)
}

func TestFetcher_SkipsUntaggedWithoutDefaults(t *testing.T) {
	data, err := os.ReadFile("../testdata/rss2.xml")
	require.NoError(t, err)

	src, err := NewFetcher().Parse(string(data), nil)
	require.NoError(t, err)
	require.Len(t, src.Drafts, 1)
	assert.Equal(t, "First Test Entry", src.Drafts[0].Title)
}

func TestFetcher_ParseInvalidFeed(t *testing.T) {
	fetcher := NewFetcher()

	// Test with invalid XML
	_, err := fetcher.Parse("<invalid>xml</broken>", nil)
	assert.Error(t, err, "Should error on invalid XML")

	// Test with empty string
	_, err = fetcher.Parse("", nil)
	assert.Error(t, err, "Should error on empty string")

	// Test with non-feed XML
	_, err = fetcher.Parse("<?xml version='1.0'?><root><item>not a feed</item></root>", nil)
	assert.Error(t, err, "Should error on non-feed XML")
}

func TestFetcher_Fetch(t *testing.T) {
	data, err := os.ReadFile("../testdata/rss2.xml")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write(data)
	}))
	defer srv.Close()

	src, err := NewFetcher().Fetch(context.Background(), srv.URL, []string{"imported"})
	require.NoError(t, err)
	assert.Equal(t, "Test RSS Feed", src.Title)
	assert.Len(t, src.Drafts, 2)
}

func TestFetcher_FetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, err := NewFetcher().Fetch(context.Background(), srv.URL, nil)
	assert.Error(t, err)
}

func TestFetcher_LinkOnlyItem(t *testing.T) {
	minimalRSS := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Minimal Feed</title>
    <item>
      <title>Entry with no content</title>
      <link>https://example.com/minimal</link>
      <guid>minimal-1</guid>
    </item>
  </channel>
</rss>`

	src, err := NewFetcher().Parse(minimalRSS, []string{"links"})
	require.NoError(t, err)
	require.Len(t, src.Drafts, 1)
	assert.Equal(t, "https://example.com/minimal", src.Drafts[0].Content)
}
