package feed

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/robertmeta/tagfeed/model"
)

// Fetcher turns RSS/Atom items into post drafts.
type Fetcher struct {
	parser *gofeed.Parser
}

// NewFetcher creates a new Fetcher.
func NewFetcher() *Fetcher {
	return &Fetcher{
		parser: gofeed.NewParser(),
	}
}

// Source is a parsed feed ready to be posted.
type Source struct {
	Title  string
	Drafts []model.Draft
}

// Fetch retrieves and parses a feed from a URL. defaultTags are attached to
// items that carry no categories of their own.
func (f *Fetcher) Fetch(ctx context.Context, url string, defaultTags []string) (*Source, error) {
	parsedFeed, err := f.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed from %s: %w", url, err)
	}

	return f.convert(parsedFeed, defaultTags), nil
}

// Parse parses feed content from a string.
func (f *Fetcher) Parse(content string, defaultTags []string) (*Source, error) {
	if content == "" {
		return nil, fmt.Errorf("feed content is empty")
	}

	parsedFeed, err := f.parser.ParseString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	return f.convert(parsedFeed, defaultTags), nil
}

// convert converts a gofeed.Feed to drafts. Items that would not form a
// valid post (no title, no text, no tags) are skipped.
func (f *Fetcher) convert(gf *gofeed.Feed, defaultTags []string) *Source {
	src := &Source{Title: gf.Title}

	for _, item := range gf.Items {
		draft := f.convertItem(item, gf.Categories, defaultTags)
		if draft.Title == "" || draft.Content == "" || len(draft.Tags) == 0 {
			continue
		}
		src.Drafts = append(src.Drafts, draft)
	}

	return src
}

// convertItem converts a gofeed.Item to a model.Draft. Tags come from the
// item categories, then the feed categories, then defaultTags.
func (f *Fetcher) convertItem(item *gofeed.Item, feedCategories, defaultTags []string) model.Draft {
	// Prefer the summary over full content: posts are short.
	body := item.Description
	if body == "" {
		body = item.Content
	}

	categories := item.Categories
	if len(categories) == 0 {
		categories = feedCategories
	}
	if len(categories) == 0 {
		categories = defaultTags
	}

	content := plainText(body)
	if item.Link != "" {
		content = strings.TrimSpace(content + "\n\n" + item.Link)
	}

	return model.NewDraft("", plainText(item.Title), content, strings.Join(categories, ","))
}

// plainText strips markup from an HTML fragment and collapses whitespace.
func plainText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
