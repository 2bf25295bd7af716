// Package opml exports and imports preferred tags as OPML.
//
// Exported documents hold one outline per tag. Imports also accept a feed
// reader's subscription list, in which case folder names and category
// attributes become tags.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/robertmeta/tagfeed/model"
)

// TagType is the outline type used for exported tags.
const TagType = "tag"

// OPML represents the root OPML structure.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains metadata about the OPML document.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
	OwnerEmail  string `xml:"ownerEmail,omitempty"`
}

// Body contains the outline elements.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is a tag, a feed or a folder.
type Outline struct {
	Text     string    `xml:"text,attr,omitempty"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLUrl   string    `xml:"xmlUrl,attr,omitempty"`
	Category string    `xml:"category,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Parse reads an OPML document and returns its tags, normalized and
// deduplicated in document order.
func Parse(r io.Reader) ([]string, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse OPML: %w", err)
	}

	var raw []string
	extractTags(doc.Body.Outlines, &raw)
	tags := model.ParseTagList(strings.Join(raw, ","))
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}

// extractTags walks outlines depth first, collecting tag outlines, folder
// names and feed categories.
func extractTags(outlines []Outline, out *[]string) {
	for _, o := range outlines {
		label := o.Text
		if label == "" {
			label = o.Title
		}

		switch {
		case o.Type == TagType:
			*out = append(*out, label)
		case o.XMLUrl != "":
			// Categories may be a comma or slash separated list.
			*out = append(*out, strings.ReplaceAll(o.Category, "/", ","))
		case len(o.Outlines) > 0:
			*out = append(*out, label)
		}

		if len(o.Outlines) > 0 {
			extractTags(o.Outlines, out)
		}
	}
}

// Generate writes tags as an OPML 2.0 document. owner may be empty.
func Generate(w io.Writer, tags []string, owner string) error {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       "tagfeed preferred tags",
			DateCreated: time.Now().Format(time.RFC1123),
			OwnerEmail:  owner,
		},
		Body: Body{
			Outlines: make([]Outline, 0, len(tags)),
		},
	}
	for _, tag := range tags {
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{Type: TagType, Text: tag})
	}

	// Write XML with indentation
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")

	if _, err := w.Write([]byte(xml.Header)); err != nil {
		return fmt.Errorf("failed to write XML header: %w", err)
	}
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode OPML: %w", err)
	}
	if _, err := w.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write final newline: %w", err)
	}
	return nil
}
