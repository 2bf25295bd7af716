package model

import "strings"

// NormalizeTag trims whitespace and lowercases a tag.
func NormalizeTag(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ParseTagList splits a comma-separated tag string, normalizes each piece
// and drops empty pieces and duplicates. First-seen order is kept.
func ParseTagList(raw string) []string {
	var tags []string
	for _, piece := range strings.Split(raw, ",") {
		tag := NormalizeTag(piece)
		if tag == "" || ContainsTag(tags, tag) {
			continue
		}
		tags = append(tags, tag)
	}
	return tags
}

// ContainsTag reports whether tags holds tag (exact match).
func ContainsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// RemoveTag returns a copy of tags without tag.
func RemoveTag(tags []string, tag string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != tag {
			out = append(out, t)
		}
	}
	return out
}
