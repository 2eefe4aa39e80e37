package rewrite

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// imgTag is an <img> element found in an HTML fragment. start and end are
// byte offsets of the whole tag within the fragment.
type imgTag struct {
	start, end int
	src        string
	title      string
	alt        string
	hasAlt     bool
	inAnchor   bool // an <a> of the same fragment is open around the tag
}

// findImages tokenizes fragment and returns every <img> tag carrying a src
// attribute, in document order.
func findImages(fragment []byte) []imgTag {
	var tags []imgTag
	z := html.NewTokenizer(bytes.NewReader(fragment))
	offset := 0
	depth := 0 // open <a> elements
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return tags
		}
		// Raw must be measured before TagName, which rewrites the buffer.
		n := len(z.Raw())
		start := offset
		offset += n

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "a" && depth > 0 {
				depth--
			}
			continue
		default:
			continue
		}
		name, hasAttr := z.TagName()
		if string(name) == "a" {
			if tt == html.StartTagToken {
				depth++
			}
			continue
		}
		if string(name) != "img" {
			continue
		}
		tag := imgTag{start: start, end: offset, inAnchor: depth > 0}
		for hasAttr {
			var key, val []byte
			key, val, hasAttr = z.TagAttr()
			switch string(key) {
			case "src":
				tag.src = string(val)
			case "title":
				tag.title = string(val)
			case "alt":
				tag.alt = string(val)
				tag.hasAlt = true
			}
		}
		if tag.src != "" {
			tags = append(tags, tag)
		}
	}
}

// splice replaces the byte ranges of tags in fragment with the matching
// replacement. Tags with an empty replacement are kept as they were.
func splice(fragment []byte, tags []imgTag, replacements []string) []byte {
	var b strings.Builder
	b.Grow(len(fragment))
	last := 0
	for i, tag := range tags {
		if replacements[i] == "" {
			continue
		}
		b.Write(fragment[last:tag.start])
		b.WriteString(replacements[i])
		last = tag.end
	}
	b.Write(fragment[last:])
	return []byte(b.String())
}

// hasAnchor reports whether fragment opens an <a> element.
func hasAnchor(fragment []byte) bool {
	return bytes.Contains(bytes.ToLower(fragment), []byte("<a "))
}
