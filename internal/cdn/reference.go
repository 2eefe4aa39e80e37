// Package cdn composes Uploadcare-style transformation URLs and computes the
// responsive breakpoint set for images served from the CDN.
package cdn

import (
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
)

// NoProcessFlag is the query key that asks for an image to be copied
// verbatim instead of being uploaded and transformed.
const NoProcessFlag = "noProcess"

// supportedExtensions lists the file types the CDN can transform.
var supportedExtensions = map[string]bool{
	"jpeg": true,
	"jpg":  true,
	"png":  true,
	"webp": true,
	"tif":  true,
	"tiff": true,
	"gif":  true,
	"svg":  true,
}

// schemeRe matches a URL scheme such as "https:" or "data:".
var schemeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z\d+\-.]*:`)

// Reference is an image reference split into its path and query parts.
type Reference struct {
	BaseURL   string     // reference without query string or fragment
	Extension string     // lower-cased, without the leading dot
	Query     url.Values // per-image operations and flags
}

// ParseReference splits ref into base URL, extension and query parameters.
// It never fails: malformed query strings yield whatever pairs could be
// decoded.
func ParseReference(ref string) Reference {
	base, rawQuery, _ := strings.Cut(ref, "?")
	base, _, _ = strings.Cut(base, "#")
	rawQuery, _, _ = strings.Cut(rawQuery, "#")

	query, err := url.ParseQuery(rawQuery)
	if err != nil && query == nil {
		query = url.Values{}
	}

	return Reference{
		BaseURL:   base,
		Extension: strings.ToLower(strings.TrimPrefix(path.Ext(base), ".")),
		Query:     query,
	}
}

// NoProcess reports whether the reference carries the noProcess flag, with
// or without a value.
func (r Reference) NoProcess() bool {
	_, ok := r.Query[NoProcessFlag]
	return ok
}

// Operations returns the query parameters as transformation operations,
// sorted by name. The noProcess flag is not an operation and is omitted.
func (r Reference) Operations() Operations {
	names := make([]string, 0, len(r.Query))
	for name := range r.Query {
		if name == NoProcessFlag {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	ops := make(Operations, 0, len(names))
	for _, name := range names {
		ops = append(ops, Operation{Name: name, Value: r.Query.Get(name)})
	}
	return ops
}

// SupportedExtension reports whether ext (without dot, any case) is a file
// type the CDN can transform.
func SupportedExtension(ext string) bool {
	return supportedExtensions[strings.ToLower(ext)]
}

// IsRelative reports whether ref points at a local file: it has no scheme
// and is not protocol-relative.
func IsRelative(ref string) bool {
	if ref == "" || strings.HasPrefix(ref, "//") {
		return false
	}
	return !schemeRe.MatchString(ref)
}
