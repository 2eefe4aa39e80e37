package cdn

import (
	"regexp"
	"strconv"
	"strings"
)

// repeatedSlashRe matches runs of slashes that are not part of a scheme
// separator.
var repeatedSlashRe = regexp.MustCompile(`([^:/])/{2,}`)

// JoinURL joins URL parts with exactly one slash between them. Empty parts
// are skipped, the scheme's "//" is preserved and a trailing slash survives
// only when the last part carries one.
func JoinURL(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}

	var b strings.Builder
	for i, p := range nonEmpty {
		if i > 0 {
			p = strings.TrimLeft(p, "/")
		}
		if i < len(nonEmpty)-1 {
			p = strings.TrimRight(p, "/")
		}
		if p == "" {
			continue
		}
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "/") {
			b.WriteByte('/')
		}
		b.WriteString(p)
	}
	return repeatedSlashRe.ReplaceAllString(b.String(), "$1/")
}

// CompileURL builds the transformation URL for fileName under src, e.g.
// https://ucarecdn.com/<uuid>/-/quality/smart/-/format/auto/photo.jpg.
// The result depends only on its inputs.
func CompileURL(src, fileName string, ops Operations) string {
	return JoinURL(src, ops.Path(), fileName)
}

// FormatNumber renders f with the fewest digits that round-trip, so 650
// prints as "650" and 162.5 as "162.5".
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
