package template

import (
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"time"

	"github.com/aellingwood/ucimg/internal/cdn"
)

// FuncMap returns the functions available to layouts. relURL prefixes
// paths with pathPrefix.
func FuncMap(pathPrefix string) template.FuncMap {
	return template.FuncMap{
		"plainify":   plainify,
		"truncate":   truncate,
		"safeHTML":   safeHTML,
		"dateFormat": dateFormat,
		"default":    defaultValue,
		"param":      param,
		"relURL": func(path string) string {
			return relURL(pathPrefix, path)
		},
	}
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

// plainify strips HTML tags from a string.
func plainify(s any) string {
	return tagRe.ReplaceAllString(fmt.Sprint(s), "")
}

// truncate shortens s to n runes, ending in "..." when cut.
func truncate(n int, s string) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

func safeHTML(s string) template.HTML {
	return template.HTML(s)
}

func dateFormat(layout string, t time.Time) string {
	return t.Format(layout)
}

// defaultValue returns value unless it is nil or the empty string.
func defaultValue(fallback, value any) any {
	if value == nil {
		return fallback
	}
	if s, ok := value.(string); ok && s == "" {
		return fallback
	}
	return value
}

// param looks up a front matter value; nested maps are addressed with dots.
func param(params map[string]any, key string) any {
	var cur any = params
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		if cur, ok = m[part]; !ok {
			return nil
		}
	}
	return cur
}

// relURL joins pathPrefix and path into a root-relative URL.
func relURL(pathPrefix, path string) string {
	return "/" + strings.TrimLeft(cdn.JoinURL(pathPrefix, path), "/")
}
