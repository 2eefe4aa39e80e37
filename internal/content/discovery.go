package content

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/aellingwood/ucimg/internal/rewrite"
)

// datePrefixRe matches a leading YYYY-MM-DD- date prefix in a filename.
var datePrefixRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}-`)

// slugifyRe removes characters that are not alphanumeric, hyphens, or periods.
var slugifyRe = regexp.MustCompile(`[^a-z0-9\-.]`)

var multiHyphenRe = regexp.MustCompile(`-{2,}`)

// Document is one markdown file of the content tree.
type Document struct {
	SourcePath string // absolute
	RelPath    string // slash-separated, relative to the content root
	FrontMatter
	URL  string // e.g. "/guides/setup/"
	Body []byte // markdown without front matter

	HTML   []byte
	Images rewrite.Stats
}

// Dir returns the directory holding the source file, which relative image
// references are resolved against.
func (d *Document) Dir() string { return filepath.Dir(d.SourcePath) }

// IsMarkdown reports whether path names a markdown file.
func IsMarkdown(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// Discover walks root and loads every markdown document below it, sorted
// by relative path. Hidden files and directories are skipped. Drafts are
// included; callers filter them.
func Discover(root string) ([]*Document, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving content root: %w", err)
	}

	var docs []*Document
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != absRoot && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !IsMarkdown(path) {
			return nil
		}
		doc, err := Load(absRoot, path)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking content directory: %w", err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].RelPath < docs[j].RelPath })
	return docs, nil
}

// Load reads a single document at path below root.
func Load(root, path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	fm, body, err := SplitFrontMatter(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return nil, fmt.Errorf("computing relative path for %s: %w", path, err)
	}

	doc := &Document{
		SourcePath:  path,
		RelPath:     filepath.ToSlash(rel),
		FrontMatter: fm,
		Body:        body,
	}
	doc.URL = documentURL(doc.RelPath, fm.Slug)
	return doc, nil
}

// documentURL maps a relative source path to its output URL. index and
// _index files stand for their directory; other files become a directory
// named after their slug.
func documentURL(relPath, slug string) string {
	dir, file := "", relPath
	if i := strings.LastIndexByte(relPath, '/'); i >= 0 {
		dir, file = relPath[:i], relPath[i+1:]
	}
	name := strings.TrimSuffix(file, filepath.Ext(file))

	if name == "index" || name == "_index" {
		if dir == "" {
			return "/"
		}
		return "/" + dir + "/"
	}
	if slug == "" {
		slug = slugify(datePrefixRe.ReplaceAllString(name, ""))
	}
	if dir == "" {
		return "/" + slug + "/"
	}
	return "/" + dir + "/" + slug + "/"
}

// slugify lowercases name, turns spaces and underscores into hyphens and
// drops everything that is not alphanumeric, a hyphen or a period.
func slugify(name string) string {
	s := strings.ToLower(name)
	s = strings.NewReplacer(" ", "-", "_", "-").Replace(s)
	s = slugifyRe.ReplaceAllString(s, "")
	s = multiHyphenRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
