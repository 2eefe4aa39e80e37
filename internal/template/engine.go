// Package template wraps rendered documents in complete HTML pages. Pages
// use a built-in layout unless the project supplies its own.
package template

import (
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// EntryName is the template executed for every page. A layout directory
// must contain it; other .html files in the directory are available to it
// through {{ template "name.html" . }}.
const EntryName = "page.html"

const defaultLayout = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{ .Title }}</title>
{{- with .Stylesheet }}
<link rel="stylesheet" href="{{ . }}">
{{- end }}
</head>
<body>
<main>
{{ .Content }}
</main>
</body>
</html>
`

// Engine executes the page layout.
type Engine struct {
	templates *template.Template
}

// NewEngine parses the layout at layoutPath, which may name a single file or
// a directory of templates. An empty layoutPath selects the built-in
// layout. pathPrefix is applied by the relURL function.
func NewEngine(layoutPath, pathPrefix string) (*Engine, error) {
	root := template.New(EntryName).Funcs(FuncMap(pathPrefix))
	if layoutPath == "" {
		if _, err := root.Parse(defaultLayout); err != nil {
			return nil, fmt.Errorf("parsing built-in layout: %w", err)
		}
		return &Engine{templates: root}, nil
	}

	info, err := os.Stat(layoutPath)
	if err != nil {
		return nil, fmt.Errorf("loading layout: %w", err)
	}

	files := map[string]string{EntryName: layoutPath}
	if info.IsDir() {
		if files, err = collectTemplateFiles(layoutPath); err != nil {
			return nil, fmt.Errorf("loading layouts from %s: %w", layoutPath, err)
		}
		if _, ok := files[EntryName]; !ok {
			return nil, fmt.Errorf("layout directory %s has no %s", layoutPath, EntryName)
		}
	}

	for name, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", path, err)
		}
		t := root
		if name != EntryName {
			t = root.New(name)
		}
		if _, err := t.Parse(string(content)); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
	}
	return &Engine{templates: root}, nil
}

// Execute renders the page for ctx into w.
func (e *Engine) Execute(w io.Writer, ctx *PageContext) error {
	if err := e.templates.ExecuteTemplate(w, EntryName, ctx); err != nil {
		return fmt.Errorf("executing layout: %w", err)
	}
	return nil
}

// HasTemplate reports whether a template with the given name was parsed.
func (e *Engine) HasTemplate(name string) bool {
	return e.templates.Lookup(name) != nil
}

// collectTemplateFiles maps the slash-separated path of every .html file
// below dir to its location on disk.
func collectTemplateFiles(dir string) (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".html") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = path
		return nil
	})
	return files, err
}
