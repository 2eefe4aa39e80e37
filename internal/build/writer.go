package build

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aellingwood/ucimg/internal/cdn"
	"github.com/aellingwood/ucimg/internal/content"
	"github.com/aellingwood/ucimg/internal/template"
)

// stylesheetName is the file the code highlighting CSS is written to.
const stylesheetName = "chroma.css"

// renderPage wraps the rendered document in the page layout.
func renderPage(layout *template.Engine, doc *content.Document, stylesheet string, built time.Time) ([]byte, error) {
	title := doc.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(doc.RelPath), filepath.Ext(doc.RelPath))
	}
	var buf bytes.Buffer
	err := layout.Execute(&buf, &template.PageContext{
		Title:      title,
		URL:        doc.URL,
		Source:     filepath.ToSlash(doc.RelPath),
		Content:    htmltemplate.HTML(doc.HTML),
		Stylesheet: stylesheet,
		Params:     doc.Params,
		Images: template.ImageStats{
			Found:     doc.Images.Found,
			Rewritten: doc.Images.Rewritten,
			Skipped:   doc.Images.Skipped,
		},
		BuildDate: built,
	})
	if err != nil {
		return nil, fmt.Errorf("rendering page %s: %w", doc.RelPath, err)
	}
	return buf.Bytes(), nil
}

// stylesheetURL returns the public URL of the highlighting stylesheet.
func stylesheetURL(pathPrefix string) string {
	return "/" + strings.TrimLeft(cdn.JoinURL(pathPrefix, stylesheetName), "/")
}

// OutputPath returns the file a page URL is written to: "/" maps to
// index.html and "/a/b/" to a/b/index.html.
func OutputPath(outputDir, url string) string {
	rel := strings.Trim(url, "/")
	if rel == "" {
		return filepath.Join(outputDir, "index.html")
	}
	return filepath.Join(outputDir, filepath.FromSlash(rel), "index.html")
}

// WriteFile writes data to the file for url below outputDir.
func WriteFile(outputDir, url string, data []byte) error {
	path := OutputPath(outputDir, url)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing file %s: %w", path, err)
	}
	return nil
}

// CleanDir removes the directory at dir and recreates it empty.
func CleanDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}

// DirSize calculates the total size in bytes of all files in dir. A
// missing dir has size 0.
func DirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil && os.IsNotExist(err) {
		return 0, nil
	}
	return total, err
}
