package template

import (
	"html/template"
	"time"
)

// PageContext is the data passed to the layout as ".".
type PageContext struct {
	Title      string
	URL        string
	Source     string // document path relative to the source directory
	Content    template.HTML
	Stylesheet string // URL of the highlighting stylesheet, empty when disabled
	Params     map[string]any
	Images     ImageStats
	BuildDate  time.Time
}

// ImageStats counts the document's image references.
type ImageStats struct {
	Found     int
	Rewritten int
	Skipped   int
}
