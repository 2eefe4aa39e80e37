// Package rewrite replaces image references in a parsed markdown document
// with responsive markup. It understands markdown images, reference-style
// images and <img> tags inside raw HTML.
package rewrite

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"github.com/yuin/goldmark/ast"
	"go.uber.org/zap"

	"github.com/aellingwood/ucimg/internal/cdn"
	"github.com/aellingwood/ucimg/internal/config"
	"github.com/aellingwood/ucimg/internal/image"
)

// DefaultConcurrency bounds the images of one document processed at once.
const DefaultConcurrency = 8

// Generator renders the markup for one image reference.
type Generator interface {
	Generate(ctx context.Context, ref image.Reference, docDir string, inLink bool, ov image.Overrides) (string, bool)
}

// Stats counts what happened to the images of a document.
type Stats struct {
	Found     int // eligible references
	Rewritten int
	Skipped   int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Found += o.Found
	s.Rewritten += o.Rewritten
	s.Skipped += o.Skipped
}

// Option configures a Rewriter.
type Option func(*Rewriter)

// WithConcurrency bounds the images processed at once per document.
func WithConcurrency(n int) Option {
	return func(r *Rewriter) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithEmptyAltMarker sets the alt text that requests alt="".
func WithEmptyAltMarker(marker string) Option {
	return func(r *Rewriter) { r.emptyAltMarker = marker }
}

// Rewriter finds eligible image references in a document and swaps them
// for generated markup.
type Rewriter struct {
	gen            Generator
	log            *zap.Logger
	concurrency    int
	emptyAltMarker string
}

// New returns a Rewriter that renders images with gen.
func New(gen Generator, logger *zap.Logger, opts ...Option) *Rewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Rewriter{
		gen:            gen,
		log:            logger,
		concurrency:    DefaultConcurrency,
		emptyAltMarker: config.DefaultEmptyAltMarker,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type unitKind int

const (
	unitImage unitKind = iota
	unitInlineHTML
	unitBlockHTML
)

// unit is a node that may be substituted once its images are generated.
type unit struct {
	kind      unitKind
	node      ast.Node
	ancestors []ast.Node
	fragment  []byte   // HTML units only
	tags      []imgTag // eligible <img> tags of an HTML unit
	results   []string // generated markup per image, "" when skipped
}

// job is one image generation: image i of unit u.
type job struct {
	u        *unit
	i        int
	ref      image.Reference
	ov       image.Overrides
	inAnchor bool // wrapped by an <a> inside its own HTML fragment
}

// Rewrite generates markup for every eligible image in doc and replaces
// the nodes that produced at least one result. Images run concurrently;
// a failing image leaves its node as it was.
func (r *Rewriter) Rewrite(ctx context.Context, doc ast.Node, source []byte, docPath string) Stats {
	units, jobs := r.collect(doc, source)
	if len(jobs) == 0 {
		return Stats{}
	}
	docDir := filepath.Dir(docPath)

	p := pool.New().WithMaxGoroutines(r.concurrency)
	for _, j := range jobs {
		p.Go(func() {
			inLink := j.inAnchor || IsDescendantOfLink(j.u.ancestors, source)
			if out, ok := r.gen.Generate(ctx, j.ref, docDir, inLink, j.ov); ok {
				j.u.results[j.i] = out
			}
		})
	}
	p.Wait()

	stats := Stats{Found: len(jobs)}
	for _, u := range units {
		n := u.substitute()
		stats.Rewritten += n
	}
	stats.Skipped = stats.Found - stats.Rewritten
	r.log.Debug("rewrote document images",
		zap.String("document", docPath),
		zap.Int("found", stats.Found),
		zap.Int("rewritten", stats.Rewritten))
	return stats
}

// collect walks doc and returns the substitutable units and the image jobs
// they spawn.
func (r *Rewriter) collect(doc ast.Node, source []byte) ([]*unit, []job) {
	var units []*unit
	var jobs []job

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Image:
			dest := string(node.Destination)
			if !eligible(dest) {
				return ast.WalkSkipChildren, nil
			}
			u := &unit{kind: unitImage, node: node, ancestors: ancestorsOf(node), results: make([]string, 1)}
			units = append(units, u)
			ref, ov := r.imageReference(node, source)
			jobs = append(jobs, job{u: u, i: 0, ref: ref, ov: ov})
			return ast.WalkSkipChildren, nil

		case *ast.RawHTML:
			r.collectHTML(node, unitInlineHTML, rawHTMLBytes(node, source), &units, &jobs)

		case *ast.HTMLBlock:
			r.collectHTML(node, unitBlockHTML, htmlBlockBytes(node, source), &units, &jobs)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return units, jobs
}

func (r *Rewriter) collectHTML(node ast.Node, kind unitKind, fragment []byte, units *[]*unit, jobs *[]job) {
	var tags []imgTag
	for _, tag := range findImages(fragment) {
		if eligible(tag.src) {
			tags = append(tags, tag)
		}
	}
	if len(tags) == 0 {
		return
	}
	u := &unit{
		kind:      kind,
		node:      node,
		ancestors: ancestorsOf(node),
		fragment:  fragment,
		tags:      tags,
		results:   make([]string, len(tags)),
	}
	*units = append(*units, u)
	for i, tag := range tags {
		ref := image.Reference{URL: tag.src, Title: tag.title}
		if tag.hasAlt {
			ref.Alt = image.ParseAlt(tag.alt, r.emptyAltMarker)
			if tag.alt == "" {
				ref.Alt = image.EmptyAlt()
			}
		}
		*jobs = append(*jobs, job{u: u, i: i, ref: ref, inAnchor: tag.inAnchor})
	}
}

// imageReference converts a markdown image. Images written in reference
// style carry their alt text as an override, the way the referencing
// node's text outranks the definition.
func (r *Rewriter) imageReference(n *ast.Image, source []byte) (image.Reference, image.Overrides) {
	alt := image.ParseAlt(altText(n, source), r.emptyAltMarker)
	ref := image.Reference{URL: string(n.Destination), Title: string(n.Title)}
	if isReferenceStyle(n, source) {
		return ref, image.Overrides{Alt: alt}
	}
	ref.Alt = alt
	return ref, image.Overrides{}
}

// substitute swaps the unit's node for its generated markup and returns the
// number of images rewritten.
func (u *unit) substitute() int {
	rewritten := 0
	for _, res := range u.results {
		if res != "" {
			rewritten++
		}
	}
	if rewritten == 0 {
		return 0
	}
	parent := u.node.Parent()
	if parent == nil {
		return 0
	}

	switch u.kind {
	case unitImage:
		parent.ReplaceChild(parent, u.node, &Markup{HTML: []byte(u.results[0])})
	case unitInlineHTML:
		parent.ReplaceChild(parent, u.node, &Markup{HTML: splice(u.fragment, u.tags, u.results)})
	case unitBlockHTML:
		parent.ReplaceChild(parent, u.node, &MarkupBlock{HTML: splice(u.fragment, u.tags, u.results)})
	}
	return rewritten
}

// eligible reports whether ref points at a local file the CDN can handle.
func eligible(ref string) bool {
	if !cdn.IsRelative(ref) {
		return false
	}
	return cdn.SupportedExtension(cdn.ParseReference(ref).Extension)
}

// IsDescendantOfLink reports whether a node with the given ancestors ends
// up inside a link: an ancestor is a link, or an ancestor has a link child
// or an inline or block HTML child opening an <a> element. ancestors is
// ordered from the root down.
func IsDescendantOfLink(ancestors []ast.Node, source []byte) bool {
	for _, a := range ancestors {
		switch a.(type) {
		case *ast.Link, *ast.AutoLink:
			return true
		}
		for c := a.FirstChild(); c != nil; c = c.NextSibling() {
			switch child := c.(type) {
			case *ast.Link, *ast.AutoLink:
				return true
			case *ast.RawHTML:
				if hasAnchor(rawHTMLBytes(child, source)) {
					return true
				}
			case *ast.HTMLBlock:
				if hasAnchor(htmlBlockBytes(child, source)) {
					return true
				}
			}
		}
	}
	return false
}

// ancestorsOf returns the parents of n from the root down.
func ancestorsOf(n ast.Node) []ast.Node {
	var chain []ast.Node
	for p := n.Parent(); p != nil; p = p.Parent() {
		chain = append(chain, p)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// altText concatenates the text below an image node.
func altText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || c == n {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// isReferenceStyle reports whether the image was written as ![alt][label]
// or ![alt] rather than ![alt](url). The byte following the alt text's
// closing bracket tells the forms apart.
func isReferenceStyle(n *ast.Image, source []byte) bool {
	last := n.LastChild()
	if last == nil {
		return false
	}
	t, ok := last.(*ast.Text)
	if !ok {
		return false
	}
	i := t.Segment.Stop
	if i >= len(source) || source[i] != ']' {
		return false
	}
	return i+1 >= len(source) || source[i+1] != '('
}

func rawHTMLBytes(n *ast.RawHTML, source []byte) []byte {
	var buf bytes.Buffer
	for i := 0; i < n.Segments.Len(); i++ {
		seg := n.Segments.At(i)
		buf.Write(seg.Value(source))
	}
	return buf.Bytes()
}

func htmlBlockBytes(n *ast.HTMLBlock, source []byte) []byte {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	if n.HasClosure() {
		buf.Write(n.ClosureLine.Value(source))
	}
	return buf.Bytes()
}
