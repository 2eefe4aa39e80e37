package content

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/aellingwood/ucimg/internal/rewrite"
)

// RendererOption configures a MarkdownRenderer.
type RendererOption func(*rendererConfig)

type rendererConfig struct {
	rewriter    *rewrite.Rewriter
	lineNumbers bool
}

// WithRewriter rewrites image references while documents are parsed.
func WithRewriter(r *rewrite.Rewriter) RendererOption {
	return func(c *rendererConfig) { c.rewriter = r }
}

// WithLineNumbers numbers the lines of highlighted code blocks.
func WithLineNumbers(on bool) RendererOption {
	return func(c *rendererConfig) { c.lineNumbers = on }
}

// MarkdownRenderer converts documents to HTML with goldmark (GFM,
// footnotes, typographer, syntax highlighting, heading IDs and attributes).
type MarkdownRenderer struct {
	md goldmark.Markdown
}

// NewMarkdownRenderer returns a renderer. Without WithRewriter image
// references are rendered as written.
func NewMarkdownRenderer(opts ...RendererOption) *MarkdownRenderer {
	var cfg rendererConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	exts := []goldmark.Extender{
		extension.GFM,
		extension.Footnote,
		extension.Typographer,
		highlighting.NewHighlighting(
			highlighting.WithFormatOptions(
				chromahtml.WithClasses(true),
				chromahtml.WithLineNumbers(cfg.lineNumbers),
			),
		),
	}
	if cfg.rewriter != nil {
		exts = append(exts, rewrite.NewExtension(cfg.rewriter))
	}

	md := goldmark.New(
		goldmark.WithExtensions(exts...),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
			parser.WithAttribute(),
		),
		goldmark.WithRendererOptions(
			html.WithUnsafe(),
		),
	)
	return &MarkdownRenderer{md: md}
}

// Render converts doc.Body and stores the HTML and image statistics on doc.
func (r *MarkdownRenderer) Render(ctx context.Context, doc *Document) error {
	pc := rewrite.NewContext(ctx, doc.SourcePath)
	var buf bytes.Buffer
	if err := r.md.Convert(doc.Body, &buf, parser.WithContext(pc)); err != nil {
		return fmt.Errorf("markdown render %s: %w", doc.RelPath, err)
	}
	doc.HTML = buf.Bytes()
	doc.Images = rewrite.StatsFrom(pc)
	return nil
}

// RenderBytes converts standalone markdown without image rewriting.
func (r *MarkdownRenderer) RenderBytes(source []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.md.Convert(source, &buf); err != nil {
		return nil, fmt.Errorf("markdown render: %w", err)
	}
	return buf.Bytes(), nil
}

// CaptionCompiler renders image captions written in markdown.
type CaptionCompiler struct {
	md goldmark.Markdown
}

// NewCaptionCompiler returns a compiler for inline caption markdown. Raw
// HTML in captions is kept.
func NewCaptionCompiler() *CaptionCompiler {
	return &CaptionCompiler{md: goldmark.New(
		goldmark.WithExtensions(extension.Strikethrough, extension.Linkify, extension.Typographer),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)}
}

// CompileCaption renders s. A caption that is a single paragraph loses its
// <p> wrapper so it fits inside <figcaption>.
func (c *CaptionCompiler) CompileCaption(s string) (string, error) {
	var buf bytes.Buffer
	if err := c.md.Convert([]byte(s), &buf); err != nil {
		return "", fmt.Errorf("caption render: %w", err)
	}
	out := strings.TrimSpace(buf.String())
	if inner, ok := strings.CutPrefix(out, "<p>"); ok {
		if inner, ok = strings.CutSuffix(inner, "</p>"); ok && !strings.Contains(inner, "<p>") {
			return inner, nil
		}
	}
	return out, nil
}

// ChromaCSS returns the stylesheet for highlighted code blocks in style.
// Unknown styles fall back to chroma's default.
func ChromaCSS(style string) (string, error) {
	formatter := chromahtml.New(chromahtml.WithClasses(true))
	var buf bytes.Buffer
	if err := formatter.WriteCSS(&buf, styles.Get(style)); err != nil {
		return "", fmt.Errorf("generate CSS for style %q: %w", style, err)
	}
	return buf.String(), nil
}
