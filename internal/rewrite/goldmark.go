package rewrite

import (
	"context"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

var (
	docPathKey = parser.NewContextKey()
	ctxKey     = parser.NewContextKey()
	statsKey   = parser.NewContextKey()
)

// NewContext returns a parser context telling the transformer which
// document is being parsed. ctx bounds the uploads started while parsing.
func NewContext(ctx context.Context, docPath string) parser.Context {
	pc := parser.NewContext()
	pc.Set(docPathKey, docPath)
	pc.Set(ctxKey, ctx)
	return pc
}

// StatsFrom returns the image statistics recorded while parsing with pc.
func StatsFrom(pc parser.Context) Stats {
	s, _ := pc.Get(statsKey).(Stats)
	return s
}

// Transformer runs a Rewriter as a goldmark AST transformer.
type Transformer struct {
	Rewriter *Rewriter
}

// Transform implements parser.ASTTransformer. Documents parsed without a
// path from NewContext are left alone since relative references cannot be
// resolved.
func (t *Transformer) Transform(doc *ast.Document, reader text.Reader, pc parser.Context) {
	docPath, _ := pc.Get(docPathKey).(string)
	if docPath == "" || t.Rewriter == nil {
		return
	}
	ctx, ok := pc.Get(ctxKey).(context.Context)
	if !ok || ctx == nil {
		ctx = context.Background()
	}
	pc.Set(statsKey, t.Rewriter.Rewrite(ctx, doc, reader.Source(), docPath))
}

// Extension plugs the rewriter into a goldmark.Markdown.
type Extension struct {
	Rewriter *Rewriter
}

// NewExtension returns an Extension using r.
func NewExtension(r *Rewriter) *Extension {
	return &Extension{Rewriter: r}
}

// Extend implements goldmark.Extender.
func (e *Extension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithASTTransformers(
			util.Prioritized(&Transformer{Rewriter: e.Rewriter}, 100),
		),
	)
	m.Renderer().AddOptions(
		renderer.WithNodeRenderers(
			util.Prioritized(&markupRenderer{}, 500),
		),
	)
}
