package rewrite

import (
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// KindMarkup is the node kind of Markup.
var KindMarkup = ast.NewNodeKind("Markup")

// Markup is an inline node holding generated HTML that replaced an image
// or an inline HTML fragment.
type Markup struct {
	ast.BaseInline
	HTML []byte
}

// Kind implements ast.Node.
func (n *Markup) Kind() ast.NodeKind { return KindMarkup }

// Dump implements ast.Node.
func (n *Markup) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"HTML": string(n.HTML)}, nil)
}

// KindMarkupBlock is the node kind of MarkupBlock.
var KindMarkupBlock = ast.NewNodeKind("MarkupBlock")

// MarkupBlock is the block counterpart of Markup, replacing an HTML block.
type MarkupBlock struct {
	ast.BaseBlock
	HTML []byte
}

// Kind implements ast.Node.
func (n *MarkupBlock) Kind() ast.NodeKind { return KindMarkupBlock }

// IsRaw implements ast.Node.
func (n *MarkupBlock) IsRaw() bool { return true }

// Dump implements ast.Node.
func (n *MarkupBlock) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"HTML": string(n.HTML)}, nil)
}

// markupRenderer writes Markup and MarkupBlock nodes verbatim.
type markupRenderer struct{}

// RegisterFuncs implements renderer.NodeRenderer.
func (r *markupRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindMarkup, r.renderMarkup)
	reg.Register(KindMarkupBlock, r.renderMarkupBlock)
}

func (r *markupRenderer) renderMarkup(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.Write(node.(*Markup).HTML)
	}
	return ast.WalkSkipChildren, nil
}

func (r *markupRenderer) renderMarkupBlock(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkSkipChildren, nil
	}
	out := node.(*MarkupBlock).HTML
	_, _ = w.Write(out)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		_ = w.WriteByte('\n')
	}
	return ast.WalkSkipChildren, nil
}
