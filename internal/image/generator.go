// Package image turns a single image reference into responsive, CDN-backed
// HTML: srcset and sizes, an aspect-ratio box with a blur-up placeholder,
// and optional link and caption wrappers.
package image

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/aellingwood/ucimg/internal/asset"
	"github.com/aellingwood/ucimg/internal/cdn"
	"github.com/aellingwood/ucimg/internal/config"
	"github.com/aellingwood/ucimg/internal/files"
)

// Reference is an image as written in a document.
type Reference struct {
	URL   string
	Title string
	Alt   Alt
}

// Overrides carries values taken from the node that referenced the image
// indirectly, such as a reference-style image's own alt text.
type Overrides struct {
	Alt Alt
}

// AssetResolver finds or creates the CDN asset for a local file.
type AssetResolver interface {
	Resolve(ctx context.Context, local asset.Local) (asset.Remote, error)
}

// CaptionCompiler renders caption markdown to HTML.
type CaptionCompiler interface {
	CompileCaption(markdown string) (string, error)
}

// Deps are the collaborators a Generator needs.
type Deps struct {
	Files        files.Index
	Assets       AssetResolver
	Captions     CaptionCompiler // optional
	Placeholders *Placeholders   // optional
	StaticDir    string          // destination for noProcess copies
	PathPrefix   string
	CDNBase      string
	Logger       *zap.Logger
}

// Generator renders image references. It is safe for concurrent use when
// its dependencies are.
type Generator struct {
	opts ImageOptions
	deps Deps
	log  *zap.Logger
}

// ImageOptions is the image section of the configuration.
type ImageOptions = config.ImageOptions

// NewGenerator returns a Generator for opts.
func NewGenerator(opts ImageOptions, deps Deps) *Generator {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if deps.CDNBase == "" {
		deps.CDNBase = "https://ucarecdn.com"
	}
	return &Generator{opts: opts, deps: deps, log: log}
}

// Options returns the image options the generator was built with.
func (g *Generator) Options() ImageOptions { return g.opts }

// Generate returns the markup replacing ref, or false when the reference
// must be left untouched. docDir is the directory of the document holding
// the reference; inLink suppresses the link to the original.
func (g *Generator) Generate(ctx context.Context, ref Reference, docDir string, inLink bool, ov Overrides) (string, bool) {
	parsed := cdn.ParseReference(ref.URL)
	absPath := filepath.Join(docDir, filepath.FromSlash(unescapePath(parsed.BaseURL)))

	local, ok := g.deps.Files.Lookup(absPath)
	if !ok {
		g.log.Debug("image file not found", zap.String("url", ref.URL), zap.String("path", absPath))
		return "", false
	}

	if parsed.NoProcess() {
		return g.generateStatic(ref, local, inLink, ov)
	}

	remote, err := g.deps.Assets.Resolve(ctx, local)
	if err != nil {
		g.log.Warn("image upload failed", zap.String("file", local.AbsolutePath), zap.Error(err))
		return "", false
	}
	if !remote.HasDimensions() {
		g.log.Warn("CDN reports no dimensions for image", zap.String("file", local.AbsolutePath), zap.String("uuid", remote.ID.String()))
		return "", false
	}

	maxWidth := g.opts.MaxWidth
	fileName := remote.OriginalFilename
	if fileName == "" {
		fileName = local.FileName()
	}
	imageURL := cdn.JoinURL(g.deps.CDNBase, remote.ID.String())

	ops := g.opts.ImageOperations.Merge(parsed.Operations())
	primaryOps := ops.With("resize", "")
	if remote.Width >= maxWidth {
		primaryOps = ops.With("resize", fmt.Sprintf("%dx", maxWidth))
	}

	set, err := cdn.Breakpoints(maxWidth, g.opts.SrcSetBreakpoints, float64(remote.Width), g.opts.Sizes)
	if err != nil {
		var cfgErr *cdn.ConfigError
		if errors.As(err, &cfgErr) {
			g.log.Error("invalid image option", zap.String("file", local.AbsolutePath), zap.Error(err))
		}
		return "", false
	}

	alt, title := g.altAndTitle(ref, ov, local)
	m := &markup{
		alt:          alt,
		title:        title,
		src:          cdn.CompileURL(imageURL, fileName, primaryOps),
		srcSet:       cdn.SrcSet(imageURL, fileName, ops, set.Widths),
		sizes:        set.Sizes,
		loading:      g.opts.Loading,
		decoding:     g.opts.Decoding,
		maxWidth:     min(remote.Width, maxWidth),
		ratio:        aspectRatio(remote.Width, remote.Height),
		wrapperStyle: string(g.opts.WrapperStyle),
		captionHTML:  g.caption(ref, ov),
	}
	if remote.Sequence {
		m.videoSources = []videoSource{
			{src: cdn.JoinURL(imageURL, "/gif2video/-/format/webm/"), mime: "video/webm"},
			{src: cdn.JoinURL(imageURL, "/gif2video/-/format/mp4/"), mime: "video/mp4"},
		}
	} else {
		m.background = g.background(local)
	}
	if !inLink && g.opts.LinkImagesToOriginal {
		m.href = cdn.JoinURL(imageURL, fileName)
	}
	return m.render(), true
}

// generateStatic handles references carrying the noProcess flag: the file
// is copied into the output as-is and served from there. When the size of
// the file cannot be read a plain <img> without aspect-ratio box is emitted.
func (g *Generator) generateStatic(ref Reference, local asset.Local, inLink bool, ov Overrides) (string, bool) {
	width, height, err := Dimensions(local.AbsolutePath)
	if err != nil || width <= 0 || height <= 0 {
		g.log.Debug("image dimensions unknown", zap.String("file", local.AbsolutePath), zap.Error(err))
		width, height = 0, 0
	}
	if err := copyStatic(g.deps.StaticDir, local); err != nil {
		g.log.Warn("copying image failed", zap.String("file", local.AbsolutePath), zap.Error(err))
		return "", false
	}

	src := StaticURL(g.deps.PathPrefix, local)
	alt, title := g.altAndTitle(ref, ov, local)
	m := &markup{
		alt:          alt,
		title:        title,
		src:          src,
		loading:      g.opts.Loading,
		decoding:     g.opts.Decoding,
		wrapperStyle: string(g.opts.WrapperStyle),
		captionHTML:  g.caption(ref, ov),
	}
	if width > 0 {
		m.maxWidth = min(width, g.opts.MaxWidth)
		m.ratio = aspectRatio(width, height)
		m.background = g.background(local)
	}
	if !inLink && g.opts.LinkImagesToOriginal {
		m.href = src
	}
	return m.render(), true
}

// altAndTitle applies the alt precedence: an explicitly empty alt on either
// node wins, then the override text, the node text and finally the file
// name. The title falls back to the alt.
func (g *Generator) altAndTitle(ref Reference, ov Overrides, local asset.Local) (alt, title string) {
	switch {
	case ref.Alt.IsEmpty() || ov.Alt.IsEmpty():
		alt = ""
	case ov.Alt.Value() != "":
		alt = ov.Alt.Value()
	case ref.Alt.Value() != "":
		alt = ref.Alt.Value()
	default:
		alt = local.Name
	}
	title = ref.Title
	if title == "" {
		title = alt
	}
	return alt, title
}

// background returns the placeholder data URI or "" when the background
// image is disabled or unavailable.
func (g *Generator) background(local asset.Local) string {
	if g.opts.DisableBgImage || g.deps.Placeholders == nil {
		return ""
	}
	preview, err := g.deps.Placeholders.Get(local.Fingerprint, local.AbsolutePath)
	if err != nil {
		g.log.Debug("no placeholder for image", zap.String("file", local.AbsolutePath), zap.Error(err))
		return ""
	}
	if g.opts.DisableBgImageOnAlpha && preview.Transparent {
		return ""
	}
	return preview.DataURI
}

// caption returns the caption HTML, or "" for none.
func (g *Generator) caption(ref Reference, ov Overrides) string {
	text := captionText(g.opts.ShowCaptions, ref, ov)
	if text == "" {
		return ""
	}
	if g.opts.MarkdownCaptions && g.deps.Captions != nil {
		out, err := g.deps.Captions.CompileCaption(text)
		if err == nil {
			return strings.TrimSpace(out)
		}
		g.log.Warn("compiling caption failed", zap.String("caption", text), zap.Error(err))
	}
	return html.EscapeString(text)
}

// captionText walks the configured sources in order and returns the first
// non-empty one. An explicitly empty alt ends the search.
func captionText(order config.CaptionOrder, ref Reference, ov Overrides) string {
	for _, src := range order {
		switch src {
		case config.CaptionTitle:
			if ref.Title != "" {
				return ref.Title
			}
		case config.CaptionAlt:
			if ref.Alt.IsEmpty() || ov.Alt.IsEmpty() {
				return ""
			}
			if v := ov.Alt.Value(); v != "" {
				return v
			}
			if v := ref.Alt.Value(); v != "" {
				return v
			}
		}
	}
	return ""
}

// aspectRatio renders height as a percentage of width for the padding box.
func aspectRatio(width, height int) string {
	ratio := 1 / (float64(width) / float64(height)) * 100
	return cdn.FormatNumber(ratio) + "%"
}

// unescapePath decodes percent-escapes, keeping p unchanged when it is not
// validly escaped.
func unescapePath(p string) string {
	if u, err := url.PathUnescape(p); err == nil {
		return u
	}
	return p
}
