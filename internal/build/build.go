// Package build runs the document pipeline: it discovers markdown under the
// source directory, rewrites image references into CDN-backed responsive
// markup and writes the rendered pages to the destination directory.
package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aellingwood/ucimg/internal/asset"
	"github.com/aellingwood/ucimg/internal/buildcache"
	"github.com/aellingwood/ucimg/internal/config"
	"github.com/aellingwood/ucimg/internal/content"
	"github.com/aellingwood/ucimg/internal/files"
	"github.com/aellingwood/ucimg/internal/image"
	"github.com/aellingwood/ucimg/internal/rewrite"
	"github.com/aellingwood/ucimg/internal/template"
	"github.com/aellingwood/ucimg/internal/upload"
)

// staticDirName is the output directory holding verbatim image copies.
const staticDirName = "static"

// Remote is the CDN project the builder uploads to and lists from.
type Remote interface {
	upload.Uploader
	ListFiles(ctx context.Context) ([]asset.Remote, error)
}

// Options controls a single Builder.
type Options struct {
	ProjectRoot string // base for relative source and destination; cwd when empty
}

// Result contains statistics about a completed build.
type Result struct {
	Documents     int
	DraftsSkipped int
	Images        rewrite.Stats
	Uploads       int
	Prefetched    int
	Duration      time.Duration
	OutputSize    int64
	Pages         []string // URLs of the written pages
}

// Builder turns the content tree into rewritten HTML pages.
type Builder struct {
	cfg    *config.Config
	store  buildcache.Store
	remote Remote
	log    *zap.Logger
	opts   Options

	warnOnce sync.Once
}

// NewBuilder returns a Builder. store persists the project file list
// between builds; remote performs uploads.
func NewBuilder(cfg *config.Config, store buildcache.Store, remote Remote, logger *zap.Logger, opts Options) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{cfg: cfg, store: store, remote: remote, log: logger, opts: opts}
}

// Paths returns the absolute source and destination directories.
func (b *Builder) Paths() (source, destination string, err error) {
	root := b.opts.ProjectRoot
	if root == "" {
		if root, err = os.Getwd(); err != nil {
			return "", "", fmt.Errorf("determining project root: %w", err)
		}
	}
	abs := func(p string) string {
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Join(root, p)
	}
	source, destination = abs(b.cfg.Source), abs(b.cfg.Destination)
	if source == destination {
		return "", "", fmt.Errorf("destination %s must differ from the source directory", destination)
	}
	return source, destination, nil
}

// layoutPath returns the configured page layout resolved against the
// project root, or "" for the built-in layout.
func (b *Builder) layoutPath() string {
	if b.cfg.Layout == "" || filepath.IsAbs(b.cfg.Layout) {
		return b.cfg.Layout
	}
	root := b.opts.ProjectRoot
	if root == "" {
		root, _ = os.Getwd()
	}
	return filepath.Join(root, b.cfg.Layout)
}

// Build executes the pipeline:
//  1. Clean the destination
//  2. Prefetch the project file list into the build cache
//  3. Discover documents and drop drafts
//  4. Index image files below the source and load the page layout
//  5. Render documents in parallel, rewriting their images
//  6. Write pages and the highlighting stylesheet
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}

	b.warnOnce.Do(func() {
		for _, w := range b.cfg.Images.Warnings() {
			b.log.Warn("image option", zap.String("warning", w))
		}
	})

	source, destination, err := b.Paths()
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(source); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("source directory %s is not readable", source)
	}

	if err := CleanDir(destination); err != nil {
		return nil, fmt.Errorf("cleaning output directory: %w", err)
	}

	assets := buildcache.NewAssets(b.store)
	if b.cfg.Uploadcare.Prefetch {
		result.Prefetched = b.prefetch(ctx, assets)
	}

	docs, err := content.Discover(source)
	if err != nil {
		return nil, fmt.Errorf("discovering content: %w", err)
	}
	if !b.cfg.Drafts {
		docs, result.DraftsSkipped = filterDrafts(docs)
	}

	index, err := files.NewDirIndex(source)
	if err != nil {
		return nil, fmt.Errorf("indexing images: %w", err)
	}
	b.log.Debug("indexed image files", zap.Int("files", index.Len()))

	layout, err := template.NewEngine(b.layoutPath(), b.cfg.PathPrefix)
	if err != nil {
		return nil, err
	}

	coord := upload.New(b.remote, assets, b.log)
	renderer := b.newRenderer(coord, index, destination)

	stylesheet := ""
	if b.cfg.Highlight.Style != "" {
		stylesheet = stylesheetURL(b.cfg.PathPrefix)
	}

	var mu sync.Mutex
	err = renderParallel(ctx, docs, b.cfg.Workers, func(doc *content.Document) error {
		if err := renderer.Render(ctx, doc); err != nil {
			return err
		}
		page, err := renderPage(layout, doc, stylesheet, start)
		if err != nil {
			return err
		}
		if err := WriteFile(destination, doc.URL, page); err != nil {
			return err
		}
		mu.Lock()
		result.Images.Add(doc.Images)
		result.Pages = append(result.Pages, doc.URL)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rendering documents: %w", err)
	}

	if stylesheet != "" {
		if err := b.writeStylesheet(destination); err != nil {
			return nil, err
		}
	}

	result.Documents = len(docs)
	result.Uploads = coord.Uploads()
	result.Duration = time.Since(start)
	result.OutputSize, _ = DirSize(destination)

	b.log.Info("build finished",
		zap.Int("documents", result.Documents),
		zap.Int("images", result.Images.Found),
		zap.Int("rewritten", result.Images.Rewritten),
		zap.Int("uploads", result.Uploads),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// newRenderer wires the image pipeline for one build. The coordinator and
// file index live for a single build so renamed or edited files are picked
// up by the next one.
func (b *Builder) newRenderer(coord *upload.Coordinator, index files.Index, destination string) *content.MarkdownRenderer {
	bg, err := config.ParseColor(b.cfg.Images.BackgroundColor)
	if err != nil {
		bg = nil
	}
	gen := image.NewGenerator(b.cfg.Images, image.Deps{
		Files:        index,
		Assets:       coord,
		Captions:     content.NewCaptionCompiler(),
		Placeholders: image.NewPlaceholders(bg),
		StaticDir:    filepath.Join(destination, staticDirName),
		PathPrefix:   b.cfg.PathPrefix,
		CDNBase:      b.cfg.Uploadcare.CDNBase,
		Logger:       b.log,
	})
	rw := rewrite.New(gen, b.log,
		rewrite.WithConcurrency(b.cfg.Concurrency),
		rewrite.WithEmptyAltMarker(b.cfg.Images.EmptyAltMarker))
	return content.NewMarkdownRenderer(
		content.WithRewriter(rw),
		content.WithLineNumbers(b.cfg.Highlight.LineNumbers))
}

// prefetch lists every file of the CDN project and merges it into the
// cached list. Failures are logged; the build continues with whatever the
// cache already holds.
func (b *Builder) prefetch(ctx context.Context, assets *buildcache.Assets) int {
	remote, err := b.remote.ListFiles(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		b.log.Warn("listing project files failed", zap.Error(err))
		return 0
	}
	if err := assets.Merge(ctx, remote); err != nil {
		b.log.Warn("caching project files failed", zap.Error(err))
		return 0
	}
	b.log.Info("prefetched project files", zap.Int("files", len(remote)))
	return len(remote)
}

func (b *Builder) writeStylesheet(destination string) error {
	css, err := content.ChromaCSS(b.cfg.Highlight.Style)
	if err != nil {
		return err
	}
	path := filepath.Join(destination, stylesheetName)
	if err := os.WriteFile(path, []byte(css), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
