package image

import (
	"bytes"
	"encoding/base64"
	"fmt"
	stdimage "image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"
)

// placeholderWidth is the width of the blur-up preview in pixels.
const placeholderWidth = 20

// Preview is the blur-up data derived from a local file.
type Preview struct {
	DataURI     string // PNG data URI, empty when the file could not be decoded
	Transparent bool
}

// Placeholders produces tiny blur-up previews and memoises them by
// fingerprint, so a file referenced many times is decoded once. Safe for
// concurrent use.
type Placeholders struct {
	background color.Color // nil keeps transparency

	mu    sync.Mutex
	cache map[string]*previewEntry
}

type previewEntry struct {
	once    sync.Once
	preview Preview
	err     error
}

// NewPlaceholders returns a generator that flattens previews onto
// background. A nil background keeps the alpha channel.
func NewPlaceholders(background color.Color) *Placeholders {
	return &Placeholders{background: background, cache: make(map[string]*previewEntry)}
}

// Get returns the preview of the file at path. key identifies the file
// contents; callers pass the fingerprint.
func (p *Placeholders) Get(key, path string) (Preview, error) {
	p.mu.Lock()
	e, ok := p.cache[key]
	if !ok {
		e = &previewEntry{}
		p.cache[key] = e
	}
	p.mu.Unlock()

	e.once.Do(func() {
		e.preview, e.err = p.build(path)
	})
	return e.preview, e.err
}

func (p *Placeholders) build(path string) (Preview, error) {
	img, err := decodeFile(path)
	if err != nil {
		return Preview{}, err
	}

	transparent := !isOpaque(img)

	small := imaging.Resize(img, placeholderWidth, 0, imaging.Lanczos)
	var out stdimage.Image = small
	if p.background != nil {
		bg := imaging.New(small.Bounds().Dx(), small.Bounds().Dy(), p.background)
		out = imaging.Overlay(bg, small, stdimage.Pt(0, 0), 1.0)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return Preview{}, fmt.Errorf("encoding placeholder: %w", err)
	}
	return Preview{
		DataURI:     "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		Transparent: transparent,
	}, nil
}

// Dimensions reads the pixel size from the file header without decoding
// the whole image. SVG sizes come from the root element's attributes.
func Dimensions(path string) (width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	if isSVG(path) {
		width, height, err = svgDimensions(f)
		if err != nil {
			return 0, 0, fmt.Errorf("reading svg size %s: %w", path, err)
		}
		return width, height, nil
	}

	var cfg stdimage.Config
	if isWebP(path) {
		cfg, err = webp.DecodeConfig(f)
	} else {
		cfg, _, err = stdimage.DecodeConfig(f)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("reading image header %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

func decodeFile(path string) (stdimage.Image, error) {
	if !isWebP(path) {
		img, err := imaging.Open(path, imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("opening image %s: %w", path, err)
		}
		return img, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := webp.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding webp %s: %w", path, err)
	}
	return img, nil
}

func isWebP(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".webp")
}

// isOpaque reports whether every pixel of img is fully opaque.
func isOpaque(img stdimage.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return false
			}
		}
	}
	return true
}
