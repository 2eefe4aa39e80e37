package image

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

func isSVG(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".svg")
}

// svgDimensions reads the size of an SVG document from the width, height
// and viewBox attributes of its root element. A missing width or height is
// derived from the viewBox aspect ratio.
func svgDimensions(r io.Reader) (width, height int, err error) {
	z := html.NewTokenizer(r)
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return 0, 0, err
			}
			return 0, 0, errors.New("no <svg> root element")
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}

		name, hasAttr := z.TagName()
		if string(name) != "svg" {
			return 0, 0, fmt.Errorf("root element is <%s>, not <svg>", name)
		}
		var w, h float64
		var box []float64
		for hasAttr {
			var key, val []byte
			key, val, hasAttr = z.TagAttr()
			switch string(key) {
			case "width":
				w = svgLength(string(val))
			case "height":
				h = svgLength(string(val))
			case "viewbox": // the tokenizer lower-cases attribute names
				box = viewBox(string(val))
			}
		}
		if len(box) == 4 && box[2] > 0 && box[3] > 0 {
			switch {
			case w == 0 && h == 0:
				w, h = box[2], box[3]
			case h == 0:
				h = w * box[3] / box[2]
			case w == 0:
				w = h * box[2] / box[3]
			}
		}
		if w <= 0 || h <= 0 {
			return 0, 0, errors.New("svg has no usable width, height or viewBox")
		}
		return int(math.Round(w)), int(math.Round(h)), nil
	}
}

// svgLength parses a user-unit or px length. Relative units such as % or
// em say nothing about the intrinsic size and yield 0.
func svgLength(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "px")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0
	}
	return f
}

func viewBox(s string) []float64 {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || unicode.IsSpace(r) })
	if len(fields) != 4 {
		return nil
	}
	out := make([]float64, 4)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil
		}
		out[i] = v
	}
	return out
}
