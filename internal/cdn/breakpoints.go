package cdn

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// MaxDimension is the largest width, in pixels, the CDN will resize to.
const MaxDimension = 3000

// ConfigError reports an option value the breakpoint calculation cannot
// work with.
type ConfigError struct {
	Field string
	Value float64
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s has to be a positive number larger than zero (> 0), found %s",
		e.Field, FormatNumber(e.Value))
}

// BreakpointSet is the ascending list of widths offered in a srcset together
// with the matching sizes attribute.
type BreakpointSet struct {
	Widths []float64
	Sizes  string
}

// Breakpoints computes the responsive widths for an image that is intrinsic
// pixels wide and displayed at most maxWidth pixels wide. Without explicit
// breakpoints it offers 0.25x, 0.5x, 1x, 1.5x and 2x maxWidth. Widths at or
// above the intrinsic width are replaced by the intrinsic width itself, and
// nothing above MaxDimension is ever requested. A non-empty sizes overrides
// the generated sizes attribute.
func Breakpoints(maxWidth int, explicit []float64, intrinsic float64, sizes string) (BreakpointSet, error) {
	if maxWidth < 1 {
		return BreakpointSet{}, &ConfigError{Field: "maxWidth", Value: float64(maxWidth)}
	}
	mw := float64(maxWidth)

	candidates := []float64{mw}
	if len(explicit) == 0 {
		candidates = append(candidates, mw/4, mw/2, mw*1.5, mw*2)
	} else {
		for _, bp := range explicit {
			if bp <= 0 {
				return BreakpointSet{}, &ConfigError{Field: "srcSetBreakpoints", Value: bp}
			}
			if slices.Contains(candidates, bp) {
				continue
			}
			candidates = append(candidates, bp)
		}
	}

	widths := make([]float64, 0, len(candidates)+1)
	for _, c := range candidates {
		if c < intrinsic {
			widths = append(widths, c)
		}
	}
	widths = append(widths, intrinsic)
	slices.Sort(widths)

	if widths[len(widths)-1] > MaxDimension {
		capped := make([]float64, 0, len(widths))
		for _, w := range widths {
			if w < MaxDimension {
				capped = append(capped, w)
			}
		}
		widths = append(capped, MaxDimension)
	}

	if sizes == "" {
		presentation := FormatNumber(math.Min(intrinsic, mw))
		sizes = fmt.Sprintf("(max-width: %spx) 100vw, %spx", presentation, presentation)
	}

	return BreakpointSet{Widths: widths, Sizes: sizes}, nil
}

// SrcSet renders one srcset entry per width. Each entry is the compiled URL
// with a resize operation appended last, followed by its width descriptor.
// Widths are rounded to whole pixels, the only unit the CDN accepts.
func SrcSet(src, fileName string, ops Operations, widths []float64) string {
	entries := make([]string, 0, len(widths))
	for _, w := range widths {
		px := strconv.Itoa(int(math.Round(w)))
		u := CompileURL(src, fileName, ops.With("resize", px+"x"))
		entries = append(entries, u+" "+px+"w")
	}
	return strings.Join(entries, ", ")
}
