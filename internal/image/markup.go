package image

import (
	"fmt"
	"html"
	"strings"
)

// Class names of the emitted elements. Stylesheets written for the
// established gatsby-resp-image markup keep working unchanged.
const (
	ClassImage           = "gatsby-resp-image-image"
	ClassWrapper         = "gatsby-resp-image-wrapper"
	ClassBackgroundImage = "gatsby-resp-image-background-image"
	ClassLink            = "gatsby-resp-image-link"
	ClassFigure          = "gatsby-resp-image-figure"
	ClassFigcaption      = "gatsby-resp-image-figcaption"
)

// mediaStyle positions the media element over the aspect-ratio box.
const mediaStyle = "width:100%;height:100%;margin:0;vertical-align:middle;position:absolute;top:0;left:0;"

// plainMediaStyle is used when the image size is unknown and there is no box.
const plainMediaStyle = "max-width:100%;height:auto;margin:0 auto;display:block;"

// markup holds everything needed to render one responsive image. String
// fields are raw; render escapes them.
type markup struct {
	alt, title   string
	src          string
	srcSet       string
	sizes        string
	loading      string
	decoding     string
	videoSources []videoSource // non-empty renders a <video> instead of <img>

	maxWidth     int
	ratio        string // empty when the size is unknown; no box is rendered
	background   string // data URI, empty for none
	wrapperStyle string
	href         string // empty for no link
	captionHTML  string // already HTML, empty for no caption
}

type videoSource struct {
	src, mime string
}

func attr(name, value string) string {
	return fmt.Sprintf(` %s="%s"`, name, html.EscapeString(value))
}

func (m *markup) media() string {
	var b strings.Builder
	if len(m.videoSources) > 0 {
		b.WriteString("<video")
		b.WriteString(attr("class", ClassImage))
		b.WriteString(attr("style", mediaStyle))
		b.WriteString(" autoplay loop webkit-playsinline playsinline muted>\n")
		for _, s := range m.videoSources {
			b.WriteString("<source")
			b.WriteString(attr("src", s.src))
			b.WriteString(attr("type", s.mime))
			b.WriteString("/>\n")
		}
		b.WriteString("</video>")
		return b.String()
	}

	b.WriteString("<img")
	b.WriteString(attr("class", ClassImage))
	b.WriteString(attr("alt", m.alt))
	b.WriteString(attr("title", m.title))
	if m.srcSet != "" {
		b.WriteString(attr("srcset", m.srcSet))
		b.WriteString(attr("sizes", m.sizes))
	}
	b.WriteString(attr("src", m.src))
	if m.ratio == "" {
		b.WriteString(attr("style", plainMediaStyle))
	} else {
		b.WriteString(attr("style", mediaStyle))
	}
	b.WriteString(attr("loading", m.loading))
	b.WriteString(attr("decoding", m.decoding))
	b.WriteString("/>")
	return b.String()
}

func (m *markup) backgroundSpan() string {
	style := "padding-bottom: " + m.ratio + "; position: relative; bottom: 0; left: 0;"
	if m.background != "" {
		style += " background-image: url('" + m.background + "'); background-size: cover;"
	}
	style += " display: block;"
	return "<span" + attr("class", ClassBackgroundImage) + attr("style", style) + "></span>"
}

func (m *markup) link(inner string) string {
	if m.href == "" {
		return inner
	}
	return "<a" + attr("class", ClassLink) + attr("href", m.href) +
		attr("style", "display: block") + attr("target", "_blank") + attr("rel", "noopener") +
		">\n" + inner + "\n</a>"
}

func (m *markup) render() string {
	if m.ratio == "" {
		return m.figure(m.link(m.media()))
	}

	inner := m.link(m.backgroundSpan() + "\n" + m.media())
	wrapperStyle := fmt.Sprintf("position: relative; display: block; margin-left: auto; margin-right: auto; max-width: %dpx;", m.maxWidth)
	if m.captionHTML == "" && m.wrapperStyle != "" {
		wrapperStyle += " " + m.wrapperStyle
	}
	return m.figure("<span" + attr("class", ClassWrapper) + attr("style", wrapperStyle) + ">\n" + inner + "\n</span>")
}

// figure wraps out in the caption figure, when there is a caption.
func (m *markup) figure(out string) string {
	if m.captionHTML == "" {
		return out
	}
	return "<figure" + attr("class", ClassFigure) + attr("style", m.wrapperStyle) + ">\n" +
		out + "\n<figcaption" + attr("class", ClassFigcaption) + ">" + m.captionHTML + "</figcaption>\n</figure>"
}
