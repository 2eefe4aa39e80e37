package image

import (
	"context"
	"errors"
	stdimage "image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/aellingwood/ucimg/internal/asset"
	"github.com/aellingwood/ucimg/internal/config"
	"github.com/aellingwood/ucimg/internal/files"
)

var testID = uuid.MustParse("b8e9c2a4-1d3f-4c6e-9a7b-2f5d8e1c3a90")

const testCDN = "https://ucarecdn.com/" + "b8e9c2a4-1d3f-4c6e-9a7b-2f5d8e1c3a90"

// fakeResolver returns a fixed remote asset and counts calls.
type fakeResolver struct {
	mu     sync.Mutex
	remote asset.Remote
	err    error
	calls  int
}

func (f *fakeResolver) Resolve(_ context.Context, local asset.Local) (asset.Remote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return asset.Remote{}, f.err
	}
	r := f.remote
	r.Fingerprint = local.Fingerprint
	return r, nil
}

type upperCaptions struct{}

func (upperCaptions) CompileCaption(s string) (string, error) {
	return "<p><em>" + s + "</em></p>\n", nil
}

func photo() asset.Local {
	return asset.Local{AbsolutePath: "/site/post/photo.jpg", Name: "photo", Extension: "jpg", Fingerprint: "fp1"}
}

func newTestGenerator(opts config.ImageOptions, res *fakeResolver, locals ...asset.Local) *Generator {
	if len(locals) == 0 {
		locals = []asset.Local{photo()}
	}
	return NewGenerator(opts, Deps{
		Files:  files.ListIndex(locals),
		Assets: res,
	})
}

func wideRemote() asset.Remote {
	return asset.Remote{ID: testID, OriginalFilename: "photo.jpg", Width: 1300, Height: 650}
}

func writePNG(t *testing.T, path string, w, h int, c color.Color) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	img := stdimage.NewNRGBA(stdimage.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func mustGenerate(t *testing.T, g *Generator, ref Reference, inLink bool, ov Overrides) string {
	t.Helper()
	out, ok := g.Generate(context.Background(), ref, "/site/post", inLink, ov)
	if !ok {
		t.Fatalf("Generate(%q) reported no replacement", ref.URL)
	}
	return out
}

// ---------------------------------------------------------------
// Generate
// ---------------------------------------------------------------

func TestGenerate_WideImage(t *testing.T) {
	res := &fakeResolver{remote: wideRemote()}
	g := newTestGenerator(config.DefaultImageOptions(), res)
	out := mustGenerate(t, g, Reference{URL: "photo.jpg", Alt: TextAlt("A cat")}, false, Overrides{})

	wants := []string{
		`src="` + testCDN + `/-/quality/smart/-/format/auto/-/resize/650x/photo.jpg"`,
		testCDN + `/-/quality/smart/-/format/auto/-/resize/163x/photo.jpg 163w`,
		testCDN + `/-/quality/smart/-/format/auto/-/resize/1300x/photo.jpg 1300w`,
		`sizes="(max-width: 650px) 100vw, 650px"`,
		`alt="A cat"`,
		`title="A cat"`,
		`padding-bottom: 50%;`,
		`max-width: 650px;`,
		`<a class="gatsby-resp-image-link" href="` + testCDN + `/photo.jpg"`,
		`loading="lazy"`,
		`decoding="async"`,
	}
	for _, want := range wants {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
	if res.calls != 1 {
		t.Errorf("resolver calls = %d; want 1", res.calls)
	}
}

func TestGenerate_NarrowImageNotResized(t *testing.T) {
	res := &fakeResolver{remote: asset.Remote{ID: testID, OriginalFilename: "photo.jpg", Width: 400, Height: 300}}
	g := newTestGenerator(config.DefaultImageOptions(), res)
	out := mustGenerate(t, g, Reference{URL: "photo.jpg"}, false, Overrides{})

	if !strings.Contains(out, `src="`+testCDN+`/-/quality/smart/-/format/auto/photo.jpg"`) {
		t.Errorf("primary src should carry no resize:\n%s", out)
	}
	if !strings.Contains(out, "max-width: 400px;") {
		t.Errorf("wrapper should be capped at the intrinsic width:\n%s", out)
	}
	if !strings.Contains(out, "padding-bottom: 75%;") {
		t.Errorf("ratio missing:\n%s", out)
	}
}

func TestGenerate_QueryOperations(t *testing.T) {
	res := &fakeResolver{remote: wideRemote()}
	g := newTestGenerator(config.DefaultImageOptions(), res)
	out := mustGenerate(t, g, Reference{URL: "photo.jpg?format=png&quality=lightest"}, false, Overrides{})

	want := `src="` + testCDN + `/-/quality/lightest/-/format/png/-/resize/650x/photo.jpg"`
	if !strings.Contains(out, want) {
		t.Errorf("output missing %q\n%s", want, out)
	}
}

func TestGenerate_InLinkOmitsAnchor(t *testing.T) {
	res := &fakeResolver{remote: wideRemote()}
	g := newTestGenerator(config.DefaultImageOptions(), res)
	out := mustGenerate(t, g, Reference{URL: "photo.jpg"}, true, Overrides{})
	if strings.Contains(out, "<a ") {
		t.Errorf("image inside a link must not be wrapped in another link:\n%s", out)
	}

	opts := config.DefaultImageOptions()
	opts.LinkImagesToOriginal = false
	g = newTestGenerator(opts, res)
	out = mustGenerate(t, g, Reference{URL: "photo.jpg"}, false, Overrides{})
	if strings.Contains(out, "<a ") {
		t.Errorf("linkImagesToOriginal=false still linked:\n%s", out)
	}
}

func TestGenerate_AltPrecedence(t *testing.T) {
	tests := []struct {
		name      string
		ref       Reference
		ov        Overrides
		wantAlt   string
		wantTitle string
	}{
		{"file name fallback", Reference{URL: "photo.jpg"}, Overrides{}, "photo", "photo"},
		{"node alt", Reference{URL: "photo.jpg", Alt: TextAlt("Dog")}, Overrides{}, "Dog", "Dog"},
		{"override wins", Reference{URL: "photo.jpg", Alt: TextAlt("Dog")}, Overrides{Alt: TextAlt("Cat")}, "Cat", "Cat"},
		{"title kept", Reference{URL: "photo.jpg", Alt: TextAlt("Dog"), Title: "Rex"}, Overrides{}, "Dog", "Rex"},
		{"empty alt", Reference{URL: "photo.jpg", Alt: EmptyAlt()}, Overrides{}, "", ""},
		{"empty override", Reference{URL: "photo.jpg", Alt: TextAlt("Dog")}, Overrides{Alt: EmptyAlt()}, "", ""},
	}

	res := &fakeResolver{remote: wideRemote()}
	g := newTestGenerator(config.DefaultImageOptions(), res)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := mustGenerate(t, g, tt.ref, false, tt.ov)
			if want := `alt="` + tt.wantAlt + `"`; !strings.Contains(out, want) {
				t.Errorf("output missing %q\n%s", want, out)
			}
			if want := `title="` + tt.wantTitle + `"`; !strings.Contains(out, want) {
				t.Errorf("output missing %q\n%s", want, out)
			}
		})
	}
}

func TestGenerate_EscapesAttributes(t *testing.T) {
	res := &fakeResolver{remote: wideRemote()}
	g := newTestGenerator(config.DefaultImageOptions(), res)
	out := mustGenerate(t, g, Reference{URL: "photo.jpg", Alt: TextAlt(`a "quoted" <b>`)}, false, Overrides{})
	if !strings.Contains(out, `alt="a &#34;quoted&#34; &lt;b&gt;"`) {
		t.Errorf("alt not escaped:\n%s", out)
	}
}

func TestGenerate_Sequence(t *testing.T) {
	remote := wideRemote()
	remote.Sequence = true
	res := &fakeResolver{remote: remote}
	g := newTestGenerator(config.DefaultImageOptions(), res)
	out := mustGenerate(t, g, Reference{URL: "photo.jpg"}, false, Overrides{})

	for _, want := range []string{
		"<video",
		`<source src="` + testCDN + `/gif2video/-/format/webm/" type="video/webm"/>`,
		`<source src="` + testCDN + `/gif2video/-/format/mp4/" type="video/mp4"/>`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "<img") {
		t.Errorf("animated image rendered as <img>:\n%s", out)
	}
}

func TestGenerate_Captions(t *testing.T) {
	tests := []struct {
		name     string
		order    config.CaptionOrder
		markdown bool
		ref      Reference
		want     string
	}{
		{"title first", config.CaptionOrder{config.CaptionTitle, config.CaptionAlt},
			false, Reference{URL: "photo.jpg", Title: "Sunset", Alt: TextAlt("Sky")}, ">Sunset</figcaption>"},
		{"alt first", config.CaptionOrder{config.CaptionAlt, config.CaptionTitle},
			false, Reference{URL: "photo.jpg", Title: "Sunset", Alt: TextAlt("Sky")}, ">Sky</figcaption>"},
		{"falls through", config.CaptionOrder{config.CaptionTitle, config.CaptionAlt},
			false, Reference{URL: "photo.jpg", Alt: TextAlt("Sky")}, ">Sky</figcaption>"},
		{"escaped", config.CaptionOrder{config.CaptionTitle},
			false, Reference{URL: "photo.jpg", Title: "a < b"}, ">a &lt; b</figcaption>"},
		{"markdown", config.CaptionOrder{config.CaptionTitle},
			true, Reference{URL: "photo.jpg", Title: "Sunset"}, "><p><em>Sunset</em></p></figcaption>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := config.DefaultImageOptions()
			opts.ShowCaptions = tt.order
			opts.MarkdownCaptions = tt.markdown
			opts.WrapperStyle = "margin: 0 auto;"
			g := NewGenerator(opts, Deps{
				Files:    files.ListIndex{photo()},
				Assets:   &fakeResolver{remote: wideRemote()},
				Captions: upperCaptions{},
			})
			out := mustGenerate(t, g, tt.ref, false, Overrides{})
			if !strings.Contains(out, tt.want) {
				t.Errorf("output missing %q\n%s", tt.want, out)
			}
			if !strings.HasPrefix(out, `<figure class="gatsby-resp-image-figure" style="margin: 0 auto;">`) {
				t.Errorf("caption should wrap in a styled figure:\n%s", out)
			}
			if strings.Contains(out, "max-width: 650px; margin") {
				t.Errorf("wrapper style belongs to the figure when captioned:\n%s", out)
			}
		})
	}
}

func TestGenerate_NoCaptionWhenAltEmpty(t *testing.T) {
	opts := config.DefaultImageOptions()
	opts.ShowCaptions = config.CaptionOrder{config.CaptionAlt, config.CaptionTitle}
	g := newTestGenerator(opts, &fakeResolver{remote: wideRemote()})
	out := mustGenerate(t, g, Reference{URL: "photo.jpg", Title: "Sunset", Alt: EmptyAlt()}, false, Overrides{})
	if strings.Contains(out, "<figure") {
		t.Errorf("explicitly empty alt should suppress the caption:\n%s", out)
	}
}

func TestGenerate_WrapperStyleWithoutCaption(t *testing.T) {
	opts := config.DefaultImageOptions()
	opts.WrapperStyle = "border: 1px solid;"
	g := newTestGenerator(opts, &fakeResolver{remote: wideRemote()})
	out := mustGenerate(t, g, Reference{URL: "photo.jpg"}, false, Overrides{})
	if !strings.Contains(out, "max-width: 650px; border: 1px solid;") {
		t.Errorf("wrapper style not appended:\n%s", out)
	}
}

func TestGenerate_LeavesReferenceUntouched(t *testing.T) {
	badBreakpoints := config.DefaultImageOptions()
	badBreakpoints.SrcSetBreakpoints = []float64{200, -5}

	tests := []struct {
		name string
		opts config.ImageOptions
		res  *fakeResolver
		url  string
	}{
		{"missing file", config.DefaultImageOptions(), &fakeResolver{remote: wideRemote()}, "nope.jpg"},
		{"upload failed", config.DefaultImageOptions(), &fakeResolver{err: errors.New("boom")}, "photo.jpg"},
		{"no dimensions", config.DefaultImageOptions(), &fakeResolver{remote: asset.Remote{ID: testID}}, "photo.jpg"},
		{"bad breakpoints", badBreakpoints, &fakeResolver{remote: wideRemote()}, "photo.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGenerator(tt.opts, tt.res)
			out, ok := g.Generate(context.Background(), Reference{URL: tt.url}, "/site/post", false, Overrides{})
			if ok || out != "" {
				t.Errorf("Generate = %q, %v; want no replacement", out, ok)
			}
		})
	}
}

func TestGenerate_EscapedPath(t *testing.T) {
	local := asset.Local{AbsolutePath: "/site/post/my photo.jpg", Name: "my photo", Extension: "jpg", Fingerprint: "fp2"}
	res := &fakeResolver{remote: wideRemote()}
	g := newTestGenerator(config.DefaultImageOptions(), res, local)
	mustGenerate(t, g, Reference{URL: "my%20photo.jpg"}, false, Overrides{})
	if res.calls != 1 {
		t.Errorf("resolver calls = %d; want 1", res.calls)
	}
}

func TestGenerate_NoProcess(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "post", "pic.png")
	writePNG(t, src, 40, 20, color.NRGBA{R: 200, A: 255})
	local := asset.Local{AbsolutePath: src, Name: "pic", Extension: "png", Fingerprint: "abc123"}

	static := filepath.Join(root, "public", "static")
	res := &fakeResolver{remote: wideRemote()}
	g := NewGenerator(config.DefaultImageOptions(), Deps{
		Files:      files.ListIndex{local},
		Assets:     res,
		StaticDir:  static,
		PathPrefix: "/blog",
	})

	out, ok := g.Generate(context.Background(), Reference{URL: "pic.png?noProcess"}, filepath.Join(root, "post"), false, Overrides{})
	if !ok {
		t.Fatal("Generate reported no replacement")
	}
	if res.calls != 0 {
		t.Errorf("noProcess image was uploaded")
	}
	for _, want := range []string{
		`src="/blog/static/abc123/pic.png"`,
		`href="/blog/static/abc123/pic.png"`,
		"max-width: 40px;",
		"padding-bottom: 50%;",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "srcset") {
		t.Errorf("verbatim copy should not offer a srcset:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(static, "abc123", "pic.png")); err != nil {
		t.Errorf("static copy missing: %v", err)
	}
}

func TestGenerate_NoProcessSVG(t *testing.T) {
	tests := []struct {
		name     string
		svg      string
		contains []string
		absent   []string
	}{
		{
			name: "sized",
			svg:  `<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg" width="100" height="50"><rect/></svg>`,
			contains: []string{
				`src="/static/abc123/logo.svg"`,
				"max-width: 100px;",
				"padding-bottom: 50%;",
				ClassWrapper,
			},
		},
		{
			name: "unknown size",
			svg:  `<svg xmlns="http://www.w3.org/2000/svg" width="100%"><rect/></svg>`,
			contains: []string{
				`src="/static/abc123/logo.svg"`,
				`style="max-width:100%;height:auto;margin:0 auto;display:block;"`,
				`href="/static/abc123/logo.svg"`,
			},
			absent: []string{ClassWrapper, ClassBackgroundImage, "padding-bottom"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			src := filepath.Join(root, "post", "logo.svg")
			if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(src, []byte(tt.svg), 0o644); err != nil {
				t.Fatal(err)
			}
			local := asset.Local{AbsolutePath: src, Name: "logo", Extension: "svg", Fingerprint: "abc123"}
			static := filepath.Join(root, "public", "static")
			res := &fakeResolver{remote: wideRemote()}
			g := NewGenerator(config.DefaultImageOptions(), Deps{
				Files:        files.ListIndex{local},
				Assets:       res,
				Placeholders: NewPlaceholders(nil),
				StaticDir:    static,
			})

			out, ok := g.Generate(context.Background(), Reference{URL: "logo.svg?noProcess"}, filepath.Join(root, "post"), false, Overrides{})
			if !ok {
				t.Fatal("Generate reported no replacement")
			}
			if res.calls != 0 {
				t.Errorf("noProcess image was uploaded")
			}
			for _, want := range tt.contains {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q\n%s", want, out)
				}
			}
			for _, bad := range tt.absent {
				if strings.Contains(out, bad) {
					t.Errorf("output contains %q\n%s", bad, out)
				}
			}
			if _, err := os.Stat(filepath.Join(static, "abc123", "logo.svg")); err != nil {
				t.Errorf("static copy missing: %v", err)
			}
		})
	}
}

func TestGenerate_Placeholder(t *testing.T) {
	root := t.TempDir()
	opaque := filepath.Join(root, "post", "opaque.png")
	transparent := filepath.Join(root, "post", "clear.png")
	writePNG(t, opaque, 60, 30, color.NRGBA{B: 200, A: 255})
	writePNG(t, transparent, 60, 30, color.NRGBA{})

	locals := []asset.Local{
		{AbsolutePath: opaque, Name: "opaque", Extension: "png", Fingerprint: "o"},
		{AbsolutePath: transparent, Name: "clear", Extension: "png", Fingerprint: "c"},
	}

	opts := config.DefaultImageOptions()
	opts.DisableBgImageOnAlpha = true
	g := NewGenerator(opts, Deps{
		Files:        files.ListIndex(locals),
		Assets:       &fakeResolver{remote: wideRemote()},
		Placeholders: NewPlaceholders(color.White),
	})
	dir := filepath.Join(root, "post")

	out, ok := g.Generate(context.Background(), Reference{URL: "opaque.png"}, dir, false, Overrides{})
	if !ok || !strings.Contains(out, "background-image: url('data:image/png;base64,") {
		t.Errorf("opaque image should get a placeholder:\n%s", out)
	}
	out, ok = g.Generate(context.Background(), Reference{URL: "clear.png"}, dir, false, Overrides{})
	if !ok || strings.Contains(out, "background-image") {
		t.Errorf("transparent image should get no placeholder:\n%s", out)
	}

	opts.DisableBgImage = true
	opts.DisableBgImageOnAlpha = false
	g = NewGenerator(opts, Deps{
		Files:        files.ListIndex(locals),
		Assets:       &fakeResolver{remote: wideRemote()},
		Placeholders: NewPlaceholders(color.White),
	})
	out, _ = g.Generate(context.Background(), Reference{URL: "opaque.png"}, dir, false, Overrides{})
	if strings.Contains(out, "background-image") {
		t.Errorf("disableBgImage still rendered a placeholder:\n%s", out)
	}
}

// ---------------------------------------------------------------
// Placeholders and helpers
// ---------------------------------------------------------------

func TestPlaceholders_Memoised(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.png")
	writePNG(t, path, 100, 50, color.NRGBA{G: 255, A: 128})

	p := NewPlaceholders(nil)
	first, err := p.Get("k", path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !first.Transparent {
		t.Error("half transparent image reported opaque")
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	second, err := p.Get("k", path)
	if err != nil {
		t.Fatalf("second Get should be served from memory: %v", err)
	}
	if first != second {
		t.Error("memoised preview differs")
	}
}

func TestDimensions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "d.png")
	writePNG(t, path, 33, 17, color.Black)

	w, h, err := Dimensions(path)
	if err != nil {
		t.Fatalf("Dimensions: %v", err)
	}
	if w != 33 || h != 17 {
		t.Errorf("Dimensions = %dx%d; want 33x17", w, h)
	}

	bogus := filepath.Join(dir, "bogus.png")
	if err := os.WriteFile(bogus, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Dimensions(bogus); err == nil {
		t.Error("expected an error for a non-image file")
	}
}

func TestSVGDimensions(t *testing.T) {
	tests := []struct {
		svg     string
		w, h    int
		wantErr bool
	}{
		{`<svg width="100" height="50"></svg>`, 100, 50, false},
		{`<svg width="120px" height="40.4px"/>`, 120, 40, false},
		{`<!-- logo --><svg viewBox="0 0 300 150"></svg>`, 300, 150, false},
		{`<svg width="60" viewBox="0,0,300,150"></svg>`, 60, 30, false},
		{`<svg height="30" viewBox="0 0 300 150"></svg>`, 60, 30, false},
		{`<svg width="100%" height="100%"></svg>`, 0, 0, true},
		{`<html><body></body></html>`, 0, 0, true},
		{``, 0, 0, true},
	}
	for _, tt := range tests {
		w, h, err := svgDimensions(strings.NewReader(tt.svg))
		if tt.wantErr {
			if err == nil {
				t.Errorf("svgDimensions(%q) = %dx%d; want error", tt.svg, w, h)
			}
			continue
		}
		if err != nil {
			t.Errorf("svgDimensions(%q): %v", tt.svg, err)
			continue
		}
		if w != tt.w || h != tt.h {
			t.Errorf("svgDimensions(%q) = %dx%d; want %dx%d", tt.svg, w, h, tt.w, tt.h)
		}
	}
}

func TestParseAlt(t *testing.T) {
	tests := []struct {
		in, marker string
		want       Alt
	}{
		{"", "EMPTY_ALT", Alt{}},
		{"EMPTY_ALT", "EMPTY_ALT", EmptyAlt()},
		{"EMPTY_ALT", "", TextAlt("EMPTY_ALT")},
		{"Dog", "EMPTY_ALT", TextAlt("Dog")},
	}
	for _, tt := range tests {
		if got := ParseAlt(tt.in, tt.marker); got != tt.want {
			t.Errorf("ParseAlt(%q, %q) = %+v; want %+v", tt.in, tt.marker, got, tt.want)
		}
	}
}

func TestStaticURL(t *testing.T) {
	local := asset.Local{Name: "a", Extension: "gif", Fingerprint: "ff"}
	tests := []struct{ prefix, want string }{
		{"", "/static/ff/a.gif"},
		{"/", "/static/ff/a.gif"},
		{"/docs/", "/docs/static/ff/a.gif"},
	}
	for _, tt := range tests {
		if got := StaticURL(tt.prefix, local); got != tt.want {
			t.Errorf("StaticURL(%q) = %q; want %q", tt.prefix, got, tt.want)
		}
	}
}
