package cdn

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------
// Reference parsing
// ---------------------------------------------------------------

func TestParseReference(t *testing.T) {
	tests := []struct {
		input    string
		wantBase string
		wantExt  string
	}{
		{"images/hero.jpg", "images/hero.jpg", "jpg"},
		{"./photo.JPEG?format=webp", "./photo.JPEG", "jpeg"},
		{"../a/b.c/pic.png#top", "../a/b.c/pic.png", "png"},
		{"no-extension", "no-extension", ""},
		{"dir.v2/file", "dir.v2/file", ""},
		{"weird.gif?%zz=1", "weird.gif", "gif"},
	}
	for _, tt := range tests {
		ref := ParseReference(tt.input)
		if ref.BaseURL != tt.wantBase {
			t.Errorf("ParseReference(%q).BaseURL = %q; want %q", tt.input, ref.BaseURL, tt.wantBase)
		}
		if ref.Extension != tt.wantExt {
			t.Errorf("ParseReference(%q).Extension = %q; want %q", tt.input, ref.Extension, tt.wantExt)
		}
		if ref.Query == nil {
			t.Errorf("ParseReference(%q).Query is nil", tt.input)
		}
	}
}

func TestReference_NoProcessAndOperations(t *testing.T) {
	ref := ParseReference("img.png?noProcess&quality=best&blur=10")
	if !ref.NoProcess() {
		t.Error("expected noProcess flag")
	}
	ops := ref.Operations()
	want := Operations{{Name: "blur", Value: "10"}, {Name: "quality", Value: "best"}}
	if !slices.Equal(ops, want) {
		t.Errorf("Operations() = %v; want %v", ops, want)
	}

	if ParseReference("img.png?quality=best").NoProcess() {
		t.Error("unexpected noProcess flag")
	}
}

func TestSupportedExtension(t *testing.T) {
	for _, ext := range []string{"jpeg", "jpg", "png", "webp", "tif", "tiff", "gif", "svg", "PNG"} {
		if !SupportedExtension(ext) {
			t.Errorf("SupportedExtension(%q) = false; want true", ext)
		}
	}
	for _, ext := range []string{"", "bmp", "pdf", "avif"} {
		if SupportedExtension(ext) {
			t.Errorf("SupportedExtension(%q) = true; want false", ext)
		}
	}
}

func TestIsRelative(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"image.png", true},
		{"./image.png", true},
		{"../images/a.jpg", true},
		{"/static/a.jpg", true},
		{"https://example.com/a.png", false},
		{"http://example.com/a.png", false},
		{"//cdn.example.com/a.png", false},
		{"data:image/png;base64,AAAA", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsRelative(tt.input); got != tt.want {
			t.Errorf("IsRelative(%q) = %v; want %v", tt.input, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------
// Operations
// ---------------------------------------------------------------

func TestOperations_Merge(t *testing.T) {
	base := Operations{{"quality", "smart"}, {"format", "auto"}}
	got := base.Merge(Operations{{"format", "webp"}, {"blur", "5"}})
	want := Operations{{"quality", "smart"}, {"format", "webp"}, {"blur", "5"}}
	if !slices.Equal(got, want) {
		t.Errorf("Merge = %v; want %v", got, want)
	}
	// The receiver must not be modified.
	if base[1].Value != "auto" {
		t.Errorf("Merge mutated receiver: %v", base)
	}
}

func TestOperations_Path(t *testing.T) {
	tests := []struct {
		ops  Operations
		want string
	}{
		{nil, ""},
		{Operations{{"quality", ""}}, ""},
		{Operations{{"quality", "smart"}}, "-/quality/smart"},
		{Operations{{"quality", "smart"}, {"resize", ""}, {"format", "auto"}}, "-/quality/smart/-/format/auto"},
	}
	for _, tt := range tests {
		if got := tt.ops.Path(); got != tt.want {
			t.Errorf("%v.Path() = %q; want %q", tt.ops, got, tt.want)
		}
	}
}

func TestOperations_YAMLKeepsOrder(t *testing.T) {
	src := "format: auto\nquality: smart\nprogressive: true\nblur: false\n"
	var ops Operations
	if err := yaml.Unmarshal([]byte(src), &ops); err != nil {
		t.Fatal(err)
	}
	want := Operations{{"format", "auto"}, {"quality", "smart"}, {"progressive", "true"}, {"blur", ""}}
	if !slices.Equal(ops, want) {
		t.Errorf("decoded = %v; want %v", ops, want)
	}

	out, err := yaml.Marshal(Operations{{"quality", "smart"}, {"format", "auto"}})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Index(string(out), "quality") > strings.Index(string(out), "format") {
		t.Errorf("marshalled order lost: %s", out)
	}
}

func TestOperationsFromMap(t *testing.T) {
	ops := OperationsFromMap(map[string]any{"quality": "smart", "format": "auto", "stretch": false, "size": 2})
	want := Operations{{"format", "auto"}, {"quality", "smart"}, {"size", "2"}, {"stretch", ""}}
	if !slices.Equal(ops, want) {
		t.Errorf("OperationsFromMap = %v; want %v", ops, want)
	}
}

// ---------------------------------------------------------------
// URL compiler
// ---------------------------------------------------------------

func TestJoinURL(t *testing.T) {
	tests := []struct {
		parts []string
		want  string
	}{
		{[]string{"https://ucarecdn.com", "abc"}, "https://ucarecdn.com/abc"},
		{[]string{"https://ucarecdn.com/", "/abc/", "photo.jpg"}, "https://ucarecdn.com/abc/photo.jpg"},
		{[]string{"https://ucarecdn.com", "abc", "/gif2video/-/format/webm/"}, "https://ucarecdn.com/abc/gif2video/-/format/webm/"},
		{[]string{"https://ucarecdn.com", "", "photo.jpg"}, "https://ucarecdn.com/photo.jpg"},
		{[]string{"/static", "abc//def", "a.png"}, "/static/abc/def/a.png"},
	}
	for _, tt := range tests {
		if got := JoinURL(tt.parts...); got != tt.want {
			t.Errorf("JoinURL(%q) = %q; want %q", tt.parts, got, tt.want)
		}
	}
}

func TestCompileURL(t *testing.T) {
	src := "https://ucarecdn.com/0c5fa4a2-4c4a-4a3b-9f2e-8d8d3a1a2b3c"
	ops := Operations{{"quality", "smart"}, {"format", "auto"}, {"resize", ""}}

	got := CompileURL(src, "photo.jpg", ops)
	want := src + "/-/quality/smart/-/format/auto/photo.jpg"
	if got != want {
		t.Errorf("CompileURL = %q; want %q", got, want)
	}

	// Pure: identical inputs give identical output.
	if again := CompileURL(src, "photo.jpg", ops); again != got {
		t.Errorf("CompileURL not deterministic: %q vs %q", again, got)
	}

	// Operation order is significant.
	swapped := CompileURL(src, "photo.jpg", Operations{{"format", "auto"}, {"quality", "smart"}})
	if swapped == got {
		t.Error("expected different URL for different operation order")
	}

	if got := CompileURL(src, "", nil); got != src {
		t.Errorf("CompileURL without ops = %q; want %q", got, src)
	}
}

// ---------------------------------------------------------------
// Breakpoints
// ---------------------------------------------------------------

func TestBreakpoints_Default(t *testing.T) {
	set, err := Breakpoints(650, nil, 2000, "")
	if err != nil {
		t.Fatalf("Breakpoints: %v", err)
	}
	want := []float64{162.5, 325, 650, 975, 1300, 2000}
	if !slices.Equal(set.Widths, want) {
		t.Errorf("widths = %v; want %v", set.Widths, want)
	}
	if set.Sizes != "(max-width: 650px) 100vw, 650px" {
		t.Errorf("sizes = %q", set.Sizes)
	}
}

func TestBreakpoints_SmallImage(t *testing.T) {
	set, err := Breakpoints(650, nil, 400, "")
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{162.5, 325, 400}
	if !slices.Equal(set.Widths, want) {
		t.Errorf("widths = %v; want %v", set.Widths, want)
	}
	if set.Sizes != "(max-width: 400px) 100vw, 400px" {
		t.Errorf("sizes = %q", set.Sizes)
	}
}

func TestBreakpoints_Capped(t *testing.T) {
	set, err := Breakpoints(2000, nil, 5000, "")
	if err != nil {
		t.Fatal(err)
	}
	// 500, 1000, 2000, 3000(1.5x), 4000, 5000 -> cap drops 3000+ and appends 3000 once.
	want := []float64{500, 1000, 2000, 3000}
	if !slices.Equal(set.Widths, want) {
		t.Errorf("widths = %v; want %v", set.Widths, want)
	}
}

func TestBreakpoints_StrictlyAscending(t *testing.T) {
	for _, mw := range []int{1, 7, 100, 650, 1024, 2999} {
		for _, intrinsic := range []float64{1, 50, 650, 1999, 4000, 10000} {
			set, err := Breakpoints(mw, nil, intrinsic, "")
			if err != nil {
				t.Fatalf("Breakpoints(%d, %v): %v", mw, intrinsic, err)
			}
			for i := 1; i < len(set.Widths); i++ {
				if set.Widths[i] <= set.Widths[i-1] {
					t.Errorf("Breakpoints(%d, %v) not strictly ascending: %v", mw, intrinsic, set.Widths)
				}
			}
			if last := set.Widths[len(set.Widths)-1]; last > MaxDimension {
				t.Errorf("Breakpoints(%d, %v) exceeds cap: %v", mw, intrinsic, set.Widths)
			}
		}
	}
}

func TestBreakpoints_Explicit(t *testing.T) {
	set, err := Breakpoints(650, []float64{890, 200, 650, 520, 340, 200}, 1200, "")
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{200, 340, 520, 650, 890, 1200}
	if !slices.Equal(set.Widths, want) {
		t.Errorf("widths = %v; want %v", set.Widths, want)
	}
}

func TestBreakpoints_SizesOverride(t *testing.T) {
	set, err := Breakpoints(650, nil, 2000, "100vw")
	if err != nil {
		t.Fatal(err)
	}
	if set.Sizes != "100vw" {
		t.Errorf("sizes = %q; want %q", set.Sizes, "100vw")
	}
}

func TestBreakpoints_ConfigErrors(t *testing.T) {
	for _, mw := range []int{0, -1, -650} {
		_, err := Breakpoints(mw, nil, 1000, "")
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("Breakpoints(%d) error = %v; want *ConfigError", mw, err)
		}
		if cfgErr.Field != "maxWidth" {
			t.Errorf("Field = %q; want maxWidth", cfgErr.Field)
		}
	}

	_, err := Breakpoints(650, []float64{300, 0}, 1000, "")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "srcSetBreakpoints" {
		t.Errorf("error = %v; want srcSetBreakpoints ConfigError", err)
	}
}

func TestSrcSet(t *testing.T) {
	src := "https://ucarecdn.com/abc"
	got := SrcSet(src, "a.jpg", Operations{{"quality", "smart"}}, []float64{162.5, 650})
	want := "https://ucarecdn.com/abc/-/quality/smart/-/resize/163x/a.jpg 163w, " +
		"https://ucarecdn.com/abc/-/quality/smart/-/resize/650x/a.jpg 650w"
	if got != want {
		t.Errorf("SrcSet = %q; want %q", got, want)
	}
}
