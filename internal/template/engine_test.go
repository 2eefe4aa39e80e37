package template

import (
	"bytes"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeLayout(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, e *Engine, ctx *PageContext) string {
	t.Helper()
	var buf bytes.Buffer
	if err := e.Execute(&buf, ctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return buf.String()
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

func TestDefaultLayout(t *testing.T) {
	e, err := NewEngine("", "")
	if err != nil {
		t.Fatal(err)
	}
	out := execute(t, e, &PageContext{
		Title:      "Cats & Dogs",
		Content:    template.HTML(`<p><img src="x"></p>`),
		Stylesheet: "/chroma.css",
	})
	for _, want := range []string{
		"<title>Cats &amp; Dogs</title>",
		`<link rel="stylesheet" href="/chroma.css">`,
		`<p><img src="x"></p>`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("page does not contain %q:\n%s", want, out)
		}
	}

	out = execute(t, e, &PageContext{Title: "t"})
	if strings.Contains(out, "stylesheet") {
		t.Errorf("stylesheet link without a stylesheet:\n%s", out)
	}
}

func TestLayoutFile(t *testing.T) {
	path := writeLayout(t, t.TempDir(), "custom.html",
		`<h1>{{ .Title }}</h1><a href="{{ relURL .URL }}">self</a>{{ .Content }}`)

	e, err := NewEngine(path, "/docs")
	if err != nil {
		t.Fatal(err)
	}
	got := execute(t, e, &PageContext{Title: "Setup", URL: "/guides/setup/", Content: "<p>body</p>"})
	want := `<h1>Setup</h1><a href="/docs/guides/setup/">self</a><p>body</p>`
	if got != want {
		t.Errorf("page = %q; want %q", got, want)
	}
}

func TestLayoutDirectory(t *testing.T) {
	dir := t.TempDir()
	writeLayout(t, dir, "page.html", `{{ template "partials/header.html" . }}|{{ .Content }}`)
	writeLayout(t, dir, "partials/header.html", `<header>{{ .Title }} ({{ .Images.Rewritten }}/{{ .Images.Found }})</header>`)
	writeLayout(t, dir, "notes.txt", `{{ broken`)

	e, err := NewEngine(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if !e.HasTemplate("partials/header.html") {
		t.Error("partial not loaded")
	}
	got := execute(t, e, &PageContext{Title: "T", Content: "c", Images: ImageStats{Found: 3, Rewritten: 2}})
	if want := "<header>T (2/3)</header>|c"; got != want {
		t.Errorf("page = %q; want %q", got, want)
	}
}

func TestNewEngineErrors(t *testing.T) {
	dir := t.TempDir()
	writeLayout(t, dir, "partials/only.html", "x")
	bad := writeLayout(t, t.TempDir(), "bad.html", "{{ .Title ")

	tests := map[string]string{
		"missing":     filepath.Join(dir, "nope.html"),
		"no entry":    dir,
		"parse error": bad,
	}
	for name, path := range tests {
		if _, err := NewEngine(path, ""); err == nil {
			t.Errorf("%s: NewEngine(%q) succeeded", name, path)
		}
	}
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

func TestFuncs(t *testing.T) {
	path := writeLayout(t, t.TempDir(), "page.html",
		`{{ param .Params "author.name" }}|{{ default "anon" (param .Params "editor") }}|`+
			`{{ truncate 8 (plainify .Content) }}|{{ dateFormat "2006-01-02" .BuildDate }}|{{ relURL "chroma.css" }}`)

	e, err := NewEngine(path, "")
	if err != nil {
		t.Fatal(err)
	}
	got := execute(t, e, &PageContext{
		Params:    map[string]any{"author": map[string]any{"name": "Ada"}},
		Content:   "<p>Hello <b>wide</b> world</p>",
		BuildDate: time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
	})
	if want := "Ada|anon|Hello...|2024-03-09|/chroma.css"; got != want {
		t.Errorf("page = %q; want %q", got, want)
	}
}

func TestRelURL(t *testing.T) {
	tests := []struct {
		prefix, path, want string
	}{
		{"", "/", "/"},
		{"", "chroma.css", "/chroma.css"},
		{"/blog", "/guides/", "/blog/guides/"},
		{"blog/", "static/a.png", "/blog/static/a.png"},
	}
	for _, tt := range tests {
		if got := relURL(tt.prefix, tt.path); got != tt.want {
			t.Errorf("relURL(%q, %q) = %q; want %q", tt.prefix, tt.path, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		n    int
		in   string
		want string
	}{
		{10, "short", "short"},
		{5, "exactly", "ex..."},
		{2, "abc", "ab"},
		{4, "héllo", "h..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.n, tt.in); got != tt.want {
			t.Errorf("truncate(%d, %q) = %q; want %q", tt.n, tt.in, got, tt.want)
		}
	}
}
