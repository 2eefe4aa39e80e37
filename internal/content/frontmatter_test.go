package content

import (
	"strings"
	"testing"
)

func TestSplitFrontMatter(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantTitle string
		wantSlug  string
		wantDraft bool
		wantBody  string
	}{
		{
			name:      "yaml",
			input:     "---\ntitle: Setup\nslug: start\ndraft: true\n---\n# Body\n",
			wantTitle: "Setup",
			wantSlug:  "start",
			wantDraft: true,
			wantBody:  "# Body\n",
		},
		{
			name:      "toml",
			input:     "+++\ntitle = \"Setup\"\ndraft = false\n+++\nBody\n",
			wantTitle: "Setup",
			wantBody:  "Body\n",
		},
		{
			name:     "none",
			input:    "# Just markdown\n",
			wantBody: "# Just markdown\n",
		},
		{
			name:     "empty block",
			input:    "---\n---\nBody",
			wantBody: "Body",
		},
		{
			name:      "string draft",
			input:     "---\ndraft: \"yes\"\n---\n",
			wantDraft: true,
			wantBody:  "",
		},
		{
			name:      "fence inside value",
			input:     "---\ntitle: a---b\n---\nBody\n",
			wantTitle: "a---b",
			wantBody:  "Body\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm, body, err := SplitFrontMatter([]byte(tt.input))
			if err != nil {
				t.Fatalf("SplitFrontMatter() error: %v", err)
			}
			if fm.Title != tt.wantTitle {
				t.Errorf("Title = %q; want %q", fm.Title, tt.wantTitle)
			}
			if fm.Slug != tt.wantSlug {
				t.Errorf("Slug = %q; want %q", fm.Slug, tt.wantSlug)
			}
			if fm.Draft != tt.wantDraft {
				t.Errorf("Draft = %v; want %v", fm.Draft, tt.wantDraft)
			}
			if string(body) != tt.wantBody {
				t.Errorf("body = %q; want %q", body, tt.wantBody)
			}
		})
	}
}

func TestSplitFrontMatter_Params(t *testing.T) {
	fm, _, err := SplitFrontMatter([]byte("---\ntitle: T\ntags: [a, b]\n---\n"))
	if err != nil {
		t.Fatal(err)
	}
	tags, ok := fm.Params["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Errorf("Params[tags] = %#v; want two entries", fm.Params["tags"])
	}
}

func TestSplitFrontMatter_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"unclosed", "---\ntitle: x\n", "closing"},
		{"bad yaml", "---\ntitle: [unclosed\n---\n", "front matter"},
		{"bad toml", "+++\ntitle = \n+++\n", "front matter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := SplitFrontMatter([]byte(tt.input))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q; want it to mention %q", err, tt.want)
			}
		})
	}
}
