package content

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Front matter fences.
var (
	yamlFence = []byte("---")
	tomlFence = []byte("+++")
)

// FrontMatter is the metadata block at the top of a document.
type FrontMatter struct {
	Title  string
	Slug   string
	Draft  bool
	Params map[string]any // every key, including the ones above
}

// SplitFrontMatter separates a YAML (---) or TOML (+++) front matter block
// from the markdown body. Without a block the whole input is the body. A
// block that is opened but never closed is an error.
func SplitFrontMatter(raw []byte) (FrontMatter, []byte, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")

	var fence []byte
	var unmarshal func([]byte, any) error
	switch {
	case bytes.HasPrefix(trimmed, yamlFence):
		fence, unmarshal = yamlFence, yaml.Unmarshal
	case bytes.HasPrefix(trimmed, tomlFence):
		fence, unmarshal = tomlFence, toml.Unmarshal
	default:
		return FrontMatter{}, raw, nil
	}

	_, rest, ok := bytes.Cut(trimmed, []byte("\n"))
	if !ok {
		return FrontMatter{}, raw, nil
	}

	block, body, ok := cutFence(rest, fence)
	if !ok {
		return FrontMatter{}, nil, fmt.Errorf("front matter: closing %q not found", fence)
	}

	fm := FrontMatter{Params: map[string]any{}}
	if len(bytes.TrimSpace(block)) == 0 {
		return fm, body, nil
	}
	if err := unmarshal(block, &fm.Params); err != nil {
		return FrontMatter{}, nil, fmt.Errorf("front matter: %w", err)
	}
	fm.Title = stringParam(fm.Params, "title")
	fm.Slug = stringParam(fm.Params, "slug")
	fm.Draft = boolParam(fm.Params, "draft")
	return fm, body, nil
}

// cutFence finds the first line consisting of fence and returns what comes
// before it and the body after its line.
func cutFence(s, fence []byte) (before, after []byte, ok bool) {
	offset := 0
	for offset <= len(s) {
		line := s[offset:]
		end := bytes.IndexByte(line, '\n')
		if end >= 0 {
			line = line[:end]
		}
		if bytes.Equal(bytes.TrimRight(line, " \t\r"), fence) {
			if end < 0 {
				return s[:offset], nil, true
			}
			return s[:offset], s[offset+end+1:], true
		}
		if end < 0 {
			break
		}
		offset += end + 1
	}
	return nil, nil, false
}

func stringParam(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// boolParam accepts booleans and the strings "true" and "yes".
func boolParam(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "yes"
	}
	return false
}
