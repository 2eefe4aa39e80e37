package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/aellingwood/ucimg/internal/cdn"
)

// orderedOperations re-reads images.imageOperations from the config file
// keeping the order the keys were written in. Decoding through viper goes
// via Go maps, which lose that order, and operation order decides the CDN
// URL.
func orderedOperations(path, format string) (cdn.Operations, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	if format == "toml" {
		return tomlOperations(data)
	}
	return yamlOperations(data)
}

func yamlOperations(data []byte) (cdn.Operations, bool, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, false, err
	}
	if len(doc.Content) == 0 {
		return nil, false, nil
	}
	images := mappingValue(doc.Content[0], "images")
	if images == nil {
		return nil, false, nil
	}
	opsNode := mappingValue(images, "imageOperations")
	if opsNode == nil {
		return nil, false, nil
	}
	var ops cdn.Operations
	if err := opsNode.Decode(&ops); err != nil {
		return nil, false, err
	}
	return ops, true, nil
}

// mappingValue returns the value node stored under key in a mapping node.
func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func tomlOperations(data []byte) (cdn.Operations, bool, error) {
	var raw struct {
		Images struct {
			ImageOperations map[string]any `toml:"imageOperations"`
		} `toml:"images"`
	}
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, false, err
	}
	if !md.IsDefined("images", "imageOperations") {
		return nil, false, nil
	}

	var ops cdn.Operations
	for _, key := range md.Keys() {
		if len(key) != 3 || key[0] != "images" || key[1] != "imageOperations" {
			continue
		}
		v, ok := raw.Images.ImageOperations[key[2]]
		if !ok {
			return nil, false, fmt.Errorf("image operation %q not decoded", key[2])
		}
		ops = append(ops, cdn.Operation{Name: key[2], Value: cdn.FormatValue(v)})
	}
	return ops, true, nil
}
