package cdn

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Operation is a single CDN transformation, rendered as "name/value".
type Operation struct {
	Name  string
	Value string
}

// Operations is an ordered set of transformations. Order matters: it decides
// the path segment order and therefore every URL built from it.
type Operations []Operation

// DefaultOperations returns the transformations applied when none are
// configured.
func DefaultOperations() Operations {
	return Operations{
		{Name: "quality", Value: "smart"},
		{Name: "format", Value: "auto"},
	}
}

// Get returns the value stored under name.
func (ops Operations) Get(name string) (string, bool) {
	for _, op := range ops {
		if op.Name == name {
			return op.Value, true
		}
	}
	return "", false
}

// Merge returns a new set where names already present keep their position
// and take the value from over, and new names are appended in over's order.
func (ops Operations) Merge(over Operations) Operations {
	merged := make(Operations, len(ops), len(ops)+len(over))
	copy(merged, ops)
	for _, op := range over {
		replaced := false
		for i := range merged {
			if merged[i].Name == op.Name {
				merged[i].Value = op.Value
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, op)
		}
	}
	return merged
}

// With is Merge for a single operation.
func (ops Operations) With(name, value string) Operations {
	return ops.Merge(Operations{{Name: name, Value: value}})
}

// Active returns the operations with a non-empty value, in order.
func (ops Operations) Active() Operations {
	active := make(Operations, 0, len(ops))
	for _, op := range ops {
		if op.Value != "" {
			active = append(active, op)
		}
	}
	return active
}

// Path renders the active operations as a CDN path fragment such as
// "-/quality/smart/-/format/auto". It is empty when nothing is active.
func (ops Operations) Path() string {
	active := ops.Active()
	if len(active) == 0 {
		return ""
	}
	segments := make([]string, len(active))
	for i, op := range active {
		segments[i] = op.Name + "/" + op.Value
	}
	return "-/" + strings.Join(segments, "/-/")
}

// UnmarshalYAML decodes a YAML mapping keeping the document order of keys.
func (ops *Operations) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		*ops = nil
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: image operations must be a mapping", node.Line)
	}
	decoded := make(Operations, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var value any
		if err := node.Content[i+1].Decode(&value); err != nil {
			return fmt.Errorf("image operation %q: %w", node.Content[i].Value, err)
		}
		decoded = append(decoded, Operation{
			Name:  node.Content[i].Value,
			Value: FormatValue(value),
		})
	}
	*ops = decoded
	return nil
}

// MarshalYAML encodes the operations as an ordered mapping.
func (ops Operations) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, op := range ops {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: op.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: op.Value},
		)
	}
	return node, nil
}

// OperationsFromMap converts an unordered mapping into operations sorted by
// name.
func OperationsFromMap(m map[string]any) Operations {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	ops := make(Operations, 0, len(names))
	for _, name := range names {
		ops = append(ops, Operation{Name: name, Value: FormatValue(m[name])})
	}
	return ops
}

// FormatValue renders a configuration value as an operation value. Values
// that mean "off" (nil, false, zero, empty) become the empty string, which
// drops the operation from compiled URLs.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if !val {
			return ""
		}
		return "true"
	case int:
		if val == 0 {
			return ""
		}
		return strconv.Itoa(val)
	case int64:
		if val == 0 {
			return ""
		}
		return strconv.FormatInt(val, 10)
	case float64:
		if val == 0 {
			return ""
		}
		return FormatNumber(val)
	default:
		return fmt.Sprint(val)
	}
}
