package metadata

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAML reads class declarations from a YAML file.
//
//	classes:
//	  Users:
//	    extends: Base
//	    version: "2"
//	    exclude: "^internal"
//	    operations:
//	      find:
//	        aliases: [search]
//	        contexts: ["http*", cli]
//	        events: [post, {type: pre, name: "pre.<service>.lookup", args: [id]}]
//	      purge: {exclude: true}
//	      update: {inherit: true}
func LoadYAML(path string) (MapSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata %s: %w", path, err)
	}

	src, err := ParseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", path, err)
	}

	return src, nil
}

// ParseYAML decodes class declarations from YAML bytes.
func ParseYAML(data []byte) (MapSource, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("metadata yaml: %w", err)
	}

	src := MapSource{}

	if doc.Kind == 0 || len(doc.Content) == 0 {
		return src, nil
	}

	root := doc.Content[0]
	if err := expectKind(root, yaml.MappingNode, "document", "mapping"); err != nil {
		return nil, err
	}

	classes := lookup(root, "classes")
	if classes == nil {
		return src, nil
	}

	if err := expectKind(classes, yaml.MappingNode, "classes", "mapping of class name to class"); err != nil {
		return nil, err
	}

	for i := 0; i+1 < len(classes.Content); i += 2 {
		name := classes.Content[i].Value

		cls, err := decodeClass(name, classes.Content[i+1])
		if err != nil {
			return nil, err
		}

		src.Add(cls)
	}

	return src, nil
}

func decodeClass(name string, n *yaml.Node) (Class, error) {
	cls := Class{Name: name}

	if isNull(n) {
		return cls, nil
	}

	if err := expectKind(n, yaml.MappingNode, name, "mapping"); err != nil {
		return cls, err
	}

	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		path := name + "." + key

		var err error

		switch key {
		case "extends":
			cls.Extends, err = scalarString(val, path)
		case "version":
			cls.Version, err = scalarString(val, path)
		case "exclude":
			cls.Exclude, err = scalarString(val, path)
		case "operations":
			cls.Operations, err = decodeOperations(path, val)
		default:
			err = &DecodeError{Name: path, Expected: "one of extends, version, exclude, operations", Actual: "unknown key", Line: n.Content[i].Line}
		}

		if err != nil {
			return cls, err
		}
	}

	return cls, nil
}

func decodeOperations(path string, n *yaml.Node) (map[string]Operation, error) {
	if isNull(n) {
		return nil, nil
	}

	if err := expectKind(n, yaml.MappingNode, path, "mapping of operation name to operation"); err != nil {
		return nil, err
	}

	ops := make(map[string]Operation, len(n.Content)/2)

	for i := 0; i+1 < len(n.Content); i += 2 {
		name := n.Content[i].Value

		op, err := decodeOperation(path+"."+name, n.Content[i+1])
		if err != nil {
			return nil, err
		}

		ops[name] = op
	}

	return ops, nil
}

func decodeOperation(path string, n *yaml.Node) (Operation, error) {
	var op Operation

	if isNull(n) {
		return op, nil
	}

	if err := expectKind(n, yaml.MappingNode, path, "mapping"); err != nil {
		return op, err
	}

	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		p := path + "." + key

		var err error

		switch key {
		case "exclude":
			var b bool

			b, err = scalarBool(val, p)
			op.Exclude = &b
		case "inherit":
			op.Inherit, err = scalarBool(val, p)
		case "contexts", "context":
			op.Contexts, err = stringOrList(val, p)
		case "aliases", "alias":
			op.Aliases, err = stringOrList(val, p)
		case "events", "trigger":
			op.Events, err = decodeEvents(p, val)
		default:
			err = &DecodeError{Name: p, Expected: "one of exclude, inherit, contexts, aliases, events", Actual: "unknown key", Line: n.Content[i].Line}
		}

		if err != nil {
			return op, err
		}
	}

	return op, nil
}

// decodeEvents accepts a single trigger or a list of triggers. A bare string
// sets only the event type.
func decodeEvents(path string, n *yaml.Node) ([]Event, error) {
	items := []*yaml.Node{n}
	if n.Kind == yaml.SequenceNode {
		items = n.Content
	}

	out := make([]Event, 0, len(items))

	for i, it := range items {
		p := fmt.Sprintf("%s[%d]", path, i)

		switch it.Kind {
		case yaml.ScalarNode:
			t, err := scalarString(it, p)
			if err != nil {
				return nil, err
			}

			out = append(out, Event{Type: t})
		case yaml.MappingNode:
			e, err := decodeEvent(p, it)
			if err != nil {
				return nil, err
			}

			out = append(out, e)
		default:
			return nil, &DecodeError{Name: p, Expected: "event type string or mapping", Actual: kindName(it), Line: it.Line}
		}
	}

	return out, nil
}

func decodeEvent(path string, n *yaml.Node) (Event, error) {
	var e Event

	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		p := path + "." + key

		var err error

		switch key {
		case "type":
			e.Type, err = scalarString(val, p)
		case "name":
			e.Name, err = scalarString(val, p)
		case "args", "params":
			e.Args, err = stringOrList(val, p)
		default:
			err = &DecodeError{Name: p, Expected: "one of type, name, args", Actual: "unknown key", Line: n.Content[i].Line}
		}

		if err != nil {
			return e, err
		}
	}

	if e.Type == "" {
		return e, &DecodeError{Name: path + ".type", Expected: "pre or post", Actual: "missing", Line: n.Line}
	}

	return e, nil
}

func lookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}

	return nil
}

func expectKind(n *yaml.Node, kind yaml.Kind, name, expected string) error {
	if n.Kind != kind {
		return &DecodeError{Name: name, Expected: expected, Actual: kindName(n), Line: n.Line}
	}

	return nil
}

func scalarString(n *yaml.Node, name string) (string, error) {
	if n.Kind != yaml.ScalarNode || n.ShortTag() == "!!null" {
		return "", &DecodeError{Name: name, Expected: "string", Actual: kindName(n), Line: n.Line}
	}

	return n.Value, nil
}

func scalarBool(n *yaml.Node, name string) (bool, error) {
	if n.Kind != yaml.ScalarNode || n.ShortTag() != "!!bool" {
		return false, &DecodeError{Name: name, Expected: "bool", Actual: kindName(n), Line: n.Line}
	}

	var b bool
	if err := n.Decode(&b); err != nil {
		return false, &DecodeError{Name: name, Expected: "bool", Actual: n.Value, Line: n.Line}
	}

	return b, nil
}

func stringOrList(n *yaml.Node, name string) ([]string, error) {
	if n.Kind == yaml.ScalarNode {
		s, err := scalarString(n, name)
		if err != nil {
			return nil, err
		}

		return []string{s}, nil
	}

	if n.Kind != yaml.SequenceNode {
		return nil, &DecodeError{Name: name, Expected: "string or list of strings", Actual: kindName(n), Line: n.Line}
	}

	out := make([]string, 0, len(n.Content))

	for i, it := range n.Content {
		s, err := scalarString(it, fmt.Sprintf("%s[%d]", name, i))
		if err != nil {
			return nil, err
		}

		out = append(out, s)
	}

	return out, nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null"
}

func kindName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return "null"
		case "!!bool":
			return "bool"
		case "!!int":
			return "int"
		case "!!float":
			return "float"
		default:
			return "string"
		}
	default:
		return "unknown"
	}
}
