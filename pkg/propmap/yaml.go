package propmap

import (
	"gopkg.in/yaml.v3"

	"mrivista/pkg/value"
)

// MarshalYAML renders the map as an ordered YAML mapping. Branches become
// nested mappings, lists become sequences and every other leaf a scalar.
func (m *Map) MarshalYAML() (interface{}, error) {
	return nodeToYAML(m.root), nil
}

func nodeToYAML(n *node) *yaml.Node {
	out := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range n.order {
		c := n.children[name]
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name}
		if c.isLeaf {
			out.Content = append(out.Content, key, leafToYAML(c.leaf))
		} else {
			out.Content = append(out.Content, key, nodeToYAML(c))
		}
	}
	return out
}

func leafToYAML(v value.Value) *yaml.Node {
	switch v.TypeID() {
	case value.TypeIntList, value.TypeFloatList, value.TypeStringList,
		value.TypeVector4, value.TypeIVector4:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		var elems []string
		var tag string
		switch x := v.Interface().(type) {
		case []string:
			elems, tag = x, "!!str"
		default:
			base := v
			switch v.TypeID() {
			case value.TypeVector4:
				base, _ = v.CastTo(value.TypeFloatList)
			case value.TypeIVector4:
				base, _ = v.CastTo(value.TypeIntList)
			}
			l, _ := value.As[[]string](base)
			elems = l
		}
		for _, e := range elems {
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: e})
		}
		return seq
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: scalarTag(v.TypeID()), Value: v.String()}
}

// scalarTag leaves numbers plain so they resolve implicitly; strings are
// tagged so numeric-looking text gets quoted.
func scalarTag(t value.TypeID) string {
	switch {
	case t.IsNumeric():
		return ""
	case t == value.TypeTimestamp:
		return "!!timestamp"
	}
	return "!!str"
}
