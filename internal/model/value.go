package model

import (
	"errors"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the YAML data model. Proxy records, proxy
// groups and every unmodeled top-level key are stored as Values so that
// provider-defined fields survive a round trip untouched.
//
// The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	seq  []Value
	m    *Mapping

	// raw keeps the source text of numeric scalars (0x1F, 1e3, .inf) so the
	// output spells them the way the input did.
	raw string
}

func Null() Value              { return Value{} }
func Bool(b bool) Value        { return Value{kind: KindBool, b: b} }
func Int(i int64) Value        { return Value{kind: KindInt, i: i} }
func Float(f float64) Value    { return Value{kind: KindFloat, f: f} }
func String(s string) Value    { return Value{kind: KindString, s: s} }
func Seq(items ...Value) Value { return Value{kind: KindSequence, seq: items} }

// Strings builds a sequence of string values.
func Strings(items []string) Value {
	out := make([]Value, 0, len(items))
	for _, s := range items {
		out = append(out, String(s))
	}
	return Value{kind: KindSequence, seq: out}
}

// Map wraps m as a mapping value. A nil m becomes an empty mapping.
func Map(m *Mapping) Value {
	if m == nil {
		m = NewMapping()
	}
	return Value{kind: KindMapping, m: m}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsInt() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return v.i, true
}

func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// AsSequence returns the backing slice of a sequence value. Mutating the
// elements mutates the value.
func (v Value) AsSequence() ([]Value, bool) {
	if v.kind != KindSequence {
		return nil, false
	}
	return v.seq, true
}

func (v Value) AsMapping() (*Mapping, bool) {
	if v.kind != KindMapping || v.m == nil {
		return nil, false
	}
	return v.m, true
}

// Text renders scalar values as plain text. Non-scalars return "".
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		if v.raw != "" {
			return v.raw
		}
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		if v.raw != "" {
			return v.raw
		}
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return ""
	}
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.kind {
	case KindSequence:
		out := v
		out.seq = make([]Value, len(v.seq))
		for i := range v.seq {
			out.seq[i] = v.seq[i].Clone()
		}
		return out
	case KindMapping:
		out := v
		out.m = v.m.Clone()
		return out
	default:
		return v
	}
}

// Equal reports deep equality, ignoring numeric spelling.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindSequence:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	case KindMapping:
		return v.m.Equal(o.m)
	default:
		return false
	}
}

// Node converts v into a yaml.v3 node tree.
func (v Value) Node() *yaml.Node {
	switch v.kind {
	case KindBool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v.b)}
	case KindInt:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: v.Text()}
	case KindFloat:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: v.Text()}
	case KindString:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.s}
	case KindSequence:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v.seq {
			n.Content = append(n.Content, item.Node())
		}
		return n
	case KindMapping:
		return v.m.Node()
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
}

func (v Value) MarshalYAML() (interface{}, error) {
	return v.Node(), nil
}

func (v *Value) UnmarshalYAML(n *yaml.Node) error {
	out, err := ValueFromNode(n)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// ValueFromNode converts a yaml.v3 node into a Value. Aliases are expanded
// and merge keys ("<<") are folded into the enclosing mapping. Expansion
// stops with ErrExcessiveAliasing once more than maxExpandedNodes nodes have
// been visited.
func ValueFromNode(n *yaml.Node) (Value, error) {
	w := &nodeWalker{budget: maxExpandedNodes}
	return w.value(n, 0)
}

const (
	maxNodeDepth     = 256
	maxExpandedNodes = 1 << 20
)

// ErrExcessiveAliasing reports a document whose aliases expand past the node budget.
var ErrExcessiveAliasing = errors.New("yaml alias expansion exceeds node budget")

type nodeWalker struct {
	budget int
}

func (w *nodeWalker) value(n *yaml.Node, depth int) (Value, error) {
	if n == nil {
		return Null(), nil
	}
	if depth > maxNodeDepth {
		return Value{}, fmt.Errorf("yaml nesting deeper than %d", maxNodeDepth)
	}
	w.budget--
	if w.budget < 0 {
		return Value{}, fmt.Errorf("%w (%d nodes, line %d)", ErrExcessiveAliasing, maxExpandedNodes, n.Line)
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return Null(), nil
		}
		return w.value(n.Content[0], depth+1)
	case yaml.AliasNode:
		return w.value(n.Alias, depth+1)
	case yaml.ScalarNode:
		return scalarFromNode(n)
	case yaml.SequenceNode:
		items := make([]Value, 0, len(n.Content))
		for _, c := range n.Content {
			item, err := w.value(c, depth+1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Seq(items...), nil
	case yaml.MappingNode:
		m, err := w.mapping(n, depth)
		if err != nil {
			return Value{}, err
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported yaml node kind %d at line %d", n.Kind, n.Line)
	}
}

func (w *nodeWalker) mapping(n *yaml.Node, depth int) (*Mapping, error) {
	if len(n.Content)%2 != 0 {
		return nil, fmt.Errorf("malformed mapping at line %d", n.Line)
	}
	m := NewMapping()
	var merged []*Mapping
	for i := 0; i < len(n.Content); i += 2 {
		kn, vn := n.Content[i], n.Content[i+1]
		if kn.Kind == yaml.ScalarNode && kn.ShortTag() == "!!merge" {
			src, err := w.value(vn, depth+1)
			if err != nil {
				return nil, err
			}
			switch src.Kind() {
			case KindMapping:
				merged = append(merged, src.m)
			case KindSequence:
				for _, item := range src.seq {
					if mm, ok := item.AsMapping(); ok {
						merged = append(merged, mm)
					}
				}
			}
			continue
		}
		if kn.Kind == yaml.AliasNode {
			kn = kn.Alias
		}
		if kn == nil || kn.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("non-scalar mapping key at line %d", n.Content[i].Line)
		}
		val, err := w.value(vn, depth+1)
		if err != nil {
			return nil, err
		}
		m.Set(kn.Value, val)
	}
	for _, src := range merged {
		src.Range(func(k string, v Value) bool {
			m.SetDefault(k, v.Clone())
			return true
		})
	}
	return m, nil
}

func scalarFromNode(n *yaml.Node) (Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return Null(), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return String(n.Value), nil
		}
		return Bool(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			// Out of int64 range: keep the digits as a float with original spelling.
			var f float64
			if ferr := n.Decode(&f); ferr != nil {
				return String(n.Value), nil
			}
			return Value{kind: KindFloat, f: f, raw: n.Value}, nil
		}
		v := Int(i)
		if strconv.FormatInt(i, 10) != n.Value {
			v.raw = n.Value
		}
		return v, nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return String(n.Value), nil
		}
		return Value{kind: KindFloat, f: f, raw: n.Value}, nil
	default:
		// !!str, !!timestamp, !!binary and custom tags are kept as text.
		return String(n.Value), nil
	}
}
