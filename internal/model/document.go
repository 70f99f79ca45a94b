package model

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Top-level keys modeled explicitly by Document. Everything else lives in Extra.
const (
	KeyPort        = "port"
	KeySocksPort   = "socks-port"
	KeyRedirPort   = "redir-port"
	KeyProxies     = "proxies"
	KeyProxyGroups = "proxy-groups"
	KeyRules       = "rules"
)

// DefaultSelectorName is the canonical "node selection" group of the
// templates this tool ships and most providers emit.
const DefaultSelectorName = "🚀 节点选择"

// Direct is the built-in direct-connection policy.
const Direct = "DIRECT"

// IsModeledKey reports whether key is one of the explicitly modeled top-level keys.
func IsModeledKey(key string) bool {
	switch key {
	case KeyPort, KeySocksPort, KeyRedirPort, KeyProxies, KeyProxyGroups, KeyRules:
		return true
	default:
		return false
	}
}

// Document is one Mihomo/Clash configuration document.
//
// Proxy records and proxy groups are opaque mappings; only "name", group
// "type" and group "proxies" are ever inspected. Group "proxies" entries are
// name references and may dangle until the final output.
type Document struct {
	Port      *int
	SocksPort *int
	RedirPort *int

	Proxies     []Value
	ProxyGroups []Value
	Rules       []string

	// Extra never holds a modeled key.
	Extra *Mapping
}

func NewDocument() *Document {
	return &Document{Extra: NewMapping()}
}

// SetExtra stores a passthrough top-level key. Modeled keys are refused.
func (d *Document) SetExtra(key string, v Value) error {
	if IsModeledKey(key) {
		return fmt.Errorf("%q is a modeled key and cannot be stored as extra", key)
	}
	if d.Extra == nil {
		d.Extra = NewMapping()
	}
	d.Extra.Set(key, v)
	return nil
}

type DocumentError struct {
	AppError AppError
	Cause    error
}

func (e *DocumentError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *DocumentError) Unwrap() error { return e.Cause }

// ParseDocument parses native configuration YAML. stage and source only
// label the returned *DocumentError.
func ParseDocument(stage, source string, data []byte) (*Document, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, newDocumentError(stage, source, "", "DOCUMENT_EMPTY", "配置文档为空", nil)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, newDocumentError(stage, source, TruncateSnippet(string(data), 200), "DOCUMENT_PARSE_ERROR", "配置文档 YAML 解析失败", err)
	}
	top := &root
	if top.Kind == yaml.DocumentNode && len(top.Content) > 0 {
		top = top.Content[0]
	}
	if top.Kind != yaml.MappingNode {
		return nil, newDocumentError(stage, source, TruncateSnippet(string(data), 200), "DOCUMENT_NOT_MAPPING", "配置文档顶层必须是 mapping", nil)
	}

	v, err := ValueFromNode(top)
	if errors.Is(err, ErrExcessiveAliasing) {
		return nil, newDocumentError(stage, source, "", "DOCUMENT_TOO_COMPLEX", "配置文档别名展开过多", err)
	}
	if err != nil {
		return nil, newDocumentError(stage, source, "", "DOCUMENT_PARSE_ERROR", "配置文档 YAML 解析失败", err)
	}
	m, _ := v.AsMapping()

	doc, err := documentFromMapping(m)
	if err != nil {
		return nil, newDocumentError(stage, source, "", "DOCUMENT_SHAPE_ERROR", "配置文档字段类型不合法", err)
	}
	return doc, nil
}

func documentFromMapping(m *Mapping) (*Document, error) {
	doc := NewDocument()
	var err error
	m.Range(func(key string, v Value) bool {
		switch key {
		case KeyPort:
			doc.Port, err = portField(key, v)
		case KeySocksPort:
			doc.SocksPort, err = portField(key, v)
		case KeyRedirPort:
			doc.RedirPort, err = portField(key, v)
		case KeyProxies:
			doc.Proxies, err = sequenceField(key, v)
		case KeyProxyGroups:
			doc.ProxyGroups, err = sequenceField(key, v)
		case KeyRules:
			doc.Rules, err = ruleField(v)
		default:
			doc.Extra.Set(key, v)
		}
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func portField(key string, v Value) (*int, error) {
	if v.IsNull() {
		return nil, nil
	}
	i, ok := v.AsInt()
	if !ok || i < 0 || i > 65535 {
		return nil, fmt.Errorf("%s must be an integer in [0, 65535]", key)
	}
	p := int(i)
	return &p, nil
}

func sequenceField(key string, v Value) ([]Value, error) {
	if v.IsNull() {
		return nil, nil
	}
	seq, ok := v.AsSequence()
	if !ok {
		return nil, fmt.Errorf("%s must be a sequence, got %s", key, v.Kind())
	}
	return seq, nil
}

func ruleField(v Value) ([]string, error) {
	if v.IsNull() {
		return nil, nil
	}
	seq, ok := v.AsSequence()
	if !ok {
		return nil, fmt.Errorf("rules must be a sequence, got %s", v.Kind())
	}
	out := make([]string, 0, len(seq))
	for i, item := range seq {
		switch item.Kind() {
		case KindString, KindInt, KindFloat, KindBool:
			out = append(out, item.Text())
		default:
			return nil, fmt.Errorf("rules[%d] must be a string, got %s", i, item.Kind())
		}
	}
	return out, nil
}

// MarshalYAML serializes the document with two-space indentation. Extra keys
// come first in their original order, then ports, proxies, proxy-groups and rules.
func (d *Document) MarshalYAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.Node()); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Document) Node() *yaml.Node {
	m := d.Extra.Clone()
	for _, k := range []string{KeyPort, KeySocksPort, KeyRedirPort, KeyProxies, KeyProxyGroups, KeyRules} {
		m.Delete(k)
	}
	setPort := func(key string, p *int) {
		if p != nil {
			m.Set(key, Int(int64(*p)))
		}
	}
	setPort(KeyPort, d.Port)
	setPort(KeySocksPort, d.SocksPort)
	setPort(KeyRedirPort, d.RedirPort)
	m.Set(KeyProxies, Seq(d.Proxies...))
	m.Set(KeyProxyGroups, Seq(d.ProxyGroups...))
	m.Set(KeyRules, Strings(d.Rules))
	return m.Node()
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{
		Port:      clonePort(d.Port),
		SocksPort: clonePort(d.SocksPort),
		RedirPort: clonePort(d.RedirPort),
		Extra:     d.Extra.Clone(),
	}
	out.Proxies = cloneValues(d.Proxies)
	out.ProxyGroups = cloneValues(d.ProxyGroups)
	if d.Rules != nil {
		out.Rules = append([]string(nil), d.Rules...)
	}
	return out
}

func clonePort(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneValues(in []Value) []Value {
	if in == nil {
		return nil
	}
	out := make([]Value, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// RecordName returns the "name" of a proxy or proxy-group record.
func RecordName(v Value) (string, bool) {
	m, ok := v.AsMapping()
	if !ok {
		return "", false
	}
	return m.GetString("name")
}

// ProxyNames lists proxy names in document order, duplicates included.
func (d *Document) ProxyNames() []string {
	return recordNames(d.Proxies)
}

// GroupNames lists proxy-group names in document order.
func (d *Document) GroupNames() []string {
	return recordNames(d.ProxyGroups)
}

func recordNames(values []Value) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if name, ok := RecordName(v); ok {
			out = append(out, name)
		}
	}
	return out
}

// GroupIndex returns the index of the first proxy group named name, or -1.
func (d *Document) GroupIndex(name string) int {
	for i, g := range d.ProxyGroups {
		if n, ok := RecordName(g); ok && n == name {
			return i
		}
	}
	return -1
}

// GroupRefs returns the "proxies" references of a group record.
func GroupRefs(group Value) []string {
	m, ok := group.AsMapping()
	if !ok {
		return nil
	}
	v, ok := m.Get("proxies")
	if !ok {
		return nil
	}
	seq, ok := v.AsSequence()
	if !ok {
		return nil
	}
	out := make([]string, 0, len(seq))
	for _, item := range seq {
		if s, ok := item.AsString(); ok {
			out = append(out, s)
		}
	}
	return out
}

// SetGroupRefs replaces the "proxies" references of a group record in place.
func SetGroupRefs(group Value, refs []string) {
	m, ok := group.AsMapping()
	if !ok {
		return
	}
	m.Set("proxies", Strings(refs))
}

func newDocumentError(stage, source, snippet, code, msg string, cause error) error {
	return &DocumentError{
		AppError: AppError{
			Code:    code,
			Message: msg,
			Stage:   stage,
			URL:     source,
			Snippet: snippet,
		},
		Cause: cause,
	}
}
