package ss

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/John-Robertt/mihomocli/internal/model"
	"github.com/John-Robertt/mihomocli/internal/sub/b64"
)

const Scheme = "ss://"

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// ParseURI converts one ss:// share link into a Mihomo proxy record.
//
// Both forms are accepted:
//
//	SIP002: ss://<b64(method:password)>@host:port[/][?plugin=...][#name]
//	legacy: ss://<b64(method:password@host:port)>[#name]
//
// Without a fragment the record is named "server:port".
func ParseURI(s string) (model.Value, error) {
	fail := func(msg string, cause error) (model.Value, error) {
		return model.Value{}, newParseError(s, "SUB_PARSE_ERROR", msg, "", cause)
	}

	withoutFrag, frag, hasFrag := strings.Cut(s, "#")
	name := ""
	if hasFrag {
		decoded, err := url.PathUnescape(frag)
		if err != nil {
			return fail("节点名称 URL 解码失败", err)
		}
		name = strings.TrimSpace(decoded)
		if strings.ContainsAny(name, "\r\n\x00") {
			return fail("节点名称包含非法控制字符", nil)
		}
	}

	withoutQuery, query, hasQuery := strings.Cut(withoutFrag, "?")
	plugin, err := parsePlugin(s, query, hasQuery)
	if err != nil {
		return model.Value{}, err
	}

	rest := strings.TrimPrefix(withoutQuery, Scheme)
	if rest == "" {
		return fail("ss:// 后缺少内容", nil)
	}

	var method, password, server string
	var port int
	if strings.Contains(rest, "@") {
		userinfo, hostPart, _ := strings.Cut(rest, "@")
		if userinfo == "" || hostPart == "" {
			return fail("ss uri 格式不合法", nil)
		}
		if idx := strings.IndexByte(hostPart, '/'); idx >= 0 {
			// Only allow empty path or a single trailing "/".
			if hostPart[idx:] != "/" {
				return fail("ss uri path 不支持（仅允许空或 /）", nil)
			}
			hostPart = hostPart[:idx]
		}
		method, password, err = decodeUserinfo(userinfo)
		if err != nil {
			return fail("ss userinfo 解码失败", err)
		}
		server, port, err = parseHostPort(hostPart)
		if err != nil {
			return fail("服务器地址或端口不合法", err)
		}
	} else {
		decoded, err := b64.Decode(rest)
		if err != nil {
			return fail("ss base64 解码失败", err)
		}
		if !utf8.Valid(decoded) {
			return fail("ss base64 解码结果不是合法 UTF-8", nil)
		}
		text := string(decoded)
		at := strings.LastIndex(text, "@")
		if at < 0 {
			return fail("ss base64 解码结果缺少 @ 分隔符", nil)
		}
		method, password, err = splitMethodPassword(text[:at])
		if err != nil {
			return fail("ss base64 解码结果缺少 cipher:password", err)
		}
		server, port, err = parseHostPort(text[at+1:])
		if err != nil {
			return fail("服务器地址或端口不合法", err)
		}
	}

	if name == "" {
		name = net.JoinHostPort(server, strconv.Itoa(port))
	}

	m := model.NewMapping()
	m.Set("name", model.String(name))
	m.Set("type", model.String("ss"))
	m.Set("server", model.String(server))
	m.Set("port", model.Int(int64(port)))
	m.Set("cipher", model.String(method))
	m.Set("password", model.String(password))
	if plugin != nil {
		m.Set("plugin", model.String(plugin.name))
		if plugin.opts.Len() > 0 {
			m.Set("plugin-opts", model.Map(plugin.opts))
		}
	}
	return model.Map(m), nil
}

type pluginSpec struct {
	name string
	opts *model.Mapping
}

// parsePlugin reads the SIP002 "plugin" query parameter. Other parameters are
// ignored; providers append tracking keys freely.
//
// net/url.ParseQuery rejects non-URL-encoded semicolons, but the plugin value
// uses semicolons as its own separator, so the query is split by hand.
func parsePlugin(fullLine, query string, hasQuery bool) (*pluginSpec, error) {
	if !hasQuery || query == "" {
		return nil, nil
	}
	var pluginValue *string
	for _, part := range strings.Split(query, "&") {
		kRaw, vRaw, _ := strings.Cut(part, "=")
		k, err := url.QueryUnescape(kRaw)
		if err != nil || k != "plugin" {
			continue
		}
		if pluginValue != nil {
			return nil, newParseError(fullLine, "SUB_PARSE_ERROR", "重复的 plugin 参数", "", nil)
		}
		v, err := url.PathUnescape(vRaw)
		if err != nil {
			return nil, newParseError(fullLine, "SUB_PARSE_ERROR", "query 参数解码失败", "", err)
		}
		pluginValue = &v
	}
	if pluginValue == nil {
		return nil, nil
	}

	segs := strings.Split(*pluginValue, ";")
	name := strings.TrimSpace(segs[0])
	if name == "" {
		return nil, newParseError(fullLine, "SUB_PARSE_ERROR", "plugin 名称不能为空", "example: ?plugin=simple-obfs;obfs=tls;obfs-host=example.com", nil)
	}
	raw := model.NewMapping()
	for _, seg := range segs[1:] {
		if seg == "" {
			continue
		}
		k, v, ok := strings.Cut(seg, "=")
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, newParseError(fullLine, "SUB_PARSE_ERROR", "plugin 选项 key 不能为空", "", nil)
		}
		if !ok {
			// Bare flags such as "tls" in v2ray-plugin options.
			raw.Set(k, model.Bool(true))
			continue
		}
		raw.Set(k, model.String(v))
	}
	return mihomoPlugin(name, raw), nil
}

// mihomoPlugin maps SIP003 plugin names and option keys onto the ones Mihomo
// understands. Unknown plugins are passed through unchanged.
func mihomoPlugin(name string, raw *model.Mapping) *pluginSpec {
	switch name {
	case "simple-obfs", "obfs-local":
		opts := model.NewMapping()
		if v, ok := raw.Get("obfs"); ok {
			opts.Set("mode", v)
		}
		if v, ok := raw.Get("obfs-host"); ok {
			opts.Set("host", v)
		}
		return &pluginSpec{name: "obfs", opts: opts}
	case "v2ray-plugin":
		opts := model.NewMapping()
		raw.Range(func(k string, v model.Value) bool {
			if k == "tls" {
				opts.Set("tls", model.Bool(true))
				return true
			}
			opts.Set(k, v)
			return true
		})
		if !opts.Has("mode") {
			opts.Set("mode", model.String("websocket"))
		}
		return &pluginSpec{name: name, opts: opts}
	default:
		return &pluginSpec{name: name, opts: raw}
	}
}

func parseHostPort(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return "", 0, err
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "", 0, errors.New("empty host")
	}
	port, err := strconv.Atoi(strings.TrimSpace(portStr))
	if err != nil {
		return "", 0, err
	}
	if port < 1 || port > 65535 {
		return "", 0, errors.New("port out of range")
	}
	return host, port, nil
}

// decodeUserinfo accepts base64 userinfo (SIP002) and the plain
// percent-encoded "method:password" form used by AEAD-2022 links.
func decodeUserinfo(userinfo string) (string, string, error) {
	if decoded, err := b64.Decode(userinfo); err == nil && utf8.Valid(decoded) {
		if method, password, err := splitMethodPassword(string(decoded)); err == nil {
			return method, password, nil
		}
	}
	plain, err := url.PathUnescape(userinfo)
	if err != nil {
		return "", "", err
	}
	return splitMethodPassword(plain)
}

func splitMethodPassword(s string) (string, string, error) {
	colon := strings.IndexByte(s, ':')
	if colon <= 0 {
		return "", "", errors.New("missing ':'")
	}
	method := strings.TrimSpace(s[:colon])
	password := strings.TrimSpace(s[colon+1:])
	if method == "" || password == "" {
		return "", "", errors.New("empty method or password")
	}
	if strings.ContainsAny(method, "\r\n\x00") || strings.ContainsAny(password, "\r\n\x00") {
		return "", "", errors.New("control chars in method/password")
	}
	return method, password, nil
}

func newParseError(line, code, message, hint string, cause error) error {
	return &ParseError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   "parse_sub",
			Snippet: model.TruncateSnippet(line, 200),
			Hint:    hint,
		},
		Cause: cause,
	}
}
