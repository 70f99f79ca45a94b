package trojan

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/John-Robertt/mihomocli/internal/model"
)

const Scheme = "trojan://"

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

// ParseURI converts trojan://password@host:port?params#name into a Mihomo
// proxy record. The port defaults to 443.
func ParseURI(line string) (model.Value, error) {
	fail := func(msg string, cause error) (model.Value, error) {
		return model.Value{}, &ParseError{
			AppError: model.AppError{
				Code:    "SUB_PARSE_ERROR",
				Message: msg,
				Stage:   "parse_sub",
				Snippet: model.TruncateSnippet(line, 200),
			},
			Cause: cause,
		}
	}

	u, err := url.Parse(strings.TrimSpace(line))
	if err != nil {
		return fail("trojan uri 格式不合法", err)
	}
	if u.Scheme != "trojan" {
		return fail("仅支持 trojan:// 协议", nil)
	}
	server := u.Hostname()
	if server == "" {
		return fail("trojan 缺少服务器地址", nil)
	}
	port := 443
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return fail("trojan 端口不合法", err)
		}
	}
	if u.User == nil || u.User.Username() == "" {
		return fail("trojan 缺少密码", nil)
	}
	password := u.User.Username()

	name := strings.TrimSpace(u.Fragment)
	if name == "" {
		name = net.JoinHostPort(server, strconv.Itoa(port))
	}

	m := model.NewMapping()
	m.Set("name", model.String(name))
	m.Set("type", model.String("trojan"))
	m.Set("server", model.String(server))
	m.Set("port", model.Int(int64(port)))
	m.Set("password", model.String(password))

	q := u.Query()
	if sni := first(q, "sni", "peer"); sni != "" {
		m.Set("sni", model.String(sni))
	}
	if alpn := q.Get("alpn"); alpn != "" {
		var items []string
		for _, a := range strings.Split(alpn, ",") {
			if a = strings.TrimSpace(a); a != "" {
				items = append(items, a)
			}
		}
		if len(items) > 0 {
			m.Set("alpn", model.Strings(items))
		}
	}
	if ai := q.Get("allowInsecure"); ai == "1" || strings.EqualFold(ai, "true") {
		m.Set("skip-cert-verify", model.Bool(true))
	}
	if network := strings.TrimSpace(q.Get("type")); network != "" {
		m.Set("network", model.String(network))
		if strings.EqualFold(network, "ws") {
			ws := model.NewMapping()
			if q.Has("path") {
				ws.Set("path", model.String(q.Get("path")))
			}
			if host := first(q, "host", "hostHeader"); host != "" {
				headers := model.NewMapping()
				headers.Set("Host", model.String(host))
				ws.Set("headers", model.Map(headers))
			}
			if ws.Len() > 0 {
				m.Set("ws-opts", model.Map(ws))
			}
		}
	}
	return model.Map(m), nil
}

func first(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := q.Get(k); v != "" {
			return v
		}
	}
	return ""
}
