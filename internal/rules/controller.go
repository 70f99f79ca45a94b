package rules

import (
	"net"
	"strconv"
	"strings"

	"github.com/John-Robertt/mihomocli/internal/model"
)

const (
	keyExternalController = "external-controller"
	keySecret             = "secret"

	DefaultControllerHost = "127.0.0.1"
	DefaultControllerPort = 9090
)

// Controller overrides the external-controller address and secret. Zero
// fields keep what the document already has.
type Controller struct {
	Host   string
	Port   int
	Secret *string
}

func (c Controller) IsZero() bool {
	return c.Host == "" && c.Port == 0 && c.Secret == nil
}

// ApplyController writes external-controller as host:port, taking each part
// from c, else from the current value, else the defaults.
func ApplyController(doc *model.Document, c Controller) {
	if c.IsZero() {
		return
	}
	host, port := DefaultControllerHost, DefaultControllerPort
	if cur, ok := doc.Extra.GetString(keyExternalController); ok {
		if h, p, ok := ParseHostPort(cur); ok {
			host, port = h, p
		}
	}
	if c.Host != "" {
		host = c.Host
	}
	if c.Port != 0 {
		port = c.Port
	}
	_ = doc.SetExtra(keyExternalController, model.String(net.JoinHostPort(host, strconv.Itoa(port))))
	if c.Secret != nil {
		_ = doc.SetExtra(keySecret, model.String(*c.Secret))
	}
}

// ParseHostPort splits "host:port" or "[v6]:port". Unbracketed input splits
// on the last colon.
func ParseHostPort(s string) (string, int, bool) {
	if strings.Contains(s, "]") {
		open := strings.Index(s, "[")
		closing := strings.LastIndex(s, "]")
		if open < 0 || closing < open || closing+1 >= len(s) || s[closing+1] != ':' {
			return "", 0, false
		}
		port, ok := parsePort(s[closing+2:])
		if !ok {
			return "", 0, false
		}
		return s[open+1 : closing], port, true
	}
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "", 0, false
	}
	port, ok := parsePort(s[i+1:])
	if !ok {
		return "", 0, false
	}
	return s[:i], port, true
}

func parsePort(s string) (int, bool) {
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, false
	}
	return int(p), true
}
