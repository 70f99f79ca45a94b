// Package sub turns a fetched subscription payload into a Document.
package sub

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/mihomocli/internal/model"
	"github.com/John-Robertt/mihomocli/internal/sub/b64"
	"github.com/John-Robertt/mihomocli/internal/sub/ss"
	"github.com/John-Robertt/mihomocli/internal/sub/trojan"
	"github.com/John-Robertt/mihomocli/internal/sub/vmess"
)

type Options struct {
	// AllowAlternate enables the base64 and share-link fallbacks when the
	// payload is not a native configuration document.
	AllowAlternate bool
}

type DecodeError struct {
	AppError model.AppError
	Cause    error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

type linkParser func(line string) (model.Value, error)

var linkParsers = []struct {
	scheme string
	parse  linkParser
}{
	{trojan.Scheme, trojan.ParseURI},
	{vmess.Scheme, vmess.ParseURI},
	{ss.Scheme, ss.ParseURI},
}

// Decode interprets data as a native configuration document. When that fails
// and opt.AllowAlternate is set it tries, in order: base64 wrapping a native
// document, base64 wrapping a share-link list, and a plain share-link list.
// Share-link results carry proxies only.
//
// Lines that fail to parse become warnings; unknown schemes are skipped
// silently. A *DecodeError means the source contributes nothing.
func Decode(source string, data []byte, opt Options) (*model.Document, []model.Warning, error) {
	doc, nativeErr := model.ParseDocument("parse_sub", source, data)
	if nativeErr == nil {
		return doc, nil, nil
	}
	if !opt.AllowAlternate {
		return nil, nil, &DecodeError{
			AppError: model.AppError{
				Code:    "SUB_PARSE_ERROR",
				Message: "订阅内容不是合法的配置文档",
				Stage:   "parse_sub",
				URL:     source,
				Snippet: model.TruncateSnippet(string(data), 200),
				Hint:    "enable allow_alternate to accept base64 or share-link subscriptions",
			},
			Cause: nativeErr,
		}
	}

	text := strings.TrimSpace(b64.StripBOM(string(data)))
	if decoded, ok := b64.DecodeText(text); ok && looksLikeContent(decoded) {
		if doc, err := model.ParseDocument("parse_sub", source, []byte(decoded)); err == nil {
			return doc, nil, nil
		}
		if doc, warns := decodeLinks(source, decoded); doc != nil {
			return doc, warns, nil
		}
	}
	doc, warns := decodeLinks(source, text)
	if doc != nil {
		return doc, warns, nil
	}
	return nil, warns, &DecodeError{
		AppError: model.AppError{
			Code:    "SUB_NO_PROXIES",
			Message: "订阅中没有任何可用节点",
			Stage:   "parse_sub",
			URL:     source,
			Snippet: model.TruncateSnippet(text, 200),
		},
		Cause: nativeErr,
	}
}

// looksLikeContent filters out accidental base64 matches: plain words such as
// "abcd" decode cleanly but never to a mapping or a link list.
func looksLikeContent(s string) bool {
	return strings.Contains(s, "://") || strings.Contains(s, ":")
}

func decodeLinks(source, text string) (*model.Document, []model.Warning) {
	var warns []model.Warning
	var proxies []model.Value
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parse := parserFor(line)
		if parse == nil {
			continue
		}
		v, err := parse(line)
		if err != nil {
			warns = append(warns, lineWarning(source, i+1, line, err))
			continue
		}
		proxies = append(proxies, v)
	}
	if len(proxies) == 0 {
		return nil, warns
	}
	doc := model.NewDocument()
	doc.Proxies = proxies
	return doc, warns
}

func parserFor(line string) linkParser {
	lower := strings.ToLower(line)
	for _, p := range linkParsers {
		if strings.HasPrefix(lower, p.scheme) {
			return p.parse
		}
	}
	return nil
}

func lineWarning(source string, lineNo int, line string, err error) model.Warning {
	w := model.Warning{
		Code:    "SUB_LINK_SKIPPED",
		Message: err.Error(),
		Stage:   "parse_sub",
		Snippet: model.TruncateSnippet(line, 200),
	}
	var app *model.AppError
	switch e := err.(type) {
	case *ss.ParseError:
		app = &e.AppError
	case *vmess.ParseError:
		app = &e.AppError
	case *trojan.ParseError:
		app = &e.AppError
	}
	if app != nil {
		w.Message = app.Message
		w.Hint = app.Hint
	}
	w.URL = source
	w.Line = lineNo
	return w
}
