// Package render formats command output: listings and the dry-run summary.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/mihomocli/internal/model"
)

type Format string

const (
	FormatPlain Format = "plain"
	FormatYAML  Format = "yaml"
	FormatJSON  Format = "json"
)

type RenderError struct {
	AppError model.AppError
	Cause    error
}

func (e *RenderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *RenderError) Unwrap() error { return e.Cause }

// ParseFormat accepts plain, yaml or json. Anything else is plain.
func ParseFormat(s string) Format {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatYAML:
		return FormatYAML
	case FormatJSON:
		return FormatJSON
	default:
		return FormatPlain
	}
}

// List writes items one per line, as a YAML sequence or as an indented JSON
// array.
func List(w io.Writer, format Format, items []string) error {
	if items == nil {
		items = []string{}
	}
	var out []byte
	var err error
	switch format {
	case FormatJSON:
		out, err = json.MarshalIndent(items, "", "  ")
		out = append(out, '\n')
	case FormatYAML:
		out, err = yaml.Marshal(items)
	default:
		var b strings.Builder
		for _, it := range items {
			b.WriteString(it)
			b.WriteByte('\n')
		}
		out = []byte(b.String())
	}
	if err != nil {
		return &RenderError{
			AppError: model.AppError{Code: "RENDER_ERROR", Message: "序列化列表失败", Stage: "render"},
			Cause:    err,
		}
	}
	_, err = w.Write(out)
	return err
}
