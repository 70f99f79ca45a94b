package model

// AppError is the structured payload shared by errors and warnings across the
// pipeline. Fatal errors wrap it; soft failures and degraded successes are
// surfaced to the caller as Warning values carrying the same fields.
type AppError struct {
	Code    string `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`
	Stage   string `json:"stage" yaml:"stage"`

	URL     string `json:"url,omitempty" yaml:"url,omitempty"`
	Line    int    `json:"line,omitempty" yaml:"line,omitempty"`       // 1-based; 0 means "not set"
	Snippet string `json:"snippet,omitempty" yaml:"snippet,omitempty"` // <= 200 chars
	Hint    string `json:"hint,omitempty" yaml:"hint,omitempty"`
}

// Warning is a non-fatal AppError collected during a run.
type Warning = AppError

type ErrorResponse struct {
	Error AppError `json:"error"`
}

// TruncateSnippet strips line breaks and limits s to max bytes.
func TruncateSnippet(s string, max int) string {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\r' || s[i] == '\n' {
			continue
		}
		b = append(b, s[i])
	}
	if max <= 0 {
		return ""
	}
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max])
}
