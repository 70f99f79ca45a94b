package render

import (
	"fmt"
	"io"
	"strconv"

	"github.com/John-Robertt/mihomocli/internal/model"
)

// Summary is what a dry run reports instead of writing the config.
type Summary struct {
	Proxies int
	Groups  int
	Rules   int

	FakeIPMode      string // empty when unset
	FakeIPRequested int
	FakeIPTotal     int // -1 when the filter list is absent

	DevEnabled bool
	DevVia     string
	DevAdded   int

	Controller string // empty when unset
	SecretSet  bool

	OutputPath string
}

// SummaryInput carries what the document itself cannot tell.
type SummaryInput struct {
	FakeIPRequested int
	DevEnabled      bool
	DevVia          string
	DevAdded        int
	OutputPath      string
}

// BuildSummary inspects doc for the counts and DNS/controller settings.
func BuildSummary(doc *model.Document, in SummaryInput) Summary {
	s := Summary{
		Proxies:         len(doc.ProxyNames()),
		Groups:          len(doc.GroupNames()),
		Rules:           len(doc.Rules),
		FakeIPRequested: in.FakeIPRequested,
		FakeIPTotal:     -1,
		DevEnabled:      in.DevEnabled,
		OutputPath:      in.OutputPath,
	}
	if in.DevEnabled {
		s.DevVia = in.DevVia
		s.DevAdded = in.DevAdded
	}
	if v, ok := doc.Extra.Get("dns"); ok {
		if dns, ok := v.AsMapping(); ok {
			s.FakeIPMode, _ = dns.GetString("fake-ip-filter-mode")
			if f, ok := dns.Get("fake-ip-filter"); ok {
				if seq, ok := f.AsSequence(); ok {
					s.FakeIPTotal = len(seq)
				}
			}
		}
	}
	s.Controller, _ = doc.Extra.GetString("external-controller")
	_, s.SecretSet = doc.Extra.GetString("secret")
	return s
}

// WriteSummary prints s in the dry-run layout.
func WriteSummary(w io.Writer, s Summary) error {
	total := "<unknown>"
	if s.FakeIPTotal >= 0 {
		total = strconv.Itoa(s.FakeIPTotal)
	}
	secret := "unset"
	if s.SecretSet {
		secret = "set"
	}
	_, err := fmt.Fprintf(w, "dry-run summary:\n"+
		"- proxies: %d, groups: %d, rules: %d\n"+
		"- fake-ip: mode=%s, filter+=%d (requested), total=%s\n"+
		"- dev-rules: enabled=%t, via=%s, added=%d\n"+
		"- external-controller: %s, secret=%s\n"+
		"- output: would write to %s (suppressed by --dry-run)\n",
		s.Proxies, s.Groups, s.Rules,
		orDefault(s.FakeIPMode, "<none>"), s.FakeIPRequested, total,
		s.DevEnabled, orDefault(s.DevVia, "<n/a>"), s.DevAdded,
		orDefault(s.Controller, "<unset>"), secret,
		s.OutputPath,
	)
	return err
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
