package store

import (
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type SubscriptionKind string

const (
	KindClash SubscriptionKind = "clash"
	// Reserved; rejected at fetch time.
	KindMerge  SubscriptionKind = "merge"
	KindScript SubscriptionKind = "script"
)

// Subscription is one configured source: a remote URL or a local path.
type Subscription struct {
	ID           string           `yaml:"id"`
	Name         string           `yaml:"name"`
	URL          string           `yaml:"url,omitempty"`
	Path         string           `yaml:"path,omitempty"`
	LastUpdated  *time.Time       `yaml:"last_updated,omitempty"`
	ETag         string           `yaml:"etag,omitempty"`
	LastModified string           `yaml:"last_modified,omitempty"`
	Kind         SubscriptionKind `yaml:"kind,omitempty"`
	Enabled      bool             `yaml:"enabled"`
}

// UnmarshalYAML applies the defaults for fields absent from the file:
// kind "clash" and enabled true.
func (s *Subscription) UnmarshalYAML(n *yaml.Node) error {
	type plain Subscription
	p := plain{Kind: KindClash, Enabled: true}
	if err := n.Decode(&p); err != nil {
		return err
	}
	*s = Subscription(p)
	return nil
}

// EnsureID derives a stable id from the URL, else the path, else a random UUID.
func (s *Subscription) EnsureID() {
	if s.ID != "" {
		return
	}
	switch {
	case s.URL != "":
		s.ID = s.URL
	case s.Path != "":
		s.ID = s.Path
	default:
		s.ID = uuid.NewString()
	}
}

// Source is the URL or path the subscription reads from.
func (s *Subscription) Source() string {
	if s.URL != "" {
		return s.URL
	}
	return s.Path
}

func (s *Subscription) EffectiveKind() SubscriptionKind {
	if s.Kind == "" {
		return KindClash
	}
	return s.Kind
}

// IsURL reports whether input names a remote http(s) source.
func IsURL(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}

// FromInput builds an ad-hoc subscription for a command-line source. URLs are
// named after their host, files after their stem; index only seeds the
// fallback name.
func FromInput(index int, input string) Subscription {
	s := Subscription{
		Name:    "cli-" + strconv.Itoa(index),
		Kind:    KindClash,
		Enabled: true,
	}
	if IsURL(input) {
		s.URL = input
		if u, err := url.Parse(input); err == nil && u.Host != "" {
			s.Name = u.Host
		}
	} else {
		s.Path = input
		base := filepath.Base(input)
		if stem := strings.TrimSuffix(base, filepath.Ext(base)); stem != "" && stem != "." {
			s.Name = stem
		}
	}
	s.EnsureID()
	return s
}

// SubscriptionList is the persisted list with its "current" pointer.
type SubscriptionList struct {
	Current string         `yaml:"current,omitempty"`
	Items   []Subscription `yaml:"items"`
}

// Enabled returns pointers into Items for every enabled subscription, in order.
func (l *SubscriptionList) Enabled() []*Subscription {
	var out []*Subscription
	for i := range l.Items {
		if l.Items[i].Enabled {
			out = append(out, &l.Items[i])
		}
	}
	return out
}

// LoadSubscriptionList reads path; a missing file yields an empty list.
func LoadSubscriptionList(path string) (*SubscriptionList, error) {
	list := &SubscriptionList{}
	if _, err := loadYAML(path, list); err != nil {
		return nil, err
	}
	for i := range list.Items {
		list.Items[i].EnsureID()
	}
	return list, nil
}

func SaveSubscriptionList(path string, list *SubscriptionList) error {
	if list.Items == nil {
		list.Items = []Subscription{}
	}
	return saveYAML(path, list)
}
