package httpapi

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/John-Robertt/mihomocli/internal/pipeline"
	"github.com/John-Robertt/mihomocli/internal/store"
)

// Options controls what GET /config merges and how long it may take.
type Options struct {
	Paths store.Paths

	// TemplatePath and BasePath follow the same resolution as the merge
	// command: empty selects the default template and base-config.yaml.
	TemplatePath string
	BasePath     string

	// Pipeline is the per-run option set. DevRules.Enabled may be
	// overridden per request.
	Pipeline pipeline.Options

	// RunTimeout bounds one merge, fetches included.
	RunTimeout time.Duration

	// Logger receives access logs and merge warnings. Nil discards them.
	Logger *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.RunTimeout <= 0 {
		o.RunTimeout = 60 * time.Second
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	return o
}
