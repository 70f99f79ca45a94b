// Package pipeline runs one merge: fetch every enabled subscription, decode
// it, fold the results into the template, overlay the base config and inject
// the generated rules.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/John-Robertt/mihomocli/internal/cache"
	"github.com/John-Robertt/mihomocli/internal/fetch"
	"github.com/John-Robertt/mihomocli/internal/merge"
	"github.com/John-Robertt/mihomocli/internal/model"
	"github.com/John-Robertt/mihomocli/internal/rules"
	"github.com/John-Robertt/mihomocli/internal/source"
	"github.com/John-Robertt/mihomocli/internal/store"
	"github.com/John-Robertt/mihomocli/internal/sub"
)

const DefaultMaxConcurrency = 4

type Error struct {
	AppError model.AppError
	Cause    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

type Input struct {
	// Template is required.
	Template *model.Document
	// Base is optional.
	Base *model.Document
	// Subscriptions are resolved in place: validators and last_updated are
	// updated on the records so the caller can persist them.
	Subscriptions []*store.Subscription
	CustomRules   []store.CustomRule
}

type Options struct {
	AllowAlternate bool
	UserAgent      string

	DevRules         rules.DevOptions
	FakeIPBypass     []string
	FakeIPFilterAdd  []string
	FakeIPFilterMode string
	Controller       rules.Controller
	K8sCIDRExclude   []string

	// Cache is optional; nil disables caching of remote subscriptions.
	Cache          cache.Store
	Fetch          fetch.Options
	MaxConcurrency int
}

type Result struct {
	Document *model.Document
	Warnings []model.Warning

	DevRules []string
	DevVia   string
	// UsedURL is the last remote subscription that contributed to the
	// document, empty when none did.
	UsedURL string

	Report  *rules.Report
	Sources []SourceStatus
}

// SourceStatus summarizes how one subscription resolved.
type SourceStatus struct {
	Name      string
	Source    string
	Proxies   int
	FromCache bool
	Failed    bool
}

type slot struct {
	doc      *model.Document
	status   SourceStatus
	warnings []model.Warning
}

// Run executes the pipeline. Per-subscription failures become warnings; only
// a missing template or a cancelled context is fatal.
func Run(ctx context.Context, in Input, opt Options) (*Result, error) {
	if in.Template == nil {
		return nil, &Error{AppError: model.AppError{
			Code:    "TEMPLATE_MISSING",
			Message: "缺少模板",
			Stage:   "parse_template",
		}}
	}

	fetcher := source.New(opt.Cache, source.Options{UserAgent: opt.UserAgent, Fetch: opt.Fetch})
	limit := opt.MaxConcurrency
	if limit <= 0 {
		limit = DefaultMaxConcurrency
	}

	slots := make([]slot, len(in.Subscriptions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, s := range in.Subscriptions {
		if s == nil || !s.Enabled {
			continue
		}
		i, s := i, s
		g.Go(func() error {
			slots[i] = resolve(gctx, fetcher, s, opt.AllowAlternate)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, &Error{
			AppError: model.AppError{Code: "CANCELLED", Message: "合并已取消", Stage: "merge"},
			Cause:    err,
		}
	}

	res := &Result{}
	var docs []*model.Document
	for i, sl := range slots {
		if in.Subscriptions[i] == nil || !in.Subscriptions[i].Enabled {
			continue
		}
		res.Warnings = append(res.Warnings, sl.warnings...)
		res.Sources = append(res.Sources, sl.status)
		if sl.doc == nil {
			continue
		}
		docs = append(docs, sl.doc)
		if u := in.Subscriptions[i].URL; u != "" {
			res.UsedURL = u
		}
	}

	doc := merge.Merge(in.Template, docs)
	doc = merge.Overlay(doc, in.Base)

	rep, warnings := rules.Apply(doc, rules.Options{
		Dev:              opt.DevRules,
		CustomRules:      in.CustomRules,
		Controller:       opt.Controller,
		FakeIPBypass:     opt.FakeIPBypass,
		FakeIPFilterAdd:  opt.FakeIPFilterAdd,
		FakeIPFilterMode: opt.FakeIPFilterMode,
		K8sCIDRExclude:   opt.K8sCIDRExclude,
	})
	res.Warnings = append(res.Warnings, warnings...)
	res.Document = doc
	res.Report = rep
	res.DevRules = rep.DevRules
	res.DevVia = rep.DevVia
	return res, nil
}

func resolve(ctx context.Context, f *source.Fetcher, s *store.Subscription, allowAlternate bool) slot {
	out := slot{status: SourceStatus{Name: s.Name, Source: s.Source()}}
	fetched, err := f.Fetch(ctx, s)
	if err != nil {
		out.status.Failed = true
		out.warnings = append(out.warnings, warningOf(err, s))
		return out
	}
	out.warnings = append(out.warnings, fetched.Warnings...)
	out.status.FromCache = fetched.FromCache

	doc, warns, err := sub.Decode(s.Source(), fetched.Body, sub.Options{AllowAlternate: allowAlternate})
	out.warnings = append(out.warnings, warns...)
	if err != nil {
		out.status.Failed = true
		out.warnings = append(out.warnings, warningOf(err, s))
		return out
	}
	out.doc = doc
	out.status.Proxies = len(doc.Proxies)
	return out
}

// warningOf turns a soft failure into a warning, keeping the structured
// fields when the error carries them.
func warningOf(err error, s *store.Subscription) model.Warning {
	var se *source.Error
	if errors.As(err, &se) {
		return se.AppError
	}
	var de *sub.DecodeError
	if errors.As(err, &de) {
		return de.AppError
	}
	var doc *model.DocumentError
	if errors.As(err, &doc) {
		return doc.AppError
	}
	return model.Warning{
		Code:    "SUB_FAILED",
		Message: err.Error(),
		Stage:   "fetch_sub",
		URL:     s.Source(),
	}
}
