package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/John-Robertt/mihomocli/internal/logging"
	"github.com/John-Robertt/mihomocli/internal/model"
	"github.com/John-Robertt/mihomocli/internal/pipeline"
	"github.com/John-Robertt/mihomocli/internal/store"
)

type server struct {
	opt     Options
	metrics *metricsSet

	// mu serializes runs: each one rewrites the persisted subscription list.
	mu sync.Mutex
}

// handleConfig merges the persisted subscription list into the template and
// returns the resulting YAML. ?dev_rules=true|false overrides the default.
func (s *server) handleConfig(w http.ResponseWriter, r *http.Request) {
	popt := s.opt.Pipeline
	if raw := r.URL.Query().Get("dev_rules"); raw != "" {
		on, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeErrorFromErr(w, requestError("INVALID_ARGUMENT", "dev_rules 必须是布尔值", "true|false"))
			return
		}
		popt.DevRules.Enabled = on
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opt.RunTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.run(ctx, popt)
	s.metrics.mergeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.mergeRuns.WithLabelValues("error").Inc()
		s.writeErrorFromErr(w, err)
		return
	}
	s.metrics.mergeRuns.WithLabelValues("ok").Inc()
	s.metrics.mergedProxies.Set(float64(len(res.Document.Proxies)))
	for _, warn := range res.Warnings {
		s.metrics.mergeWarnings.WithLabelValues(labelOrUnknown(warn.Code)).Inc()
	}
	logging.Warnings(*s.opt.Logger, res.Warnings)

	body, err := res.Document.MarshalYAML()
	if err != nil {
		s.writeErrorFromErr(w, &pipeline.Error{
			AppError: model.AppError{Code: "OUTPUT_ENCODE_ERROR", Message: "序列化配置失败", Stage: "output"},
			Cause:    err,
		})
		return
	}
	w.Header().Set("X-Mihomocli-Warnings", strconv.Itoa(len(res.Warnings)))
	WriteYAML(w, http.StatusOK, body)
}

func (s *server) run(ctx context.Context, popt pipeline.Options) (*pipeline.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := s.opt.Paths
	list, err := store.LoadSubscriptionList(paths.SubscriptionsFile())
	if err != nil {
		return nil, err
	}
	state, err := store.LoadAppState(paths.AppStateFile())
	if err != nil {
		return nil, err
	}
	tpl, err := pipeline.LoadTemplate(paths.ResolveTemplatePath(s.opt.TemplatePath))
	if err != nil {
		return nil, err
	}
	var base *model.Document
	if p, ok := paths.ResolveBasePath(s.opt.BasePath); ok {
		if base, err = pipeline.LoadBase(p); err != nil {
			return nil, err
		}
	}

	res, err := pipeline.Run(ctx, pipeline.Input{
		Template:      tpl,
		Base:          base,
		Subscriptions: list.Enabled(),
		CustomRules:   state.CustomRules,
	}, popt)
	if err != nil {
		return nil, err
	}

	if len(list.Items) > 0 {
		if err := store.SaveSubscriptionList(paths.SubscriptionsFile(), list); err != nil {
			s.opt.Logger.Warn().Err(err).Msg("persist subscription list")
		}
	}
	return res, nil
}
