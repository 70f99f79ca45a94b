package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/mihomocli/internal/logging"
	"github.com/John-Robertt/mihomocli/internal/model"
	"github.com/John-Robertt/mihomocli/internal/output"
	"github.com/John-Robertt/mihomocli/internal/pipeline"
	"github.com/John-Robertt/mihomocli/internal/render"
	"github.com/John-Robertt/mihomocli/internal/resources"
	"github.com/John-Robertt/mihomocli/internal/rules"
	"github.com/John-Robertt/mihomocli/internal/store"
)

type mergeFlags struct {
	template          string
	baseConfig        string
	subscriptionsFile string
	sources           []string
	output            string
	stdout            bool
	devRulesShow      bool
	useLast           bool

	controllerHost   string
	controllerPort   int
	controllerSecret string

	fakeIPFilterAdd  []string
	fakeIPFilterMode string
	fakeIPBypass     []string
	k8sCIDRExclude   []string

	dryRun bool
}

func newMergeCmd(a *app) *cobra.Command {
	f := &mergeFlags{}
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge subscriptions with a template",
		Long: `Load subscriptions (from the persisted list and ad-hoc sources), merge them
with a template, overlay the base config and emit a Mihomo config.

Relative --template paths resolve under <config-dir>/templates, relative
--base-config paths under <config-dir>.`,
		Example: `  mihomocli merge -s https://example.com/sub.yaml
  mihomocli merge --use-last --dry-run
  mihomocli merge --stdout -s ./extra.yaml --dev-rules=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(cmd, a, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.template, "template", "", "模板文件路径（默认内置模板）")
	fl.StringVar(&f.baseConfig, "base-config", "", "基础配置路径（默认 <config-dir>/base-config.yaml，存在时生效）")
	fl.StringVar(&f.subscriptionsFile, "subscriptions-file", "", "订阅列表文件（默认 <config-dir>/subscriptions.yaml）")
	fl.StringArrayVarP(&f.sources, "subscription", "s", nil, "额外订阅来源（URL 或本地路径，可重复）")
	fl.StringVarP(&f.output, "output", "o", "", "输出文件路径（默认 <config-dir>/output/config.yaml）")
	fl.BoolVar(&f.stdout, "stdout", false, "输出到 stdout 而不是文件")
	fl.Bool("dev-rules", true, "在规则前插入开发者域名代理规则")
	fl.String("dev-rules-via", rules.DefaultDevVia, "开发者规则使用的策略组/节点")
	fl.BoolVar(&f.devRulesShow, "dev-rules-show", false, "在 stderr 打印开发者规则列表")
	fl.BoolVar(&f.useLast, "use-last", false, "没有任何订阅时复用上次成功的订阅 URL")
	fl.String("subscription-ua", "", "拉取订阅使用的 User-Agent")
	fl.Bool("subscription-allow-base64", false, "允许解码 base64/分享链接订阅")
	fl.StringVar(&f.controllerHost, "external-controller-url", "", "external-controller 主机")
	fl.IntVar(&f.controllerPort, "external-controller-port", 0, "external-controller 端口")
	fl.StringVar(&f.controllerSecret, "external-controller-secret", "", "external-controller secret")
	fl.StringArrayVar(&f.fakeIPFilterAdd, "fake-ip-filter-add", nil, "追加到 dns.fake-ip-filter（可重复）")
	fl.StringVar(&f.fakeIPFilterMode, "fake-ip-filter-mode", "", "dns.fake-ip-filter-mode：blacklist|whitelist")
	fl.StringArrayVar(&f.fakeIPBypass, "fake-ip-bypass", nil, "让域名绕过 fake-ip（强制 blacklist，可重复）")
	fl.StringArrayVar(&f.k8sCIDRExclude, "k8s-cidr-exclude", nil, "追加到 tun.route-exclude-address 的 CIDR（可重复）")
	fl.BoolVar(&f.dryRun, "dry-run", false, "不写输出，只打印摘要")
	cmd.MarkFlagsMutuallyExclusive("stdout", "output")

	a.bind("dev-rules", "dev_rules.enabled")
	a.bind("dev-rules-via", "dev_rules.via")
	a.bind("subscription-ua", "user_agent")
	a.bind("subscription-allow-base64", "allow_alternate")
	return cmd
}

func runMerge(cmd *cobra.Command, a *app, f *mergeFlags) error {
	ctx := cmd.Context()
	paths := a.paths
	if err := paths.EnsureRuntimeDirs(); err != nil {
		return err
	}
	if f.controllerPort < 0 || f.controllerPort > 65535 {
		return fmt.Errorf("--external-controller-port is not a valid port: %d", f.controllerPort)
	}

	for _, st := range resources.Ensure(ctx, resources.Options{
		Dir:       paths.ResourcesDir(),
		Mirrors:   a.settings.Resources.Mirrors,
		UserAgent: a.settings.UserAgent,
		Fetch:     a.pipelineOptions(nil).Fetch,
	}) {
		switch {
		case st.Err != nil:
			a.log.Warn().Err(st.Err).Str("resource", st.Name).Msg("resource unavailable")
		case !st.Skipped:
			a.log.Info().Str("resource", st.Name).Str("url", st.URL).Str("size", st.HumanSize()).Msg("resource downloaded")
		}
	}

	state, err := store.LoadAppState(paths.AppStateFile())
	if err != nil {
		return err
	}
	subsFile := f.subscriptionsFile
	if subsFile == "" {
		subsFile = paths.SubscriptionsFile()
	}
	list, err := store.LoadSubscriptionList(subsFile)
	if err != nil {
		return err
	}

	subs := list.Enabled()
	for i, in := range f.sources {
		s := store.FromInput(i, in)
		subs = append(subs, &s)
	}
	if len(f.sources) == 0 && len(list.Items) == 0 {
		if !f.useLast {
			return errors.New("no subscription provided; pass -s/--subscription or use --use-last to reuse the cached last URL")
		}
		if state.LastSubscriptionURL == "" {
			return errors.New("--use-last set but no cached last subscription URL found; merge once with -s/--subscription first")
		}
		a.log.Info().Str("url", state.LastSubscriptionURL).Msg("using cached last subscription URL")
		s := store.FromInput(0, state.LastSubscriptionURL)
		subs = append(subs, &s)
	}

	tpl, err := pipeline.LoadTemplate(paths.ResolveTemplatePath(f.template))
	if err != nil {
		return err
	}
	var base *model.Document
	if p, ok := paths.ResolveBasePath(f.baseConfig); ok {
		if base, err = pipeline.LoadBase(p); err != nil {
			return err
		}
	}

	c, release, err := a.openCache()
	if err != nil {
		return err
	}
	defer release()

	opt := a.pipelineOptions(c)
	opt.Controller = rules.Controller{Host: f.controllerHost, Port: f.controllerPort}
	if cmd.Flags().Changed("external-controller-secret") {
		secret := f.controllerSecret
		opt.Controller.Secret = &secret
	}
	opt.FakeIPBypass = f.fakeIPBypass
	opt.FakeIPFilterAdd = f.fakeIPFilterAdd
	opt.FakeIPFilterMode = f.fakeIPFilterMode
	opt.K8sCIDRExclude = f.k8sCIDRExclude

	res, err := pipeline.Run(ctx, pipeline.Input{
		Template:      tpl,
		Base:          base,
		Subscriptions: subs,
		CustomRules:   state.CustomRules,
	}, opt)
	if err != nil {
		return err
	}
	logging.Warnings(a.log, res.Warnings)
	for _, s := range res.Sources {
		a.log.Debug().Str("name", s.Name).Str("source", s.Source).Int("proxies", s.Proxies).
			Bool("from_cache", s.FromCache).Bool("failed", s.Failed).Msg("subscription resolved")
	}

	outPath := f.output
	if outPath == "" {
		outPath = paths.OutputConfigPath()
	}

	if f.dryRun {
		err := render.WriteSummary(a.stdout, render.BuildSummary(res.Document, render.SummaryInput{
			FakeIPRequested: len(f.fakeIPBypass),
			DevEnabled:      opt.DevRules.Enabled,
			DevVia:          res.DevVia,
			DevAdded:        res.Report.DevAdded,
			OutputPath:      outPath,
		}))
		a.showDevRules(f, res.DevRules)
		return err
	}

	data, err := res.Document.MarshalYAML()
	if err != nil {
		return err
	}
	var deployer output.Deployer = output.FileDeployer{Path: outPath}
	if f.stdout {
		deployer = output.WriterDeployer{W: a.stdout}
	}
	if err := deployer.Deploy(ctx, data); err != nil {
		return err
	}
	if !f.stdout {
		fmt.Fprintf(a.stdout, "merged config written to %s\n", deployer.Target())
	}
	a.showDevRules(f, res.DevRules)

	if err := store.SaveSubscriptionList(subsFile, list); err != nil {
		return err
	}
	if res.UsedURL != "" {
		state.LastSubscriptionURL = res.UsedURL
		if err := store.SaveAppState(paths.AppStateFile(), state); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) showDevRules(f *mergeFlags, lines []string) {
	if !f.devRulesShow {
		return
	}
	for _, l := range lines {
		fmt.Fprintf(a.stderr, "dev-rule: %s\n", l)
	}
}
