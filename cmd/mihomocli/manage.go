package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/mihomocli/internal/model"
	"github.com/John-Robertt/mihomocli/internal/render"
	"github.com/John-Robertt/mihomocli/internal/rules"
	"github.com/John-Robertt/mihomocli/internal/store"
)

func newManageCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manage",
		Short: "Show or manage cached state and quick rules",
	}
	cmd.AddCommand(newCacheCmd(a), newCustomCmd(a), newCheckCmd(a), newDevListCmd(a))
	return cmd
}

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Show or clear the cached last subscription URL and subscription payloads",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show the cached last subscription URL and cached payloads",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				state, err := store.LoadAppState(a.paths.AppStateFile())
				if err != nil {
					return err
				}
				c, release, err := a.openCache()
				if err != nil {
					return err
				}
				defer release()
				entries, err := c.List(cmd.Context())
				if err != nil {
					return err
				}
				return render.WriteCacheState(a.stdout, state.LastSubscriptionURL, entries, time.Now())
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Clear the cached last subscription URL and cached payloads",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				state, err := store.LoadAppState(a.paths.AppStateFile())
				if err != nil {
					return err
				}
				state.LastSubscriptionURL = ""
				if err := store.SaveAppState(a.paths.AppStateFile(), state); err != nil {
					return err
				}
				c, release, err := a.openCache()
				if err != nil {
					return err
				}
				defer release()
				if err := c.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, "cleared last-subscription-url")
				return nil
			},
		},
	)
	return cmd
}

func newCustomCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "custom",
		Short: "Manage quick custom rules that force domains via a specific policy",
	}

	var domain, via, kind string
	add := &cobra.Command{
		Use:     "add",
		Short:   "Add a custom rule",
		Example: "  mihomocli manage custom add --domain cache.nixos.org --kind suffix --via proxy",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := store.ParseRuleKind(kind)
			if err != nil {
				return err
			}
			return updateState(a, func(st *store.AppState) (bool, error) {
				if st.AddCustomRule(store.CustomRule{Domain: domain, Kind: k, Via: via}) {
					fmt.Fprintln(a.stdout, "custom rule added")
					return true, nil
				}
				fmt.Fprintln(a.stdout, "custom rule already exists")
				return false, nil
			})
		},
	}
	add.Flags().StringVar(&domain, "domain", "", "匹配的域名，例如 cache.nixos.org")
	add.Flags().StringVar(&via, "via", "", "策略组/节点名（支持 direct/reject/proxy）")
	add.Flags().StringVar(&kind, "kind", string(store.RuleSuffix), "匹配方式 domain|suffix|keyword")
	_ = add.MarkFlagRequired("domain")
	_ = add.MarkFlagRequired("via")

	list := &cobra.Command{
		Use:   "list",
		Short: "List custom rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.LoadAppState(a.paths.AppStateFile())
			if err != nil {
				return err
			}
			if len(st.CustomRules) == 0 {
				fmt.Fprintln(a.stdout, "<no custom rules>")
				return nil
			}
			return render.List(a.stdout, render.FormatPlain, rules.QuickRules(st.CustomRules))
		},
	}

	var rmDomain, rmVia string
	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove custom rules matching domain (and optionally via)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateState(a, func(st *store.AppState) (bool, error) {
				n := st.RemoveCustomRules(rmDomain, rmVia)
				fmt.Fprintf(a.stdout, "removed %d rule(s)\n", n)
				return n > 0, nil
			})
		},
	}
	remove.Flags().StringVar(&rmDomain, "domain", "", "要删除的域名")
	remove.Flags().StringVar(&rmVia, "via", "", "只删除该策略的规则")
	_ = remove.MarkFlagRequired("domain")

	cmd.AddCommand(add, list, remove)
	return cmd
}

// updateState loads the app state, applies fn and saves when fn reports a
// change.
func updateState(a *app, fn func(*store.AppState) (bool, error)) error {
	if err := os.MkdirAll(a.paths.ConfigDir, 0o755); err != nil {
		return err
	}
	st, err := store.LoadAppState(a.paths.AppStateFile())
	if err != nil {
		return err
	}
	changed, err := fn(st)
	if err != nil || !changed {
		return err
	}
	return store.SaveAppState(a.paths.AppStateFile(), st)
}

func newCheckCmd(a *app) *cobra.Command {
	var domain, configPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether a domain goes via proxy or direct",
		Long: `Check consults custom rules first, then the built-in developer catalog;
anything else goes direct. With --config the rules of that Mihomo config are
walked in order instead and the matching rule is printed.`,
		Example: `  mihomocli manage check --domain github.com
  mihomocli manage check --domain example.com --config ~/.config/mihomocli/output/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				return checkAgainstConfig(a, configPath, domain)
			}
			st, err := store.LoadAppState(a.paths.AppStateFile())
			if err != nil {
				return err
			}
			v := rules.Check(domain, st.CustomRules)
			fmt.Fprintln(a.stdout, v.Route)
			if v.Rule != "" {
				a.log.Debug().Str("rule", v.Rule).Msg("matched")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "要检查的域名，例如 github.com")
	cmd.Flags().StringVar(&configPath, "config", "", "按该配置的规则顺序检查")
	_ = cmd.MarkFlagRequired("domain")
	return cmd
}

func checkAgainstConfig(a *app, path, domain string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	doc, err := model.ParseDocument("check", path, data)
	if err != nil {
		return err
	}
	r, ok := rules.MatchDomain(doc.Rules, domain)
	if !ok {
		return errors.New("no rule matches and the config has no MATCH rule")
	}
	route := rules.RouteProxy
	if r.Action == model.Direct {
		route = rules.RouteDirect
	}
	fmt.Fprintf(a.stdout, "%s\t%s\n", route, r.String())
	return nil
}

func newDevListCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "dev-list",
		Short: "List built-in dev domains",
		Long:  "List the built-in developer/infra domains considered proxy-worthy.",
		Example: `  mihomocli manage dev-list --format yaml
  mihomocli merge --dev-rules-show --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return render.List(a.stdout, render.ParseFormat(format), rules.DevDomains())
		},
	}
	cmd.Flags().StringVar(&format, "format", string(render.FormatPlain), "输出格式 plain|yaml|json")
	return cmd
}
