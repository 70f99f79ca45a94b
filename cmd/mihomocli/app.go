package main

import (
	"io"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/John-Robertt/mihomocli/internal/cache"
	"github.com/John-Robertt/mihomocli/internal/config"
	"github.com/John-Robertt/mihomocli/internal/fetch"
	"github.com/John-Robertt/mihomocli/internal/logging"
	"github.com/John-Robertt/mihomocli/internal/pipeline"
	"github.com/John-Robertt/mihomocli/internal/rules"
	"github.com/John-Robertt/mihomocli/internal/store"
)

// app is the state shared by every command: resolved directories, merged
// settings and the logger.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configDir string
	cacheDir  string
	envFile   string

	bindings []binding

	paths     store.Paths
	v         *viper.Viper
	settings  *config.Settings
	log       zerolog.Logger
	logCloser io.Closer
}

// binding ties a flag name to a settings key. It applies to whichever
// running command defines the flag.
type binding struct {
	flag string
	key  string
}

func (a *app) bind(flag, key string) {
	a.bindings = append(a.bindings, binding{flag: flag, key: key})
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:          "mihomocli",
		Short:        "Merge Mihomo subscriptions with a template",
		Long:         "Generate Mihomo/Clash configuration files by combining a template with one or more subscriptions.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logCloser != nil {
				_ = a.logCloser.Close()
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configDir, "config-dir", "", "配置目录（默认 ~/.config/mihomocli）")
	pf.StringVar(&a.cacheDir, "cache-dir", "", "缓存目录（默认 ~/.cache/mihomocli）")
	pf.StringVar(&a.envFile, "env-file", "", "额外加载的 .env 文件")
	pf.String("log-level", "", "日志级别 debug|info|warn|error")
	a.bind("log-level", "log.level")

	root.AddCommand(
		newMergeCmd(a),
		newManageCmd(a),
		newInitCmd(a),
		newServeCmd(a),
		newHealthcheckCmd(a),
	)

	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	if a.configDir == "" || a.cacheDir == "" {
		def, err := store.DefaultPaths()
		if err != nil {
			return err
		}
		if a.configDir == "" {
			a.configDir = def.ConfigDir
		}
		if a.cacheDir == "" {
			a.cacheDir = def.CacheDir
		}
	}
	a.paths = store.Paths{ConfigDir: a.configDir, CacheDir: a.cacheDir}

	envFiles := []string{".env", filepath.Join(a.paths.ConfigDir, ".env")}
	if a.envFile != "" {
		envFiles = append([]string{a.envFile}, envFiles...)
	}
	v, err := config.New(a.paths.SettingsFile(), envFiles...)
	if err != nil {
		return err
	}
	for _, b := range a.bindings {
		f := cmd.Flags().Lookup(b.flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(b.key, f); err != nil {
			return err
		}
	}
	settings, err := config.Decode(v)
	if err != nil {
		return err
	}
	a.v = v
	a.settings = settings
	a.log, a.logCloser = logging.New(logging.Options{
		Level:   settings.Log.Level,
		Writers: settings.Log.Writers,
		File:    a.paths.LogFile(),
		Console: a.stderr,
	})
	return nil
}

// openCache returns the configured subscription cache and its release func.
func (a *app) openCache() (cache.Store, func(), error) {
	if a.settings.Cache.Backend == config.CacheBackendSQLite {
		s, err := cache.OpenSQLStore(a.paths.CacheDBPath())
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	return cache.NewDirStore(a.paths.SubscriptionCacheDir()), func() {}, nil
}

func (a *app) pipelineOptions(c cache.Store) pipeline.Options {
	s := a.settings
	return pipeline.Options{
		AllowAlternate: s.AllowAlternate,
		UserAgent:      s.UserAgent,
		DevRules:       rules.DevOptions{Enabled: s.DevRules.Enabled, Via: s.DevRules.Via},
		Cache:          c,
		Fetch:          fetch.Options{Timeout: s.FetchTimeout},
		MaxConcurrency: s.MaxConcurrency,
	}
}
