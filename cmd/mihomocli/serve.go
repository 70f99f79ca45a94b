package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/mihomocli/internal/httpapi"
)

type serveFlags struct {
	template          string
	baseConfig        string
	readHeaderTimeout time.Duration
	runTimeout        time.Duration
	shutdownTimeout   time.Duration
}

func newServeCmd(a *app) *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the merged config over HTTP",
		Long: `Serve GET /config (the persisted subscription list merged into the template),
GET /healthz and GET /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a, f)
		},
	}
	fl := cmd.Flags()
	fl.String("listen", "", "HTTP 监听地址（默认 127.0.0.1:25500）")
	fl.StringVar(&f.template, "template", "", "模板文件路径（默认内置模板）")
	fl.StringVar(&f.baseConfig, "base-config", "", "基础配置路径")
	fl.Bool("dev-rules", true, "默认是否插入开发者规则（?dev_rules= 可覆盖）")
	fl.DurationVar(&f.readHeaderTimeout, "read-header-timeout", 5*time.Second, "HTTP ReadHeaderTimeout（请求头读取超时）")
	fl.DurationVar(&f.runTimeout, "run-timeout", 60*time.Second, "单次合并的总超时（包含远程拉取）")
	fl.DurationVar(&f.shutdownTimeout, "shutdown-timeout", 10*time.Second, "收到退出信号后的优雅退出等待时间")
	a.bind("listen", "serve.listen")
	a.bind("dev-rules", "dev_rules.enabled")
	return cmd
}

func runServe(ctx context.Context, a *app, f *serveFlags) error {
	if err := a.paths.EnsureRuntimeDirs(); err != nil {
		return err
	}
	c, release, err := a.openCache()
	if err != nil {
		return err
	}
	defer release()

	listen := a.settings.Serve.Listen
	srv := &http.Server{
		Addr: listen,
		Handler: httpapi.NewHandler(httpapi.Options{
			Paths:        a.paths,
			TemplatePath: f.template,
			BasePath:     f.baseConfig,
			Pipeline:     a.pipelineOptions(c),
			RunTimeout:   f.runTimeout,
			Logger:       &a.log,
		}),
		ReadHeaderTimeout: f.readHeaderTimeout,
	}

	a.log.Info().Str("addr", "http://"+listen).Msg("listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		a.log.Info().Msg("shutdown signal received")

		shCtx, cancel := context.WithTimeout(context.Background(), f.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			a.log.Warn().Err(err).Msg("graceful shutdown failed")
			_ = srv.Close()
		}

		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func newHealthcheckCmd(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe /healthz of a running serve instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := deriveHealthzURL(a.settings.Serve.Listen)
			if err != nil {
				return err
			}
			if err := runHealthcheck(u, timeout); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "ok")
			return nil
		},
	}
	cmd.Flags().String("listen", "", "serve 的监听地址（默认 serve.listen）")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "探测超时")
	return cmd
}

// deriveHealthzURL turns a listen address into a loopback /healthz URL.
// Wildcard hosts are probed on 127.0.0.1.
func deriveHealthzURL(listen string) (string, error) {
	s := strings.TrimSpace(listen)
	if s == "" {
		return "", errors.New("listen address is empty")
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", err
		}
		s = u.Host
	}
	if !strings.Contains(s, ":") {
		s = ":" + s
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return "", err
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/healthz", nil
}

func runHealthcheck(u string, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
