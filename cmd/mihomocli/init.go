package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the config directory structure and seed the default template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := a.paths
			if err := p.EnsureRuntimeDirs(); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Initialized at: %s\n  - templates: %s\n  - resources: %s\n  - output: %s\n  - cache: %s\n",
				p.ConfigDir, p.TemplatesDir(), p.ResourcesDir(), p.OutputDir(), p.CacheDir)
			return nil
		},
	}
}
