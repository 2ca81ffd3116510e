package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/rollout"
)

var buildVersion = "dev"

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by commands.
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot() *cobra.Command {
	gf := &GlobalFlags{}

	root := &cobra.Command{
		Use:           "rollout",
		Short:         "Self-updating supervisor for a managed application",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&gf.ConfigPath, "config", "c", "rollout.toml", "path to TOML config file")

	root.AddCommand(newRunCmd(gf))
	root.AddCommand(newStatusCmd(gf))
	root.AddCommand(newCheckConfigCmd(gf))
	root.AddCommand(newVersionCmd())
	return root
}

func newRunCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the managed application and poll for updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rollout.LoadConfig(gf.ConfigPath)
			if err != nil {
				return err
			}
			u, err := rollout.New(c)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return u.Run(ctx)
		},
	}
}

func newCheckConfigCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file and print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rollout.LoadConfig(gf.ConfigPath)
			if err != nil {
				return err
			}
			cmd.Printf("config ok: app_dir=%s versions_dir=%s max_versions=%d poll_interval=%s\n",
				c.AppDir, c.VersionsDir, c.MaxVersions, c.PollInterval)
			cmd.Printf("source: %s/%s branch=%s\n", c.Source.Owner, c.Source.Repo, c.Source.Branch)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the rollout build version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("rollout", buildVersion)
		},
	}
}
