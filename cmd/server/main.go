package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NicolasHaas/walkie/pkg/logging"
	"github.com/NicolasHaas/walkie/pkg/server"
	"github.com/NicolasHaas/walkie/pkg/store"
	"github.com/NicolasHaas/walkie/pkg/version"
)

type rootFlags struct {
	config    string
	logLevel  string
	logFormat string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "walkie: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f rootFlags

	root := &cobra.Command{
		Use:           "walkie",
		Short:         "Push-to-talk presence and audio relay hub",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, &f)
		},
	}
	root.PersistentFlags().StringVar(&f.config, "config", "", "config file (yaml)")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "log level: "+logging.LevelNames())
	root.PersistentFlags().StringVar(&f.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(serveCmd(&f))
	root.AddCommand(usersCmd(&f))
	root.AddCommand(versionCmd())

	return root
}

// loadConfig reads the config file and environment, then applies the
// logging flags on top and installs the global logger.
func loadConfig(cmd *cobra.Command, f *rootFlags) (server.Config, error) {
	cfg, err := server.LoadConfig(f.config)
	if err != nil {
		return server.Config{}, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = f.logFormat
	}
	cfg.Log.Output = os.Stderr
	if err := logging.Setup(cfg.Log); err != nil {
		return server.Config{}, fmt.Errorf("invalid logging config: %w", err)
	}
	return cfg, nil
}

func openPresence(ctx context.Context, opts store.Options) (*store.Presence, error) {
	backend, err := store.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	p, err := store.NewPresence(ctx, backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return p, nil
}

func serveCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hub (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, f)
		},
	}
}

func runServe(cmd *cobra.Command, f *rootFlags) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	presence, err := openPresence(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open presence store: %w", err)
	}
	slog.Info("presence loaded", "driver", cfg.Store.Driver, "entries", presence.Len())

	srv, err := server.New(cfg, server.Dependencies{Presence: presence})
	if err != nil {
		_ = presence.Close()
		return err
	}
	slog.Info("starting walkie", "version", version.String())
	return srv.Run(ctx)
}

func usersCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the durable presence list",
	}
	cmd.AddCommand(usersExportCmd(f))
	cmd.AddCommand(usersImportCmd(f))
	return cmd
}

func usersExportCmd(f *rootFlags) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the presence list as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			presence, err := openPresence(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer presence.Close()

			b, err := server.ExportUsersYAML(presence, nil)
			if err != nil {
				return fmt.Errorf("export users: %w", err)
			}

			if outPath != "" && outPath != "-" {
				return os.WriteFile(outPath, b, 0o644)
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	return cmd
}

func usersImportCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Merge users from a YAML file into the presence list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read users file: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			presence, err := openPresence(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer presence.Close()

			added, err := server.ImportUsersYAML(ctx, data, presence)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported %d users (%d total)\n", added, presence.Len())
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "walkie %s (commit %s, built %s, %s)\n",
				info.Version, info.Commit, info.Date, info.GoVersion)
			return err
		},
	}
}
