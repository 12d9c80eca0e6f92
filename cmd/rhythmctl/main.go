// rhythmctl is the viewer and control CLI for rhythmd.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rhythmd/internal/config"
	"rhythmd/internal/daemon"
	"rhythmd/internal/store"
	"rhythmd/internal/viewer"
)

var (
	configPath string
	driver     string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "rhythmctl",
		Short:        "View typing rhythm captured by rhythmd",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: platform config dir)")
	rootCmd.PersistentFlags().StringVar(&driver, "driver", "", "store driver override (sqlite, sqlite3, postgres)")

	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newPingCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if driver != "" {
		cfg.Storage.Driver = driver
	}
	return cfg, nil
}

// openReader opens the store read-only. The daemon's cgo sqlite file is read
// through the pure-Go driver; both speak the same file format.
func openReader(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	rc := cfg.Clone()
	if rc.Storage.Driver == store.DriverSQLite3 && driver == "" {
		rc.Storage.Driver = store.DriverSQLite
	}
	st, err := daemon.OpenStore(ctx, rc, true)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func reportOptions(cfg *config.Config) viewer.Options {
	opts := viewer.DefaultOptions()
	opts.Window = cfg.Analysis.WindowSamples
	opts.MaxFlight = cfg.Analysis.MaxFlightSec
	if cfg.Viewer.TopApps > 0 {
		opts.TopApps = cfg.Viewer.TopApps
	}
	return opts
}

// daemonPID returns the pid recorded by a running rhythmd, or 0.
func daemonPID() int {
	data, err := os.ReadFile(filepath.Join(config.DataDir(), "rhythmd.pid"))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return 0
	}
	// On Unix, FindProcess always succeeds. Signal 0 checks existence.
	if process.Signal(syscall.Signal(0)) != nil {
		return 0
	}
	return pid
}

func newConfigCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg, format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "toml", "output format (toml, yaml, json)")
	return cmd
}

func withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
