package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"rhythmd/internal/bus"
	"rhythmd/internal/logging"
	"rhythmd/internal/viewer"
)

func newWatchCmd() *cobra.Command {
	var noBus bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live rhythm view; keeps rhythmd in fast batching mode while open",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.New("watch needs a terminal; use 'rhythmctl status' for scripts")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := withTimeout(10 * time.Second)
			st, err := openReader(ctx, cfg)
			cancel()
			if err != nil {
				return err
			}
			defer st.Close()

			var b bus.Bus
			if !noBus && cfg.Bus.Type != "memory" {
				b, err = bus.Open(cfg.Bus.Type, logging.Discard())
				if err != nil {
					fmt.Fprintf(os.Stderr, "signal bus unavailable, polling only: %v\n", err)
					b = nil
				} else {
					defer b.Close()
				}
			}

			opts := reportOptions(cfg)
			m := viewer.NewModel(viewer.Config{
				Load: func(ctx context.Context) (viewer.Report, error) {
					return viewer.Build(ctx, st, opts, time.Now())
				},
				Bus:       b,
				Refresh:   time.Duration(cfg.Viewer.RefreshMs) * time.Millisecond,
				Heartbeat: time.Duration(cfg.Viewer.HeartbeatMs) * time.Millisecond,
				Styles:    viewer.NewStyles(os.Stdout),
			})
			defer m.Close()

			_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().BoolVar(&noBus, "no-bus", false, "poll only; do not send heartbeats")
	return cmd
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Send one viewerActive heartbeat to the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Bus.Type == "memory" {
				return errors.New("the memory bus is in-process only; ping needs bus.type = \"dbus\"")
			}

			b, err := bus.Open(cfg.Bus.Type, logging.Discard())
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.Emit(bus.ViewerActive); err != nil {
				return fmt.Errorf("emit %s: %w", bus.ViewerActive, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", bus.ViewerActive)
			return nil
		},
	}
}
