package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"rhythmd/internal/viewer"
)

// statusOutput is the JSON shape of `rhythmctl status --format json`.
type statusOutput struct {
	Daemon struct {
		Running bool `json:"running"`
		PID     int  `json:"pid,omitempty"`
	} `json:"daemon"`
	viewer.Report
}

func newStatusCmd() *cobra.Command {
	var (
		format string
		span   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current rhythm analysis, top apps and recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := withTimeout(10 * time.Second)
			defer cancel()

			st, err := openReader(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			opts := reportOptions(cfg)
			if span > 0 {
				opts.Span = span
			}
			report, err := viewer.Build(ctx, st, opts, time.Now())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "" {
				format = defaultFormat(out)
			}

			var status statusOutput
			status.Report = report
			status.Daemon.PID = daemonPID()
			status.Daemon.Running = status.Daemon.PID > 0

			switch format {
			case "json":
				return writeJSON(out, status)
			case "text":
				return writeText(out, status)
			default:
				return fmt.Errorf("unknown format %q (want text or json)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "output format: text or json (default: text on a terminal, json otherwise)")
	cmd.Flags().DurationVar(&span, "since", 0, "look-back for apps, sessions and hourly activity (default 24h)")
	return cmd
}

// defaultFormat picks text for a terminal and json for pipes.
func defaultFormat(w io.Writer) string {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "text"
	}
	return "json"
}

func writeJSON(w io.Writer, v any) error {
	data, err := sonic.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func writeText(w io.Writer, s statusOutput) error {
	styles := viewer.NewStyles(w)
	if s.Daemon.Running {
		fmt.Fprintf(w, "%s %s\n\n", styles.Label.Render("Daemon"), styles.Value.Render(fmt.Sprintf("running (PID %d)", s.Daemon.PID)))
	} else {
		fmt.Fprintf(w, "%s %s\n\n", styles.Label.Render("Daemon"), styles.Muted.Render("not running"))
	}
	return viewer.Render(w, s.Report, styles)
}
