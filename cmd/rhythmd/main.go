// rhythmd - typing rhythm capture daemon
//
// rhythmd observes key and mouse-button events system-wide, measures flight
// and dwell times, and stores them in batches sized to how closely a viewer
// is watching:
//
//	rhythmd run      Run the capture daemon in the foreground
//	rhythmd check    Report input hook and focus availability
//	rhythmd version  Print the version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"rhythmd/internal/bus"
	"rhythmd/internal/config"
	"rhythmd/internal/daemon"
	"rhythmd/internal/focus"
	"rhythmd/internal/health"
	"rhythmd/internal/keystroke"
	"rhythmd/internal/logging"
	"rhythmd/internal/metrics"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "run":
		os.Exit(cmdRun(args))
	case "check":
		os.Exit(cmdCheck(args))
	case "version", "-v", "--version":
		fmt.Printf("rhythmd %s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`rhythmd - Typing Rhythm Capture Daemon

USAGE:
    rhythmd <command> [options]

COMMANDS:
    run                 Run the capture daemon in the foreground
    check               Report input hook and focus availability
    version             Print the version
    help                Show this help message

RUN OPTIONS:
    -config <path>      Path to config file (default: platform config dir)
    -simulate <text>    Type text through the simulated source instead of
                        reading input devices
    -no-watch           Do not reload the config file when it changes

PRIVACY NOTE:
    Characters are stored only in the local event store and never logged.
    Window titles are redacted from logs.

Use 'rhythmctl status' or 'rhythmctl watch' to view the analysis.`)
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	simulate := fs.String("simulate", "", "type this text through the simulated source")
	noWatch := fs.Bool("no-watch", false, "disable config hot reload")
	fs.Parse(args)

	loader := config.NewLoader(*configPath)
	defer loader.Close()

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	if *simulate != "" {
		cfg.Capture.Source = "simulated"
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directories: %v\n", err)
		return 1
	}

	logger, err := daemon.NewLogger(cfg, "rhythmd")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
		return 1
	}
	defer logger.Close()
	logging.SetDefault(logger)
	log := logger.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := daemon.OpenStore(ctx, cfg, false)
	if err != nil {
		log.Error("open store", "error", err)
		return 1
	}
	defer st.Close()

	b, err := bus.Open(cfg.Bus.Type, log.With("component", "bus"))
	if err != nil {
		log.Error("open signal bus", "type", cfg.Bus.Type, "error", err)
		return 1
	}
	defer b.Close()

	if db, ok := b.(*bus.DBusBus); ok {
		if err := db.ClaimName(bus.DaemonName); err != nil {
			if errors.Is(err, bus.ErrNameTaken) {
				fmt.Fprintln(os.Stderr, "Error: another rhythmd is already running on this session bus")
				return 1
			}
			log.Warn("claim bus name", "name", bus.DaemonName, "error", err)
		}
	}

	src, err := daemon.NewSource(cfg, log.With("component", "keystroke"))
	if err != nil {
		log.Error("create input source", "error", err)
		return 1
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p, err := daemon.New(daemon.Options{
		Config:     cfg,
		Source:     src,
		Store:      st,
		Bus:        b,
		Logger:     log,
		Registerer: reg,
		Crash:      logging.NewCrashHandler(logging.DefaultCrashDir(), "rhythmd", log),
	})
	if err != nil {
		log.Error("build pipeline", "error", err)
		return 1
	}

	if err := p.Start(ctx); err != nil {
		if errors.Is(err, daemon.ErrHookUnavailable) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintln(os.Stderr, "Add your user to the 'input' group or run 'rhythmd check' for details.")
			return 1
		}
		log.Error("start pipeline", "error", err)
		return 1
	}

	pidFile := filepath.Join(config.DataDir(), "rhythmd.pid")
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		log.Warn("write pid file", "path", pidFile, "error", err)
	}
	defer os.Remove(pidFile)

	checker := health.NewChecker()
	p.RegisterHealth(checker, st)
	checker.SetReady(true)
	defer checker.SetReady(false)

	if cfg.Metrics.Enabled {
		srv, err := metrics.Listen(cfg.Metrics.Listen, reg, log.With("component", "metrics"))
		if err != nil {
			log.Warn("metrics endpoint disabled", "error", err)
		} else {
			srv.Handle("/readyz", checker.ReadinessHandler())
			srv.Handle("/health", checker.HealthHandler())
			go func() {
				if err := srv.Serve(ctx); err != nil {
					log.Warn("metrics endpoint stopped", "error", err)
				}
			}()
		}
	}

	if !*noWatch {
		watchConfig(ctx, loader, p, log)
	}

	if sim, ok := src.(*keystroke.SimulatedSource); ok && *simulate != "" {
		go func() {
			if err := sim.Play(ctx, *simulate, 120*time.Millisecond, 40*time.Millisecond); err != nil && ctx.Err() == nil {
				log.Warn("simulated typing stopped", "error", err)
			}
		}()
	}

	log.Info("rhythmd running", "version", version, "store", cfg.Storage.Driver, "bus", cfg.Bus.Type)
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := p.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "error", err)
		return 1
	}
	return 0
}

// watchConfig applies hot-reloadable settings whenever the config file
// changes. Rejected edits are logged and the running config stays.
func watchConfig(ctx context.Context, loader *config.Loader, p *daemon.Pipeline, log *slog.Logger) {
	loader.OnChange(func(cfg *config.Config) {
		if err := p.ApplyConfig(cfg); err != nil {
			log.Warn("config change rejected", "error", err)
		}
	})
	if err := loader.Watch(); err != nil {
		log.Warn("config hot reload disabled", "path", loader.Path(), "error", err)
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-loader.Errors():
				log.Warn("config reload failed", "error", err)
			}
		}
	}()
}

func cmdCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}

	fmt.Println("=== rhythmd check ===")
	fmt.Println()

	ok := true

	src, err := daemon.NewSource(cfg, logging.Discard())
	if err != nil {
		fmt.Printf("Input hook:   ERROR (%v)\n", err)
		ok = false
	} else if avail, reason := src.Available(); avail {
		fmt.Printf("Input hook:   OK (%s)\n", reason)
	} else {
		fmt.Printf("Input hook:   UNAVAILABLE (%s)\n", reason)
		ok = false
	}

	if !cfg.Focus.Enabled {
		fmt.Println("Focus lookup: disabled")
	} else if avail, reason := focus.New().Available(); avail {
		fmt.Printf("Focus lookup: OK (%s)\n", reason)
	} else {
		fmt.Printf("Focus lookup: UNAVAILABLE (%s); events are stored without app context\n", reason)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cfg.Storage.Driver == "postgres" {
		fmt.Printf("Store:        %s\n", cfg.Storage.Driver)
	} else {
		fmt.Printf("Store:        %s (%s)\n", cfg.Storage.Driver, cfg.Storage.Path)
	}
	if st, err := daemon.OpenStore(ctx, cfg, true); err != nil {
		fmt.Printf("              %v\n", err)
	} else {
		if n, err := st.EventCount(ctx); err == nil {
			fmt.Printf("              %d events stored\n", n)
		}
		st.Close()
	}

	fmt.Printf("Signal bus:   %s\n", strings.ToLower(cfg.Bus.Type))

	if !ok {
		return 1
	}
	return 0
}
