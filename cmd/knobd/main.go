//go:build linux

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	rotary "github.com/jangala-dev/rotary-go"
	"github.com/jangala-dev/rotary-go/platform/sysfs"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("knobd v%s\n", version)
	fmt.Println("Rotary encoder daemon: GPIO knob to WebSocket event stream")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  knobd [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Defaults: KY-040 on BCM 17/27/22, WebSocket on :8090/ws")
	fmt.Println("  knobd")
	fmt.Println()
	fmt.Println("  # Print events to stdout as JSON lines instead of serving clients")
	fmt.Println("  knobd -print")
	fmt.Println()
	fmt.Println("  # Config file with flag overrides")
	fmt.Println("  knobd -config /etc/knobd.yaml -log-level debug")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Pin numbers are BCM GPIO numbers (sysfs numbering), not header positions")
	fmt.Println("  - Requires write access to /sys/class/gpio (run as root or in the 'gpio' group)")
	fmt.Println("  - Stock KY-040 boards carry onboard pull-ups; bare encoders usually want -config")
	fmt.Println("    with encoder.pull set to \"down\"")
	fmt.Println()
}

func main() {
	var (
		configPath  = flag.String("config", "", "YAML config file path (flags override file values)")
		clkPin      = flag.Int("clk-pin", 17, "BCM pin for the encoder CLK phase")
		dtPin       = flag.Int("dt-pin", 27, "BCM pin for the encoder DT phase")
		buttonPin   = flag.Int("button-pin", 22, "BCM pin for the push button (0 disables)")
		dispatch    = flag.String("dispatch", "worker", "Callback dispatch mode: inline, goroutine, worker, shared")
		listen      = flag.String("listen", ":8090", "WebSocket listen address")
		logLevelStr = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		printEvents = flag.Bool("print", false, "Print events to stdout as JSON lines instead of serving WebSocket clients")
		showVersion = flag.Bool("version", false, "Print version and exit")
	)
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
	}

	// Flags override the file only when actually set on the command line.
	var o FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "clk-pin":
			o.CLKPin = clkPin
		case "dt-pin":
			o.DTPin = dtPin
		case "button-pin":
			o.ButtonPin = buttonPin
		case "dispatch":
			o.Dispatch = dispatch
		case "listen":
			o.Listen = listen
		case "log-level":
			o.LogLevel = logLevelStr
		}
	})
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	rcfg, err := cfg.ToRotaryConfig(logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	d := newDaemon(cfg, logger)

	var srv *Server
	if *printEvents {
		d.out = os.Stdout
	} else {
		srv = NewServer(logger, d.snapshot, HubConfig{})
		d.hub = srv.Hub()
	}

	chip, err := sysfs.Open(sysfs.WithLogger(logger))
	if err != nil {
		logger.Error("gpio not available", "error", err, "tip", "run as root or add user to the 'gpio' group")
		os.Exit(1)
	}
	defer chip.Close()

	enc, err := rotary.Open(chip, rcfg, d.handlers())
	if err != nil {
		logger.Error("encoder open failed", "error", err)
		os.Exit(1)
	}
	defer enc.Close()
	d.enc = enc

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if srv != nil {
		mux := http.NewServeMux()
		srv.Register(mux, "/ws")
		httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

		g.Go(func() error {
			srv.Hub().Run(ctx)
			return nil
		})
		g.Go(func() error {
			errc := make(chan error, 1)
			go func() { errc <- httpSrv.ListenAndServe() }()
			select {
			case <-ctx.Done():
				shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = httpSrv.Shutdown(shutCtx)
				return nil
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		})
	}

	g.Go(func() error { return d.run(ctx) })

	logger.Info("listening",
		"clk", cfg.Encoder.CLKPin,
		"dt", cfg.Encoder.DTPin,
		"button", cfg.Encoder.ButtonPin,
		"dispatch", cfg.Encoder.Dispatch,
		"addr", cfg.Server.Addr,
		"print", *printEvents)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutting down")
}
