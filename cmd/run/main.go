package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/wippyai/entity-scripting/config"
)

func main() {
	var (
		configFile  = flag.String("config", "", "Runtime config file (YAML)")
		prototypes  = flag.String("prototypes", "", "Entity prototypes file, overrides config")
		scripts     = flag.String("scripts", "", "Script root directory, overrides config")
		frames      = flag.Int("frames", -1, "Frames to run in batch mode, overrides config")
		frameDT     = flag.Duration("dt", 0, "Frame duration, overrides config")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "Log format (console, json)")
		observe     = flag.String("observe", "", "Serve the websocket report feed on this address")
		saveDB      = flag.String("db", "", "Save database path, overrides config")
		saveSlot    = flag.String("save", "", "Save game state to this slot after the run")
		loadSlot    = flag.String("load", "", "Load game state from this slot before the run")
		inspectFile = flag.String("inspect", "", "List a script module's imports and exports and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *inspectFile != "" {
		if err := inspect(os.Stdout, *inspectFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *prototypes != "" {
		cfg.Prototypes = *prototypes
	}
	if *scripts != "" {
		cfg.ScriptRoot = *scripts
	}
	if *frames >= 0 {
		cfg.Frames = *frames
	}
	if *frameDT > 0 {
		cfg.FrameDT = *frameDT
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}
	if *observe != "" {
		cfg.Observe = *observe
	}
	if *saveDB != "" {
		cfg.SaveDB = *saveDB
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if (*saveSlot != "" || *loadSlot != "") && cfg.SaveDB == "" {
		fmt.Fprintln(os.Stderr, "Error: -save and -load need a save database (-db or save_db)")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := runOptions{saveSlot: *saveSlot, loadSlot: *loadSlot}
	if *interactive {
		err = runInteractive(ctx, cfg, opts)
	} else {
		err = run(ctx, cfg, opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Runtime, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

type runOptions struct {
	saveSlot string
	loadSlot string
}

// run steps the level for the configured number of frames and prints a
// summary.
func run(ctx context.Context, cfg *config.Runtime, opts runOptions) error {
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	s, err := newSession(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer s.close(context.Background())

	start := time.Now()
	for i := 0; i < cfg.Frames; i++ {
		if ctx.Err() != nil {
			break
		}
		if err := s.step(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
	}
	elapsed := time.Since(start)

	s.printSummary(os.Stdout, elapsed)
	return s.save(ctx)
}
