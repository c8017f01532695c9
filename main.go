// parley - a terminal chat client for local and cloud language models.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jeranaias/parley/internal/cli"
	"github.com/jeranaias/parley/internal/config"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file (default ~/.parley/config.toml)")
		modelFlag   = flag.String("model", "", "model to use for this session")
		verbose     = flag.Bool("verbose", false, "enable debug logging")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("parley %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*configPath, *modelFlag, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, modelFlag string, verbose bool) error {
	path := configPath
	if path == "" {
		var err error
		path, err = config.Path()
		if err != nil {
			return err
		}
	}

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return err
	}
	if modelFlag != "" {
		cfg.DefaultModel = modelFlag
	}

	logger, logClose, err := newLogger(verbose)
	if err != nil {
		return err
	}
	defer logClose()
	slog.SetDefault(logger)

	app, err := cli.NewApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	// Edits to the config file apply live where possible.
	watcher, err := config.NewWatcher(path, app.ApplyConfig, logger)
	if err == nil {
		if werr := watcher.Watch(); werr != nil {
			logger.Warn("config watch unavailable", "error", werr)
		}
		defer watcher.Close()
	} else {
		logger.Warn("config watch unavailable", "error", err)
	}

	return app.Run(context.Background())
}

// newLogger writes structured logs to ~/.parley/parley.log so log output
// never interleaves with the chat stream on the terminal.
func newLogger(verbose bool) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	dir, err := config.Dir()
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}

	var w io.Writer
	closeFn := func() {}
	f, err := os.OpenFile(filepath.Join(dir, "parley.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		w = os.Stderr
	} else {
		w = f
		closeFn = func() { f.Close() }
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler), closeFn, nil
}
