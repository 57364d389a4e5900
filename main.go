// chatsync - keeps chat sessions in sync with an agent backend.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/jeranaias/rigrun-chatsync/internal/cli"
	"github.com/jeranaias/rigrun-chatsync/internal/config"
	"github.com/jeranaias/rigrun-chatsync/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	envErr := godotenv.Load()

	cmd, args, err := cli.Parse(argv)
	if err != nil {
		cli.DisplayError(os.Stderr, err, args.JSON)
		return cli.GetExitCode(err)
	}

	cfg, cfgPath, err := loadConfig(args)
	if err != nil {
		cli.DisplayError(os.Stderr, err, args.JSON)
		return cli.GetExitCode(err)
	}

	level := cfg.Log.Level
	if args.Verbose {
		level = "debug"
	}
	logging.Setup(logging.Options{Level: level, Format: cfg.Log.Format})
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		logging.Logger().Warn("ignoring .env file", "error", envErr)
	}

	// The chat loop handles Ctrl+C itself so it can cancel one reply.
	ctx := context.Background()
	if cmd != cli.CmdChat {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	if err := cli.Run(ctx, cmd, args, cfg, cfgPath, os.Stdout, os.Stderr); err != nil {
		cli.DisplayError(os.Stderr, err, args.JSON)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}

// loadConfig reads the config file named by --config, or the default one,
// and applies flag overrides.
func loadConfig(args cli.Args) (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path = args.ConfigPath
		err  error
	)
	if path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		if path, err = config.ConfigPath(); err != nil {
			return nil, "", err
		}
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, path, err
	}

	if args.Storage != "" {
		cfg.Storage.Driver = args.Storage
		if err := cfg.Validate(); err != nil {
			return nil, path, err
		}
	}
	return cfg, path, nil
}
