package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ekisa-team/pathflow/internal/config"
	"github.com/ekisa-team/pathflow/internal/env"
	"github.com/ekisa-team/pathflow/internal/logger"
)

const usage = `Usage: pathflow [flags] <command> [command flags]

Commands:
  backends   list the inference backends installed on this host
  models     list the models in the catalog
  run        run a model on an image and save its results
  results    list the results stored for an image
  serve      serve the HTTP and gRPC APIs

Flags:
`

func main() {
	var (
		flagConfigPath = flag.String("config", filepath.Join(config.DefaultConfigPath(), "config.yaml"), "Path to config file")
		flagEnvFile    = flag.String("env-file", ".env", "Optional dotenv file loaded before the config")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := godotenv.Load(*flagEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *flagEnvFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*flagConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(
		logger.New(env.FromEnv(),
			logger.WithLevel(logger.ParseLevel(cfg.Log.Level)),
			logger.WithLogToFile(cfg.Log.ToFile),
			logger.WithLogFile(cfg.Log.File),
		),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if err := dispatch(ctx, cmd, args, cfg, *flagConfigPath); err != nil {
		slog.Error("Command failed", "command", cmd, "error", err)
		stop()
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, cmd string, args []string, cfg *config.Config, configPath string) error {
	switch cmd {
	case "backends":
		return runBackends(cfg)
	case "models":
		return runModels(cfg)
	case "run":
		return runModel(ctx, cfg, args)
	case "results":
		return runResults(cfg, args)
	case "serve":
		return serve(ctx, cfg, configPath)
	}
	flag.Usage()
	return fmt.Errorf("unknown command %q", cmd)
}
