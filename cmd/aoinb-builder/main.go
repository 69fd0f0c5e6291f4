//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.cloudfoundry.org/lager"
	flag "github.com/spf13/pflag"

	builder "github.com/aoinb/builder"
	"github.com/aoinb/builder/base_image"
	"github.com/aoinb/builder/command_runner"
	"github.com/aoinb/builder/config"
	"github.com/aoinb/builder/linux_backend/container_pool"
	"github.com/aoinb/builder/metrics"
	"github.com/aoinb/builder/nspawn"
	"github.com/aoinb/builder/overlay"
	"github.com/aoinb/builder/server"
)

const usage = `Usage: aoinb-builder WORK_PATH BUILDKIT_PATH
       aoinb-builder --config FILE --serve

Flags:
`

const stopTimeout = 30 * time.Second

var errUsage = errors.New("usage")

func main() {
	err := run(os.Args[1:], os.Stdout, os.Stderr)
	if errors.Is(err, errUsage) {
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stdout, "error:", err)
	}

	os.Exit(builder.ExitCode(err))
}

func run(args []string, stdout, stderr io.Writer) error {
	flags := flag.NewFlagSet("aoinb-builder", flag.ContinueOnError)
	flags.SetOutput(stderr)

	configPath := flags.String("config", "", "path to the YAML configuration file")
	serve := flags.Bool("serve", false, "serve the HTTP API instead of running the demo")
	timeout := flags.Duration("timeout", 0, "bound on every command run in an instance (0 for none)")
	logLevel := flags.String("log-level", "", "debug, info, error or fatal")

	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}

	err := flags.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errUsage
		}

		return builder.ConfigError{Reason: err.Error()}
	}

	cfg := config.Default()

	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	} else if *serve {
		return builder.ConfigError{Reason: "--serve requires --config"}
	}

	if !*serve {
		if flags.NArg() < 2 {
			flags.Usage()
			return errUsage
		}

		cfg.WorkDir = flags.Arg(0)
		cfg.BaseImage = flags.Arg(1)
	}

	if flags.Changed("timeout") {
		cfg.CommandTimeout = timeout.String()
	}

	if flags.Changed("log-level") {
		cfg.LogLevelName = *logLevel
	}

	err = cfg.Validate()
	if err != nil {
		return err
	}

	level, _ := cfg.LogLevel()
	commandTimeout, _ := cfg.Timeout()

	logger := lager.NewLogger("aoinb-builder")
	logger.RegisterSink(lager.NewWriterSink(stderr, level))

	err = metrics.Register()
	if err != nil {
		logger.Error("failed-to-register-metrics", err)
		return err
	}

	runner := command_runner.New(logger)

	runExecutor := nspawn.New(runner, logger, nspawn.Options{
		Path:    cfg.NspawnPath,
		Timeout: commandTimeout,
		Stdout:  stdout,
		Stderr:  stderr,
		Kind:    "run",
	})

	updateExecutor := nspawn.New(runner, logger, nspawn.Options{
		Path:   cfg.NspawnPath,
		Stdout: stdout,
		Stderr: stderr,
		Kind:   "update",
	})

	registry := base_image.New(updateExecutor, cfg.MaintenanceCommand, logger)
	registry.SetPath(cfg.BaseImage)

	pool := container_pool.New(cfg.WorkDir, registry, overlay.New(logger), runExecutor, runner, logger)

	if *serve {
		return serveAPI(cfg, pool, registry, logger)
	}

	return demo(pool, registry, stdout)
}

// demo brings up an instance named stable, runs one command in it, brings
// it down and then updates the base image.
func demo(pool *container_pool.ContainerPool, registry *base_image.Registry, stdout io.Writer) error {
	ctx := context.Background()

	stable, err := pool.Create("stable")
	if err != nil {
		return err
	}

	defer pool.DestroyAll()

	fmt.Fprintln(stdout, "Try to mount container: stable.")

	err = stable.Up()
	if err != nil {
		return err
	}

	status, err := stable.Run(ctx, "cat /etc/os-release")
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "command exited with status %d\n", status)

	err = stable.Down()
	if err != nil {
		return err
	}

	status, err = registry.Update(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "base image update exited with status %d\n", status)

	return nil
}

func serveAPI(cfg *config.Config, pool *container_pool.ContainerPool, registry *base_image.Registry, logger lager.Logger) error {
	for _, name := range cfg.Instances {
		_, err := pool.Create(name)
		if err != nil {
			logger.Error("failed-to-create-instance", err, lager.Data{"name": name})
			pool.DestroyAll()
			return err
		}
	}

	builderServer := server.New(cfg.ListenNetwork, cfg.ListenAddr, pool, registry, logger)

	err := builderServer.Start()
	if err != nil {
		logger.Error("failed-to-start", err)
		return builder.ConfigError{Reason: fmt.Sprintf("listening on %s: %s", cfg.ListenAddr, err)}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	logger.Info("stopping")

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	return builderServer.Stop(stopCtx)
}
