package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"relquery/internal/app"
	"relquery/internal/config"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	stop()
	if err != nil {
		slog.Error("relquery failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type mode struct {
	req         app.Request
	stdin       bool
	verifyUsage bool
	version     bool
}

func flags(m *mode) *pflag.FlagSet {
	fs := pflag.NewFlagSet("relquery", pflag.ContinueOnError)
	config.DefineFlags(fs)
	app.DefineRequestFlags(fs, &m.req)
	fs.BoolVar(&m.stdin, "stdin", false, "Read one request per line from stdin; executed mutations commit together")
	fs.BoolVar(&m.verifyUsage, "verify-usage", false, "Check tracked column usage against the catalog and exit")
	fs.BoolVar(&m.version, "version", false, "Print version and exit")
	return fs
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	var m mode
	fs := flags(&m)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if m.version {
		_, err := fmt.Fprintf(stdout, "relquery %s (%s)\n", Version, Commit)
		return err
	}

	if m.stdin {
		for _, key := range []string{"database.dsn_file", "database.password_file"} {
			if v, _ := fs.GetString(key); v == "@-" {
				return fmt.Errorf("--stdin cannot be combined with --%s @-", key)
			}
		}
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if m.stdin && (cfg.Database.ConnectionStringFile == "@-" || cfg.Database.PasswordFile == "@-") {
		return errors.New("--stdin cannot be combined with a secret read from @-")
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}

	logger, loggerProvider, err := app.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return err
	}
	a.AttachLoggerProvider(loggerProvider)

	runErr := a.Init(ctx)
	if runErr == nil {
		switch {
		case m.verifyUsage:
			runErr = a.VerifyUsage(ctx)
			if runErr == nil {
				_, runErr = fmt.Fprintln(stdout, "column usage verified")
			}
		case m.stdin:
			runErr = a.RunLines(ctx, stdin, stdout)
		default:
			var res app.Result
			res, runErr = a.Run(ctx, m.req)
			if runErr == nil {
				runErr = res.Write(stdout)
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Shutdown(shutdownCtx))
}
