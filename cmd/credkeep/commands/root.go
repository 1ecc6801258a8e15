package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/credkeep/internal/app"
	"github.com/florianilch/credkeep/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand().Run(ctx, args)
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "credkeep",
		Usage: "Credential cache and broker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file (.toml, .yaml)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "telemetry--exporter",
				Usage: "OpenTelemetry log exporter (none|stdout|otlp-grpc|otlp-http)",
				Value: string(app.DefaultConfigTelemetryExporter),
			},
			&cli.BoolFlag{
				Name:  "storage--ephemeral",
				Usage: "keep secrets in memory only",
			},
			&cli.StringFlag{
				Name:  "storage--secure",
				Usage: "secure store requirement (must|prefer)",
				Value: app.DefaultConfigStorageSecure,
			},
			&cli.StringFlag{
				Name:  "storage--dir",
				Usage: "directory of the file stores",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			getCommand(),
			signOutCommand(),
			assignPATCommand(),
			storesCommand(),
		},
	}
}

// session is a configured application plus the logging pipeline it reports through.
type session struct {
	cfg      *app.Config
	app      *app.App
	shutdown observability.ShutdownFunc
}

// Close flushes the logging pipeline.
func (s *session) Close(ctx context.Context) error {
	return s.shutdown(ctx)
}

// openSession loads config, sets up observability and creates the app.
func openSession(ctx context.Context, cmd *cli.Command, opts ...app.Option) (*session, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdown, err := observability.Instrument(ctx, observability.Options{
		Level:    cfg.LogLevel,
		Format:   string(cfg.LogFormat),
		Exporter: cfg.Telemetry.Exporter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create app: %w", err), shutdown(ctx))
	}

	return &session{cfg: cfg, app: application, shutdown: shutdown}, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the local credential broker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "broker--host",
				Usage: "broker host (loopback only)",
				Value: app.DefaultConfigBrokerHost,
			},
			&cli.IntFlag{
				Name:  "broker--port",
				Usage: "broker port",
				Value: app.DefaultConfigBrokerPort,
			},
			&cli.BoolFlag{
				Name:  "broker--allow-prompt",
				Usage: "allow clients to request interactive prompts",
			},
			&cli.StringFlag{
				Name:  "broker--session-file",
				Usage: "file receiving the broker session token",
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) (err error) {
	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close(context.Background()))
	}()

	slog.InfoContext(ctx, "starting")

	if err := s.app.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}
