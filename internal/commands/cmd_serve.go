package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/colonyops/autopilot/internal/automation"
	"github.com/colonyops/autopilot/internal/profiler"
	"github.com/colonyops/autopilot/internal/server"
)

// ServeCmd implements the autopilot serve command.
type ServeCmd struct {
	flags *Flags
	app   *automation.App

	addr     string
	noEngine bool
	pprof    string
}

// NewServeCmd creates a new serve command.
func NewServeCmd(flags *Flags, app *automation.App) *ServeCmd {
	return &ServeCmd{flags: flags, app: app}
}

// Register adds the serve command to the application.
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run the REST API and the rule engine",
		UsageText: "autopilot serve [--addr <addr>] [--no-engine] [--pprof <addr>]",
		Description: `Serves the /api/v1 REST surface, /health and /metrics.

The rule engine ticks in the same process unless engine.enabled is false in
the config or --no-engine is given. Stops gracefully on SIGINT or SIGTERM.

Examples:
  autopilot serve
  autopilot serve --addr :9090
  autopilot serve --pprof localhost:6060`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address (overrides server.addr)",
				Sources:     cli.EnvVars("AUTOPILOT_ADDR"),
				Destination: &cmd.addr,
			},
			&cli.BoolFlag{
				Name:        "no-engine",
				Usage:       "serve the API without ticking rules",
				Destination: &cmd.noEngine,
			},
			&cli.StringFlag{
				Name:        "pprof",
				Usage:       "serve net/http/pprof on this address",
				Sources:     cli.EnvVars("AUTOPILOT_PPROF"),
				Destination: &cmd.pprof,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ServeCmd) run(ctx context.Context, _ *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := cmd.app.Config.Server
	if cmd.addr != "" {
		cfg.Addr = cmd.addr
	}

	srv := server.New(cmd.app, cfg, log.Logger)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(ctx)
	})

	if cmd.app.Config.Engine.Enabled && !cmd.noEngine {
		g.Go(func() error {
			return cmd.app.Engine.Run(ctx)
		})
	} else {
		log.Info().Msg("rule engine disabled")
	}

	if cmd.pprof != "" {
		prof := profiler.New(cmd.pprof, log.Logger)
		if err := prof.Start(ctx); err != nil {
			return fmt.Errorf("start profiler: %w", err)
		}
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return prof.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
