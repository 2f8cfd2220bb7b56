package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/autopilot/internal/automation"
	"github.com/colonyops/autopilot/internal/commands"
	"github.com/colonyops/autopilot/internal/core/config"
	"github.com/colonyops/autopilot/internal/core/eventbus"
	"github.com/colonyops/autopilot/internal/core/logging"
	"github.com/colonyops/autopilot/internal/core/styles"
	"github.com/colonyops/autopilot/internal/data/db"
	"github.com/colonyops/autopilot/internal/data/stores"
	"github.com/colonyops/autopilot/pkg/logutils"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	// When installed via `go install module@version`, build() falls back
	// to runtime/debug.BuildInfo instead.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

// busQueueSize bounds buffered events between publishers and subscribers.
const busQueueSize = 1024

func build() string {
	v, c, d := version, commit, date

	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					c = s.Value
				case "vcs.time":
					d = s.Value
				}
			}
		}
	}

	short := c
	if len(c) > 7 {
		short = c[:7]
	}

	return fmt.Sprintf("%s (%s) %s", v, short, d)
}

func main() {
	ctx := context.Background()

	var (
		logCloser func()
		autoApp   = &automation.App{}
		database  *db.DB
		bus       *eventbus.EventBus
		busCancel context.CancelFunc
	)

	flags := &commands.Flags{}

	app := &cli.Command{
		Name:      "autopilot",
		Usage:     "Run marketing automation in manual, copilot or autopilot mode",
		UsageText: "autopilot [global options] command [command options]",
		Description: `Autopilot decides, per marketing module, whether an action runs on its own,
waits in an approval queue, or is left to a human.

Run 'autopilot serve' to start the REST API and rule engine.
Run 'autopilot status' for a dashboard of the current workspace.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("AUTOPILOT_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (defaults to stderr)",
				Sources:     cli.EnvVars("AUTOPILOT_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("AUTOPILOT_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Usage:       "path to data directory",
				Sources:     cli.EnvVars("AUTOPILOT_DATA_DIR"),
				Value:       commands.DefaultDataDir(),
				Destination: &flags.DataDir,
			},
			&cli.StringFlag{
				Name:        "workspace",
				Aliases:     []string{"w"},
				Usage:       "workspace for CLI commands (defaults to server.default_workspace)",
				Sources:     cli.EnvVars("AUTOPILOT_WORKSPACE"),
				Destination: &flags.Workspace,
			},
			&cli.StringFlag{
				Name:        "theme",
				Usage:       "CLI color theme (" + strings.Join(styles.ThemeNames(), ", ") + ")",
				Sources:     cli.EnvVars("AUTOPILOT_THEME"),
				Value:       styles.DefaultTheme,
				Destination: &flags.Theme,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger, closer, err := logutils.New(flags.LogLevel, flags.LogFile)
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logging.Contextual(logger)
			logCloser = closer

			cfg, err := config.Load(flags.ConfigPath, flags.DataDir)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			flags.Config = cfg

			palette, ok := styles.GetPalette(flags.Theme)
			if !ok {
				return ctx, fmt.Errorf("unknown theme %q", flags.Theme)
			}
			styles.SetTheme(palette)

			database, err = stores.OpenDB(cfg.DatabaseDir(), db.OpenOptions{
				MaxOpenConns: cfg.Database.MaxOpenConns,
				MaxIdleConns: cfg.Database.MaxIdleConns,
				BusyTimeout:  cfg.Database.BusyTimeout,
				Logger:       logging.Component("db"),
			}, log.Logger)
			if err != nil {
				return ctx, fmt.Errorf("open database: %w", err)
			}

			// Subscriptions are registered by NewApp, so the bus starts after it.
			bus = eventbus.New(busQueueSize)

			// Populate the pre-allocated App struct (commands already hold a pointer to it)
			*autoApp = *automation.NewApp(cfg, database, bus, log.Logger)
			eventbus.RegisterDebugLogger(bus, logging.Component("eventbus"))

			busCtx, cancel := context.WithCancel(context.Background())
			busCancel = cancel
			go bus.Start(busCtx)

			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			// Drain queued events before the database goes away.
			if busCancel != nil {
				busCancel()
				<-bus.Done()
			}

			if database != nil {
				if err := database.Close(); err != nil {
					log.Error().Err(err).Msg("failed to close database")
					return err
				}
			}

			if logCloser != nil {
				logCloser()
			}
			return nil
		},
	}

	app = commands.NewServeCmd(flags, autoApp).Register(app)
	app = commands.NewStatusCmd(flags, autoApp).Register(app)
	app = commands.NewModesCmd(flags, autoApp).Register(app)
	app = commands.NewApprovalsCmd(flags, autoApp).Register(app)
	app = commands.NewRulesCmd(flags, autoApp).Register(app)
	app = commands.NewActionsCmd(flags, autoApp).Register(app)
	app = commands.NewSettingsCmd(flags, autoApp).Register(app)
	app = commands.NewNotificationsCmd(flags, autoApp).Register(app)
	app = commands.NewTickCmd(flags, autoApp).Register(app)
	app = commands.NewMigrateCmd(flags, autoApp).Register(app)

	exitCode := 0
	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		exitCode = 1
	}

	os.Exit(exitCode)
}
