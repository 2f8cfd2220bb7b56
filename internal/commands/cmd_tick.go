package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/autopilot/internal/automation"
	"github.com/colonyops/autopilot/pkg/iojson"
)

// TickCmd implements the autopilot tick command.
type TickCmd struct {
	flags *Flags
	app   *automation.App
}

// NewTickCmd creates a new tick command.
func NewTickCmd(flags *Flags, app *automation.App) *TickCmd {
	return &TickCmd{flags: flags, app: app}
}

// Register adds the tick command to the application.
func (cmd *TickCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "tick",
		Usage:     "Evaluate every active rule once",
		UsageText: "autopilot tick",
		Description: `Runs a single rule engine cycle across all workspaces and prints
the summary. Useful from cron when the server runs with --no-engine.`,
		Action: cmd.run,
	})

	return app
}

func (cmd *TickCmd) run(ctx context.Context, c *cli.Command) error {
	sum := cmd.app.Engine.Tick(ctx)
	return iojson.WriteLine(c.Root().Writer, sum)
}
