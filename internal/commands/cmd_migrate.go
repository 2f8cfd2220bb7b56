package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/autopilot/internal/automation"
	"github.com/colonyops/autopilot/pkg/iojson"
)

// MigrateCmd implements the autopilot migrate command group.
type MigrateCmd struct {
	flags *Flags
	app   *automation.App

	steps int
}

// NewMigrateCmd creates a new migrate command.
func NewMigrateCmd(flags *Flags, app *automation.App) *MigrateCmd {
	return &MigrateCmd{flags: flags, app: app}
}

// Register adds the migrate command to the application.
func (cmd *MigrateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "migrate",
		Usage: "Inspect or roll back database migrations",
		Description: `Migrations are applied automatically when the database opens.

Examples:
  autopilot migrate status
  autopilot migrate down -n 1`,
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "List migrations as JSON lines",
				Action: cmd.runStatus,
			},
			{
				Name:      "down",
				Usage:     "Revert the most recent migrations",
				UsageText: "autopilot migrate down [-n <steps>]",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:        "steps",
						Aliases:     []string{"n"},
						Usage:       "number of migrations to revert",
						Value:       1,
						Destination: &cmd.steps,
					},
				},
				Action: cmd.runDown,
			},
		},
	})

	return app
}

func (cmd *MigrateCmd) runStatus(ctx context.Context, c *cli.Command) error {
	status, err := cmd.app.DB.Status(ctx)
	if err != nil {
		return err
	}
	for _, m := range status {
		if err := iojson.WriteLine(c.Root().Writer, m); err != nil {
			return err
		}
	}
	return nil
}

func (cmd *MigrateCmd) runDown(ctx context.Context, c *cli.Command) error {
	if cmd.steps < 1 {
		return fmt.Errorf("--steps must be at least 1")
	}
	if err := cmd.app.DB.MigrateDown(ctx, cmd.steps); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	_, _ = fmt.Fprintf(c.Root().Writer, "reverted %d migration(s)\n", cmd.steps)
	return nil
}
