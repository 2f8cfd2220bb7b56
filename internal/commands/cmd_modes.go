package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/autopilot/internal/automation"
	"github.com/colonyops/autopilot/internal/core/mode"
	"github.com/colonyops/autopilot/pkg/iojson"
)

// ModesCmd implements the autopilot modes command group.
type ModesCmd struct {
	flags *Flags
	app   *automation.App

	setRisk string
	setBy   string
}

// NewModesCmd creates a new modes command.
func NewModesCmd(flags *Flags, app *automation.App) *ModesCmd {
	return &ModesCmd{flags: flags, app: app}
}

// Register adds the modes command to the application.
func (cmd *ModesCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "modes",
		Usage: "View and change per-module automation modes",
		Description: `Every module runs in manual, copilot or autopilot mode.

Examples:
  autopilot modes list
  autopilot modes get ad_manager
  autopilot modes set ad_manager copilot
  autopilot modes set all manual`,
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List every module mode as JSON lines",
				Action:  cmd.runList,
			},
			{
				Name:      "get",
				Usage:     "Show one module",
				UsageText: "autopilot modes get <module>",
				Action:    cmd.runGet,
			},
			{
				Name:      "set",
				Usage:     "Set a module mode, or every module with 'all'",
				UsageText: "autopilot modes set <module|all> <manual|copilot|autopilot> [--risk <level>]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "risk",
						Usage:       "risk level (low, medium, high)",
						Destination: &cmd.setRisk,
					},
					&cli.StringFlag{
						Name:        "by",
						Usage:       "recorded as the author of the change",
						Value:       "cli",
						Destination: &cmd.setBy,
					},
				},
				Action: cmd.runSet,
			},
		},
	})

	return app
}

func (cmd *ModesCmd) runList(ctx context.Context, c *cli.Command) error {
	modes, err := cmd.app.Modes.GetAll(ctx, cmd.flags.WorkspaceID())
	if err != nil {
		return fmt.Errorf("list modes: %w", err)
	}
	for _, m := range modes {
		if err := iojson.WriteLine(c.Root().Writer, m); err != nil {
			return err
		}
	}
	return nil
}

func (cmd *ModesCmd) runGet(ctx context.Context, c *cli.Command) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: autopilot modes get <module>")
	}
	m, err := cmd.app.Modes.Get(ctx, cmd.flags.WorkspaceID(), c.Args().Get(0))
	if err != nil {
		return err
	}
	return iojson.WriteLine(c.Root().Writer, m)
}

func (cmd *ModesCmd) runSet(ctx context.Context, c *cli.Command) error {
	if c.NArg() < 2 {
		return fmt.Errorf("usage: autopilot modes set <module|all> <mode>")
	}

	target := c.Args().Get(0)
	m, err := mode.Parse(c.Args().Get(1))
	if err != nil {
		return err
	}

	if target == "all" {
		changed, err := cmd.app.Modes.SetAll(ctx, cmd.flags.WorkspaceID(), m, cmd.setBy)
		if err != nil {
			return err
		}
		for _, mm := range changed {
			if err := iojson.WriteLine(c.Root().Writer, mm); err != nil {
				return err
			}
		}
		return nil
	}

	mm, err := cmd.app.Modes.Set(ctx, cmd.flags.WorkspaceID(), automation.SetRequest{
		ModuleID:  target,
		Mode:      m,
		RiskLevel: mode.RiskLevel(cmd.setRisk),
		ChangedBy: cmd.setBy,
	})
	if err != nil {
		return err
	}
	return iojson.WriteLine(c.Root().Writer, mm)
}
