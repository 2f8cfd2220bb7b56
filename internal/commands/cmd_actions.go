package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/autopilot/internal/automation"
	"github.com/colonyops/autopilot/internal/core/actionlog"
	"github.com/colonyops/autopilot/pkg/iojson"
)

// ActionsCmd implements the autopilot actions command group.
type ActionsCmd struct {
	flags *Flags
	app   *automation.App

	listModule string
	listStatus string
	listType   string
	listQuery  string
	listSince  time.Duration
	listPage   int
	listSize   int

	statsDays int
}

// NewActionsCmd creates a new actions command.
func NewActionsCmd(flags *Flags, app *automation.App) *ActionsCmd {
	return &ActionsCmd{flags: flags, app: app}
}

// Register adds the actions command to the application.
func (cmd *ActionsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "actions",
		Usage: "Browse the action log",
		Description: `Every executed, failed or cancelled action is recorded in the log.

Examples:
  autopilot actions list --status failed --since 24h
  autopilot actions list -q "summer sale"
  autopilot actions stats --days 7`,
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List log entries as JSON lines, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "module", Aliases: []string{"m"}, Usage: "filter by module", Destination: &cmd.listModule},
					&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "filter by status", Destination: &cmd.listStatus},
					&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "filter by action type", Destination: &cmd.listType},
					&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "search descriptions", Destination: &cmd.listQuery},
					&cli.DurationFlag{Name: "since", Usage: "only entries newer than this", Destination: &cmd.listSince},
					&cli.IntFlag{Name: "page", Usage: "page number", Value: 1, Destination: &cmd.listPage},
					&cli.IntFlag{Name: "page-size", Usage: "entries per page", Destination: &cmd.listSize},
				},
				Action: cmd.runList,
			},
			{
				Name:  "stats",
				Usage: "Summarize the log over recent days",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "days", Aliases: []string{"d"}, Usage: "window in days", Value: 7, Destination: &cmd.statsDays},
				},
				Action: cmd.runStats,
			},
		},
	})

	return app
}

func (cmd *ActionsCmd) runList(ctx context.Context, c *cli.Command) error {
	q := automation.ActivityQuery{
		ModuleID:   cmd.listModule,
		Status:     actionlog.Status(cmd.listStatus),
		ActionType: cmd.listType,
		Query:      cmd.listQuery,
		Page:       cmd.listPage,
		PageSize:   cmd.listSize,
	}
	if cmd.listSince > 0 {
		q.Since = time.Now().Add(-cmd.listSince)
	}

	page, err := cmd.app.Activity.List(ctx, cmd.flags.WorkspaceID(), q)
	if err != nil {
		return fmt.Errorf("list actions: %w", err)
	}
	for _, e := range page.Entries {
		if err := iojson.WriteLine(c.Root().Writer, e); err != nil {
			return err
		}
	}
	return nil
}

func (cmd *ActionsCmd) runStats(ctx context.Context, c *cli.Command) error {
	stats, err := cmd.app.Activity.Stats(ctx, cmd.flags.WorkspaceID(), cmd.statsDays)
	if err != nil {
		return err
	}
	return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, stats)
}
