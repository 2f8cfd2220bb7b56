package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/autopilot/internal/automation"
	"github.com/colonyops/autopilot/pkg/iojson"
)

// NotificationsCmd implements the autopilot notifications command group.
type NotificationsCmd struct {
	flags *Flags
	app   *automation.App

	listLimit  int
	listUnread bool
	readAll    bool
}

// NewNotificationsCmd creates a new notifications command.
func NewNotificationsCmd(flags *Flags, app *automation.App) *NotificationsCmd {
	return &NotificationsCmd{flags: flags, app: app}
}

// Register adds the notifications command to the application.
func (cmd *NotificationsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:    "notifications",
		Aliases: []string{"inbox"},
		Usage:   "Read the notification inbox",
		Description: `Examples:
  autopilot notifications list --unread
  autopilot notifications read 42
  autopilot notifications read --all`,
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List notifications as JSON lines, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "maximum to print", Destination: &cmd.listLimit},
					&cli.BoolFlag{Name: "unread", Aliases: []string{"u"}, Usage: "only unread", Destination: &cmd.listUnread},
				},
				Action: cmd.runList,
			},
			{
				Name:      "read",
				Usage:     "Mark notifications read",
				UsageText: "autopilot notifications read <id>... | --all",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Aliases: []string{"a"}, Usage: "mark every notification read", Destination: &cmd.readAll},
				},
				Action: cmd.runRead,
			},
		},
	})

	return app
}

func (cmd *NotificationsCmd) runList(ctx context.Context, c *cli.Command) error {
	inbox, err := cmd.app.Notifications.List(ctx, cmd.flags.WorkspaceID(), cmd.listLimit, cmd.listUnread)
	if err != nil {
		return fmt.Errorf("list notifications: %w", err)
	}
	for _, n := range inbox.Notifications {
		if err := iojson.WriteLine(c.Root().Writer, n); err != nil {
			return err
		}
	}
	return nil
}

func (cmd *NotificationsCmd) runRead(ctx context.Context, c *cli.Command) error {
	ws := cmd.flags.WorkspaceID()

	if cmd.readAll {
		n, err := cmd.app.Notifications.MarkAllRead(ctx, ws)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(c.Root().Writer, "marked %d read\n", n)
		return nil
	}

	if c.NArg() < 1 {
		return fmt.Errorf("usage: autopilot notifications read <id>... | --all")
	}
	for _, arg := range c.Args().Slice() {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid notification id %q", arg)
		}
		if err := cmd.app.Notifications.MarkRead(ctx, ws, id); err != nil {
			return err
		}
	}
	_, _ = fmt.Fprintf(c.Root().Writer, "marked %d read\n", c.NArg())
	return nil
}
