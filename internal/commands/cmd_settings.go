package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/autopilot/internal/automation"
	"github.com/colonyops/autopilot/internal/core/settings"
	"github.com/colonyops/autopilot/pkg/iojson"
)

// SettingsCmd implements the autopilot settings command group.
type SettingsCmd struct {
	flags *Flags
	app   *automation.App
}

// NewSettingsCmd creates a new settings command.
func NewSettingsCmd(flags *Flags, app *automation.App) *SettingsCmd {
	return &SettingsCmd{flags: flags, app: app}
}

// Register adds the settings command to the application.
func (cmd *SettingsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "settings",
		Usage: "View and change workspace automation settings",
		Description: `Values are parsed as JSON when possible and as strings otherwise.

Examples:
  autopilot settings get
  autopilot settings set maxActionsPerHour=20 notifyOnCompleted=false
  autopilot settings set defaultMode=copilot
  autopilot settings pause
  autopilot settings resume`,
		Commands: []*cli.Command{
			{
				Name:   "get",
				Usage:  "Print the effective settings",
				Action: cmd.runGet,
			},
			{
				Name:      "set",
				Usage:     "Update one or more keys",
				UsageText: "autopilot settings set <key=value>...",
				Action:    cmd.runSet,
			},
			{
				Name:   "pause",
				Usage:  "Stop all automated execution",
				Action: cmd.runPause,
			},
			{
				Name:   "resume",
				Usage:  "Resume automation and restore modes saved at pause",
				Action: cmd.runResume,
			},
		},
	})

	return app
}

func (cmd *SettingsCmd) runGet(ctx context.Context, c *cli.Command) error {
	st, err := cmd.app.Settings.Get(ctx, cmd.flags.WorkspaceID())
	if err != nil {
		return err
	}
	return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, st)
}

func (cmd *SettingsCmd) runSet(ctx context.Context, c *cli.Command) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: autopilot settings set <key=value>...")
	}
	patch, err := parseAssignments(c.Args().Slice())
	if err != nil {
		return err
	}
	st, err := cmd.app.Settings.Update(ctx, cmd.flags.WorkspaceID(), patch)
	if err != nil {
		return err
	}
	return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, st)
}

func (cmd *SettingsCmd) runPause(ctx context.Context, c *cli.Command) error {
	st, err := cmd.app.Settings.Pause(ctx, cmd.flags.WorkspaceID())
	if err != nil {
		return err
	}
	return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, st)
}

func (cmd *SettingsCmd) runResume(ctx context.Context, c *cli.Command) error {
	st, err := cmd.app.Settings.Resume(ctx, cmd.flags.WorkspaceID())
	if err != nil {
		return err
	}
	return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, st)
}

// parseAssignments turns key=value arguments into a settings patch. Unknown
// and read-only keys are rejected rather than silently dropped.
func parseAssignments(args []string) (settings.Patch, error) {
	patch := settings.Patch{}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		if key == settings.KeyPreviousModes || !slices.Contains(settings.Keys, key) {
			return nil, fmt.Errorf("unknown setting %q", key)
		}

		raw := json.RawMessage(value)
		if !json.Valid(raw) {
			quoted, err := json.Marshal(value)
			if err != nil {
				return nil, err
			}
			raw = quoted
		}
		patch[key] = raw
	}
	return patch, nil
}
