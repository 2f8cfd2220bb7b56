package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/autopilot/internal/automation"
	"github.com/colonyops/autopilot/internal/core/rule"
	"github.com/colonyops/autopilot/pkg/iojson"
)

// RulesCmd implements the autopilot rules command group.
type RulesCmd struct {
	flags *Flags
	app   *automation.App

	listModule  string
	listStatus  string
	listTrigger string

	createInput iojson.FileReader[rule.Rule]
}

// NewRulesCmd creates a new rules command.
func NewRulesCmd(flags *Flags, app *automation.App) *RulesCmd {
	return &RulesCmd{flags: flags, app: app}
}

// Register adds the rules command to the application.
func (cmd *RulesCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "rules",
		Usage: "Manage automation rules",
		Description: `Rules fire an action on a schedule, on an event, or when a metric
crosses a threshold.

Examples:
  autopilot rules list --status active
  autopilot rules create -f weekly-digest.json
  echo '{"moduleId":"email_marketer",...}' | autopilot rules create
  autopilot rules toggle <id>
  autopilot rules run <id>
  autopilot rules delete <id>`,
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List rules as JSON lines",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "module",
						Aliases:     []string{"m"},
						Usage:       "filter by module",
						Destination: &cmd.listModule,
					},
					&cli.StringFlag{
						Name:        "status",
						Aliases:     []string{"s"},
						Usage:       "filter by status (active, inactive)",
						Destination: &cmd.listStatus,
					},
					&cli.StringFlag{
						Name:        "trigger",
						Aliases:     []string{"t"},
						Usage:       "filter by trigger type (schedule, event, threshold)",
						Destination: &cmd.listTrigger,
					},
				},
				Action: cmd.runList,
			},
			{
				Name:      "create",
				Usage:     "Create a rule from JSON",
				UsageText: "autopilot rules create [-f <file>]",
				Flags:     []cli.Flag{cmd.createInput.Flag()},
				Action:    cmd.runCreate,
			},
			{
				Name:      "toggle",
				Usage:     "Flip a rule between active and inactive",
				UsageText: "autopilot rules toggle <id>",
				Action:    cmd.runToggle,
			},
			{
				Name:      "run",
				Usage:     "Fire a rule now, ignoring its trigger",
				UsageText: "autopilot rules run <id>",
				Action:    cmd.runRun,
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Delete a rule",
				UsageText: "autopilot rules delete <id>",
				Action:    cmd.runDelete,
			},
		},
	})

	return app
}

func (cmd *RulesCmd) runList(ctx context.Context, c *cli.Command) error {
	filter := rule.ListFilter{
		ModuleID:    cmd.listModule,
		Status:      rule.Status(cmd.listStatus),
		TriggerType: rule.TriggerType(cmd.listTrigger),
	}
	rules, err := cmd.app.Rules.List(ctx, cmd.flags.WorkspaceID(), filter)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	for _, r := range rules {
		if err := iojson.WriteLine(c.Root().Writer, r); err != nil {
			return err
		}
	}
	return nil
}

func (cmd *RulesCmd) runCreate(ctx context.Context, c *cli.Command) error {
	r, err := cmd.createInput.Read()
	if err != nil {
		return err
	}
	if err := cmd.app.Rules.Create(ctx, cmd.flags.WorkspaceID(), &r); err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return iojson.WriteLine(c.Root().Writer, r)
}

func (cmd *RulesCmd) runToggle(ctx context.Context, c *cli.Command) error {
	id, err := ruleID(c, "toggle")
	if err != nil {
		return err
	}
	r, err := cmd.app.Rules.Toggle(ctx, cmd.flags.WorkspaceID(), id)
	if err != nil {
		return err
	}
	return iojson.WriteLine(c.Root().Writer, r)
}

func (cmd *RulesCmd) runRun(ctx context.Context, c *cli.Command) error {
	id, err := ruleID(c, "run")
	if err != nil {
		return err
	}
	res, err := cmd.app.Engine.RunRule(ctx, cmd.flags.WorkspaceID(), id)
	if err != nil {
		return err
	}
	return iojson.WriteLine(c.Root().Writer, res)
}

func (cmd *RulesCmd) runDelete(ctx context.Context, c *cli.Command) error {
	id, err := ruleID(c, "delete")
	if err != nil {
		return err
	}
	if err := cmd.app.Rules.Delete(ctx, cmd.flags.WorkspaceID(), id); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.Root().Writer, "deleted")
	return nil
}

func ruleID(c *cli.Command, verb string) (string, error) {
	if c.NArg() < 1 {
		return "", fmt.Errorf("usage: autopilot rules %s <id>", verb)
	}
	return c.Args().Get(0), nil
}
