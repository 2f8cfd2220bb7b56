package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/autopilot/internal/automation"
	"github.com/colonyops/autopilot/internal/core/approval"
	"github.com/colonyops/autopilot/internal/core/mode"
	"github.com/colonyops/autopilot/internal/core/styles"
	"github.com/colonyops/autopilot/pkg/iojson"
)

// StatusCmd implements the autopilot status command.
type StatusCmd struct {
	flags *Flags
	app   *automation.App

	json bool
}

// NewStatusCmd creates a new status command.
func NewStatusCmd(flags *Flags, app *automation.App) *StatusCmd {
	return &StatusCmd{flags: flags, app: app}
}

// Register adds the status command to the application.
func (cmd *StatusCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "status",
		Usage:     "Show the automation dashboard for a workspace",
		UsageText: "autopilot status [--json]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the dashboard as JSON",
				Destination: &cmd.json,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *StatusCmd) run(ctx context.Context, c *cli.Command) error {
	d, err := cmd.app.Status(ctx, cmd.flags.WorkspaceID())
	if err != nil {
		return fmt.Errorf("load status: %w", err)
	}

	if cmd.json {
		return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, d)
	}
	_, err = io.WriteString(c.Root().Writer, renderDashboard(d))
	return err
}

func renderDashboard(d automation.Dashboard) string {
	var b strings.Builder
	divider := styles.DividerStyle.Render(strings.Repeat("─", 48))

	state := styles.SuccessStyle.Render("running")
	if d.Paused {
		state = styles.ErrorStyle.Render("paused")
	}

	b.WriteString(styles.HeaderStyle.Render("Autopilot · " + d.WorkspaceID))
	b.WriteString("  " + state + "\n")
	b.WriteString(divider + "\n")

	row := func(label, value string) {
		b.WriteString(styles.LabelStyle.Render(label) + value + "\n")
	}

	row("Modes", fmt.Sprintf("%s  %s  %s",
		styles.ForMode(string(mode.Autopilot)).Render(fmt.Sprintf("%d autopilot", d.ModeDistribution[mode.Autopilot])),
		styles.ForMode(string(mode.Copilot)).Render(fmt.Sprintf("%d copilot", d.ModeDistribution[mode.Copilot])),
		styles.ForMode(string(mode.Manual)).Render(fmt.Sprintf("%d manual", d.ModeDistribution[mode.Manual])),
	))

	pending := fmt.Sprintf("%d", d.Pending.Total)
	if n := d.Pending.ByPriority[approval.PriorityUrgent]; n > 0 {
		pending += "  " + styles.ForPriority(string(approval.PriorityUrgent)).Render(fmt.Sprintf("%d urgent", n))
	}
	row("Pending approvals", pending)
	row("Actions today", fmt.Sprintf("%d  %s", d.Today.Total,
		styles.MutedStyle.Render(fmt.Sprintf("%.0f%% success", d.Today.SuccessRate*100))))
	row("Active rules", fmt.Sprintf("%d", d.ActiveRules))
	row("Unread notifications", fmt.Sprintf("%d", d.UnreadCount))

	modes := make([]string, 0, len(d.Modes))
	for _, m := range d.Modes {
		modes = append(modes, styles.LabelStyle.Render(m.ModuleID)+styles.ForMode(string(m.Mode)).Render(string(m.Mode)))
	}
	b.WriteString("\n" + styles.PanelStyle.Render(strings.Join(modes, "\n")) + "\n")

	if len(d.Recent) > 0 {
		b.WriteString("\n" + styles.HeaderStyle.Render("Recent activity") + "\n")
		for _, e := range d.Recent {
			line := lipgloss.JoinHorizontal(lipgloss.Top,
				styles.MutedStyle.Render(e.CreatedAt.Local().Format("15:04")+"  "),
				styles.ForStatus(string(e.Status)).Width(11).Render(string(e.Status)),
				styles.ValueStyle.Render(e.Description),
			)
			b.WriteString(line + "\n")
		}
	}

	return b.String()
}
