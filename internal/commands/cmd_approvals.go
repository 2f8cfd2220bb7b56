package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/huh"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/autopilot/internal/automation"
	"github.com/colonyops/autopilot/internal/core/approval"
	"github.com/colonyops/autopilot/internal/core/styles"
	"github.com/colonyops/autopilot/pkg/iojson"
)

const (
	decisionApprove = "approve"
	decisionReject  = "reject"
	decisionSkip    = "skip"
	decisionQuit    = "quit"
)

// ApprovalsCmd implements the autopilot approvals command group.
type ApprovalsCmd struct {
	flags *Flags
	app   *automation.App

	// list flags
	listModule   string
	listStatus   string
	listPriority string
	listLimit    int

	// approve/reject flags
	notes    string
	reviewer string
}

// NewApprovalsCmd creates a new approvals command.
func NewApprovalsCmd(flags *Flags, app *automation.App) *ApprovalsCmd {
	return &ApprovalsCmd{flags: flags, app: app}
}

// Register adds the approvals command to the application.
func (cmd *ApprovalsCmd) Register(app *cli.Command) *cli.Command {
	reviewFlags := func() []cli.Flag {
		return []cli.Flag{
			&cli.StringFlag{
				Name:        "notes",
				Usage:       "review notes stored on the item",
				Destination: &cmd.notes,
			},
			&cli.StringFlag{
				Name:        "reviewer",
				Usage:       "recorded as the reviewer",
				Sources:     cli.EnvVars("AUTOPILOT_REVIEWER", "USER"),
				Value:       "cli",
				Destination: &cmd.reviewer,
			},
		}
	}

	app.Commands = append(app.Commands, &cli.Command{
		Name:    "approvals",
		Aliases: []string{"ap"},
		Usage:   "Review actions waiting for a human decision",
		Description: `Copilot-mode actions wait in the approval queue until approved or rejected.

Examples:
  autopilot approvals list                       # pending items, most urgent first
  autopilot approvals list --status approved
  autopilot approvals show <id>
  autopilot approvals approve <id> --notes "ok"
  autopilot approvals reject <id> <id>
  autopilot approvals review                     # interactive walk through the queue`,
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List approvals as JSON lines",
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
						Usage:       "filter by status (pending, approved, rejected)",
						Value:       string(approval.StatusPending),
						Destination: &cmd.listStatus,
					},
					&cli.StringFlag{
						Name:        "priority",
						Aliases:     []string{"p"},
						Usage:       "filter by priority (urgent, high, medium, low)",
						Destination: &cmd.listPriority,
					},
					&cli.IntFlag{
						Name:        "limit",
						Aliases:     []string{"n"},
						Usage:       "maximum items to print",
						Destination: &cmd.listLimit,
					},
				},
				Action: cmd.runList,
			},
			{
				Name:      "show",
				Usage:     "Render one approval",
				UsageText: "autopilot approvals show <id>",
				Action:    cmd.runShow,
			},
			{
				Name:      "approve",
				Usage:     "Approve and execute one or more items",
				UsageText: "autopilot approvals approve <id>... [--notes <text>]",
				Flags:     reviewFlags(),
				Action:    cmd.runDecide(approval.BatchApprove),
			},
			{
				Name:      "reject",
				Usage:     "Reject one or more items",
				UsageText: "autopilot approvals reject <id>... [--notes <text>]",
				Flags:     reviewFlags(),
				Action:    cmd.runDecide(approval.BatchReject),
			},
			{
				Name:   "review",
				Usage:  "Walk the pending queue interactively",
				Flags:  reviewFlags()[1:],
				Action: cmd.runReview,
			},
		},
	})

	return app
}

func (cmd *ApprovalsCmd) runList(ctx context.Context, c *cli.Command) error {
	filter := approval.ListFilter{
		ModuleID: cmd.listModule,
		Status:   approval.Status(cmd.listStatus),
		Priority: approval.Priority(cmd.listPriority),
		Limit:    cmd.listLimit,
	}

	items, _, err := cmd.app.Approvals.List(ctx, cmd.flags.WorkspaceID(), filter)
	if err != nil {
		return fmt.Errorf("list approvals: %w", err)
	}
	for _, item := range items {
		if err := iojson.WriteLine(c.Root().Writer, item); err != nil {
			return err
		}
	}
	return nil
}

func (cmd *ApprovalsCmd) runShow(ctx context.Context, c *cli.Command) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: autopilot approvals show <id>")
	}
	item, err := cmd.app.Approvals.Get(ctx, cmd.flags.WorkspaceID(), c.Args().Get(0))
	if err != nil {
		return err
	}

	out, err := renderApproval(item)
	if err != nil {
		return err
	}
	_, err = io.WriteString(c.Root().Writer, out)
	return err
}

func (cmd *ApprovalsCmd) runDecide(action approval.BatchAction) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		if c.NArg() < 1 {
			return fmt.Errorf("usage: autopilot approvals %s <id>...", action)
		}

		review := automation.Review{ReviewedBy: cmd.reviewer, Notes: cmd.notes}
		ws := cmd.flags.WorkspaceID()

		if c.NArg() > 1 {
			res, err := cmd.app.Approvals.Batch(ctx, ws, c.Args().Slice(), action, review)
			if err != nil {
				return err
			}
			return iojson.WriteLine(c.Root().Writer, res)
		}

		d, err := cmd.decide(ctx, ws, c.Args().Get(0), action, review)
		if err != nil {
			return err
		}
		return iojson.WriteLine(c.Root().Writer, d)
	}
}

func (cmd *ApprovalsCmd) decide(ctx context.Context, ws, id string, action approval.BatchAction, review automation.Review) (automation.Decision, error) {
	if action == approval.BatchReject {
		return cmd.app.Approvals.Reject(ctx, ws, id, review)
	}
	return cmd.app.Approvals.Approve(ctx, ws, id, review)
}

func (cmd *ApprovalsCmd) runReview(ctx context.Context, c *cli.Command) error {
	ws := cmd.flags.WorkspaceID()
	items, _, err := cmd.app.Approvals.List(ctx, ws, approval.ListFilter{Status: approval.StatusPending})
	if err != nil {
		return fmt.Errorf("list approvals: %w", err)
	}
	if len(items) == 0 {
		_, _ = fmt.Fprintln(c.Root().Writer, styles.MutedStyle.Render("approval queue is empty"))
		return nil
	}

	w := c.Root().Writer
	for i, item := range items {
		out, err := renderApproval(item)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "%s\n%s", styles.MutedStyle.Render(fmt.Sprintf("%d of %d", i+1, len(items))), out)

		var (
			choice string
			notes  string
		)
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Decision").
					Options(
						huh.NewOption("Approve and execute", decisionApprove),
						huh.NewOption("Reject", decisionReject),
						huh.NewOption("Skip", decisionSkip),
						huh.NewOption("Quit", decisionQuit),
					).
					Value(&choice),
				huh.NewText().
					Title("Notes").
					Description("Optional, stored with the decision").
					Value(&notes),
			),
		).WithTheme(styles.FormTheme())

		if err := form.Run(); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return err
		}

		switch choice {
		case decisionQuit:
			return nil
		case decisionSkip:
			continue
		}

		d, err := cmd.decide(ctx, ws, item.ID, approval.BatchAction(choice),
			automation.Review{ReviewedBy: cmd.reviewer, Notes: strings.TrimSpace(notes)})
		if err != nil {
			_, _ = fmt.Fprintln(w, styles.ErrorStyle.Render(err.Error()))
			continue
		}
		_, _ = fmt.Fprintln(w, styles.ForStatus(string(d.Item.Status)).Render(string(d.Item.Status)))
	}
	return nil
}

// approvalMarkdown lays out an approval for terminal rendering.
func approvalMarkdown(item approval.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", item.Title)
	fmt.Fprintf(&b, "- **ID:** `%s`\n", item.ID)
	fmt.Fprintf(&b, "- **Module:** %s\n", item.ModuleID)
	fmt.Fprintf(&b, "- **Action:** %s\n", item.ActionType)
	fmt.Fprintf(&b, "- **Priority:** %s\n", item.Priority)
	fmt.Fprintf(&b, "- **Status:** %s\n", item.Status)
	fmt.Fprintf(&b, "- **Source:** %s\n", item.Source)
	if item.AIConfidence != nil {
		fmt.Fprintf(&b, "- **Confidence:** %.0f%%\n", *item.AIConfidence*100)
	}
	if item.ReviewedBy != "" {
		fmt.Fprintf(&b, "- **Reviewed by:** %s\n", item.ReviewedBy)
	}
	if item.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", item.Description)
	}
	if item.ReviewNotes != "" {
		fmt.Fprintf(&b, "\n> %s\n", item.ReviewNotes)
	}
	if len(item.Payload) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, item.Payload, "", "  "); err != nil {
			pretty.Reset()
			pretty.Write(item.Payload)
		}
		fmt.Fprintf(&b, "\n```json\n%s\n```\n", pretty.String())
	}
	return b.String()
}

func renderApproval(item approval.Item) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStyles(styles.GlamourStyle()),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", fmt.Errorf("create renderer: %w", err)
	}
	return r.Render(approvalMarkdown(item))
}
