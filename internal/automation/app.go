package automation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/autopilot/internal/core/actionlog"
	"github.com/colonyops/autopilot/internal/core/config"
	"github.com/colonyops/autopilot/internal/core/eventbus"
	"github.com/colonyops/autopilot/internal/core/mode"
	"github.com/colonyops/autopilot/internal/core/rule"
	"github.com/colonyops/autopilot/internal/data/db"
	"github.com/colonyops/autopilot/internal/data/stores"
)

// App is the central entry point for all automation operations.
// The REST server and CLI commands consume App instead of raw stores.
type App struct {
	Modes         *ModeService
	Settings      *SettingsService
	Approvals     *ApprovalService
	Executor      *Executor
	Rules         *RuleService
	Engine        *Engine
	Notifications *NotificationService
	Activity      *ActivityService
	Proposals     *ProposalService

	Config *config.Config
	DB     *db.DB
	Bus    *eventbus.EventBus
}

// NewApp wires stores, services and event subscriptions. Subscriptions are
// registered here so they exist before the bus starts dispatching.
// Notifications are written synchronously by the services, never through the bus.
func NewApp(cfg *config.Config, database *db.DB, bus *eventbus.EventBus, log zerolog.Logger) *App {
	var (
		modeStore     = stores.NewModeStore(database)
		approvalStore = stores.NewApprovalStore(database)
		actionStore   = stores.NewActionLogStore(database)
		ruleStore     = stores.NewRuleStore(database)
		notifyStore   = stores.NewNotifyStore(database)
		settingsStore = stores.NewSettingsStore(database)
	)

	registry := NewRegistry()
	for moduleID, hc := range cfg.Handlers {
		if moduleID == config.FallbackHandler {
			registry.SetFallback(NewWebhookHandler(hc))
			continue
		}
		registry.Register(moduleID, NewWebhookHandler(hc))
	}

	loc := cfg.Engine.Location()

	notifications := NewNotificationService(notifyStore, settingsStore, bus, log)
	modes := NewModeService(modeStore, actionStore, cfg.Catalog(), bus, log)
	settingsSvc := NewSettingsService(settingsStore, modes, notifications, bus, log)
	executor := NewExecutor(modes, settingsSvc, approvalStore, actionStore, registry, notifications, bus, log, cfg.Engine.HandlerTimeout)
	approvals := NewApprovalService(approvalStore, actionStore, modes, executor, notifications, bus, log)
	engine := NewEngine(
		ruleStore, modes, settingsSvc, approvals, executor,
		NewMetricsRegistry(actionStore, approvalStore),
		bus, log, cfg.Engine.TickInterval, loc,
	)
	engine.Register()

	return &App{
		Modes:         modes,
		Settings:      settingsSvc,
		Approvals:     approvals,
		Executor:      executor,
		Rules:         NewRuleService(ruleStore, modes, log),
		Engine:        engine,
		Notifications: notifications,
		Activity:      NewActivityService(actionStore, loc),
		Proposals:     NewProposalService(modes, approvals, executor, log),
		Config:        cfg,
		DB:            database,
		Bus:           bus,
	}
}

// RecentLimit is the number of log entries on the status dashboard.
const RecentLimit = 10

// Dashboard is the polled overview of one workspace.
type Dashboard struct {
	WorkspaceID      string            `json:"workspaceId"`
	Paused           bool              `json:"paused"`
	Modes            []mode.ModuleMode `json:"modes"`
	ModeDistribution map[mode.Mode]int `json:"modeDistribution"`
	Pending          PendingCount      `json:"pending"`
	Today            actionlog.Stats   `json:"today"`
	ActiveRules      int               `json:"activeRules"`
	UnreadCount      int64             `json:"unreadNotifications"`
	Recent           []actionlog.Entry `json:"recent"`
	GeneratedAt      time.Time         `json:"generatedAt"`
}

// Status assembles the dashboard for a workspace.
func (a *App) Status(ctx context.Context, workspaceID string) (Dashboard, error) {
	d := Dashboard{
		WorkspaceID:      workspaceID,
		ModeDistribution: map[mode.Mode]int{mode.Manual: 0, mode.Copilot: 0, mode.Autopilot: 0},
		GeneratedAt:      time.Now().UTC(),
	}

	snap, err := a.Settings.Get(ctx, workspaceID)
	if err != nil {
		return d, err
	}
	d.Paused = snap.PauseAll

	if d.Modes, err = a.Modes.GetAll(ctx, workspaceID); err != nil {
		return d, err
	}
	for _, m := range d.Modes {
		d.ModeDistribution[m.Mode]++
	}

	if d.Pending, err = a.Approvals.Count(ctx, workspaceID); err != nil {
		return d, err
	}
	if d.Today, err = a.Activity.Today(ctx, workspaceID); err != nil {
		return d, err
	}

	active, err := a.Rules.List(ctx, workspaceID, rule.ListFilter{Status: rule.StatusActive})
	if err != nil {
		return d, err
	}
	d.ActiveRules = len(active)

	if d.UnreadCount, err = a.Notifications.UnreadCount(ctx, workspaceID); err != nil {
		return d, err
	}

	page, err := a.Activity.List(ctx, workspaceID, ActivityQuery{PageSize: RecentLimit})
	if err != nil {
		return d, err
	}
	d.Recent = page.Entries
	return d, nil
}
