package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/colonyops/autopilot/internal/core/actionlog"
	"github.com/colonyops/autopilot/internal/core/apperr"
	"github.com/colonyops/autopilot/internal/core/approval"
)

// ErrUnknownMetric is returned by a MetricsProvider that does not serve a metric.
var ErrUnknownMetric = fmt.Errorf("%w: unknown metric", apperr.ErrInvalidArgument)

// MetricsProvider supplies the current windowed value of a named metric for
// threshold rules. Modules register their own; the engine falls back to the
// built-in action and approval counters.
type MetricsProvider interface {
	Metric(ctx context.Context, workspaceID, name string, window time.Duration) (float64, error)
}

// MetricsFunc adapts a function to MetricsProvider.
type MetricsFunc func(ctx context.Context, workspaceID, name string, window time.Duration) (float64, error)

// Metric calls f.
func (f MetricsFunc) Metric(ctx context.Context, workspaceID, name string, window time.Duration) (float64, error) {
	return f(ctx, workspaceID, name, window)
}

// StaticMetrics serves fixed values. Unknown names return ErrUnknownMetric.
type StaticMetrics map[string]float64

// Metric returns the fixed value of name.
func (m StaticMetrics) Metric(_ context.Context, _, name string, _ time.Duration) (float64, error) {
	v, ok := m[name]
	if !ok {
		return 0, ErrUnknownMetric
	}
	return v, nil
}

// Built-in metric names.
const (
	MetricActionsCompleted = "actions.completed"
	MetricActionsFailed    = "actions.failed"
	MetricActionsCancelled = "actions.cancelled"
	MetricApprovalsPending = "approvals.pending"
)

// builtinMetrics computes counters from the action log and approval queue for
// one module.
type builtinMetrics struct {
	actions   actionlog.Store
	approvals approval.Store
	now       func() time.Time
}

func (b *builtinMetrics) value(ctx context.Context, workspaceID, moduleID, name string, window time.Duration) (float64, error) {
	since := b.now().Add(-window)

	var status actionlog.Status
	switch name {
	case MetricActionsCompleted:
		status = actionlog.StatusCompleted
	case MetricActionsFailed:
		status = actionlog.StatusFailed
	case MetricActionsCancelled:
		status = actionlog.StatusCancelled
	case MetricApprovalsPending:
		n, err := b.approvals.Count(ctx, workspaceID, approval.ListFilter{ModuleID: moduleID, Status: approval.StatusPending})
		return float64(n), err
	default:
		return 0, fmt.Errorf("%w %q", ErrUnknownMetric, name)
	}

	n, err := b.actions.Count(ctx, workspaceID, actionlog.Filter{ModuleID: moduleID, Status: status, Since: since})
	return float64(n), err
}

// MetricsRegistry resolves threshold metrics for a module.
type MetricsRegistry struct {
	mu        sync.RWMutex
	providers map[string]MetricsProvider
	builtin   *builtinMetrics
}

// NewMetricsRegistry creates a registry backed by the built-in counters.
func NewMetricsRegistry(actions actionlog.Store, approvals approval.Store) *MetricsRegistry {
	return &MetricsRegistry{
		providers: map[string]MetricsProvider{},
		builtin:   &builtinMetrics{actions: actions, approvals: approvals, now: time.Now},
	}
}

// Register binds a provider to moduleID.
func (r *MetricsRegistry) Register(moduleID string, p MetricsProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[moduleID] = p
}

// Value asks the module's provider first and falls back to the built-in counters
// when the provider does not know the metric.
func (r *MetricsRegistry) Value(ctx context.Context, workspaceID, moduleID, name string, window time.Duration) (float64, error) {
	r.mu.RLock()
	p, ok := r.providers[moduleID]
	r.mu.RUnlock()

	if ok {
		v, err := p.Metric(ctx, workspaceID, name, window)
		if !errors.Is(err, ErrUnknownMetric) {
			return v, err
		}
	}
	return r.builtin.value(ctx, workspaceID, moduleID, name, window)
}
