// Package mode defines per-module autonomy levels and the catalog of automatable modules.
package mode

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/colonyops/autopilot/internal/core/apperr"
)

// Mode is the autonomy level a module runs in.
type Mode string

const (
	// Manual modules never act on their own.
	Manual Mode = "manual"
	// Copilot modules propose actions that wait for human approval.
	Copilot Mode = "copilot"
	// Autopilot modules act directly, subject to safety limits.
	Autopilot Mode = "autopilot"
)

// All lists every mode in escalation order.
var All = []Mode{Manual, Copilot, Autopilot}

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	switch m {
	case Manual, Copilot, Autopilot:
		return true
	}
	return false
}

// Parse converts a raw string into a Mode, failing with apperr.ErrInvalidArgument.
func Parse(s string) (Mode, error) {
	m := Mode(s)
	if !m.IsValid() {
		return "", apperr.Invalidf("mode %q must be one of manual, copilot, autopilot", s)
	}
	return m, nil
}

// RiskLevel is the per-module risk configuration.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// IsValid reports whether r is a known risk level.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// ModuleMode is the current autonomy configuration of one module in one workspace.
type ModuleMode struct {
	ModuleID  string         `json:"moduleId"`
	Mode      Mode           `json:"mode"`
	RiskLevel RiskLevel      `json:"riskLevel"`
	Config    map[string]any `json:"config"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Default returns the implicit configuration of a module that has never been set.
func Default(moduleID string) ModuleMode {
	return ModuleMode{
		ModuleID:  moduleID,
		Mode:      Manual,
		RiskLevel: RiskMedium,
		Config:    map[string]any{},
	}
}

// Store persists module modes. Rows are upserted, never deleted.
type Store interface {
	// List returns every stored mode row for the workspace, ordered by module id.
	List(ctx context.Context, workspaceID string) ([]ModuleMode, error)
	// Get returns the stored row. Returns ErrNotFound if the module was never set.
	Get(ctx context.Context, workspaceID, moduleID string) (ModuleMode, error)
	// Upsert creates or replaces the row keyed by (workspace, module).
	Upsert(ctx context.Context, workspaceID string, m ModuleMode) error
}

// ErrNotFound is returned by Store.Get for modules without a stored row.
var ErrNotFound = fmt.Errorf("module mode %w", apperr.ErrNotFound)

// DefaultModules is the built-in catalog of automatable marketing modules.
var DefaultModules = []string{
	"ad_manager",
	"budget_optimizer",
	"competitor_monitor",
	"content_generator",
	"crm_followup",
	"email_campaigns",
	"lead_scoring",
	"review_responder",
	"seo_optimizer",
	"social_poster",
}

// Catalog is the set of automatable module ids known to the engine.
type Catalog struct {
	ids []string
}

// NewCatalog builds a catalog from ids, dropping duplicates and keeping them sorted.
func NewCatalog(ids []string) *Catalog {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return &Catalog{ids: out}
}

// IDs returns a copy of the catalog ids.
func (c *Catalog) IDs() []string {
	return slices.Clone(c.ids)
}

// Contains reports whether id is automatable.
func (c *Catalog) Contains(id string) bool {
	_, ok := slices.BinarySearch(c.ids, id)
	return ok
}

// Validate fails with apperr.ErrInvalidArgument for ids outside the catalog.
func (c *Catalog) Validate(id string) error {
	if id == "" {
		return apperr.Invalidf("module id is required")
	}
	if !c.Contains(id) {
		return apperr.Invalidf("module %q is not automatable", id)
	}
	return nil
}
