// Package settings defines the workspace-wide safety configuration read by the
// executor and rule engine on every decision.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/hay-kot/criterio"

	"github.com/colonyops/autopilot/internal/core/apperr"
	"github.com/colonyops/autopilot/internal/core/mode"
)

// Known setting keys. Anything else in an update is dropped.
const (
	KeyPauseAll            = "pauseAll"
	KeyDefaultMode         = "defaultMode"
	KeyMaxActionsPerDay    = "maxActionsPerDay"
	KeyMaxActionsPerHour   = "maxActionsPerHour"
	KeyMonthlyBudgetLimit  = "monthlyBudgetLimit"
	KeyConfidenceThreshold = "confidenceThreshold"
	KeyNotifyOnApproval    = "notifyOnApproval"
	KeyNotifyOnCompleted   = "notifyOnCompleted"
	KeyNotifyOnFailure     = "notifyOnFailure"
	KeyNotifyOnRateLimit   = "notifyOnRateLimit"
	KeyRiskLevel           = "riskLevel"
	KeyPreviousModes       = "previousModes"
)

// Keys lists every persisted key.
var Keys = []string{
	KeyPauseAll,
	KeyDefaultMode,
	KeyMaxActionsPerDay,
	KeyMaxActionsPerHour,
	KeyMonthlyBudgetLimit,
	KeyConfidenceThreshold,
	KeyNotifyOnApproval,
	KeyNotifyOnCompleted,
	KeyNotifyOnFailure,
	KeyNotifyOnRateLimit,
	KeyRiskLevel,
	KeyPreviousModes,
}

// Settings is the typed view of a workspace's key/value settings.
// Zero caps mean unlimited.
type Settings struct {
	PauseAll            bool                 `json:"pauseAll"`
	DefaultMode         mode.Mode            `json:"defaultMode"`
	MaxActionsPerDay    int                  `json:"maxActionsPerDay"`
	MaxActionsPerHour   int                  `json:"maxActionsPerHour"`
	MonthlyBudgetLimit  float64              `json:"monthlyBudgetLimit"`
	ConfidenceThreshold float64              `json:"confidenceThreshold"`
	NotifyOnApproval    bool                 `json:"notifyOnApproval"`
	NotifyOnCompleted   bool                 `json:"notifyOnCompleted"`
	NotifyOnFailure     bool                 `json:"notifyOnFailure"`
	NotifyOnRateLimit   bool                 `json:"notifyOnRateLimit"`
	RiskLevel           mode.RiskLevel       `json:"riskLevel"`
	PreviousModes       map[string]mode.Mode `json:"previousModes"`
}

// Defaults returns the settings of a workspace that has never saved any.
func Defaults() Settings {
	return Settings{
		DefaultMode:         mode.Manual,
		MaxActionsPerDay:    100,
		MaxActionsPerHour:   20,
		MonthlyBudgetLimit:  1000,
		ConfidenceThreshold: 0.7,
		NotifyOnApproval:    true,
		NotifyOnCompleted:   true,
		NotifyOnFailure:     true,
		NotifyOnRateLimit:   true,
		RiskLevel:           mode.RiskMedium,
		PreviousModes:       map[string]mode.Mode{},
	}
}

// FromValues overlays stored raw values onto Defaults. Values that fail to decode
// keep their default.
func FromValues(values map[string]json.RawMessage) Settings {
	s := Defaults()
	for key, raw := range values {
		_ = s.set(key, raw)
	}
	return s
}

// Values returns the raw JSON value of every known key.
func (s Settings) Values() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(Keys))
	for _, key := range Keys {
		var v any
		switch key {
		case KeyPauseAll:
			v = s.PauseAll
		case KeyDefaultMode:
			v = s.DefaultMode
		case KeyMaxActionsPerDay:
			v = s.MaxActionsPerDay
		case KeyMaxActionsPerHour:
			v = s.MaxActionsPerHour
		case KeyMonthlyBudgetLimit:
			v = s.MonthlyBudgetLimit
		case KeyConfidenceThreshold:
			v = s.ConfidenceThreshold
		case KeyNotifyOnApproval:
			v = s.NotifyOnApproval
		case KeyNotifyOnCompleted:
			v = s.NotifyOnCompleted
		case KeyNotifyOnFailure:
			v = s.NotifyOnFailure
		case KeyNotifyOnRateLimit:
			v = s.NotifyOnRateLimit
		case KeyRiskLevel:
			v = s.RiskLevel
		case KeyPreviousModes:
			v = s.PreviousModes
		}
		b, _ := json.Marshal(v)
		out[key] = b
	}
	return out
}

func (s *Settings) set(key string, raw json.RawMessage) error {
	switch key {
	case KeyPauseAll:
		return json.Unmarshal(raw, &s.PauseAll)
	case KeyDefaultMode:
		return json.Unmarshal(raw, &s.DefaultMode)
	case KeyMaxActionsPerDay:
		return json.Unmarshal(raw, &s.MaxActionsPerDay)
	case KeyMaxActionsPerHour:
		return json.Unmarshal(raw, &s.MaxActionsPerHour)
	case KeyMonthlyBudgetLimit:
		return json.Unmarshal(raw, &s.MonthlyBudgetLimit)
	case KeyConfidenceThreshold:
		return json.Unmarshal(raw, &s.ConfidenceThreshold)
	case KeyNotifyOnApproval:
		return json.Unmarshal(raw, &s.NotifyOnApproval)
	case KeyNotifyOnCompleted:
		return json.Unmarshal(raw, &s.NotifyOnCompleted)
	case KeyNotifyOnFailure:
		return json.Unmarshal(raw, &s.NotifyOnFailure)
	case KeyNotifyOnRateLimit:
		return json.Unmarshal(raw, &s.NotifyOnRateLimit)
	case KeyRiskLevel:
		return json.Unmarshal(raw, &s.RiskLevel)
	case KeyPreviousModes:
		m := map[string]mode.Mode{}
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		s.PreviousModes = m
		return nil
	}
	return nil
}

// Patch is a partial update decoded from a client. Unknown keys and
// previousModes are dropped; previousModes is owned by pause/resume.
type Patch map[string]json.RawMessage

// DecodePatch parses a JSON object into a Patch, keeping only writable keys.
func DecodePatch(data []byte) (Patch, error) {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, apperr.Invalidf("settings must be a JSON object: %v", err)
	}
	p := Patch{}
	for key, v := range raw {
		if isWritable(key) {
			p[key] = v
		}
	}
	return p, nil
}

func isWritable(key string) bool {
	if key == KeyPreviousModes {
		return false
	}
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}

// Apply returns a copy of s with the patch applied and validated.
func (s Settings) Apply(p Patch) (Settings, error) {
	next := s
	next.PreviousModes = maps.Clone(s.PreviousModes)

	var errs criterio.FieldErrorsBuilder
	for key, raw := range p {
		if !isWritable(key) {
			continue
		}
		if err := next.set(key, raw); err != nil {
			errs = errs.Append(key, fmt.Errorf("invalid value: %w", err))
		}
	}
	if err := errs.ToError(); err != nil {
		return s, apperr.Invalid(err)
	}
	if err := next.Validate(); err != nil {
		return s, err
	}
	return next, nil
}

// Validate checks value ranges.
func (s Settings) Validate() error {
	var errs criterio.FieldErrorsBuilder
	if !s.DefaultMode.IsValid() {
		errs = errs.Append(KeyDefaultMode, fmt.Errorf("must be one of manual, copilot, autopilot"))
	}
	if s.MaxActionsPerDay < 0 {
		errs = errs.Append(KeyMaxActionsPerDay, fmt.Errorf("must not be negative"))
	}
	if s.MaxActionsPerHour < 0 {
		errs = errs.Append(KeyMaxActionsPerHour, fmt.Errorf("must not be negative"))
	}
	if s.MonthlyBudgetLimit < 0 {
		errs = errs.Append(KeyMonthlyBudgetLimit, fmt.Errorf("must not be negative"))
	}
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		errs = errs.Append(KeyConfidenceThreshold, fmt.Errorf("must be between 0 and 1"))
	}
	if !s.RiskLevel.IsValid() {
		errs = errs.Append(KeyRiskLevel, fmt.Errorf("must be one of low, medium, high"))
	}
	return apperr.Invalid(errs.ToError())
}

// Store persists raw settings values per workspace.
type Store interface {
	// Load returns every stored value. Missing keys are absent from the map.
	Load(ctx context.Context, workspaceID string) (map[string]json.RawMessage, error)
	// Save upserts the given values.
	Save(ctx context.Context, workspaceID string, values map[string]json.RawMessage) error
}
