package automation

import (
	"context"
	"time"

	"github.com/colonyops/autopilot/internal/core/actionlog"
	"github.com/colonyops/autopilot/internal/core/apperr"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 200
	DefaultStatDays = 7
	MaxStatDays     = 90
)

// ActivityService is the read side of the action log.
type ActivityService struct {
	actions actionlog.Store
	loc     *time.Location
	now     func() time.Time
}

// NewActivityService creates a new ActivityService. Day buckets use loc, UTC when nil.
func NewActivityService(actions actionlog.Store, loc *time.Location) *ActivityService {
	if loc == nil {
		loc = time.UTC
	}
	return &ActivityService{actions: actions, loc: loc, now: time.Now}
}

// ActivityQuery selects one page of the log.
type ActivityQuery struct {
	ModuleID   string
	Status     actionlog.Status
	ActionType string
	Since      time.Time
	Until      time.Time
	Query      string
	Page       int
	PageSize   int
}

// ActivityPage is one page of log entries.
type ActivityPage struct {
	Entries  []actionlog.Entry `json:"entries"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
	HasMore  bool              `json:"hasMore"`
}

// Get returns one entry.
func (s *ActivityService) Get(ctx context.Context, workspaceID, id string) (actionlog.Entry, error) {
	return s.actions.Get(ctx, workspaceID, id)
}

// List returns one page of entries newest first. Pages start at 1.
func (s *ActivityService) List(ctx context.Context, workspaceID string, q ActivityQuery) (ActivityPage, error) {
	if q.Status != "" && !q.Status.IsValid() {
		return ActivityPage{}, apperr.Invalidf("status %q must be one of completed, failed, cancelled, queued", q.Status)
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Until.Before(q.Since) {
		return ActivityPage{}, apperr.Invalidf("until must not be before since")
	}
	if q.Page < 1 {
		q.Page = 1
	}
	switch {
	case q.PageSize <= 0:
		q.PageSize = DefaultPageSize
	case q.PageSize > MaxPageSize:
		q.PageSize = MaxPageSize
	}

	filter := actionlog.Filter{
		ModuleID:   q.ModuleID,
		Status:     q.Status,
		ActionType: q.ActionType,
		Since:      q.Since,
		Until:      q.Until,
		Query:      q.Query,
		Limit:      q.PageSize,
		Offset:     (q.Page - 1) * q.PageSize,
	}

	entries, err := s.actions.List(ctx, workspaceID, filter)
	if err != nil {
		return ActivityPage{}, err
	}
	total, err := s.actions.Count(ctx, workspaceID, filter)
	if err != nil {
		return ActivityPage{}, err
	}
	if entries == nil {
		entries = []actionlog.Entry{}
	}

	return ActivityPage{
		Entries:  entries,
		Total:    total,
		Page:     q.Page,
		PageSize: q.PageSize,
		HasMore:  int64(filter.Offset+len(entries)) < total,
	}, nil
}

// ActivityStats aggregates the last Days days of the log.
type ActivityStats struct {
	actionlog.Stats
	Days   int                  `json:"days"`
	Since  time.Time            `json:"since"`
	PerDay []actionlog.DayCount `json:"perDay"`
}

// Stats aggregates the log over the last days days, including today. Non-positive
// days uses DefaultStatDays.
func (s *ActivityService) Stats(ctx context.Context, workspaceID string, days int) (ActivityStats, error) {
	switch {
	case days <= 0:
		days = DefaultStatDays
	case days > MaxStatDays:
		return ActivityStats{}, apperr.Invalidf("days must be at most %d", MaxStatDays)
	}

	now := s.now().In(s.loc)
	y, m, d := now.Date()
	since := time.Date(y, m, d, 0, 0, 0, 0, s.loc).AddDate(0, 0, -(days - 1))

	stats, err := s.actions.Stats(ctx, workspaceID, since, now.Add(time.Nanosecond))
	if err != nil {
		return ActivityStats{}, err
	}
	perDay, err := s.actions.CountByDay(ctx, workspaceID, since, s.loc)
	if err != nil {
		return ActivityStats{}, err
	}
	if perDay == nil {
		perDay = []actionlog.DayCount{}
	}

	return ActivityStats{Stats: stats, Days: days, Since: since, PerDay: perDay}, nil
}

// Today returns the stats of the current calendar day.
func (s *ActivityService) Today(ctx context.Context, workspaceID string) (actionlog.Stats, error) {
	now := s.now().In(s.loc)
	y, m, d := now.Date()
	return s.actions.Stats(ctx, workspaceID, time.Date(y, m, d, 0, 0, 0, 0, s.loc), now.Add(time.Nanosecond))
}
