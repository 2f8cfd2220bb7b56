package rule

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/autopilot/internal/core/apperr"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestScheduleConfig_LatestOccurrence(t *testing.T) {
	tests := []struct {
		name string
		cfg  ScheduleConfig
		now  string
		want string
	}{
		{"daily after time", ScheduleConfig{Frequency: Daily, Time: "09:00"}, "2026-03-10T10:00:00Z", "2026-03-10T09:00:00Z"},
		{"daily before time", ScheduleConfig{Frequency: Daily, Time: "09:00"}, "2026-03-10T08:59:00Z", "2026-03-09T09:00:00Z"},
		// 2026-03-10 is a Tuesday.
		{"weekly by name", ScheduleConfig{Frequency: Weekly, Day: "monday", Time: "09:00"}, "2026-03-10T10:00:00Z", "2026-03-09T09:00:00Z"},
		{"weekly same day before time", ScheduleConfig{Frequency: Weekly, Day: "tuesday", Time: "12:00"}, "2026-03-10T10:00:00Z", "2026-03-03T12:00:00Z"},
		{"weekly by number", ScheduleConfig{Frequency: Weekly, Day: "5", Time: "00:00"}, "2026-03-10T10:00:00Z", "2026-03-06T00:00:00Z"},
		{"monthly", ScheduleConfig{Frequency: Monthly, Day: "15", Time: "06:30"}, "2026-03-20T00:00:00Z", "2026-03-15T06:30:00Z"},
		{"monthly previous month", ScheduleConfig{Frequency: Monthly, Day: "15", Time: "06:30"}, "2026-03-10T00:00:00Z", "2026-02-15T06:30:00Z"},
		{"monthly clamps to month length", ScheduleConfig{Frequency: Monthly, Day: "31", Time: "00:00"}, "2026-03-05T00:00:00Z", "2026-02-28T00:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.LatestOccurrence(ts(tt.now), time.UTC)
			require.NoError(t, err)
			assert.True(t, ts(tt.want).Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestScheduleConfig_Due(t *testing.T) {
	cfg := ScheduleConfig{Frequency: Daily, Time: "09:00"}
	created := ts("2026-03-01T00:00:00Z")
	now := ts("2026-03-10T10:00:00Z")

	t.Run("never fired", func(t *testing.T) {
		due, err := cfg.Due(now, nil, created, time.UTC)
		require.NoError(t, err)
		assert.True(t, due)
	})

	t.Run("created after occurrence", func(t *testing.T) {
		due, err := cfg.Due(now, nil, ts("2026-03-10T09:30:00Z"), time.UTC)
		require.NoError(t, err)
		assert.False(t, due)
	})

	t.Run("fires once per period", func(t *testing.T) {
		last := ts("2026-03-10T09:00:05Z")
		due, err := cfg.Due(now, &last, created, time.UTC)
		require.NoError(t, err)
		assert.False(t, due)

		due, err = cfg.Due(now.Add(24*time.Hour), &last, created, time.UTC)
		require.NoError(t, err)
		assert.True(t, due)
	})

	t.Run("biweekly skips alternate weeks", func(t *testing.T) {
		bw := ScheduleConfig{Frequency: Biweekly, Day: "monday", Time: "09:00"}
		last := ts("2026-03-02T09:00:00Z")

		due, err := bw.Due(ts("2026-03-09T10:00:00Z"), &last, created, time.UTC)
		require.NoError(t, err)
		assert.False(t, due)

		due, err = bw.Due(ts("2026-03-16T10:00:00Z"), &last, created, time.UTC)
		require.NoError(t, err)
		assert.True(t, due)
	})
}

func TestDay_UnmarshalJSON(t *testing.T) {
	var cfg ScheduleConfig
	require.NoError(t, json.Unmarshal([]byte(`{"frequency":"monthly","day":1,"time":"09:00"}`), &cfg))
	assert.Equal(t, Day("1"), cfg.Day)

	require.NoError(t, json.Unmarshal([]byte(`{"frequency":"weekly","day":"Friday"}`), &cfg))
	assert.Equal(t, Day("friday"), cfg.Day)
}

func TestEventConfig_Matches(t *testing.T) {
	var cfg EventConfig
	require.NoError(t, json.Unmarshal([]byte(`{"event":"review.*","min_rating":4,"platform":"google"}`), &cfg))
	assert.Equal(t, "review.*", cfg.Event)

	tests := []struct {
		name string
		ev   Event
		want bool
	}{
		{"matches", Event{Name: "review.created", Data: map[string]any{"rating": 5.0, "platform": "google"}}, true},
		{"rating too low", Event{Name: "review.created", Data: map[string]any{"rating": 3.0, "platform": "google"}}, false},
		{"wrong platform", Event{Name: "review.created", Data: map[string]any{"rating": 5.0, "platform": "yelp"}}, false},
		{"wrong event", Event{Name: "lead.created", Data: map[string]any{"rating": 5.0, "platform": "google"}}, false},
		{"missing field", Event{Name: "review.created", Data: map[string]any{"platform": "google"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.Matches(tt.ev))
		})
	}
}

func TestOperator_Compare(t *testing.T) {
	assert.True(t, OpLess.Compare(1.5, 2))
	assert.False(t, OpLess.Compare(2, 2))
	assert.True(t, OpLessEqual.Compare(2, 2))
	assert.True(t, OpGreater.Compare(3, 2))
	assert.True(t, OpGreaterEqual.Compare(2, 2))
	assert.True(t, OpEqual.Compare(2, 2))
	assert.False(t, Operator("!=").Compare(1, 2))
}

func TestParseWindow(t *testing.T) {
	d, err := ParseWindow("7d")
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, d)

	d, err = ParseWindow("30m")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, d)

	_, err = ParseWindow("xd")
	require.Error(t, err)

	assert.Equal(t, DefaultWindow, ThresholdConfig{}.WindowDuration())
}

func TestRule_Validate(t *testing.T) {
	valid := Rule{
		ModuleID:      "ad_manager",
		Name:          "Pause low ROAS",
		TriggerType:   TriggerThreshold,
		TriggerConfig: json.RawMessage(`{"metric":"roas","operator":"<","value":2,"window":"1d"}`),
		ActionType:    "pause_campaign",
		Status:        StatusActive,
	}
	require.NoError(t, valid.Validate())

	t.Run("missing fields", func(t *testing.T) {
		r := valid
		r.Name = " "
		r.ActionType = ""
		err := r.Validate()
		require.ErrorIs(t, err, apperr.ErrInvalidArgument)

		var fieldErrs criterio.FieldErrors
		require.ErrorAs(t, err, &fieldErrs)
		assert.NotEmpty(t, fieldErrs)
	})

	t.Run("bad threshold operator", func(t *testing.T) {
		r := valid
		r.TriggerConfig = json.RawMessage(`{"metric":"roas","operator":"!=","value":2}`)
		err := r.Validate()
		require.True(t, errors.Is(err, apperr.ErrInvalidArgument))
	})

	t.Run("bad schedule time", func(t *testing.T) {
		r := valid
		r.TriggerType = TriggerSchedule
		r.TriggerConfig = json.RawMessage(`{"frequency":"daily","time":"9am"}`)
		require.ErrorIs(t, r.Validate(), apperr.ErrInvalidArgument)
	})

	t.Run("action hints out of range", func(t *testing.T) {
		tests := []struct {
			name   string
			config string
		}{
			{"confidence above one", `{"confidence":1.5}`},
			{"negative confidence", `{"confidence":-0.1}`},
			{"unknown priority", `{"priority":"critical"}`},
			{"confidence wrong type", `{"confidence":"high"}`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				r := valid
				r.ActionConfig = json.RawMessage(tt.config)
				require.ErrorIs(t, r.Validate(), apperr.ErrInvalidArgument)
			})
		}

		r := valid
		r.ActionConfig = json.RawMessage(`{"confidence":0.9,"priority":"urgent","budget":500}`)
		require.NoError(t, r.Validate())
	})

	t.Run("event without name", func(t *testing.T) {
		r := valid
		r.TriggerType = TriggerEvent
		r.TriggerConfig = json.RawMessage(`{"min_rating":4}`)
		require.ErrorIs(t, r.Validate(), apperr.ErrInvalidArgument)
	})
}

func TestRule_Hints(t *testing.T) {
	r := Rule{Name: "Weekly digest", ActionConfig: json.RawMessage(`{"priority":"high","confidence":0.4}`)}
	h, err := r.Hints()
	require.NoError(t, err)
	assert.Equal(t, "Weekly digest", h.Title)
	assert.Equal(t, "high", h.Priority)
	require.NotNil(t, h.Confidence)
	assert.InDelta(t, 0.4, *h.Confidence, 1e-9)
}
