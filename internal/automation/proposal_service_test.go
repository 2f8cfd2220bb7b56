package automation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/autopilot/internal/core/actionlog"
	"github.com/colonyops/autopilot/internal/core/apperr"
	"github.com/colonyops/autopilot/internal/core/approval"
	"github.com/colonyops/autopilot/internal/core/mode"
)

func blogProposal() Proposal {
	return Proposal{
		ModuleID:   "content_generator",
		ActionType: "publish_article",
		Title:      "Spring launch article",
		Payload:    json.RawMessage(`{"slug":"spring-launch"}`),
		Confidence: ptr(0.9),
		Priority:   approval.PriorityHigh,
	}
}

func TestProposalService_RoutesByMode(t *testing.T) {
	ctx := context.Background()

	t.Run("manual refuses", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.Proposals.Submit(ctx, ws, blogProposal())
		require.ErrorIs(t, err, ErrManualMode)
		assert.Empty(t, h.actions(t, "publish_article"), "refused proposals are not logged")
	})

	t.Run("copilot queues", func(t *testing.T) {
		h := newHarness(t)
		h.setMode(t, "content_generator", mode.Copilot)

		res, err := h.Proposals.Submit(ctx, ws, blogProposal())
		require.NoError(t, err)
		assert.Equal(t, OutcomeQueued, res.Outcome)
		require.NotNil(t, res.Approval)
		assert.Equal(t, approval.SourceAI, res.Approval.Source)
		assert.Equal(t, approval.PriorityHigh, res.Approval.Priority)
		assert.Empty(t, h.actions(t, "publish_article"))
	})

	t.Run("autopilot executes", func(t *testing.T) {
		h := newHarness(t)
		h.setMode(t, "content_generator", mode.Autopilot)

		res, err := h.Proposals.Submit(ctx, ws, blogProposal())
		require.NoError(t, err)
		assert.Equal(t, OutcomeExecuted, res.Outcome)
		require.NotNil(t, res.Entry)
		assert.Equal(t, actionlog.StatusCompleted, res.Entry.Status)
	})

	t.Run("autopilot below threshold queues", func(t *testing.T) {
		h := newHarness(t)
		h.setMode(t, "content_generator", mode.Autopilot)

		p := blogProposal()
		p.Confidence = ptr(0.3)
		res, err := h.Proposals.Submit(ctx, ws, p)
		require.NoError(t, err)
		assert.Equal(t, OutcomeQueued, res.Outcome)
		assert.Equal(t, approval.SourceConfidence, res.Approval.Source)
	})

	t.Run("autopilot handler failure", func(t *testing.T) {
		h := newHarness(t)
		h.setMode(t, "content_generator", mode.Autopilot)
		h.Executor.Registry().Register("content_generator", HandlerFunc(func(context.Context, string, json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("cms unavailable")
		}))

		res, err := h.Proposals.Submit(ctx, ws, blogProposal())
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.Equal(t, actionlog.StatusFailed, res.Entry.Status)
	})
}

func TestProposal_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Proposal)
		ok     bool
	}{
		{name: "valid", mutate: func(*Proposal) {}, ok: true},
		{name: "missing module", mutate: func(p *Proposal) { p.ModuleID = "" }},
		{name: "missing action", mutate: func(p *Proposal) { p.ActionType = " " }},
		{name: "confidence too high", mutate: func(p *Proposal) { p.Confidence = ptr(1.01) }},
		{name: "bad payload", mutate: func(p *Proposal) { p.Payload = json.RawMessage(`{"a":`) }},
		{name: "bad priority", mutate: func(p *Proposal) { p.Priority = "whenever" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := blogProposal()
			tt.mutate(&p)
			err := p.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
		})
	}
}

func TestStream_Collect(t *testing.T) {
	ctx := context.Background()

	t.Run("streamed text becomes the description", func(t *testing.T) {
		s := NewStream(ctx, 2, func(_ context.Context, emit Emit) (Proposal, error) {
			for _, part := range []string{"Spring ", "is ", "here."} {
				if err := emit(part); err != nil {
					return Proposal{}, err
				}
			}
			return blogProposal(), nil
		})

		p, err := s.Collect(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Spring is here.", p.Description)
		assert.Equal(t, "publish_article", p.ActionType)

		_, err = s.Collect(ctx)
		require.ErrorIs(t, err, ErrStreamConsumed)
	})

	t.Run("explicit description wins", func(t *testing.T) {
		s := NewStream(ctx, 1, func(_ context.Context, emit Emit) (Proposal, error) {
			_ = emit("draft text")
			p := blogProposal()
			p.Description = "final summary"
			return p, nil
		})

		p, err := s.Collect(ctx)
		require.NoError(t, err)
		assert.Equal(t, "final summary", p.Description)
	})

	t.Run("producer error", func(t *testing.T) {
		boom := errors.New("model overloaded")
		s := NewStream(ctx, 1, func(_ context.Context, emit Emit) (Proposal, error) {
			_ = emit("partial")
			return Proposal{}, boom
		})

		_, err := s.Collect(ctx)
		require.ErrorIs(t, err, boom)
	})

	t.Run("cancelled consumer stops the producer", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		stopped := make(chan struct{})
		s := NewStream(ctx, 1, func(pctx context.Context, emit Emit) (Proposal, error) {
			defer close(stopped)
			for {
				if err := emit("token "); err != nil {
					return Proposal{}, err
				}
				if cctx.Err() == nil {
					cancel()
				}
			}
		})

		_, err := s.Collect(cctx)
		require.ErrorIs(t, err, context.Canceled)
		<-stopped
	})
}

func TestProposalService_Consume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMode(t, "content_generator", mode.Copilot)

	s := NewStream(ctx, 4, func(_ context.Context, emit Emit) (Proposal, error) {
		_ = emit("Generated ")
		_ = emit("copy")
		return blogProposal(), nil
	})

	res, err := h.Proposals.Consume(ctx, ws, s)
	require.NoError(t, err)
	require.NotNil(t, res.Approval)
	assert.Equal(t, "Generated copy", res.Approval.Description)

	empty := NewStream(ctx, 1, func(pctx context.Context, _ Emit) (Proposal, error) {
		<-pctx.Done()
		return Proposal{}, pctx.Err()
	})
	empty.Close()
	_, err = h.Proposals.Consume(ctx, ws, empty)
	require.Error(t, err)
}
