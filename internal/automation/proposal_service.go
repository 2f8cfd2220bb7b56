package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"

	"github.com/colonyops/autopilot/internal/core/actionlog"
	"github.com/colonyops/autopilot/internal/core/apperr"
	"github.com/colonyops/autopilot/internal/core/approval"
	"github.com/colonyops/autopilot/internal/core/mode"
)

// Proposal is a candidate action produced by a module's AI pipeline.
type Proposal struct {
	ModuleID    string            `json:"moduleId"`
	ActionType  string            `json:"actionType"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
	Confidence  *float64          `json:"confidence,omitempty"`
	Priority    approval.Priority `json:"priority,omitempty"`
}

// Validate checks the proposal's required fields.
func (p Proposal) Validate() error {
	err := criterio.ValidateStruct(
		criterio.Run("moduleId", p.ModuleID, required),
		criterio.Run("actionType", p.ActionType, required),
		p.validateConfidence(),
		p.validatePayload(),
		p.validatePriority(),
	)
	return apperr.Invalid(err)
}

func required(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("is required")
	}
	return nil
}

func (p Proposal) validateConfidence() error {
	if p.Confidence != nil && (*p.Confidence < 0 || *p.Confidence > 1) {
		return criterio.NewFieldErrors("confidence", fmt.Errorf("must be between 0 and 1"))
	}
	return nil
}

func (p Proposal) validatePayload() error {
	if len(p.Payload) > 0 && !json.Valid(p.Payload) {
		return criterio.NewFieldErrors("payload", fmt.Errorf("must be valid JSON"))
	}
	return nil
}

func (p Proposal) validatePriority() error {
	if p.Priority != "" && !p.Priority.IsValid() {
		return criterio.NewFieldErrors("priority", fmt.Errorf("must be one of urgent, high, medium, low"))
	}
	return nil
}

// ProposalResult reports where a proposal went.
type ProposalResult struct {
	Outcome  string           `json:"outcome"`
	Mode     mode.Mode        `json:"mode"`
	Approval *approval.Item   `json:"approval,omitempty"`
	Entry    *actionlog.Entry `json:"entry,omitempty"`
}

// ProposalService routes AI proposals by the module's mode: copilot proposals
// enter the approval queue, autopilot proposals run through the executor and
// manual modules refuse them.
type ProposalService struct {
	modes     *ModeService
	approvals *ApprovalService
	executor  *Executor
	log       zerolog.Logger
}

// NewProposalService creates a new ProposalService.
func NewProposalService(modes *ModeService, approvals *ApprovalService, executor *Executor, log zerolog.Logger) *ProposalService {
	return &ProposalService{
		modes:     modes,
		approvals: approvals,
		executor:  executor,
		log:       log.With().Str("component", "proposal-service").Logger(),
	}
}

// Submit routes one proposal. Manual modules return ErrManualMode without
// recording anything. A handler failure is reported as the "failed" outcome.
func (s *ProposalService) Submit(ctx context.Context, workspaceID string, p Proposal) (ProposalResult, error) {
	if err := p.Validate(); err != nil {
		return ProposalResult{}, err
	}

	current, err := s.modes.Get(ctx, workspaceID, p.ModuleID)
	if err != nil {
		return ProposalResult{}, err
	}
	if p.Title == "" {
		p.Title = p.ActionType
	}

	res := ProposalResult{Mode: current.Mode}
	switch current.Mode {
	case mode.Manual:
		return res, ErrManualMode

	case mode.Copilot:
		item := &approval.Item{
			ModuleID:     p.ModuleID,
			ActionType:   p.ActionType,
			Title:        p.Title,
			Description:  p.Description,
			Payload:      p.Payload,
			AIConfidence: p.Confidence,
			Priority:     p.Priority,
			Source:       approval.SourceAI,
		}
		if err := s.approvals.Create(ctx, workspaceID, item); err != nil {
			return res, err
		}
		res.Outcome, res.Approval = OutcomeQueued, item

	default:
		result, err := s.executor.Execute(ctx, workspaceID, ExecuteRequest{
			ModuleID:    p.ModuleID,
			ActionType:  p.ActionType,
			Description: p.Description,
			Payload:     p.Payload,
			Mode:        current.Mode,
			Confidence:  p.Confidence,
			Title:       p.Title,
			Priority:    p.Priority,
		})
		res.Entry, res.Approval = result.Entry, result.Approval
		switch {
		case err == nil && result.Redirected():
			res.Outcome = OutcomeQueued
		case err == nil:
			res.Outcome = OutcomeExecuted
		case errors.Is(err, apperr.ErrHandlerFailure):
			res.Outcome = OutcomeFailed
		default:
			return res, err
		}
	}

	s.log.Info().
		Str("workspace_id", workspaceID).
		Str("module", p.ModuleID).
		Str("mode", string(current.Mode)).
		Str("outcome", res.Outcome).
		Msg("proposal routed")
	return res, nil
}

// Chunk is one element of a proposal stream: a piece of generated text, or the
// terminal proposal or error.
type Chunk struct {
	Text  string
	Final *Proposal
	Err   error
}

// ErrStreamConsumed is returned when a stream is read a second time.
var ErrStreamConsumed = fmt.Errorf("%w: proposal stream already consumed", apperr.ErrStateConflict)

// ErrStreamIncomplete is returned when a stream closes without a final proposal.
var ErrStreamIncomplete = errors.New("proposal stream ended without a result")

// Stream is a finite, non-restartable sequence of chunks. The producer runs in its
// own goroutine and stops when the stream is closed.
type Stream struct {
	ch       chan Chunk
	cancel   context.CancelFunc
	consumed atomic.Bool
	done     chan struct{}
	once     sync.Once
}

// Emit sends one text chunk to the consumer. It fails when the stream was closed.
type Emit func(text string) error

// NewStream starts produce and returns its stream. buffer bounds the chunks the
// producer may run ahead of the consumer.
func NewStream(ctx context.Context, buffer int, produce func(ctx context.Context, emit Emit) (Proposal, error)) *Stream {
	if buffer < 1 {
		buffer = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ch:     make(chan Chunk, buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	send := func(c Chunk) error {
		select {
		case s.ch <- c:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		defer close(s.done)
		defer close(s.ch)

		p, err := produce(ctx, func(text string) error { return send(Chunk{Text: text}) })
		if err != nil {
			_ = send(Chunk{Err: err})
			return
		}
		_ = send(Chunk{Final: &p})
	}()

	return s
}

// Close stops the producer and waits for it to exit.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.cancel()
		for range s.ch {
		}
		<-s.done
	})
}

// Collect drains the stream and returns the final proposal. When the proposal
// has no description the streamed text becomes its description.
func (s *Stream) Collect(ctx context.Context) (Proposal, error) {
	if !s.consumed.CompareAndSwap(false, true) {
		return Proposal{}, ErrStreamConsumed
	}
	defer s.Close()

	var text strings.Builder
	for {
		select {
		case <-ctx.Done():
			return Proposal{}, ctx.Err()
		case c, ok := <-s.ch:
			if !ok {
				return Proposal{}, ErrStreamIncomplete
			}
			switch {
			case c.Err != nil:
				return Proposal{}, c.Err
			case c.Final != nil:
				p := *c.Final
				if p.Description == "" {
					p.Description = text.String()
				}
				return p, nil
			default:
				text.WriteString(c.Text)
			}
		}
	}
}

// Consume reads a stream to its final proposal and submits it. Only the final
// proposal reaches the approval queue or the executor.
func (s *ProposalService) Consume(ctx context.Context, workspaceID string, stream *Stream) (ProposalResult, error) {
	p, err := stream.Collect(ctx)
	if err != nil {
		return ProposalResult{}, fmt.Errorf("read proposal stream: %w", err)
	}
	return s.Submit(ctx, workspaceID, p)
}
