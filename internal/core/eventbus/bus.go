package eventbus

import (
	"context"
	"sync"
)

type envelope struct {
	event   Event
	payload any
}

// EventBus dispatches events asynchronously on a single goroutine. Publishing never
// blocks: when the buffer is full the event is dropped and OnDrop hooks fire.
type EventBus struct {
	ch    chan envelope
	hooks hooks

	mu   sync.RWMutex
	subs map[Event][]func(any)

	done chan struct{}
}

// New creates a bus with the given buffer size. Call Start to begin dispatching.
func New(size int) *EventBus {
	if size <= 0 {
		size = 256
	}
	return &EventBus{
		ch:   make(chan envelope, size),
		subs: make(map[Event][]func(any)),
		done: make(chan struct{}),
	}
}

// Start dispatches events until ctx is cancelled, then drains whatever is still
// buffered. It blocks; run it in its own goroutine.
func (bus *EventBus) Start(ctx context.Context) {
	defer close(bus.done)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case env := <-bus.ch:
					bus.dispatch(env)
				default:
					return
				}
			}
		case env := <-bus.ch:
			bus.dispatch(env)
		}
	}
}

// Done is closed once Start has returned.
func (bus *EventBus) Done() <-chan struct{} {
	return bus.done
}

func (bus *EventBus) subscribe(event Event, fn func(any)) {
	bus.mu.Lock()
	bus.subs[event] = append(bus.subs[event], fn)
	bus.mu.Unlock()

	bus.hooks.mu.RLock()
	hooks := make([]func(Event), len(bus.hooks.onSubscribe))
	copy(hooks, bus.hooks.onSubscribe)
	bus.hooks.mu.RUnlock()
	for _, h := range hooks {
		h(event)
	}
}

func (bus *EventBus) dispatch(env envelope) {
	bus.mu.RLock()
	subs := make([]func(any), len(bus.subs[env.event]))
	copy(subs, bus.subs[env.event])
	bus.mu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					bus.runOnPanic(env.event, env.payload, r)
				}
			}()
			fn(env.payload)
		}()
	}
}

func typed[T any](fn func(T)) func(any) {
	return func(v any) {
		if p, ok := v.(T); ok {
			fn(p)
		}
	}
}

// PublishActionRecorded enqueues an action.recorded event.
func (bus *EventBus) PublishActionRecorded(p ActionRecordedPayload) {
	bus.send(EventActionRecorded, p)
}

// SubscribeActionRecorded registers fn for action.recorded events.
func (bus *EventBus) SubscribeActionRecorded(fn func(ActionRecordedPayload)) {
	bus.subscribe(EventActionRecorded, typed(fn))
}

// PublishApprovalCreated enqueues an approval.created event.
func (bus *EventBus) PublishApprovalCreated(p ApprovalCreatedPayload) {
	bus.send(EventApprovalCreated, p)
}

// SubscribeApprovalCreated registers fn for approval.created events.
func (bus *EventBus) SubscribeApprovalCreated(fn func(ApprovalCreatedPayload)) {
	bus.subscribe(EventApprovalCreated, typed(fn))
}

// PublishApprovalResolved enqueues an approval.resolved event.
func (bus *EventBus) PublishApprovalResolved(p ApprovalResolvedPayload) {
	bus.send(EventApprovalResolved, p)
}

// SubscribeApprovalResolved registers fn for approval.resolved events.
func (bus *EventBus) SubscribeApprovalResolved(fn func(ApprovalResolvedPayload)) {
	bus.subscribe(EventApprovalResolved, typed(fn))
}

// PublishAutomationPaused enqueues an automation.paused event.
func (bus *EventBus) PublishAutomationPaused(p AutomationPausedPayload) {
	bus.send(EventAutomationPaused, p)
}

// SubscribeAutomationPaused registers fn for automation.paused events.
func (bus *EventBus) SubscribeAutomationPaused(fn func(AutomationPausedPayload)) {
	bus.subscribe(EventAutomationPaused, typed(fn))
}

// PublishAutomationResumed enqueues an automation.resumed event.
func (bus *EventBus) PublishAutomationResumed(p AutomationResumedPayload) {
	bus.send(EventAutomationResumed, p)
}

// SubscribeAutomationResumed registers fn for automation.resumed events.
func (bus *EventBus) SubscribeAutomationResumed(fn func(AutomationResumedPayload)) {
	bus.subscribe(EventAutomationResumed, typed(fn))
}

// PublishDomainEvent enqueues a domain.event event.
func (bus *EventBus) PublishDomainEvent(p DomainEventPayload) {
	bus.send(EventDomainEvent, p)
}

// SubscribeDomainEvent registers fn for domain.event events.
func (bus *EventBus) SubscribeDomainEvent(fn func(DomainEventPayload)) {
	bus.subscribe(EventDomainEvent, typed(fn))
}

// PublishModeChanged enqueues a mode.changed event.
func (bus *EventBus) PublishModeChanged(p ModeChangedPayload) {
	bus.send(EventModeChanged, p)
}

// SubscribeModeChanged registers fn for mode.changed events.
func (bus *EventBus) SubscribeModeChanged(fn func(ModeChangedPayload)) {
	bus.subscribe(EventModeChanged, typed(fn))
}

// PublishNotificationPublished enqueues a notification.published event.
func (bus *EventBus) PublishNotificationPublished(p NotificationPublishedPayload) {
	bus.send(EventNotificationPublished, p)
}

// SubscribeNotificationPublished registers fn for notification.published events.
func (bus *EventBus) SubscribeNotificationPublished(fn func(NotificationPublishedPayload)) {
	bus.subscribe(EventNotificationPublished, typed(fn))
}

// PublishRuleFired enqueues a rule.fired event.
func (bus *EventBus) PublishRuleFired(p RuleFiredPayload) {
	bus.send(EventRuleFired, p)
}

// SubscribeRuleFired registers fn for rule.fired events.
func (bus *EventBus) SubscribeRuleFired(fn func(RuleFiredPayload)) {
	bus.subscribe(EventRuleFired, typed(fn))
}
