package worker

import (
	"fmt"
	"time"
)

// SubscriptionBuilder configures a topic subscription. Create one with
// Worker.Subscribe and finish it with Open.
type SubscriptionBuilder struct {
	w   *Worker
	sub Subscription
}

// Subscribe starts building a subscription for topic.
func (w *Worker) Subscribe(topic string) *SubscriptionBuilder {
	return &SubscriptionBuilder{
		w: w,
		sub: Subscription{
			topic:        topic,
			lockDuration: w.cfg.LockDuration,
		},
	}
}

// LockDuration sets how long fetched tasks stay locked to this worker.
func (b *SubscriptionBuilder) LockDuration(d time.Duration) *SubscriptionBuilder {
	b.sub.lockDuration = d
	return b
}

// Variables limits fetched variables to names. Calling it without names
// fetches no variables; not calling it fetches all of them.
func (b *SubscriptionBuilder) Variables(names ...string) *SubscriptionBuilder {
	b.sub.variables = append([]string{}, names...)
	return b
}

// MaxTasks caps the tasks of this topic held by the worker at once. The
// cap is sent per topic in fetch requests. Coordinators that only honor
// the request-wide maxTasks may return more tasks for the topic while
// another subscription is unlimited; the surplus is unlocked on arrival.
func (b *SubscriptionBuilder) MaxTasks(n int) *SubscriptionBuilder {
	b.sub.maxTasks = n
	return b
}

// OutputFormat sets the serialization data format of object variables
// reported by the handler.
func (b *SubscriptionBuilder) OutputFormat(format string) *SubscriptionBuilder {
	b.sub.outputFormat = format
	return b
}

// OnResult registers a callback invoked after each task's outcome has been
// reported, or the report has failed.
func (b *SubscriptionBuilder) OnResult(fn func(Result)) *SubscriptionBuilder {
	b.sub.onResult = fn
	return b
}

// Handler sets the function executed for each fetched task.
func (b *SubscriptionBuilder) Handler(h Handler) *SubscriptionBuilder {
	b.sub.handler = h
	return b
}

// Open registers the subscription. Tasks are fetched for it from the next
// fetch cycle on.
func (b *SubscriptionBuilder) Open() (*Subscription, error) {
	switch {
	case b.sub.topic == "":
		return nil, fmt.Errorf("%w: topic name is required", ErrInvalidSubscription)
	case b.sub.handler == nil:
		return nil, fmt.Errorf("%w: topic %s has no handler", ErrInvalidSubscription, b.sub.topic)
	case b.sub.lockDuration <= 0:
		return nil, fmt.Errorf("%w: topic %s needs a positive lock duration", ErrInvalidSubscription, b.sub.topic)
	case b.sub.maxTasks < 0:
		return nil, fmt.Errorf("%w: topic %s has negative max tasks", ErrInvalidSubscription, b.sub.topic)
	}
	if b.sub.outputFormat != "" {
		if _, err := b.w.cfg.Engine.Format(b.sub.outputFormat); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
		}
	}
	s := b.sub
	if err := b.w.registry.add(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// MustOpen is like Open but panics on error.
func (b *SubscriptionBuilder) MustOpen() *Subscription {
	s, err := b.Open()
	if err != nil {
		panic(err)
	}
	return s
}
