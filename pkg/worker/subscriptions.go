package worker

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Subscription is an open topic subscription.
type Subscription struct {
	topic        string
	lockDuration time.Duration
	variables    []string
	maxTasks     int
	outputFormat string
	handler      Handler
	onResult     func(Result)

	reg *registry
	seq uint64
}

// Topic returns the subscribed topic name.
func (s *Subscription) Topic() string { return s.topic }

// LockDuration returns the lock duration requested for the topic.
func (s *Subscription) LockDuration() time.Duration { return s.lockDuration }

// MaxTasks returns the per-topic concurrency limit, zero if unlimited.
func (s *Subscription) MaxTasks() int { return s.maxTasks }

// Close removes the subscription. It blocks until no fetch in progress
// still references it; tasks already fetched for the topic keep running.
// Closing twice is a no-op.
func (s *Subscription) Close() {
	s.reg.remove(s)
}

// registry holds the open subscriptions of a worker. It is written by
// Subscribe and Close and read once per fetch cycle by the fetch loop.
type registry struct {
	mu      sync.Mutex
	cond    *sync.Cond
	byTopic map[string]*Subscription
	refs    map[*Subscription]int
	seq     uint64

	// changed receives a value whenever a subscription is added.
	changed chan struct{}
}

func newRegistry() *registry {
	r := &registry{
		byTopic: make(map[string]*Subscription),
		refs:    make(map[*Subscription]int),
		changed: make(chan struct{}, 1),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *registry) add(s *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byTopic[s.topic]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSubscription, s.topic)
	}
	r.seq++
	s.seq = r.seq
	s.reg = r
	r.byTopic[s.topic] = s

	select {
	case r.changed <- struct{}{}:
	default:
	}
	return nil
}

func (r *registry) remove(s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byTopic[s.topic]; ok && cur == s {
		delete(r.byTopic, s.topic)
	}
	for r.refs[s] > 0 {
		r.cond.Wait()
	}
}

// acquire returns the open subscriptions ordered by subscription time and
// pins them until release is called with the same slice.
func (r *registry) acquire() []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Subscription, 0, len(r.byTopic))
	for _, s := range r.byTopic {
		out = append(out, s)
		r.refs[s]++
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *registry) release(subs []*Subscription) {
	if len(subs) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range subs {
		if r.refs[s]--; r.refs[s] <= 0 {
			delete(r.refs, s)
		}
	}
	r.cond.Broadcast()
}

// active returns the open subscriptions without pinning them.
func (r *registry) active() []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Subscription, 0, len(r.byTopic))
	for _, s := range r.byTopic {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
