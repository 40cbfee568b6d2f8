package taskqueue

import (
	"context"
	"maps"
	"sort"
	"time"

	"github.com/petrijr/extask/pkg/variables"
)

// Status is the lifecycle state of a stored task. Whether an open task is
// currently locked is derived from its lock expiration, not its status.
type Status string

const (
	StatusOpen      Status = "open"
	StatusCompleted Status = "completed"
	StatusIncident  Status = "incident"
	StatusBpmnError Status = "bpmnError"
)

// Task is an external task as stored by the embedded coordinator.
type Task struct {
	ID                   string
	TopicName            string
	ProcessInstanceID    string
	ProcessDefinitionID  string
	ProcessDefinitionKey string
	ActivityID           string
	ActivityInstanceID   string
	ExecutionID          string
	BusinessKey          string
	TenantID             string
	Priority             int64
	Variables            map[string]variables.Wire
	LocalVariables       map[string]variables.Wire

	Status         Status
	WorkerID       string
	LockExpiration time.Time
	Retries        *int
	ErrorMessage   string
	ErrorDetails   string
	ErrorCode      string

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task should be eligible
	// for fetching. Zero value means "immediately".
	NotBefore time.Time

	seq int64
}

// Locked reports whether the task is held by a worker at now.
func (t *Task) Locked(now time.Time) bool {
	return t.WorkerID != "" && t.LockExpiration.After(now)
}

func (t *Task) fetchable(now time.Time) bool {
	return t.Status == StatusOpen && !t.Locked(now) && !t.NotBefore.After(now)
}

func (t *Task) clone() Task {
	c := *t
	c.Variables = maps.Clone(t.Variables)
	c.LocalVariables = maps.Clone(t.LocalVariables)
	if t.Retries != nil {
		r := *t.Retries
		c.Retries = &r
	}
	return c
}

// TopicLock selects the tasks of one topic in a Claim.
type TopicLock struct {
	TopicName    string
	LockDuration time.Duration
	MaxTasks     int
}

// Claim describes one atomic lock acquisition.
type Claim struct {
	WorkerID    string
	Topics      []TopicLock
	MaxTasks    int
	UsePriority bool
	Now         time.Time
}

// Queue stores external tasks and claims them for workers. Implementations
// must make Claim and Update atomic with respect to each other.
type Queue interface {
	// Enqueue stores a new task. t.ID must be set.
	Enqueue(ctx context.Context, t Task) error

	// Claim locks up to c.MaxTasks fetchable tasks on c.Topics for
	// c.WorkerID and returns them.
	Claim(ctx context.Context, c Claim) ([]Task, error)

	// Get returns a copy of the task with the given id.
	Get(ctx context.Context, id string) (*Task, error)

	// Update applies fn to the task with the given id. Changes are kept
	// only if fn returns nil.
	Update(ctx context.Context, id string, fn func(*Task) error) error

	// Len returns the number of open tasks.
	Len() int
}

// claimer applies the per-topic and global caps of a Claim to an ordered
// stream of candidates.
type claimer struct {
	c        Claim
	topics   map[string]TopicLock
	perTopic map[string]int
	taken    int
}

func newClaimer(c Claim) *claimer {
	topics := make(map[string]TopicLock, len(c.Topics))
	for _, tl := range c.Topics {
		topics[tl.TopicName] = tl
	}
	return &claimer{c: c, topics: topics, perTopic: make(map[string]int)}
}

func (cl *claimer) done() bool { return cl.taken >= cl.c.MaxTasks }

// take locks t if the caps allow it.
func (cl *claimer) take(t *Task) bool {
	if cl.done() {
		return false
	}
	tl, ok := cl.topics[t.TopicName]
	if !ok {
		return false
	}
	if tl.MaxTasks > 0 && cl.perTopic[t.TopicName] >= tl.MaxTasks {
		return false
	}
	cl.perTopic[t.TopicName]++
	cl.taken++
	t.WorkerID = cl.c.WorkerID
	t.LockExpiration = cl.c.Now.Add(tl.LockDuration)
	return true
}

func sortCandidates(ts []*Task, usePriority bool) {
	sort.SliceStable(ts, func(i, j int) bool {
		if usePriority && ts[i].Priority != ts[j].Priority {
			return ts[i].Priority > ts[j].Priority
		}
		return ts[i].seq < ts[j].seq
	})
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
