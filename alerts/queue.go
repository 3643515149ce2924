package alerts

import (
	"sync"
	"time"

	"github.com/rustyeddy/margin/pkg/id"
)

// Alert is a user-facing notification. Alerts are never changed after
// they are pushed; they only leave the queue by dismissal.
type Alert struct {
	ID      string `json:"id"`
	Level   Level  `json:"level"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
	TxHash  string `json:"txHash,omitempty"`

	// AutoDismiss removes the alert after this long. Zero keeps it until
	// dismissed by hand.
	AutoDismiss time.Duration `json:"-"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Timer is the part of *time.Timer the queue needs.
type Timer interface {
	Stop() bool
}

type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Queue holds alerts in insertion order. It is safe for concurrent use.
// There is no cap on length.
type Queue struct {
	mu     sync.Mutex
	items  []Alert
	timers map[string]Timer
	closed bool

	now       func() time.Time
	afterFunc AfterFunc
	newID     func() string
	onChange  func([]Alert)
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithAfterFunc(f AfterFunc) Option {
	return func(q *Queue) { q.afterFunc = f }
}

func WithIDs(f func() string) Option {
	return func(q *Queue) { q.newID = f }
}

// WithOnChange registers a listener called with a snapshot after every
// push and dismissal. It runs outside the queue lock.
func WithOnChange(f func([]Alert)) Option {
	return func(q *Queue) { q.onChange = f }
}

func New(opts ...Option) *Queue {
	q := &Queue{
		timers:    make(map[string]Timer),
		now:       time.Now,
		afterFunc: realAfterFunc,
		newID:     id.New,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Push appends a to the tail and returns the stored copy. An empty or
// already used ID is replaced with a fresh one.
func (q *Queue) Push(a Alert) Alert {
	q.mu.Lock()
	if a.ID == "" || q.indexLocked(a.ID) >= 0 {
		a.ID = q.newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = q.now()
	}
	q.items = append(q.items, a)

	if a.AutoDismiss > 0 && !q.closed {
		alertID := a.ID
		q.timers[alertID] = q.afterFunc(a.AutoDismiss, func() {
			q.expire(alertID)
		})
	}
	snap := q.snapshotLocked()
	q.mu.Unlock()

	q.notify(snap)
	return a
}

// Dismiss removes the alert with the given id. It reports whether an alert
// was removed; dismissing an absent id does nothing.
func (q *Queue) Dismiss(alertID string) bool {
	q.mu.Lock()
	if t, ok := q.timers[alertID]; ok {
		t.Stop()
		delete(q.timers, alertID)
	}
	removed := q.removeLocked(alertID)
	var snap []Alert
	if removed {
		snap = q.snapshotLocked()
	}
	q.mu.Unlock()

	if removed {
		q.notify(snap)
	}
	return removed
}

func (q *Queue) expire(alertID string) {
	q.mu.Lock()
	delete(q.timers, alertID)
	removed := q.removeLocked(alertID)
	var snap []Alert
	if removed {
		snap = q.snapshotLocked()
	}
	q.mu.Unlock()

	if removed {
		q.notify(snap)
	}
}

// List returns a copy of the alerts in insertion order.
func (q *Queue) List() []Alert {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Get(alertID string) (Alert, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := q.indexLocked(alertID); i >= 0 {
		return q.items[i], true
	}
	return Alert{}, false
}

// Close stops all pending auto-dismiss timers. Alerts stay in the queue and
// later pushes are never auto-dismissed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for k, t := range q.timers {
		t.Stop()
		delete(q.timers, k)
	}
	q.closed = true
}

func (q *Queue) indexLocked(alertID string) int {
	for i := range q.items {
		if q.items[i].ID == alertID {
			return i
		}
	}
	return -1
}

func (q *Queue) removeLocked(alertID string) bool {
	i := q.indexLocked(alertID)
	if i < 0 {
		return false
	}
	q.items = append(q.items[:i], q.items[i+1:]...)
	return true
}

func (q *Queue) snapshotLocked() []Alert {
	out := make([]Alert, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) notify(snap []Alert) {
	if q.onChange != nil {
		q.onChange(snap)
	}
}
