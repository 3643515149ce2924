package alerts

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock fires scheduled funcs when Advance moves past their deadline.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.pending = append(c.pending, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.pending {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

func newTestQueue(c *fakeClock, opts ...Option) *Queue {
	n := 0
	base := []Option{
		WithClock(c.Now),
		WithAfterFunc(c.AfterFunc),
		WithIDs(func() string { n++; return fmt.Sprintf("a%d", n) }),
	}
	return New(append(base, opts...)...)
}

func ids(list []Alert) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.ID)
	}
	return out
}

func TestPushAssignsIDAndTime(t *testing.T) {
	t.Parallel()

	c := newFakeClock()
	q := newTestQueue(c)

	a := q.Push(Alert{Level: Info, Message: "hello"})
	assert.Equal(t, "a1", a.ID)
	assert.Equal(t, c.Now(), a.CreatedAt)

	b := q.Push(Alert{ID: "mine", Level: Success, Message: "done", TxHash: "0xhash"})
	assert.Equal(t, "mine", b.ID)

	// duplicate ids are replaced
	dup := q.Push(Alert{ID: "mine", Level: Info, Message: "again"})
	assert.NotEqual(t, "mine", dup.ID)

	assert.Equal(t, []string{"a1", "mine", dup.ID}, ids(q.List()))
	assert.Equal(t, 3, q.Len())
}

func TestDismissKeepsOrder(t *testing.T) {
	t.Parallel()

	q := newTestQueue(newFakeClock())
	for i := 0; i < 4; i++ {
		q.Push(Alert{Level: Info, Message: fmt.Sprintf("m%d", i)})
	}

	assert.True(t, q.Dismiss("a2"))
	assert.Equal(t, []string{"a1", "a3", "a4"}, ids(q.List()))

	// idempotent
	assert.False(t, q.Dismiss("a2"))
	assert.False(t, q.Dismiss("nope"))
	assert.Equal(t, []string{"a1", "a3", "a4"}, ids(q.List()))
}

func TestAutoDismiss(t *testing.T) {
	t.Parallel()

	c := newFakeClock()
	q := newTestQueue(c)

	a := q.Push(Alert{Level: Warning, Message: "temp", AutoDismiss: 1000 * time.Millisecond})
	sticky := q.Push(Alert{Level: Info, Message: "sticky"})

	c.Advance(500 * time.Millisecond)
	_, ok := q.Get(a.ID)
	assert.True(t, ok, "present at 500ms")

	c.Advance(1000 * time.Millisecond)
	_, ok = q.Get(a.ID)
	assert.False(t, ok, "absent at 1500ms")

	assert.Equal(t, []string{sticky.ID}, ids(q.List()))
}

func TestManualDismissStopsTimer(t *testing.T) {
	t.Parallel()

	c := newFakeClock()
	changes := 0
	q := newTestQueue(c, WithOnChange(func([]Alert) { changes++ }))

	a := q.Push(Alert{Level: Info, Message: "x", AutoDismiss: time.Second})
	require.True(t, q.Dismiss(a.ID))
	assert.Equal(t, 2, changes)

	c.Advance(2 * time.Second)
	assert.Equal(t, 2, changes, "stopped timer must not fire")
	assert.Zero(t, q.Len())
}

func TestCloseStopsTimers(t *testing.T) {
	t.Parallel()

	c := newFakeClock()
	q := newTestQueue(c)

	q.Push(Alert{Level: Info, Message: "x", AutoDismiss: time.Second})
	q.Close()
	q.Push(Alert{Level: Info, Message: "y", AutoDismiss: time.Second})

	c.Advance(5 * time.Second)
	assert.Equal(t, 2, q.Len())
}

func TestListIsCopy(t *testing.T) {
	t.Parallel()

	q := newTestQueue(newFakeClock())
	q.Push(Alert{Level: Info, Message: "x"})

	l := q.List()
	l[0].Message = "changed"
	got, ok := q.Get("a1")
	require.True(t, ok)
	assert.Equal(t, "x", got.Message)
}

func TestRealTimerAutoDismiss(t *testing.T) {
	t.Parallel()

	q := New()
	defer q.Close()

	a := q.Push(Alert{Level: Info, Message: "x", AutoDismiss: 20 * time.Millisecond})
	assert.NotEmpty(t, a.ID)
	assert.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Level
	}{
		{"info", Info},
		{"WARNING", Warning},
		{"Critical", Critical},
		{"error", Critical},
		{"liquidation_event", Critical},
		{"HEALTHY", Success},
		{"success", Success},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLevelOrInfo(t *testing.T) {
	t.Parallel()

	l, known := LevelOrInfo("LIQUIDATION_EVENT")
	assert.True(t, known)
	assert.Equal(t, Critical, l)

	l, known = LevelOrInfo("maintenance")
	assert.False(t, known)
	assert.Equal(t, Info, l)

	l, known = LevelOrInfo("")
	assert.False(t, known)
	assert.Equal(t, Info, l)
}
