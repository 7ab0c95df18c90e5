package task

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/cudaredist/pkg/observability"
)

func TestStatus(t *testing.T) {
	for _, s := range []Status{Waiting, Running} {
		assert.False(t, s.IsComplete(), s.String())
	}
	for _, s := range []Status{Done, Cancelled} {
		assert.True(t, s.IsComplete(), s.String())
	}
	assert.Equal(t, "cancelled", Cancelled.String())
	assert.Equal(t, "unknown", Status(9).String())
}

func TestStatusTransitions(t *testing.T) {
	pool := NewPool(1)
	release := make(chan struct{})
	entered := make(chan struct{})
	ctx := context.Background()

	first := Submit(ctx, pool, "first", 1, func(ctx context.Context, n int) (int, error) {
		close(entered)
		<-release
		return n * 10, nil
	})
	<-entered
	second := Submit(ctx, pool, "second", 2, func(ctx context.Context, n int) (int, error) { return n * 10, nil })

	assert.Equal(t, Running, first.Status())
	assert.Equal(t, Waiting, second.Status())

	close(release)
	v, err := first.Result()
	require.NoError(t, err)
	assert.Equal(t, 10, v)
	assert.Equal(t, Done, first.Status())

	v, err = second.Result()
	require.NoError(t, err)
	assert.Equal(t, 20, v)
	assert.Equal(t, Done, second.Status())
}

func TestCancelWaiting(t *testing.T) {
	pool := NewPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	entered := make(chan struct{})

	running := Submit(ctx, pool, "running", 0, func(ctx context.Context, _ int) (string, error) {
		close(entered)
		<-release
		return "finished", nil
	})
	<-entered
	waiting := Submit(ctx, pool, "waiting", 0, func(ctx context.Context, _ int) (string, error) {
		t.Error("waiting task must not run")
		return "", nil
	})

	cancel()
	<-waiting.Done()
	assert.Equal(t, Cancelled, waiting.Status())
	_, err := waiting.Result()
	assert.True(t, stderrors.Is(err, context.Canceled))

	close(release)
	v, err := running.Result()
	require.NoError(t, err)
	assert.Equal(t, "finished", v)
	assert.Equal(t, Done, running.Status())
}

func TestPoolBound(t *testing.T) {
	pool := NewPool(2)
	var current, peak atomic.Int32
	fn := func(ctx context.Context, _ int) (int, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return 0, nil
	}
	var tasks []*Task[int, int]
	for i := range 8 {
		tasks = append(tasks, Submit(context.Background(), pool, "t", i, fn))
	}
	_, err := Collect(tasks, FailFast)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPanicBecomesError(t *testing.T) {
	tk := Submit(context.Background(), NewPool(1), "boom", 0, func(ctx context.Context, _ int) (int, error) {
		panic("boom")
	})
	_, err := tk.Result()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, Done, tk.Status())
}

func TestCollectPolicies(t *testing.T) {
	ctx := context.Background()
	pool := NewPool(4)
	errOdd := stderrors.New("odd")
	fn := func(ctx context.Context, n int) (int, error) {
		if n%2 == 1 {
			return 0, errOdd
		}
		return n, nil
	}
	submit := func() []*Task[int, int] {
		var tasks []*Task[int, int]
		for i := range 5 {
			tasks = append(tasks, Submit(ctx, pool, "n", i, fn))
		}
		return tasks
	}

	_, err := Collect(submit(), FailFast)
	assert.ErrorIs(t, err, errOdd)

	values, err := Collect(submit(), CollectAll)
	assert.ErrorIs(t, err, errOdd)
	assert.Equal(t, []int{0, 2, 4}, values)
}

func TestParseCollectPolicy(t *testing.T) {
	p, err := ParseCollectPolicy("collect-all")
	require.NoError(t, err)
	assert.Equal(t, CollectAll, p)
	assert.Equal(t, "collect-all", p.String())

	p, err = ParseCollectPolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailFast, p)

	_, err = ParseCollectPolicy("sometimes")
	assert.Error(t, err)
}

func TestSnapshotOrdering(t *testing.T) {
	pool := NewPool(1)
	release := make(chan struct{})
	entered := make(chan struct{})
	ctx := context.Background()

	done := Submit(ctx, pool, "done", 0, func(ctx context.Context, _ int) (int, error) { return 0, nil })
	_, _ = done.Result()
	running := Submit(ctx, pool, "running", 0, func(ctx context.Context, _ int) (int, error) {
		close(entered)
		<-release
		return 0, nil
	})
	<-entered
	waiting := Submit(ctx, pool, "waiting", 0, func(ctx context.Context, _ int) (int, error) { return 0, nil })

	p := Snapshot([]*Task[int, int]{waiting, done, running})
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, 1, p.Done)
	assert.Equal(t, 1, p.Running)
	require.Len(t, p.Pending, 2)
	assert.Equal(t, "running", p.Pending[0].Label)
	assert.Equal(t, "waiting", p.Pending[1].Label)
	assert.False(t, p.Complete())

	close(release)
	var mu sync.Mutex
	var updates []Progress
	Wait([]*Task[int, int]{waiting, done, running}, ViewFunc(func(p Progress) {
		mu.Lock()
		updates = append(updates, p)
		mu.Unlock()
	}), time.Millisecond)
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.True(t, last.Complete())
	assert.Empty(t, last.Pending)
}

func TestRun(t *testing.T) {
	values, err := Run(context.Background(), Batch{Pool: NewPool(3), Interval: time.Millisecond},
		[]string{"a", "bb", "ccc"},
		func(s string) string { return s },
		func(ctx context.Context, s string) (int, error) { return len(s), nil })
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, values)
}

type recordingHooks struct {
	observability.NoopTaskHooks
	mu       sync.Mutex
	statuses []string
}

func (h *recordingHooks) OnTaskStatus(_ context.Context, _ string, status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, status)
}

func TestTaskHooks(t *testing.T) {
	h := &recordingHooks{}
	observability.SetTaskHooks(h)
	t.Cleanup(observability.Reset)

	tk := Submit(context.Background(), NewPool(1), "hooked", 0, func(ctx context.Context, _ int) (int, error) { return 0, nil })
	_, _ = tk.Result()
	// The done hook fires just before the channel closes.
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []string{"waiting", "running", "done"}, h.statuses)
}
