// internal/runner/runner_test.go
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Test Helpers --

// recordingObserver captures group events in the order they arrive.
type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) GroupStarted(index int, items []WorkItem) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, fmt.Sprintf("start %d %v", index, items))
}

func (o *recordingObserver) GroupFinished(index int, results []TaskResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, fmt.Sprintf("finish %d %d", index, len(results)))
}

func indexOf(items []WorkItem, item WorkItem) int {
	for i, it := range items {
		if it == item {
			return i
		}
	}
	return -1
}

// -- Test Cases --

func TestPartition(t *testing.T) {
	items := []string{"A", "B", "C", "D", "E"}

	tests := []struct {
		size int
		want [][]string
	}{
		{1, [][]string{{"A"}, {"B"}, {"C"}, {"D"}, {"E"}}},
		{2, [][]string{{"A", "B"}, {"C", "D"}, {"E"}}},
		{5, [][]string{{"A", "B", "C", "D", "E"}}},
		{9, [][]string{{"A", "B", "C", "D", "E"}}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("size=%d", tt.size), func(t *testing.T) {
			groups := Partition(items, tt.size)
			if diff := cmp.Diff(tt.want, groups); diff != "" {
				t.Errorf("Partition() mismatch (-want +got):\n%s", diff)
			}

			var flat []string
			for i, g := range groups {
				assert.LessOrEqual(t, len(g), tt.size)
				if i < len(groups)-1 {
					assert.Equal(t, tt.size, len(g), "only the last group may be short")
				}
				flat = append(flat, g...)
			}
			assert.Equal(t, items, flat, "concatenated groups must reconstruct the input")
		})
	}

	t.Run("groups do not alias past their end", func(t *testing.T) {
		groups := Partition([]string{"A", "B", "C"}, 2)
		groups[0] = append(groups[0], "X")
		assert.Equal(t, []string{"C"}, groups[1])
	})

	t.Run("size below one panics", func(t *testing.T) {
		assert.Panics(t, func() { Partition(items, 0) })
	})
}

func TestRun_EvenSucceedOddFail(t *testing.T) {
	items := []WorkItem{"A", "B", "C", "D", "E"}

	task := func(ctx context.Context, item WorkItem, _ *string) error {
		if indexOf(items, item)%2 == 1 {
			return errors.New("odd item")
		}
		return nil
	}

	obs := &recordingObserver{}
	report, err := Run(context.Background(), items, nil, 2, task, WithObserver[string](obs))
	require.NoError(t, err)

	assert.Equal(t, []WorkItem{"A", "C", "E"}, report.Successes)
	assert.Equal(t, []WorkItem{"B", "D"}, report.Failures)
	assert.Equal(t, 5, report.Total())
	assert.Equal(t, []string{
		"start 0 [A B]", "finish 0 2",
		"start 1 [C D]", "finish 1 2",
		"start 2 [E]", "finish 2 1",
	}, obs.events)

	for _, res := range report.Results {
		if res.Success {
			assert.NoError(t, res.Err)
		} else {
			assert.EqualError(t, res.Err, "odd item")
		}
	}
}

func TestRun_ConfigurationErrors(t *testing.T) {
	var calls atomic.Int32
	task := func(ctx context.Context, item WorkItem, _ *string) error {
		calls.Add(1)
		return nil
	}

	tests := []struct {
		name      string
		items     []WorkItem
		batchSize int
		task      TaskFunc[string]
		want      error
	}{
		{"empty items", nil, 2, task, ErrNoItems},
		{"zero batch size", []WorkItem{"A"}, 0, task, ErrInvalidBatchSize},
		{"negative batch size", []WorkItem{"A"}, -3, task, ErrInvalidBatchSize},
		{"nil task", []WorkItem{"A"}, 1, nil, ErrNilTask},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := Run(context.Background(), tt.items, []string{"p"}, tt.batchSize, tt.task)
			require.Error(t, err)
			assert.Nil(t, report)

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, calls.Load(), "no task may run when configuration is invalid")
}

func TestRun_EmptyPoolPassesNil(t *testing.T) {
	var mu sync.Mutex
	var seen []*string

	task := func(ctx context.Context, item WorkItem, aux *string) error {
		mu.Lock()
		seen = append(seen, aux)
		mu.Unlock()
		return nil
	}

	report, err := Run(context.Background(), []WorkItem{"A", "B", "C"}, []string{}, 2, task)
	require.NoError(t, err)
	assert.Len(t, report.Successes, 3)
	require.Len(t, seen, 3)
	for _, aux := range seen {
		assert.Nil(t, aux)
	}
}

func TestRun_SelectorIsInjectable(t *testing.T) {
	pool := []string{"p0", "p1", "p2"}
	var next atomic.Int32
	roundRobin := func(p []string) *string {
		i := int(next.Add(1)-1) % len(p)
		return &p[i]
	}

	var mu sync.Mutex
	got := map[WorkItem]string{}
	task := func(ctx context.Context, item WorkItem, aux *string) error {
		if aux == nil {
			return errors.New("missing aux")
		}
		mu.Lock()
		got[item] = *aux
		mu.Unlock()
		return nil
	}

	report, err := Run(context.Background(), []WorkItem{"A", "B", "C", "D"}, pool, 2, task, WithSelector(roundRobin))
	require.NoError(t, err)
	require.Empty(t, report.Failures)

	// Selection happens in item order before dispatch, so the mapping is deterministic.
	assert.Equal(t, map[WorkItem]string{"A": "p0", "B": "p1", "C": "p2", "D": "p0"}, got)
}

func TestUniformSelector(t *testing.T) {
	assert.Nil(t, UniformSelector[int](nil))

	pool := []int{10, 20, 30}
	counts := map[int]int{}
	for range 300 {
		v := UniformSelector(pool)
		require.NotNil(t, v)
		counts[*v]++
	}
	for _, p := range pool {
		assert.Positive(t, counts[p], "every entry should be picked at least once in 300 draws")
	}
	assert.Equal(t, []int{10, 20, 30}, pool, "selection must not modify the pool")
}

func TestRun_TasksCannotWriteThroughToPool(t *testing.T) {
	type slot struct{ uses int }
	pool := []slot{{}}
	items := []WorkItem{"a", "b", "c", "d", "e", "f"}

	task := func(ctx context.Context, item WorkItem, aux *slot) error {
		if aux == nil {
			return errors.New("missing aux")
		}
		aux.uses++
		if aux.uses != 1 {
			return errors.New("aux shared with another task")
		}
		return nil
	}

	report, err := Run(context.Background(), items, pool, 3, task)
	require.NoError(t, err)
	assert.Empty(t, report.Failures)
	assert.Equal(t, []slot{{}}, pool, "pool entries are unchanged")
}

func TestRun_MixedOutcomesInOneGroup(t *testing.T) {
	items := []WorkItem{"ok", "err", "panic", "panic-err"}
	task := func(ctx context.Context, item WorkItem, _ *string) error {
		switch item {
		case "err":
			time.Sleep(5 * time.Millisecond)
			return errors.New("rejected")
		case "panic":
			panic("boom")
		case "panic-err":
			panic(errors.New("wrapped boom"))
		}
		return nil
	}

	report, err := Run(context.Background(), items, nil, len(items), task)
	require.NoError(t, err)

	assert.Equal(t, []WorkItem{"ok"}, report.Successes)
	assert.Equal(t, []WorkItem{"err", "panic", "panic-err"}, report.Failures)
	assert.ErrorIs(t, report.Results[2].Err, ErrTaskPanicked)
	assert.Contains(t, report.Results[2].Err.Error(), "boom")
	assert.ErrorIs(t, report.Results[3].Err, ErrTaskPanicked)
}

func TestRun_GroupsAreBarrierSynchronized(t *testing.T) {
	items := []WorkItem{"A", "B", "C", "D", "E", "F", "G"}
	const batchSize = 3

	var (
		mu       sync.Mutex
		events   []string
		inFlight atomic.Int32
		peak     atomic.Int32
	)
	task := func(ctx context.Context, item WorkItem, _ *string) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		mu.Lock()
		events = append(events, "start "+item)
		mu.Unlock()

		// Later items in a group finish first, so a missing barrier would let
		// the next group start while an earlier sibling is still running.
		time.Sleep(time.Duration(batchSize-indexOf(items, item)%batchSize) * 5 * time.Millisecond)

		mu.Lock()
		events = append(events, "end "+item)
		mu.Unlock()
		inFlight.Add(-1)
		return nil
	}

	report, err := Run(context.Background(), items, nil, batchSize, task)
	require.NoError(t, err)
	assert.Len(t, report.Successes, len(items))
	assert.LessOrEqual(t, int(peak.Load()), batchSize)

	pos := map[string]int{}
	for i, e := range events {
		pos[e] = i
	}
	groups := Partition(items, batchSize)
	for gi := 1; gi < len(groups); gi++ {
		for _, prev := range groups[gi-1] {
			for _, next := range groups[gi] {
				assert.Less(t, pos["end "+prev], pos["start "+next],
					"%s started before %s settled", next, prev)
			}
		}
	}
}

func TestRun_GroupTasksRunConcurrently(t *testing.T) {
	items := []WorkItem{"A", "B", "C"}
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(len(items))

	task := func(ctx context.Context, item WorkItem, _ *string) error {
		started.Done()
		<-release
		return nil
	}

	done := make(chan *BatchReport)
	go func() {
		report, _ := Run(context.Background(), items, nil, len(items), task)
		done <- report
	}()

	// All three must be running at once; a serial runner would block here.
	started.Wait()
	close(release)

	report := <-done
	assert.Equal(t, items, report.Successes)
}

func TestRun_EveryItemExactlyOnce(t *testing.T) {
	for size := 1; size <= 8; size++ {
		for n := 1; n <= 12; n++ {
			items := make([]WorkItem, n)
			for i := range items {
				items[i] = fmt.Sprintf("item-%d", i)
			}
			task := func(ctx context.Context, item WorkItem, _ *string) error {
				if (len(item)+indexOf(items, item))%3 == 0 {
					return errors.New("fail")
				}
				return nil
			}

			report, err := Run(context.Background(), items, nil, size, task)
			require.NoError(t, err)

			seen := map[WorkItem]int{}
			for _, it := range report.Successes {
				seen[it]++
			}
			for _, it := range report.Failures {
				seen[it]++
			}
			require.Len(t, seen, n, "n=%d size=%d", n, size)
			for it, c := range seen {
				require.Equal(t, 1, c, "%s reported %d times", it, c)
			}
		}
	}
}

func TestRun_DoesNotCancelTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	task := func(taskCtx context.Context, item WorkItem, _ *string) error {
		if item == "first" {
			cancel()
			return nil
		}
		// Later groups still run and see the caller's cancelled context.
		return taskCtx.Err()
	}

	report, err := Run(ctx, []WorkItem{"first", "second", "third"}, nil, 1, task)
	require.NoError(t, err)
	assert.Equal(t, []WorkItem{"first"}, report.Successes)
	assert.Equal(t, []WorkItem{"second", "third"}, report.Failures)
	assert.ErrorIs(t, report.Results[1].Err, context.Canceled)
}

func TestRun_Logging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	task := func(ctx context.Context, item WorkItem, _ *string) error {
		if item == "bad" {
			return errors.New("nope")
		}
		return nil
	}

	_, err := Run(context.Background(), []WorkItem{"good", "bad"}, nil, 2, task, WithLogger[string](logger))
	require.NoError(t, err)

	failed := logs.FilterMessage("Task failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].ContextMap()["item"])
	assert.Equal(t, "runner", failed[0].ContextMap()["component"])

	finished := logs.FilterMessage("Batch run finished").All()
	require.Len(t, finished, 1)
	assert.EqualValues(t, 1, finished[0].ContextMap()["succeeded"])
	assert.EqualValues(t, 1, finished[0].ContextMap()["failed"])
}
