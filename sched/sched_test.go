package sched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type testJob struct {
	key      string
	class    int
	critical int
}

func (j testJob) Key() string          { return j.key }
func (j testJob) PriorityClass() int   { return j.class }
func (j testJob) CriticalPathHint() int { return j.critical }

func TestDequePushPopLIFO(t *testing.T) {
	d := NewDeque[Job](8)
	require.True(t, d.PushBottom(testJob{key: "a"}))
	require.True(t, d.PushBottom(testJob{key: "b"}))

	v, ok := d.PopBottom()
	require.True(t, ok)
	require.Equal(t, "b", v.Key())

	v, ok = d.PopBottom()
	require.True(t, ok)
	require.Equal(t, "a", v.Key())

	_, ok = d.PopBottom()
	require.False(t, ok)
}

func TestDequeStealIsFIFO(t *testing.T) {
	d := NewDeque[Job](8)
	d.PushBottom(testJob{key: "first"})
	d.PushBottom(testJob{key: "second"})

	v, ok := d.Steal()
	require.True(t, ok)
	require.Equal(t, "first", v.Key())
}

func TestDequeRespectsBoundedCapacity(t *testing.T) {
	d := NewDeque[Job](2)
	require.True(t, d.PushBottom(testJob{key: "a"}))
	require.True(t, d.PushBottom(testJob{key: "b"}))
	require.False(t, d.PushBottom(testJob{key: "c"}), "deque should reject pushes past capacity")
}

func TestConcurrentPopAndStealNeverDuplicate(t *testing.T) {
	defer goleak.VerifyNone(t)

	const n = 2000
	d := NewDeque[Job](4096)
	for i := 0; i < n; i++ {
		d.PushBottom(testJob{key: string(rune(i))})
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup

	drain := func(pop func() (Job, bool)) {
		defer wg.Done()
		for {
			j, ok := pop()
			if !ok {
				return
			}
			mu.Lock()
			seen[j.Key()]++
			mu.Unlock()
		}
	}

	wg.Add(3)
	go drain(d.PopBottom)
	go drain(d.Steal)
	go drain(d.Steal)
	wg.Wait()

	require.Len(t, seen, n, "every pushed job must be observed exactly once across owner pop and steals")
	for k, count := range seen {
		require.Equal(t, 1, count, "job %q observed %d times, want exactly 1", k, count)
	}
}

func TestSchedulerStealingBalancesWork(t *testing.T) {
	var processed atomic.Int64
	s := New(4, 1, 256, func(_ int, j Job) error {
		processed.Add(1)
		return nil
	})
	s.Start()
	defer s.Stop()

	jobs := make([]Job, 0, 100)
	for i := 0; i < 100; i++ {
		jobs = append(jobs, testJob{key: string(rune(i)), critical: 100 - i})
	}
	// Dump every job onto worker 0's deque directly to force other workers
	// to steal rather than pop their own empty deques.
	for _, j := range jobs {
		s.Submit(0, j)
	}

	require.Eventually(t, func() bool { return processed.Load() == int64(len(jobs)) }, 2*time.Second, time.Millisecond)
}

func TestSchedulerHonorsPriorityClassesOwnerSide(t *testing.T) {
	var order []string
	var mu sync.Mutex
	done := make(chan struct{})

	s := New(1, 3, 64, func(_ int, j Job) error {
		mu.Lock()
		order = append(order, j.Key())
		mu.Unlock()
		if len(order) == 3 {
			close(done)
		}
		return nil
	})

	// Push low priority first, then high, then medium, all before the worker
	// starts: the single worker must still drain class 0 (highest) before
	// class 1, before class 2.
	s.Submit(0, testJob{key: "low", class: 2})
	s.Submit(0, testJob{key: "high", class: 0})
	s.Submit(0, testJob{key: "mid", class: 1})
	s.Start()
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs never drained")
	}

	require.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestSchedulerCancelStopsWorkersPromptly(t *testing.T) {
	var started atomic.Int64
	block := make(chan struct{})
	s := New(2, 1, 16, func(_ int, j Job) error {
		started.Add(1)
		<-block
		return nil
	})
	s.Start()

	s.Submit(0, testJob{key: "a"})
	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, time.Millisecond)

	s.Cancel()
	require.True(t, s.Cancelled())
	close(block)
	s.Stop()
}

func TestTokenReflectsCancellation(t *testing.T) {
	s := New(1, 1, 16, func(_ int, j Job) error { return nil })
	tok := s.Token()
	require.False(t, tok.Cancelled())
	s.Cancel()
	require.True(t, tok.Cancelled())
}
