package sim

import "container/heap"

// Scheduler runs deferred tasks on the owning peer's simulation loop. A task
// scheduled for N ticks runs during the Nth call to Tick after scheduling.
type Scheduler struct {
	tick  uint64
	seq   uint64
	tasks taskHeap
}

type task struct {
	due uint64
	seq uint64
	fn  func()
	off bool
}

// Handle cancels a scheduled task.
type Handle struct{ t *task }

// Cancel prevents the task from running. Safe on a zero Handle.
func (h Handle) Cancel() {
	if h.t != nil {
		h.t.off = true
	}
}

func (s *Scheduler) Now() uint64 { return s.tick }

// After schedules fn to run after n ticks; n < 1 means the next tick.
func (s *Scheduler) After(n uint64, fn func()) Handle {
	if n < 1 {
		n = 1
	}
	s.seq++
	t := &task{due: s.tick + n, seq: s.seq, fn: fn}
	heap.Push(&s.tasks, t)
	return Handle{t: t}
}

// Tick advances one simulation step and runs every task now due, in the order
// they were scheduled. Tasks scheduled from inside a task run on a later tick.
func (s *Scheduler) Tick() int {
	s.tick++
	ran := 0
	for s.tasks.Len() > 0 && s.tasks[0].due <= s.tick {
		t := heap.Pop(&s.tasks).(*task)
		if t.off {
			continue
		}
		t.fn()
		ran++
	}
	return ran
}

func (s *Scheduler) Pending() int {
	n := 0
	for _, t := range s.tasks {
		if !t.off {
			n++
		}
	}
	return n
}

type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}
