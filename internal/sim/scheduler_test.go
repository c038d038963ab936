package sim

import "testing"

func TestScheduler_RunsAfterTicks(t *testing.T) {
	var s Scheduler
	var order []string
	s.After(2, func() { order = append(order, "b") })
	s.After(1, func() { order = append(order, "a") })
	s.After(2, func() { order = append(order, "c") })

	if n := s.Tick(); n != 1 {
		t.Fatalf("tick 1: ran %d, want 1", n)
	}
	if n := s.Tick(); n != 2 {
		t.Fatalf("tick 2: ran %d, want 2", n)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order %v, want %v", order, want)
		}
	}
}

func TestScheduler_Cancel(t *testing.T) {
	var s Scheduler
	ran := false
	h := s.After(1, func() { ran = true })
	h.Cancel()
	Handle{}.Cancel()
	s.Tick()
	if ran {
		t.Fatalf("cancelled task ran")
	}
	if s.Pending() != 0 {
		t.Fatalf("pending = %d", s.Pending())
	}
}

func TestScheduler_RescheduleFromTask(t *testing.T) {
	var s Scheduler
	count := 0
	var retry func()
	retry = func() {
		count++
		if count < 3 {
			s.After(1, retry)
		}
	}
	s.After(0, retry)
	for i := 0; i < 5; i++ {
		s.Tick()
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
}
