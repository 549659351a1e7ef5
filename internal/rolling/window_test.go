package rolling

import (
	"testing"
	"time"
)

func TestWindowCapacityEviction(t *testing.T) {
	w := New[int](3, 0)
	base := time.Unix(0, 0)
	for i := 0; i < 5; i++ {
		w.Add(base.Add(time.Duration(i)*time.Second), i)
	}
	if w.Len() != 3 {
		t.Fatalf("expected len 3, got %d", w.Len())
	}
	got := w.Values()
	want := []int{2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("values = %v, want %v", got, want)
		}
	}
}

func TestWindowAgeEviction(t *testing.T) {
	w := New[int](100, 10*time.Second)
	base := time.Unix(0, 0)
	w.Add(base, 1)
	w.Add(base.Add(5*time.Second), 2)
	w.Add(base.Add(20*time.Second), 3)

	if w.Len() != 1 {
		t.Fatalf("expected aged-out window of len 1, got %d: %v", w.Len(), w.Values())
	}
	last, ok := w.Last()
	if !ok || last != 3 {
		t.Errorf("last = %v, ok=%v", last, ok)
	}
}

func TestWindowRejectsOutOfOrder(t *testing.T) {
	w := New[int](10, 0)
	base := time.Unix(100, 0)
	w.Add(base, 1)
	w.Add(base.Add(-time.Second), 2)
	if w.Len() != 1 {
		t.Fatalf("expected out-of-order sample rejected, len=%d", w.Len())
	}
	if w.Rejected != 1 {
		t.Errorf("expected Rejected=1, got %d", w.Rejected)
	}
}

func TestWindowPrune(t *testing.T) {
	w := New[int](10, 5*time.Second)
	base := time.Unix(0, 0)
	w.Add(base, 1)
	w.Prune(base.Add(10 * time.Second))
	if w.Len() != 0 {
		t.Errorf("expected prune to evict, len=%d", w.Len())
	}
}
