package ring

import (
	"reflect"
	"testing"
)

func TestBuffer(t *testing.T) {
	b := New[int](3)

	if got := b.Last(0); len(got) != 0 {
		t.Errorf("expected empty buffer, got %v", got)
	}

	for i := 1; i <= 5; i++ {
		b.Push(i)
	}

	if b.Len() != 3 {
		t.Errorf("expected len 3, got %d", b.Len())
	}
	if got := b.Last(0); !reflect.DeepEqual(got, []int{3, 4, 5}) {
		t.Errorf("expected [3 4 5], got %v", got)
	}
	if got := b.Last(2); !reflect.DeepEqual(got, []int{4, 5}) {
		t.Errorf("expected [4 5], got %v", got)
	}
	if got := b.Last(10); len(got) != 3 {
		t.Errorf("expected clamp to 3, got %v", got)
	}

	b.Reset()
	if b.Len() != 0 {
		t.Errorf("expected empty after reset, got %d", b.Len())
	}
	b.Push(7)
	if got := b.Last(0); !reflect.DeepEqual(got, []int{7}) {
		t.Errorf("expected [7], got %v", got)
	}
}

func TestBufferMinCapacity(t *testing.T) {
	b := New[string](0)
	b.Push("a")
	b.Push("b")
	if b.Cap() != 1 || b.Last(0)[0] != "b" {
		t.Errorf("expected single slot holding b, got %v", b.Last(0))
	}
}
