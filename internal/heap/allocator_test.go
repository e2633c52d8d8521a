package heap

import (
	"sync"
	"testing"
)

func TestPageIndex_IsValid(t *testing.T) {
	tests := []struct {
		name string
		idx  PageIndex
		want bool
	}{
		{"zero is valid", PageIndex(0), true},
		{"positive is valid", PageIndex(100), true},
		{"max-1 is valid", PageIndex(^uint32(0) - 1), true},
		{"invalid sentinel", Invalid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.idx.IsValid(); got != tt.want {
				t.Errorf("PageIndex(%d).IsValid() = %v, want %v", tt.idx, got, tt.want)
			}
		})
	}
}

func TestAllocator_Allocate(t *testing.T) {
	a := New(8)

	idx0 := a.Allocate()
	if idx0 != 0 {
		t.Errorf("first Allocate() = %d, want 0", idx0)
	}

	idx1 := a.Allocate()
	if idx1 != 1 {
		t.Errorf("second Allocate() = %d, want 1", idx1)
	}

	idx2 := a.Allocate()
	if idx2 != 2 {
		t.Errorf("third Allocate() = %d, want 2", idx2)
	}
}

func TestAllocator_ExhaustionReturnsInvalid(t *testing.T) {
	a := New(2)

	a.Allocate()
	a.Allocate()

	if got := a.Allocate(); got != Invalid {
		t.Errorf("Allocate() on exhausted heap = %d, want Invalid", got)
	}
	if got := a.NumFree(); got != 0 {
		t.Errorf("NumFree() on exhausted heap = %d, want 0", got)
	}
}

func TestAllocator_Free(t *testing.T) {
	a := New(8)

	idx0 := a.Allocate()
	idx1 := a.Allocate()
	idx2 := a.Allocate()

	a.Free(idx1)

	if got := a.NumFree(); got != 8-3+1 {
		t.Errorf("NumFree() after free = %d, want %d", got, 8-3+1)
	}

	// Free is idempotent for Invalid.
	a.Free(Invalid)

	_ = idx0
	_ = idx2
}

func TestAllocator_FreeReusesLIFO(t *testing.T) {
	a := New(8)

	idx0 := a.Allocate()
	idx1 := a.Allocate()
	idx2 := a.Allocate()

	a.Free(idx2)
	a.Free(idx1)
	a.Free(idx0)

	realloc0 := a.Allocate()
	if realloc0 != idx0 {
		t.Errorf("first reallocation = %d, want %d (LIFO reuse)", realloc0, idx0)
	}

	realloc1 := a.Allocate()
	if realloc1 != idx1 {
		t.Errorf("second reallocation = %d, want %d (LIFO reuse)", realloc1, idx1)
	}

	realloc2 := a.Allocate()
	if realloc2 != idx2 {
		t.Errorf("third reallocation = %d, want %d (LIFO reuse)", realloc2, idx2)
	}

	fresh := a.Allocate()
	if fresh != 3 {
		t.Errorf("next fresh Allocate() = %d, want 3", fresh)
	}
}

func TestAllocator_NumFree(t *testing.T) {
	a := New(4)

	if got := a.NumFree(); got != 4 {
		t.Errorf("initial NumFree() = %d, want 4", got)
	}

	a.Allocate()
	if got := a.NumFree(); got != 3 {
		t.Errorf("NumFree() after 1 allocate = %d, want 3", got)
	}

	a.Allocate()
	a.Allocate()
	if got := a.NumFree(); got != 1 {
		t.Errorf("NumFree() after 3 allocates = %d, want 1", got)
	}

	a.Free(PageIndex(1))
	if got := a.NumFree(); got != 2 {
		t.Errorf("NumFree() after 1 free = %d, want 2", got)
	}
}

func TestAllocator_Capacity(t *testing.T) {
	a := New(16)
	if got := a.Capacity(); got != 16 {
		t.Errorf("Capacity() = %d, want 16", got)
	}
}

func TestNew_PanicsOnNonPositiveCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("New(0) did not panic")
		}
	}()
	New(0)
}

func TestAllocator_Concurrent(t *testing.T) {
	const capacity = 10000
	a := New(capacity)

	const goroutines = 100
	const allocsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < allocsPerGoroutine; j++ {
				idx := a.Allocate()
				if j%3 == 0 {
					a.Free(idx)
				}
			}
		}()
	}
	wg.Wait()

	free := a.NumFree()
	if free < 0 || free > capacity {
		t.Errorf("final NumFree() %d is out of expected range [0, %d]", free, capacity)
	}
}

func BenchmarkAllocator_Allocate(b *testing.B) {
	a := New(b.N + 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a.Allocate()
	}
}

func BenchmarkAllocator_AllocateFree(b *testing.B) {
	a := New(1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx := a.Allocate()
		a.Free(idx)
	}
}

func BenchmarkAllocator_Concurrent(b *testing.B) {
	a := New(1024)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			idx := a.Allocate()
			a.Free(idx)
		}
	})
}
