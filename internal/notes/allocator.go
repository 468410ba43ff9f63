package notes

import (
	"container/heap"
	"encoding/json"
	"slices"
)

// Allocator hands out note ids. Freed ids are reused smallest first before
// the counter advances, so ids stay small. The zero Allocator starts at 1.
type Allocator struct {
	next int
	free intHeap
}

// NewAllocator returns an allocator whose first id is 1.
func NewAllocator() Allocator {
	return Allocator{next: 1}
}

// RebuildAllocator derives allocator state from the ids in use: the counter
// is max+1 and every gap below it is free.
func RebuildAllocator(used []int) Allocator {
	a := NewAllocator()
	inUse := map[int]bool{}
	for _, id := range used {
		if id <= 0 {
			continue
		}
		inUse[id] = true
		if id >= a.next {
			a.next = id + 1
		}
	}
	for id := 1; id < a.next; id++ {
		if !inUse[id] {
			a.free = append(a.free, id)
		}
	}
	heap.Init(&a.free)
	return a
}

// Alloc returns the smallest free id, or the next fresh one.
func (a *Allocator) Alloc() int {
	if a.next < 1 {
		a.next = 1
	}
	if a.free.Len() > 0 {
		return heap.Pop(&a.free).(int)
	}
	id := a.next
	a.next++
	return id
}

// Free returns id to the pool. Ids never handed out and ids already free
// are ignored.
func (a *Allocator) Free(id int) {
	if id <= 0 || id >= a.next || slices.Contains(a.free, id) {
		return
	}
	heap.Push(&a.free, id)
}

// Next is the id the counter will hand out once the free list is empty.
func (a Allocator) Next() int {
	if a.next < 1 {
		return 1
	}
	return a.next
}

// FreeIDs returns the free list in ascending order.
func (a Allocator) FreeIDs() []int {
	ids := slices.Clone([]int(a.free))
	slices.Sort(ids)
	return ids
}

// Clone returns an independent copy.
func (a Allocator) Clone() Allocator {
	return Allocator{next: a.next, free: slices.Clone(a.free)}
}

type allocatorJSON struct {
	NextID  int   `json:"next_id"`
	FreeIDs []int `json:"free_ids"`
}

// MarshalJSON encodes the allocator as {next_id, free_ids}.
func (a Allocator) MarshalJSON() ([]byte, error) {
	free := a.FreeIDs()
	if free == nil {
		free = []int{}
	}
	return json.Marshal(allocatorJSON{NextID: a.Next(), FreeIDs: free})
}

// UnmarshalJSON decodes {next_id, free_ids}. Free ids at or above next_id
// are discarded.
func (a *Allocator) UnmarshalJSON(data []byte) error {
	var raw allocatorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Allocator{next: max(raw.NextID, 1)}
	for _, id := range raw.FreeIDs {
		a.Free(id)
	}
	return nil
}

// intHeap is a min-heap of ints for container/heap.
type intHeap []int

func (h intHeap) Len() int           { return len(h) }
func (h intHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *intHeap) Push(x any) { *h = append(*h, x.(int)) }

func (h *intHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
