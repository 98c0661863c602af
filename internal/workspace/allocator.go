package workspace

import (
	"fmt"
	"sort"
	"sync"
)

const maxPort = 65535

// block is one arena entry. Freed entries are recycled through the free list.
type block struct {
	owner string
	base  int
	count int
	used  bool
}

func (b block) overlaps(base, count int) bool {
	return b.used && b.base < base+count && base < b.base+b.count
}

// Allocator hands out non-overlapping port blocks.
//
// Blocks live in an arena slice; owners map to arena indexes. All mutation
// goes through Allocate, Reserve and Release under one mutex, so two callers
// can never receive intersecting ranges.
type Allocator struct {
	mu       sync.Mutex
	basePort int
	stride   int
	maxProbe int

	arena   []block
	free    []int
	byOwner map[string]int
}

// NewAllocator creates an allocator for blocks of stride ports starting at basePort.
func NewAllocator(basePort, stride, maxProbe int) *Allocator {
	if maxProbe <= 0 {
		maxProbe = 1
	}
	return &Allocator{
		basePort: basePort,
		stride:   stride,
		maxProbe: maxProbe,
		byOwner:  make(map[string]int),
	}
}

// Stride returns the block size.
func (a *Allocator) Stride() int {
	return a.stride
}

// Allocate returns the block base for owner. The preferred block is
// basePort + slot*stride; on overlap the slot is incremented up to maxProbe
// times. An owner that already holds a block gets it back unchanged.
func (a *Allocator) Allocate(owner string, slot int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i, ok := a.byOwner[owner]; ok {
		return a.arena[i].base, nil
	}
	if slot < 0 {
		slot = 0
	}

	for probe := 0; probe < a.maxProbe; probe++ {
		base := a.basePort + (slot+probe)*a.stride
		if base+a.stride-1 > maxPort {
			break
		}
		if a.conflictLocked(base, a.stride) {
			continue
		}
		a.insertLocked(owner, base, a.stride)
		return base, nil
	}

	return 0, &ResourceExhaustionError{
		Resource: "ports",
		Detail:   fmt.Sprintf("no free block of %d for %s after %d probes from slot %d", a.stride, owner, a.maxProbe, slot),
		Err:      ErrPortRangeExhausted,
	}
}

// Reserve records an existing block, e.g. when rebuilding from the registry.
func (a *Allocator) Reserve(owner string, base, count int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i, ok := a.byOwner[owner]; ok {
		if a.arena[i].base == base && a.arena[i].count == count {
			return nil
		}
		return fmt.Errorf("%s already holds ports %d-%d", owner, a.arena[i].base, a.arena[i].base+a.arena[i].count-1)
	}
	if a.conflictLocked(base, count) {
		return fmt.Errorf("ports %d-%d for %s overlap a live block", base, base+count-1, owner)
	}
	a.insertLocked(owner, base, count)
	return nil
}

// Release frees owner's block. Releasing an unknown owner is a no-op.
func (a *Allocator) Release(owner string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.byOwner[owner]
	if !ok {
		return false
	}
	a.arena[i] = block{}
	a.free = append(a.free, i)
	delete(a.byOwner, owner)
	return true
}

// Lookup returns owner's block base.
func (a *Allocator) Lookup(owner string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i, ok := a.byOwner[owner]
	if !ok {
		return 0, false
	}
	return a.arena[i].base, true
}

// Len returns the number of live blocks.
func (a *Allocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.byOwner)
}

// Bases returns live block bases in ascending order.
func (a *Allocator) Bases() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int, 0, len(a.byOwner))
	for _, i := range a.byOwner {
		out = append(out, a.arena[i].base)
	}
	sort.Ints(out)
	return out
}

func (a *Allocator) conflictLocked(base, count int) bool {
	for _, b := range a.arena {
		if b.overlaps(base, count) {
			return true
		}
	}
	return false
}

func (a *Allocator) insertLocked(owner string, base, count int) {
	entry := block{owner: owner, base: base, count: count, used: true}
	if n := len(a.free); n > 0 {
		i := a.free[n-1]
		a.free = a.free[:n-1]
		a.arena[i] = entry
		a.byOwner[owner] = i
		return
	}
	a.arena = append(a.arena, entry)
	a.byOwner[owner] = len(a.arena) - 1
}
