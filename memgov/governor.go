// Package memgov implements the process-wide MemoryGovernor singleton from
// spec §4.2: size-class buffer pools, memory-pressure callbacks, and a
// health audit, with a hard rule that no callback ever runs with the
// governor's lock held.
package memgov

import "sync"

// Pressure levels delivered to registered callbacks.
const (
	PressureNone     = 0
	PressureModerate = 1
	PressureHigh     = 2
	PressureCritical = 3
)

var poolSizeClasses = []int{4 << 10, 16 << 10, 64 << 10, 256 << 10}

// Stats is a point-in-time snapshot returned by Governor.Stats.
type Stats struct {
	TotalBytes    int64
	PeakBytes     int64
	PerPool       map[int]int64  // size class -> bytes currently checked out
	PerTag        map[string]int64
	DoubleFrees   int64
	LeakSuspects  int64
}

type pool struct {
	size int
	free [][]byte
}

type pressureCallback struct {
	id int
	fn func(level int)
}

// Governor is the process-wide buffer pool and pressure-notification
// manager. The zero value is not usable; construct with New or use the
// package-level Default singleton.
type Governor struct {
	mu sync.Mutex

	pools      []*pool
	totalMax   int64
	perHandler int64

	totalBytes   int64
	peakBytes    int64
	perTag       map[string]int64
	outstanding  map[uintptr]ownership // live buffer -> owner tag, for audit
	doubleFrees  int64

	callbacks  []pressureCallback
	nextCBID   int
	dispatchDepth int
	pendingUnreg  map[int]bool
}

type ownership struct {
	size int
	tag  string
}

// New constructs an independent Governor. Most callers should use Default;
// New exists for tests that need isolation from the process-wide singleton.
func New() *Governor {
	g := &Governor{
		perTag:      make(map[string]int64),
		outstanding: make(map[uintptr]ownership),
		pendingUnreg: make(map[int]bool),
	}
	for _, sz := range poolSizeClasses {
		g.pools = append(g.pools, &pool{size: sz})
	}
	return g
}

// Default is the process-wide MemoryGovernor singleton (spec §9, "Global
// state").
var Default = New()

// SetLimits configures the total and per-handler-tag byte ceilings. A value
// of 0 means "no limit".
func (g *Governor) SetLimits(totalMax, perHandlerMax int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.totalMax = totalMax
	g.perHandler = perHandlerMax
}

// Acquire returns a buffer of at least size bytes, attributed to ownerTag.
// The buffer always comes from its size class (a pooled buffer or a fresh
// one of the class's capacity; an exact-size allocation above the largest
// class), whatever the pressure level; there is no tight-fit path under
// pressure. Callbacks are notified afterwards, outside the lock, only when
// this allocation raises the pressure level.
func (g *Governor) Acquire(size int, ownerTag string) []byte {
	var buf []byte
	var callbacks []pressureCallback

	g.mu.Lock()
	before := g.pressureLevelLocked()
	p := g.poolFor(size)
	if p != nil && len(p.free) > 0 {
		buf = p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		buf = buf[:size]
	} else {
		cap := size
		if p != nil {
			cap = p.size
		}
		buf = make([]byte, size, cap)
	}

	g.totalBytes += int64(cap(buf))
	if g.totalBytes > g.peakBytes {
		g.peakBytes = g.totalBytes
	}
	g.perTag[ownerTag] += int64(cap(buf))
	g.outstanding[bufKey(buf)] = ownership{size: cap(buf), tag: ownerTag}

	level := g.pressureLevelLocked()
	if level > before {
		callbacks = append(callbacks, g.callbacks...)
	}
	g.mu.Unlock()

	// Dispatch outside the lock — the hard rule from spec §4.2.
	g.dispatch(callbacks, level)
	return buf
}

// Release returns buf (previously obtained via Acquire with the given size
// and ownerTag) to its pool.
func (g *Governor) Release(buf []byte, size int, ownerTag string) {
	var callbacks []pressureCallback
	var level int

	g.mu.Lock()
	key := bufKey(buf)
	owned, ok := g.outstanding[key]
	if !ok {
		g.doubleFrees++
		g.mu.Unlock()
		return
	}
	delete(g.outstanding, key)
	before := g.pressureLevelLocked()

	g.totalBytes -= int64(owned.size)
	if g.totalBytes < 0 {
		g.totalBytes = 0
	}
	g.perTag[ownerTag] -= int64(owned.size)
	if g.perTag[ownerTag] <= 0 {
		delete(g.perTag, ownerTag)
	}

	if p := g.poolFor(cap(buf)); p != nil && cap(buf) == p.size {
		p.free = append(p.free, buf[:0:cap(buf)])
	}

	level = g.pressureLevelLocked()
	if level < before {
		// Notify only when this release drops usage below a threshold.
		callbacks = append(callbacks, g.callbacks...)
	}
	g.mu.Unlock()

	g.dispatch(callbacks, level)
}

func (g *Governor) poolFor(size int) *pool {
	for _, p := range g.pools {
		if size <= p.size {
			return p
		}
	}
	return nil
}

func (g *Governor) pressureLevelLocked() int {
	if g.totalMax <= 0 {
		return PressureNone
	}
	ratio := float64(g.totalBytes) / float64(g.totalMax)
	switch {
	case ratio >= 0.95:
		return PressureCritical
	case ratio >= 0.85:
		return PressureHigh
	case ratio >= 0.7:
		return PressureModerate
	default:
		return PressureNone
	}
}

// dispatch invokes callbacks with the governor's lock NOT held. Reentrant
// calls back into Acquire/Release/Optimise/Stats from within a callback are
// safe; unregistration made during dispatch is queued and applied once
// dispatch completes, while a registration takes effect at once but is not
// called by the dispatch already in progress (spec §4.2 invariants).
func (g *Governor) dispatch(callbacks []pressureCallback, level int) {
	if len(callbacks) == 0 {
		return
	}

	g.mu.Lock()
	g.dispatchDepth++
	g.mu.Unlock()

	for _, cb := range callbacks {
		cb.fn(level)
	}

	g.mu.Lock()
	g.dispatchDepth--
	if g.dispatchDepth == 0 && len(g.pendingUnreg) > 0 {
		g.applyPendingUnregisterLocked()
	}
	g.mu.Unlock()
}

func (g *Governor) applyPendingUnregisterLocked() {
	if len(g.pendingUnreg) == 0 {
		return
	}
	kept := g.callbacks[:0]
	for _, cb := range g.callbacks {
		if g.pendingUnreg[cb.id] {
			continue
		}
		kept = append(kept, cb)
	}
	g.callbacks = kept
	g.pendingUnreg = make(map[int]bool)
}

// RegisterPressureCallback registers f to be invoked (outside the lock)
// whenever the governor's total usage crosses a pressure threshold.
// Registration is itself safe to call from within a callback dispatch.
func (g *Governor) RegisterPressureCallback(f func(level int)) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextCBID++
	id := g.nextCBID
	g.callbacks = append(g.callbacks, pressureCallback{id: id, fn: f})
	return id
}

// UnregisterPressureCallback removes a previously registered callback. If
// called from within that callback's own dispatch, the removal is deferred
// until dispatch completes (spec §4.2).
func (g *Governor) UnregisterPressureCallback(id int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dispatchDepth > 0 {
		g.pendingUnreg[id] = true
		return
	}
	kept := g.callbacks[:0]
	for _, cb := range g.callbacks {
		if cb.id == id {
			continue
		}
		kept = append(kept, cb)
	}
	g.callbacks = kept
}

// Optimise copies each non-empty pool's free list into an exactly-sized
// slice; empty pools are left as they are.
func (g *Governor) Optimise() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.pools {
		if len(p.free) == 0 {
			continue
		}
		trimmed := make([][]byte, len(p.free))
		copy(trimmed, p.free)
		p.free = trimmed
	}
}

// Stats returns a snapshot of current usage.
func (g *Governor) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	perPool := make(map[int]int64, len(g.pools))
	for _, p := range g.pools {
		var bytes int64
		for _, own := range g.outstanding {
			if own.size == p.size {
				bytes += int64(own.size)
			}
		}
		perPool[p.size] = bytes
	}
	perTag := make(map[string]int64, len(g.perTag))
	for k, v := range g.perTag {
		perTag[k] = v
	}

	return Stats{
		TotalBytes:   g.totalBytes,
		PeakBytes:    g.peakBytes,
		PerPool:      perPool,
		PerTag:       perTag,
		DoubleFrees:  g.doubleFrees,
		LeakSuspects: int64(len(g.outstanding)),
	}
}

// Audit returns a health report: double-free count and the number of
// buffers still checked out (potential leaks if the caller believes all
// streams are closed).
func (g *Governor) Audit() Stats {
	return g.Stats()
}
