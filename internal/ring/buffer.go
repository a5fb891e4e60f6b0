// Package ring implements the fixed-capacity, single-producer/single-consumer
// ring buffer that glues every stage of the acquisition pipeline together.
//
// Two monotonically increasing counters — push and pop — track how much of
// the buffer is occupied without ever needing to distinguish "empty" from
// "full" by a sentinel flag: empty is push==pop, full is push==pop+capacity.
// Both counters are read by both sides (the producer also needs to know
// when the buffer is full; the consumer needs to know when it's empty), so
// they are kept in the same cache line to avoid a false-sharing penalty
// that would otherwise double the cross-core traffic needed to observe
// them together.
//
// Exactly one producer goroutine and one consumer goroutine may use a given
// Buffer. Any other usage is undefined, by design: the whole point of this
// type is to avoid the synchronization cost of a general-purpose queue.
package ring

import (
	"sync/atomic"

	"github.com/apdcam10g/daqcore/internal/daqerr"
)

// counterPair holds the push and pop counters next to each other so a
// single cache line covers both; both are queried together on nearly every
// operation (push checks pop, pop checks push, Range checks push while
// already holding pop).
type counterPair struct {
	pop  atomic.Uint64
	push atomic.Uint64
	_    [48]byte // pad the pair out to its own cache line
}

// Buffer is a fixed-capacity SPSC ring of T. The zero value is not usable;
// construct with New.
type Buffer[T any] struct {
	counters counterPair

	mask      uint64
	extraSize uint64
	buf       []T

	terminated atomic.Bool

	stats statAccumulator
}

// New allocates a ring buffer of the given capacity (must be a power of
// two) with extraSize additional trailing slots reserved for flattening a
// wrapped Range read into one contiguous slice.
func New[T any](capacity, extraSize int) (*Buffer[T], error) {
	if capacity <= 0 || !isPowerOfTwo(uint64(capacity)) {
		return nil, daqerr.Newf(daqerr.CategoryConfiguration, "ring buffer capacity %d must be a power of two", capacity)
	}
	if extraSize < 0 {
		return nil, daqerr.New(daqerr.CategoryConfiguration, "ring buffer extra size must be >= 0")
	}
	b := &Buffer[T]{
		mask:      uint64(capacity) - 1,
		extraSize: uint64(extraSize),
		buf:       make([]T, capacity+extraSize),
	}
	return b, nil
}

// isPowerOfTwo reports whether p is a power of two. The reference
// implementation this module is ported from computed this as
// "(p-1) & p != 0", which due to operator precedence in that language
// always evaluates the bitwise AND against the comparison's boolean result
// and is always true. The correct check is below.
func isPowerOfTwo(p uint64) bool {
	return p != 0 && p&(p-1) == 0
}

// Capacity returns the number of addressable slots, excluding extra space.
func (b *Buffer[T]) Capacity() uint64 { return b.mask + 1 }

// PushCounter returns the current push counter (acquire semantics: visible
// writes to slots below this counter happen-before this load).
func (b *Buffer[T]) PushCounter() uint64 { return b.counters.push.Load() }

// PopCounter returns the current pop counter.
func (b *Buffer[T]) PopCounter() uint64 { return b.counters.pop.Load() }

// Size returns the number of elements currently occupying the buffer.
func (b *Buffer[T]) Size() uint64 {
	return b.counters.push.Load() - b.counters.pop.Load()
}

// Empty reports whether the buffer currently holds no elements.
func (b *Buffer[T]) Empty() bool { return b.Size() == 0 }

// Terminate sets the one-way end-of-stream flag. Safe to call from the
// producer only.
func (b *Buffer[T]) Terminate() { b.terminated.Store(true) }

// Terminated reports whether Terminate has been called.
func (b *Buffer[T]) Terminated() bool { return b.terminated.Load() }

// Push stores value in the next free slot and returns a pointer to it, or
// nil if the buffer is currently full. The caller is responsible for
// retrying (with backoff) or giving up; Push never blocks.
func (b *Buffer[T]) Push(value T) *T {
	push := b.counters.push.Load()
	pop := b.counters.pop.Load()
	if push-pop >= b.mask+1 {
		return nil
	}
	b.stats.sample(push - pop)

	idx := push & b.mask
	b.buf[idx] = value
	b.counters.push.Store(push + 1)
	return &b.buf[idx]
}

// Pop removes and returns the front element, or ok=false if the buffer is
// empty. It does not zero the vacated slot; callers relying on garbage
// collection of large payloads should overwrite the slot themselves before
// popping (see ingest.Buffer, which never needs to: it reuses slot memory
// in place).
func (b *Buffer[T]) Pop() (value T, ok bool) {
	pop := b.counters.pop.Load()
	push := b.counters.push.Load()
	if push == pop {
		return value, false
	}
	value = b.buf[pop&b.mask]
	b.counters.pop.Store(pop + 1)
	return value, true
}

// PopTo sets the pop counter directly, reclaiming every slot up to (but
// not including) counter in one step. Used by the processor scheduler to
// release a whole window at once rather than popping element by element.
func (b *Buffer[T]) PopTo(counter uint64) {
	b.counters.pop.Store(counter)
}

// At returns a pointer to the slot holding logical index (pop-relative):
// At(0) is the current front element. It performs no bounds checking
// beyond the ring mask and must only be called by the consumer.
func (b *Buffer[T]) At(index uint64) *T {
	pop := b.counters.pop.Load()
	return &b.buf[(pop+index)&b.mask]
}

// AtCounter returns a pointer to the slot for an absolute counter value,
// with no relation to the current pop position. Used by processors that
// address shots by their absolute counter (e.g. DiskDump replaying
// [from,to)).
func (b *Buffer[T]) AtCounter(counter uint64) *T {
	return &b.buf[counter&b.mask]
}

// FutureElement returns a pointer to the slot that will become the n-th
// upcoming element once published, spin-waiting until it is free. It
// returns nil if ctx is done before a slot frees up, so producers can
// observe cancellation instead of spinning forever.
func (b *Buffer[T]) FutureElement(n uint64, done <-chan struct{}) *T {
	push := b.counters.push.Load()
	for {
		if b.counters.pop.Load()+b.mask+1 > push+n {
			return &b.buf[(push+n)&b.mask]
		}
		select {
		case <-done:
			return nil
		default:
		}
	}
}

// Publish makes n previously-prepared future elements (see FutureElement)
// visible to the consumer by advancing the push counter. The caller must
// have populated future elements 0..n-1 beforehand and must not have
// called Push or Publish since obtaining them.
func (b *Buffer[T]) Publish(n uint64) {
	push := b.counters.push.Load()
	b.stats.sample(push - b.counters.pop.Load())
	b.counters.push.Add(n)
}

// Range spin-waits (bounded by done, typically a context's Done channel)
// until the buffer holds at least to elements, or until Terminated()
// becomes true, and returns a contiguous slice covering [from, to). If the
// requested window wraps past the end of the buffer, the wrapped prefix is
// copied into the reserved extra space so the returned slice is always
// contiguous. If the stream terminates before `to` is reached, to is
// clamped to the current push counter and the slice is correspondingly
// shorter.
//
// Range must be called with a monotonically increasing sequence of `from`
// values no smaller than the current pop counter; it is the caller's
// responsibility (the processor scheduler) to maintain that discipline.
func (b *Buffer[T]) Range(from, to uint64, done <-chan struct{}) ([]T, error) {
	for {
		push := b.counters.push.Load()
		if push >= to {
			break
		}
		if b.Terminated() {
			push = b.counters.push.Load()
			if push < to {
				to = push
			}
			break
		}
		select {
		case <-done:
			push = b.counters.push.Load()
			if push < to {
				to = push
			}
		default:
		}
		if to <= from {
			break
		}
	}
	if to <= from {
		return nil, nil
	}

	if (to & b.mask) < (from & b.mask) {
		n := to - from
		nBack := (b.mask + 1) - (from & b.mask)
		nFront := n - nBack
		if nFront > b.extraSize {
			return nil, daqerr.Newf(daqerr.CategoryRangeOverflow,
				"range [%d,%d) wraps by %d elements, extra space is only %d", from, to, nFront, b.extraSize)
		}
		copy(b.buf[b.mask+1:], b.buf[:nFront])
	}
	return b.buf[from&b.mask : from&b.mask+(to-from)], nil
}

// Mean returns the mean occupied size sampled at every Push/Publish call
// since the last ResetStatistics.
func (b *Buffer[T]) Mean() float64 { return b.stats.mean() }

// StdDev returns the standard deviation of the occupied size.
func (b *Buffer[T]) StdDev() float64 { return b.stats.stddev() }

// MaxSize returns the high-water mark of the occupied size.
func (b *Buffer[T]) MaxSize() uint64 { return b.stats.max }

// ResetStatistics zeroes the running sum/sum-of-squares/max accumulators.
func (b *Buffer[T]) ResetStatistics() { b.stats = statAccumulator{} }
