package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPowerOfTwo(t *testing.T) {
	_, err := New[int](3, 0)
	require.Error(t, err)

	_, err = New[int](0, 0)
	require.Error(t, err)

	b, err := New[int](16, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(16), b.Capacity())
}

func TestIsPowerOfTwo(t *testing.T) {
	// The reference implementation's "(p-1)&p != 0" check is always true
	// regardless of p due to operator precedence; this exercises the fixed
	// version instead.
	require.False(t, isPowerOfTwo(0))
	require.False(t, isPowerOfTwo(3))
	require.False(t, isPowerOfTwo(100))
	require.True(t, isPowerOfTwo(1))
	require.True(t, isPowerOfTwo(2))
	require.True(t, isPowerOfTwo(1024))
}

func TestPushPopFIFO(t *testing.T) {
	b, err := New[int](4, 0)
	require.NoError(t, err)

	require.NotNil(t, b.Push(10))
	require.NotNil(t, b.Push(20))
	require.NotNil(t, b.Push(30))

	v, ok := b.Pop()
	require.True(t, ok)
	require.Equal(t, 10, v)

	v, ok = b.Pop()
	require.True(t, ok)
	require.Equal(t, 20, v)
}

func TestPushReturnsNilWhenFull(t *testing.T) {
	b, err := New[int](2, 0)
	require.NoError(t, err)

	require.NotNil(t, b.Push(1))
	require.NotNil(t, b.Push(2))
	require.Nil(t, b.Push(3))

	_, ok := b.Pop()
	require.True(t, ok)
	require.NotNil(t, b.Push(3))
}

func TestPopOnEmptyReportsFalse(t *testing.T) {
	b, err := New[int](4, 0)
	require.NoError(t, err)

	_, ok := b.Pop()
	require.False(t, ok)
}

func TestPopToReclaimsWholeWindow(t *testing.T) {
	b, err := New[int](8, 0)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NotNil(t, b.Push(i))
	}
	b.PopTo(3)
	require.Equal(t, uint64(1), b.Size())

	v, ok := b.Pop()
	require.True(t, ok)
	require.Equal(t, 3, v)
}

func TestFutureElementAndPublish(t *testing.T) {
	b, err := New[int](4, 0)
	require.NoError(t, err)

	done := make(chan struct{})
	e0 := b.FutureElement(0, done)
	require.NotNil(t, e0)
	*e0 = 100
	e1 := b.FutureElement(1, done)
	require.NotNil(t, e1)
	*e1 = 200

	// Not yet visible to the consumer.
	require.True(t, b.Empty())

	b.Publish(2)
	require.Equal(t, uint64(2), b.Size())

	v, ok := b.Pop()
	require.True(t, ok)
	require.Equal(t, 100, v)
	v, ok = b.Pop()
	require.True(t, ok)
	require.Equal(t, 200, v)
}

func TestFutureElementUnblocksOnDone(t *testing.T) {
	b, err := New[int](2, 0)
	require.NoError(t, err)
	require.NotNil(t, b.Push(1))
	require.NotNil(t, b.Push(2))

	done := make(chan struct{})
	close(done)

	// Buffer is full and stays full, so this must observe done rather than
	// spin forever.
	e := b.FutureElement(0, done)
	require.Nil(t, e)
}

func TestRangeContiguous(t *testing.T) {
	b, err := New[int](8, 0)
	require.NoError(t, err)

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		require.NotNil(t, b.Push(i))
	}

	view, err := b.Range(1, 4, done)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, view)
}

func TestRangeWrapsIntoExtraSpace(t *testing.T) {
	b, err := New[int](4, 2)
	require.NoError(t, err)

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		require.NotNil(t, b.Push(i))
	}
	// Consume and refill so the window [3, 6) wraps past the physical end.
	_, _ = b.Pop()
	_, _ = b.Pop()
	_, _ = b.Pop()
	require.NotNil(t, b.Push(4))
	require.NotNil(t, b.Push(5))

	view, err := b.Range(3, 6, done)
	require.NoError(t, err)
	require.Equal(t, []int{3, 4, 5}, view)
}

func TestRangeWrapExceedsExtraSpaceReturnsRangeOverflowError(t *testing.T) {
	b, err := New[int](4, 0)
	require.NoError(t, err)

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		require.NotNil(t, b.Push(i))
	}
	_, _ = b.Pop()
	_, _ = b.Pop()
	_, _ = b.Pop()
	require.NotNil(t, b.Push(4))
	require.NotNil(t, b.Push(5))

	_, err = b.Range(3, 6, done)
	require.Error(t, err)
}

func TestRangeClampsToTerminatedStream(t *testing.T) {
	b, err := New[int](8, 0)
	require.NoError(t, err)

	done := make(chan struct{})
	require.NotNil(t, b.Push(1))
	require.NotNil(t, b.Push(2))
	b.Terminate()

	view, err := b.Range(0, 10, done)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, view)
}

func TestStatistics(t *testing.T) {
	b, err := New[int](8, 0)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NotNil(t, b.Push(i))
	}
	require.Greater(t, b.Mean(), 0.0)
	require.Equal(t, uint64(3), b.MaxSize())

	b.ResetStatistics()
	require.Equal(t, 0.0, b.Mean())
	require.Equal(t, uint64(0), b.MaxSize())
}

// TestSingleProducerSingleConsumer exercises the SPSC contract under real
// goroutine concurrency: one producer pushing a known sequence, one consumer
// draining it, both racing against the same counter pair.
func TestSingleProducerSingleConsumer(t *testing.T) {
	b, err := New[int](64, 0)
	require.NoError(t, err)

	const n = 10000
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer b.Terminate()
		for i := 0; i < n; i++ {
			for b.Push(i) == nil {
				// full, spin until the consumer frees a slot
			}
		}
	}()

	var got []int
	go func() {
		defer wg.Done()
		for {
			v, ok := b.Pop()
			if ok {
				got = append(got, v)
				continue
			}
			if b.Terminated() && b.Empty() {
				return
			}
		}
	}()

	wg.Wait()
	require.Len(t, got, n)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}
