package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExternalAnalysisRendezvous(t *testing.T) {
	var e ExternalAnalysis
	require.NoError(t, e.Init(nil))

	done := make(chan struct{})
	var gotFrom, gotTo uint64
	go func() {
		defer close(done)
		from, to, stop := e.WaitForData()
		gotFrom, gotTo = from, to
		require.False(t, stop)
		e.Done(to) // needs nothing before `to`
	}()

	needed, err := e.Run(10, 20)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("external consumer goroutine never observed the data")
	}

	require.Equal(t, uint64(10), gotFrom)
	require.Equal(t, uint64(20), gotTo)
	require.Equal(t, uint64(20), needed)
}

func TestExternalAnalysisStopUnblocksBothSides(t *testing.T) {
	var e ExternalAnalysis
	require.NoError(t, e.Init(nil))

	// Run blocks until Done or Stop; nothing calls Done here.
	runDone := make(chan uint64, 1)
	go func() {
		needed, _ := e.Run(0, 1)
		runDone <- needed
	}()

	// Give Run a moment to start blocking before stopping.
	time.Sleep(20 * time.Millisecond)
	e.Stop()

	// The external side is only started after Stop: while Run is
	// pending, WaitForData would hand it Run's range with stop=false.
	waiterDone := make(chan bool, 1)
	go func() {
		_, _, stop := e.WaitForData()
		waiterDone <- stop
	}()

	select {
	case stop := <-waiterDone:
		require.True(t, stop)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForData never returned after Stop")
	}

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run never unblocked on Stop")
	}
}

func TestNullProcessorReclaimsEverything(t *testing.T) {
	var n Null
	require.NoError(t, n.Init(nil))
	needed, err := n.Run(5, 50)
	require.NoError(t, err)
	require.Equal(t, uint64(50), needed)
	require.NoError(t, n.Finish())
}
