package processor

import "sync"

// ExternalAnalysis is a rendezvous bridge to an out-of-process (or simply
// out-of-Go) analysis runtime: the scheduler's Run call hands it a data
// range and blocks until the external side reports back how much of the
// range it still needs, exactly mirroring the reference implementation's
// atomic-flag handshake but expressed with a sync.Cond instead of
// atomic_flag's wait/notify_one, which Go's standard library does not
// expose directly on plain booleans.
type ExternalAnalysis struct {
	mu   sync.Mutex
	cond *sync.Cond

	running    bool
	stopped    bool
	availFrom  uint64
	availTo    uint64
	neededFrom uint64
}

// Init implements Processor; ExternalAnalysis does not need the channel
// list itself (the external runtime reads channel data independently, out
// of band), so this only prepares the condition variable.
func (e *ExternalAnalysis) Init([]Channel) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cond = sync.NewCond(&e.mu)
	e.running = false
	e.stopped = false
	e.neededFrom = 0
	return nil
}

// Run implements Processor: it publishes [from, to) as available and
// blocks until the external side calls Done, then returns the counter the
// external side reported it still needs.
func (e *ExternalAnalysis) Run(from, to uint64) (uint64, error) {
	e.mu.Lock()
	e.availFrom, e.availTo = from, to
	e.running = true
	e.cond.Broadcast()
	for e.running && !e.stopped {
		e.cond.Wait()
	}
	needed := e.neededFrom
	e.mu.Unlock()
	return needed, nil
}

// Finish implements Processor: it calls Stop so that any goroutine
// blocked in WaitForData wakes up and exits instead of hanging forever
// once the scheduler has no more data to offer.
func (e *ExternalAnalysis) Finish() error {
	e.Stop()
	return nil
}

// WaitForData blocks until a range is available (i.e. Run has been
// called) or Stop has been requested, and returns it. stop reports
// whether the caller should exit its loop instead of processing the
// range.
func (e *ExternalAnalysis) WaitForData() (from, to uint64, stop bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for !e.running && !e.stopped {
		e.cond.Wait()
	}
	return e.availFrom, e.availTo, e.stopped
}

// Done reports that the external side has finished processing the most
// recently delivered range and no longer needs data before needFrom,
// waking the scheduler's blocked Run call.
func (e *ExternalAnalysis) Done(needFrom uint64) {
	e.mu.Lock()
	e.neededFrom = needFrom
	e.running = false
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Stop requests that both sides of the rendezvous unblock and exit: the
// scheduler's Run call returns immediately, and any WaitForData call
// returns with stop=true.
func (e *ExternalAnalysis) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.running = true
	e.cond.Broadcast()
	e.mu.Unlock()
}
