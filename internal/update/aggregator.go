// Package update implements the UPnP container-update aggregator: it
// coalesces container-changed notifications into batches and emits them as
// CDS subscription updates once a flush policy's window elapses.
package update

import (
	"sync"
	"time"

	l "github.com/sirupsen/logrus"
	"gitlab.com/mipimipi/cdscore/internal/cds"
)

var log *l.Entry = l.WithFields(l.Fields{"pkg": "update"})

// Policy selects how eagerly pending updates are flushed.
type Policy int

const (
	// PolicySpec waits roughly specInterval before flushing - the default,
	// named for the UPnP spec's recommended coalescing window.
	PolicySpec Policy = iota
	// PolicyASAP flushes on the aggregator's next wake with no delay.
	PolicyASAP
)

const (
	specInterval   = 2 * time.Second
	maxIDs         = 1000
	maxIDsOverload = 30
)

// IncrementUpdateIDs is the subset of the Database contract this aggregator
// calls to turn a pending id set into the UPnP CSV wire form.
type IncrementUpdateIDs func(ids map[cds.ID]struct{}) (string, error)

// Sink receives the CSV string produced by a flush, for forwarding to
// subscribed control points as a GENA event.
type Sink interface {
	SendCDSSubscriptionUpdate(csv string)
}

// FatalHandler is invoked when the database reports an error on the
// increment path - the spec treats this as unrecoverable, since continuing
// with a stale catalog would violate the per-container update-id invariant
// subscribers rely on.
type FatalHandler func(err error)

// Aggregator batches container ids and flushes them through Increment,
// handing the result to Sink.
type Aggregator struct {
	increment IncrementUpdateIDs
	sink      Sink
	onFatal   FatalHandler

	mu          sync.Mutex
	cond        *sync.Cond
	pending     map[cds.ID]struct{}
	lastChanged cds.ID
	policy      Policy
	shutdown    bool
}

// New builds an Aggregator. onFatal may be nil, in which case a fatal
// database error is only logged.
func New(increment IncrementUpdateIDs, sink Sink, onFatal FatalHandler) *Aggregator {
	a := &Aggregator{
		increment:   increment,
		sink:        sink,
		onFatal:     onFatal,
		pending:     map[cds.ID]struct{}{},
		lastChanged: cds.InvalidID,
		policy:      PolicySpec,
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// ContainerChanged records a single container update. A repeat of the same
// id as the immediately preceding call is a no-op fast path - the common
// "same parent repeatedly" case needs no locking work beyond the compare.
func (a *Aggregator) ContainerChanged(id cds.ID, policy Policy) {
	if id == cds.InvalidID {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if id == a.lastChanged && policy <= a.policy {
		return
	}

	signal := len(a.pending) == 0
	a.pending[id] = struct{}{}
	a.lastChanged = id
	if len(a.pending) >= maxIDs {
		signal = true
	}
	if policy > a.policy {
		a.policy = policy
		signal = true
	}
	if signal {
		a.cond.Signal()
	}
}

// ContainersChanged records a batch of container ids under one policy. If
// the batch would push pending past maxIDs+maxIDsOverload, it drops the
// lock and signals in between insertions so the flusher can drain the
// backlog without unbounded growth, while preserving ordering within this
// call.
func (a *Aggregator) ContainersChanged(ids []cds.ID, policy Policy) {
	a.mu.Lock()
	defer a.mu.Unlock()

	signal := len(a.pending) == 0
	if policy > a.policy {
		a.policy = policy
		signal = true
	}

	split := len(a.pending)+len(ids) >= maxIDs+maxIDsOverload
	for _, id := range ids {
		if id == a.lastChanged {
			continue
		}
		a.pending[id] = struct{}{}
		if split && len(a.pending) > maxIDs {
			for len(a.pending) > maxIDs {
				a.cond.Signal()
				a.mu.Unlock()
				a.mu.Lock()
			}
		}
	}
	if len(a.pending) >= maxIDs {
		signal = true
	}
	if signal {
		a.cond.Signal()
	}
}

// Run drives the flush loop until Shutdown is called; wg.Done() fires on
// return.
func (a *Aggregator) Run(wg interface{ Done() }) {
	defer wg.Done()

	lastFlush := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	for {
		if a.shutdown && len(a.pending) == 0 {
			return
		}
		if len(a.pending) == 0 {
			a.cond.Wait()
			continue
		}

		var wait time.Duration
		switch a.policy {
		case PolicySpec:
			wait = specInterval - time.Since(lastFlush)
		case PolicyASAP:
			wait = 0
		}

		sendUpdates := true
		if wait > time.Millisecond && len(a.pending) < maxIDs {
			sendUpdates = a.sleepUntilSignalled(wait)
		}

		if !sendUpdates {
			continue
		}
		a.lastChanged = cds.InvalidID
		a.policy = PolicySpec
		batch := a.pending
		a.pending = map[cds.ID]struct{}{}

		a.mu.Unlock()
		csv, err := a.increment(batch)
		if err != nil {
			log.Errorf("fatal error incrementing update ids: %v", err)
			if a.onFatal != nil {
				a.onFatal(err)
			}
			a.mu.Lock()
			continue
		}
		if csv != "" {
			a.sink.SendCDSSubscriptionUpdate(csv)
			lastFlush = time.Now()
		}
		a.mu.Lock()
	}
}

// sleepUntilSignalled waits up to d for a Signal/Broadcast, reporting true
// if it woke because the wait timed out and false if it woke because new
// work (or shutdown) arrived - a timeout means "flush now", a real signal means
// "policy or shutdown changed, recheck".
func (a *Aggregator) sleepUntilSignalled(d time.Duration) bool {
	woke := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		a.mu.Lock()
		close(woke)
		a.cond.Broadcast()
		a.mu.Unlock()
	})
	defer timer.Stop()

	a.cond.Wait()
	select {
	case <-woke:
		return true
	default:
		return false
	}
}

// Shutdown stops the flush loop after draining any already-pending batch.
func (a *Aggregator) Shutdown() {
	a.mu.Lock()
	a.shutdown = true
	a.cond.Broadcast()
	a.mu.Unlock()
}
