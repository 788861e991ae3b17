// Package timer provides the subscription timer driving periodic work:
// timed autoscans and online-content refreshes subscribe with an interval
// and a tagged parameter they receive back on every tick.
package timer

import (
	"context"
	"sync"
	"time"

	l "github.com/sirupsen/logrus"
)

var log *l.Entry = l.WithFields(l.Fields{"pkg": "timer"})

// ParameterKind tags what a subscription's id refers to.
type ParameterKind int

const (
	IDAutoscan ParameterKind = iota
	IDOnlineContent
)

// Parameter is the tagged pair handed back to a subscriber on every tick.
type Parameter struct {
	Kind ParameterKind
	ID   int
}

// Subscriber receives tick callbacks. TimerNotify runs on the timer's own
// goroutine and must not block for long.
type Subscriber interface {
	TimerNotify(p Parameter)
}

type subscription struct {
	sub    Subscriber
	param  Parameter
	once   bool
	cancel context.CancelFunc
}

// Timer multiplexes interval subscriptions onto per-subscription goroutines.
type Timer struct {
	mu   sync.Mutex
	ctx  context.Context
	subs []*subscription
	wg   sync.WaitGroup
}

// New builds a Timer whose subscriptions live until ctx is cancelled.
func New(ctx context.Context) *Timer {
	return &Timer{ctx: ctx}
}

// AddTimerSubscriber registers sub to be notified with param every interval;
// once limits it to a single tick.
func (t *Timer) AddTimerSubscriber(sub Subscriber, interval time.Duration, param Parameter, once bool) {
	ctx, cancel := context.WithCancel(t.ctx)
	s := &subscription{sub: sub, param: param, once: once, cancel: cancel}

	t.mu.Lock()
	t.subs = append(t.subs, s)
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sub.TimerNotify(s.param)
				if s.once {
					t.RemoveTimerSubscriber(s.sub, s.param, true)
					return
				}
			}
		}
	}()
}

// RemoveTimerSubscriber cancels the subscription matching (sub, param).
// silent suppresses the log entry for removals the caller initiated itself.
func (t *Timer) RemoveTimerSubscriber(sub Subscriber, param Parameter, silent bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s.sub == sub && s.param == param {
			s.cancel()
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			if !silent {
				log.Debugf("removed timer subscription kind=%d id=%d", param.Kind, param.ID)
			}
			return
		}
	}
}

// Wait blocks until every subscription goroutine has exited; call after
// cancelling the context passed to New.
func (t *Timer) Wait() { t.wg.Wait() }
