// Copyright (c) 2024, The OTNS Authors.
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
// 1. Redistributions of source code must retain the above copyright
//    notice, this list of conditions and the following disclaimer.
// 2. Redistributions in binary form must reproduce the above copyright
//    notice, this list of conditions and the following disclaimer in the
//    documentation and/or other materials provided with the distribution.
// 3. Neither the name of the copyright holder nor the
//    names of its contributors may be used to endorse or promote products
//    derived from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE
// ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE
// LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR
// CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF
// SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN
// CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE)
// ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
// POSSIBILITY OF SUCH DAMAGE.

package dispatcher

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/openthread/tsch-sim/event"
	"github.com/openthread/tsch-sim/logger"
	"github.com/openthread/tsch-sim/metrics"
	"github.com/openthread/tsch-sim/progctx"
	. "github.com/openthread/tsch-sim/types"
)

const (
	routineName = "dispatcher"
	tagOwner    = "dispatcher"
)

var (
	pauseTag = event.NewTag(tagOwner, "pause")
	endTag   = event.NewTag(tagOwner, "end")
)

type CallbackHandler interface {
	OnDispatcherStarted()
	OnDispatcherPaused()
	OnDispatcherResumed()
	OnDispatcherStopped()
	// OnDispatcherCrashed is called on the dispatcher goroutine after a callback fault ended the run.
	OnDispatcherCrashed(report *CrashReport)
	// Diagnostics returns what is needed to reproduce the run after a crash.
	Diagnostics() Diagnostics
}

// NopCallbackHandler ignores all notifications.
type NopCallbackHandler struct{}

func (NopCallbackHandler) OnDispatcherStarted()             {}
func (NopCallbackHandler) OnDispatcherPaused()              {}
func (NopCallbackHandler) OnDispatcherResumed()             {}
func (NopCallbackHandler) OnDispatcherStopped()             {}
func (NopCallbackHandler) OnDispatcherCrashed(*CrashReport) {}
func (NopCallbackHandler) Diagnostics() Diagnostics         { return Diagnostics{} }

type Counters struct {
	Executed  uint64
	Discarded uint64
	Quanta    uint64
	Pauses    uint64
}

// Dispatcher owns the global virtual clock and the event store. Its run loop executes due callbacks on
// one goroutine; Schedule, Cancel, PauseAt, Resume and Terminate may be called from any goroutine.
type Dispatcher struct {
	ctx       *progctx.ProgCtx
	cfg       Config
	cbHandler CallbackHandler
	metrics   *metrics.Collector

	lock     sync.Mutex
	curTime  Timestamp
	store    *event.Store
	current  *event.Event
	started  bool
	goOn     bool
	paused   bool
	resuming bool
	pauseSem *semaphore.Weighted
	counters Counters
	result   *Result
	done     chan struct{}
}

func NewDispatcher(ctx *progctx.ProgCtx, cfg *Config, cbHandler CallbackHandler, m *metrics.Collector) *Dispatcher {
	if ctx == nil {
		ctx = progctx.New(nil)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cbHandler == nil {
		cbHandler = NopCallbackHandler{}
	}
	logger.AssertTrue(cfg.Quantum > 0, "dispatcher quantum must be positive")

	d := &Dispatcher{
		ctx:       ctx,
		cfg:       *cfg,
		cbHandler: cbHandler,
		metrics:   m,
		store:     event.NewStore(),
		pauseSem:  semaphore.NewWeighted(1),
		done:      make(chan struct{}),
	}
	// the pause callback blocks acquiring the semaphore, which is only released by Resume
	logger.AssertTrue(d.pauseSem.TryAcquire(1))
	return d
}

// CurTime returns the global clock.
func (d *Dispatcher) CurTime() Timestamp {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.curTime
}

func (d *Dispatcher) Quantum() Timestamp {
	return d.cfg.Quantum
}

// Schedule runs cb at time t. A pending event under the same tag is cancelled. It fails unless t is
// strictly after the current time.
func (d *Dispatcher) Schedule(t Timestamp, order int, tag event.Tag, cb func()) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.scheduleLocked(t, order, tag, cb)
}

// ScheduleIn runs cb after delay from the current time.
func (d *Dispatcher) ScheduleIn(delay Timestamp, order int, tag event.Tag, cb func()) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.scheduleLocked(d.curTime+delay, order, tag, cb)
}

func (d *Dispatcher) scheduleLocked(t Timestamp, order int, tag event.Tag, cb func()) error {
	if t <= d.curTime {
		return errors.Wrapf(ErrPastEvent, "schedule %v at %d, now %d", tag, t, d.curTime)
	}
	d.store.Push(&event.Event{
		Time:     t,
		Order:    order,
		Tag:      tag,
		Callback: cb,
	})
	return nil
}

// Cancel cancels the pending event under tag. It reports whether there was one.
func (d *Dispatcher) Cancel(tag event.Tag) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.store.Cancel(tag)
}

func (d *Dispatcher) IsScheduled(tag event.Tag) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.store.IsScheduled(tag)
}

// NextEventTime returns the time of the first pending event under tag.
func (d *Dispatcher) NextEventTime(tag event.Tag) (Timestamp, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	e, ok := d.store.Lookup(tag)
	if !ok {
		return 0, errors.Wrapf(ErrNotFound, "no event under %v", tag)
	}
	return e.Time, nil
}

// Pending returns the number of active events.
func (d *Dispatcher) Pending() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.store.Active()
}

func (d *Dispatcher) GetCounters() Counters {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.counters
}

// PauseAt makes the run loop block at time t until Resume is called.
func (d *Dispatcher) PauseAt(t Timestamp) error {
	return d.Schedule(t, event.OrderAdmin, pauseTag, d.pause)
}

func (d *Dispatcher) pause() {
	d.lock.Lock()
	d.paused = true
	d.counters.Pauses++
	d.lock.Unlock()
	d.cbHandler.OnDispatcherPaused()

	if err := d.pauseSem.Acquire(d.ctx, 1); err != nil {
		logger.Debugf("dispatcher pause aborted: %v", err)
	}

	d.lock.Lock()
	d.paused = false
	d.resuming = false
	d.lock.Unlock()
	d.cbHandler.OnDispatcherResumed()
}

// Resume releases a paused run loop. It does nothing when not paused.
func (d *Dispatcher) Resume() {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.paused || d.resuming {
		return
	}
	d.resuming = true
	d.pauseSem.Release(1)
}

func (d *Dispatcher) Paused() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.paused
}

// Terminate stops the run loop after delay. Delays shorter than one quantum end it at the next quantum.
func (d *Dispatcher) Terminate(delay Timestamp) error {
	if delay < d.cfg.Quantum {
		delay = d.cfg.Quantum
	}
	return d.ScheduleIn(delay, event.OrderAdmin, endTag, d.End)
}

// End makes the run loop exit once the events due at the current time have run.
func (d *Dispatcher) End() {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.goOn = false
}

// Start launches the run loop on its own goroutine.
func (d *Dispatcher) Start() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.started {
		return errors.Errorf("dispatcher already started")
	}
	d.started = true
	d.goOn = true

	d.ctx.WaitAdd(routineName, 1)
	go d.run()
	return nil
}

// Wait blocks until the run loop has exited or timeout elapsed (timeout <= 0 waits forever). It returns
// false on timeout, leaving the loop running.
func (d *Dispatcher) Wait(timeout time.Duration) (*Result, bool) {
	d.lock.Lock()
	started := d.started
	d.lock.Unlock()
	if !started {
		return nil, false
	}

	if timeout <= 0 {
		<-d.done
	} else {
		select {
		case <-d.done:
		case <-time.After(timeout):
			return nil, false
		}
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	return d.result, true
}

// Stop terminates the run loop, releasing it if paused, and waits for it up to timeout. If the loop has
// not exited by then, the program context is cancelled.
func (d *Dispatcher) Stop(timeout time.Duration) (*Result, bool) {
	d.lock.Lock()
	started := d.started
	d.lock.Unlock()
	if !started {
		return nil, false
	}

	select {
	case <-d.done:
	default:
		if err := d.Terminate(0); err != nil {
			logger.Warnf("dispatcher terminate failed: %v", err)
		}
		d.Resume()
	}

	res, ok := d.Wait(timeout)
	if !ok {
		d.ctx.Cancel(errors.Errorf("dispatcher did not stop within %v", timeout))
	}
	return res, ok
}

func (d *Dispatcher) run() {
	defer d.ctx.WaitDone(routineName)
	defer close(d.done)
	defer logger.Debugf("dispatcher exit.")

	d.cbHandler.OnDispatcherStarted()
	res := d.loop()

	d.lock.Lock()
	d.result = res
	d.lock.Unlock()

	if res.Crash != nil {
		d.cbHandler.OnDispatcherCrashed(res.Crash)
	} else {
		d.cbHandler.OnDispatcherStopped()
	}
}

func (d *Dispatcher) loop() (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			res = d.crashResult(r)
		}
	}()

	for d.ctx.Err() == nil {
		due, ok := d.advance()
		if !ok {
			break
		}

		executed := 0
		for _, e := range due {
			if !d.claim(e) {
				continue
			}
			e.Callback()
			executed++
		}

		d.lock.Lock()
		d.current = nil
		d.counters.Executed += uint64(executed)
		d.lock.Unlock()
		d.metrics.AddEventsExecuted(executed)
	}

	return &Result{Time: d.CurTime()}
}

// advance moves the clock by one quantum and pops the events due. Quanta without due events are skipped
// in one go; the clock still only takes quantum multiples.
func (d *Dispatcher) advance() ([]*event.Event, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if !d.goOn {
		return nil, false
	}
	discarded := d.store.Discarded
	defer func() {
		d.counters.Discarded += d.store.Discarded - discarded
		d.metrics.AddEventsDiscarded(d.store.Discarded - discarded)
	}()

	next := d.store.NextTime()
	if next == Ever {
		return nil, false
	}

	q := d.cfg.Quantum
	newTime := d.curTime + q
	if next > newTime {
		newTime = (next + q - 1) / q * q
	}
	d.counters.Quanta += (newTime - d.curTime) / q
	d.curTime = newTime

	return d.store.PopDue(d.curTime), true
}

func (d *Dispatcher) claim(e *event.Event) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.store.Claim(e) {
		d.counters.Discarded++
		d.metrics.AddEventsDiscarded(1)
		return false
	}
	d.current = e
	return true
}

func (d *Dispatcher) crashResult(r interface{}) *Result {
	stack := string(debug.Stack())
	cause, ok := r.(error)
	if !ok {
		cause = errors.Errorf("%v", r)
	}

	d.lock.Lock()
	now := d.curTime
	tag := "-"
	if d.current != nil {
		tag = d.current.Tag.String()
	}
	d.current = nil
	d.lock.Unlock()

	diag := d.cbHandler.Diagnostics()
	return &Result{
		Time: now,
		Crash: &CrashReport{
			Time:   now,
			Tag:    tag,
			Seed:   diag.Seed,
			Config: diag.Config,
			Cause:  cause,
			Stack:  stack,
		},
	}
}
