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

package event

import (
	"container/heap"
	"sort"

	"github.com/openthread/tsch-sim/logger"
	. "github.com/openthread/tsch-sim/types"
)

type eventQueue []*Event

func (eq eventQueue) Len() int {
	return len(eq)
}

func (eq eventQueue) Less(i, j int) bool {
	return eq[i].before(eq[j])
}

func (eq eventQueue) Swap(i, j int) {
	a, b := eq[i], eq[j]
	if a.index != i && b.index != j {
		logger.Panicf("wrong index")
	}

	eq[i], eq[j] = b, a             // swap the elements
	eq[i].index, eq[j].index = i, j // fix the indexes
}

func (eq *eventQueue) Push(x interface{}) {
	e := x.(*Event)
	*eq = append(*eq, e)
	e.index = len(*eq) - 1
}

func (eq *eventQueue) Pop() (elem interface{}) {
	eqlen := len(*eq)
	elem = (*eq)[eqlen-1]
	(*eq)[eqlen-1] = nil
	*eq = (*eq)[:eqlen-1]
	elem.(*Event).index = -1
	return
}

// Store keeps scheduled events in time order. Cancelled events stay in the heap until they reach the top,
// where they are discarded; only the tag index is updated on cancel.
type Store struct {
	q      eventQueue
	active map[Tag]*Event
	seq    uint64

	// Discarded counts cancelled events removed from the heap.
	Discarded uint64
}

func NewStore() *Store {
	s := &Store{
		q:      eventQueue{},
		active: map[Tag]*Event{},
	}

	heap.Init(&s.q)
	return s
}

// Push inserts the event, cancelling any active event under the same tag. It returns the cancelled event,
// or nil.
func (s *Store) Push(e *Event) (replaced *Event) {
	logger.AssertNotNil(e.Callback, "event %v without callback", e.Tag)

	if prev, ok := s.active[e.Tag]; ok {
		prev.cancelled = true
		replaced = prev
	}

	s.seq++
	e.seq = s.seq
	e.cancelled = false
	heap.Push(&s.q, e)
	s.active[e.Tag] = e
	return
}

// Cancel marks the active event under tag as cancelled. It reports whether there was one.
func (s *Store) Cancel(tag Tag) bool {
	e, ok := s.active[tag]
	if !ok {
		return false
	}
	e.cancelled = true
	delete(s.active, tag)
	return true
}

func (s *Store) IsScheduled(tag Tag) bool {
	_, ok := s.active[tag]
	return ok
}

// Lookup returns the active event under tag.
func (s *Store) Lookup(tag Tag) (*Event, bool) {
	e, ok := s.active[tag]
	return e, ok
}

// Peek returns the earliest active event, discarding cancelled events found at the top.
func (s *Store) Peek() *Event {
	for len(s.q) > 0 {
		top := s.q[0]
		if !top.cancelled {
			return top
		}
		heap.Pop(&s.q)
		s.Discarded++
	}
	return nil
}

// NextTime returns the time of the earliest active event, or Ever.
func (s *Store) NextTime() Timestamp {
	if e := s.Peek(); e != nil {
		return e.Time
	}
	return Ever
}

// PopDue removes and returns all active events with Time <= t, in execution order. Popped events remain
// cancellable until claimed.
func (s *Store) PopDue(t Timestamp) []*Event {
	var due []*Event
	for {
		top := s.Peek()
		if top == nil || top.Time > t {
			break
		}
		heap.Pop(&s.q)
		due = append(due, top)
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].before(due[j])
	})
	return due
}

// Claim is called right before running a popped event. It returns false if the event was cancelled in the
// meantime, otherwise it releases the event's tag.
func (s *Store) Claim(e *Event) bool {
	if e.cancelled {
		s.Discarded++
		return false
	}
	if s.active[e.Tag] == e {
		delete(s.active, e.Tag)
	}
	return true
}

// Len returns the number of events physically in the store, cancelled ones included.
func (s *Store) Len() int {
	return len(s.q)
}

// Active returns the number of active events.
func (s *Store) Active() int {
	return len(s.active)
}
