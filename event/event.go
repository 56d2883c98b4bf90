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
	"fmt"

	. "github.com/openthread/tsch-sim/types"
)

// Intra-slot orders for events scheduled at the same instant. Lower runs first.
const (
	OrderStartSlot = 0
	OrderPropagate = 1
	OrderStack     = 2
	OrderAdmin     = 3
)

// Tag identifies the single active event an owner keeps for one purpose.
type Tag struct {
	Owner string
	Id    int
	Name  string
}

func NewTag(owner string, name string) Tag {
	return Tag{Owner: owner, Name: name}
}

// NodeTag is the tag of an event owned by the node with the given id.
func NodeTag(id NodeId, name string) Tag {
	return Tag{Owner: "node", Id: id, Name: name}
}

func (t Tag) String() string {
	if t.Owner == "node" {
		return fmt.Sprintf("(%d, %s)", t.Id, t.Name)
	}
	return fmt.Sprintf("(%s, %s)", t.Owner, t.Name)
}

// Event is a callback scheduled at Time. Events at the same Time run by ascending Order, then in submission
// order.
type Event struct {
	Time     Timestamp
	Order    int
	Tag      Tag
	Callback func()

	seq       uint64
	cancelled bool
	index     int
}

func (e *Event) Cancelled() bool {
	return e.cancelled
}

// Seq returns the submission sequence number of the event.
func (e *Event) Seq() uint64 {
	return e.seq
}

func (e *Event) before(o *Event) bool {
	if e.Time != o.Time {
		return e.Time < o.Time
	}
	if e.Order != o.Order {
		return e.Order < o.Order
	}
	return e.seq < o.seq
}

func (e *Event) String() string {
	return fmt.Sprintf("Event{Time=%d, Order=%d, Tag=%v, seq=%d}", e.Time, e.Order, e.Tag, e.seq)
}
