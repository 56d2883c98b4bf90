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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/openthread/tsch-sim/types"
)

func nop() {}

func TestStore_PushLen(t *testing.T) {
	s := NewStore()
	assert.Equal(t, 0, s.Len())
	s.Push(&Event{Time: 2, Tag: NewTag("t", "a"), Callback: nop})
	assert.Equal(t, 1, s.Len())
	s.Push(&Event{Time: 1, Tag: NewTag("t", "b"), Callback: nop})
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 2, s.Active())
}

func TestStore_NextTime(t *testing.T) {
	s := NewStore()
	assert.Equal(t, Ever, s.NextTime())
	s.Push(&Event{Time: 20, Tag: NewTag("t", "a"), Callback: nop})
	assert.Equal(t, Timestamp(20), s.NextTime())
	s.Push(&Event{Time: 10, Tag: NewTag("t", "b"), Callback: nop})
	assert.Equal(t, Timestamp(10), s.NextTime())
	s.Push(&Event{Time: 30, Tag: NewTag("t", "c"), Callback: nop})
	assert.Equal(t, Timestamp(10), s.NextTime())
}

func TestStore_ReplaceSameTag(t *testing.T) {
	s := NewStore()
	tag := NodeTag(1, "timer")
	first := &Event{Time: 10, Tag: tag, Callback: nop}
	assert.Nil(t, s.Push(first))
	second := &Event{Time: 5, Tag: tag, Callback: nop}
	assert.Equal(t, first, s.Push(second))

	assert.True(t, first.Cancelled())
	assert.False(t, second.Cancelled())
	assert.Equal(t, 1, s.Active())
	assert.Equal(t, 2, s.Len())

	due := s.PopDue(100)
	assert.Equal(t, []*Event{second}, due)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, uint64(1), s.Discarded)
}

func TestStore_Cancel(t *testing.T) {
	s := NewStore()
	tag := NewTag("t", "x")
	assert.False(t, s.Cancel(tag))

	e := &Event{Time: 10, Tag: tag, Callback: nop}
	s.Push(e)
	assert.True(t, s.IsScheduled(tag))
	assert.True(t, s.Cancel(tag))
	assert.False(t, s.IsScheduled(tag))
	assert.True(t, e.Cancelled())
	// cancelled events stay in the heap until popped
	assert.Equal(t, 1, s.Len())
	assert.Nil(t, s.Peek())
	assert.Equal(t, 0, s.Len())
}

func TestStore_PopDueOrder(t *testing.T) {
	s := NewStore()
	s.Push(&Event{Time: 10, Order: OrderAdmin, Tag: NewTag("t", "admin"), Callback: nop})
	s.Push(&Event{Time: 10, Order: OrderStack, Tag: NewTag("t", "stack1"), Callback: nop})
	s.Push(&Event{Time: 5, Order: OrderAdmin, Tag: NewTag("t", "early"), Callback: nop})
	s.Push(&Event{Time: 10, Order: OrderStack, Tag: NewTag("t", "stack2"), Callback: nop})
	s.Push(&Event{Time: 10, Order: OrderStartSlot, Tag: NewTag("t", "start"), Callback: nop})
	s.Push(&Event{Time: 11, Order: OrderStartSlot, Tag: NewTag("t", "late"), Callback: nop})

	due := s.PopDue(10)
	var names []string
	for _, e := range due {
		names = append(names, e.Tag.Name)
	}
	assert.Equal(t, []string{"early", "start", "stack1", "stack2", "admin"}, names)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, Timestamp(11), s.NextTime())
}

func TestStore_ClaimAfterCancel(t *testing.T) {
	s := NewStore()
	a := &Event{Time: 1, Tag: NewTag("t", "a"), Callback: nop}
	b := &Event{Time: 1, Tag: NewTag("t", "b"), Callback: nop}
	s.Push(a)
	s.Push(b)
	due := s.PopDue(1)
	assert.Len(t, due, 2)

	assert.True(t, s.Claim(due[0]))
	// a popped event can still be cancelled until it is claimed
	assert.True(t, s.Cancel(b.Tag))
	assert.False(t, s.Claim(due[1]))
	assert.Equal(t, 0, s.Active())
}

func TestStore_RandomOrdering(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	s := NewStore()
	for i := 0; i < 1000; i++ {
		s.Push(&Event{
			Time:     Timestamp(r.Intn(50)),
			Order:    r.Intn(4),
			Tag:      Tag{Owner: "t", Id: r.Intn(300)},
			Callback: nop,
		})
	}
	assert.LessOrEqual(t, s.Active(), 300)

	due := s.PopDue(Ever)
	assert.Equal(t, s.Active(), len(due))
	seen := map[Tag]bool{}
	for i, e := range due {
		assert.False(t, e.Cancelled())
		assert.False(t, seen[e.Tag], "two active events under tag %v", e.Tag)
		seen[e.Tag] = true
		if i > 0 {
			assert.True(t, due[i-1].before(e))
		}
	}
}
