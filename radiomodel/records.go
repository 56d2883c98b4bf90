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

package radiomodel

import (
	"fmt"

	. "github.com/openthread/tsch-sim/types"
)

// Transmission is a frame on the medium, from StartTime until EndTime.
type Transmission struct {
	Channel   ChannelId
	Packet    *Packet
	Sender    NodeId
	StartTime Timestamp
	EndTime   Timestamp

	// ackSent is set when the intended receiver got the frame and acknowledged it.
	ackSent bool
	done    bool
}

func (t *Transmission) String() string {
	return fmt.Sprintf("Transmission{ch=%d, sender=%d, start=%d, end=%d}", t.Channel, t.Sender, t.StartTime,
		t.EndTime)
}

// Reception is a listening window of a radio. Locked is the transmission whose preamble it acquired.
type Reception struct {
	Channel   ChannelId
	Listener  NodeId
	StartTime Timestamp
	Locked    *Transmission

	lockRssi DbValue
	deleted  bool
	// denied holds the transmissions already refused as too weak to lock on.
	denied map[*Transmission]struct{}
}

func (r *Reception) String() string {
	return fmt.Sprintf("Reception{ch=%d, listener=%d, start=%d, locked=%v}", r.Channel, r.Listener, r.StartTime,
		r.Locked)
}

// interferes reports whether t overlaps the part of r that carries its locked frame.
func (r *Reception) interferes(t *Transmission) bool {
	from := r.StartTime
	if r.Locked.StartTime > from {
		from = r.Locked.StartTime
	}
	return t.StartTime < r.Locked.EndTime && t.EndTime > from
}
