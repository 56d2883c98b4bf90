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

package types

import (
	"fmt"
	"strings"
)

type NodeId = int
type ChannelId = int

// DbValue is a signal level (dBm) or a gain/loss (dB).
type DbValue = float64

const (
	InvalidNodeId NodeId = -1
)

const (
	RssiMinusInfinity DbValue = -1000.0
)

// MacAddr is a link-layer hardware address in dash-separated hex form, e.g. "00-00-00-00-00-00-00-01".
type MacAddr string

// BroadcastAddr is the link-layer broadcast address.
const BroadcastAddr MacAddr = "ff-ff"

func (a MacAddr) IsBroadcast() bool {
	return a == BroadcastAddr
}

// MacAddrFromId returns the default EUI-64 style address for a node.
func MacAddrFromId(id NodeId) MacAddr {
	b := make([]string, 8)
	v := uint64(id)
	for i := 7; i >= 0; i-- {
		b[i] = fmt.Sprintf("%02x", v&0xff)
		v >>= 8
	}
	return MacAddr(strings.Join(b, "-"))
}

// DefaultHoppingSequence is the TSCH default 16-channel hopping sequence (IEEE 802.15.4 channels 11-26).
var DefaultHoppingSequence = []ChannelId{16, 17, 23, 18, 26, 15, 25, 22, 19, 11, 12, 13, 24, 14, 20, 21}

type RadioState byte

const (
	RadioOff       RadioState = 0
	RadioTx        RadioState = 1
	RadioListening RadioState = 2
)

func (s RadioState) String() string {
	switch s {
	case RadioOff:
		return "off"
	case RadioTx:
		return "tx"
	case RadioListening:
		return "listening"
	default:
		return "invalid"
	}
}
