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

// Package connectivity implements the link models answering delivery ratio and signal strength queries
// between nodes.
package connectivity

import (
	"sort"
	"sync"

	"github.com/openthread/tsch-sim/logger"
	. "github.com/openthread/tsch-sim/types"
)

const (
	// GoodRssi is the signal strength of a fixed good link.
	GoodRssi DbValue = -10.0
	// NoRssi is the signal strength of a disconnected link, well below any noise floor.
	NoRssi DbValue = RssiMinusInfinity
)

// Oracle answers link quality queries for (source, destination, channel). Implementations answer the same
// for repeated queries at the same simulated instant. The Set* methods override the model, e.g. in tests.
type Oracle interface {
	GetPdr(src, dst NodeId, ch ChannelId) float64
	GetRssi(src, dst NodeId, ch ChannelId) DbValue
	SetPdr(src, dst NodeId, ch ChannelId, pdr float64)
	SetRssi(src, dst NodeId, ch ChannelId, rssi DbValue)
	SetPdrBothDirections(a, b NodeId, ch ChannelId, pdr float64)
	SetRssiBothDirections(a, b NodeId, ch ChannelId, rssi DbValue)
}

type linkKey struct {
	src, dst NodeId
	ch       ChannelId
}

type link struct {
	pdr  float64
	rssi DbValue
}

// Matrix is a static table of link values; links not in the table are disconnected.
type Matrix struct {
	lock     sync.RWMutex
	links    map[linkKey]link
	channels []ChannelId
}

// NewMatrix creates an empty matrix for the given channels.
func NewMatrix(channels []ChannelId) *Matrix {
	chs := append([]ChannelId(nil), channels...)
	sort.Ints(chs)
	return &Matrix{
		links:    map[linkKey]link{},
		channels: chs,
	}
}

// Channels returns the channels of the matrix in ascending order.
func (m *Matrix) Channels() []ChannelId {
	return append([]ChannelId(nil), m.channels...)
}

// SetLink sets pdr and rssi of src->dst on all channels.
func (m *Matrix) SetLink(src, dst NodeId, pdr float64, rssi DbValue) {
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, ch := range m.channels {
		m.links[linkKey{src, dst, ch}] = link{pdr: pdr, rssi: rssi}
	}
}

func (m *Matrix) lookup(src, dst NodeId, ch ChannelId) (link, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	l, ok := m.links[linkKey{src, dst, ch}]
	return l, ok
}

func (m *Matrix) GetPdr(src, dst NodeId, ch ChannelId) float64 {
	if l, ok := m.lookup(src, dst, ch); ok {
		return l.pdr
	}
	return 0.0
}

func (m *Matrix) GetRssi(src, dst NodeId, ch ChannelId) DbValue {
	if l, ok := m.lookup(src, dst, ch); ok {
		return l.rssi
	}
	return NoRssi
}

func (m *Matrix) SetPdr(src, dst NodeId, ch ChannelId, pdr float64) {
	logger.AssertTrue(pdr >= 0 && pdr <= 1, "pdr %f out of range", pdr)
	m.lock.Lock()
	defer m.lock.Unlock()
	k := linkKey{src, dst, ch}
	l, ok := m.links[k]
	if !ok {
		l.rssi = NoRssi
	}
	l.pdr = pdr
	m.links[k] = l
}

func (m *Matrix) SetRssi(src, dst NodeId, ch ChannelId, rssi DbValue) {
	m.lock.Lock()
	defer m.lock.Unlock()
	k := linkKey{src, dst, ch}
	l := m.links[k]
	l.rssi = rssi
	m.links[k] = l
}

func (m *Matrix) SetPdrBothDirections(a, b NodeId, ch ChannelId, pdr float64) {
	m.SetPdr(a, b, ch, pdr)
	m.SetPdr(b, a, ch, pdr)
}

func (m *Matrix) SetRssiBothDirections(a, b NodeId, ch ChannelId, rssi DbValue) {
	m.SetRssi(a, b, ch, rssi)
	m.SetRssi(b, a, ch, rssi)
}

// Dump logs the matrix at debug level, one line per connected link.
func (m *Matrix) Dump() {
	m.lock.RLock()
	keys := make([]linkKey, 0, len(m.links))
	for k, l := range m.links {
		if l.pdr > 0 {
			keys = append(keys, k)
		}
	}
	m.lock.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.src != b.src {
			return a.src < b.src
		}
		if a.dst != b.dst {
			return a.dst < b.dst
		}
		return a.ch < b.ch
	})
	for _, k := range keys {
		l, _ := m.lookup(k.src, k.dst, k.ch)
		logger.Debugf("link %d->%d ch %d: pdr=%.4f rssi=%.1f", k.src, k.dst, k.ch, l.pdr, l.rssi)
	}
}

var _ Oracle = (*Matrix)(nil)
