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

// Package network maps network-local slot numbers onto the global clock shared by all network instances.
package network

import (
	"sort"
	"sync"

	. "github.com/openthread/tsch-sim/types"
)

const (
	// MainNetworkId is the id used when no network is named.
	MainNetworkId = "main"
)

// NetworkInstance is one independently clocked network: its slot 0 starts at StartTime on the global clock.
type NetworkInstance struct {
	Id        string
	StartTime Timestamp

	lock       sync.Mutex
	motes      map[NodeId]struct{}
	root       NodeId
	hasRoot    bool
	slotframes uint64
}

func newNetworkInstance(id string, startTime Timestamp) *NetworkInstance {
	return &NetworkInstance{
		Id:        id,
		StartTime: startTime,
		motes:     map[NodeId]struct{}{},
		root:      InvalidNodeId,
	}
}

func (n *NetworkInstance) AddMote(id NodeId) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.motes[id] = struct{}{}
}

func (n *NetworkInstance) RemoveMote(id NodeId) {
	n.lock.Lock()
	defer n.lock.Unlock()
	delete(n.motes, id)
}

func (n *NetworkInstance) HasMote(id NodeId) bool {
	n.lock.Lock()
	defer n.lock.Unlock()
	_, ok := n.motes[id]
	return ok
}

// Motes returns the ids of the network's motes in ascending order.
func (n *NetworkInstance) Motes() []NodeId {
	n.lock.Lock()
	defer n.lock.Unlock()
	ids := make([]NodeId, 0, len(n.motes))
	for id := range n.motes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// SetRoot sets the root mote of the network. The root can only be set once.
func (n *NetworkInstance) SetRoot(id NodeId) error {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.hasRoot {
		return Violationf("network %s: root already set to %d, cannot set %d", n.Id, n.root, id)
	}
	n.root = id
	n.hasRoot = true
	return nil
}

func (n *NetworkInstance) Root() (NodeId, bool) {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.root, n.hasRoot
}

// SlotframeCount returns the number of slotframe boundaries passed.
func (n *NetworkInstance) SlotframeCount() uint64 {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.slotframes
}

func (n *NetworkInstance) endSlotframe() uint64 {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.slotframes++
	return n.slotframes
}
