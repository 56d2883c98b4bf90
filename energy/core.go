// Copyright (c) 2022, The OTNS Authors.
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

package energy

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/openthread/tsch-sim/logger"
)

// StatsSource is anything owning radio stats, e.g. a radio.
type StatsSource interface {
	Stats() *RadioStats
}

// Analyser aggregates the charge consumed by the radios of the nodes of a network.
type Analyser struct {
	lock           sync.Mutex
	nodes          map[int]StatsSource
	networkHistory []NetworkCharge
	historyByNodes [][]NodeCharge
	title          string
}

func (e *Analyser) AddNode(nodeID int, src StatsSource) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if _, ok := e.nodes[nodeID]; ok {
		return
	}
	e.nodes[nodeID] = src
}

func (e *Analyser) DeleteNode(nodeID int) {
	e.lock.Lock()
	delete(e.nodes, nodeID)
	empty := len(e.nodes) == 0
	e.lock.Unlock()

	if empty {
		e.ClearChargeData()
	}
}

func (e *Analyser) sortedNodeIds() []int {
	ids := make([]int, 0, len(e.nodes))
	for id := range e.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (e *Analyser) GetNetworkHistory() []NetworkCharge {
	e.lock.Lock()
	defer e.lock.Unlock()
	return append([]NetworkCharge(nil), e.networkHistory...)
}

// GetLatestChargeOfNodes returns the last stored per-node snapshot, or nil if none was stored.
func (e *Analyser) GetLatestChargeOfNodes() []NodeCharge {
	e.lock.Lock()
	defer e.lock.Unlock()
	if len(e.historyByNodes) == 0 {
		return nil
	}
	return e.historyByNodes[len(e.historyByNodes)-1]
}

// StoreNetworkCharge stores a snapshot of all nodes at slot asn.
func (e *Analyser) StoreNetworkCharge(asn uint64) {
	e.lock.Lock()
	defer e.lock.Unlock()

	nodesSnapshot := make([]NodeCharge, 0, len(e.nodes))
	networkSnapshot := NetworkCharge{Asn: asn}

	netSize := float64(len(e.nodes))
	for _, id := range e.sortedNodeIds() {
		stats := e.nodes[id].Stats().Snapshot()
		nc := NodeCharge{
			NodeId:   id,
			ChargeUc: stats.ChargeUc(),
			Stats:    stats,
		}
		networkSnapshot.ChargeUc += nc.ChargeUc / netSize
		nodesSnapshot = append(nodesSnapshot, nc)
	}

	e.networkHistory = append(e.networkHistory, networkSnapshot)
	e.historyByNodes = append(e.historyByNodes, nodesSnapshot)
}

// WriteChargeByNodes writes the last stored per-node charge as a table.
func (e *Analyser) WriteChargeByNodes(w io.Writer) error {
	nodes := e.GetLatestChargeOfNodes()

	if _, err := fmt.Fprintf(w, "%s\n", e.heading()); err != nil {
		return err
	}
	header := "ID\tcharge (uC)"
	for _, b := range Buckets() {
		header += "\t" + b.String()
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	for _, nc := range nodes {
		line := fmt.Sprintf("%d\t%f", nc.NodeId, nc.ChargeUc)
		for _, b := range Buckets() {
			line += fmt.Sprintf("\t%d", nc.Stats.Get(b))
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// WriteNetworkCharge writes the stored network history as a table.
func (e *Analyser) WriteNetworkCharge(w io.Writer) error {
	history := e.GetNetworkHistory()
	if _, err := fmt.Fprintf(w, "%s\nASN\tmean charge per node (uC)\n", e.heading()); err != nil {
		return err
	}
	for _, snapshot := range history {
		if _, err := fmt.Fprintf(w, "%d\t%f\n", snapshot.Asn, snapshot.ChargeUc); err != nil {
			return err
		}
	}
	return nil
}

func (e *Analyser) heading() string {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.title == "" {
		return "charge"
	}
	return e.title
}

func (e *Analyser) ClearChargeData() {
	e.lock.Lock()
	defer e.lock.Unlock()
	logger.Debugf("node charge data cleared")
	e.networkHistory = make([]NetworkCharge, 0, 1024)
	e.historyByNodes = make([][]NodeCharge, 0, 1024)
}

func (e *Analyser) SetTitle(title string) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.title = title
}

func NewAnalyser() *Analyser {
	return &Analyser{
		nodes:          make(map[int]StatsSource),
		networkHistory: make([]NetworkCharge, 0, 1024),
		historyByNodes: make([][]NodeCharge, 0, 1024),
	}
}
