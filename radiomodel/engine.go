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

// Package radiomodel implements the shared medium: frames in flight, listening radios, preamble lock-on with
// capture, interference and delivery draws.
package radiomodel

import (
	"math/rand"
	"sort"

	"go.uber.org/zap"

	"github.com/openthread/tsch-sim/connectivity"
	"github.com/openthread/tsch-sim/event"
	"github.com/openthread/tsch-sim/logger"
	"github.com/openthread/tsch-sim/metrics"
	"github.com/openthread/tsch-sim/simlog"
	. "github.com/openthread/tsch-sim/types"
)

var stepTag = event.Tag{Owner: "propagation", Id: 0, Name: "step"}

// Endpoint is a radio attached to the medium.
type Endpoint interface {
	TxDone(acked bool)
	RxDone(pkt *Packet) bool
}

// Scheduler is the part of the dispatcher the engine needs to arm its steps.
type Scheduler interface {
	CurTime() Timestamp
	Quantum() Timestamp
	Schedule(t Timestamp, order int, tag event.Tag, cb func()) error
	IsScheduled(tag event.Tag) bool
}

// Engine arbitrates the medium. It is driven by the dispatcher and is not safe for concurrent use.
type Engine struct {
	sched   Scheduler
	oracle  connectivity.Oracle
	params  Params
	rng     *rand.Rand
	log     *simlog.Log
	metrics *metrics.Collector

	endpoints     map[NodeId]Endpoint
	addrs         map[MacAddr]NodeId
	transmissions map[ChannelId][]*Transmission
	receptions    map[ChannelId][]*Reception
	channelStats  map[ChannelId]*ChannelStats
}

// ChannelStats counts the frames sent on a channel and their total airtime.
type ChannelStats struct {
	NumFrames uint64
	TxTimeUs  Timestamp
}

type Option func(e *Engine)

func WithLog(l *simlog.Log) Option {
	return func(e *Engine) {
		e.log = l
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) {
		e.metrics = c
	}
}

// NewEngine creates an engine answering link queries with oracle and drawing deliveries from rng.
func NewEngine(sched Scheduler, oracle connectivity.Oracle, params Params, rng *rand.Rand, opts ...Option) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		sched:         sched,
		oracle:        oracle,
		params:        params,
		rng:           rng,
		endpoints:     map[NodeId]Endpoint{},
		addrs:         map[MacAddr]NodeId{},
		transmissions: map[ChannelId][]*Transmission{},
		receptions:    map[ChannelId][]*Reception{},
		channelStats:  map[ChannelId]*ChannelStats{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Params() Params {
	return e.params
}

func (e *Engine) Oracle() connectivity.Oracle {
	return e.oracle
}

// Register attaches the radio of node id with hardware address addr.
func (e *Engine) Register(id NodeId, addr MacAddr, ep Endpoint) {
	if _, ok := e.endpoints[id]; ok {
		panic(Violationf("node %d already registered", id))
	}
	e.endpoints[id] = ep
	e.addrs[addr] = id
}

func (e *Engine) endpoint(id NodeId) Endpoint {
	ep, ok := e.endpoints[id]
	if !ok {
		panic(Violationf("node %d not registered", id))
	}
	return ep
}

// StartTx queues a frame sent by sender.
func (e *Engine) StartTx(sender NodeId, ch ChannelId, pkt *Packet, start, end Timestamp) {
	e.endpoint(sender)
	if pkt == nil {
		panic(Violationf("node %d: transmission without packet", sender))
	}
	if end <= start {
		panic(Violationf("node %d: transmission ends at %d before it starts at %d", sender, end, start))
	}
	t := &Transmission{Channel: ch, Packet: pkt, Sender: sender, StartTime: start, EndTime: end}
	e.transmissions[ch] = append(e.transmissions[ch], t)
	stats, ok := e.channelStats[ch]
	if !ok {
		stats = &ChannelStats{}
		e.channelStats[ch] = stats
	}
	stats.NumFrames++
	stats.TxTimeUs += end - start
	e.metrics.IncTransmissions()
	e.arm()
}

// StartRx queues a listening window of listener, keeping the channel's receptions ordered by start time.
func (e *Engine) StartRx(listener NodeId, ch ChannelId, start Timestamp) {
	e.endpoint(listener)
	if r := e.pendingReception(listener); r != nil {
		panic(Violationf("node %d: already listening on channel %d", listener, r.Channel))
	}
	r := &Reception{Channel: ch, Listener: listener, StartTime: start, denied: map[*Transmission]struct{}{}}
	rs := e.receptions[ch]
	i := sort.Search(len(rs), func(i int) bool { return rs[i].StartTime > start })
	rs = append(rs, nil)
	copy(rs[i+1:], rs[i:])
	rs[i] = r
	e.receptions[ch] = rs
	e.arm()
}

// AbandonRx drops the reception of listener unless it is locked on a frame, which it reports by returning
// false. A listener without reception is ignored.
func (e *Engine) AbandonRx(listener NodeId) bool {
	r := e.pendingReception(listener)
	if r == nil {
		return true
	}
	if r.Locked != nil {
		return false
	}
	r.deleted = true
	e.compact(r.Channel)
	return true
}

// GetChannelStats returns the stats of ch since the last reset, or nil if nothing was sent on it.
func (e *Engine) GetChannelStats(ch ChannelId) *ChannelStats {
	stats, ok := e.channelStats[ch]
	if !ok {
		return nil
	}
	c := *stats
	return &c
}

// StatsChannels returns the channels with stats in ascending order.
func (e *Engine) StatsChannels() []ChannelId {
	chs := make([]ChannelId, 0, len(e.channelStats))
	for ch := range e.channelStats {
		chs = append(chs, ch)
	}
	sort.Ints(chs)
	return chs
}

func (e *Engine) ResetChannelStats() {
	e.channelStats = map[ChannelId]*ChannelStats{}
}

// Transmissions returns the frames queued on ch.
func (e *Engine) Transmissions(ch ChannelId) []*Transmission {
	var ts []*Transmission
	for _, t := range e.transmissions[ch] {
		if !t.done {
			ts = append(ts, t)
		}
	}
	return ts
}

// Receptions returns the pending receptions on ch.
func (e *Engine) Receptions(ch ChannelId) []*Reception {
	var rs []*Reception
	for _, r := range e.receptions[ch] {
		if !r.deleted {
			rs = append(rs, r)
		}
	}
	return rs
}

// Pending is the number of queued frames and pending receptions on all channels.
func (e *Engine) Pending() int {
	n := 0
	for ch := range e.transmissions {
		n += len(e.Transmissions(ch))
	}
	for ch := range e.receptions {
		n += len(e.Receptions(ch))
	}
	return n
}

func (e *Engine) pendingReception(listener NodeId) *Reception {
	for _, rs := range e.receptions {
		for _, r := range rs {
			if r.Listener == listener && !r.deleted {
				return r
			}
		}
	}
	return nil
}

func (e *Engine) arm() {
	if e.Pending() == 0 || e.sched.IsScheduled(stepTag) {
		return
	}
	now := e.sched.CurTime()
	logger.PanicIfError(e.sched.Schedule(now+e.sched.Quantum(), event.OrderPropagate, stepTag, e.Step))
}

func (e *Engine) channels() []ChannelId {
	seen := map[ChannelId]struct{}{}
	for ch := range e.transmissions {
		seen[ch] = struct{}{}
	}
	for ch := range e.receptions {
		seen[ch] = struct{}{}
	}
	chs := make([]ChannelId, 0, len(seen))
	for ch := range seen {
		chs = append(chs, ch)
	}
	sort.Ints(chs)
	return chs
}

// Step propagates all channels at the current time: locks receptions, resolves those whose frame ended,
// then completes ended transmissions.
func (e *Engine) Step() {
	now := e.sched.CurTime()
	chs := e.channels()
	for _, ch := range chs {
		e.lockOn(ch, now)
	}
	for _, ch := range chs {
		e.resolve(ch, now)
	}
	for _, ch := range chs {
		e.completeTx(ch, now)
	}
	for _, ch := range chs {
		e.compact(ch)
	}
	e.arm()
}

func (e *Engine) lockOn(ch ChannelId, now Timestamp) {
	window := e.params.CaptureWindow
	for _, r := range e.Receptions(ch) {
		for _, t := range e.Transmissions(ch) {
			if t.Sender == r.Listener || t.StartTime > now || r.StartTime >= t.StartTime+window || t == r.Locked {
				continue
			}
			if _, ok := r.denied[t]; ok {
				continue
			}

			rssi := e.oracle.GetRssi(t.Sender, r.Listener, ch)
			if r.Locked == nil {
				if rssi < e.params.NoiseFloorDbm {
					e.denyLock(r, t, rssi)
					continue
				}
				r.Locked, r.lockRssi = t, rssi
				continue
			}

			l := r.Locked
			if t.StartTime >= l.StartTime && t.StartTime < l.StartTime+window &&
				rssi >= r.lockRssi+e.params.CaptureThresholdDb {
				logger.Debugf("node %d relocks from %d to %d on ch %d", r.Listener, l.Sender, t.Sender, ch)
				r.Locked, r.lockRssi = t, rssi
				e.metrics.IncRelocks()
			}
		}
	}
}

func (e *Engine) denyLock(r *Reception, t *Transmission, rssi DbValue) {
	r.denied[t] = struct{}{}
	e.metrics.IncLockonDenied()
	e.log.Record(simlog.PropDropLockon,
		zap.Int("_mote_id", r.Listener),
		zap.Int("src", t.Sender),
		zap.Int("channel", t.Channel),
		zap.Float64("rssi", rssi),
		zap.String("packet_type", t.Packet.Type),
	)
}

func (e *Engine) resolve(ch ChannelId, now Timestamp) {
	for _, r := range e.Receptions(ch) {
		if r.Locked == nil || now < r.Locked.EndTime || r.deleted {
			continue
		}
		l := r.Locked
		success := e.rng.Float64() < e.deliveryProbability(r)
		e.metrics.IncReceptions(success)

		r.deleted = true
		var pkt *Packet
		if success {
			pkt = l.Packet
		}
		acked := e.endpoint(r.Listener).RxDone(pkt)
		if success && acked && !l.Packet.IsBroadcast() {
			if dst, ok := e.addrs[l.Packet.Mac.Dst]; ok && dst == r.Listener {
				l.ackSent = true
			}
		}
	}
}

// deliveryProbability scales the link's delivery ratio by how much the interference on r degrades its SINR.
func (e *Engine) deliveryProbability(r *Reception) float64 {
	l := r.Locked
	pdr := e.oracle.GetPdr(l.Sender, r.Listener, r.Channel)

	noise := e.params.NoiseFloorDbm
	interference := noise
	interferers := 0
	for _, t := range e.transmissions[r.Channel] {
		if t == l || t.Sender == r.Listener || !r.interferes(t) {
			continue
		}
		interference = addSignalPowersDbm(interference, e.oracle.GetRssi(t.Sender, r.Listener, r.Channel))
		interferers++
	}
	if interferers == 0 {
		return clampProbability(pdr)
	}

	sinr := r.lockRssi - interference
	base := connectivity.RssiToPdr(r.lockRssi)
	if base == 0 {
		return 0
	}
	return clampProbability(pdr * connectivity.RssiToPdr(sinr+noise) / base)
}

func (e *Engine) completeTx(ch ChannelId, now Timestamp) {
	for _, t := range e.Transmissions(ch) {
		if t.EndTime > now {
			continue
		}
		acked := false
		if !t.Packet.IsBroadcast() && t.ackSent {
			acked = true
			if e.params.SimulateAckDrop {
				dst := e.addrs[t.Packet.Mac.Dst]
				acked = e.rng.Float64() < e.oracle.GetPdr(dst, t.Sender, ch)
			}
		}
		t.done = true
		e.endpoint(t.Sender).TxDone(acked)
	}
}

// compact dequeues resolved and abandoned receptions, and completed frames no pending locked reception can
// still be interfered by.
func (e *Engine) compact(ch ChannelId) {
	rs := e.receptions[ch][:0]
	for _, r := range e.receptions[ch] {
		if !r.deleted {
			rs = append(rs, r)
		}
	}
	if len(rs) == 0 {
		delete(e.receptions, ch)
	} else {
		e.receptions[ch] = rs
	}

	ts := e.transmissions[ch][:0]
	for _, t := range e.transmissions[ch] {
		if !t.done || e.mayInterfere(t, rs) {
			ts = append(ts, t)
		}
	}
	if len(ts) == 0 {
		delete(e.transmissions, ch)
	} else {
		e.transmissions[ch] = ts
	}
}

func (e *Engine) mayInterfere(t *Transmission, rs []*Reception) bool {
	for _, r := range rs {
		if r.Locked != nil && r.Locked != t && r.interferes(t) {
			return true
		}
	}
	return false
}
