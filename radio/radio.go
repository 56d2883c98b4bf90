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

// Package radio implements the per-node radio state machine between a MAC layer and the propagation engine.
package radio

import (
	"go.uber.org/zap"

	"github.com/openthread/tsch-sim/energy"
	"github.com/openthread/tsch-sim/event"
	"github.com/openthread/tsch-sim/logger"
	"github.com/openthread/tsch-sim/simlog"
	. "github.com/openthread/tsch-sim/types"
)

const (
	InvalidChannel ChannelId = -1

	statsTagName = "log_radio_stats"
)

// Mac is the link layer driving a radio.
type Mac interface {
	IsSynchronized() bool
	HardwareAddress() MacAddr
	OnTxDone(acked bool, ch ChannelId)
	// OnRxDone handles a received frame, or the end of an idle listen when pkt is nil, and reports whether
	// an acknowledgment was sent.
	OnRxDone(pkt *Packet, ch ChannelId) bool
}

// Medium is the shared channel the radio transmits on and listens to.
type Medium interface {
	StartTx(sender NodeId, ch ChannelId, pkt *Packet, start, end Timestamp)
	StartRx(listener NodeId, ch ChannelId, start Timestamp)
	// AbandonRx drops the pending reception of listener. It returns false, changing nothing, when the
	// reception is locked on a frame.
	AbandonRx(listener NodeId) bool
}

type Clock interface {
	CurTime() Timestamp
}

// SlotScheduler maps the radio's network slots to global time.
type SlotScheduler interface {
	CurrentSlot(network string) (Asn, error)
	ScheduleAtSlot(network string, asn Asn, tag event.Tag, cb func(), order int) error
}

type Deps struct {
	Clock  Clock
	Slots  SlotScheduler
	Medium Medium
	Log    *simlog.Log
}

type Radio struct {
	Id NodeId

	network string
	params  Params
	deps    Deps
	mac     Mac
	hopping map[ChannelId]struct{}

	state   RadioState
	channel ChannelId
	txPkt   *Packet
	stats   *energy.RadioStats
	log     *logger.NodeLogger
}

// New creates the radio of node id in the given network. The radio is off, and reports its stats
// periodically when params enable it. Attach must be called before any operation.
func New(id NodeId, network string, params Params, deps Deps) (*Radio, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	asn, err := deps.Slots.CurrentSlot(network)
	if err != nil {
		return nil, err
	}

	r := &Radio{
		Id:      id,
		network: network,
		params:  params,
		deps:    deps,
		hopping: map[ChannelId]struct{}{},
		state:   RadioOff,
		channel: InvalidChannel,
		stats:   energy.NewRadioStats(asn),
	}
	r.log = logger.NewNodeLogger(id, func() uint64 { return deps.Clock.CurTime() })
	for _, ch := range params.HoppingSequence {
		r.hopping[ch] = struct{}{}
	}

	if params.StatsInterval() > 0 {
		if err := r.scheduleStats(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Attach sets the MAC layer of the radio.
func (r *Radio) Attach(mac Mac) {
	r.mac = mac
}

func (r *Radio) Mac() Mac {
	return r.mac
}

func (r *Radio) Network() string {
	return r.network
}

func (r *Radio) State() RadioState {
	return r.state
}

// Channel returns the channel in use, or InvalidChannel when the radio is idle.
func (r *Radio) Channel() ChannelId {
	return r.channel
}

func (r *Radio) Stats() *energy.RadioStats {
	return r.stats
}

func (r *Radio) Params() Params {
	return r.params
}

// StartTx starts transmitting pkt on ch. The frame occupies the medium for its airtime from now.
func (r *Radio) StartTx(ch ChannelId, pkt *Packet) {
	r.checkAttached()
	if pkt == nil {
		panic(Violationf("node %d: transmit without packet", r.Id))
	}
	if r.txPkt != nil {
		panic(Violationf("node %d: transmission already ongoing", r.Id))
	}
	if r.state == RadioListening {
		panic(Violationf("node %d: transmit while listening on channel %d", r.Id, r.channel))
	}

	start := r.deps.Clock.CurTime()
	end := start + r.params.Airtime(pkt.Length)
	r.state = RadioTx
	r.channel = ch
	r.txPkt = pkt
	r.log.Tracef("tx start ch %d len %d dst %s until %d", ch, pkt.Length, pkt.Mac.Dst, end)
	r.deps.Medium.StartTx(r.Id, ch, pkt, start, end)
}

// TxDone ends the ongoing transmission.
func (r *Radio) TxDone(acked bool) {
	r.checkAttached()
	if r.txPkt == nil {
		panic(Violationf("node %d: tx done without transmission", r.Id))
	}
	r.state = RadioOff

	if r.mac.IsSynchronized() {
		if r.txPkt.IsBroadcast() {
			r.updateStats(energy.TxData)
		} else {
			r.updateStats(energy.TxDataRxAck)
		}
	}
	r.txPkt = nil

	ch := r.channel
	r.mac.OnTxDone(acked, ch)
	r.releaseChannel()
}

// StartRx starts listening on ch, which must belong to the hopping sequence.
func (r *Radio) StartRx(ch ChannelId) {
	r.checkAttached()
	if _, ok := r.hopping[ch]; !ok {
		panic(Violationf("node %d: channel %d not in hopping sequence", r.Id, ch))
	}
	if r.state == RadioListening {
		panic(Violationf("node %d: already listening on channel %d", r.Id, r.channel))
	}

	r.channel = ch
	r.deps.Medium.StartRx(r.Id, ch, r.deps.Clock.CurTime())
	r.state = RadioListening
}

// RxDone ends the listening window with the received frame, or nil for an idle listen, and returns whether
// the MAC acknowledged it.
func (r *Radio) RxDone(pkt *Packet) bool {
	r.checkAttached()
	r.state = RadioOff

	switch {
	case pkt == nil:
		r.updateStats(energy.IdleListen)
	case r.mac.IsSynchronized() && pkt.Mac.Dst == r.mac.HardwareAddress():
		r.updateStats(energy.RxDataTxAck)
	default:
		r.updateStats(energy.RxData)
	}

	acked := r.mac.OnRxDone(pkt, r.channel)
	r.releaseChannel()
	return acked
}

// StopRx ends an idle listening window early. It returns false and keeps listening when a frame is being
// received.
func (r *Radio) StopRx() bool {
	if r.state != RadioListening {
		panic(Violationf("node %d: stop rx while %s", r.Id, r.state))
	}
	if !r.deps.Medium.AbandonRx(r.Id) {
		return false
	}
	r.RxDone(nil)
	return true
}

// releaseChannel forgets the channel unless the MAC already started another activity.
func (r *Radio) releaseChannel() {
	if r.state == RadioOff {
		r.channel = InvalidChannel
	}
}

func (r *Radio) checkAttached() {
	if r.mac == nil {
		panic(Violationf("node %d: radio has no mac", r.Id))
	}
}

func (r *Radio) updateStats(b energy.Bucket) {
	asn, err := r.deps.Slots.CurrentSlot(r.network)
	logger.PanicIfError(err)
	r.stats.Update(b, asn)
}

func (r *Radio) scheduleStats() error {
	asn, err := r.deps.Slots.CurrentSlot(r.network)
	if err != nil {
		return err
	}
	return r.deps.Slots.ScheduleAtSlot(r.network, asn+r.params.StatsInterval(), event.NodeTag(r.Id, statsTagName),
		r.logStats, event.OrderAdmin)
}

func (r *Radio) logStats() {
	snap := r.stats.Snapshot()
	fields := []zap.Field{zap.Int("_mote_id", r.Id)}
	for _, b := range energy.Buckets() {
		fields = append(fields, zap.Int64(b.String(), snap.Get(b)))
	}
	r.deps.Log.Record(simlog.RadioStats, fields...)

	logger.PanicIfError(r.scheduleStats())
}
