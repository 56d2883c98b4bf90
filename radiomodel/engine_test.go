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
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/openthread/tsch-sim/connectivity"
	"github.com/openthread/tsch-sim/event"
	"github.com/openthread/tsch-sim/metrics"
	"github.com/openthread/tsch-sim/simlog"
	. "github.com/openthread/tsch-sim/types"
)

const (
	testChannel   ChannelId = 11
	testQuantum             = Millisecond
	shortFrameLen           = 10  // 480 us on air
	longFrameLen            = 100 // 3360 us on air
)

type fakeSched struct {
	now   Timestamp
	armed map[event.Tag]Timestamp
	cbs   map[event.Tag]func()
}

func newFakeSched() *fakeSched {
	return &fakeSched{armed: map[event.Tag]Timestamp{}, cbs: map[event.Tag]func(){}}
}

func (s *fakeSched) CurTime() Timestamp {
	return s.now
}

func (s *fakeSched) Quantum() Timestamp {
	return testQuantum
}

func (s *fakeSched) Schedule(t Timestamp, order int, tag event.Tag, cb func()) error {
	s.armed[tag] = t
	s.cbs[tag] = cb
	return nil
}

func (s *fakeSched) IsScheduled(tag event.Tag) bool {
	_, ok := s.armed[tag]
	return ok
}

// runUntil executes the armed steps up to and including time t.
func (s *fakeSched) runUntil(t Timestamp) {
	for {
		at, ok := s.armed[stepTag]
		if !ok || at > t {
			break
		}
		s.now = at
		delete(s.armed, stepTag)
		s.cbs[stepTag]()
	}
	if s.now < t {
		s.now = t
	}
}

type fakeRadio struct {
	id      NodeId
	journal *[]string
	ack     bool
	txDone  []bool
	rxDone  []*Packet
}

func (r *fakeRadio) TxDone(acked bool) {
	r.txDone = append(r.txDone, acked)
	*r.journal = append(*r.journal, fmt.Sprintf("tx %d", r.id))
}

func (r *fakeRadio) RxDone(pkt *Packet) bool {
	r.rxDone = append(r.rxDone, pkt)
	*r.journal = append(*r.journal, fmt.Sprintf("rx %d", r.id))
	return pkt != nil && r.ack && pkt.Mac.Dst == MacAddrFromId(r.id)
}

type harness struct {
	sched   *fakeSched
	oracle  *connectivity.Matrix
	engine  *Engine
	radios  []*fakeRadio
	journal []string
	logs    *observer.ObservedLogs
	metrics *metrics.Collector
}

func newHarness(t *testing.T, n int, seed int64, params Params) *harness {
	ids := make([]NodeId, n)
	for i := range ids {
		ids[i] = i
	}
	core, logs := observer.New(zapcore.DebugLevel)
	c, err := metrics.NewCollector(nil)
	require.NoError(t, err)

	h := &harness{
		sched:   newFakeSched(),
		oracle:  connectivity.NewFullyMeshed(ids, []ChannelId{testChannel, 12}),
		logs:    logs,
		metrics: c,
	}
	h.engine, err = NewEngine(h.sched, h.oracle, params, rand.New(rand.NewSource(seed)),
		WithLog(simlog.NewWithCore(core)), WithMetrics(c))
	require.NoError(t, err)

	for _, id := range ids {
		r := &fakeRadio{id: id, journal: &h.journal, ack: true}
		h.radios = append(h.radios, r)
		h.engine.Register(id, MacAddrFromId(id), r)
	}
	return h
}

func (h *harness) tx(sender, dst NodeId, at Timestamp, length int) *Packet {
	h.sched.runUntil(at)
	dstAddr := BroadcastAddr
	if dst != InvalidNodeId {
		dstAddr = MacAddrFromId(dst)
	}
	pkt := &Packet{Type: "DATA", Mac: MacHeader{Src: MacAddrFromId(sender), Dst: dstAddr}, Length: length}
	h.engine.StartTx(sender, testChannel, pkt, at, at+160+Timestamp(length)*32)
	return pkt
}

func (h *harness) rx(listener NodeId, at Timestamp) {
	h.sched.runUntil(at)
	h.engine.StartRx(listener, testChannel, at)
}

func (h *harness) locked(listener NodeId) *Transmission {
	for _, r := range h.engine.Receptions(testChannel) {
		if r.Listener == listener {
			return r.Locked
		}
	}
	return nil
}

func TestUnicastDelivery(t *testing.T) {
	h := newHarness(t, 2, 1, DefaultParams())
	h.rx(1, 0)
	pkt := h.tx(0, 1, 0, shortFrameLen)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Transmissions))
	h.sched.runUntil(10 * Millisecond)

	require.Len(t, h.radios[1].rxDone, 1)
	assert.Same(t, pkt, h.radios[1].rxDone[0])
	assert.Equal(t, []bool{true}, h.radios[0].txDone)
	assert.Equal(t, []string{"rx 1", "tx 0"}, h.journal)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Receptions.WithLabelValues(metrics.OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Transmissions))

	stats := h.engine.GetChannelStats(testChannel)
	require.NotNil(t, stats)
	assert.Equal(t, uint64(1), stats.NumFrames)
	assert.Equal(t, Timestamp(480), stats.TxTimeUs)
	assert.Equal(t, []ChannelId{testChannel}, h.engine.StatsChannels())
	assert.Nil(t, h.engine.GetChannelStats(12))
	h.engine.ResetChannelStats()
	assert.Nil(t, h.engine.GetChannelStats(testChannel))
}

func TestBroadcastNotAcked(t *testing.T) {
	h := newHarness(t, 3, 1, DefaultParams())
	h.rx(1, 0)
	h.rx(2, 0)
	pkt := h.tx(0, InvalidNodeId, 0, shortFrameLen)
	h.sched.runUntil(10 * Millisecond)

	assert.Equal(t, []*Packet{pkt}, h.radios[1].rxDone)
	assert.Equal(t, []*Packet{pkt}, h.radios[2].rxDone)
	assert.Equal(t, []bool{false}, h.radios[0].txDone)
}

func TestDequeue(t *testing.T) {
	h := newHarness(t, 2, 1, DefaultParams())
	h.rx(1, 0)
	h.tx(0, 1, 0, shortFrameLen)
	assert.Equal(t, 2, h.engine.Pending())
	assert.True(t, h.sched.IsScheduled(stepTag))

	h.sched.runUntil(10 * Millisecond)
	assert.Equal(t, 0, h.engine.Pending())
	assert.Empty(t, h.engine.Transmissions(testChannel))
	assert.Empty(t, h.engine.Receptions(testChannel))
	assert.False(t, h.sched.IsScheduled(stepTag))
}

func TestRelock(t *testing.T) {
	h := newHarness(t, 3, 1, DefaultParams())
	h.oracle.SetRssi(0, 2, testChannel, -80)
	h.oracle.SetRssi(1, 2, testChannel, -70)

	h.rx(2, 0)
	weak := h.tx(0, 2, 0, longFrameLen)
	strong := h.tx(1, 2, 100, longFrameLen)
	h.sched.runUntil(testQuantum)

	l := h.locked(2)
	require.NotNil(t, l)
	assert.Same(t, strong, l.Packet)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Relocks))

	h.sched.runUntil(10 * Millisecond)
	require.Len(t, h.radios[2].rxDone, 1)
	assert.NotSame(t, weak, h.radios[2].rxDone[0])
	assert.Len(t, h.radios[0].txDone, 1)
	assert.Len(t, h.radios[1].txDone, 1)
}

func TestNoRelockAfterCaptureWindow(t *testing.T) {
	h := newHarness(t, 3, 1, DefaultParams())
	h.oracle.SetRssi(0, 2, testChannel, -80)
	h.oracle.SetRssi(1, 2, testChannel, -40)

	h.rx(2, 0)
	first := h.tx(0, 2, 0, longFrameLen)
	h.tx(1, 2, 200, longFrameLen)
	h.sched.runUntil(testQuantum)

	require.NotNil(t, h.locked(2))
	assert.Same(t, first, h.locked(2).Packet)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.Relocks))
}

func TestCaptureWindowEdges(t *testing.T) {
	window := DefaultParams().CaptureWindow
	tests := []struct {
		name   string
		offset Timestamp
		inside bool
	}{
		{"before", window - 1, true},
		{"at", window, false},
		{"after", window + 1, false},
	}

	for _, tt := range tests {
		t.Run("lockon_"+tt.name, func(t *testing.T) {
			h := newHarness(t, 2, 1, DefaultParams())
			pkt := h.tx(0, 1, 0, longFrameLen)
			h.rx(1, tt.offset)
			h.sched.runUntil(testQuantum)

			if tt.inside {
				require.NotNil(t, h.locked(1))
				assert.Same(t, pkt, h.locked(1).Packet)
			} else {
				assert.Nil(t, h.locked(1))
			}
		})

		t.Run("relock_"+tt.name, func(t *testing.T) {
			h := newHarness(t, 3, 1, DefaultParams())
			h.oracle.SetRssi(0, 2, testChannel, -80)
			h.oracle.SetRssi(1, 2, testChannel, -70)

			h.rx(2, 0)
			weak := h.tx(0, 2, 0, longFrameLen)
			strong := h.tx(1, 2, tt.offset, longFrameLen)
			h.sched.runUntil(testQuantum)

			require.NotNil(t, h.locked(2))
			if tt.inside {
				assert.Same(t, strong, h.locked(2).Packet)
				assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Relocks))
			} else {
				assert.Same(t, weak, h.locked(2).Packet)
				assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.Relocks))
			}
		})
	}
}

func TestNoRelockBelowThreshold(t *testing.T) {
	h := newHarness(t, 3, 1, DefaultParams())
	h.oracle.SetRssi(0, 2, testChannel, -80)
	h.oracle.SetRssi(1, 2, testChannel, -76)

	h.rx(2, 0)
	first := h.tx(0, 2, 0, longFrameLen)
	h.tx(1, 2, 100, longFrameLen)
	h.sched.runUntil(testQuantum)

	assert.Same(t, first, h.locked(2).Packet)
}

func TestWeakLockWithStrongInterferer(t *testing.T) {
	h := newHarness(t, 3, 7, DefaultParams())
	h.oracle.SetRssi(0, 2, testChannel, -90)
	h.oracle.SetRssi(1, 2, testChannel, -60)

	h.rx(2, 0)
	h.tx(0, 2, 0, longFrameLen)
	h.tx(1, 2, 200, longFrameLen)
	h.sched.runUntil(20 * Millisecond)

	assert.Equal(t, []*Packet{nil}, h.radios[2].rxDone)
	assert.Equal(t, []bool{false}, h.radios[0].txDone)
	assert.Equal(t, []bool{false}, h.radios[1].txDone)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Receptions.WithLabelValues(metrics.OutcomeFailure)))
}

func collisionOutcome(t *testing.T, seed int64) bool {
	h := newHarness(t, 3, seed, DefaultParams())
	h.oracle.SetRssi(0, 2, testChannel, -70)
	h.oracle.SetRssi(1, 2, testChannel, -80)

	h.rx(2, 0)
	h.tx(0, 2, 0, longFrameLen)
	h.tx(1, 2, 200, longFrameLen)
	h.sched.runUntil(20 * Millisecond)
	require.Len(t, h.radios[2].rxDone, 1)
	return h.radios[2].rxDone[0] != nil
}

func TestCollisionSometimesFails(t *testing.T) {
	successes := 0
	const trials = 200
	for seed := int64(0); seed < trials; seed++ {
		if collisionOutcome(t, seed) {
			successes++
		}
	}
	assert.Greater(t, successes, 0)
	assert.Less(t, successes, trials)
}

func TestCollisionTimingVaried(t *testing.T) {
	h := newHarness(t, 3, 3, DefaultParams())
	h.oracle.SetRssi(0, 2, testChannel, -70)
	h.oracle.SetRssi(1, 2, testChannel, -80)

	const rounds = 60
	successes := 0
	for k := 0; k < rounds; k++ {
		base := Timestamp(k) * 20 * Millisecond
		h.rx(2, base)
		h.tx(0, 2, base, longFrameLen)
		h.tx(1, 2, base+200+Timestamp(k)*50, longFrameLen)
		h.sched.runUntil(base + 20*Millisecond)

		require.Len(t, h.radios[2].rxDone, k+1)
		require.Len(t, h.radios[1].txDone, k+1)
		if h.radios[2].rxDone[k] != nil {
			successes++
		}
	}
	assert.Greater(t, successes, 0)
	assert.Less(t, successes, rounds)
}

func TestDeterministic(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		assert.Equal(t, collisionOutcome(t, seed), collisionOutcome(t, seed))
	}
}

func TestLockonDeniedBelowNoiseFloor(t *testing.T) {
	h := newHarness(t, 3, 1, DefaultParams())
	h.oracle.SetRssi(0, 2, testChannel, RssiMinusInfinity)

	h.rx(2, 0)
	h.tx(0, 2, 0, longFrameLen)
	h.sched.runUntil(3 * testQuantum)
	assert.Nil(t, h.locked(2))

	h.sched.runUntil(10 * Millisecond)
	assert.Empty(t, h.radios[2].rxDone)
	assert.Equal(t, []bool{false}, h.radios[0].txDone)

	drops := h.logs.FilterMessage(string(simlog.PropDropLockon)).All()
	require.Len(t, drops, 1)
	assert.Equal(t, int64(2), drops[0].ContextMap()["_mote_id"])
	assert.Equal(t, int64(0), drops[0].ContextMap()["src"])
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.LockonDenied))

	// the idle reception is still pending until its radio gives up
	assert.Equal(t, 1, h.engine.Pending())
	assert.True(t, h.engine.AbandonRx(2))
	assert.Equal(t, 0, h.engine.Pending())
	h.sched.runUntil(20 * Millisecond)
	assert.Empty(t, h.radios[2].rxDone)
}

func TestAbandonLockedReception(t *testing.T) {
	h := newHarness(t, 2, 1, DefaultParams())
	h.rx(1, 0)
	h.tx(0, 1, 0, longFrameLen)
	h.sched.runUntil(testQuantum)

	assert.False(t, h.engine.AbandonRx(1))
	assert.True(t, h.engine.AbandonRx(0), "no reception")

	h.sched.runUntil(10 * Millisecond)
	assert.Len(t, h.radios[1].rxDone, 1)
}

func TestLateListenerMissesFrame(t *testing.T) {
	h := newHarness(t, 2, 1, DefaultParams())
	h.tx(0, 1, 0, longFrameLen)
	h.rx(1, 500)
	h.sched.runUntil(10 * Millisecond)

	assert.Nil(t, h.locked(1))
	assert.Empty(t, h.radios[1].rxDone)
	assert.Equal(t, []bool{false}, h.radios[0].txDone)
}

func TestAckDrop(t *testing.T) {
	params := DefaultParams()
	params.SimulateAckDrop = true
	h := newHarness(t, 2, 1, params)
	h.oracle.SetPdr(1, 0, testChannel, 0)

	h.rx(1, 0)
	pkt := h.tx(0, 1, 0, shortFrameLen)
	h.sched.runUntil(10 * Millisecond)

	assert.Equal(t, []*Packet{pkt}, h.radios[1].rxDone)
	assert.Equal(t, []bool{false}, h.radios[0].txDone)
}

func TestNoAckWhenReceiverDeclines(t *testing.T) {
	h := newHarness(t, 2, 1, DefaultParams())
	h.radios[1].ack = false

	h.rx(1, 0)
	h.tx(0, 1, 0, shortFrameLen)
	h.sched.runUntil(10 * Millisecond)

	assert.Len(t, h.radios[1].rxDone, 1)
	assert.Equal(t, []bool{false}, h.radios[0].txDone)
}

func TestOverheardFrameNotAcked(t *testing.T) {
	h := newHarness(t, 3, 1, DefaultParams())
	h.rx(2, 0)
	pkt := h.tx(0, 1, 0, shortFrameLen)
	h.sched.runUntil(10 * Millisecond)

	assert.Equal(t, []*Packet{pkt}, h.radios[2].rxDone)
	assert.Equal(t, []bool{false}, h.radios[0].txDone)
}

func TestContractViolations(t *testing.T) {
	h := newHarness(t, 2, 1, DefaultParams())
	assert.Panics(t, func() {
		h.engine.StartTx(5, testChannel, &Packet{}, 0, 100)
	})
	assert.Panics(t, func() {
		h.engine.StartTx(0, testChannel, nil, 0, 100)
	})
	h.rx(1, 0)
	assert.Panics(t, func() {
		h.engine.StartRx(1, 12, 0)
	})
	assert.Panics(t, func() {
		h.engine.Register(0, MacAddrFromId(0), &fakeRadio{})
	})
}

func TestInvalidParams(t *testing.T) {
	params := DefaultParams()
	params.CaptureWindow = 0
	_, err := NewEngine(newFakeSched(), connectivity.NewMatrix(nil), params, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestAddSignalPowers(t *testing.T) {
	assert.InDelta(t, -77.0, addSignalPowersDbm(-80, -80), 0.02)
	assert.Equal(t, -60.0, addSignalPowersDbm(-60, -100))
	assert.Equal(t, -60.0, addSignalPowersDbm(-100, -60))
}
