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

package network

import (
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/openthread/tsch-sim/event"
	"github.com/openthread/tsch-sim/logger"
	"github.com/openthread/tsch-sim/metrics"
	. "github.com/openthread/tsch-sim/types"
)

const (
	endSlotframeName = "_actionEndSlotframe"
)

// Scheduler is the part of the dispatcher the mapper needs.
type Scheduler interface {
	CurTime() Timestamp
	Schedule(t Timestamp, order int, tag event.Tag, cb func()) error
	Cancel(tag event.Tag) bool
}

// SlotframeObserver is called on every slotframe boundary of a network with the boundary's slot number.
type SlotframeObserver func(net *NetworkInstance, asn Asn)

type Mapper struct {
	sched           Scheduler
	slotDuration    Timestamp
	slotframeLength uint64
	idSource        func() (string, error)
	metrics         *metrics.Collector

	lock      sync.Mutex
	networks  map[string]*NetworkInstance
	observers []SlotframeObserver
}

type Option func(m *Mapper)

// WithIdReader makes generated network ids come from r, e.g. a seeded random stream.
func WithIdReader(r io.Reader) Option {
	return func(m *Mapper) {
		m.idSource = func() (string, error) {
			id, err := uuid.NewRandomFromReader(r)
			if err != nil {
				return "", errors.Wrap(err, "generate network id")
			}
			return id.String(), nil
		}
	}
}

func WithMetrics(c *metrics.Collector) Option {
	return func(m *Mapper) {
		m.metrics = c
	}
}

func NewMapper(sched Scheduler, slotDuration Timestamp, slotframeLength uint64, opts ...Option) *Mapper {
	logger.AssertTrue(slotDuration > 0, "slot duration must be positive")
	logger.AssertTrue(slotframeLength > 0, "slotframe length must be positive")

	m := &Mapper{
		sched:           sched,
		slotDuration:    slotDuration,
		slotframeLength: slotframeLength,
		networks:        map[string]*NetworkInstance{},
		idSource: func() (string, error) {
			return uuid.NewString(), nil
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mapper) SlotDuration() Timestamp {
	return m.slotDuration
}

func (m *Mapper) SlotframeLength() uint64 {
	return m.slotframeLength
}

// OnSlotframeEnd registers an observer of slotframe boundaries of all networks.
func (m *Mapper) OnSlotframeEnd(obs SlotframeObserver) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.observers = append(m.observers, obs)
}

func housekeepingTag(id string) event.Tag {
	return event.NewTag("network:"+id, endSlotframeName)
}

// AddNetwork creates a network whose slot 0 is the current global time and returns its id. An empty id
// gets a generated one.
func (m *Mapper) AddNetwork(id string) (string, error) {
	if id == "" {
		var err error
		if id, err = m.idSource(); err != nil {
			return "", err
		}
	}

	m.lock.Lock()
	if _, ok := m.networks[id]; ok {
		m.lock.Unlock()
		return "", errors.Errorf("network %s already exists", id)
	}
	net := newNetworkInstance(id, m.sched.CurTime())
	m.networks[id] = net
	count := len(m.networks)
	m.lock.Unlock()

	m.metrics.SetNetworks(count)
	if err := m.armSlotframeEnd(net, 1); err != nil {
		m.RemoveNetwork(id)
		return "", err
	}
	logger.Debugf("network %s added at %d", id, net.StartTime)
	return id, nil
}

// RemoveNetwork drops a network and its housekeeping. Unknown ids are ignored.
func (m *Mapper) RemoveNetwork(id string) {
	m.lock.Lock()
	_, ok := m.networks[id]
	delete(m.networks, id)
	count := len(m.networks)
	m.lock.Unlock()

	if ok {
		m.sched.Cancel(housekeepingTag(id))
		m.metrics.SetNetworks(count)
	}
}

// Network returns the network with the given id; an empty id means the main network.
func (m *Mapper) Network(id string) (*NetworkInstance, error) {
	if id == "" {
		id = MainNetworkId
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	net, ok := m.networks[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "network %s", id)
	}
	return net, nil
}

// Networks returns all network ids in ascending order.
func (m *Mapper) Networks() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	ids := make([]string, 0, len(m.networks))
	for id := range m.networks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SlotToTime returns the global time at which slot asn of the network begins.
func (m *Mapper) SlotToTime(id string, asn Asn) (Timestamp, error) {
	net, err := m.Network(id)
	if err != nil {
		return 0, err
	}
	return asn*m.slotDuration + net.StartTime, nil
}

// TimeToSlot returns the slot of the network containing global time t.
func (m *Mapper) TimeToSlot(id string, t Timestamp) (Asn, error) {
	net, err := m.Network(id)
	if err != nil {
		return 0, err
	}
	if t < net.StartTime {
		return 0, errors.Errorf("time %d precedes the start %d of network %s", t, net.StartTime, net.Id)
	}
	return (t - net.StartTime) / m.slotDuration, nil
}

// CurrentSlot returns the slot of the network at the current global time.
func (m *Mapper) CurrentSlot(id string) (Asn, error) {
	return m.TimeToSlot(id, m.sched.CurTime())
}

// ScheduleAtSlot runs cb at the start of slot asn of the network.
func (m *Mapper) ScheduleAtSlot(id string, asn Asn, tag event.Tag, cb func(), order int) error {
	t, err := m.SlotToTime(id, asn)
	if err != nil {
		return err
	}
	return m.sched.Schedule(t, order, tag, cb)
}

func (m *Mapper) armSlotframeEnd(net *NetworkInstance, frame uint64) error {
	asn := frame * m.slotframeLength
	t := asn*m.slotDuration + net.StartTime
	return m.sched.Schedule(t, event.OrderAdmin, housekeepingTag(net.Id), func() {
		m.endSlotframe(net, asn)
	})
}

func (m *Mapper) endSlotframe(net *NetworkInstance, asn Asn) {
	frames := net.endSlotframe()

	m.lock.Lock()
	observers := append([]SlotframeObserver(nil), m.observers...)
	_, alive := m.networks[net.Id]
	m.lock.Unlock()

	for _, obs := range observers {
		obs(net, asn)
	}

	if alive {
		logger.PanicIfError(m.armSlotframeEnd(net, frames+1))
	}
}
