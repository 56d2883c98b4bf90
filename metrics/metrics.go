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

// Package metrics exposes counters of the simulation core as Prometheus metrics.
package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tschsim"

// Reception outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Collector holds the metrics of one simulation. All methods are safe on a nil *Collector.
type Collector struct {
	gatherer prometheus.Gatherer

	EventsExecuted  prometheus.Counter
	EventsDiscarded prometheus.Counter
	Transmissions   prometheus.Counter
	Receptions      *prometheus.CounterVec
	LockonDenied    prometheus.Counter
	Relocks         prometheus.Counter
	Networks        prometheus.Gauge
}

// NewCollector registers the metrics against reg. A nil reg gets a private registry.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.EventsExecuted, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "events_executed_total",
		Help:      "Number of scheduled callbacks executed.",
	})); err != nil {
		return nil, err
	}
	if c.EventsDiscarded, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "events_discarded_total",
		Help:      "Number of cancelled events discarded without firing.",
	})); err != nil {
		return nil, err
	}
	if c.Transmissions, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "propagation",
		Name:      "transmissions_total",
		Help:      "Number of started transmissions.",
	})); err != nil {
		return nil, err
	}
	if c.Receptions, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "propagation",
		Name:      "receptions_total",
		Help:      "Number of resolved receptions by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if c.LockonDenied, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "propagation",
		Name:      "lockon_denied_total",
		Help:      "Number of lock-on attempts denied because the preamble could not be acquired.",
	})); err != nil {
		return nil, err
	}
	if c.Relocks, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "propagation",
		Name:      "relocks_total",
		Help:      "Number of receptions that switched lock to a stronger transmission.",
	})); err != nil {
		return nil, err
	}
	if c.Networks, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "networks",
		Help:      "Number of network instances.",
	})); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

func (c *Collector) AddEventsExecuted(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.EventsExecuted.Add(float64(n))
}

func (c *Collector) AddEventsDiscarded(n uint64) {
	if c == nil || n == 0 {
		return
	}
	c.EventsDiscarded.Add(float64(n))
}

func (c *Collector) IncTransmissions() {
	if c == nil {
		return
	}
	c.Transmissions.Inc()
}

func (c *Collector) IncReceptions(success bool) {
	if c == nil {
		return
	}
	outcome := OutcomeFailure
	if success {
		outcome = OutcomeSuccess
	}
	c.Receptions.WithLabelValues(outcome).Inc()
}

func (c *Collector) IncLockonDenied() {
	if c == nil {
		return
	}
	c.LockonDenied.Inc()
}

func (c *Collector) IncRelocks() {
	if c == nil {
		return
	}
	c.Relocks.Inc()
}

func (c *Collector) SetNetworks(n int) {
	if c == nil {
		return
	}
	c.Networks.Set(float64(n))
}

func alreadyRegistered(err error, name string) (prometheus.Collector, error) {
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return are.ExistingCollector, nil
	}
	return nil, errors.Wrapf(err, "register %s", name)
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		existing, err := alreadyRegistered(err, counter.Desc().String())
		if err != nil {
			return nil, err
		}
		if c, ok := existing.(prometheus.Counter); ok {
			return c, nil
		}
		return nil, errors.Errorf("collector %s already registered with incompatible type", counter.Desc())
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		existing, err := alreadyRegistered(err, "counter vector")
		if err != nil {
			return nil, err
		}
		if c, ok := existing.(*prometheus.CounterVec); ok {
			return c, nil
		}
		return nil, errors.New("counter vector already registered with incompatible type")
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		existing, err := alreadyRegistered(err, gauge.Desc().String())
		if err != nil {
			return nil, err
		}
		if g, ok := existing.(prometheus.Gauge); ok {
			return g, nil
		}
		return nil, errors.Errorf("collector %s already registered with incompatible type", gauge.Desc())
	}
	return gauge, nil
}
