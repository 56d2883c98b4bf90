// Copyright (c) 2020-2023, The OTNS Authors.
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

package simulation

import (
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/openthread/tsch-sim/connectivity"
	"github.com/openthread/tsch-sim/dispatcher"
	"github.com/openthread/tsch-sim/energy"
	"github.com/openthread/tsch-sim/event"
	"github.com/openthread/tsch-sim/logger"
	"github.com/openthread/tsch-sim/metrics"
	"github.com/openthread/tsch-sim/network"
	"github.com/openthread/tsch-sim/prng"
	"github.com/openthread/tsch-sim/progctx"
	"github.com/openthread/tsch-sim/radio"
	"github.com/openthread/tsch-sim/radiomodel"
	"github.com/openthread/tsch-sim/simlog"
	. "github.com/openthread/tsch-sim/types"
)

var endSimTag = event.NewTag("SimEngine", "_actionEndSim")

// MacFactory creates the link layer of mote id on top of its radio.
type MacFactory func(id NodeId, addr MacAddr, r *radio.Radio) radio.Mac

// Booter is implemented by MACs that schedule their first activity when the simulation starts.
type Booter interface {
	Boot()
}

type Mote struct {
	Id    NodeId
	Radio *radio.Radio
	Mac   radio.Mac
}

type Option func(s *Simulation)

func WithDispatcherConfig(cfg *dispatcher.Config) Option {
	return func(s *Simulation) {
		s.dispatcherCfg = cfg
	}
}

// WithRegisterer registers the simulation metrics against reg instead of a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Simulation) {
		s.registerer = reg
	}
}

func WithProgCtx(ctx *progctx.ProgCtx) Option {
	return func(s *Simulation) {
		s.ctx = ctx
	}
}

// WithLog makes the simulation write its records to l, which stays owned by the caller. log_file is
// ignored then.
func WithLog(l *simlog.Log) Option {
	return func(s *Simulation) {
		s.log = l
	}
}

// Simulation wires the dispatcher, the networks, the medium and the motes of one run.
type Simulation struct {
	cfg           Config
	configDump    string
	ctx           *progctx.ProgCtx
	dispatcherCfg *dispatcher.Config
	registerer    prometheus.Registerer

	seed    int64
	gens    *prng.Generators
	log     *simlog.Log
	ownsLog bool
	metrics *metrics.Collector

	d       *dispatcher.Dispatcher
	mapper  *network.Mapper
	oracle  connectivity.Oracle
	engine  *radiomodel.Engine
	motes   []*Mote
	byAddr  map[MacAddr]*Mote
	energy  *energy.Analyser
	kpi     *KpiManager
	started bool
	ended   bool

	closeOnce sync.Once
}

// New builds a simulation from cfg, creating the MAC of every mote with factory. Nothing runs until Start.
func New(cfg *Config, factory MacFactory, opts ...Option) (sim *Simulation, err error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if factory == nil {
		return nil, errors.New("no mac factory")
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Simulation{
		cfg:    *cfg,
		byAddr: map[MacAddr]*Mote{},
		energy: energy.NewAnalyser(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.configDump, err = cfg.Dump(); err != nil {
		return nil, err
	}
	if cfg.LogLevel != "" {
		lv, _ := logger.ParseLevelString(cfg.LogLevel)
		logger.SetLevel(lv)
	}

	if err = s.initSeed(); err != nil {
		return nil, err
	}
	if err = s.initLog(); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			s.closeLog()
		}
	}()

	if s.metrics, err = metrics.NewCollector(s.registerer); err != nil {
		return nil, err
	}
	s.d = dispatcher.NewDispatcher(s.ctx, s.dispatcherCfg, s, s.metrics)

	s.mapper = network.NewMapper(s.d, cfg.SlotDuration(), cfg.SlotframeLength,
		network.WithIdReader(s.gens.IdReader()), network.WithMetrics(s.metrics))
	for _, id := range append([]string{network.MainNetworkId}, cfg.Networks...) {
		if _, err = s.mapper.AddNetwork(id); err != nil {
			return nil, err
		}
	}

	ids := make([]NodeId, cfg.NumMotes)
	for i := range ids {
		ids[i] = i
	}
	if s.oracle, err = newOracle(cfg, ids, s.d, s.gens.Topology()); err != nil {
		return nil, err
	}
	if s.engine, err = radiomodel.NewEngine(s.d, s.oracle, cfg.PropagationParams(), s.gens.Propagation(),
		radiomodel.WithLog(s.log), radiomodel.WithMetrics(s.metrics)); err != nil {
		return nil, err
	}

	if err = s.createMotes(ids, factory); err != nil {
		return nil, err
	}

	s.mapper.OnSlotframeEnd(func(net *network.NetworkInstance, asn Asn) {
		if net.Id == network.MainNetworkId {
			s.energy.StoreNetworkCharge(asn)
		}
	})
	s.kpi = NewKpiManager()
	s.kpi.Init(s)

	logger.Infof("simulation created: %d motes, conn %s, seed %d", cfg.NumMotes, cfg.ConnClass, s.seed)
	return s, nil
}

func (s *Simulation) initSeed() error {
	policy, err := s.cfg.SeedPolicy()
	if err != nil {
		return err
	}
	start, err := s.cfg.StartTime()
	if err != nil {
		return err
	}
	if start.IsZero() {
		start = time.Now()
	}
	hostname, err := os.Hostname()
	if err != nil {
		logger.Warnf("hostname unavailable for the seed context: %v", err)
	}

	s.seed = prng.Resolve(policy, prng.SeedContext{Hostname: hostname, StartTime: start, RunId: s.cfg.RunId})
	s.gens = prng.New(s.seed)
	return nil
}

func (s *Simulation) initLog() error {
	if s.log == nil {
		if s.cfg.LogFile != "" {
			l, err := simlog.NewFile(s.cfg.LogFile)
			if err != nil {
				return err
			}
			s.log = l
			s.ownsLog = true
		} else {
			s.log = simlog.NewNop()
		}
	}
	s.log.SetClock(s)
	s.log.Record(simlog.SimulatorRandomSeed, zap.Int64("value", s.seed))
	return s.log.Flush()
}

func newOracle(cfg *Config, ids []NodeId, clock connectivity.Clock, r *rand.Rand) (connectivity.Oracle, error) {
	switch cfg.ConnClass {
	case ConnFullyMeshed:
		return connectivity.NewFullyMeshed(ids, cfg.HoppingSequence), nil
	case ConnRandom:
		rc := connectivity.DefaultRandomConfig()
		rc.SquareSideKm = cfg.ConnRandomSquareSideKm
		rc.MinPdr = cfg.ConnRandomInitMinPdr
		rc.MinNeighbors = cfg.ConnRandomInitMinNeighbors
		random, err := connectivity.NewRandom(ids, cfg.HoppingSequence, rc, r)
		if err != nil {
			return nil, err
		}
		return random, nil
	case ConnK7:
		k7, err := connectivity.LoadK7(cfg.ConnTrace, clock)
		if err != nil {
			return nil, err
		}
		if k7.Header.NodeCount < len(ids) {
			return nil, errors.Wrapf(ErrConfigConflict, "trace %s has %d nodes, %d motes configured",
				cfg.ConnTrace, k7.Header.NodeCount, len(ids))
		}
		return k7, nil
	default:
		return connectivity.NewLinear(ids, cfg.HoppingSequence), nil
	}
}

func (s *Simulation) createMotes(ids []NodeId, factory MacFactory) error {
	main, err := s.mapper.Network(network.MainNetworkId)
	if err != nil {
		return err
	}
	deps := radio.Deps{Clock: s.d, Slots: s.mapper, Medium: s.engine, Log: s.log}

	for _, id := range ids {
		r, err := radio.New(id, network.MainNetworkId, s.cfg.RadioParams(), deps)
		if err != nil {
			return err
		}
		mac := factory(id, s.cfg.MoteAddress(id), r)
		if mac == nil {
			return errors.Errorf("mac factory returned nil for mote %d", id)
		}
		r.Attach(mac)

		addr := mac.HardwareAddress()
		if other, ok := s.byAddr[addr]; ok {
			return errors.Wrapf(ErrConfigConflict, "motes %d and %d share hardware address %s", other.Id, id, addr)
		}
		m := &Mote{Id: id, Radio: r, Mac: mac}
		s.motes = append(s.motes, m)
		s.byAddr[addr] = m

		s.engine.Register(id, addr, r)
		main.AddMote(id)
		s.energy.AddNode(id, r)
	}
	return main.SetRoot(ids[0])
}

// Start schedules the end of the run, boots the motes and starts the dispatcher. With num_slotframes 0
// the run only ends on Stop.
func (s *Simulation) Start() error {
	if s.started {
		return errors.New("simulation already started")
	}
	if s.cfg.NumSlotframes > 0 {
		end := s.cfg.NumSlotframes * s.cfg.SlotframeLength
		if err := s.mapper.ScheduleAtSlot(network.MainNetworkId, end, endSimTag, s.endSim, event.OrderAdmin); err != nil {
			return err
		}
	}
	s.started = true

	for _, m := range s.motes {
		if b, ok := m.Mac.(Booter); ok {
			b.Boot()
		}
	}
	s.kpi.Start()
	return s.d.Start()
}

func (s *Simulation) endSim() {
	s.ended = true
	s.d.End()
}

// Wait blocks until the run ends or timeout elapses (timeout <= 0 waits forever).
func (s *Simulation) Wait(timeout time.Duration) (*dispatcher.Result, bool) {
	return s.d.Wait(timeout)
}

// Pause stops the run at the next quantum.
func (s *Simulation) Pause() error {
	return s.PauseAt(s.d.CurTime() + s.d.Quantum())
}

func (s *Simulation) PauseAt(t Timestamp) error {
	return s.d.PauseAt(t)
}

func (s *Simulation) Resume() {
	s.d.Resume()
}

func (s *Simulation) Paused() bool {
	return s.d.Paused()
}

// Stop ends the run, waiting for it up to timeout, and closes the record log if the simulation owns it.
func (s *Simulation) Stop(timeout time.Duration) (*dispatcher.Result, bool) {
	res, ok := s.d.Stop(timeout)
	if ok || !s.started {
		s.closeLog()
	}
	return res, ok
}

func (s *Simulation) closeLog() {
	s.closeOnce.Do(func() {
		if s.ownsLog {
			if err := s.log.Close(); err != nil {
				logger.Warnf("closing simulation log failed: %v", err)
			}
		}
	})
}

func (s *Simulation) OnDispatcherStarted() {
	s.log.State(simlog.StateStarted)
}

func (s *Simulation) OnDispatcherPaused() {
	s.log.State(simlog.StatePaused)
	s.flushLog()
}

func (s *Simulation) OnDispatcherResumed() {
	s.log.State(simlog.StateResumed)
}

func (s *Simulation) OnDispatcherStopped() {
	status := KpiStatusOk
	if !s.ended && s.cfg.NumSlotframes > 0 {
		status = KpiStatusInterrupted
	}
	s.finishKpi(status)
	s.saveEnergy()
	s.log.State(simlog.StateStopped)
	s.flushLog()
	logger.Infof("simulation stopped at %d us", s.d.CurTime())
}

func (s *Simulation) OnDispatcherCrashed(report *dispatcher.CrashReport) {
	logger.TraceError("simulation crashed at %d us in %s, seed %d: %v\n%s\nconfig:\n%s",
		report.Time, report.Tag, report.Seed, report.Cause, report.Stack, report.Config)
	s.finishKpi(KpiStatusCrash)
	s.saveEnergy()
	s.log.State(simlog.StateCrash)
	s.flushLog()
}

func (s *Simulation) Diagnostics() dispatcher.Diagnostics {
	return dispatcher.Diagnostics{Config: s.configDump, Seed: s.seed}
}

func (s *Simulation) finishKpi(status string) {
	s.kpi.Stop(status)
	if s.cfg.KpiFile != "" {
		if err := s.kpi.SaveFile(s.cfg.KpiFile); err != nil {
			logger.Errorf("%v", err)
		}
	}
}

// saveEnergy writes the network charge history and the last per-node charge to energy_file.
func (s *Simulation) saveEnergy() {
	if s.cfg.EnergyFile == "" {
		return
	}
	f, err := os.Create(s.cfg.EnergyFile)
	if err != nil {
		logger.Errorf("creating energy file failed: %v", err)
		return
	}
	defer f.Close()
	if err = s.energy.WriteNetworkCharge(f); err == nil {
		err = s.energy.WriteChargeByNodes(f)
	}
	if err != nil {
		logger.Errorf("writing energy file %s failed: %v", s.cfg.EnergyFile, err)
	}
}

func (s *Simulation) flushLog() {
	if err := s.log.Flush(); err != nil {
		logger.Warnf("flushing simulation log failed: %v", err)
	}
}

// CurTime is the global clock, 0 before the dispatcher exists.
func (s *Simulation) CurTime() Timestamp {
	if s.d == nil {
		return 0
	}
	return s.d.CurTime()
}

// CurrentAsn is the current slot of the main network.
func (s *Simulation) CurrentAsn() Asn {
	if s.mapper == nil {
		return 0
	}
	asn, err := s.mapper.CurrentSlot(network.MainNetworkId)
	if err != nil {
		return 0
	}
	return asn
}

func (s *Simulation) Config() Config {
	return s.cfg
}

func (s *Simulation) Seed() int64 {
	return s.seed
}

func (s *Simulation) Dispatcher() *dispatcher.Dispatcher {
	return s.d
}

func (s *Simulation) Mapper() *network.Mapper {
	return s.mapper
}

func (s *Simulation) Connectivity() connectivity.Oracle {
	return s.oracle
}

func (s *Simulation) Propagation() *radiomodel.Engine {
	return s.engine
}

func (s *Simulation) Energy() *energy.Analyser {
	return s.energy
}

func (s *Simulation) Log() *simlog.Log {
	return s.log
}

func (s *Simulation) Metrics() *metrics.Collector {
	return s.metrics
}

func (s *Simulation) Kpi() *KpiManager {
	return s.kpi
}

// Motes returns the motes in id order.
func (s *Simulation) Motes() []*Mote {
	return append([]*Mote(nil), s.motes...)
}

func (s *Simulation) Mote(id NodeId) (*Mote, error) {
	if id < 0 || id >= len(s.motes) {
		return nil, errors.Wrapf(ErrNotFound, "mote %d", id)
	}
	return s.motes[id], nil
}

func (s *Simulation) MoteByAddr(addr MacAddr) (*Mote, error) {
	m, ok := s.byAddr[addr]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "mote with address %s", addr)
	}
	return m, nil
}
