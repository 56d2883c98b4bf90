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

package simulation

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/openthread/tsch-sim/logger"
	. "github.com/openthread/tsch-sim/types"
)

type KpiManager struct {
	sim           *Simulation
	data          *Kpi
	curRadioStats RadioStatsStore
	isRunning     bool
}

type RadioStatsStore map[ChannelId]KpiChannel

// NewKpiManager creates a new KPI manager/bookkeeper for a particular simulation.
func NewKpiManager() *KpiManager {
	km := &KpiManager{}
	return km
}

// Init inits the KPI manager for the given simulation.
func (km *KpiManager) Init(sim *Simulation) {
	logger.AssertNil(km.sim)
	logger.AssertFalse(km.isRunning)
	km.sim = sim
	km.data = &Kpi{Status: KpiStatusOk, Seed: sim.Seed()}
}

// Start begins a KPI period at the current time. Channel statistics collected so far are dropped.
func (km *KpiManager) Start() {
	logger.AssertNotNil(km.sim)
	km.data.TimeUs.StartTimeUs = km.sim.CurTime()
	km.sim.Propagation().ResetChannelStats()
	km.isRunning = true
}

// Stop ends the KPI period with the given status.
func (km *KpiManager) Stop(status string) {
	if km.isRunning {
		km.curRadioStats = km.retrieveRadioModelStats()
		km.isRunning = false
		km.data.Status = status
		km.calculateKpis()
	}
}

func (km *KpiManager) IsRunning() bool {
	return km.isRunning
}

// Data returns the KPIs, up to date while a period is running.
func (km *KpiManager) Data() Kpi {
	if km.isRunning {
		km.curRadioStats = km.retrieveRadioModelStats()
		km.calculateKpis()
	}
	return *km.data
}

func (km *KpiManager) SaveFile(fn string) error {
	data := km.Data()
	data.FileTime = time.Now().Format(time.RFC3339)
	js, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return errors.Wrap(err, "marshal KPI data")
	}

	if err = os.WriteFile(fn, js, 0644); err != nil {
		return errors.Wrapf(err, "write KPI file %s", fn)
	}
	return nil
}

func (km *KpiManager) retrieveRadioModelStats() RadioStatsStore {
	ret := make(RadioStatsStore)
	curTime := km.sim.CurTime()
	passedTime := curTime - km.data.TimeUs.StartTimeUs

	if passedTime > 0 {
		engine := km.sim.Propagation()
		for _, ch := range engine.StatsChannels() {
			stats := engine.GetChannelStats(ch)
			ret[ch] = KpiChannel{
				TxTimeUs:     stats.TxTimeUs,
				TxPercentage: 100.0 * float64(stats.TxTimeUs) / float64(passedTime),
				NumFrames:    stats.NumFrames,
				AvgFps:       1.0e6 * float64(stats.NumFrames) / float64(passedTime),
			}
		}
	}

	return ret
}

func (km *KpiManager) calculateKpis() {
	// time
	km.data.TimeUs.EndTimeUs = km.sim.CurTime()
	km.data.TimeUs.PeriodUs = km.data.TimeUs.EndTimeUs - km.data.TimeUs.StartTimeUs
	km.data.TimeSec.StartTimeSec = float64(km.data.TimeUs.StartTimeUs) / 1e6
	km.data.TimeSec.EndTimeSec = float64(km.data.TimeUs.EndTimeUs) / 1e6
	km.data.TimeSec.PeriodSec = float64(km.data.TimeUs.PeriodUs) / 1e6
	km.data.Asn = km.sim.CurrentAsn()

	// channels
	km.data.Channels = km.curRadioStats

	// energy
	motes := km.sim.Motes()
	km.data.Energy = KpiEnergy{Motes: make(map[NodeId]KpiMoteEnergy, len(motes))}
	for _, m := range motes {
		snap := m.Radio.Stats().Snapshot()
		km.data.Energy.Motes[m.Id] = KpiMoteEnergy{ChargeUc: snap.ChargeUc(), Slots: snap.AsMap()}
		km.data.Energy.NetworkChargeUc += snap.ChargeUc() / float64(len(motes))
	}
}
