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
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/openthread/tsch-sim/connectivity"
	"github.com/openthread/tsch-sim/energy"
	"github.com/openthread/tsch-sim/event"
	"github.com/openthread/tsch-sim/radio"
	"github.com/openthread/tsch-sim/simlog"
	. "github.com/openthread/tsch-sim/types"
)

const waitTimeout = 5 * time.Second

// testNet hands the simulation to the test MACs once it is built.
type testNet struct {
	sim  *Simulation
	macs []*testMac
	boot func(m *testMac)
}

type testMac struct {
	net    *testNet
	id     NodeId
	addr   MacAddr
	radio  *radio.Radio
	txDone []bool
	rx     []*Packet
}

func (m *testMac) IsSynchronized() bool     { return true }
func (m *testMac) HardwareAddress() MacAddr { return m.addr }
func (m *testMac) OnTxDone(acked bool, ch ChannelId) {
	m.txDone = append(m.txDone, acked)
}
func (m *testMac) OnRxDone(pkt *Packet, ch ChannelId) bool {
	if pkt == nil {
		return false
	}
	m.rx = append(m.rx, pkt)
	return pkt.Mac.Dst == m.addr
}

func (m *testMac) Boot() {
	if m.net.boot != nil {
		m.net.boot(m)
	}
}

// at runs cb at slot asn of the main network.
func (m *testMac) at(asn Asn, name string, cb func()) {
	err := m.net.sim.Mapper().ScheduleAtSlot("", asn, event.NodeTag(m.id, name), cb, event.OrderStack)
	if err != nil {
		panic(err)
	}
}

func (n *testNet) factory(id NodeId, addr MacAddr, r *radio.Radio) radio.Mac {
	m := &testMac{net: n, id: id, addr: addr, radio: r}
	n.macs = append(n.macs, m)
	return m
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.SlotframeLength = 10
	cfg.NumSlotframes = 2
	cfg.ConnClass = ConnFullyMeshed
	cfg.Seed = "42"
	return cfg
}

func newTestSim(t *testing.T, cfg *Config, boot func(m *testMac)) (*Simulation, *testNet, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	n := &testNet{boot: boot}
	sim, err := New(cfg, n.factory, WithLog(simlog.NewWithCore(core)))
	require.NoError(t, err)
	n.sim = sim
	return sim, n, logs
}

func states(logs *observer.ObservedLogs) []string {
	var ret []string
	for _, e := range logs.FilterMessage(string(simlog.SimulatorState)).All() {
		ret = append(ret, e.ContextMap()["state"].(string))
	}
	return ret
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
slot_duration_us: 15000
num_motes: 5
conn_class: Random
seed: 7
hopping_sequence: [11, 26]
networks: [second]
`))
	require.NoError(t, err)
	assert.Equal(t, uint64(15000), cfg.SlotDurationUs)
	assert.Equal(t, uint64(DefaultSlotframeLength), cfg.SlotframeLength)
	assert.Equal(t, 5, cfg.NumMotes)
	assert.Equal(t, ConnRandom, cfg.ConnClass)
	assert.Equal(t, SeedSetting("7"), cfg.Seed)
	assert.Equal(t, []ChannelId{11, 26}, cfg.HoppingSequence)
	assert.Equal(t, []string{"second"}, cfg.Networks)
	assert.Equal(t, 15*Millisecond, cfg.SlotDuration())

	cfg, err = ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = ParseConfig([]byte("no_such_key: 1\n"))
	assert.Error(t, err)
	_, err = ParseConfig([]byte("seed: sometimes\n"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	for name, change := range map[string]func(cfg *Config){
		"slot duration":   func(cfg *Config) { cfg.SlotDurationUs = 0 },
		"slotframe":       func(cfg *Config) { cfg.SlotframeLength = 0 },
		"motes":           func(cfg *Config) { cfg.NumMotes = 0 },
		"hopping":         func(cfg *Config) { cfg.HoppingSequence = nil },
		"repeated chan":   func(cfg *Config) { cfg.HoppingSequence = []ChannelId{11, 11} },
		"bit rate":        func(cfg *Config) { cfg.BitRateBps = 0 },
		"conn class":      func(cfg *Config) { cfg.ConnClass = "Mesh" },
		"k7 without file": func(cfg *Config) { cfg.ConnClass = ConnK7 },
		"random side":     func(cfg *Config) { cfg.ConnClass = ConnRandom; cfg.ConnRandomSquareSideKm = 0 },
		"start time":      func(cfg *Config) { cfg.ExecStartTime = "yesterday" },
		"log level":       func(cfg *Config) { cfg.LogLevel = "chatty" },
		"addresses":       func(cfg *Config) { cfg.MoteAddresses = []MacAddr{"a", "b", "c"} },
		"main network":    func(cfg *Config) { cfg.Networks = []string{"main"} },
		"empty network":   func(cfg *Config) { cfg.Networks = []string{""} },
	} {
		cfg := DefaultConfig()
		change(cfg)
		assert.Error(t, cfg.Validate(), name)
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestConfigDump(t *testing.T) {
	cfg := testConfig()
	cfg.MoteAddresses = []MacAddr{"aa-aa"}
	cfg.ExecStartTime = "2024-03-01T10:00:00Z"
	dump, err := cfg.Dump()
	require.NoError(t, err)
	assert.Contains(t, dump, "seed: 42\n")

	back, err := ParseConfig([]byte(dump))
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
	assert.Equal(t, MacAddr("aa-aa"), back.MoteAddress(0))
	assert.Equal(t, MacAddrFromId(1), back.MoteAddress(1))
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("num_motes: 3\n"), 0644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.NumMotes)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewWiring(t *testing.T) {
	cfg := testConfig()
	cfg.NumMotes = 3
	cfg.Networks = []string{"second"}
	sim, n, logs := newTestSim(t, cfg, nil)

	assert.Equal(t, int64(42), sim.Seed())
	seeds := logs.FilterMessage(string(simlog.SimulatorRandomSeed)).All()
	require.Len(t, seeds, 1)
	assert.Equal(t, int64(42), seeds[0].ContextMap()["value"])

	assert.Equal(t, []string{"main", "second"}, sim.Mapper().Networks())
	main, err := sim.Mapper().Network("")
	require.NoError(t, err)
	assert.Equal(t, []NodeId{0, 1, 2}, main.Motes())
	root, ok := main.Root()
	assert.True(t, ok)
	assert.Equal(t, 0, root)

	require.Len(t, sim.Motes(), 3)
	require.Len(t, n.macs, 3)
	m, err := sim.Mote(2)
	require.NoError(t, err)
	assert.Same(t, n.macs[2].radio, m.Radio)
	_, err = sim.Mote(3)
	assert.True(t, errors.Is(err, ErrNotFound))

	m, err = sim.MoteByAddr(MacAddrFromId(1))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Id)
	_, err = sim.MoteByAddr("nobody")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Equal(t, 1.0, sim.Connectivity().GetPdr(0, 2, cfg.HoppingSequence[0]))
	assert.NotNil(t, sim.Propagation())
	assert.Equal(t, 3, sim.Config().NumMotes)
}

func TestNewRejects(t *testing.T) {
	n := &testNet{}
	_, err := New(testConfig(), nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.MoteAddresses = []MacAddr{"aa", "aa"}
	_, err = New(cfg, n.factory)
	assert.True(t, errors.Is(err, ErrConfigConflict))

	cfg = testConfig()
	cfg.NumMotes = 0
	_, err = New(cfg, n.factory)
	assert.Error(t, err)
}

func TestRunToCompletion(t *testing.T) {
	sim, n, logs := newTestSim(t, testConfig(), nil)
	require.NoError(t, sim.Start())
	assert.Error(t, sim.Start())

	res, ok := sim.Wait(waitTimeout)
	require.True(t, ok)
	require.NoError(t, res.Err())
	assert.Equal(t, 200*Millisecond, res.Time)

	history := sim.Energy().GetNetworkHistory()
	require.Len(t, history, 2)
	assert.Equal(t, uint64(10), history[0].Asn)
	assert.Equal(t, uint64(20), history[1].Asn)
	assert.Equal(t, []string{simlog.StateStarted, simlog.StateStopped}, states(logs))

	kpi := sim.Kpi().Data()
	assert.Equal(t, KpiStatusOk, kpi.Status)
	assert.Equal(t, uint64(200000), kpi.TimeUs.EndTimeUs)
	assert.Equal(t, uint64(20), kpi.Asn)
	assert.Len(t, kpi.Energy.Motes, len(n.macs))

	_, ok = sim.Stop(waitTimeout)
	assert.True(t, ok)
}

func TestUnicastExchange(t *testing.T) {
	cfg := testConfig()
	ch := cfg.HoppingSequence[0]
	sim, n, _ := newTestSim(t, cfg, func(m *testMac) {
		switch m.id {
		case 0:
			m.at(1, "tx", func() {
				m.radio.StartTx(ch, &Packet{Type: "DATA", Mac: MacHeader{Src: m.addr, Dst: MacAddrFromId(1)}, Length: 127})
			})
		case 1:
			m.at(1, "rx", func() {
				m.radio.StartRx(ch)
			})
		}
	})
	require.NoError(t, sim.Start())
	res, ok := sim.Wait(waitTimeout)
	require.True(t, ok)
	require.NoError(t, res.Err())

	assert.Equal(t, []bool{true}, n.macs[0].txDone)
	require.Len(t, n.macs[1].rx, 1)
	assert.Equal(t, "DATA", n.macs[1].rx[0].Type)

	sender := n.macs[0].radio.Stats().Snapshot()
	receiver := n.macs[1].radio.Stats().Snapshot()
	assert.Equal(t, int64(1), sender.Get(energy.TxDataRxAck))
	assert.Equal(t, int64(1), receiver.Get(energy.RxDataTxAck))

	kpi := sim.Kpi().Data()
	require.Contains(t, kpi.Channels, ch)
	assert.Equal(t, uint64(1), kpi.Channels[ch].NumFrames)
	assert.Greater(t, kpi.Energy.Motes[0].ChargeUc, 0.0)
}

func TestCrashReport(t *testing.T) {
	cfg := testConfig()
	sim, _, logs := newTestSim(t, cfg, func(m *testMac) {
		if m.id == 1 {
			m.at(3, "bad_rx", func() {
				m.radio.StartRx(99)
			})
		}
	})
	require.NoError(t, sim.Start())
	res, ok := sim.Wait(waitTimeout)
	require.True(t, ok)
	require.NotNil(t, res.Crash)

	assert.True(t, IsViolation(res.Crash.Cause))
	assert.Equal(t, 30*Millisecond, res.Crash.Time)
	assert.Equal(t, int64(42), res.Crash.Seed)
	assert.Contains(t, res.Crash.Config, "seed: 42")
	assert.Contains(t, res.Crash.Tag, "bad_rx")
	assert.Equal(t, []string{simlog.StateStarted, simlog.StateCrash}, states(logs))
	assert.Equal(t, KpiStatusCrash, sim.Kpi().Data().Status)
}

func TestPauseResumeStop(t *testing.T) {
	cfg := testConfig()
	cfg.SlotframeLength = 1000
	cfg.NumSlotframes = 0
	sim, _, logs := newTestSim(t, cfg, nil)

	require.NoError(t, sim.PauseAt(50*Millisecond))
	require.NoError(t, sim.Start())
	assert.Eventually(t, sim.Paused, waitTimeout, time.Millisecond)
	assert.Equal(t, 50*Millisecond, sim.Dispatcher().CurTime())
	assert.Equal(t, Asn(5), sim.CurrentAsn())

	sim.Resume()
	assert.Eventually(t, func() bool { return !sim.Paused() }, waitTimeout, time.Millisecond)

	res, ok := sim.Stop(waitTimeout)
	require.True(t, ok)
	require.NoError(t, res.Err())
	assert.Equal(t, []string{simlog.StateStarted, simlog.StatePaused, simlog.StateResumed, simlog.StateStopped},
		states(logs))
	assert.Equal(t, KpiStatusOk, sim.Kpi().Data().Status)
}

func TestStopBeforeEnd(t *testing.T) {
	cfg := testConfig()
	cfg.NumSlotframes = 1000
	sim, _, _ := newTestSim(t, cfg, nil)

	_, ok := sim.Stop(waitTimeout)
	assert.False(t, ok)

	require.NoError(t, sim.PauseAt(20*Millisecond))
	require.NoError(t, sim.Start())
	assert.Eventually(t, sim.Paused, waitTimeout, time.Millisecond)
	res, ok := sim.Stop(waitTimeout)
	require.True(t, ok)
	assert.Less(t, res.Time, 10000*Millisecond)
	assert.Equal(t, KpiStatusInterrupted, sim.Kpi().Data().Status)
}

func TestOutputFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.LogFile = filepath.Join(dir, "sim.jsonl")
	cfg.KpiFile = filepath.Join(dir, "kpi.json")
	cfg.EnergyFile = filepath.Join(dir, "energy.txt")
	n := &testNet{}
	sim, err := New(cfg, n.factory)
	require.NoError(t, err)
	n.sim = sim

	require.NoError(t, sim.Start())
	_, ok := sim.Stop(waitTimeout)
	require.True(t, ok)

	f, err := os.Open(cfg.LogFile)
	require.NoError(t, err)
	defer f.Close()
	var types []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		types = append(types, rec["_type"].(string))
	}
	require.NotEmpty(t, types)
	assert.Equal(t, string(simlog.SimulatorRandomSeed), types[0])
	assert.Contains(t, types, string(simlog.SimulatorState))

	data, err := os.ReadFile(cfg.KpiFile)
	require.NoError(t, err)
	var kpi Kpi
	require.NoError(t, json.Unmarshal(data, &kpi))
	assert.Equal(t, int64(42), kpi.Seed)
	assert.NotEmpty(t, kpi.FileTime)
	assert.Len(t, kpi.Energy.Motes, cfg.NumMotes)

	data, err = os.ReadFile(cfg.EnergyFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ASN\tmean charge per node (uC)")
	assert.Contains(t, string(data), "ID\tcharge (uC)")
}

const k7Trace = `{"node_count": 2, "start_date": "2018-07-31 15:00:00", "stop_date": "2018-07-31 16:00:00", "channels": [11, 12], "location": "grenoble"}
datetime,src,dst,channels,mean_rssi,pdr,tx_count
2018-07-31 15:00:00,0,1,[11;12],-70.5,0.9,100
2018-07-31 15:00:00,1,0,[11;12],-71.0,0.8,100
`

func TestConnectivityClasses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.k7")
	require.NoError(t, os.WriteFile(path, []byte(k7Trace), 0644))

	cfg := testConfig()
	cfg.ConnClass = ConnK7
	cfg.ConnTrace = path
	sim, _, _ := newTestSim(t, cfg, nil)
	require.IsType(t, &connectivity.K7{}, sim.Connectivity())
	assert.Equal(t, 0.9, sim.Connectivity().GetPdr(0, 1, 11))

	cfg.NumMotes = 3
	_, err := New(cfg, (&testNet{}).factory)
	assert.True(t, errors.Is(err, ErrConfigConflict))

	cfg = testConfig()
	cfg.ConnClass = ConnRandom
	cfg.NumMotes = 4
	cfg.ConnRandomSquareSideKm = 0.05
	cfg.ConnRandomInitMinNeighbors = 1
	sim, _, _ = newTestSim(t, cfg, nil)
	require.IsType(t, &connectivity.Random{}, sim.Connectivity())
	other, _, _ := newTestSim(t, cfg, nil)
	for src := 0; src < 4; src++ {
		for dst := 0; dst < 4; dst++ {
			assert.Equal(t, sim.Connectivity().GetRssi(src, dst, 11), other.Connectivity().GetRssi(src, dst, 11))
		}
	}

	cfg = testConfig()
	cfg.ConnClass = ConnLinear
	cfg.NumMotes = 3
	sim, _, _ = newTestSim(t, cfg, nil)
	assert.Equal(t, 1.0, sim.Connectivity().GetPdr(0, 1, 11))
	assert.Equal(t, 0.0, sim.Connectivity().GetPdr(0, 2, 11))
}
