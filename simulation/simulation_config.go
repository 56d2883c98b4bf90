// Copyright (c) 2020, The OTNS Authors.
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
	"bytes"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/openthread/tsch-sim/connectivity"
	"github.com/openthread/tsch-sim/logger"
	"github.com/openthread/tsch-sim/network"
	"github.com/openthread/tsch-sim/prng"
	"github.com/openthread/tsch-sim/radio"
	"github.com/openthread/tsch-sim/radiomodel"
	. "github.com/openthread/tsch-sim/types"
)

// Connectivity classes.
const (
	ConnFullyMeshed = "FullyMeshed"
	ConnLinear      = "Linear"
	ConnRandom      = "Random"
	ConnK7          = "K7"
)

const (
	DefaultSlotDurationUs  = 10000
	DefaultSlotframeLength = 101
	DefaultNumMotes        = 2
	DefaultNumSlotframes   = 100

	// StartTimeLayout is the layout of exec_start_time.
	StartTimeLayout = time.RFC3339
)

// SeedSetting is the seed key of the configuration: "random", "context" or an integer.
type SeedSetting string

func (s *SeedSetting) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: seed must be a scalar", value.Line)
	}
	if _, err := prng.ParseSeedPolicy(value.Value); err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*s = SeedSetting(value.Value)
	return nil
}

func (s SeedSetting) MarshalYAML() (interface{}, error) {
	p, err := prng.ParseSeedPolicy(string(s))
	if err != nil {
		return nil, err
	}
	if p.Kind == prng.SeedExplicit {
		return p.Value, nil
	}
	return p.String(), nil
}

// Config is the configuration of one simulation run.
type Config struct {
	SlotDurationUs  uint64      `yaml:"slot_duration_us"`
	SlotframeLength uint64      `yaml:"slotframe_length"`
	NumMotes        int         `yaml:"num_motes"`
	NumSlotframes   uint64      `yaml:"num_slotframes"`
	HoppingSequence []ChannelId `yaml:"hopping_sequence"`

	CaptureThresholdDb DbValue `yaml:"capture_threshold_db"`
	CaptureWindowBits  uint64  `yaml:"capture_window_bits"`
	BitRateBps         uint64  `yaml:"bit_rate_bps"`
	NoiseFloorDbm      DbValue `yaml:"noise_floor_dbm"`

	ConnClass                  string  `yaml:"conn_class"`
	ConnTrace                  string  `yaml:"conn_trace,omitempty"`
	ConnRandomSquareSideKm     float64 `yaml:"conn_random_square_side_km"`
	ConnRandomInitMinPdr       float64 `yaml:"conn_random_init_min_pdr"`
	ConnRandomInitMinNeighbors int     `yaml:"conn_random_init_min_neighbors"`
	ConnSimulateAckDrop        bool    `yaml:"conn_simulate_ack_drop"`

	RadioStatsLogPeriodS float64 `yaml:"radio_stats_log_period_s"`

	Seed          SeedSetting `yaml:"seed"`
	RunId         int         `yaml:"run_id"`
	ExecStartTime string      `yaml:"exec_start_time,omitempty"`

	LogFile    string `yaml:"log_file,omitempty"`
	LogLevel   string `yaml:"log_level,omitempty"`
	KpiFile    string `yaml:"kpi_file,omitempty"`
	EnergyFile string `yaml:"energy_file,omitempty"`

	MoteAddresses []MacAddr `yaml:"mote_addresses,omitempty"`
	Networks      []string  `yaml:"networks,omitempty"`
}

func DefaultConfig() *Config {
	random := connectivity.DefaultRandomConfig()
	return &Config{
		SlotDurationUs:             DefaultSlotDurationUs,
		SlotframeLength:            DefaultSlotframeLength,
		NumMotes:                   DefaultNumMotes,
		NumSlotframes:              DefaultNumSlotframes,
		HoppingSequence:            append([]ChannelId(nil), DefaultHoppingSequence...),
		CaptureThresholdDb:         radiomodel.DefaultParams().CaptureThresholdDb,
		CaptureWindowBits:          radio.DefaultCaptureWindowBits,
		BitRateBps:                 radio.DefaultBitRate,
		NoiseFloorDbm:              radiomodel.DefaultParams().NoiseFloorDbm,
		ConnClass:                  ConnLinear,
		ConnRandomSquareSideKm:     random.SquareSideKm,
		ConnRandomInitMinPdr:       random.MinPdr,
		ConnRandomInitMinNeighbors: random.MinNeighbors,
		Seed:                       prng.SeedRandomString,
	}
}

// LoadConfig reads a YAML configuration file. Keys not in the file keep their default.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// ParseConfig parses a YAML configuration. Unknown keys are an error.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Dump renders the configuration as YAML, as needed to reproduce a run.
func (cfg *Config) Dump() (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", errors.Wrap(err, "dump config")
	}
	return string(data), nil
}

func (cfg *Config) Validate() error {
	if cfg.SlotDurationUs == 0 {
		return errors.New("slot_duration_us must be positive")
	}
	if cfg.SlotframeLength == 0 {
		return errors.New("slotframe_length must be positive")
	}
	if cfg.NumMotes <= 0 {
		return errors.Errorf("num_motes must be positive, got %d", cfg.NumMotes)
	}
	if len(cfg.HoppingSequence) == 0 {
		return errors.New("hopping_sequence is empty")
	}
	seen := map[ChannelId]struct{}{}
	for _, ch := range cfg.HoppingSequence {
		if _, ok := seen[ch]; ok {
			return errors.Errorf("hopping_sequence repeats channel %d", ch)
		}
		seen[ch] = struct{}{}
	}

	if err := cfg.RadioParams().Validate(); err != nil {
		return err
	}
	if err := cfg.PropagationParams().Validate(); err != nil {
		return err
	}
	if cfg.CaptureWindowBits == 0 {
		return errors.New("capture_window_bits must be positive")
	}

	switch cfg.ConnClass {
	case ConnFullyMeshed, ConnLinear:
	case ConnRandom:
		if cfg.ConnRandomSquareSideKm <= 0 {
			return errors.Errorf("conn_random_square_side_km must be positive, got %f", cfg.ConnRandomSquareSideKm)
		}
		if cfg.ConnRandomInitMinPdr < 0 || cfg.ConnRandomInitMinPdr > 1 {
			return errors.Errorf("conn_random_init_min_pdr %f out of range", cfg.ConnRandomInitMinPdr)
		}
		if cfg.ConnRandomInitMinNeighbors < 0 {
			return errors.Errorf("negative conn_random_init_min_neighbors %d", cfg.ConnRandomInitMinNeighbors)
		}
	case ConnK7:
		if cfg.ConnTrace == "" {
			return errors.New("conn_class K7 requires conn_trace")
		}
	default:
		return errors.Errorf("unknown conn_class %q", cfg.ConnClass)
	}

	if _, err := cfg.SeedPolicy(); err != nil {
		return err
	}
	if _, err := cfg.StartTime(); err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		if _, err := logger.ParseLevelString(cfg.LogLevel); err != nil {
			return err
		}
	}
	if len(cfg.MoteAddresses) > cfg.NumMotes {
		return errors.Errorf("%d mote_addresses for %d motes", len(cfg.MoteAddresses), cfg.NumMotes)
	}

	networks := map[string]struct{}{network.MainNetworkId: {}}
	for _, id := range cfg.Networks {
		if id == "" {
			return errors.New("empty network id")
		}
		if _, ok := networks[id]; ok {
			return errors.Errorf("duplicate network %s", id)
		}
		networks[id] = struct{}{}
	}
	return nil
}

func (cfg *Config) SlotDuration() Timestamp {
	return Timestamp(cfg.SlotDurationUs) * Microsecond
}

func (cfg *Config) SeedPolicy() (prng.SeedPolicy, error) {
	return prng.ParseSeedPolicy(string(cfg.Seed))
}

// StartTime returns exec_start_time, or the zero time if unset.
func (cfg *Config) StartTime() (time.Time, error) {
	if cfg.ExecStartTime == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(StartTimeLayout, cfg.ExecStartTime)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "exec_start_time")
	}
	return t, nil
}

// MoteAddress returns the configured hardware address of mote id, or the one derived from its id.
func (cfg *Config) MoteAddress(id NodeId) MacAddr {
	if id < len(cfg.MoteAddresses) && cfg.MoteAddresses[id] != "" {
		return cfg.MoteAddresses[id]
	}
	return MacAddrFromId(id)
}

func (cfg *Config) RadioParams() radio.Params {
	return radio.Params{
		BitRate:           cfg.BitRateBps,
		CaptureWindowBits: cfg.CaptureWindowBits,
		HoppingSequence:   append([]ChannelId(nil), cfg.HoppingSequence...),
		SlotDuration:      cfg.SlotDuration(),
		StatsPeriodS:      cfg.RadioStatsLogPeriodS,
	}
}

func (cfg *Config) PropagationParams() radiomodel.Params {
	return radiomodel.Params{
		CaptureThresholdDb: cfg.CaptureThresholdDb,
		CaptureWindow:      cfg.RadioParams().CaptureWindow(),
		NoiseFloorDbm:      cfg.NoiseFloorDbm,
		SimulateAckDrop:    cfg.ConnSimulateAckDrop,
	}
}
