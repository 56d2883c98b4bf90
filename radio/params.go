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

package radio

import (
	"github.com/pkg/errors"

	. "github.com/openthread/tsch-sim/types"
)

const (
	DefaultBitRate           = 250000 // bit/s
	DefaultCaptureWindowBits = 40     // preamble and SFD
)

// Params are the physical layer parameters shared by all radios of a simulation.
type Params struct {
	BitRate           uint64
	CaptureWindowBits uint64
	HoppingSequence   []ChannelId

	SlotDuration Timestamp
	// StatsPeriodS is the stats reporting period in seconds; 0 disables reporting.
	StatsPeriodS float64
}

func DefaultParams() Params {
	return Params{
		BitRate:           DefaultBitRate,
		CaptureWindowBits: DefaultCaptureWindowBits,
		HoppingSequence:   append([]ChannelId(nil), DefaultHoppingSequence...),
		SlotDuration:      10 * Millisecond,
	}
}

func (p Params) Validate() error {
	if p.BitRate == 0 || p.BitRate > uint64(Second) {
		return errors.Errorf("invalid bit rate %d", p.BitRate)
	}
	if len(p.HoppingSequence) == 0 {
		return errors.New("empty hopping sequence")
	}
	if p.SlotDuration == 0 {
		return errors.New("slot duration must be positive")
	}
	if p.StatsPeriodS < 0 {
		return errors.Errorf("negative stats period %f", p.StatsPeriodS)
	}
	return nil
}

func (p Params) BitDuration() Timestamp {
	return Second / Timestamp(p.BitRate)
}

func (p Params) ByteDuration() Timestamp {
	return 8 * p.BitDuration()
}

// CaptureWindow is the time from the start of a frame until its preamble is acquired.
func (p Params) CaptureWindow() Timestamp {
	return Timestamp(p.CaptureWindowBits) * p.BitDuration()
}

// Airtime is the time a frame of length bytes occupies the medium.
func (p Params) Airtime(length int) Timestamp {
	return p.CaptureWindow() + Timestamp(length)*p.ByteDuration()
}

// StatsInterval is the stats reporting period in slots.
func (p Params) StatsInterval() Asn {
	if p.StatsPeriodS <= 0 {
		return 0
	}
	return Asn(p.StatsPeriodS * float64(Second) / float64(p.SlotDuration))
}
