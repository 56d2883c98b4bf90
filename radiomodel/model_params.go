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
	"github.com/pkg/errors"

	. "github.com/openthread/tsch-sim/types"
)

// default propagation parameters
const (
	defaultCaptureThresholdDb DbValue   = 6.0    // dB a frame must exceed the locked one by to capture the radio
	defaultCaptureWindow      Timestamp = 160    // 40 bits at 250 kbps
	defaultNoiseFloorDbm      DbValue   = -105.0 // ambient noise floor (dBm)
)

// Params stores the parameters of the propagation engine.
type Params struct {
	CaptureThresholdDb DbValue   // margin over the locked frame a later frame needs to relock a reception
	CaptureWindow      Timestamp // time from frame start until its preamble is acquired
	NoiseFloorDbm      DbValue   // frames weaker than this at the listener cannot be locked on
	SimulateAckDrop    bool      // if true, acknowledgments are lost with the reverse link's loss rate
}

func DefaultParams() Params {
	return Params{
		CaptureThresholdDb: defaultCaptureThresholdDb,
		CaptureWindow:      defaultCaptureWindow,
		NoiseFloorDbm:      defaultNoiseFloorDbm,
	}
}

func (p Params) Validate() error {
	if p.CaptureThresholdDb < 0 {
		return errors.Errorf("negative capture threshold %f", p.CaptureThresholdDb)
	}
	if p.CaptureWindow == 0 {
		return errors.New("capture window must be positive")
	}
	return nil
}
