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

package connectivity

import (
	"math"

	. "github.com/openthread/tsch-sim/types"
)

// RSSI (dBm) to PDR measurements of an AT86RF231 radio, in 1 dB steps from rssiPdrMin.
var rssiPdrTable = []float64{
	0.0000, // -97
	0.1494, // -96
	0.2340, // -95
	0.4071, // -94
	0.6359, // -93
	0.6866, // -92
	0.7476, // -91
	0.8603, // -90
	0.8702, // -89
	0.9324, // -88
	0.9427, // -87
	0.9562, // -86
	0.9611, // -85
	0.9739, // -84
	0.9745, // -83
	0.9844, // -82
	0.9854, // -81
	0.9903, // -80
	1.0000, // -79
}

const (
	rssiPdrMin DbValue = -97
	rssiPdrMax DbValue = -79
)

// RssiToPdr maps a received signal strength onto a packet delivery ratio, interpolating linearly between
// table entries. The mapping is monotonically non-decreasing.
func RssiToPdr(rssi DbValue) float64 {
	if math.IsNaN(rssi) || rssi <= rssiPdrMin {
		return 0.0
	}
	if rssi >= rssiPdrMax {
		return 1.0
	}
	pos := rssi - rssiPdrMin
	i := int(math.Floor(pos))
	frac := pos - float64(i)
	return rssiPdrTable[i] + frac*(rssiPdrTable[i+1]-rssiPdrTable[i])
}
