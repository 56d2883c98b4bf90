// Copyright (c) 2022-2023, The OTNS Authors.
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

package energy

// Bucket is a category of radio activity within one slot.
type Bucket int

const (
	IdleListen Bucket = iota
	TxDataRxAck
	TxData
	RxDataTxAck
	RxData
	Sleep
	numBuckets
)

var bucketNames = [numBuckets]string{"idle_listen", "tx_data_rx_ack", "tx_data", "rx_data_tx_ack", "rx_data", "sleep"}

func (b Bucket) String() string {
	if b < 0 || b >= numBuckets {
		return "invalid"
	}
	return bucketNames[b]
}

// Buckets lists all buckets in reporting order.
func Buckets() []Bucket {
	return []Bucket{IdleListen, TxDataRxAck, TxData, RxDataTxAck, RxData, Sleep}
}

/*
 * Charge consumed per slot by bucket, for an OpenMote-CC2538 running TSCH (see 6TiSCH simulator).
 * Charge in micro-coulomb (uC).
 */
var chargePerSlotUc = [numBuckets]float64{
	IdleListen:  6.4,
	TxDataRxAck: 54.5,
	TxData:      49.5,
	RxDataTxAck: 32.6,
	RxData:      22.6,
	Sleep:       0.0,
}

// ChargePerSlot returns the charge (uC) consumed by one slot of activity b.
func ChargePerSlot(b Bucket) float64 {
	return chargePerSlotUc[b]
}

// NetworkCharge is the mean per-node charge of the network at one slotframe boundary.
type NetworkCharge struct {
	Asn      uint64
	ChargeUc float64
}

// NodeCharge is the charge consumed by one node, in uC.
type NodeCharge struct {
	NodeId   int
	ChargeUc float64
	Stats    Snapshot
}
