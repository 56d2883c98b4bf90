// Copyright (c) 2022, The OTNS Authors.
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

import (
	"sync"
)

// Snapshot is a copy of the bucket counters at one point in time.
type Snapshot struct {
	Counts      [numBuckets]int64
	LastUpdated uint64
}

func (s Snapshot) Get(b Bucket) int64 {
	return s.Counts[b]
}

// Total is the sum of all buckets.
func (s Snapshot) Total() int64 {
	var total int64
	for _, c := range s.Counts {
		total += c
	}
	return total
}

// ChargeUc is the charge consumed by the counted slots.
func (s Snapshot) ChargeUc() float64 {
	var charge float64
	for b, c := range s.Counts {
		charge += float64(c) * chargePerSlotUc[b]
	}
	return charge
}

// AsMap returns the counters keyed by bucket name.
func (s Snapshot) AsMap() map[string]int64 {
	m := make(map[string]int64, numBuckets)
	for _, b := range Buckets() {
		m[b.String()] = s.Counts[b]
	}
	return m
}

// RadioStats counts the slots a radio spent in each activity. Slots without activity since the last
// update are counted as sleep, so the buckets always sum to LastUpdated - created.
type RadioStats struct {
	lock        sync.Mutex
	counts      [numBuckets]int64
	created     uint64
	lastUpdated uint64
}

// NewRadioStats creates stats for a radio created at slot asn.
func NewRadioStats(asn uint64) *RadioStats {
	return &RadioStats{
		created:     asn,
		lastUpdated: asn,
	}
}

// Update counts one slot of activity b at slot asn, after accounting the slots slept since the last update.
func (rs *RadioStats) Update(b Bucket, asn uint64) {
	rs.lock.Lock()
	defer rs.lock.Unlock()

	rs.counts[Sleep] += int64(asn) - int64(rs.lastUpdated) - 1
	rs.counts[b]++
	rs.lastUpdated = asn
}

// Elapsed is the number of slots accounted since creation.
func (rs *RadioStats) Elapsed() int64 {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	return int64(rs.lastUpdated) - int64(rs.created)
}

func (rs *RadioStats) Snapshot() Snapshot {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	return Snapshot{Counts: rs.counts, LastUpdated: rs.lastUpdated}
}
