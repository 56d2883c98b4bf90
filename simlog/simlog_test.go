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

package simlog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	. "github.com/openthread/tsch-sim/types"
)

type fixedClock struct {
	now Timestamp
	asn Asn
}

func (c fixedClock) CurTime() Timestamp {
	return c.now
}

func (c fixedClock) CurrentAsn() Asn {
	return c.asn
}

func TestRecordToObserver(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewWithCore(core)
	l.SetClock(fixedClock{now: 1500, asn: 3})

	l.Record(SimulatorRandomSeed, zap.Int64("value", 42))
	l.State(StateStarted)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, string(SimulatorRandomSeed), entries[0].Message)
	assert.Equal(t, int64(42), entries[0].ContextMap()["value"])
	assert.Equal(t, uint64(1500), entries[0].ContextMap()[keyTime])
	assert.Equal(t, uint64(3), entries[0].ContextMap()[keyAsn])
	assert.Equal(t, StateStarted, entries[1].ContextMap()["state"])
}

func TestIgnore(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewWithCore(core)
	l.Ignore(RadioStats)
	l.Record(RadioStats, zap.Int("mote_id", 1))
	l.Record(PropDropLockon, zap.Int("mote_id", 1))
	assert.Equal(t, 0, logs.FilterMessage(string(RadioStats)).Len())
	assert.Equal(t, 1, logs.FilterMessage(string(PropDropLockon)).Len())
}

func TestBufferedJsonLines(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.State(StatePaused)
	l.State(StateResumed)
	require.NoError(t, l.Flush())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, string(SimulatorState), rec[keyType])
	assert.Equal(t, StateResumed, rec["state"])
	require.NoError(t, l.Close())
}

func TestNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.log")
	l, err := NewFile(path)
	require.NoError(t, err)
	l.Record(SimulatorRandomSeed, zap.Int64("value", 7))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"value":7`)
}

func TestNilLog(t *testing.T) {
	var l *Log
	assert.NotPanics(t, func() {
		l.Record(RadioStats)
		l.State(StateCrash)
		assert.NoError(t, l.Flush())
		assert.NoError(t, l.Close())
	})
}
