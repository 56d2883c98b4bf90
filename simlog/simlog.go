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

// Package simlog writes the structured record stream of a simulation run.
package simlog

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	. "github.com/openthread/tsch-sim/types"
)

type RecordType string

const (
	RadioStats          RecordType = "radio.stats"
	PropDropLockon      RecordType = "prop.drop_lockon"
	SimulatorState      RecordType = "simulator.state"
	SimulatorRandomSeed RecordType = "simulator.random_seed"
)

// Simulator states carried by SimulatorState records.
const (
	StateStarted = "started"
	StatePaused  = "paused"
	StateResumed = "resumed"
	StateStopped = "stopped"
	StateCrash   = "crash"
)

const (
	keyType = "_type"
	keyTime = "_time"
	keyAsn  = "_asn"
)

// Clock supplies the simulation time stamped on each record.
type Clock interface {
	CurTime() Timestamp
	CurrentAsn() Asn
}

// Log is the record sink of one simulation. The zero value is not usable; a nil *Log drops records.
type Log struct {
	zl      *zap.Logger
	syncer  zapcore.WriteSyncer
	closer  io.Closer
	clock   Clock
	lock    sync.Mutex
	ignored map[RecordType]struct{}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:     keyType,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}

// New creates a Log writing JSON lines to w through a buffer.
func New(w io.Writer) *Log {
	syncer := &zapcore.BufferedWriteSyncer{WS: zapcore.AddSync(w)}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), syncer, zapcore.DebugLevel)
	return &Log{
		zl:      zap.New(core),
		syncer:  syncer,
		ignored: map[RecordType]struct{}{},
	}
}

// NewFile creates a Log writing to the named file, truncating it.
func NewFile(path string) (*Log, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create sim log %s", path)
	}
	l := New(f)
	l.closer = f
	return l, nil
}

// NewWithCore creates a Log on an existing zap core, e.g. an observer in tests.
func NewWithCore(core zapcore.Core) *Log {
	return &Log{
		zl:      zap.New(core),
		ignored: map[RecordType]struct{}{},
	}
}

// NewNop returns a Log that drops all records.
func NewNop() *Log {
	return NewWithCore(zapcore.NewNopCore())
}

// SetClock sets the clock used to stamp records.
func (l *Log) SetClock(clock Clock) {
	if l == nil {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	l.clock = clock
}

// Ignore drops records of the given types.
func (l *Log) Ignore(types ...RecordType) {
	if l == nil {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	for _, t := range types {
		l.ignored[t] = struct{}{}
	}
}

// Record emits one record with the given fields.
func (l *Log) Record(typ RecordType, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.lock.Lock()
	_, skip := l.ignored[typ]
	clock := l.clock
	l.lock.Unlock()
	if skip {
		return
	}

	if clock != nil {
		fields = append(fields, zap.Uint64(keyTime, clock.CurTime()), zap.Uint64(keyAsn, clock.CurrentAsn()))
	}
	l.zl.Info(string(typ), fields...)
}

// State emits a SimulatorState record.
func (l *Log) State(state string) {
	l.Record(SimulatorState, zap.String("state", state))
}

// Flush writes out buffered records.
func (l *Log) Flush() error {
	if l == nil {
		return nil
	}
	if l.syncer != nil {
		return l.syncer.Sync()
	}
	return l.zl.Sync()
}

// Close flushes and releases the underlying file, if any.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	var err error
	if bws, ok := l.syncer.(*zapcore.BufferedWriteSyncer); ok {
		err = bws.Stop()
	} else {
		err = l.Flush()
	}
	if l.closer != nil {
		if cerr := l.closer.Close(); err == nil {
			err = cerr
		}
		l.closer = nil
	}
	return err
}
