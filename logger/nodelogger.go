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

package logger

import (
	"fmt"
)

// NodeLogger prefixes diagnostics of one simulated node with its id and the current simulation time.
type NodeLogger struct {
	Id    int
	clock func() uint64
}

func NewNodeLogger(id int, clock func() uint64) *NodeLogger {
	return &NodeLogger{Id: id, clock: clock}
}

func (nl *NodeLogger) prefix() string {
	if nl.clock == nil {
		return fmt.Sprintf("node %d: ", nl.Id)
	}
	return fmt.Sprintf("%11d node %d: ", nl.clock(), nl.Id)
}

func (nl *NodeLogger) Tracef(format string, args ...interface{}) {
	Logf(TraceLevel, nl.prefix()+format, args)
}

func (nl *NodeLogger) Debugf(format string, args ...interface{}) {
	Logf(DebugLevel, nl.prefix()+format, args)
}

func (nl *NodeLogger) Infof(format string, args ...interface{}) {
	Logf(InfoLevel, nl.prefix()+format, args)
}

func (nl *NodeLogger) Warnf(format string, args ...interface{}) {
	Logf(WarnLevel, nl.prefix()+format, args)
}

func (nl *NodeLogger) Errorf(format string, args ...interface{}) {
	Logf(ErrorLevel, nl.prefix()+format, args)
}
