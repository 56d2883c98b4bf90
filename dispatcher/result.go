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

package dispatcher

import (
	"fmt"

	. "github.com/openthread/tsch-sim/types"
)

// Diagnostics is what is needed to reproduce a run: the configuration and the root seed.
type Diagnostics struct {
	Config string
	Seed   int64
}

// CrashReport describes a fault raised by a callback, which ended the run.
type CrashReport struct {
	Time   Timestamp
	Tag    string
	Seed   int64
	Config string
	Cause  error
	Stack  string
}

func (r *CrashReport) Error() string {
	return fmt.Sprintf("crash at %d us in %s (seed %d): %v", r.Time, r.Tag, r.Seed, r.Cause)
}

// Unwrap returns the fault raised by the callback.
func (r *CrashReport) Unwrap() error {
	return r.Cause
}

// Result is returned to whoever waits for the dispatcher to finish.
type Result struct {
	// Time is the global clock when the run loop exited.
	Time  Timestamp
	Crash *CrashReport
}

// Err returns the crash report as an error, or nil for a normal completion.
func (r *Result) Err() error {
	if r == nil || r.Crash == nil {
		return nil
	}
	return r.Crash
}
