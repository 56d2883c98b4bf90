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

// Package prng resolves the root random seed of a run and derives the independent generators used by the
// simulation from it.
package prng

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type SeedKind int

const (
	SeedExplicit SeedKind = iota
	SeedRandom
	SeedFromContext
)

const (
	SeedRandomString  = "random"
	SeedContextString = "context"
)

// SeedPolicy says how the root seed of a run is chosen.
type SeedPolicy struct {
	Kind  SeedKind
	Value int64
}

func (p SeedPolicy) String() string {
	switch p.Kind {
	case SeedRandom:
		return SeedRandomString
	case SeedFromContext:
		return SeedContextString
	default:
		return strconv.FormatInt(p.Value, 10)
	}
}

// ParseSeedPolicy parses "random", "context" or an integer seed.
func ParseSeedPolicy(s string) (SeedPolicy, error) {
	switch strings.TrimSpace(s) {
	case SeedRandomString, "":
		return SeedPolicy{Kind: SeedRandom}, nil
	case SeedContextString:
		return SeedPolicy{Kind: SeedFromContext}, nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return SeedPolicy{}, errors.Errorf("invalid seed %q: want %s, %s or an integer", s,
			SeedRandomString, SeedContextString)
	}
	return SeedPolicy{Kind: SeedExplicit, Value: v}, nil
}

// SeedContext identifies a run for the "context" seed policy.
type SeedContext struct {
	Hostname  string
	StartTime time.Time
	RunId     int
}

// ContextSeed hashes hostname, start time and run id into a non-negative seed.
func ContextSeed(c SeedContext) int64 {
	key := fmt.Sprintf("%s-%d-%d", c.Hostname, c.StartTime.Unix(), c.RunId)
	sum := md5.Sum([]byte(key))
	v := binary.BigEndian.Uint64(sum[:8])
	return int64(v % uint64(math.MaxInt64))
}

// Resolve returns the root seed for a policy.
func Resolve(p SeedPolicy, c SeedContext) int64 {
	switch p.Kind {
	case SeedRandom:
		return rand.New(rand.NewSource(time.Now().UnixNano())).Int63()
	case SeedFromContext:
		return ContextSeed(c)
	default:
		return p.Value
	}
}

// Generators are the per-concern random streams of one run, all derived from the root seed, so that
// drawing from one concern never shifts the sequence of another.
type Generators struct {
	seed        int64
	topology    *rand.Rand
	propagation *rand.Rand
	ids         *rand.Rand
}

func New(rootSeed int64) *Generators {
	root := rand.New(rand.NewSource(rootSeed))
	return &Generators{
		seed:        rootSeed,
		topology:    rand.New(rand.NewSource(root.Int63())),
		propagation: rand.New(rand.NewSource(root.Int63())),
		ids:         rand.New(rand.NewSource(root.Int63())),
	}
}

// Seed returns the root seed.
func (g *Generators) Seed() int64 {
	return g.seed
}

// Topology is the stream used to generate link qualities and node positions.
func (g *Generators) Topology() *rand.Rand {
	return g.topology
}

// Propagation is the stream used for frame delivery draws.
func (g *Generators) Propagation() *rand.Rand {
	return g.propagation
}

// IdReader is a byte stream for generating identifiers, e.g. uuid.NewRandomFromReader.
func (g *Generators) IdReader() io.Reader {
	return g.ids
}
