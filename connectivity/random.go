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
	"math/rand"

	"github.com/pkg/errors"

	"github.com/openthread/tsch-sim/logger"
	. "github.com/openthread/tsch-sim/types"
)

const (
	speedOfLight     = 299792458.0 // m/s
	twoDotFourGhz    = 2400000000.0
	pisterHackShift  = 40.0 // dB
	minDistanceMeter = 1.0
)

// RandomConfig configures the random placement of nodes.
type RandomConfig struct {
	SquareSideKm  float64
	MinPdr        float64
	MinNeighbors  int
	TxPowerDbm    DbValue
	AntennaGainDb DbValue
	// MaxAttempts bounds the placement retries of one node.
	MaxAttempts int
}

func DefaultRandomConfig() RandomConfig {
	return RandomConfig{
		SquareSideKm:  2.0,
		MinPdr:        0.5,
		MinNeighbors:  3,
		TxPowerDbm:    0,
		AntennaGainDb: 0,
		MaxAttempts:   100000,
	}
}

type Coordinate struct {
	X, Y float64 // km
}

func (c Coordinate) distanceMeter(o Coordinate) float64 {
	return 1000 * math.Hypot(c.X-o.X, c.Y-o.Y)
}

// Random places nodes uniformly in a square so that each has enough good neighbors among the nodes placed
// before it. Link values are drawn once at placement and stay fixed.
type Random struct {
	*Matrix
	cfg         RandomConfig
	coordinates map[NodeId]Coordinate
}

// NewRandom places the nodes in the order of ids, drawing from r.
func NewRandom(ids []NodeId, channels []ChannelId, cfg RandomConfig, r *rand.Rand) (*Random, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRandomConfig().MaxAttempts
	}
	rc := &Random{
		Matrix:      NewMatrix(channels),
		cfg:         cfg,
		coordinates: map[NodeId]Coordinate{},
	}

	var placed []NodeId
	for _, id := range ids {
		required := cfg.MinNeighbors
		if len(placed) < required {
			required = len(placed)
		}

		ok := false
		for attempt := 0; attempt < cfg.MaxAttempts && !ok; attempt++ {
			pos := Coordinate{X: r.Float64() * cfg.SquareSideKm, Y: r.Float64() * cfg.SquareSideKm}
			rssis := make([]DbValue, len(placed))
			good := 0
			for i, other := range placed {
				rssis[i] = rc.pisterHackRssi(pos, rc.coordinates[other], r)
				if RssiToPdr(rssis[i]) >= cfg.MinPdr {
					good++
				}
			}
			if good < required {
				continue
			}

			ok = true
			rc.coordinates[id] = pos
			for i, other := range placed {
				pdr := RssiToPdr(rssis[i])
				rc.SetLink(id, other, pdr, rssis[i])
				rc.SetLink(other, id, pdr, rssis[i])
			}
		}
		if !ok {
			return nil, errors.Errorf("could not place node %d with %d neighbors of pdr >= %.2f in %d attempts",
				id, required, cfg.MinPdr, cfg.MaxAttempts)
		}
		placed = append(placed, id)
	}

	logger.Debugf("random topology of %d nodes placed in %.1f km square", len(ids), cfg.SquareSideKm)
	return rc, nil
}

// pisterHackRssi is the free space received power at 2.4 GHz, lowered by a uniform random offset in
// [0, pisterHackShift] dB.
func (rc *Random) pisterHackRssi(a, b Coordinate, r *rand.Rand) DbValue {
	d := a.distanceMeter(b)
	if d < minDistanceMeter {
		d = minDistanceMeter
	}
	fspl := speedOfLight / (4 * math.Pi * d * twoDotFourGhz)
	pr := rc.cfg.TxPowerDbm + 2*rc.cfg.AntennaGainDb + 20*math.Log10(fspl)
	return pr - r.Float64()*pisterHackShift
}

// Coordinates returns the position of a node.
func (rc *Random) Coordinates(id NodeId) (Coordinate, bool) {
	c, ok := rc.coordinates[id]
	return c, ok
}
