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
	"bufio"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/openthread/tsch-sim/logger"
	. "github.com/openthread/tsch-sim/types"
)

const k7DateLayout = "2006-01-02 15:04:05"

// Clock supplies the current simulated time to trace replay.
type Clock interface {
	CurTime() Timestamp
}

// K7Header is the first line of a K7 trace file.
type K7Header struct {
	NodeCount int         `json:"node_count"`
	StartDate string      `json:"start_date"`
	StopDate  string      `json:"stop_date"`
	Channels  []ChannelId `json:"channels"`
	Location  string      `json:"location"`
}

type k7Sample struct {
	at   time.Time
	pdr  float64
	rssi DbValue
}

// K7 replays link qualities measured on a testbed. The value of a link at a simulated instant is the last
// sample not after start_date plus the simulated time.
type K7 struct {
	Header    K7Header
	start     time.Time
	clock     Clock
	samples   map[linkKey][]k7Sample
	lock      sync.RWMutex
	overrides map[linkKey]link
}

// LoadK7 reads a trace file; a ".gz" suffix means gzip compressed.
func LoadK7(path string, clock Clock) (*K7, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open trace %s", path)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "gunzip trace %s", path)
		}
		defer gz.Close()
		r = gz
	}

	k7, err := ReadK7(r, clock)
	if err != nil {
		return nil, errors.Wrapf(err, "trace %s", path)
	}
	return k7, nil
}

// ReadK7 reads a trace: a JSON header line, a CSV header line, then one CSV row per link sample.
func ReadK7(r io.Reader, clock Clock) (*K7, error) {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return nil, errors.Wrap(err, "read header")
	}

	k7 := &K7{
		clock:     clock,
		samples:   map[linkKey][]k7Sample{},
		overrides: map[linkKey]link{},
	}
	if err := json.Unmarshal([]byte(line), &k7.Header); err != nil {
		return nil, errors.Wrap(err, "parse header")
	}
	if k7.Header.NodeCount <= 0 {
		return nil, errors.Errorf("header: invalid node_count %d", k7.Header.NodeCount)
	}
	if k7.start, err = time.Parse(k7DateLayout, k7.Header.StartDate); err != nil {
		return nil, errors.Wrap(err, "header: start_date")
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = 7
	cr.TrimLeadingSpace = true
	columns, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read column names")
	}
	col := map[string]int{}
	for i, name := range columns {
		col[strings.TrimSpace(name)] = i
	}
	for _, name := range []string{"datetime", "src", "dst", "channels", "mean_rssi", "pdr", "tx_count"} {
		if _, ok := col[name]; !ok {
			return nil, errors.Errorf("missing column %s", name)
		}
	}

	rows := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", rows+1)
		}
		if err := k7.addRow(rec, col); err != nil {
			return nil, errors.Wrapf(err, "row %d", rows+1)
		}
		rows++
	}

	for k := range k7.samples {
		s := k7.samples[k]
		sort.SliceStable(s, func(i, j int) bool { return s[i].at.Before(s[j].at) })
	}
	logger.Debugf("trace loaded: %d nodes, %d samples, %d links", k7.Header.NodeCount, rows, len(k7.samples))
	return k7, nil
}

func (k7 *K7) addRow(rec []string, col map[string]int) error {
	at, err := time.Parse(k7DateLayout, rec[col["datetime"]])
	if err != nil {
		return err
	}
	src, err := strconv.Atoi(rec[col["src"]])
	if err != nil {
		return err
	}
	dst, err := strconv.Atoi(rec[col["dst"]])
	if err != nil {
		return err
	}
	channels, err := parseChannels(rec[col["channels"]])
	if err != nil {
		return err
	}
	rssi, err := strconv.ParseFloat(rec[col["mean_rssi"]], 64)
	if err != nil {
		return err
	}
	pdr, err := strconv.ParseFloat(rec[col["pdr"]], 64)
	if err != nil {
		return err
	}
	if pdr < 0 || pdr > 1 {
		return errors.Errorf("pdr %f out of range", pdr)
	}
	if src >= k7.Header.NodeCount || dst >= k7.Header.NodeCount || src < 0 || dst < 0 {
		return errors.Errorf("link %d->%d outside node_count %d", src, dst, k7.Header.NodeCount)
	}

	for _, ch := range channels {
		k := linkKey{src, dst, ch}
		k7.samples[k] = append(k7.samples[k], k7Sample{at: at, pdr: pdr, rssi: rssi})
	}
	return nil
}

// parseChannels parses "[11;12;13]" or "11".
func parseChannels(s string) ([]ChannelId, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	var channels []ChannelId
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ch, err := strconv.Atoi(part)
		if err != nil {
			return nil, errors.Wrapf(err, "channel %q", part)
		}
		channels = append(channels, ch)
	}
	if len(channels) == 0 {
		return nil, errors.Errorf("no channels in %q", s)
	}
	return channels, nil
}

// Now returns the trace date corresponding to the current simulated time.
func (k7 *K7) Now() time.Time {
	var elapsed Timestamp
	if k7.clock != nil {
		elapsed = k7.clock.CurTime()
	}
	return k7.start.Add(time.Duration(elapsed) * time.Microsecond)
}

func (k7 *K7) sample(src, dst NodeId, ch ChannelId) (k7Sample, bool) {
	samples := k7.samples[linkKey{src, dst, ch}]
	if len(samples) == 0 {
		return k7Sample{}, false
	}
	now := k7.Now()
	i := sort.Search(len(samples), func(i int) bool { return samples[i].at.After(now) })
	if i == 0 {
		// the simulation is before the first sample of this link
		return samples[0], true
	}
	return samples[i-1], true
}

func (k7 *K7) overridden(src, dst NodeId, ch ChannelId) (link, bool) {
	k7.lock.RLock()
	defer k7.lock.RUnlock()
	l, ok := k7.overrides[linkKey{src, dst, ch}]
	return l, ok
}

func (k7 *K7) GetPdr(src, dst NodeId, ch ChannelId) float64 {
	if l, ok := k7.overridden(src, dst, ch); ok {
		return l.pdr
	}
	s, ok := k7.sample(src, dst, ch)
	if !ok {
		return 0.0
	}
	return s.pdr
}

func (k7 *K7) GetRssi(src, dst NodeId, ch ChannelId) DbValue {
	if l, ok := k7.overridden(src, dst, ch); ok {
		return l.rssi
	}
	s, ok := k7.sample(src, dst, ch)
	if !ok {
		return NoRssi
	}
	return s.rssi
}

// override pins a link to its current values, then applies set to it.
func (k7 *K7) override(src, dst NodeId, ch ChannelId, set func(l *link)) {
	l, ok := k7.overridden(src, dst, ch)
	if !ok {
		l = link{pdr: k7.GetPdr(src, dst, ch), rssi: k7.GetRssi(src, dst, ch)}
	}
	set(&l)

	k7.lock.Lock()
	defer k7.lock.Unlock()
	k7.overrides[linkKey{src, dst, ch}] = l
}

func (k7 *K7) SetPdr(src, dst NodeId, ch ChannelId, pdr float64) {
	logger.AssertTrue(pdr >= 0 && pdr <= 1, "pdr %f out of range", pdr)
	k7.override(src, dst, ch, func(l *link) { l.pdr = pdr })
}

func (k7 *K7) SetRssi(src, dst NodeId, ch ChannelId, rssi DbValue) {
	k7.override(src, dst, ch, func(l *link) { l.rssi = rssi })
}

func (k7 *K7) SetPdrBothDirections(a, b NodeId, ch ChannelId, pdr float64) {
	k7.SetPdr(a, b, ch, pdr)
	k7.SetPdr(b, a, ch, pdr)
}

func (k7 *K7) SetRssiBothDirections(a, b NodeId, ch ChannelId, rssi DbValue) {
	k7.SetRssi(a, b, ch, rssi)
	k7.SetRssi(b, a, ch, rssi)
}

var _ Oracle = (*K7)(nil)
