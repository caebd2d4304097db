// Package stats implements the link-quality accounting: a sequence-gap
// loss estimator over the validated nonce stream, an any-vs-valid
// pollution counter driven by package frame's
// receive-side Classification, EWMA bitrate/PPS, and a per-card RSSI
// min/max/avg accumulator. Grounded on the counter/accumulator style of
// ystepanoff-nrfcomm's link-quality bookkeeping, generalized from a
// single point-to-point radio link to a multi-card diversity receiver.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfbridge/wfbridge/frame"
)

// ewmaAlpha weights the most recent one-second sample against the
// running average when recomputing bitrate/PPS.
const ewmaAlpha = 0.25

// LossEstimator infers loss from gaps in a strictly-increasing 64-bit
// nonce stream: it never sees the missing packets
// directly, only the size of the jump between consecutive nonces it did
// see.
type LossEstimator struct {
	mu        sync.Mutex
	haveLast  bool
	lastNonce uint64
	received  uint64
	expected  uint64
}

// Observe records one successfully authenticated packet's nonce.
func (l *LossEstimator) Observe(nonce uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.received++
	if !l.haveLast {
		l.haveLast = true
		l.lastNonce = nonce
		l.expected = 1
		return
	}
	if nonce > l.lastNonce {
		l.expected += nonce - l.lastNonce
		l.lastNonce = nonce
	}
	// nonce <= lastNonce: a duplicate or a late/out-of-order arrival
	// from another diversity card; neither implies additional loss.
}

// Lost returns the estimated number of nonces never observed.
func (l *LossEstimator) Lost() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.expected < l.received {
		return 0
	}
	return l.expected - l.received
}

// Reset clears accumulated state, used by reset_stats() and by session
// changes (a rekey restarts the nonce stream from zero).
func (l *LossEstimator) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.haveLast = false
	l.lastNonce = 0
	l.received = 0
	l.expected = 0
}

// PollutionCounter keeps the invariant count_p_any >= count_p_valid at
// all times: every sniffed frame increments the "any" counter, and
// frames package frame's Parse recognized as at least carrying this
// link's magic increment "valid" too, regardless of whether they were
// ultimately usable.
type PollutionCounter struct {
	pAny   uint64
	pValid uint64
}

// Observe accounts one sniffed frame given its Parse classification.
func (p *PollutionCounter) Observe(cls frame.Classification) {
	atomic.AddUint64(&p.pAny, 1)
	if cls != frame.NotOurs && cls != frame.Truncated {
		atomic.AddUint64(&p.pValid, 1)
	}
}

func (p *PollutionCounter) Any() uint64   { return atomic.LoadUint64(&p.pAny) }
func (p *PollutionCounter) Valid() uint64 { return atomic.LoadUint64(&p.pValid) }

// Reset zeroes both counters.
func (p *PollutionCounter) Reset() {
	atomic.StoreUint64(&p.pAny, 0)
	atomic.StoreUint64(&p.pValid, 0)
}

// RateCounter accumulates bytes/packets over a one-second window and
// exposes an EWMA-smoothed bitrate/PPS, recomputed once per Tick.
// Reports -1 for any rate that saw no traffic during the most recent
// window, since -1 reads more clearly on a dashboard than a stale rate.
type RateCounter struct {
	mu sync.Mutex

	windowRawBytes  uint64
	windowWireBytes uint64
	windowPackets   uint64

	haveSample     bool
	bitrateRawBps  float64
	bitrateWireBps float64
	pps            float64
}

// Add records one packet: rawLen is the application payload size, wireLen
// the full framed size including headers/envelope overhead.
func (r *RateCounter) Add(rawLen, wireLen int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windowRawBytes += uint64(rawLen)
	r.windowWireBytes += uint64(wireLen)
	r.windowPackets++
}

// Tick recomputes the EWMA rates from the last interval's accumulated
// counters and resets them for the next window. Call roughly once per
// second.
func (r *RateCounter) Tick(interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	secs := interval.Seconds()
	if secs <= 0 {
		secs = 1
	}

	if r.windowPackets == 0 {
		r.haveSample = false
		r.windowRawBytes, r.windowWireBytes, r.windowPackets = 0, 0, 0
		return
	}

	instRaw := float64(r.windowRawBytes) * 8 / secs
	instWire := float64(r.windowWireBytes) * 8 / secs
	instPPS := float64(r.windowPackets) / secs

	if !r.haveSample {
		r.bitrateRawBps, r.bitrateWireBps, r.pps = instRaw, instWire, instPPS
		r.haveSample = true
	} else {
		r.bitrateRawBps = ewma(r.bitrateRawBps, instRaw)
		r.bitrateWireBps = ewma(r.bitrateWireBps, instWire)
		r.pps = ewma(r.pps, instPPS)
	}

	r.windowRawBytes, r.windowWireBytes, r.windowPackets = 0, 0, 0
}

func ewma(prev, sample float64) float64 {
	return ewmaAlpha*sample + (1-ewmaAlpha)*prev
}

// BitrateRaw returns the smoothed application-payload bitrate in bits/s,
// or -1 if the last window carried no traffic.
func (r *RateCounter) BitrateRaw() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.haveSample {
		return -1
	}
	return r.bitrateRawBps
}

// BitrateWire returns the smoothed on-the-wire bitrate (including
// envelope/header overhead) in bits/s, or -1 if idle.
func (r *RateCounter) BitrateWire() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.haveSample {
		return -1
	}
	return r.bitrateWireBps
}

// PPS returns the smoothed packets-per-second rate, or -1 if idle.
func (r *RateCounter) PPS() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.haveSample {
		return -1
	}
	return r.pps
}

func (r *RateCounter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windowRawBytes, r.windowWireBytes, r.windowPackets = 0, 0, 0
	r.haveSample = false
	r.bitrateRawBps, r.bitrateWireBps, r.pps = 0, 0, 0
}

// RSSIAccumulator tracks min/max/avg RSSI over a window, reset once per
// second alongside RateCounter.Tick.
type RSSIAccumulator struct {
	mu   sync.Mutex
	min  int8
	max  int8
	sum  int64
	n    int64
	have bool
}

func (a *RSSIAccumulator) Observe(dBm int8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.have {
		a.min, a.max = dBm, dBm
		a.have = true
	} else {
		if dBm < a.min {
			a.min = dBm
		}
		if dBm > a.max {
			a.max = dBm
		}
	}
	a.sum += int64(dBm)
	a.n++
}

// Snapshot is a point-in-time read of one RSSIAccumulator.
type RSSISnapshot struct {
	Min, Max int8
	Avg      float64
	Valid    bool
}

func (a *RSSIAccumulator) Snapshot() RSSISnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.have {
		return RSSISnapshot{}
	}
	return RSSISnapshot{Min: a.min, Max: a.max, Avg: float64(a.sum) / float64(a.n), Valid: true}
}

// Reset clears the accumulator, starting a fresh window.
func (a *RSSIAccumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.min, a.max = 0, 0
	a.sum, a.n = 0, 0
	a.have = false
}

// CardStats is the per-card RX state: RSSI, packet count, and the
// disconnected flag set on repeated receive errors.
type CardStats struct {
	Name         string
	RSSI         RSSIAccumulator
	Packets      uint64
	Disconnected int32 // atomic bool
}

func (c *CardStats) ObservePacket(rssi int8) {
	atomic.AddUint64(&c.Packets, 1)
	c.RSSI.Observe(rssi)
}

func (c *CardStats) SetDisconnected(v bool) {
	i := int32(0)
	if v {
		i = 1
	}
	atomic.StoreInt32(&c.Disconnected, i)
}

func (c *CardStats) IsDisconnected() bool {
	return atomic.LoadInt32(&c.Disconnected) != 0
}

// LinkStats aggregates the RX-side accounting for the whole engine, one
// instance per direction.
type LinkStats struct {
	Loss      LossEstimator
	Pollution PollutionCounter
	Rate      RateCounter
}

// Tick drives the once-per-second recomputation the RX loop performs.
func (s *LinkStats) Tick(interval time.Duration) {
	s.Rate.Tick(interval)
}

// Reset implements reset_stats() for one direction's aggregate counters.
func (s *LinkStats) Reset() {
	s.Loss.Reset()
	s.Pollution.Reset()
	s.Rate.Reset()
}

// Snapshot is the plain-data view returned by the engine's
// get_tx_stats()/get_rx_stats() embedding API.
type Snapshot struct {
	Lost           uint64
	PollutionAny   uint64
	PollutionValid uint64
	BitrateRawBps  float64
	BitrateWireBps float64
	PPS            float64
}

func (s *LinkStats) Snapshot() Snapshot {
	return Snapshot{
		Lost:           s.Loss.Lost(),
		PollutionAny:   s.Pollution.Any(),
		PollutionValid: s.Pollution.Valid(),
		BitrateRawBps:  s.Rate.BitrateRaw(),
		BitrateWireBps: s.Rate.BitrateWire(),
		PPS:            s.Rate.PPS(),
	}
}
