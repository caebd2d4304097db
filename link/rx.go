package link

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/wfbridge/wfbridge/aead"
	"github.com/wfbridge/wfbridge/fec"
	"github.com/wfbridge/wfbridge/frame"
	"github.com/wfbridge/wfbridge/rawio"
	"github.com/wfbridge/wfbridge/sessionkey"
	"github.com/wfbridge/wfbridge/stats"
)

// pollTimeoutMillis bounds how long a poll() call blocks between
// housekeeping passes (session-key announce checks, the per-second
// stats/tx-card tick, and noticing shutdown), independent of whether
// any card actually has data waiting.
const pollTimeoutMillis = 10

// maxReadsPerCardPerWakeup bounds how many frames rxLoop drains from a
// single readable card before moving on to the next, so one very busy
// (or pathologically flooded) card can't starve the others.
const maxReadsPerCardPerWakeup = 64

// disconnectAfterErrors is how many consecutive read failures on a card
// before it's reported disconnected.
const disconnectAfterErrors = 8

// rssiSwitchMarginDBm is the hysteresis margin a candidate card's
// average RSSI must beat the active card's by before auto-switch moves
// the active TX card, so two cards with near-identical signal don't
// flap back and forth every second.
const rssiSwitchMarginDBm = 6

// StartReceiving begins the engine's single RX goroutine: it polls
// every configured card's file descriptor, dispatches inbound frames,
// and drives the once-per-second stats/tx-card-reevaluation tick and
// the session-key announce schedule.
func (e *Engine) StartReceiving() error {
	e.rxLifecycle.Lock()
	defer e.rxLifecycle.Unlock()
	if e.cancel != nil {
		return ErrAlreadyReceiving
	}

	r, w, err := os.Pipe()
	if err != nil {
		return errors.Wrap(err, "link: create wake pipe")
	}
	e.wakeR, e.wakeW = r, w

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	eg, egCtx := errgroup.WithContext(ctx)
	e.eg = eg
	eg.Go(func() error {
		e.rxLoop(egCtx)
		return nil
	})
	return nil
}

// StopReceiving stops the RX goroutine group and waits for it to exit.
// Safe to call even if StartReceiving was never called.
func (e *Engine) StopReceiving() {
	e.rxLifecycle.Lock()
	if e.cancel == nil {
		e.rxLifecycle.Unlock()
		return
	}
	cancel := e.cancel
	wakeW := e.wakeW
	eg := e.eg
	e.rxLifecycle.Unlock()

	cancel()
	if wakeW != nil {
		_, _ = wakeW.Write([]byte{0})
	}
	_ = eg.Wait()

	e.rxLifecycle.Lock()
	e.wakeR.Close()
	e.wakeW.Close()
	e.wakeR, e.wakeW, e.cancel, e.eg = nil, nil, nil, nil
	e.rxLifecycle.Unlock()
}

func (e *Engine) rxLoop(ctx context.Context) {
	pollFds := make([]unix.PollFd, len(e.cards)+1)
	for i, c := range e.cards {
		pollFds[i] = unix.PollFd{Fd: int32(c.Fd()), Events: unix.POLLIN}
	}
	wakeIdx := len(e.cards)
	pollFds[wakeIdx] = unix.PollFd{Fd: int32(e.wakeR.Fd()), Events: unix.POLLIN}

	buf := make([]byte, frame.Dot11HeaderSize+8+fec.MaxWireFragment+64)
	lastTick := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		for i := range pollFds {
			pollFds[i].Revents = 0
		}
		n, err := unix.Poll(pollFds, pollTimeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			e.rl.warn("poll", nil, "poll failed: %v", err)
			continue
		}

		if n > 0 && pollFds[wakeIdx].Revents&unix.POLLIN != 0 {
			return
		}
		if n > 0 {
			for i, c := range e.cards {
				if pollFds[i].Revents&unix.POLLIN == 0 {
					continue
				}
				e.drainCard(i, c, buf)
			}
		}

		now := time.Now()
		e.checkAnnounce(now)
		if now.Sub(lastTick) >= time.Second {
			e.tick(now)
			lastTick = now
		}
	}
}

func (e *Engine) drainCard(idx int, c rawio.Card, buf []byte) {
	for i := 0; i < maxReadsPerCardPerWakeup; i++ {
		n, err := c.Read(buf)
		if err != nil {
			e.handleCardReadError(idx, err)
			return
		}
		if n == 0 {
			return
		}
		atomic.StoreInt32(&e.cardErrs[idx], 0)
		e.cardStats[idx].SetDisconnected(false)
		e.handleFrame(idx, buf[:n])
	}
}

func (e *Engine) handleCardReadError(idx int, err error) {
	n := atomic.AddInt32(&e.cardErrs[idx], 1)
	if n >= disconnectAfterErrors {
		e.cardStats[idx].SetDisconnected(true)
	}
	e.rl.debug("card-read", nil, "card %s read error: %v", e.cards[idx].Name(), err)
}

func (e *Engine) handleFrame(cardIdx int, raw []byte) {
	parsed, cls := frame.Parse(raw, e.cfg.Direction)
	e.rxMu.Lock()
	e.rxStats.Pollution.Observe(cls)
	e.rxMu.Unlock()
	if cls != frame.OK {
		return
	}

	e.cardStats[cardIdx].ObservePacket(parsed.RxMeta.RSSIdBm)

	hdr, ok := frame.DecodeHeader(parsed.Payload)
	if !ok || len(parsed.Payload) < frame.HeaderSize {
		return
	}
	hdrBytes := parsed.Payload[:frame.HeaderSize]
	body := parsed.Payload[frame.HeaderSize:]

	if hdr.IsSessionKeyFrame() {
		e.handleSessionKeyFrame(body)
		return
	}

	e.rxMu.Lock()
	env := e.rxEnv
	dec, decOK := e.rxFEC[hdr.StreamIndex()]
	h, streamOK := e.streams[hdr.StreamIndex()]
	e.rxMu.Unlock()
	if env == nil || !decOK || !streamOK {
		return
	}

	plain, err := env.Open(hdrBytes, hdr.Nonce, body, hdr.Encrypted())
	if err != nil {
		e.rl.debug("auth", nil, "authentication failed on stream %d: %v", hdr.StreamIndex(), err)
		return
	}

	e.rxMu.Lock()
	e.rxStats.Loss.Observe(hdr.Nonce)
	e.rxStats.Rate.Add(len(plain), len(raw))
	e.rxMu.Unlock()

	payloads, err := dec.Push(hdr.Nonce, plain, time.Now())
	if err != nil {
		e.rl.debug("fec", nil, "fec decode error on stream %d: %v", hdr.StreamIndex(), err)
		return
	}
	if len(payloads) == 0 {
		return
	}
	cardName := e.cards[cardIdx].Name()
	for _, p := range payloads {
		if h.onPacket != nil {
			h.onPacket(hdr.Nonce, cardName, p)
		}
	}
}

// handleSessionKeyFrame opens an announcement and, on an actual key
// change, resets every stream's FEC decoder and fires every stream's
// new-session callback.
func (e *Engine) handleSessionKeyFrame(body []byte) {
	pkt, err := sessionkey.Decode(body)
	if err != nil {
		e.rl.debug("session-decode", nil, "malformed session key frame: %v", err)
		return
	}
	key, isNew, err := e.recv.Open(pkt)
	if err != nil {
		e.rl.debug("session-open", nil, "session key open failed: %v", err)
		return
	}
	if !isNew {
		return
	}
	env, err := aead.New(sliceKey(key))
	if err != nil {
		e.rl.warn("session-open", nil, "building envelope for new session key failed: %v", err)
		return
	}

	e.rxMu.Lock()
	e.rxEnv = env
	e.rxStats.Loss.Reset()
	for idx := range e.rxFEC {
		e.rxFEC[idx] = fec.NewDecoder()
	}
	callbacks := make([]OnNewSession, 0, len(e.streams))
	for _, h := range e.streams {
		if h.onNewSession != nil {
			callbacks = append(callbacks, h.onNewSession)
		}
	}
	e.rxMu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// checkAnnounce mirrors checkAnnounceLocked for the RX loop's own
// housekeeping cadence, so the announcer's startup burst goes out even
// before any Inject call drives it. A passive (listen-only) engine
// announces nothing.
func (e *Engine) checkAnnounce(now time.Time) {
	if e.isPassive() {
		return
	}
	e.txMu.Lock()
	defer e.txMu.Unlock()
	e.checkAnnounceLocked(now)
}

func (e *Engine) tick(now time.Time) {
	e.txMu.Lock()
	e.txStats.Tick(time.Second)
	e.txMu.Unlock()

	e.rxMu.Lock()
	e.rxStats.Tick(time.Second)
	decs := make(map[byte]*fec.Decoder, len(e.rxFEC))
	for idx, dec := range e.rxFEC {
		decs[idx] = dec
	}
	handlers := make(map[byte]streamHandlers, len(e.streams))
	for idx, h := range e.streams {
		handlers[idx] = h
	}
	e.rxMu.Unlock()

	for idx, dec := range decs {
		payloads := dec.Tick(now)
		if len(payloads) == 0 {
			continue
		}
		h, ok := handlers[idx]
		if !ok || h.onPacket == nil {
			continue
		}
		// Forced (timeout/forward-progress) delivery happens off the
		// timer, not from a specific inbound frame, so there is no
		// meaningful nonce or source card to report for it.
		for _, p := range payloads {
			h.onPacket(0, "", p)
		}
	}

	e.reevaluateTxCard()
	for _, cs := range e.cardStats {
		cs.RSSI.Reset()
	}
}

// reevaluateTxCard implements enable_auto_switch_tx_card:
// stay on the active card unless it's disconnected, or another card's
// average RSSI beats it by more than the hysteresis margin.
func (e *Engine) reevaluateTxCard() {
	if !e.cfg.AutoSwitchTxCard || len(e.cards) == 0 {
		return
	}

	active := int(atomic.LoadInt32(&e.activeTx))
	if active >= 0 && active < len(e.cards) && !e.cardStats[active].IsDisconnected() {
		activeAvg := rssiAvgOrFloor(e.cardStats[active])
		best, bestAvg := active, activeAvg
		for i, cs := range e.cardStats {
			if i == active || cs.IsDisconnected() {
				continue
			}
			avg := rssiAvgOrFloor(cs)
			if avg > bestAvg+rssiSwitchMarginDBm {
				best, bestAvg = i, avg
			}
		}
		if best != active {
			e.switchActiveTxCard(active, best)
		}
		return
	}

	best, bestAvg := -1, -1.0
	for i, cs := range e.cardStats {
		if cs.IsDisconnected() {
			continue
		}
		avg := rssiAvgOrFloor(cs)
		if best == -1 || avg > bestAvg {
			best, bestAvg = i, avg
		}
	}
	if best == -1 {
		best = 0
	}
	if best != active {
		e.switchActiveTxCard(active, best)
	}
}

func (e *Engine) switchActiveTxCard(from, to int) {
	atomic.StoreInt32(&e.activeTx, int32(to))
	fromName, toName := "none", e.cards[to].Name()
	if from >= 0 && from < len(e.cards) {
		fromName = e.cards[from].Name()
	}
	e.log.WithFields(map[string]interface{}{"from": fromName, "to": toName}).Info("switched active tx card")
}

func rssiAvgOrFloor(cs *stats.CardStats) float64 {
	snap := cs.RSSI.Snapshot()
	if !snap.Valid {
		return -127
	}
	return snap.Avg
}
