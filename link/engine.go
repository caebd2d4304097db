// Package link implements the TX/RX engine: the component that owns the
// session-key protocol, the per-stream FEC
// pipelines, and the multi-card diversity receiver, and exposes the
// small embedding API (inject/register_stream/start_receiving/...) an
// application links against. Grounded on the goroutine-per-role,
// mutex-guarded-session-state shape of proxy/reflex/session.go in the
// teacher repo, generalized from one TCP connection's single-threaded
// handshake to a broadcast link's independent, concurrently-running
// TX and RX paths.
package link

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/wfbridge/wfbridge/aead"
	"github.com/wfbridge/wfbridge/fec"
	"github.com/wfbridge/wfbridge/frame"
	"github.com/wfbridge/wfbridge/rawio"
	"github.com/wfbridge/wfbridge/sessionkey"
	"github.com/wfbridge/wfbridge/stats"
)

// MaxInjectPayload is the largest single payload Inject will accept:
// whatever fits in one FEC fragment's shard, minus the embedded length
// prefix.
const MaxInjectPayload = fec.MaxFragmentPayload

// streamIndexPartitionShift reserves the top 7 bits of a 56-bit
// block_idx for the stream that owns it, giving every one of the 128
// possible streams a disjoint ~5.6e14-block nonce range under the
// session's single AEAD key (see fec.Config.BlockIdxBase/BlockIdxLimit).
const streamIndexPartitionShift = 49

func blockIdxRangeFor(streamIndex byte) (base, limit uint64) {
	base = uint64(streamIndex) << streamIndexPartitionShift
	limit = uint64(streamIndex+1) << streamIndexPartitionShift
	return
}

// OnPacket is invoked on the RX goroutine for every payload a stream's
// FEC pipeline delivers; it must not block.
type OnPacket func(nonce uint64, cardName string, payload []byte)

// OnNewSession is invoked once per installed session key, after the FEC
// decoders for every stream have been reset.
type OnNewSession func()

type streamHandlers struct {
	onPacket     OnPacket
	onNewSession OnNewSession
}

// Config parameterizes a new Engine. Direction picks this endpoint's
// role (air or ground) for the 802.11 direction bit; outbound
// session-key announcements are sealed with OwnSecret and PeerPublic
// whatever the Direction.
type Config struct {
	Direction  frame.Direction
	Cards      []rawio.Card
	TxParams   frame.TxParams
	OwnSecret  [32]byte
	PeerPublic [32]byte

	SessionKeyInterval time.Duration

	FECMode          fec.Mode
	FECFixedK        int
	FECKMax          int
	FECParityPercent int

	AutoSwitchTxCard bool

	Logger *logrus.Logger
}

// txCounters are the TX-side "non-fatal, just count it" conditions: a
// raw write failing (dropped, but not treated as fatal) and injections
// that took long enough to threaten real-time delivery.
type txCounters struct {
	errors         uint64
	injectionSlow  uint64
}

// Engine is the full TX/RX link for one endpoint. Construct one with
// New, drive its RX side with StartReceiving/StopReceiving, and call
// Inject to transmit.
type Engine struct {
	cfg Config
	id  uuid.UUID
	log *logrus.Entry
	rl  *rateLog

	framer *frame.Framer

	ann  *sessionkey.Announcer
	recv *sessionkey.Receiver

	txMu         sync.Mutex
	txEnv        *aead.Envelope
	txFEC        map[byte]*fec.Encoder
	lastInjectAt int64 // unix nanos, atomic
	txCounters   txCounters
	txStats      stats.LinkStats

	rxMu    sync.Mutex
	rxEnv   *aead.Envelope
	rxFEC   map[byte]*fec.Decoder
	streams map[byte]streamHandlers
	rxStats stats.LinkStats

	cards     []rawio.Card
	cardStats []*stats.CardStats
	cardErrs  []int32 // consecutive read-error count, atomic
	activeTx  int32   // index into cards, atomic

	passive int32 // atomic bool

	rxLifecycle sync.Mutex // guards wakeR/wakeW/cancel/eg against concurrent StartReceiving/StopReceiving
	wakeR       *os.File
	wakeW       *os.File
	cancel      context.CancelFunc
	eg          *errgroup.Group
}

// New constructs an Engine over cfg.Cards, validates nothing about the
// underlying interfaces (that's rawio.ValidateInterface's job, expected
// to run before the Card handles in cfg.Cards were even opened), and
// generates this session's initial key via the embedded Announcer.
func New(cfg Config) (*Engine, error) {
	if len(cfg.Cards) == 0 {
		return nil, errors.New("link: at least one card is required")
	}
	if cfg.FECKMax <= 0 {
		cfg.FECKMax = fec.KMaxDefault
	}

	id := uuid.New()
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithField("engine", id.String())

	ann, err := sessionkey.NewAnnouncer(cfg.OwnSecret, cfg.PeerPublic, cfg.SessionKeyInterval, byte(cfg.FECKMax), true)
	if err != nil {
		return nil, err
	}
	txEnv, err := aead.New(sliceKey(ann.SessionKey()))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		id:        id,
		log:       log,
		rl:        newRateLog(log, time.Second),
		framer:    frame.New(cfg.Direction, cfg.TxParams),
		ann:       ann,
		recv:      sessionkey.NewReceiver(cfg.OwnSecret, cfg.PeerPublic),
		txEnv:     txEnv,
		txFEC:     make(map[byte]*fec.Encoder),
		rxFEC:     make(map[byte]*fec.Decoder),
		streams:   make(map[byte]streamHandlers),
		cards:     cfg.Cards,
		cardStats: make([]*stats.CardStats, len(cfg.Cards)),
		cardErrs:  make([]int32, len(cfg.Cards)),
	}
	for i, c := range cfg.Cards {
		e.cardStats[i] = &stats.CardStats{Name: c.Name()}
	}
	return e, nil
}

// RegisterStream binds callbacks to a logical stream (stream_index in
// [0,126]; 127 is reserved for session-key frames) and provisions that
// stream's independent FEC encoder/decoder pair. Must be called before
// Inject or StartReceiving use that stream.
func (e *Engine) RegisterStream(streamIndex byte, onPacket OnPacket, onNewSession OnNewSession) error {
	if streamIndex >= frame.SessionKeyStreamIndex {
		return errors.Errorf("link: stream index %d is reserved", streamIndex)
	}
	base, limit := blockIdxRangeFor(streamIndex)
	encCfg := fec.Config{
		Mode:          e.cfg.FECMode,
		FixedK:        e.cfg.FECFixedK,
		KMax:          e.cfg.FECKMax,
		ParityPercent: e.cfg.FECParityPercent,
		BlockIdxBase:  base,
		BlockIdxLimit: limit,
	}

	e.txMu.Lock()
	e.txFEC[streamIndex] = fec.NewEncoder(encCfg)
	e.txMu.Unlock()

	e.rxMu.Lock()
	e.rxFEC[streamIndex] = fec.NewDecoder()
	e.streams[streamIndex] = streamHandlers{onPacket: onPacket, onNewSession: onNewSession}
	e.rxMu.Unlock()
	return nil
}

// UpdateRadiotap replaces the transmit-side radiotap template used for
// every subsequently built frame.
func (e *Engine) UpdateRadiotap(p frame.TxParams) {
	e.txMu.Lock()
	defer e.txMu.Unlock()
	e.framer.UpdateRadiotap(p)
}

// SetPassive toggles listen-only mode: Inject fails with ErrPassive
// while passive is true, but RX keeps running unaffected.
func (e *Engine) SetPassive(passive bool) {
	v := int32(0)
	if passive {
		v = 1
	}
	atomic.StoreInt32(&e.passive, v)
}

func (e *Engine) isPassive() bool { return atomic.LoadInt32(&e.passive) != 0 }

// GetActiveTxCard returns the name of the card Inject currently writes
// to.
func (e *Engine) GetActiveTxCard() string {
	idx := int(atomic.LoadInt32(&e.activeTx))
	if idx < 0 || idx >= len(e.cards) {
		return ""
	}
	return e.cards[idx].Name()
}

// GetCardDisconnected reports the disconnected flag for the named card,
// or false if the name doesn't match any configured card.
func (e *Engine) GetCardDisconnected(name string) bool {
	for _, cs := range e.cardStats {
		if cs.Name == name {
			return cs.IsDisconnected()
		}
	}
	return false
}

// GetTxStats returns a point-in-time snapshot of transmit-side link
// quality accounting.
func (e *Engine) GetTxStats() stats.Snapshot {
	e.txMu.Lock()
	defer e.txMu.Unlock()
	return e.txStats.Snapshot()
}

// GetRxStats returns a point-in-time snapshot of the aggregate,
// all-cards receive-side link quality accounting.
func (e *Engine) GetRxStats() stats.Snapshot {
	e.rxMu.Lock()
	defer e.rxMu.Unlock()
	return e.rxStats.Snapshot()
}

// CardStatsSnapshot is the per-card view returned by
// GetRxStatsForCard.
type CardStatsSnapshot struct {
	Name         string
	Packets      uint64
	RSSI         stats.RSSISnapshot
	Disconnected bool
}

// GetRxStatsForCard returns per-card RSSI/packet-count accounting.
func (e *Engine) GetRxStatsForCard(name string) (CardStatsSnapshot, bool) {
	for _, cs := range e.cardStats {
		if cs.Name != name {
			continue
		}
		return CardStatsSnapshot{
			Name:         cs.Name,
			Packets:      atomic.LoadUint64(&cs.Packets),
			RSSI:         cs.RSSI.Snapshot(),
			Disconnected: cs.IsDisconnected(),
		}, true
	}
	return CardStatsSnapshot{}, false
}

// ResetStats clears all TX/RX/per-card accounting without disturbing
// session state (keys, FEC block indices, stream registrations).
func (e *Engine) ResetStats() {
	e.txMu.Lock()
	e.txStats.Reset()
	atomic.StoreUint64(&e.txCounters.errors, 0)
	atomic.StoreUint64(&e.txCounters.injectionSlow, 0)
	e.txMu.Unlock()

	e.rxMu.Lock()
	e.rxStats.Reset()
	e.rxMu.Unlock()

	for _, cs := range e.cardStats {
		atomic.StoreUint64(&cs.Packets, 0)
		cs.RSSI.Reset()
	}
}

func sliceKey(k [aead.KeySize]byte) []byte {
	out := make([]byte, len(k))
	copy(out, k[:])
	return out
}
