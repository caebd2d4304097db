package link

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"

	"github.com/wfbridge/wfbridge/fec"
	"github.com/wfbridge/wfbridge/frame"
	"github.com/wfbridge/wfbridge/rawio"
	"github.com/wfbridge/wfbridge/rawio/testcard"
)

func genKeypair(t *testing.T, seed byte) (secret, public [32]byte) {
	t.Helper()
	for i := range secret {
		secret[i] = seed
	}
	pub, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		t.Fatal(err)
	}
	copy(public[:], pub)
	return
}

func testTxParams() frame.TxParams {
	return frame.TxParams{MCS: 2, ChannelWidth: frame.ChannelWidth20MHz, STBC: 0}
}

// linkedCards returns two rawio.Card handles wired directly to each
// other: whatever a writes, b reads, and vice versa, simulating two
// radios sharing the air with no loss.
func linkedCards(t *testing.T, nameA, nameB string) (a, b rawio.Card, cleanup func()) {
	t.Helper()
	aToB := mustPipe(t)
	bToA := mustPipe(t)

	ca := &pipePairCard{name: nameA, r: aToB.r, w: bToA.w}
	cb := &pipePairCard{name: nameB, r: bToA.r, w: aToB.w}
	return ca, cb, func() {
		aToB.r.Close()
		aToB.w.Close()
		bToA.r.Close()
		bToA.w.Close()
	}
}

type pipeEnds struct{ r, w *os.File }

func mustPipe(t *testing.T) pipeEnds {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	return pipeEnds{r: r, w: w}
}

type pipePairCard struct {
	name string
	r, w *os.File
}

func (c *pipePairCard) Fd() int                      { return int(c.r.Fd()) }
func (c *pipePairCard) Read(buf []byte) (int, error)  { return c.r.Read(buf) }
func (c *pipePairCard) Write(buf []byte) (int, error) { return c.w.Write(buf) }
func (c *pipePairCard) Name() string                  { return c.name }

// lossyCard drops writes whose zero-based sequence number (across the
// life of the card) is present in drop.
type lossyCard struct {
	rawio.Card
	mu    sync.Mutex
	n     int
	drop  map[int]bool
	tamper map[int]bool
}

func (c *lossyCard) Write(buf []byte) (int, error) {
	c.mu.Lock()
	n := c.n
	c.n++
	c.mu.Unlock()

	if c.drop[n] {
		return len(buf), nil
	}
	if c.tamper[n] {
		tampered := append([]byte(nil), buf...)
		tampered[len(tampered)-1] ^= 0xFF
		return c.Card.Write(tampered)
	}
	return c.Card.Write(buf)
}

func newEnginePair(t *testing.T, wrapA, wrapB func(rawio.Card) rawio.Card, fixedK, parityPercent int) (*Engine, *Engine, func()) {
	t.Helper()
	secretA, pubA := genKeypair(t, 1)
	secretB, pubB := genKeypair(t, 2)

	cardA, cardB, cleanup := linkedCards(t, "cardA", "cardB")
	if wrapA != nil {
		cardA = wrapA(cardA)
	}
	if wrapB != nil {
		cardB = wrapB(cardB)
	}

	cfgA := Config{
		Direction:          frame.DirectionAir,
		Cards:              []rawio.Card{cardA},
		TxParams:           testTxParams(),
		OwnSecret:          secretA,
		PeerPublic:         pubB,
		SessionKeyInterval: 50 * time.Millisecond,
		FECMode:            fec.ModeFixedK,
		FECFixedK:          fixedK,
		FECKMax:            fec.KMaxDefault,
		FECParityPercent:   parityPercent,
	}
	cfgB := cfgA
	cfgB.Direction = frame.DirectionGround
	cfgB.Cards = []rawio.Card{cardB}
	cfgB.OwnSecret = secretB
	cfgB.PeerPublic = pubA

	engA, err := New(cfgA)
	if err != nil {
		t.Fatal(err)
	}
	engB, err := New(cfgB)
	if err != nil {
		t.Fatal(err)
	}
	return engA, engB, cleanup
}

func TestInjectDeliversAcrossPeersEncrypted(t *testing.T) {
	engA, engB, cleanup := newEnginePair(t, nil, nil, 1, 50)
	defer cleanup()

	received := make(chan []byte, 1)
	require.NoError(t, engA.RegisterStream(7, nil, nil))
	require.NoError(t, engB.RegisterStream(7, func(nonce uint64, card string, payload []byte) {
		received <- append([]byte(nil), payload...)
	}, nil))

	require.NoError(t, engA.StartReceiving())
	defer engA.StopReceiving()
	require.NoError(t, engB.StartReceiving())
	defer engB.StopReceiving()

	// Let the startup announce burst install the session key at B.
	time.Sleep(100 * time.Millisecond)

	want := []byte{0x01, 0x02, 0x03}
	require.NoError(t, engA.Inject(7, want, true))

	select {
	case got := <-received:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestFECRecoversFromDroppedFragments(t *testing.T) {
	// k=4, parity 50% -> r=2: dropping any 2 of the 6 fragments must
	// still let the block reconstruct.
	drops := map[int]bool{1: true, 3: true}
	wrapA := func(c rawio.Card) rawio.Card { return &lossyCard{Card: c, drop: drops} }

	engA, engB, cleanup := newEnginePair(t, wrapA, nil, 4, 50)
	defer cleanup()

	received := make(chan []byte, 8)
	engA.RegisterStream(3, nil, nil)
	engB.RegisterStream(3, func(nonce uint64, card string, payload []byte) {
		received <- append([]byte(nil), payload...)
	}, nil)

	if err := engA.StartReceiving(); err != nil {
		t.Fatal(err)
	}
	defer engA.StopReceiving()
	if err := engB.StartReceiving(); err != nil {
		t.Fatal(err)
	}
	defer engB.StopReceiving()

	time.Sleep(100 * time.Millisecond)

	// Reset the write counter so the drop set below lands on the data
	// block's own fragments, not on one of the startup burst's
	// session-key announcement frames sent before any Inject call.
	if lc, ok := interface{}(engA.cards[0]).(*lossyCard); ok {
		lc.mu.Lock()
		lc.n = 0
		lc.mu.Unlock()
	}

	payloads := [][]byte{{1}, {2}, {3}, {4}}
	for _, p := range payloads {
		if err := engA.Inject(3, p, false); err != nil {
			t.Fatal(err)
		}
	}

	got := make([][]byte, 0, len(payloads))
	timeout := time.After(2 * time.Second)
	for len(got) < len(payloads) {
		select {
		case p := <-received:
			got = append(got, p)
		case <-timeout:
			t.Fatalf("only recovered %d of %d payloads after dropping 2 fragments", len(got), len(payloads))
		}
	}
	for i, p := range payloads {
		if string(got[i]) != string(p) {
			t.Fatalf("payload %d mismatch: got %v want %v (order must survive reconstruction)", i, got[i], p)
		}
	}
}

func TestTamperedFragmentIsDroppedNotDelivered(t *testing.T) {
	// With k=1 the block is two fragments, the primary and a parity copy
	// identical to it; both are tampered so neither can deliver the data.
	tampered := map[int]bool{0: true, 1: true}
	// The startup burst's session-key frames aren't counted here; only
	// data fragments after registration are tampered, since flipping a
	// bit in the key announcement would just mean the peer never gets a
	// session key at all rather than exercising AEAD auth failure.
	wrapA := func(c rawio.Card) rawio.Card { return &lossyCard{Card: c, tamper: tampered} }

	engA, engB, cleanup := newEnginePair(t, wrapA, nil, 1, 50)
	defer cleanup()

	received := make(chan []byte, 1)
	engA.RegisterStream(9, nil, nil)
	engB.RegisterStream(9, func(nonce uint64, card string, payload []byte) {
		received <- payload
	}, nil)

	if err := engA.StartReceiving(); err != nil {
		t.Fatal(err)
	}
	defer engA.StopReceiving()
	if err := engB.StartReceiving(); err != nil {
		t.Fatal(err)
	}
	defer engB.StopReceiving()

	time.Sleep(150 * time.Millisecond)

	// Reset the counter so index 0 lands on the data packet below,
	// not on one of the startup-burst session-key frames.
	if lc, ok := interface{}(engA.cards[0]).(*lossyCard); ok {
		lc.mu.Lock()
		lc.n = 0
		lc.mu.Unlock()
	}

	if err := engA.Inject(9, []byte("tamper me"), true); err != nil {
		t.Fatal(err)
	}

	select {
	case <-received:
		t.Fatal("tampered fragment must not be delivered")
	case <-time.After(300 * time.Millisecond):
	}

	snap := engB.GetRxStats()
	if snap.PollutionAny == 0 {
		t.Fatalf("expected pollution accounting to see the tampered frame")
	}
}

func TestMultiCardDiversityDeliversOnce(t *testing.T) {
	secretA, pubA := genKeypair(t, 5)
	secretB, pubB := genKeypair(t, 6)

	tx, err := newTxOnlyCard("cardA")
	if err != nil {
		t.Fatal(err)
	}
	defer tx.close()

	rx1, err := testcard.New("cardB1")
	if err != nil {
		t.Fatal(err)
	}
	defer rx1.Close()
	rx2, err := testcard.New("cardB2")
	if err != nil {
		t.Fatal(err)
	}
	defer rx2.Close()

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case frame := <-tx.out:
				rx1.Inject(frame)
				rx2.Inject(frame)
			case <-stop:
				return
			}
		}
	}()
	defer close(stop)

	engA, err := New(Config{
		Direction:          frame.DirectionAir,
		Cards:              []rawio.Card{tx},
		TxParams:           testTxParams(),
		OwnSecret:          secretA,
		PeerPublic:         pubB,
		SessionKeyInterval: 50 * time.Millisecond,
		FECMode:            fec.ModeFixedK,
		FECFixedK:          1,
		FECKMax:            fec.KMaxDefault,
		FECParityPercent:   50,
	})
	if err != nil {
		t.Fatal(err)
	}
	engB, err := New(Config{
		Direction:          frame.DirectionGround,
		Cards:              []rawio.Card{rx1, rx2},
		TxParams:           testTxParams(),
		OwnSecret:          secretB,
		PeerPublic:         pubA,
		SessionKeyInterval: 50 * time.Millisecond,
		FECMode:            fec.ModeFixedK,
		FECFixedK:          1,
		FECKMax:            fec.KMaxDefault,
		FECParityPercent:   50,
		AutoSwitchTxCard:   true,
	})
	if err != nil {
		t.Fatal(err)
	}

	received := make(chan struct{}, 8)
	engA.RegisterStream(1, nil, nil)
	engB.RegisterStream(1, func(nonce uint64, card string, payload []byte) {
		received <- struct{}{}
	}, nil)

	if err := engA.StartReceiving(); err != nil {
		t.Fatal(err)
	}
	defer engA.StopReceiving()
	if err := engB.StartReceiving(); err != nil {
		t.Fatal(err)
	}
	defer engB.StopReceiving()

	time.Sleep(100 * time.Millisecond)

	if err := engA.Inject(1, []byte("seen twice, delivered once"), true); err != nil {
		t.Fatal(err)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	select {
	case <-received:
		t.Fatal("duplicate delivery from the second diversity card")
	case <-time.After(300 * time.Millisecond):
	}

	if _, ok := engB.GetRxStatsForCard("cardB1"); !ok {
		t.Fatalf("expected per-card stats for cardB1")
	}
	if _, ok := engB.GetRxStatsForCard("cardB2"); !ok {
		t.Fatalf("expected per-card stats for cardB2")
	}
}

func TestPassiveEngineRejectsInject(t *testing.T) {
	engA, engB, cleanup := newEnginePair(t, nil, nil, 1, 50)
	defer cleanup()
	defer engB.StopReceiving()

	engA.RegisterStream(0, nil, nil)
	engA.SetPassive(true)
	if err := engA.Inject(0, []byte("x"), true); err != ErrPassive {
		t.Fatalf("expected ErrPassive, got %v", err)
	}
}

// txOnlyCard captures every write instead of delivering it anywhere;
// used to fan the same over-the-air frame out to multiple receive-side
// cards for the diversity test above.
type txOnlyCard struct {
	name string
	inR  *os.File
	inW  *os.File
	out  chan []byte
}

func newTxOnlyCard(name string) (*txOnlyCard, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &txOnlyCard{name: name, inR: r, inW: w, out: make(chan []byte, 16)}, nil
}

func (c *txOnlyCard) Fd() int                     { return int(c.inR.Fd()) }
func (c *txOnlyCard) Read(buf []byte) (int, error) { return c.inR.Read(buf) }
func (c *txOnlyCard) Write(buf []byte) (int, error) {
	cp := append([]byte(nil), buf...)
	select {
	case c.out <- cp:
	default:
	}
	return len(buf), nil
}
func (c *txOnlyCard) Name() string { return c.name }
func (c *txOnlyCard) close()       { c.inR.Close(); c.inW.Close() }
