// Command wfbridge is the CLI entry point that wires config, keyfile,
// rawio and link together into a running broadcast link, bridging one
// UDP ingress/egress pair onto a single link stream. The UDP shim and
// flag parsing are external collaborators kept outside the core
// packages; everything else here is direct construction of a
// link.Engine from a config.Params file.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wfbridge/wfbridge/config"
	"github.com/wfbridge/wfbridge/fec"
	"github.com/wfbridge/wfbridge/frame"
	"github.com/wfbridge/wfbridge/keyfile"
	"github.com/wfbridge/wfbridge/link"
	"github.com/wfbridge/wfbridge/rawio"
)

// bridgeStream is the fixed stream_index this CLI bridges UDP traffic
// onto. A future version could expose several UDP<->stream mappings;
// one is enough to exercise the whole engine end to end.
const bridgeStream = 0

func main() {
	var (
		configPath  = flag.String("config", "", "path to a wfbridge TOML config file")
		udpListen   = flag.String("udp-listen", "", "UDP address to receive ingress packets on and Inject onto the link")
		udpForward  = flag.String("udp-forward", "", "UDP address to forward received link packets to")
		mcs         = flag.Uint("mcs", 2, "radiotap MCS index")
		channel40   = flag.Bool("channel-40mhz", false, "use 40MHz channel width instead of 20MHz")
		shortGI     = flag.Bool("short-gi", false, "use short guard interval")
		stbc        = flag.Uint("stbc", 0, "STBC stream count (0-3)")
		ldpc        = flag.Bool("ldpc", false, "enable LDPC coding")
		logLevel    = flag.String("log-level", "info", "logrus level (trace, debug, info, warn, error)")
		statsPeriod = flag.Duration("stats-period", 2*time.Second, "how often to log link stats")
	)
	flag.Parse()

	log := logrus.StandardLogger()
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(lvl)
	}

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: wfbridge -config <file.toml> [flags]")
		os.Exit(2)
	}

	params, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	loaded, err := keyfile.Load(params.EncryptionKeyPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load keyfile")
	}

	cards, closeCards, err := openCards(params.Cards)
	if err != nil {
		log.WithError(err).Fatal("failed to open cards")
	}
	defer closeCards()

	direction := frame.DirectionAir
	if params.UseGndIdentifier {
		direction = frame.DirectionGround
	}

	fecMode := selectFECMode(params.FECMode)

	engine, err := link.New(link.Config{
		Direction: direction,
		Cards:     cards,
		TxParams: frame.TxParams{
			MCS:          uint8(*mcs),
			ChannelWidth: channelWidth(*channel40),
			ShortGI:      *shortGI,
			STBC:         uint8(*stbc),
			LDPC:         *ldpc,
		},
		OwnSecret:          loaded.Own.Secret,
		PeerPublic:         loaded.PeerPublic,
		SessionKeyInterval: params.SessionKeyPacketInterval(),
		FECMode:            fecMode,
		FECFixedK:          params.FECFixedK,
		FECKMax:            params.FECKMax,
		FECParityPercent:   params.FECParityPercent,
		AutoSwitchTxCard:   params.EnableAutoSwitchTxCard,
		Logger:             log,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to construct link engine")
	}

	var fwdConn *net.UDPConn
	if *udpForward != "" {
		addr, err := net.ResolveUDPAddr("udp", *udpForward)
		if err != nil {
			log.WithError(err).Fatal("bad -udp-forward address")
		}
		fwdConn, err = net.DialUDP("udp", nil, addr)
		if err != nil {
			log.WithError(err).Fatal("failed to open udp-forward socket")
		}
		defer fwdConn.Close()
	}

	if err := engine.RegisterStream(bridgeStream,
		func(nonce uint64, cardName string, payload []byte) {
			if params.LogAllReceived {
				log.WithFields(logrus.Fields{"nonce": nonce, "card": cardName, "len": len(payload)}).Debug("received")
			}
			if fwdConn != nil {
				if _, err := fwdConn.Write(payload); err != nil {
					log.WithError(err).Warn("udp-forward write failed")
				}
			}
		},
		func() {
			log.Info("new session key installed")
		}); err != nil {
		log.WithError(err).Fatal("failed to register stream")
	}

	if err := engine.StartReceiving(); err != nil {
		log.WithError(err).Fatal("failed to start receiving")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		cancel()
	}()

	if *udpListen != "" {
		go runIngress(ctx, log, engine, *udpListen)
	}

	go logStatsPeriodically(ctx, log, engine, *statsPeriod, params.AdvancedDebuggingLogStats)

	<-ctx.Done()
	engine.StopReceiving()
}

func selectFECMode(m config.FECMode) fec.Mode {
	// config.FECMode and fec.Mode are deliberately distinct enums (the
	// former is a TOML-facing string, the latter a small int); translate
	// once at the boundary.
	if m == config.FECModeFixed {
		return fec.ModeFixedK
	}
	return fec.ModeVariableK
}

func channelWidth(is40 bool) frame.ChannelWidth {
	if is40 {
		return frame.ChannelWidth40MHz
	}
	return frame.ChannelWidth20MHz
}

// openCards resolves and opens one packetSocket per configured card
// name, closing whichever ones already succeeded if a later one fails.
func openCards(names []string) ([]rawio.Card, func(), error) {
	opened := make([]*packetSocket, 0, len(names))
	closeAll := func() {
		for _, c := range opened {
			c.Close()
		}
	}
	cards := make([]rawio.Card, 0, len(names))
	for _, name := range names {
		c, err := openPacketSocket(name)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		opened = append(opened, c)
		cards = append(cards, c)
	}
	return cards, closeAll, nil
}

func runIngress(ctx context.Context, log *logrus.Logger, engine *link.Engine, listen string) {
	addr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		log.WithError(err).Fatal("bad -udp-listen address")
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		log.WithError(err).Fatal("failed to open udp-listen socket")
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, link.MaxInjectPayload)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("udp-listen read failed")
			continue
		}
		if err := engine.Inject(bridgeStream, buf[:n], true); err != nil {
			log.WithError(err).Debug("inject failed")
		}
	}
}

func logStatsPeriodically(ctx context.Context, log *logrus.Logger, engine *link.Engine, period time.Duration, verbose bool) {
	if !verbose {
		return
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tx, rx := engine.GetTxStats(), engine.GetRxStats()
			log.WithFields(logrus.Fields{
				"tx_bitrate": tx.BitrateWireBps,
				"tx_pps":     tx.PPS,
				"rx_bitrate": rx.BitrateWireBps,
				"rx_pps":     rx.PPS,
				"rx_lost":    rx.Lost,
				"active_tx":  engine.GetActiveTxCard(),
			}).Info("link stats")
		}
	}
}
