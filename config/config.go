// Package config models the recognized parameters as a
// plain Go struct loadable from a TOML file, using
// github.com/pelletier/go-toml for parsing.
package config

import (
	"os"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// FECMode selects fixed-k or variable-k block closing.
type FECMode string

const (
	FECModeFixed    FECMode = "fixed"
	FECModeVariable FECMode = "variable"
)

// Params is the set of recognized options plus the
// card list and FEC tuning an embedder must supply to construct a
// link.Engine.
type Params struct {
	Cards []string `toml:"cards"`

	EncryptionKeyPath string `toml:"encryption_key_path"`

	SetDirectionInFilter   bool `toml:"set_direction_in_filter"`
	LogAllReceived         bool `toml:"log_all_received"`
	ReceiveThreadRealtime  bool `toml:"receive_thread_realtime"`
	EnableAutoSwitchTxCard bool `toml:"enable_auto_switch_tx_card"`
	UseGndIdentifier       bool `toml:"use_gnd_identifier"`
	Rtl8812auRssiFixup     bool `toml:"rtl8812au_rssi_fixup"`

	AdvancedDebuggingLogFrames bool `toml:"advanced_debugging_log_frames"`
	AdvancedDebuggingLogStats  bool `toml:"advanced_debugging_log_stats"`

	SessionKeyPacketIntervalMillis int64 `toml:"session_key_packet_interval_ms"`

	FECMode          FECMode `toml:"fec_mode"`
	FECFixedK        int     `toml:"fec_fixed_k"`
	FECKMax          int     `toml:"fec_k_max"`
	FECParityPercent int     `toml:"fec_parity_percent"`
}

// SessionKeyPacketInterval returns the configured announcement interval
// as a time.Duration.
func (p Params) SessionKeyPacketInterval() time.Duration {
	return time.Duration(p.SessionKeyPacketIntervalMillis) * time.Millisecond
}

// Default returns the recommended defaults, usable directly by library
// embedders that construct Params programmatically instead of loading a
// file.
func Default() Params {
	return Params{
		EnableAutoSwitchTxCard:         true,
		SessionKeyPacketIntervalMillis: 1000,
		FECMode:                        FECModeVariable,
		FECFixedK:                      8,
		FECKMax:                        128,
		FECParityPercent:               50,
	}
}

// Load reads and parses a TOML file at path into a Params starting from
// Default(), so an unspecified field keeps its default rather than its
// Go zero value.
func Load(path string) (Params, error) {
	p := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, errors.Wrapf(err, "config: read %s", path)
	}
	if err := toml.Unmarshal(data, &p); err != nil {
		return Params{}, errors.Wrapf(err, "config: parse %s", path)
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Validate checks the size invariants FEC block parameters must satisfy.
func (p Params) Validate() error {
	if len(p.Cards) == 0 {
		return errors.New("config: at least one card is required")
	}
	if p.FECKMax <= 0 || p.FECKMax > 128 {
		return errors.Errorf("config: fec_k_max %d out of range [1,128]", p.FECKMax)
	}
	if p.FECMode == FECModeFixed && (p.FECFixedK <= 0 || p.FECFixedK > 128) {
		return errors.Errorf("config: fec_fixed_k %d out of range [1,128]", p.FECFixedK)
	}
	if p.FECParityPercent < 0 {
		return errors.New("config: fec_parity_percent must not be negative")
	}
	return nil
}
