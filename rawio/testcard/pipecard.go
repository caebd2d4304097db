// Package testcard provides rawio.Card test doubles: PipeCard, an
// in-memory implementation backed by OS pipes so tests can drive real,
// pollable file descriptors without a real Wi-Fi adapter, and a
// golang/mock-generated MockCard for engine tests that need to assert
// on call sequences and injected errors.
package testcard

import "os"

// PipeCard is a rawio.Card backed by two OS pipes: one simulates frames
// arriving over the air (fed by Inject), the other captures frames the
// engine transmits (drained by Injected).
type PipeCard struct {
	name       string
	inR, inW   *os.File
	outR, outW *os.File
}

// New constructs a PipeCard named name.
func New(name string) (*PipeCard, error) {
	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		inR.Close()
		inW.Close()
		return nil, err
	}
	return &PipeCard{name: name, inR: inR, inW: inW, outR: outR, outW: outW}, nil
}

func (c *PipeCard) Fd() int                      { return int(c.inR.Fd()) }
func (c *PipeCard) Read(buf []byte) (int, error)  { return c.inR.Read(buf) }
func (c *PipeCard) Write(buf []byte) (int, error) { return c.outW.Write(buf) }
func (c *PipeCard) Name() string                  { return c.name }

// Inject simulates a frame being sniffed on this card.
func (c *PipeCard) Inject(frame []byte) error {
	_, err := c.inW.Write(frame)
	return err
}

// Injected reads back the next frame the engine wrote to this card.
func (c *PipeCard) Injected(buf []byte) (int, error) {
	return c.outR.Read(buf)
}

// Close releases both pipes.
func (c *PipeCard) Close() error {
	c.inR.Close()
	c.inW.Close()
	c.outR.Close()
	return c.outW.Close()
}
