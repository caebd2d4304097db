package link

import "github.com/pkg/errors"

// ErrNotReceiving reports that no RX loop is running. No Engine method
// returns it: StopReceiving is a no-op when the loop is not running, and
// Inject does not check for a session key.
var ErrNotReceiving = errors.New("link: engine is not receiving")

// ErrAlreadyReceiving is returned by StartReceiving when called twice
// without an intervening StopReceiving.
var ErrAlreadyReceiving = errors.New("link: engine is already receiving")

// ErrPassive is returned by Inject while the engine has been put in
// passive (listen-only) mode.
var ErrPassive = errors.New("link: engine is passive")

// ErrUnknownStream is returned by Inject for a stream index that was
// never registered with RegisterStream.
var ErrUnknownStream = errors.New("link: stream not registered")

// ErrPayloadTooLarge is returned by Inject when the payload can't fit
// in a single FEC fragment.
var ErrPayloadTooLarge = errors.New("link: payload exceeds max inject size")
