//go:build !opus

package discord

import "errors"

// ErrNoOpus is returned when the binary was built without libopus.
var ErrNoOpus = errors.New("discord: built without opus support (rebuild with -tags opus)")

func newDecoder() (decoder, error) { return nil, ErrNoOpus }
func newEncoder() (encoder, error) { return nil, ErrNoOpus }
