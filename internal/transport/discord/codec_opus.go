//go:build opus

package discord

import (
	"fmt"

	"github.com/hraban/opus"
)

func newDecoder() (decoder, error) {
	d, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decoder: %w", err)
	}
	return d, nil
}

func newEncoder() (encoder, error) {
	e, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encoder: %w", err)
	}
	return e, nil
}
