// Command delete-voices removes cloned voices left behind in the configured
// TTS provider account.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/terifai/terifai/internal/bot"
	"github.com/terifai/terifai/internal/clone"
	"github.com/terifai/terifai/internal/config"
	"github.com/terifai/terifai/internal/logging"
)

type voiceStore interface {
	clone.Lister
	Delete(ctx context.Context, voiceID string) error
}

type result struct {
	Deleted int
	Skipped int
	Failed  int
}

// deleteVoices removes every managed voice, or every voice when all is set.
// Nothing is deleted in dry-run mode.
func deleteVoices(ctx context.Context, vs voiceStore, all, dryRun bool) (result, error) {
	var res result
	voices, err := vs.List(ctx)
	if err != nil {
		return res, err
	}
	for _, v := range voices {
		if !all && !clone.IsManaged(v.Name) {
			res.Skipped++
			continue
		}
		if dryRun {
			logging.Infow("would delete voice", "voice.id", v.ID, "voice.name", v.Name)
			res.Deleted++
			continue
		}
		if err := vs.Delete(ctx, v.ID); err != nil {
			logging.Warnw("failed to delete voice", "voice.id", v.ID, "voice.name", v.Name, "err", err)
			res.Failed++
			continue
		}
		logging.Infow("deleted voice", "voice.id", v.ID, "voice.name", v.Name)
		res.Deleted++
	}
	return res, nil
}

func main() {
	logging.Init()
	defer func() { _ = logging.Sync() }()

	cfg := config.FromEnv()
	var all, dryRun bool
	fs := flag.NewFlagSet("delete-voices", flag.ContinueOnError)
	fs.BoolVar(&all, "all", false, "delete every voice, not only terifai clones")
	fs.BoolVar(&dryRun, "dry-run", false, "list what would be deleted")
	fs.StringVar(&cfg.TTSProvider, "tts", cfg.TTSProvider, "TTS provider (cartesia or elevenlabs)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logging.FatalExitf("invalid arguments", "err", err)
	}
	cfg.TTSProvider = strings.ToLower(cfg.TTSProvider)
	if apiKey(cfg) == "" {
		logging.FatalExitf("missing API key", "provider", cfg.TTSProvider)
	}
	vendor, err := bot.NewVendor(cfg)
	if err != nil {
		logging.FatalExitf("invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := deleteVoices(ctx, vendor, all, dryRun)
	if err != nil {
		logging.FatalExitf("failed to list voices", "provider", vendor.Name(), "err", err)
	}
	logging.Infow("done", "provider", vendor.Name(), "deleted", res.Deleted, "skipped", res.Skipped, "failed", res.Failed, "dry_run", dryRun)
	if res.Failed > 0 {
		os.Exit(1)
	}
}

func apiKey(cfg config.Config) string {
	if cfg.TTSProvider == config.TTSElevenLabs {
		return cfg.ElevenLabsAPIKey
	}
	return cfg.CartesiaAPIKey
}
