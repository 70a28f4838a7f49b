package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/terifai/terifai/internal/bot"
	"github.com/terifai/terifai/internal/config"
	"github.com/terifai/terifai/internal/daily"
	"github.com/terifai/terifai/internal/logging"
	"github.com/terifai/terifai/internal/metrics"
	"github.com/terifai/terifai/internal/voice"
)

type options struct {
	roomURL     string
	token       string
	prompt      string
	tts         string
	defaultRoom bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("bot", flag.ContinueOnError)
	fs.StringVar(&o.roomURL, "room_url", "", "room to join")
	fs.StringVar(&o.roomURL, "u", "", "room to join (shorthand)")
	fs.StringVar(&o.token, "token", "", "room token")
	fs.StringVar(&o.token, "t", "", "room token (shorthand)")
	fs.StringVar(&o.prompt, "prompt", "", "conversation style")
	fs.StringVar(&o.tts, "tts", "", "TTS provider (cartesia or elevenlabs)")
	fs.BoolVar(&o.defaultRoom, "default", false, "create a fresh room and join it")
	fs.BoolVar(&o.defaultRoom, "d", false, "create a fresh room and join it (shorthand)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	o.tts = strings.ToLower(strings.TrimSpace(o.tts))
	if !o.defaultRoom && o.roomURL == "" {
		return options{}, errors.New("--room_url is required unless --default is set")
	}
	return o, nil
}

// sessionID prefers the id a spawner assigned to this process.
func sessionID() string {
	for _, k := range []string{"BOT_ID", "FLY_MACHINE_ID"} {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func main() {
	logging.Init()
	defer func() { _ = logging.Sync() }()

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logging.FatalExitf("invalid arguments", "err", err)
	}
	cfg := config.FromEnv()
	if opts.tts != "" {
		cfg.TTSProvider = opts.tts
	}
	if err := cfg.ValidateBot(opts.defaultRoom); err != nil {
		logging.FatalExitf("invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts); err != nil {
		logging.FatalExitf("bot exited with error", "err", err)
	}
	logging.Infow("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, opts options) error {
	if opts.defaultRoom {
		room, err := daily.New(cfg.DailyAPIKey, cfg.DailyAPIURL).CreateRoomWithToken(ctx)
		if err != nil {
			return fmt.Errorf("create default room: %w", err)
		}
		opts.roomURL, opts.token = room.URL, room.Token
		logging.Infow("joining fresh room", logging.RoomFields(room.URL, room.Name)...)
	}

	var wg sync.WaitGroup
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer func() {
		cancelBg()
		wg.Wait()
	}()

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler(metrics.NewRegistry()), ReadHeaderTimeout: 5 * time.Second}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Warnw("metrics server stopped", "addr", cfg.MetricsAddr, "err", err)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-bgCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}
	if cfg.CloneSampleDir != "" {
		wg.Add(1)
		voice.StartArchiveCleaner(bgCtx, &wg, cfg.CloneSampleDir, cfg.CloneSampleRetention, cfg.CloneSampleCleanInterval, cfg.CloneSampleMaxFiles)
	}

	svcs, err := bot.NewServices(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svcs.Close(); err != nil {
			logging.Warnw("failed to close services", "err", err)
		}
	}()

	id := sessionID()
	set, err := bot.SettingsFromConfig(cfg, id, opts.roomURL, opts.prompt)
	if err != nil {
		return err
	}
	tr, err := bot.OpenTransport(ctx, cfg, opts.roomURL, opts.token)
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	return bot.NewSession(set, svcs.Deps(tr)).Run(ctx)
}
