package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/driftaudio/lofi-cli/internal/cache"
	"github.com/driftaudio/lofi-cli/internal/catalog"
	"github.com/driftaudio/lofi-cli/internal/config"
	"github.com/driftaudio/lofi-cli/internal/fetch"
	"github.com/driftaudio/lofi-cli/internal/pipeline"
	"github.com/driftaudio/lofi-cli/internal/player"
	"github.com/driftaudio/lofi-cli/internal/status"
	"github.com/driftaudio/lofi-cli/internal/ui"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	versionFlag  = flag.Bool("version", false, "Show version information")
	debugFlag    = flag.Bool("debug", false, "Enable debug logging")
	headlessFlag = flag.Bool("headless", false, "Play without the terminal interface")
	volumeFlag   = flag.Int("volume", -1, "Initial volume, 0-100 (overrides config)")
	catalogFlag  = flag.String("catalog", "", "Catalog base URL (overrides config)")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s v%s - %s\n\n", config.AppName, config.AppVersion, config.AppDescription)
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()

		configPath, err := config.GetConfigPath()
		if err == nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				fmt.Fprintf(os.Stderr, "\nConfig file: %s\n", configPath)
			} else {
				fmt.Fprintf(os.Stderr, "\nConfig file will be created on first use.\n")
			}
		}
	}
}

func setupLogging() {
	if *debugFlag {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)

		cacheDir, err := cache.GetCacheDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not get cache dir: %v\n", err)
			cacheDir = os.TempDir()
		}
		if err := os.MkdirAll(cacheDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create log dir: %v\n", err)
		}
		logPath := filepath.Join(cacheDir, "debug.log")
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create log file: %v\n", err)
			logFile = os.Stderr
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: logFile, TimeFormat: "15:04:05"})
		fmt.Printf("Debug log: %s\n", logPath)
		log.Info().Msgf("Starting %s v%s (debug mode)", config.AppName, config.AppVersion)
		return
	}

	if *headlessFlag {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
		return
	}

	// Avoid TUI corruption by only logging errors to /dev/null
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	logFile, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0644)
	if err == nil {
		log.Logger = log.Output(logFile)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.DefaultConfig()
	}
	cfg.ApplyEnv()

	if *volumeFlag >= 0 {
		cfg.Volume = config.ClampVolume(*volumeFlag)
	}
	if *catalogFlag != "" {
		cfg.CatalogURL = *catalogFlag
	}

	return cfg
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", config.AppName, config.AppVersion)
		fmt.Println(config.AppDescription)
		os.Exit(0)
	}

	// A .env file is optional; missing is the common case.
	_ = godotenv.Load()

	setupLogging()

	cfg := loadConfig()

	var listingCache catalog.ListingCache
	if diskCache, err := cache.NewCache(); err != nil {
		log.Warn().Err(err).Msg("Disk cache unavailable, continuing without it")
	} else {
		listingCache = diskCache
		go func() {
			if err := diskCache.CleanExpired(); err != nil {
				log.Debug().Err(err).Msg("Cache cleanup failed")
			}
		}()
	}

	baseURL := cfg.CatalogURL
	if baseURL == "" {
		baseURL = catalog.DefaultURL
	}
	resolver := catalog.NewResolver(baseURL, listingCache)
	fetcher := fetch.NewFetcher(resolver.TrackURL, fetch.DefaultPolicy())

	audio := player.NewPlayer(cfg.Volume)
	if err := audio.Open(); err != nil {
		log.Error().Err(err).Msg("Failed to open audio device")
		fmt.Fprintf(os.Stderr, "Error: could not open the audio device: %v\n", err)
		os.Exit(1)
	}
	defer audio.Close()

	state := status.New(cfg.Volume)
	pipe := pipeline.New(resolver, fetcher, audio, state)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeDone := make(chan error, 1)
	go func() {
		pipeDone <- pipe.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var exitCode int
	if *headlessFlag {
		exitCode = runHeadless(pipe, state, cfg, sigChan, pipeDone)
	} else {
		exitCode = runUI(pipe, state, cfg, sigChan, pipeDone)
	}

	cancel()
	audio.Stop()
	log.Info().Msgf("%s stopped", config.AppName)
	os.Exit(exitCode)
}

func runUI(pipe *pipeline.Pipeline, state *status.State, cfg *config.Config, sigChan chan os.Signal, pipeDone chan error) int {
	view := ui.NewUI(pipe, state, cfg)

	go func() {
		<-sigChan
		log.Info().Msg("Received shutdown signal, cleaning up...")
		pipe.Submit(pipeline.Command{Kind: pipeline.CmdQuit})
		view.Shutdown()
	}()

	uiDone := make(chan error, 1)
	go func() {
		uiDone <- view.Run()
	}()

	select {
	case err := <-uiDone:
		if err != nil {
			log.Error().Err(err).Msg("Error running UI")
			return 1
		}
		// Quit key already submitted the quit command; wait for playback
		// to wind down.
		if err := <-pipeDone; err != nil {
			log.Error().Err(err).Msg("Playback ended with error")
			return 1
		}
		return 0
	case err := <-pipeDone:
		view.Shutdown()
		<-uiDone
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}
}

func runHeadless(pipe *pipeline.Pipeline, state *status.State, cfg *config.Config, sigChan chan os.Signal, pipeDone chan error) int {
	log.Info().Msg("Running headless, press Ctrl+C to quit")

	go func() {
		<-sigChan
		log.Info().Msg("Received shutdown signal, cleaning up...")
		pipe.Submit(pipeline.Command{Kind: pipeline.CmdQuit})
	}()

	err := <-pipeDone

	cfg.Volume = state.Volume()
	if saveErr := cfg.Save(); saveErr != nil {
		log.Error().Err(saveErr).Msg("Failed to save config")
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
