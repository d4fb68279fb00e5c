package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/melodymind/internal/bot"
	"github.com/desertthunder/melodymind/internal/cache"
	"github.com/desertthunder/melodymind/internal/server"
	"github.com/desertthunder/melodymind/internal/services"
	"github.com/desertthunder/melodymind/internal/session"
	"github.com/desertthunder/melodymind/internal/shared"
	"github.com/desertthunder/melodymind/internal/telegram"
	"github.com/desertthunder/melodymind/internal/tokens"
	"github.com/desertthunder/melodymind/internal/vault"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// Runner holds shared dependencies for CLI commands and provides a method
// per command action.
type Runner struct {
	config *shared.Config
	logger *log.Logger
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config *shared.Config
	Logger *log.Logger
}

// NewRunner creates a new Runner with the provided configuration.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	return &Runner{config: opts.Config, logger: opts.Logger}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		runCommand, setupCommand, checkCommand, sweepCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

// loadConfig re-reads the config when the flag points somewhere other than
// the default already loaded at startup.
func (r *Runner) loadConfig(cmd *cli.Command) *shared.Config {
	path := cmd.String("config")
	if path == "" {
		return r.config
	}
	if config, err := shared.LoadConfig(path); err == nil {
		return config
	}
	return r.config
}

// Run wires every component and blocks until interrupted.
func (r *Runner) Run(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}
	config := r.loadConfig(cmd)

	if config.Credentials.Telegram.Token == "" {
		return fmt.Errorf("%w: TELEGRAM_TOKEN is required", shared.ErrMissingCredentials)
	}

	client, err := telegram.NewClient(config.Credentials.Telegram)
	if err != nil {
		return err
	}

	v, err := vault.New(config.Vault.Key, r.logger)
	if err != nil {
		return err
	}

	spotify, err := services.NewSpotifyService(config.Credentials.Spotify)
	if err != nil {
		return err
	}
	assistant, err := services.NewOpenAIService(config.Credentials.OpenAI, r.logger)
	if err != nil {
		return err
	}
	lyrics, err := services.NewGeniusService(config.Credentials.Genius)
	if err != nil {
		return err
	}
	extractor := services.NewSidecarExtractor(config.Extractor)

	searchCache, err := cache.New(config.Cache, r.logger)
	if err != nil {
		return err
	}
	defer searchCache.Close()

	store := session.NewStore()
	b, err := bot.New(bot.Deps{
		API:       client,
		Store:     store,
		Tokens:    tokens.NewManager(store, v, spotify, r.logger),
		Spotify:   spotify,
		Extractor: extractor,
		Assistant: assistant,
		Lyrics:    lyrics,
		Cache:     searchCache,
		Downloads: config.Downloads,
		Logger:    r.logger,
	})
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return b.Run(groupCtx) })

	if cmd.Bool("server") || config.Server.Enabled {
		callbackServer := server.New(config.Server, b, r.logger)
		group.Go(func() error { return callbackServer.Start(groupCtx) })
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	r.logger.Info("shut down cleanly")
	return nil
}

// Setup writes the starter config file.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}
	r.logger.Info("config created", "path", path)
	fmt.Printf("Wrote %s. Fill in your credentials, then start with: melodymind run\n", path)
	return nil
}

// Check reports which credentials are present without starting the bot.
func (r *Runner) Check(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd)

	checks := []struct {
		name string
		ok   bool
	}{
		{"telegram token", config.Credentials.Telegram.Token != ""},
		{"openai api key", config.Credentials.OpenAI.APIKey != ""},
		{"spotify client id", config.Credentials.Spotify.ClientID != ""},
		{"spotify client secret", config.Credentials.Spotify.ClientSecret != ""},
		{"genius access token", config.Credentials.Genius.AccessToken != ""},
		{"encryption key", config.Vault.Key != ""},
	}

	missing := 0
	for _, check := range checks {
		if check.ok {
			fmt.Printf("ok      %s\n", check.name)
		} else {
			fmt.Printf("missing %s\n", check.name)
			missing++
		}
	}

	if missing > 0 {
		return fmt.Errorf("%w: %d credential(s) missing", shared.ErrMissingCredentials, missing)
	}
	return nil
}

// SweepDownloads clears leftover artifacts from an unclean shutdown.
func (r *Runner) SweepDownloads(ctx context.Context, cmd *cli.Command) error {
	config := r.loadConfig(cmd)
	dir := config.Downloads.Dir
	if dir == "" {
		dir = "downloads"
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Info("nothing to sweep", "dir", dir)
			return nil
		}
		return err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			r.logger.Warn("failed to remove artifact", "name", entry.Name(), "err", err)
			continue
		}
		removed++
	}
	r.logger.Info("sweep complete", "dir", dir, "removed", removed)
	return nil
}
