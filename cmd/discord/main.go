// cmd/discord/main.go
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keshon/sable/internal/api"
	"github.com/keshon/sable/internal/app"
	"github.com/keshon/sable/internal/config"
	"github.com/keshon/sable/internal/discord"
	"github.com/keshon/sable/internal/logging"
	"github.com/keshon/sable/pkg/jobmgr"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.RequireDiscord(); err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	logger, closer, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatal().Err(err).Msg("set up logging")
	}
	defer closer.Close()
	logger.Info().Str("agent", cfg.AgentName).Msg("starting bot")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build agent")
	}
	defer a.Close()
	logger.Info().Int64("seed", a.Seed()).Str("storage", cfg.StorageBackend).Msg("agent ready")

	bot, err := discord.New(discord.Options{
		Token:             cfg.DiscordToken,
		BlacklistedGuilds: cfg.BlacklistedGuilds,
	}, logging.For(logger, "discord"))
	if err != nil {
		logger.Fatal().Err(err).Msg("create discord session")
	}

	runner, err := a.Runner(bot)
	if err != nil {
		logger.Fatal().Err(err).Msg("build coordinator")
	}
	bot.SetHandler(runner)

	if state, err := runner.RestoreAffect(ctx); err != nil {
		logger.Warn().Err(err).Msg("affective state not restored, starting neutral")
	} else {
		logger.Info().Str("mood", state.MoodLabel).Stringer("vad", state.VAD).Msg("affective state restored")
	}

	jm := jobmgr.NewManager(ctx, jobmgr.LogReporter(logging.For(logger, "jobs")))
	if err := runner.StartJobs(jm, a.Jobs()); err != nil {
		logger.Fatal().Err(err).Msg("start background jobs")
	}
	if cfg.APIAddr != "" {
		apiLog := logging.For(logger, "api")
		router := api.NewRouter(api.Deps{
			Session:           a.Session,
			Scorer:            a.Scorer,
			Health:            a.Store,
			Store:             a.Store,
			Temperature:       a.Settings().Temperature,
			FactMinConfidence: cfg.FactMinConfidence,
			Log:               apiLog,
		})
		if err := jm.Start("api", func(ctx context.Context) error {
			return api.Serve(ctx, cfg.APIAddr, router, apiLog)
		}); err != nil {
			logger.Fatal().Err(err).Msg("start api")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- bot.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
		<-errCh
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("discord bot error")
		}
		cancel()
	}

	jm.Shutdown()

	saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer saveCancel()
	if err := runner.SaveAffect(saveCtx); err != nil {
		logger.Warn().Err(err).Msg("final affect save failed")
	}
	logger.Info().Msg("bot exited cleanly")
}
