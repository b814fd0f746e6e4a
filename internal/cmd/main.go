package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Meldroq8/trivia-game-sub003/internal/appconfig"
	"github.com/Meldroq8/trivia-game-sub003/internal/events"
	"github.com/Meldroq8/trivia-game-sub003/internal/gateway"
	"github.com/Meldroq8/trivia-game-sub003/internal/minigame"
	"github.com/Meldroq8/trivia-game-sub003/internal/presenter"
	"github.com/Meldroq8/trivia-game-sub003/internal/question"
	"github.com/Meldroq8/trivia-game-sub003/internal/session"
	"github.com/Meldroq8/trivia-game-sub003/internal/store"
	"github.com/Meldroq8/trivia-game-sub003/internal/store/memstore"
	"github.com/Meldroq8/trivia-game-sub003/internal/store/mongostore"
	"github.com/Meldroq8/trivia-game-sub003/internal/store/redisstore"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg := appconfig.NewConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", string(cfg.StoreBackend)).Msg("failed to open session store")
	}
	defer st.Close(context.Background())

	questions, err := question.NewPGStore(ctx, cfg.Postgres.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open question store")
	}
	defer questions.Close()

	var svcOpts []session.Option
	if cfg.NATSURL != "" {
		pubCfg := events.DefaultConfig()
		pubCfg.URL = cfg.NATSURL
		publisher, err := events.NewPublisher(ctx, pubCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect event publisher")
		}
		defer publisher.Close()
		svcOpts = append(svcOpts, session.WithEventSink(publisher))
	}

	services := make(map[minigame.Game]*session.Service, len(minigame.Games))
	for _, game := range minigame.Games {
		services[game] = session.New(st, game, svcOpts...)
	}

	settings := map[minigame.Game]presenter.GameSettings{}
	if cfg.GamesFile != "" {
		settings, err = appconfig.LoadGameSettings(cfg.GamesFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.GamesFile).Msg("failed to load game settings")
		}
	}

	svc := gateway.NewService(gateway.ServiceConfig{
		Addr:           cfg.Addr,
		BaseURL:        cfg.BaseURL,
		AllowedOrigins: cfg.AllowedOrigins,
	}, services, questions, settings)

	log.Info().
		Str("addr", cfg.Addr).
		Str("backend", string(cfg.StoreBackend)).
		Str("base_url", cfg.BaseURL).
		Msg("starting minigame gateway")

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
		if err := <-errCh; err != nil {
			log.Error().Err(err).Msg("gateway stopped with error")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("gateway failed")
		}
	}

	log.Info().Msg("minigame gateway shutdown complete")
}

func openStore(ctx context.Context, cfg appconfig.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case appconfig.BackendMongo:
		return mongostore.New(ctx, mongostore.Config{
			URI:        cfg.MongoURI,
			Database:   cfg.MongoDatabase,
			Collection: cfg.MongoCollection,
			IdleTTL:    cfg.IdleTTL,
		})
	case appconfig.BackendRedis:
		return redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			IdleTTL:  cfg.IdleTTL,
		})
	default:
		return memstore.New(memstore.WithTTL(cfg.IdleTTL)), nil
	}
}
