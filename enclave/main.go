package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cloudx-io/sealedauction/custody"
	"github.com/cloudx-io/sealedauction/store"
)

func main() {
	configPath := flag.String("config", "", "Path to auctiond.yaml")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	key, err := loadSigningKey(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Signing key unavailable")
	}
	log.Info().Str("key_id", key.KeyID).Msg("Transfer signing key ready")

	var attester EnclaveAttester
	if cfg.Attest {
		if attester, err = getEnclaveAttester(); err != nil {
			log.Fatal().Err(err).Msg("Attestation requested but NSM unavailable")
		}
	}

	snapshots, err := openStore(cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("Snapshot store unavailable")
	}

	server, err := NewEnclaveServer(cfg, key, custody.NewMemoryRail(key.PublicKey), snapshots, attester)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
	log.Info().Msg("Shut down")
}

func loadSigningKey(cfg Config) (*custody.SigningKey, error) {
	if cfg.SigningKeyPath != "" {
		return custody.LoadSigningKey(cfg.SigningKeyPath)
	}
	return custody.GenerateSigningKey()
}

func openStore(cfg StoreConfig) (store.SnapshotStore, error) {
	if cfg.Backend != "redis" {
		return store.NewMemoryStore(), nil
	}
	rs := store.NewRedisStore(store.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), cfg.KeyPrefix)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rs.Ping(ctx); err != nil {
		return nil, err
	}
	return rs, nil
}
