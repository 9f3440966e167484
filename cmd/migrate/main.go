// Command migrate copies every local collection into the remote store.
// Records already present remotely are overwritten with the local copy.
package main

import (
	"context"
	"log"
	"time"

	"go.uber.org/zap"

	"orderly-service/config"
	"orderly-service/internal/store"
	"orderly-service/internal/util"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogFile); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	if !cfg.RemoteConfigured() {
		logger.Fatal("DATABASE_URL is required to migrate")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	local, err := store.OpenBolt(cfg.Store.LocalDBPath, store.AllCollections)
	if err != nil {
		logger.Fatal("Failed to open local store", zap.String("path", cfg.Store.LocalDBPath), zap.Error(err))
	}
	defer local.Close()

	remote, err := store.NewPostgres(cfg.Store.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to remote store", zap.Error(err))
	}
	defer remote.Close()

	if err := remote.EnsureCollections(ctx, store.AllCollections); err != nil {
		logger.Fatal("Failed to prepare remote collections", zap.Error(err))
	}

	counts, err := store.CopyAll(ctx, local, remote, store.AllCollections)
	for _, c := range store.AllCollections {
		logger.Info("Copied collection", zap.String("collection", c), zap.Int("records", counts[c]))
	}
	if err != nil {
		logger.Fatal("Migration failed", zap.Error(err))
	}
	logger.Info("Migration complete")
}
