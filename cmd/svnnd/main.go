// svnnd runs a single instant-finality node: it tracks the fork
// database, aggregates finalizer votes into quorum certificates,
// advances the last irreversible block, and optionally signs votes for
// one local finalizer key.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/svnnchain/svnn/pkg/config"
	"github.com/svnnchain/svnn/pkg/crypto/bls"
	"github.com/svnnchain/svnn/pkg/finality"
	"github.com/svnnchain/svnn/pkg/finalizer"
	"github.com/svnnchain/svnn/pkg/forkdb"
	"github.com/svnnchain/svnn/pkg/logging"
	"github.com/svnnchain/svnn/pkg/metrics"
	"github.com/svnnchain/svnn/pkg/qc"
	"github.com/svnnchain/svnn/pkg/server"
	"github.com/svnnchain/svnn/pkg/storage"
	"github.com/svnnchain/svnn/pkg/verifypool"
	"github.com/svnnchain/svnn/pkg/voter"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "svnnd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log, err := logging.NewLogger(&logging.Config{Level: level, Format: cfg.LogFormat, Output: "stdout"})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	logging.SetGlobalLogger(log)

	if err := bls.Initialize(); err != nil {
		return fmt.Errorf("initialize bls: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := storage.Open("svnnd", cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	db, registry, err := bootstrapForkDB(cfg, store, log)
	if err != nil {
		return fmt.Errorf("bootstrap fork database: %w", err)
	}

	engine := finality.New(db, registry, log)
	pool := qc.NewPool()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	verifyPool := verifypool.New(ctx, cfg.VoteVerifyWorkers, 256)
	defer verifyPool.Shutdown()

	var fin *voter.Finalizer
	if cfg.IsVoting() {
		fin, err = loadOrGenerateFinalizerKey(cfg, log)
		if err != nil {
			return fmt.Errorf("load finalizer key: %w", err)
		}
	}

	blockHandlers := server.NewBlockHandlers(db, registry, engine, pool, fin, log)
	voteHandlers := server.NewVoteHandlers(db, registry, pool, verifyPool, log)
	statusHandlers := server.NewStatusHandlers(db, engine)
	mux := server.NewMux(blockHandlers, voteHandlers, statusHandlers)

	apiServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})}

	errCh := make(chan error, 2)
	go func() {
		log.Info("api server listening", logging.Field{Key: "addr", Value: cfg.ListenAddr})
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		log.Info("metrics server listening", logging.Field{Key: "addr", Value: cfg.MetricsAddr})
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", logging.Field{Key: "signal", Value: sig.String()})
	case err := <-errCh:
		log.WithError(err).Error("server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.VoteVerifyTimeout)
	defer shutdownCancel()
	apiServer.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)

	return persistForkDB(db, store, log)
}

// bootstrapForkDB loads a fork database snapshot from storage if one
// exists, deleting it after a successful load to prevent double-load;
// otherwise it builds a fresh root from the genesis file.
func bootstrapForkDB(cfg *config.Config, store *storage.Store, log *logging.Logger) (*forkdb.ForkDB, *finalizer.Registry, error) {
	policy, root, err := loadGenesis(cfg.GenesisPath)
	if err != nil {
		return nil, nil, err
	}
	registry, err := finalizer.NewRegistry(policy)
	if err != nil {
		return nil, nil, err
	}

	snapshot, err := store.Get(storage.KeyForkDBSnapshot)
	if err != nil {
		return nil, nil, fmt.Errorf("read fork db snapshot: %w", err)
	}
	if snapshot == nil {
		log.Info("no fork database snapshot found, starting from genesis")
		return forkdb.New(root), registry, nil
	}

	db, err := forkdb.Load(snapshot)
	if err != nil {
		return nil, nil, fmt.Errorf("load fork db snapshot: %w", err)
	}
	if err := store.Delete(storage.KeyForkDBSnapshot); err != nil {
		return nil, nil, fmt.Errorf("delete consumed fork db snapshot: %w", err)
	}
	log.Info("fork database restored from snapshot", logging.Field{Key: "head_block_num", Value: db.Head().Header.BlockNum})
	return db, registry, nil
}

// persistForkDB snapshots the fork database to storage before process
// exit, so the next start can resume from it via bootstrapForkDB.
func persistForkDB(db *forkdb.ForkDB, store *storage.Store, log *logging.Logger) error {
	data, err := db.Save()
	if err != nil {
		return fmt.Errorf("save fork db: %w", err)
	}
	if err := store.Set(storage.KeyForkDBSnapshot, data); err != nil {
		return fmt.Errorf("write fork db snapshot: %w", err)
	}
	log.Info("fork database snapshot persisted")
	return nil
}

// loadOrGenerateFinalizerKey loads this node's BLS signing key, writing a
// freshly generated one on first run.
func loadOrGenerateFinalizerKey(cfg *config.Config, log *logging.Logger) (*voter.Finalizer, error) {
	data, err := os.ReadFile(cfg.BLSKeyPath)

	var sk *bls.PrivateKey
	switch {
	case os.IsNotExist(err):
		generated, _, genErr := bls.GenerateKeyPair()
		if genErr != nil {
			return nil, fmt.Errorf("generate bls key: %w", genErr)
		}
		if writeErr := os.WriteFile(cfg.BLSKeyPath, generated.Bytes(), 0600); writeErr != nil {
			return nil, fmt.Errorf("write bls key: %w", writeErr)
		}
		log.Info("generated new finalizer bls key", logging.Field{Key: "path", Value: cfg.BLSKeyPath})
		sk = generated
	case err != nil:
		return nil, fmt.Errorf("read bls key: %w", err)
	default:
		parsed, parseErr := bls.PrivateKeyFromBytes(data)
		if parseErr != nil {
			return nil, fmt.Errorf("parse bls key: %w", parseErr)
		}
		sk = parsed
	}

	return voter.Load(sk, cfg.SafetyStatePath)
}
