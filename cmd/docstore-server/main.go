package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dd0wney/cluso-docstore/pkg/api"
	"github.com/dd0wney/cluso-docstore/pkg/audit"
	"github.com/dd0wney/cluso-docstore/pkg/auth"
	"github.com/dd0wney/cluso-docstore/pkg/config"
	"github.com/dd0wney/cluso-docstore/pkg/encryption"
	"github.com/dd0wney/cluso-docstore/pkg/logging"
	"github.com/dd0wney/cluso-docstore/pkg/metrics"
	"github.com/dd0wney/cluso-docstore/pkg/rotation"
	"github.com/dd0wney/cluso-docstore/pkg/server"
	"github.com/dd0wney/cluso-docstore/pkg/storage"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "docstore.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cluso-docstore server v%s\n", version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "docstore-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	passphrase, err := cfg.Passphrase()
	if err != nil {
		return err
	}

	salt, err := encryption.LoadOrCreateSalt(cfg.KeyDir)
	if err != nil {
		return err
	}

	keys, err := encryption.NewKeyring(encryption.KeyringConfig{
		KeyDir:    cfg.KeyDir,
		MasterKey: encryption.DeriveMasterKey(passphrase, salt),
	})
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}

	store, err := storage.NewDocumentStore(filepath.Join(cfg.DataDir, "docs"))
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}

	registry := metrics.NewRegistry()

	auditLogger := audit.NewLogger(0)
	sink, err := audit.NewFileSink(filepath.Join(cfg.DataDir, "audit.log"))
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	auditLogger.SetSink(sink)

	rotator, err := rotation.NewRotator(filepath.Join(cfg.DataDir, "rotation"), store, keys, rotation.Options{
		BatchSize: cfg.BatchSize,
		Logger:    log,
		Metrics:   registry,
		Audit:     auditLogger,
	})
	if err != nil {
		return err
	}

	// The startup guard refuses to serve over an interrupted or failed
	// rotation. Boot never resumes a sweep; the operator decides.
	if err := rotator.EnforceStartup(); err != nil {
		var fatal *rotation.FatalStateError
		if errors.As(err, &fatal) {
			log.Error("refusing to start", logging.String("detail", fatal.Error()))
		}
		return err
	}

	// A durably completed rotation only needs its finalization replayed.
	// That touches no document data, so it is safe before serving.
	if err := rotator.Recover(); err != nil {
		return fmt.Errorf("failed to finalize completed rotation: %w", err)
	}

	// First boot: no data key exists yet.
	if keys.ActiveKeyID() == 0 {
		id, err := keys.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate initial key: %w", err)
		}
		if err := keys.Activate(id); err != nil {
			return fmt.Errorf("failed to activate initial key: %w", err)
		}
		auditLogger.Record(audit.Event{
			Action: audit.ActionKeyGenerated,
			Status: audit.StatusSuccess,
			KeyID:  id,
			Detail: "initial data key",
		})
		log.Info("initial data key generated", logging.KeyID(id))
	}

	if count, err := store.Count(); err == nil {
		registry.SetStorageDocumentsTotal(count)
	}

	jwtManager, err := auth.NewJWTManager(cfg.AuthSecret, cfg.TokenDuration.Std())
	if err != nil {
		return fmt.Errorf("invalid auth secret: %w", err)
	}

	apiServer := api.NewServer(api.Config{
		Store:      store,
		Keys:       keys,
		Rotator:    rotator,
		JWTManager: jwtManager,
		Logger:     log,
		Metrics:    registry,
		Audit:      auditLogger,
		Version:    version,
	})

	gs := server.NewGracefulServer(cfg.ListenAddr, apiServer.Handler(), cfg.ShutdownTimeout.Std(), log)
	gs.OnShutdown(store.Close)
	gs.OnShutdown(keys.Close)
	gs.OnShutdown(sink.Close)

	log.Info("docstore server starting",
		logging.String("version", version),
		logging.String("addr", cfg.ListenAddr),
		logging.Path(cfg.DataDir))

	return gs.Start()
}
