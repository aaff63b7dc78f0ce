package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tixledger/config"
	"tixledger/core/events"
	"tixledger/core/genesis"
	"tixledger/core/state"
	"tixledger/crypto"
	"tixledger/gateway"
	"tixledger/native/ticketing"
	"tixledger/observability/logging"
	"tixledger/rpc"
	"tixledger/storage"
)

func main() {
	var (
		configPath  = flag.String("config", "./config.toml", "path to the daemon configuration")
		genesisPath = flag.String("genesis", "", "override the genesis file from the configuration")
		devMode     = flag.Bool("dev", false, "bootstrap an empty ledger with a generated owner key")
	)
	flag.Parse()

	env := os.Getenv("TIX_ENV")
	if env == "" {
		env = "development"
	}
	logger := logging.Setup("tixd", env)

	if err := run(*configPath, *genesisPath, *devMode, logger); err != nil {
		logger.Error("tixd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath, genesisOverride string, devMode bool, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if genesisOverride != "" {
		cfg.GenesisFile = genesisOverride
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return fmt.Errorf("open ledger database: %w", err)
	}
	defer db.Close()
	manager := state.NewManager(db)

	owner, err := resolveOwner(manager, cfg, devMode, logger)
	if err != nil {
		return err
	}
	logger.Info("ledger ready",
		slog.String("network", cfg.NetworkName),
		slog.String("owner", crypto.MustNewAddress(crypto.TixPrefix, owner[:]).String()),
	)

	journal, err := events.OpenJournal(filepath.Join(cfg.DataDir, "events.db"), logger)
	if err != nil {
		return fmt.Errorf("open event journal: %w", err)
	}
	defer journal.Close()

	engine := ticketing.NewEngine(owner)
	engine.SetState(manager)
	engine.SetEmitter(journal)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)

	rpcServer := rpc.NewServer(engine, logger)
	go func() {
		logger.Info("rpc listening", slog.String("address", cfg.RPCAddress))
		errCh <- rpcServer.Start(ctx, cfg.RPCAddress)
	}()

	auth := gateway.NewAuthenticator(gateway.AuthConfig{
		Enabled:    cfg.Gateway.AuthEnabled,
		HMACSecret: cfg.Gateway.HMACSecret,
		Issuer:     cfg.Gateway.Issuer,
		Audience:   cfg.Gateway.Audience,
	}, logger)
	gatewaySrv := &http.Server{
		Addr:              cfg.GatewayAddress,
		Handler:           gateway.New(gateway.Config{Engine: engine, Authenticator: auth}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("gateway listening", slog.String("address", cfg.GatewayAddress))
		if err := gatewaySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			stop()
			shutdownGateway(gatewaySrv, logger)
			return err
		}
	}

	shutdownGateway(gatewaySrv, logger)
	return nil
}

func shutdownGateway(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("gateway shutdown", slog.Any("error", err))
	}
}

// resolveOwner returns the ledger owner, applying genesis on first boot. In
// dev mode an empty ledger without a genesis file gets a generated owner key;
// the key bytes are logged so local clients can sign as the owner.
func resolveOwner(manager *state.Manager, cfg *config.Config, devMode bool, logger *slog.Logger) ([20]byte, error) {
	var zero [20]byte
	if existing, ok, err := manager.OwnerGet(); err != nil {
		return zero, err
	} else if ok {
		return existing, nil
	}

	if cfg.GenesisFile != "" {
		spec, err := genesis.LoadSpec(cfg.GenesisFile)
		if err != nil {
			return zero, err
		}
		return genesis.Apply(manager, spec)
	}

	if !devMode {
		return zero, fmt.Errorf("empty ledger: set GenesisFile or pass -dev to bootstrap a local owner")
	}

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return zero, fmt.Errorf("generate dev owner key: %w", err)
	}
	addr := key.PubKey().Address()
	logger.Warn("bootstrapping dev ledger with a generated owner key",
		slog.String("owner", addr.String()),
		slog.String("ownerKey", hex.EncodeToString(key.Bytes())),
	)
	return genesis.Apply(manager, &genesis.Spec{Owner: addr.String()})
}
