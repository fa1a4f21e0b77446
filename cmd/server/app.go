package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mzlxgateway/internal/chain"
	"mzlxgateway/internal/config"
	"mzlxgateway/internal/ledger"
	"mzlxgateway/internal/purchase"
	"mzlxgateway/internal/treasury"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg      *config.AppConfig
	logger   *zap.Logger
	chain    *chain.EthClient
	treasury *treasury.Treasury
	ledger   ledger.Store
	closers  []func()
}

func newApp(ctx context.Context, cmd *cobra.Command, withLedger bool) (*app, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	client, err := chain.NewEthClient(ctx, chain.EthClientConfig{
		RPCURL:        cfg.Chain.RPCURL,
		PrivateKeyHex: cfg.Chain.PrivateKey,
		CallTimeout:   cfg.Chain.RPCTimeout,
		PollInterval:  cfg.Chain.PollInterval,
		Retry: chain.RetryPolicy{
			MaxRetries: cfg.Chain.MaxRetries,
			Backoff:    cfg.Chain.RetryBackoff,
		},
		Logger: logger.Named("chain"),
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("chain client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	if client.From() != cfg.Chain.AdminAddress {
		a.close()
		return nil, fmt.Errorf("signer %s does not match admin address %s", client.From().Hex(), cfg.Chain.AdminAddress.Hex())
	}
	a.chain = client
	a.treasury = treasury.New(client, cfg.Chain.TokenContract, cfg.Chain.AdminAddress)

	if withLedger {
		store, closeStore, err := openLedger(ctx, cfg.Ledger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("ledger: %w", err)
		}
		a.ledger = store
		if closeStore != nil {
			a.closers = append(a.closers, closeStore)
		}
	}
	return a, nil
}

func (a *app) verifier() *purchase.Verifier {
	return &purchase.Verifier{
		Chain:            a.chain,
		Stablecoin:       a.cfg.Chain.StablecoinContract,
		Receiver:         a.cfg.Chain.ReceiverAddress,
		ConfirmTimeout:   a.cfg.Chain.ConfirmTimeout,
		VerifyPaidAmount: a.cfg.Purchase.VerifyPaidAmount,
		Logger:           a.logger.Named("verify"),
	}
}

func (a *app) reporter() *treasury.Reporter {
	return &treasury.Reporter{
		Chain:    a.chain,
		Treasury: a.treasury,
		Network:  a.cfg.Chain.NetworkName,
		Receiver: a.cfg.Chain.ReceiverAddress,
	}
}

// close runs closers in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func openLedger(ctx context.Context, cfg config.LedgerConfig) (ledger.Store, func(), error) {
	switch cfg.Backend {
	case config.LedgerMemory:
		return ledger.NewMemoryStore(), nil, nil
	case config.LedgerFile:
		store, err := ledger.NewFileStore(cfg.Path)
		return store, nil, err
	case config.LedgerPostgres:
		store, err := ledger.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.LedgerRedis:
		store, err := ledger.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
