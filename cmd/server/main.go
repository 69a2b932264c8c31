package main

import (
	"context"
	"encoding/hex"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ghost-Capital/lendex-catalyst/internal/blockfrost"
	"github.com/Ghost-Capital/lendex-catalyst/internal/config"
	"github.com/Ghost-Capital/lendex-catalyst/internal/escrow"
	"github.com/Ghost-Capital/lendex-catalyst/internal/idempotency"
	"github.com/Ghost-Capital/lendex-catalyst/internal/oracle"
	"github.com/Ghost-Capital/lendex-catalyst/internal/server"
	"github.com/Ghost-Capital/lendex-catalyst/internal/utxo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Service)
	slog.SetDefault(logger)

	ctx := context.Background()

	var pool *pgxpool.Pool
	if cfg.Service.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.Service.DatabaseURL)
		if err != nil {
			log.Fatalf("database error: %v", err)
		}
		defer pool.Close()
	}

	store, err := newIdempotencyStore(ctx, cfg, pool)
	if err != nil {
		log.Fatalf("idempotency store error: %v", err)
	}

	escClient, err := newEscrowClient(ctx, cfg, pool, logger)
	if err != nil {
		log.Fatalf("escrow client error: %v", err)
	}

	deps := server.Deps{
		Escrow: escClient,
		Store:  store,
		Logger: logger,
	}

	lockAddress := cfg.Oracle.ContractAddress
	if cfg.Cardano.Enabled {
		protocol, err := newLoanProtocol(cfg, logger)
		if err != nil {
			log.Fatalf("cardano error: %v", err)
		}
		applied := protocol.Validators()
		logger.Info("lending validators applied",
			"policy_id", applied.PolicyID,
			"lock_address", applied.LockAddress,
			"preapplied", applied.Preapplied,
		)
		deps.Loans = protocol
		deps.PolicyID = applied.PolicyID
		if lockAddress == "" {
			lockAddress = applied.LockAddress
		}
	}

	if cfg.Oracle.Enabled {
		bridge, err := oracle.NewBridge(oracle.Config{
			APIKey:          cfg.Oracle.APIKey,
			APIURL:          cfg.Oracle.APIURL,
			ContractAddress: lockAddress,
		}, oracle.WithLogger(logger))
		if err != nil {
			log.Fatalf("oracle error: %v", err)
		}
		deps.Oracle = bridge
	}

	apiServer := server.NewServer(cfg, deps)

	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "err", err)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
}

func newLogger(cfg config.ServiceConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func newIdempotencyStore(ctx context.Context, cfg *config.AppConfig, pool *pgxpool.Pool) (idempotency.Store, error) {
	if pool != nil {
		return idempotency.NewPostgresStore(ctx, pool)
	}
	return idempotency.NewFileStore(cfg.Service.IdempotencyStorePath)
}

// newEscrowClient talks to the deployed contract when a signer key is
// configured and runs the state machine in process otherwise.
func newEscrowClient(ctx context.Context, cfg *config.AppConfig, pool *pgxpool.Pool, logger *slog.Logger) (escrow.Client, error) {
	if cfg.Chain.PrivateKey != "" {
		return escrow.NewEthClient(ctx, escrow.EthClientConfig{
			RPCURL:        cfg.Chain.RPCURL,
			PrivateKeyHex: cfg.Chain.PrivateKey,
			LendexAddress: cfg.Chain.LendexAddress,
			Logger:        logger,
		})
	}

	var positions escrow.Store = escrow.NewMemoryStore()
	if pool != nil {
		pg, err := escrow.NewPostgresStore(ctx, pool)
		if err != nil {
			return nil, err
		}
		positions = pg
	}
	holder := common.HexToAddress(cfg.Chain.HolderAddress)
	return escrow.NewMachine(positions, holder, escrow.WithLogger(logger)), nil
}

func newLoanProtocol(cfg *config.AppConfig, logger *slog.Logger) (*utxo.Protocol, error) {
	catalog, err := utxo.LoadCatalog(cfg.Cardano.BlueprintPath)
	if err != nil {
		return nil, err
	}
	if code := strings.TrimPrefix(cfg.Cardano.BorrowScript, "0x"); code != "" {
		raw, err := hex.DecodeString(code)
		if err != nil {
			return nil, utxo.ErrBadValidator.Withf("LENDEX_BORROW_SCRIPT: %v", err)
		}
		if err := catalog.Preapply(cfg.Cardano.Namespace+".borrow", raw); err != nil {
			return nil, err
		}
	}
	nonce, err := hex.DecodeString(strings.TrimPrefix(cfg.Cardano.Nonce, "0x"))
	if err != nil {
		return nil, utxo.ErrMissingNonce.With(err)
	}
	network := utxo.Testnet
	if cfg.Cardano.Mainnet() {
		network = utxo.Mainnet
	}
	applied, err := utxo.Apply(catalog, cfg.Cardano.Namespace, nonce, network)
	if err != nil {
		return nil, err
	}

	client, err := blockfrost.NewClient(cfg.Cardano.BlockfrostURL, cfg.Cardano.ProjectID)
	if err != nil {
		return nil, err
	}
	signer := utxo.RemoteSigner{
		URL:        cfg.Cardano.WalletSignerURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	ledger := utxo.NewBlockfrostLedger(client, signer, cfg.Cardano.PollInterval, logger)

	return utxo.NewProtocol(ledger, applied,
		utxo.WithMinUTxO(cfg.Cardano.MinUTxO),
		utxo.WithLogger(logger),
	), nil
}
